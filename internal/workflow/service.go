// Package workflow runs the resize job and the owner-scoped reads and deletes
// of manipulation records.
package workflow

import (
	"context"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"imagemanip/internal/models"
	"imagemanip/internal/placer"
)

type Repository interface {
	CreateManipulation(ctx context.Context, m *models.Manipulation) error
	GetManipulation(ctx context.Context, id uuid.UUID) (*models.Manipulation, error)
	ListManipulationsByUser(ctx context.Context, userID int64, page models.Page) (models.ManipulationPage, error)
	ListManipulationsByAlbum(ctx context.Context, albumID int64, page models.Page) (models.ManipulationPage, error)
	DeleteManipulation(ctx context.Context, id uuid.UUID) error

	CreateAlbum(ctx context.Context, a *models.Album) error
	GetAlbum(ctx context.Context, id int64) (*models.Album, error)
	ListAlbums(ctx context.Context, userID int64) ([]models.Album, error)
}

// Cleaner disposes of a deleted record's namespace, possibly asynchronously.
type Cleaner interface {
	Clean(ctx context.Context, namespace string) error
}

type Service struct {
	repo    Repository
	placer  placer.Placer
	cleaner Cleaner
	sem     *semaphore.Weighted

	// maxPixels bounds both the decoded source and the resize target.
	maxPixels int64
}

func New(repo Repository, p placer.Placer, cleaner Cleaner, cfg models.WorkflowConfig) *Service {
	n := cfg.MaxConcurrent
	if n <= 0 {
		n = 1
	}
	maxPixels := cfg.MaxPixels
	if maxPixels <= 0 {
		maxPixels = models.DefaultMaxPixels
	}
	return &Service{
		repo:      repo,
		placer:    p,
		cleaner:   cleaner,
		sem:       semaphore.NewWeighted(n),
		maxPixels: maxPixels,
	}
}
