package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"imagemanip/internal/access"
	"imagemanip/internal/models"
	"imagemanip/internal/placer"
)

func (s *Service) ListMine(ctx context.Context, actorID int64, page models.Page) (models.ManipulationPage, error) {
	const op = "workflow.ListMine"

	out, err := s.repo.ListManipulationsByUser(ctx, actorID, page)
	if err != nil {
		return out, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

// ListByAlbum lists an album's records after checking the actor owns the album.
func (s *Service) ListByAlbum(ctx context.Context, actorID, albumID int64, page models.Page) (models.ManipulationPage, error) {
	const op = "workflow.ListByAlbum"

	album, err := s.repo.GetAlbum(ctx, albumID)
	if err != nil {
		return models.ManipulationPage{}, fmt.Errorf("%s: %w", op, err)
	}
	if err := access.AssertOwner(actorID, album.UserID); err != nil {
		return models.ManipulationPage{}, fmt.Errorf("%s: %w", op, err)
	}

	out, err := s.repo.ListManipulationsByAlbum(ctx, albumID, page)
	if err != nil {
		return out, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, actorID int64, id uuid.UUID) (*models.Manipulation, error) {
	const op = "workflow.Get"

	m, err := s.repo.GetManipulation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := access.AssertOwner(actorID, m.UserID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return m, nil
}

// Delete removes an owned record and hands its namespace to the cleaner. A
// cleanup failure is logged, not returned: the record is already gone.
func (s *Service) Delete(ctx context.Context, actorID int64, id uuid.UUID) error {
	const op = "workflow.Delete"

	m, err := s.Get(ctx, actorID, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.repo.DeleteManipulation(ctx, id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	l := log.With().Str("op", op).Str("id", id.String()).Logger()
	ns, ok := placer.NamespaceOf(m.Path)
	if !ok {
		l.Warn().Str("path", m.Path).Msg("record path has no namespace, skipping file cleanup")
		return nil
	}
	if err := s.cleaner.Clean(ctx, ns); err != nil {
		l.Error().Err(err).Str("namespace", ns).Msg("file cleanup failed")
	}
	return nil
}

func (s *Service) CreateAlbum(ctx context.Context, actorID int64, name string) (*models.Album, error) {
	const op = "workflow.CreateAlbum"

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%s: name is required: %w", op, models.ErrInvalidInput)
	}
	a := &models.Album{Name: name, UserID: actorID}
	if err := s.repo.CreateAlbum(ctx, a); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return a, nil
}

func (s *Service) ListAlbums(ctx context.Context, actorID int64) ([]models.Album, error) {
	const op = "workflow.ListAlbums"

	albums, err := s.repo.ListAlbums(ctx, actorID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return albums, nil
}
