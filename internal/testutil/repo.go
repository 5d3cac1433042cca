package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"imagemanip/internal/models"
)

// MemRepo is an in-memory repository with the same semantics as the
// Postgres one.
type MemRepo struct {
	mu            sync.Mutex
	manipulations map[uuid.UUID]models.Manipulation
	albums        map[int64]models.Album
	nextAlbum     int64
	now           time.Time

	// CreateErr, when set, fails CreateManipulation.
	CreateErr error
}

func NewMemRepo() *MemRepo {
	return &MemRepo{
		manipulations: map[uuid.UUID]models.Manipulation{},
		albums:        map[int64]models.Album{},
		now:           time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// tick returns strictly increasing timestamps so ordering is deterministic.
func (r *MemRepo) tick() time.Time {
	r.now = r.now.Add(time.Second)
	return r.now
}

func (r *MemRepo) CreateManipulation(_ context.Context, m *models.Manipulation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.CreateErr != nil {
		return r.CreateErr
	}
	if _, ok := r.manipulations[m.ID]; ok {
		return fmt.Errorf("duplicate id %s", m.ID)
	}
	m.CreatedAt = r.tick()
	m.UpdatedAt = m.CreatedAt
	r.manipulations[m.ID] = *m
	return nil
}

func (r *MemRepo) GetManipulation(_ context.Context, id uuid.UUID) (*models.Manipulation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.manipulations[id]
	if !ok {
		return nil, fmt.Errorf("manipulation %s: %w", id, models.ErrNotFound)
	}
	return &m, nil
}

func (r *MemRepo) ListManipulationsByUser(_ context.Context, userID int64, page models.Page) (models.ManipulationPage, error) {
	return r.list(page, func(m models.Manipulation) bool { return m.UserID == userID }), nil
}

func (r *MemRepo) ListManipulationsByAlbum(_ context.Context, albumID int64, page models.Page) (models.ManipulationPage, error) {
	return r.list(page, func(m models.Manipulation) bool { return m.AlbumID != nil && *m.AlbumID == albumID }), nil
}

func (r *MemRepo) list(page models.Page, keep func(models.Manipulation) bool) models.ManipulationPage {
	r.mu.Lock()
	defer r.mu.Unlock()

	var all []models.Manipulation
	for _, m := range r.manipulations {
		if keep(m) {
			all = append(all, m)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID.String() > all[j].ID.String()
	})

	out := models.ManipulationPage{Page: page, Total: len(all), Items: []models.Manipulation{}}
	start := page.Offset()
	if start >= len(all) {
		return out
	}
	end := start + page.Limit()
	if end > len(all) {
		end = len(all)
	}
	out.Items = append(out.Items, all[start:end]...)
	return out
}

func (r *MemRepo) DeleteManipulation(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.manipulations[id]; !ok {
		return fmt.Errorf("manipulation %s: %w", id, models.ErrNotFound)
	}
	delete(r.manipulations, id)
	return nil
}

func (r *MemRepo) CreateAlbum(_ context.Context, a *models.Album) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextAlbum++
	a.ID = r.nextAlbum
	a.CreatedAt = r.tick()
	a.UpdatedAt = a.CreatedAt
	r.albums[a.ID] = *a
	return nil
}

func (r *MemRepo) GetAlbum(_ context.Context, id int64) (*models.Album, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.albums[id]
	if !ok {
		return nil, fmt.Errorf("album %d: %w", id, models.ErrNotFound)
	}
	return &a, nil
}

func (r *MemRepo) ListAlbums(_ context.Context, userID int64) ([]models.Album, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []models.Album{}
	for _, a := range r.albums {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// Count returns the number of stored manipulation records.
func (r *MemRepo) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.manipulations)
}
