package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"imagemanip/internal/models"
)

// Storage is the Postgres repository for albums and manipulation records.
type Storage struct {
	pool *pgxpool.Pool
	db   *sql.DB // For migrations
}

func NewStorage(ctx context.Context, dsn string) (*Storage, error) {
	const op = "storage.NewStorage"

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	db := stdlib.OpenDBFromPool(pool)
	if err := runMigrations(db); err != nil {
		db.Close()
		pool.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{pool: pool, db: db}, nil
}

func (s *Storage) Close() {
	s.db.Close()
	s.pool.Close()
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const manipulationColumns = `id, type, data, name, path, output_path, user_id, album_id, created_at, updated_at`

func scanManipulation(row pgx.Row) (*models.Manipulation, error) {
	var m models.Manipulation
	err := row.Scan(&m.ID, &m.Type, &m.Params, &m.Name, &m.Path, &m.OutputPath,
		&m.UserID, &m.AlbumID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// CreateManipulation inserts m and fills in its timestamps.
func (s *Storage) CreateManipulation(ctx context.Context, m *models.Manipulation) error {
	const op = "storage.CreateManipulation"

	err := s.pool.QueryRow(ctx,
		`INSERT INTO image_manipulations (id, type, data, name, path, output_path, user_id, album_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		m.ID, m.Type, m.Params, m.Name, m.Path, m.OutputPath, m.UserID, m.AlbumID,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Storage) GetManipulation(ctx context.Context, id uuid.UUID) (*models.Manipulation, error) {
	const op = "storage.GetManipulation"

	m, err := scanManipulation(s.pool.QueryRow(ctx,
		`SELECT `+manipulationColumns+` FROM image_manipulations WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %s: %w", op, id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return m, nil
}

func (s *Storage) ListManipulationsByUser(ctx context.Context, userID int64, page models.Page) (models.ManipulationPage, error) {
	return s.listManipulations(ctx, "storage.ListManipulationsByUser", "user_id", userID, page)
}

func (s *Storage) ListManipulationsByAlbum(ctx context.Context, albumID int64, page models.Page) (models.ManipulationPage, error) {
	return s.listManipulations(ctx, "storage.ListManipulationsByAlbum", "album_id", albumID, page)
}

// listManipulations pages records where column = value. column is never user input.
func (s *Storage) listManipulations(ctx context.Context, op, column string, value int64, page models.Page) (models.ManipulationPage, error) {
	out := models.ManipulationPage{Page: page, Items: []models.Manipulation{}}

	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM image_manipulations WHERE `+column+` = $1`, value,
	).Scan(&out.Total); err != nil {
		return out, fmt.Errorf("%s: count: %w", op, err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+manipulationColumns+` FROM image_manipulations
		WHERE `+column+` = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`,
		value, page.Limit(), page.Offset())
	if err != nil {
		return out, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	for rows.Next() {
		m, err := scanManipulation(rows)
		if err != nil {
			return out, fmt.Errorf("%s: scan: %w", op, err)
		}
		out.Items = append(out.Items, *m)
	}
	if err := rows.Err(); err != nil {
		return out, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func (s *Storage) DeleteManipulation(ctx context.Context, id uuid.UUID) error {
	const op = "storage.DeleteManipulation"

	tag, err := s.pool.Exec(ctx, `DELETE FROM image_manipulations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %s: %w", op, id, models.ErrNotFound)
	}
	return nil
}

func (s *Storage) CreateAlbum(ctx context.Context, a *models.Album) error {
	const op = "storage.CreateAlbum"

	err := s.pool.QueryRow(ctx,
		`INSERT INTO albums (name, user_id) VALUES ($1, $2)
		RETURNING id, created_at, updated_at`,
		a.Name, a.UserID,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Storage) GetAlbum(ctx context.Context, id int64) (*models.Album, error) {
	const op = "storage.GetAlbum"

	var a models.Album
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, user_id, created_at, updated_at FROM albums WHERE id = $1`, id,
	).Scan(&a.ID, &a.Name, &a.UserID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: album %d: %w", op, id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &a, nil
}

func (s *Storage) ListAlbums(ctx context.Context, userID int64) ([]models.Album, error) {
	const op = "storage.ListAlbums"

	rows, err := s.pool.Query(ctx,
		`SELECT id, name, user_id, created_at, updated_at FROM albums
		WHERE user_id = $1 ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	albums, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Album, error) {
		var a models.Album
		err := row.Scan(&a.ID, &a.Name, &a.UserID, &a.CreatedAt, &a.UpdatedAt)
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return albums, nil
}
