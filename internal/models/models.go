package models

import (
	"time"

	"github.com/google/uuid"
)

type ManipulationType string

const TypeResize ManipulationType = "resize"

// Manipulation is one persisted image-processing job. Path and OutputPath are
// storage keys relative to the placer root, e.g. images/<namespace>/photo.jpg.
type Manipulation struct {
	ID         uuid.UUID        `db:"id"`
	Type       ManipulationType `db:"type"`
	Params     Params           `db:"data"`
	Name       string           `db:"name"`
	Path       string           `db:"path"`
	OutputPath string           `db:"output_path"`
	UserID     int64            `db:"user_id"`
	AlbumID    *int64           `db:"album_id"`
	CreatedAt  time.Time        `db:"created_at"`
	UpdatedAt  time.Time        `db:"updated_at"`
}

type Album struct {
	ID        int64     `db:"id"`
	Name      string    `db:"name"`
	UserID    int64     `db:"user_id"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Page selects a 1-based page of a listing.
type Page struct {
	Number int
	Size   int
}

const DefaultPageSize = 15

func (p Page) Offset() int {
	if p.Number < 1 {
		return 0
	}
	return (p.Number - 1) * p.Limit()
}

func (p Page) Limit() int {
	if p.Size <= 0 {
		return DefaultPageSize
	}
	return p.Size
}

type ManipulationPage struct {
	Items []Manipulation
	Total int
	Page  Page
}

func (mp ManipulationPage) LastPage() int {
	size := mp.Page.Limit()
	last := (mp.Total + size - 1) / size
	if last < 1 {
		return 1
	}
	return last
}
