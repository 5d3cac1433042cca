package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"imagemanip/internal/models"
)

type manipulationResource struct {
	ID         uuid.UUID     `json:"id"`
	Type       string        `json:"type"`
	Data       models.Params `json:"data"`
	Name       string        `json:"name"`
	Path       string        `json:"path"`
	OutputPath string        `json:"output_path"`
	AlbumID    *int64        `json:"album_id"`
	UserID     int64         `json:"user_id"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

type albumResource struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	UserID    int64     `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type pageMeta struct {
	CurrentPage int `json:"current_page"`
	PerPage     int `json:"per_page"`
	Total       int `json:"total"`
	LastPage    int `json:"last_page"`
}

type manipulationCollection struct {
	Data []manipulationResource `json:"data"`
	Meta pageMeta               `json:"meta"`
}

func (s *Server) resource(m *models.Manipulation) manipulationResource {
	return manipulationResource{
		ID:         m.ID,
		Type:       string(m.Type),
		Data:       m.Params,
		Name:       m.Name,
		Path:       s.publicURL(m.Path),
		OutputPath: s.publicURL(m.OutputPath),
		AlbumID:    m.AlbumID,
		UserID:     m.UserID,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func (s *Server) collection(p models.ManipulationPage) manipulationCollection {
	out := manipulationCollection{
		Data: make([]manipulationResource, 0, len(p.Items)),
		Meta: pageMeta{
			CurrentPage: max(p.Page.Number, 1),
			PerPage:     p.Page.Limit(),
			Total:       p.Total,
			LastPage:    p.LastPage(),
		},
	}
	for i := range p.Items {
		out.Data = append(out.Data, s.resource(&p.Items[i]))
	}
	return out
}

func albumToResource(a models.Album) albumResource {
	return albumResource{ID: a.ID, Name: a.Name, UserID: a.UserID, CreatedAt: a.CreatedAt, UpdatedAt: a.UpdatedAt}
}

func (s *Server) publicURL(key string) string {
	base := strings.TrimRight(s.cfg.PublicURL, "/")
	if base == "" {
		return key
	}
	return base + "/" + key
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func abortWithError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, errorBody{Error: msg})
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidInput),
		errors.Is(err, models.ErrInvalidDimensionToken),
		errors.Is(err, models.ErrInvalidSource),
		errors.Is(err, models.ErrUnsupportedImage):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

var kinds = []error{
	models.ErrUnauthorized,
	models.ErrNotFound,
	models.ErrInvalidInput,
	models.ErrInvalidDimensionToken,
	models.ErrInvalidSource,
	models.ErrUnsupportedImage,
	models.ErrStorageUnavailable,
	models.ErrResizeFailed,
}

func kindOf(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k.Error()
		}
	}
	return "internal error"
}

// respondError writes the error kind; details are only exposed for client
// errors.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	body := errorBody{Error: kindOf(err)}
	if status < http.StatusInternalServerError {
		var fe *fieldError
		if errors.As(err, &fe) {
			body.Message = fe.Error()
		} else {
			body.Message = err.Error()
		}
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, body)
}
