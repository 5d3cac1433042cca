package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"imagemanip/internal/models"
	"imagemanip/internal/workflow"
)

// Manipulations is the workflow surface the handlers drive.
type Manipulations interface {
	Resize(ctx context.Context, actorID int64, req workflow.ResizeRequest) (*models.Manipulation, error)
	ListMine(ctx context.Context, actorID int64, page models.Page) (models.ManipulationPage, error)
	ListByAlbum(ctx context.Context, actorID, albumID int64, page models.Page) (models.ManipulationPage, error)
	Get(ctx context.Context, actorID int64, id uuid.UUID) (*models.Manipulation, error)
	Delete(ctx context.Context, actorID int64, id uuid.UUID) error
	CreateAlbum(ctx context.Context, actorID int64, name string) (*models.Album, error)
	ListAlbums(ctx context.Context, actorID int64) ([]models.Album, error)
}

func (s *Server) handleResize(c *gin.Context) {
	form, err := readResizeForm(c, s.cfg.Source.MaxBytes)
	if err != nil {
		respondError(c, err)
		return
	}
	defer form.Close()

	req, err := form.resizeRequest()
	if err != nil {
		respondError(c, err)
		return
	}

	m, err := s.svc.Resize(c.Request.Context(), actor(c), req)
	if err != nil {
		respondError(c, err)
		return
	}

	log.Info().Str("id", m.ID.String()).Int64("user_id", m.UserID).Msg("image resized")
	c.JSON(http.StatusCreated, s.resource(m))
}

func (s *Server) handleListImages(c *gin.Context) {
	page, err := s.svc.ListMine(c.Request.Context(), actor(c), pageFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.collection(page))
}

func (s *Server) handleListAlbumImages(c *gin.Context) {
	albumID, err := strconv.ParseInt(c.Param("albumId"), 10, 64)
	if err != nil {
		respondError(c, models.ErrNotFound)
		return
	}

	page, err := s.svc.ListByAlbum(c.Request.Context(), actor(c), albumID, pageFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.collection(page))
}

func (s *Server) handleGetImage(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, models.ErrNotFound)
		return
	}

	m, err := s.svc.Get(c.Request.Context(), actor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.resource(m))
}

func (s *Server) handleDeleteImage(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, models.ErrNotFound)
		return
	}

	if err := s.svc.Delete(c.Request.Context(), actor(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type createAlbumRequest struct {
	Name string `json:"name" form:"name"`
}

func (s *Server) handleCreateAlbum(c *gin.Context) {
	var req createAlbumRequest
	if err := c.ShouldBind(&req); err != nil {
		respondError(c, invalidField("name", "is required"))
		return
	}

	a, err := s.svc.CreateAlbum(c.Request.Context(), actor(c), req.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, albumToResource(*a))
}

func (s *Server) handleListAlbums(c *gin.Context) {
	albums, err := s.svc.ListAlbums(c.Request.Context(), actor(c))
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]albumResource, 0, len(albums))
	for _, a := range albums {
		out = append(out, albumToResource(a))
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.health != nil {
		if err := s.health(c.Request.Context()); err != nil {
			log.Error().Err(err).Msg("health check failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
