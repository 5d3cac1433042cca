package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"imagemanip/internal/models"
)

// HealthFunc reports whether the backing services are reachable.
type HealthFunc func(ctx context.Context) error

type Server struct {
	cfg    *models.Config
	router *gin.Engine
	http   *http.Server
	svc    Manipulations
	health HealthFunc
}

func NewServer(cfg *models.Config, svc Manipulations, health HealthFunc) *Server {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	if cfg.Storage.Driver == models.StorageDriverLocal {
		r.Static("/files", cfg.Storage.Root)
	}

	s := &Server{cfg: cfg, router: r, svc: svc, health: health}

	r.GET("/healthz", s.handleHealth)

	api := r.Group("/api/v1", jwtAuth([]byte(cfg.JWTSecret)))
	api.GET("/images", s.handleListImages)
	api.POST("/images/resize", s.handleResize)
	api.GET("/images/:id", s.handleGetImage)
	api.DELETE("/images/:id", s.handleDeleteImage)
	api.GET("/albums", s.handleListAlbums)
	api.POST("/albums", s.handleCreateAlbum)
	api.GET("/albums/:albumId/images", s.handleListAlbumImages)

	s.http = &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start blocks until the server stops. A graceful Stop is not an error.
func (s *Server) Start() error {
	const op = "server.Start"

	log.Info().Str("addr", s.cfg.ServerAddr).Msg("server starting")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	const op = "server.Stop"

	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		ev := log.Info()
		if c.Writer.Status() >= http.StatusInternalServerError {
			ev = log.Error()
			if len(c.Errors) > 0 {
				ev = ev.Err(c.Errors.Last().Err)
			}
		}
		if id, ok := c.Get(userIDKey); ok {
			ev = ev.Interface("user_id", id)
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}
