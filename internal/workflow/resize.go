package workflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"imagemanip/internal/access"
	"imagemanip/internal/dimension"
	"imagemanip/internal/models"
	"imagemanip/internal/placer"
)

// ResizeRequest is a validated resize submission.
type ResizeRequest struct {
	Source  placer.Source
	Width   string
	Height  string
	AlbumID *int64
	// Params holds every non-file input and is stored verbatim on the record.
	Params models.Params
}

// Resize stages the original, resizes it and records the job. The record is
// written last, so it never points at files that do not exist. Any failure
// after staging removes the namespace.
func (s *Service) Resize(ctx context.Context, actorID int64, req ResizeRequest) (*models.Manipulation, error) {
	const op = "workflow.Resize"

	l := log.With().Int64("user_id", actorID).Str("op", op).Logger()

	if err := dimension.Check(req.Width, req.Height); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if req.AlbumID != nil {
		if err := s.authorizeAlbum(ctx, actorID, *req.AlbumID); err != nil {
			l.Warn().Err(err).Int64("album_id", *req.AlbumID).Msg("album rejected")
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	staged, err := s.placer.Stage(ctx, req.Source)
	if err != nil {
		l.Error().Err(err).Msg("stage original failed")
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	l = l.With().Str("namespace", staged.Namespace).Logger()

	committed := false
	defer func() {
		if !committed {
			s.discard(ctx, l, staged.Namespace)
		}
	}()

	outputKey, err := s.derive(ctx, l, staged, req)
	if err != nil {
		l.Error().Err(err).Msg("resize failed")
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	m := &models.Manipulation{
		ID:         uuid.New(),
		Type:       models.TypeResize,
		Params:     req.Params,
		Name:       staged.Name,
		Path:       staged.Key,
		OutputPath: outputKey,
		UserID:     actorID,
		AlbumID:    req.AlbumID,
	}
	if err := s.repo.CreateManipulation(ctx, m); err != nil {
		l.Error().Err(err).Msg("create record failed")
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	committed = true

	l.Info().Str("id", m.ID.String()).Str("output", outputKey).Msg("resize completed")
	return m, nil
}

func (s *Service) authorizeAlbum(ctx context.Context, actorID, albumID int64) error {
	album, err := s.repo.GetAlbum(ctx, albumID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("album %d does not exist: %w", albumID, models.ErrInvalidInput)
		}
		return err
	}
	return access.AssertOwner(actorID, album.UserID)
}

// derive decodes the staged original, resizes it and places the result under
// the same namespace. It returns the derived key.
func (s *Service) derive(ctx context.Context, l zerolog.Logger, staged placer.Staged, req ResizeRequest) (string, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer s.sem.Release(1)

	rc, err := s.placer.Open(ctx, staged.Key)
	if err != nil {
		return "", err
	}
	img, format, err := decode(rc, s.maxPixels)
	rc.Close()
	if err != nil {
		return "", err
	}

	b := img.Bounds()
	target, err := dimension.Resolve(req.Width, req.Height, b.Dx(), b.Dy())
	if err != nil {
		return "", err
	}
	w, h := target.Pixels()
	if w < 1 || h < 1 {
		return "", fmt.Errorf("target %dx%d is empty: %w", w, h, models.ErrInvalidDimensionToken)
	}
	if !withinPixels(w, h, s.maxPixels) {
		return "", fmt.Errorf("target %dx%d exceeds %d pixels: %w", w, h, s.maxPixels, models.ErrInvalidDimensionToken)
	}
	l.Debug().Int("src_w", b.Dx()).Int("src_h", b.Dy()).Int("w", w).Int("h", h).Msg("resolved target")

	// last point to abort before the resample commits
	if err := ctx.Err(); err != nil {
		return "", err
	}

	name := placer.DerivedName(staged.Name)
	var buf bytes.Buffer
	if err := encode(&buf, resample(img, w, h), name, format); err != nil {
		return "", err
	}

	return s.placer.Place(ctx, staged.Namespace, name, &buf)
}

// discard removes a namespace left by a failed job. It runs even when ctx is
// already cancelled.
func (s *Service) discard(ctx context.Context, l zerolog.Logger, namespace string) {
	if err := s.placer.Remove(context.WithoutCancel(ctx), namespace); err != nil {
		l.Warn().Err(err).Msg("could not remove namespace of failed job")
		return
	}
	l.Debug().Msg("removed namespace of failed job")
}
