package models

import "errors"

var (
	ErrUnauthorized          = errors.New("unauthorized")
	ErrNotFound              = errors.New("not found")
	ErrInvalidInput          = errors.New("invalid input")
	ErrInvalidDimensionToken = errors.New("invalid dimension token")
	ErrInvalidSource         = errors.New("invalid image source")
	ErrStorageUnavailable    = errors.New("storage unavailable")
	ErrUnsupportedImage      = errors.New("unsupported image")
	ErrResizeFailed          = errors.New("resize failed")
)
