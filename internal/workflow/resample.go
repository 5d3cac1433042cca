package workflow

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"path"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	xwebp "golang.org/x/image/webp"

	"imagemanip/internal/models"
)

const webpQuality = 90

// decode reads an image and reports its format name as registered with the
// image package (jpeg, png, gif, bmp, tiff, webp). Sources with more than
// maxPixels pixels are rejected from their header, before any pixel data is
// decoded.
func decode(r io.Reader, maxPixels int64) (image.Image, string, error) {
	const op = "workflow.decode"

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %v: %w", op, err, models.ErrStorageUnavailable)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%s: %v: %w", op, err, models.ErrUnsupportedImage)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, "", fmt.Errorf("%s: %dx%d: %w", op, cfg.Width, cfg.Height, models.ErrUnsupportedImage)
	}
	if !withinPixels(cfg.Width, cfg.Height, maxPixels) {
		return nil, "", fmt.Errorf("%s: %dx%d exceeds %d pixels: %w", op, cfg.Width, cfg.Height, maxPixels, models.ErrInvalidSource)
	}

	img, err := decodeAs(format, data)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %v: %w", op, err, models.ErrUnsupportedImage)
	}
	return img, format, nil
}

// decodeAs decodes webp with the pure Go x/image decoder and everything else
// through the image registry.
func decodeAs(format string, data []byte) (image.Image, error) {
	if format == "webp" {
		return xwebp.Decode(bytes.NewReader(data))
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	return img, err
}

func withinPixels(width, height int, maxPixels int64) bool {
	return int64(width)*int64(height) <= maxPixels
}

func resample(img image.Image, width, height int) image.Image {
	return imaging.Resize(img, width, height, imaging.Lanczos)
}

// encode writes img in the format implied by name's extension, falling back
// to the decoded source format when the extension is not recognised.
func encode(w io.Writer, img image.Image, name, sourceFormat string) error {
	const op = "workflow.encode"

	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	if ext == "" || !knownExt(ext) {
		ext = sourceFormat
	}

	if ext == "webp" {
		if err := webp.Encode(w, img, &webp.Options{Quality: webpQuality}); err != nil {
			return fmt.Errorf("%s: %v: %w", op, err, models.ErrResizeFailed)
		}
		return nil
	}

	format, err := imaging.FormatFromExtension(ext)
	if err != nil {
		return fmt.Errorf("%s: %v: %w", op, err, models.ErrResizeFailed)
	}
	if err := imaging.Encode(w, img, format, imaging.JPEGQuality(90)); err != nil {
		return fmt.Errorf("%s: %v: %w", op, err, models.ErrResizeFailed)
	}
	return nil
}

func knownExt(ext string) bool {
	if ext == "webp" {
		return true
	}
	_, err := imaging.FormatFromExtension(ext)
	return err == nil
}
