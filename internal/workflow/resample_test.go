package workflow

import (
	"bytes"
	"errors"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imagemanip/internal/models"
	"imagemanip/internal/testutil"
)

func TestDecodeReportsFormat(t *testing.T) {
	img, format, err := decode(bytes.NewReader(testutil.PNG(12, 8)), models.DefaultMaxPixels)
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 12, img.Bounds().Dx())

	_, format, err = decode(bytes.NewReader(testutil.JPEG(12, 8)), models.DefaultMaxPixels)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, _, err := decode(bytes.NewReader([]byte("GIF89a but not really")), models.DefaultMaxPixels)
	assert.True(t, errors.Is(err, models.ErrUnsupportedImage))
}

func TestEncodeByExtension(t *testing.T) {
	src := resample(testutil.GradientImage(40, 40), 10, 5)
	assert.Equal(t, 10, src.Bounds().Dx())
	assert.Equal(t, 5, src.Bounds().Dy())

	tests := []struct {
		name, sourceFormat, want string
	}{
		{name: "a-resized.jpg", sourceFormat: "png", want: "jpeg"},
		{name: "a-resized.PNG", sourceFormat: "jpeg", want: "png"},
		{name: "a-resized.gif", sourceFormat: "png", want: "gif"},
		{name: "a-resized.webp", sourceFormat: "webp", want: "webp"},
		{name: "a-resized", sourceFormat: "png", want: "png"},
		{name: "a-resized.jfif", sourceFormat: "jpeg", want: "jpeg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, encode(&buf, src, tt.name, tt.sourceFormat))
			cfg, format, err := image.DecodeConfig(&buf)
			require.NoError(t, err)
			assert.Equal(t, tt.want, format)
			assert.Equal(t, 10, cfg.Width)
		})
	}
}

func TestDecodeWebP(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, encode(&buf, testutil.GradientImage(30, 20), "a.webp", "png"))

	img, format, err := decode(bytes.NewReader(buf.Bytes()), models.DefaultMaxPixels)
	require.NoError(t, err)
	assert.Equal(t, "webp", format)
	assert.Equal(t, 30, img.Bounds().Dx())
	assert.Equal(t, 20, img.Bounds().Dy())
}

func TestDecodePixelBudget(t *testing.T) {
	_, _, err := decode(bytes.NewReader(testutil.PNG(12, 8)), 12*8)
	require.NoError(t, err)

	_, _, err = decode(bytes.NewReader(testutil.PNG(12, 8)), 12*8-1)
	assert.True(t, errors.Is(err, models.ErrInvalidSource), "got %v", err)
}

func TestEncodeUnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	err := encode(&buf, testutil.GradientImage(2, 2), "a-resized.heic", "heic")
	assert.True(t, errors.Is(err, models.ErrResizeFailed))
}
