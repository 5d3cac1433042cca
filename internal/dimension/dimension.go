// Package dimension turns requested width/height tokens into target pixel
// dimensions for a resize.
package dimension

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"imagemanip/internal/models"
)

var tokenPattern = regexp.MustCompile(`^\d+(\.\d+)?%?$`)

// Token is a parsed dimension token: either an absolute pixel count or a
// percentage.
type Token struct {
	Value   float64
	Percent bool
}

// Target is the resolved size. Values are not rounded.
type Target struct {
	Width  float64
	Height float64
}

// Pixels rounds the target to whole pixels.
func (t Target) Pixels() (int, int) {
	return int(math.Round(t.Width)), int(math.Round(t.Height))
}

// Valid reports whether raw matches the width/height token grammar.
func Valid(raw string) bool {
	return tokenPattern.MatchString(strings.TrimSpace(raw))
}

// Parse reads a width or height token.
func Parse(raw string) (Token, error) {
	const op = "dimension.Parse"

	s := strings.TrimSpace(raw)
	if !tokenPattern.MatchString(s) {
		return Token{}, fmt.Errorf("%s: %q: %w", op, raw, models.ErrInvalidDimensionToken)
	}
	pct := strings.HasSuffix(s, "%")
	v, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
	if err != nil {
		return Token{}, fmt.Errorf("%s: %q: %w", op, raw, models.ErrInvalidDimensionToken)
	}
	return Token{Value: v, Percent: pct}, nil
}

// heightAbsent mirrors a falsy height: no token at all, or a literal zero.
func heightAbsent(raw string) bool {
	s := strings.TrimSpace(raw)
	return s == "" || s == "0"
}

// Resolve computes the target size for an original of origW x origH.
//
// A percentage width scales both axes from the original width; a height token
// is read in the width's mode regardless of its own suffix. An absolute width
// without a height keeps the aspect ratio.
func Resolve(width, height string, origW, origH int) (Target, error) {
	const op = "dimension.Resolve"

	w, err := Parse(width)
	if err != nil {
		return Target{}, err
	}

	var h *Token
	if !heightAbsent(height) {
		parsed, err := Parse(height)
		if err != nil {
			return Target{}, err
		}
		h = &parsed
	}

	ow, oh := float64(origW), float64(origH)

	if w.Percent {
		ratioH := w.Value
		if h != nil {
			ratioH = h.Value
		}
		return Target{
			Width:  ow * w.Value / 100,
			Height: ow * ratioH / 100,
		}, nil
	}

	if h != nil {
		return Target{Width: w.Value, Height: h.Value}, nil
	}
	if origW <= 0 {
		return Target{}, fmt.Errorf("%s: original width %d: %w", op, origW, models.ErrUnsupportedImage)
	}
	return Target{Width: w.Value, Height: oh * w.Value / ow}, nil
}

// Check validates a width/height token pair without resolving it.
func Check(width, height string) error {
	if _, err := Parse(width); err != nil {
		return err
	}
	if !heightAbsent(height) {
		if _, err := Parse(height); err != nil {
			return err
		}
	}
	return nil
}
