package compressor

import (
	"fmt"
	"math"
)

const (
	MinPercent = 1
	MaxPercent = 100
	MinQuality = 0
	MaxQuality = 100

	DefaultPercent = 100
	DefaultQuality = 80
)

// Params are the two user-facing knobs: resize percent and JPEG quality.
type Params struct {
	Percent int `json:"percent"`
	Quality int `json:"quality"`
}

// DefaultParams returns the slider defaults.
func DefaultParams() Params {
	return Params{Percent: DefaultPercent, Quality: DefaultQuality}
}

// Validate reports whether both values are inside the slider ranges.
func (p Params) Validate() error {
	if p.Percent < MinPercent || p.Percent > MaxPercent {
		return fmt.Errorf("%w: percent %d out of range %d-%d", ErrInvalidParams, p.Percent, MinPercent, MaxPercent)
	}
	if p.Quality < MinQuality || p.Quality > MaxQuality {
		return fmt.Errorf("%w: quality %d out of range %d-%d", ErrInvalidParams, p.Quality, MinQuality, MaxQuality)
	}
	return nil
}

// TargetSize scales both axes by percent and rounds, never going below 1px.
func TargetSize(width, height, percent int) (int, int) {
	scale := float64(percent) / 100
	w := int(math.Round(float64(width) * scale))
	h := int(math.Round(float64(height) * scale))
	return max(1, w), max(1, h)
}

// QualityFraction maps the 0-100 quality scale onto [0, 1].
func QualityFraction(quality int) float64 {
	f := float64(quality) / 100
	return math.Min(1, math.Max(0, f))
}

// jpegQuality maps a fraction back onto the 1-100 scale of the JPEG encoder.
func jpegQuality(fraction float64) int {
	q := int(math.Round(fraction * 100))
	return min(MaxQuality, max(1, q))
}
