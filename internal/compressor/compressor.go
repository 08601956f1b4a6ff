package compressor

import (
	"context"
	"errors"
	"image"
	"time"
)

var (
	// ErrEmptyOutput is returned when encoding produced no bytes.
	ErrEmptyOutput = errors.New("encoder produced empty output")
	// ErrInvalidParams is returned for percent or quality outside the slider ranges.
	ErrInvalidParams = errors.New("invalid compression parameters")
)

// Encoder draws an image onto a bitmap of the given size and exports it as JPEG.
// Quality is a fraction in [0, 1].
type Encoder interface {
	Encode(img image.Image, width, height int, quality float64) ([]byte, error)
}

// CompressionResult describes the result of compressing a single image.
type CompressionResult struct {
	Data            []byte
	ContentType     string
	Width           int
	Height          int
	OriginalWidth   int
	OriginalHeight  int
	OriginalSize    int64
	CompressedSize  int64
	PercentageSaved float64
	StartedAt       time.Time
	FinishedAt      time.Time
}

// Compressor compresses encoded image bytes according to the parameters.
type Compressor interface {
	Compress(ctx context.Context, data []byte, params Params) (*CompressionResult, error)
}
