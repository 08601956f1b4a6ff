package compressor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"strings"
	"time"

	"image-compressor-go/internal/logger"
	"image-compressor-go/internal/source"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
)

// ParseFilter resolves a resampling filter name from the config.
func ParseFilter(name string) (imaging.ResampleFilter, error) {
	switch strings.ToLower(name) {
	case "", "lanczos":
		return imaging.Lanczos, nil
	case "catmullrom":
		return imaging.CatmullRom, nil
	case "linear":
		return imaging.Linear, nil
	case "box":
		return imaging.Box, nil
	case "nearest":
		return imaging.NearestNeighbor, nil
	default:
		return imaging.ResampleFilter{}, fmt.Errorf("unknown resampling filter: %s", name)
	}
}

// JPEGEncoder resizes with imaging and writes baseline JPEG.
type JPEGEncoder struct {
	filter imaging.ResampleFilter
}

// NewJPEGEncoder creates a JPEGEncoder using the given resampling filter.
func NewJPEGEncoder(filter imaging.ResampleFilter) *JPEGEncoder {
	return &JPEGEncoder{filter: filter}
}

// Encode implements Encoder.
func (e *JPEGEncoder) Encode(img image.Image, width, height int, quality float64) ([]byte, error) {
	if img == nil {
		return nil, fmt.Errorf("encode: nil image")
	}
	if width < 1 || height < 1 {
		return nil, fmt.Errorf("encode: invalid target size %dx%d", width, height)
	}

	var dst image.Image = img
	b := img.Bounds()
	if b.Dx() != width || b.Dy() != height {
		dst = imaging.Resize(img, width, height, e.filter)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, dst, imaging.JPEG, imaging.JPEGQuality(jpegQuality(quality))); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	if buf.Len() == 0 {
		return nil, ErrEmptyOutput
	}
	return buf.Bytes(), nil
}

// DefaultCompressor is the default implementation of the Compressor interface.
type DefaultCompressor struct {
	encoder   Encoder
	logger    logrus.FieldLogger
	maxPixels int64
}

// NewDefaultCompressor creates a new DefaultCompressor instance.
func NewDefaultCompressor(encoder Encoder, log logrus.FieldLogger) *DefaultCompressor {
	return &DefaultCompressor{encoder: encoder, logger: log, maxPixels: source.DefaultMaxPixels}
}

// WithMaxPixels sets the largest input, in pixels, Compress will decode.
func (c *DefaultCompressor) WithMaxPixels(n int64) *DefaultCompressor {
	c.maxPixels = n
	return c
}

// Compress decodes data, scales it by params.Percent and re-encodes it as JPEG.
func (c *DefaultCompressor) Compress(ctx context.Context, data []byte, params Params) (*CompressionResult, error) {
	res := &CompressionResult{
		ContentType:  "image/jpeg",
		OriginalSize: int64(len(data)),
		StartedAt:    time.Now(),
	}

	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, format, err := source.DecodeLimit(data, c.maxPixels)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b := img.Bounds()
	res.OriginalWidth, res.OriginalHeight = b.Dx(), b.Dy()
	res.Width, res.Height = TargetSize(res.OriginalWidth, res.OriginalHeight, params.Percent)

	out, err := c.encoder.Encode(img, res.Width, res.Height, QualityFraction(params.Quality))
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrEmptyOutput
	}

	res.Data = out
	res.CompressedSize = int64(len(out))
	if res.OriginalSize > 0 {
		res.PercentageSaved = float64(res.OriginalSize-res.CompressedSize) * 100 / float64(res.OriginalSize)
	}
	res.FinishedAt = time.Now()

	logger.WithFields(logger.WithOperation(c.logger, "compress"), logrus.Fields{
		"format":          format,
		"original":        fmt.Sprintf("%dx%d", res.OriginalWidth, res.OriginalHeight),
		"target":          fmt.Sprintf("%dx%d", res.Width, res.Height),
		"original_size":   res.OriginalSize,
		"compressed_size": res.CompressedSize,
		"duration":        res.FinishedAt.Sub(res.StartedAt).String(),
	}).Debug("Image compressed")

	return res, nil
}
