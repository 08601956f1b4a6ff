package source

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/h2non/filetype"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var (
	// ErrDecode wraps every failure to turn bytes into an image.
	ErrDecode = errors.New("failed to decode image")
	// ErrEmptyFile is returned for a file selection without content.
	ErrEmptyFile = errors.New("file is empty")
	// ErrEmptyURL is returned for a blank URL.
	ErrEmptyURL = errors.New("image URL is empty")
)

const fallbackContentType = "application/octet-stream"

// DefaultMaxPixels is the decode limit used by Decode (100 megapixels).
const DefaultMaxPixels = 100_000_000

// Decode decodes any registered image format and applies EXIF orientation.
// It returns the image and the format name reported by the decoder.
func Decode(data []byte) (image.Image, string, error) {
	return DecodeLimit(data, DefaultMaxPixels)
}

// DecodeLimit is Decode with an explicit pixel budget. The header is checked
// before any pixel buffer is allocated; maxPixels <= 0 disables the check.
func DecodeLimit(data []byte, maxPixels int64) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: %w", ErrDecode, ErrEmptyFile)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); maxPixels > 0 && pixels > maxPixels {
		return nil, "", fmt.Errorf("%w: %dx%d is over the %d pixel limit", ErrTooLarge, cfg.Width, cfg.Height, maxPixels)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrDecode, err)
	}

	return img, format, nil
}

// DetectContentType sniffs the MIME type from the leading bytes.
func DetectContentType(data []byte) string {
	kind, err := filetype.Match(data)
	if err != nil || kind == filetype.Unknown {
		return fallbackContentType
	}
	return kind.MIME.Value
}

// IsImage reports whether data looks like an image by its magic bytes.
func IsImage(data []byte) bool {
	return filetype.IsImage(data)
}

// DataURL encodes data as a base64 data URL using the sniffed content type.
func DataURL(data []byte) string {
	return "data:" + DetectContentType(data) + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// IsRemote reports whether s is an http(s) URL.
func IsRemote(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
