package source

import (
	"bytes"
	"fmt"
	"image"
	"time"

	"github.com/rwcarlsen/goexif/exif"
)

// Metadata describes an acquired image without decoding its pixels.
type Metadata struct {
	Format      string
	ContentType string
	Width       int
	Height      int
	Size        int64
	HasEXIF     bool
	CameraMake  string
	CameraModel string
	Software    string
	Orientation int
	Taken       *time.Time
}

// ReadMetadata reads the image header and, when present, EXIF tags.
// Missing EXIF is not an error.
func ReadMetadata(data []byte) (*Metadata, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	md := &Metadata{
		Format:      format,
		ContentType: DetectContentType(data),
		Width:       cfg.Width,
		Height:      cfg.Height,
		Size:        int64(len(data)),
	}

	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return md, nil
	}
	md.HasEXIF = true
	md.CameraMake = exifString(x, exif.Make)
	md.CameraModel = exifString(x, exif.Model)
	md.Software = exifString(x, exif.Software)

	if tag, err := x.Get(exif.Orientation); err == nil {
		if v, err := tag.Int(0); err == nil {
			md.Orientation = v
		}
	}

	if tm, err := x.DateTime(); err == nil {
		md.Taken = &tm
	} else if s := exifString(x, exif.DateTimeOriginal); s != "" {
		md.Taken = parseEXIFDateTime(s)
	}

	return md, nil
}

func exifString(x *exif.Exif, name exif.FieldName) string {
	tag, err := x.Get(name)
	if err != nil {
		return ""
	}
	s, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return s
}

// parseEXIFDateTime parses an EXIF date string, returning nil on failure.
func parseEXIFDateTime(s string) *time.Time {
	formats := []string{
		"2006:01:02 15:04:05",
		"2006-01-02 15:04:05",
		"2006:01:02",
		time.RFC3339,
	}
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return &t
		}
	}
	return nil
}
