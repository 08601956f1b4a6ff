package source

import (
	"context"
	"image"
	"strings"
)

// Handle is an in-memory image that may still be loading.
// It is created by FromFile or FromURL and is safe for concurrent use.
type Handle struct {
	name string
	src  string
	done chan struct{}

	// written once before done is closed
	data   []byte
	img    image.Image
	format string
	err    error
}

// FromFile wraps the bytes of a user-selected file. The preview source is a
// data URL; decoding runs in the background.
func FromFile(name string, data []byte) *Handle {
	h := &Handle{
		name: name,
		src:  DataURL(data),
		done: make(chan struct{}),
	}
	go h.load(func() ([]byte, error) {
		if len(data) == 0 {
			return nil, ErrEmptyFile
		}
		return data, nil
	})
	return h
}

// FromURL creates a handle whose source is rawURL. The image is downloaded
// with f and decoded in the background; failures surface from Wait.
func FromURL(ctx context.Context, rawURL string, f *Fetcher) *Handle {
	rawURL = strings.TrimSpace(rawURL)
	h := &Handle{
		name: rawURL,
		src:  rawURL,
		done: make(chan struct{}),
	}
	go h.load(func() ([]byte, error) {
		return f.Fetch(ctx, rawURL)
	})
	return h
}

func (h *Handle) load(read func() ([]byte, error)) {
	defer close(h.done)

	data, err := read()
	if err != nil {
		h.err = err
		return
	}
	h.data = data
	h.img, h.format, h.err = Decode(data)
}

// Name is the file name, or the URL for remote images.
func (h *Handle) Name() string { return h.name }

// Src is the preview-displayable source.
func (h *Handle) Src() string { return h.src }

// Complete reports whether loading has finished, successfully or not.
func (h *Handle) Complete() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the image is decoded or ctx is done.
func (h *Handle) Wait(ctx context.Context) (image.Image, error) {
	select {
	case <-h.done:
		return h.img, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Data returns the raw bytes once loading completed, nil before that.
func (h *Handle) Data() []byte {
	if !h.Complete() {
		return nil
	}
	return h.data
}

// Format returns the decoder format name once loading completed.
func (h *Handle) Format() string {
	if !h.Complete() {
		return ""
	}
	return h.format
}
