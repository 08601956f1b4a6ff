package session

import (
	"context"

	"image-compressor-go/internal/compressor"
	"image-compressor-go/internal/statistics"
)

// CompressLocal resizes and re-encodes the loaded image as JPEG without any
// network call. It waits for the image to finish decoding first.
func (s *Session) CompressLocal(ctx context.Context) (*Result, error) {
	// the token must come from the same critical section as the handle,
	// or a selection in between would hand a stale image the newest token
	s.mu.Lock()
	h := s.handle
	params := s.params
	if h == nil || h.Src() == "" {
		s.mu.Unlock()
		s.deps.Notifier.Alert(MsgNoImage)
		return nil, ErrNoImage
	}
	s.generation++
	token := s.generation
	s.mu.Unlock()

	s.deps.Stats.IncrementRequested()

	img, err := h.Wait(ctx)
	if err != nil {
		s.fail(h.Name(), "compress_local", err, "Could not load image: "+err.Error())
		return nil, wrap(ErrNoImage, err)
	}

	b := img.Bounds()
	w, ht := compressor.TargetSize(b.Dx(), b.Dy(), params.Percent)
	out, err := s.deps.Encoder.Encode(img, w, ht, compressor.QualityFraction(params.Quality))
	if err != nil || len(out) == 0 {
		s.fail(h.Name(), "compress_local", wrap(ErrEncodeFailed, err), MsgEncodeFailed)
		return nil, wrap(ErrEncodeFailed, err)
	}

	res := s.publish(token, out, "image/jpeg")
	if res.Applied {
		s.deps.Stats.RecordSuccess(statistics.ModeLocal, int64(len(h.Data())), res.Size)
	}
	s.deps.Logger.WithField("source", h.Name()).
		WithField("size", res.Size).
		WithField("applied", res.Applied).
		Infof("Local compression finished (%dx%d)", w, ht)
	return res, nil
}
