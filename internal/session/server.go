package session

import (
	"context"
	"errors"

	"image-compressor-go/internal/client"
	"image-compressor-go/internal/statistics"
)

// CompressServer sends the active source to the compression server and shows
// the returned image. The server control is disabled while the call is pending.
func (s *Session) CompressServer(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	if s.control.Disabled {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	req := client.Request{
		Percent:  s.params.Percent,
		Quality:  s.params.Quality,
		ImageURL: s.urlInput,
	}
	name := s.urlInput
	if s.file != nil {
		req.FileName = s.file.name
		req.File = s.file.data
		req.ImageURL = ""
		name = s.file.name
	}
	if len(req.File) == 0 && req.ImageURL == "" {
		s.mu.Unlock()
		s.deps.Notifier.Alert(MsgNoSource)
		return nil, ErrNoSource
	}
	if s.deps.Server == nil {
		s.mu.Unlock()
		return nil, errors.New("no compression server configured")
	}
	s.control = Control{Label: PendingLabel, Disabled: true}
	s.generation++
	token := s.generation
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.control = Control{Label: ServerLabel}
		s.mu.Unlock()
	}()

	s.deps.Stats.IncrementRequested()
	log := s.deps.Logger.WithField("source", name)
	log.WithField("percent", req.Percent).WithField("quality", req.Quality).Info("Compressing on server")

	resp, err := s.deps.Server.Compress(ctx, req)
	if err != nil {
		var serverErr *client.ServerError
		if errors.As(err, &serverErr) {
			s.fail(name, "compress_server", err, "Server error: "+serverErr.Message)
		} else {
			s.fail(name, "compress_server", err, "Network or server error: "+err.Error())
		}
		return nil, err
	}

	res := s.publish(token, resp.Data, resp.ContentType)
	if res.Applied {
		s.deps.Stats.RecordSuccess(statistics.ModeServer, int64(len(req.File)), res.Size)
	}
	log.WithField("bytes", res.Size).WithField("applied", res.Applied).Info("Server compression finished")
	return res, nil
}
