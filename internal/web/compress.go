package web

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"image-compressor-go/internal/compressor"
	"image-compressor-go/internal/logger"
	"image-compressor-go/internal/statistics"

	"github.com/sirupsen/logrus"
)

// handleCompress implements POST /compress: multipart fields percent, quality
// and either an image file part or an image_url to download.
func (s *Server) handleCompress(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&s.inFlight, 1)
	defer atomic.AddInt64(&s.inFlight, -1)
	s.stats.IncrementRequested()

	limit := s.cfg.MaxUploadBytes()
	if r.ContentLength > limit {
		s.fail(w, "", "upload too large", http.StatusRequestEntityTooLarge)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if bodyTooLarge(err) {
			s.fail(w, "", "upload too large", http.StatusRequestEntityTooLarge)
			return
		}
		s.fail(w, "", "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	params, err := s.parseParams(r)
	if err != nil {
		s.fail(w, "", err.Error(), http.StatusBadRequest)
		return
	}

	data, name, err := s.readImage(r)
	if err != nil {
		s.fail(w, name, err.Error(), statusFor(err))
		return
	}

	log := logger.WithSource(s.log, name, "compress").WithFields(logrus.Fields{
		"percent": params.Percent,
		"quality": params.Quality,
		"bytes":   len(data),
	})
	log.Info("Compression requested")
	s.broadcastWSMessage("compress_started", map[string]interface{}{
		"source":  name,
		"percent": params.Percent,
		"quality": params.Quality,
	})

	res, err := s.compressor.Compress(r.Context(), data, params)
	if err != nil {
		log.WithError(err).Warn("Compression failed")
		s.fail(w, name, err.Error(), statusFor(err))
		return
	}

	s.stats.RecordSuccess(statistics.ModeServer, res.OriginalSize, res.CompressedSize)
	s.broadcastWSMessage("compress_completed", map[string]interface{}{
		"source":           name,
		"width":            res.Width,
		"height":           res.Height,
		"original_size":    res.OriginalSize,
		"compressed_size":  res.CompressedSize,
		"percentage_saved": res.PercentageSaved,
	})
	log.WithField("compressed_size", res.CompressedSize).Info("Compression finished")

	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="compressed.jpg"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
	w.Header().Set("X-Original-Size", strconv.FormatInt(res.OriginalSize, 10))
	w.Header().Set("X-Compressed-Size", strconv.FormatInt(res.CompressedSize, 10))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(res.Data); err != nil {
		log.WithError(err).Debug("Client went away before the response was written")
	}
}

func (s *Server) parseParams(r *http.Request) (compressor.Params, error) {
	percent, err := intField(r, "percent", s.cfg.Compression.Percent)
	if err != nil {
		return compressor.Params{}, err
	}
	quality, err := intField(r, "quality", s.cfg.Compression.Quality)
	if err != nil {
		return compressor.Params{}, err
	}
	params := compressor.Params{Percent: percent, Quality: quality}
	return params, params.Validate()
}

// readImage returns the uploaded file, or downloads image_url when no file
// part is present.
func (s *Server) readImage(r *http.Request) ([]byte, string, error) {
	file, header, err := r.FormFile("image")
	if err == nil {
		defer file.Close()
		data, err := readAllLimited(file, s.cfg.MaxUploadBytes())
		return data, header.Filename, err
	}
	if !errors.Is(err, http.ErrMissingFile) {
		return nil, "", err
	}

	imageURL := strings.TrimSpace(r.FormValue("image_url"))
	if imageURL == "" {
		return nil, "", errNoImage
	}
	data, err := s.fetcher.Fetch(r.Context(), imageURL)
	return data, imageURL, err
}

var errNoImage = errors.New("no image provided")

// bodyTooLarge reports whether err came from the MaxBytesReader. The
// multipart reader does not always wrap it, hence the message match.
func bodyTooLarge(err error) bool {
	var maxBytesErr *http.MaxBytesError
	return errors.As(err, &maxBytesErr) || strings.Contains(err.Error(), "request body too large")
}

func (s *Server) fail(w http.ResponseWriter, name, message string, status int) {
	s.stats.RecordFailure(name, "compress", message)
	s.broadcastWSMessage("compress_error", map[string]interface{}{
		"source": name,
		"error":  message,
		"status": status,
	})
	s.writeError(w, message, status)
}
