package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

// Form field names of POST /compress.
const (
	FieldPercent  = "percent"
	FieldQuality  = "quality"
	FieldImage    = "image"
	FieldImageURL = "image_url"
)

// ErrNoInput is returned when a request carries neither file bytes nor a URL.
var ErrNoInput = errors.New("no image file or image URL provided")

// ServerError is a non-2xx answer from the compression server.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	return e.Message
}

// TransportError is a failure to reach the compression server at all.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Request is one compression call. File takes precedence over ImageURL.
type Request struct {
	Percent  int
	Quality  int
	FileName string
	File     []byte
	ImageURL string
}

// Response holds the compressed image returned by the server.
type Response struct {
	Data        []byte
	ContentType string
}

// Client submits images to a remote compression endpoint.
type Client struct {
	endpoint string
	http     *resty.Client
	logger   logrus.FieldLogger
}

// New creates a Client for endpoint. A zero timeout leaves calls bounded only
// by the caller's context.
func New(endpoint string, timeout time.Duration, logger logrus.FieldLogger) *Client {
	return &Client{
		endpoint: endpoint,
		http:     resty.New().SetTimeout(timeout),
		logger:   logger,
	}
}

// Endpoint returns the configured URL.
func (c *Client) Endpoint() string { return c.endpoint }

// Compress posts the request as multipart form data. No request is issued
// when both File and ImageURL are empty.
func (c *Client) Compress(ctx context.Context, req Request) (*Response, error) {
	if len(req.File) == 0 && req.ImageURL == "" {
		return nil, ErrNoInput
	}

	form := map[string]string{
		FieldPercent: strconv.Itoa(req.Percent),
		FieldQuality: strconv.Itoa(req.Quality),
	}

	r := c.http.R().SetContext(ctx)
	if len(req.File) > 0 {
		name := req.FileName
		if name == "" {
			name = "image"
		}
		r.SetFileReader(FieldImage, name, bytes.NewReader(req.File))
	} else {
		form[FieldImageURL] = req.ImageURL
	}
	r.SetMultipartFormData(form)

	log := c.logger.WithFields(logrus.Fields{
		"endpoint": c.endpoint,
		"percent":  req.Percent,
		"quality":  req.Quality,
	})
	log.Debug("Sending compression request")

	resp, err := r.Post(c.endpoint)
	if err != nil {
		log.WithError(err).Warn("Compression request failed")
		return nil, &TransportError{Err: err}
	}

	if !resp.IsSuccess() {
		serverErr := &ServerError{
			StatusCode: resp.StatusCode(),
			Message:    errorMessage(resp.Body(), resp.StatusCode()),
		}
		log.WithField("status", resp.StatusCode()).Warnf("Server rejected compression: %s", serverErr.Message)
		return nil, serverErr
	}

	log.WithField("bytes", len(resp.Body())).Debug("Compression response received")
	return &Response{
		Data:        resp.Body(),
		ContentType: resp.Header().Get("Content-Type"),
	}, nil
}

// errorMessage prefers the JSON "error" field and falls back to the status text.
func errorMessage(body []byte, status int) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return fmt.Sprintf("status %d", status)
}
