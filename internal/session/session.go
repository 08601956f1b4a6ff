// Package session holds the state of one compression workspace: the selected
// image source, the two compression paths and the visible result.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"image-compressor-go/internal/artifact"
	"image-compressor-go/internal/client"
	"image-compressor-go/internal/compressor"
	"image-compressor-go/internal/logger"
	"image-compressor-go/internal/source"
	"image-compressor-go/internal/statistics"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
)

// Labels and prompts shown to the user.
const (
	ServerLabel  = "Compress (server)"
	PendingLabel = "Compressing..."
	DownloadText = "Download Compressed Image"

	MsgNoSource     = "Please upload a file or provide an image URL."
	MsgNoURL        = "Please enter an image URL"
	MsgNoImage      = "Load an image first (upload or URL)."
	MsgEncodeFailed = "Compression failed"
)

var (
	// ErrNoSource means neither a file nor a URL is selected.
	ErrNoSource = errors.New("no image source selected")
	// ErrNoImage means the client path has no image handle to encode.
	ErrNoImage = errors.New("no image loaded")
	// ErrEncodeFailed means local encoding produced no output.
	ErrEncodeFailed = errors.New("local compression failed")
	// ErrBusy means a server compression is already pending.
	ErrBusy = errors.New("server compression already in progress")
)

// Notifier delivers blocking user-facing messages.
type Notifier interface {
	Alert(message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(message string)

// Alert implements Notifier.
func (f NotifierFunc) Alert(message string) { f(message) }

// ServerCompressor is the remote half of the server compression path.
type ServerCompressor interface {
	Compress(ctx context.Context, req client.Request) (*client.Response, error)
}

// Control is the state of the server compression trigger.
type Control struct {
	Label    string
	Disabled bool
}

// Download is the state of the download link.
type Download struct {
	Href    string
	Text    string
	Visible bool
}

// State is a copy of everything a front end renders.
type State struct {
	Percent       int
	Quality       int
	URLInput      string
	FileName      string
	Preview       string
	Download      Download
	ServerControl Control
}

// Result describes a finished compression.
type Result struct {
	URL         string
	ContentType string
	Size        int64
	// Applied is false when a newer selection or compression superseded this one.
	Applied bool
}

// Dependencies wires a Session to its collaborators. Only Server may stay
// nil; every other field falls back to a default.
type Dependencies struct {
	Server   ServerCompressor
	Encoder  compressor.Encoder
	Fetcher  *source.Fetcher
	Store    *artifact.Store
	Notifier Notifier
	Stats    *statistics.Statistics
	Logger   logrus.FieldLogger
}

const (
	defaultFetchTimeout = 30 * time.Second
	defaultFetchLimit   = 20 << 20
)

type selectedFile struct {
	name string
	data []byte
}

// Session is safe for concurrent use. Overlapping compressions resolve as
// "latest wins": only the most recently started one may update the preview.
type Session struct {
	deps Dependencies

	mu         sync.Mutex
	params     compressor.Params
	urlInput   string
	file       *selectedFile
	handle     *source.Handle
	preview    string
	download   Download
	control    Control
	artifact   string
	generation uint64
}

// New creates a Session with the given starting parameters.
func New(deps Dependencies, params compressor.Params) *Session {
	if deps.Encoder == nil {
		deps.Encoder = compressor.NewJPEGEncoder(imaging.Lanczos)
	}
	if deps.Store == nil {
		deps.Store = artifact.NewStore()
	}
	if deps.Notifier == nil {
		deps.Notifier = NotifierFunc(func(string) {})
	}
	if deps.Fetcher == nil {
		deps.Fetcher = source.NewFetcher(defaultFetchTimeout, defaultFetchLimit, "")
	}
	if deps.Stats == nil {
		deps.Stats = statistics.NewStatistics()
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	s := &Session{
		deps:    deps,
		control: Control{Label: ServerLabel},
	}
	s.SetPercent(params.Percent)
	s.SetQuality(params.Quality)
	return s
}

// SetPercent moves the resize slider, clamped to 1-100.
func (s *Session) SetPercent(p int) {
	s.mu.Lock()
	s.params.Percent = min(compressor.MaxPercent, max(compressor.MinPercent, p))
	s.mu.Unlock()
}

// SetQuality moves the quality slider, clamped to 0-100.
func (s *Session) SetQuality(q int) {
	s.mu.Lock()
	s.params.Quality = min(compressor.MaxQuality, max(compressor.MinQuality, q))
	s.mu.Unlock()
}

// Params returns the current slider values.
func (s *Session) Params() compressor.Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

// SelectFile makes a local file the active source. A nil data slice means the
// picker was dismissed and is ignored.
func (s *Session) SelectFile(name string, data []byte) {
	if data == nil {
		return
	}
	h := source.FromFile(name, data)

	s.mu.Lock()
	s.file = &selectedFile{name: name, data: data}
	s.urlInput = ""
	s.replaceSourceLocked(h)
	s.mu.Unlock()

	s.deps.Logger.WithFields(logrus.Fields{"file": name, "bytes": len(data)}).Debug("File selected")
}

// SelectURL makes a remote image the active source. The preview shows the URL
// immediately; the download happens in the background.
func (s *Session) SelectURL(ctx context.Context, rawURL string) error {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		s.deps.Notifier.Alert(MsgNoURL)
		return ErrNoSource
	}

	h := source.FromURL(ctx, rawURL, s.deps.Fetcher)

	s.mu.Lock()
	s.file = nil
	s.urlInput = rawURL
	s.replaceSourceLocked(h)
	s.mu.Unlock()

	s.deps.Logger.WithField("url", rawURL).Debug("URL selected")
	return nil
}

// replaceSourceLocked installs a new handle and drops the previous result.
func (s *Session) replaceSourceLocked(h *source.Handle) {
	s.generation++
	s.handle = h
	s.preview = h.Src()
	if s.artifact != "" {
		s.deps.Store.Revoke(s.artifact)
		s.artifact = ""
	}
	s.download = Download{}
}

// Handle returns the current image handle, or nil.
func (s *Session) Handle() *source.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// Snapshot returns the visible state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := State{
		Percent:       s.params.Percent,
		Quality:       s.params.Quality,
		URLInput:      s.urlInput,
		Preview:       s.preview,
		Download:      s.download,
		ServerControl: s.control,
	}
	if s.file != nil {
		st.FileName = s.file.name
	}
	return st
}

// Current returns the artifact behind the download link.
func (s *Session) Current() (*artifact.Artifact, bool) {
	s.mu.Lock()
	url := s.artifact
	s.mu.Unlock()
	if url == "" {
		return nil, false
	}
	return s.deps.Store.Get(url)
}

// Close revokes the current artifact.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.artifact != "" {
		s.deps.Store.Revoke(s.artifact)
		s.artifact = ""
	}
	s.download = Download{}
}

// publish stores data and shows it, unless token is no longer the latest.
func (s *Session) publish(token uint64, data []byte, contentType string) *Result {
	url := s.deps.Store.Create(data, contentType)
	a, _ := s.deps.Store.Get(url)
	res := &Result{URL: url, ContentType: a.ContentType, Size: a.Size()}

	s.mu.Lock()
	if token != s.generation {
		s.mu.Unlock()
		s.deps.Store.Revoke(url)
		s.deps.Stats.IncrementSuperseded()
		s.deps.Logger.WithField("token", token).Debug("Discarding superseded compression result")
		return res
	}
	prev := s.artifact
	s.artifact = url
	s.preview = url
	s.download = Download{Href: url, Text: DownloadText, Visible: true}
	s.mu.Unlock()

	if prev != "" {
		s.deps.Store.Revoke(prev)
	}
	res.Applied = true
	return res
}

func (s *Session) fail(source, operation string, err error, message string) {
	s.deps.Stats.RecordFailure(source, operation, err.Error())
	logger.WithSource(s.deps.Logger, source, operation).WithError(err).Warn("Compression failed")
	s.deps.Notifier.Alert(message)
}

// wrap keeps both the sentinel and the cause visible to errors.Is.
func wrap(sentinel, cause error) error {
	if cause == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %w", sentinel, cause)
}
