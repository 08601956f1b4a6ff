package statistics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Mode names the path that produced a compression.
type Mode string

const (
	ModeLocal  Mode = "local"
	ModeServer Mode = "server"
)

// maxErrors bounds the retained error history.
const maxErrors = 100

// Statistics contains counters for compression activity.
type Statistics struct {
	Requested  int64
	Succeeded  int64
	Failed     int64
	Superseded int64

	LocalCompressions  int64
	ServerCompressions int64

	BytesIn  int64
	BytesOut int64

	StartTime time.Time

	mutex  sync.RWMutex
	errors []StatError
}

// StatError represents an error that occurred during compression.
type StatError struct {
	Source    string    `json:"source"`
	Operation string    `json:"operation"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is a point-in-time copy suitable for JSON encoding.
type Snapshot struct {
	Requested          int64       `json:"requested"`
	Succeeded          int64       `json:"succeeded"`
	Failed             int64       `json:"failed"`
	Superseded         int64       `json:"superseded"`
	LocalCompressions  int64       `json:"local_compressions"`
	ServerCompressions int64       `json:"server_compressions"`
	BytesIn            int64       `json:"bytes_in"`
	BytesOut           int64       `json:"bytes_out"`
	PercentageSaved    float64     `json:"percentage_saved"`
	Uptime             string      `json:"uptime"`
	RecentErrors       []StatError `json:"recent_errors,omitempty"`
}

// NewStatistics returns a new Statistics instance.
func NewStatistics() *Statistics {
	return &Statistics{
		StartTime: time.Now(),
		errors:    make([]StatError, 0),
	}
}

// IncrementRequested counts a compression attempt.
func (s *Statistics) IncrementRequested() {
	atomic.AddInt64(&s.Requested, 1)
}

// IncrementSuperseded counts a result dropped because a newer one was started.
func (s *Statistics) IncrementSuperseded() {
	atomic.AddInt64(&s.Superseded, 1)
}

// RecordSuccess counts a finished compression and its byte sizes.
// bytesIn may be zero when the input size is unknown (remote URL sources).
func (s *Statistics) RecordSuccess(mode Mode, bytesIn, bytesOut int64) {
	atomic.AddInt64(&s.Succeeded, 1)
	switch mode {
	case ModeLocal:
		atomic.AddInt64(&s.LocalCompressions, 1)
	case ModeServer:
		atomic.AddInt64(&s.ServerCompressions, 1)
	}
	if bytesIn > 0 {
		atomic.AddInt64(&s.BytesIn, bytesIn)
		atomic.AddInt64(&s.BytesOut, bytesOut)
	}
}

// RecordFailure counts a failed compression and keeps its message.
func (s *Statistics) RecordFailure(source, operation, errorMsg string) {
	atomic.AddInt64(&s.Failed, 1)

	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.errors = append(s.errors, StatError{
		Source:    source,
		Operation: operation,
		Error:     errorMsg,
		Timestamp: time.Now(),
	})
	if len(s.errors) > maxErrors {
		s.errors = s.errors[len(s.errors)-maxErrors:]
	}
}

// Errors returns a copy of the retained errors, oldest first.
func (s *Statistics) Errors() []StatError {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	out := make([]StatError, len(s.errors))
	copy(out, s.errors)
	return out
}

// PercentageSaved returns the share of input bytes removed across all
// compressions with a known input size.
func (s *Statistics) PercentageSaved() float64 {
	in := atomic.LoadInt64(&s.BytesIn)
	out := atomic.LoadInt64(&s.BytesOut)
	if in == 0 {
		return 0
	}
	return float64(in-out) * 100 / float64(in)
}

// Snapshot copies the counters.
func (s *Statistics) Snapshot() Snapshot {
	errs := s.Errors()
	if len(errs) > 10 {
		errs = errs[len(errs)-10:]
	}
	return Snapshot{
		Requested:          atomic.LoadInt64(&s.Requested),
		Succeeded:          atomic.LoadInt64(&s.Succeeded),
		Failed:             atomic.LoadInt64(&s.Failed),
		Superseded:         atomic.LoadInt64(&s.Superseded),
		LocalCompressions:  atomic.LoadInt64(&s.LocalCompressions),
		ServerCompressions: atomic.LoadInt64(&s.ServerCompressions),
		BytesIn:            atomic.LoadInt64(&s.BytesIn),
		BytesOut:           atomic.LoadInt64(&s.BytesOut),
		PercentageSaved:    s.PercentageSaved(),
		Uptime:             time.Since(s.StartTime).Truncate(time.Second).String(),
		RecentErrors:       errs,
	}
}

// GetSummary returns a formatted summary of all statistics.
func (s *Statistics) GetSummary() string {
	return fmt.Sprintf(`Image Compressor Statistics Summary:

Compressions:
		Requested: %d
		Succeeded: %d
		Failed: %d
		Superseded: %d
		Local: %d
		Server: %d

Bytes:
		In: %s
		Out: %s
		Saved: %.1f%%`,
		atomic.LoadInt64(&s.Requested),
		atomic.LoadInt64(&s.Succeeded),
		atomic.LoadInt64(&s.Failed),
		atomic.LoadInt64(&s.Superseded),
		atomic.LoadInt64(&s.LocalCompressions),
		atomic.LoadInt64(&s.ServerCompressions),
		FormatBytes(atomic.LoadInt64(&s.BytesIn)),
		FormatBytes(atomic.LoadInt64(&s.BytesOut)),
		s.PercentageSaved())
}

// GetErrorSummary returns a summary of the retained errors.
func (s *Statistics) GetErrorSummary() string {
	errs := s.Errors()
	if len(errs) == 0 {
		return "No errors occurred"
	}

	result := fmt.Sprintf("Errors (%d total):\n", len(errs))
	for i, err := range errs {
		if i >= 10 {
			result += fmt.Sprintf("  ... and %d more errors\n", len(errs)-10)
			break
		}
		result += fmt.Sprintf("  [%s] %s: %s - %s\n",
			err.Timestamp.Format("15:04:05"),
			err.Operation,
			err.Source,
			err.Error)
	}
	return result
}

// FormatBytes returns a human-readable string for a byte count.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
