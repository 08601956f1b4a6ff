// Package artifact keeps compressed results addressable by object URLs, the
// way a browser hands out blob: URLs for in-memory data.
package artifact

import (
	"strings"
	"sync"
	"time"

	"image-compressor-go/internal/source"

	"github.com/google/uuid"
)

// Scheme prefixes every object URL handed out by a Store.
const Scheme = "blob:"

// Artifact is a binary result and its object URL.
type Artifact struct {
	URL         string
	Data        []byte
	ContentType string
	CreatedAt   time.Time
}

// Size returns the artifact length in bytes.
func (a *Artifact) Size() int64 { return int64(len(a.Data)) }

// Store holds live artifacts until they are revoked.
type Store struct {
	mu    sync.RWMutex
	items map[string]*Artifact
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{items: make(map[string]*Artifact)}
}

// Create registers data and returns its object URL. An empty contentType is
// replaced by the sniffed one.
func (s *Store) Create(data []byte, contentType string) string {
	if contentType == "" {
		contentType = source.DetectContentType(data)
	}
	a := &Artifact{
		URL:         Scheme + uuid.NewString(),
		Data:        data,
		ContentType: contentType,
		CreatedAt:   time.Now(),
	}

	s.mu.Lock()
	s.items[a.URL] = a
	s.mu.Unlock()

	return a.URL
}

// Get looks up a live artifact.
func (s *Store) Get(url string) (*Artifact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.items[url]
	return a, ok
}

// Revoke releases the artifact behind url. Unknown URLs are ignored.
func (s *Store) Revoke(url string) {
	if !IsObjectURL(url) {
		return
	}
	s.mu.Lock()
	delete(s.items, url)
	s.mu.Unlock()
}

// Len returns the number of live artifacts.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// IsObjectURL reports whether url was minted by a Store.
func IsObjectURL(url string) bool {
	return strings.HasPrefix(url, Scheme)
}
