// Package flags is the process-wide observability store: short string keys mapped to
// arbitrary values, written briefly by producers and read by the API and the renderer.
package flags

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Well-known keys.
const (
	CameraFPS    = "CAMERA_FPS"
	CameraError  = "CAMERA_ERROR"
	CameraSource = "CAMERA_SOURCE"
	Debug        = "DEBUG"
	RenderFPS    = "RENDER_FPS"
)

// Change is delivered to subscribers after every Set.
type Change struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// Store is a reader-writer locked map. The zero value is not usable; use New.
type Store struct {
	mu     sync.RWMutex
	values map[string]any

	subMu sync.RWMutex
	subs  map[chan Change]struct{}
}

// New creates an empty store.
func New() *Store {
	return &Store{
		values: make(map[string]any),
		subs:   make(map[chan Change]struct{}),
	}
}

var global atomic.Pointer[Store]

func init() {
	global.Store(New())
}

// Global returns the process-wide store.
func Global() *Store {
	return global.Load()
}

// Set stores value under key in the process-wide store.
func Set(key string, value any) {
	Global().Set(key, value)
}

// Lookup reads a typed value from s.
func Lookup[T any](s *Store, key string) (T, bool) {
	var zero T
	raw, ok := s.Load(key)
	if !ok {
		return zero, false
	}
	v, ok := raw.(T)
	if !ok {
		return zero, false
	}
	return v, true
}

// Set stores value under key and notifies subscribers. The write lock is released before
// subscribers are notified.
func (s *Store) Set(key string, value any) {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()

	s.subMu.RLock()
	for ch := range s.subs {
		select {
		case ch <- Change{Key: key, Value: value}:
		default:
			// slow subscriber, it will see the next change
		}
	}
	s.subMu.RUnlock()
}

// Load returns the raw value stored under key.
func (s *Store) Load(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Delete removes key.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	delete(s.values, key)
	s.mu.Unlock()
}

// Snapshot copies every key.
func (s *Store) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Keys returns the stored keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Subscribe returns a buffered feed of changes. Call Unsubscribe when done.
func (s *Store) Subscribe() chan Change {
	ch := make(chan Change, 16)
	s.subMu.Lock()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()
	return ch
}

// Unsubscribe stops and closes a feed returned by Subscribe.
func (s *Store) Unsubscribe(ch chan Change) {
	s.subMu.Lock()
	if _, ok := s.subs[ch]; ok {
		delete(s.subs, ch)
		close(ch)
	}
	s.subMu.Unlock()
}
