package api

import (
	"bytes"
	"net/http"
	"sync"
	"time"
)

// cachedResponse is a previously-seen response kept for idempotent
// replay of a duplicate enqueue.
type cachedResponse struct {
	StatusCode int
	Body       []byte
	CachedAt   time.Time
}

// IdempotencyStore caches responses by Idempotency-Key so retried
// enqueues do not create duplicate ledger rows.
type IdempotencyStore struct {
	mu      sync.RWMutex
	entries map[string]*cachedResponse
	ttl     time.Duration
}

// NewIdempotencyStore creates an in-memory store with the given TTL.
func NewIdempotencyStore(ttl time.Duration) *IdempotencyStore {
	s := &IdempotencyStore{
		entries: make(map[string]*cachedResponse),
		ttl:     ttl,
	}
	go s.cleanup()
	return s
}

func (s *IdempotencyStore) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		s.mu.Lock()
		now := time.Now()
		for k, v := range s.entries {
			if now.Sub(v.CachedAt) > s.ttl {
				delete(s.entries, k)
			}
		}
		s.mu.Unlock()
	}
}

func (s *IdempotencyStore) check(key string) (*cachedResponse, bool) {
	s.mu.RLock()
	cached, exists := s.entries[key]
	s.mu.RUnlock()
	if exists && time.Since(cached.CachedAt) < s.ttl {
		return cached, true
	}
	return nil, false
}

func (s *IdempotencyStore) set(key string, statusCode int, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &cachedResponse{
		StatusCode: statusCode,
		Body:       body,
		CachedAt:   time.Now(),
	}
}

// responseCapture wraps http.ResponseWriter to record what was sent.
type responseCapture struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (rc *responseCapture) WriteHeader(code int) {
	rc.statusCode = code
	rc.ResponseWriter.WriteHeader(code)
}

func (rc *responseCapture) Write(b []byte) (int, error) {
	rc.body.Write(b)
	return rc.ResponseWriter.Write(b)
}

// IdempotencyMiddleware replays the cached response for a repeated
// Idempotency-Key on mutating requests. Requests without the header
// pass through untouched.
func IdempotencyMiddleware(store *IdempotencyStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodPatch {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Header.Get("Idempotency-Key")
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			if cached, ok := store.check(key); ok {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(cached.StatusCode)
				_, _ = w.Write(cached.Body)
				return
			}

			capture := &responseCapture{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(capture, r)
			if capture.statusCode >= 200 && capture.statusCode < 300 {
				store.set(key, capture.statusCode, capture.body.Bytes())
			}
		})
	}
}
