package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teamup-mcp/teamup-mcp-server/internal/logging"
)

// Registry maps opaque session identifiers to sessions with time-based
// eviction. It holds process-memory only: a restart drops all sessions and
// all authenticated state. That is a deliberate simplicity tradeoff, not an
// oversight.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	timeout     time.Duration
	sweepTicker *time.Ticker
	sweepDone   chan struct{}
	closeOnce   sync.Once
	logger      *slog.Logger

	// onEvict and onCreate are invoked outside the registry lock so
	// callers can keep gauges and per-session state in step with the
	// session population.
	onEvict  func(ids []string)
	onCreate func()
}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithEvictionCallback registers a callback invoked with the ids of the
// sessions removed by each sweep, so callers can release state keyed by
// session id (gauges, pending authorization requests).
func WithEvictionCallback(fn func(ids []string)) RegistryOption {
	return func(r *Registry) {
		r.onEvict = fn
	}
}

// WithCreationCallback registers a callback invoked each time Resolve
// mints a new session.
func WithCreationCallback(fn func()) RegistryOption {
	return func(r *Registry) {
		r.onCreate = fn
	}
}

// NewRegistry creates a session registry sweeping at sweepInterval and
// evicting sessions idle longer than timeout. The background sweep runs
// until Close is called.
func NewRegistry(timeout, sweepInterval time.Duration, logger *slog.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{
		sessions:    make(map[string]*Session),
		timeout:     timeout,
		sweepTicker: time.NewTicker(sweepInterval),
		sweepDone:   make(chan struct{}),
		logger:      logger,
	}

	for _, opt := range opts {
		opt(r)
	}

	go r.sweepLoop()

	return r
}

// Resolve returns the session for a known id with a fresh last-access time,
// or mints a new uninitialized session when the id is empty or unknown.
// A race where two requests present the same unknown id may create two
// sessions; each is self-correcting on next request with the returned id.
func (r *Registry) Resolve(id string) *Session {
	now := time.Now()

	if id != "" {
		r.mu.RLock()
		s, ok := r.sessions[id]
		r.mu.RUnlock()
		if ok {
			s.Touch(now)
			return s
		}
	}

	s := newSession(uuid.NewString(), now)

	r.mu.Lock()
	r.sessions[s.ID()] = s
	r.mu.Unlock()

	if r.onCreate != nil {
		r.onCreate()
	}
	r.logger.Debug("session created", logging.SessionHash(s.ID()))
	return s
}

// Get returns the session for a known id without creating one.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove deletes a session explicitly. No transport calls this on
// disconnect: session state deliberately survives reconnects so a client
// can resume with its id. It exists for explicit teardown.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// EvictStale removes every unpinned session idle longer than the configured
// timeout, returning the number removed. Exposed for tests; the background
// sweep calls it on its interval.
func (r *Registry) EvictStale(now time.Time) int {
	r.mu.Lock()
	var evicted []string
	for id, s := range r.sessions {
		if s.Pinned() {
			continue
		}
		if now.Sub(s.LastAccess()) > r.timeout {
			delete(r.sessions, id)
			evicted = append(evicted, id)
		}
	}
	r.mu.Unlock()

	if len(evicted) > 0 {
		r.logger.Info("evicted stale sessions", slog.Int("count", len(evicted)))
		if r.onEvict != nil {
			r.onEvict(evicted)
		}
	}
	return len(evicted)
}

// Close stops the background sweep. Safe to call more than once.
func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		r.sweepTicker.Stop()
		close(r.sweepDone)
	})
}

func (r *Registry) sweepLoop() {
	for {
		select {
		case <-r.sweepTicker.C:
			r.EvictStale(time.Now())
		case <-r.sweepDone:
			return
		}
	}
}
