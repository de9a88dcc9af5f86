package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// pendingRequest binds a state correlator to the session that initiated the
// authorization flow. The state is single-use: consuming it (success or
// error) invalidates it, so a replayed callback URL can never trigger a
// second token exchange.
type pendingRequest struct {
	sessionID string
	createdAt time.Time
}

// pendingStore holds outstanding authorization requests keyed by state.
type pendingStore struct {
	mu      sync.Mutex
	pending map[string]pendingRequest
}

func newPendingStore() *pendingStore {
	return &pendingStore{
		pending: make(map[string]pendingRequest),
	}
}

// add registers a fresh state correlator for the session.
func (p *pendingStore) add(state, sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending[state] = pendingRequest{
		sessionID: sessionID,
		createdAt: time.Now(),
	}
}

// consume atomically looks up and invalidates a state correlator.
// The second call for the same state always fails.
func (p *pendingStore) consume(state string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	req, ok := p.pending[state]
	if !ok {
		return "", false
	}
	delete(p.pending, state)
	return req.sessionID, true
}

// hasSession reports whether the session still has an outstanding request.
// A waiting session whose state was consumed (or dropped) must mint a fresh
// one rather than hand out a dead authorization URL.
func (p *pendingStore) hasSession(sessionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, req := range p.pending {
		if req.sessionID == sessionID {
			return true
		}
	}
	return false
}

// dropSession discards all pending requests for a session, used when the
// session itself goes away before its callback arrives.
func (p *pendingStore) dropSession(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for state, req := range p.pending {
		if req.sessionID == sessionID {
			delete(p.pending, state)
		}
	}
}

// generateState returns an unguessable single-use correlator (128 bits).
func generateState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating state: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
