package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamup-mcp/teamup-mcp-server/internal/session"
	"github.com/teamup-mcp/teamup-mcp-server/internal/teamup"
)

// fakeTokenEndpoint serves the upstream token endpoint and records the
// form parameters of every request.
type fakeTokenEndpoint struct {
	srv      *httptest.Server
	calls    int32
	lastForm url.Values
	status   int
	response map[string]interface{}
}

func newFakeTokenEndpoint(t *testing.T) *fakeTokenEndpoint {
	t.Helper()
	f := &fakeTokenEndpoint{
		status: http.StatusOK,
		response: map[string]interface{}{
			"access_token":  "A",
			"refresh_token": "R",
			"expires_in":    3600,
			"token_type":    "bearer",
		},
	}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.calls, 1)
		require.NoError(t, r.ParseForm())
		f.lastForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.status)
		_ = json.NewEncoder(w).Encode(f.response)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func newTestFlow(t *testing.T, tokenURL string, singleURL bool) (*Flow, *session.Registry) {
	t.Helper()
	registry := session.NewRegistry(time.Hour, time.Minute, nil)
	t.Cleanup(registry.Close)

	flow := NewFlow(FlowConfig{
		ClientID:               "client-id",
		ClientSecret:           "client-secret",
		RedirectURI:            "http://127.0.0.1:9877/oauth/callback",
		Scope:                  "read_write",
		AuthorizeURL:           "https://goteamup.com/api/auth/authorize",
		TokenURL:               tokenURL,
		SingleAuthorizationURL: singleURL,
		Registry:               registry,
	})
	return flow, registry
}

// stateFromDirective extracts the state parameter from the authorization
// URL embedded in an initialize directive.
func stateFromDirective(t *testing.T, directive string) string {
	t.Helper()
	idx := -1
	for i := 0; i+8 <= len(directive); i++ {
		if directive[i:i+8] == "https://" {
			idx = i
			break
		}
	}
	require.GreaterOrEqual(t, idx, 0, "directive must contain an authorization URL")
	end := idx
	for end < len(directive) && directive[end] != '\n' && directive[end] != ' ' {
		end++
	}
	u, err := url.Parse(directive[idx:end])
	require.NoError(t, err)
	return u.Query().Get("state")
}

func TestBeginBuildsAuthorizationURL(t *testing.T) {
	tokenEndpoint := newFakeTokenEndpoint(t)
	flow, registry := newTestFlow(t, tokenEndpoint.srv.URL, false)
	sess := registry.Resolve("")

	directive, err := flow.Begin(sess)
	require.NoError(t, err)

	assert.Equal(t, session.StateWaitingForAuth, sess.State())
	assert.Contains(t, directive, "https://goteamup.com/api/auth/authorize")
	assert.Contains(t, directive, "client_id=client-id")
	assert.Contains(t, directive, "response_type=code")
	assert.NotContains(t, directive, "client-secret", "client secret never reaches the caller")

	state := stateFromDirective(t, directive)
	assert.Len(t, state, 32, "state is 128 bits hex encoded")
}

func TestBeginIdempotentWhileWaiting(t *testing.T) {
	tokenEndpoint := newFakeTokenEndpoint(t)
	flow, registry := newTestFlow(t, tokenEndpoint.srv.URL, true)
	sess := registry.Resolve("")

	first, err := flow.Begin(sess)
	require.NoError(t, err)
	firstState := stateFromDirective(t, first)

	second, err := flow.Begin(sess)
	require.NoError(t, err)

	assert.Contains(t, second, "already in progress")
	assert.Equal(t, firstState, stateFromDirective(t, second),
		"repeated initialize must return the same outstanding URL")
}

func TestBeginFreshURLPerCallOnRemote(t *testing.T) {
	tokenEndpoint := newFakeTokenEndpoint(t)
	flow, registry := newTestFlow(t, tokenEndpoint.srv.URL, false)
	sess := registry.Resolve("")

	first, err := flow.Begin(sess)
	require.NoError(t, err)
	second, err := flow.Begin(sess)
	require.NoError(t, err)

	assert.NotEqual(t, stateFromDirective(t, first), stateFromDirective(t, second),
		"remote sessions are not port-bound and may get a fresh URL per call")
}

func TestBeginWhenAuthenticated(t *testing.T) {
	tokenEndpoint := newFakeTokenEndpoint(t)
	flow, registry := newTestFlow(t, tokenEndpoint.srv.URL, true)
	sess := registry.Resolve("")
	sess.SetAuthenticated(session.NewOAuthCredential("A", "R", 3600))

	directive, err := flow.Begin(sess)
	require.NoError(t, err)
	assert.Contains(t, directive, "Already authenticated")
}

func callback(t *testing.T, flow *Flow, rawQuery string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/oauth/callback?"+rawQuery, nil)
	rec := httptest.NewRecorder()
	flow.HandleCallback(rec, req)
	return rec
}

func TestCallbackExchangesCode(t *testing.T) {
	tokenEndpoint := newFakeTokenEndpoint(t)
	flow, registry := newTestFlow(t, tokenEndpoint.srv.URL, false)
	sess := registry.Resolve("")

	directive, err := flow.Begin(sess)
	require.NoError(t, err)
	state := stateFromDirective(t, directive)

	rec := callback(t, flow, "code=abc123&state="+state)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "Authorization Complete")

	require.EqualValues(t, 1, atomic.LoadInt32(&tokenEndpoint.calls), "exactly one token endpoint POST")
	assert.Equal(t, "abc123", tokenEndpoint.lastForm.Get("code"))
	assert.Equal(t, "client-id", tokenEndpoint.lastForm.Get("client_id"))
	assert.Equal(t, "client-secret", tokenEndpoint.lastForm.Get("client_secret"))

	assert.Equal(t, session.StateAuthenticated, sess.State())
	cred := sess.Credential()
	require.NotNil(t, cred)
	assert.Equal(t, "A", cred.AccessToken)
	assert.Equal(t, "R", cred.RefreshToken)
	assert.Equal(t, session.KindOAuth, cred.Kind)
	assert.WithinDuration(t, time.Now().Add(time.Hour), cred.ExpiresAt, time.Minute)
}

func TestCallbackErrorParamDemotes(t *testing.T) {
	tokenEndpoint := newFakeTokenEndpoint(t)
	flow, registry := newTestFlow(t, tokenEndpoint.srv.URL, false)
	sess := registry.Resolve("")

	directive, err := flow.Begin(sess)
	require.NoError(t, err)
	state := stateFromDirective(t, directive)

	rec := callback(t, flow, "error=access_denied&state="+state)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Authorization Declined")
	assert.Equal(t, session.StateUninitialized, sess.State())
	assert.Zero(t, atomic.LoadInt32(&tokenEndpoint.calls), "no token endpoint call on user denial")
}

func TestCallbackUnknownStateRejected(t *testing.T) {
	tokenEndpoint := newFakeTokenEndpoint(t)
	flow, registry := newTestFlow(t, tokenEndpoint.srv.URL, false)
	sess := registry.Resolve("")

	_, err := flow.Begin(sess)
	require.NoError(t, err)

	rec := callback(t, flow, "code=abc123&state=never-issued")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, session.StateWaitingForAuth, sess.State(),
		"a rejected callback must not mutate any session")
	assert.Zero(t, atomic.LoadInt32(&tokenEndpoint.calls))
}

func TestCallbackReplayedStateIsNoOp(t *testing.T) {
	tokenEndpoint := newFakeTokenEndpoint(t)
	flow, registry := newTestFlow(t, tokenEndpoint.srv.URL, false)
	sess := registry.Resolve("")

	directive, err := flow.Begin(sess)
	require.NoError(t, err)
	state := stateFromDirective(t, directive)

	first := callback(t, flow, "code=abc123&state="+state)
	require.Equal(t, http.StatusOK, first.Code)

	replay := callback(t, flow, "code=abc123&state="+state)

	assert.Equal(t, http.StatusBadRequest, replay.Code)
	assert.EqualValues(t, 1, atomic.LoadInt32(&tokenEndpoint.calls),
		"a replayed callback must never trigger a second exchange")
	assert.Equal(t, session.StateAuthenticated, sess.State())
}

func TestCallbackMissingCodeAndError(t *testing.T) {
	tokenEndpoint := newFakeTokenEndpoint(t)
	flow, registry := newTestFlow(t, tokenEndpoint.srv.URL, false)
	sess := registry.Resolve("")

	directive, err := flow.Begin(sess)
	require.NoError(t, err)
	state := stateFromDirective(t, directive)

	rec := callback(t, flow, "state="+state)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Authorization Failed")
	assert.Equal(t, session.StateUninitialized, sess.State())
	assert.Zero(t, atomic.LoadInt32(&tokenEndpoint.calls))
}

func TestCallbackExchangeFailureReverts(t *testing.T) {
	tokenEndpoint := newFakeTokenEndpoint(t)
	tokenEndpoint.status = http.StatusBadRequest
	tokenEndpoint.response = map[string]interface{}{"error": "invalid_grant"}

	flow, registry := newTestFlow(t, tokenEndpoint.srv.URL, false)
	sess := registry.Resolve("")

	directive, err := flow.Begin(sess)
	require.NoError(t, err)
	state := stateFromDirective(t, directive)

	rec := callback(t, flow, "code=bad&state="+state)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, session.StateUninitialized, sess.State(),
		"failed exchange reverts to uninitialized so the user can retry")
}

func TestPinnedSessionSurvivesSweepDuringAuth(t *testing.T) {
	tokenEndpoint := newFakeTokenEndpoint(t)
	flow, registry := newTestFlow(t, tokenEndpoint.srv.URL, true)
	sess := registry.Resolve("")
	sess.Pin()

	directive, err := flow.Begin(sess)
	require.NoError(t, err)
	state := stateFromDirective(t, directive)

	// Hours of idle time and a sweep must not break the outstanding flow.
	sess.Touch(time.Now().Add(-2 * time.Hour))
	registry.EvictStale(time.Now())

	rec := callback(t, flow, "code=abc123&state="+state)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, session.StateAuthenticated, sess.State())
}

func TestCallbackAfterSessionEvicted(t *testing.T) {
	tokenEndpoint := newFakeTokenEndpoint(t)
	flow, registry := newTestFlow(t, tokenEndpoint.srv.URL, true)
	sess := registry.Resolve("")

	directive, err := flow.Begin(sess)
	require.NoError(t, err)
	state := stateFromDirective(t, directive)

	registry.Remove(sess.ID())

	rec := callback(t, flow, "code=abc123&state="+state)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, atomic.LoadInt32(&tokenEndpoint.calls))

	// The consumed state died with the rejection; the next initialize must
	// mint a fresh URL rather than re-serve the dead one.
	retry, err := flow.Begin(sess)
	require.NoError(t, err)
	assert.NotEqual(t, state, stateFromDirective(t, retry))
}

func TestBeginRecoversAfterPendingDropped(t *testing.T) {
	tokenEndpoint := newFakeTokenEndpoint(t)
	flow, registry := newTestFlow(t, tokenEndpoint.srv.URL, true)
	sess := registry.Resolve("")

	first, err := flow.Begin(sess)
	require.NoError(t, err)
	firstState := stateFromDirective(t, first)

	flow.DropPending(sess.ID())

	second, err := flow.Begin(sess)
	require.NoError(t, err)
	secondState := stateFromDirective(t, second)
	require.NotEqual(t, firstState, secondState)

	rec := callback(t, flow, "code=abc123&state="+secondState)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, session.StateAuthenticated, sess.State())

	dead := callback(t, flow, "code=abc123&state="+firstState)
	assert.Equal(t, http.StatusBadRequest, dead.Code, "dropped states are never exchangeable")
}

type countingListener struct {
	calls int32
}

func (c *countingListener) EnsureStarted() error {
	atomic.AddInt32(&c.calls, 1)
	return nil
}

func TestBeginRevivesListenerOnEveryCall(t *testing.T) {
	tokenEndpoint := newFakeTokenEndpoint(t)
	registry := session.NewRegistry(time.Hour, time.Minute, nil)
	t.Cleanup(registry.Close)

	listener := &countingListener{}
	flow := NewFlow(FlowConfig{
		ClientID:               "client-id",
		ClientSecret:           "client-secret",
		RedirectURI:            "http://127.0.0.1:9877/oauth/callback",
		AuthorizeURL:           "https://goteamup.com/api/auth/authorize",
		TokenURL:               tokenEndpoint.srv.URL,
		SingleAuthorizationURL: true,
		Listener:               listener,
		Registry:               registry,
	})

	sess := registry.Resolve("")
	_, err := flow.Begin(sess)
	require.NoError(t, err)
	_, err = flow.Begin(sess)
	require.NoError(t, err)

	assert.EqualValues(t, 2, atomic.LoadInt32(&listener.calls),
		"the idempotent path must still revive the one-shot listener")
}

func TestRefresh(t *testing.T) {
	tokenEndpoint := newFakeTokenEndpoint(t)
	tokenEndpoint.response = map[string]interface{}{
		"access_token":  "A2",
		"refresh_token": "R2",
		"expires_in":    3600,
		"token_type":    "bearer",
	}

	flow, registry := newTestFlow(t, tokenEndpoint.srv.URL, false)
	sess := registry.Resolve("")
	sess.SetAuthenticated(session.NewOAuthCredential("A1", "R1", 3600))

	cred, err := flow.Refresh(context.Background(), sess)
	require.NoError(t, err)

	assert.Equal(t, "refresh_token", tokenEndpoint.lastForm.Get("grant_type"))
	assert.Equal(t, "R1", tokenEndpoint.lastForm.Get("refresh_token"))
	assert.Equal(t, "A2", cred.AccessToken)
	assert.Equal(t, "R2", cred.RefreshToken)
	assert.Equal(t, "A2", sess.Credential().AccessToken, "credential replaced wholesale on the session")
}

func TestRefreshFailure(t *testing.T) {
	tokenEndpoint := newFakeTokenEndpoint(t)
	tokenEndpoint.status = http.StatusBadRequest
	tokenEndpoint.response = map[string]interface{}{"error": "invalid_grant"}

	flow, registry := newTestFlow(t, tokenEndpoint.srv.URL, false)
	sess := registry.Resolve("")
	sess.SetAuthenticated(session.NewOAuthCredential("A1", "R1", 3600))

	_, err := flow.Refresh(context.Background(), sess)
	assert.ErrorIs(t, err, teamup.ErrRefreshFailed)
}

func TestRefreshWithoutRefreshToken(t *testing.T) {
	tokenEndpoint := newFakeTokenEndpoint(t)
	flow, registry := newTestFlow(t, tokenEndpoint.srv.URL, false)
	sess := registry.Resolve("")
	sess.SetAuthenticated(session.NewOAuthCredential("A1", "", 0))

	_, err := flow.Refresh(context.Background(), sess)
	assert.ErrorIs(t, err, teamup.ErrRefreshFailed)
	assert.Zero(t, atomic.LoadInt32(&tokenEndpoint.calls))
}

func TestStateRoundTrip(t *testing.T) {
	tokenEndpoint := newFakeTokenEndpoint(t)
	flow, registry := newTestFlow(t, tokenEndpoint.srv.URL, false)
	sess := registry.Resolve("")

	directive, err := flow.Begin(sess)
	require.NoError(t, err)
	state := stateFromDirective(t, directive)

	// A callback URL built with the same state yields it back unchanged.
	u, err := url.Parse("http://127.0.0.1:9877/oauth/callback?code=abc&state=" + state)
	require.NoError(t, err)
	assert.Equal(t, state, u.Query().Get("state"))
}

func TestPendingStoreSingleUse(t *testing.T) {
	p := newPendingStore()
	p.add("s1", "sess-1")

	id, ok := p.consume("s1")
	assert.True(t, ok)
	assert.Equal(t, "sess-1", id)

	_, ok = p.consume("s1")
	assert.False(t, ok, "state is valid for exactly one consumption")
}

func TestPendingStoreDropSession(t *testing.T) {
	p := newPendingStore()
	p.add("s1", "sess-1")
	p.add("s2", "sess-1")
	p.add("s3", "sess-2")

	p.dropSession("sess-1")

	_, ok := p.consume("s1")
	assert.False(t, ok)
	_, ok = p.consume("s3")
	assert.True(t, ok)
}

func TestGenerateStateUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		s, err := generateState()
		require.NoError(t, err)
		assert.Len(t, s, 32)
		assert.False(t, seen[s])
		seen[s] = true
	}
}
