package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStateTransitions(t *testing.T) {
	s := newSession("id-1", time.Now())
	assert.Equal(t, StateUninitialized, s.State())
	assert.Nil(t, s.Credential())

	s.BeginAuth("https://example.com/authorize?state=xyz")
	assert.Equal(t, StateWaitingForAuth, s.State())
	assert.Equal(t, "https://example.com/authorize?state=xyz", s.PendingAuthURL())

	cred := NewOAuthCredential("A", "R", 3600)
	s.SetAuthenticated(cred)
	assert.Equal(t, StateAuthenticated, s.State())
	require.NotNil(t, s.Credential())
	assert.Equal(t, "A", s.Credential().AccessToken)
	assert.Empty(t, s.PendingAuthURL(), "pending URL cleared once authenticated")

	s.Demote()
	assert.Equal(t, StateUninitialized, s.State())
	assert.Nil(t, s.Credential())
}

func TestSessionOverrideToken(t *testing.T) {
	s := newSession("id-2", time.Now())

	s.SetOverrideToken("tok")
	assert.Equal(t, StateAuthenticated, s.State(), "override token alone authenticates")
	assert.Equal(t, "tok", s.OverrideToken())
}

func TestCredentialScheme(t *testing.T) {
	assert.Equal(t, "Token", NewStaticCredential("T").Scheme())
	assert.Equal(t, "Bearer", NewOAuthCredential("A", "R", 0).Scheme())
}

func TestCredentialCanRefresh(t *testing.T) {
	assert.True(t, NewOAuthCredential("A", "R", 0).CanRefresh())
	assert.False(t, NewOAuthCredential("A", "", 0).CanRefresh())
	assert.False(t, NewStaticCredential("T").CanRefresh())

	var nilCred *Credential
	assert.False(t, nilCred.CanRefresh())
	assert.False(t, nilCred.Usable())
}

func TestCredentialExpiry(t *testing.T) {
	withExpiry := NewOAuthCredential("A", "R", 3600)
	assert.False(t, withExpiry.ExpiresAt.IsZero())
	assert.WithinDuration(t, time.Now().Add(time.Hour), withExpiry.ExpiresAt, 5*time.Second)

	noExpiry := NewOAuthCredential("A", "R", 0)
	assert.True(t, noExpiry.ExpiresAt.IsZero())
}

func newTestRegistry(t *testing.T, timeout time.Duration) *Registry {
	t.Helper()
	r := NewRegistry(timeout, time.Minute, nil)
	t.Cleanup(r.Close)
	return r
}

func TestRegistryResolve(t *testing.T) {
	r := newTestRegistry(t, time.Hour)

	s1 := r.Resolve("")
	require.NotNil(t, s1)
	assert.NotEmpty(t, s1.ID())
	assert.Equal(t, StateUninitialized, s1.State())

	// Known id returns the same session.
	s2 := r.Resolve(s1.ID())
	assert.Same(t, s1, s2)

	// Unknown id mints a fresh session with a fresh id.
	s3 := r.Resolve("never-issued")
	assert.NotEqual(t, s1.ID(), s3.ID())
	assert.Equal(t, 2, r.Len())
}

func TestRegistryResolveRefreshesLastAccess(t *testing.T) {
	r := newTestRegistry(t, time.Hour)

	s := r.Resolve("")
	before := s.LastAccess()
	time.Sleep(10 * time.Millisecond)

	r.Resolve(s.ID())
	assert.True(t, s.LastAccess().After(before))
}

func TestRegistryEvictStale(t *testing.T) {
	r := newTestRegistry(t, time.Hour)

	stale := r.Resolve("")
	fresh := r.Resolve("")
	stale.Touch(time.Now().Add(-2 * time.Hour))

	evicted := r.EvictStale(time.Now())
	assert.Equal(t, 1, evicted)

	_, ok := r.Get(stale.ID())
	assert.False(t, ok, "stale session must be gone after sweep")
	_, ok = r.Get(fresh.ID())
	assert.True(t, ok, "fresh session must survive the sweep")
}

func TestRegistryEvictionCallback(t *testing.T) {
	var gotIDs []string
	r := NewRegistry(time.Hour, time.Minute, nil, WithEvictionCallback(func(ids []string) {
		gotIDs = ids
	}))
	t.Cleanup(r.Close)

	s := r.Resolve("")
	s.Touch(time.Now().Add(-2 * time.Hour))
	r.EvictStale(time.Now())

	assert.Equal(t, []string{s.ID()}, gotIDs)
}

func TestRegistryPinnedSessionSurvivesSweep(t *testing.T) {
	r := newTestRegistry(t, time.Hour)

	pinned := r.Resolve("")
	pinned.Pin()
	pinned.Touch(time.Now().Add(-48 * time.Hour))

	evicted := r.EvictStale(time.Now())
	assert.Zero(t, evicted)

	got, ok := r.Get(pinned.ID())
	require.True(t, ok, "pinned session must outlive any idle period")
	assert.Same(t, pinned, got)
}

func TestRegistryCreationCallback(t *testing.T) {
	var created int
	r := NewRegistry(time.Hour, time.Minute, nil, WithCreationCallback(func() {
		created++
	}))
	t.Cleanup(r.Close)

	s := r.Resolve("")
	r.Resolve(s.ID())
	r.Resolve("never-issued")

	assert.Equal(t, 2, created, "only minted sessions fire the callback")
}

func TestRegistryRemove(t *testing.T) {
	r := newTestRegistry(t, time.Hour)

	s := r.Resolve("")
	r.Remove(s.ID())

	_, ok := r.Get(s.ID())
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
}

func TestRegistryConcurrentResolve(t *testing.T) {
	r := newTestRegistry(t, time.Hour)

	done := make(chan struct{})
	for i := 0; i < 16; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 100; j++ {
				s := r.Resolve("")
				r.Resolve(s.ID())
			}
		}()
	}
	for i := 0; i < 16; i++ {
		<-done
	}

	assert.Equal(t, 1600, r.Len())
}
