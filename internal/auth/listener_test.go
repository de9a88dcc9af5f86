package auth

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// freePort grabs an ephemeral port for the listener under test.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func waitForListener(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			_ = conn.Close()
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("listener %s never came up", addr)
}

func TestEnsureStartedIdempotent(t *testing.T) {
	port := freePort(t)
	l := NewCallbackListener(port, "/oauth/callback", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}, nil)
	t.Cleanup(l.Close)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = l.EnsureStarted()
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err, "concurrent initialize calls share one listener")
	}
}

func TestListenerClosesAfterFirstCallback(t *testing.T) {
	port := freePort(t)
	l := NewCallbackListener(port, "/oauth/callback", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("done"))
	}, nil)
	t.Cleanup(l.Close)

	require.NoError(t, l.EnsureStarted())
	waitForListener(t, l.Addr())

	resp, err := http.Get(fmt.Sprintf("http://%s/oauth/callback?code=x&state=y", l.Addr()))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case <-l.Served():
	case <-time.After(2 * time.Second):
		t.Fatal("listener never reported the callback as served")
	}

	// The port is released shortly after the first callback.
	deadline := time.Now().Add(2 * time.Second)
	for {
		_, err := http.Get(fmt.Sprintf("http://%s/oauth/callback", l.Addr()))
		if err != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("listener still accepting connections after first callback")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestListenerCloseWithoutStart(t *testing.T) {
	l := NewCallbackListener(freePort(t), "/oauth/callback", func(w http.ResponseWriter, r *http.Request) {}, nil)
	l.Close()
	l.Close()
}

func TestListenerRestartsAfterClose(t *testing.T) {
	port := freePort(t)
	l := NewCallbackListener(port, "/oauth/callback", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}, nil)
	t.Cleanup(l.Close)

	require.NoError(t, l.EnsureStarted())
	l.Close()
	require.NoError(t, l.EnsureStarted(), "a fresh initialize after a failed flow rebinds the listener")
}
