package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/teamup-mcp/teamup-mcp-server/internal/logging"
)

// CallbackListener is the ephemeral HTTP listener the stdio transport binds
// to receive the OAuth redirect. It exists solely for that one redirect:
// started at most once, reused across repeated initialize calls, and closed
// after the first callback is served, whatever its outcome.
type CallbackListener struct {
	addr    string
	path    string
	handler http.HandlerFunc
	logger  *slog.Logger

	mu      sync.Mutex
	started bool
	srv     *http.Server
	served  chan struct{}
}

// NewCallbackListener creates a listener bound to 127.0.0.1:port serving
// the callback handler at path.
func NewCallbackListener(port int, path string, handler http.HandlerFunc, logger *slog.Logger) *CallbackListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &CallbackListener{
		addr:    fmt.Sprintf("127.0.0.1:%d", port),
		path:    path,
		handler: handler,
		logger:  logger,
		served:  make(chan struct{}),
	}
}

// EnsureStarted binds the listener if it is not already running. Safe under
// concurrent initialize calls; only the first call binds. After Close, a
// later call binds again, so a fresh initialize after a failed flow gets a
// working listener.
func (l *CallbackListener) EnsureStarted() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.started {
		return nil
	}

	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("binding callback listener on %s: %w", l.addr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(l.path, func(w http.ResponseWriter, r *http.Request) {
		l.handler(w, r)
		// First callback delivery, success or failure, is the
		// listener's entire purpose. Close it in the background once
		// the response is written.
		l.signalServed()
		go l.Close()
	})

	l.srv = &http.Server{Handler: mux}
	l.started = true

	go func() {
		if err := l.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.logger.Error("callback listener stopped",
				logging.Operation("oauth.listener"),
				logging.Err(err))
		}
	}()

	l.logger.Info("callback listener started",
		logging.Operation("oauth.listener"),
		slog.String("addr", l.addr))

	return nil
}

func (l *CallbackListener) signalServed() {
	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-l.served:
	default:
		close(l.served)
	}
}

// Served reports when the first callback has been handled.
func (l *CallbackListener) Served() <-chan struct{} {
	return l.served
}

// Close shuts the listener down. Safe to call on every exit path, running
// or not, any number of times.
func (l *CallbackListener) Close() {
	l.mu.Lock()
	srv := l.srv
	l.srv = nil
	l.started = false
	l.mu.Unlock()

	if srv == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		_ = srv.Close()
	}
}

// Addr returns the listener's bind address.
func (l *CallbackListener) Addr() string {
	return l.addr
}
