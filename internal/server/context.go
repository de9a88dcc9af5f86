package server

import (
	"context"
	"log/slog"
	"sync"

	"github.com/teamup-mcp/teamup-mcp-server/internal/auth"
	"github.com/teamup-mcp/teamup-mcp-server/internal/config"
	"github.com/teamup-mcp/teamup-mcp-server/internal/session"
	"github.com/teamup-mcp/teamup-mcp-server/internal/teamup"
	"github.com/teamup-mcp/teamup-mcp-server/internal/tools"
)

// Dependencies carries the wired components a ServerContext owns.
type Dependencies struct {
	Config     *config.Config
	Registry   *session.Registry
	Dispatcher *teamup.Dispatcher
	Flow       *auth.Flow
	Router     *tools.Router
	Logger     *slog.Logger
}

// ServerContext holds the running gateway's components and its shutdown
// lifecycle. Transports and handlers reach shared state through it instead
// of package globals.
type ServerContext struct {
	ctx    context.Context
	cancel context.CancelFunc

	cfg        *config.Config
	registry   *session.Registry
	dispatcher *teamup.Dispatcher
	flow       *auth.Flow
	router     *tools.Router
	logger     *slog.Logger

	mu       sync.RWMutex
	shutdown bool
}

// NewServerContext creates a server context bound to ctx.
func NewServerContext(ctx context.Context, deps Dependencies) *ServerContext {
	shutdownCtx, cancel := context.WithCancel(ctx)

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &ServerContext{
		ctx:        shutdownCtx,
		cancel:     cancel,
		cfg:        deps.Config,
		registry:   deps.Registry,
		dispatcher: deps.Dispatcher,
		flow:       deps.Flow,
		router:     deps.Router,
		logger:     logger,
	}
}

// Context returns the server's shutdown-scoped context.
func (sc *ServerContext) Context() context.Context {
	return sc.ctx
}

// Config returns the loaded configuration.
func (sc *ServerContext) Config() *config.Config {
	return sc.cfg
}

// Registry returns the session registry.
func (sc *ServerContext) Registry() *session.Registry {
	return sc.registry
}

// Dispatcher returns the upstream request dispatcher.
func (sc *ServerContext) Dispatcher() *teamup.Dispatcher {
	return sc.dispatcher
}

// Flow returns the OAuth flow controller, or nil in static token mode.
func (sc *ServerContext) Flow() *auth.Flow {
	return sc.flow
}

// Router returns the tool invocation router.
func (sc *ServerContext) Router() *tools.Router {
	return sc.router
}

// Logger returns the context's logger.
func (sc *ServerContext) Logger() *slog.Logger {
	return sc.logger
}

// IsShutdown reports whether Shutdown has been called.
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

// Shutdown stops the session registry sweep and cancels the server context.
// Safe to call more than once.
func (sc *ServerContext) Shutdown() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.shutdown {
		return nil
	}
	sc.shutdown = true

	if sc.registry != nil {
		sc.registry.Close()
	}
	sc.cancel()
	return nil
}
