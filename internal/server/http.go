package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teamup-mcp/teamup-mcp-server/internal/logging"
	"github.com/teamup-mcp/teamup-mcp-server/internal/session"
)

// HeaderSession is the opaque session-correlation header for the HTTP
// transport. Requests without it (or with an unknown id) get a fresh
// session; the id is echoed on every response so clients can persist it.
const HeaderSession = "X-TeamUp-Session"

// Transport names accepted by the HTTP server.
const (
	TransportSSE            = "sse"
	TransportStreamableHTTP = "streamable-http"
)

type sessionCtxKey struct{}

// WithSession plants a session in the context for downstream handlers.
func WithSession(ctx context.Context, sess *session.Session) context.Context {
	return context.WithValue(ctx, sessionCtxKey{}, sess)
}

// SessionFromContext returns the session planted by the transport, or nil.
func SessionFromContext(ctx context.Context) *session.Session {
	sess, _ := ctx.Value(sessionCtxKey{}).(*session.Session)
	return sess
}

// HTTPServerConfig configures the HTTP transport.
type HTTPServerConfig struct {
	Addr      string
	Transport string

	MCPServer     *mcpserver.MCPServer
	ServerContext *ServerContext
	HealthChecker *HealthChecker

	Logger *slog.Logger
}

// HTTPServer serves the MCP endpoints over SSE or streamable-http together
// with the shared OAuth callback and health endpoints.
type HTTPServer struct {
	addr       string
	transport  string
	sc         *ServerContext
	health     *HealthChecker
	logger     *slog.Logger
	handler    http.Handler
	httpServer *http.Server
}

// NewHTTPServer builds the transport mux for the configured MCP transport.
func NewHTTPServer(cfg HTTPServerConfig) (*HTTPServer, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &HTTPServer{
		addr:      cfg.Addr,
		transport: cfg.Transport,
		sc:        cfg.ServerContext,
		health:    cfg.HealthChecker,
		logger:    logger,
	}

	mux := http.NewServeMux()

	switch cfg.Transport {
	case TransportSSE:
		sse := mcpserver.NewSSEServer(cfg.MCPServer,
			mcpserver.WithSSEEndpoint("/sse"),
			mcpserver.WithMessageEndpoint("/message"),
		)
		mux.Handle("/sse", s.withSession(sse))
		mux.Handle("/message", s.withSession(sse))
	case TransportStreamableHTTP:
		streamable := mcpserver.NewStreamableHTTPServer(cfg.MCPServer,
			mcpserver.WithEndpointPath("/mcp"),
		)
		mux.Handle("/mcp", s.withSession(streamable))
	default:
		return nil, fmt.Errorf("unsupported HTTP transport %q (supported: %s, %s)",
			cfg.Transport, TransportSSE, TransportStreamableHTTP)
	}

	if flow := cfg.ServerContext.Flow(); flow != nil {
		mux.HandleFunc("/oauth/callback", flow.HandleCallback)
	}

	if cfg.HealthChecker != nil {
		cfg.HealthChecker.RegisterHealthEndpoints(mux)
	}

	s.handler = mux
	return s, nil
}

// withSession resolves the request's session from the correlation header,
// echoes the (possibly freshly minted) id back, and plants the session in
// the request context for the tool router.
func (s *HTTPServer) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := s.sc.Registry().Resolve(r.Header.Get(HeaderSession))
		w.Header().Set(HeaderSession, sess.ID())
		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sess)))
	})
}

// Handler returns the server's root handler, mainly for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.handler
}

// Start serves until Shutdown or a listener error. SSE streams are
// long-lived, so no write timeout is set.
func (s *HTTPServer) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("http transport started",
		logging.Transport(s.transport),
		slog.String("addr", s.addr))

	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("shutting down http transport", logging.Transport(s.transport))
	return s.httpServer.Shutdown(ctx)
}
