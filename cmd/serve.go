package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teamup-mcp/teamup-mcp-server/internal/auth"
	"github.com/teamup-mcp/teamup-mcp-server/internal/config"
	"github.com/teamup-mcp/teamup-mcp-server/internal/instrumentation"
	"github.com/teamup-mcp/teamup-mcp-server/internal/logging"
	"github.com/teamup-mcp/teamup-mcp-server/internal/server"
	"github.com/teamup-mcp/teamup-mcp-server/internal/session"
	"github.com/teamup-mcp/teamup-mcp-server/internal/teamup"
	"github.com/teamup-mcp/teamup-mcp-server/internal/tools"
)

// TransportStdio is the local single-session transport.
const TransportStdio = "stdio"

// MetricsConfig holds configuration for the metrics server.
type MetricsConfig struct {
	Enabled bool
	Addr    string
}

func newServeCmd() *cobra.Command {
	var (
		debugMode      bool
		transport      string
		httpAddr       string
		yolo           bool
		metricsEnabled bool
		metricsAddr    string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the Model Context Protocol (MCP) server exposing TeamUp tools
for AI assistants.

Supports multiple transport types:
  - stdio: Standard input/output (default), one implicit session
  - sse: Server-Sent Events HTTP transport, multi-session
  - streamable-http: Streamable HTTP transport, multi-session

Safety Mode:
  By default, the server operates in read-only mode, providing only safe
  operations. Use --yolo to enable write operations (creating events,
  registering customers, recording payments, etc.)

Authentication:
  TEAMUP_AUTH_MODE=token uses a server-wide API token (TEAMUP_API_TOKEN).
  TEAMUP_AUTH_MODE=oauth runs the authorization-code flow per session;
  requires TEAMUP_CLIENT_ID and TEAMUP_CLIENT_SECRET. On the stdio
  transport the redirect is received on a local listener
  (OAUTH_CALLBACK_PORT); on HTTP transports set TEAMUP_REDIRECT_URI to
  the public /oauth/callback URL.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr := os.Getenv("METRICS_ADDR"); addr != "" && !cmd.Flags().Changed("metrics-addr") {
				metricsAddr = addr
			}
			if os.Getenv("METRICS_ENABLED") == "false" && !cmd.Flags().Changed("metrics-enabled") {
				metricsEnabled = false
			}
			return runServe(transport, httpAddr, yolo, debugMode, MetricsConfig{
				Enabled: metricsEnabled,
				Addr:    metricsAddr,
			})
		},
	}

	cmd.Flags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&transport, "transport", TransportStdio, "Transport type: stdio, sse or streamable-http")
	cmd.Flags().StringVar(&httpAddr, "http-addr", ":8080", "HTTP server address (for sse and streamable-http transports)")
	cmd.Flags().BoolVar(&yolo, "yolo", false, "Enable write operations (creating events, payments, etc.). Default is read-only mode.")
	cmd.Flags().BoolVar(&metricsEnabled, "metrics-enabled", true, "Enable the metrics server on a dedicated port. Can also use METRICS_ENABLED env var.")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "Metrics server address. Can also use METRICS_ADDR env var.")

	return cmd
}

func runServe(transport, httpAddr string, yolo, debugMode bool, metricsConfig MetricsConfig) error {
	shutdownCtx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := cfg.LogLevel
	if debugMode {
		logLevel = "debug"
	}
	// Logs go to stderr on every transport: on stdio, stdout carries the
	// MCP protocol stream.
	logger := logging.NewLogger(os.Stderr, logLevel)

	instrConfig := instrumentation.DefaultConfig(version)
	provider, err := instrumentation.NewProvider(shutdownCtx, instrConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			logger.Error("instrumentation shutdown failed", logging.Err(err))
		}
	}()

	metrics := provider.Metrics()

	// flow is declared ahead of the registry so the eviction hook can drop
	// pending authorization requests for sessions the sweep removes.
	var (
		flow     *auth.Flow
		listener *auth.CallbackListener
	)

	registry := session.NewRegistry(cfg.SessionTimeout, cfg.SweepInterval, logger,
		session.WithCreationCallback(func() {
			metrics.IncrementActiveSessions(context.Background())
		}),
		session.WithEvictionCallback(func(ids []string) {
			metrics.DecrementActiveSessions(context.Background(), int64(len(ids)))
			if flow != nil {
				for _, id := range ids {
					flow.DropPending(id)
				}
			}
		}),
	)
	defer registry.Close()

	if cfg.AuthMode == config.AuthModeOAuth {
		redirectURI := cfg.RedirectURI
		if redirectURI == "" {
			if transport != TransportStdio {
				return fmt.Errorf("TEAMUP_REDIRECT_URI is required for the %s transport in oauth mode", transport)
			}
			redirectURI = fmt.Sprintf("http://127.0.0.1:%d/oauth/callback", cfg.CallbackPort)
		}

		flowCfg := auth.FlowConfig{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURI:  redirectURI,
			Scope:        cfg.Scope,
			AuthorizeURL: cfg.AuthorizeURL(),
			TokenURL:     cfg.TokenURL(),
			Registry:     registry,
			Logger:       logger,
		}
		if metrics != nil {
			flowCfg.Recorder = metrics
		}
		if transport == TransportStdio {
			// The flow owns the listener but the listener serves the
			// flow's callback handler, so bind through a closure.
			listener = auth.NewCallbackListener(cfg.CallbackPort, "/oauth/callback",
				func(w http.ResponseWriter, r *http.Request) { flow.HandleCallback(w, r) }, logger)
			flowCfg.Listener = listener
			flowCfg.SingleAuthorizationURL = true
		}
		flow = auth.NewFlow(flowCfg)
	}
	if listener != nil {
		defer listener.Close()
	}

	dispCfg := teamup.DispatcherConfig{
		BaseURL:     cfg.BaseURL,
		ProviderID:  cfg.ProviderID,
		RequestMode: cfg.RequestMode,
		Timeout:     cfg.UpstreamTimeout,
		Logger:      logger,
	}
	if cfg.AuthMode == config.AuthModeToken {
		dispCfg.StaticToken = cfg.APIToken
	}
	if flow != nil {
		dispCfg.Refresher = flow
	}
	dispatcher := teamup.NewDispatcher(dispCfg)

	var resolve tools.SessionResolver
	if transport == TransportStdio {
		// One implicit session for the lifetime of the process, pinned so
		// the idle sweep can never evict it out from under the local
		// OAuth flow.
		implicit := registry.Resolve("")
		implicit.Pin()
		resolve = func(context.Context) *session.Session {
			implicit.Touch(time.Now())
			return implicit
		}
	} else {
		resolve = server.SessionFromContext
	}

	routerCfg := tools.RouterConfig{
		Dispatcher: dispatcher,
		Resolve:    resolve,
		StaticMode: cfg.AuthMode == config.AuthModeToken,
		Logger:     logger,
		Tracer:     provider.Tracer("teamup-mcp/tools"),
	}
	if flow != nil {
		routerCfg.Flow = flow
	}
	if metrics != nil {
		routerCfg.Metrics = metrics
	}
	router := tools.NewRouter(routerCfg)

	mcpSrv := mcpserver.NewMCPServer("teamup-mcp", version,
		mcpserver.WithToolCapabilities(true),
	)

	// readOnly is the inverse of yolo
	readOnly := !yolo
	if err := router.Register(mcpSrv, readOnly); err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}

	serverContext := server.NewServerContext(shutdownCtx, server.Dependencies{
		Config:     cfg,
		Registry:   registry,
		Dispatcher: dispatcher,
		Flow:       flow,
		Router:     router,
		Logger:     logger,
	})
	defer func() {
		if err := serverContext.Shutdown(); err != nil {
			logger.Error("server context shutdown failed", logging.Err(err))
		}
	}()

	logger.Info("starting server",
		logging.Transport(transport),
		logging.Operation("serve"),
		logging.AuthState(cfg.AuthMode),
	)
	if transport != TransportStdio && readOnly {
		logger.Info("read-only mode active (use --yolo to enable write operations)")
	}

	switch transport {
	case TransportStdio:
		return runStdioServer(mcpSrv)
	case server.TransportSSE, server.TransportStreamableHTTP:
		return runHTTPServer(shutdownCtx, mcpSrv, serverContext, transport, httpAddr, metricsConfig, provider)
	default:
		return fmt.Errorf("unsupported transport type: %s (supported: stdio, sse, streamable-http)", transport)
	}
}

func runStdioServer(mcpSrv *mcpserver.MCPServer) error {
	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := mcpserver.ServeStdio(mcpSrv); err != nil {
			serverDone <- err
		}
	}()

	err := <-serverDone
	if err != nil {
		return fmt.Errorf("server stopped with error: %w", err)
	}
	return nil
}

func runHTTPServer(ctx context.Context, mcpSrv *mcpserver.MCPServer, sc *server.ServerContext, transport, addr string, metricsConfig MetricsConfig, provider *instrumentation.Provider) error {
	logger := sc.Logger()

	healthChecker := server.NewHealthChecker(sc)

	httpSrv, err := server.NewHTTPServer(server.HTTPServerConfig{
		Addr:          addr,
		Transport:     transport,
		MCPServer:     mcpSrv,
		ServerContext: sc,
		HealthChecker: healthChecker,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	var metricsServer *server.MetricsServer
	if metricsConfig.Enabled && provider.Enabled() && provider.PrometheusHandler() != nil {
		metricsServer, err = server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    metricsConfig.Addr,
			InstrumentationProvider: provider,
		})
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}

		go func() {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", logging.Err(err))
			}
		}()
	}

	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverDone <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping http transport")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		healthChecker.SetReady(false)
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("metrics server shutdown failed", logging.Err(err))
			}
		}
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("error shutting down HTTP server: %w", err)
		}
	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("HTTP server stopped with error: %w", err)
		}
	}

	return nil
}
