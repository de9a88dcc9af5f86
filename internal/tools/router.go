package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/trace"

	"github.com/teamup-mcp/teamup-mcp-server/internal/instrumentation"
	"github.com/teamup-mcp/teamup-mcp-server/internal/logging"
	"github.com/teamup-mcp/teamup-mcp-server/internal/session"
	"github.com/teamup-mcp/teamup-mcp-server/internal/teamup"
)

// Pseudo-tool names handled by the router itself rather than the catalog.
const (
	ToolInitialize = "teamup_initialize"
	ToolSetToken   = "teamup_set_token"
)

// SessionResolver returns the session for the current request. The stdio
// transport resolves a single implicit session; the HTTP transport pulls
// the session planted in the request context by the transport adapter.
type SessionResolver func(ctx context.Context) *session.Session

// Initializer starts the authorization flow for a session. Implemented by
// auth.Flow; nil in static-token mode.
type Initializer interface {
	Begin(sess *session.Session) (string, error)
}

// ToolMetrics receives tool invocation and upstream operation outcomes.
// Implemented by instrumentation.Metrics; nil disables recording. The
// resource passed to RecordAPIOperation is the catalog path template, so
// metric cardinality stays bounded by the catalog size.
type ToolMetrics interface {
	RecordToolInvocation(ctx context.Context, tool, result string, seconds float64)
	RecordAPIOperation(ctx context.Context, method, resource, result string, seconds float64)
}

// RouterConfig configures a Router.
type RouterConfig struct {
	Dispatcher *teamup.Dispatcher
	Flow       Initializer
	Resolve    SessionResolver

	// StaticMode means the server carries a server-wide API token and
	// sessions need no per-session authentication to call entity tools.
	StaticMode bool

	Logger  *slog.Logger
	Metrics ToolMetrics

	// Tracer, when set, opens a span per tool invocation and a child span
	// per upstream round trip.
	Tracer trace.Tracer
}

// Router receives named tool calls, validates authentication state,
// dispatches to the matching catalog entry, and renders every outcome as a
// transport-safe result. Errors never cross the transport boundary raw.
type Router struct {
	dispatcher *teamup.Dispatcher
	flow       Initializer
	resolve    SessionResolver
	staticMode bool
	logger     *slog.Logger
	metrics    ToolMetrics
	tracer     trace.Tracer
}

// NewRouter creates a Router from config.
func NewRouter(cfg RouterConfig) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		dispatcher: cfg.Dispatcher,
		flow:       cfg.Flow,
		resolve:    cfg.Resolve,
		staticMode: cfg.StaticMode,
		logger:     logger,
		metrics:    cfg.Metrics,
		tracer:     cfg.Tracer,
	}
}

// Register adds the pseudo-tools and every catalog entry to the MCP server.
// Write tools are skipped in read-only mode.
func (rt *Router) Register(s *mcpserver.MCPServer, readOnly bool) error {
	initTool := mcp.NewTool(ToolInitialize,
		mcp.WithDescription("Start TeamUp authorization for this session. Returns a URL to open in a browser."),
	)
	s.AddTool(initTool, rt.handler(ToolInitialize))

	setTokenTool := mcp.NewTool(ToolSetToken,
		mcp.WithDescription("Authenticate this session with a TeamUp API token instead of OAuth."),
		mcp.WithString("token",
			mcp.Required(),
			mcp.Description("TeamUp API token"),
		),
	)
	s.AddTool(setTokenTool, rt.handler(ToolSetToken))

	for _, spec := range Catalog() {
		if readOnly && spec.Write {
			continue
		}
		s.AddTool(buildTool(spec), rt.handler(spec.Name))
	}

	return nil
}

// buildTool converts a catalog row into an MCP tool declaration.
func buildTool(spec ToolSpec) mcp.Tool {
	opts := []mcp.ToolOption{mcp.WithDescription(spec.Description)}

	for _, p := range spec.Params {
		var propOpts []mcp.PropertyOption
		if p.Required {
			propOpts = append(propOpts, mcp.Required())
		}
		if p.Description != "" {
			propOpts = append(propOpts, mcp.Description(p.Description))
		}

		switch p.Type {
		case TypeNumber:
			opts = append(opts, mcp.WithNumber(p.Name, propOpts...))
		case TypeBoolean:
			opts = append(opts, mcp.WithBoolean(p.Name, propOpts...))
		default:
			opts = append(opts, mcp.WithString(p.Name, propOpts...))
		}
	}

	return mcp.NewTool(spec.Name, opts...)
}

func (rt *Router) handler(toolName string) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]interface{})
		return rt.Invoke(ctx, toolName, args), nil
	}
}

// Invoke runs one tool call end to end and always returns a structured
// result the assistant can read, never a raw error.
func (rt *Router) Invoke(ctx context.Context, toolName string, args map[string]interface{}) *mcp.CallToolResult {
	start := time.Now()

	var span trace.Span
	if rt.tracer != nil {
		ctx, span = instrumentation.StartToolSpan(ctx, rt.tracer, toolName)
	}

	result, err := rt.invoke(ctx, toolName, args)

	status := logging.StatusSuccess
	if result.IsError {
		status = logging.StatusError
	}
	if rt.metrics != nil {
		rt.metrics.RecordToolInvocation(ctx, toolName, status, time.Since(start).Seconds())
	}

	logArgs := []any{
		logging.Status(status),
		slog.Duration(logging.KeyDuration, time.Since(start)),
	}
	if traceID := instrumentation.TraceIDFromContext(ctx); traceID != "" {
		logArgs = append(logArgs, slog.String("trace_id", traceID))
	}
	logging.WithTool(rt.logger, toolName).Debug("tool invoked", logArgs...)

	if span != nil {
		instrumentation.SetSpanError(span, err)
		span.End()
	}

	return result
}

func (rt *Router) invoke(ctx context.Context, toolName string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	sess := rt.resolve(ctx)
	if sess == nil {
		return mcp.NewToolResultError("no session available for this request"), nil
	}

	// Pseudo-tools run regardless of current auth state.
	switch toolName {
	case ToolInitialize:
		return rt.invokeInitialize(sess)
	case ToolSetToken:
		return rt.invokeSetToken(sess, args), nil
	}

	spec, ok := Lookup(toolName)
	if !ok {
		err := fmt.Errorf("%w: %q", teamup.ErrUnknownTool, toolName)
		return renderError(err), err
	}

	// Auth gating: an unauthenticated session gets the initialize
	// directive and causes zero upstream calls. Static mode carries a
	// server-wide token, so sessions there are implicitly authenticated.
	if !rt.staticMode && sess.State() != session.StateAuthenticated {
		return mcp.NewToolResultText(initializeDirective), nil
	}

	method, path, query, body, err := buildRequest(spec, args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), err
	}

	upstreamCtx := ctx
	var upstreamSpan trace.Span
	if rt.tracer != nil {
		upstreamCtx, upstreamSpan = instrumentation.StartUpstreamSpan(ctx, rt.tracer, method, spec.PathTemplate)
	}

	upstreamStart := time.Now()
	respBody, err := rt.dispatcher.Do(upstreamCtx, sess, method, path, query, body)

	if upstreamSpan != nil {
		instrumentation.SetSpanError(upstreamSpan, err)
		upstreamSpan.End()
	}
	if rt.metrics != nil {
		status := logging.StatusSuccess
		if err != nil {
			status = logging.StatusError
		}
		rt.metrics.RecordAPIOperation(ctx, method, spec.PathTemplate, status, time.Since(upstreamStart).Seconds())
	}
	if err != nil {
		return renderError(err), err
	}

	if len(respBody) == 0 {
		return mcp.NewToolResultText(`{"status":"ok"}`), nil
	}
	return mcp.NewToolResultText(string(respBody)), nil
}

const initializeDirective = `Not authenticated with TeamUp yet.

Call the "teamup_initialize" tool first to start the authorization flow
(or "teamup_set_token" to use an API token directly).`

func (rt *Router) invokeInitialize(sess *session.Session) (*mcp.CallToolResult, error) {
	if rt.flow == nil {
		return mcp.NewToolResultText("This server runs in static token mode; all tool calls are already authenticated."), nil
	}
	directive, err := rt.flow.Begin(sess)
	if err != nil {
		return renderError(err), err
	}
	return mcp.NewToolResultText(directive), nil
}

func (rt *Router) invokeSetToken(sess *session.Session, args map[string]interface{}) *mcp.CallToolResult {
	token, _ := args["token"].(string)
	if token == "" {
		return mcp.NewToolResultError(`missing required argument "token"`)
	}
	sess.SetOverrideToken(token)
	rt.logger.Info("session token set",
		logging.SessionHash(sess.ID()),
		logging.Operation("tools.set_token"),
		slog.String("token", logging.SanitizeToken(token)))
	return mcp.NewToolResultText("API token stored for this session. TeamUp tools are now available.")
}

// buildRequest maps tool arguments into the upstream request per the
// catalog row: path substitution, query filtering of empty values, and
// body passthrough.
func buildRequest(spec ToolSpec, args map[string]interface{}) (method, path string, query url.Values, body interface{}, err error) {
	path = spec.PathTemplate
	query = url.Values{}
	bodyMap := make(map[string]interface{})

	for _, p := range spec.Params {
		raw, present := args[p.Name]
		if !present || raw == nil {
			if p.Required {
				return "", "", nil, nil, fmt.Errorf("missing required argument %q", p.Name)
			}
			continue
		}

		switch p.Location {
		case InPath:
			str := stringifyArg(raw)
			if str == "" {
				return "", "", nil, nil, fmt.Errorf("missing required argument %q", p.Name)
			}
			path = strings.ReplaceAll(path, "{"+p.Name+"}", url.PathEscape(str))
		case InQuery:
			str := stringifyArg(raw)
			if str == "" {
				continue // empty values are filtered, not forwarded
			}
			query.Set(p.Name, str)
		case InBody:
			if str, isStr := raw.(string); isStr && str == "" {
				continue
			}
			bodyMap[p.Name] = raw
		}
	}

	if len(bodyMap) > 0 {
		body = bodyMap
	}
	if len(query) == 0 {
		query = nil
	}
	return spec.Method, path, query, body, nil
}

// stringifyArg renders a JSON argument value for a path or query position.
func stringifyArg(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// renderError converts any dispatcher or routing error into the
// user-facing result shape: a structured, readable explanation with the
// error code and upstream status when available.
func renderError(err error) *mcp.CallToolResult {
	var upErr *teamup.UpstreamError

	switch {
	case errors.Is(err, teamup.ErrUnknownTool):
		return mcp.NewToolResultError(fmt.Sprintf("unknown_tool: %v", err))
	case errors.Is(err, teamup.ErrAuthorizationDenied):
		return mcp.NewToolResultError("authorization_denied: TeamUp rejected the request even after refreshing the token. Re-run teamup_initialize to authenticate again.")
	case errors.Is(err, teamup.ErrRefreshFailed):
		return mcp.NewToolResultError("refresh_failed: the TeamUp session expired and could not be refreshed. Re-run teamup_initialize to authenticate again.")
	case errors.Is(err, teamup.ErrUnauthenticated):
		return mcp.NewToolResultError("unauthenticated: no usable TeamUp credential. " + initializeDirective)
	case errors.Is(err, teamup.ErrTimeout):
		return mcp.NewToolResultError("timeout: the TeamUp API did not respond in time. Try again.")
	case errors.Is(err, teamup.ErrInvalidCallbackState):
		return mcp.NewToolResultError("invalid_callback_state: the authorization callback could not be matched. Re-run teamup_initialize.")
	case errors.As(err, &upErr):
		return mcp.NewToolResultError(fmt.Sprintf("%s (status %d): %s", upErr.Code, upErr.StatusCode, upErr.Payload))
	default:
		return mcp.NewToolResultError(err.Error())
	}
}
