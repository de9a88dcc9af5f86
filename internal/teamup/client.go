package teamup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/teamup-mcp/teamup-mcp-server/internal/logging"
	"github.com/teamup-mcp/teamup-mcp-server/internal/session"
)

// Tenant-scoping headers sent with every upstream call.
const (
	HeaderProviderID  = "TeamUp-Provider-ID"
	HeaderRequestMode = "TeamUp-Request-Mode"
)

// TokenRefresher exchanges a session's refresh token for a new credential
// and installs it on the session. Implemented by the OAuth flow controller.
type TokenRefresher interface {
	Refresh(ctx context.Context, sess *session.Session) (*session.Credential, error)
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	// BaseURL is the upstream API root, e.g. https://goteamup.com/api/v2.
	BaseURL string

	// ProviderID and RequestMode scope every call to a tenant and a
	// request perspective ("provider" or "customer").
	ProviderID  string
	RequestMode string

	// StaticToken is the server-wide API token (token mode). Lowest
	// credential precedence.
	StaticToken string

	// Timeout bounds every upstream call. Zero means 30 seconds.
	Timeout time.Duration

	// Refresher handles refresh-on-401. Nil disables refresh.
	Refresher TokenRefresher

	// HTTPClient overrides the transport, mainly for tests. Its Timeout
	// is set from Timeout when zero.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// Dispatcher wraps every upstream call: it injects exactly one credential
// header per call, retries exactly once after a successful token refresh on
// a 401, and maps all other failures to typed errors.
type Dispatcher struct {
	baseURL     string
	providerID  string
	requestMode string
	staticToken string
	refresher   TokenRefresher
	httpClient  *http.Client
	logger      *slog.Logger

	// refreshGroup collapses concurrent refreshes for the same session
	// into one token-endpoint call; concurrent 401 handlers await the
	// in-flight result instead of issuing duplicates.
	refreshGroup singleflight.Group
}

// NewDispatcher creates a Dispatcher from config.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if httpClient.Timeout == 0 {
		httpClient.Timeout = timeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		providerID:  cfg.ProviderID,
		requestMode: cfg.RequestMode,
		staticToken: cfg.StaticToken,
		refresher:   cfg.Refresher,
		httpClient:  httpClient,
		logger:      logger,
	}
}

// Do issues an authenticated upstream call for the session and returns the
// raw response body. Non-2xx responses, timeouts, and auth failures come
// back as the package's typed errors, never as raw transport errors.
func (d *Dispatcher) Do(ctx context.Context, sess *session.Session, method, path string, query url.Values, body interface{}) ([]byte, error) {
	cred, err := d.selectCredential(sess)
	if err != nil {
		return nil, err
	}

	respBody, status, err := d.issue(ctx, cred, method, path, query, body)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized {
		return d.handleUnauthorized(ctx, sess, cred, method, path, query, body, respBody)
	}

	if status < 200 || status >= 300 {
		return nil, NewUpstreamError(status, string(respBody))
	}

	return respBody, nil
}

// selectCredential picks exactly one credential by precedence:
// per-session override token > session OAuth credential > server-wide
// static token. Fails fast when none is available.
func (d *Dispatcher) selectCredential(sess *session.Session) (*session.Credential, error) {
	if tok := sess.OverrideToken(); tok != "" {
		return session.NewStaticCredential(tok), nil
	}
	if cred := sess.Credential(); cred.Usable() {
		return cred, nil
	}
	if d.staticToken != "" {
		return session.NewStaticCredential(d.staticToken), nil
	}
	return nil, fmt.Errorf("no usable credential for session: %w", ErrUnauthenticated)
}

func (d *Dispatcher) handleUnauthorized(ctx context.Context, sess *session.Session, cred *session.Credential, method, path string, query url.Values, body interface{}, respBody []byte) ([]byte, error) {
	if d.refresher == nil || !cred.CanRefresh() {
		// Expired OAuth credentials without a refresh token are
		// terminal; the session must re-authenticate from scratch.
		if cred.Kind == session.KindOAuth {
			sess.Demote()
		}
		return nil, fmt.Errorf("upstream rejected credential (status 401): %w", ErrUnauthenticated)
	}

	newCred, err := d.refreshOnce(ctx, sess)
	if err != nil {
		sess.Demote()
		return nil, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}

	d.logger.Info("retrying after token refresh",
		logging.SessionHash(sess.ID()),
		logging.Operation("dispatcher.retry"))

	respBody, status, err := d.issue(ctx, newCred, method, path, query, body)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized {
		// A second 401 after a successful refresh is terminal. No
		// further retries: demote and surface the denial.
		sess.Demote()
		return nil, fmt.Errorf("upstream rejected refreshed credential: %w", ErrAuthorizationDenied)
	}

	if status < 200 || status >= 300 {
		return nil, NewUpstreamError(status, string(respBody))
	}

	return respBody, nil
}

// refreshOnce runs the refresh sub-flow through a per-session singleflight
// so a second concurrent 401 awaits the in-flight refresh instead of
// issuing a duplicate token-endpoint call.
func (d *Dispatcher) refreshOnce(ctx context.Context, sess *session.Session) (*session.Credential, error) {
	v, err, _ := d.refreshGroup.Do(sess.ID(), func() (interface{}, error) {
		return d.refresher.Refresh(ctx, sess)
	})
	if err != nil {
		return nil, err
	}
	return v.(*session.Credential), nil
}

// issue performs one upstream HTTP round trip with the given credential.
// It returns the response body and status, or a typed error for transport
// failures.
func (d *Dispatcher) issue(ctx context.Context, cred *session.Credential, method, path string, query url.Values, body interface{}) ([]byte, int, error) {
	reqURL := d.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("encoding request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("building upstream request: %w", err)
	}

	req.Header.Set("Authorization", cred.Scheme()+" "+cred.AccessToken)
	req.Header.Set("Accept", "application/json")
	if d.providerID != "" {
		req.Header.Set(HeaderProviderID, d.providerID)
	}
	if d.requestMode != "" {
		req.Header.Set(HeaderRequestMode, d.requestMode)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, 0, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, 0, fmt.Errorf("upstream request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("reading upstream response: %w", err)
	}

	return respBody, resp.StatusCode, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return true
	}
	return false
}
