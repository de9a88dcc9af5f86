package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/teamup-mcp/teamup-mcp-server/internal/logging"
	"github.com/teamup-mcp/teamup-mcp-server/internal/session"
	"github.com/teamup-mcp/teamup-mcp-server/internal/teamup"
)

// Recorder receives auth-flow outcomes for instrumentation. Implemented by
// instrumentation.Metrics; a nil Recorder disables recording.
type Recorder interface {
	RecordOAuthFlow(ctx context.Context, result string)
	RecordTokenRefresh(ctx context.Context, result string)
}

// Listener is the one-shot callback listener the stdio transport binds.
// EnsureStarted must be idempotent under concurrent initialize calls.
type Listener interface {
	EnsureStarted() error
}

// FlowConfig configures a Flow.
type FlowConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scope        string
	AuthorizeURL string
	TokenURL     string

	// SingleAuthorizationURL makes Begin idempotent while a session is
	// waiting for its callback: repeated initialize calls return the
	// outstanding URL instead of minting a new one. The stdio transport
	// needs this because the process owns exactly one physical callback
	// listener; the remote transport leaves it off.
	SingleAuthorizationURL bool

	// Listener, when set, is started on the first Begin call (stdio).
	Listener Listener

	Registry *session.Registry
	Logger   *slog.Logger
	Recorder Recorder
}

// Flow drives the authorization-code exchange: it builds authorization
// URLs, receives the redirect callback, exchanges codes for tokens, and
// performs the refresh grant for the dispatcher.
type Flow struct {
	conf      *oauth2.Config
	pending   *pendingStore
	registry  *session.Registry
	logger    *slog.Logger
	recorder  Recorder
	listener  Listener
	singleURL bool
}

// NewFlow creates a Flow. The confidential client's secret is sent only to
// the token endpoint, never to the caller.
func NewFlow(cfg FlowConfig) *Flow {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Flow{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       strings.Fields(cfg.Scope),
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthorizeURL,
				TokenURL: cfg.TokenURL,
				// The upstream token endpoint takes client_id and
				// client_secret as form parameters, not basic auth.
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		pending:   newPendingStore(),
		registry:  cfg.Registry,
		logger:    logger,
		recorder:  cfg.Recorder,
		listener:  cfg.Listener,
		singleURL: cfg.SingleAuthorizationURL,
	}
}

// Begin transitions the session to waiting_for_auth and returns a
// human-readable directive containing the authorization URL. While the
// session is already waiting, behavior depends on the transport: the stdio
// flow returns the outstanding URL (one listener, one URL), the remote flow
// issues a fresh one.
func (f *Flow) Begin(sess *session.Session) (string, error) {
	if sess.State() == session.StateAuthenticated {
		return "Already authenticated. You can call TeamUp tools directly.", nil
	}

	// The listener binds (or rebinds after its one-shot close) before any
	// URL is handed out, so every returned URL has a live listener.
	if f.listener != nil {
		if err := f.listener.EnsureStarted(); err != nil {
			return "", fmt.Errorf("starting callback listener: %w", err)
		}
	}

	if f.singleURL && sess.State() == session.StateWaitingForAuth {
		// Only return the outstanding URL while its state is still
		// pending; a consumed or dropped state means the URL is dead and
		// a retry needs a fresh one.
		if url := sess.PendingAuthURL(); url != "" && f.pending.hasSession(sess.ID()) {
			return authDirective(url, true), nil
		}
	}

	state, err := generateState()
	if err != nil {
		return "", err
	}

	f.pending.add(state, sess.ID())
	authURL := f.conf.AuthCodeURL(state)
	sess.BeginAuth(authURL)

	f.logger.Info("authorization flow started",
		logging.SessionHash(sess.ID()),
		logging.Operation("oauth.begin"))

	return authDirective(authURL, false), nil
}

func authDirective(authURL string, outstanding bool) string {
	if outstanding {
		return fmt.Sprintf(`An authorization request is already in progress.

Open this URL in your browser to finish authenticating with TeamUp:

%s

Once you approve access, the browser will confirm and you can call TeamUp tools.`, authURL)
	}
	return fmt.Sprintf(`To authorize access to TeamUp:

1. Open this URL in your browser:
   %s

2. Sign in and approve access.

After the browser confirms, call TeamUp tools normally. Authorization is
kept in memory for this server process only.`, authURL)
}

// HandleCallback receives the OAuth redirect. It is the last leg of a real
// browser navigation, so both outcomes render small self-contained HTML
// pages rather than JSON. A callback with an unrecognized or already
// consumed state is rejected without mutating any session.
func (f *Flow) HandleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	state := query.Get("state")
	code := query.Get("code")
	errParam := query.Get("error")

	if state == "" {
		f.record(r.Context(), logging.StatusError)
		renderCallbackPage(w, http.StatusBadRequest, "Authorization Failed",
			"The callback is missing its state parameter. Start the authorization again from your assistant.")
		return
	}

	sessionID, ok := f.pending.consume(state)
	if !ok {
		f.logger.Warn("callback with unknown or consumed state",
			logging.Operation("oauth.callback"),
			logging.Err(teamup.ErrInvalidCallbackState))
		f.record(r.Context(), logging.StatusError)
		renderCallbackPage(w, http.StatusBadRequest, "Authorization Failed",
			"This authorization link has expired or was already used. Start the authorization again from your assistant.")
		return
	}

	sess, ok := f.registry.Get(sessionID)
	if !ok {
		f.record(r.Context(), logging.StatusError)
		renderCallbackPage(w, http.StatusBadRequest, "Authorization Failed",
			"The session that requested authorization no longer exists. Start the authorization again from your assistant.")
		return
	}

	logger := logging.WithSession(f.logger, sess.ID())

	if errParam != "" {
		sess.Demote()
		logger.Info("authorization denied by user",
			logging.Operation("oauth.callback"),
			slog.String("oauth_error", errParam))
		f.record(r.Context(), logging.StatusError)
		renderCallbackPage(w, http.StatusOK, "Authorization Declined",
			"Access was not granted. You can close this tab and retry from your assistant.")
		return
	}

	if code == "" {
		// Neither code nor error: a malformed callback, not a crash.
		sess.Demote()
		f.record(r.Context(), logging.StatusError)
		renderCallbackPage(w, http.StatusBadRequest, "Authorization Failed",
			"The callback carried no authorization code. Start the authorization again from your assistant.")
		return
	}

	token, err := f.conf.Exchange(r.Context(), code)
	if err != nil {
		// Revert to uninitialized, not waiting_for_auth, so the user
		// can retry instead of being stuck.
		sess.Demote()
		logger.Error("code exchange failed",
			logging.Operation("oauth.exchange"),
			logging.Err(err))
		f.record(r.Context(), logging.StatusError)
		renderCallbackPage(w, http.StatusBadGateway, "Authorization Failed",
			"Exchanging the authorization code with TeamUp failed. You can close this tab and retry from your assistant.")
		return
	}

	sess.SetAuthenticated(credentialFromToken(token))
	logger.Info("session authenticated",
		logging.Operation("oauth.exchange"),
		logging.Status(logging.StatusSuccess))
	f.record(r.Context(), logging.StatusSuccess)

	renderCallbackPage(w, http.StatusOK, "Authorization Complete",
		"TeamUp access has been granted. You can close this tab and return to your assistant.")
}

// Refresh exchanges the session's refresh token for a new token pair and
// installs the resulting credential on the session. Implements
// teamup.TokenRefresher.
func (f *Flow) Refresh(ctx context.Context, sess *session.Session) (*session.Credential, error) {
	cred := sess.Credential()
	if !cred.CanRefresh() {
		return nil, fmt.Errorf("session has no refresh token: %w", teamup.ErrRefreshFailed)
	}

	// Seeding an already-expired token forces TokenSource to hit the
	// token endpoint with the refresh grant immediately.
	src := f.conf.TokenSource(ctx, &oauth2.Token{
		RefreshToken: cred.RefreshToken,
		Expiry:       time.Unix(1, 0),
	})

	token, err := src.Token()
	if err != nil {
		if f.recorder != nil {
			f.recorder.RecordTokenRefresh(ctx, logging.StatusError)
		}
		return nil, fmt.Errorf("%w: %v", teamup.ErrRefreshFailed, err)
	}

	newCred := credentialFromToken(token)
	sess.SetAuthenticated(newCred)

	f.logger.Info("token refreshed",
		logging.SessionHash(sess.ID()),
		logging.Operation("oauth.refresh"),
		logging.Status(logging.StatusSuccess))
	if f.recorder != nil {
		f.recorder.RecordTokenRefresh(ctx, logging.StatusSuccess)
	}

	return newCred, nil
}

// DropPending discards any outstanding authorization requests for a
// session, e.g. when the registry evicts it.
func (f *Flow) DropPending(sessionID string) {
	f.pending.dropSession(sessionID)
}

func (f *Flow) record(ctx context.Context, result string) {
	if f.recorder != nil {
		f.recorder.RecordOAuthFlow(ctx, result)
	}
}

func credentialFromToken(token *oauth2.Token) *session.Credential {
	cred := &session.Credential{
		Kind:         session.KindOAuth,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}
	if !token.Expiry.IsZero() {
		cred.ExpiresAt = token.Expiry
	}
	return cred
}
