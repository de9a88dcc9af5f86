package teamup

import (
	"errors"
	"fmt"
)

// Sentinel errors for auth and routing failures. Callers match these with
// errors.Is; UpstreamError carries upstream diagnostics and is matched with
// errors.As.
var (
	// ErrUnauthenticated indicates no usable credential is available for
	// the session, or upstream rejected the credential terminally.
	ErrUnauthenticated = errors.New("not authenticated")

	// ErrAuthorizationDenied indicates upstream rejected the request even
	// after a successful token refresh.
	ErrAuthorizationDenied = errors.New("authorization denied by upstream")

	// ErrRefreshFailed indicates the refresh token itself was rejected;
	// the session is demoted and must re-authenticate.
	ErrRefreshFailed = errors.New("token refresh failed")

	// ErrUnknownTool indicates a tool name with no catalog entry.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrTimeout indicates the upstream call exceeded its deadline.
	ErrTimeout = errors.New("upstream request timed out")

	// ErrInvalidCallbackState indicates an OAuth callback carrying an
	// unknown, replayed, or malformed state correlator.
	ErrInvalidCallbackState = errors.New("invalid or already consumed callback state")
)

// UpstreamError represents a non-2xx response from the TeamUp API.
type UpstreamError struct {
	StatusCode int    // HTTP status returned by upstream
	Code       string // error code token, e.g. "upstream_error"
	Payload    string // raw upstream error body, kept for diagnostics
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	if e.Payload == "" {
		return fmt.Sprintf("%s: upstream returned status %d", e.Code, e.StatusCode)
	}
	return fmt.Sprintf("%s: upstream returned status %d: %s", e.Code, e.StatusCode, e.Payload)
}

// NewUpstreamError creates an UpstreamError for the given status and body.
func NewUpstreamError(status int, payload string) *UpstreamError {
	return &UpstreamError{
		StatusCode: status,
		Code:       "upstream_error",
		Payload:    payload,
	}
}
