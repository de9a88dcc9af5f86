package session

import "time"

// CredentialKind discriminates how a credential was obtained and which
// Authorization scheme upstream expects for it.
type CredentialKind string

const (
	// KindStaticToken is a server-configured or caller-supplied API token.
	// Upstream expects the "Token" scheme for these.
	KindStaticToken CredentialKind = "static-token"

	// KindOAuth is a token pair obtained through the authorization-code
	// flow. Upstream expects the "Bearer" scheme for these.
	KindOAuth CredentialKind = "oauth"
)

// Credential holds the secret material for one principal. A credential is
// immutable once created; refresh replaces it wholesale.
type Credential struct {
	Kind         CredentialKind
	AccessToken  string
	RefreshToken string    // empty means refresh-on-expiry is impossible
	ExpiresAt    time.Time // zero means upstream reported no expiry
}

// NewStaticCredential creates a static-token credential.
func NewStaticCredential(token string) *Credential {
	return &Credential{
		Kind:        KindStaticToken,
		AccessToken: token,
	}
}

// NewOAuthCredential creates an OAuth credential from a token-endpoint
// response. expiresIn is the upstream-reported lifetime in seconds; zero or
// negative means no expiry was reported.
func NewOAuthCredential(accessToken, refreshToken string, expiresIn int64) *Credential {
	c := &Credential{
		Kind:         KindOAuth,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}
	if expiresIn > 0 {
		c.ExpiresAt = time.Now().Add(time.Duration(expiresIn) * time.Second)
	}
	return c
}

// Usable reports whether the credential can authorize a request.
func (c *Credential) Usable() bool {
	return c != nil && c.AccessToken != ""
}

// CanRefresh reports whether a refresh-token grant is possible.
func (c *Credential) CanRefresh() bool {
	return c != nil && c.Kind == KindOAuth && c.RefreshToken != ""
}

// Scheme returns the Authorization header scheme for this credential.
// The upstream API distinguishes static API tokens ("Token") from OAuth
// access tokens ("Bearer"); the distinction is deliberate and per-mode.
func (c *Credential) Scheme() string {
	if c.Kind == KindOAuth {
		return "Bearer"
	}
	return "Token"
}
