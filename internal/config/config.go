package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Authentication modes for the upstream TeamUp API.
const (
	AuthModeToken = "token"
	AuthModeOAuth = "oauth"
)

// Request-mode discriminators understood by the upstream API.
const (
	RequestModeProvider = "provider"
	RequestModeCustomer = "customer"
)

// Config holds all environment-based configuration for the gateway.
type Config struct {
	// AuthMode selects how upstream calls are authorized: "token" uses a
	// static server-wide API token, "oauth" runs the authorization-code
	// flow per session.
	AuthMode string `env:"TEAMUP_AUTH_MODE" envDefault:"oauth"`

	// APIToken is the static upstream token (required in token mode).
	APIToken string `env:"TEAMUP_API_TOKEN"`

	// OAuth client settings (required in oauth mode).
	ClientID     string `env:"TEAMUP_CLIENT_ID"`
	ClientSecret string `env:"TEAMUP_CLIENT_SECRET"`
	RedirectURI  string `env:"TEAMUP_REDIRECT_URI"`
	Scope        string `env:"TEAMUP_SCOPE" envDefault:"read_write"`

	// Tenant scoping sent with every upstream call.
	ProviderID  string `env:"TEAMUP_PROVIDER_ID"`
	RequestMode string `env:"TEAMUP_REQUEST_MODE" envDefault:"provider"`

	// Upstream endpoints.
	BaseURL     string `env:"TEAMUP_BASE_URL" envDefault:"https://goteamup.com/api/v2"`
	AuthBaseURL string `env:"TEAMUP_AUTH_BASE_URL" envDefault:"https://goteamup.com"`

	// CallbackPort is the local port the stdio transport binds for the
	// ephemeral OAuth redirect listener.
	CallbackPort int `env:"OAUTH_CALLBACK_PORT" envDefault:"9877"`

	// Session lifecycle. Sessions idle longer than SessionTimeout are
	// evicted by a sweep running every SweepInterval.
	SessionTimeout time.Duration `env:"SESSION_TIMEOUT" envDefault:"1h"`
	SweepInterval  time.Duration `env:"SESSION_SWEEP_INTERVAL" envDefault:"10m"`

	// UpstreamTimeout bounds every upstream HTTP call.
	UpstreamTimeout time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"30s"`

	// LogLevel controls slog verbosity: debug, info, warn, error.
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks mode-dependent required settings. A failure here is the
// one condition under which exiting the process is correct: the gateway
// cannot authorize any upstream call without these.
func (c *Config) Validate() error {
	switch c.AuthMode {
	case AuthModeToken:
		if c.APIToken == "" {
			return fmt.Errorf("TEAMUP_API_TOKEN is required when TEAMUP_AUTH_MODE=token")
		}
	case AuthModeOAuth:
		if c.ClientID == "" {
			return fmt.Errorf("TEAMUP_CLIENT_ID is required when TEAMUP_AUTH_MODE=oauth")
		}
		if c.ClientSecret == "" {
			return fmt.Errorf("TEAMUP_CLIENT_SECRET is required when TEAMUP_AUTH_MODE=oauth")
		}
	default:
		return fmt.Errorf("invalid TEAMUP_AUTH_MODE %q (must be %q or %q)", c.AuthMode, AuthModeToken, AuthModeOAuth)
	}

	if c.RequestMode != RequestModeProvider && c.RequestMode != RequestModeCustomer {
		return fmt.Errorf("invalid TEAMUP_REQUEST_MODE %q (must be %q or %q)", c.RequestMode, RequestModeProvider, RequestModeCustomer)
	}

	if c.CallbackPort <= 0 || c.CallbackPort > 65535 {
		return fmt.Errorf("invalid OAUTH_CALLBACK_PORT %d", c.CallbackPort)
	}

	if c.SessionTimeout <= 0 {
		return fmt.Errorf("SESSION_TIMEOUT must be positive")
	}

	return nil
}

// AuthorizeURL returns the upstream OAuth authorization endpoint.
func (c *Config) AuthorizeURL() string {
	return c.AuthBaseURL + "/api/auth/authorize"
}

// TokenURL returns the upstream OAuth token endpoint.
func (c *Config) TokenURL() string {
	return c.AuthBaseURL + "/api/auth/access_token"
}
