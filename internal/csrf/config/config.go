package config

import (
	"net/http"
	"time"

	"github.com/spf13/viper"
)

// Config holds CSRF token and cookie configuration.
type Config struct {
	// TokenBytes is the number of random bytes per token before encoding.
	TokenBytes int
	// Expiry is the default token lifetime.
	Expiry time.Duration
	// RetainExpired keeps records past expiry so late requests are reported
	// as token_expired rather than token_not_found. The sweep removes them.
	RetainExpired time.Duration

	CookieName string
	HeaderName string
	// FormField carries the token in form posts as the primary token.
	FormField string
	// SessionCookie names the cookie whose value binds a token to a session.
	SessionCookie string
	CookiePath    string
	CookieSecure  bool

	// Context binding toggles. A value missing on either side is never a mismatch.
	BindIP        bool
	BindUserAgent bool

	// StoreTimeout bounds each counter store call.
	StoreTimeout time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() *Config {
	return &Config{
		TokenBytes:    32,
		Expiry:        time.Hour,
		RetainExpired: 5 * time.Minute,
		CookieName:    "csrf_token",
		HeaderName:    "X-CSRF-Token",
		FormField:     "csrf_token",
		SessionCookie: "session_id",
		CookiePath:    "/",
		CookieSecure:  true,
		BindIP:        true,
		BindUserAgent: true,
		StoreTimeout:  250 * time.Millisecond,
	}
}

// ProtectedMethod reports whether requests with method must carry a token.
func ProtectedMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// ApplyViper overrides defaults from the "csrf" key, e.g. AUTHGUARD_CSRF_EXPIRY.
func (c *Config) ApplyViper(v *viper.Viper) {
	if v.IsSet("csrf.token_bytes") {
		c.TokenBytes = v.GetInt("csrf.token_bytes")
	}
	if v.IsSet("csrf.expiry") {
		c.Expiry = v.GetDuration("csrf.expiry")
	}
	if v.IsSet("csrf.retain_expired") {
		c.RetainExpired = v.GetDuration("csrf.retain_expired")
	}
	if v.IsSet("csrf.cookie_name") {
		c.CookieName = v.GetString("csrf.cookie_name")
	}
	if v.IsSet("csrf.header_name") {
		c.HeaderName = v.GetString("csrf.header_name")
	}
	if v.IsSet("csrf.cookie_secure") {
		c.CookieSecure = v.GetBool("csrf.cookie_secure")
	}
	if v.IsSet("csrf.bind_ip") {
		c.BindIP = v.GetBool("csrf.bind_ip")
	}
	if v.IsSet("csrf.bind_user_agent") {
		c.BindUserAgent = v.GetBool("csrf.bind_user_agent")
	}
	if v.IsSet("store_timeout") {
		c.StoreTimeout = v.GetDuration("store_timeout")
	}
}
