package config

import (
	"net/http"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 32, cfg.TokenBytes)
	assert.Equal(t, time.Hour, cfg.Expiry)
	assert.Equal(t, "X-CSRF-Token", cfg.HeaderName)
	assert.True(t, cfg.CookieSecure)
	assert.True(t, cfg.BindIP)
	assert.True(t, cfg.BindUserAgent)
}

func TestApplyViper(t *testing.T) {
	v := viper.New()
	v.Set("csrf.expiry", "15m")
	v.Set("csrf.cookie_secure", false)
	v.Set("csrf.bind_ip", false)
	v.Set("store_timeout", "100ms")

	cfg := DefaultConfig()
	cfg.ApplyViper(v)

	require.Equal(t, 15*time.Minute, cfg.Expiry)
	assert.False(t, cfg.CookieSecure)
	assert.False(t, cfg.BindIP)
	assert.True(t, cfg.BindUserAgent, "unset keys keep defaults")
	assert.Equal(t, 100*time.Millisecond, cfg.StoreTimeout)
	assert.Equal(t, 32, cfg.TokenBytes)
}

func TestProtectedMethod(t *testing.T) {
	for _, m := range []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		assert.True(t, ProtectedMethod(m), m)
	}
	for _, m := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		assert.False(t, ProtectedMethod(m), m)
	}
}
