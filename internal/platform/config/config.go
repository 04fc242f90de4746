package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces every environment variable read by the service,
// e.g. AUTHGUARD_REDIS_URL or AUTHGUARD_RATELIMIT_IP_MAX.
const EnvPrefix = "AUTHGUARD"

// Server captures process-level configuration.
type Server struct {
	Addr           string
	Environment    string
	LogLevel       string
	AdminToken     string
	TrustedProxies []netip.Prefix
	Redis          RedisConfig

	// UpstreamURL, when set, is proxied under /api behind the guards.
	UpstreamURL string
	// UserHeader carries the user ID asserted by the upstream auth layer.
	UserHeader string

	// StoreTimeout bounds every counter store round-trip made by a guard.
	StoreTimeout time.Duration
	// RequestTimeout bounds whole HTTP requests.
	RequestTimeout time.Duration

	CSRFSweepInterval time.Duration
	PoolStatsInterval time.Duration
}

// RedisConfig configures the shared counter store connection.
// An empty URL selects the in-memory store (single instance only).
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// New builds a viper instance bound to AUTHGUARD_* environment variables with
// defaults applied. When path is non-empty the file is read first and
// environment variables still take precedence.
//
// A .env file in the working directory is loaded into the environment first
// when present; variables already set are not overridden.
func New(path string) (*viper.Viper, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":8080")
	v.SetDefault("environment", "dev")
	v.SetDefault("log_level", "info")
	v.SetDefault("admin_token", "")
	v.SetDefault("trusted_proxies", []string{})
	v.SetDefault("upstream_url", "")
	v.SetDefault("user_header", "X-Authenticated-User")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", "2s")
	v.SetDefault("redis.read_timeout", "500ms")
	v.SetDefault("redis.write_timeout", "500ms")

	v.SetDefault("store_timeout", "250ms")
	v.SetDefault("request_timeout", "10s")
	v.SetDefault("csrf_sweep_interval", "15m")
	v.SetDefault("pool_stats_interval", "15s")
}

// FromViper materializes the Server config. Invalid trusted proxy prefixes
// are reported rather than silently dropped.
func FromViper(v *viper.Viper) (Server, error) {
	proxies, err := parsePrefixes(v.GetStringSlice("trusted_proxies"))
	if err != nil {
		return Server{}, err
	}

	cfg := Server{
		Addr:           v.GetString("addr"),
		Environment:    v.GetString("environment"),
		LogLevel:       v.GetString("log_level"),
		AdminToken:     v.GetString("admin_token"),
		TrustedProxies: proxies,
		UpstreamURL:    v.GetString("upstream_url"),
		UserHeader:     v.GetString("user_header"),
		Redis: RedisConfig{
			URL:          v.GetString("redis.url"),
			PoolSize:     v.GetInt("redis.pool_size"),
			MinIdleConns: v.GetInt("redis.min_idle_conns"),
			DialTimeout:  v.GetDuration("redis.dial_timeout"),
			ReadTimeout:  v.GetDuration("redis.read_timeout"),
			WriteTimeout: v.GetDuration("redis.write_timeout"),
		},
		StoreTimeout:      v.GetDuration("store_timeout"),
		RequestTimeout:    v.GetDuration("request_timeout"),
		CSRFSweepInterval: v.GetDuration("csrf_sweep_interval"),
		PoolStatsInterval: v.GetDuration("pool_stats_interval"),
	}

	if cfg.AdminToken == "" && cfg.Environment == "dev" {
		// Development default; production must set AUTHGUARD_ADMIN_TOKEN.
		cfg.AdminToken = "dev-admin-token"
	}
	return cfg, nil
}

func parsePrefixes(raw []string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, entry := range raw {
		for _, part := range strings.Split(entry, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			prefix, err := netip.ParsePrefix(part)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", part, err)
			}
			out = append(out, prefix)
		}
	}
	return out, nil
}
