package config

import (
	"time"
)

// Protection modes for CSRF token storage.
const (
	ProtectionSession = "session"
	ProtectionCookie  = "cookie"
)

// Session backends.
const (
	SessionBackendMemory = "memory"
	SessionBackendRedis  = "redis"
)

// Config represents the complete service configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Session  SessionConfig  `yaml:"session"`
	Security SecurityConfig `yaml:"security"`
	Headers  HeadersConfig  `yaml:"headers"`
	Routes   []RouteConfig  `yaml:"routes"`
	Admin    AdminConfig    `yaml:"admin"`
}

// ServerConfig defines HTTP server settings
type ServerConfig struct {
	Address         string        `yaml:"address"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	TrustProxy      bool          `yaml:"trust_proxy"` // honor X-Forwarded-Proto for cookie Secure
}

// LoggingConfig defines logging settings
type LoggingConfig struct {
	Level    string            `yaml:"level"`
	Output   string            `yaml:"output"` // stdout, stderr or a file path
	Rotation LogRotationConfig `yaml:"rotation"`
}

// LogRotationConfig defines log file rotation settings (powered by lumberjack).
type LogRotationConfig struct {
	MaxSize    int  `yaml:"max_size"`    // max megabytes before rotation (default 100)
	MaxBackups int  `yaml:"max_backups"` // old rotated files to keep (default 3)
	MaxAge     int  `yaml:"max_age"`     // days to retain old files (default 28)
	Compress   bool `yaml:"compress"`    // gzip rotated files (default true)
	LocalTime  bool `yaml:"local_time"`  // use local time in backup filenames (default false)
}

// SessionConfig defines the session layer backing session-protected CSRF tokens.
type SessionConfig struct {
	Backend    string        `yaml:"backend"`     // memory or redis
	CookieName string        `yaml:"cookie_name"` // default "sessid"
	TTL        time.Duration `yaml:"ttl"`         // default 2h
	Secure     bool          `yaml:"secure"`
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Address     string        `yaml:"address"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	Prefix      string        `yaml:"prefix"` // key prefix, default "csrfguard:sess:"
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// SecurityConfig defines CSRF protection settings.
type SecurityConfig struct {
	Protection     string `yaml:"csrf_protection"` // session or cookie
	TokenName      string `yaml:"token_name"`      // default "csrf_test_name"
	HeaderName     string `yaml:"header_name"`     // default "X-CSRF-TOKEN"
	CookieName     string `yaml:"cookie_name"`     // default "csrf_cookie_name"
	Expire         int    `yaml:"expire"`          // seconds, default 7200
	Regenerate     bool   `yaml:"regenerate"`      // rotate token after every verified request
	Redirect       bool   `yaml:"redirect"`        // redirect back with error on failure
	SameSite       string `yaml:"samesite"`        // None, Lax, Strict or ""
	TokenRandomize bool   `yaml:"token_randomize"` // mask the token per issuance
	CookiePath     string `yaml:"cookie_path"`     // default "/"
	CookieDomain   string `yaml:"cookie_domain"`
	CookieSecure   bool   `yaml:"cookie_secure"` // force Secure even on plain HTTP
}

// HeadersConfig defines browser security headers added to every response.
// Empty values fall back to the defaults; "-" drops the header.
type HeadersConfig struct {
	XContentTypeOptions     string            `yaml:"x_content_type_options"`    // default "nosniff"
	XFrameOptions           string            `yaml:"x_frame_options"`           // default "DENY"
	ReferrerPolicy          string            `yaml:"referrer_policy"`           // default "same-origin"
	ContentSecurityPolicy   string            `yaml:"content_security_policy"`   // e.g. "frame-ancestors 'none'"
	StrictTransportSecurity string            `yaml:"strict_transport_security"` // only sent over TLS
	Custom                  map[string]string `yaml:"custom"`
}

// RouteConfig defines a protected route group and its security overrides.
type RouteConfig struct {
	ID       string              `yaml:"id"`
	Path     string              `yaml:"path"`
	Disabled bool                `yaml:"csrf_disabled"`
	Security RouteSecurityConfig `yaml:"security"`
}

// RouteSecurityConfig overrides the global security block for one route.
// Nil pointers keep the global value.
type RouteSecurityConfig struct {
	Protection     string  `yaml:"csrf_protection"`
	TokenName      string  `yaml:"token_name"`
	HeaderName     string  `yaml:"header_name"`
	CookieName     string  `yaml:"cookie_name"`
	Expire         *int    `yaml:"expire"`
	Regenerate     *bool   `yaml:"regenerate"`
	Redirect       *bool   `yaml:"redirect"`
	SameSite       *string `yaml:"samesite"`
	TokenRandomize *bool   `yaml:"token_randomize"`
	CookiePath     string  `yaml:"cookie_path"`
	CookieDomain   string  `yaml:"cookie_domain"`
	CookieSecure   *bool   `yaml:"cookie_secure"`
}

// AdminConfig defines admin endpoints
type AdminConfig struct {
	Enabled     bool   `yaml:"enabled"`
	MetricsPath string `yaml:"metrics_path"` // default "/metrics"
}

// DefaultSecurityConfig returns the CSRF defaults.
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		Protection: ProtectionCookie,
		TokenName:  "csrf_test_name",
		HeaderName: "X-CSRF-TOKEN",
		CookieName: "csrf_cookie_name",
		Expire:     7200,
		Regenerate: true,
		Redirect:   true,
		SameSite:   "Lax",
		CookiePath: "/",
	}
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
			Rotation: LogRotationConfig{
				MaxSize:    100,
				MaxBackups: 3,
				MaxAge:     28,
				Compress:   true,
			},
		},
		Session: SessionConfig{
			Backend:    SessionBackendMemory,
			CookieName: "sessid",
			TTL:        2 * time.Hour,
			Redis: RedisConfig{
				Address:     "localhost:6379",
				Prefix:      "csrfguard:sess:",
				DialTimeout: 2 * time.Second,
			},
		},
		Security: DefaultSecurityConfig(),
		Admin: AdminConfig{
			Enabled:     true,
			MetricsPath: "/metrics",
		},
	}
}
