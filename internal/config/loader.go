package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"
)

// Loader handles configuration loading and parsing
type Loader struct {
	envPattern *regexp.Regexp
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
	}
}

// Load reads and parses a configuration file
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return l.Parse(data)
}

// Parse parses configuration from YAML bytes
func (l *Loader) Parse(data []byte) (*Config, error) {
	expanded := l.expandEnvVars(string(data))

	// Start with defaults
	cfg := DefaultConfig()

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := l.validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} with environment variable values
func (l *Loader) expandEnvVars(input string) string {
	return l.envPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match // Keep original if env var not set
	})
}

// validate checks configuration for errors
func (l *Loader) validate(cfg *Config) error {
	if cfg.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}

	switch cfg.Session.Backend {
	case SessionBackendMemory:
	case SessionBackendRedis:
		if cfg.Session.Redis.Address == "" {
			return fmt.Errorf("session.redis.address is required for the redis backend")
		}
	default:
		return fmt.Errorf("invalid session backend: %s", cfg.Session.Backend)
	}
	if cfg.Session.CookieName == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	if cfg.Session.TTL < 0 {
		return fmt.Errorf("session.ttl must be >= 0")
	}

	if err := ValidateSecurityConfig("security", cfg.Security); err != nil {
		return err
	}

	routeIDs := make(map[string]bool)
	for i, route := range cfg.Routes {
		if route.ID == "" {
			return fmt.Errorf("route %d: id is required", i)
		}
		if route.ID == "default" {
			return fmt.Errorf("route id %q is reserved for the global security block", route.ID)
		}
		if routeIDs[route.ID] {
			return fmt.Errorf("duplicate route id: %s", route.ID)
		}
		routeIDs[route.ID] = true

		if route.Path == "" || !strings.HasPrefix(route.Path, "/") {
			return fmt.Errorf("route %s: path must start with /", route.ID)
		}

		merged := MergeSecurityConfig(route.Security, cfg.Security)
		if err := ValidateSecurityConfig("route "+route.ID, merged); err != nil {
			return err
		}
	}

	return nil
}

// ValidateSecurityConfig validates a CSRF config for a given scope.
func ValidateSecurityConfig(scope string, cfg SecurityConfig) error {
	switch cfg.Protection {
	case ProtectionSession, ProtectionCookie:
	default:
		return fmt.Errorf("%s: csrf_protection must be %q or %q", scope, ProtectionSession, ProtectionCookie)
	}
	if cfg.TokenName == "" {
		return fmt.Errorf("%s: token_name is required", scope)
	}
	if cfg.HeaderName == "" {
		return fmt.Errorf("%s: header_name is required", scope)
	}
	if cfg.Protection == ProtectionCookie && cfg.CookieName == "" {
		return fmt.Errorf("%s: cookie_name is required when csrf_protection is cookie", scope)
	}
	if cfg.Expire < 0 {
		return fmt.Errorf("%s: expire must be >= 0", scope)
	}
	switch strings.ToLower(cfg.SameSite) {
	case "", "lax", "strict":
	case "none":
		if cfg.Protection == ProtectionCookie && !cfg.CookieSecure {
			return fmt.Errorf("%s: cookie_secure must be true when samesite is \"None\"", scope)
		}
	default:
		return fmt.Errorf("%s: samesite must be \"None\", \"Lax\", \"Strict\" or empty", scope)
	}
	return nil
}
