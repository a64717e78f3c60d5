// Package config loads and validates gateway configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultAPIToken is the development token. Production startup refuses to run
// with it.
const DefaultAPIToken = "edon-dev-token"

// Config holds all gateway configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Authentication settings.
	AuthEnabled         bool
	APIToken            string
	TokenBindingEnabled bool

	// Decision and execution settings.
	CredentialsStrict bool
	ValidateStrict    bool
	NetworkGating     bool
	TokenHardening    bool
	SandboxDir        string
	LoopThreshold     int
	DemoMode          bool

	// Store settings.
	DatabasePath string

	// Vault settings.
	VaultKey string

	// Downstream bot gateway fallback, used only when the vault has no row
	// and strict mode is off.
	ClawdbotURL                 string
	ClawdbotToken               string
	DefaultClawdbotCredentialID string

	// HTTP surface settings.
	CORSOrigins []string

	// Rate limit overrides; zero keeps the defaults.
	RateLimitPerMinute int
	RateLimitPerHour   int
	RateLimitEnabled   bool

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel    string
	JSONLogging bool
	DevMode     bool
}

// Load reads configuration from environment variables with development
// defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:                        envInt("EDON_PORT", 8080),
		ReadTimeout:                 envDuration("EDON_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:                envDuration("EDON_WRITE_TIMEOUT", 60*time.Second),
		AuthEnabled:                 envBool("EDON_AUTH_ENABLED", true),
		APIToken:                    envStr("EDON_API_TOKEN", DefaultAPIToken),
		TokenBindingEnabled:         envBool("EDON_TOKEN_BINDING_ENABLED", false),
		CredentialsStrict:           envBool("EDON_CREDENTIALS_STRICT", false),
		ValidateStrict:              envBool("EDON_VALIDATE_STRICT", true),
		NetworkGating:               envBool("EDON_NETWORK_GATING", false),
		TokenHardening:              envBool("EDON_TOKEN_HARDENING", true),
		SandboxDir:                  envStr("EDON_SANDBOX_DIR", "./sandbox"),
		LoopThreshold:               envInt("EDON_LOOP_THRESHOLD", 5),
		DemoMode:                    envBool("EDON_DEMO_MODE", false),
		DatabasePath:                envStr("EDON_DATABASE_PATH", "./edon.db"),
		VaultKey:                    envStr("EDON_VAULT_KEY", ""),
		ClawdbotURL:                 envStr("EDON_CLAWDBOT_URL", ""),
		ClawdbotToken:               envStr("EDON_CLAWDBOT_TOKEN", ""),
		DefaultClawdbotCredentialID: envStr("EDON_DEFAULT_CLAWDBOT_CREDENTIAL_ID", "clawdbot-default"),
		CORSOrigins:                 envList("EDON_CORS_ORIGINS", []string{"*"}),
		RateLimitPerMinute:          envInt("EDON_RATE_LIMIT_PER_MINUTE", 0),
		RateLimitPerHour:            envInt("EDON_RATE_LIMIT_PER_HOUR", 0),
		RateLimitEnabled:            envBool("EDON_RATE_LIMIT_ENABLED", true),
		OTELEndpoint:                envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:                envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:                 envStr("OTEL_SERVICE_NAME", "edon-gateway"),
		LogLevel:                    envStr("EDON_LOG_LEVEL", "info"),
		JSONLogging:                 envBool("EDON_JSON_LOGGING", false),
		DevMode:                     envBool("EDON_DEV_MODE", false),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Production reports whether the gateway should apply production refusals.
// Absence of the dev flag means production.
func (c Config) Production() bool {
	return !c.DevMode && !c.DemoMode
}

// Validate checks required settings and refuses unsafe production setups.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: EDON_PORT must be a valid port number")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("config: EDON_DATABASE_PATH is required")
	}
	if c.AuthEnabled && c.APIToken == "" {
		return fmt.Errorf("config: EDON_API_TOKEN is required when auth is enabled")
	}
	if !c.Production() {
		return nil
	}
	if c.APIToken == DefaultAPIToken {
		return fmt.Errorf("config: refusing to start in production with the default API token; set EDON_API_TOKEN")
	}
	if c.corsWildcard() {
		return fmt.Errorf("config: refusing to start in production with wildcard CORS; set EDON_CORS_ORIGINS")
	}
	if c.TokenHardening && !c.CredentialsStrict {
		return fmt.Errorf("config: refusing to start in production with EDON_TOKEN_HARDENING=true while EDON_CREDENTIALS_STRICT=false")
	}
	return nil
}

// Warnings lists configuration smells that do not block startup.
func (c Config) Warnings() []string {
	var warnings []string
	if !c.AuthEnabled {
		warnings = append(warnings, "authentication is disabled; every caller is anonymous")
	}
	if c.APIToken == DefaultAPIToken {
		warnings = append(warnings, "API token is the development default")
	}
	if c.corsWildcard() {
		warnings = append(warnings, "CORS allows every origin")
	}
	if c.TokenHardening && !c.CredentialsStrict {
		warnings = append(warnings, "token hardening is on but strict credential mode is off")
	}
	if c.VaultKey == "" {
		warnings = append(warnings, "no vault key configured; credential payloads are stored unencrypted")
	}
	return warnings
}

func (c Config) corsWildcard() bool {
	for _, origin := range c.CORSOrigins {
		if origin == "*" {
			return true
		}
	}
	return false
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func envList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
