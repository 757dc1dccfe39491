// Package config loads and validates the Breakpoint server configuration.
package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"

	"github.com/breakpointhq/breakpoint/internal/logging"
)

// Config holds the validated, fully-resolved server configuration.
// Every field maps to a TOML key documented in SPEC_FULL.md §6; every
// key has a BREAKPOINT_<SECTION>_<KEY> environment override applied
// after the file is parsed (top-level keys use BREAKPOINT_<KEY>).
type Config struct {
	ListenAddr string `toml:"listen_addr"`
	WebRoot    string `toml:"web_root"`

	Auth     AuthConfig     `toml:"auth"`
	Limits   LimitsConfig   `toml:"limits"`
	Timeouts TimeoutsConfig `toml:"timeouts"`
}

// AuthConfig holds ingestion API authentication material.
type AuthConfig struct {
	APIToken       string            `toml:"api_token"`
	WebhookSecrets map[string]string `toml:"webhook_secrets"`
}

// LimitsConfig holds runtime capacity caps.
type LimitsConfig struct {
	MaxRooms                  int `toml:"max_rooms"`
	MaxPlayersPerRoom         int `toml:"max_players_per_room"`
	EventsPerMinutePerSource  int `toml:"events_per_minute_per_source"`
	InputsPerSecondPerSession int `toml:"inputs_per_second_per_session"`
	IPConnectionLimit        int `toml:"ip_connection_limit"`
}

// TimeoutsConfig holds lifecycle timer durations, in seconds.
type TimeoutsConfig struct {
	IdleGraceSecs          int `toml:"idle_grace_secs"`
	ReconnectTTLSecs       int `toml:"reconnect_ttl_secs"`
	HostMigrationGraceSecs int `toml:"host_migration_grace_secs"`
}

// defaults mirrors the "default" column of SPEC_FULL.md §6.
func defaults() Config {
	return Config{
		ListenAddr: "0.0.0.0:8080",
		WebRoot:    "./web",
		Auth: AuthConfig{
			WebhookSecrets: map[string]string{},
		},
		Limits: LimitsConfig{
			MaxRooms:                  1000,
			MaxPlayersPerRoom:         8,
			EventsPerMinutePerSource:  100,
			InputsPerSecondPerSession: 60,
			IPConnectionLimit:        32,
		},
		Timeouts: TimeoutsConfig{
			IdleGraceSecs:          60,
			ReconnectTTLSecs:       120,
			HostMigrationGraceSecs: 30,
		},
	}
}

// Load reads a TOML document from path, applies environment overrides, and
// validates the result. A missing file is not an error: defaults plus
// environment overrides still produce a usable Config, mirroring the
// teacher's willingness to fall back to sane defaults rather than fail hard
// on missing optional configuration.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			logging.Warn(context.Background(), "config file not found, using defaults and environment", zap.String("path", path))
		} else if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logValidatedConfig(&cfg)
	return &cfg, nil
}

// applyEnvOverrides mutates cfg in place per the BREAKPOINT_<SECTION>_<KEY>
// convention. Unset environment variables leave the existing value untouched.
func applyEnvOverrides(cfg *Config) {
	cfg.ListenAddr = envOrDefault("BREAKPOINT_LISTEN_ADDR", cfg.ListenAddr)
	cfg.WebRoot = envOrDefault("BREAKPOINT_WEB_ROOT", cfg.WebRoot)

	cfg.Auth.APIToken = envOrDefault("BREAKPOINT_AUTH_API_TOKEN", cfg.Auth.APIToken)
	for source := range cfg.Auth.WebhookSecrets {
		key := "BREAKPOINT_AUTH_WEBHOOK_SECRETS_" + strings.ToUpper(source)
		cfg.Auth.WebhookSecrets[source] = envOrDefault(key, cfg.Auth.WebhookSecrets[source])
	}
	// Allow introducing a brand-new webhook source purely via environment.
	const prefix = "BREAKPOINT_AUTH_WEBHOOK_SECRETS_"
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, prefix) {
			continue
		}
		source := strings.ToLower(strings.TrimPrefix(k, prefix))
		if _, exists := cfg.Auth.WebhookSecrets[source]; !exists {
			cfg.Auth.WebhookSecrets[source] = v
		}
	}

	cfg.Limits.MaxRooms = envOrDefaultInt("BREAKPOINT_LIMITS_MAX_ROOMS", cfg.Limits.MaxRooms)
	cfg.Limits.MaxPlayersPerRoom = envOrDefaultInt("BREAKPOINT_LIMITS_MAX_PLAYERS_PER_ROOM", cfg.Limits.MaxPlayersPerRoom)
	cfg.Limits.EventsPerMinutePerSource = envOrDefaultInt("BREAKPOINT_LIMITS_EVENTS_PER_MINUTE_PER_SOURCE", cfg.Limits.EventsPerMinutePerSource)
	cfg.Limits.InputsPerSecondPerSession = envOrDefaultInt("BREAKPOINT_LIMITS_INPUTS_PER_SECOND_PER_SESSION", cfg.Limits.InputsPerSecondPerSession)
	cfg.Limits.IPConnectionLimit = envOrDefaultInt("BREAKPOINT_LIMITS_IP_CONNECTION_LIMIT", cfg.Limits.IPConnectionLimit)

	cfg.Timeouts.IdleGraceSecs = envOrDefaultInt("BREAKPOINT_TIMEOUTS_IDLE_GRACE_SECS", cfg.Timeouts.IdleGraceSecs)
	cfg.Timeouts.ReconnectTTLSecs = envOrDefaultInt("BREAKPOINT_TIMEOUTS_RECONNECT_TTL_SECS", cfg.Timeouts.ReconnectTTLSecs)
	cfg.Timeouts.HostMigrationGraceSecs = envOrDefaultInt("BREAKPOINT_TIMEOUTS_HOST_MIGRATION_GRACE_SECS", cfg.Timeouts.HostMigrationGraceSecs)
}

// Validate checks the fully-resolved configuration, accumulating every
// problem found rather than stopping at the first one, so operators see
// the whole picture in a single error.
func (cfg *Config) Validate() error {
	var errs []string

	if cfg.ListenAddr == "" {
		errs = append(errs, "listen_addr is required")
	} else if !isValidHostPort(cfg.ListenAddr) {
		errs = append(errs, fmt.Sprintf("listen_addr must be in format 'host:port' (got '%s')", cfg.ListenAddr))
	}

	if cfg.Auth.APIToken == "" {
		errs = append(errs, "auth.api_token is required")
	}

	if cfg.Limits.MaxRooms < 1 {
		errs = append(errs, "limits.max_rooms must be >= 1")
	}
	if cfg.Limits.MaxPlayersPerRoom < 2 || cfg.Limits.MaxPlayersPerRoom > 8 {
		errs = append(errs, fmt.Sprintf("limits.max_players_per_room must be between 2 and 8 (got %d)", cfg.Limits.MaxPlayersPerRoom))
	}
	if cfg.Limits.EventsPerMinutePerSource < 1 {
		errs = append(errs, "limits.events_per_minute_per_source must be >= 1")
	}
	if cfg.Limits.InputsPerSecondPerSession < 1 {
		errs = append(errs, "limits.inputs_per_second_per_session must be >= 1")
	}
	if cfg.Limits.IPConnectionLimit < 1 {
		errs = append(errs, "limits.ip_connection_limit must be >= 1")
	}

	if cfg.Timeouts.IdleGraceSecs < 1 {
		errs = append(errs, "timeouts.idle_grace_secs must be >= 1")
	}
	if cfg.Timeouts.ReconnectTTLSecs < 1 {
		errs = append(errs, "timeouts.reconnect_ttl_secs must be >= 1")
	}
	if cfg.Timeouts.HostMigrationGraceSecs < 1 {
		errs = append(errs, "timeouts.host_migration_grace_secs must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// isValidHostPort checks if a string is in the format "host:port".
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}
	return parts[0] != ""
}

// logValidatedConfig logs the validated configuration with secrets redacted.
func logValidatedConfig(cfg *Config) {
	logging.Info(context.Background(), "configuration validated",
		zap.String("listen_addr", cfg.ListenAddr),
		zap.String("web_root", cfg.WebRoot),
		zap.String("api_token", redactSecret(cfg.Auth.APIToken)),
		zap.Int("webhook_sources", len(cfg.Auth.WebhookSecrets)),
		zap.Int("max_rooms", cfg.Limits.MaxRooms),
		zap.Int("max_players_per_room", cfg.Limits.MaxPlayersPerRoom),
		zap.Int("idle_grace_secs", cfg.Timeouts.IdleGraceSecs),
	)
}

func envOrDefault(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// redactSecret redacts a secret by showing only the first 8 characters.
func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
