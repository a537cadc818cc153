package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultAddr is the default TCP address the server listens on.
	DefaultAddr = ":8580"
	// DefaultPingInterval controls the keepalive cadence for WebSocket connections.
	DefaultPingInterval = 30 * time.Second
	// DefaultMaxPayloadBytes limits inbound WebSocket frame size.
	DefaultMaxPayloadBytes int64 = 1 << 20
	// DefaultMaxClients bounds concurrent WebSocket connections. Zero disables the limit.
	DefaultMaxClients = 512

	// DefaultJoinCodeLength is the number of digits in a room join code.
	DefaultJoinCodeLength = 6
	// DefaultLingerWindow is how long a disconnected player may rejoin a live match.
	DefaultLingerWindow = 2 * time.Minute
	// DefaultMapFetchTimeout bounds a single request against the map source.
	DefaultMapFetchTimeout = 15 * time.Second

	// DefaultLogLevel controls verbosity for server logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written. Empty disables file output.
	DefaultLogPath = ""
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true
)

// Config captures all runtime tunables for the mapbingo server.
type Config struct {
	Address         string
	AllowedOrigins  []string
	MaxPayloadBytes int64
	PingInterval    time.Duration
	MaxClients      int
	TLSCertPath     string
	TLSKeyPath      string
	AdminToken      string

	JoinCodeLength  int
	LingerWindow    time.Duration
	MapSourceURL    string
	MapFetchTimeout time.Duration

	DatabaseURL    string
	ArchiveDir     string
	IdentitySecret string
	IdentityIssuer string

	Logging LoggingConfig
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Load reads the server configuration from environment variables, applying sane defaults
// and returning descriptive errors for invalid overrides.
func Load() (*Config, error) {
	cfg := &Config{
		Address:         getString("MAPBINGO_ADDR", DefaultAddr),
		AllowedOrigins:  parseList(os.Getenv("MAPBINGO_ALLOWED_ORIGINS")),
		MaxPayloadBytes: DefaultMaxPayloadBytes,
		PingInterval:    DefaultPingInterval,
		MaxClients:      DefaultMaxClients,
		TLSCertPath:     strings.TrimSpace(os.Getenv("MAPBINGO_TLS_CERT")),
		TLSKeyPath:      strings.TrimSpace(os.Getenv("MAPBINGO_TLS_KEY")),
		AdminToken:      strings.TrimSpace(os.Getenv("MAPBINGO_ADMIN_TOKEN")),
		JoinCodeLength:  DefaultJoinCodeLength,
		LingerWindow:    DefaultLingerWindow,
		MapSourceURL:    strings.TrimSpace(os.Getenv("MAPBINGO_MAP_SOURCE_URL")),
		MapFetchTimeout: DefaultMapFetchTimeout,
		DatabaseURL:     strings.TrimSpace(os.Getenv("MAPBINGO_DATABASE_URL")),
		ArchiveDir:      strings.TrimSpace(os.Getenv("MAPBINGO_ARCHIVE_DIR")),
		IdentitySecret:  strings.TrimSpace(os.Getenv("MAPBINGO_IDENTITY_SECRET")),
		IdentityIssuer:  getString("MAPBINGO_IDENTITY_ISSUER", "mapbingo"),
		Logging: LoggingConfig{
			Level:      strings.TrimSpace(getString("MAPBINGO_LOG_LEVEL", DefaultLogLevel)),
			Path:       strings.TrimSpace(getString("MAPBINGO_LOG_PATH", DefaultLogPath)),
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
		},
	}

	var problems []string

	if raw := strings.TrimSpace(os.Getenv("MAPBINGO_MAX_PAYLOAD_BYTES")); raw != "" {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("MAPBINGO_MAX_PAYLOAD_BYTES must be a positive integer, got %q", raw))
		} else {
			cfg.MaxPayloadBytes = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("MAPBINGO_PING_INTERVAL")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("MAPBINGO_PING_INTERVAL must be a positive duration, got %q", raw))
		} else {
			cfg.PingInterval = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("MAPBINGO_MAX_CLIENTS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("MAPBINGO_MAX_CLIENTS must be a non-negative integer, got %q", raw))
		} else {
			cfg.MaxClients = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("MAPBINGO_JOIN_CODE_LENGTH")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 4 || value > 12 {
			problems = append(problems, fmt.Sprintf("MAPBINGO_JOIN_CODE_LENGTH must be an integer between 4 and 12, got %q", raw))
		} else {
			cfg.JoinCodeLength = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("MAPBINGO_LINGER_WINDOW")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("MAPBINGO_LINGER_WINDOW must be a positive duration, got %q", raw))
		} else {
			cfg.LingerWindow = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("MAPBINGO_MAP_FETCH_TIMEOUT")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("MAPBINGO_MAP_FETCH_TIMEOUT must be a positive duration, got %q", raw))
		} else {
			cfg.MapFetchTimeout = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("MAPBINGO_LOG_MAX_SIZE_MB")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("MAPBINGO_LOG_MAX_SIZE_MB must be a positive integer, got %q", raw))
		} else {
			cfg.Logging.MaxSizeMB = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("MAPBINGO_LOG_MAX_BACKUPS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("MAPBINGO_LOG_MAX_BACKUPS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxBackups = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("MAPBINGO_LOG_MAX_AGE_DAYS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("MAPBINGO_LOG_MAX_AGE_DAYS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxAgeDays = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("MAPBINGO_LOG_COMPRESS")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("MAPBINGO_LOG_COMPRESS must be a boolean value, got %q", raw))
		} else {
			cfg.Logging.Compress = value
		}
	}

	if (cfg.TLSCertPath == "") != (cfg.TLSKeyPath == "") {
		problems = append(problems, "MAPBINGO_TLS_CERT and MAPBINGO_TLS_KEY must be provided together")
	}

	if len(problems) > 0 {
		return nil, errors.New(strings.Join(problems, "; "))
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			values = append(values, item)
		}
	}
	return values
}
