package server

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Tyrowin/relaychat/internal/bridge"
)

// Default configuration values.
const (
	DefaultAddr            = ":5000"
	DefaultHTTPAddr        = ":8080"
	DefaultShutdownTimeout = 10 * time.Second
	DefaultLogLevel        = "info"
)

// Config holds the server configuration. An empty HTTPAddr disables the
// HTTP side (health, stats and the WebSocket gateway); an empty NATSURL
// disables the cross-instance relay.
type Config struct {
	Addr            string
	HTTPAddr        string
	AllowedOrigins  []string
	NATSURL         string
	NATSSubject     string
	ShutdownTimeout time.Duration
	LogLevel        string
}

func defaultConfig() Config {
	return Config{
		Addr:     DefaultAddr,
		HTTPAddr: DefaultHTTPAddr,
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		NATSSubject:     bridge.DefaultSubject,
		ShutdownTimeout: DefaultShutdownTimeout,
		LogLevel:        DefaultLogLevel,
	}
}

// NewConfig creates a Config populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config from environment variables, falling
// back to defaults for unset or invalid values.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	if addr := os.Getenv("RELAY_ADDR"); addr != "" {
		cfg.Addr = addr
	}

	// HTTP_ADDR set to the empty string disables HTTP.
	if addr, ok := os.LookupEnv("HTTP_ADDR"); ok {
		cfg.HTTPAddr = strings.TrimSpace(addr)
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	if url := os.Getenv("NATS_URL"); url != "" {
		cfg.NATSURL = url
	}

	if subject := os.Getenv("NATS_SUBJECT"); subject != "" {
		cfg.NATSSubject = subject
	}

	if timeout := os.Getenv("SHUTDOWN_TIMEOUT"); timeout != "" {
		cfg.ShutdownTimeout = parseSeconds(timeout, cfg.ShutdownTimeout)
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(level))
	}

	return &cfg
}

// Sanitize returns a copy of c with empty or invalid fields replaced by
// defaults and origins normalized. HTTPAddr and NATSURL are left as
// given since empty values are meaningful.
func (c Config) Sanitize() Config {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}

	if c.NATSSubject == "" {
		c.NATSSubject = bridge.DefaultSubject
	}

	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}

	if _, ok := parseLevel(c.LogLevel); !ok {
		c.LogLevel = DefaultLogLevel
	}

	origins := make([]string, 0, len(c.AllowedOrigins))
	for _, origin := range c.AllowedOrigins {
		if strings.TrimSpace(origin) == "*" {
			origins = append(origins, "*")
			continue
		}
		if normalized, ok := normalizeOrigin(strings.TrimSpace(origin)); ok {
			origins = append(origins, normalized)
		}
	}
	c.AllowedOrigins = origins

	return c
}

// Level returns the slog level named by LogLevel, defaulting to Info.
func (c Config) Level() slog.Level {
	level, _ := parseLevel(c.LogLevel)
	return level
}

func parseLevel(value string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseSeconds(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
