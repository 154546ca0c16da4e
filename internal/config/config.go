// Package config loads agent settings from PCSC_AGENT_* environment
// variables. Unset or invalid values keep their defaults.
package config

import (
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/SimplyPrint/pcsc-agent/internal/logging"
	"github.com/SimplyPrint/pcsc-agent/internal/pcsc"
)

const (
	DefaultPort         = 32146
	DefaultHost         = "127.0.0.1"
	DefaultScope        = pcsc.ScopeUser
	DefaultPollTimeout  = 5 * time.Second
	DefaultReaderBuffer = 4096
	DefaultLogLevel     = logging.LevelInfo

	// MaxReaderBuffer bounds PCSC_AGENT_READER_BUFFER.
	MaxReaderBuffer = 1 << 20
)

// Config holds the application configuration.
type Config struct {
	Host string
	Port int

	// Scope is passed to every Context the agent establishes.
	Scope pcsc.Scope
	// PollTimeout bounds each status-change wait of the reader monitor.
	// Negative waits until a change or cancellation.
	PollTimeout time.Duration
	// ReaderBuffer is the largest reader-list buffer the agent allocates.
	ReaderBuffer int

	LogLevel logging.Level

	// TLS accepts HTTPS on the API port next to plain HTTP, using a
	// self-signed certificate kept in CertDir.
	TLS bool
	// CertDir overrides where the certificate is stored.
	CertDir string

	// AllowedOrigins lists the web origins whose pages may call the API.
	// Requests carrying any other Origin are refused. "*" allows every
	// origin.
	AllowedOrigins []string

	SentryEnabled bool
	SentryDSN     string
}

// Default returns the configuration used when no variables are set.
func Default() *Config {
	return &Config{
		Host:         DefaultHost,
		Port:         DefaultPort,
		Scope:        DefaultScope,
		PollTimeout:  DefaultPollTimeout,
		ReaderBuffer: DefaultReaderBuffer,
		LogLevel:     DefaultLogLevel,
	}
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	cfg := Default()

	// PCSC_AGENT_PORT - override the default port
	if portStr := os.Getenv("PCSC_AGENT_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil && port > 0 && port < 65536 {
			cfg.Port = port
		}
	}

	// PCSC_AGENT_HOST - override the default host (rarely needed, localhost is safest)
	if host := os.Getenv("PCSC_AGENT_HOST"); host != "" {
		cfg.Host = host
	}

	if s := os.Getenv("PCSC_AGENT_SCOPE"); s != "" {
		if scope, err := pcsc.ParseScope(s); err == nil {
			cfg.Scope = scope
		}
	}

	if s := os.Getenv("PCSC_AGENT_POLL_TIMEOUT"); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			cfg.PollTimeout = d
		}
	}

	if s := os.Getenv("PCSC_AGENT_READER_BUFFER"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= MaxReaderBuffer {
			cfg.ReaderBuffer = n
		}
	}

	if s := os.Getenv("PCSC_AGENT_LOG_LEVEL"); s != "" {
		if level, err := logging.ParseLevel(s); err == nil {
			cfg.LogLevel = level
		}
	}

	if s := os.Getenv("PCSC_AGENT_TLS"); s != "" {
		if enabled, err := strconv.ParseBool(s); err == nil {
			cfg.TLS = enabled
		}
	}
	cfg.CertDir = os.Getenv("PCSC_AGENT_CERT_DIR")

	// PCSC_AGENT_ALLOWED_ORIGINS - comma separated, e.g. https://simplyprint.io
	if s := os.Getenv("PCSC_AGENT_ALLOWED_ORIGINS"); s != "" {
		cfg.AllowedOrigins = ParseOrigins(s)
	}

	// Crash reporting is opt-in and needs a DSN.
	if s := os.Getenv("PCSC_AGENT_SENTRY"); s != "" {
		if enabled, err := strconv.ParseBool(s); err == nil {
			cfg.SentryEnabled = enabled
		}
	}
	cfg.SentryDSN = os.Getenv("PCSC_AGENT_SENTRY_DSN")

	return cfg
}

// ParseOrigins splits a comma separated origin list, dropping blanks and
// trailing slashes.
func ParseOrigins(s string) []string {
	var origins []string
	for _, origin := range strings.Split(s, ",") {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

// OriginAllowed reports whether a request with the given Origin header may
// be served. An empty origin means the caller is not a web page.
func (c *Config) OriginAllowed(origin string) bool {
	if origin == "" {
		return true
	}
	for _, allowed := range c.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// Address returns the formatted host:port address string.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// SentryDSNIfEnabled returns the DSN to report to, or "" when reporting is
// off.
func (c *Config) SentryDSNIfEnabled() string {
	if !c.SentryEnabled {
		return ""
	}
	return c.SentryDSN
}
