// Package config loads flowstack settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	sdkerrors "github.com/claudio-flowstack/flowstack/pkg/errors"
	"github.com/claudio-flowstack/flowstack/pkg/transport"
)

// Log formats.
const (
	LogFormatJSON    = "json"
	LogFormatConsole = "console"
)

// Config holds the settings shared by all commands.
type Config struct {
	NATSURL       string
	SubjectPrefix string

	LogLevel  string
	LogFormat string
	Lang      string

	OTLPEndpoint     string
	TraceSampleRatio float64

	BlobConnectionString string
	BlobContainer        string

	CollectArtifacts bool
	RelayRate        float64
	RelayBurst       int
	MaxSessions      int

	IsKubernetes bool
}

// LoadEnvFile loads variables from path without overriding ones already set. A
// missing default ".env" is not an error; a missing explicit path is.
func LoadEnvFile(path string) error {
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Load reads the configuration from the environment, using defaults for
// unset variables.
func Load() *Config {
	cfg := &Config{
		NATSURL:              getEnv("FLOWSTACK_NATS_URL", "nats://127.0.0.1:4222"),
		SubjectPrefix:        getEnv("FLOWSTACK_SUBJECT_PREFIX", transport.DefaultPrefix),
		LogLevel:             strings.ToLower(getEnv("FLOWSTACK_LOG_LEVEL", "info")),
		Lang:                 strings.ToLower(getEnv("FLOWSTACK_LANG", "en")),
		OTLPEndpoint:         getEnv("FLOWSTACK_OTLP_ENDPOINT", ""),
		TraceSampleRatio:     getEnvFloat("FLOWSTACK_TRACE_SAMPLE_RATIO", 1.0),
		BlobConnectionString: getEnv("FLOWSTACK_BLOB_CONNECTION_STRING", ""),
		BlobContainer:        getEnv("FLOWSTACK_BLOB_CONTAINER", "flowstack-executions"),
		CollectArtifacts:     getEnvBool("FLOWSTACK_COLLECT_ARTIFACTS", false),
		RelayRate:            getEnvFloat("FLOWSTACK_RELAY_RATE", 0),
		RelayBurst:           getEnvInt("FLOWSTACK_RELAY_BURST", 5),
		MaxSessions:          getEnvInt("FLOWSTACK_MAX_SESSIONS", 0),
		IsKubernetes:         isKubernetes(),
	}

	defaultFormat := LogFormatConsole
	if cfg.IsKubernetes {
		defaultFormat = LogFormatJSON
	}
	cfg.LogFormat = strings.ToLower(getEnv("FLOWSTACK_LOG_FORMAT", defaultFormat))
	return cfg
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: log level %q", sdkerrors.ErrInvalidConfig, c.LogLevel)
	}
	if c.LogFormat != LogFormatJSON && c.LogFormat != LogFormatConsole {
		return fmt.Errorf("%w: log format %q", sdkerrors.ErrInvalidConfig, c.LogFormat)
	}
	if !transport.ValidToken(c.SubjectPrefix) {
		return fmt.Errorf("%w: subject prefix %q", sdkerrors.ErrInvalidConfig, c.SubjectPrefix)
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		return fmt.Errorf("%w: trace sample ratio %v outside [0, 1]", sdkerrors.ErrInvalidConfig, c.TraceSampleRatio)
	}
	if c.RelayRate < 0 {
		return fmt.Errorf("%w: relay rate %v", sdkerrors.ErrInvalidConfig, c.RelayRate)
	}
	if c.RelayBurst < 1 {
		return fmt.Errorf("%w: relay burst %d", sdkerrors.ErrInvalidConfig, c.RelayBurst)
	}
	if c.MaxSessions < 0 {
		return fmt.Errorf("%w: max sessions %d", sdkerrors.ErrInvalidConfig, c.MaxSessions)
	}
	return nil
}

// String returns a formatted representation without secrets.
func (c *Config) String() string {
	blob := "disabled"
	if c.BlobConnectionString != "" {
		blob = "container=" + c.BlobContainer
	}
	return fmt.Sprintf(
		"Config{NATS: %s, Prefix: %s, LogLevel: %s, LogFormat: %s, Lang: %s, OTLP: %q, SampleRatio: %v, Blob: %s, CollectArtifacts: %t, RelayRate: %v, RelayBurst: %d, MaxSessions: %d, IsK8s: %t}",
		c.NATSURL,
		c.SubjectPrefix,
		c.LogLevel,
		c.LogFormat,
		c.Lang,
		c.OTLPEndpoint,
		c.TraceSampleRatio,
		blob,
		c.CollectArtifacts,
		c.RelayRate,
		c.RelayBurst,
		c.MaxSessions,
		c.IsKubernetes,
	)
}

// isKubernetes detects if the application is running in Kubernetes
func isKubernetes() bool {
	return os.Getenv("KUBERNETES_SERVICE_HOST") != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseBool(value); err == nil {
			return v
		}
	}
	return defaultValue
}
