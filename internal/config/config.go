package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Base URLs of the two endpoint families. The development family is the
// simulated service from cmd/mockserver on its default port.
const (
	ProductionBaseURL  = "https://api.runpod.ai/v2"
	DevelopmentBaseURL = "http://localhost:8080/v2"
)

// Wait and request defaults shared by every endpoint call.
const (
	// DefaultWaitTimeout bounds RunSync when neither the caller nor the
	// execution policy supplies a budget.
	DefaultWaitTimeout = 300 * time.Second
	// MinPollWait and MaxPollWait bound the wait sent to any bounded-wait call.
	MinPollWait = 1 * time.Second
	MaxPollWait = 90 * time.Second
	// DefaultRequestTimeout applies to calls that do not hold the connection open.
	DefaultRequestTimeout = 3 * time.Second
)

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

// ClientConfig holds everything an endpoint client needs. It is read-only
// after Load.
type ClientConfig struct {
	APIKey         string
	EndpointID     string
	Env            string
	BaseURL        string
	WaitTimeout    time.Duration
	RequestTimeout time.Duration
	LogLevel       slog.Level
}

// ServerConfig configures the simulated endpoint service.
type ServerConfig struct {
	Port       int
	Env        string
	APIKeys    []string
	Store      string
	Executor   string
	Workers    int
	StreamHold time.Duration
	RateLimit  int
	LogLevel   slog.Level
	Database   DatabaseConfig
	Redis      RedisConfig
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

var validEnvs = map[string]bool{
	EnvProduction:  true,
	EnvDevelopment: true,
}

var validStores = map[string]bool{
	"memory":   true,
	"postgres": true,
}

var validExecutors = map[string]bool{
	"mock": true,
	"echo": true,
}

// LoadClient reads client configuration from environment variables and
// returns a validated ClientConfig.
func LoadClient() (*ClientConfig, error) {
	cfg := &ClientConfig{
		APIKey:         os.Getenv("JOBCLIENT_API_KEY"),
		EndpointID:     os.Getenv("JOBCLIENT_ENDPOINT_ID"),
		Env:            envString("JOBCLIENT_ENV", EnvProduction),
		BaseURL:        os.Getenv("JOBCLIENT_BASE_URL"),
		WaitTimeout:    envDuration("JOBCLIENT_WAIT_TIMEOUT", DefaultWaitTimeout),
		RequestTimeout: envDuration("JOBCLIENT_REQUEST_TIMEOUT", DefaultRequestTimeout),
		LogLevel:       ParseLogLevel(os.Getenv("JOBCLIENT_LOG_LEVEL")),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = BaseURLFor(cfg.Env)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return cfg, nil
}

func (c *ClientConfig) validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("JOBCLIENT_API_KEY is required")
	}
	if !validEnvs[c.Env] {
		return fmt.Errorf("JOBCLIENT_ENV must be one of production, development; got %q", c.Env)
	}
	if c.BaseURL != "" && !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("JOBCLIENT_BASE_URL must start with http:// or https://, got %q", c.BaseURL)
	}
	if c.WaitTimeout <= 0 {
		return fmt.Errorf("JOBCLIENT_WAIT_TIMEOUT must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("JOBCLIENT_REQUEST_TIMEOUT must be positive")
	}
	return nil
}

// BaseURLFor returns the base URL of the endpoint family for env.
func BaseURLFor(env string) string {
	if env == EnvDevelopment {
		return DevelopmentBaseURL
	}
	return ProductionBaseURL
}

// LoadServer reads configuration for the simulated endpoint service.
func LoadServer() (*ServerConfig, error) {
	cfg := &ServerConfig{
		Port:       envInt("MOCK_PORT", 8080),
		Env:        envString("MOCK_ENV", EnvDevelopment),
		APIKeys:    envList("MOCK_API_KEYS"),
		Store:      envString("MOCK_STORE", "memory"),
		Executor:   envString("MOCK_EXECUTOR", "mock"),
		Workers:    envInt("MOCK_WORKERS", 4),
		StreamHold: envDuration("MOCK_STREAM_HOLD", 2*time.Second),
		RateLimit:  envInt("MOCK_RATE_LIMIT", 600),
		LogLevel:   ParseLogLevel(os.Getenv("MOCK_LOG_LEVEL")),
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *ServerConfig) validate() error {
	if len(c.APIKeys) == 0 {
		return fmt.Errorf("MOCK_API_KEYS is required")
	}
	if !validStores[c.Store] {
		return fmt.Errorf("MOCK_STORE must be one of memory, postgres; got %q", c.Store)
	}
	if c.Store == "postgres" && c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required when MOCK_STORE is postgres")
	}
	if !validExecutors[c.Executor] {
		return fmt.Errorf("MOCK_EXECUTOR must be one of mock, echo; got %q", c.Executor)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("MOCK_WORKERS must be positive, got %d", c.Workers)
	}
	return nil
}

// ParseLogLevel maps a level name to a slog.Level, defaulting to info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
