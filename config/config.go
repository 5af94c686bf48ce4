package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port int    `envconfig:"PORT" default:"65432"`
	Host string `envconfig:"HOST" default:"127.0.0.1"`
	Env  string `envconfig:"ENV" default:"development"` // "development" or "production"

	// Data directory
	DataDir string `envconfig:"DATA_DIR" default:"./data"`

	// Persisted session snapshots, one <id>.json per session.
	// Defaults to <DataDir>/sessions.
	SessionsDir string `envconfig:"SESSIONS_DIR"`

	// Database (persisted session index). Defaults to <DataDir>/index.sqlite.
	DatabasePath string `envconfig:"DATABASE_PATH"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Session notification delivery
	NotifyQueueSize   int           `envconfig:"NOTIFY_QUEUE_SIZE" default:"64"`
	NotifySendTimeout time.Duration `envconfig:"NOTIFY_SEND_TIMEOUT" default:"5s"`

	// Removal semantics
	CancelOnRemove          bool `envconfig:"CANCEL_ON_REMOVE" default:"true"`
	ClearControllerOnRemove bool `envconfig:"CLEAR_CONTROLLER_ON_REMOVE" default:"false"`

	WatchSessionsDir bool `envconfig:"WATCH_SESSIONS_DIR" default:"true"`

	// Debug settings
	DBLogQueries bool `envconfig:"DB_LOG_QUERIES" default:"false"`
}

var (
	cfg  *Config
	once sync.Once
)

// Get returns the global configuration (singleton)
func Get() *Config {
	once.Do(func() {
		cfg = load()
	})
	return cfg
}

// load reads configuration from environment variables.
// A malformed variable falls back to the defaults rather than aborting startup.
func load() *Config {
	c, err := Load()
	if err != nil {
		c = Default()
	}
	return c
}

// Load parses configuration from the environment and fills derived paths.
func Load() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	c.fillDerived()
	return &c, nil
}

// Default returns the configuration used when the environment cannot be parsed.
func Default() *Config {
	c := &Config{
		Port:              65432,
		Host:              "127.0.0.1",
		Env:               "development",
		DataDir:           "./data",
		LogLevel:          "info",
		NotifyQueueSize:   64,
		NotifySendTimeout: 5 * time.Second,
		CancelOnRemove:    true,
		WatchSessionsDir:  true,
	}
	c.fillDerived()
	return c
}

func (c *Config) fillDerived() {
	if c.SessionsDir == "" {
		c.SessionsDir = filepath.Join(c.DataDir, "sessions")
	}
	if c.DatabasePath == "" {
		c.DatabasePath = filepath.Join(c.DataDir, "index.sqlite")
	}
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env != "production"
}
