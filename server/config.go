package server

import (
	"time"

	"github.com/mchiang0610/continue/config"
	"github.com/mchiang0610/continue/db"
	"github.com/mchiang0610/continue/session"
)

// Config holds server configuration
type Config struct {
	// Server infrastructure (immutable, requires restart)
	Port int
	Host string
	Env  string // "development" or "production"

	// Paths (immutable, requires restart)
	SessionsDir  string // Persisted snapshots - source of truth
	DatabasePath string // Persisted session index - rebuildable

	// Notification delivery to GUI channels
	NotifyQueueSize   int
	NotifySendTimeout time.Duration

	// Removal semantics
	CancelOnRemove          bool
	ClearControllerOnRemove bool

	WatchSessionsDir bool

	// Debug settings
	DBLogQueries bool
}

// NewConfig builds the server configuration from the application configuration
func NewConfig(c *config.Config) *Config {
	return &Config{
		Port:                    c.Port,
		Host:                    c.Host,
		Env:                     c.Env,
		SessionsDir:             c.SessionsDir,
		DatabasePath:            c.DatabasePath,
		NotifyQueueSize:         c.NotifyQueueSize,
		NotifySendTimeout:       c.NotifySendTimeout,
		CancelOnRemove:          c.CancelOnRemove,
		ClearControllerOnRemove: c.ClearControllerOnRemove,
		WatchSessionsDir:        c.WatchSessionsDir,
		DBLogQueries:            c.DBLogQueries,
	}
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env != "production"
}

// ToDBConfig converts server config to database config
func (c *Config) ToDBConfig() db.Config {
	return db.Config{
		Path:            c.DatabasePath,
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: 0, // Never expire
		LogQueries:      c.DBLogQueries,
	}
}

// ToManagerOptions converts server config to session manager options.
// Store, metrics and index are filled in by the server.
func (c *Config) ToManagerOptions() session.Options {
	return session.Options{
		OutboxSize:              c.NotifyQueueSize,
		SendTimeout:             c.NotifySendTimeout,
		KeepEngineOnRemove:      !c.CancelOnRemove,
		ClearControllerOnRemove: c.ClearControllerOnRemove,
	}
}
