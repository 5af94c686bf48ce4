package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mchiang0610/continue/log"
)

var logger = log.GetLogger("DB")

// Config describes the sqlite file backing the persisted session index.
// Zero pool sizes mean one connection; sqlite has a single writer anyway.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	LogQueries      bool
}

func (c Config) dsn() string {
	return c.Path + "?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
}

// DB is the persisted session index. Snapshot files stay the source of
// truth; everything in here can be rebuilt from them.
type DB struct {
	conn       *sql.DB
	logQueries bool
	closeOnce  sync.Once
}

// Open opens the index at cfg.Path, creating its directory, and applies
// pending migrations.
func Open(cfg Config) (*DB, error) {
	if cfg.Path == "" {
		return nil, errors.New("database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(max(cfg.MaxOpenConns, 1))
	conn.SetMaxIdleConns(max(cfg.MaxIdleConns, 1))
	if cfg.ConnMaxLifetime > 0 {
		conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}

	logger.Info().Str("path", cfg.Path).Msg("session index ready")
	return &DB{conn: conn, logQueries: cfg.LogQueries}, nil
}

// Close is safe to call more than once
func (d *DB) Close() error {
	var err error
	d.closeOnce.Do(func() {
		err = d.conn.Close()
	})
	return err
}
