package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
)

const (
	sqliteDriver = "sqlite3"
	ctxTimeout   = 5 * time.Second
)

// Connection wraps a single store's *sql.DB with pool configuration and a
// timeout-bounded health check. Each of the three stores (Catalog,
// Voltech, Manual) gets its own *Connection over its own SQLite file.
type Connection struct {
	*sql.DB

	Schema Schema
}

// NewConnection opens and health-checks a SQLite-backed Connection for one store.
func NewConnection(cfg *Config) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open(sqliteDriver, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Schema, err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("%s store health check failed: %w", cfg.Schema, err)
	}

	return &Connection{DB: db, Schema: cfg.Schema}, nil
}

// HealthCheck checks if the database connection is healthy with timeout.
func (c *Connection) HealthCheck(ctx context.Context) error { //nolint: contextcheck
	if ctx == nil {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(context.Background(), ctxTimeout)

		defer cancel()
	}

	return c.PingContext(ctx)
}

// Close closes the database connection pool gracefully. Safe to call multiple times.
func (c *Connection) Close() error {
	return c.DB.Close()
}

// Stats returns database connection pool statistics for monitoring.
func (c *Connection) Stats() sql.DBStats {
	return c.DB.Stats()
}

// Stores bundles the three live store connections a process needs. Both
// cmd/linewatcher and cmd/lineserver open all three at startup; which ones
// they actually write to differs (the watcher writes Voltech/Manual, the
// server only reads, both read Catalog).
type Stores struct {
	Catalog *Connection
	Voltech *Connection
	Manual  *Connection
}

// Open opens and health-checks all three stores, closing any that already
// succeeded if a later one fails.
func Open() (*Stores, error) {
	catalog, err := NewConnection(LoadConfig(SchemaCatalog))
	if err != nil {
		return nil, err
	}

	voltech, err := NewConnection(LoadConfig(SchemaVoltech))
	if err != nil {
		_ = catalog.Close()

		return nil, err
	}

	manual, err := NewConnection(LoadConfig(SchemaManual))
	if err != nil {
		_ = catalog.Close()
		_ = voltech.Close()

		return nil, err
	}

	return &Stores{Catalog: catalog, Voltech: voltech, Manual: manual}, nil
}

// Close closes all three stores, joining any close errors.
func (s *Stores) Close() error {
	var errs []error

	for _, conn := range []*Connection{s.Catalog, s.Voltech, s.Manual} {
		if conn == nil {
			continue
		}

		if err := conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) == 0 {
		return nil
	}

	joined := errs[0]
	for _, e := range errs[1:] {
		joined = fmt.Errorf("%w; %w", joined, e)
	}

	return joined
}
