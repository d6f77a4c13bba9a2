package storage

import (
	"errors"
	"strings"
	"time"

	"github.com/linetrace/linetrace/internal/config"
)

const (
	defaultMaxOpenConns    = 5 // SQLite is single-writer; a small pool avoids SQLITE_BUSY churn.
	defaultMaxIdleConns    = 2
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 10 * time.Minute
)

// Schema names one of the three logical stores this package manages.
type Schema string

const (
	SchemaCatalog Schema = "catalog"
	SchemaVoltech Schema = "voltech"
	SchemaManual  Schema = "manual"
)

// ErrDatabasePathEmpty is returned when a store's path resolves to empty.
var ErrDatabasePathEmpty = errors.New("database path cannot be empty")

// schemaEnvVar maps each schema to the environment variable that overrides
// its database location: DATABASE_URL, VOLTECH_DATABASE_URL, and
// MANUAL_DATABASE_URL each name a SQLite file path.
var schemaEnvVar = map[Schema]string{
	SchemaCatalog: "DATABASE_URL",
	SchemaVoltech: "VOLTECH_DATABASE_URL",
	SchemaManual:  "MANUAL_DATABASE_URL",
}

var schemaDefaultPath = map[Schema]string{
	SchemaCatalog: "./data/catalog.sqlite",
	SchemaVoltech: "./data/voltech.sqlite",
	SchemaManual:  "./data/manual.sqlite",
}

// Config holds SQLite connection configuration for one store.
type Config struct {
	Schema          Schema
	path            string
	MaxOpenConns    int           // Maximum number of open connections
	MaxIdleConns    int           // Maximum number of idle connections
	ConnMaxLifetime time.Duration // Maximum lifetime of connections
	ConnMaxIdleTime time.Duration // Maximum idle time for connections
}

// LoadConfig loads connection configuration for the named schema from
// environment variables, falling back to ./data/<schema>.sqlite relative to
// the working directory.
func LoadConfig(schema Schema) *Config {
	envVar := schemaEnvVar[schema]

	return &Config{
		Schema:          schema,
		path:            config.GetEnvStr(envVar, schemaDefaultPath[schema]),
		MaxOpenConns:    config.GetEnvInt("DATABASE_MAX_OPEN_CONNS", defaultMaxOpenConns),
		MaxIdleConns:    config.GetEnvInt("DATABASE_MAX_IDLE_CONNS", defaultMaxIdleConns),
		ConnMaxLifetime: config.GetEnvDuration("DATABASE_CONN_MAX_LIFETIME", defaultConnMaxLifetime),
		ConnMaxIdleTime: config.GetEnvDuration("DATABASE_CONN_MAX_IDLE_TIME", defaultConnMaxIdleTime),
	}
}

// Validate checks if the configuration is usable.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.path) == "" {
		return ErrDatabasePathEmpty
	}

	return nil
}

// DSN returns the database/sql data source name, with foreign keys enabled
// and a busy timeout so concurrent readers don't immediately fail against
// the single writer (the watcher Master).
func (c *Config) DSN() string {
	return c.path + "?_foreign_keys=on&_busy_timeout=5000"
}

// Path returns the raw SQLite file path (no DSN query parameters), safe for logging.
func (c *Config) Path() string {
	return c.path
}
