package main

import (
	"errors"
	"fmt"
	"os"
)

// Static errors for validation.
var (
	ErrDatabasePathEmpty   = errors.New("database path cannot be empty")
	ErrMigrationTableEmpty = errors.New("MIGRATION_TABLE cannot be empty")
	ErrUnknownSchema       = errors.New("unknown schema")
)

// schemaEnvVar maps a schema name to the environment variable that holds its
// SQLite file path, mirroring the per-store DATABASE_URL/VOLTECH_DATABASE_URL/
// MANUAL_DATABASE_URL split the original application used.
var schemaEnvVar = map[string]string{
	"catalog": "CATALOG_DATABASE_PATH",
	"voltech": "VOLTECH_DATABASE_PATH",
	"manual":  "MANUAL_DATABASE_PATH",
}

// schemaDefaultPath is used when the schema's environment variable is unset.
var schemaDefaultPath = map[string]string{
	"catalog": "./data/catalog.sqlite",
	"voltech": "./data/voltech.sqlite",
	"manual":  "./data/manual.sqlite",
}

// Config holds all configuration for a single schema's migration run.
type Config struct {
	// Schema names which store this config targets: catalog, voltech, or manual.
	Schema string

	// DatabasePath is the SQLite file path for this schema.
	DatabasePath string

	// MigrationTable is the name of the table used to track applied migrations.
	MigrationTable string
}

// LoadConfig loads configuration for the named schema from environment
// variables, with sensible defaults.
func LoadConfig(schema string) (*Config, error) {
	envVar, ok := schemaEnvVar[schema]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSchema, schema)
	}

	config := &Config{
		Schema:         schema,
		DatabasePath:   getEnvOrDefault(envVar, schemaDefaultPath[schema]),
		MigrationTable: getEnvOrDefault("MIGRATION_TABLE", "schema_migrations"),
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return ErrDatabasePathEmpty
	}

	if c.MigrationTable == "" {
		return ErrMigrationTableEmpty
	}

	return nil
}

// DSN returns the database/sql data source name for this schema's SQLite
// file, with foreign keys enabled.
func (c *Config) DSN() string {
	return c.DatabasePath + "?_foreign_keys=on"
}

// String returns a string representation of the configuration (safe for logging).
func (c *Config) String() string {
	return fmt.Sprintf("Config{Schema: %s, DatabasePath: %s, MigrationTable: %s}",
		c.Schema, c.DatabasePath, c.MigrationTable)
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return defaultValue
}
