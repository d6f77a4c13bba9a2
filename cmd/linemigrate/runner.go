package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"regexp"
	"strconv"

	migrate "github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3" // sqlite driver

	"github.com/linetrace/linetrace/migrations"
	"github.com/linetrace/linetrace/migrations/catalog"
	"github.com/linetrace/linetrace/migrations/manual"
	"github.com/linetrace/linetrace/migrations/voltech"
)

var migrationFilenameRegex = regexp.MustCompile(`^(\d{3})_[a-zA-Z0-9_]+\.(up|down)\.sql$`)

// parseSequence extracts the numeric sequence prefix from a migration
// filename such as "003_add_events.up.sql".
func parseSequence(filename string) (int, error) {
	matches := migrationFilenameRegex.FindStringSubmatch(filename)
	if len(matches) < 2 {
		return 0, fmt.Errorf("not a migration filename: %s", filename)
	}

	return strconv.Atoi(matches[1])
}

type (
	// MigrationRunner defines the interface for running database migrations
	// against a single schema.
	MigrationRunner interface {
		// Up applies all pending migrations.
		Up() error

		// Down rollbacks the last migration.
		Down() error

		// Status shows the current migration status.
		Status() error

		// Version shows the current migration version.
		Version() error

		// Drop drops all tables (destructive operation).
		Drop() error

		// Close closes any open connections.
		Close() error
	}

	// Runner implements MigrationRunner using golang-migrate against the
	// embedded SQL set for one schema.
	Runner struct {
		config            *Config
		migrate           *migrate.Migrate
		db                *sql.DB
		embeddedMigration *migrations.EmbeddedMigration
	}

	// migrateLogger implements the migrate.Logger interface.
	migrateLogger struct{}
)

// Ensure we implement the interface at compile time.
var _ migrate.Logger = (*migrateLogger)(nil)

// Add io.Writer interface compliance for broader compatibility.
var _ io.Writer = (*migrateLogger)(nil)

// embeddedFSFor returns the embedded migration filesystem for a schema name.
func embeddedFSFor(schema string) (*migrations.EmbeddedMigration, error) {
	switch schema {
	case "catalog":
		return migrations.NewEmbeddedMigration(catalog.FS), nil
	case "voltech":
		return migrations.NewEmbeddedMigration(voltech.FS), nil
	case "manual":
		return migrations.NewEmbeddedMigration(manual.FS), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownSchema, schema)
	}
}

// NewMigrationRunner creates a new migration runner for the given schema
// configuration.
func NewMigrationRunner(config *Config) (*Runner, error) {
	log.Printf("Initializing migration runner with config: %s", config.String())

	embeddedMigration, err := embeddedFSFor(config.Schema)
	if err != nil {
		return nil, err
	}

	log.Println("Validating embedded migrations at startup...")

	if err := embeddedMigration.ValidateEmbeddedMigrations(); err != nil {
		return nil, fmt.Errorf("embedded migration validation failed: %w", err)
	}

	log.Println("Embedded migration validation passed")

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("Database connection established successfully")

	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{
		MigrationsTable: config.MigrationTable,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create sqlite3 driver: %w", err)
	}

	log.Printf("Using embedded migrations for schema %q", config.Schema)

	sourceDriver, err := iofs.New(embeddedMigration.GetEmbeddedMigrations(), ".")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create embedded migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create migrate instance with embedded migrations: %w", err)
	}

	m.Log = &migrateLogger{}

	log.Println("Migration runner initialized successfully")

	return &Runner{
		config:            config,
		migrate:           m,
		db:                db,
		embeddedMigration: embeddedMigration,
	}, nil
}

// Up applies all pending migrations.
func (r *Runner) Up() error {
	log.Println("Pre-operation validation: checking embedded migrations...")

	if err := r.embeddedMigration.ValidateEmbeddedMigrations(); err != nil {
		return fmt.Errorf("pre-operation validation failed: %w", err)
	}

	log.Println("Starting migration up...")

	err := r.migrate.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		log.Println("No new migrations to apply")
	} else {
		log.Println("All migrations applied successfully")
	}

	return nil
}

// Down rollbacks the last migration.
func (r *Runner) Down() error {
	log.Println("Pre-operation validation: checking embedded migrations...")

	if err := r.embeddedMigration.ValidateEmbeddedMigrations(); err != nil {
		return fmt.Errorf("pre-operation validation failed: %w", err)
	}

	log.Println("Starting migration down...")

	err := r.migrate.Steps(-1)
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		log.Println("No migrations to rollback")
	} else {
		log.Println("Last migration rolled back successfully")
	}

	return nil
}

// Status shows the current migration status with schema compatibility information.
func (r *Runner) Status() error {
	ver, dirty, err := r.migrate.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			log.Println("Migration Status: No migrations applied yet")
			r.showSchemaCompatibility(0)

			return nil
		}

		return fmt.Errorf("failed to get migration version: %w", err)
	}

	status := "clean"
	if dirty {
		status = "dirty (needs manual intervention)"
	}

	log.Printf("Migration Status: Version %d (%s)\n", ver, status)

	r.showSchemaCompatibility(int(ver)) // #nosec G115 - version numbers are safe to convert

	if err := r.showPendingMigrations(); err != nil {
		log.Printf("Warning: Could not determine pending migrations: %v", err)
	}

	return nil
}

// Version shows the current migration version with schema compatibility.
func (r *Runner) Version() error {
	ver, dirty, err := r.migrate.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			log.Println("Current Version: No migrations applied")
			r.showSchemaCompatibility(0)

			return nil
		}

		return fmt.Errorf("failed to get migration version: %w", err)
	}

	dirtyNote := ""
	if dirty {
		dirtyNote = " (dirty)"
	}

	log.Printf("Current Version: %d%s\n", ver, dirtyNote)

	r.showSchemaCompatibility(int(ver)) // #nosec G115 - version numbers are safe to convert

	return nil
}

// Drop drops all tables (destructive operation).
func (r *Runner) Drop() error {
	log.Println("Pre-operation validation: checking embedded migrations...")

	if err := r.embeddedMigration.ValidateEmbeddedMigrations(); err != nil {
		return fmt.Errorf("pre-operation validation failed: %w", err)
	}

	log.Printf("WARNING: Dropping all tables for schema %q...", r.config.Schema)

	if err := r.migrate.Drop(); err != nil {
		return fmt.Errorf("drop operation failed: %w", err)
	}

	log.Println("All tables dropped successfully")

	return nil
}

// Close closes database connections.
func (r *Runner) Close() error {
	var errs []error

	if r.migrate != nil {
		sourceErr, dbErr := r.migrate.Close()
		if sourceErr != nil {
			errs = append(errs, fmt.Errorf("source close error: %w", sourceErr))
		}

		if dbErr != nil {
			errs = append(errs, fmt.Errorf("database close error: %w", dbErr))
		}
	}

	if r.db != nil {
		if err := r.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database connection close error: %w", err))
		}
	}

	return errors.Join(errs...)
}

// showPendingMigrations attempts to show information about pending migrations.
func (r *Runner) showPendingMigrations() error {
	log.Println("Note: Use 'up' command to apply any pending migrations")

	return nil
}

// showSchemaCompatibility displays schema version compatibility information
// between the migrator tool's embedded migrations and the current database state.
func (r *Runner) showSchemaCompatibility(currentVersion int) {
	maxSchemaVersion := r.getMaxEmbeddedSchemaVersion()

	log.Printf("Schema Compatibility (%s):", r.config.Schema)
	log.Printf("  Database Schema: v%03d", currentVersion)
	log.Printf("  Migrator Supports: v%03d", maxSchemaVersion)

	switch {
	case currentVersion == maxSchemaVersion:
		log.Printf("  Status: up to date")
	case currentVersion < maxSchemaVersion:
		pending := maxSchemaVersion - currentVersion
		log.Printf("  Status: %d migration(s) available", pending)
	default:
		log.Printf("  Status: database schema newer than migrator supports")
		log.Printf("  Warning: please update the migrator tool to handle schema v%03d", currentVersion)
	}
}

// getMaxEmbeddedSchemaVersion returns the highest migration sequence number
// from embedded migration files for this runner's schema.
func (r *Runner) getMaxEmbeddedSchemaVersion() int {
	files, err := r.embeddedMigration.ListEmbeddedMigrations()
	if err != nil {
		return 0
	}

	maxSequence := 0

	for _, filename := range files {
		info, err := parseSequence(filename)
		if err == nil && info > maxSequence {
			maxSequence = info
		}
	}

	return maxSequence
}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("[MIGRATE] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return true
}

func (l *migrateLogger) Write(p []byte) (int, error) {
	log.Printf("[MIGRATE] %s", string(p))
	return len(p), nil
}
