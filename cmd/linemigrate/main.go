// Package main provides the database migration CLI tool for linetrace.
//
// Unlike a single shared database, linetrace keeps three independently
// migrated SQLite stores (catalog, voltech, manual) — one per workstation
// fileshare role. This tool runs one schema at a time, or "all" for the
// up, status and version commands, via --schema.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
)

// Version information
const (
	version = "1.0.0-dev"
	name    = "linemigrate"
)

var allSchemas = []string{"catalog", "voltech", "manual"}

// ErrUnknownCommand is returned for any command not recognized by executeCommand.
var ErrUnknownCommand = errors.New("unknown command")

// ErrDropRequiresForce is returned when drop is requested without --force.
var ErrDropRequiresForce = errors.New(
	"drop command requires --force flag for safety (this will destroy all data)",
)

func main() {
	var (
		schemaFlag  = flag.String("schema", "all", "Schema to migrate: catalog, voltech, manual, or all")
		force       = flag.Bool("force", false, "Force dangerous operations without confirmation")
		configHelp  = flag.Bool("help", false, "Show help information")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	if *configHelp {
		printUsage()
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	command := args[0]

	schemas, err := resolveSchemas(*schemaFlag, command)
	if err != nil {
		log.Fatalf("%v", err)
	}

	for _, schema := range schemas {
		if err := runOne(schema, command, *force); err != nil {
			log.Fatalf("Migration failed for schema %q: %v", schema, err)
		}
	}
}

// resolveSchemas expands "all" to the three known schemas for the up,
// status and version commands, and rejects "all" for every other command
// so an operator must name the schema they intend to alter.
func resolveSchemas(schemaFlag, command string) ([]string, error) {
	if schemaFlag != "all" {
		for _, s := range allSchemas {
			if s == schemaFlag {
				return []string{schemaFlag}, nil
			}
		}

		return nil, fmt.Errorf("%w: %s", ErrUnknownSchema, schemaFlag)
	}

	switch command {
	case "status", "version":
		return allSchemas, nil
	case "up":
		return allSchemas, nil
	default:
		return nil, fmt.Errorf("--schema=all is not supported for %q; name a single schema", command)
	}
}

func runOne(schema, command string, force bool) error {
	config, err := LoadConfig(schema)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	runner, err := NewMigrationRunner(config)
	if err != nil {
		return fmt.Errorf("failed to create migration runner: %w", err)
	}

	defer func() {
		_ = runner.Close()
	}()

	return executeCommand(command, runner, force)
}

// executeCommand runs the specified migration command.
func executeCommand(command string, runner MigrationRunner, force bool) error {
	switch command {
	case "up":
		return runner.Up()
	case "down":
		return runner.Down()
	case "status":
		return runner.Status()
	case "version":
		return runner.Version()
	case "drop":
		if !force {
			return ErrDropRequiresForce
		}

		return runner.Drop()
	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}
}

// printUsage displays usage information.
func printUsage() {
	log.Printf(`%s v%s - Database Migration Tool for linetrace

USAGE:
    %s [OPTIONS] COMMAND

COMMANDS:
    up      Apply all pending migrations
    down    Rollback the last migration (requires --schema)
    status  Show migration status
    version Show current migration version
    drop    Drop all tables (DESTRUCTIVE - requires --schema and --force)

OPTIONS:
    --schema   Schema to operate on: catalog, voltech, manual, or all (default: all)
    --force    Force dangerous operations without confirmation
    --help     Show this help message
    --version  Show version information

ENVIRONMENT VARIABLES:
    CATALOG_DATABASE_PATH  SQLite file path for the catalog store
                           (default: ./data/catalog.sqlite)
    VOLTECH_DATABASE_PATH  SQLite file path for the voltech store
                           (default: ./data/voltech.sqlite)
    MANUAL_DATABASE_PATH   SQLite file path for the manual store
                           (default: ./data/manual.sqlite)
    MIGRATION_TABLE        Name of migration tracking table
                           (default: schema_migrations)

EXAMPLES:
    %s up                          # Apply all pending migrations to all three stores
    %s --schema=voltech status     # Show migration status for the voltech store
    %s --schema=manual down        # Rollback last migration on the manual store
    %s --schema=catalog drop --force  # Drop all catalog tables (DESTRUCTIVE)
`, name, version, name, name, name, name, name)
}
