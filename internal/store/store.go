package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/quillsocial/quill/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added index on streams.updated_at for the refresher sweep
const currentSchemaVersion = 1

// Table names a store keyspace. Use the constants or a family helper;
// table names are interpolated into SQL and must never come from input.
type Table string

const (
	TableUserDetails       Table = "user_details"
	TableUserCounts        Table = "user_counts"
	TableUserRelationships Table = "user_relationships"
	TableUserTags          Table = "user_tags"
	TablePostDetails       Table = "post_details"
	TablePostCounts        Table = "post_counts"
	TablePostRelationships Table = "post_relationships"
	TablePostTags          Table = "post_tags"
	TableFiles             Table = "files"
	TableStreams           Table = "streams"
	TableTTL               Table = "ttl_records"
)

// DetailsTable returns the details table for a family.
func DetailsTable(f model.Family) Table {
	if f == model.FamilyPost {
		return TablePostDetails
	}
	return TableUserDetails
}

// CountsTable returns the counts table for a family.
func CountsTable(f model.Family) Table {
	if f == model.FamilyPost {
		return TablePostCounts
	}
	return TableUserCounts
}

// RelationshipsTable returns the relationships table for a family.
func RelationshipsTable(f model.Family) Table {
	if f == model.FamilyPost {
		return TablePostRelationships
	}
	return TableUserRelationships
}

// TagsTable returns the tags table for a family.
func TagsTable(f model.Family) Table {
	if f == model.FamilyPost {
		return TablePostTags
	}
	return TableUserTags
}

// Row is one (id, JSON payload) tuple for a bulk save.
type Row struct {
	ID      string
	Payload string
}

// Store is the durable local cache. Safe for concurrent use; SQLite's
// single-writer pool serializes writes.
type Store struct {
	db       *sql.DB
	notifier *notifier
}

// Open creates or opens the cache database at the given path.
// Applies required pragmas and migrations automatically; idempotent.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db, notifier: newNotifier()}, nil
}

// Close closes the database connection and drops all watchers.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	s.notifier.closeAll()
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
		version = 1
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds the streams.updated_at index for existing databases.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_streams_updated_at
		ON streams(updated_at)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

// Clear deletes every row in a table. Intended for tests and cache reset;
// the cache is always re-derivable from the remote source of truth.
func (s *Store) Clear(ctx context.Context, table Table) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", table)); err != nil {
		return fmt.Errorf("clear %s: %w", table, err)
	}
	s.notifier.publishTable(string(table))
	return nil
}
