// Package schema owns the embedded database's table definitions, the
// PRAGMAs applied on every connection, and the durable, versioned
// migration pipeline that upgrades an older on-disk file to the current
// shape.
package schema

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/prn-tf/gitobjdb/internal/domain"
)

// CurrentVersion is the schema version this module writes and expects.
// A stored version above this is a fatal "unsupported schema version"
// condition; a lower version triggers the migration chain in Migrate.
const CurrentVersion = 11

// ErrUnsupportedSchema is returned when an opened database's stored
// schema version is higher than CurrentVersion.
var ErrUnsupportedSchema = errors.New("schema: unsupported schema version")

// Pragmas are applied to every connection, in order, on open.
var Pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
}

// createTables is the current (v11) table shape, used only when
// initializing a brand-new database file.
var createTables = []string{
	`CREATE TABLE IF NOT EXISTS objects (
		sha BLOB PRIMARY KEY NOT NULL,
		type_num INTEGER NOT NULL,
		data BLOB,
		chunk_refs BLOB,
		total_size INTEGER,
		compression TEXT NOT NULL DEFAULT 'none',
		sha_hex TEXT GENERATED ALWAYS AS (lower(hex(sha))) VIRTUAL,
		type_name TEXT GENERATED ALWAYS AS (
			CASE type_num
				WHEN 1 THEN 'commit'
				WHEN 2 THEN 'tree'
				WHEN 3 THEN 'blob'
				WHEN 4 THEN 'tag'
			END
		) VIRTUAL,
		size_bytes INTEGER GENERATED ALWAYS AS (total_size) VIRTUAL,
		is_chunked INTEGER GENERATED ALWAYS AS (data IS NULL) VIRTUAL
	)`,
	`CREATE TABLE IF NOT EXISTS chunks (
		chunk_sha BLOB PRIMARY KEY NOT NULL,
		data BLOB NOT NULL,
		compression TEXT NOT NULL DEFAULT 'none',
		raw_size INTEGER,
		chunk_sha_hex TEXT GENERATED ALWAYS AS (lower(hex(chunk_sha))) VIRTUAL,
		stored_size INTEGER GENERATED ALWAYS AS (length(data)) VIRTUAL
	)`,
	`CREATE TABLE IF NOT EXISTS refs (
		name BLOB PRIMARY KEY NOT NULL,
		value BLOB NOT NULL,
		name_hex TEXT GENERATED ALWAYS AS (hex(name)) VIRTUAL,
		value_hex TEXT GENERATED ALWAYS AS (hex(value)) VIRTUAL,
		name_text TEXT GENERATED ALWAYS AS (cast(name AS TEXT)) VIRTUAL,
		value_text TEXT GENERATED ALWAYS AS (cast(value AS TEXT)) VIRTUAL
	)`,
	`CREATE TABLE IF NOT EXISTS peeled_refs (
		name BLOB PRIMARY KEY NOT NULL,
		value BLOB NOT NULL,
		name_hex TEXT GENERATED ALWAYS AS (hex(name)) VIRTUAL,
		value_hex TEXT GENERATED ALWAYS AS (hex(value)) VIRTUAL,
		name_text TEXT GENERATED ALWAYS AS (cast(name AS TEXT)) VIRTUAL,
		value_text TEXT GENERATED ALWAYS AS (cast(value AS TEXT)) VIRTUAL
	)`,
	`CREATE TABLE IF NOT EXISTS named_files (
		path TEXT PRIMARY KEY NOT NULL,
		contents BLOB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY NOT NULL,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS reflog (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ref_name BLOB NOT NULL,
		old_sha BLOB NOT NULL,
		new_sha BLOB NOT NULL,
		committer BLOB NOT NULL,
		timestamp INTEGER NOT NULL,
		timezone INTEGER NOT NULL,
		message BLOB NOT NULL,
		ref_name_text TEXT GENERATED ALWAYS AS (cast(ref_name AS TEXT)) VIRTUAL,
		old_sha_text TEXT GENERATED ALWAYS AS (cast(old_sha AS TEXT)) VIRTUAL,
		new_sha_text TEXT GENERATED ALWAYS AS (cast(new_sha AS TEXT)) VIRTUAL,
		committer_text TEXT GENERATED ALWAYS AS (cast(committer AS TEXT)) VIRTUAL,
		message_text TEXT GENERATED ALWAYS AS (cast(message AS TEXT)) VIRTUAL,
		datetime_text TEXT GENERATED ALWAYS AS (datetime(timestamp, 'unixepoch')) VIRTUAL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reflog_ref ON reflog (ref_name, id)`,
}

// ApplyPragmas runs Pragmas against db. Safe to call on every open.
func ApplyPragmas(ctx context.Context, db *sql.DB) error {
	for _, p := range Pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("schema: apply pragma %q: %w", p, err)
		}
	}
	return nil
}

// Init creates all tables for a brand-new database file and seeds
// metadata with the current schema version and defaultCompression as the
// method for new writes.
func Init(ctx context.Context, db *sql.DB, defaultCompression domain.Compression) error {
	if err := ApplyPragmas(ctx, db); err != nil {
		return err
	}
	for _, stmt := range createTables {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema: create table: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx,
		"INSERT OR IGNORE INTO metadata (key, value) VALUES (?, ?)",
		domain.MetaSchemaVersion, fmt.Sprintf("%d", CurrentVersion),
	); err != nil {
		return fmt.Errorf("schema: seed schema_version: %w", err)
	}
	if _, err := db.ExecContext(ctx,
		"INSERT OR IGNORE INTO metadata (key, value) VALUES (?, ?)",
		domain.MetaCompression, string(defaultCompression),
	); err != nil {
		return fmt.Errorf("schema: seed compression: %w", err)
	}
	return nil
}

// ReadVersion reads the stored schema version from the metadata table.
// A missing metadata row, or a non-integer value, indicates the file is
// not a repository produced by this module.
func ReadVersion(ctx context.Context, db *sql.DB) (int, error) {
	var raw string
	err := db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", domain.MetaSchemaVersion).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("schema: not a repository: missing %s", domain.MetaSchemaVersion)
	}
	if err != nil {
		return 0, fmt.Errorf("schema: read schema_version: %w", err)
	}
	var version int
	if _, err := fmt.Sscanf(raw, "%d", &version); err != nil {
		return 0, fmt.Errorf("schema: not a repository: malformed schema_version %q", raw)
	}
	return version, nil
}
