package schema

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/stretchr/testify/require"

	"github.com/prn-tf/gitobjdb/internal/domain"
)

func openMemDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)
	return db
}

// seedV3 builds the oldest schema shape this module's migration chain
// understands: a single objects table with no chunking support.
func seedV3(t *testing.T, db *sql.DB) {
	t.Helper()
	ctx := context.Background()
	stmts := []string{
		`CREATE TABLE objects (
			sha TEXT PRIMARY KEY NOT NULL,
			type_num INTEGER NOT NULL,
			data BLOB NOT NULL
		)`,
		`CREATE TABLE refs (
			name BLOB PRIMARY KEY NOT NULL,
			value BLOB NOT NULL
		)`,
		`CREATE TABLE peeled_refs (
			name BLOB PRIMARY KEY NOT NULL,
			value BLOB NOT NULL
		)`,
		`CREATE TABLE named_files (
			path TEXT PRIMARY KEY NOT NULL,
			contents BLOB NOT NULL
		)`,
		`CREATE TABLE metadata (
			key TEXT PRIMARY KEY NOT NULL,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE reflog (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ref_name BLOB NOT NULL,
			old_sha BLOB NOT NULL,
			new_sha BLOB NOT NULL,
			committer BLOB NOT NULL,
			timestamp INTEGER NOT NULL,
			timezone INTEGER NOT NULL,
			message BLOB NOT NULL
		)`,
		"INSERT INTO metadata (key, value) VALUES ('schema_version', '3')",
		"INSERT INTO objects (sha, type_num, data) VALUES ('aa11223344556677889900112233445566778899', 3, x'68656c6c6f')",
	}
	for _, s := range stmts {
		_, err := db.ExecContext(ctx, s)
		require.NoError(t, err)
	}
}

func TestMigrate_ChainReachesCurrentVersion(t *testing.T) {
	db := openMemDB(t)
	seedV3(t, db)

	err := Migrate(context.Background(), db, nil)
	require.NoError(t, err)

	version, err := ReadVersion(context.Background(), db)
	require.NoError(t, err)
	require.Equal(t, CurrentVersion, version)

	var count int
	err = db.QueryRow("SELECT count(*) FROM objects").Scan(&count)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	var shaHex string
	err = db.QueryRow("SELECT sha_hex FROM objects").Scan(&shaHex)
	require.NoError(t, err)
	require.Equal(t, "aa11223344556677889900112233445566778899", shaHex)
}

func TestMigrate_NoopWhenAlreadyCurrent(t *testing.T) {
	db := openMemDB(t)
	err := Init(context.Background(), db, domain.CompressionNone)
	require.NoError(t, err)

	err = Migrate(context.Background(), db, nil)
	require.NoError(t, err)

	version, err := ReadVersion(context.Background(), db)
	require.NoError(t, err)
	require.Equal(t, CurrentVersion, version)
}

func TestMigrate_FutureVersionIsFatal(t *testing.T) {
	db := openMemDB(t)
	err := Init(context.Background(), db, domain.CompressionNone)
	require.NoError(t, err)

	_, err = db.Exec("UPDATE metadata SET value = ? WHERE key = 'schema_version'", CurrentVersion+1)
	require.NoError(t, err)

	err = Migrate(context.Background(), db, nil)
	require.ErrorIs(t, err, ErrUnsupportedSchema)
}
