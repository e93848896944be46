package schema

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/prn-tf/gitobjdb/internal/chunk"
	"github.com/prn-tf/gitobjdb/internal/codec"
	"github.com/prn-tf/gitobjdb/internal/domain"
)

// StepRecorder receives timing for each applied migration step. It is an
// optional observability hook; a nil recorder is a no-op.
type StepRecorder interface {
	RecordMigration(step string, duration float64, newVersion int)
}

// step upgrades a database from one version to the next, entirely within
// a single transaction, and updates metadata.schema_version before
// returning.
type step func(ctx context.Context, tx *sql.Tx) error

// chain maps "migrate from this version" to the function that produces
// the next version. Versions below 3 predate this module's retrieval
// pack and are not handled; any database already at CurrentVersion or
// newer needs no entry here.
var chain = map[int]step{
	3:  migrateV3ToV4,
	4:  migrateV4ToV5,
	5:  migrateV5ToV6,
	6:  migrateV6ToV7,
	7:  migrateV7ToV8,
	8:  migrateV8ToV9,
	9:  migrateV9ToV10,
	10: migrateV10ToV11,
}

// Migrate reads the stored schema version and applies the migration
// chain, one version at a time, each step in its own transaction, until
// the database reaches CurrentVersion. A stored version above
// CurrentVersion is fatal. rec may be nil.
func Migrate(ctx context.Context, db *sql.DB, rec StepRecorder) error {
	version, err := ReadVersion(ctx, db)
	if err != nil {
		return err
	}
	if version > CurrentVersion {
		return fmt.Errorf("%w: stored version %d, supported up to %d", ErrUnsupportedSchema, version, CurrentVersion)
	}

	for version < CurrentVersion {
		fn, ok := chain[version]
		if !ok {
			return fmt.Errorf("schema: no migration registered from version %d", version)
		}

		start := time.Now()
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("schema: begin migration tx: %w", err)
		}
		if err := fn(ctx, tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("schema: migrate from v%d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("schema: commit migration from v%d: %w", version, err)
		}

		next := version + 1
		if rec != nil {
			rec.RecordMigration(fmt.Sprintf("v%d_to_v%d", version, next), time.Since(start).Seconds(), next)
		}
		version = next
	}

	return nil
}

func setVersion(ctx context.Context, tx *sql.Tx, version int) error {
	_, err := tx.ExecContext(ctx, "UPDATE metadata SET value = ? WHERE key = ?", fmt.Sprintf("%d", version), domain.MetaSchemaVersion)
	return err
}

// migrateV3ToV4 splits the single objects table into objects + chunks +
// object_chunks, dropping the former table's NOT NULL on data.
func migrateV3ToV4(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		"ALTER TABLE objects RENAME TO _objects_v3",
		`CREATE TABLE objects (
			sha TEXT PRIMARY KEY NOT NULL,
			type_num INTEGER NOT NULL,
			data BLOB,
			total_size INTEGER,
			type_name TEXT GENERATED ALWAYS AS (
				CASE type_num
					WHEN 1 THEN 'commit'
					WHEN 2 THEN 'tree'
					WHEN 3 THEN 'blob'
					WHEN 4 THEN 'tag'
				END
			) VIRTUAL,
			size_bytes INTEGER GENERATED ALWAYS AS (
				CASE WHEN data IS NOT NULL THEN length(data) ELSE total_size END
			) VIRTUAL
		)`,
		"INSERT INTO objects (sha, type_num, data) SELECT sha, type_num, data FROM _objects_v3",
		"DROP TABLE _objects_v3",
		`CREATE TABLE IF NOT EXISTS chunks (
			chunk_sha TEXT PRIMARY KEY NOT NULL,
			data BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS object_chunks (
			object_sha TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			chunk_sha TEXT NOT NULL,
			PRIMARY KEY (object_sha, chunk_index)
		)`,
		"CREATE INDEX IF NOT EXISTS idx_object_chunks_chunk ON object_chunks (chunk_sha)",
	}
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return setVersion(ctx, tx, 4)
}

// migrateV4ToV5 adds per-chunk compression tracking.
func migrateV4ToV5(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		"ALTER TABLE chunks ADD COLUMN compression TEXT NOT NULL DEFAULT 'none'",
		"INSERT OR IGNORE INTO metadata (key, value) VALUES ('compression', 'none')",
	}
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return setVersion(ctx, tx, 5)
}

// migrateV5ToV6 adds generated convenience columns for SQL-tool
// inspection of objects, chunks and reflog.
func migrateV5ToV6(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		"ALTER TABLE objects ADD COLUMN is_chunked INTEGER GENERATED ALWAYS AS (data IS NULL) VIRTUAL",
		"ALTER TABLE chunks ADD COLUMN stored_size INTEGER GENERATED ALWAYS AS (length(data)) VIRTUAL",
		"ALTER TABLE reflog ADD COLUMN ref_name_text TEXT GENERATED ALWAYS AS (cast(ref_name AS TEXT)) VIRTUAL",
		"ALTER TABLE reflog ADD COLUMN old_sha_text TEXT GENERATED ALWAYS AS (cast(old_sha AS TEXT)) VIRTUAL",
		"ALTER TABLE reflog ADD COLUMN new_sha_text TEXT GENERATED ALWAYS AS (cast(new_sha AS TEXT)) VIRTUAL",
		"ALTER TABLE reflog ADD COLUMN committer_text TEXT GENERATED ALWAYS AS (cast(committer AS TEXT)) VIRTUAL",
		"ALTER TABLE reflog ADD COLUMN message_text TEXT GENERATED ALWAYS AS (cast(message AS TEXT)) VIRTUAL",
		"ALTER TABLE reflog ADD COLUMN datetime_text TEXT GENERATED ALWAYS AS (datetime(timestamp, 'unixepoch')) VIRTUAL",
		"ALTER TABLE refs ADD COLUMN name_hex TEXT GENERATED ALWAYS AS (hex(name)) VIRTUAL",
		"ALTER TABLE refs ADD COLUMN value_hex TEXT GENERATED ALWAYS AS (hex(value)) VIRTUAL",
		"ALTER TABLE refs ADD COLUMN name_text TEXT GENERATED ALWAYS AS (cast(name AS TEXT)) VIRTUAL",
		"ALTER TABLE refs ADD COLUMN value_text TEXT GENERATED ALWAYS AS (cast(value AS TEXT)) VIRTUAL",
		"ALTER TABLE peeled_refs ADD COLUMN name_hex TEXT GENERATED ALWAYS AS (hex(name)) VIRTUAL",
		"ALTER TABLE peeled_refs ADD COLUMN value_hex TEXT GENERATED ALWAYS AS (hex(value)) VIRTUAL",
		"ALTER TABLE peeled_refs ADD COLUMN name_text TEXT GENERATED ALWAYS AS (cast(name AS TEXT)) VIRTUAL",
		"ALTER TABLE peeled_refs ADD COLUMN value_text TEXT GENERATED ALWAYS AS (cast(value AS TEXT)) VIRTUAL",
	}
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return setVersion(ctx, tx, 6)
}

// migrateV6ToV7 replaces the text-SHA join table with one keyed by the
// objects/chunks tables' own rowids.
func migrateV6ToV7(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE object_chunks_new (
			object_id INTEGER NOT NULL,
			chunk_index INTEGER NOT NULL,
			chunk_id INTEGER NOT NULL,
			PRIMARY KEY (object_id, chunk_index)
		)`,
		`INSERT INTO object_chunks_new (object_id, chunk_index, chunk_id)
			SELECT o.rowid, oc.chunk_index, c.rowid
			FROM object_chunks oc
			JOIN objects o ON o.sha = oc.object_sha
			JOIN chunks c ON c.chunk_sha = oc.chunk_sha`,
		"DROP INDEX IF EXISTS idx_object_chunks_chunk",
		"DROP TABLE object_chunks",
		"ALTER TABLE object_chunks_new RENAME TO object_chunks",
		"CREATE INDEX idx_object_chunks_chunk ON object_chunks (chunk_id)",
	}
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return setVersion(ctx, tx, 7)
}

// migrateV7ToV8 adds per-object compression and makes size_bytes track
// total_size instead of length(data), since inline objects may now be
// compressed.
func migrateV7ToV8(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		"ALTER TABLE objects ADD COLUMN compression TEXT NOT NULL DEFAULT 'none'",
		"UPDATE objects SET total_size = length(data) WHERE data IS NOT NULL AND total_size IS NULL",
		"ALTER TABLE objects RENAME TO _objects_v7",
		`CREATE TABLE objects (
			sha TEXT PRIMARY KEY NOT NULL,
			type_num INTEGER NOT NULL,
			data BLOB,
			total_size INTEGER,
			compression TEXT NOT NULL DEFAULT 'none',
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
		`INSERT INTO objects (sha, type_num, data, total_size, compression)
			SELECT sha, type_num, data, total_size, compression FROM _objects_v7`,
		`UPDATE object_chunks SET object_id = (
			SELECT o_new.rowid FROM objects o_new
			JOIN _objects_v7 o_old ON o_old.sha = o_new.sha
			WHERE o_old.rowid = object_chunks.object_id
		)`,
		"DROP TABLE _objects_v7",
	}
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return setVersion(ctx, tx, 8)
}

// migrateV8ToV9 replaces the object_chunks join table with a packed
// chunk_refs BLOB column storing each chunked object's ordered chunk
// rowids as little-endian 8-byte unsigned integers (the fixed-width
// predecessor of the delta-varint encoding introduced in v10).
func migrateV8ToV9(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, "ALTER TABLE objects ADD COLUMN chunk_refs BLOB"); err != nil {
		return err
	}

	rows, err := tx.QueryContext(ctx, "SELECT object_id, chunk_id FROM object_chunks ORDER BY object_id, chunk_index")
	if err != nil {
		return err
	}
	groups := make(map[int64][]int64)
	var order []int64
	for rows.Next() {
		var objID, chunkID int64
		if err := rows.Scan(&objID, &chunkID); err != nil {
			rows.Close()
			return err
		}
		if _, seen := groups[objID]; !seen {
			order = append(order, objID)
		}
		groups[objID] = append(groups[objID], chunkID)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	for _, objID := range order {
		ids := groups[objID]
		packed := make([]byte, 8*len(ids))
		for i, id := range ids {
			binary.LittleEndian.PutUint64(packed[i*8:], uint64(id))
		}
		if _, err := tx.ExecContext(ctx, "UPDATE objects SET chunk_refs = ? WHERE rowid = ?", packed, objID); err != nil {
			return err
		}
	}

	stmts := []string{
		"DROP INDEX IF EXISTS idx_object_chunks_chunk",
		"DROP TABLE IF EXISTS object_chunks",
	}
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return setVersion(ctx, tx, 9)
}

// migrateV9ToV10 converts the text-hex sha primary keys to raw BLOB keys
// on both objects and chunks, and re-encodes chunk_refs from fixed
// 8-byte little-endian integers to the compact delta-zigzag-varint form.
func migrateV9ToV10(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `CREATE TABLE chunks_new (
		chunk_sha BLOB PRIMARY KEY NOT NULL,
		data BLOB NOT NULL,
		compression TEXT NOT NULL DEFAULT 'none',
		chunk_sha_hex TEXT GENERATED ALWAYS AS (lower(hex(chunk_sha))) VIRTUAL,
		stored_size INTEGER GENERATED ALWAYS AS (length(data)) VIRTUAL
	)`); err != nil {
		return err
	}

	chunkRows, err := tx.QueryContext(ctx, "SELECT rowid, chunk_sha, data, compression FROM chunks")
	if err != nil {
		return err
	}
	type chunkRow struct {
		rowid       int64
		sha         string
		data        []byte
		compression string
	}
	var chunkList []chunkRow
	for chunkRows.Next() {
		var r chunkRow
		if err := chunkRows.Scan(&r.rowid, &r.sha, &r.data, &r.compression); err != nil {
			chunkRows.Close()
			return err
		}
		chunkList = append(chunkList, r)
	}
	if err := chunkRows.Err(); err != nil {
		return err
	}
	chunkRows.Close()

	for _, r := range chunkList {
		shaBin, err := hexToBytes(r.sha)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO chunks_new (rowid, chunk_sha, data, compression) VALUES (?, ?, ?, ?)",
			r.rowid, shaBin, r.data, r.compression,
		); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, "DROP TABLE chunks"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "ALTER TABLE chunks_new RENAME TO chunks"); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `CREATE TABLE objects_new (
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
	)`); err != nil {
		return err
	}

	objRows, err := tx.QueryContext(ctx, "SELECT sha, type_num, data, chunk_refs, total_size, compression FROM objects")
	if err != nil {
		return err
	}
	type objRow struct {
		sha         string
		typeNum     int
		data        []byte
		chunkRefs   []byte
		totalSize   sql.NullInt64
		compression string
	}
	var objList []objRow
	for objRows.Next() {
		var r objRow
		if err := objRows.Scan(&r.sha, &r.typeNum, &r.data, &r.chunkRefs, &r.totalSize, &r.compression); err != nil {
			objRows.Close()
			return err
		}
		objList = append(objList, r)
	}
	if err := objRows.Err(); err != nil {
		return err
	}
	objRows.Close()

	for _, r := range objList {
		shaBin, err := hexToBytes(r.sha)
		if err != nil {
			return err
		}
		var newRefs []byte
		if r.chunkRefs != nil {
			n := len(r.chunkRefs) / 8
			ids := make([]domain.ChunkRowID, n)
			for i := 0; i < n; i++ {
				ids[i] = domain.ChunkRowID(binary.LittleEndian.Uint64(r.chunkRefs[i*8:]))
			}
			newRefs = chunk.PackChunkRefs(ids)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO objects_new (sha, type_num, data, chunk_refs, total_size, compression) VALUES (?, ?, ?, ?, ?, ?)",
			shaBin, r.typeNum, r.data, newRefs, r.totalSize, r.compression,
		); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, "DROP TABLE objects"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "ALTER TABLE objects_new RENAME TO objects"); err != nil {
		return err
	}

	return setVersion(ctx, tx, 10)
}

// migrateV10ToV11 adds raw_size to chunks so byte-range reads can
// compute cumulative offsets without decompressing every chunk; existing
// rows are backfilled by decompressing under whatever dictionary, if
// any, was active when they were written.
func migrateV10ToV11(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, "ALTER TABLE chunks ADD COLUMN raw_size INTEGER"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "UPDATE chunks SET raw_size = length(data) WHERE compression = 'none'"); err != nil {
		return err
	}

	rows, err := tx.QueryContext(ctx, "SELECT rowid, data, compression FROM chunks WHERE compression != 'none'")
	if err != nil {
		return err
	}
	type row struct {
		rowid       int64
		data        []byte
		compression string
	}
	var compressed []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.rowid, &r.data, &r.compression); err != nil {
			rows.Close()
			return err
		}
		compressed = append(compressed, r)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()
	if len(compressed) == 0 {
		return setVersion(ctx, tx, 11)
	}

	c := codec.New()
	for _, path := range []string{domain.NamedFileDictCommit, domain.NamedFileDictTree, domain.NamedFileDictChunk, domain.NamedFileDictLegacy} {
		var contents []byte
		err := tx.QueryRowContext(ctx, "SELECT contents FROM named_files WHERE path = ?", path).Scan(&contents)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return err
		}
		var kind domain.DictKind
		switch path {
		case domain.NamedFileDictCommit:
			kind = domain.DictCommit
		case domain.NamedFileDictTree:
			kind = domain.DictTree
		case domain.NamedFileDictChunk:
			kind = domain.DictChunk
		default:
			kind = domain.DictLegacy
		}
		if err := c.LoadDictionary(kind, contents); err != nil {
			return fmt.Errorf("schema: load dictionary %s during migration: %w", path, err)
		}
	}

	for _, r := range compressed {
		raw, err := c.Decompress(domain.Compression(r.compression), r.data)
		if err != nil {
			return fmt.Errorf("schema: backfill raw_size for chunk %d: %w", r.rowid, err)
		}
		if _, err := tx.ExecContext(ctx, "UPDATE chunks SET raw_size = ? WHERE rowid = ?", len(raw), r.rowid); err != nil {
			return err
		}
	}

	return setVersion(ctx, tx, 11)
}

func hexToBytes(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("schema: decode hex sha %q: %w", s, err)
	}
	return b, nil
}
