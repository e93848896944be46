// Package objectstore implements the object store half of the embedded
// database: content-addressed, optionally chunked and compressed storage
// of commit/tree/blob/tag payloads, keyed by their Git object id.
package objectstore

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/gitobjdb/internal/chunk"
	"github.com/prn-tf/gitobjdb/internal/codec"
	"github.com/prn-tf/gitobjdb/internal/domain"
)

// dictKeyForChunk is the dictionary kind used when compressing any chunk,
// regardless of the owning object's type.
const dictKeyForChunk = domain.DictChunk

// Metrics is the subset of internal/metrics.Metrics the store
// instruments operations with. A nil Metrics is a no-op, matching its
// Record* methods' own nil receivers.
type Metrics interface {
	RecordStoreOperation(operation, status string, duration float64, bytes int64)
	RecordChunkDedup(bytes int64)
}

// Store is the object store half of a repository's database handle.
type Store struct {
	db           *sql.DB
	codec        *codec.Codec
	compression  domain.Compression
	log          zerolog.Logger
	metrics      Metrics
	verifyChunks bool
}

// New wraps an open database handle as an object store. compression is
// the default method used for newly written inline objects and chunks;
// it can be changed later via SetCompression to reflect the repository
// façade's enable/disable compression operations.
func New(db *sql.DB, c *codec.Codec, compression domain.Compression, log zerolog.Logger, metrics Metrics) *Store {
	return &Store{db: db, codec: c, compression: compression, log: log, metrics: metrics}
}

// SetCompression changes the method used for subsequent writes. Already
// stored rows are unaffected until rewritten (e.g. by dictionary
// retraining).
func (s *Store) SetCompression(c domain.Compression) {
	s.compression = c
}

// SetVerifyChunks enables or disables re-hashing each chunk's
// decompressed bytes against its chunk_sha key on every reassembly.
// Off by default, matching the spec's treatment of this as a debug-build
// check rather than an always-on cost on the read path.
func (s *Store) SetVerifyChunks(v bool) {
	s.verifyChunks = v
}

func (s *Store) record(operation, status string, start time.Time, bytes int64) {
	if s.metrics != nil {
		s.metrics.RecordStoreOperation(operation, status, time.Since(start).Seconds(), bytes)
	}
}

// RawObject is the canonical (type_num, raw_bytes) pair this module
// accepts from and hands back to callers above it (pack ingest,
// porcelain) per the host-library interface boundary.
type RawObject struct {
	TypeNum domain.TypeNum
	Data    []byte
}

// Insert stores obj, chunking blob payloads above the chunking threshold
// and compressing inline payloads and chunks under the store's current
// default compression method. Re-inserting the same object id is
// idempotent: the object row is replaced and any already-present chunks
// are left untouched (INSERT OR IGNORE on chunk content).
func (s *Store) Insert(ctx context.Context, obj RawObject) (domain.ObjectID, error) {
	start := time.Now()
	id := domain.HashObject(obj.TypeNum, obj.Data)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.record("insert", "error", start, 0)
		return id, fmt.Errorf("objectstore: begin insert tx: %w", err)
	}
	defer tx.Rollback()

	if err := s.insertLocked(ctx, tx, id, obj); err != nil {
		s.record("insert", "error", start, 0)
		return id, err
	}

	if err := tx.Commit(); err != nil {
		s.record("insert", "error", start, 0)
		return id, fmt.Errorf("objectstore: commit insert: %w", err)
	}

	s.record("insert", "ok", start, int64(len(obj.Data)))
	return id, nil
}

func (s *Store) insertLocked(ctx context.Context, tx *sql.Tx, id domain.ObjectID, obj RawObject) error {
	var pieces []chunk.Piece
	if obj.TypeNum == domain.TypeBlob {
		pieces = chunk.Split(obj.Data)
	}

	if pieces != nil {
		return s.insertChunked(ctx, tx, id, obj, pieces)
	}
	return s.insertInline(ctx, tx, id, obj)
}

func (s *Store) insertInline(ctx context.Context, tx *sql.Tx, id domain.ObjectID, obj RawObject) error {
	var dictKind domain.DictKind
	if kind, ok := obj.TypeNum.DictKindFor(); ok {
		dictKind = kind
	}

	stored, err := s.codec.Compress(s.compression, dictKind, obj.Data)
	if err != nil {
		return fmt.Errorf("objectstore: compress object %s: %w", id, err)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO objects (sha, type_num, data, chunk_refs, total_size, compression) VALUES (?, ?, ?, NULL, ?, ?)",
		id.Bytes(), uint8(obj.TypeNum), stored, len(obj.Data), string(s.compression),
	)
	if err != nil {
		return fmt.Errorf("objectstore: insert inline object %s: %w", id, err)
	}
	return nil
}

func (s *Store) insertChunked(ctx context.Context, tx *sql.Tx, id domain.ObjectID, obj RawObject, pieces []chunk.Piece) error {
	rowIDs := make([]domain.ChunkRowID, len(pieces))
	for i, p := range pieces {
		stored, err := s.codec.Compress(s.compression, dictKeyForChunk, p.Data)
		if err != nil {
			return fmt.Errorf("objectstore: compress chunk %s: %w", p.Hash, err)
		}

		res, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO chunks (chunk_sha, data, compression, raw_size) VALUES (?, ?, ?, ?)",
			p.Hash[:], stored, string(s.compression), len(p.Data),
		)
		if err != nil {
			return fmt.Errorf("objectstore: insert chunk %s: %w", p.Hash, err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 && s.metrics != nil {
			s.metrics.RecordChunkDedup(int64(len(p.Data)))
		}

		var rowID int64
		if err := tx.QueryRowContext(ctx, "SELECT rowid FROM chunks WHERE chunk_sha = ?", p.Hash[:]).Scan(&rowID); err != nil {
			return fmt.Errorf("objectstore: resolve chunk rowid for %s: %w", p.Hash, err)
		}
		rowIDs[i] = domain.ChunkRowID(rowID)
	}

	packed := chunk.PackChunkRefs(rowIDs)
	_, err := tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO objects (sha, type_num, data, chunk_refs, total_size, compression) VALUES (?, ?, NULL, ?, ?, 'none')",
		id.Bytes(), uint8(obj.TypeNum), packed, len(obj.Data),
	)
	if err != nil {
		return fmt.Errorf("objectstore: insert chunked object %s: %w", id, err)
	}
	return nil
}

// InsertBatch stores every object produced by the sequence, in one
// transaction, as the entry point pack ingest drives once it has decoded
// a stream into canonical (type_num, raw_bytes) tuples.
func (s *Store) InsertBatch(ctx context.Context, objects func(yield func(RawObject) bool)) error {
	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("objectstore: begin batch tx: %w", err)
	}
	defer tx.Rollback()

	count := 0
	var insertErr error
	objects(func(obj RawObject) bool {
		id := domain.HashObject(obj.TypeNum, obj.Data)
		if err := s.insertLocked(ctx, tx, id, obj); err != nil {
			insertErr = err
			return false
		}
		count++
		return true
	})
	if insertErr != nil {
		s.record("insert_batch", "error", start, 0)
		return insertErr
	}

	if err := tx.Commit(); err != nil {
		s.record("insert_batch", "error", start, 0)
		return fmt.Errorf("objectstore: commit batch: %w", err)
	}
	s.record("insert_batch", "ok", start, 0)
	return nil
}

// Contains reports whether id has a stored object row.
func (s *Store) Contains(ctx context.Context, id domain.ObjectID) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM objects WHERE sha = ?", id.Bytes()).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("objectstore: contains %s: %w", id, err)
	}
	return true, nil
}

// GetObjectSize returns the uncompressed length of id's content without
// reading any chunk bodies.
func (s *Store) GetObjectSize(ctx context.Context, id domain.ObjectID) (int64, error) {
	var size int64
	err := s.db.QueryRowContext(ctx, "SELECT total_size FROM objects WHERE sha = ?", id.Bytes()).Scan(&size)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("%w: %s", ErrObjectNotFound, id)
	}
	if err != nil {
		return 0, fmt.Errorf("objectstore: get size %s: %w", id, err)
	}
	return size, nil
}

// GetRaw returns id's type and full decompressed, reassembled content.
func (s *Store) GetRaw(ctx context.Context, id domain.ObjectID) (domain.TypeNum, []byte, error) {
	start := time.Now()

	var typeNum uint8
	var data []byte
	var compression string
	var chunkRefs []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT type_num, data, compression, chunk_refs FROM objects WHERE sha = ?", id.Bytes(),
	).Scan(&typeNum, &data, &compression, &chunkRefs)
	if err == sql.ErrNoRows {
		s.record("get_raw", "not_found", start, 0)
		return 0, nil, fmt.Errorf("%w: %s", ErrObjectNotFound, id)
	}
	if err != nil {
		s.record("get_raw", "error", start, 0)
		return 0, nil, fmt.Errorf("objectstore: get_raw %s: %w", id, err)
	}

	if data != nil {
		raw, err := s.codec.Decompress(domain.Compression(compression), data)
		if err != nil {
			s.record("get_raw", "error", start, 0)
			return 0, nil, fmt.Errorf("objectstore: decompress %s: %w", id, err)
		}
		s.record("get_raw", "ok", start, int64(len(raw)))
		return domain.TypeNum(typeNum), raw, nil
	}

	raw, err := s.reassembleChunks(ctx, chunkRefs)
	if err != nil {
		s.record("get_raw", "error", start, 0)
		return 0, nil, fmt.Errorf("objectstore: reassemble %s: %w", id, err)
	}
	s.record("get_raw", "ok", start, int64(len(raw)))
	return domain.TypeNum(typeNum), raw, nil
}

func (s *Store) reassembleChunks(ctx context.Context, packedRefs []byte) ([]byte, error) {
	rowIDs := chunk.UnpackChunkRefs(packedRefs)
	if len(rowIDs) == 0 {
		return nil, nil
	}

	byRow, err := s.fetchChunks(ctx, rowIDs)
	if err != nil {
		return nil, err
	}

	var out []byte
	for _, rid := range rowIDs {
		c, ok := byRow[rid]
		if !ok {
			return nil, fmt.Errorf("objectstore: missing chunk row %d", rid)
		}
		raw, err := s.codec.Decompress(domain.Compression(c.compression), c.data)
		if err != nil {
			return nil, fmt.Errorf("objectstore: decompress chunk row %d: %w", rid, err)
		}
		if s.verifyChunks && domain.HashChunk(raw) != c.sha {
			return nil, fmt.Errorf("objectstore: chunk row %d: %w", rid, ErrChunkCorrupt)
		}
		out = append(out, raw...)
	}
	return out, nil
}

type storedChunk struct {
	sha         domain.ChunkHash
	data        []byte
	compression string
	rawSize     int64
}

// fetchChunks loads the sha/data/compression/raw_size for a set of chunk
// row ids in one query.
func (s *Store) fetchChunks(ctx context.Context, rowIDs []domain.ChunkRowID) (map[domain.ChunkRowID]storedChunk, error) {
	if len(rowIDs) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(rowIDs))
	args := make([]any, len(rowIDs))
	for i, rid := range rowIDs {
		placeholders[i] = "?"
		args[i] = int64(rid)
	}
	query := fmt.Sprintf("SELECT rowid, chunk_sha, data, compression, raw_size FROM chunks WHERE rowid IN (%s)", strings.Join(placeholders, ","))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("objectstore: fetch chunks: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.ChunkRowID]storedChunk, len(rowIDs))
	for rows.Next() {
		var rid int64
		var sha []byte
		var c storedChunk
		if err := rows.Scan(&rid, &sha, &c.data, &c.compression, &c.rawSize); err != nil {
			return nil, fmt.Errorf("objectstore: scan chunk: %w", err)
		}
		copy(c.sha[:], sha)
		out[domain.ChunkRowID(rid)] = c
	}
	return out, rows.Err()
}

// GetRawRange returns a byte slice of id's content from offset, of at
// most length bytes. Offsets at or past the end return an empty slice;
// a length that would overrun the end is clamped to the available bytes.
func (s *Store) GetRawRange(ctx context.Context, id domain.ObjectID, offset, length int64) (domain.TypeNum, []byte, error) {
	start := time.Now()

	var typeNum uint8
	var data []byte
	var compression string
	var chunkRefs []byte
	var totalSize sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		"SELECT type_num, data, compression, chunk_refs, total_size FROM objects WHERE sha = ?", id.Bytes(),
	).Scan(&typeNum, &data, &compression, &chunkRefs, &totalSize)
	if err == sql.ErrNoRows {
		s.record("get_raw_range", "not_found", start, 0)
		return 0, nil, fmt.Errorf("%w: %s", ErrObjectNotFound, id)
	}
	if err != nil {
		s.record("get_raw_range", "error", start, 0)
		return 0, nil, fmt.Errorf("objectstore: get_raw_range %s: %w", id, err)
	}

	if offset < 0 {
		offset = 0
	}
	if length < 0 {
		length = 0
	}

	if data != nil {
		raw, err := s.codec.Decompress(domain.Compression(compression), data)
		if err != nil {
			s.record("get_raw_range", "error", start, 0)
			return 0, nil, fmt.Errorf("objectstore: decompress %s: %w", id, err)
		}
		slice := clampSlice(raw, offset, length)
		s.record("get_raw_range", "ok", start, int64(len(slice)))
		return domain.TypeNum(typeNum), slice, nil
	}

	rowIDs := chunk.UnpackChunkRefs(chunkRefs)
	if len(rowIDs) == 0 || offset >= totalSize.Int64 {
		s.record("get_raw_range", "ok", start, 0)
		return domain.TypeNum(typeNum), []byte{}, nil
	}

	sizes, err := s.fetchChunks(ctx, rowIDs)
	if err != nil {
		s.record("get_raw_range", "error", start, 0)
		return 0, nil, err
	}

	cumulative := make([]int64, len(rowIDs)+1)
	for i, rid := range rowIDs {
		cumulative[i+1] = cumulative[i] + sizes[rid].rawSize
	}

	end := offset + length
	if end > cumulative[len(cumulative)-1] {
		end = cumulative[len(cumulative)-1]
	}
	if offset >= end {
		s.record("get_raw_range", "ok", start, 0)
		return domain.TypeNum(typeNum), []byte{}, nil
	}

	firstChunk := 0
	for i := 0; i < len(rowIDs); i++ {
		if cumulative[i+1] > offset {
			firstChunk = i
			break
		}
	}
	lastChunk := firstChunk
	for i := firstChunk; i < len(rowIDs); i++ {
		lastChunk = i
		if cumulative[i+1] >= end {
			break
		}
	}

	var assembled []byte
	for i := firstChunk; i <= lastChunk; i++ {
		c := sizes[rowIDs[i]]
		raw, err := s.codec.Decompress(domain.Compression(c.compression), c.data)
		if err != nil {
			s.record("get_raw_range", "error", start, 0)
			return 0, nil, fmt.Errorf("objectstore: decompress chunk for range %s: %w", id, err)
		}
		if s.verifyChunks && domain.HashChunk(raw) != c.sha {
			s.record("get_raw_range", "error", start, 0)
			return 0, nil, fmt.Errorf("objectstore: chunk row %d: %w", rowIDs[i], ErrChunkCorrupt)
		}
		assembled = append(assembled, raw...)
	}

	sliceStart := offset - cumulative[firstChunk]
	sliceEnd := sliceStart + (end - offset)
	slice := assembled[sliceStart:sliceEnd]
	s.record("get_raw_range", "ok", start, int64(len(slice)))
	return domain.TypeNum(typeNum), slice, nil
}

func clampSlice(data []byte, offset, length int64) []byte {
	n := int64(len(data))
	if offset >= n {
		return []byte{}
	}
	end := offset + length
	if end > n {
		end = n
	}
	return data[offset:end]
}

// AllObjectIDs returns every stored object id in no particular order.
func (s *Store) AllObjectIDs(ctx context.Context) ([]domain.ObjectID, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT sha FROM objects")
	if err != nil {
		return nil, fmt.Errorf("objectstore: iterate objects: %w", err)
	}
	defer rows.Close()

	var ids []domain.ObjectID
	for rows.Next() {
		var b []byte
		if err := rows.Scan(&b); err != nil {
			return nil, fmt.Errorf("objectstore: scan object id: %w", err)
		}
		id, err := domain.ParseObjectID(b)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SearchContent returns the ids of blob objects whose content contains
// query as a literal byte substring, using the four-step union of SQL
// LIKE scans over uncompressed data and decompress-then-scan over
// compressed data, for both inline and chunked storage. Results are
// returned in deterministic ascending hex order; limit, if positive,
// is applied after sorting.
//
// The chunk-boundary span check (step 4's slow path) is a best-effort
// heuristic: it only looks at a window formed from each pair of adjacent
// chunks, so a query spanning three or more chunks can be missed. This
// matches the documented approximation and is not tightened further.
func (s *Store) SearchContent(ctx context.Context, query string, limit int) ([]domain.ObjectID, error) {
	queryBytes := []byte(query)
	escaped := escapeLike(query)

	results := make(map[domain.ObjectID]bool)

	// Step 1: SQL LIKE over uncompressed inline blobs.
	rows, err := s.db.QueryContext(ctx,
		"SELECT sha FROM objects WHERE data IS NOT NULL AND type_num = ? AND compression = 'none' AND CAST(data AS TEXT) LIKE ? ESCAPE '\\' AND instr(data, ?) > 0",
		uint8(domain.TypeBlob), "%"+escaped+"%", queryBytes,
	)
	if err != nil {
		return nil, fmt.Errorf("objectstore: search step 1: %w", err)
	}
	if err := scanIDsInto(rows, results); err != nil {
		return nil, err
	}

	// Step 2: decompress-and-scan over compressed inline blobs.
	rows, err = s.db.QueryContext(ctx,
		"SELECT sha, data, compression FROM objects WHERE data IS NOT NULL AND type_num = ? AND compression != 'none'",
		uint8(domain.TypeBlob),
	)
	if err != nil {
		return nil, fmt.Errorf("objectstore: search step 2: %w", err)
	}
	if err := s.scanCompressedBlobs(rows, queryBytes, results); err != nil {
		return nil, err
	}

	// Step 3: candidate chunk rowids, uncompressed via SQL and compressed
	// via decompress-and-scan.
	candidates := make(map[domain.ChunkRowID]bool)
	rows, err = s.db.QueryContext(ctx,
		"SELECT rowid FROM chunks WHERE compression = 'none' AND CAST(data AS TEXT) LIKE ? ESCAPE '\\' AND instr(data, ?) > 0",
		"%"+escaped+"%", queryBytes,
	)
	if err != nil {
		return nil, fmt.Errorf("objectstore: search step 3a: %w", err)
	}
	if err := scanChunkRowIDs(rows, candidates); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, "SELECT rowid, data, compression FROM chunks WHERE compression != 'none'")
	if err != nil {
		return nil, fmt.Errorf("objectstore: search step 3b: %w", err)
	}
	if err := s.scanCompressedChunks(rows, queryBytes, candidates); err != nil {
		return nil, err
	}

	// Step 4: chunked blobs, fast path (any single matching chunk) then
	// slow path (boundary-span window scan).
	rows, err = s.db.QueryContext(ctx,
		"SELECT sha, chunk_refs FROM objects WHERE chunk_refs IS NOT NULL AND type_num = ?",
		uint8(domain.TypeBlob),
	)
	if err != nil {
		return nil, fmt.Errorf("objectstore: search step 4: %w", err)
	}
	defer rows.Close()

	var pending []struct {
		id      domain.ObjectID
		rowIDs  []domain.ChunkRowID
	}
	for rows.Next() {
		var shaBytes, refsBytes []byte
		if err := rows.Scan(&shaBytes, &refsBytes); err != nil {
			return nil, fmt.Errorf("objectstore: search step 4 scan: %w", err)
		}
		id, err := domain.ParseObjectID(shaBytes)
		if err != nil {
			return nil, err
		}
		if results[id] {
			continue
		}
		rowIDs := chunk.UnpackChunkRefs(refsBytes)

		matched := false
		for _, rid := range rowIDs {
			if candidates[rid] {
				matched = true
				break
			}
		}
		if matched {
			results[id] = true
			continue
		}
		pending = append(pending, struct {
			id     domain.ObjectID
			rowIDs []domain.ChunkRowID
		}{id, rowIDs})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, p := range pending {
		if len(queryBytes) <= 1 || len(p.rowIDs) <= 1 {
			continue
		}
		found, err := s.boundarySpanMatch(ctx, p.rowIDs, queryBytes)
		if err != nil {
			return nil, err
		}
		if found {
			results[p.id] = true
		}
	}

	out := make([]domain.ObjectID, 0, len(results))
	for id := range results {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// boundarySpanMatch implements step 4's slow path: for each pair of
// adjacent chunks it builds a window of the previous chunk's tail
// (len(query)-1 bytes) concatenated with the next chunk's matching
// prefix, and checks whether query occurs inside that window.
func (s *Store) boundarySpanMatch(ctx context.Context, rowIDs []domain.ChunkRowID, query []byte) (bool, error) {
	overlap := len(query) - 1
	byRow, err := s.fetchChunks(ctx, rowIDs)
	if err != nil {
		return false, err
	}

	var prevTail []byte
	for _, rid := range rowIDs {
		c, ok := byRow[rid]
		if !ok {
			continue
		}
		raw, err := s.codec.Decompress(domain.Compression(c.compression), c.data)
		if err != nil {
			return false, fmt.Errorf("objectstore: decompress chunk row %d during search: %w", rid, err)
		}

		if len(prevTail) > 0 {
			head := raw
			if len(head) > overlap {
				head = head[:overlap]
			}
			window := append(append([]byte(nil), prevTail...), head...)
			if bytesContains(window, query) {
				return true, nil
			}
		}

		if len(raw) >= overlap {
			prevTail = raw[len(raw)-overlap:]
		} else {
			prevTail = raw
		}
	}
	return false, nil
}

func (s *Store) scanCompressedBlobs(rows *sql.Rows, query []byte, results map[domain.ObjectID]bool) error {
	defer rows.Close()
	for rows.Next() {
		var shaBytes, data []byte
		var compression string
		if err := rows.Scan(&shaBytes, &data, &compression); err != nil {
			return fmt.Errorf("objectstore: scan compressed blob: %w", err)
		}
		id, err := domain.ParseObjectID(shaBytes)
		if err != nil {
			return err
		}
		if results[id] {
			continue
		}
		raw, err := s.codec.Decompress(domain.Compression(compression), data)
		if err != nil {
			return fmt.Errorf("objectstore: decompress blob %s during search: %w", id, err)
		}
		if bytesContains(raw, query) {
			results[id] = true
		}
	}
	return rows.Err()
}

func (s *Store) scanCompressedChunks(rows *sql.Rows, query []byte, candidates map[domain.ChunkRowID]bool) error {
	defer rows.Close()
	for rows.Next() {
		var rowID int64
		var data []byte
		var compression string
		if err := rows.Scan(&rowID, &data, &compression); err != nil {
			return fmt.Errorf("objectstore: scan compressed chunk: %w", err)
		}
		raw, err := s.codec.Decompress(domain.Compression(compression), data)
		if err != nil {
			return fmt.Errorf("objectstore: decompress chunk %d during search: %w", rowID, err)
		}
		if bytesContains(raw, query) {
			candidates[domain.ChunkRowID(rowID)] = true
		}
	}
	return rows.Err()
}

func scanIDsInto(rows *sql.Rows, results map[domain.ObjectID]bool) error {
	defer rows.Close()
	for rows.Next() {
		var b []byte
		if err := rows.Scan(&b); err != nil {
			return fmt.Errorf("objectstore: scan id: %w", err)
		}
		id, err := domain.ParseObjectID(b)
		if err != nil {
			return err
		}
		results[id] = true
	}
	return rows.Err()
}

func scanChunkRowIDs(rows *sql.Rows, out map[domain.ChunkRowID]bool) error {
	defer rows.Close()
	for rows.Next() {
		var rowID int64
		if err := rows.Scan(&rowID); err != nil {
			return fmt.Errorf("objectstore: scan chunk rowid: %w", err)
		}
		out[domain.ChunkRowID(rowID)] = true
	}
	return rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer("\\", "\\\\", "%", "\\%", "_", "\\_")
	return r.Replace(s)
}

func bytesContains(haystack, needle []byte) bool {
	return strings.Contains(string(haystack), string(needle))
}
