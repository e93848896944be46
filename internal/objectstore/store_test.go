package objectstore

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/gitobjdb/internal/chunk"
	"github.com/prn-tf/gitobjdb/internal/codec"
	"github.com/prn-tf/gitobjdb/internal/domain"
	"github.com/prn-tf/gitobjdb/internal/schema"
)

func newTestStore(t *testing.T, compression domain.Compression) (*Store, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite", "file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)
	require.NoError(t, schema.Init(context.Background(), db, compression))
	s := New(db, codec.New(), compression, zerolog.Nop(), nil)
	return s, db
}

// TestInsert_RoundTrip covers §8 property 5: for every (type_num, raw)
// inserted, GetRaw(HashObject(type_num, raw)) reproduces it exactly.
func TestInsert_RoundTrip(t *testing.T) {
	for _, compression := range []domain.Compression{domain.CompressionNone, domain.CompressionZlib, domain.CompressionZstd} {
		t.Run(string(compression), func(t *testing.T) {
			ctx := context.Background()
			s, _ := newTestStore(t, compression)

			body := []byte("tree deadbeef\nauthor a <a@example.com> 1700000000 +0000\n\nmsg\n")
			id, err := s.Insert(ctx, RawObject{TypeNum: domain.TypeCommit, Data: body})
			require.NoError(t, err)
			require.Equal(t, domain.HashObject(domain.TypeCommit, body), id)

			typeNum, raw, err := s.GetRaw(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, domain.TypeCommit, typeNum)
			assert.Equal(t, body, raw)
		})
	}
}

// TestInsert_ReinsertIsIdempotent exercises re-inserting an identical
// object: the object row is replaced, chunk content is left alone, and
// the object remains readable.
func TestInsert_ReinsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, domain.CompressionNone)

	body := []byte("hello world\n")
	id1, err := s.Insert(ctx, RawObject{TypeNum: domain.TypeBlob, Data: body})
	require.NoError(t, err)
	id2, err := s.Insert(ctx, RawObject{TypeNum: domain.TypeBlob, Data: body})
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	_, raw, err := s.GetRaw(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, body, raw)
}

// TestInsert_ChunkedBlobRoundTrip is scenario S2: a blob large enough to
// be chunked reassembles byte-for-byte, with chunk_refs populated and
// data left NULL.
func TestInsert_ChunkedBlobRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, db := newTestStore(t, domain.CompressionNone)

	var buf bytes.Buffer
	for i := 0; i < 500; i++ {
		fmt.Fprintf(&buf, "line %d of the file\n", i)
	}
	body := buf.Bytes()

	id, err := s.Insert(ctx, RawObject{TypeNum: domain.TypeBlob, Data: body})
	require.NoError(t, err)

	_, raw, err := s.GetRaw(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, body, raw)

	var data []byte
	var chunkRefs []byte
	var totalSize int64
	err = db.QueryRowContext(ctx, "SELECT data, chunk_refs, total_size FROM objects WHERE sha = ?", id.Bytes()).
		Scan(&data, &chunkRefs, &totalSize)
	require.NoError(t, err)
	assert.Nil(t, data)
	assert.NotNil(t, chunkRefs)
	assert.Equal(t, int64(len(body)), totalSize)

	size, err := s.GetObjectSize(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(len(body)), size)
}

// TestInsert_DedupAcrossSharedPrefix is scenario S3: two blobs sharing a
// prefix of identical chunks store each identical chunk exactly once.
func TestInsert_DedupAcrossSharedPrefix(t *testing.T) {
	ctx := context.Background()
	s, db := newTestStore(t, domain.CompressionNone)

	var shared bytes.Buffer
	for i := 0; i < 400; i++ {
		fmt.Fprintf(&shared, "shared line %d of a long enough file\n", i)
	}
	a := append(append([]byte(nil), shared.Bytes()...), []byte("unique-a-suffix-data-that-is-long-enough-to-matter\n")...)
	b := append(append([]byte(nil), shared.Bytes()...), []byte("unique-b-suffix-data-that-is-long-enough-to-matter\n")...)

	idA, err := s.Insert(ctx, RawObject{TypeNum: domain.TypeBlob, Data: a})
	require.NoError(t, err)
	idB, err := s.Insert(ctx, RawObject{TypeNum: domain.TypeBlob, Data: b})
	require.NoError(t, err)

	_, rawA, err := s.GetRaw(ctx, idA)
	require.NoError(t, err)
	assert.Equal(t, a, rawA)
	_, rawB, err := s.GetRaw(ctx, idB)
	require.NoError(t, err)
	assert.Equal(t, b, rawB)

	var chunkCount int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT count(*) FROM chunks").Scan(&chunkCount))

	var refsA, refsB []byte
	require.NoError(t, db.QueryRowContext(ctx, "SELECT chunk_refs FROM objects WHERE sha = ?", idA.Bytes()).Scan(&refsA))
	require.NoError(t, db.QueryRowContext(ctx, "SELECT chunk_refs FROM objects WHERE sha = ?", idB.Bytes()).Scan(&refsB))

	totalRefs := len(chunk.UnpackChunkRefs(refsA)) + len(chunk.UnpackChunkRefs(refsB))
	assert.Less(t, chunkCount, totalRefs, "shared chunks must be stored once, not once per referencing object")
}

// TestGetRawRange is scenario S4 and §8 property 6: range reads equal
// the corresponding slice of the full object, with clamping past the
// end. The body contains no newline, so the text chunker yields a single
// piece and the blob is stored inline.
func TestGetRawRange(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, domain.CompressionNone)

	body := append(append(bytes.Repeat([]byte("A"), 5000), []byte("NEEDLE")...), bytes.Repeat([]byte("B"), 50000)...)
	id, err := s.Insert(ctx, RawObject{TypeNum: domain.TypeBlob, Data: body})
	require.NoError(t, err)

	_, slice, err := s.GetRawRange(ctx, id, 5000, 6)
	require.NoError(t, err)
	assert.Equal(t, []byte("NEEDLE"), slice)

	_, full, err := s.GetRaw(ctx, id)
	require.NoError(t, err)

	for _, tc := range []struct{ offset, length int64 }{
		{0, 10}, {5000, 6}, {5003, 10}, {0, int64(len(body))}, {int64(len(body) - 3), 100},
	} {
		_, got, err := s.GetRawRange(ctx, id, tc.offset, tc.length)
		require.NoError(t, err)
		end := tc.offset + tc.length
		if end > int64(len(full)) {
			end = int64(len(full))
		}
		assert.Equal(t, full[tc.offset:end], got, "offset=%d length=%d", tc.offset, tc.length)
	}

	_, past, err := s.GetRawRange(ctx, id, int64(len(body))+10, 5)
	require.NoError(t, err)
	assert.Empty(t, past)
}

// TestGetRawRange_InlineObject exercises the inline (non-chunked) range
// path against a small blob.
func TestGetRawRange_InlineObject(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, domain.CompressionZlib)

	body := []byte("a short blob well under the chunking threshold")
	id, err := s.Insert(ctx, RawObject{TypeNum: domain.TypeBlob, Data: body})
	require.NoError(t, err)

	_, got, err := s.GetRawRange(ctx, id, 2, 5)
	require.NoError(t, err)
	assert.Equal(t, body[2:7], got)

	_, past, err := s.GetRawRange(ctx, id, int64(len(body)), 5)
	require.NoError(t, err)
	assert.Empty(t, past)
}

// TestGetRaw_MissingObject exercises the not-found error path.
func TestGetRaw_MissingObject(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, domain.CompressionNone)

	var missing domain.ObjectID
	missing[0] = 0xff
	_, _, err := s.GetRaw(ctx, missing)
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

// TestContains reflects object presence accurately.
func TestContains(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, domain.CompressionNone)

	body := []byte("hello world\n")
	id, err := s.Insert(ctx, RawObject{TypeNum: domain.TypeBlob, Data: body})
	require.NoError(t, err)

	ok, err := s.Contains(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	var missing domain.ObjectID
	missing[0] = 0xff
	ok, err = s.Contains(ctx, missing)
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestSearchContent_InlineAndChunked covers SearchContent over a
// zstd-compressed inline blob and a zstd-compressed chunked blob whose
// marker line lies inside a single chunk, plus a query with no match.
func TestSearchContent_InlineAndChunked(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, domain.CompressionZstd)

	small, err := s.Insert(ctx, RawObject{TypeNum: domain.TypeBlob, Data: []byte("the quick brown fox")})
	require.NoError(t, err)

	var buf bytes.Buffer
	for i := 0; i < 500; i++ {
		fmt.Fprintf(&buf, "line %d of the file\n", i)
	}
	buf.WriteString("UNIQUE-MARKER-STRING-FOR-SEARCH\n")
	large, err := s.Insert(ctx, RawObject{TypeNum: domain.TypeBlob, Data: buf.Bytes()})
	require.NoError(t, err)

	ids, err := s.SearchContent(ctx, "quick brown", 0)
	require.NoError(t, err)
	assert.Contains(t, ids, small)

	ids, err = s.SearchContent(ctx, "UNIQUE-MARKER-STRING-FOR-SEARCH", 0)
	require.NoError(t, err)
	assert.Contains(t, ids, large)

	ids, err = s.SearchContent(ctx, "no such substring anywhere", 0)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

// TestSearchContent_Limit verifies limit is applied after deterministic
// sorting.
func TestSearchContent_Limit(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, domain.CompressionNone)

	for i := 0; i < 5; i++ {
		_, err := s.Insert(ctx, RawObject{TypeNum: domain.TypeBlob, Data: []byte(fmt.Sprintf("needle payload %d", i))})
		require.NoError(t, err)
	}

	ids, err := s.SearchContent(ctx, "needle", 2)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}

// TestAllObjectIDs enumerates every inserted object.
func TestAllObjectIDs(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, domain.CompressionNone)

	var inserted []domain.ObjectID
	for i := 0; i < 3; i++ {
		id, err := s.Insert(ctx, RawObject{TypeNum: domain.TypeBlob, Data: []byte(fmt.Sprintf("object %d", i))})
		require.NoError(t, err)
		inserted = append(inserted, id)
	}

	ids, err := s.AllObjectIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, inserted, ids)
}

// TestGetRaw_VerifyChunksDetectsCorruption exercises the opt-in chunk
// re-verification path: once a chunked blob's stored bytes are
// tampered with directly, reassembly with verification enabled must
// fail with ErrChunkCorrupt rather than silently returning the
// corrupted bytes.
func TestGetRaw_VerifyChunksDetectsCorruption(t *testing.T) {
	ctx := context.Background()
	s, db := newTestStore(t, domain.CompressionNone)

	var buf bytes.Buffer
	for i := 0; i < 500; i++ {
		fmt.Fprintf(&buf, "line %d of the file\n", i)
	}
	id, err := s.Insert(ctx, RawObject{TypeNum: domain.TypeBlob, Data: buf.Bytes()})
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, "UPDATE chunks SET data = data || 'x' WHERE rowid = (SELECT min(rowid) FROM chunks)")
	require.NoError(t, err)

	s.SetVerifyChunks(true)
	_, _, err = s.GetRaw(ctx, id)
	assert.ErrorIs(t, err, ErrChunkCorrupt)

	s.SetVerifyChunks(false)
	_, _, err = s.GetRaw(ctx, id)
	assert.NoError(t, err)
}

// TestInsertBatch stores every yielded object within one transaction.
func TestInsertBatch(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, domain.CompressionNone)

	bodies := [][]byte{[]byte("one"), []byte("two"), []byte("three")}
	err := s.InsertBatch(ctx, func(yield func(RawObject) bool) {
		for _, b := range bodies {
			if !yield(RawObject{TypeNum: domain.TypeBlob, Data: b}) {
				return
			}
		}
	})
	require.NoError(t, err)

	for _, b := range bodies {
		id := domain.HashObject(domain.TypeBlob, b)
		_, raw, err := s.GetRaw(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, b, raw)
	}
}
