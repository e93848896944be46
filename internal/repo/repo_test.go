package repo

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prn-tf/gitobjdb/internal/config"
	"github.com/prn-tf/gitobjdb/internal/domain"
	"github.com/prn-tf/gitobjdb/internal/objectstore"
	"github.com/prn-tf/gitobjdb/internal/refs"
)

func dbPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "repo.db")
}

// TestRepo_InitOpenRoundTrip exercises a single commit object stored,
// the repository closed, and reopened, verifying the object is still
// readable and the schema version survives (scenario: bare init, one
// write, reopen, read back).
func TestRepo_InitOpenRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := dbPath(t)
	cfg := config.Defaults()

	r, err := InitBare(ctx, path, cfg)
	require.NoError(t, err)

	commitBody := []byte("tree aaaa\nauthor a <a@example.com> 0 +0000\ncommitter a <a@example.com> 0 +0000\n\nmsg\n")
	id, err := r.Objects.Insert(ctx, objectstore.RawObject{TypeNum: domain.TypeCommit, Data: commitBody})
	require.NoError(t, err)

	require.NoError(t, r.SetDescription(ctx, "a test repository"))
	require.NoError(t, r.Close())

	r2, err := Open(ctx, path, cfg)
	require.NoError(t, err)
	defer r2.Close()

	typeNum, raw, err := r2.Objects.GetRaw(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.TypeCommit, typeNum)
	require.Equal(t, commitBody, raw)

	desc, err := r2.GetDescription(ctx)
	require.NoError(t, err)
	require.Equal(t, "a test repository", desc)
}

// TestRepo_RefAndReflog exercises creating a branch ref pointing at a
// stored commit and reading it, and its reflog entry, back through the
// façade.
func TestRepo_RefAndReflog(t *testing.T) {
	ctx := context.Background()
	path := dbPath(t)
	r, err := InitBare(ctx, path, config.Defaults())
	require.NoError(t, err)
	defer r.Close()

	id, err := r.Objects.Insert(ctx, objectstore.RawObject{TypeNum: domain.TypeCommit, Data: []byte("commit body")})
	require.NoError(t, err)

	meta := refs.ReflogMeta{Committer: "tester <t@example.com>", Message: refs.Msg("initial commit")}
	ok, err := r.Refs.AddIfNew(ctx, "refs/heads/main", id, meta)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, r.Refs.SetSymbolicRef(ctx, "HEAD", "refs/heads/main"))

	state, err := r.Refs.ReadLooseRef(ctx, "HEAD")
	require.NoError(t, err)
	require.True(t, state.IsSymbolic())
	require.Equal(t, "refs/heads/main", state.Target)

	direct, err := r.Refs.ReadLooseRef(ctx, "refs/heads/main")
	require.NoError(t, err)
	require.Equal(t, id, direct.ID)

	entries, err := r.Refs.ReadReflog(ctx, "refs/heads/main", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "initial commit", entries[0].Message)
}

// TestRepo_TrainDictionaryThenReopenDecodesLegacy exercises the legacy
// dictionary path: a batch of commits is stored and compressed under no
// per-type dictionary, a dictionary is then trained, and both old and
// newly written rows must decode correctly after the repository is
// closed and reopened.
func TestRepo_TrainDictionaryThenReopenDecodesLegacy(t *testing.T) {
	ctx := context.Background()
	path := dbPath(t)
	cfg := config.Defaults()

	r, err := InitBare(ctx, path, cfg)
	require.NoError(t, err)
	require.NoError(t, r.EnableCompression(ctx, domain.CompressionZstd))

	var ids []domain.ObjectID
	for i := 0; i < 15; i++ {
		body := bytes.Repeat([]byte("tree deadbeef\nparent cafebabe\nauthor a <a@example.com> 0 +0000\n\n"), i%3+1)
		id, err := r.Objects.Insert(ctx, objectstore.RawObject{TypeNum: domain.TypeCommit, Data: body})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	require.NoError(t, r.TrainDictionary(ctx, domain.DictCommit, 4096))
	require.NoError(t, r.Close())

	r2, err := Open(ctx, path, cfg)
	require.NoError(t, err)
	defer r2.Close()

	for _, id := range ids {
		_, _, err := r2.Objects.GetRaw(ctx, id)
		require.NoError(t, err)
	}
}
