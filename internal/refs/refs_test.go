package refs

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/stretchr/testify/require"

	"github.com/prn-tf/gitobjdb/internal/domain"
	"github.com/prn-tf/gitobjdb/internal/schema"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)
	require.NoError(t, schema.Init(context.Background(), db, domain.CompressionNone))
	return db
}

func testID(b byte) domain.ObjectID {
	var id domain.ObjectID
	id[0] = b
	id[19] = b
	return id
}

func TestContainer_AddIfNewThenCAS(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	c := New(db, nil)

	a := testID(0x11)
	b := testID(0x22)
	meta := ReflogMeta{Committer: "tester <t@example.com>", Timestamp: 1000, Timezone: 0, Message: Msg("create")}

	ok, err := c.AddIfNew(ctx, "refs/heads/main", a, meta)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.AddIfNew(ctx, "refs/heads/main", a, meta)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = c.SetIfEquals(ctx, "refs/heads/main", a, b, meta)
	require.NoError(t, err)
	require.True(t, ok)

	state, err := c.ReadLooseRef(ctx, "refs/heads/main")
	require.NoError(t, err)
	require.Equal(t, domain.RefDirect, state.Kind)
	require.Equal(t, b, state.ID)
}

func TestContainer_RemoveIfEquals(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	c := New(db, nil)

	a := testID(0x33)
	meta := ReflogMeta{Committer: "tester", Message: Msg("create")}
	ok, err := c.AddIfNew(ctx, "refs/heads/topic", a, meta)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.RemoveIfEquals(ctx, "refs/heads/topic", a, meta)
	require.NoError(t, err)
	require.True(t, ok)

	state, err := c.ReadLooseRef(ctx, "refs/heads/topic")
	require.NoError(t, err)
	require.True(t, state.IsAbsent())
}

func TestContainer_SetSymbolicRef(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	c := New(db, nil)

	require.NoError(t, c.SetSymbolicRef(ctx, "HEAD", "refs/heads/main"))

	state, err := c.ReadLooseRef(ctx, "HEAD")
	require.NoError(t, err)
	require.True(t, state.IsSymbolic())
	require.Equal(t, "refs/heads/main", state.Target)
}

func TestContainer_ReflogOrdering(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	c := New(db, nil)

	a := testID(0x01)
	b := testID(0x02)
	cc := testID(0x03)

	ok, err := c.AddIfNew(ctx, "refs/heads/main", a, ReflogMeta{Committer: "t", Message: Msg("m1")})
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = c.SetIfEquals(ctx, "refs/heads/main", a, b, ReflogMeta{Committer: "t", Message: Msg("m2")})
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = c.SetIfEquals(ctx, "refs/heads/main", b, cc, ReflogMeta{Committer: "t", Message: Msg("m3")})
	require.NoError(t, err)
	require.True(t, ok)

	entries, err := c.ReadReflog(ctx, "refs/heads/main", 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, "m1", entries[0].Message)
	require.Equal(t, "m3", entries[2].Message)
}

// TestContainer_ConcurrentCASExclusive exercises the scenario where many
// goroutines race AddIfNew against the same ref name: exactly one must
// win.
func TestContainer_ConcurrentCASExclusive(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	db.SetMaxOpenConns(1)
	c := New(db, nil)

	const n = 20
	var wg sync.WaitGroup
	successes := make([]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := testID(byte(i + 1))
			ok, err := c.AddIfNew(ctx, "refs/heads/race", id, ReflogMeta{Committer: "t", Message: Msg(fmt.Sprintf("attempt-%d", i))})
			successes[i] = err == nil && ok
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, ok := range successes {
		if ok {
			wins++
		}
	}
	require.Equal(t, 1, wins)

	state, err := c.ReadLooseRef(ctx, "refs/heads/race")
	require.NoError(t, err)
	require.Equal(t, domain.RefDirect, state.Kind)
}
