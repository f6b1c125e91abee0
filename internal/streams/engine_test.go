package streams

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillsocial/quill/internal/model"
	"github.com/quillsocial/quill/internal/nexus"
	"github.com/quillsocial/quill/internal/store"
	"github.com/quillsocial/quill/internal/testutil"
)

func newEngine(t *testing.T) (*Engine, *store.Store, *testutil.FakeNexus) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	fake := testutil.NewFakeNexus()
	eng := New(st, fake, WithNow(func() int64 { return 1000 }))
	return eng, st, fake
}

func seedStream(t *testing.T, st *store.Store, streamID string, ids []string) {
	t.Helper()
	_, err := st.UpsertStreamIDs(context.Background(), streamID, ids, 500)
	require.NoError(t, err)
}

func seedUserDetails(t *testing.T, st *store.Store, ids ...string) {
	t.Helper()
	rows := make([]store.Row, len(ids))
	for i, id := range ids {
		rows[i] = store.Row{ID: id, Payload: `{}`}
	}
	require.NoError(t, st.BulkSave(context.Background(), store.TableUserDetails, rows))
}

func TestGetOrFetchSlice_CacheHitMakesNoRemoteCall(t *testing.T) {
	eng, st, fake := newEngine(t)
	ctx := context.Background()

	cached := []string{"u0", "u1", "u2", "u3", "u4", "u5", "u6", "u7", "u8", "u9"}
	seedStream(t, st, "influencers:today:all", cached)

	slice, err := eng.GetOrFetchSlice(ctx, Request{
		StreamID: "influencers:today:all", Skip: 5, Limit: 5,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"u5", "u6", "u7", "u8", "u9"}, slice.IDs)
	assert.Equal(t, SourceCache, slice.Source)
	require.NotNil(t, slice.NextCursor)
	assert.Equal(t, 10, *slice.NextCursor)
	assert.Equal(t, 0, fake.PageCallCount(), "cache hit must not touch the network")
}

func TestGetOrFetchSlice_MissFetchesExactlyMissingRange(t *testing.T) {
	eng, st, fake := newEngine(t)
	ctx := context.Background()

	seedStream(t, st, "influencers:today:all", []string{"u1", "u2", "u3"})
	fake.Pages["influencers:today:all"] = []nexus.Page{
		// Remote overlaps one cached id; overlap is dropped on merge
		{IDs: []string{"u3", "u4"}},
	}

	slice, err := eng.GetOrFetchSlice(ctx, Request{
		StreamID: "influencers:today:all", Skip: 0, Limit: 5,
	})
	require.NoError(t, err)

	require.Equal(t, 1, fake.PageCallCount(), "exactly one remote call")
	call := fake.PageCalls[0]
	assert.Equal(t, 3, call.Cursor.Offset, "cursor is the cached length")
	assert.Equal(t, 2, call.Limit, "limit covers only the missing range")

	// Merged sequence: 3 cached + 1 unique new id
	rec, _, err := st.ReadStream(ctx, "influencers:today:all")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2", "u3", "u4"}, rec.IDs)

	assert.Equal(t, []string{"u1", "u2", "u3", "u4"}, slice.IDs)
	assert.Equal(t, SourceNetwork, slice.Source)
	require.NotNil(t, slice.NextCursor)
	assert.Equal(t, 5, *slice.NextCursor, "pre-call length (3) + ids returned (2)")
}

func TestGetOrFetchSlice_ReportsCacheMissIDs(t *testing.T) {
	eng, st, fake := newEngine(t)
	ctx := context.Background()

	fake.Pages["influencers:today:all"] = []nexus.Page{
		{IDs: []string{"u1", "u2", "u3"}},
	}
	seedUserDetails(t, st, "u2") // only u2 is hydrated locally

	slice, err := eng.GetOrFetchSlice(ctx, Request{
		StreamID: "influencers:today:all", Skip: 0, Limit: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u3"}, slice.CacheMissIDs,
		"only unhydrated ids reported, order preserved")
}

func TestGetOrFetchSlice_EmptyRemotePageIsEndOfStream(t *testing.T) {
	eng, st, fake := newEngine(t)
	ctx := context.Background()

	seedStream(t, st, "influencers:today:all", []string{"u1", "u2"})
	// No scripted pages: the fake returns an empty page

	slice, err := eng.GetOrFetchSlice(ctx, Request{
		StreamID: "influencers:today:all", Skip: 0, Limit: 5,
	})
	require.NoError(t, err)
	require.Equal(t, 1, fake.PageCallCount())

	assert.Nil(t, slice.NextCursor, "empty page means stop paginating")
	assert.Equal(t, []string{"u1", "u2"}, slice.IDs,
		"the short final window still comes back from cache")

	// The stored sequence did not grow
	rec, _, err := st.ReadStream(ctx, "influencers:today:all")
	require.NoError(t, err)
	assert.Len(t, rec.IDs, 2)
}

func TestGetOrFetchSlice_IdempotentAppendOnReplay(t *testing.T) {
	eng, st, fake := newEngine(t)
	ctx := context.Background()

	seedStream(t, st, "hot:tags", []string{"t1", "t2", "t3"})
	fake.Pages["hot:tags"] = []nexus.Page{
		{IDs: []string{"t1", "t2", "t3"}}, // remote replays ids we already hold
	}

	_, err := eng.GetOrFetchSlice(ctx, Request{StreamID: "hot:tags", Skip: 0, Limit: 6})
	require.NoError(t, err)

	rec, _, err := st.ReadStream(ctx, "hot:tags")
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2", "t3"}, rec.IDs,
		"replayed page must not grow the sequence or introduce duplicates")
}

func TestGetOrFetchSlice_TimeCursorForTimelineKind(t *testing.T) {
	eng, st, fake := newEngine(t)
	ctx := context.Background()

	seedStream(t, st, "timeline:all", []string{"a:1"}) // UpdatedAt = 500
	fake.Pages["timeline:all"] = []nexus.Page{{IDs: []string{"b:2"}}}

	_, err := eng.GetOrFetchSlice(ctx, Request{StreamID: "timeline:all", Skip: 0, Limit: 2})
	require.NoError(t, err)

	require.Equal(t, 1, fake.PageCallCount())
	call := fake.PageCalls[0]
	assert.Equal(t, int64(500), call.Cursor.Since, "timelines page by last-seen time")
	assert.Zero(t, call.Cursor.Offset)
}

func TestGetOrFetchSlice_RemoteErrorPropagates(t *testing.T) {
	eng, _, fake := newEngine(t)
	fake.Err = assert.AnError

	_, err := eng.GetOrFetchSlice(context.Background(), Request{
		StreamID: "timeline:all", Skip: 0, Limit: 5,
	})
	require.ErrorIs(t, err, assert.AnError, "remote failure must not look like end-of-stream")
}

func TestGetOrFetchSlice_RejectsBadArguments(t *testing.T) {
	eng, _, _ := newEngine(t)
	ctx := context.Background()

	_, err := eng.GetOrFetchSlice(ctx, Request{StreamID: "timeline:all", Limit: 0})
	require.Error(t, err)

	_, err = eng.GetOrFetchSlice(ctx, Request{StreamID: "timeline:all", Skip: -1, Limit: 5})
	require.Error(t, err)
}

func TestGetOrFetchSlice_MixedFamilyMissLookup(t *testing.T) {
	eng, st, fake := newEngine(t)
	ctx := context.Background()

	// A stream mixing users and posts
	fake.Pages["recommended:mixed"] = []nexus.Page{
		{IDs: []string{"u1", "a:1"}},
	}
	require.NoError(t, st.BulkSave(ctx, store.TablePostDetails, []store.Row{
		{ID: "a:1", Payload: `{}`},
	}))

	slice, err := eng.GetOrFetchSlice(ctx, Request{StreamID: "recommended:mixed", Skip: 0, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, slice.CacheMissIDs,
		"post a:1 is hydrated, user u1 is not")
	assert.Equal(t, model.FamilyPost, model.FamilyOf("a:1"))
}
