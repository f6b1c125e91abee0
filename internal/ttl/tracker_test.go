package ttl

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillsocial/quill/internal/batch"
	"github.com/quillsocial/quill/internal/model"
	"github.com/quillsocial/quill/internal/persist"
	"github.com/quillsocial/quill/internal/store"
	"github.com/quillsocial/quill/internal/testutil"
)

func newTracker(t *testing.T) (*Tracker, *store.Store, *testutil.FakeNexus, *testutil.FakeClock) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	clock := testutil.NewFakeClock(time.UnixMilli(1_000_000))
	fake := testutil.NewFakeNexus()
	svc := persist.New(st, persist.WithNow(clock.NowMillis))
	tr := New(st, fake, svc, WithClock(clock.Now))
	return tr, st, fake, clock
}

func scriptUser(fake *testutil.FakeNexus, id string) {
	fake.Entities[id] = model.Entity{
		ID:      id,
		Details: json.RawMessage(`{"name":"` + id + `"}`),
	}
}

func TestFindStaleIDs_NoRecordMeansStale(t *testing.T) {
	tr, _, _, _ := newTracker(t)

	stale, err := tr.FindStaleIDs(context.Background(), []string{"p1"}, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, stale)
}

func TestFindStaleIDs_FreshAfterForceRefresh(t *testing.T) {
	tr, _, fake, _ := newTracker(t)
	ctx := context.Background()
	scriptUser(fake, "p1")

	require.NoError(t, tr.ForceRefresh(ctx, []string{"p1"}, ""))

	stale, err := tr.FindStaleIDs(ctx, []string{"p1"}, 5*time.Second)
	require.NoError(t, err)
	assert.Empty(t, stale, "just-refreshed id must not be stale")
}

func TestFindStaleIDs_StaleAgainAfterMaxAge(t *testing.T) {
	tr, _, fake, clock := newTracker(t)
	ctx := context.Background()
	scriptUser(fake, "u1")

	require.NoError(t, tr.ForceRefresh(ctx, []string{"u1"}, ""))

	clock.Advance(4 * time.Second)
	stale, err := tr.FindStaleIDs(ctx, []string{"u1"}, 5*time.Second)
	require.NoError(t, err)
	assert.Empty(t, stale)

	clock.Advance(2 * time.Second) // now 6s old, max 5s
	stale, err = tr.FindStaleIDs(ctx, []string{"u1"}, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, stale)
}

func TestForceRefresh_OmittedIDsStayStale(t *testing.T) {
	tr, _, fake, _ := newTracker(t)
	ctx := context.Background()
	scriptUser(fake, "u1")
	// "ghost" is not in the fake: the remote no longer knows it

	require.NoError(t, tr.ForceRefresh(ctx, []string{"u1", "ghost"}, ""))

	stale, err := tr.FindStaleIDs(ctx, []string{"u1", "ghost"}, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []string{"ghost"}, stale,
		"ids the remote omitted must not be stamped fresh")
}

func TestForceRefresh_RemoteFailureWritesNoStamps(t *testing.T) {
	tr, st, fake, _ := newTracker(t)
	ctx := context.Background()
	fake.Err = assert.AnError

	err := tr.ForceRefresh(ctx, []string{"alice:1", "bob:2"}, "")
	require.ErrorIs(t, err, assert.AnError, "rejection propagates to the caller")

	ttls, err := st.ReadTTLs(ctx, []string{"alice:1", "bob:2"})
	require.NoError(t, err)
	assert.Empty(t, ttls, "no TTL records on failure")
}

func TestForceRefresh_PersistsBothFamiliesAndBatchesOnce(t *testing.T) {
	tr, st, fake, _ := newTracker(t)
	ctx := context.Background()
	scriptUser(fake, "u1")
	fake.Entities["alice:1"] = model.Entity{
		ID:      "alice:1",
		Details: json.RawMessage(`{"author":"alice","content":"hi"}`),
	}

	require.NoError(t, tr.ForceRefresh(ctx, []string{"u1", "alice:1"}, "viewer"))

	require.Len(t, fake.EntityCalls, 1, "one batched request, not per-id")
	assert.Equal(t, []string{"u1", "alice:1"}, fake.EntityCalls[0])

	_, found, err := st.FindByID(ctx, store.TableUserDetails, "u1")
	require.NoError(t, err)
	assert.True(t, found)
	_, found, err = st.FindByID(ctx, store.TablePostDetails, "alice:1")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestForceRefresh_HydratesPostFileRefs(t *testing.T) {
	tr, st, fake, _ := newTracker(t)
	ctx := context.Background()

	fake.Entities["alice:1"] = model.Entity{
		ID:      "alice:1",
		Details: json.RawMessage(`{"content":"pic","file_refs":["f1","f1","f2"]}`),
	}
	fake.Files["f1"] = model.File{ID: "f1", ContentType: "image/png"}
	fake.Files["f2"] = model.File{ID: "f2", ContentType: "image/jpeg"}

	require.NoError(t, tr.ForceRefresh(ctx, []string{"alice:1"}, ""))

	require.Len(t, fake.FileCalls, 1)
	assert.Equal(t, []string{"f1", "f2"}, fake.FileCalls[0], "file ids deduplicated")

	_, found, err := st.FindByID(ctx, store.TableFiles, "f1")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestForceRefresh_ReconcilesLocalDivergence(t *testing.T) {
	// A mutation applied locally whose remote forward failed leaves the
	// cache diverged; a later refresh overwrites it with remote truth.
	tr, st, fake, _ := newTracker(t)
	ctx := context.Background()

	_, err := st.AddTag(ctx, model.FamilyPost, "alice:1", "local-only", "viewer")
	require.NoError(t, err)

	fake.Entities["alice:1"] = model.Entity{
		ID:      "alice:1",
		Details: json.RawMessage(`{"content":"hi"}`),
		Tags:    model.Tags{{Label: "bitcoin", Taggers: []string{"u9"}}},
	}
	require.NoError(t, tr.ForceRefresh(ctx, []string{"alice:1"}, "viewer"))

	tags, err := st.ReadTags(ctx, model.FamilyPost, "alice:1")
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, "bitcoin", tags[0].Label, "remote state replaced the diverged local tag")
}

func TestForceRefresh_EmptyInputIsNoop(t *testing.T) {
	tr, _, fake, _ := newTracker(t)
	require.NoError(t, tr.ForceRefresh(context.Background(), nil, ""))
	assert.Empty(t, fake.EntityCalls, "no remote call for empty input")
}

func TestHydrator_CoalescesOverlappingRequests(t *testing.T) {
	tr, _, fake, _ := newTracker(t)
	scriptUser(fake, "u1")
	scriptUser(fake, "u2")

	h := NewHydrator(tr, "viewer", batch.WithDelay[string, string](10*time.Millisecond))
	defer h.Close()

	type res struct {
		payload string
		ok      bool
	}
	results := make(chan res, 2)
	for _, id := range []string{"u1", "u1"} {
		id := id
		go func() {
			payload, ok, err := h.Hydrate(context.Background(), id)
			require.NoError(t, err)
			results <- res{payload, ok}
		}()
	}
	r1, r2 := <-results, <-results

	assert.True(t, r1.ok)
	assert.True(t, r2.ok)
	assert.Equal(t, r1.payload, r2.payload)
	assert.Len(t, fake.EntityCalls, 1, "overlapping hydrations share one fetch")
}

func TestHydrator_AbsentResultOnRefreshFailure(t *testing.T) {
	tr, _, fake, _ := newTracker(t)
	fake.Err = assert.AnError

	h := NewHydrator(tr, "", batch.WithDelay[string, string](5*time.Millisecond))
	defer h.Close()

	payload, ok, err := h.Hydrate(context.Background(), "u1")
	require.NoError(t, err, "refresh failure is an absent result, not an error")
	assert.False(t, ok)
	assert.Empty(t, payload)
}
