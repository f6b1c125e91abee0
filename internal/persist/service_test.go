package persist

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillsocial/quill/internal/model"
	"github.com/quillsocial/quill/internal/store"
)

func newService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st), st
}

func userEntity(id, name string) model.Entity {
	return model.Entity{
		ID:            id,
		Details:       json.RawMessage(`{"name":"` + name + `"}`),
		Counts:        json.RawMessage(`{"followers":2}`),
		Relationships: json.RawMessage(`{"following":true}`),
		Tags:          model.Tags{{Label: "dev", Taggers: []string{"u9"}}},
	}
}

func TestPersistEntities_AllSubRecordsVisibleAfterResolve(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.PersistEntities(ctx, model.FamilyUser, []model.Entity{
		userEntity("alice", "Alice"),
	}))

	// Every field group must reflect the new data once the call resolves
	for _, table := range []store.Table{
		store.TableUserDetails, store.TableUserCounts,
		store.TableUserRelationships, store.TableUserTags,
	} {
		_, found, err := st.FindByID(ctx, table, "alice")
		require.NoError(t, err)
		assert.True(t, found, "missing %s row after PersistEntities resolved", table)
	}

	tags, err := st.ReadTags(ctx, model.FamilyUser, "alice")
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, "dev", tags[0].Label)
}

func TestPersistEntities_PostAuthorStrippedFromDetails(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	post := model.Entity{
		ID:      "alice:1",
		Details: json.RawMessage(`{"author":"alice","content":"hi","indexed_at":5}`),
	}
	require.NoError(t, svc.PersistEntities(ctx, model.FamilyPost, []model.Entity{post}))

	payload, found, err := st.FindByID(ctx, store.TablePostDetails, "alice:1")
	require.NoError(t, err)
	require.True(t, found)

	var fields map[string]any
	require.NoError(t, json.Unmarshal([]byte(payload), &fields))
	assert.NotContains(t, fields, "author", "author is encoded in the composite id")
	assert.Equal(t, "hi", fields["content"])
}

func TestPersistEntities_RejectsMalformedPostID(t *testing.T) {
	svc, _ := newService(t)

	err := svc.PersistEntities(context.Background(), model.FamilyPost, []model.Entity{
		{ID: "no-colon", Details: json.RawMessage(`{}`)},
	})
	require.ErrorIs(t, err, model.ErrMalformedPostID)
}

func TestPersistEntities_EmptyInputIsNoop(t *testing.T) {
	svc, _ := newService(t)
	require.NoError(t, svc.PersistEntities(context.Background(), model.FamilyUser, nil))
}

func TestPersistStreams_ConcurrentUpserts(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	err := svc.PersistStreams(ctx, []StreamWrite{
		{StreamID: "timeline:all", IDs: []string{"a:1", "b:2"}},
		{StreamID: "influencers:today:all", IDs: []string{"u1", "u2", "u3"}},
		{StreamID: "hot:tags", IDs: []string{"bitcoin"}},
	})
	require.NoError(t, err)

	rec, found, err := st.ReadStream(ctx, "influencers:today:all")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []string{"u1", "u2", "u3"}, rec.IDs)
}

func TestPersistFiles(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	err := svc.PersistFiles(ctx, []model.File{
		{ID: "f1", ContentType: "image/png", Size: 42},
	})
	require.NoError(t, err)

	payload, found, err := st.FindByID(ctx, store.TableFiles, "f1")
	require.NoError(t, err)
	require.True(t, found)

	var f model.File
	require.NoError(t, json.Unmarshal([]byte(payload), &f))
	assert.Equal(t, int64(42), f.Size)
}

func TestPersistBootstrap(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	err := svc.PersistBootstrap(ctx, Bootstrap{
		Users: []model.Entity{userEntity("alice", "Alice")},
		Posts: []model.Entity{{
			ID:      "alice:1",
			Details: json.RawMessage(`{"content":"hello"}`),
		}},
		Lists: []StreamWrite{{StreamID: "timeline:all", IDs: []string{"alice:1"}}},
	})
	require.NoError(t, err)

	_, found, err := st.FindByID(ctx, store.TableUserDetails, "alice")
	require.NoError(t, err)
	assert.True(t, found)

	_, found, err = st.FindByID(ctx, store.TablePostDetails, "alice:1")
	require.NoError(t, err)
	assert.True(t, found)

	rec, found, err := st.ReadStream(ctx, "timeline:all")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []string{"alice:1"}, rec.IDs)
}
