package cli

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillsocial/quill/internal/store"
)

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func seedAlice(t *testing.T) string {
	t.Helper()
	return seedStore(t, func(st *store.Store) {
		ctx := context.Background()
		require.NoError(t, st.BulkSave(ctx, store.TableUserDetails,
			[]store.Row{{ID: "alice", Payload: `{"name":"alice"}`}}))
		require.NoError(t, st.BulkSave(ctx, store.TableUserCounts,
			[]store.Row{{ID: "alice", Payload: `{"followers":2}`}}))
		require.NoError(t, st.BulkSave(ctx, store.TableUserTags,
			[]store.Row{{ID: "alice", Payload: `[{"label":"bitcoin","taggers":["me"]}]`}}))
		require.NoError(t, st.StampTTL(ctx, []string{"alice"}, 1_000_000))
	})
}

func TestShowEntity_TextGolden(t *testing.T) {
	cfg := writeTestConfig(t, seedAlice(t), "")

	out, err := runCLI(t, "--config", cfg, "show", "entity", "alice")
	require.NoError(t, err)
	newGoldie(t).Assert(t, "show_entity_text", []byte(out))
}

func TestShowEntity_JSONGolden(t *testing.T) {
	cfg := writeTestConfig(t, seedAlice(t), "")

	out, err := runCLI(t, "--config", cfg, "--format", "json", "show", "entity", "alice")
	require.NoError(t, err)
	newGoldie(t).Assert(t, "show_entity_json", []byte(out))
}

func TestShowEntity_NotCached(t *testing.T) {
	cfg := writeTestConfig(t, seedStore(t, func(*store.Store) {}), "")

	_, err := runCLI(t, "--config", cfg, "show", "entity", "ghost")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestShowStream_TextGolden(t *testing.T) {
	dbPath := seedStore(t, func(st *store.Store) {
		_, err := st.UpsertStreamIDs(context.Background(), "influencers", []string{"u1", "u2", "u3"}, 500)
		require.NoError(t, err)
	})
	cfg := writeTestConfig(t, dbPath, "")

	out, err := runCLI(t, "--config", cfg, "show", "stream", "influencers", "--skip", "1", "--limit", "2")
	require.NoError(t, err)
	newGoldie(t).Assert(t, "show_stream_text", []byte(out))
}

func TestShowStream_NotCached(t *testing.T) {
	cfg := writeTestConfig(t, seedStore(t, func(*store.Store) {}), "")

	_, err := runCLI(t, "--config", cfg, "show", "stream", "timeline")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestShowStream_RejectsBadWindow(t *testing.T) {
	cfg := writeTestConfig(t, seedStore(t, func(*store.Store) {}), "")

	_, err := runCLI(t, "--config", cfg, "show", "stream", "timeline", "--limit", "0")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
