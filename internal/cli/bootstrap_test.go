package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillsocial/quill/internal/store"
)

const bootstrapFixture = `{
  "users": [
    {"id": "alice", "details": {"name": "alice"}, "counts": {"followers": 1}}
  ],
  "posts": [
    {"id": "alice:1", "details": {"author": "alice", "content": "hello", "indexed_at": 100}}
  ],
  "lists": [
    {"stream_id": "timeline", "ids": ["alice:1"]}
  ]
}`

func TestBootstrap_LoadsPayload(t *testing.T) {
	dbPath := seedStore(t, func(*store.Store) {})
	cfg := writeTestConfig(t, dbPath, "")

	payload := filepath.Join(t.TempDir(), "bootstrap.json")
	require.NoError(t, os.WriteFile(payload, []byte(bootstrapFixture), 0o644))

	out, err := runCLI(t, "--config", cfg, "bootstrap", payload)
	require.NoError(t, err)
	assert.Contains(t, out, "bootstrapped 1 users, 1 posts, 1 lists")

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	_, found, err := st.FindByID(ctx, store.TableUserDetails, "alice")
	require.NoError(t, err)
	assert.True(t, found)

	details, found, err := st.FindByID(ctx, store.TablePostDetails, "alice:1")
	require.NoError(t, err)
	require.True(t, found)
	assert.NotContains(t, details, `"author"`, "author is derivable from the composite id")

	rec, found, err := st.ReadStream(ctx, "timeline")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []string{"alice:1"}, rec.IDs)
}

func TestBootstrap_MalformedPayloadIsCommandError(t *testing.T) {
	cfg := writeTestConfig(t, seedStore(t, func(*store.Store) {}), "")
	payload := filepath.Join(t.TempDir(), "bootstrap.json")
	require.NoError(t, os.WriteFile(payload, []byte("{not json"), 0o644))

	_, err := runCLI(t, "--config", cfg, "bootstrap", payload)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestBootstrap_MissingFileIsCommandError(t *testing.T) {
	cfg := writeTestConfig(t, seedStore(t, func(*store.Store) {}), "")

	_, err := runCLI(t, "--config", cfg, "bootstrap", filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
