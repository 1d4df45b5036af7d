package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/anyhui/aleeai-prompt/internal/domain"
	"github.com/anyhui/aleeai-prompt/internal/domain/models"
)

func sampleVersions(promptID string) []*models.Version {
	return []*models.Version{
		{ID: "pv_a", PromptID: promptID, VersionNumber: 1, Content: "first", ChangeDescription: "init", Timestamp: 1714564800000},
		{ID: "pv_b", PromptID: promptID, VersionNumber: 2, Content: "second\nline", ChangeDescription: "", Timestamp: 1714564860000},
	}
}

func TestOpen_MissingFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "versions.json")

	store, err := Open(path)
	require.NoError(t, err)

	ids, err := store.PromptIDs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)

	versions, err := store.Load(context.Background(), "p1")
	require.NoError(t, err)
	assert.Empty(t, versions)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "opening must not create the file")
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open("")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestStore_RoundTripJSON(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "versions.json")

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Store(ctx, "p1", sampleVersions("p1")))
	require.NoError(t, store.Store(ctx, "a-first", sampleVersions("a-first")[:1]))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk map[string]any
	require.NoError(t, json.Unmarshal(raw, &onDisk))
	assert.EqualValues(t, 1, onDisk["schema_version"])

	reopened, err := Open(path)
	require.NoError(t, err)

	ids, err := reopened.PromptIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a-first", "p1"}, ids)

	versions, err := reopened.Load(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, *sampleVersions("p1")[0], *versions[0])
	assert.Equal(t, *sampleVersions("p1")[1], *versions[1])
}

func TestStore_RoundTripMsgpack(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "versions.msgpack")

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Store(ctx, "p1", sampleVersions("p1")))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var snap snapshot
	require.NoError(t, msgpack.Unmarshal(raw, &snap))
	assert.Equal(t, models.VersionSchemaVersion, snap.SchemaVersion)
	require.Len(t, snap.Prompts["p1"], 2)

	reopened, err := Open(path)
	require.NoError(t, err)
	versions, err := reopened.Load(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, "second\nline", versions[1].Content)
}

func TestStore_EmptyListRemovesKey(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "versions.json")

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Store(ctx, "p1", sampleVersions("p1")))
	require.NoError(t, store.Store(ctx, "p1", nil))

	ids, err := store.PromptIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	reopened, err := Open(path)
	require.NoError(t, err)
	ids, err = reopened.PromptIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestStore_LoadReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store, err := Open(filepath.Join(t.TempDir(), "versions.json"))
	require.NoError(t, err)

	input := sampleVersions("p1")
	require.NoError(t, store.Store(ctx, "p1", input))
	input[0].Content = "mutated after store"

	loaded, err := store.Load(ctx, "p1")
	require.NoError(t, err)
	loaded[1].Content = "mutated after load"

	again, err := store.Load(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "first", again[0].Content)
	assert.Equal(t, "second\nline", again[1].Content)
}

func TestStore_WriteFailureLeavesNoTempFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "versions.json")

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Store(ctx, "p1", sampleVersions("p1")))

	// A directory at the target path makes reads and the final rename fail.
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.Mkdir(path, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(path, "blocker"), []byte("x"), 0o644))

	err = store.Store(ctx, "p2", sampleVersions("p2"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPersistence)

	_, err = store.Load(ctx, "p1")
	assert.ErrorIs(t, err, domain.ErrPersistence)

	leftovers, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestStore_TwoStoresOnOnePath(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "versions.json")

	cli, err := Open(path)
	require.NoError(t, err)
	server, err := Open(path)
	require.NoError(t, err)

	appendVersion := func(s *Store, id, content string) {
		t.Helper()
		require.NoError(t, s.WithTransaction(ctx, func(ctx context.Context) error {
			versions, err := s.Load(ctx, "shared")
			if err != nil {
				return err
			}
			versions = append(versions, &models.Version{
				ID: id, PromptID: "shared", VersionNumber: len(versions) + 1, Content: content,
			})
			return s.Store(ctx, "shared", versions)
		}))
	}

	appendVersion(cli, "pv_a", "from-cli")
	appendVersion(server, "pv_b", "from-serve")
	require.NoError(t, cli.Store(ctx, "other", sampleVersions("other")[:1]))

	// The long-running store sees what the other one wrote.
	seen, err := server.Load(ctx, "shared")
	require.NoError(t, err)
	require.Len(t, seen, 2)

	reopened, err := Open(path)
	require.NoError(t, err)
	versions, err := reopened.Load(ctx, "shared")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, "pv_a", versions[0].ID)
	assert.Equal(t, 1, versions[0].VersionNumber)
	assert.Equal(t, "pv_b", versions[1].ID)
	assert.Equal(t, 2, versions[1].VersionNumber)

	ids, err := reopened.PromptIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"other", "shared"}, ids)
}

func TestStore_ConcurrentTransactionsAcrossStores(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "versions.json")

	stores := make([]*Store, 2)
	for i := range stores {
		s, err := Open(path)
		require.NoError(t, err)
		stores[i] = s
	}

	const perStore = 10
	var wg sync.WaitGroup
	errs := make(chan error, len(stores)*perStore)
	for i, s := range stores {
		wg.Add(1)
		go func(i int, s *Store) {
			defer wg.Done()
			for n := 0; n < perStore; n++ {
				errs <- s.WithTransaction(ctx, func(ctx context.Context) error {
					versions, err := s.Load(ctx, "p1")
					if err != nil {
						return err
					}
					versions = append(versions, &models.Version{
						ID:            fmt.Sprintf("pv_%d_%d", i, n),
						PromptID:      "p1",
						VersionNumber: len(versions) + 1,
					})
					return s.Store(ctx, "p1", versions)
				})
			}
		}(i, s)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	versions, err := stores[0].Load(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, versions, len(stores)*perStore)
	for i, v := range versions {
		assert.Equal(t, i+1, v.VersionNumber)
	}
}

func TestStore_NestedTransactionReusesLock(t *testing.T) {
	ctx := context.Background()
	store, err := Open(filepath.Join(t.TempDir(), "versions.json"))
	require.NoError(t, err)

	err = store.WithTransaction(ctx, func(ctx context.Context) error {
		return store.WithTransaction(ctx, func(ctx context.Context) error {
			return store.Store(ctx, "p1", sampleVersions("p1"))
		})
	})
	require.NoError(t, err)

	versions, err := store.Load(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, versions, 2)
}

func TestStore_TransactionErrorIsReturned(t *testing.T) {
	ctx := context.Background()
	store, err := Open(filepath.Join(t.TempDir(), "versions.json"))
	require.NoError(t, err)

	boom := errors.New("boom")
	err = store.WithTransaction(ctx, func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	// The lock was released.
	require.NoError(t, store.Store(ctx, "p1", sampleVersions("p1")))
}

func TestOpen_LegacyLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "versions.json")
	legacy := `{
  "prompt-1": [
    {"id": "pv_x", "versionNumber": 3, "content": "old", "changeDescription": "a", "timestamp": 1},
    {"id": "pv_y", "versionNumber": 7, "content": "new", "changeDescription": "b", "timestamp": 2}
  ]
}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	store, err := Open(path)
	require.NoError(t, err)

	versions, err := store.Load(context.Background(), "prompt-1")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, "prompt-1", versions[0].PromptID)
	assert.Equal(t, 1, versions[0].VersionNumber)
	assert.Equal(t, 2, versions[1].VersionNumber)
	assert.Equal(t, "new", versions[1].Content)
}

func TestOpen_NewerSchemaRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "versions.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"schema_version": 2, "prompts": {}}`), 0o644))

	_, err := Open(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.Contains(t, err.Error(), "newer than supported")
}

func TestOpen_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "versions.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := Open(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPersistence)
}

func TestStore_CanceledContext(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "versions.json"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = store.Load(ctx, "p1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, store.Store(ctx, "p1", sampleVersions("p1")), context.Canceled)
}
