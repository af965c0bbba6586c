package store_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavfirsov/content-pipeline/config"
	"github.com/vladislavfirsov/content-pipeline/contracts"
	"github.com/vladislavfirsov/content-pipeline/internal/store"
	"github.com/vladislavfirsov/content-pipeline/internal/store/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T, now func() time.Time) contracts.JobStore {
		return store.NewMemory(store.WithClock(now))
	})
}

func TestFileStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T, now func() time.Time) contracts.JobStore {
		st, err := store.NewFile(t.TempDir(), store.WithClock(now))
		require.NoError(t, err)
		return st
	})
}

func TestSQLiteStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T, now func() time.Time) contracts.JobStore {
		st, err := store.NewSQL(store.SQLOptions{
			Driver: "sqlite",
			DSN:    filepath.Join(t.TempDir(), "jobs.db"),
		}, store.WithClock(now))
		require.NoError(t, err)
		return st
	})
}

func TestRedisStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T, now func() time.Time) contracts.JobStore {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		return store.New(store.NewRedisBackend(client, "test:"), store.WithClock(now))
	})
}

func TestFileStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	st, err := store.NewFile(dir)
	require.NoError(t, err)
	id, err := st.Create(ctx, contracts.JobSpec{
		Config: contracts.PipelineConfig{Name: "persisted", Tasks: []contracts.TaskSpec{{TaskID: "extract"}}},
		Order:  []contracts.TaskID{"extract"},
	})
	require.NoError(t, err)
	require.NoError(t, st.Close())

	_, err = os.Stat(filepath.Join(dir, "jobs", string(id), "job.json"))
	require.NoError(t, err)

	reopened, err := store.NewFile(dir)
	require.NoError(t, err)
	job, err := reopened.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "persisted", job.Config.Name)
	assert.Equal(t, store.SchemaVersion, job.SchemaVersion)
	assert.Equal(t, contracts.TaskPending, job.Results["extract"].Status)
}

func TestFileStore_RejectsEscapingIDs(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewFile(t.TempDir())
	require.NoError(t, err)

	for _, id := range []contracts.JobID{"../outside", "a/b", ""} {
		_, err := st.Get(ctx, id)
		assert.ErrorIs(t, err, contracts.ErrJobNotFound, "id %q", id)
	}
}

func TestFileStore_TaskArtifactDir(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	st, err := store.NewFile(base)
	require.NoError(t, err)
	id, err := st.Create(ctx, contracts.JobSpec{
		Config: contracts.PipelineConfig{Name: "artifacts", Tasks: []contracts.TaskSpec{{TaskID: "pdf_extraction"}}},
		Order:  []contracts.TaskID{"pdf_extraction"},
	})
	require.NoError(t, err)

	as, ok := st.(contracts.ArtifactStore)
	require.True(t, ok)
	dir, err := as.TaskArtifactDir(ctx, id, "pdf_extraction")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "jobs", string(id), "task_pdf_extraction"), dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "book.md"), []byte("# Dune"), 0o600))

	again, err := as.TaskArtifactDir(ctx, id, "pdf_extraction")
	require.NoError(t, err)
	assert.Equal(t, dir, again)

	_, err = as.TaskArtifactDir(ctx, "missing", "pdf_extraction")
	assert.ErrorIs(t, err, contracts.ErrJobNotFound)
	_, err = as.TaskArtifactDir(ctx, id, "../escape")
	assert.ErrorIs(t, err, contracts.ErrInvalidInput)

	require.NoError(t, st.Delete(ctx, id))
	_, err = os.Stat(dir)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestMemoryStore_NoArtifactDir(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	id, err := st.Create(ctx, contracts.JobSpec{
		Config: contracts.PipelineConfig{Name: "mem", Tasks: []contracts.TaskSpec{{TaskID: "a"}}},
		Order:  []contracts.TaskID{"a"},
	})
	require.NoError(t, err)

	dir, err := st.(contracts.ArtifactStore).TaskArtifactDir(ctx, id, "a")
	require.NoError(t, err)
	assert.Empty(t, dir)
}

func TestNewFile_RequiresDir(t *testing.T) {
	_, err := store.NewFile("  ")
	assert.ErrorIs(t, err, contracts.ErrInvalidInput)
}

func TestNewSQL_UnknownDriver(t *testing.T) {
	_, err := store.NewSQL(store.SQLOptions{Driver: "oracle"})
	assert.ErrorIs(t, err, contracts.ErrInvalidInput)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		cfg := config.DefaultConfig().Store
		cfg.Backend = "memory"
		st, err := store.Open(ctx, cfg, nil)
		require.NoError(t, err)
		assert.NoError(t, st.Close())
	})

	t.Run("file", func(t *testing.T) {
		cfg := config.DefaultConfig().Store
		cfg.Backend = "file"
		cfg.File.Dir = t.TempDir()
		st, err := store.Open(ctx, cfg, nil)
		require.NoError(t, err)
		assert.NoError(t, st.Close())
	})

	t.Run("sql", func(t *testing.T) {
		cfg := config.DefaultConfig().Store
		cfg.Backend = "sql"
		cfg.SQL.DSN = filepath.Join(t.TempDir(), "open.db")
		st, err := store.Open(ctx, cfg, nil)
		require.NoError(t, err)
		assert.NoError(t, st.Close())
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := config.DefaultConfig().Store
		cfg.Backend = "redis"
		cfg.Redis.Addr = mr.Addr()
		st, err := store.Open(ctx, cfg, nil)
		require.NoError(t, err)
		assert.NoError(t, st.Close())
	})

	t.Run("unknown", func(t *testing.T) {
		cfg := config.DefaultConfig().Store
		cfg.Backend = "etcd"
		_, err := store.Open(ctx, cfg, nil)
		assert.ErrorIs(t, err, config.ErrUnknownStoreBackend)
	})
}
