package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/robert-at-pretension-io/vcd-waves/internal/config"
)

func backends(t *testing.T) map[string]Cache {
	t.Helper()
	dir, err := OpenDir(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "cache", "index.db"))
	require.NoError(t, err)
	mr := miniredis.RunT(t)

	caches := map[string]Cache{
		"memory": NewMemory(),
		"dir":    dir,
		"sqlite": db,
		"redis":  NewRedis(config.RedisConfig{Addr: mr.Addr(), KeyPrefix: "test:"}),
	}
	t.Cleanup(func() {
		for _, c := range caches {
			_ = c.Close()
		}
	})
	return caches
}

func TestBackendsGetSet(t *testing.T) {
	ctx := context.Background()
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := c.Get(ctx, "/dumps/a.vcd")
			require.NoError(t, err)
			require.False(t, ok)

			first := []byte(`{"timeScale":[0],"timeIndex":[10]}`)
			require.NoError(t, c.Set(ctx, "/dumps/a.vcd", first))
			got, ok, err := c.Get(ctx, "/dumps/a.vcd")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, first, got)

			second := []byte(`{"timeScale":[0,5],"timeIndex":[10,20]}`)
			require.NoError(t, c.Set(ctx, "/dumps/a.vcd", second))
			got, ok, err = c.Get(ctx, "/dumps/a.vcd")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, second, got)

			_, ok, err = c.Get(ctx, "/dumps/b.vcd")
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestMemoryCopiesBuffers(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()
	data := []byte("abc")
	require.NoError(t, c.Set(ctx, "p", data))
	data[0] = 'x'
	got, _, _ := c.Get(ctx, "p")
	require.Equal(t, "abc", string(got))
	require.Equal(t, 1, c.Len())
}

func TestDirPersistsAcrossOpens(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "cache")

	c, err := OpenDir(dir)
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, "/dumps/a.vcd", []byte("payload")))

	reopened, err := OpenDir(dir)
	require.NoError(t, err)
	got, ok, err := reopened.Get(ctx, "/dumps/a.vcd")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "payload", string(got))
}

func TestDirDiscardsOtherVersions(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "cache")

	c, err := OpenDir(dir)
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, "/dumps/a.vcd", []byte("payload")))

	require.NoError(t, writeJSONAtomic(filepath.Join(dir, "index.json"), dirIndex{
		Version: dirIndexVersion + 1,
		Entries: c.index.Entries,
	}))

	reopened, err := OpenDir(dir)
	require.NoError(t, err)
	_, ok, err := reopened.Get(ctx, "/dumps/a.vcd")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDirMissingBlobIsAMiss(t *testing.T) {
	ctx := context.Background()
	c, err := OpenDir(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, "/dumps/a.vcd", []byte("payload")))
	require.NoError(t, os.Remove(c.blobPathForFile("/dumps/a.vcd")))

	_, ok, err := c.Get(ctx, "/dumps/a.vcd")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSQLitePersistsAcrossOpens(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.db")

	c, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, "/dumps/a.vcd", []byte("payload")))
	require.NoError(t, c.Close())

	reopened, err := OpenSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()
	got, ok, err := reopened.Get(ctx, "/dumps/a.vcd")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "payload", string(got))
}

func TestRedisKeyPrefixAndOutage(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	c := NewRedis(config.RedisConfig{Addr: mr.Addr(), KeyPrefix: "vcd:"})
	defer c.Close()

	require.NoError(t, c.Set(ctx, "/dumps/a.vcd", []byte("payload")))
	stored, err := mr.Get("vcd:/dumps/a.vcd")
	require.NoError(t, err)
	require.Equal(t, "payload", stored)

	mr.Close()
	_, _, err = c.Get(ctx, "/dumps/a.vcd")
	require.Error(t, err)
}

func TestOpenSelectsBackend(t *testing.T) {
	root := t.TempDir()
	tests := []struct {
		backend string
		want    any
	}{
		{config.BackendMemory, &Memory{}},
		{config.BackendDir, &Dir{}},
		{config.BackendSQLite, &SQLite{}},
		{config.BackendRedis, &Redis{}},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.Cache.Backend = tt.backend
			c, err := Open(cfg, root)
			require.NoError(t, err)
			defer c.Close()
			require.IsType(t, tt.want, c)
		})
	}

	cfg := config.DefaultConfig()
	cfg.Cache.Enabled = new(bool)
	c, err := Open(cfg, root)
	require.NoError(t, err)
	require.IsType(t, Nop{}, c)

	cfg = config.DefaultConfig()
	cfg.Cache.Backend = "etcd"
	_, err = Open(cfg, root)
	require.Error(t, err)
}
