package watch

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/robert-at-pretension-io/vcd-waves/internal/cache"
	"github.com/robert-at-pretension-io/vcd-waves/internal/config"
	"github.com/robert-at-pretension-io/vcd-waves/internal/indexer"
	"github.com/robert-at-pretension-io/vcd-waves/internal/metrics"
)

const dump = "$enddefinitions $end\n#0\n1!\n#7\n0!\n"

func newWarmer(t *testing.T, root string) *Warmer {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DumpDir = "waves"
	cfg.Dumps.Exclude = []string{"skip/*.vcd"}
	cfg.Watch.Settle = "20ms"
	cfg.Watch.Concurrency = 2

	logger, _ := test.NewNullLogger()
	idx := indexer.NewWithConfig(cfg)
	idx.Cache = cache.NewMemory()
	idx.Log = logrus.NewEntry(logger)
	idx.Metrics = metrics.New(prometheus.NewRegistry())

	return &Warmer{Indexer: idx, Config: cfg, Root: root, Log: logrus.NewEntry(logger)}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestWarmIndexesConfiguredDumps(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "waves", "a.vcd"), dump)
	writeFile(t, filepath.Join(root, "waves", "nested", "b.vcd"), dump)
	writeFile(t, filepath.Join(root, "waves", "skip", "c.vcd"), dump)
	writeFile(t, filepath.Join(root, "waves", "notes.txt"), "not a dump")
	w := newWarmer(t, root)

	var mu sync.Mutex
	var seen []string
	w.OnIndexed = func(path string) {
		mu.Lock()
		seen = append(seen, filepath.Base(path))
		mu.Unlock()
	}

	n, err := w.Warm(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	sort.Strings(seen)
	require.Equal(t, []string{"a.vcd", "b.vcd"}, seen)
	require.Equal(t, 2.0, testutil.ToFloat64(w.Indexer.Metrics.IndexBuilds))

	n, err = w.Warm(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, 2.0, testutil.ToFloat64(w.Indexer.Metrics.IndexBuilds), "second warm reuses cached indexes")
	require.Equal(t, 4.0, testutil.ToFloat64(w.Indexer.Metrics.WarmedIndexes))
}

func TestWarmLogsFailuresAndContinues(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "waves", "a.vcd"), dump)
	unreadable := filepath.Join(root, "waves", "dir.vcd")
	require.NoError(t, os.MkdirAll(unreadable, 0o755))
	w := newWarmer(t, root)

	n, err := w.Warm(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestReindexIgnoresUnknownPaths(t *testing.T) {
	root := t.TempDir()
	a := filepath.Join(root, "waves", "a.vcd")
	skipped := filepath.Join(root, "waves", "skip", "c.vcd")
	writeFile(t, a, dump)
	writeFile(t, skipped, dump)
	w := newWarmer(t, root)

	n, err := w.Reindex(context.Background(), []string{a, skipped, filepath.Join(root, "elsewhere.vcd")})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	writeFile(t, a, dump+"#9\n1!\n")
	n, err = w.Reindex(context.Background(), []string{a})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	ti, err := w.Indexer.TimeIndex(context.Background(), a)
	require.NoError(t, err)
	require.Equal(t, []uint64{0, 7, 9}, ti.TimeScale)
}

func TestWatchReindexesChangedDumps(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "waves")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	w := newWarmer(t, root)

	indexed := make(chan string, 16)
	w.OnIndexed = func(path string) {
		select {
		case indexed <- path:
		default:
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx) }()

	target := filepath.Join(dir, "live.vcd")
	deadline := time.After(10 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	var got string
wait:
	for {
		select {
		case got = <-indexed:
			break wait
		case <-tick.C:
			writeFile(t, target, dump)
		case <-deadline:
			t.Fatal("watcher never reindexed the dump")
		}
	}
	require.Equal(t, target, got)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatchRejectsBadSettle(t *testing.T) {
	w := newWarmer(t, t.TempDir())
	w.Config.Watch.Settle = "soon"
	require.Error(t, w.Watch(context.Background()))
}
