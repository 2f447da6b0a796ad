package indexer

import (
	"context"
	"fmt"

	"github.com/sugawarayuuta/sonnet"

	"github.com/robert-at-pretension-io/vcd-waves/internal/metrics"
	"github.com/robert-at-pretension-io/vcd-waves/internal/vcd"
)

type builtIndex struct {
	index *vcd.TimeIndex
	diag  vcd.Diagnostics
}

// TimeIndex returns the time index of path, building and caching it on the
// first request.
func (idx *Indexer) TimeIndex(ctx context.Context, path string) (*vcd.TimeIndex, error) {
	ti, _, err := idx.TimeIndexWithDiagnostics(ctx, path)
	return ti, err
}

// TimeIndexWithDiagnostics is TimeIndex plus the counts of a build it
// triggered. A cache hit reports no diagnostics.
func (idx *Indexer) TimeIndexWithDiagnostics(ctx context.Context, path string) (ti *vcd.TimeIndex, diag vcd.Diagnostics, err error) {
	ctx, span, rec, start := idx.begin(ctx, "index", path)
	defer func() { idx.finish(span, rec, start, err) }()

	ti, diag, rec.source, err = idx.ensureTimeIndex(ctx, path)
	return ti, diag, err
}

// Reindex rebuilds the time index of path from the file and overwrites the
// cached copy.
func (idx *Indexer) Reindex(ctx context.Context, path string) (*vcd.TimeIndex, vcd.Diagnostics, error) {
	idx.builds.Forget(path)
	built, err := idx.build(ctx, path)
	if err != nil {
		return nil, vcd.Diagnostics{}, err
	}
	return built.index, built.diag, nil
}

func (idx *Indexer) ensureTimeIndex(ctx context.Context, path string) (*vcd.TimeIndex, vcd.Diagnostics, string, error) {
	if ti, ok := idx.lookup(ctx, path); ok {
		return ti, vcd.Diagnostics{}, sourceCache, nil
	}
	built, err := idx.build(ctx, path)
	if err != nil {
		return nil, vcd.Diagnostics{}, sourceScan, err
	}
	return built.index, built.diag, sourceScan, nil
}

// lookup returns a cached index. Any cache failure or a cached value that
// does not decode into a well-formed index is reported as a miss so the
// caller rebuilds.
func (idx *Indexer) lookup(ctx context.Context, path string) (*vcd.TimeIndex, bool) {
	if idx.Cache == nil {
		return nil, false
	}
	data, ok, err := idx.Cache.Get(ctx, path)
	if err != nil {
		idx.Metrics.CacheLookup(metrics.CacheError)
		idx.log().WithError(err).WithField("path", path).Warn("cache lookup failed, rebuilding index")
		return nil, false
	}
	if !ok {
		idx.Metrics.CacheLookup(metrics.CacheMiss)
		return nil, false
	}
	ti, err := decodeTimeIndex(data)
	if err != nil {
		idx.Metrics.CacheLookup(metrics.CacheInvalid)
		idx.log().WithError(err).WithField("path", path).Warn("cached index rejected, rebuilding")
		return nil, false
	}
	idx.Metrics.CacheLookup(metrics.CacheHit)
	return ti, true
}

// decodeTimeIndex runs on every cache hit, so it stays linear in the size
// of the entry.
func decodeTimeIndex(data []byte) (*vcd.TimeIndex, error) {
	var ti vcd.TimeIndex
	if err := sonnet.Unmarshal(data, &ti); err != nil {
		return nil, fmt.Errorf("decoding cached index: %w", err)
	}
	if err := ti.Check(); err != nil {
		return nil, err
	}
	return &ti, nil
}

// build scans path once per concurrent burst of callers and stores the
// result.
func (idx *Indexer) build(ctx context.Context, path string) (*builtIndex, error) {
	v, err, _ := idx.builds.Do(path, func() (any, error) {
		return idx.buildAndStore(ctx, path)
	})
	if err != nil {
		return nil, err
	}
	return v.(*builtIndex), nil
}

func (idx *Indexer) buildAndStore(ctx context.Context, path string) (built *builtIndex, err error) {
	ctx, span, rec, start := idx.begin(ctx, "build_index", path)
	rec.source = sourceScan
	defer func() { idx.finish(span, rec, start, err) }()

	b := vcd.NewIndexBuilder()
	err = idx.stream(path, 0, -1, rec, func(chunk []byte) bool {
		b.Feed(chunk)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("building time index of %s: %w", path, err)
	}
	ti := b.Result()
	rec.diag = b.Diagnostics()
	idx.Metrics.IndexBuilt()
	idx.store(ctx, path, ti)
	return &builtIndex{index: ti, diag: rec.diag}, nil
}

func (idx *Indexer) store(ctx context.Context, path string, ti *vcd.TimeIndex) {
	if idx.Cache == nil {
		return
	}
	data, err := sonnet.Marshal(ti)
	if err != nil {
		idx.log().WithError(err).WithField("path", path).Warn("encoding index for cache failed")
		return
	}
	if err := idx.Cache.Set(ctx, path, data); err != nil {
		idx.log().WithError(err).WithField("path", path).Warn("storing index in cache failed")
	}
}
