package indexer

// The indexer sits between the dump files and every query. Each query first
// ensures the file's time index exists (fetched from the cache or built by one
// full scan and stored), then streams only the byte range the query needs
// through one of the vcd state machines.

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/robert-at-pretension-io/vcd-waves/internal/cache"
	"github.com/robert-at-pretension-io/vcd-waves/internal/config"
	"github.com/robert-at-pretension-io/vcd-waves/internal/metrics"
	"github.com/robert-at-pretension-io/vcd-waves/internal/source"
	"github.com/robert-at-pretension-io/vcd-waves/internal/validator"
	"github.com/robert-at-pretension-io/vcd-waves/internal/vcd"
)

const tracerName = "github.com/robert-at-pretension-io/vcd-waves/internal/indexer"

// Where an operation's time index came from.
const (
	sourceCache = "cache"
	sourceScan  = "scan"
)

// Indexer answers header, history and snapshot queries over dump files.
// It is safe for concurrent use.
type Indexer struct {
	// Configuration loaded from vcd_waves.json
	Config *config.Config

	// Source opens dump files
	Source source.Source

	// Cache persists time indexes by file path
	Cache cache.Cache

	// Log receives one record per operation
	Log *logrus.Entry

	// Metrics receives scan and cache counters
	Metrics *metrics.Metrics

	// Timing output (JSONL)
	Timing     bool
	TimingPath string

	timing *timingRecorder
	builds singleflight.Group

	tracerOnce sync.Once
	tracer     trace.Tracer

	contractOnce sync.Once
	contract     *validator.Validator
	contractErr  error
}

// New creates a new Indexer with default configuration and no cache
func New() *Indexer {
	return &Indexer{
		Config:  config.DefaultConfig(),
		Source:  source.Files{},
		Cache:   cache.Nop{},
		Log:     logrus.NewEntry(logrus.StandardLogger()),
		Metrics: metrics.New(nil),
		tracer:  otel.Tracer(tracerName),
	}
}

// NewWithConfig creates a new Indexer with the given configuration
func NewWithConfig(cfg *config.Config) *Indexer {
	idx := New()
	idx.Config = cfg
	idx.Timing = cfg.Timing
	idx.TimingPath = cfg.TimingPath
	return idx
}

// Open wires an Indexer from cfg: the configured cache backend, metrics on
// reg, logging to logger and, when enabled, timing records. Relative paths
// are resolved against rootPath.
func Open(cfg *config.Config, rootPath string, logger *logrus.Logger, reg prometheus.Registerer) (*Indexer, error) {
	idx := NewWithConfig(cfg)
	c, err := cache.Open(cfg, rootPath)
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}
	idx.Cache = c
	if logger != nil {
		idx.Log = logrus.NewEntry(logger)
	}
	idx.Metrics = metrics.New(reg)
	if err := idx.StartTiming(rootPath); err != nil {
		idx.log().WithError(err).Warn("timing output disabled")
	}
	return idx, nil
}

// StartTiming opens the timing JSONL file when timing is enabled.
func (idx *Indexer) StartTiming(rootPath string) error {
	idx.timing.Close()
	idx.timing = newTimingRecorder(time.Now(), idx.resolveTimingPath(rootPath))
	return idx.timing.Err()
}

// Close releases the cache and the timing file.
func (idx *Indexer) Close() error {
	idx.timing.Close()
	if idx.Cache != nil {
		return idx.Cache.Close()
	}
	return nil
}

func (idx *Indexer) log() *logrus.Entry {
	if idx.Log != nil {
		return idx.Log
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

func (idx *Indexer) chunkSize() int {
	if idx.Config == nil {
		return source.DefaultChunkSize
	}
	return idx.Config.Scan.ChunkSize
}

func (idx *Indexer) window() (before, after int) {
	if idx.Config == nil {
		return 1, 2
	}
	return idx.Config.Scan.Window()
}

// spans returns the tracer, picking up the global provider for an Indexer
// built without New.
func (idx *Indexer) spans() trace.Tracer {
	idx.tracerOnce.Do(func() {
		if idx.tracer == nil {
			idx.tracer = otel.Tracer(tracerName)
		}
	})
	return idx.tracer
}

func (idx *Indexer) contracts() (*validator.Validator, error) {
	idx.contractOnce.Do(func() {
		idx.contract, idx.contractErr = validator.New()
	})
	return idx.contract, idx.contractErr
}

// opRecord accumulates what one operation did for its log line, span,
// metrics and timing record.
type opRecord struct {
	op     string
	path   string
	source string
	bytes  int64
	diag   vcd.Diagnostics
}

func (idx *Indexer) begin(ctx context.Context, op, path string, attrs ...attribute.KeyValue) (context.Context, trace.Span, *opRecord, time.Time) {
	attrs = append(attrs, attribute.String("vcd.path", path))
	ctx, span := idx.spans().Start(ctx, "indexer."+op, trace.WithAttributes(attrs...))
	return ctx, span, &opRecord{op: op, path: path}, time.Now()
}

func (idx *Indexer) finish(span trace.Span, rec *opRecord, start time.Time, err error) {
	d := time.Since(start)
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(
		attribute.Int64("vcd.bytes", rec.bytes),
		attribute.Int("vcd.skipped", rec.diag.Total()),
		attribute.String("vcd.index_source", rec.source),
	)
	span.End()

	idx.Metrics.ObserveScan(rec.op, status, d, rec.bytes)
	idx.Metrics.ObserveDiagnostics(rec.diag)
	idx.timing.record(timingEvent{
		Op:      rec.op,
		File:    rec.path,
		Status:  status,
		Source:  rec.source,
		Bytes:   rec.bytes,
		Skipped: rec.diag.Total(),
	}, start, d)

	entry := idx.log().WithFields(logrus.Fields{
		"op":       rec.op,
		"path":     rec.path,
		"duration": d.String(),
		"bytes":    rec.bytes,
	})
	if rec.source != "" {
		entry = entry.WithField("index", rec.source)
	}
	if n := rec.diag.Total(); n > 0 {
		entry = entry.WithField("skipped", n)
	}
	if err != nil {
		entry.WithError(err).Warn("operation failed")
		return
	}
	entry.Info("operation finished")
}

// stream feeds [start, end) of path to fn in chunks, counting bytes into rec.
func (idx *Indexer) stream(path string, start, end int64, rec *opRecord, fn func(chunk []byte) bool) error {
	return source.StreamRange(idx.Source, path, start, end, idx.chunkSize(), func(chunk []byte) bool {
		rec.bytes += int64(len(chunk))
		return fn(chunk)
	})
}

// ParseHeader returns the declarations of path together with its max time.
func (idx *Indexer) ParseHeader(ctx context.Context, path string) (*vcd.Header, error) {
	h, _, err := idx.ParseHeaderWithDiagnostics(ctx, path)
	return h, err
}

// ParseHeaderWithDiagnostics is ParseHeader plus the skipped-input counts of
// the header scan and any index build it triggered.
func (idx *Indexer) ParseHeaderWithDiagnostics(ctx context.Context, path string) (h *vcd.Header, diag vcd.Diagnostics, err error) {
	ctx, span, rec, start := idx.begin(ctx, "header", path)
	defer func() { idx.finish(span, rec, start, err) }()

	p := vcd.NewHeaderParser()
	err = idx.stream(path, 0, -1, rec, func(chunk []byte) bool {
		_, done := p.Feed(chunk)
		return !done
	})
	if err != nil {
		return nil, diag, fmt.Errorf("parsing header of %s: %w", path, err)
	}
	h = p.Header()
	rec.diag = p.Diagnostics()
	diag = rec.diag

	maxTime, built, err := idx.maxTime(ctx, path, rec)
	if err != nil {
		return nil, diag, err
	}
	diag.Add(built)
	h.MaxTime = maxTime

	v, err := idx.contracts()
	if err != nil {
		return nil, diag, err
	}
	if err := v.ValidateHeader(h.View()); err != nil {
		return nil, diag, fmt.Errorf("header of %s: %w", path, err)
	}
	return h, diag, nil
}

// MaxTime returns the last timestamp in path, or nil when it has none.
func (idx *Indexer) MaxTime(ctx context.Context, path string) (t *uint64, err error) {
	ctx, span, rec, start := idx.begin(ctx, "max_time", path)
	defer func() { idx.finish(span, rec, start, err) }()

	t, _, err = idx.maxTime(ctx, path, rec)
	return t, err
}

func (idx *Indexer) maxTime(ctx context.Context, path string, rec *opRecord) (*uint64, vcd.Diagnostics, error) {
	ti, diag, src, err := idx.ensureTimeIndex(ctx, path)
	if err != nil {
		return nil, diag, err
	}
	rec.source = src
	last, ok := ti.Last()
	if !ok {
		return nil, diag, nil
	}
	s := vcd.NewMaxTimeScanner(last)
	err = idx.stream(path, last, -1, rec, func(chunk []byte) bool {
		s.Feed(chunk)
		return true
	})
	if err != nil {
		return nil, diag, fmt.Errorf("scanning max time of %s: %w", path, err)
	}
	return s.Result(), diag, nil
}

// ParseFullHistory returns every 0/1 scalar and binary vector change of ids
// across the whole run. Each requested identifier has an entry, possibly
// empty.
func (idx *Indexer) ParseFullHistory(ctx context.Context, path string, ids []string) (vcd.History, error) {
	h, _, err := idx.ParseFullHistoryWithDiagnostics(ctx, path, ids)
	return h, err
}

// ParseFullHistoryWithDiagnostics is ParseFullHistory plus skipped-input
// counts.
func (idx *Indexer) ParseFullHistoryWithDiagnostics(ctx context.Context, path string, ids []string) (history vcd.History, diag vcd.Diagnostics, err error) {
	ctx, span, rec, start := idx.begin(ctx, "history", path, attribute.Int("vcd.signals", len(ids)))
	defer func() { idx.finish(span, rec, start, err) }()

	ti, diag, src, err := idx.ensureTimeIndex(ctx, path)
	if err != nil {
		return nil, diag, err
	}
	rec.source = src

	x := vcd.NewHistoryExtractor(ids)
	if first, ok := ti.First(); ok {
		err = idx.stream(path, first, -1, rec, func(chunk []byte) bool {
			x.Feed(chunk)
			return true
		})
		if err != nil {
			return nil, diag, fmt.Errorf("extracting history from %s: %w", path, err)
		}
		x.Flush()
	}
	rec.diag = x.Diagnostics()
	diag.Add(rec.diag)
	return x.Result(), diag, nil
}

// ParseSnapshot returns the value changes of the indexed blocks around t,
// keyed by timestamp. An index with no timestamps yields an empty snapshot.
func (idx *Indexer) ParseSnapshot(ctx context.Context, path string, t uint64) (vcd.Snapshot, error) {
	s, _, err := idx.ParseSnapshotWithDiagnostics(ctx, path, t)
	return s, err
}

// ParseSnapshotWithDiagnostics is ParseSnapshot plus skipped-input counts.
func (idx *Indexer) ParseSnapshotWithDiagnostics(ctx context.Context, path string, t uint64) (snap vcd.Snapshot, diag vcd.Diagnostics, err error) {
	ctx, span, rec, start := idx.begin(ctx, "snapshot", path, attribute.Int64("vcd.time", int64(t)))
	defer func() { idx.finish(span, rec, start, err) }()

	ti, diag, src, err := idx.ensureTimeIndex(ctx, path)
	if err != nil {
		return nil, diag, err
	}
	rec.source = src
	if ti.Len() == 0 {
		return vcd.Snapshot{}, diag, nil
	}

	before, after := idx.window()
	m := vcd.LowerBound(ti.TimeScale, t)
	lo, hi := ti.Window(m, before, after)
	span.SetAttributes(attribute.Int64("vcd.window_start", lo), attribute.Int64("vcd.window_end", hi))

	log := idx.log().WithField("path", path)
	p := vcd.NewSnapshotParser(func(line string) {
		log.WithField("line", line).Debug("skipping unrecognized value change")
	})
	err = idx.stream(path, lo, hi, rec, func(chunk []byte) bool {
		p.Feed(chunk)
		return true
	})
	if err != nil {
		return nil, diag, fmt.Errorf("extracting snapshot from %s: %w", path, err)
	}
	snap = p.Result()
	rec.diag = p.Diagnostics()
	diag.Add(rec.diag)
	return snap, diag, nil
}
