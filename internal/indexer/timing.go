package indexer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TimingEnv names a JSONL file that receives timing records regardless of
// configuration.
const TimingEnv = "VCD_WAVES_TIMING_JSONL"

type timingEvent struct {
	Op         string  `json:"op"`
	File       string  `json:"file,omitempty"`
	Status     string  `json:"status,omitempty"`
	Source     string  `json:"source,omitempty"`
	Bytes      int64   `json:"bytes,omitempty"`
	Skipped    int     `json:"skipped,omitempty"`
	StartMS    float64 `json:"start_ms"`
	DurationMS float64 `json:"duration_ms"`
	EndMS      float64 `json:"end_ms"`
}

type timingRecorder struct {
	enabled bool
	start   time.Time
	mu      sync.Mutex
	file    *os.File
	enc     *json.Encoder
	err     error
}

func newTimingRecorder(start time.Time, path string) *timingRecorder {
	tr := &timingRecorder{start: start}
	if path == "" {
		return tr
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		tr.err = err
		return tr
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		tr.err = err
		return tr
	}
	tr.enabled = true
	tr.file = f
	tr.enc = json.NewEncoder(f)
	return tr
}

func (tr *timingRecorder) Enabled() bool {
	return tr != nil && tr.enabled
}

func (tr *timingRecorder) Err() error {
	if tr == nil {
		return nil
	}
	return tr.err
}

func (tr *timingRecorder) Close() {
	if tr == nil || tr.file == nil {
		return
	}
	tr.mu.Lock()
	_ = tr.file.Close()
	tr.enabled = false
	tr.mu.Unlock()
}

func (tr *timingRecorder) record(ev timingEvent, start time.Time, duration time.Duration) {
	if tr == nil || !tr.enabled {
		return
	}
	ev.StartMS = durationToMS(start.Sub(tr.start))
	ev.DurationMS = durationToMS(duration)
	ev.EndMS = ev.StartMS + ev.DurationMS
	tr.mu.Lock()
	if tr.enabled && tr.enc != nil {
		_ = tr.enc.Encode(ev)
	}
	tr.mu.Unlock()
}

func durationToMS(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1_000_000.0
}

// resolveTimingPath picks the JSONL destination: the environment override,
// then TimingPath, then timing.jsonl under rootPath.
func (idx *Indexer) resolveTimingPath(rootPath string) string {
	if idx == nil {
		return ""
	}
	if envPath := os.Getenv(TimingEnv); envPath != "" {
		return envPath
	}
	if !idx.Timing {
		return ""
	}
	if idx.TimingPath != "" {
		return idx.TimingPath
	}
	if rootPath == "" {
		return "timing.jsonl"
	}
	return filepath.Join(rootPath, "timing.jsonl")
}
