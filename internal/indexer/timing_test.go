package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func readTimingEvents(t *testing.T, path string) []timingEvent {
	t.Helper()
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read timing file: %v", err)
	}
	var events []timingEvent
	for _, line := range bytes.Split(bytes.TrimSpace(raw), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var ev timingEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			t.Fatalf("parse timing event: %v", err)
		}
		events = append(events, ev)
	}
	return events
}

func TestTimingJSONLWritten(t *testing.T) {
	t.Setenv(TimingEnv, "")
	dir := t.TempDir()
	file := writeDump(t, dir, "cpu.vcd", cpuDump)
	timingPath := filepath.Join(dir, "out", "timing.jsonl")

	idx, _ := newTestIndexer(t, nil)
	idx.Timing = true
	idx.TimingPath = timingPath
	if err := idx.StartTiming(dir); err != nil {
		t.Fatalf("start timing: %v", err)
	}

	if _, err := idx.ParseHeader(context.Background(), file); err != nil {
		t.Fatalf("parse header: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	events := readTimingEvents(t, timingPath)
	var foundBuild, foundHeader bool
	for _, ev := range events {
		if ev.EndMS < ev.StartMS {
			t.Fatalf("event %q ends before it starts", ev.Op)
		}
		switch ev.Op {
		case "build_index":
			foundBuild = true
			if ev.Source != sourceScan || ev.Bytes != int64(len(cpuDump)) {
				t.Fatalf("unexpected build event: %+v", ev)
			}
		case "header":
			foundHeader = true
			if ev.Status != "ok" || ev.File != file {
				t.Fatalf("unexpected header event: %+v", ev)
			}
		}
	}
	if !foundBuild || !foundHeader {
		t.Fatalf("expected build_index and header timing events, got %+v", events)
	}
}

func TestTimingRecordsFailures(t *testing.T) {
	t.Setenv(TimingEnv, "")
	dir := t.TempDir()
	timingPath := filepath.Join(dir, "timing.jsonl")

	idx, _ := newTestIndexer(t, nil)
	idx.Timing = true
	idx.TimingPath = timingPath
	if err := idx.StartTiming(dir); err != nil {
		t.Fatalf("start timing: %v", err)
	}
	if _, err := idx.ParseSnapshot(context.Background(), filepath.Join(dir, "missing.vcd"), 0); err == nil {
		t.Fatalf("expected error for missing file")
	}
	idx.Close()

	for _, ev := range readTimingEvents(t, timingPath) {
		if ev.Status != "error" {
			t.Fatalf("expected only failed events, got %+v", ev)
		}
	}
}

func TestResolveTimingPath(t *testing.T) {
	t.Setenv(TimingEnv, "")
	idx := New()
	if got := idx.resolveTimingPath("/work"); got != "" {
		t.Fatalf("disabled timing resolved to %q", got)
	}

	idx.Timing = true
	if got := idx.resolveTimingPath("/work"); got != filepath.Join("/work", "timing.jsonl") {
		t.Fatalf("default path = %q", got)
	}

	idx.TimingPath = "/tmp/t.jsonl"
	if got := idx.resolveTimingPath("/work"); got != "/tmp/t.jsonl" {
		t.Fatalf("configured path = %q", got)
	}

	t.Setenv(TimingEnv, "/env/t.jsonl")
	idx.Timing = false
	if got := idx.resolveTimingPath("/work"); got != "/env/t.jsonl" {
		t.Fatalf("environment path = %q", got)
	}
}

func TestTimingDisabledWritesNothing(t *testing.T) {
	t.Setenv(TimingEnv, "")
	dir := t.TempDir()
	file := writeDump(t, dir, "cpu.vcd", cpuDump)

	idx, _ := newTestIndexer(t, nil)
	if err := idx.StartTiming(dir); err != nil {
		t.Fatalf("start timing: %v", err)
	}
	if idx.timing.Enabled() {
		t.Fatalf("timing enabled without configuration")
	}
	if _, err := idx.MaxTime(context.Background(), file); err != nil {
		t.Fatalf("max time: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "timing.jsonl")); !os.IsNotExist(err) {
		t.Fatalf("expected no timing file, stat err = %v", err)
	}
}
