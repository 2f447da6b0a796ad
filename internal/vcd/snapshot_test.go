package vcd

import (
	"reflect"
	"testing"
)

func snapshot(data string, chunk int) Snapshot {
	p := NewSnapshotParser(nil)
	for _, c := range chunked(data, chunk) {
		p.Feed(c)
	}
	return p.Result()
}

func TestSnapshotWindowIncludesPreviousBlock(t *testing.T) {
	idx, _ := buildIndex(sampleDump, 16)
	m := LowerBound(idx.TimeScale, 25)
	start, end := idx.Window(m, 1, 2)
	if end != -1 {
		t.Fatalf("window end = %d, want EOF", end)
	}

	got := snapshot(sampleDump[start:], 6)
	want := Snapshot{
		10: {"!": "1", "#": "1010"},
		25: {"!": "0", `"`: "1"},
		30: {"!": "1"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("snapshot = %v, want %v", got, want)
	}

	at := got.ValuesAt(25)
	wantAt := map[string]any{"!": "0", "#": "1010", `"`: "1"}
	if !reflect.DeepEqual(at, wantAt) {
		t.Fatalf("values at 25 = %v, want %v", at, wantAt)
	}
	if times := got.Times(); !reflect.DeepEqual(times, []uint64{10, 25, 30}) {
		t.Fatalf("times = %v", times)
	}
}

func TestSnapshotValueForms(t *testing.T) {
	data := "1!\n#5\n$dumpvars\nx!\nb1x0z #\nr1.5 %\nr-inf &\nrNaN '\n$end\nrjunk (\nq?\n#6\n"
	var skipped []string
	p := NewSnapshotParser(func(line string) { skipped = append(skipped, line) })
	p.Feed([]byte(data))
	got := p.Result()

	want := Snapshot{
		5: {"!": "x", "#": "1x0z", "%": 1.5, "&": "-inf", "'": "NaN"},
		6: {},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("snapshot = %v, want %v", got, want)
	}
	if !reflect.DeepEqual(skipped, []string{"rjunk (", "q?"}) {
		t.Fatalf("skipped = %q", skipped)
	}
	if p.Diagnostics().SkippedLines != 2 {
		t.Fatalf("skipped lines = %d", p.Diagnostics().SkippedLines)
	}
}

func TestSnapshotFinalLineWithoutNewline(t *testing.T) {
	got := snapshot("#3\r\n1a\r\n#4\n0a", 2)
	want := Snapshot{3: {"a": "1"}, 4: {"a": "0"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("snapshot = %v, want %v", got, want)
	}
}
