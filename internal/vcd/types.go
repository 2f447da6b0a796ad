// Package vcd implements streaming parsers for Value Change Dump traces.
//
// Every parser here is a state machine fed with byte chunks in file order.
// State lives in the parser value, never in a closure, so the result of a
// scan depends only on the bytes and not on how they were split. None of
// the parsers perform I/O; callers stream a file through Feed and finish
// with Flush or Result.
package vcd

import "sort"

// Diagnostics counts input the parsers skipped instead of failing on.
type Diagnostics struct {
	// SkippedLines counts value-change lines that matched no known form.
	SkippedLines int `json:"skipped_lines"`
	// MalformedDecls counts header declarations with missing or bad fields.
	MalformedDecls int `json:"malformed_decls"`
	// DroppedRegressions counts timestamps smaller than their predecessor.
	DroppedRegressions int `json:"dropped_regressions"`
	// WideVectors counts binary literals too wide for a 64-bit value.
	WideVectors int `json:"wide_vectors"`
}

// Add accumulates other into d.
func (d *Diagnostics) Add(other Diagnostics) {
	d.SkippedLines += other.SkippedLines
	d.MalformedDecls += other.MalformedDecls
	d.DroppedRegressions += other.DroppedRegressions
	d.WideVectors += other.WideVectors
}

// Total returns the number of skipped items of any kind.
func (d Diagnostics) Total() int {
	return d.SkippedLines + d.MalformedDecls + d.DroppedRegressions + d.WideVectors
}

// History maps identifier -> simulation time -> value.
type History map[string]map[uint64]uint64

// Snapshot maps simulation time -> identifier -> value for one scanned window.
// Values are bit strings ("1", "x", "1010"), float64 for reals, or the
// literal text of an infinite real.
type Snapshot map[uint64]map[string]any

// Times returns the timestamps of the snapshot in ascending order.
func (s Snapshot) Times() []uint64 {
	times := make([]uint64, 0, len(s))
	for t := range s {
		times = append(times, t)
	}
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })
	return times
}

// ValuesAt folds every block at or before t into the values in effect at t.
func (s Snapshot) ValuesAt(t uint64) map[string]any {
	out := make(map[string]any)
	for _, ts := range s.Times() {
		if ts > t {
			break
		}
		for id, v := range s[ts] {
			out[id] = v
		}
	}
	return out
}
