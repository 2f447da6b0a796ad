package vcd

import "fmt"

// TimeIndex is a sparse map from simulation time to the byte offset of the
// "#<time>" marker that opens the time's value-change block. Both slices
// always have the same length; TimeScale is non-decreasing and TimeIndex is
// strictly increasing.
type TimeIndex struct {
	TimeScale []uint64 `json:"timeScale"`
	TimeIndex []int64  `json:"timeIndex"`
}

// Len returns the number of indexed blocks.
func (x *TimeIndex) Len() int {
	return len(x.TimeScale)
}

// Check verifies the structural invariants of an index loaded from outside.
func (x *TimeIndex) Check() error {
	if len(x.TimeScale) != len(x.TimeIndex) {
		return fmt.Errorf("time index length mismatch: %d times, %d offsets", len(x.TimeScale), len(x.TimeIndex))
	}
	if len(x.TimeIndex) > 0 && x.TimeIndex[0] < 0 {
		return fmt.Errorf("time index offset %d is negative", x.TimeIndex[0])
	}
	for i := 1; i < len(x.TimeScale); i++ {
		if x.TimeScale[i] < x.TimeScale[i-1] {
			return fmt.Errorf("time index not sorted at %d", i)
		}
		if x.TimeIndex[i] <= x.TimeIndex[i-1] {
			return fmt.Errorf("time index offsets not increasing at %d", i)
		}
	}
	return nil
}

// First returns the offset of the first block, or false for an empty index.
func (x *TimeIndex) First() (int64, bool) {
	if len(x.TimeIndex) == 0 {
		return 0, false
	}
	return x.TimeIndex[0], true
}

// Last returns the offset of the last block, or false for an empty index.
func (x *TimeIndex) Last() (int64, bool) {
	if len(x.TimeIndex) == 0 {
		return 0, false
	}
	return x.TimeIndex[len(x.TimeIndex)-1], true
}

// Window returns the byte range to stream for a query whose lower-bound
// position is m: from the block `before` positions earlier up to the block
// `after` positions later. end is -1 when the range runs to end of file.
// An empty index yields the whole file.
func (x *TimeIndex) Window(m, before, after int) (start, end int64) {
	if len(x.TimeIndex) == 0 {
		return 0, -1
	}
	lo := m - before
	if lo < 0 {
		lo = 0
	}
	if lo >= len(x.TimeIndex) {
		lo = len(x.TimeIndex) - 1
	}
	start = x.TimeIndex[lo]
	end = -1
	if hi := m + after; hi >= 0 && hi < len(x.TimeIndex) {
		end = x.TimeIndex[hi]
	}
	return start, end
}

// LowerBound returns the position of t in times when present, otherwise the
// smallest position whose value is greater than t (len(times) when none is).
func LowerBound(times []uint64, t uint64) int {
	left, right := 0, len(times)-1
	for left <= right {
		mid := int(uint(left+right) >> 1)
		switch {
		case times[mid] < t:
			left = mid + 1
		case times[mid] > t:
			right = mid - 1
		default:
			return mid
		}
	}
	return left
}

// IndexBuilder collects TimeScanner output into a TimeIndex.
type IndexBuilder struct {
	scanner *TimeScanner
	index   TimeIndex
	diag    Diagnostics
}

// NewIndexBuilder returns a builder for a stream starting at offset 0.
func NewIndexBuilder() *IndexBuilder {
	b := &IndexBuilder{}
	b.scanner = NewTimeScanner(0, b.add)
	return b
}

func (b *IndexBuilder) add(t uint64, offset int64) {
	if n := len(b.index.TimeScale); n > 0 && t < b.index.TimeScale[n-1] {
		b.diag.DroppedRegressions++
		return
	}
	b.index.TimeScale = append(b.index.TimeScale, t)
	b.index.TimeIndex = append(b.index.TimeIndex, offset)
}

// Feed consumes the next chunk of the file.
func (b *IndexBuilder) Feed(chunk []byte) {
	b.scanner.Feed(chunk)
}

// Result flushes the scanner and returns the finished index.
func (b *IndexBuilder) Result() *TimeIndex {
	b.scanner.Flush()
	idx := b.index
	if idx.TimeScale == nil {
		idx.TimeScale = []uint64{}
		idx.TimeIndex = []int64{}
	}
	return &idx
}

// Diagnostics returns the dropped-regression count.
func (b *IndexBuilder) Diagnostics() Diagnostics {
	return b.diag
}

// MaxTimeScanner reports the last timestamp of a stream that starts at the
// final indexed block.
type MaxTimeScanner struct {
	scanner *TimeScanner
	max     uint64
	seen    bool
}

// NewMaxTimeScanner returns a scanner for a stream starting at offset base.
func NewMaxTimeScanner(base int64) *MaxTimeScanner {
	s := &MaxTimeScanner{}
	s.scanner = NewTimeScanner(base, func(t uint64, _ int64) {
		s.max = t
		s.seen = true
	})
	return s
}

// Feed consumes the next chunk.
func (s *MaxTimeScanner) Feed(chunk []byte) {
	s.scanner.Feed(chunk)
}

// Result returns the last timestamp seen, or nil when there was none.
func (s *MaxTimeScanner) Result() *uint64 {
	s.scanner.Flush()
	if !s.seen {
		return nil
	}
	t := s.max
	return &t
}
