package vcd

import (
	"bytes"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var dumpKeys = map[string]bool{
	"$dumpvars": true,
	"$dumpon":   true,
	"$dumpall":  true,
	"$dumpoff":  true,
	"$end":      true,
}

var (
	// Pattern: #<time>
	timePattern = regexp.MustCompile(`^#(\d+)$`)

	// Pattern: b<bits> <id>
	vectorPattern = regexp.MustCompile(`^[bB]([01xXzZ]+)\s+(\S+)$`)

	// Pattern: r<real> <id>
	realPattern = regexp.MustCompile(`^[rR](\S+)\s+(\S+)$`)

	// Pattern: <bit><id>
	scalarPattern = regexp.MustCompile(`^([01xXzZ])(\S+)$`)

	infPattern = regexp.MustCompile(`(?i)^[+-]*inf$`)
)

// SnapshotParser tokenizes a byte window of the value-change section into
// lines and records every change under the timestamp that precedes it.
type SnapshotParser struct {
	line    []byte
	now     uint64
	hasTime bool
	out     Snapshot
	diag    Diagnostics
	onSkip  func(line string)
}

// NewSnapshotParser returns a parser. onSkip, when non-nil, receives every
// line that matched no known form.
func NewSnapshotParser(onSkip func(line string)) *SnapshotParser {
	return &SnapshotParser{out: make(Snapshot), onSkip: onSkip}
}

// Feed consumes the next chunk of the window. A line split across chunks is
// carried over.
func (p *SnapshotParser) Feed(chunk []byte) {
	for len(chunk) > 0 {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			p.line = append(p.line, chunk...)
			return
		}
		if len(p.line) > 0 {
			p.line = append(p.line, chunk[:i]...)
			p.parseLine(p.line)
			p.line = p.line[:0]
		} else {
			p.parseLine(chunk[:i])
		}
		chunk = chunk[i+1:]
	}
}

// Flush parses a final line that had no trailing newline.
func (p *SnapshotParser) Flush() {
	if len(p.line) > 0 {
		p.parseLine(p.line)
		p.line = p.line[:0]
	}
}

// Result flushes the parser and returns the collected snapshot.
func (p *SnapshotParser) Result() Snapshot {
	p.Flush()
	return p.out
}

// Diagnostics returns the skipped-line count.
func (p *SnapshotParser) Diagnostics() Diagnostics {
	return p.diag
}

func (p *SnapshotParser) parseLine(raw []byte) {
	line := strings.TrimSpace(string(raw))
	if line == "" {
		return
	}
	if m := timePattern.FindStringSubmatch(line); m != nil {
		t, err := strconv.ParseUint(m[1], 10, 64)
		if err != nil {
			p.skip(line)
			return
		}
		p.now, p.hasTime = t, true
		if _, ok := p.out[t]; !ok {
			p.out[t] = make(map[string]any)
		}
		return
	}
	if dumpKeys[line] {
		return
	}
	switch line[0] {
	case 'b', 'B':
		m := vectorPattern.FindStringSubmatch(line)
		if m == nil {
			p.skip(line)
			return
		}
		p.record(m[2], m[1])
	case 'r', 'R':
		m := realPattern.FindStringSubmatch(line)
		if m == nil {
			p.skip(line)
			return
		}
		if infPattern.MatchString(m[1]) {
			p.record(m[2], m[1])
			return
		}
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			p.skip(line)
			return
		}
		if math.IsInf(v, 0) || math.IsNaN(v) {
			p.record(m[2], m[1])
			return
		}
		p.record(m[2], v)
	default:
		m := scalarPattern.FindStringSubmatch(line)
		if m == nil {
			p.skip(line)
			return
		}
		p.record(m[2], m[1])
	}
}

func (p *SnapshotParser) record(id string, v any) {
	if !p.hasTime {
		return
	}
	p.out[p.now][id] = v
}

func (p *SnapshotParser) skip(line string) {
	p.diag.SkippedLines++
	if p.onSkip != nil {
		p.onSkip(line)
	}
}
