package vcd

const (
	histIdle = iota
	histTime
	histScalarID
	histSkipLine
	histBinary
	histVectorID
)

// HistoryExtractor records every change of a chosen set of signals. Only
// scalar 0/1 changes and binary vectors of 0/1 bits are decoded; identifiers
// outside the set are rejected by the trie on their first foreign byte and
// the rest of their line is skipped.
type HistoryExtractor struct {
	state   int
	cursor  Cursor
	now     uint64
	digits  int
	pending uint64
	scalar  uint64
	bits    int
	history History
	diag    Diagnostics
}

// NewHistoryExtractor returns an extractor for the given identifier codes.
// The result contains one entry per identifier even when it never changes.
func NewHistoryExtractor(ids []string) *HistoryExtractor {
	h := &HistoryExtractor{
		cursor:  NewTrie(ids).Cursor(),
		history: make(History, len(ids)),
	}
	for _, id := range ids {
		h.history[id] = make(map[uint64]uint64)
	}
	return h
}

// Feed consumes the next chunk of the value-change section.
func (h *HistoryExtractor) Feed(chunk []byte) {
	for _, b := range chunk {
		switch h.state {
		case histIdle:
			switch b {
			case '#':
				h.state = histTime
				h.pending, h.digits = 0, 0
			case '0', '1':
				h.scalar = uint64(b - '0')
				h.state = histScalarID
			case 'b', 'B':
				h.state = histBinary
				h.scalar, h.bits = 0, 0
			case '\n', '\r':
			default:
				h.state = histSkipLine
			}
		case histTime:
			switch {
			case b >= '0' && b <= '9':
				h.pending = h.pending*10 + uint64(b-'0')
				h.digits++
			case b == '\n':
				if h.digits > 0 && h.digits <= maxTimeDigits {
					h.now = h.pending
				}
				h.state = histIdle
			case b == '\r':
			default:
				h.state = histSkipLine
			}
		case histScalarID:
			h.matchID(b, h.scalar)
		case histSkipLine:
			if b == '\n' {
				h.state = histIdle
			}
		case histBinary:
			switch b {
			case '0', '1':
				h.scalar = h.scalar<<1 | uint64(b-'0')
				h.bits++
			case ' ', '\t':
				h.state = histVectorID
			case '\n':
				h.state = histIdle
			default:
				h.state = histSkipLine
			}
		case histVectorID:
			if (b == ' ' || b == '\t') && len(h.cursor.name) == 0 {
				continue
			}
			h.matchID(b, h.scalar)
		}
	}
}

func (h *HistoryExtractor) matchID(b byte, value uint64) {
	switch h.cursor.Step(b) {
	case Descend:
		return
	case Match:
		if h.state == histVectorID && h.bits > 64 {
			h.diag.WideVectors++
		} else {
			h.history[h.cursor.Name()][h.now] = value
		}
		h.cursor.Reset()
		h.state = histIdle
		if b == '\r' {
			h.state = histSkipLine
		}
	case Fail:
		h.cursor.Reset()
		h.state = histSkipLine
		if b == '\n' {
			h.state = histIdle
		}
	}
}

// Flush completes a change line left unterminated at end of stream.
func (h *HistoryExtractor) Flush() {
	switch h.state {
	case histScalarID, histVectorID:
		h.Feed([]byte{'\n'})
	}
	h.state = histIdle
	h.cursor.Reset()
}

// Result returns the collected history.
func (h *HistoryExtractor) Result() History {
	return h.history
}

// Diagnostics returns the wide-vector count.
func (h *HistoryExtractor) Diagnostics() Diagnostics {
	return h.diag
}
