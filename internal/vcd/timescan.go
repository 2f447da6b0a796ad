package vcd

const (
	scanIdle = iota
	scanDigits
	scanSkipLine
)

// TimeScanner recognizes "#<digits>" lines in a byte stream and reports each
// timestamp with the absolute offset of its '#'. Anything else on a line is
// skipped up to the next newline.
type TimeScanner struct {
	state  int
	value  uint64
	digits int
	mark   int64
	pos    int64
	emit   func(t uint64, offset int64)
}

// NewTimeScanner returns a scanner whose first byte is at absolute offset base.
func NewTimeScanner(base int64, emit func(t uint64, offset int64)) *TimeScanner {
	return &TimeScanner{pos: base, emit: emit}
}

// Feed consumes the next chunk of the stream.
func (s *TimeScanner) Feed(chunk []byte) {
	for _, b := range chunk {
		switch s.state {
		case scanIdle:
			switch b {
			case '#':
				s.state = scanDigits
				s.mark = s.pos
				s.value, s.digits = 0, 0
			case '\n':
			default:
				s.state = scanSkipLine
			}
		case scanDigits:
			switch {
			case b >= '0' && b <= '9':
				s.value = s.value*10 + uint64(b-'0')
				s.digits++
			case b == '\n':
				s.commit()
				s.state = scanIdle
			case b == '\r':
			default:
				s.state = scanSkipLine
			}
		case scanSkipLine:
			if b == '\n' {
				s.state = scanIdle
			}
		}
		s.pos++
	}
}

// Flush commits a timestamp left pending by a stream that ends without a
// trailing newline.
func (s *TimeScanner) Flush() {
	if s.state == scanDigits {
		s.commit()
	}
	s.state = scanIdle
}

// Offset returns the absolute offset of the next byte to be fed.
func (s *TimeScanner) Offset() int64 {
	return s.pos
}

func (s *TimeScanner) commit() {
	if s.digits > 0 && s.digits <= maxTimeDigits {
		s.emit(s.value, s.mark)
	}
	s.digits = 0
	s.value = 0
}

// maxTimeDigits keeps accumulated timestamps inside uint64.
const maxTimeDigits = 19
