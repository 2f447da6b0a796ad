// Package source opens dump files for sequential and offset-bounded reads.
package source

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// DefaultChunkSize is the read size used when none is configured.
const DefaultChunkSize = 64 * 1024

// ErrNotFound is returned when the requested file does not exist.
var ErrNotFound = fmt.Errorf("dump file not found: %w", fs.ErrNotExist)

// Source opens byte ranges of dump files. end < 0 means end of file.
type Source interface {
	Open(path string, start, end int64) (io.ReadCloser, error)
}

// Files reads from the local filesystem.
type Files struct{}

type boundedFile struct {
	io.Reader
	f *os.File
}

func (b *boundedFile) Close() error {
	return b.f.Close()
}

// Open returns a reader over [start, end) of path.
func (Files) Open(path string, start, end int64) (io.ReadCloser, error) {
	if start < 0 {
		return nil, fmt.Errorf("open %s: negative start offset %d", path, start)
	}
	if end >= 0 && end < start {
		return nil, fmt.Errorf("open %s: end offset %d before start %d", path, end, start)
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if start > 0 {
		if _, err := f.Seek(start, io.SeekStart); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("seek %s to %d: %w", path, start, err)
		}
	}
	var r io.Reader = f
	if end >= 0 {
		r = io.LimitReader(f, end-start)
	}
	return &boundedFile{Reader: r, f: f}, nil
}

// Stat reports the size of path, mapping a missing file to ErrNotFound.
func Stat(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("stat %s: is a directory", path)
	}
	return info.Size(), nil
}

// Stream reads r in chunks of chunkSize and hands each one to fn in order.
// The chunk is only valid during the call. Reading stops early, without
// error, when fn returns false.
func Stream(r io.Reader, chunkSize int, fn func(chunk []byte) bool) error {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	buf := make([]byte, chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 && !fn(buf[:n]) {
			return nil
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read chunk: %w", err)
		}
	}
}

// StreamRange opens [start, end) of path through src and streams it.
func StreamRange(src Source, path string, start, end int64, chunkSize int, fn func(chunk []byte) bool) error {
	rc, err := src.Open(path, start, end)
	if err != nil {
		return err
	}
	defer rc.Close()
	return Stream(rc, chunkSize, fn)
}
