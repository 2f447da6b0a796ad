package source

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeDump(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dump.vcd")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFilesOpenRanges(t *testing.T) {
	path := writeDump(t, "0123456789")

	tests := []struct {
		name       string
		start, end int64
		want       string
	}{
		{"whole file", 0, -1, "0123456789"},
		{"tail", 4, -1, "456789"},
		{"bounded", 2, 5, "234"},
		{"empty range", 3, 3, ""},
		{"end past eof", 8, 100, "89"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc, err := Files{}.Open(path, tt.start, tt.end)
			require.NoError(t, err)
			defer rc.Close()
			got, err := io.ReadAll(rc)
			require.NoError(t, err)
			require.Equal(t, tt.want, string(got))
		})
	}
}

func TestFilesOpenErrors(t *testing.T) {
	path := writeDump(t, "abc")

	_, err := Files{}.Open(filepath.Join(t.TempDir(), "missing.vcd"), 0, -1)
	require.ErrorIs(t, err, ErrNotFound)
	require.True(t, errors.Is(err, fs.ErrNotExist))

	_, err = Files{}.Open(path, 2, 1)
	require.Error(t, err)

	_, err = Files{}.Open(path, -1, -1)
	require.Error(t, err)
}

func TestStat(t *testing.T) {
	path := writeDump(t, "abcd")
	size, err := Stat(path)
	require.NoError(t, err)
	require.EqualValues(t, 4, size)

	_, err = Stat(filepath.Join(t.TempDir(), "nope.vcd"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStreamChunksInOrder(t *testing.T) {
	var chunks []string
	err := Stream(strings.NewReader("abcdefg"), 3, func(c []byte) bool {
		chunks = append(chunks, string(c))
		return true
	})
	require.NoError(t, err)
	require.Equal(t, "abcdefg", strings.Join(chunks, ""))
	for _, c := range chunks {
		require.LessOrEqual(t, len(c), 3)
	}
}

func TestStreamStopsEarly(t *testing.T) {
	calls := 0
	err := Stream(strings.NewReader(strings.Repeat("x", 100)), 10, func([]byte) bool {
		calls++
		return calls < 2
	})
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("disk on fire")
}

func TestStreamPropagatesReadErrors(t *testing.T) {
	err := Stream(failingReader{}, 4, func([]byte) bool { return true })
	require.ErrorContains(t, err, "disk on fire")
}
