package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sugawarayuuta/sonnet"
)

const dirIndexVersion = 1

type dirEntry struct {
	BlobPath  string `json:"blob_path"`
	Size      int    `json:"size"`
	UpdatedAt int64  `json:"updated_at"`
}

type dirIndex struct {
	Version int                 `json:"version"`
	Entries map[string]dirEntry `json:"entries"`
}

// Dir stores one blob file per dump path plus an index.json mapping paths to
// blobs. Every write goes through a temp file and a rename.
type Dir struct {
	dir   string
	mu    sync.Mutex
	index dirIndex
}

// OpenDir creates dir if needed and loads its index. An index written by a
// different version is discarded.
func OpenDir(dir string) (*Dir, error) {
	c := &Dir{
		dir: dir,
		index: dirIndex{
			Version: dirIndexVersion,
			Entries: make(map[string]dirEntry),
		},
	}
	if err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Dir) indexPath() string {
	return filepath.Join(c.dir, "index.json")
}

func (c *Dir) blobsDir() string {
	return filepath.Join(c.dir, "indexes")
}

func (c *Dir) blobPathForFile(filePath string) string {
	h := sha256.Sum256([]byte(filePath))
	return filepath.Join(c.blobsDir(), hex.EncodeToString(h[:])+".json")
}

func (c *Dir) load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("cache mkdir: %w", err)
	}
	data, err := os.ReadFile(c.indexPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read cache index: %w", err)
	}
	var idx dirIndex
	if err := sonnet.Unmarshal(data, &idx); err != nil {
		return fmt.Errorf("parse cache index: %w", err)
	}
	if idx.Version != dirIndexVersion {
		// Reset on version mismatch
		return nil
	}
	if idx.Entries == nil {
		idx.Entries = make(map[string]dirEntry)
	}
	c.index = idx
	return nil
}

func (c *Dir) Get(_ context.Context, path string) ([]byte, bool, error) {
	c.mu.Lock()
	entry, ok := c.index.Entries[path]
	c.mu.Unlock()
	if !ok {
		return nil, false, nil
	}

	data, err := os.ReadFile(entry.BlobPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read cached index: %w", err)
	}
	return data, true, nil
}

func (c *Dir) Set(_ context.Context, path string, data []byte) error {
	blobPath := c.blobPathForFile(path)
	if err := writeFileAtomic(blobPath, data); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.index.Entries[path] = dirEntry{
		BlobPath:  blobPath,
		Size:      len(data),
		UpdatedAt: time.Now().Unix(),
	}
	return writeJSONAtomic(c.indexPath(), c.index)
}

func (c *Dir) Close() error {
	return nil
}

func writeJSONAtomic(path string, v any) error {
	data, err := sonnet.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal cache json: %w", err)
	}
	return writeFileAtomic(path, data)
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*.json")
	if err != nil {
		return fmt.Errorf("temp cache file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("rename cache file: %w", err)
	}
	return nil
}
