// Package cache persists serialized time indexes keyed by dump file path.
package cache

import (
	"context"
	"fmt"

	"github.com/robert-at-pretension-io/vcd-waves/internal/config"
)

// Cache stores opaque blobs by file path. Get reports ok=false for a path
// that was never stored.
type Cache interface {
	Get(ctx context.Context, path string) ([]byte, bool, error)
	Set(ctx context.Context, path string, data []byte) error
	Close() error
}

// Open builds the backend selected by cfg. A disabled cache yields Nop.
// Relative directories are resolved against rootPath.
func Open(cfg *config.Config, rootPath string) (Cache, error) {
	if !cfg.CacheEnabled() {
		return Nop{}, nil
	}
	switch cfg.Cache.Backend {
	case config.BackendMemory:
		return NewMemory(), nil
	case config.BackendDir, "":
		return OpenDir(cfg.ResolveCacheDir(rootPath))
	case config.BackendSQLite:
		return OpenSQLite(cfg.ResolveSQLitePath(rootPath))
	case config.BackendRedis:
		return NewRedis(cfg.Cache.Redis), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}

// Nop never stores anything.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (Nop) Set(context.Context, string, []byte) error { return nil }
func (Nop) Close() error { return nil }
