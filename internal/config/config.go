package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sugawarayuuta/sonnet"
	"sigs.k8s.io/yaml"

	"github.com/robert-at-pretension-io/vcd-waves/internal/validator"
)

// RedisPasswordEnv overrides cache.redis.password when set.
const RedisPasswordEnv = "VCD_WAVES_REDIS_PASSWORD"

// Config is the top-level configuration for vcd-waves
type Config struct {
	// DumpDir is the directory that holds <name>.vcd files served by name
	DumpDir string `json:"dumpDir,omitempty"`

	// Dumps lists the dump files to warm, as glob patterns relative to DumpDir
	Dumps DumpsConfig `json:"dumps,omitempty"`

	// Scan tunes the streaming scans
	Scan ScanConfig `json:"scan,omitempty"`

	// Cache selects where time indexes are persisted
	Cache CacheConfig `json:"cache,omitempty"`

	// Server configures the HTTP layer
	Server ServerConfig `json:"server,omitempty"`

	// Watch configures the directory warmer
	Watch WatchConfig `json:"watch,omitempty"`

	// Log configures logrus
	Log LogConfig `json:"log,omitempty"`

	// Timing writes one JSONL record per operation to TimingPath
	Timing     bool   `json:"timing,omitempty"`
	TimingPath string `json:"timingPath,omitempty"`
}

// DumpsConfig selects dump files
type DumpsConfig struct {
	// Files is a list of glob patterns; ** matches any number of directories
	Files []string `json:"files,omitempty"`

	// Exclude is a list of glob patterns removed from Files
	Exclude []string `json:"exclude,omitempty"`
}

// ScanConfig contains streaming options
type ScanConfig struct {
	// ChunkSize is the read size in bytes
	ChunkSize int `json:"chunkSize,omitempty"`

	// WindowBefore is how many indexed blocks before the queried time a
	// snapshot includes (minimum 1)
	WindowBefore *int `json:"windowBefore,omitempty"`

	// WindowAfter is how many indexed blocks after the queried time a
	// snapshot reads up to (minimum 1)
	WindowAfter *int `json:"windowAfter,omitempty"`
}

// CacheConfig controls time index persistence
type CacheConfig struct {
	// Enabled turns on the cache; disabled means every query rebuilds
	Enabled *bool `json:"enabled,omitempty"`

	// Backend is one of "memory", "dir", "sqlite", "redis"
	Backend string `json:"backend,omitempty"`

	// Dir is the cache directory (relative to project root if not absolute)
	Dir string `json:"dir,omitempty"`

	// SQLitePath is the database file for the sqlite backend
	SQLitePath string `json:"sqlitePath,omitempty"`

	Redis RedisConfig `json:"redis,omitempty"`
}

// RedisConfig points at a redis server
type RedisConfig struct {
	Addr      string `json:"addr,omitempty"`
	Password  string `json:"password,omitempty"`
	DB        int    `json:"db,omitempty"`
	KeyPrefix string `json:"keyPrefix,omitempty"`
}

// ServerConfig configures the HTTP layer
type ServerConfig struct {
	Addr           string `json:"addr,omitempty"`
	RequestTimeout string `json:"requestTimeout,omitempty"`
	MetricsPath    string `json:"metricsPath,omitempty"`
}

// WatchConfig configures the directory warmer
type WatchConfig struct {
	// Settle is how long a file must stay quiet before it is indexed
	Settle string `json:"settle,omitempty"`

	// Concurrency bounds parallel index builds
	Concurrency int `json:"concurrency,omitempty"`
}

// LogConfig configures logging
type LogConfig struct {
	// Level is a logrus level name
	Level string `json:"level,omitempty"`

	// Format is "text" or "json"
	Format string `json:"format,omitempty"`
}

// Cache backends
const (
	BackendMemory = "memory"
	BackendDir    = "dir"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

const (
	defaultDumpDir   = "vcd"
	defaultCacheDir  = ".vcd_waves_cache"
	defaultChunkSize = 64 * 1024
)

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	cfg := &Config{
		DumpDir: defaultDumpDir,
		Dumps: DumpsConfig{
			Files:   []string{"*.vcd", "**/*.vcd"},
			Exclude: []string{},
		},
		Scan: ScanConfig{
			ChunkSize:    defaultChunkSize,
			WindowBefore: intPtr(1),
			WindowAfter:  intPtr(2),
		},
		Cache: CacheConfig{
			Enabled:    boolPtr(true),
			Backend:    BackendDir,
			Dir:        defaultCacheDir,
			SQLitePath: filepath.Join(defaultCacheDir, "index.db"),
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "vcd-waves:",
			},
		},
		Server: ServerConfig{
			Addr:           ":8080",
			RequestTimeout: "30s",
			MetricsPath:    "/metrics",
		},
		Watch: WatchConfig{
			Settle:      "500ms",
			Concurrency: 4,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
	cfg.applyEnv()
	return cfg
}

func boolPtr(v bool) *bool {
	return &v
}

func intPtr(v int) *int {
	return &v
}

// Load finds and loads the configuration file
// Search order:
//  1. ./vcd_waves.json (current working directory)
//  2. ./.vcd_waves.json (current working directory)
//  3. ./vcd_waves.yaml (current working directory)
//  4. <rootPath>/vcd_waves.json (if different from cwd)
//  5. ~/.config/vcd_waves/config.json
//
// Returns DefaultConfig if no config file is found
func Load(rootPath string) (*Config, error) {
	cwd, _ := os.Getwd()

	searchPaths := []string{
		filepath.Join(cwd, "vcd_waves.json"),
		filepath.Join(cwd, ".vcd_waves.json"),
		filepath.Join(cwd, "vcd_waves.yaml"),
	}

	if info, err := os.Stat(rootPath); err == nil && info.IsDir() {
		absRoot, _ := filepath.Abs(rootPath)
		if absRoot != cwd {
			searchPaths = append(searchPaths,
				filepath.Join(rootPath, "vcd_waves.json"),
				filepath.Join(rootPath, ".vcd_waves.json"),
				filepath.Join(rootPath, "vcd_waves.yaml"),
			)
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(home, ".config", "vcd_waves", "config.json"))
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}
	}

	return DefaultConfig(), nil
}

// LoadFile loads configuration from a specific file. JSON and YAML are both
// accepted; the document is checked against the #Config contract first.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	jsonData, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if trimmed := bytes.TrimSpace(jsonData); len(trimmed) == 0 || string(trimmed) == "null" {
		jsonData = []byte("{}")
	}

	v, err := validator.New()
	if err != nil {
		return nil, err
	}
	if err := v.ValidateConfigJSON(jsonData); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	var cfg Config
	if err := sonnet.Unmarshal(jsonData, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()

	if _, err := cfg.Server.Timeout(); err != nil {
		return nil, err
	}
	if _, err := cfg.Watch.SettleDuration(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyDefaults fills in missing configuration with defaults
func (c *Config) applyDefaults() {
	def := DefaultConfig()

	if c.DumpDir == "" {
		c.DumpDir = def.DumpDir
	}
	if len(c.Dumps.Files) == 0 {
		c.Dumps.Files = def.Dumps.Files
	}
	if c.Scan.ChunkSize == 0 {
		c.Scan.ChunkSize = def.Scan.ChunkSize
	}
	if c.Scan.WindowBefore == nil {
		c.Scan.WindowBefore = def.Scan.WindowBefore
	}
	if c.Scan.WindowAfter == nil {
		c.Scan.WindowAfter = def.Scan.WindowAfter
	}

	if c.Cache.Enabled == nil {
		c.Cache.Enabled = boolPtr(true)
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = def.Cache.Backend
	}
	if c.Cache.Dir == "" {
		c.Cache.Dir = def.Cache.Dir
	}
	if c.Cache.SQLitePath == "" {
		c.Cache.SQLitePath = filepath.Join(c.Cache.Dir, "index.db")
	}
	if c.Cache.Redis.Addr == "" {
		c.Cache.Redis.Addr = def.Cache.Redis.Addr
	}
	if c.Cache.Redis.KeyPrefix == "" {
		c.Cache.Redis.KeyPrefix = def.Cache.Redis.KeyPrefix
	}

	if c.Server.Addr == "" {
		c.Server.Addr = def.Server.Addr
	}
	if c.Server.RequestTimeout == "" {
		c.Server.RequestTimeout = def.Server.RequestTimeout
	}
	if c.Server.MetricsPath == "" {
		c.Server.MetricsPath = def.Server.MetricsPath
	}

	if c.Watch.Settle == "" {
		c.Watch.Settle = def.Watch.Settle
	}
	if c.Watch.Concurrency == 0 {
		c.Watch.Concurrency = def.Watch.Concurrency
	}

	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
}

func (c *Config) applyEnv() {
	if pw := os.Getenv(RedisPasswordEnv); pw != "" {
		c.Cache.Redis.Password = pw
	}
}

// Save writes the configuration to a file. A .yaml or .yml extension
// writes YAML, anything else indented JSON.
func (c *Config) Save(path string) error {
	data, err := sonnet.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.JSONToYAML(data)
		if err != nil {
			return fmt.Errorf("converting config to yaml: %w", err)
		}
	default:
		var buf bytes.Buffer
		if err := json.Indent(&buf, data, "", "  "); err != nil {
			return fmt.Errorf("indenting config: %w", err)
		}
		buf.WriteByte('\n')
		data = buf.Bytes()
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// CacheEnabled reports whether time indexes are persisted.
func (c *Config) CacheEnabled() bool {
	return c.Cache.Enabled != nil && *c.Cache.Enabled
}

// Window returns the snapshot margins, falling back to 1 and 2. Both are
// at least 1: the block holding the queried time sits one block before the
// lower bound, and an exact match needs the bound itself.
func (s ScanConfig) Window() (before, after int) {
	before, after = 1, 2
	if s.WindowBefore != nil {
		before = max(*s.WindowBefore, 1)
	}
	if s.WindowAfter != nil {
		after = max(*s.WindowAfter, 1)
	}
	return before, after
}

// Timeout parses RequestTimeout. Empty means no timeout.
func (s ServerConfig) Timeout() (time.Duration, error) {
	return parseDuration("server.requestTimeout", s.RequestTimeout)
}

// SettleDuration parses Settle. Empty means index immediately.
func (w WatchConfig) SettleDuration() (time.Duration, error) {
	return parseDuration("watch.settle", w.Settle)
}

func parseDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("parsing %s: negative duration %s", field, value)
	}
	return d, nil
}

// DumpPath maps a dump name to <DumpDir>/<name>.vcd under rootPath.
func (c *Config) DumpPath(rootPath, name string) string {
	return filepath.Join(c.ResolveDumpDir(rootPath), name+".vcd")
}

// ResolveDumpDir returns DumpDir made absolute against rootPath.
func (c *Config) ResolveDumpDir(rootPath string) string {
	return resolveAgainst(rootPath, c.DumpDir)
}

// ResolveCacheDir returns the cache directory made absolute against rootPath.
func (c *Config) ResolveCacheDir(rootPath string) string {
	return resolveAgainst(rootPath, c.Cache.Dir)
}

// ResolveSQLitePath returns the sqlite file made absolute against rootPath.
func (c *Config) ResolveSQLitePath(rootPath string) string {
	return resolveAgainst(rootPath, c.Cache.SQLitePath)
}

func resolveAgainst(rootPath, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	baseDir := rootPath
	if info, err := os.Stat(rootPath); err == nil && !info.IsDir() {
		baseDir = filepath.Dir(rootPath)
	}
	return filepath.Join(baseDir, p)
}
