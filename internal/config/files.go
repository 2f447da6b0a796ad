package config

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ResolveDumps expands the Dumps patterns under the dump directory and
// returns the matching .vcd files, sorted.
func (c *Config) ResolveDumps(rootPath string) ([]string, error) {
	dumpDir := c.ResolveDumpDir(rootPath)

	fileSet := make(map[string]bool)
	for _, pattern := range c.Dumps.Files {
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(dumpDir, pattern)
		}

		matches, err := expandGlob(pattern)
		if err != nil {
			// Silently skip invalid patterns
			continue
		}

		for _, match := range matches {
			if IsDumpFile(match) {
				fileSet[filepath.Clean(match)] = true
			}
		}
	}

	for _, pattern := range c.Dumps.Exclude {
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(dumpDir, pattern)
		}

		matches, err := expandGlob(pattern)
		if err != nil {
			continue
		}

		for _, match := range matches {
			delete(fileSet, filepath.Clean(match))
		}
	}

	result := make([]string, 0, len(fileSet))
	for f := range fileSet {
		result = append(result, f)
	}
	sort.Strings(result)
	return result, nil
}

// IsDumpFile reports whether path has a .vcd extension.
func IsDumpFile(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".vcd")
}

// DumpName returns the name a dump file is served under: its path relative
// to the dump directory without the .vcd extension. ok is false for files
// outside the dump directory or in a subdirectory of it.
func (c *Config) DumpName(rootPath, path string) (string, bool) {
	rel, err := filepath.Rel(c.ResolveDumpDir(rootPath), path)
	if err != nil || strings.HasPrefix(rel, "..") || strings.ContainsRune(rel, filepath.Separator) {
		return "", false
	}
	return strings.TrimSuffix(rel, filepath.Ext(rel)), true
}

// expandGlob expands a glob pattern, handling ** for recursive matching
func expandGlob(pattern string) ([]string, error) {
	if strings.Contains(pattern, "**") {
		return expandDoubleStarGlob(pattern)
	}
	return filepath.Glob(pattern)
}

// expandDoubleStarGlob handles ** patterns by walking the directory tree
func expandDoubleStarGlob(pattern string) ([]string, error) {
	var results []string

	parts := strings.SplitN(pattern, "**", 2)
	if len(parts) != 2 {
		return filepath.Glob(pattern)
	}

	baseDir := filepath.Clean(parts[0])
	if baseDir == "" {
		baseDir = "."
	}
	suffix := strings.TrimPrefix(parts[1], string(filepath.Separator))

	err := filepath.Walk(baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip errors, continue walking
		}
		if info.IsDir() {
			return nil
		}
		if suffix == "" {
			results = append(results, path)
			return nil
		}

		relPath, err := filepath.Rel(baseDir, path)
		if err != nil {
			return nil
		}
		if matchSuffix(relPath, suffix) {
			results = append(results, path)
		}
		return nil
	})

	return results, err
}

// matchSuffix checks if a path matches a suffix pattern (after **)
func matchSuffix(path, pattern string) bool {
	// If pattern has no directory component, match against filename
	if !strings.Contains(pattern, string(filepath.Separator)) {
		matched, _ := filepath.Match(pattern, filepath.Base(path))
		return matched
	}

	matched, _ := filepath.Match(pattern, path)
	if matched {
		return true
	}

	if len(path) > len(pattern) {
		suffix := path[len(path)-len(pattern):]
		matched, _ = filepath.Match(pattern, suffix)
		return matched
	}

	return false
}
