package fs

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// IgnoreFileName is an optional pattern file in the addons folder.
const IgnoreFileName = ".amignore"

// IgnoreMatcher decides which package files a scan skips.
// Patterns without '/' match against the file's basename only.
// Patterns with '/' match against the path relative to the addons folder,
// e.g. "workshop/123*.vpk".
type IgnoreMatcher struct {
	basename []string
	relative []string
	invalid  []string
}

// NewIgnoreMatcher creates an IgnoreMatcher from raw pattern strings.
// Blank lines and lines starting with '#' are skipped; malformed globs are
// dropped and reported by Invalid.
func NewIgnoreMatcher(rawPatterns []string) *IgnoreMatcher {
	m := &IgnoreMatcher{}
	for _, raw := range rawPatterns {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		if _, err := filepath.Match(raw, ""); err != nil {
			m.invalid = append(m.invalid, raw)
			continue
		}
		if strings.Contains(raw, "/") {
			m.relative = append(m.relative, raw)
		} else {
			m.basename = append(m.basename, raw)
		}
	}
	return m
}

// Len returns the number of usable patterns.
func (m *IgnoreMatcher) Len() int {
	return len(m.basename) + len(m.relative)
}

// Invalid returns the patterns that were dropped as malformed.
func (m *IgnoreMatcher) Invalid() []string {
	return m.invalid
}

// Match reports whether relativePath should be skipped.
func (m *IgnoreMatcher) Match(relativePath string) bool {
	if relativePath == "" {
		return false
	}

	base := filepath.Base(relativePath)
	for _, p := range m.basename {
		if ok, _ := filepath.Match(p, base); ok {
			return true
		}
	}

	slashed := filepath.ToSlash(relativePath)
	for _, p := range m.relative {
		if ok, _ := filepath.Match(p, slashed); ok {
			return true
		}
	}
	return false
}

// ParseIgnoreFile reads raw pattern lines from path.
// Returns nil and no error if the file does not exist.
func ParseIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		patterns = append(patterns, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return patterns, nil
}
