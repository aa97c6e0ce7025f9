package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"am-go/internal/am"
)

const (
	// PackageExt is the extension of addon package files.
	PackageExt = ".vpk"
	// WorkshopDir is the mirror subfolder the game keeps workshop downloads in.
	WorkshopDir = "workshop"
)

// PackageEnumerator lists package files on the real filesystem.
type PackageEnumerator struct {
	patterns []string
	logger   am.Logger
}

// NewPackageEnumerator creates an enumerator applying the given ignore
// patterns in addition to any .amignore file in the scanned folder.
func NewPackageEnumerator(patterns []string, logger am.Logger) *PackageEnumerator {
	if logger == nil {
		logger = am.NewNopLogger()
	}
	return &PackageEnumerator{patterns: patterns, logger: logger}
}

func (e *PackageEnumerator) matcher(root string) (*IgnoreMatcher, error) {
	fromFile, err := ParseIgnoreFile(filepath.Join(root, IgnoreFileName))
	if err != nil {
		return nil, err
	}

	raw := make([]string, 0, len(e.patterns)+len(fromFile))
	raw = append(raw, e.patterns...)
	raw = append(raw, fromFile...)

	m := NewIgnoreMatcher(raw)
	for _, p := range m.Invalid() {
		e.logger.Warn("ignoring malformed ignore pattern", "pattern", p)
	}
	return m, nil
}

// ListPackages returns the package files directly under root, sorted by name.
func (e *PackageEnumerator) ListPackages(root string) ([]string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving absolute path: %w", err)
	}

	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat addons folder: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("addons path is not a directory: %s", absRoot)
	}

	m, err := e.matcher(absRoot)
	if err != nil {
		return nil, err
	}

	names, err := packageNames(absRoot)
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(names))
	for _, name := range names {
		if m.Match(name) {
			e.logger.Debug("skipping ignored package", "file", name)
			continue
		}
		paths = append(paths, filepath.Join(absRoot, name))
	}
	return paths, nil
}

// WorkshopMirrorIDs returns the numeric stems of package files in the
// workshop subfolder of root.
func (e *PackageEnumerator) WorkshopMirrorIDs(root string) ([]int64, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving absolute path: %w", err)
	}

	m, err := e.matcher(absRoot)
	if err != nil {
		return nil, err
	}

	names, err := packageNames(filepath.Join(absRoot, WorkshopDir))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var ids []int64
	for _, name := range names {
		if m.Match(filepath.Join(WorkshopDir, name)) {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimSuffix(name, filepath.Ext(name)), 10, 64)
		if err != nil || id <= 0 {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// packageNames returns the names of package files directly in dir. Symlinks
// count when their target is a regular file; broken links are skipped.
func packageNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !strings.EqualFold(filepath.Ext(entry.Name()), PackageExt) {
			continue
		}
		switch {
		case entry.Type().IsRegular():
		case entry.Type()&os.ModeSymlink != 0:
			info, err := os.Stat(filepath.Join(dir, entry.Name()))
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
		default:
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Compile-time check that PackageEnumerator implements am.Enumerator interface
var _ am.Enumerator = (*PackageEnumerator)(nil)
