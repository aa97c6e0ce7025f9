package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"am-go/internal/am"
)

// FileSystemVault stores snapshots as files, typically on a mounted network
// or removable drive:
//
//	<root>/
//	  snapshots/
//	    <name>          (snapshot bytes)
//	    <name>.version  (decimal version)
type FileSystemVault struct {
	root        string
	snapshotDir string
}

// NewFileSystemVault creates a filesystem vault rooted at the given path.
func NewFileSystemVault(root string) (*FileSystemVault, error) {
	snapshotDir := filepath.Join(root, "snapshots")
	if err := os.MkdirAll(snapshotDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return &FileSystemVault{root: root, snapshotDir: snapshotDir}, nil
}

// PutSnapshot writes the snapshot, then its version. A reader never sees a
// version newer than the bytes next to it.
func (v *FileSystemVault) PutSnapshot(ctx context.Context, name string, r io.Reader, size int64, version int64) error {
	path, err := v.snapshotPath(name)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(path, r, size); err != nil {
		return err
	}

	versionData := strconv.FormatInt(version, 10)
	if err := writeFileAtomic(path+".version", strings.NewReader(versionData), int64(len(versionData))); err != nil {
		return fmt.Errorf("writing snapshot version: %w", err)
	}
	return nil
}

// GetSnapshot copies the snapshot stored under name to w.
func (v *FileSystemVault) GetSnapshot(ctx context.Context, name string, w io.Writer) error {
	path, err := v.snapshotPath(name)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", am.ErrSnapshotNotFound, name)
		}
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	return nil
}

// SnapshotVersion returns the version stored with name.
// Returns 0 if no version file exists.
func (v *FileSystemVault) SnapshotVersion(ctx context.Context, name string) (int64, error) {
	path, err := v.snapshotPath(name)
	if err != nil {
		return 0, err
	}

	data, err := os.ReadFile(path + ".version")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading version file: %w", err)
	}

	version, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing version: %w", err)
	}
	return version, nil
}

// ValidateSetup verifies that the snapshot directory exists and accepts writes.
func (v *FileSystemVault) ValidateSetup(ctx context.Context) error {
	info, err := os.Stat(v.snapshotDir)
	if err != nil {
		return fmt.Errorf("vault directory not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("vault path is not a directory: %s", v.snapshotDir)
	}

	probe, err := os.CreateTemp(v.snapshotDir, ".probe-*")
	if err != nil {
		return fmt.Errorf("vault directory not writable: %w", err)
	}
	probe.Close()
	return os.Remove(probe.Name())
}

func (v *FileSystemVault) snapshotPath(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid snapshot name: %q", name)
	}
	return filepath.Join(v.snapshotDir, name), nil
}

// writeFileAtomic writes r to destPath through a temp file and rename.
func writeFileAtomic(destPath string, r io.Reader, expectedSize int64) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	success = true
	return nil
}

var _ am.Vault = (*FileSystemVault)(nil)
