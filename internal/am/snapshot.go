package am

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrCatalogBehind is returned when the vault holds a newer catalog snapshot
// than the local catalog.
var ErrCatalogBehind = errors.New("local catalog is behind the vault")

// Snapshotter copies the catalog into a vault and back. The snapshot version
// is the id of the newest completed scan run.
type Snapshotter struct {
	vault   Vault
	enc     Encryptor // nil stores snapshots as plain SQLite files
	logger  Logger
	tempDir string
}

// NewSnapshotter creates a Snapshotter. tempDir holds intermediate copies;
// empty means the system temp directory.
func NewSnapshotter(vault Vault, enc Encryptor, logger Logger, tempDir string) *Snapshotter {
	return &Snapshotter{vault: vault, enc: enc, logger: logger, tempDir: tempDir}
}

// Encrypted reports whether snapshots are encrypted before upload.
func (s *Snapshotter) Encrypted() bool {
	return s.enc != nil
}

// CheckVersion fails with ErrCatalogBehind if the vault holds a newer
// snapshot than the local catalog.
func (s *Snapshotter) CheckVersion(ctx context.Context, catalog Catalog) error {
	local, err := catalog.MaxCompletedScanRunID(ctx)
	if err != nil {
		return fmt.Errorf("checking local catalog version: %w", err)
	}
	remote, err := s.vault.SnapshotVersion(ctx, SnapshotCatalog)
	if err != nil {
		return fmt.Errorf("checking vault catalog version: %w", err)
	}
	if remote > local {
		return fmt.Errorf("%w (local=%d, vault=%d): run `am catalog restore`", ErrCatalogBehind, local, remote)
	}
	return nil
}

// Backup uploads a snapshot of catalog and returns its version. Unless force
// is set, nothing is uploaded when the vault already holds this version or a
// newer one, and 0 is returned.
func (s *Snapshotter) Backup(ctx context.Context, catalog Catalog, force bool) (int64, error) {
	version, err := catalog.MaxCompletedScanRunID(ctx)
	if err != nil {
		return 0, fmt.Errorf("checking local catalog version: %w", err)
	}

	if !force {
		remote, err := s.vault.SnapshotVersion(ctx, SnapshotCatalog)
		if err != nil {
			return 0, fmt.Errorf("checking vault catalog version: %w", err)
		}
		if remote >= version {
			s.logger.Debug("catalog snapshot up to date", "version", version, "vault_version", remote)
			return 0, nil
		}
	}

	dir, err := os.MkdirTemp(s.tempDir, "am-snapshot-*")
	if err != nil {
		return 0, fmt.Errorf("creating snapshot directory: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "catalog.db")
	if err := catalog.BackupTo(path); err != nil {
		return 0, fmt.Errorf("copying catalog: %w", err)
	}

	if s.enc != nil {
		encPath := path + ".age"
		if err := s.encryptFile(path, encPath); err != nil {
			return 0, err
		}
		path = encPath
	}

	if err := s.UploadFile(ctx, SnapshotCatalog, path, version); err != nil {
		return 0, err
	}
	s.logger.Info("catalog snapshot uploaded", "version", version, "encrypted", s.enc != nil)
	return version, nil
}

// UploadFile stores the file at path in the vault under name.
func (s *Snapshotter) UploadFile(ctx context.Context, name, path string, version int64) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s for upload: %w", name, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", name, err)
	}

	if err := s.vault.PutSnapshot(ctx, name, f, info.Size(), version); err != nil {
		return fmt.Errorf("uploading %s to vault: %w", name, err)
	}
	return nil
}

// Restore replaces the catalog file at destPath with the newest vault
// snapshot and returns its version. dec must be non-nil when snapshots are
// encrypted. The catalog at destPath must not be open.
func (s *Snapshotter) Restore(ctx context.Context, dec DecryptionContext, destPath string) (int64, error) {
	if s.enc != nil && dec == nil {
		return 0, fmt.Errorf("catalog snapshots are encrypted: unlock the private key first")
	}

	version, err := s.vault.SnapshotVersion(ctx, SnapshotCatalog)
	if err != nil {
		return 0, fmt.Errorf("checking vault catalog version: %w", err)
	}
	if version == 0 {
		return 0, ErrSnapshotNotFound
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return 0, fmt.Errorf("creating catalog directory: %w", err)
	}

	// Written next to destPath so the final rename stays on one filesystem.
	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".restore-*")
	if err != nil {
		return 0, fmt.Errorf("creating restore file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := s.download(ctx, dec, tmp); err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("closing restore file: %w", err)
	}

	// Stale WAL files from the old catalog would be replayed onto the new one.
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(destPath + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("removing %s: %w", destPath+suffix, err)
		}
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return 0, fmt.Errorf("replacing catalog: %w", err)
	}

	s.logger.Info("catalog restored", "version", version, "path", destPath)
	return version, nil
}

func (s *Snapshotter) download(ctx context.Context, dec DecryptionContext, w io.Writer) error {
	if dec == nil {
		if err := s.vault.GetSnapshot(ctx, SnapshotCatalog, w); err != nil {
			return fmt.Errorf("downloading catalog: %w", err)
		}
		return nil
	}

	encFile, err := os.CreateTemp(s.tempDir, "am-restore-*.age")
	if err != nil {
		return fmt.Errorf("creating download file: %w", err)
	}
	defer os.Remove(encFile.Name())
	defer encFile.Close()

	if err := s.vault.GetSnapshot(ctx, SnapshotCatalog, encFile); err != nil {
		return fmt.Errorf("downloading catalog: %w", err)
	}
	if _, err := encFile.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding download: %w", err)
	}
	if err := dec.Decrypt(encFile, w); err != nil {
		return fmt.Errorf("decrypting catalog: %w", err)
	}
	return nil
}

func (s *Snapshotter) encryptFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening catalog copy: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating encrypted copy: %w", err)
	}
	if err := s.enc.Encrypt(in, out); err != nil {
		out.Close()
		return fmt.Errorf("encrypting catalog: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("closing encrypted copy: %w", err)
	}
	return nil
}
