package am

import (
	"context"
	"errors"
	"io"
)

// Snapshot names stored in a vault.
const (
	SnapshotCatalog    = "catalog"
	SnapshotPublicKey  = "public_key"
	SnapshotPrivateKey = "private_key"
)

// ErrSnapshotNotFound is returned by Vault.GetSnapshot for a name that was
// never stored.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Vault stores named, versioned snapshots off the machine. Reads and writes
// stream through io.Reader/io.Writer so a catalog is never held in memory.
type Vault interface {
	// PutSnapshot stores a snapshot under name, replacing any previous one.
	// size is the number of bytes that will be read from r.
	PutSnapshot(ctx context.Context, name string, r io.Reader, size int64, version int64) error

	// GetSnapshot writes the stored snapshot to w.
	// Returns ErrSnapshotNotFound if nothing is stored under name.
	GetSnapshot(ctx context.Context, name string, w io.Writer) error

	// SnapshotVersion returns the version stored with name, or 0 if none.
	SnapshotVersion(ctx context.Context, name string) (int64, error)

	// ValidateSetup verifies that the vault is reachable and writable.
	ValidateSetup(ctx context.Context) error
}
