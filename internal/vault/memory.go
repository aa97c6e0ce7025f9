package vault

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"am-go/internal/am"
)

// MemoryVault keeps snapshots in memory. Useful for tests and for a
// throwaway catalog that should never leave the process.
// This implementation is safe for concurrent use.
type MemoryVault struct {
	mu        sync.RWMutex
	snapshots map[string]memorySnapshot
}

type memorySnapshot struct {
	data    []byte
	version int64
}

// NewMemoryVault creates an empty in-memory vault.
func NewMemoryVault() *MemoryVault {
	return &MemoryVault{snapshots: make(map[string]memorySnapshot)}
}

// PutSnapshot stores a snapshot under name, replacing any previous one.
func (m *MemoryVault) PutSnapshot(ctx context.Context, name string, r io.Reader, size int64, version int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[name] = memorySnapshot{data: data, version: version}
	return nil
}

// GetSnapshot writes the snapshot stored under name to w.
func (m *MemoryVault) GetSnapshot(ctx context.Context, name string, w io.Writer) error {
	m.mu.RLock()
	snap, ok := m.snapshots[name]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", am.ErrSnapshotNotFound, name)
	}
	if _, err := io.Copy(w, bytes.NewReader(snap.data)); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// SnapshotVersion returns the version stored with name, or 0.
func (m *MemoryVault) SnapshotVersion(ctx context.Context, name string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshots[name].version, nil
}

// ValidateSetup always succeeds for the in-memory vault.
func (m *MemoryVault) ValidateSetup(ctx context.Context) error {
	return nil
}

var _ am.Vault = (*MemoryVault)(nil)
