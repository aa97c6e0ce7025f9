package am

import (
	"context"
	"errors"
	"time"

	"am-go/internal/model"
)

// ErrDuplicateHash is returned by Store.Insert when a record with the same
// content hash already exists.
var ErrDuplicateHash = errors.New("content hash already catalogued")

// Store is the reconciliation side of the catalog. During a scan every
// mutating method is called from a single consumer goroutine, so
// implementations only need to make each call individually atomic.
type Store interface {
	// FindByFilename returns the record currently mapped to filename, or nil.
	FindByFilename(ctx context.Context, filename string) (*model.AddonRecord, error)

	// UpdateByHash overwrites filename, title, version and session of the record
	// with the given hash. Returns false if no such record exists.
	UpdateByHash(ctx context.Context, hash model.ContentHash, filename, title, version, sessionID string) (bool, error)

	// Insert creates a new record stamped with sessionID.
	// Returns ErrDuplicateHash if the content hash is already present.
	Insert(ctx context.Context, record *model.AddonRecord, sessionID string) error

	// ConfirmSession stamps sessionID onto the records with the given hashes
	// without touching any other column.
	ConfirmSession(ctx context.Context, sessionID string, hashes []model.ContentHash) error

	// MarkSessionMissing nulls the filename of every record not stamped with
	// sessionID and returns how many records changed.
	MarkSessionMissing(ctx context.Context, sessionID string) (int64, error)

	// UpsertWorkshopItems inserts or replaces items by external id.
	UpsertWorkshopItems(ctx context.Context, items []*model.WorkshopItem, sessionID string) error

	// MarkWorkshopPresence clears the workshop folder flag on every item, then
	// sets it on exactly ids, in one transaction.
	MarkWorkshopPresence(ctx context.Context, ids []int64) error

	// ListKnownExternalIDs returns every workshop id with stored metadata.
	ListKnownExternalIDs(ctx context.Context) ([]int64, error)

	// Scan run bookkeeping

	// CreateScanRun records the start of a scan session.
	CreateScanRun(ctx context.Context, sessionID string, speed string, startedAt time.Time) (*model.ScanRun, error)

	// FinishScanRun stores the final status and counters of a scan run.
	FinishScanRun(ctx context.Context, run *model.ScanRun) error
}

// Catalog is the full catalog surface: the reconciliation Store plus the
// reads and user-initiated writes used by the CLI.
type Catalog interface {
	Store

	// ListAddons returns every record with its tags, ordered by title.
	ListAddons(ctx context.Context) ([]*model.AddonWithTags, error)

	// FindByHash returns the record with the given content hash, or nil.
	FindByHash(ctx context.Context, hash model.ContentHash) (*model.AddonRecord, error)

	// ListWorkshopItems returns workshop items, optionally only those present
	// in the workshop mirror folder.
	ListWorkshopItems(ctx context.Context, presentOnly bool) ([]*model.WorkshopItem, error)

	// AddTag associates a label with a content hash.
	AddTag(ctx context.Context, hash model.ContentHash, tag string) error

	// RemoveTag removes a label from a content hash.
	RemoveTag(ctx context.Context, hash model.ContentHash, tag string) error

	// Counts returns the number of records and of workshop items present in
	// the mirror folder.
	Counts(ctx context.Context) (addons int, workshop int, err error)

	// ListScanRuns returns the most recent scan runs, newest first.
	ListScanRuns(ctx context.Context, limit int) ([]*model.ScanRun, error)

	// MaxCompletedScanRunID returns the id of the newest completed scan run, or 0.
	MaxCompletedScanRunID(ctx context.Context) (int64, error)

	// CheckMigrations verifies the schema is up to date.
	CheckMigrations() error

	// BackupTo writes a consistent copy of the catalog to destPath.
	BackupTo(destPath string) error

	// Close closes the catalog connection.
	Close() error
}
