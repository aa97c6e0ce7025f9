package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"am-go/internal/am"
	"am-go/internal/database/migrations"
	"am-go/internal/model"
)

// SQLiteDatabase implements the am.Catalog interface using SQLite.
type SQLiteDatabase struct {
	db   *sql.DB
	path string
}

// NewSQLiteDatabase opens the catalog at path and applies pending migrations.
// path can be a file path or ":memory:" for an in-memory catalog.
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteDatabase{db: db, path: path}, nil
}

// NewSQLiteDatabaseFromDB wraps an existing, already migrated connection.
func NewSQLiteDatabaseFromDB(db *sql.DB) *SQLiteDatabase {
	return &SQLiteDatabase{db: db}
}

// OpenConnection opens and configures a SQLite connection.
// File catalogs use WAL so CLI reads never block on a running scan.
func OpenConnection(path string) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if path == ":memory:" {
		// Every connection to ":memory:" is a separate database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

const addonColumns = `file_hash, filename, created_at, updated_at, file_size, flags, title,
	author, version, tagline, chapter_ids, workshop_id, scan_session_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAddon(row rowScanner) (*model.AddonRecord, error) {
	var (
		r          model.AddonRecord
		hash       []byte
		filename   sql.NullString
		author     sql.NullString
		tagline    sql.NullString
		chapters   sql.NullString
		workshopID sql.NullInt64
	)
	err := row.Scan(&hash, &filename, &r.CreatedAt, &r.UpdatedAt, &r.FileSize, &r.Flags, &r.Title,
		&author, &r.Version, &tagline, &chapters, &workshopID, &r.ScanSessionID)
	if err != nil {
		return nil, err
	}
	r.ContentHash = model.ContentHash(hash)
	r.Filename = nullString(filename)
	r.Author = nullString(author)
	r.Tagline = nullString(tagline)
	r.ChapterIDs = nullString(chapters)
	if workshopID.Valid {
		id := workshopID.Int64
		r.WorkshopID = &id
	}
	return &r, nil
}

// Addon reconciliation

func (s *SQLiteDatabase) FindByFilename(ctx context.Context, filename string) (*model.AddonRecord, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+addonColumns+" FROM addons WHERE filename = ?", filename)
	r, err := scanAddon(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding addon by filename: %w", err)
	}
	return r, nil
}

func (s *SQLiteDatabase) FindByHash(ctx context.Context, hash model.ContentHash) (*model.AddonRecord, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+addonColumns+" FROM addons WHERE file_hash = ?", []byte(hash))
	r, err := scanAddon(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding addon by hash: %w", err)
	}
	return r, nil
}

// UpdateByHash re-points an existing record at filename. Any other record
// still holding filename loses it in the same transaction.
func (s *SQLiteDatabase) UpdateByHash(ctx context.Context, hash model.ContentHash, filename, title, version, sessionID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM addons WHERE file_hash = ?", []byte(hash)).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking addon hash: %w", err)
	}

	if err := releaseFilename(ctx, tx, filename, hash); err != nil {
		return false, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE addons
		SET filename = ?, title = ?, version = ?, scan_session_id = ?
		WHERE file_hash = ?`,
		filename, title, version, sessionID, []byte(hash))
	if err != nil {
		return false, fmt.Errorf("updating addon: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing transaction: %w", err)
	}
	return true, nil
}

func (s *SQLiteDatabase) Insert(ctx context.Context, record *model.AddonRecord, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if record.Filename != nil {
		if err := releaseFilename(ctx, tx, *record.Filename, record.ContentHash); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, "INSERT INTO addons ("+addonColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		[]byte(record.ContentHash),
		record.Filename,
		record.CreatedAt,
		record.UpdatedAt,
		record.FileSize,
		record.Flags,
		record.Title,
		record.Author,
		record.Version,
		record.Tagline,
		record.ChapterIDs,
		record.WorkshopID,
		sessionID,
	)
	if err != nil {
		if isPrimaryKeyViolation(err) {
			return am.ErrDuplicateHash
		}
		return fmt.Errorf("inserting addon: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	record.ScanSessionID = sessionID
	return nil
}

// releaseFilename clears filename from every record other than keep.
func releaseFilename(ctx context.Context, tx *sql.Tx, filename string, keep model.ContentHash) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE addons SET filename = NULL WHERE filename = ? AND file_hash != ?",
		filename, []byte(keep))
	if err != nil {
		return fmt.Errorf("releasing filename %s: %w", filename, err)
	}
	return nil
}

func (s *SQLiteDatabase) ConfirmSession(ctx context.Context, sessionID string, hashes []model.ContentHash) error {
	if len(hashes) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "UPDATE addons SET scan_session_id = ? WHERE file_hash = ?")
	if err != nil {
		return fmt.Errorf("preparing confirm statement: %w", err)
	}
	defer stmt.Close()

	for _, h := range hashes {
		if _, err := stmt.ExecContext(ctx, sessionID, []byte(h)); err != nil {
			return fmt.Errorf("confirming addon %s: %w", h.String(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) MarkSessionMissing(ctx context.Context, sessionID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE addons SET filename = NULL WHERE scan_session_id != ? AND filename IS NOT NULL",
		sessionID)
	if err != nil {
		return 0, fmt.Errorf("marking missing addons: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting missing addons: %w", err)
	}
	return n, nil
}

// Workshop metadata

// UpsertWorkshopItems stores fetched metadata. The presence flag of an
// existing item is left alone; MarkWorkshopPresence owns it.
func (s *SQLiteDatabase) UpsertWorkshopItems(ctx context.Context, items []*model.WorkshopItem, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO workshop_items (
			publishedfileid, title, time_created, time_updated, file_size,
			description, file_url, creator_id, tags, flags, scan_session_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (publishedfileid) DO UPDATE SET
			title = excluded.title,
			time_created = excluded.time_created,
			time_updated = excluded.time_updated,
			file_size = excluded.file_size,
			description = excluded.description,
			file_url = excluded.file_url,
			creator_id = excluded.creator_id,
			tags = excluded.tags,
			scan_session_id = excluded.scan_session_id`)
	if err != nil {
		return fmt.Errorf("preparing workshop upsert: %w", err)
	}
	defer stmt.Close()

	for _, item := range items {
		_, err := stmt.ExecContext(ctx,
			item.PublishedFileID,
			item.Title,
			item.TimeCreated,
			item.TimeUpdated,
			item.FileSize,
			item.Description,
			item.FileURL,
			item.CreatorID,
			strings.Join(item.Tags, ","),
			item.Flags,
			sessionID,
		)
		if err != nil {
			return fmt.Errorf("storing workshop item %d: %w", item.PublishedFileID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) MarkWorkshopPresence(ctx context.Context, ids []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "UPDATE workshop_items SET flags = flags & ?", ^int64(model.FlagWorkshop)); err != nil {
		return fmt.Errorf("clearing workshop presence: %w", err)
	}

	if len(ids) > 0 {
		stmt, err := tx.PrepareContext(ctx, "UPDATE workshop_items SET flags = flags | ? WHERE publishedfileid = ?")
		if err != nil {
			return fmt.Errorf("preparing presence statement: %w", err)
		}
		defer stmt.Close()

		for _, id := range ids {
			if _, err := stmt.ExecContext(ctx, int64(model.FlagWorkshop), id); err != nil {
				return fmt.Errorf("marking workshop item %d present: %w", id, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) ListKnownExternalIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT publishedfileid FROM workshop_items")
	if err != nil {
		return nil, fmt.Errorf("listing workshop ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning workshop id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteDatabase) ListWorkshopItems(ctx context.Context, presentOnly bool) ([]*model.WorkshopItem, error) {
	query := `SELECT publishedfileid, title, time_created, time_updated, file_size,
		description, file_url, creator_id, tags, flags, scan_session_id
		FROM workshop_items`
	var args []any
	if presentOnly {
		query += " WHERE flags & ? != 0"
		args = append(args, int64(model.FlagWorkshop))
	}
	query += " ORDER BY title, publishedfileid"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing workshop items: %w", err)
	}
	defer rows.Close()

	var items []*model.WorkshopItem
	for rows.Next() {
		var (
			item model.WorkshopItem
			tags string
		)
		err := rows.Scan(&item.PublishedFileID, &item.Title, &item.TimeCreated, &item.TimeUpdated, &item.FileSize,
			&item.Description, &item.FileURL, &item.CreatorID, &tags, &item.Flags, &item.ScanSessionID)
		if err != nil {
			return nil, fmt.Errorf("scanning workshop item: %w", err)
		}
		item.Tags = splitTags(tags)
		items = append(items, &item)
	}
	return items, rows.Err()
}

// Catalog reads and tags

func (s *SQLiteDatabase) ListAddons(ctx context.Context) ([]*model.AddonWithTags, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+addonColumns+" FROM addons ORDER BY title COLLATE NOCASE, file_hash")
	if err != nil {
		return nil, fmt.Errorf("listing addons: %w", err)
	}
	defer rows.Close()

	var addons []*model.AddonWithTags
	byHash := make(map[string]*model.AddonWithTags)
	for rows.Next() {
		r, err := scanAddon(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning addon: %w", err)
		}
		a := &model.AddonWithTags{AddonRecord: *r}
		addons = append(addons, a)
		byHash[string(r.ContentHash)] = a
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tagRows, err := s.db.QueryContext(ctx, "SELECT hash, tag FROM addon_tags ORDER BY tag")
	if err != nil {
		return nil, fmt.Errorf("listing tags: %w", err)
	}
	defer tagRows.Close()

	for tagRows.Next() {
		var (
			hash []byte
			tag  string
		)
		if err := tagRows.Scan(&hash, &tag); err != nil {
			return nil, fmt.Errorf("scanning tag: %w", err)
		}
		if a, ok := byHash[string(hash)]; ok {
			a.Tags = append(a.Tags, tag)
		}
	}
	return addons, tagRows.Err()
}

func (s *SQLiteDatabase) AddTag(ctx context.Context, hash model.ContentHash, tag string) error {
	_, err := s.db.ExecContext(ctx, "INSERT OR IGNORE INTO addon_tags (hash, tag) VALUES (?, ?)", []byte(hash), tag)
	if err != nil {
		return fmt.Errorf("adding tag: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) RemoveTag(ctx context.Context, hash model.ContentHash, tag string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM addon_tags WHERE hash = ? AND tag = ?", []byte(hash), tag)
	if err != nil {
		return fmt.Errorf("removing tag: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) Counts(ctx context.Context) (int, int, error) {
	var addons, workshop int
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM addons),
			(SELECT COUNT(*) FROM workshop_items WHERE flags & ? != 0)`,
		int64(model.FlagWorkshop)).Scan(&addons, &workshop)
	if err != nil {
		return 0, 0, fmt.Errorf("counting catalog: %w", err)
	}
	return addons, workshop, nil
}

// Scan run tracking

func (s *SQLiteDatabase) CreateScanRun(ctx context.Context, sessionID string, speed string, startedAt time.Time) (*model.ScanRun, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO scan_runs (session_id, speed, started_at, status) VALUES (?, ?, ?, ?)",
		sessionID, speed, startedAt, am.RunStatusRunning)
	if err != nil {
		return nil, fmt.Errorf("creating scan run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading scan run id: %w", err)
	}
	return &model.ScanRun{
		ID:        id,
		SessionID: sessionID,
		Speed:     speed,
		StartedAt: startedAt,
		Status:    am.RunStatusRunning,
	}, nil
}

func (s *SQLiteDatabase) FinishScanRun(ctx context.Context, run *model.ScanRun) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scan_runs
		SET finished_at = ?, status = ?, total = ?, added = ?, updated = ?, failed = ?, reason = ?
		WHERE id = ?`,
		run.FinishedAt, run.Status, run.Total, run.Added, run.Updated, run.Failed, run.Reason, run.ID)
	if err != nil {
		return fmt.Errorf("finishing scan run: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) ListScanRuns(ctx context.Context, limit int) ([]*model.ScanRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, speed, started_at, finished_at, status, total, added, updated, failed, reason
		FROM scan_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing scan runs: %w", err)
	}
	defer rows.Close()

	var runs []*model.ScanRun
	for rows.Next() {
		var (
			run      model.ScanRun
			finished sql.NullTime
		)
		err := rows.Scan(&run.ID, &run.SessionID, &run.Speed, &run.StartedAt, &finished, &run.Status,
			&run.Total, &run.Added, &run.Updated, &run.Failed, &run.Reason)
		if err != nil {
			return nil, fmt.Errorf("scanning scan run: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			run.FinishedAt = &t
		}
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

func (s *SQLiteDatabase) MaxCompletedScanRunID(ctx context.Context) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(id), 0) FROM scan_runs WHERE status = ?", am.RunStatusCompleted).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("getting max completed scan run id: %w", err)
	}
	return id, nil
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	_, err := s.db.Exec("VACUUM INTO ?", destPath)
	if err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func isPrimaryKeyViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// Compile-time check that SQLiteDatabase implements am.Catalog interface
var _ am.Catalog = (*SQLiteDatabase)(nil)
