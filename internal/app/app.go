package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/hashicorp/go-multierror"

	"am-go/internal/am"
	"am-go/internal/config"
	"am-go/internal/database"
	"am-go/internal/encryption"
	"am-go/internal/fs"
	"am-go/internal/model"
	"am-go/internal/steam"
	"am-go/internal/vault"
	"am-go/internal/vpk"
)

// lockFileName is the single-writer lock inside the base directory.
const lockFileName = "am.lock"

// ErrLocked is returned when another am process holds the data lock.
var ErrLocked = errors.New("another am process is using the catalog")

// Options tunes how an App is opened.
type Options struct {
	// ReadOnly skips the data lock. Only list/report commands should set it.
	ReadOnly bool
	// SkipVersionCheck opens a catalog that is behind the vault. Used by restore.
	SkipVersionCheck bool
	// Sink receives scan events; nil discards them.
	Sink am.EventSink
	// Verbose also writes debug and info logs to stderr.
	Verbose bool
}

// App is the application layer between the CLI and the am packages.
// It constructs all dependencies from config, exposes the operations the
// commands need, and releases the catalog, lock and log file on Close.
type App struct {
	cfg       *config.Config
	opts      Options
	catalog   *database.SQLiteDatabase
	vault     am.Vault     // nil when snapshots are disabled
	encryptor am.Encryptor // nil when snapshots are stored in plain
	snapshots *am.Snapshotter
	scanner   *am.Scanner
	service   *am.Service
	logger    am.Logger
	lock      *flock.Flock
	logFile   *os.File
}

// NewApp creates a fully wired App from the given config.
// The caller must call Close when done.
func NewApp(ctx context.Context, cfg *config.Config, opts Options) (_ *App, err error) {
	opID := time.Now().UTC().Format("20060102T150405Z")
	slogger, logFile, err := newLogger(cfg.LogDir, opID, opts.Verbose)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	a := &App{cfg: cfg, opts: opts, logger: &slogAdapter{l: slogger}, logFile: logFile}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if !opts.ReadOnly {
		if err := a.acquireLock(); err != nil {
			return nil, err
		}
	}

	a.vault, err = vault.NewVaultFromConfig(ctx, cfg.Vault)
	if err != nil {
		return nil, fmt.Errorf("creating vault: %w", err)
	}
	a.encryptor, err = encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}
	if a.vault != nil {
		a.snapshots = am.NewSnapshotter(a.vault, a.encryptor, a.logger, "")
	}

	if err := a.openCatalog(); err != nil {
		return nil, err
	}

	if a.snapshots != nil && !opts.SkipVersionCheck {
		if err := a.snapshots.CheckVersion(ctx, a.catalog); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *App) acquireLock() error {
	if a.cfg.BaseDir == "" {
		return fmt.Errorf("base_dir must be set")
	}
	if err := os.MkdirAll(a.cfg.BaseDir, 0755); err != nil {
		return fmt.Errorf("creating base dir: %w", err)
	}

	lock := flock.New(filepath.Join(a.cfg.BaseDir, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring data lock: %w", err)
	}
	if !locked {
		return ErrLocked
	}
	a.lock = lock
	return nil
}

// openCatalog opens the catalog and wires the scanner and service over it.
func (a *App) openCatalog() error {
	db, err := database.NewDatabaseFromConfig(a.cfg.Database)
	if err != nil {
		return fmt.Errorf("opening catalog: %w", err)
	}
	if err := db.CheckMigrations(); err != nil {
		db.Close()
		return fmt.Errorf("catalog schema out of date: %w", err)
	}
	a.catalog = db

	speed, err := am.ParseSpeed(a.cfg.Scan.Speed)
	if err != nil {
		return err
	}
	a.logger.Debug("catalog opened", "path", db.Path(), "default_speed", string(speed))

	a.scanner = am.NewScanner(
		db,
		vpk.NewParser(),
		fs.NewPackageEnumerator(a.cfg.Scan.Ignore, a.logger),
		a.newWorkshopClient(),
		a.opts.Sink,
		a.logger,
		am.RealClock{},
		am.UUIDGenerator{},
		am.ScannerOptions{
			AbortTimeout: a.cfg.Scan.AbortTimeout(),
			ResultBuffer: a.cfg.Scan.ResultBuffer,
		},
	)
	a.service = am.NewService(db, a.logger)
	return nil
}

// newWorkshopClient returns nil when workshop lookups are disabled.
func (a *App) newWorkshopClient() am.WorkshopClient {
	switch a.cfg.Workshop.Type {
	case "steam":
		opts := []steam.Option{
			steam.WithLogger(a.logger),
			steam.WithTimeout(time.Duration(a.cfg.Workshop.TimeoutSecs) * time.Second),
		}
		if a.cfg.Workshop.APIBase != "" {
			opts = append(opts, steam.WithBaseURL(a.cfg.Workshop.APIBase))
		}
		return steam.NewClient(opts...)
	default:
		return nil
	}
}

// Scan runs a scan of the configured addons folder to completion and returns
// its summary. An empty speed selects the configured default. Call AbortScan
// from another goroutine to stop it. After a completed scan the catalog is
// snapshotted to the vault, if one is configured.
func (a *App) Scan(ctx context.Context, speed string) (*am.Summary, error) {
	if speed == "" {
		speed = a.cfg.Scan.Speed
	}
	s, err := am.ParseSpeed(speed)
	if err != nil {
		return nil, err
	}
	if a.cfg.Scan.AddonsDir == "" {
		return nil, fmt.Errorf("scan: addons_dir is not configured")
	}

	if !a.scanner.Start(a.cfg.Scan.AddonsDir, s) {
		return nil, am.ErrScanRunning
	}
	summary, err := a.scanner.Wait(ctx)
	if err != nil {
		return nil, err
	}
	if summary.Err != nil {
		return summary, summary.Err
	}

	if summary.Status == am.RunStatusCompleted && a.snapshots != nil {
		if _, err := a.snapshots.Backup(ctx, a.catalog, false); err != nil {
			a.logger.Error("catalog snapshot failed", "error", err)
			return summary, fmt.Errorf("scan completed but the catalog snapshot failed: %w", err)
		}
	}
	return summary, nil
}

// AbortScan stops a running scan. It returns once the scan has ended or the
// abort timeout has passed.
func (a *App) AbortScan(reason string) {
	a.scanner.Abort(&reason)
}

// ScanState reports whether a scan is running.
func (a *App) ScanState() am.State {
	return a.scanner.State()
}

// ListAddons returns every catalogued addon with its tags.
func (a *App) ListAddons(ctx context.Context) ([]*model.AddonWithTags, error) {
	return a.service.ListAddons(ctx)
}

// ListWorkshop returns the workshop items in the mirror folder.
func (a *App) ListWorkshop(ctx context.Context) ([]*model.WorkshopItem, error) {
	return a.service.ListWorkshop(ctx)
}

func (a *App) AddTag(ctx context.Context, hash, tag string) error {
	return a.service.AddTag(ctx, hash, tag)
}

func (a *App) RemoveTag(ctx context.Context, hash, tag string) error {
	return a.service.RemoveTag(ctx, hash, tag)
}

func (a *App) GetStats(ctx context.Context) (*am.Stats, error) {
	return a.service.GetStats(ctx)
}

func (a *App) GetHistory(ctx context.Context, limit int) ([]*model.ScanRun, error) {
	return a.service.GetHistory(ctx, limit)
}

// NeedsPassphrase reports whether restoring requires unlocking a private key.
func (a *App) NeedsPassphrase() bool {
	return a.snapshots != nil && a.encryptor != nil
}

// CheckVault verifies the configured vault is reachable and writable.
func (a *App) CheckVault(ctx context.Context) error {
	if a.vault == nil {
		return fmt.Errorf("no vault configured")
	}
	return a.vault.ValidateSetup(ctx)
}

// BackupCatalog uploads a catalog snapshot. Without force it is skipped (and
// 0 returned) when the vault is already current.
func (a *App) BackupCatalog(ctx context.Context, force bool) (int64, error) {
	if a.snapshots == nil {
		return 0, fmt.Errorf("no vault configured")
	}
	return a.snapshots.Backup(ctx, a.catalog, force)
}

// RestoreCatalog replaces the local catalog with the newest vault snapshot
// and returns its version. passphrase is ignored when snapshots are not
// encrypted.
func (a *App) RestoreCatalog(ctx context.Context, passphrase string) (int64, error) {
	if a.snapshots == nil {
		return 0, fmt.Errorf("no vault configured")
	}
	if a.cfg.Database.Type != "sqlite" {
		return 0, fmt.Errorf("restore needs a sqlite catalog, not %q", a.cfg.Database.Type)
	}
	if a.scanner.State() == am.StateRunning {
		return 0, am.ErrScanRunning
	}

	var dec am.DecryptionContext
	if a.encryptor != nil {
		if err := a.fetchKeys(ctx); err != nil {
			return 0, err
		}
		var err error
		dec, err = a.encryptor.Unlock(passphrase)
		if err != nil {
			return 0, fmt.Errorf("unlocking private key: %w", err)
		}
	}

	if err := a.catalog.Close(); err != nil {
		return 0, fmt.Errorf("closing catalog: %w", err)
	}
	a.catalog = nil

	path := filepath.Join(a.cfg.Database.DataDir, database.CatalogFileName)
	version, restoreErr := a.snapshots.Restore(ctx, dec, path)

	// The old catalog is still in place if the restore failed.
	if err := a.openCatalog(); err != nil {
		return 0, multierror.Append(restoreErr, err)
	}
	if restoreErr != nil {
		return 0, restoreErr
	}
	return version, nil
}

// InitKeys generates the snapshot key pair and, when a vault is configured,
// stores copies of both key files in it so another machine can restore.
func (a *App) InitKeys(ctx context.Context, passphrase string) error {
	if a.encryptor == nil {
		return fmt.Errorf("encryption is disabled in the config")
	}
	if err := a.encryptor.Setup(passphrase); err != nil {
		return fmt.Errorf("creating keys: %w", err)
	}

	ageEnc, ok := a.encryptor.(*encryption.AgeEncryptor)
	if !ok || a.snapshots == nil {
		return nil
	}
	public, private := ageEnc.KeyPaths()
	if err := a.snapshots.UploadFile(ctx, am.SnapshotPublicKey, public, 1); err != nil {
		return err
	}
	if err := a.snapshots.UploadFile(ctx, am.SnapshotPrivateKey, private, 1); err != nil {
		return err
	}
	a.logger.Info("snapshot keys stored in vault")
	return nil
}

// fetchKeys downloads the key files from the vault when they are missing
// locally, as on a freshly set up machine.
func (a *App) fetchKeys(ctx context.Context) error {
	ageEnc, ok := a.encryptor.(*encryption.AgeEncryptor)
	if !ok || ageEnc.IsConfigured() {
		return nil
	}

	public, private := ageEnc.KeyPaths()
	keys := []struct {
		name string
		path string
		mode os.FileMode
	}{
		{am.SnapshotPublicKey, public, 0644},
		{am.SnapshotPrivateKey, private, 0600},
	}
	for _, k := range keys {
		if err := os.MkdirAll(filepath.Dir(k.path), 0700); err != nil {
			return fmt.Errorf("creating key directory: %w", err)
		}
		f, err := os.OpenFile(k.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, k.mode)
		if err != nil {
			return fmt.Errorf("creating %s: %w", k.path, err)
		}
		err = a.vault.GetSnapshot(ctx, k.name, f)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(k.path)
			return fmt.Errorf("fetching %s from vault: %w", k.name, err)
		}
	}
	a.logger.Info("snapshot keys fetched from vault")
	return nil
}

// Close aborts a running scan and releases the catalog, lock and log file.
func (a *App) Close() error {
	var result *multierror.Error

	if a.scanner != nil && a.scanner.State() == am.StateRunning {
		a.AbortScan("application closing")
	}
	if a.catalog != nil {
		if err := a.catalog.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("closing catalog: %w", err))
		}
		a.catalog = nil
	}
	if a.lock != nil {
		if err := a.lock.Unlock(); err != nil {
			result = multierror.Append(result, fmt.Errorf("releasing data lock: %w", err))
		}
		a.lock = nil
	}
	if a.logFile != nil {
		if err := a.logFile.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("closing log file: %w", err))
		}
		a.logFile = nil
	}
	return result.ErrorOrNil()
}
