package am

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"am-go/internal/model"
)

// Outcome is the reconciliation decision for one scanned file.
type Outcome int

const (
	// OutcomeFailed means the file could not be parsed or hashed.
	OutcomeFailed Outcome = iota
	// OutcomeUnchanged means the filename already maps to this content hash.
	OutcomeUnchanged
	// OutcomeUpdated means an existing record with this hash was re-pointed
	// at the file (rename) and its metadata refreshed.
	OutcomeUpdated
	// OutcomeAdded means a new record was created.
	OutcomeAdded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeUpdated:
		return "updated"
	case OutcomeAdded:
		return "added"
	default:
		return "failed"
	}
}

var (
	workshopURLPattern  = regexp.MustCompile(`https://steamcommunity\.com/sharedfiles/filedetails/\?id=(\d+)`)
	workshopFilePattern = regexp.MustCompile(`\d{4,}`)
)

// FindWorkshopID extracts a workshop id candidate for a package, preferring
// the addon url and falling back to the first run of 4+ digits in filename.
func FindWorkshopID(filename string, addonURL *string) *int64 {
	if addonURL != nil {
		if m := workshopURLPattern.FindStringSubmatch(*addonURL); m != nil {
			if id, err := strconv.ParseInt(m[1], 10, 64); err == nil {
				return &id
			}
		}
	}

	stem := strings.TrimSuffix(filename, filepath.Ext(filename))
	if m := workshopFilePattern.FindString(stem); m != "" {
		if id, err := strconv.ParseInt(m, 10, 64); err == nil {
			return &id
		}
	}
	return nil
}

// reconciler applies worker results to the catalog. It is owned by the single
// consumer goroutine of a scan and is not safe for concurrent use.
type reconciler struct {
	store     Store
	clock     Clock
	logger    Logger
	sessionID string

	// hashes seen unchanged; stamped with the session during finalization
	confirmed []model.ContentHash
}

// apply reconciles one result. A non-nil error is a catalog failure and is
// fatal to the scan; per-file problems come back as OutcomeFailed.
// For OutcomeAdded the returned id is the workshop id candidate, if any.
func (r *reconciler) apply(ctx context.Context, res fileResult) (Outcome, *int64, error) {
	filename := filepath.Base(res.Path)

	if res.Err != nil {
		r.logger.Error("scan failed for file", "file", filename, "error", res.Err)
		return OutcomeFailed, nil, nil
	}

	existing, err := r.store.FindByFilename(ctx, filename)
	if err != nil {
		return OutcomeFailed, nil, fmt.Errorf("looking up %s: %w", filename, err)
	}
	if existing != nil && bytes.Equal(existing.ContentHash, res.Hash) {
		r.confirmed = append(r.confirmed, res.Hash)
		return OutcomeUnchanged, nil, nil
	}

	title, version := titleAndVersion(res.Info, filename)

	updated, err := r.store.UpdateByHash(ctx, res.Hash, filename, title, version, r.sessionID)
	if err != nil {
		return OutcomeFailed, nil, fmt.Errorf("updating %s by hash: %w", filename, err)
	}
	if updated {
		return OutcomeUpdated, nil, nil
	}

	workshopID := FindWorkshopID(filename, res.Info.AddonURL)
	record := &model.AddonRecord{
		Filename:    &filename,
		ContentHash: res.Hash,
		CreatedAt:   r.clock.Now(),
		UpdatedAt:   res.Stat.ModTime(),
		FileSize:    res.Stat.Size(),
		Flags:       res.Info.Flags &^ model.FlagWorkshop,
		Title:       title,
		Author:      res.Info.Author,
		Version:     version,
		Tagline:     res.Info.Tagline,
		WorkshopID:  workshopID,
	}
	if len(res.Info.Chapters) > 0 {
		chapters := strings.Join(res.Info.Chapters, ",")
		record.ChapterIDs = &chapters
	}

	if err := r.store.Insert(ctx, record, r.sessionID); err != nil {
		return OutcomeFailed, nil, fmt.Errorf("adding %s: %w", filename, err)
	}

	r.logger.Info("added addon", "file", filename, "title", title, "flags", record.Flags.String(), "hash", res.Hash.String())
	return OutcomeAdded, workshopID, nil
}

// titleAndVersion falls back to the file stem and an empty version when the
// package does not declare them.
func titleAndVersion(info *PackageInfo, filename string) (string, string) {
	title := strings.TrimSuffix(filename, filepath.Ext(filename))
	if info.Title != nil && strings.TrimSpace(*info.Title) != "" {
		title = strings.TrimSpace(*info.Title)
	}
	version := ""
	if info.Version != nil {
		version = strings.TrimSpace(*info.Version)
	}
	return title, version
}
