package model

import (
	"encoding/hex"
	"strings"
	"time"
)

// AddonFlags is a bitset describing what an addon contains.
// The same bits are used on workshop items, where only FlagWorkshop is meaningful.
type AddonFlags uint32

const (
	// FlagWorkshop marks an entry backed by a file in the workshop mirror folder.
	FlagWorkshop AddonFlags = 1 << iota
	FlagCampaign
	FlagSurvivor
	FlagScript
	FlagSkin
	FlagWeapon
	FlagSound
)

var flagNames = []struct {
	flag AddonFlags
	name string
}{
	{FlagWorkshop, "workshop"},
	{FlagCampaign, "campaign"},
	{FlagSurvivor, "survivor"},
	{FlagScript, "script"},
	{FlagSkin, "skin"},
	{FlagWeapon, "weapon"},
	{FlagSound, "sound"},
}

// Has reports whether every bit in f2 is set in f.
func (f AddonFlags) Has(f2 AddonFlags) bool {
	return f&f2 == f2
}

// String returns a comma-separated list of set flag names.
func (f AddonFlags) String() string {
	var names []string
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			names = append(names, fn.name)
		}
	}
	return strings.Join(names, ",")
}

// ContentHash is the SHA-256 digest of a package file and the durable
// identity of an AddonRecord.
type ContentHash []byte

// String returns the lowercase hex encoding of the hash.
func (h ContentHash) String() string {
	return hex.EncodeToString(h)
}

// ParseContentHash decodes a hex-encoded hash.
func ParseContentHash(s string) (ContentHash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return ContentHash(b), nil
}

// AddonRecord is one catalog row per distinct content hash ever seen.
type AddonRecord struct {
	Filename      *string     // nil when the file is not currently on disk
	ContentHash   ContentHash // primary identity
	CreatedAt     time.Time   // when the catalog first saw this content
	UpdatedAt     time.Time   // file modification time
	FileSize      int64
	Flags         AddonFlags
	Title         string
	Author        *string
	Version       string
	Tagline       *string
	ChapterIDs    *string // comma-joined list of map names
	WorkshopID    *int64
	ScanSessionID string // last session that confirmed presence
}

// Present reports whether the record's file was found by the last scan.
func (r *AddonRecord) Present() bool {
	return r.Filename != nil
}

// AddonWithTags is an AddonRecord joined with its user tags.
type AddonWithTags struct {
	AddonRecord
	Tags []string
}

// WorkshopItem is metadata for one external workshop id.
type WorkshopItem struct {
	PublishedFileID int64
	Title           string
	TimeCreated     time.Time
	TimeUpdated     time.Time
	FileSize        int64
	Description     string
	FileURL         string
	CreatorID       string
	Tags            []string
	Flags           AddonFlags // FlagWorkshop set when present in the mirror folder
	ScanSessionID   string
}

// InWorkshopFolder reports whether the item has a file in the workshop mirror folder.
func (w *WorkshopItem) InWorkshopFolder() bool {
	return w.Flags.Has(FlagWorkshop)
}

// ScanRun records one scan session for history and snapshot versioning.
type ScanRun struct {
	ID         int64
	SessionID  string
	Speed      string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     string // "running", "completed" or "aborted"
	Total      int
	Added      int
	Updated    int
	Failed     int
	Reason     string
}
