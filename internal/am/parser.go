package am

import "am-go/internal/model"

// PackageInfo is the descriptive metadata extracted from a package file.
type PackageInfo struct {
	Title    *string
	Version  *string
	Author   *string
	Tagline  *string
	AddonURL *string
	Flags    model.AddonFlags // content flags only, never FlagWorkshop
	Chapters []string         // coop map names in play order, nil if not a campaign
}

// PackageParser extracts metadata and a content identity from package files.
type PackageParser interface {
	// Parse reads the package's embedded metadata.
	Parse(path string) (*PackageInfo, error)

	// ContentHash returns a digest of the file's bytes. Identical content must
	// produce identical hashes regardless of filename.
	ContentHash(path string) (model.ContentHash, error)
}
