package vpk

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"

	"am-go/internal/am"
	"am-go/internal/model"
)

const (
	addonInfoFile = "addoninfo.txt"
	missionsDir   = "missions/"
)

// ErrNoAddonInfo is returned by Parse for archives without addoninfo.txt.
var ErrNoAddonInfo = errors.New("bad addon: no addoninfo.txt found in addon")

// contentKeys maps addonContent_* keys to catalog flags.
var contentKeys = []struct {
	key  string
	flag model.AddonFlags
}{
	{"addoncontent_campaign", model.FlagCampaign},
	{"addoncontent_map", model.FlagCampaign},
	{"addoncontent_survivor", model.FlagSurvivor},
	{"addoncontent_script", model.FlagScript},
	{"addoncontent_skin", model.FlagSkin},
	{"addoncontent_weaponmodel", model.FlagWeapon},
	{"addoncontent_weapon", model.FlagWeapon},
	{"addoncontent_sound", model.FlagSound},
	{"addoncontent_music", model.FlagSound},
}

// Parser reads addon metadata from VPK archives.
type Parser struct{}

// NewParser creates a VPK addon parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse reads addoninfo.txt and the coop chapter list of the archive at path.
func (p *Parser) Parse(path string) (*am.PackageInfo, error) {
	a, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer a.Close()

	data, err := a.ReadFile(addonInfoFile)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNoAddonInfo
	}
	if err != nil {
		return nil, err
	}

	info, err := parseAddonInfo(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", addonInfoFile, err)
	}

	info.Chapters, err = missionChapters(a)
	if err != nil {
		return nil, err
	}
	return info, nil
}

// ContentHash returns the SHA-256 digest of the file at path.
func (p *Parser) ContentHash(path string) (model.ContentHash, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, fmt.Errorf("hashing %s: %w", path, err)
	}
	return model.ContentHash(h.Sum(nil)), nil
}

func parseAddonInfo(data []byte) (*am.PackageInfo, error) {
	doc, err := ParseKeyValues(data)
	if err != nil {
		return nil, err
	}

	// The root key is conventionally "AddonInfo" but the engine accepts any name.
	var root *Node
	for _, c := range doc.Children {
		if c.Children != nil {
			root = c
			break
		}
	}
	if root == nil {
		return nil, fmt.Errorf("no root block")
	}

	info := &am.PackageInfo{
		Title:    optional(root, "addontitle"),
		Version:  optional(root, "addonversion"),
		Author:   optional(root, "addonauthor"),
		Tagline:  optional(root, "addontagline"),
		AddonURL: optional(root, "addonurl0"),
	}
	for _, ck := range contentKeys {
		if v, ok := root.String(ck.key); ok && truthy(v) {
			info.Flags |= ck.flag
		}
	}
	return info, nil
}

func optional(n *Node, key string) *string {
	v, ok := n.String(key)
	if !ok {
		return nil
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

func truthy(v string) bool {
	v = strings.TrimSpace(v)
	return v != "" && v != "0"
}

// missionChapters returns the coop maps of the first mission file that has a
// coop mode, in chapter order. nil when the addon has no campaign.
func missionChapters(a *Archive) ([]string, error) {
	for _, name := range a.Files() {
		if !strings.HasPrefix(name, missionsDir) || path.Ext(name) != ".txt" {
			continue
		}

		data, err := a.ReadFile(name)
		if err != nil {
			return nil, err
		}
		doc, err := ParseKeyValues(data)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", name, err)
		}

		for _, mission := range doc.Children {
			coop := mission.Child("modes")
			if coop != nil {
				coop = coop.Child("coop")
			}
			if coop == nil || coop.Children == nil {
				continue
			}
			return coopMaps(coop), nil
		}
	}
	return nil, nil
}

func coopMaps(coop *Node) []string {
	type chapter struct {
		n       int
		mapName string
	}
	var chapters []chapter
	for _, c := range coop.Children {
		n, err := strconv.Atoi(strings.TrimSpace(c.Key))
		if err != nil {
			continue
		}
		m, ok := c.String("Map")
		if !ok || m == "" {
			continue
		}
		chapters = append(chapters, chapter{n: n, mapName: m})
	}
	sort.SliceStable(chapters, func(i, j int) bool { return chapters[i].n < chapters[j].n })

	maps := make([]string, len(chapters))
	for i, c := range chapters {
		maps[i] = c.mapName
	}
	return maps
}

// Compile-time check that Parser implements am.PackageParser interface
var _ am.PackageParser = (*Parser)(nil)
