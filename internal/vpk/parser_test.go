package vpk

import (
	"crypto/sha256"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"am-go/internal/model"
)

const campaignInfo = `"AddonInfo"
{
	addontitle		"Urban Flight"
	addonversion	"2.1"
	addonauthor		"someone"
	addonTagline	"Escape the city"
	addonurl0		"https://steamcommunity.com/sharedfiles/filedetails/?id=121086524"
	addonContent_Campaign	1
	addonContent_Music		1
	addonContent_Survivor	0
	addonContent_Script		""
}`

const campaignMission = `"mission"
{
	"Name"	"urbanflight"
	"modes"
	{
		"coop"
		{
			"10" { "Map" "uf4_airfield" }
			"2"  { "Map" "uf2_rooftops" }
			"1"  { "Map" "uf1_boulevard" }
			"3"  { "Map" "uf3_hospital" }
		}
		"versus"
		{
			"1" { "Map" "uf1_boulevard" }
		}
	}
}`

func TestParser_Parse(t *testing.T) {
	t.Run("campaign with missions", func(t *testing.T) {
		p := buildVPK(t, 2, map[string]string{
			"addoninfo.txt":            campaignInfo,
			"missions/urbanflight.txt": campaignMission,
			"maps/uf1_boulevard.bsp":   "bsp",
		})

		info, err := NewParser().Parse(p)
		if err != nil {
			t.Fatalf("Parse() error = %v", err)
		}

		if info.Title == nil || *info.Title != "Urban Flight" {
			t.Errorf("Title = %v, want Urban Flight", info.Title)
		}
		if info.Version == nil || *info.Version != "2.1" {
			t.Errorf("Version = %v, want 2.1", info.Version)
		}
		if info.Tagline == nil || *info.Tagline != "Escape the city" {
			t.Errorf("Tagline = %v, want Escape the city", info.Tagline)
		}
		if info.AddonURL == nil || !strings.HasSuffix(*info.AddonURL, "id=121086524") {
			t.Errorf("AddonURL = %v", info.AddonURL)
		}

		wantFlags := model.FlagCampaign | model.FlagSound
		if info.Flags != wantFlags {
			t.Errorf("Flags = %s, want %s", info.Flags, wantFlags)
		}

		wantChapters := "uf1_boulevard,uf2_rooftops,uf3_hospital,uf4_airfield"
		if got := strings.Join(info.Chapters, ","); got != wantChapters {
			t.Errorf("Chapters = %s, want %s", got, wantChapters)
		}
	})

	t.Run("minimal addon", func(t *testing.T) {
		p := buildVPK(t, 1, map[string]string{
			"addoninfo.txt": `"AddonInfo" { addonContent_WeaponModel 1 addonContent_Skin 1 }`,
		})

		info, err := NewParser().Parse(p)
		if err != nil {
			t.Fatalf("Parse() error = %v", err)
		}
		if info.Title != nil || info.Version != nil || info.Author != nil {
			t.Errorf("expected no title, version or author, got %+v", info)
		}
		if info.Flags != model.FlagWeapon|model.FlagSkin {
			t.Errorf("Flags = %s, want skin,weapon", info.Flags)
		}
		if info.Chapters != nil {
			t.Errorf("Chapters = %v, want nil", info.Chapters)
		}
	})

	t.Run("missing addoninfo", func(t *testing.T) {
		p := buildVPK(t, 1, map[string]string{"models/x.mdl": "mdl"})

		_, err := NewParser().Parse(p)
		if !errors.Is(err, ErrNoAddonInfo) {
			t.Errorf("Parse() error = %v, want ErrNoAddonInfo", err)
		}
	})

	t.Run("malformed addoninfo", func(t *testing.T) {
		p := buildVPK(t, 1, map[string]string{"addoninfo.txt": `"AddonInfo" { "addontitle" `})

		if _, err := NewParser().Parse(p); err == nil {
			t.Error("Parse() expected error for malformed addoninfo")
		}
	})

	t.Run("not an archive", func(t *testing.T) {
		p := filepath.Join(t.TempDir(), "junk.vpk")
		if err := os.WriteFile(p, []byte("junk"), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := NewParser().Parse(p); err == nil {
			t.Error("Parse() expected error for junk file")
		}
	})
}

func TestParser_ContentHash(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.vpk")
	b := filepath.Join(dir, "renamed.vpk")
	content := []byte("identical bytes")
	for _, p := range []string{a, b} {
		if err := os.WriteFile(p, content, 0644); err != nil {
			t.Fatal(err)
		}
	}

	p := NewParser()
	ha, err := p.ContentHash(a)
	if err != nil {
		t.Fatalf("ContentHash() error = %v", err)
	}
	hb, err := p.ContentHash(b)
	if err != nil {
		t.Fatalf("ContentHash() error = %v", err)
	}

	if ha.String() != hb.String() {
		t.Errorf("hashes differ for identical content: %s vs %s", ha, hb)
	}
	sum := sha256.Sum256(content)
	if ha.String() != model.ContentHash(sum[:]).String() {
		t.Errorf("ContentHash() = %s, want sha256 %x", ha, sum)
	}

	if _, err := p.ContentHash(filepath.Join(dir, "missing.vpk")); err == nil {
		t.Error("ContentHash() expected error for missing file")
	}
}
