package vpk

import "testing"

func TestParseKeyValues(t *testing.T) {
	doc := `// exported by the addon tool
"AddonInfo"
{
	addonSteamAppID		550
	addontitle			"Dead \"Center\" Remix"
	addonversion		1.2
	addonDescription	"Line one\nLine two"
	addonurl0			"https://steamcommunity.com/sharedfiles/filedetails/?id=123456"
	addonContent_Campaign 1   [$WIN32]
	"nested"
	{
		"inner"	"value"
	}
	"path"	"maps\c1m1"
}
`
	root, err := ParseKeyValues([]byte(doc))
	if err != nil {
		t.Fatalf("ParseKeyValues() error = %v", err)
	}

	info := root.Child("addoninfo")
	if info == nil {
		t.Fatal("Child(addoninfo) = nil, want block (case-insensitive)")
	}

	tests := []struct {
		key  string
		want string
	}{
		{"addonSteamAppID", "550"},
		{"ADDONTITLE", `Dead "Center" Remix`},
		{"addonversion", "1.2"},
		{"addonDescription", "Line one\nLine two"},
		{"addonurl0", "https://steamcommunity.com/sharedfiles/filedetails/?id=123456"},
		{"addonContent_Campaign", "1"},
		{"path", `maps\c1m1`},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, ok := info.String(tt.key)
			if !ok {
				t.Fatalf("String(%q) not found", tt.key)
			}
			if got != tt.want {
				t.Errorf("String(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}

	if _, ok := info.String("nested"); ok {
		t.Error("String(nested) on a block should report false")
	}
	if v, _ := info.Child("nested").String("inner"); v != "value" {
		t.Errorf("nested inner = %q, want value", v)
	}
}

func TestParseKeyValues_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unterminated string", `"AddonInfo" { "title" "oops }`},
		{"missing close brace", `"AddonInfo" { "title" "x"`},
		{"stray close brace", `"title" "x" }`},
		{"key without value", `"AddonInfo" { "title" }`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseKeyValues([]byte(tt.doc)); err == nil {
				t.Errorf("ParseKeyValues(%q) expected error", tt.doc)
			}
		})
	}
}

func TestParseKeyValues_ByteOrderMark(t *testing.T) {
	root, err := ParseKeyValues([]byte("\ufeff\"AddonInfo\" { \"addontitle\" \"BOM\" }"))
	if err != nil {
		t.Fatalf("ParseKeyValues() error = %v", err)
	}
	if v, _ := root.Child("AddonInfo").String("addontitle"); v != "BOM" {
		t.Errorf("addontitle = %q, want BOM", v)
	}
}
