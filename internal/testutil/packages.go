package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// WritePackages creates files under dir from a filename -> content map and
// returns dir. Names may include one subdirectory, e.g. "workshop/123.vpk".
func WritePackages(t *testing.T, dir string, files map[string]string) string {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("creating %s: %v", filepath.Dir(path), err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("writing %s: %v", path, err)
		}
	}
	return dir
}
