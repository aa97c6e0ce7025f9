package fs

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFiles(t *testing.T, root string, names ...string) {
	t.Helper()
	for _, name := range names {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(name), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestPackageEnumerator_ListPackages(t *testing.T) {
	t.Run("lists packages directly under root", func(t *testing.T) {
		root := t.TempDir()
		writeFiles(t, root,
			"b.vpk", "a.VPK", "readme.txt", "addonlist.txt",
			"workshop/123456.vpk", "nested/c.vpk",
		)

		got, err := NewPackageEnumerator(nil, nil).ListPackages(root)
		if err != nil {
			t.Fatalf("ListPackages() error = %v", err)
		}

		want := []string{filepath.Join(root, "a.VPK"), filepath.Join(root, "b.vpk")}
		if len(got) != len(want) {
			t.Fatalf("ListPackages() = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("ListPackages()[%d] = %q, want %q", i, got[i], want[i])
			}
		}
	})

	t.Run("applies config and .amignore patterns", func(t *testing.T) {
		root := t.TempDir()
		writeFiles(t, root, "keep.vpk", "skip_old.vpk", "broken.vpk")
		if err := os.WriteFile(filepath.Join(root, IgnoreFileName), []byte("broken.vpk\n"), 0644); err != nil {
			t.Fatal(err)
		}

		got, err := NewPackageEnumerator([]string{"*_old.vpk"}, nil).ListPackages(root)
		if err != nil {
			t.Fatalf("ListPackages() error = %v", err)
		}
		if len(got) != 1 || filepath.Base(got[0]) != "keep.vpk" {
			t.Errorf("ListPackages() = %v, want only keep.vpk", got)
		}
	})

	t.Run("follows symlinks to regular files", func(t *testing.T) {
		root := t.TempDir()
		store := t.TempDir()
		writeFiles(t, root, "plain.vpk")
		writeFiles(t, store, "shared.vpk", "folder.vpk/inner.txt")

		links := map[string]string{
			"linked.vpk": filepath.Join(store, "shared.vpk"),
			"dir.vpk":    filepath.Join(store, "folder.vpk"),
			"broken.vpk": filepath.Join(store, "gone.vpk"),
		}
		for name, target := range links {
			if err := os.Symlink(target, filepath.Join(root, name)); err != nil {
				t.Skipf("symlinks unavailable: %v", err)
			}
		}

		got, err := NewPackageEnumerator(nil, nil).ListPackages(root)
		if err != nil {
			t.Fatalf("ListPackages() error = %v", err)
		}
		want := []string{filepath.Join(root, "linked.vpk"), filepath.Join(root, "plain.vpk")}
		if len(got) != len(want) {
			t.Fatalf("ListPackages() = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("ListPackages()[%d] = %q, want %q", i, got[i], want[i])
			}
		}
	})

	t.Run("missing root is an error", func(t *testing.T) {
		_, err := NewPackageEnumerator(nil, nil).ListPackages(filepath.Join(t.TempDir(), "nope"))
		if err == nil {
			t.Fatal("ListPackages() expected error for missing root")
		}
	})

	t.Run("file root is an error", func(t *testing.T) {
		root := t.TempDir()
		writeFiles(t, root, "a.vpk")
		_, err := NewPackageEnumerator(nil, nil).ListPackages(filepath.Join(root, "a.vpk"))
		if err == nil {
			t.Fatal("ListPackages() expected error for file root")
		}
	})
}

func TestPackageEnumerator_WorkshopMirrorIDs(t *testing.T) {
	t.Run("returns numeric stems", func(t *testing.T) {
		root := t.TempDir()
		writeFiles(t, root,
			"workshop/9.vpk", "workshop/5.vpk", "workshop/notanid.vpk",
			"workshop/77.txt", "workshop/-3.vpk",
		)

		got, err := NewPackageEnumerator(nil, nil).WorkshopMirrorIDs(root)
		if err != nil {
			t.Fatalf("WorkshopMirrorIDs() error = %v", err)
		}
		if len(got) != 2 || got[0] != 5 || got[1] != 9 {
			t.Errorf("WorkshopMirrorIDs() = %v, want [5 9]", got)
		}
	})

	t.Run("missing mirror folder yields no ids", func(t *testing.T) {
		got, err := NewPackageEnumerator(nil, nil).WorkshopMirrorIDs(t.TempDir())
		if err != nil {
			t.Fatalf("WorkshopMirrorIDs() error = %v", err)
		}
		if len(got) != 0 {
			t.Errorf("WorkshopMirrorIDs() = %v, want none", got)
		}
	})

	t.Run("path patterns apply to the mirror folder", func(t *testing.T) {
		root := t.TempDir()
		writeFiles(t, root, "workshop/5.vpk", "workshop/9.vpk")

		got, err := NewPackageEnumerator([]string{"workshop/5.vpk"}, nil).WorkshopMirrorIDs(root)
		if err != nil {
			t.Fatalf("WorkshopMirrorIDs() error = %v", err)
		}
		if len(got) != 1 || got[0] != 9 {
			t.Errorf("WorkshopMirrorIDs() = %v, want [9]", got)
		}
	})
}
