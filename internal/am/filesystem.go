package am

// Enumerator lists the package files a scan should process.
// It abstracts directory access so scans can be tested against fixtures.
type Enumerator interface {
	// ListPackages returns the absolute paths of package files directly
	// under root (not recursive).
	ListPackages(root string) ([]string, error)

	// WorkshopMirrorIDs returns the numeric stems of package files directly
	// under the workshop mirror subfolder of root. Stems that are not valid
	// ids are dropped. A missing mirror folder yields no ids.
	WorkshopMirrorIDs(root string) ([]int64, error)
}
