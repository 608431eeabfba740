package local

import (
	"path/filepath"

	"digital.vasic.brocoli/pkg/catalog"
)

// Paths implements catalog.Paths with the host path syntax.
type Paths struct{}

// Join joins elements with the host separator.
func (Paths) Join(elem ...string) string {
	return filepath.Join(elem...)
}

// SplitName splits path into its directory and last element.
func (Paths) SplitName(path string) (dir, name string) {
	dir, name = filepath.Split(path)
	if len(dir) > 1 {
		dir = filepath.Clean(dir)
	}
	return dir, name
}

// Dir returns the parent directory of path.
func (Paths) Dir(path string) string {
	return filepath.Dir(path)
}

// Base returns the last element of path.
func (Paths) Base(path string) string {
	return filepath.Base(path)
}

// NormPath cleans path like filepath.Clean but never climbs above the
// root, also for relative paths.
func (Paths) NormPath(path string) string {
	vol := filepath.VolumeName(path)
	norm := catalog.SlashPaths{}.NormPath(filepath.ToSlash(path[len(vol):]))
	return vol + filepath.FromSlash(norm)
}
