package catalog

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"digital.vasic.brocoli/pkg/status"
)

// MkdirLocal creates the local directory dir unless a directory already
// occupies the name.
func MkdirLocal(dir string) error {
	err := os.Mkdir(dir, 0755)
	if err == nil || !errors.Is(err, fs.ErrExist) {
		return err
	}
	fi, serr := os.Stat(dir)
	if serr != nil {
		return serr
	}
	if !fi.IsDir() {
		return Logicf("mkdir", dir, "not a directory")
	}
	return nil
}

// LocalTreeStats counts the regular files under the local directory root
// and sums their size.
func LocalTreeStats(root string) (files, size int64, err error) {
	fi, err := os.Stat(root)
	if err != nil {
		return 0, 0, err
	}
	if !fi.IsDir() {
		return 0, 0, Logicf("stat", root, "not a directory")
	}
	err = filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			files++
			size += info.Size()
		}
		return nil
	})
	return files, size, err
}

// RemovePartial returns the cancel callback of items that write local
// files: it removes the file that was being written.
func RemovePartial(log zerolog.Logger) status.CancelFunc {
	return func(element string) {
		if element == "" {
			return
		}
		if err := os.Remove(element); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Warn().Err(err).Str("path", element).Msg("failed to remove partial file")
		}
	}
}

// Unique returns paths without repeated entries, keeping the first
// occurrence of each.
func Unique(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// Start moves st to InProgress. An item that already reached a terminal
// state, for example through a status list reused across batches, is a
// logic error of op.
func Start(op string, st *status.Status) error {
	if err := st.Start(); err != nil {
		return NewError(KindLogic, op, st.Key(), err)
	}
	return nil
}
