// Package local implements the catalog for the local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"digital.vasic.brocoli/pkg/catalog"
	"digital.vasic.brocoli/pkg/status"
)

// Config contains local filesystem configuration.
type Config struct {
	// RootPath is the initial browsing location. Relative paths resolve
	// against it.
	RootPath string `mapstructure:"root_path"`
	// ReplaceExisting allows directory transfers to remove a destination
	// directory of the same name before copying.
	ReplaceExisting bool `mapstructure:"replace_existing"`
}

// Catalog implements catalog.Catalog for the local filesystem.
type Catalog struct {
	Paths
	config *Config
	log    zerolog.Logger
}

var _ catalog.Catalog = (*Catalog)(nil)

// NewCatalog creates a new local filesystem catalog.
func NewCatalog(config *Config, log zerolog.Logger) *Catalog {
	return &Catalog{config: config, log: log}
}

// Kind returns catalog.KindOS.
func (c *Catalog) Kind() catalog.Kind {
	return catalog.KindOS
}

// RootPath returns the configured root.
func (c *Catalog) RootPath() string {
	return c.config.RootPath
}

// resolvePath makes path absolute against the root.
func (c *Catalog) resolvePath(path string) string {
	if filepath.IsAbs(path) || c.config.RootPath == "" {
		return filepath.Clean(path)
	}
	return filepath.Join(c.config.RootPath, path)
}

// Lstat returns the entry of path without following symlinks.
func (c *Catalog) Lstat(ctx context.Context, path string) (*catalog.Entry, error) {
	fullPath := c.resolvePath(path)
	fi, err := os.Lstat(fullPath)
	if err != nil {
		return nil, translate("lstat", fullPath, err)
	}
	return entryOf(fi), nil
}

// ListDir lists the entries of a directory keyed by name.
func (c *Catalog) ListDir(ctx context.Context, path string) (map[string]*catalog.Entry, error) {
	fullPath := c.resolvePath(path)
	dirents, err := os.ReadDir(fullPath)
	if err != nil {
		return nil, translate("listdir", fullPath, err)
	}

	entries := make(map[string]*catalog.Entry, len(dirents))
	for _, d := range dirents {
		fi, err := d.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		entries[d.Name()] = entryOf(fi)
	}
	return entries, nil
}

// IsDir reports whether path is a directory.
func (c *Catalog) IsDir(ctx context.Context, path string) (bool, error) {
	fullPath := c.resolvePath(path)
	fi, err := os.Stat(fullPath)
	if err != nil {
		return false, translate("isdir", fullPath, err)
	}
	return fi.IsDir(), nil
}

// DownloadFiles copies catalog files into the local directory destDir.
func (c *Catalog) DownloadFiles(ctx context.Context, paths []string, destDir string, statuses *status.List, fn catalog.ProgressFunc) error {
	srcs := make([]string, len(paths))
	for i, p := range paths {
		srcs[i] = c.resolvePath(p)
	}
	return c.copyFiles(ctx, "download", srcs, destDir, statuses, fn)
}

// UploadFiles copies local files into the catalog directory destPath.
func (c *Catalog) UploadFiles(ctx context.Context, localPaths []string, destPath string, statuses *status.List, fn catalog.ProgressFunc) error {
	return c.copyFiles(ctx, "upload", localPaths, c.resolvePath(destPath), statuses, fn)
}

// DownloadDirectories copies catalog directories into destDir.
func (c *Catalog) DownloadDirectories(ctx context.Context, paths []string, destDir string, statuses *status.List, fn catalog.ProgressFunc) error {
	srcs := make([]string, len(paths))
	for i, p := range paths {
		srcs[i] = c.resolvePath(p)
	}
	return c.copyDirs(ctx, "download", srcs, destDir, statuses, fn)
}

// UploadDirectories copies local directories into the catalog directory
// destPath.
func (c *Catalog) UploadDirectories(ctx context.Context, localDirs []string, destPath string, statuses *status.List, fn catalog.ProgressFunc) error {
	return c.copyDirs(ctx, "upload", localDirs, c.resolvePath(destPath), statuses, fn)
}

// DeleteFiles removes files.
func (c *Catalog) DeleteFiles(ctx context.Context, paths []string, statuses *status.List, fn catalog.ProgressFunc) error {
	return c.remove(ctx, "delete", paths, os.Remove, statuses, fn)
}

// DeleteDirectories removes directories with their content.
func (c *Catalog) DeleteDirectories(ctx context.Context, paths []string, statuses *status.List, fn catalog.ProgressFunc) error {
	return c.remove(ctx, "rmdir", paths, os.RemoveAll, statuses, fn)
}

// Mkdir creates a directory. It fails when path exists.
func (c *Catalog) Mkdir(ctx context.Context, path string) error {
	fullPath := c.resolvePath(path)
	if err := os.Mkdir(fullPath, 0755); err != nil {
		return translate("mkdir", fullPath, err)
	}
	return nil
}

// DirectoryProperties returns an empty property set.
func (c *Catalog) DirectoryProperties(ctx context.Context, path string) (*catalog.Properties, error) {
	if _, err := c.Lstat(ctx, path); err != nil {
		return nil, err
	}
	return catalog.NewProperties(), nil
}

// FileProperties returns an empty property set.
func (c *Catalog) FileProperties(ctx context.Context, path string) (*catalog.Properties, error) {
	return c.DirectoryProperties(ctx, path)
}

// Close is a no-op for the local filesystem.
func (c *Catalog) Close() error {
	return nil
}

func (c *Catalog) copyFiles(ctx context.Context, op string, srcs []string, destDir string, statuses *status.List, fn catalog.ProgressFunc) error {
	statuses = catalog.Batch(statuses)
	defer statuses.Close()

	srcs = catalog.Unique(srcs)
	items := make([]*status.Status, len(srcs))
	for i, src := range srcs {
		fi, err := os.Stat(src)
		if err != nil {
			return translate(op, src, err)
		}
		if fi.IsDir() {
			return catalog.Logicf(op, src, "is a directory")
		}
		dest := filepath.Join(destDir, filepath.Base(src))
		if di, err := os.Stat(dest); err == nil && os.SameFile(fi, di) {
			return catalog.Logicf(op, src, "same file as %s", dest)
		}
		items[i] = statuses.Register(src, fi.Size(), catalog.RemovePartial(c.log))
	}

	meter := catalog.NewMeter(int64(len(srcs)), fn)
	meter.Begin(len(srcs))

	for i, src := range srcs {
		st := items[i]
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := catalog.Start(op, st); err != nil {
			return err
		}
		dest := filepath.Join(destDir, filepath.Base(src))
		if err := copyFile(ctx, src, dest, st); err != nil {
			return catalog.Fail(ctx, st, translate(op, src, err))
		}
		st.Done()
		meter.Add(1)
		c.log.Debug().Str("op", op).Str("src", src).Str("dest", dest).Msg("copied")
	}
	meter.Finish()
	return nil
}

func (c *Catalog) copyDirs(ctx context.Context, op string, srcs []string, destDir string, statuses *status.List, fn catalog.ProgressFunc) error {
	statuses = catalog.Batch(statuses)
	defer statuses.Close()

	srcs = catalog.Unique(srcs)
	items := make([]*status.Status, len(srcs))
	for i, src := range srcs {
		_, size, err := catalog.LocalTreeStats(src)
		if err != nil {
			return translate(op, src, err)
		}
		dest := filepath.Join(destDir, filepath.Base(src))
		if err := checkOverlap(op, src, dest); err != nil {
			return err
		}
		if _, err := os.Lstat(dest); err == nil && !c.config.ReplaceExisting {
			return catalog.Logicf(op, dest, "destination exists")
		}
		items[i] = statuses.Register(src, size, catalog.RemovePartial(c.log))
	}

	meter := catalog.NewMeter(int64(len(srcs)), fn)
	meter.Begin(len(srcs))

	for i, src := range srcs {
		st := items[i]
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := catalog.Start(op, st); err != nil {
			return err
		}
		dest := filepath.Join(destDir, filepath.Base(src))
		if err := os.RemoveAll(dest); err != nil {
			return catalog.Fail(ctx, st, translate(op, dest, err))
		}
		if err := copyTree(ctx, src, dest, st); err != nil {
			return catalog.Fail(ctx, st, translate(op, src, err))
		}
		st.Done()
		meter.Add(1)
		c.log.Debug().Str("op", op).Str("src", src).Str("dest", dest).Msg("copied tree")
	}
	meter.Finish()
	return nil
}

// checkOverlap refuses a directory copy whose destination is the source,
// lies inside it, or contains it.
func checkOverlap(op, src, dest string) error {
	absSrc, err := filepath.Abs(src)
	if err != nil {
		return translate(op, src, err)
	}
	absDest, err := filepath.Abs(dest)
	if err != nil {
		return translate(op, dest, err)
	}
	if within(absDest, absSrc) || within(absSrc, absDest) {
		return catalog.Logicf(op, src, "destination %s overlaps the source", dest)
	}
	if si, err := os.Stat(src); err == nil {
		if di, err := os.Stat(dest); err == nil && os.SameFile(si, di) {
			return catalog.Logicf(op, src, "same directory as %s", dest)
		}
	}
	return nil
}

// within reports whether path is dir or below it.
func within(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (c *Catalog) remove(ctx context.Context, op string, paths []string, rm func(string) error, statuses *status.List, fn catalog.ProgressFunc) error {
	statuses = catalog.Batch(statuses)
	defer statuses.Close()

	full := make([]string, len(paths))
	for i, p := range paths {
		full[i] = c.resolvePath(p)
	}
	full = catalog.Unique(full)
	items := make([]*status.Status, len(full))
	for i, p := range full {
		if _, err := os.Lstat(p); err != nil {
			return translate(op, p, err)
		}
		items[i] = statuses.Register(p, 1, nil)
	}

	meter := catalog.NewMeter(int64(len(full)), fn)
	meter.Begin(len(full))

	for i, st := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := catalog.Start(op, st); err != nil {
			return err
		}
		if err := rm(full[i]); err != nil {
			return catalog.Fail(ctx, st, translate(op, full[i], err))
		}
		st.Add(1)
		st.Done()
		meter.Add(1)
	}
	meter.Finish()
	return nil
}

// copyFile copies src to dest, accounting bytes on st.
func copyFile(ctx context.Context, src, dest string, st *status.Status) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file %s: %w", src, err)
	}
	defer in.Close()

	st.SetCurrent(dest)
	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create destination file %s: %w", dest, err)
	}
	if _, err := catalog.CopyChunks(ctx, out, in, nil, func(n int) { st.Add(int64(n)) }); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy file from %s to %s: %w", src, dest, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close destination file %s: %w", dest, err)
	}
	st.SetCurrent("")
	return nil
}

// copyTree mirrors the directory src at dest.
func copyTree(ctx context.Context, src, dest string, st *status.Status) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFile(ctx, path, target, st)
	})
}

func entryOf(fi fs.FileInfo) *catalog.Entry {
	if fi.IsDir() {
		return catalog.DirEntry(fi.Name(), owner(fi))
	}
	return catalog.FileEntry(fi.Name(), owner(fi), fi.Size(), fi.ModTime())
}

// translate maps filesystem errors onto the catalog taxonomy.
func translate(op, path string, err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, fs.ErrNotExist):
		return catalog.NewError(catalog.KindNotFound, op, path, err)
	default:
		return catalog.NewError(catalog.KindLogic, op, path, err)
	}
}
