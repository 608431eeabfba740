package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"digital.vasic.brocoli/pkg/catalog"
	"digital.vasic.brocoli/pkg/client"
	"digital.vasic.brocoli/pkg/status"
)

type batch struct {
	meter *catalog.Meter
	buf   []byte
}

func (b *batch) account(st *status.Status) func(int) {
	return func(n int) {
		st.Add(int64(n))
		b.meter.Add(int64(n))
	}
}

func (c *Catalog) newBatch(total int64, items int, fn catalog.ProgressFunc) *batch {
	b := &batch{meter: catalog.NewMeter(total, fn), buf: make([]byte, c.opts.ChunkSize)}
	b.meter.Begin(items)
	return b
}

// treeStats counts the files and directories under p, p included, and sums
// the file sizes.
type treeStats struct {
	files, dirs, size int64
}

func (c *Catalog) stats(ctx context.Context, p string) (treeStats, error) {
	var s treeStats
	err := c.walk(ctx, p, func(fi *client.FileInfo) error {
		if fi.IsDir {
			s.dirs++
		} else {
			s.files++
			s.size += fi.Size
		}
		return nil
	})
	return s, err
}

// walk calls fn for the directory p and every entry below it, files of a
// directory before its subdirectories.
func (c *Catalog) walk(ctx context.Context, p string, fn func(*client.FileInfo) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fi, err := c.client.GetFileInfo(ctx, p)
	if err != nil {
		return err
	}
	if !fi.IsDir {
		return catalog.Logicf("walk", p, "not a directory")
	}
	fi.Path = p
	if err := fn(fi); err != nil {
		return err
	}
	return c.walkDir(ctx, p, fn)
}

func (c *Catalog) walkDir(ctx context.Context, dir string, fn func(*client.FileInfo) error) error {
	files, err := c.client.ListDirectory(ctx, dir)
	if err != nil {
		return err
	}
	var subdirs []*client.FileInfo
	for _, fi := range files {
		if fi.IsDir {
			subdirs = append(subdirs, fi)
			continue
		}
		if err := fn(fi); err != nil {
			return err
		}
	}
	for _, sub := range subdirs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(sub); err != nil {
			return err
		}
		if err := c.walkDir(ctx, sub.Path, fn); err != nil {
			return err
		}
	}
	return nil
}

// DownloadFiles copies remote files into the local directory destDir.
func (c *Catalog) DownloadFiles(ctx context.Context, paths []string, destDir string, statuses *status.List, fn catalog.ProgressFunc) error {
	const op = "download"
	statuses = catalog.Batch(statuses)
	defer statuses.Close()
	paths = catalog.Unique(paths)
	if err := c.check(op, destDir); err != nil {
		return err
	}

	var total int64
	rels := make([]string, len(paths))
	items := make([]*status.Status, len(paths))
	for i, p := range paths {
		rels[i] = c.rel(p)
		fi, err := c.client.GetFileInfo(ctx, rels[i])
		if err != nil {
			return translate(op, rels[i], err)
		}
		if fi.IsDir {
			return catalog.Logicf(op, rels[i], "is a directory")
		}
		total += fi.Size
		items[i] = statuses.Register(p, fi.Size, catalog.RemovePartial(c.log))
	}

	b := c.newBatch(total, len(paths), fn)
	for i, p := range rels {
		st := items[i]
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := catalog.Start(op, st); err != nil {
			return err
		}
		if err := c.download(ctx, b, p, filepath.Join(destDir, c.Base(p)), st); err != nil {
			return catalog.Fail(ctx, st, translate(op, p, err))
		}
		st.Done()
	}
	b.meter.Finish()
	c.log.Info().Str("op", op).Int("items", len(paths)).Int64("total", total).Msg("batch complete")
	return nil
}

// DownloadDirectories copies remote directories recursively into destDir.
func (c *Catalog) DownloadDirectories(ctx context.Context, paths []string, destDir string, statuses *status.List, fn catalog.ProgressFunc) error {
	const op = "download"
	statuses = catalog.Batch(statuses)
	defer statuses.Close()
	paths = catalog.Unique(paths)
	if err := c.check(op, destDir); err != nil {
		return err
	}

	var total, files int64
	rels := make([]string, len(paths))
	items := make([]*status.Status, len(paths))
	for i, p := range paths {
		rels[i] = c.rel(p)
		s, err := c.stats(ctx, rels[i])
		if err != nil {
			return translate(op, rels[i], err)
		}
		total += s.size
		files += s.files
		items[i] = statuses.Register(p, s.size, catalog.RemovePartial(c.log))
	}

	b := c.newBatch(total, int(files), fn)
	for i, p := range rels {
		st := items[i]
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := catalog.Start(op, st); err != nil {
			return err
		}
		if err := c.downloadTree(ctx, b, p, filepath.Join(destDir, c.Base(p)), st); err != nil {
			return catalog.Fail(ctx, st, translate(op, p, err))
		}
		st.Done()
	}
	b.meter.Finish()
	c.log.Info().Str("op", op).Int("items", len(paths)).Int64("total", total).Msg("batch complete")
	return nil
}

// UploadFiles copies local files into the remote directory destPath,
// replacing files of the same name.
func (c *Catalog) UploadFiles(ctx context.Context, localPaths []string, destPath string, statuses *status.List, fn catalog.ProgressFunc) error {
	const op = "upload"
	statuses = catalog.Batch(statuses)
	defer statuses.Close()
	localPaths = catalog.Unique(localPaths)
	if err := c.check(op, destPath); err != nil {
		return err
	}
	dest := c.rel(destPath)
	if err := c.requireDir(ctx, op, dest); err != nil {
		return err
	}

	var total int64
	items := make([]*status.Status, len(localPaths))
	for i, lp := range localPaths {
		fi, err := os.Stat(lp)
		if err != nil {
			return translate(op, lp, err)
		}
		if fi.IsDir() {
			return catalog.Logicf(op, lp, "is a directory")
		}
		total += fi.Size()
		items[i] = statuses.Register(lp, fi.Size(), c.deleteRemote)
	}

	b := c.newBatch(total, len(localPaths), fn)
	for i, lp := range localPaths {
		st := items[i]
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := catalog.Start(op, st); err != nil {
			return err
		}
		if err := c.upload(ctx, b, lp, c.Join(dest, filepath.Base(lp)), st); err != nil {
			return catalog.Fail(ctx, st, translate(op, lp, err))
		}
		st.Done()
	}
	b.meter.Finish()
	c.log.Info().Str("op", op).Int("items", len(localPaths)).Int64("total", total).Msg("batch complete")
	return nil
}

// UploadDirectories copies local directories recursively into destPath.
// Existing remote directories are reused and files overwritten.
func (c *Catalog) UploadDirectories(ctx context.Context, localDirs []string, destPath string, statuses *status.List, fn catalog.ProgressFunc) error {
	const op = "upload"
	statuses = catalog.Batch(statuses)
	defer statuses.Close()
	localDirs = catalog.Unique(localDirs)
	if err := c.check(op, destPath); err != nil {
		return err
	}
	dest := c.rel(destPath)
	if err := c.requireDir(ctx, op, dest); err != nil {
		return err
	}

	var total, files int64
	items := make([]*status.Status, len(localDirs))
	for i, d := range localDirs {
		n, size, err := catalog.LocalTreeStats(d)
		if err != nil {
			return translate(op, d, err)
		}
		total += size
		files += n
		items[i] = statuses.Register(d, size, c.deleteRemote)
	}

	b := c.newBatch(total, int(files), fn)
	for i, d := range localDirs {
		st := items[i]
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := catalog.Start(op, st); err != nil {
			return err
		}
		if err := c.uploadTree(ctx, b, d, c.Join(dest, filepath.Base(d)), st); err != nil {
			return catalog.Fail(ctx, st, translate(op, d, err))
		}
		st.Done()
	}
	b.meter.Finish()
	c.log.Info().Str("op", op).Int("items", len(localDirs)).Int64("total", total).Msg("batch complete")
	return nil
}

// DeleteFiles removes remote files.
func (c *Catalog) DeleteFiles(ctx context.Context, paths []string, statuses *status.List, fn catalog.ProgressFunc) error {
	const op = "delete"
	statuses = catalog.Batch(statuses)
	defer statuses.Close()
	paths = catalog.Unique(paths)

	rels := make([]string, len(paths))
	items := make([]*status.Status, len(paths))
	for i, p := range paths {
		if err := c.check(op, p); err != nil {
			return err
		}
		rels[i] = c.rel(p)
		items[i] = statuses.Register(p, 1, nil)
	}

	meter := catalog.NewMeter(int64(len(paths)), fn)
	meter.Begin(len(paths))
	for i, p := range rels {
		st := items[i]
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := catalog.Start(op, st); err != nil {
			return err
		}
		if err := c.client.DeleteFile(ctx, p); err != nil {
			return catalog.Fail(ctx, st, translate(op, p, err))
		}
		c.log.Debug().Str("path", p).Msg("delete")
		st.Add(1)
		st.Done()
		meter.Add(1)
	}
	meter.Finish()
	return nil
}

// DeleteDirectories removes remote directories with their content, files
// before the directory holding them. Progress counts removed nodes.
func (c *Catalog) DeleteDirectories(ctx context.Context, paths []string, statuses *status.List, fn catalog.ProgressFunc) error {
	const op = "rmdir"
	statuses = catalog.Batch(statuses)
	defer statuses.Close()
	paths = catalog.Unique(paths)

	var total int64
	rels := make([]string, len(paths))
	items := make([]*status.Status, len(paths))
	for i, p := range paths {
		if err := c.check(op, p); err != nil {
			return err
		}
		rels[i] = c.rel(p)
		if rels[i] == "" {
			return catalog.Logicf(op, p, "refusing to remove the root")
		}
		s, err := c.stats(ctx, rels[i])
		if err != nil {
			return translate(op, rels[i], err)
		}
		nodes := s.files + s.dirs
		total += nodes
		items[i] = statuses.Register(p, nodes, nil)
	}

	meter := catalog.NewMeter(total, fn)
	meter.Begin(len(paths))
	for i, p := range rels {
		st := items[i]
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := catalog.Start(op, st); err != nil {
			return err
		}
		err := c.removeTree(ctx, p, func() {
			st.Add(1)
			meter.Add(1)
		})
		if err != nil {
			return catalog.Fail(ctx, st, translate(op, p, err))
		}
		st.Done()
	}
	meter.Finish()
	return nil
}

func (c *Catalog) requireDir(ctx context.Context, op, p string) error {
	fi, err := c.client.GetFileInfo(ctx, p)
	if err != nil {
		return translate(op, p, err)
	}
	if !fi.IsDir {
		return catalog.Logicf(op, p, "not a directory")
	}
	return nil
}

// download streams one remote file to dest. The partial file stays the
// current element of st until it is complete.
func (c *Catalog) download(ctx context.Context, b *batch, p, dest string, st *status.Status) error {
	c.log.Debug().Str("path", p).Str("dest", dest).Msg("get")
	r, err := c.client.ReadFile(ctx, p)
	if err != nil {
		return err
	}
	defer r.Close()

	st.SetCurrent(dest)
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create local file %s: %w", dest, err)
	}
	if _, err := catalog.CopyChunks(ctx, f, r, b.buf, b.account(st)); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close local file %s: %w", dest, err)
	}
	st.SetCurrent("")
	return nil
}

// upload streams one local file to the remote path p. A file the batch
// creates becomes the current element of st so an interrupted upload
// removes it; a replaced file is left as the transport wrote it.
func (c *Catalog) upload(ctx context.Context, b *batch, localPath, p string, st *status.Status) error {
	c.log.Debug().Str("src", localPath).Str("path", p).Msg("put")
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open local file %s: %w", localPath, err)
	}
	defer f.Close()

	exists, err := c.client.FileExists(ctx, p)
	if err != nil {
		return err
	}
	if !exists {
		st.SetCurrent(p)
	}
	if err := c.client.WriteFile(ctx, p, &progressReader{ctx: ctx, r: f, onRead: b.account(st)}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	st.SetCurrent("")
	return nil
}

// progressReader reports bytes as the transport consumes them and stops
// the stream once ctx is cancelled.
type progressReader struct {
	ctx    context.Context
	r      io.Reader
	onRead func(int)
}

func (p *progressReader) Read(buf []byte) (int, error) {
	if err := p.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := p.r.Read(buf)
	if n > 0 {
		p.onRead(n)
	}
	return n, err
}

func (c *Catalog) downloadTree(ctx context.Context, b *batch, p, dest string, st *status.Status) error {
	if err := catalog.MkdirLocal(dest); err != nil {
		return err
	}
	files, err := c.client.ListDirectory(ctx, p)
	if err != nil {
		return err
	}
	var subdirs []*client.FileInfo
	for _, fi := range files {
		if fi.IsDir {
			subdirs = append(subdirs, fi)
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.download(ctx, b, fi.Path, filepath.Join(dest, fi.Name), st); err != nil {
			return err
		}
	}
	for _, sub := range subdirs {
		if err := c.downloadTree(ctx, b, sub.Path, filepath.Join(dest, sub.Name), st); err != nil {
			return err
		}
	}
	return nil
}

func (c *Catalog) uploadTree(ctx context.Context, b *batch, dir, p string, st *status.Status) error {
	if err := c.mkdirRemote(ctx, p); err != nil {
		return err
	}
	dirents, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var subdirs []string
	for _, d := range dirents {
		if d.IsDir() {
			subdirs = append(subdirs, d.Name())
			continue
		}
		if !d.Type().IsRegular() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.upload(ctx, b, filepath.Join(dir, d.Name()), c.Join(p, d.Name()), st); err != nil {
			return err
		}
	}
	for _, name := range subdirs {
		if err := c.uploadTree(ctx, b, filepath.Join(dir, name), c.Join(p, name), st); err != nil {
			return err
		}
	}
	return nil
}

// mkdirRemote creates p unless a directory already occupies the name.
func (c *Catalog) mkdirRemote(ctx context.Context, p string) error {
	fi, err := c.client.GetFileInfo(ctx, p)
	switch {
	case err == nil && fi.IsDir:
		return nil
	case err == nil:
		return catalog.Logicf("mkdir", p, "not a directory")
	case !errors.Is(err, fs.ErrNotExist):
		return err
	}
	c.log.Debug().Str("path", p).Msg("mkdir")
	return c.client.CreateDirectory(ctx, p)
}

// removeTree deletes the content of p depth-first, then p itself, calling
// tick per removed node.
func (c *Catalog) removeTree(ctx context.Context, p string, tick func()) error {
	files, err := c.client.ListDirectory(ctx, p)
	if err != nil {
		return err
	}
	for _, fi := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if fi.IsDir {
			if err := c.removeTree(ctx, fi.Path, tick); err != nil {
				return err
			}
			continue
		}
		if err := c.client.DeleteFile(ctx, fi.Path); err != nil {
			return err
		}
		tick()
	}
	if err := c.client.DeleteDirectory(ctx, p); err != nil {
		return err
	}
	c.log.Debug().Str("path", p).Msg("rmdir")
	tick()
	return nil
}

// deleteRemote is the cancel callback of upload items. The element is only
// set for files the batch created.
func (c *Catalog) deleteRemote(element string) {
	if element == "" {
		return
	}
	c.log.Debug().Str("path", element).Msg("delete partial file")
	if err := c.client.DeleteFile(context.Background(), element); err != nil && !errors.Is(err, fs.ErrNotExist) {
		c.log.Warn().Err(err).Str("path", element).Msg("failed to delete partial file")
	}
}
