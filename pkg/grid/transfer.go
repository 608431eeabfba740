package grid

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"digital.vasic.brocoli/pkg/catalog"
	"digital.vasic.brocoli/pkg/checksum"
	"digital.vasic.brocoli/pkg/status"
)

// batch carries the shared state of one bulk transfer.
type batch struct {
	op    string
	meter *catalog.Meter
	buf   []byte
}

// account returns the chunk callback feeding both the item and the batch.
func (b *batch) account(st *status.Status) func(int) {
	return func(n int) {
		st.Add(int64(n))
		b.meter.Add(int64(n))
	}
}

// DownloadFiles copies data objects into the local directory destDir.
func (c *Catalog) DownloadFiles(ctx context.Context, paths []string, destDir string, statuses *status.List, fn catalog.ProgressFunc) error {
	const op = "download"
	statuses = catalog.Batch(statuses)
	defer statuses.Close()
	if err := c.check(op, destDir); err != nil {
		return err
	}

	var total int64
	paths = catalog.Unique(c.normAll(paths))
	items := make([]*status.Status, len(paths))
	for i, p := range paths {
		replicas, err := c.session.Replicas(ctx, p)
		if err != nil {
			return c.translate(op, p, err)
		}
		if len(replicas) == 0 {
			return catalog.NewError(catalog.KindNotFound, op, p, NewError(CodeNoSuchObject, p))
		}
		size := replicas[0].Size * c.cksumFactor()
		total += size
		items[i] = statuses.Register(p, size, catalog.RemovePartial(c.log))
	}

	b := c.newBatch(op, total, len(paths), fn)
	for i, p := range paths {
		st := items[i]
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := catalog.Start(op, st); err != nil {
			return err
		}
		if err := c.download(ctx, b, p, destDir, st); err != nil {
			return catalog.Fail(ctx, st, c.translate(op, p, err))
		}
		st.Done()
	}
	b.meter.Finish()
	c.log.Info().Str("op", op).Int("items", len(paths)).Int64("total", total).Msg("batch complete")
	return nil
}

// DownloadDirectories copies collections recursively into destDir.
func (c *Catalog) DownloadDirectories(ctx context.Context, paths []string, destDir string, statuses *status.List, fn catalog.ProgressFunc) error {
	const op = "download"
	statuses = catalog.Batch(statuses)
	defer statuses.Close()
	if err := c.check(op, destDir); err != nil {
		return err
	}

	var total, objects int64
	paths = catalog.Unique(c.normAll(paths))
	items := make([]*status.Status, len(paths))
	for i, p := range paths {
		stats, err := c.session.TreeStats(ctx, p)
		if err != nil {
			return c.translate(op, p, err)
		}
		size := stats.Size * c.cksumFactor()
		total += size
		objects += stats.Objects
		items[i] = statuses.Register(p, size, catalog.RemovePartial(c.log))
	}

	b := c.newBatch(op, total, int(objects), fn)
	for i, p := range paths {
		st := items[i]
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := catalog.Start(op, st); err != nil {
			return err
		}
		if err := c.downloadTree(ctx, b, p, destDir, st); err != nil {
			return catalog.Fail(ctx, st, c.translate(op, p, err))
		}
		st.Done()
	}
	b.meter.Finish()
	c.log.Info().Str("op", op).Int("items", len(paths)).Int64("total", total).Msg("batch complete")
	return nil
}

// UploadFiles copies local files into the collection destPath.
func (c *Catalog) UploadFiles(ctx context.Context, localPaths []string, destPath string, statuses *status.List, fn catalog.ProgressFunc) error {
	const op = "upload"
	statuses = catalog.Batch(statuses)
	defer statuses.Close()
	if err := c.check(op, destPath); err != nil {
		return err
	}
	destPath = c.NormPath(destPath)
	if _, err := c.session.Collection(ctx, destPath); err != nil {
		return c.translate(op, destPath, err)
	}

	var total int64
	localPaths = catalog.Unique(localPaths)
	items := make([]*status.Status, len(localPaths))
	for i, lp := range localPaths {
		fi, err := os.Stat(lp)
		if err != nil {
			return c.translate(op, lp, err)
		}
		if fi.IsDir() {
			return catalog.Logicf(op, lp, "is a directory")
		}
		size := fi.Size() * c.cksumFactor()
		total += size
		items[i] = statuses.Register(lp, size, c.unlinkRemote)
	}

	b := c.newBatch(op, total, len(localPaths), fn)
	for i, lp := range localPaths {
		st := items[i]
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := catalog.Start(op, st); err != nil {
			return err
		}
		if err := c.upload(ctx, b, lp, destPath, st); err != nil {
			return catalog.Fail(ctx, st, c.translate(op, lp, err))
		}
		st.Done()
	}
	b.meter.Finish()
	c.log.Info().Str("op", op).Int("items", len(localPaths)).Int64("total", total).Msg("batch complete")
	return nil
}

// UploadDirectories copies local directories recursively into the
// collection destPath. Existing collections are reused and existing objects
// overwritten.
func (c *Catalog) UploadDirectories(ctx context.Context, localDirs []string, destPath string, statuses *status.List, fn catalog.ProgressFunc) error {
	const op = "upload"
	statuses = catalog.Batch(statuses)
	defer statuses.Close()
	if err := c.check(op, destPath); err != nil {
		return err
	}
	destPath = c.NormPath(destPath)

	var total, files int64
	localDirs = catalog.Unique(localDirs)
	items := make([]*status.Status, len(localDirs))
	for i, d := range localDirs {
		n, size, err := catalog.LocalTreeStats(d)
		if err != nil {
			return c.translate(op, d, err)
		}
		size *= c.cksumFactor()
		total += size
		files += n
		items[i] = statuses.Register(d, size, c.unlinkRemote)
	}

	b := c.newBatch(op, total, int(files), fn)
	for i, d := range localDirs {
		st := items[i]
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := catalog.Start(op, st); err != nil {
			return err
		}
		cpath := c.Join(destPath, filepath.Base(d))
		if err := c.mkcol(ctx, cpath); err != nil {
			return catalog.Fail(ctx, st, c.translate(op, cpath, err))
		}
		if err := c.uploadTree(ctx, b, d, cpath, st); err != nil {
			return catalog.Fail(ctx, st, c.translate(op, d, err))
		}
		st.Done()
	}
	b.meter.Finish()
	c.log.Info().Str("op", op).Int("items", len(localDirs)).Int64("total", total).Msg("batch complete")
	return nil
}

// DeleteFiles unlinks data objects.
func (c *Catalog) DeleteFiles(ctx context.Context, paths []string, statuses *status.List, fn catalog.ProgressFunc) error {
	const op = "delete"
	statuses = catalog.Batch(statuses)
	defer statuses.Close()

	paths = catalog.Unique(c.normAll(paths))
	items := make([]*status.Status, len(paths))
	for i, p := range paths {
		if err := c.check(op, p); err != nil {
			return err
		}
		items[i] = statuses.Register(p, 1, nil)
	}

	meter := catalog.NewMeter(int64(len(paths)), fn)
	meter.Begin(len(paths))
	for i, p := range paths {
		st := items[i]
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := catalog.Start(op, st); err != nil {
			return err
		}
		if err := c.session.Unlink(ctx, p); err != nil {
			return catalog.Fail(ctx, st, c.translate(op, p, err))
		}
		c.log.Debug().Str("path", p).Msg("unlink")
		st.Add(1)
		st.Done()
		meter.Add(1)
	}
	meter.Finish()
	return nil
}

// DeleteDirectories removes collections recursively. Progress counts
// removed nodes.
func (c *Catalog) DeleteDirectories(ctx context.Context, paths []string, statuses *status.List, fn catalog.ProgressFunc) error {
	const op = "rmdir"
	statuses = catalog.Batch(statuses)
	defer statuses.Close()

	var total int64
	paths = catalog.Unique(c.normAll(paths))
	items := make([]*status.Status, len(paths))
	for i, p := range paths {
		if err := c.check(op, p); err != nil {
			return err
		}
		stats, err := c.session.TreeStats(ctx, p)
		if err != nil {
			return c.translate(op, p, err)
		}
		nodes := stats.Collections + stats.Objects
		total += nodes
		items[i] = statuses.Register(p, nodes, nil)
	}

	meter := catalog.NewMeter(total, fn)
	meter.Begin(len(paths))
	for i, p := range paths {
		st := items[i]
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := catalog.Start(op, st); err != nil {
			return err
		}
		err := c.session.RemoveCollection(ctx, p, func() {
			st.Add(1)
			meter.Add(1)
		})
		if err != nil {
			return catalog.Fail(ctx, st, c.translate(op, p, err))
		}
		st.Done()
	}
	meter.Finish()
	return nil
}

func (c *Catalog) normAll(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = c.NormPath(p)
	}
	return out
}

func (c *Catalog) newBatch(op string, total int64, items int, fn catalog.ProgressFunc) *batch {
	b := &batch{op: op, meter: catalog.NewMeter(total, fn), buf: make([]byte, c.opts.ChunkSize)}
	b.meter.Begin(items)
	return b
}

// download transfers one object into destDir and verifies it when local
// checksums are enabled. The partial file stays the current element of st
// until the object is verified.
func (c *Catalog) download(ctx context.Context, b *batch, path, destDir string, st *status.Status) error {
	dest := filepath.Join(destDir, c.Base(path))
	c.log.Debug().Str("path", path).Str("dest", dest).Msg("get")

	r, err := c.session.Open(ctx, path)
	if err != nil {
		return err
	}
	defer r.Close()

	st.SetCurrent(dest)
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create local file %s: %w", dest, err)
	}
	written, err := catalog.CopyChunks(ctx, f, r, b.buf, b.account(st))
	if err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close local file %s: %w", dest, err)
	}

	if c.opts.LocalChecksum {
		remote, err := c.session.Checksum(ctx, path)
		if err != nil {
			return err
		}
		if remote == "" {
			c.log.Warn().Str("path", path).Msg("no checksum recorded, skipping verification")
			b.account(st)(int(written))
		} else {
			local, err := checksum.File(ctx, dest, checksum.Detect(remote), b.buf, b.account(st))
			if err != nil {
				return err
			}
			if local != remote {
				return catalog.NewError(catalog.KindChecksum, b.op, path,
					fmt.Errorf("local %s, remote %s", local, remote))
			}
		}
	}
	st.SetCurrent("")
	return nil
}

// upload hashes a local file when local checksums are enabled, then
// streams it to the grid with the digest as expected checksum.
func (c *Catalog) upload(ctx context.Context, b *batch, localPath, collPath string, st *status.Status) error {
	remote := c.Join(collPath, filepath.Base(localPath))
	c.log.Debug().Str("src", localPath).Str("path", remote).Msg("put")

	opts := PutOptions{AllResources: true}
	if c.opts.LocalChecksum {
		sum, err := checksum.File(ctx, localPath, c.algorithm(), b.buf, b.account(st))
		if err != nil {
			return err
		}
		opts.Checksum = sum
	}

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open local file %s: %w", localPath, err)
	}
	defer f.Close()

	w, created, err := c.session.Create(ctx, remote, opts)
	if err != nil {
		return err
	}
	if created {
		st.SetCurrent(remote)
	}
	if _, err := catalog.CopyChunks(ctx, w, f, b.buf, b.account(st)); err != nil {
		if aerr := w.Abort(); aerr != nil {
			c.log.Warn().Err(aerr).Str("path", remote).Msg("failed to abort object write")
		}
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	st.SetCurrent("")
	return nil
}

// downloadTree mirrors a collection under destDir: objects first, then
// subcollections depth-first.
func (c *Catalog) downloadTree(ctx context.Context, b *batch, collPath, destDir string, st *status.Status) error {
	dest := filepath.Join(destDir, c.Base(collPath))
	if err := catalog.MkdirLocal(dest); err != nil {
		return err
	}

	objs, err := c.session.DataObjects(ctx, collPath)
	if err != nil {
		return err
	}
	for _, o := range objs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.download(ctx, b, o.Path, dest, st); err != nil {
			return err
		}
	}

	subs, err := c.session.Subcollections(ctx, collPath)
	if err != nil {
		return err
	}
	for _, s := range subs {
		if err := c.downloadTree(ctx, b, s.Path, dest, st); err != nil {
			return err
		}
	}
	return nil
}

// uploadTree mirrors the local directory dir into the existing collection
// collPath: files first, then subdirectories depth-first.
func (c *Catalog) uploadTree(ctx context.Context, b *batch, dir, collPath string, st *status.Status) error {
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
		if err := c.upload(ctx, b, filepath.Join(dir, d.Name()), collPath, st); err != nil {
			return err
		}
	}

	for _, name := range subdirs {
		cpath := c.Join(collPath, name)
		if err := c.mkcol(ctx, cpath); err != nil {
			return err
		}
		if err := c.uploadTree(ctx, b, filepath.Join(dir, name), cpath, st); err != nil {
			return err
		}
	}
	return nil
}

// unlinkRemote is the cancel callback of upload items. The element is only
// set for objects the batch created.
func (c *Catalog) unlinkRemote(element string) {
	if element == "" {
		return
	}
	c.log.Debug().Str("path", element).Msg("unlink partial object")
	if err := c.session.Unlink(context.Background(), element); err != nil && CodeOf(err) != CodeNoSuchObject {
		c.log.Warn().Err(err).Str("path", element).Msg("failed to unlink partial object")
	}
}
