package gridstore

import (
	"context"
	"errors"
	"hash"
	"io"
	"os"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"digital.vasic.brocoli/pkg/checksum"
	"digital.vasic.brocoli/pkg/grid"
)

// Create registers path, creating a placeholder object without replicas
// when it does not exist, and returns a writer spooling the content to a
// temp file. Nothing reaches a resource before Close.
func (s *Session) Create(ctx context.Context, path string, opts grid.PutOptions) (grid.ObjectWriter, bool, error) {
	var (
		rec     *objRecord
		created bool
	)
	err := s.update(ctx, path, func(txn *badger.Txn) error {
		parent := paths.Dir(path)
		if _, err := s.store.getColl(txn, parent); err != nil {
			return err
		}
		if _, err := txn.Get(collKey(path)); err == nil {
			return grid.NewError(grid.CodeAlreadyExists, path)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		existing, err := s.store.getObj(txn, path)
		switch {
		case err == nil:
			rec = existing
			return s.require(txn, path, grid.LevelWrite)
		case grid.CodeOf(err) != grid.CodeNoSuchObject:
			return err
		}

		if err := s.require(txn, parent, grid.LevelWrite); err != nil {
			return err
		}
		created = true
		rec = &objRecord{ID: uuid.NewString(), Path: path, Owner: s.user, ModTime: time.Now().UTC()}
		if err := setJSON(txn, objKey(path), rec); err != nil {
			return err
		}
		return txn.Set(aclKey(path, s.user), []byte(grid.LevelOwn))
	})
	if err != nil {
		return nil, false, err
	}

	alg := s.store.config.DefaultChecksum
	if opts.Checksum != "" {
		alg = checksum.Detect(opts.Checksum)
	}
	spool, err := os.CreateTemp(s.store.config.SpoolDir, "gridstore-*")
	if err != nil {
		if created {
			_ = s.removeObject(context.WithoutCancel(ctx), rec)
		}
		return nil, false, err
	}

	w := &objectWriter{
		ctx:     ctx,
		session: s,
		id:      rec.ID,
		path:    path,
		created: created,
		opts:    opts,
		alg:     alg,
		spool:   spool,
		hash:    checksum.New(alg),
	}
	return w, created, nil
}

type objectWriter struct {
	ctx     context.Context
	session *Session
	id      string
	path    string
	created bool
	opts    grid.PutOptions
	alg     checksum.Algorithm
	spool   *os.File
	hash    hash.Hash
	size    int64
	done    bool
}

func (w *objectWriter) Write(p []byte) (int, error) {
	if err := w.session.ready(w.ctx); err != nil {
		return 0, err
	}
	n, err := w.spool.Write(p)
	w.hash.Write(p[:n])
	w.size += int64(n)
	return n, err
}

func (w *objectWriter) discard() {
	w.done = true
	w.spool.Close()
	os.Remove(w.spool.Name())
}

// Close verifies the received bytes against the expected checksum and
// stores them on the first resource, or on every resource with
// AllResources. Replicas on other resources are marked stale. A mismatch
// keeps the placeholder of a new object.
func (w *objectWriter) Close() error {
	if w.done {
		return nil
	}
	defer w.discard()

	s := w.session.store
	sum := checksum.Format(w.alg, w.hash.Sum(nil))
	if w.opts.Checksum != "" && sum != w.opts.Checksum {
		return grid.NewError(grid.CodeChecksumMismatch, w.path)
	}

	targets := s.resources[:1]
	if w.opts.AllResources {
		targets = s.resources
	}

	now := time.Now().UTC()
	written := make([]replicaRecord, 0, len(targets))
	for _, res := range targets {
		if _, err := w.spool.Seek(0, io.SeekStart); err != nil {
			return err
		}
		loc, err := res.Put(w.ctx, w.id, w.spool, w.size)
		if err != nil {
			if ctxErr := w.ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return &grid.Error{Code: grid.CodeNetwork, Path: w.path, Err: err}
		}
		written = append(written, replicaRecord{
			Resource: res.Name(),
			Status:   replicaGood,
			Checksum: sum,
			Key:      w.id,
			Location: loc,
			Size:     w.size,
			ModTime:  now,
		})
	}

	err := w.session.update(w.ctx, w.path, func(txn *badger.Txn) error {
		rec, err := s.getObj(txn, w.path)
		if err != nil {
			return err
		}
		replicas := written
		for _, old := range rec.Replicas {
			if !hasResource(written, old.Resource) {
				old.Status = replicaStale
				replicas = append(replicas, old)
			}
		}
		for i := range replicas {
			replicas[i].Number = i
		}
		rec.Replicas = replicas
		rec.Checksum = sum
		rec.Size = w.size
		rec.ModTime = now
		return setJSON(txn, objKey(w.path), rec)
	})
	if err != nil {
		return err
	}
	s.log.Debug().Str("path", w.path).Int64("size", w.size).Int("replicas", len(written)).Msg("put")
	return nil
}

// Abort discards the spooled content and the placeholder of a new object.
func (w *objectWriter) Abort() error {
	if w.done {
		return nil
	}
	w.discard()
	if !w.created {
		return nil
	}
	err := w.session.update(context.WithoutCancel(w.ctx), w.path, func(txn *badger.Txn) error {
		if err := txn.Delete(objKey(w.path)); err != nil {
			return err
		}
		return deletePrefix(txn, aclPrefix(w.path))
	})
	if grid.CodeOf(err) == grid.CodeNoSuchObject {
		return nil
	}
	return err
}

func hasResource(replicas []replicaRecord, name string) bool {
	for _, r := range replicas {
		if r.Resource == name {
			return true
		}
	}
	return false
}
