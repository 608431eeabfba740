package gridstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"digital.vasic.brocoli/pkg/checksum"
	"digital.vasic.brocoli/pkg/grid"
)

var errSessionClosed = errors.New("session closed")

var levelRank = map[string]int{
	grid.LevelNull:  0,
	grid.LevelRead:  1,
	grid.LevelWrite: 2,
	grid.LevelOwn:   3,
}

// Session is an authenticated user session on a Store. It implements
// grid.Session and is safe for concurrent use.
type Session struct {
	store     *Store
	user      string
	admin     bool
	ownsStore bool
	closed    atomic.Bool
}

var _ grid.Session = (*Session)(nil)

// User returns the logged-in user name.
func (s *Session) User() string {
	return s.user
}

// Zone returns the zone of the store.
func (s *Session) Zone() string {
	return s.store.config.Zone
}

// DefaultChecksum returns the algorithm of the store.
func (s *Session) DefaultChecksum() checksum.Algorithm {
	return s.store.config.DefaultChecksum
}

// Close ends the session. The store is closed too when the session was
// opened with OpenSession.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if s.ownsStore {
		return s.store.Close()
	}
	return nil
}

func (s *Session) ready(ctx context.Context) error {
	if s.closed.Load() {
		return &grid.Error{Code: grid.CodeNetwork, Err: errSessionClosed}
	}
	return ctx.Err()
}

func (s *Session) view(ctx context.Context, path string, fn func(txn *badger.Txn) error) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	return wrap(path, s.store.db.View(fn))
}

func (s *Session) update(ctx context.Context, path string, fn func(txn *badger.Txn) error) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	return wrap(path, s.store.db.Update(fn))
}

// wrap turns catalog storage failures into CodeSQL errors.
func wrap(path string, err error) error {
	var ge *grid.Error
	if err == nil || errors.As(err, &ge) {
		return err
	}
	return sqlError(path, err)
}

// require fails with CodeNoPermission unless the user holds at least level
// need on path.
func (s *Session) require(txn *badger.Txn, path, need string) error {
	if s.admin {
		return nil
	}
	level := grid.LevelNull
	item, err := txn.Get(aclKey(path, s.user))
	switch {
	case err == nil:
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		level = string(val)
	case !errors.Is(err, badger.ErrKeyNotFound):
		return err
	}
	if levelRank[level] < levelRank[need] {
		return grid.NewError(grid.CodeNoPermission, path)
	}
	return nil
}

// exists fails unless path names a collection or a data object.
func (s *Session) exists(txn *badger.Txn, path string) error {
	if _, err := txn.Get(collKey(path)); err == nil {
		return nil
	} else if !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}
	_, err := s.store.getObj(txn, path)
	return err
}

// Collection returns the collection at path.
func (s *Session) Collection(ctx context.Context, path string) (*grid.Collection, error) {
	var rec *collRecord
	err := s.view(ctx, path, func(txn *badger.Txn) error {
		var err error
		rec, err = s.store.getColl(txn, path)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &grid.Collection{Path: rec.Path, Owner: rec.Owner, ModTime: rec.ModTime}, nil
}

// Subcollections returns the direct child collections of path.
func (s *Session) Subcollections(ctx context.Context, path string) ([]*grid.Collection, error) {
	var out []*grid.Collection
	err := s.view(ctx, path, func(txn *badger.Txn) error {
		if _, err := s.store.getColl(txn, path); err != nil {
			return err
		}
		if err := s.require(txn, path, grid.LevelRead); err != nil {
			return err
		}
		prefix := path + "/"
		if path == "/" {
			prefix = "/"
		}
		return scan(txn, collKey(prefix), func(_, val []byte) error {
			var rec collRecord
			if err := unmarshal(val, &rec); err != nil {
				return err
			}
			if rec.Path != path && paths.Dir(rec.Path) == path {
				out = append(out, &grid.Collection{Path: rec.Path, Owner: rec.Owner, ModTime: rec.ModTime})
			}
			return nil
		})
	})
	return out, err
}

// DataObjects returns the data objects held directly by collPath.
func (s *Session) DataObjects(ctx context.Context, collPath string) ([]*grid.DataObject, error) {
	var out []*grid.DataObject
	err := s.view(ctx, collPath, func(txn *badger.Txn) error {
		if _, err := s.store.getColl(txn, collPath); err != nil {
			return err
		}
		if err := s.require(txn, collPath, grid.LevelRead); err != nil {
			return err
		}
		return scan(txn, objPrefix(collPath), func(_, val []byte) error {
			var rec objRecord
			if err := unmarshal(val, &rec); err != nil {
				return err
			}
			out = append(out, &grid.DataObject{Path: rec.Path, Replicas: rec.replicas()})
			return nil
		})
	})
	return out, err
}

func (rec *objRecord) replicas() []grid.Replica {
	out := make([]grid.Replica, 0, len(rec.Replicas))
	for _, r := range rec.Replicas {
		out = append(out, grid.Replica{
			Number:   r.Number,
			Resource: r.Resource,
			Status:   r.Status,
			Checksum: r.Checksum,
			Path:     r.Location,
			Size:     r.Size,
			Owner:    rec.Owner,
			ModTime:  r.ModTime,
		})
	}
	return out
}

// Replicas returns the replicas of the data object at path.
func (s *Session) Replicas(ctx context.Context, path string) ([]grid.Replica, error) {
	var rec *objRecord
	err := s.view(ctx, path, func(txn *badger.Txn) error {
		var err error
		if rec, err = s.store.getObj(txn, path); err != nil {
			return err
		}
		return s.require(txn, path, grid.LevelRead)
	})
	if err != nil {
		return nil, err
	}
	return rec.replicas(), nil
}

// TreeStats counts the collections and objects under path and sums the
// object sizes.
func (s *Session) TreeStats(ctx context.Context, path string) (grid.Stats, error) {
	var st grid.Stats
	err := s.view(ctx, path, func(txn *badger.Txn) error {
		if _, err := s.store.getColl(txn, path); err != nil {
			return err
		}
		if err := scan(txn, collKey(path), func(key, _ []byte) error {
			if inTree(string(key[len("c:"):]), path) {
				st.Collections++
			}
			return nil
		}); err != nil {
			return err
		}
		return scan(txn, []byte("o:"+path), func(_, val []byte) error {
			var rec objRecord
			if err := unmarshal(val, &rec); err != nil {
				return err
			}
			if inTree(paths.Dir(rec.Path), path) {
				st.Objects++
				st.Size += rec.Size
			}
			return nil
		})
	})
	return st, err
}

// CreateCollection creates path below an existing parent the user can
// write to. The creator owns the new collection.
func (s *Session) CreateCollection(ctx context.Context, path string) error {
	parent := paths.Dir(path)
	err := s.update(ctx, path, func(txn *badger.Txn) error {
		if err := s.exists(txn, path); err == nil {
			return grid.NewError(grid.CodeAlreadyExists, path)
		} else if grid.CodeOf(err) != grid.CodeNoSuchObject {
			return err
		}
		if _, err := s.store.getColl(txn, parent); err != nil {
			return err
		}
		if err := s.require(txn, parent, grid.LevelWrite); err != nil {
			return err
		}
		rec := &collRecord{Path: path, Owner: s.user, ModTime: time.Now().UTC()}
		if err := setJSON(txn, collKey(path), rec); err != nil {
			return err
		}
		return txn.Set(aclKey(path, s.user), []byte(grid.LevelOwn))
	})
	if err == nil {
		s.store.log.Debug().Str("path", path).Msg("mkcol")
	}
	return err
}

// protected reports whether path is a zone root collection.
func (s *Session) protected(path string) bool {
	zone := "/" + s.store.config.Zone
	return path == "/" || path == zone || path == zone+"/home"
}

// RemoveCollection removes path with its content, calling tick once per
// removed node. Zone root collections cannot be removed.
func (s *Session) RemoveCollection(ctx context.Context, path string, tick func()) error {
	if s.protected(path) {
		return grid.NewError(grid.CodeNoPermission, path)
	}

	var (
		objs  []objRecord
		colls []string
	)
	err := s.view(ctx, path, func(txn *badger.Txn) error {
		if _, err := s.store.getColl(txn, path); err != nil {
			return err
		}
		if err := s.require(txn, path, grid.LevelWrite); err != nil {
			return err
		}
		if err := scan(txn, collKey(path), func(key, _ []byte) error {
			if p := string(key[len("c:"):]); inTree(p, path) {
				colls = append(colls, p)
			}
			return nil
		}); err != nil {
			return err
		}
		return scan(txn, []byte("o:"+path), func(_, val []byte) error {
			var rec objRecord
			if err := unmarshal(val, &rec); err != nil {
				return err
			}
			if inTree(paths.Dir(rec.Path), path) {
				objs = append(objs, rec)
			}
			return nil
		})
	})
	if err != nil {
		return err
	}

	for i := range objs {
		if err := s.ready(ctx); err != nil {
			return err
		}
		if err := s.removeObject(ctx, &objs[i]); err != nil {
			return err
		}
		tick()
	}

	// children before parents
	sort.Slice(colls, func(i, j int) bool {
		return strings.Count(colls[i], "/") > strings.Count(colls[j], "/")
	})
	for _, p := range colls {
		if err := s.update(ctx, p, func(txn *badger.Txn) error {
			if err := txn.Delete(collKey(p)); err != nil {
				return err
			}
			if err := deletePrefix(txn, aclPrefix(p)); err != nil {
				return err
			}
			return deletePrefix(txn, metaPrefix(p))
		}); err != nil {
			return err
		}
		tick()
	}
	s.store.log.Debug().Str("path", path).Int("objects", len(objs)).Int("collections", len(colls)).Msg("rmcol")
	return nil
}

// Unlink removes the data object at path and its replica content.
func (s *Session) Unlink(ctx context.Context, path string) error {
	var rec *objRecord
	err := s.view(ctx, path, func(txn *badger.Txn) error {
		var err error
		if rec, err = s.store.getObj(txn, path); err != nil {
			return err
		}
		return s.require(txn, path, grid.LevelWrite)
	})
	if err != nil {
		return err
	}
	if err := s.removeObject(ctx, rec); err != nil {
		return err
	}
	s.store.log.Debug().Str("path", path).Msg("unlink")
	return nil
}

// removeObject drops the catalog entries of rec, then its replica content.
func (s *Session) removeObject(ctx context.Context, rec *objRecord) error {
	if err := s.update(ctx, rec.Path, func(txn *badger.Txn) error {
		if err := txn.Delete(objKey(rec.Path)); err != nil {
			return err
		}
		if err := deletePrefix(txn, aclPrefix(rec.Path)); err != nil {
			return err
		}
		return deletePrefix(txn, metaPrefix(rec.Path))
	}); err != nil {
		return err
	}
	s.store.dropReplicas(ctx, rec.Replicas)
	return nil
}

// Open streams the first good replica of path.
func (s *Session) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	var rec *objRecord
	err := s.view(ctx, path, func(txn *badger.Txn) error {
		var err error
		if rec, err = s.store.getObj(txn, path); err != nil {
			return err
		}
		return s.require(txn, path, grid.LevelRead)
	})
	if err != nil {
		return nil, err
	}

	for _, r := range rec.Replicas {
		if r.Status != replicaGood {
			continue
		}
		res := s.store.resource(r.Resource)
		if res == nil {
			continue
		}
		rc, err := res.Get(ctx, r.Key)
		if errors.Is(err, errReplicaMissing) {
			s.store.log.Warn().Str("path", path).Str("resource", r.Resource).Msg("replica content missing")
			continue
		}
		if err != nil {
			return nil, &grid.Error{Code: grid.CodeNetwork, Path: path, Err: err}
		}
		s.store.log.Debug().Str("path", path).Str("resource", r.Resource).Msg("get")
		return rc, nil
	}
	return nil, grid.NewError(grid.CodeNoSuchObject, path)
}

// Checksum returns the recorded checksum of path, or "" when none was
// recorded.
func (s *Session) Checksum(ctx context.Context, path string) (string, error) {
	var rec *objRecord
	err := s.view(ctx, path, func(txn *badger.Txn) error {
		var err error
		if rec, err = s.store.getObj(txn, path); err != nil {
			return err
		}
		return s.require(txn, path, grid.LevelRead)
	})
	if err != nil {
		return "", err
	}
	return rec.Checksum, nil
}

// Permissions returns the access list of path.
func (s *Session) Permissions(ctx context.Context, path string) ([]grid.Permission, error) {
	var out []grid.Permission
	err := s.view(ctx, path, func(txn *badger.Txn) error {
		if err := s.exists(txn, path); err != nil {
			return err
		}
		prefix := aclPrefix(path)
		return scan(txn, prefix, func(key, val []byte) error {
			out = append(out, grid.Permission{User: string(key[len(prefix):]), Level: string(val)})
			return nil
		})
	})
	return out, err
}

// SetPermission grants user level on path. LevelNull revokes the grant.
// Only owners may change permissions.
func (s *Session) SetPermission(ctx context.Context, path, user, level string) error {
	if _, ok := levelRank[level]; !ok {
		return &grid.Error{Code: grid.CodeSQL, Path: path, Err: fmt.Errorf("invalid access level %q", level)}
	}
	return s.update(ctx, path, func(txn *badger.Txn) error {
		if err := s.exists(txn, path); err != nil {
			return err
		}
		if err := s.require(txn, path, grid.LevelOwn); err != nil {
			return err
		}
		if _, err := txn.Get(userKey(user)); errors.Is(err, badger.ErrKeyNotFound) {
			return &grid.Error{Code: grid.CodeSQL, Path: path, Err: fmt.Errorf("unknown user %s", user)}
		} else if err != nil {
			return err
		}
		if level == grid.LevelNull {
			return txn.Delete(aclKey(path, user))
		}
		return txn.Set(aclKey(path, user), []byte(level))
	})
}

// Metadata returns the metadata triples attached to path.
func (s *Session) Metadata(ctx context.Context, path string) ([]grid.AVU, error) {
	var out []grid.AVU
	err := s.view(ctx, path, func(txn *badger.Txn) error {
		if err := s.exists(txn, path); err != nil {
			return err
		}
		if err := s.require(txn, path, grid.LevelRead); err != nil {
			return err
		}
		prefix := metaPrefix(path)
		return scan(txn, prefix, func(key, val []byte) error {
			var rec avuRecord
			if err := unmarshal(val, &rec); err != nil {
				return err
			}
			out = append(out, grid.AVU{
				ID:        string(key[len(prefix):]),
				Attribute: rec.Attribute,
				Value:     rec.Value,
				Units:     rec.Units,
			})
			return nil
		})
	})
	return out, err
}

// AddMetadata attaches avu to path and returns its id.
func (s *Session) AddMetadata(ctx context.Context, path string, avu grid.AVU) (string, error) {
	id := uuid.NewString()
	err := s.update(ctx, path, func(txn *badger.Txn) error {
		if err := s.exists(txn, path); err != nil {
			return err
		}
		if err := s.require(txn, path, grid.LevelWrite); err != nil {
			return err
		}
		return setJSON(txn, metaKey(path, id), &avuRecord{Attribute: avu.Attribute, Value: avu.Value, Units: avu.Units})
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// RemoveMetadata detaches the triple id from path.
func (s *Session) RemoveMetadata(ctx context.Context, path, id string) error {
	return s.update(ctx, path, func(txn *badger.Txn) error {
		if err := s.exists(txn, path); err != nil {
			return err
		}
		if err := s.require(txn, path, grid.LevelWrite); err != nil {
			return err
		}
		if _, err := txn.Get(metaKey(path, id)); errors.Is(err, badger.ErrKeyNotFound) {
			return grid.NewError(grid.CodeNoSuchObject, path)
		} else if err != nil {
			return err
		}
		return txn.Delete(metaKey(path, id))
	})
}

// dropReplicas deletes replica content. Failures leave orphans on the
// resource and are only logged.
func (s *Store) dropReplicas(ctx context.Context, replicas []replicaRecord) {
	for _, r := range replicas {
		res := s.resource(r.Resource)
		if res == nil {
			continue
		}
		if err := res.Delete(ctx, r.Key); err != nil {
			s.log.Warn().Err(err).Str("resource", r.Resource).Str("key", r.Key).Msg("failed to delete replica")
		}
	}
}

func deletePrefix(txn *badger.Txn, prefix []byte) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)

	var keys [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()

	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}
