// Package gridstore is an embedded data grid. The namespace, replicas,
// permissions, metadata and users live in a BadgerDB catalog; replica
// content lives on storage resources (a local directory, an S3 bucket or an
// Azure Blob container).
//
// Key schema:
//
//	u:<user>               user record
//	c:<path>               collection record
//	o:<coll>\x00<name>     data object record
//	a:<path>\x00<user>     access level
//	m:<path>\x00<id>       metadata triple
package gridstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"digital.vasic.brocoli/pkg/catalog"
	"digital.vasic.brocoli/pkg/checksum"
	"digital.vasic.brocoli/pkg/grid"
)

// Config contains store configuration.
type Config struct {
	// Dir is the BadgerDB directory. Ignored when InMemory is set.
	Dir      string `mapstructure:"store_path"`
	InMemory bool   `mapstructure:"in_memory"`
	Zone     string `mapstructure:"zone" validate:"required"`
	// DefaultChecksum is the algorithm used when a client does not send an
	// expected checksum. Defaults to md5.
	DefaultChecksum checksum.Algorithm `mapstructure:"default_checksum"`
	// SpoolDir holds object content while it is received. Defaults to the
	// system temp dir.
	SpoolDir  string           `mapstructure:"spool_dir"`
	Resources []ResourceConfig `mapstructure:"resources" validate:"min=1,dive"`
}

// Store is an open grid catalog.
type Store struct {
	db        *badger.DB
	config    Config
	resources []Resource
	log       zerolog.Logger
}

type userRecord struct {
	Name         string `json:"name"`
	PasswordHash []byte `json:"password_hash"`
	Admin        bool   `json:"admin"`
}

type collRecord struct {
	Path    string    `json:"path"`
	Owner   string    `json:"owner"`
	ModTime time.Time `json:"mtime"`
}

type replicaRecord struct {
	Number   int       `json:"number"`
	Resource string    `json:"resource"`
	Status   string    `json:"status"`
	Checksum string    `json:"checksum"`
	Key      string    `json:"key"`
	Location string    `json:"location"`
	Size     int64     `json:"size"`
	ModTime  time.Time `json:"mtime"`
}

type objRecord struct {
	ID       string          `json:"id"`
	Path     string          `json:"path"`
	Owner    string          `json:"owner"`
	Checksum string          `json:"checksum"`
	Size     int64           `json:"size"`
	ModTime  time.Time       `json:"mtime"`
	Replicas []replicaRecord `json:"replicas"`
}

type avuRecord struct {
	Attribute string `json:"attribute"`
	Value     string `json:"value"`
	Units     string `json:"units"`
}

// Replica statuses.
const (
	replicaGood  = "good"
	replicaStale = "stale"
)

var paths catalog.SlashPaths

// Open opens the catalog and its resources, creating the zone root
// collections when the catalog is new.
func Open(ctx context.Context, config Config, log zerolog.Logger) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if config.Zone == "" {
		return nil, errors.New("zone is required")
	}
	if config.DefaultChecksum == "" {
		config.DefaultChecksum = checksum.MD5
	}
	if len(config.Resources) == 0 {
		return nil, errors.New("at least one resource is required")
	}

	resources := make([]Resource, 0, len(config.Resources))
	for _, rc := range config.Resources {
		r, err := NewResource(ctx, rc)
		if err != nil {
			return nil, fmt.Errorf("failed to open resource %s: %w", rc.Name, err)
		}
		resources = append(resources, r)
	}

	opts := badger.DefaultOptions(config.Dir)
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", config.Dir, err)
	}

	s := &Store{db: db, config: config, resources: resources, log: log}
	if err := s.initZone(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize zone %s: %w", config.Zone, err)
	}
	log.Debug().Str("zone", config.Zone).Int("resources", len(resources)).Msg("grid store opened")
	return s, nil
}

// Close closes the catalog.
func (s *Store) Close() error {
	return s.db.Close()
}

// Zone returns the zone name.
func (s *Store) Zone() string {
	return s.config.Zone
}

// HomePath returns the home collection of user.
func (s *Store) HomePath(user string) string {
	return paths.Join("/", s.config.Zone, "home", user)
}

func (s *Store) resource(name string) Resource {
	for _, r := range s.resources {
		if r.Name() == name {
			return r
		}
	}
	return nil
}

func (s *Store) initZone() error {
	now := time.Now().UTC()
	return s.db.Update(func(txn *badger.Txn) error {
		for _, p := range []string{"/", "/" + s.config.Zone, paths.Join("/", s.config.Zone, "home")} {
			_, err := txn.Get(collKey(p))
			if err == nil {
				continue
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			if err := setJSON(txn, collKey(p), &collRecord{Path: p, Owner: adminUser, ModTime: now}); err != nil {
				return err
			}
		}
		return nil
	})
}

func collKey(path string) []byte {
	return []byte("c:" + path)
}

func objKey(path string) []byte {
	dir, name := paths.SplitName(path)
	return []byte("o:" + dir + "\x00" + name)
}

func objPrefix(collPath string) []byte {
	return []byte("o:" + collPath + "\x00")
}

func aclKey(path, user string) []byte {
	return []byte("a:" + path + "\x00" + user)
}

func aclPrefix(path string) []byte {
	return []byte("a:" + path + "\x00")
}

func metaKey(path, id string) []byte {
	return []byte("m:" + path + "\x00" + id)
}

func metaPrefix(path string) []byte {
	return []byte("m:" + path + "\x00")
}

func userKey(name string) []byte {
	return []byte("u:" + name)
}

// inTree reports whether p is root or lies below it.
func inTree(p, root string) bool {
	if root == "/" {
		return strings.HasPrefix(p, "/")
	}
	return p == root || strings.HasPrefix(p, root+"/")
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return unmarshal(val, v)
	})
}

func unmarshal(val []byte, v any) error {
	return json.Unmarshal(val, v)
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

// scan calls fn for every key with prefix. The value is only valid inside
// fn.
func scan(txn *badger.Txn, prefix []byte, fn func(key, val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)
		if err := item.Value(func(val []byte) error {
			return fn(key, val)
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) getColl(txn *badger.Txn, path string) (*collRecord, error) {
	var rec collRecord
	err := getJSON(txn, collKey(path), &rec)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, grid.NewError(grid.CodeUnknownCollection, path)
	}
	if err != nil {
		return nil, sqlError(path, err)
	}
	return &rec, nil
}

func (s *Store) getObj(txn *badger.Txn, path string) (*objRecord, error) {
	var rec objRecord
	err := getJSON(txn, objKey(path), &rec)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, grid.NewError(grid.CodeNoSuchObject, path)
	}
	if err != nil {
		return nil, sqlError(path, err)
	}
	return &rec, nil
}

// sqlError wraps a catalog storage failure.
func sqlError(path string, err error) error {
	return &grid.Error{Code: grid.CodeSQL, Path: path, Err: err}
}
