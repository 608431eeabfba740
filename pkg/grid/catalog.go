package grid

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"digital.vasic.brocoli/pkg/catalog"
	"digital.vasic.brocoli/pkg/checksum"
)

// errClosed is returned by every operation once the session is gone.
var errClosed = errors.New("grid session is closed")

// Options configures a grid catalog.
type Options struct {
	// LocalChecksum hashes the local side of every transfer and verifies it
	// against the grid. It doubles the work accounted per byte.
	LocalChecksum bool
	// Algorithm overrides the session default for uploads.
	Algorithm checksum.Algorithm
	// ChunkSize is the transfer buffer size, catalog.ChunkSize when zero.
	ChunkSize int
	// Logger receives per-item debug events. The zero value discards them.
	Logger zerolog.Logger
}

// Catalog implements catalog.Catalog over a grid session.
type Catalog struct {
	catalog.SlashPaths

	session Session
	opts    Options
	log     zerolog.Logger

	mu     sync.Mutex
	closed bool
}

var _ catalog.Catalog = (*Catalog)(nil)

// New creates a catalog that owns session.
func New(session Session, opts Options) *Catalog {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = catalog.ChunkSize
	}
	return &Catalog{session: session, opts: opts, log: opts.Logger}
}

// Kind returns catalog.KindGrid.
func (c *Catalog) Kind() catalog.Kind {
	return catalog.KindGrid
}

// Session returns the underlying session.
func (c *Catalog) Session() Session {
	return c.session
}

// HomePath returns the home collection of the session user.
func (c *Catalog) HomePath() string {
	return c.Join("/", c.session.Zone(), "home", c.session.User())
}

// Close closes the session. It is idempotent.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.session.Close()
}

func (c *Catalog) closeSession() {
	if err := c.Close(); err != nil {
		c.log.Warn().Err(err).Msg("failed to close grid session")
	}
}

// check fails fast once the session is closed.
func (c *Catalog) check(op, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return catalog.NewError(catalog.KindConnection, op, path, errClosed)
	}
	return nil
}

func (c *Catalog) algorithm() checksum.Algorithm {
	if c.opts.Algorithm != "" {
		return c.opts.Algorithm
	}
	return c.session.DefaultChecksum()
}

func (c *Catalog) cksumFactor() int64 {
	if c.opts.LocalChecksum {
		return 2
	}
	return 1
}

// Lstat returns the entry of a collection or data object. The size of an
// object whose replicas disagree is rendered "min-max".
func (c *Catalog) Lstat(ctx context.Context, path string) (*catalog.Entry, error) {
	if err := c.check("lstat", path); err != nil {
		return nil, err
	}
	path = c.NormPath(path)

	coll, err := c.session.Collection(ctx, path)
	if err == nil {
		return catalog.DirEntry(c.Base(coll.Path), coll.Owner), nil
	}
	if CodeOf(err) != CodeUnknownCollection {
		return nil, c.translate("lstat", path, err)
	}

	replicas, err := c.session.Replicas(ctx, path)
	if err != nil {
		return nil, c.translate("lstat", path, err)
	}
	return c.fileEntry(path, replicas)
}

func (c *Catalog) fileEntry(path string, replicas []Replica) (*catalog.Entry, error) {
	if len(replicas) == 0 {
		return nil, catalog.NewError(catalog.KindNotFound, "lstat", path, NewError(CodeNoSuchObject, path))
	}

	e := &catalog.Entry{Name: c.Base(path), Replicas: len(replicas)}
	minSize, maxSize := replicas[0].Size, replicas[0].Size
	for _, r := range replicas {
		e.Owner = r.Owner
		e.ModTime = r.ModTime
		if r.Size < minSize {
			minSize = r.Size
		}
		if r.Size > maxSize {
			maxSize = r.Size
		}
	}
	if minSize != maxSize {
		e.Size = strconv.FormatInt(minSize, 10) + "-" + strconv.FormatInt(maxSize, 10)
	} else {
		e.Size = strconv.FormatInt(minSize, 10)
	}
	return e, nil
}

// ListDir lists the subcollections and data objects of a collection.
func (c *Catalog) ListDir(ctx context.Context, path string) (map[string]*catalog.Entry, error) {
	if err := c.check("listdir", path); err != nil {
		return nil, err
	}
	path = c.NormPath(path)

	subs, err := c.session.Subcollections(ctx, path)
	if err != nil {
		return nil, c.translate("listdir", path, err)
	}
	objs, err := c.session.DataObjects(ctx, path)
	if err != nil {
		return nil, c.translate("listdir", path, err)
	}

	entries := make(map[string]*catalog.Entry, len(subs)+len(objs))
	for _, s := range subs {
		name := c.Base(s.Path)
		entries[name] = catalog.DirEntry(name, s.Owner)
	}
	for _, o := range objs {
		// objects losing their last replica concurrently are skipped
		if e, err := c.fileEntry(o.Path, o.Replicas); err == nil {
			entries[e.Name] = e
		}
	}
	return entries, nil
}

// IsDir reports whether path is a collection.
func (c *Catalog) IsDir(ctx context.Context, path string) (bool, error) {
	if err := c.check("isdir", path); err != nil {
		return false, err
	}
	_, err := c.session.Collection(ctx, c.NormPath(path))
	if err == nil {
		return true, nil
	}
	if CodeOf(err) == CodeUnknownCollection {
		return false, nil
	}
	return false, c.translate("isdir", path, err)
}

// Mkdir creates a collection.
func (c *Catalog) Mkdir(ctx context.Context, path string) error {
	if err := c.check("mkdir", path); err != nil {
		return err
	}
	return c.translate("mkdir", path, c.session.CreateCollection(ctx, c.NormPath(path)))
}

// mkcol creates a collection, accepting one that already exists.
func (c *Catalog) mkcol(ctx context.Context, path string) error {
	err := c.session.CreateCollection(ctx, path)
	if CodeOf(err) == CodeAlreadyExists {
		return nil
	}
	return err
}
