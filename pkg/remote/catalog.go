// Package remote implements the catalog over a remote filesystem transport
// (FTP, SMB, WebDAV). Transfers report byte-granular progress; transports
// carry no checksums, so nothing is verified.
package remote

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"digital.vasic.brocoli/pkg/catalog"
	"digital.vasic.brocoli/pkg/client"
)

// Options configures a remote catalog.
type Options struct {
	// ChunkSize is the download buffer size, catalog.ChunkSize when zero.
	ChunkSize int
	Logger    zerolog.Logger
}

// Catalog implements catalog.Catalog over a client.Client.
type Catalog struct {
	catalog.SlashPaths

	client client.Client
	kind   catalog.Kind
	opts   Options
	log    zerolog.Logger

	mu     sync.Mutex
	closed bool
}

var _ catalog.Catalog = (*Catalog)(nil)

var errClosed = errors.New("remote catalog is closed")

// New creates a catalog that owns the connected transport c.
func New(c client.Client, opts Options) *Catalog {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = catalog.ChunkSize
	}
	return &Catalog{
		client: c,
		kind:   catalog.Kind(c.GetProtocol()),
		opts:   opts,
		log:    opts.Logger.With().Str("protocol", c.GetProtocol()).Logger(),
	}
}

// Open connects c and returns a catalog owning it.
func Open(ctx context.Context, c client.Client, opts Options) (*Catalog, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, catalog.NewError(catalog.KindConnection, "connect", c.GetProtocol(), err)
	}
	return New(c, opts), nil
}

// Kind returns the kind matching the transport protocol.
func (c *Catalog) Kind() catalog.Kind {
	return c.kind
}

// Client returns the underlying transport.
func (c *Catalog) Client() client.Client {
	return c.client
}

// Close disconnects the transport. It is idempotent.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.client.Disconnect(context.Background())
}

func (c *Catalog) check(op, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return catalog.NewError(catalog.KindConnection, op, path, errClosed)
	}
	return nil
}

// rel maps a catalog path onto the transport root. "" is the root.
func (c *Catalog) rel(path string) string {
	p := strings.TrimPrefix(c.NormPath(path), "/")
	if p == "." {
		return ""
	}
	return p
}

// Lstat returns the entry of path.
func (c *Catalog) Lstat(ctx context.Context, path string) (*catalog.Entry, error) {
	const op = "lstat"
	if err := c.check(op, path); err != nil {
		return nil, err
	}
	p := c.rel(path)
	fi, err := c.client.GetFileInfo(ctx, p)
	if err != nil {
		return nil, translate(op, p, err)
	}
	return entryOf(fi), nil
}

// ListDir lists the entries of a directory keyed by name.
func (c *Catalog) ListDir(ctx context.Context, path string) (map[string]*catalog.Entry, error) {
	const op = "listdir"
	if err := c.check(op, path); err != nil {
		return nil, err
	}
	p := c.rel(path)
	files, err := c.client.ListDirectory(ctx, p)
	if err != nil {
		return nil, translate(op, p, err)
	}
	entries := make(map[string]*catalog.Entry, len(files))
	for _, fi := range files {
		entries[fi.Name] = entryOf(fi)
	}
	return entries, nil
}

// IsDir reports whether path is a directory.
func (c *Catalog) IsDir(ctx context.Context, path string) (bool, error) {
	e, err := c.Lstat(ctx, path)
	if err != nil {
		return false, err
	}
	return e.IsDir, nil
}

// Mkdir creates a directory. It fails when path exists.
func (c *Catalog) Mkdir(ctx context.Context, path string) error {
	const op = "mkdir"
	if err := c.check(op, path); err != nil {
		return err
	}
	p := c.rel(path)
	exists, err := c.client.FileExists(ctx, p)
	if err != nil {
		return translate(op, p, err)
	}
	if exists {
		return catalog.Logicf(op, p, "file exists")
	}
	if err := c.client.CreateDirectory(ctx, p); err != nil {
		return translate(op, p, err)
	}
	return nil
}

// Property group names.
const GroupTransport = "Transport"

var transportColumns = []catalog.Column{
	{Key: "attribute", Title: "Attribute"},
	{Key: "value", Title: "Value"},
}

// FileProperties returns the read-only transport attributes of path.
func (c *Catalog) FileProperties(ctx context.Context, path string) (*catalog.Properties, error) {
	const op = "properties"
	if err := c.check(op, path); err != nil {
		return nil, err
	}
	p := c.rel(path)
	fi, err := c.client.GetFileInfo(ctx, p)
	if err != nil {
		return nil, translate(op, p, err)
	}

	g := &catalog.Group{Name: GroupTransport, Columns: transportColumns}
	add := func(attr, value string) {
		g.Records = append(g.Records, catalog.Record{
			ID:     attr,
			Values: map[string]string{"attribute": attr, "value": value},
		})
	}
	add("protocol", c.client.GetProtocol())
	add("mode", fi.Mode.String())
	if !fi.ModTime.IsZero() {
		add("modified", fi.ModTime.UTC().Format("2006-01-02 15:04:05"))
	}
	return catalog.NewProperties(g), nil
}

// DirectoryProperties returns the read-only transport attributes of path.
func (c *Catalog) DirectoryProperties(ctx context.Context, path string) (*catalog.Properties, error) {
	return c.FileProperties(ctx, path)
}

func entryOf(fi *client.FileInfo) *catalog.Entry {
	name := fi.Name
	if name == "" {
		name = "/"
	}
	if fi.IsDir {
		return catalog.DirEntry(name, "")
	}
	return catalog.FileEntry(name, "", fi.Size, fi.ModTime)
}
