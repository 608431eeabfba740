// Package grid implements the catalog for a remote data grid: a hierarchy of
// collections holding data objects, each stored as one or more replicas on
// storage resources, with per-path permissions and metadata triples.
package grid

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"digital.vasic.brocoli/pkg/checksum"
)

// Permission levels.
const (
	LevelNull  = "null"
	LevelRead  = "read"
	LevelWrite = "write"
	LevelOwn   = "own"
)

// Collection is a directory node of the grid namespace.
type Collection struct {
	Path    string
	Owner   string
	ModTime time.Time
}

// Replica is one physical copy of a data object.
type Replica struct {
	Number   int
	Resource string
	Status   string
	Checksum string
	// Path is the physical location on the resource.
	Path    string
	Size    int64
	Owner   string
	ModTime time.Time
}

// DataObject is a file node of the grid namespace.
type DataObject struct {
	Path     string
	Replicas []Replica
}

// Permission grants a level to a user on a path.
type Permission struct {
	User  string
	Level string
}

// AVU is an attribute/value/units metadata triple.
type AVU struct {
	ID        string
	Attribute string
	Value     string
	Units     string
}

// Stats is the result of a subtree query.
type Stats struct {
	Collections int64
	Objects     int64
	Size        int64
}

// PutOptions controls object creation.
type PutOptions struct {
	// Checksum, when set, is verified by the grid against the received
	// bytes when the writer is closed.
	Checksum string
	// AllResources replicates the object to every resource.
	AllResources bool
}

// ObjectWriter streams the content of a data object. Close commits the
// object; Abort discards what was written.
type ObjectWriter interface {
	io.Writer
	Close() error
	Abort() error
}

// Session is an authenticated grid session.
type Session interface {
	User() string
	Zone() string

	// Collection returns the node at path, or CodeUnknownCollection.
	Collection(ctx context.Context, path string) (*Collection, error)
	Subcollections(ctx context.Context, path string) ([]*Collection, error)
	DataObjects(ctx context.Context, collPath string) ([]*DataObject, error)
	// Replicas lists the replicas of the object at path. It returns an empty
	// list, not an error, when the object has no replica left.
	Replicas(ctx context.Context, path string) ([]Replica, error)
	// TreeStats aggregates the subtree rooted at the collection path.
	TreeStats(ctx context.Context, path string) (Stats, error)

	CreateCollection(ctx context.Context, path string) error
	// RemoveCollection removes a collection recursively, calling tick once
	// per removed node. ctx is checked between nodes.
	RemoveCollection(ctx context.Context, path string, tick func()) error
	Unlink(ctx context.Context, path string) error

	Open(ctx context.Context, path string) (io.ReadCloser, error)
	// Create opens path for writing, replacing existing content. created
	// reports whether the object did not exist before.
	Create(ctx context.Context, path string, opts PutOptions) (w ObjectWriter, created bool, err error)
	Checksum(ctx context.Context, path string) (string, error)

	Permissions(ctx context.Context, path string) ([]Permission, error)
	SetPermission(ctx context.Context, path, user, level string) error
	Metadata(ctx context.Context, path string) ([]AVU, error)
	AddMetadata(ctx context.Context, path string, avu AVU) (string, error)
	RemoveMetadata(ctx context.Context, path, id string) error

	DefaultChecksum() checksum.Algorithm
	Close() error
}

// Code is a native grid error code.
type Code int

// Native error codes.
const (
	CodeInvalidAuthentication Code = iota + 1
	CodeUnknownCollection
	CodeNoSuchObject
	CodeAlreadyExists
	CodeChecksumMismatch
	CodeSQL
	CodeNoPermission
	CodeNetwork
)

var codeNames = map[Code]string{
	CodeInvalidAuthentication: "CAT_INVALID_AUTHENTICATION",
	CodeUnknownCollection:     "CAT_UNKNOWN_COLLECTION",
	CodeNoSuchObject:          "CAT_NO_ROWS_FOUND",
	CodeAlreadyExists:         "CATALOG_ALREADY_HAS_ITEM_BY_THAT_NAME",
	CodeChecksumMismatch:      "USER_CHKSUM_MISMATCH",
	CodeSQL:                   "CAT_SQL_ERR",
	CodeNoPermission:          "CAT_NO_ACCESS_PERMISSION",
	CodeNetwork:               "SYS_SOCK_CONNECT_ERR",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("GRID_ERROR_%d", int(c))
}

// Error is a native grid failure.
type Error struct {
	Code Code
	Path string
	Err  error
}

// NewError builds a native error.
func NewError(code Code, path string) *Error {
	return &Error{Code: code, Path: path}
}

func (e *Error) Error() string {
	msg := e.Code.String()
	if e.Path != "" {
		msg += ": " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the native code of err, or 0.
func CodeOf(err error) Code {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Code
	}
	return 0
}
