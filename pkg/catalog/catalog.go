// Package catalog defines the unified storage catalog contract shared by
// the local filesystem, the remote data grid and the remote filesystem
// protocols.
package catalog

import (
	"context"
	"strconv"
	"time"

	"digital.vasic.brocoli/pkg/status"
)

// Kind tags a catalog backend.
type Kind string

// Supported backend kinds.
const (
	KindOS     Kind = "os"
	KindGrid   Kind = "grid"
	KindFTP    Kind = "ftp"
	KindSMB    Kind = "smb"
	KindWebDAV Kind = "webdav"
	KindNFS    Kind = "nfs"
)

// Entry describes one catalog path as returned by Lstat and ListDir.
type Entry struct {
	Name  string
	Owner string
	// Size is a single number, or "min-max" when replicas disagree.
	// Empty for directories.
	Size    string
	ModTime time.Time
	// Replicas is the number of physical copies. Zero for directories.
	Replicas int
	IsDir    bool
}

// ReplicaCount renders the replica count, empty for directories.
func (e *Entry) ReplicaCount() string {
	if e.IsDir {
		return ""
	}
	return strconv.Itoa(e.Replicas)
}

// FileEntry builds the entry of a single-copy file.
func FileEntry(name, owner string, size int64, mtime time.Time) *Entry {
	return &Entry{
		Name:     name,
		Owner:    owner,
		Size:     strconv.FormatInt(size, 10),
		ModTime:  mtime,
		Replicas: 1,
	}
}

// DirEntry builds the entry of a directory.
func DirEntry(name, owner string) *Entry {
	return &Entry{Name: name, Owner: owner, IsDir: true}
}

// ProgressFunc receives (completed, total) pairs while a bulk operation
// runs. completed == total is the only reliable completion signal.
type ProgressFunc func(completed, total int64)

// Paths is the path syntax of a backend.
type Paths interface {
	Join(elem ...string) string
	SplitName(path string) (dir, name string)
	Dir(path string) string
	Base(path string) string
	NormPath(path string) string
}

// Catalog is the contract every storage backend implements.
//
// Bulk operations register every path in statuses before the first progress
// call, report progress through fn, and close statuses before returning so
// any item left New or InProgress ends Interrupted with its cleanup run.
// Cancelling ctx is the way to abandon a batch.
type Catalog interface {
	Paths

	Kind() Kind

	Lstat(ctx context.Context, path string) (*Entry, error)
	ListDir(ctx context.Context, path string) (map[string]*Entry, error)
	IsDir(ctx context.Context, path string) (bool, error)

	DownloadFiles(ctx context.Context, paths []string, destDir string, statuses *status.List, fn ProgressFunc) error
	DownloadDirectories(ctx context.Context, paths []string, destDir string, statuses *status.List, fn ProgressFunc) error
	UploadFiles(ctx context.Context, localPaths []string, destPath string, statuses *status.List, fn ProgressFunc) error
	UploadDirectories(ctx context.Context, localDirs []string, destPath string, statuses *status.List, fn ProgressFunc) error
	DeleteFiles(ctx context.Context, paths []string, statuses *status.List, fn ProgressFunc) error
	DeleteDirectories(ctx context.Context, paths []string, statuses *status.List, fn ProgressFunc) error

	Mkdir(ctx context.Context, path string) error

	DirectoryProperties(ctx context.Context, path string) (*Properties, error)
	FileProperties(ctx context.Context, path string) (*Properties, error)

	// Close releases the backend session. It is idempotent.
	Close() error
}

// Batch returns statuses, or a fresh list when it is nil.
func Batch(statuses *status.List) *status.List {
	if statuses == nil {
		return status.NewList()
	}
	return statuses
}

// Fail marks st Failed and returns err, unless ctx was cancelled: then the
// item is left to the list guard, which interrupts it, and ctx.Err() is
// returned.
func Fail(ctx context.Context, st *status.Status, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	st.Fail()
	return err
}
