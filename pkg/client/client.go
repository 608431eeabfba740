// Package client defines the transport contract shared by the remote
// filesystem protocols (FTP, SMB, WebDAV). Paths are '/'-separated and
// relative to the root the transport was configured with.
package client

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"time"
)

var (
	// ErrNotConnected is returned by every operation before Connect.
	ErrNotConnected = errors.New("not connected")
	// ErrNotExist marks a missing path. It matches fs.ErrNotExist.
	ErrNotExist = fs.ErrNotExist
)

// FileInfo represents file information from any filesystem.
type FileInfo struct {
	Name    string
	Size    int64
	ModTime time.Time
	IsDir   bool
	Mode    os.FileMode
	Path    string
}

// Client defines the interface for filesystem operations.
type Client interface {
	// Connection management
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool
	TestConnection(ctx context.Context) error

	// File operations. Missing paths fail with an error matching
	// ErrNotExist.
	ReadFile(ctx context.Context, path string) (io.ReadCloser, error)
	WriteFile(ctx context.Context, path string, data io.Reader) error
	GetFileInfo(ctx context.Context, path string) (*FileInfo, error)
	FileExists(ctx context.Context, path string) (bool, error)
	DeleteFile(ctx context.Context, path string) error

	// Directory operations
	ListDirectory(ctx context.Context, path string) ([]*FileInfo, error)
	CreateDirectory(ctx context.Context, path string) error
	DeleteDirectory(ctx context.Context, path string) error

	GetProtocol() string
}

// NotExist wraps a protocol error so that it matches ErrNotExist.
func NotExist(op, path string, err error) error {
	return &NotExistError{Op: op, Path: path, Err: err}
}

// NotExistError is a missing-path failure reported by a transport.
type NotExistError struct {
	Op   string
	Path string
	Err  error
}

func (e *NotExistError) Error() string {
	msg := e.Op + " " + e.Path + ": file does not exist"
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *NotExistError) Unwrap() error {
	return e.Err
}

func (e *NotExistError) Is(target error) bool {
	return target == ErrNotExist
}
