// Package ftp implements the transport client for the FTP protocol.
package ftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	goftp "github.com/jlaffaye/ftp"
	"github.com/rs/zerolog"

	"digital.vasic.brocoli/pkg/client"
)

// Config contains FTP connection configuration.
type Config struct {
	Host     string `mapstructure:"host" validate:"required,hostname|ip"`
	Port     int    `mapstructure:"port" validate:"min=1,max=65535"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Path     string `mapstructure:"path"`
	// Timeout bounds the dial. Defaults to 30s.
	Timeout time.Duration `mapstructure:"timeout"`
}

// Client implements client.Client for FTP protocol.
type Client struct {
	config    *Config
	client    *goftp.ServerConn
	connected bool
	log       zerolog.Logger
}

// NewFTPClient creates a new FTP client.
func NewFTPClient(config *Config, log zerolog.Logger) *Client {
	return &Client{
		config: config,
		log:    log,
	}
}

// Connect establishes the FTP connection.
func (c *Client) Connect(ctx context.Context) error {
	addr := net.JoinHostPort(c.config.Host, strconv.Itoa(c.config.Port))
	timeout := c.config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	ftpClient, err := goftp.Dial(addr, goftp.DialWithContext(ctx), goftp.DialWithTimeout(timeout))
	if err != nil {
		return fmt.Errorf("failed to connect to FTP server: %w", err)
	}

	username := c.config.Username
	if username == "" {
		username = "anonymous"
	}
	err = ftpClient.Login(username, c.config.Password)
	if err != nil {
		ftpClient.Quit()
		return fmt.Errorf("failed to login to FTP server: %w", err)
	}

	if c.config.Path != "" {
		err = ftpClient.ChangeDir(c.config.Path)
		if err != nil {
			ftpClient.Quit()
			return fmt.Errorf("failed to change to base directory %s: %w", c.config.Path, err)
		}
	}

	c.client = ftpClient
	c.connected = true
	c.log.Debug().Str("addr", addr).Str("user", username).Msg("ftp connected")
	return nil
}

// Disconnect closes the FTP connection.
func (c *Client) Disconnect(ctx context.Context) error {
	if c.client != nil {
		err := c.client.Quit()
		c.client = nil
		c.connected = false
		return err
	}
	c.connected = false
	return nil
}

// IsConnected returns true if the client is connected.
func (c *Client) IsConnected() bool {
	return c.connected && c.client != nil
}

// TestConnection tests the FTP connection.
func (c *Client) TestConnection(ctx context.Context) error {
	if !c.IsConnected() {
		return client.ErrNotConnected
	}
	return c.client.NoOp()
}

// resolvePath resolves a relative path within the FTP base directory.
func (c *Client) resolvePath(p string) string {
	if c.config.Path != "" {
		return path.Join(c.config.Path, p)
	}
	return p
}

// wrapErr reports 550 replies as missing paths.
func wrapErr(op, p string, err error) error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) && tpErr.Code == goftp.StatusFileUnavailable {
		return client.NotExist(op, p, err)
	}
	return fmt.Errorf("failed to %s FTP path %s: %w", op, p, err)
}

// ReadFile reads a file from the FTP server. The connection serves no
// other command until the reader is closed.
func (c *Client) ReadFile(ctx context.Context, p string) (io.ReadCloser, error) {
	if !c.IsConnected() {
		return nil, client.ErrNotConnected
	}
	fullPath := c.resolvePath(p)
	resp, err := c.client.Retr(fullPath)
	if err != nil {
		return nil, wrapErr("retrieve", fullPath, err)
	}
	return resp, nil
}

// WriteFile writes a file to the FTP server. The parent directory must
// exist.
func (c *Client) WriteFile(ctx context.Context, p string, data io.Reader) error {
	if !c.IsConnected() {
		return client.ErrNotConnected
	}
	fullPath := c.resolvePath(p)
	if err := c.client.Stor(fullPath, data); err != nil {
		return wrapErr("store", fullPath, err)
	}
	c.log.Debug().Str("path", fullPath).Msg("ftp stor")
	return nil
}

// GetFileInfo finds the entry in its parent listing, which works on
// servers without MLST.
func (c *Client) GetFileInfo(ctx context.Context, p string) (*client.FileInfo, error) {
	if !c.IsConnected() {
		return nil, client.ErrNotConnected
	}
	clean := path.Clean("/" + p)
	if clean == "/" {
		return &client.FileInfo{Name: "/", IsDir: true, Mode: os.ModeDir | 0o755, Path: ""}, nil
	}

	dir, name := path.Split(strings.TrimPrefix(clean, "/"))
	entries, err := c.client.List(c.resolvePath(dir))
	if err != nil {
		return nil, wrapErr("list", c.resolvePath(dir), err)
	}
	for _, entry := range entries {
		if entry.Name == name {
			return fileInfo(entry, p), nil
		}
	}
	return nil, client.NotExist("stat", c.resolvePath(p), nil)
}

func fileInfo(entry *goftp.Entry, p string) *client.FileInfo {
	size := int64(entry.Size)
	if entry.Size > uint64(1<<63-1) {
		size = 1<<63 - 1
	}
	mode := os.FileMode(0o644)
	isDir := entry.Type == goftp.EntryTypeFolder
	if isDir {
		mode = os.ModeDir | 0o755
	}
	return &client.FileInfo{
		Name:    entry.Name,
		Size:    size,
		ModTime: entry.Time,
		IsDir:   isDir,
		Mode:    mode,
		Path:    p,
	}
}

// ListDirectory lists files in a directory.
func (c *Client) ListDirectory(ctx context.Context, p string) ([]*client.FileInfo, error) {
	if !c.IsConnected() {
		return nil, client.ErrNotConnected
	}
	fullPath := c.resolvePath(p)

	entries, err := c.client.List(fullPath)
	if err != nil {
		return nil, wrapErr("list", fullPath, err)
	}

	var files []*client.FileInfo
	for _, entry := range entries {
		if entry.Name == "." || entry.Name == ".." {
			continue
		}
		files = append(files, fileInfo(entry, path.Join(p, entry.Name)))
	}
	return files, nil
}

// FileExists checks if a file exists.
func (c *Client) FileExists(ctx context.Context, p string) (bool, error) {
	_, err := c.GetFileInfo(ctx, p)
	if errors.Is(err, client.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// CreateDirectory creates a directory.
func (c *Client) CreateDirectory(ctx context.Context, p string) error {
	if !c.IsConnected() {
		return client.ErrNotConnected
	}
	fullPath := c.resolvePath(p)
	if err := c.client.MakeDir(fullPath); err != nil {
		return wrapErr("create directory", fullPath, err)
	}
	return nil
}

// DeleteDirectory deletes an empty directory.
func (c *Client) DeleteDirectory(ctx context.Context, p string) error {
	if !c.IsConnected() {
		return client.ErrNotConnected
	}
	fullPath := c.resolvePath(p)
	if err := c.client.RemoveDir(fullPath); err != nil {
		return wrapErr("delete directory", fullPath, err)
	}
	return nil
}

// DeleteFile deletes a file.
func (c *Client) DeleteFile(ctx context.Context, p string) error {
	if !c.IsConnected() {
		return client.ErrNotConnected
	}
	fullPath := c.resolvePath(p)
	if err := c.client.Delete(fullPath); err != nil {
		return wrapErr("delete", fullPath, err)
	}
	return nil
}

// GetProtocol returns the protocol name.
func (c *Client) GetProtocol() string {
	return "ftp"
}
