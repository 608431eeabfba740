// Package smb implements the transport client for the SMB protocol.
package smb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/hirochachacha/go-smb2"
	"github.com/rs/zerolog"

	"digital.vasic.brocoli/pkg/client"
)

// Config contains SMB connection configuration.
type Config struct {
	Host     string `mapstructure:"host" validate:"required,hostname|ip"`
	Port     int    `mapstructure:"port" validate:"min=1,max=65535"`
	Share    string `mapstructure:"share" validate:"required"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Domain   string `mapstructure:"domain"`
	// Path is the directory inside the share used as root.
	Path string `mapstructure:"path"`
}

// Client implements client.Client for SMB protocol.
type Client struct {
	conn    net.Conn
	session *smb2.Session
	share   *smb2.Share
	config  *Config
	log     zerolog.Logger
}

// NewSMBClient creates a new SMB client.
func NewSMBClient(config *Config, log zerolog.Logger) *Client {
	return &Client{
		config: config,
		log:    log,
	}
}

// Connect establishes the SMB connection.
func (c *Client) Connect(ctx context.Context) error {
	addr := net.JoinHostPort(c.config.Host, strconv.Itoa(c.config.Port))
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMB server: %w", err)
	}

	d := &smb2.Dialer{
		Initiator: &smb2.NTLMInitiator{
			User:     c.config.Username,
			Password: c.config.Password,
			Domain:   c.config.Domain,
		},
	}

	session, err := d.DialContext(ctx, conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create SMB session: %w", err)
	}

	share, err := session.Mount(c.config.Share)
	if err != nil {
		session.Logoff()
		conn.Close()
		return fmt.Errorf("failed to mount SMB share: %w", err)
	}

	c.conn = conn
	c.session = session
	c.share = share
	c.log.Debug().Str("addr", addr).Str("share", c.config.Share).Msg("smb connected")
	return nil
}

// Disconnect closes the SMB connection.
func (c *Client) Disconnect(ctx context.Context) error {
	var errs []error

	if c.share != nil {
		if err := c.share.Umount(); err != nil {
			errs = append(errs, fmt.Errorf("failed to unmount share: %w", err))
		}
		c.share = nil
	}

	if c.session != nil {
		if err := c.session.Logoff(); err != nil {
			errs = append(errs, fmt.Errorf("failed to logoff session: %w", err))
		}
		c.session = nil
	}

	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close connection: %w", err))
		}
		c.conn = nil
	}

	return errors.Join(errs...)
}

// IsConnected returns true if the client is connected.
func (c *Client) IsConnected() bool {
	return c.share != nil && c.session != nil && c.conn != nil
}

// TestConnection tests the SMB connection.
func (c *Client) TestConnection(ctx context.Context) error {
	if !c.IsConnected() {
		return client.ErrNotConnected
	}
	_, err := c.share.WithContext(ctx).Stat(c.resolvePath(""))
	return err
}

// resolvePath maps a transport path into the share.
func (c *Client) resolvePath(p string) string {
	full := strings.TrimPrefix(path.Join("/", c.config.Path, p), "/")
	if full == "" {
		return "."
	}
	return full
}

// wrapErr reports missing paths as client.ErrNotExist.
func wrapErr(op, p string, err error) error {
	if isNotExistError(err) {
		return client.NotExist(op, p, err)
	}
	return fmt.Errorf("failed to %s SMB path %s: %w", op, p, err)
}

// ReadFile reads a file from the SMB share.
func (c *Client) ReadFile(ctx context.Context, p string) (io.ReadCloser, error) {
	if !c.IsConnected() {
		return nil, client.ErrNotConnected
	}
	fullPath := c.resolvePath(p)
	file, err := c.share.WithContext(ctx).Open(fullPath)
	if err != nil {
		return nil, wrapErr("open", fullPath, err)
	}
	return file, nil
}

// WriteFile writes a file to the SMB share, replacing existing content.
func (c *Client) WriteFile(ctx context.Context, p string, data io.Reader) error {
	if !c.IsConnected() {
		return client.ErrNotConnected
	}
	fullPath := c.resolvePath(p)
	file, err := c.share.WithContext(ctx).Create(fullPath)
	if err != nil {
		return wrapErr("create", fullPath, err)
	}

	if _, err := io.Copy(file, data); err != nil {
		file.Close()
		return fmt.Errorf("failed to write SMB file %s: %w", fullPath, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close SMB file %s: %w", fullPath, err)
	}
	c.log.Debug().Str("path", fullPath).Msg("smb write")
	return nil
}

// GetFileInfo gets information about a file.
func (c *Client) GetFileInfo(ctx context.Context, p string) (*client.FileInfo, error) {
	if !c.IsConnected() {
		return nil, client.ErrNotConnected
	}
	fullPath := c.resolvePath(p)
	stat, err := c.share.WithContext(ctx).Stat(fullPath)
	if err != nil {
		return nil, wrapErr("stat", fullPath, err)
	}
	return fileInfo(stat, p), nil
}

func fileInfo(fi os.FileInfo, p string) *client.FileInfo {
	return &client.FileInfo{
		Name:    fi.Name(),
		Size:    fi.Size(),
		ModTime: fi.ModTime(),
		IsDir:   fi.IsDir(),
		Mode:    fi.Mode(),
		Path:    p,
	}
}

// ListDirectory lists files in a directory.
func (c *Client) ListDirectory(ctx context.Context, p string) ([]*client.FileInfo, error) {
	if !c.IsConnected() {
		return nil, client.ErrNotConnected
	}
	fullPath := c.resolvePath(p)
	entries, err := c.share.WithContext(ctx).ReadDir(fullPath)
	if err != nil {
		return nil, wrapErr("list", fullPath, err)
	}

	files := make([]*client.FileInfo, 0, len(entries))
	for _, entry := range entries {
		files = append(files, fileInfo(entry, path.Join(p, entry.Name())))
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
	if err := c.share.WithContext(ctx).Mkdir(fullPath, 0o755); err != nil {
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
	if err := c.share.WithContext(ctx).Remove(fullPath); err != nil {
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
	if err := c.share.WithContext(ctx).Remove(fullPath); err != nil {
		return wrapErr("delete", fullPath, err)
	}
	return nil
}

// GetProtocol returns the protocol name.
func (c *Client) GetProtocol() string {
	return "smb"
}

// isNotExistError checks if an error indicates that a file does not exist.
func isNotExistError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrNotExist) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "STATUS_OBJECT_NAME_NOT_FOUND") ||
		strings.Contains(msg, "STATUS_OBJECT_PATH_NOT_FOUND") ||
		strings.Contains(msg, "file does not exist") ||
		strings.Contains(msg, "no such file or directory")
}
