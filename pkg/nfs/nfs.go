//go:build linux
// +build linux

// Package nfs mounts NFS exports and exposes them as local catalogs.
package nfs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"digital.vasic.brocoli/pkg/catalog"
	"digital.vasic.brocoli/pkg/local"
)

// Config contains NFS connection configuration.
type Config struct {
	Host       string `mapstructure:"host" validate:"required,hostname|ip"`
	Path       string `mapstructure:"path" validate:"required,startswith=/"`
	MountPoint string `mapstructure:"mount_point" validate:"required"`
	Options    string `mapstructure:"options"`
}

// mountsFile lists the mounted filesystems.
var mountsFile = "/proc/mounts"

// Mount manages one NFS mount.
type Mount struct {
	config     Config
	mountPoint string
	// mounted is set when this Mount performed the mount and must undo it.
	mounted bool
	log     zerolog.Logger
}

// NewMount creates a mount helper.
func NewMount(config Config, log zerolog.Logger) (*Mount, error) {
	if config.MountPoint == "" {
		return nil, fmt.Errorf("mount point is required")
	}
	return &Mount{
		config:     config,
		mountPoint: filepath.Clean(config.MountPoint),
		log:        log,
	}, nil
}

// Source returns the host:path mount source.
func (m *Mount) Source() string {
	return fmt.Sprintf("%s:%s", m.config.Host, m.config.Path)
}

// MountPoint returns the local directory of the mount.
func (m *Mount) MountPoint() string {
	return m.mountPoint
}

// Mount mounts the export unless the mount point is already in use.
func (m *Mount) Mount(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mounted, err := m.IsMounted()
	if err != nil {
		return err
	}
	if mounted {
		m.log.Debug().Str("mount_point", m.mountPoint).Msg("nfs already mounted")
		return nil
	}

	if err := os.MkdirAll(m.mountPoint, 0755); err != nil {
		return fmt.Errorf("failed to create mount point %s: %w", m.mountPoint, err)
	}

	options := "vers=3"
	if m.config.Options != "" {
		options = m.config.Options
	}
	if !strings.Contains(options, "addr=") {
		options += ",addr=" + m.config.Host
	}

	if err := unix.Mount(m.Source(), m.mountPoint, "nfs", 0, options); err != nil {
		return fmt.Errorf("failed to mount NFS share %s to %s: %w", m.Source(), m.mountPoint, err)
	}
	m.mounted = true
	m.log.Info().Str("source", m.Source()).Str("mount_point", m.mountPoint).Msg("nfs mounted")
	return nil
}

// Unmount undoes a mount made by this helper. Mounts found in place are
// left alone.
func (m *Mount) Unmount() error {
	if !m.mounted {
		return nil
	}
	if err := unix.Unmount(m.mountPoint, 0); err != nil {
		return fmt.Errorf("failed to unmount NFS share from %s: %w", m.mountPoint, err)
	}
	m.mounted = false
	m.log.Info().Str("mount_point", m.mountPoint).Msg("nfs unmounted")
	return nil
}

// IsMounted reports whether a filesystem is mounted at the mount point.
func (m *Mount) IsMounted() (bool, error) {
	f, err := os.Open(mountsFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read %s: %w", mountsFile, err)
	}
	defer f.Close()
	return mountedAt(f, m.mountPoint)
}

// mountedAt scans a mounts table for target. Octal escapes in the mount
// point column are decoded.
func mountedAt(r io.Reader, target string) (bool, error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		if unescapeMount(fields[1]) == target {
			return true, nil
		}
	}
	return false, scanner.Err()
}

func unescapeMount(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) && isOctal(s[i+1]) && isOctal(s[i+2]) && isOctal(s[i+3]) {
			b.WriteByte((s[i+1]-'0')<<6 | (s[i+2]-'0')<<3 | (s[i+3] - '0'))
			i += 3
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func isOctal(c byte) bool {
	return c >= '0' && c <= '7'
}

// Catalog is a local catalog rooted at an NFS mount.
type Catalog struct {
	*local.Catalog
	mount *Mount
}

var _ catalog.Catalog = (*Catalog)(nil)

// Open mounts the export and returns a catalog rooted at the mount point.
func Open(ctx context.Context, config Config, log zerolog.Logger) (*Catalog, error) {
	m, err := NewMount(config, log)
	if err != nil {
		return nil, err
	}
	if err := m.Mount(ctx); err != nil {
		return nil, err
	}
	return newCatalog(m, log), nil
}

func newCatalog(m *Mount, log zerolog.Logger) *Catalog {
	return &Catalog{
		Catalog: local.NewCatalog(&local.Config{RootPath: m.MountPoint()}, log),
		mount:   m,
	}
}

// Kind returns catalog.KindNFS.
func (c *Catalog) Kind() catalog.Kind {
	return catalog.KindNFS
}

// Mount returns the mount helper.
func (c *Catalog) Mount() *Mount {
	return c.mount
}

// Close unmounts the export when the catalog mounted it.
func (c *Catalog) Close() error {
	return c.mount.Unmount()
}
