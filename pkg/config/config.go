// Package config manages the on-disk connection store.
//
// The store is an ini file:
//
//	[SETTINGS]
//	default_connection = default
//	show_hidden = no
//
//	[connection:default]
//	catalog_type = os
//	root_path = /tmp
//
// Every connection section carries catalog_type and root_path plus the keys
// of its backend.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"gopkg.in/ini.v1"
)

// Section and key names.
const (
	SettingsSection   = "SETTINGS"
	ConnectionPrefix  = "connection:"
	DefaultConnection = "default_connection"
	CatalogType       = "catalog_type"
	RootPath          = "root_path"
)

// ErrNoConnection is returned for an unknown connection name.
var ErrNoConnection = errors.New("no such connection")

// Connection is one connection section.
type Connection struct {
	Name string
	// Type is the backend kind tag.
	Type     string
	RootPath string
	// Settings holds the backend keys.
	Settings map[string]string
}

// Config is a loaded connection store. Sections and keys keep their file
// order.
type Config struct {
	file *ini.File
}

// DefaultPath returns ~/.brocoli.ini.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".brocoli.ini"), nil
}

func loadOptions() ini.LoadOptions {
	return ini.LoadOptions{
		// passwords may contain ';' and '#'
		IgnoreInlineComment: true,
	}
}

// New returns the bootstrap configuration: a single "default" connection
// over the local filesystem rooted at the temp directory.
func New() *Config {
	c := &Config{file: ini.Empty(loadOptions())}
	c.file.Section(SettingsSection).Key(DefaultConnection).SetValue("default")
	c.SetConnection(&Connection{Name: "default", Type: "os", RootPath: os.TempDir()})
	return c
}

// Load reads the store at path, or returns the bootstrap configuration
// when the file does not exist.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return New(), nil
	}
	f, err := ini.LoadSources(loadOptions(), path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	return &Config{file: f}, nil
}

// Save writes cfg to path with mode 0600, replacing the file atomically.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary config: %w", err)
	}
	tmpPath := tmp.Name()
	fail := func(err error) error {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}

	if runtime.GOOS != "windows" {
		if err := tmp.Chmod(0600); err != nil {
			return fail(fmt.Errorf("failed to set config permissions: %w", err))
		}
	}
	if _, err := cfg.file.WriteTo(tmp); err != nil {
		return fail(fmt.Errorf("failed to write config: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		return fail(fmt.Errorf("failed to write config: %w", err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// Update is an atomic read-modify-write of the store at path: it holds an
// exclusive lock on path+".lock" while loading, applying fn and saving.
// Nothing is written when fn fails.
func Update(path string, fn func(*Config) error) error {
	unlock, err := lockFile(path + ".lock")
	if err != nil {
		return err
	}
	defer unlock()

	cfg, err := Load(path)
	if err != nil {
		return err
	}
	if err := fn(cfg); err != nil {
		return err
	}
	return Save(path, cfg)
}

// Setting returns a SETTINGS value, or "" when unset.
func (c *Config) Setting(key string) string {
	return c.file.Section(SettingsSection).Key(key).String()
}

// SetSetting sets a SETTINGS value.
func (c *Config) SetSetting(key, value string) {
	c.file.Section(SettingsSection).Key(key).SetValue(value)
}

// BoolSetting parses a SETTINGS value with ParseBool, returning def when
// it is unset.
func (c *Config) BoolSetting(key string, def bool) (bool, error) {
	v := c.Setting(key)
	if v == "" {
		return def, nil
	}
	return ParseBool(v)
}

// DefaultConnectionName returns the name of the default connection.
func (c *Config) DefaultConnectionName() string {
	return c.Setting(DefaultConnection)
}

// SetDefaultConnection selects the default connection.
func (c *Config) SetDefaultConnection(name string) error {
	if !c.file.HasSection(ConnectionPrefix + name) {
		return fmt.Errorf("%w: %s", ErrNoConnection, name)
	}
	c.SetSetting(DefaultConnection, name)
	return nil
}

// ConnectionNames returns the connection names in file order.
func (c *Config) ConnectionNames() []string {
	var names []string
	for _, s := range c.file.Sections() {
		if name, ok := strings.CutPrefix(s.Name(), ConnectionPrefix); ok {
			names = append(names, name)
		}
	}
	return names
}

// Connection returns the named connection, or the default one when name
// is empty.
func (c *Config) Connection(name string) (*Connection, error) {
	if name == "" {
		name = c.DefaultConnectionName()
	}
	s, err := c.file.GetSection(ConnectionPrefix + name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNoConnection, name)
	}

	conn := &Connection{Name: name, Settings: map[string]string{}}
	for _, k := range s.Keys() {
		switch k.Name() {
		case CatalogType:
			conn.Type = k.Value()
		case RootPath:
			conn.RootPath = k.Value()
		default:
			conn.Settings[k.Name()] = k.Value()
		}
	}
	if conn.Type == "" {
		return nil, fmt.Errorf("connection %s has no %s", name, CatalogType)
	}
	return conn, nil
}

// SetConnection creates or replaces a connection section.
func (c *Config) SetConnection(conn *Connection) {
	name := ConnectionPrefix + conn.Name
	c.file.DeleteSection(name)
	s := c.file.Section(name)
	s.Key(CatalogType).SetValue(conn.Type)
	s.Key(RootPath).SetValue(conn.RootPath)

	keys := make([]string, 0, len(conn.Settings))
	for k := range conn.Settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s.Key(k).SetValue(conn.Settings[k])
	}
}

// RemoveConnection deletes a connection. Removing the default connection
// clears the default.
func (c *Config) RemoveConnection(name string) error {
	if !c.file.HasSection(ConnectionPrefix + name) {
		return fmt.Errorf("%w: %s", ErrNoConnection, name)
	}
	c.file.DeleteSection(ConnectionPrefix + name)
	if c.DefaultConnectionName() == name {
		c.SetSetting(DefaultConnection, "")
	}
	return nil
}
