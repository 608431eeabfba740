package smb

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"digital.vasic.brocoli/pkg/client"
)

// Verify SMB Client implements client.Client interface.
var _ client.Client = (*Client)(nil)

func newClient(config *Config) *Client {
	return NewSMBClient(config, zerolog.Nop())
}

func TestNewSMBClient(t *testing.T) {
	config := &Config{
		Host:     "localhost",
		Port:     445,
		Share:    "share",
		Username: "user",
		Password: "pass",
		Domain:   "WORKGROUP",
	}
	c := newClient(config)
	require.NotNil(t, c)
	assert.Equal(t, config, c.config)
	assert.Nil(t, c.conn)
	assert.Nil(t, c.session)
	assert.Nil(t, c.share)
}

func TestSMBClient_GetProtocol(t *testing.T) {
	c := newClient(&Config{})
	assert.Equal(t, "smb", c.GetProtocol())
}

func TestSMBClient_IsConnected_AllNil(t *testing.T) {
	c := &Client{}
	assert.False(t, c.IsConnected())
}

func TestSMBClient_ResolvePath(t *testing.T) {
	for _, tc := range []struct {
		base, path, want string
	}{
		{"", "", "."},
		{"", "a/b.txt", "a/b.txt"},
		{"data", "a/b.txt", "data/a/b.txt"},
		{"/data/", "", "data"},
		{"data", "../../etc", "etc"},
	} {
		c := newClient(&Config{Path: tc.base})
		assert.Equal(t, tc.want, c.resolvePath(tc.path), "base=%q path=%q", tc.base, tc.path)
	}
}

func TestSMBClient_NotConnected(t *testing.T) {
	c := newClient(&Config{})
	ctx := context.Background()

	assert.ErrorIs(t, c.TestConnection(ctx), client.ErrNotConnected)

	reader, err := c.ReadFile(ctx, "test.txt")
	assert.ErrorIs(t, err, client.ErrNotConnected)
	assert.Nil(t, reader)

	assert.ErrorIs(t, c.WriteFile(ctx, "test.txt", strings.NewReader("x")), client.ErrNotConnected)

	info, err := c.GetFileInfo(ctx, "test.txt")
	assert.ErrorIs(t, err, client.ErrNotConnected)
	assert.Nil(t, info)

	files, err := c.ListDirectory(ctx, "")
	assert.ErrorIs(t, err, client.ErrNotConnected)
	assert.Nil(t, files)

	exists, err := c.FileExists(ctx, "test.txt")
	assert.ErrorIs(t, err, client.ErrNotConnected)
	assert.False(t, exists)

	assert.ErrorIs(t, c.CreateDirectory(ctx, "newdir"), client.ErrNotConnected)
	assert.ErrorIs(t, c.DeleteDirectory(ctx, "olddir"), client.ErrNotConnected)
	assert.ErrorIs(t, c.DeleteFile(ctx, "file.txt"), client.ErrNotConnected)
}

func TestSMBClient_Disconnect_AllNil(t *testing.T) {
	c := newClient(&Config{})
	err := c.Disconnect(context.Background())
	assert.NoError(t, err)
}

func TestSMBClient_Connect_InvalidServer(t *testing.T) {
	c := newClient(&Config{
		Host:     "192.0.2.1", // RFC 5737 test address
		Port:     445,
		Share:    "share",
		Username: "user",
		Password: "pass",
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately
	err := c.Connect(ctx)
	assert.Error(t, err)
	assert.False(t, c.IsConnected())
}

func TestIsNotExistError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"os sentinel", &os.PathError{Op: "open", Path: "x", Err: os.ErrNotExist}, true},
		{"file does not exist", fmt.Errorf("file does not exist"), true},
		{"no such file or directory", fmt.Errorf("no such file or directory"), true},
		{"nt status", fmt.Errorf("response error: STATUS_OBJECT_NAME_NOT_FOUND"), true},
		{"other error", fmt.Errorf("permission denied"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isNotExistError(tt.err))
		})
	}
}

func TestWrapErr(t *testing.T) {
	err := wrapErr("open", "a.txt", &os.PathError{Op: "open", Path: "a.txt", Err: os.ErrNotExist})
	assert.ErrorIs(t, err, client.ErrNotExist)

	err = wrapErr("open", "a.txt", fmt.Errorf("access denied"))
	assert.NotErrorIs(t, err, client.ErrNotExist)
	assert.Equal(t, "failed to open SMB path a.txt: access denied", err.Error())
}

type stubInfo struct{ name string }

func (s stubInfo) Name() string       { return s.name }
func (s stubInfo) Size() int64        { return 7 }
func (s stubInfo) Mode() os.FileMode  { return 0o644 }
func (s stubInfo) ModTime() time.Time { return time.Unix(10, 0) }
func (s stubInfo) IsDir() bool        { return false }
func (s stubInfo) Sys() any           { return nil }

func TestFileInfo(t *testing.T) {
	fi := fileInfo(stubInfo{name: "b.txt"}, "a/b.txt")
	assert.Equal(t, "b.txt", fi.Name)
	assert.Equal(t, int64(7), fi.Size)
	assert.Equal(t, "a/b.txt", fi.Path)
	assert.Equal(t, time.Unix(10, 0), fi.ModTime)
}
