package webdav

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"digital.vasic.brocoli/pkg/client"
)

// Verify WebDAV Client implements client.Client interface.
var _ client.Client = (*Client)(nil)

func newClient(t *testing.T, config *Config) *Client {
	t.Helper()
	c, err := NewWebDAVClient(config, zerolog.Nop())
	require.NoError(t, err)
	return c
}

// connected returns a client marked connected against ts.
func connected(t *testing.T, ts *httptest.Server, base string) *Client {
	t.Helper()
	c := newClient(t, &Config{URL: ts.URL + base})
	c.connected = true
	return c
}

func TestNewWebDAVClient(t *testing.T) {
	config := &Config{
		URL:      "http://localhost/webdav",
		Username: "user",
		Password: "pass",
		Path:     "/files",
	}
	c := newClient(t, config)
	assert.Equal(t, config, c.config)
	assert.NotNil(t, c.http)
	assert.NotNil(t, c.raw)
	assert.Equal(t, "/files", c.baseURL.Path)
	assert.False(t, c.connected)
}

func TestNewWebDAVClient_Path(t *testing.T) {
	for _, tc := range []struct {
		url, path, want string
	}{
		{"http://localhost", "/dav", "/dav"},
		{"http://localhost/webdav", "", "/webdav"},
		{"http://localhost/webdav", "/", "/webdav"},
		{"http://localhost", "dav/", "/dav"},
	} {
		c := newClient(t, &Config{URL: tc.url, Path: tc.path})
		assert.Equal(t, tc.want, c.baseURL.Path, "url=%q path=%q", tc.url, tc.path)
	}
}

func TestNewWebDAVClient_InvalidURL(t *testing.T) {
	_, err := NewWebDAVClient(&Config{URL: "ftp://host/x"}, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewWebDAVClient(&Config{URL: "://bad"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestWebDAVClient_GetProtocol(t *testing.T) {
	c := newClient(t, &Config{URL: "http://localhost"})
	assert.Equal(t, "webdav", c.GetProtocol())
}

func TestWebDAVClient_ResolveURL(t *testing.T) {
	c := newClient(t, &Config{URL: "http://localhost/webdav"})
	assert.Equal(t, "http://localhost/webdav/dir/file.txt", c.resolveURL("dir/file.txt", false))
	assert.Equal(t, "http://localhost/webdav/dir/", c.resolveURL("dir", true))
	assert.Equal(t, "http://localhost/webdav/", c.resolveURL("", true))
	assert.Equal(t, "http://localhost/webdav/etc/passwd", c.resolveURL("../../etc/passwd", false))
	assert.Equal(t, "http://localhost/webdav/my%20file.txt", c.resolveURL("my file.txt", false))
}

func TestWebDAVClient_NotConnected(t *testing.T) {
	c := newClient(t, &Config{URL: "http://localhost"})
	ctx := context.Background()

	assert.ErrorIs(t, c.TestConnection(ctx), client.ErrNotConnected)
	_, err := c.ReadFile(ctx, "a")
	assert.ErrorIs(t, err, client.ErrNotConnected)
	assert.ErrorIs(t, c.WriteFile(ctx, "a", strings.NewReader("x")), client.ErrNotConnected)
	_, err = c.GetFileInfo(ctx, "a")
	assert.ErrorIs(t, err, client.ErrNotConnected)
	_, err = c.ListDirectory(ctx, "")
	assert.ErrorIs(t, err, client.ErrNotConnected)
	_, err = c.FileExists(ctx, "a")
	assert.ErrorIs(t, err, client.ErrNotConnected)
	assert.ErrorIs(t, c.CreateDirectory(ctx, "d"), client.ErrNotConnected)
	assert.ErrorIs(t, c.DeleteDirectory(ctx, "d"), client.ErrNotConnected)
	assert.ErrorIs(t, c.DeleteFile(ctx, "a"), client.ErrNotConnected)
}

func TestWebDAVClient_Connect_Success(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "PROPFIND" {
			assert.Equal(t, "0", r.Header.Get("Depth"))
			w.WriteHeader(http.StatusMultiStatus)
			return
		}
		w.WriteHeader(http.StatusMethodNotAllowed)
	}))
	defer ts.Close()

	c := newClient(t, &Config{URL: ts.URL})
	require.NoError(t, c.Connect(context.Background()))
	assert.True(t, c.IsConnected())
	require.NoError(t, c.TestConnection(context.Background()))

	require.NoError(t, c.Disconnect(context.Background()))
	assert.False(t, c.IsConnected())
}

func TestWebDAVClient_Connect_WithAuth(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusMultiStatus)
	}))
	defer ts.Close()

	c := newClient(t, &Config{URL: ts.URL, Username: "admin", Password: "secret"})
	require.NoError(t, c.Connect(context.Background()))

	bad := newClient(t, &Config{URL: ts.URL, Username: "admin", Password: "wrong"})
	err := bad.Connect(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.False(t, bad.IsConnected())
}

func TestWebDAVClient_Connect_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusMultiStatus)
	}))
	defer ts.Close()

	c := newClient(t, &Config{URL: ts.URL, Retries: 3})
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestWebDAVClient_Connect_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	c := newClient(t, &Config{URL: ts.URL})
	err := c.Connect(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestWebDAVClient_ReadFile(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/dav/file.txt":
			fmt.Fprint(w, "file content")
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()
	c := connected(t, ts, "/dav")

	rc, err := c.ReadFile(context.Background(), "file.txt")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "file content", string(data))

	_, err = c.ReadFile(context.Background(), "missing.txt")
	assert.ErrorIs(t, err, client.ErrNotExist)
}

func TestWebDAVClient_WriteFile(t *testing.T) {
	var got string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		if r.URL.Path == "/dav/nodir/a.txt" {
			w.WriteHeader(http.StatusConflict)
			return
		}
		body, _ := io.ReadAll(r.Body)
		got = string(body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer ts.Close()
	c := connected(t, ts, "/dav")

	require.NoError(t, c.WriteFile(context.Background(), "a.txt", strings.NewReader("payload")))
	assert.Equal(t, "payload", got)

	err := c.WriteFile(context.Background(), "nodir/a.txt", strings.NewReader("x"))
	assert.ErrorIs(t, err, client.ErrNotExist)
}

const listing = `<?xml version="1.0" encoding="utf-8"?>
<D:multistatus xmlns:D="DAV:">
<D:response>
<D:href>/dav/dir/</D:href>
<D:propstat><D:prop><D:displayname>dir</D:displayname><D:resourcetype><D:collection/></D:resourcetype></D:prop><D:status>HTTP/1.1 200 OK</D:status></D:propstat>
</D:response>
<D:response>
<D:href>http://example.com/dav/dir/file%201.txt</D:href>
<D:propstat><D:prop><D:getcontentlength>512</D:getcontentlength><D:getlastmodified>Mon, 02 Jan 2006 15:04:05 GMT</D:getlastmodified><D:resourcetype/></D:prop><D:status>HTTP/1.1 200 OK</D:status></D:propstat>
<D:propstat><D:prop><D:displayname/></D:prop><D:status>HTTP/1.1 404 Not Found</D:status></D:propstat>
</D:response>
<D:response>
<D:href>/dav/dir/subdir/</D:href>
<D:propstat><D:prop><D:resourcetype><D:collection/></D:resourcetype></D:prop></D:propstat>
</D:response>
</D:multistatus>`

func TestWebDAVClient_ListDirectory(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "PROPFIND", r.Method)
		assert.Equal(t, "1", r.Header.Get("Depth"))
		if r.URL.Path != "/dav/dir/" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusMultiStatus)
		fmt.Fprint(w, listing)
	}))
	defer ts.Close()
	c := connected(t, ts, "/dav")

	files, err := c.ListDirectory(context.Background(), "dir")
	require.NoError(t, err)
	require.Len(t, files, 2)

	assert.Equal(t, "file 1.txt", files[0].Name)
	assert.Equal(t, "dir/file 1.txt", files[0].Path)
	assert.Equal(t, int64(512), files[0].Size)
	assert.Equal(t, time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC), files[0].ModTime.UTC())
	assert.False(t, files[0].IsDir)

	assert.Equal(t, "subdir", files[1].Name)
	assert.True(t, files[1].IsDir)
	assert.True(t, files[1].Mode.IsDir())

	_, err = c.ListDirectory(context.Background(), "other")
	assert.ErrorIs(t, err, client.ErrNotExist)
}

func TestWebDAVClient_GetFileInfo(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "PROPFIND", r.Method)
		assert.Equal(t, "0", r.Header.Get("Depth"))
		switch r.URL.Path {
		case "/dav/file.txt":
			w.WriteHeader(http.StatusMultiStatus)
			fmt.Fprint(w, `<D:multistatus xmlns:D="DAV:"><D:response><D:href>/dav/file.txt</D:href>
<D:propstat><D:prop><D:getcontentlength>1234</D:getcontentlength><D:resourcetype/></D:prop><D:status>HTTP/1.1 200 OK</D:status></D:propstat>
</D:response></D:multistatus>`)
		case "/dav/dir":
			w.WriteHeader(http.StatusMultiStatus)
			fmt.Fprint(w, `<D:multistatus xmlns:D="DAV:"><D:response><D:href>/dav/dir/</D:href>
<D:propstat><D:prop><D:resourcetype><D:collection/></D:resourcetype></D:prop><D:status>HTTP/1.1 200 OK</D:status></D:propstat>
</D:response></D:multistatus>`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()
	c := connected(t, ts, "/dav")
	ctx := context.Background()

	info, err := c.GetFileInfo(ctx, "file.txt")
	require.NoError(t, err)
	assert.Equal(t, "file.txt", info.Name)
	assert.Equal(t, int64(1234), info.Size)
	assert.False(t, info.IsDir)

	info, err = c.GetFileInfo(ctx, "dir")
	require.NoError(t, err)
	assert.Equal(t, "dir", info.Name)
	assert.True(t, info.IsDir)

	_, err = c.GetFileInfo(ctx, "missing")
	assert.ErrorIs(t, err, client.ErrNotExist)

	exists, err := c.FileExists(ctx, "file.txt")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = c.FileExists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestWebDAVClient_GetFileInfo_BadXML(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMultiStatus)
		fmt.Fprint(w, "<D:multistatus")
	}))
	defer ts.Close()
	c := connected(t, ts, "")

	_, err := c.GetFileInfo(context.Background(), "x")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, client.ErrNotExist)
}

func TestWebDAVClient_CreateDirectory(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "MKCOL", r.Method)
		switch r.URL.Path {
		case "/new/":
			w.WriteHeader(http.StatusCreated)
		case "/old/":
			w.WriteHeader(http.StatusMethodNotAllowed)
		default:
			w.WriteHeader(http.StatusConflict)
		}
	}))
	defer ts.Close()
	c := connected(t, ts, "")
	ctx := context.Background()

	require.NoError(t, c.CreateDirectory(ctx, "new"))

	err := c.CreateDirectory(ctx, "old")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	err = c.CreateDirectory(ctx, "a/b")
	assert.ErrorIs(t, err, client.ErrNotExist)
}

func TestWebDAVClient_Delete(t *testing.T) {
	var paths []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		if strings.Contains(r.URL.Path, "missing") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()
	c := connected(t, ts, "")
	ctx := context.Background()

	require.NoError(t, c.DeleteFile(ctx, "a.txt"))
	require.NoError(t, c.DeleteDirectory(ctx, "dir"))
	assert.Equal(t, []string{"/a.txt", "/dir/"}, paths)

	assert.ErrorIs(t, c.DeleteFile(ctx, "missing"), client.ErrNotExist)
}

func TestParseMultistatus(t *testing.T) {
	entries, err := parseMultistatus(strings.NewReader(listing))
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "/dav/dir/", entries[0].path)
	assert.True(t, entries[0].isDir)
	assert.Equal(t, "/dav/dir/file 1.txt", entries[1].path)
	assert.Equal(t, int64(512), entries[1].size)
}
