package remote

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"digital.vasic.brocoli/pkg/catalog"
	"digital.vasic.brocoli/pkg/client"
	"digital.vasic.brocoli/pkg/status"
)

type recorder struct {
	pairs [][2]int64
}

func (r *recorder) progress(done, total int64) {
	r.pairs = append(r.pairs, [2]int64{done, total})
}

func (r *recorder) last() [2]int64 {
	if len(r.pairs) == 0 {
		return [2]int64{-1, -1}
	}
	return r.pairs[len(r.pairs)-1]
}

func (r *recorder) monotonic(t *testing.T) {
	t.Helper()
	for i := 1; i < len(r.pairs); i++ {
		assert.GreaterOrEqual(t, r.pairs[i][0], r.pairs[i-1][0], "pair %d", i)
	}
}

func newTestCatalog(t *testing.T) (*Catalog, *memClient) {
	t.Helper()
	m := newMemClient()
	c, err := Open(context.Background(), m, Options{ChunkSize: 256})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, m
}

func writeLocal(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func TestCatalog_Kind(t *testing.T) {
	c, m := newTestCatalog(t)
	assert.Equal(t, catalog.KindFTP, c.Kind())
	assert.Same(t, m, c.Client())
	assert.True(t, m.IsConnected())
}

func TestCatalog_Close(t *testing.T) {
	c, m := newTestCatalog(t)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.False(t, m.IsConnected())

	_, err := c.Lstat(context.Background(), "/")
	assert.ErrorIs(t, err, catalog.ErrConnection)
}

func TestCatalog_NotConnected(t *testing.T) {
	c := New(newMemClient(), Options{})
	_, err := c.ListDir(context.Background(), "/")
	assert.ErrorIs(t, err, catalog.ErrConnection)
}

func TestCatalog_Lstat(t *testing.T) {
	c, m := newTestCatalog(t)
	m.addFile("docs/a.txt", "hello")
	ctx := context.Background()

	e, err := c.Lstat(ctx, "/docs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "a.txt", e.Name)
	assert.Equal(t, "5", e.Size)
	assert.Equal(t, 1, e.Replicas)
	assert.False(t, e.IsDir)

	e, err = c.Lstat(ctx, "docs/../docs")
	require.NoError(t, err)
	assert.True(t, e.IsDir)
	assert.Equal(t, "", e.Size)
	assert.Equal(t, "", e.ReplicaCount())

	e, err = c.Lstat(ctx, "/")
	require.NoError(t, err)
	assert.True(t, e.IsDir)

	_, err = c.Lstat(ctx, "/missing")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestCatalog_ListDir(t *testing.T) {
	c, m := newTestCatalog(t)
	m.addFile("a.txt", "1")
	m.addFile("sub/b.txt", "22")

	entries, err := c.ListDir(context.Background(), "/")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.False(t, entries["a.txt"].IsDir)
	assert.True(t, entries["sub"].IsDir)

	isDir, err := c.IsDir(context.Background(), "sub")
	require.NoError(t, err)
	assert.True(t, isDir)
	isDir, err = c.IsDir(context.Background(), "a.txt")
	require.NoError(t, err)
	assert.False(t, isDir)

	_, err = c.ListDir(context.Background(), "nope")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestCatalog_DownloadFiles_Progress(t *testing.T) {
	c, m := newTestCatalog(t)
	m.addFile("f1", strings.Repeat("a", 1000))
	m.addFile("f2", strings.Repeat("b", 3000))
	dest := t.TempDir()

	var rec recorder
	statuses := status.NewList()
	err := c.DownloadFiles(context.Background(), []string{"/f1", "/f2"}, dest, statuses, rec.progress)
	require.NoError(t, err)

	assert.Equal(t, [2]int64{0, 4000}, rec.pairs[0])
	assert.Equal(t, [2]int64{4000, 4000}, rec.last())
	rec.monotonic(t)
	// 256-byte chunks
	assert.Greater(t, len(rec.pairs), 10)

	assert.Equal(t, 2, statuses.Count(status.StateDone))
	data, err := os.ReadFile(filepath.Join(dest, "f2"))
	require.NoError(t, err)
	assert.Len(t, data, 3000)
}

func TestCatalog_DownloadFiles_Errors(t *testing.T) {
	c, m := newTestCatalog(t)
	m.addFile("f", "x")
	m.addDir("d")
	ctx := context.Background()

	err := c.DownloadFiles(ctx, []string{"missing"}, t.TempDir(), nil, nil)
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	err = c.DownloadFiles(ctx, []string{"d"}, t.TempDir(), nil, nil)
	assert.ErrorIs(t, err, catalog.ErrLogic)

	m.failRead["f"] = &net.OpError{Op: "read", Err: errors.New("connection reset")}
	statuses := status.NewList()
	err = c.DownloadFiles(ctx, []string{"f"}, t.TempDir(), statuses, nil)
	assert.ErrorIs(t, err, catalog.ErrNetwork)
	assert.Equal(t, status.StateFailed, statuses.Get("f").State())
}

func TestCatalog_DownloadFiles_Cancelled(t *testing.T) {
	c, m := newTestCatalog(t)
	m.addFile("f1", strings.Repeat("a", 1000))
	m.addFile("f2", strings.Repeat("b", 1000))
	m.addFile("f3", strings.Repeat("c", 1000))
	dest := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	statuses := status.NewList()
	err := c.DownloadFiles(ctx, []string{"f1", "f2", "f3"}, dest, statuses, func(done, total int64) {
		if done > 1200 {
			cancel()
		}
	})
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, status.StateDone, statuses.Get("f1").State())
	assert.Equal(t, status.StateInterrupted, statuses.Get("f2").State())
	assert.Equal(t, status.StateInterrupted, statuses.Get("f3").State())
	assert.FileExists(t, filepath.Join(dest, "f1"))
	assert.NoFileExists(t, filepath.Join(dest, "f2"))
	assert.NoFileExists(t, filepath.Join(dest, "f3"))
}

func TestCatalog_DownloadDirectories(t *testing.T) {
	c, m := newTestCatalog(t)
	m.addFile("tree/a.txt", "aaa")
	m.addFile("tree/sub/b.txt", "bbbb")
	m.addDir("tree/empty")
	dest := t.TempDir()

	var rec recorder
	err := c.DownloadDirectories(context.Background(), []string{"/tree"}, dest, nil, rec.progress)
	require.NoError(t, err)
	assert.Equal(t, [2]int64{7, 7}, rec.last())

	data, err := os.ReadFile(filepath.Join(dest, "tree", "sub", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "bbbb", string(data))
	assert.DirExists(t, filepath.Join(dest, "tree", "empty"))

	err = c.DownloadDirectories(context.Background(), []string{"/tree/a.txt"}, dest, nil, nil)
	assert.ErrorIs(t, err, catalog.ErrLogic)
}

func TestCatalog_UploadFiles(t *testing.T) {
	c, m := newTestCatalog(t)
	m.addDir("in")
	m.addFile("in/old.txt", "stale content")
	src := t.TempDir()
	a := writeLocal(t, src, "a.txt", "new file")
	old := writeLocal(t, src, "old.txt", "fresh")

	var rec recorder
	statuses := status.NewList()
	err := c.UploadFiles(context.Background(), []string{a, old}, "/in", statuses, rec.progress)
	require.NoError(t, err)

	assert.Equal(t, [2]int64{13, 13}, rec.last())
	rec.monotonic(t)
	assert.Equal(t, "new file", string(m.files["in/a.txt"]))
	assert.Equal(t, "fresh", string(m.files["in/old.txt"]))
	assert.Equal(t, 2, statuses.Count(status.StateDone))
}

func TestCatalog_UploadFiles_Errors(t *testing.T) {
	c, m := newTestCatalog(t)
	m.addFile("file", "x")
	src := t.TempDir()
	a := writeLocal(t, src, "a.txt", "a")
	ctx := context.Background()

	err := c.UploadFiles(ctx, []string{a}, "/missing", nil, nil)
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	err = c.UploadFiles(ctx, []string{a}, "/file", nil, nil)
	assert.ErrorIs(t, err, catalog.ErrLogic)

	err = c.UploadFiles(ctx, []string{filepath.Join(src, "nope")}, "/", nil, nil)
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	err = c.UploadFiles(ctx, []string{src}, "/", nil, nil)
	assert.ErrorIs(t, err, catalog.ErrLogic)

	m.failWrite["a.txt"] = errors.New("553 could not create file")
	statuses := status.NewList()
	err = c.UploadFiles(ctx, []string{a}, "/", statuses, nil)
	assert.ErrorIs(t, err, catalog.ErrLogic)
	assert.Equal(t, status.StateFailed, statuses.Get(a).State())
}

func TestCatalog_UploadFiles_CancelRemovesPartial(t *testing.T) {
	c, m := newTestCatalog(t)
	m.addFile("keep.txt", "previous")
	src := t.TempDir()
	f1 := writeLocal(t, src, "one.txt", "0123456789")
	f2 := writeLocal(t, src, "two.txt", "0123456789")
	f3 := writeLocal(t, src, "keep.txt", "0123456789")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	statuses := status.NewList()
	err := c.UploadFiles(ctx, []string{f1, f2, f3}, "/", statuses, func(done, total int64) {
		if done > 12 {
			cancel()
		}
	})
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, status.StateDone, statuses.Get(f1).State())
	assert.Equal(t, status.StateInterrupted, statuses.Get(f2).State())
	assert.Equal(t, status.StateInterrupted, statuses.Get(f3).State())

	assert.Contains(t, m.files, "one.txt")
	assert.NotContains(t, m.files, "two.txt")
	assert.Equal(t, []string{"two.txt"}, m.deleted)
	assert.Equal(t, "previous", string(m.files["keep.txt"]))
}

func TestCatalog_UploadDirectories_IntoExisting(t *testing.T) {
	c, m := newTestCatalog(t)
	m.addFile("dest/tree/a.txt", "old")
	m.addFile("dest/tree/other.txt", "untouched")
	src := t.TempDir()
	writeLocal(t, src, "tree/a.txt", "new")
	writeLocal(t, src, "tree/sub/b.txt", "bb")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "tree", "empty"), 0755))

	var rec recorder
	err := c.UploadDirectories(context.Background(), []string{filepath.Join(src, "tree")}, "/dest", nil, rec.progress)
	require.NoError(t, err)

	assert.Equal(t, [2]int64{5, 5}, rec.last())
	assert.Equal(t, "new", string(m.files["dest/tree/a.txt"]))
	assert.Equal(t, "bb", string(m.files["dest/tree/sub/b.txt"]))
	assert.Equal(t, "untouched", string(m.files["dest/tree/other.txt"]))
	assert.True(t, m.dirs["dest/tree/empty"])
}

func TestCatalog_UploadDirectories_FileInTheWay(t *testing.T) {
	c, m := newTestCatalog(t)
	m.addFile("tree", "not a dir")
	src := t.TempDir()
	writeLocal(t, src, "tree/a.txt", "a")

	statuses := status.NewList()
	err := c.UploadDirectories(context.Background(), []string{filepath.Join(src, "tree")}, "/", statuses, nil)
	assert.ErrorIs(t, err, catalog.ErrLogic)
	assert.Equal(t, status.StateFailed, statuses.Get(filepath.Join(src, "tree")).State())
}

func TestCatalog_DeleteFiles(t *testing.T) {
	c, m := newTestCatalog(t)
	m.addFile("a", "1")
	m.addFile("b", "2")

	var rec recorder
	err := c.DeleteFiles(context.Background(), []string{"/a", "/b"}, nil, rec.progress)
	require.NoError(t, err)
	assert.Equal(t, [][2]int64{{0, 2}, {1, 2}, {2, 2}}, rec.pairs)
	assert.Empty(t, m.files)

	err = c.DeleteFiles(context.Background(), []string{"/a"}, nil, nil)
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestCatalog_DeleteDirectories(t *testing.T) {
	c, m := newTestCatalog(t)
	m.addFile("d/a", "1")
	m.addFile("d/s/b", "2")
	m.addFile("keep", "3")

	var rec recorder
	err := c.DeleteDirectories(context.Background(), []string{"/d"}, nil, rec.progress)
	require.NoError(t, err)

	assert.Equal(t, [2]int64{4, 4}, rec.last())
	assert.Equal(t, []string{"d/a", "d/s/b", "d/s/", "d/"}, m.deleted)
	assert.False(t, m.dirs["d"])
	assert.Contains(t, m.files, "keep")

	err = c.DeleteDirectories(context.Background(), []string{"/"}, nil, nil)
	assert.ErrorIs(t, err, catalog.ErrLogic)
}

func TestCatalog_Mkdir(t *testing.T) {
	c, m := newTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, c.Mkdir(ctx, "/new"))
	assert.True(t, m.dirs["new"])

	assert.ErrorIs(t, c.Mkdir(ctx, "/new"), catalog.ErrLogic)
	assert.ErrorIs(t, c.Mkdir(ctx, "/a/b"), catalog.ErrNotFound)
}

func TestCatalog_FileProperties(t *testing.T) {
	c, m := newTestCatalog(t)
	m.addFile("f", "x")

	props, err := c.FileProperties(context.Background(), "/f")
	require.NoError(t, err)
	require.Equal(t, []string{GroupTransport}, props.Names())

	g := props.Group(GroupTransport)
	rec, ok := g.Record("protocol")
	require.True(t, ok)
	assert.Equal(t, "ftp", rec.Values["value"])
	rec, ok = g.Record("modified")
	require.True(t, ok)
	assert.Equal(t, "2024-05-06 07:08:09", rec.Values["value"])
	assert.ErrorIs(t, g.Add(context.Background(), nil), catalog.ErrLogic)

	_, err = c.DirectoryProperties(context.Background(), "/nope")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestTranslate(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want error
	}{
		{client.ErrNotConnected, catalog.ErrConnection},
		{client.NotExist("get", "p", nil), catalog.ErrNotFound},
		{os.ErrNotExist, catalog.ErrNotFound},
		{&net.OpError{Op: "dial", Err: errors.New("refused")}, catalog.ErrNetwork},
		{errors.New("550 permission denied"), catalog.ErrLogic},
	} {
		assert.ErrorIs(t, translate("op", "p", tc.err), tc.want, tc.err.Error())
	}

	assert.Equal(t, context.Canceled, translate("op", "p", context.Canceled))
	assert.NoError(t, translate("op", "p", nil))

	ce := catalog.Logicf("op", "p", "boom")
	assert.Same(t, ce, translate("other", "q", ce))
}

func TestCatalog_DuplicatePaths(t *testing.T) {
	c, m := newTestCatalog(t)
	m.addFile("a", "12345")

	var rec recorder
	statuses := status.NewList()
	require.NoError(t, c.DownloadFiles(context.Background(), []string{"/a", "/a"}, t.TempDir(), statuses, rec.progress))
	assert.Equal(t, 1, statuses.Len())
	assert.Equal(t, [2]int64{5, 5}, rec.last())

	err := c.DownloadFiles(context.Background(), []string{"/a"}, t.TempDir(), statuses, nil)
	assert.ErrorIs(t, err, catalog.ErrLogic)
	assert.ErrorIs(t, err, status.ErrTerminal)
}
