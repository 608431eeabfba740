package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestEntry_ReplicaCount(t *testing.T) {
	assert.Equal(t, "", DirEntry("d", "alice").ReplicaCount())
	f := FileEntry("f", "alice", 12, testTime)
	assert.Equal(t, "1", f.ReplicaCount())
	assert.Equal(t, "12", f.Size)
}

func TestSlashPaths_NormPath(t *testing.T) {
	p := SlashPaths{}
	cases := map[string]string{
		"":             ".",
		"/":            "/",
		"a/b/../c":     "a/c",
		"a/c":          "a/c",
		"/zone//home/": "/zone/home",
		"/../../a":     "/a",
		"../../a/b":    "a/b",
		"./a/./b":      "a/b",
		"a/..":         ".",
		"/a/b/..":      "/a",
	}
	for in, want := range cases {
		assert.Equal(t, want, p.NormPath(in), "NormPath(%q)", in)
	}
}

func TestSlashPaths_NormPathIdempotent(t *testing.T) {
	p := SlashPaths{}
	for _, in := range []string{"", "/", "a/b/../c", "../x", "/..", "//a//b/./c/..", "a/../../b"} {
		once := p.NormPath(in)
		assert.Equal(t, once, p.NormPath(once), "input %q", in)
	}
	assert.Equal(t, p.NormPath("a/c"), p.NormPath("a/b/../c"))
}

func TestSlashPaths_Split(t *testing.T) {
	p := SlashPaths{}
	dir, name := p.SplitName("/zone/home/f.txt")
	assert.Equal(t, "/zone/home", dir)
	assert.Equal(t, "f.txt", name)

	dir, name = p.SplitName("/f.txt")
	assert.Equal(t, "/", dir)
	assert.Equal(t, "f.txt", name)

	assert.Equal(t, "home", p.Base("/zone/home/"))
	assert.Equal(t, "/zone", p.Dir("/zone/home"))
	assert.Equal(t, "/zone/home/f", p.Join("/zone", "home", "f"))
	assert.Equal(t, "/a", p.Join("/", "a"))
}

func TestError_KindsAndUnwrap(t *testing.T) {
	native := errors.New("CAT_UNKNOWN_COLLECTION")
	err := NewError(KindNotFound, "lstat", "/a", native)

	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, native)
	assert.NotErrorIs(t, err, ErrLogic)
	assert.Equal(t, KindNotFound, KindOf(fmt.Errorf("wrapped: %w", err)))
	assert.Contains(t, err.Error(), "FileNotFoundError: lstat /a")
}

func TestError_ChecksumIsLogic(t *testing.T) {
	err := NewError(KindChecksum, "download", "/a", nil)
	assert.ErrorIs(t, err, ErrChecksum)
	assert.ErrorIs(t, err, ErrLogic)
	assert.Zero(t, KindOf(errors.New("plain")))
}

func TestMeter_ChunksEndAtTotal(t *testing.T) {
	chunks := []int64{5, 17, 3, 1024, 1}
	var total int64
	for _, c := range chunks {
		total += c
	}

	var pairs [][2]int64
	m := NewMeter(total, func(done, tot int64) { pairs = append(pairs, [2]int64{done, tot}) })
	m.Begin(2)
	for _, c := range chunks {
		m.Add(c)
	}
	m.Finish()

	require.NotEmpty(t, pairs)
	assert.Equal(t, [2]int64{0, total}, pairs[0])
	assert.Equal(t, [2]int64{total, total}, pairs[len(pairs)-1])
	// Finish does not repeat a pair that already reached the total
	assert.Len(t, pairs, len(chunks)+1)
}

func TestMeter_BeginSkippedForSmallSingleItem(t *testing.T) {
	var pairs [][2]int64
	m := NewMeter(10, func(done, tot int64) { pairs = append(pairs, [2]int64{done, tot}) })
	m.Begin(1)
	assert.Empty(t, pairs)

	m.Finish()
	assert.Equal(t, [][2]int64{{10, 10}}, pairs)
}

func TestCopyChunks(t *testing.T) {
	src := strings.Repeat("x", 10)
	var dst bytes.Buffer
	var chunks []int

	n, err := CopyChunks(context.Background(), &dst, strings.NewReader(src), make([]byte, 4), func(c int) {
		chunks = append(chunks, c)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)
	assert.Equal(t, src, dst.String())
	assert.Equal(t, []int{4, 4, 2}, chunks)
}

func TestCopyChunks_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var dst bytes.Buffer
	_, err := CopyChunks(ctx, &dst, strings.NewReader("abcdefgh"), make([]byte, 2), func(int) { cancel() })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "ab", dst.String())
}

func TestProperties_Groups(t *testing.T) {
	var added map[string]string
	perms := &Group{
		Name:    "Permissions",
		Records: []Record{{ID: "alice", Values: map[string]string{"level": "own"}}},
		AddFunc: func(_ context.Context, v map[string]string) error {
			added = v
			return nil
		},
	}
	replicas := &Group{Name: "Replicas"}
	props := NewProperties(replicas, perms)

	assert.Equal(t, []string{"Replicas", "Permissions"}, props.Names())
	assert.Same(t, perms, props.Group("Permissions"))
	assert.Nil(t, props.Group("Nope"))
	assert.Equal(t, 2, props.Len())

	require.NoError(t, perms.Add(context.Background(), map[string]string{"user": "bob"}))
	assert.Equal(t, "bob", added["user"])

	r, ok := perms.Record("alice")
	assert.True(t, ok)
	assert.Equal(t, "own", r.Values["level"])

	err := replicas.Remove(context.Background(), "0")
	assert.ErrorIs(t, err, ErrLogic)
	assert.ErrorIs(t, replicas.Edit(context.Background(), "0", nil), ErrLogic)
}
