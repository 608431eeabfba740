package grid

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"digital.vasic.brocoli/pkg/catalog"
	"digital.vasic.brocoli/pkg/checksum"
)

var fakeTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeObject struct {
	data     []byte
	checksum string
	replicas []Replica
}

// fakeSession is an in-memory Session.
type fakeSession struct {
	mu sync.Mutex

	colls map[string]*Collection
	objs  map[string]*fakeObject
	perms map[string]map[string]string
	meta  map[string][]AVU

	authFailed    bool
	corruptWrites bool
	closed        int
	unlinked      []string
}

func newFakeSession() *fakeSession {
	s := &fakeSession{
		colls: make(map[string]*Collection),
		objs:  make(map[string]*fakeObject),
		perms: make(map[string]map[string]string),
		meta:  make(map[string][]AVU),
	}
	for _, p := range []string{"/", "/zone", "/zone/home", "/zone/home/alice"} {
		s.colls[p] = &Collection{Path: p, Owner: "alice", ModTime: fakeTime}
	}
	return s
}

var slash catalog.SlashPaths

func (s *fakeSession) addColl(path string) {
	s.colls[path] = &Collection{Path: path, Owner: "alice", ModTime: fakeTime}
}

func (s *fakeSession) addObject(path string, data []byte, extraSizes ...int64) {
	sum := checksum.New(checksum.MD5)
	sum.Write(data)
	o := &fakeObject{data: data, checksum: checksum.Format(checksum.MD5, sum.Sum(nil))}
	o.replicas = append(o.replicas, Replica{Number: 0, Resource: "demoResc", Status: "good", Checksum: o.checksum,
		Path: "/vault" + path, Size: int64(len(data)), Owner: "alice", ModTime: fakeTime})
	for i, size := range extraSizes {
		o.replicas = append(o.replicas, Replica{Number: i + 1, Resource: "archive", Status: "good",
			Path: "/archive" + path, Size: size, Owner: "alice", ModTime: fakeTime})
	}
	s.objs[path] = o
}

func (s *fakeSession) guard() error {
	if s.authFailed {
		return NewError(CodeInvalidAuthentication, "")
	}
	return nil
}

func (s *fakeSession) User() string { return "alice" }
func (s *fakeSession) Zone() string { return "zone" }

func (s *fakeSession) Collection(_ context.Context, path string) (*Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return nil, err
	}
	if c, ok := s.colls[path]; ok {
		return c, nil
	}
	return nil, NewError(CodeUnknownCollection, path)
}

func (s *fakeSession) Subcollections(_ context.Context, path string) ([]*Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return nil, err
	}
	if _, ok := s.colls[path]; !ok {
		return nil, NewError(CodeUnknownCollection, path)
	}
	var out []*Collection
	for p, c := range s.colls {
		if p != path && slash.Dir(p) == path {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (s *fakeSession) DataObjects(_ context.Context, path string) ([]*DataObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return nil, err
	}
	if _, ok := s.colls[path]; !ok {
		return nil, NewError(CodeUnknownCollection, path)
	}
	var out []*DataObject
	for p, o := range s.objs {
		if slash.Dir(p) == path {
			out = append(out, &DataObject{Path: p, Replicas: o.replicas})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (s *fakeSession) Replicas(_ context.Context, path string) ([]Replica, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return nil, err
	}
	if o, ok := s.objs[path]; ok {
		return o.replicas, nil
	}
	return nil, nil
}

func (s *fakeSession) TreeStats(_ context.Context, path string) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.colls[path]; !ok {
		return Stats{}, NewError(CodeUnknownCollection, path)
	}
	var st Stats
	prefix := path + "/"
	for p := range s.colls {
		if p == path || strings.HasPrefix(p, prefix) {
			st.Collections++
		}
	}
	for p, o := range s.objs {
		if strings.HasPrefix(p, prefix) {
			st.Objects++
			st.Size += int64(len(o.data))
		}
	}
	return st, nil
}

func (s *fakeSession) CreateCollection(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.colls[path]; ok {
		return NewError(CodeAlreadyExists, path)
	}
	if _, ok := s.colls[slash.Dir(path)]; !ok {
		return NewError(CodeUnknownCollection, slash.Dir(path))
	}
	s.addColl(path)
	return nil
}

func (s *fakeSession) RemoveCollection(ctx context.Context, path string, tick func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.colls[path]; !ok {
		return NewError(CodeUnknownCollection, path)
	}
	prefix := path + "/"
	for p := range s.objs {
		if strings.HasPrefix(p, prefix) {
			if err := ctx.Err(); err != nil {
				return err
			}
			delete(s.objs, p)
			tick()
		}
	}
	for p := range s.colls {
		if p == path || strings.HasPrefix(p, prefix) {
			delete(s.colls, p)
			tick()
		}
	}
	return nil
}

func (s *fakeSession) Unlink(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objs[path]; !ok {
		return NewError(CodeNoSuchObject, path)
	}
	delete(s.objs, path)
	s.unlinked = append(s.unlinked, path)
	return nil
}

func (s *fakeSession) Open(_ context.Context, path string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objs[path]
	if !ok {
		return nil, NewError(CodeNoSuchObject, path)
	}
	return io.NopCloser(bytes.NewReader(o.data)), nil
}

type fakeWriter struct {
	s        *fakeSession
	path     string
	expected string
	buf      bytes.Buffer
}

func (w *fakeWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *fakeWriter) Close() error {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	data := w.buf.Bytes()
	if w.s.corruptWrites && len(data) > 0 {
		data[0] ^= 0xff
	}
	alg := checksum.MD5
	if w.expected != "" {
		alg = checksum.Detect(w.expected)
	}
	h := checksum.New(alg)
	h.Write(data)
	sum := checksum.Format(alg, h.Sum(nil))
	if w.expected != "" && sum != w.expected {
		return NewError(CodeChecksumMismatch, w.path)
	}
	w.s.objs[w.path] = &fakeObject{data: append([]byte(nil), data...), checksum: sum, replicas: []Replica{{
		Resource: "demoResc", Status: "good", Checksum: sum, Size: int64(len(data)), Owner: "alice", ModTime: fakeTime,
	}}}
	return nil
}

func (w *fakeWriter) Abort() error { return nil }

func (s *fakeSession) Create(_ context.Context, path string, opts PutOptions) (ObjectWriter, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.colls[slash.Dir(path)]; !ok {
		return nil, false, NewError(CodeUnknownCollection, slash.Dir(path))
	}
	_, exists := s.objs[path]
	if !exists {
		// the object is registered as soon as it is opened
		s.objs[path] = &fakeObject{replicas: []Replica{{Resource: "demoResc", Status: "stale"}}}
	}
	return &fakeWriter{s: s, path: path, expected: opts.Checksum}, !exists, nil
}

func (s *fakeSession) Checksum(_ context.Context, path string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objs[path]
	if !ok {
		return "", NewError(CodeNoSuchObject, path)
	}
	return o.checksum, nil
}

func (s *fakeSession) Permissions(_ context.Context, path string) ([]Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Permission
	for u, l := range s.perms[path] {
		out = append(out, Permission{User: u, Level: l})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].User < out[j].User })
	return out, nil
}

func (s *fakeSession) SetPermission(_ context.Context, path, user, level string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user == "ghost" {
		return NewError(CodeNoPermission, path)
	}
	if s.perms[path] == nil {
		s.perms[path] = make(map[string]string)
	}
	if level == LevelNull {
		delete(s.perms[path], user)
		return nil
	}
	s.perms[path][user] = level
	return nil
}

func (s *fakeSession) Metadata(_ context.Context, path string) ([]AVU, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AVU(nil), s.meta[path]...), nil
}

func (s *fakeSession) AddMetadata(_ context.Context, path string, avu AVU) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	avu.ID = uuid.NewString()
	s.meta[path] = append(s.meta[path], avu)
	return avu.ID, nil
}

func (s *fakeSession) RemoveMetadata(_ context.Context, path, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	avus := s.meta[path]
	for i, a := range avus {
		if a.ID == id {
			s.meta[path] = append(avus[:i], avus[i+1:]...)
			return nil
		}
	}
	return NewError(CodeNoSuchObject, path)
}

func (s *fakeSession) DefaultChecksum() checksum.Algorithm { return checksum.MD5 }

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

var _ Session = (*fakeSession)(nil)
