package remote

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"digital.vasic.brocoli/pkg/client"
)

// memClient is an in-memory client.Client. Directories must be empty to
// be deleted and parents must exist, like FTP.
type memClient struct {
	mu        sync.Mutex
	connected bool
	files     map[string][]byte
	dirs      map[string]bool
	mtime     time.Time

	// failRead and failWrite inject transport errors per path.
	failRead  map[string]error
	failWrite map[string]error
	deleted   []string
}

var _ client.Client = (*memClient)(nil)

func newMemClient() *memClient {
	return &memClient{
		files:     map[string][]byte{},
		dirs:      map[string]bool{"": true},
		mtime:     time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC),
		failRead:  map[string]error{},
		failWrite: map[string]error{},
	}
}

func clean(p string) string {
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}

func (m *memClient) addFile(p, content string) {
	p = clean(p)
	for d := path.Dir(p); d != "." && d != "/"; d = path.Dir(d) {
		m.dirs[d] = true
	}
	m.files[p] = []byte(content)
}

func (m *memClient) addDir(p string) {
	p = clean(p)
	for d := p; d != "." && d != "/" && d != ""; d = path.Dir(d) {
		m.dirs[d] = true
	}
}

func (m *memClient) Connect(ctx context.Context) error {
	m.connected = true
	return nil
}

func (m *memClient) Disconnect(ctx context.Context) error {
	m.connected = false
	return nil
}

func (m *memClient) IsConnected() bool { return m.connected }

func (m *memClient) TestConnection(ctx context.Context) error {
	if !m.connected {
		return client.ErrNotConnected
	}
	return nil
}

func (m *memClient) ReadFile(ctx context.Context, p string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, client.ErrNotConnected
	}
	p = clean(p)
	if err := m.failRead[p]; err != nil {
		return nil, err
	}
	data, ok := m.files[p]
	if !ok {
		return nil, client.NotExist("read", p, nil)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memClient) WriteFile(ctx context.Context, p string, data io.Reader) error {
	if !m.connected {
		return client.ErrNotConnected
	}
	p = clean(p)
	m.mu.Lock()
	if err := m.failWrite[p]; err != nil {
		m.mu.Unlock()
		return err
	}
	if !m.dirs[parent(p)] {
		m.mu.Unlock()
		return client.NotExist("write", p, nil)
	}
	// the file appears as soon as the transfer starts
	m.files[p] = nil
	m.mu.Unlock()

	// small reads so progress is observed mid-file
	var buf bytes.Buffer
	_, err := io.CopyBuffer(struct{ io.Writer }{&buf}, struct{ io.Reader }{data}, make([]byte, 4))
	m.mu.Lock()
	m.files[p] = buf.Bytes()
	m.mu.Unlock()
	return err
}

func parent(p string) string {
	d := path.Dir(p)
	if d == "." {
		return ""
	}
	return d
}

func (m *memClient) GetFileInfo(ctx context.Context, p string) (*client.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, client.ErrNotConnected
	}
	p = clean(p)
	return m.info(p)
}

func (m *memClient) info(p string) (*client.FileInfo, error) {
	if m.dirs[p] {
		return &client.FileInfo{Name: path.Base("/" + p), IsDir: true, Mode: os.ModeDir | 0o755, Path: p, ModTime: m.mtime}, nil
	}
	if data, ok := m.files[p]; ok {
		return &client.FileInfo{Name: path.Base(p), Size: int64(len(data)), Mode: 0o644, Path: p, ModTime: m.mtime}, nil
	}
	return nil, client.NotExist("stat", p, nil)
}

func (m *memClient) FileExists(ctx context.Context, p string) (bool, error) {
	_, err := m.GetFileInfo(ctx, p)
	if errors.Is(err, client.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (m *memClient) DeleteFile(ctx context.Context, p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return client.ErrNotConnected
	}
	p = clean(p)
	if _, ok := m.files[p]; !ok {
		return client.NotExist("delete", p, nil)
	}
	delete(m.files, p)
	m.deleted = append(m.deleted, p)
	return nil
}

func (m *memClient) children(p string) []string {
	var out []string
	for f := range m.files {
		if parent(f) == p {
			out = append(out, f)
		}
	}
	for d := range m.dirs {
		if d != "" && parent(d) == p {
			out = append(out, d)
		}
	}
	sort.Strings(out)
	return out
}

func (m *memClient) ListDirectory(ctx context.Context, p string) ([]*client.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, client.ErrNotConnected
	}
	p = clean(p)
	if !m.dirs[p] {
		return nil, client.NotExist("list", p, nil)
	}
	var out []*client.FileInfo
	for _, c := range m.children(p) {
		fi, err := m.info(c)
		if err != nil {
			return nil, err
		}
		out = append(out, fi)
	}
	return out, nil
}

func (m *memClient) CreateDirectory(ctx context.Context, p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return client.ErrNotConnected
	}
	p = clean(p)
	if !m.dirs[parent(p)] {
		return client.NotExist("mkdir", p, nil)
	}
	if _, err := m.info(p); err == nil {
		return errors.New("already exists")
	}
	m.dirs[p] = true
	return nil
}

func (m *memClient) DeleteDirectory(ctx context.Context, p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return client.ErrNotConnected
	}
	p = clean(p)
	if !m.dirs[p] {
		return client.NotExist("rmdir", p, nil)
	}
	if len(m.children(p)) > 0 {
		return errors.New("directory not empty")
	}
	delete(m.dirs, p)
	m.deleted = append(m.deleted, p+"/")
	return nil
}

func (m *memClient) GetProtocol() string { return "ftp" }
