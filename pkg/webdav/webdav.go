// Package webdav implements the transport client for the WebDAV protocol.
package webdav

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"digital.vasic.brocoli/pkg/client"
)

// Config contains WebDAV connection configuration.
type Config struct {
	URL      string `mapstructure:"url" validate:"required,url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Path     string `mapstructure:"path"`
	// Retries is the number of retries of idempotent requests on
	// connection errors and 5xx replies.
	Retries int `mapstructure:"retries" validate:"min=0,max=20"`
}

// Client implements client.Client for WebDAV protocol.
type Client struct {
	config *Config
	// http retries metadata requests; raw streams request bodies, which
	// retryablehttp would buffer in memory.
	http      *http.Client
	raw       *http.Client
	baseURL   *url.URL
	connected bool
	log       zerolog.Logger
}

// retryLogger implements retryablehttp.LeveledLogger over zerolog.
type retryLogger struct {
	log zerolog.Logger
}

func (l retryLogger) Error(msg string, kv ...interface{}) { l.log.Error().Fields(kv).Msg(msg) }
func (l retryLogger) Info(msg string, kv ...interface{})  { l.log.Debug().Fields(kv).Msg(msg) }
func (l retryLogger) Debug(msg string, kv ...interface{}) { l.log.Trace().Fields(kv).Msg(msg) }
func (l retryLogger) Warn(msg string, kv ...interface{})  { l.log.Warn().Fields(kv).Msg(msg) }

// NewWebDAVClient creates a new WebDAV client.
func NewWebDAVClient(config *Config, log zerolog.Logger) (*Client, error) {
	baseURL, err := url.Parse(config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid WebDAV URL %s: %w", config.URL, err)
	}
	if baseURL.Scheme != "http" && baseURL.Scheme != "https" {
		return nil, fmt.Errorf("invalid WebDAV URL %s: scheme must be http or https", config.URL)
	}
	if config.Path != "" && config.Path != "/" {
		baseURL.Path = path.Join("/", config.Path)
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = config.Retries
	retryClient.RetryWaitMin = 200 * time.Millisecond
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.Logger = retryLogger{log: log}
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		config:  config,
		http:    retryClient.StandardClient(),
		raw:     retryClient.HTTPClient,
		baseURL: baseURL,
		log:     log,
	}, nil
}

// Connect checks the root collection with a depth 0 PROPFIND.
func (c *Client) Connect(ctx context.Context) error {
	resp, err := c.propfind(ctx, c.resolveURL("", true), "0")
	if err != nil {
		return fmt.Errorf("failed to connect to WebDAV server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMultiStatus && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("WebDAV server returned status %d", resp.StatusCode)
	}

	c.connected = true
	c.log.Debug().Str("url", c.baseURL.String()).Msg("webdav connected")
	return nil
}

// Disconnect closes the WebDAV connection.
func (c *Client) Disconnect(ctx context.Context) error {
	c.connected = false
	c.raw.CloseIdleConnections()
	return nil
}

// IsConnected returns true if the client is connected.
func (c *Client) IsConnected() bool {
	return c.connected
}

// TestConnection tests the WebDAV connection.
func (c *Client) TestConnection(ctx context.Context) error {
	if !c.IsConnected() {
		return client.ErrNotConnected
	}
	return c.Connect(ctx)
}

// resolveURL resolves a relative path to a full WebDAV URL. Leading ".."
// elements cannot escape the base path.
func (c *Client) resolveURL(p string, dir bool) string {
	u := *c.baseURL
	u.Path = path.Join(u.Path, path.Clean("/"+p))
	if dir && !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return u.String()
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", method, err)
	}
	if c.config.Username != "" {
		req.SetBasicAuth(c.config.Username, c.config.Password)
	}
	return req, nil
}

// do sends a bodiless request through the retrying client.
func (c *Client) do(ctx context.Context, method, target string) (*http.Response, error) {
	req, err := c.newRequest(ctx, method, target, nil)
	if err != nil {
		return nil, err
	}
	return c.http.Do(req)
}

// statusErr maps a failed reply to an error; 404 and 409 (missing parent)
// match client.ErrNotExist.
func statusErr(op, target string, code int) error {
	cause := fmt.Errorf("WebDAV server returned status %d for %s", code, target)
	if code == http.StatusNotFound || code == http.StatusConflict {
		return client.NotExist(op, target, cause)
	}
	return cause
}

func success(code int) bool {
	return code >= 200 && code < 300
}

// ReadFile reads a file from the WebDAV server.
func (c *Client) ReadFile(ctx context.Context, p string) (io.ReadCloser, error) {
	if !c.IsConnected() {
		return nil, client.ErrNotConnected
	}

	fullURL := c.resolveURL(p, false)
	resp, err := c.do(ctx, http.MethodGet, fullURL)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve WebDAV file %s: %w", fullURL, err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, statusErr("get", fullURL, resp.StatusCode)
	}
	return resp.Body, nil
}

// WriteFile writes a file to the WebDAV server. The body is streamed and
// never retried.
func (c *Client) WriteFile(ctx context.Context, p string, data io.Reader) error {
	if !c.IsConnected() {
		return client.ErrNotConnected
	}

	fullURL := c.resolveURL(p, false)
	req, err := c.newRequest(ctx, http.MethodPut, fullURL, data)
	if err != nil {
		return err
	}

	resp, err := c.raw.Do(req)
	if err != nil {
		return fmt.Errorf("failed to upload WebDAV file %s: %w", fullURL, err)
	}
	defer resp.Body.Close()

	if !success(resp.StatusCode) {
		return statusErr("put", fullURL, resp.StatusCode)
	}
	c.log.Debug().Str("url", fullURL).Msg("webdav put")
	return nil
}

const propfindBody = `<?xml version="1.0" encoding="utf-8" ?>
<D:propfind xmlns:D="DAV:">
	<D:prop>
		<D:displayname/>
		<D:getcontentlength/>
		<D:getlastmodified/>
		<D:resourcetype/>
	</D:prop>
</D:propfind>`

func (c *Client) propfind(ctx context.Context, target, depth string) (*http.Response, error) {
	req, err := c.newRequest(ctx, "PROPFIND", target, bytes.NewReader([]byte(propfindBody)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Depth", depth)
	req.Header.Set("Content-Type", "application/xml")
	return c.http.Do(req)
}

type multistatus struct {
	Responses []response `xml:"DAV: response"`
}

type response struct {
	Href      string     `xml:"DAV: href"`
	Propstats []propstat `xml:"DAV: propstat"`
}

type propstat struct {
	Prop   prop   `xml:"DAV: prop"`
	Status string `xml:"DAV: status"`
}

type prop struct {
	DisplayName   string       `xml:"DAV: displayname"`
	ContentLength string       `xml:"DAV: getcontentlength"`
	LastModified  string       `xml:"DAV: getlastmodified"`
	ResourceType  resourceType `xml:"DAV: resourcetype"`
}

type resourceType struct {
	Collection *struct{} `xml:"DAV: collection"`
}

// entry is a decoded PROPFIND response.
type entry struct {
	path    string
	size    int64
	modTime time.Time
	isDir   bool
}

func parseMultistatus(r io.Reader) ([]entry, error) {
	var ms multistatus
	if err := xml.NewDecoder(r).Decode(&ms); err != nil {
		return nil, fmt.Errorf("failed to decode WebDAV response: %w", err)
	}

	entries := make([]entry, 0, len(ms.Responses))
	for _, resp := range ms.Responses {
		href, err := url.Parse(strings.TrimSpace(resp.Href))
		if err != nil {
			continue
		}
		e := entry{path: href.Path}
		for _, ps := range resp.Propstats {
			if ps.Status != "" && !strings.Contains(ps.Status, " 200 ") {
				continue
			}
			if ps.Prop.ResourceType.Collection != nil {
				e.isDir = true
			}
			if n, err := strconv.ParseInt(strings.TrimSpace(ps.Prop.ContentLength), 10, 64); err == nil {
				e.size = n
			}
			if t, err := http.ParseTime(strings.TrimSpace(ps.Prop.LastModified)); err == nil {
				e.modTime = t
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (e entry) fileInfo(p string) *client.FileInfo {
	mode := os.FileMode(0o644)
	if e.isDir {
		mode = os.ModeDir | 0o755
	}
	return &client.FileInfo{
		Name:    path.Base(strings.TrimSuffix(e.path, "/")),
		Size:    e.size,
		ModTime: e.modTime,
		IsDir:   e.isDir,
		Mode:    mode,
		Path:    p,
	}
}

// GetFileInfo gets information about a file with a depth 0 PROPFIND.
func (c *Client) GetFileInfo(ctx context.Context, p string) (*client.FileInfo, error) {
	if !c.IsConnected() {
		return nil, client.ErrNotConnected
	}

	fullURL := c.resolveURL(p, false)
	resp, err := c.propfind(ctx, fullURL, "0")
	if err != nil {
		return nil, fmt.Errorf("failed to get WebDAV file info %s: %w", fullURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMultiStatus {
		return nil, statusErr("propfind", fullURL, resp.StatusCode)
	}
	entries, err := parseMultistatus(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, client.NotExist("propfind", fullURL, nil)
	}
	return entries[0].fileInfo(p), nil
}

// ListDirectory lists files in a directory.
func (c *Client) ListDirectory(ctx context.Context, p string) ([]*client.FileInfo, error) {
	if !c.IsConnected() {
		return nil, client.ErrNotConnected
	}

	fullURL := c.resolveURL(p, true)
	resp, err := c.propfind(ctx, fullURL, "1")
	if err != nil {
		return nil, fmt.Errorf("failed to list WebDAV directory %s: %w", fullURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMultiStatus {
		return nil, statusErr("propfind", fullURL, resp.StatusCode)
	}
	entries, err := parseMultistatus(resp.Body)
	if err != nil {
		return nil, err
	}

	self := strings.TrimSuffix(path.Join(c.baseURL.Path, path.Clean("/"+p)), "/")
	var files []*client.FileInfo
	for _, e := range entries {
		if strings.TrimSuffix(e.path, "/") == self {
			continue
		}
		name := path.Base(strings.TrimSuffix(e.path, "/"))
		files = append(files, e.fileInfo(path.Join(p, name)))
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

	fullURL := c.resolveURL(p, true)
	resp, err := c.do(ctx, "MKCOL", fullURL)
	if err != nil {
		return fmt.Errorf("failed to create WebDAV directory %s: %w", fullURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusMethodNotAllowed {
		return fmt.Errorf("WebDAV directory %s already exists", fullURL)
	}
	if !success(resp.StatusCode) {
		return statusErr("mkcol", fullURL, resp.StatusCode)
	}
	return nil
}

// DeleteDirectory deletes a directory and its content.
func (c *Client) DeleteDirectory(ctx context.Context, p string) error {
	return c.delete(ctx, c.resolveURL(p, true))
}

// DeleteFile deletes a file.
func (c *Client) DeleteFile(ctx context.Context, p string) error {
	return c.delete(ctx, c.resolveURL(p, false))
}

func (c *Client) delete(ctx context.Context, fullURL string) error {
	if !c.IsConnected() {
		return client.ErrNotConnected
	}

	resp, err := c.do(ctx, http.MethodDelete, fullURL)
	if err != nil {
		return fmt.Errorf("failed to delete WebDAV resource %s: %w", fullURL, err)
	}
	defer resp.Body.Close()

	if !success(resp.StatusCode) {
		return statusErr("delete", fullURL, resp.StatusCode)
	}
	return nil
}

// GetProtocol returns the protocol name.
func (c *Client) GetProtocol() string {
	return "webdav"
}
