package cacheclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/nektos/cachesave/pkg/common"
)

const (
	urlBase = "/_apis/artifactcache"

	// DefaultChunkSize is the upload chunk size used when the configuration
	// does not supply one.
	DefaultChunkSize = 32 << 20
)

// NotSaved is the sentinel cache ID reported when no save happened because
// the exact key already exists upstream. A concurrent writer winning the race
// is expected, not an error.
const NotSaved = -1

// ErrAlreadyExists is reported by Reserve when the remote store already holds
// a complete entry for the key and version.
var ErrAlreadyExists = errors.New("cache entry already exists")

// Entry describes a cache entry found by a lookup.
type Entry struct {
	Result          string `json:"result"`
	ArchiveLocation string `json:"archiveLocation"`
	CacheKey        string `json:"cacheKey"`
}

// Client talks to an artifact cache service. All calls run to completion
// within the caller's context; the client owns no retries and no timeouts.
type Client struct {
	base      string
	token     string
	client    *http.Client
	chunkSize int64
}

// Option configures a Client.
type Option func(*Client)

// WithChunkSize overrides the upload chunk size. Non-positive values keep the
// default.
func WithChunkSize(size int64) Option {
	return func(c *Client) {
		if size > 0 {
			c.chunkSize = size
		}
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

// New returns a client for the cache service rooted at serverURL. The token
// is sent as a bearer credential on every request; pass "" for servers that
// do not authenticate.
func New(serverURL, token string, opts ...Option) *Client {
	c := &Client{
		base:      strings.TrimSuffix(serverURL, "/") + urlBase,
		token:     token,
		client:    http.DefaultClient,
		chunkSize: DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Find queries the cache for the first key matching exactly, falling back to
// the remaining keys as prefix matches. It returns (nil, nil) when nothing
// matches. The artifact is not transferred, which makes Find the lookup-only
// probe for the save flow.
func (c *Client) Find(ctx context.Context, keys []string, version string) (*Entry, error) {
	q := url.Values{}
	q.Set("keys", strings.Join(keys, ","))
	q.Set("version", version)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/cache?%s", c.base, q.Encode()), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, errors.Wrap(err, "find cache")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		return nil, nil
	case http.StatusOK:
		entry := &Entry{}
		if err := json.NewDecoder(resp.Body).Decode(entry); err != nil {
			return nil, errors.Wrap(err, "find cache: decode response")
		}
		return entry, nil
	default:
		return nil, responseError(resp, "find cache")
	}
}

// Reserve registers intent to upload an entry and returns the upload ID.
// ErrAlreadyExists means another writer holds the key already.
func (c *Client) Reserve(ctx context.Context, key, version string, size int64) (int64, error) {
	body, err := json.Marshal(map[string]any{
		"key":       key,
		"version":   version,
		"cacheSize": size,
	})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/caches", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.do(req)
	if err != nil {
		return 0, errors.Wrap(err, "reserve cache")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := responseError(resp, "reserve cache")
		if resp.StatusCode == http.StatusBadRequest && strings.Contains(err.Error(), "already exist") {
			return 0, ErrAlreadyExists
		}
		return 0, err
	}

	var reserved struct {
		CacheID int64 `json:"cacheId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reserved); err != nil {
		return 0, errors.Wrap(err, "reserve cache: decode response")
	}
	return reserved.CacheID, nil
}

// Upload transfers the archive in Content-Range chunks.
func (c *Client) Upload(ctx context.Context, id int64, archive io.ReaderAt, size int64) error {
	for offset := int64(0); offset < size; offset += c.chunkSize {
		n := c.chunkSize
		if offset+n > size {
			n = size - offset
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPatch,
			fmt.Sprintf("%s/caches/%d", c.base, id), io.NewSectionReader(archive, offset, n))
		if err != nil {
			return err
		}
		req.ContentLength = n
		req.Header.Set("Content-Type", "application/octet-stream")
		req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/*", offset, offset+n-1))

		resp, err := c.do(req)
		if err != nil {
			return errors.Wrapf(err, "upload chunk at %d", offset)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return responseError(resp, fmt.Sprintf("upload chunk at %d", offset))
		}
	}
	return nil
}

// Commit finalizes a reserved upload.
func (c *Client) Commit(ctx context.Context, id int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/caches/%d", c.base, id), nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return errors.Wrap(err, "commit cache")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return responseError(resp, "commit cache")
	}
	return nil
}

// Delete removes all complete entries stored under key, any version. It
// returns the number of entries removed; zero with a nil error means the key
// was not present.
func (c *Client) Delete(ctx context.Context, key string) (int, error) {
	q := url.Values{}
	q.Set("key", key)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, fmt.Sprintf("%s/caches?%s", c.base, q.Encode()), nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.do(req)
	if err != nil {
		return 0, errors.Wrap(err, "delete cache")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var deleted struct {
			TotalCount int `json:"total_count"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&deleted); err != nil {
			return 0, errors.Wrap(err, "delete cache: decode response")
		}
		return deleted.TotalCount, nil
	case http.StatusNotFound:
		return 0, nil
	default:
		return 0, responseError(resp, "delete cache")
	}
}

// SaveOptions tune a SaveCache call.
type SaveOptions struct {
	// CrossOSArchive marks the artifact usable across platforms and keeps
	// the platform out of the version hash.
	CrossOSArchive bool
}

// SaveCache archives the paths matched by patterns under root and uploads
// them under key. It returns the new cache ID, or NotSaved when the remote
// store already holds the exact key.
func (c *Client) SaveCache(ctx context.Context, root string, patterns []string, key string, opts SaveOptions) (int64, error) {
	logger := common.Logger(ctx)

	files, err := ResolvePatterns(root, patterns)
	if err != nil {
		return 0, errors.Wrap(err, "resolve paths")
	}
	if len(files) == 0 {
		return 0, errors.New("path validation error: the specified paths matched no files, no cache is being saved")
	}

	archive, size, err := CreateArchive(ctx, root, files)
	if err != nil {
		return 0, errors.Wrap(err, "create archive")
	}
	defer os.Remove(archive)

	logger.Debugf("archived %d files, %d bytes", len(files), size)

	version := Version(patterns, opts.CrossOSArchive)
	id, err := c.Reserve(ctx, key, version, size)
	if err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return NotSaved, nil
		}
		return 0, err
	}

	f, err := os.Open(archive)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	if err := c.Upload(ctx, id, f, size); err != nil {
		return 0, err
	}
	if err := c.Commit(ctx, id); err != nil {
		return 0, err
	}
	return id, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json; api-version=6.0-preview.1")
	return c.client.Do(req)
}

// responseError extracts as much detail as the service exposes: the status
// code always, and the error message when the body carries one.
func responseError(resp *http.Response, op string) error {
	var body struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		return errors.Errorf("%s: status %d: %s", op, resp.StatusCode, body.Error)
	}
	return errors.Errorf("%s: status %d", op, resp.StatusCode)
}
