// Package github is a minimal client for the two host REST endpoints the
// save flow needs: deleting cache entries by key, and reading the installed
// enterprise version for eligibility hints. Everything else the platform API
// offers is out of scope here.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"

	"github.com/nektos/cachesave/pkg/common"
)

type Client struct {
	apiURL     string
	token      string
	repository string
	client     *http.Client
}

// New returns a client for the REST API at apiURL (e.g. https://api.github.com
// or https://ghes.example.com/api/v3) scoped to repository ("owner/name").
func New(apiURL, token, repository string) *Client {
	return &Client{
		apiURL:     strings.TrimSuffix(apiURL, "/"),
		token:      token,
		repository: repository,
		client:     http.DefaultClient,
	}
}

// DeleteCachesByKey removes every cache entry stored under key and returns
// the number of entries removed. A key that is not present is an error; the
// caller decides whether that matters.
func (c *Client) DeleteCachesByKey(ctx context.Context, key string) (int, error) {
	q := url.Values{}
	q.Set("key", key)

	req, err := c.newRequest(ctx, http.MethodDelete,
		fmt.Sprintf("%s/repos/%s/actions/caches?%s", c.apiURL, c.repository, q.Encode()))
	if err != nil {
		return 0, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, errors.Wrapf(err, "delete caches with key %q", key)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, responseError(resp, fmt.Sprintf("delete caches with key %q", key))
	}

	var deleted struct {
		TotalCount int `json:"total_count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&deleted); err != nil {
		return 0, errors.Wrap(err, "delete caches: decode response")
	}
	common.Logger(ctx).Debugf("deleted %d cache entries with key %q", deleted.TotalCount, key)
	return deleted.TotalCount, nil
}

// InstalledVersion reports the enterprise server release, e.g. "3.12.4".
// Cloud instances return no version and an empty string.
func (c *Client) InstalledVersion(ctx context.Context) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.apiURL+"/meta")
	if err != nil {
		return "", err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "get meta")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", responseError(resp, "get meta")
	}

	var meta struct {
		InstalledVersion string `json:"installed_version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return "", errors.Wrap(err, "get meta: decode response")
	}
	return meta.InstalledVersion, nil
}

func (c *Client) newRequest(ctx context.Context, method, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// responseError carries the status code and whatever message the API exposed.
func responseError(resp *http.Response, op string) error {
	var body struct {
		Message string `json:"message"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(data, &body); err == nil && body.Message != "" {
		return errors.Errorf("%s: status %d: %s", op, resp.StatusCode, body.Message)
	}
	return errors.Errorf("%s: status %d", op, resp.StatusCode)
}
