// Package quay is a client for the Quay.io REST API endpoints basescan uses:
// tag lookup, manifest lookup and the security scan report.
package quay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	berrors "github.com/project-copacetic/basescan/internal/errors"
)

// Tag is an entry of the repository tag listing.
type Tag struct {
	Name           string `json:"name"`
	ManifestDigest string `json:"manifest_digest"`
	IsManifestList bool   `json:"is_manifest_list"`
}

type tagList struct {
	Tags          []Tag `json:"tags"`
	Page          int   `json:"page"`
	HasAdditional bool  `json:"has_additional"`
}

// Manifest is the manifest endpoint response. ManifestData holds the raw
// manifest (or manifest list) JSON.
type Manifest struct {
	Digest         string `json:"digest"`
	IsManifestList bool   `json:"is_manifest_list"`
	ManifestData   string `json:"manifest_data"`
}

// SecurityReport is the security endpoint response.
type SecurityReport struct {
	Status string        `json:"status"`
	Data   *SecurityData `json:"data"`
}

type SecurityData struct {
	Layer Layer `json:"Layer"`
}

type Layer struct {
	Name          string    `json:"Name"`
	NamespaceName string    `json:"NamespaceName"`
	Features      []Feature `json:"Features"`
}

type Feature struct {
	Name            string          `json:"Name"`
	Version         string          `json:"Version"`
	VersionFormat   string          `json:"VersionFormat"`
	AddedBy         string          `json:"AddedBy"`
	Vulnerabilities []Vulnerability `json:"Vulnerabilities"`
}

type Vulnerability struct {
	Name          string `json:"Name"`
	NamespaceName string `json:"NamespaceName"`
	Description   string `json:"Description"`
	Link          string `json:"Link"`
	Severity      string `json:"Severity"`
	FixedBy       string `json:"FixedBy"`
}

// Client talks to a Quay instance. It holds no package-level state.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type Option func(*Client)

// WithToken authenticates requests with an OAuth bearer token.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) { c.httpClient = &http.Client{Timeout: timeout} }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ActiveTag returns the active tag with the given name. A missing tag is a
// not_found error.
func (c *Client) ActiveTag(ctx context.Context, repo, tag string) (*Tag, error) {
	q := url.Values{}
	q.Set("specificTag", tag)
	q.Set("onlyActiveTags", "true")
	endpoint := fmt.Sprintf("%s/api/v1/repository/%s/tag/?%s", c.baseURL, repo, q.Encode())

	var list tagList
	if err := c.get(ctx, "look up tag", repo+":"+tag, endpoint, &list); err != nil {
		return nil, err
	}
	for _, t := range list.Tags {
		if t.Name == tag {
			return &t, nil
		}
	}
	return nil, berrors.NewHTTPError("look up tag", repo+":"+tag, http.StatusNotFound, nil)
}

// Manifest fetches the manifest stored under digest.
func (c *Client) Manifest(ctx context.Context, repo, digest string) (*Manifest, error) {
	endpoint := fmt.Sprintf("%s/api/v1/repository/%s/manifest/%s", c.baseURL, repo, digest)

	var m Manifest
	if err := c.get(ctx, "fetch manifest", repo+"@"+digest, endpoint, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Security fetches the vulnerability report for the manifest under digest.
func (c *Client) Security(ctx context.Context, repo, digest string) (*SecurityReport, error) {
	endpoint := fmt.Sprintf("%s/api/v1/repository/%s/manifest/%s/security?vulnerabilities=true", c.baseURL, repo, digest)

	var report SecurityReport
	if err := c.get(ctx, "fetch security report", repo+"@"+digest, endpoint, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func (c *Client) get(ctx context.Context, op, image, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return berrors.NewValidationError(op, image, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return berrors.NewNetworkError(op, image, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return berrors.NewNetworkError(op, image, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return berrors.NewHTTPError(op, image, resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return berrors.NewSystemError(op, image, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}
