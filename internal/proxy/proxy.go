// Package proxy queries a backend vulnerability proxy by raw image reference.
package proxy

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
	"github.com/project-copacetic/basescan/internal/vuln"
)

type record struct {
	ID       string `json:"id"`
	Severity string `json:"severity"`
	Link     string `json:"link,omitempty"`
}

// Source implements vuln.Source against GET /image/vulnerabilities?image=.
// It needs no digest resolution.
type Source struct {
	baseURL    string
	httpClient *http.Client
}

type Option func(*Source)

func WithHTTPClient(hc *http.Client) Option {
	return func(s *Source) { s.httpClient = hc }
}

func WithTimeout(timeout time.Duration) Option {
	return func(s *Source) { s.httpClient = &http.Client{Timeout: timeout} }
}

func New(baseURL string, opts ...Option) *Source {
	s := &Source{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Source) Name() string { return "proxy" }

func (s *Source) Vulnerabilities(ctx context.Context, target vuln.Target) ([]vuln.Vulnerability, error) {
	const op = "query vulnerability proxy"

	q := url.Values{}
	q.Set("image", target.Image)
	endpoint := fmt.Sprintf("%s/image/vulnerabilities?%s", s.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, berrors.NewValidationError(op, target.Image, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, berrors.NewNetworkError(op, target.Image, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, berrors.NewNetworkError(op, target.Image, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, berrors.NewHTTPError(op, target.Image, resp.StatusCode, body)
	}

	var records []record
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, berrors.NewSystemError(op, target.Image, fmt.Errorf("failed to decode response: %w", err))
	}

	vulns := make([]vuln.Vulnerability, 0, len(records))
	for _, r := range records {
		vulns = append(vulns, vuln.Vulnerability{
			ID:       r.ID,
			Severity: vuln.ParseSeverity(r.Severity),
			Link:     r.Link,
		})
	}
	return vulns, nil
}
