package diff

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mrz1836/switchyard/internal/ctxutil"
	syerrors "github.com/mrz1836/switchyard/internal/errors"
)

// DefaultCompareBaseURL is the hosting provider's API root.
const DefaultCompareBaseURL = "https://api.github.com"

// compareResponseLimit bounds how much of the compare response body is
// read into memory.
const compareResponseLimit = 4 << 20

// CompareFile is one changed file reported by the compare endpoint.
type CompareFile struct {
	Filename string `json:"filename"`
	Status   string `json:"status"`
}

// CompareResult is the subset of the compare response the preview uses.
type CompareResult struct {
	Files        []CompareFile `json:"files"`
	HTMLURL      string        `json:"html_url"`
	PermalinkURL string        `json:"permalink_url"`
	CompareURL   string        `json:"compare_url"`
	AheadBy      int           `json:"ahead_by"`
	BehindBy     int           `json:"behind_by"`
	TotalCommits int           `json:"total_commits"`
	Status       string        `json:"status"`
}

// NameStatus renders the compare file list in `git diff --name-status`
// form so both diff sources feed the same summarizer.
func (r *CompareResult) NameStatus() string {
	lines := make([]string, 0, len(r.Files))
	for _, file := range r.Files {
		var marker string
		switch file.Status {
		case "added":
			marker = "A"
		case "removed":
			marker = "D"
		case "renamed":
			marker = "R"
		default:
			marker = "M"
		}
		lines = append(lines, marker+"\t"+file.Filename)
	}
	return strings.Join(lines, "\n")
}

// Metadata renders the link/ahead-behind portion of the result for the
// preview context.
func (r *CompareResult) Metadata() map[string]any {
	return map[string]any{
		"html_url":      r.HTMLURL,
		"permalink_url": r.PermalinkURL,
		"compare_url":   r.CompareURL,
		"ahead_by":      r.AheadBy,
		"behind_by":     r.BehindBy,
		"total_commits": r.TotalCommits,
		"status":        r.Status,
	}
}

// CompareClient calls the hosting provider's compare endpoint with a
// TTL cache keyed by (repo, base, head).
type CompareClient struct {
	baseURL    string
	repo       string
	token      string
	httpClient *http.Client
	cache      Cache
	ttl        time.Duration
	logger     zerolog.Logger
}

// CompareOption configures a CompareClient.
type CompareOption func(*CompareClient)

// WithCompareBaseURL overrides the API root (used by tests).
func WithCompareBaseURL(baseURL string) CompareOption {
	return func(c *CompareClient) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithCompareToken sets the optional bearer token.
func WithCompareToken(token string) CompareOption {
	return func(c *CompareClient) {
		c.token = token
	}
}

// WithCompareCache sets the result cache and TTL.
func WithCompareCache(cache Cache, ttl time.Duration) CompareOption {
	return func(c *CompareClient) {
		c.cache = cache
		c.ttl = ttl
	}
}

// WithCompareHTTPClient overrides the HTTP client.
func WithCompareHTTPClient(httpClient *http.Client) CompareOption {
	return func(c *CompareClient) {
		c.httpClient = httpClient
	}
}

// WithCompareLogger sets the client logger.
func WithCompareLogger(logger zerolog.Logger) CompareOption {
	return func(c *CompareClient) {
		c.logger = logger
	}
}

// NewCompareClient creates a compare client for the owner/name slug.
func NewCompareClient(repo string, opts ...CompareOption) *CompareClient {
	c := &CompareClient{
		baseURL:    DefaultCompareBaseURL,
		repo:       repo,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compare fetches the base...head comparison, consulting the cache
// first. Failures surface as ErrCompareUnavailable so callers can fall
// back to a local diff.
func (c *CompareClient) Compare(ctx context.Context, base, head string) (*CompareResult, error) {
	if err := ctxutil.Canceled(ctx); err != nil {
		return nil, err
	}

	cacheKey := fmt.Sprintf("compare:%s:%s:%s", c.repo, base, head)
	if c.cache != nil {
		if cached, ok := c.cache.Get(ctx, cacheKey); ok {
			c.logger.Debug().Str("repo", c.repo).Str("base", base).Str("head", head).Msg("compare cache hit")
			return cached, nil
		}
	}

	url := fmt.Sprintf("%s/repos/%s/compare/%s...%s", c.baseURL, c.repo, base, head)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", syerrors.ErrCompareUnavailable, err.Error())
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s", syerrors.ErrCompareUnavailable, err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, compareResponseLimit))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %s", syerrors.ErrCompareUnavailable, err.Error())
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", syerrors.ErrCompareUnavailable, resp.StatusCode)
	}

	var result CompareResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %s", syerrors.ErrCompareUnavailable, err.Error())
	}

	if c.cache != nil && c.ttl > 0 {
		c.cache.Set(ctx, cacheKey, &result, c.ttl)
	}

	return &result, nil
}
