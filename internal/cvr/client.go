// Package cvr looks up companies in the Danish CVR registry.
package cvr

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/timesync/internal/errs"
)

// Defaults for the public registry.
const (
	DefaultBaseURL   = "https://cvrapi.dk/api"
	DefaultUserAgent = "TimeSync/1.0 (https://timesync.pockethost.io)"
	DefaultCountry   = "dk"
	DefaultCacheTTL  = 24 * time.Hour
)

// Cache stores successful lookup bodies.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

// Client queries the registry, optionally through a Cache.
type Client struct {
	baseURL   string
	userAgent string
	hc        *http.Client
	cache     Cache
	ttl       time.Duration
	log       *zap.Logger
}

// Option customises a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.hc = hc } }
func WithUserAgent(ua string) Option { return func(c *Client) { c.userAgent = ua } }
func WithLogger(l *zap.Logger) Option { return func(c *Client) { c.log = l } }

// WithCache enables response caching for ttl.
func WithCache(cache Cache, ttl time.Duration) Option {
	return func(c *Client) { c.cache, c.ttl = cache, ttl }
}

// New returns a registry client for baseURL.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:   baseURL,
		userAgent: DefaultUserAgent,
		hc:        http.DefaultClient,
		ttl:       DefaultCacheTTL,
		log:       zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Lookup searches for a company and returns the registry JSON verbatim.
// A blank search fails with ErrInvalidInput before any remote call; a
// non-2xx registry answer is an *errs.UpstreamError carrying its status.
// Search and country are forwarded as given.
func (c *Client) Lookup(ctx context.Context, search, country string) (json.RawMessage, error) {
	if strings.TrimSpace(search) == "" {
		return nil, fmt.Errorf("%w: search value cannot be empty", errs.ErrInvalidInput)
	}
	if country == "" {
		country = DefaultCountry
	}

	key := cacheKey(search, country)
	if c.cache != nil {
		body, ok, err := c.cache.Get(ctx, key)
		switch {
		case err != nil:
			c.log.Warn("cvr cache get", zap.Error(err))
		case ok:
			return body, nil
		}
	}

	q := url.Values{}
	q.Set("search", search)
	q.Set("country", country)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, &errs.NetworkError{Op: "cvr lookup", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &errs.UpstreamError{Status: resp.StatusCode}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &errs.NetworkError{Op: "cvr lookup", Err: err}
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("cvr lookup: invalid JSON response")
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, key, body, c.ttl); err != nil {
			c.log.Warn("cvr cache set", zap.Error(err))
		}
	}
	return body, nil
}

func cacheKey(search, country string) string {
	sum := sha1.Sum([]byte(strings.ToLower(country) + "|" + strings.ToLower(search)))
	return hex.EncodeToString(sum[:])
}
