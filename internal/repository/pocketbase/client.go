// Package pocketbase implements the repository interfaces over the
// PocketBase REST API.
package pocketbase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/and161185/timesync/internal/errs"
	"github.com/and161185/timesync/internal/model"
	"github.com/and161185/timesync/internal/repository"
)

const defaultPerPage = 500

// Client talks to one PocketBase instance.
type Client struct {
	base    *url.URL
	hc      *http.Client
	tokens  repository.TokenSource
	log     *zap.Logger
	perPage int
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.hc = hc } }

// WithLogger sets the request logger.
func WithLogger(l *zap.Logger) Option { return func(c *Client) { c.log = l } }

// WithPerPage overrides the listing page size.
func WithPerPage(n int) Option { return func(c *Client) { c.perPage = n } }

// New returns a client for baseURL. tokens may be nil for anonymous access.
func New(baseURL string, tokens repository.TokenSource, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: backend url %q", errs.ErrInvalidInput, baseURL)
	}
	c := &Client{base: u, hc: http.DefaultClient, tokens: tokens, log: zap.NewNop(), perPage: defaultPerPage}
	for _, o := range opts {
		o(c)
	}
	if c.perPage <= 0 {
		return nil, fmt.Errorf("%w: page size %d", errs.ErrInvalidInput, c.perPage)
	}
	return c, nil
}

var (
	_ repository.CollectionRepository = (*Client)(nil)
	_ repository.AuthRepository       = (*Client)(nil)
)

type listPage struct {
	PerPage int               `json:"perPage"`
	Items   []json.RawMessage `json:"items"`
}

// GetFullList requests pages until one comes back empty, or shorter than the
// page size the server reports it applied. Servers may cap perPage below the
// requested size, so the requested size alone never ends the listing.
func (c *Client) GetFullList(ctx context.Context, collection string, q repository.ListQuery) ([]json.RawMessage, error) {
	out := []json.RawMessage{}
	for page := 1; ; page++ {
		v := q.Values()
		v.Set("page", strconv.Itoa(page))
		v.Set("perPage", strconv.Itoa(c.perPage))
		v.Set("skipTotal", "1")

		var p listPage
		if err := c.do(ctx, http.MethodGet, recordsPath(collection), v, nil, &p); err != nil {
			return nil, err
		}
		out = append(out, p.Items...)
		if len(p.Items) == 0 || (p.PerPage > 0 && len(p.Items) < p.PerPage) {
			return out, nil
		}
	}
}

func (c *Client) GetOne(ctx context.Context, collection, id string, q repository.ListQuery) (json.RawMessage, error) {
	var raw json.RawMessage
	err := c.do(ctx, http.MethodGet, recordsPath(collection)+"/"+url.PathEscape(id), q.Values(), nil, &raw)
	return raw, err
}

func (c *Client) Create(ctx context.Context, collection string, body any, q repository.ListQuery) (json.RawMessage, error) {
	var raw json.RawMessage
	err := c.do(ctx, http.MethodPost, recordsPath(collection), q.Values(), body, &raw)
	return raw, err
}

func (c *Client) Update(ctx context.Context, collection, id string, body any, q repository.ListQuery) (json.RawMessage, error) {
	var raw json.RawMessage
	err := c.do(ctx, http.MethodPatch, recordsPath(collection)+"/"+url.PathEscape(id), q.Values(), body, &raw)
	return raw, err
}

func (c *Client) Delete(ctx context.Context, collection, id string) error {
	return c.do(ctx, http.MethodDelete, recordsPath(collection)+"/"+url.PathEscape(id), nil, nil, nil)
}

type authResponse struct {
	Token  string     `json:"token"`
	Record model.User `json:"record"`
}

// AuthWithPassword authenticates against the users collection.
func (c *Client) AuthWithPassword(ctx context.Context, identity, password string) (repository.AuthResult, error) {
	var ar authResponse
	body := map[string]string{"identity": identity, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/collections/"+model.CollUsers+"/auth-with-password", nil, body, &ar); err != nil {
		return repository.AuthResult{}, err
	}
	return repository.AuthResult{Token: ar.Token, User: ar.Record}, nil
}

// AuthRefresh renews the token supplied by the client's TokenSource.
func (c *Client) AuthRefresh(ctx context.Context) (repository.AuthResult, error) {
	var ar authResponse
	if err := c.do(ctx, http.MethodPost, "/api/collections/"+model.CollUsers+"/auth-refresh", nil, nil, &ar); err != nil {
		return repository.AuthResult{}, err
	}
	return repository.AuthResult{Token: ar.Token, User: ar.Record}, nil
}

type errorBody struct {
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, out any) error {
	u := *c.base
	u.Path = c.base.Path + path
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		if tok := c.tokens.Token(); tok != "" {
			req.Header.Set("Authorization", tok)
		}
	}

	op := method + " " + path
	resp, err := c.hc.Do(req)
	if err != nil {
		return &errs.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &errs.NetworkError{Op: op, Err: err}
	}
	c.log.Debug("backend request", zap.String("op", op), zap.Int("status", resp.StatusCode))

	if resp.StatusCode >= http.StatusBadRequest {
		var eb errorBody
		_ = json.Unmarshal(data, &eb)
		return &errs.UpstreamError{Status: resp.StatusCode, Message: eb.Message}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", op, err)
	}
	return nil
}

func recordsPath(collection string) string {
	return "/api/collections/" + url.PathEscape(collection) + "/records"
}
