// Package backend is the HTTP client for the per-kind search and create
// endpoints.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/oakwood-commons/unifind/internal/entity"
	"github.com/oakwood-commons/unifind/pkg/logger"
	"github.com/oakwood-commons/unifind/pkg/settings"
)

// DefaultTimeout bounds every request unless WithTimeout or WithHTTPClient
// says otherwise.
const DefaultTimeout = 10 * time.Second

const maxErrorBody = 4 << 10

// RegionSearchPath is the region autocomplete endpoint.
const RegionSearchPath = "/api/search/region/"

// StatusError is a non-success response that is not a validation failure
// or a conflict.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("server returned %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Body)
}

// Client talks to one backend. It is safe for concurrent use.
type Client struct {
	base    *url.URL
	reg     *entity.Registry
	http    *http.Client
	session settings.Session
	log     logr.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout sets the transport timeout. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithSession sends the session's credentials with every request.
func WithSession(s settings.Session) Option {
	return func(c *Client) { c.session = s }
}

// WithLogger sets the logger. Default discards.
func WithLogger(log logr.Logger) Option {
	return func(c *Client) { c.log = log }
}

// NewClient returns a client for the backend at baseURL.
func NewClient(baseURL string, reg *entity.Registry, opts ...Option) (*Client, error) {
	if reg == nil {
		return nil, errors.New("backend: registry is required")
	}
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q must be http or https", baseURL)
	}
	c := &Client{
		base: u,
		reg:  reg,
		http: &http.Client{Timeout: DefaultTimeout},
		log:  logr.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Search runs a per-kind search. Results keep backend order.
func (c *Client) Search(ctx context.Context, scope entity.Scope) ([]entity.Candidate, error) {
	spec, err := c.reg.Lookup(scope.Kind)
	if err != nil {
		return nil, err
	}
	if scope.Empty() {
		return nil, nil
	}
	q := url.Values{}
	q.Set("q", scope.Text)
	if scope.ParentID != nil {
		q.Set(spec.ParentParam, strconv.FormatInt(*scope.ParentID, 10))
	}

	var body map[string]json.RawMessage
	if err := c.do(ctx, http.MethodGet, spec.SearchPath, q, nil, &body); err != nil {
		return nil, fmt.Errorf("search %s: %w", scope.Kind, err)
	}
	raw, ok := body[spec.ResultKey]
	if !ok {
		return nil, fmt.Errorf("search %s: response has no %q list", scope.Kind, spec.ResultKey)
	}
	var out []entity.Candidate
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("search %s: decode %q: %w", scope.Kind, spec.ResultKey, err)
	}
	c.log.V(2).Info("search done", logger.KindKey, scope.Kind, logger.QueryKey, scope.Text, "count", len(out))
	return out, nil
}

// SearchAll runs the cross-kind search.
func (c *Client) SearchAll(ctx context.Context, text string) ([]entity.Hit, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	var body struct {
		Results []entity.Hit `json:"results"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/search/", url.Values{"q": {text}}, nil, &body); err != nil {
		return nil, fmt.Errorf("global search: %w", err)
	}
	return body.Results, nil
}

// SearchRegions returns region names containing text for the discriminator
// field's autocomplete.
func (c *Client) SearchRegions(ctx context.Context, text string) ([]string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	var body struct {
		Regions []string `json:"regions"`
	}
	if err := c.do(ctx, http.MethodGet, RegionSearchPath, url.Values{"q": {text}}, nil, &body); err != nil {
		return nil, fmt.Errorf("region search: %w", err)
	}
	return body.Regions, nil
}

// Create posts a new record. A 400 becomes a *entity.ValidationError, a 404
// for the parent a ValidationError wrapping ErrNotFound, and a 409 a
// *entity.ConflictError carrying the existing record.
func (c *Client) Create(ctx context.Context, kind entity.Kind, req entity.CreateRequest) (entity.Candidate, error) {
	spec, err := c.reg.Lookup(kind)
	if err != nil {
		return entity.Candidate{}, err
	}
	payload := map[string]any{"name": req.Name}
	if spec.HasDiscriminator() && req.Discriminator != "" {
		payload[spec.Discriminator] = req.Discriminator
	}
	if spec.HasParent() && req.ParentID != nil {
		payload[spec.ParentParam] = *req.ParentID
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return entity.Candidate{}, err
	}

	var created entity.Candidate
	err = c.do(ctx, http.MethodPost, spec.CreatePath, nil, buf, &created)
	var se *StatusError
	if errors.As(err, &se) {
		return entity.Candidate{}, c.createError(spec, se)
	}
	if err != nil {
		return entity.Candidate{}, fmt.Errorf("create %s: %w", kind, err)
	}
	c.log.V(1).Info("created", logger.KindKey, kind, "id", created.ID)
	return created, nil
}

func (c *Client) createError(spec entity.Spec, se *StatusError) error {
	var body map[string]json.RawMessage
	_ = json.Unmarshal([]byte(se.Body), &body)
	msg := se.Body
	if raw, ok := body["error"]; ok {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			msg = s
		}
	}

	switch se.Code {
	case http.StatusConflict:
		for k, raw := range body {
			if !strings.HasPrefix(k, "existing") {
				continue
			}
			var existing entity.Candidate
			if err := json.Unmarshal(raw, &existing); err == nil {
				return &entity.ConflictError{Kind: spec.Kind, Existing: existing}
			}
		}
		return fmt.Errorf("%w: %s", entity.ErrConflict, msg)
	case http.StatusBadRequest:
		return &entity.ValidationError{Kind: spec.Kind, Reason: errors.New(msg)}
	case http.StatusNotFound:
		return &entity.ValidationError{Kind: spec.Kind, Field: spec.ParentParam, Reason: entity.ErrNotFound}
	}
	return fmt.Errorf("create %s: %w", spec.Kind, se)
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body []byte, out any) error {
	ref, err := url.Parse(path)
	if err != nil {
		return fmt.Errorf("parse path %q: %w", path, err)
	}
	u := c.base.ResolveReference(ref)
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.session.Apply(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
