// Package nitrate is a small HTTP client for the plan endpoints of a
// Nitrate test-case-management server: filtering plans by id or parent and
// updating a single object field.
package nitrate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Sentinel errors for caller-checkable conditions.
var (
	ErrNotFound  = errors.New("nitrate: not found")
	ErrUnchanged = errors.New("nitrate: nothing changed")
	ErrServer    = errors.New("nitrate: server error")
)

// DefaultTimeout applies when no http.Client is supplied.
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of an error response is kept for messages.
const maxErrorBody = 512

// Plan is the JSON shape of one plan returned by the filter endpoint.
type Plan struct {
	ID          int    `json:"pk"`
	Parent      *int   `json:"parent"`
	Name        string `json:"name"`
	URL         string `json:"url"`
	IsActive    bool   `json:"is_active"`
	NumChildren int    `json:"num_children"`
	NumCases    int    `json:"num_cases"`
	NumRuns     int    `json:"num_runs"`
}

// ParentID returns the parent plan id, or 0 when the plan has none.
func (p Plan) ParentID() int {
	if p.Parent == nil {
		return 0
	}
	return *p.Parent
}

// Update is one generic field update. An empty Value clears the field.
type Update struct {
	ContentType string
	ObjectID    int
	Field       string
	Value       string
}

// updateResponse is the envelope returned by the update endpoint.
type updateResponse struct {
	RC       int    `json:"rc"`
	Response string `json:"response"`
}

// Client calls a Nitrate server over HTTP.
type Client struct {
	base  *url.URL
	http  *http.Client
	log   *zap.Logger
	group singleflight.Group
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout sets the timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http = &http.Client{Timeout: d}
		}
	}
}

// WithLogger sets the logger used for request diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// NewClient creates a Client for the server at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("nitrate: parsing base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("nitrate: base url %q must be http or https", baseURL)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	c := &Client{
		base: u,
		http: &http.Client{Timeout: DefaultTimeout},
		log:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Plan returns the plan with the given id.
func (c *Client) Plan(ctx context.Context, id int) (Plan, error) {
	plans, err := c.filter(ctx, "pk", id)
	if err != nil {
		return Plan{}, err
	}
	for _, p := range plans {
		if p.ID == id {
			return p, nil
		}
	}
	return Plan{}, fmt.Errorf("%w: plan %d", ErrNotFound, id)
}

// Children returns the plans whose parent is parentID.
func (c *Client) Children(ctx context.Context, parentID int) ([]Plan, error) {
	return c.filter(ctx, "parent__pk", parentID)
}

// filter runs one plan query. Identical concurrent queries share a single
// request, which is bounded by the http.Client timeout rather than by any
// one caller's context; each caller stops waiting when its own ctx is done.
func (c *Client) filter(ctx context.Context, key string, id int) ([]Plan, error) {
	q := url.Values{}
	q.Set("t", "ajax")
	q.Set(key, strconv.Itoa(id))
	endpoint := c.resolve("plans/", q)

	flight := context.WithoutCancel(ctx)
	ch := c.group.DoChan(endpoint, func() (any, error) {
		return c.getPlans(flight, endpoint)
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("nitrate: GET %s: %w", endpoint, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			c.log.Debug("shared in-flight plan query", zap.String("url", endpoint))
		}
		plans := res.Val.([]Plan)
		return append([]Plan(nil), plans...), nil
	}
}

func (c *Client) getPlans(ctx context.Context, endpoint string) ([]Plan, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("nitrate: building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, endpoint)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var plans []Plan
	if err := json.NewDecoder(resp.Body).Decode(&plans); err != nil {
		return nil, fmt.Errorf("nitrate: decoding plans: %w", err)
	}
	return plans, nil
}

// UpdateField sets one field on one object. A server reply saying nothing
// changed is reported as ErrUnchanged.
func (c *Client) UpdateField(ctx context.Context, u Update) error {
	form := url.Values{}
	form.Set("content_type", u.ContentType)
	form.Set("object_pk", strconv.Itoa(u.ObjectID))
	form.Set("field", u.Field)
	form.Set("value", u.Value)
	if u.Value == "" {
		form.Set("value_type", "None")
	} else {
		form.Set("value_type", "int")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.resolve("ajax/update/", nil), strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("nitrate: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}

	var out updateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("nitrate: decoding update response: %w", err)
	}
	if out.RC == 0 {
		return nil
	}
	if strings.Contains(strings.ToLower(out.Response), "nothing changed") {
		return fmt.Errorf("%w: %s %d", ErrUnchanged, u.Field, u.ObjectID)
	}
	return fmt.Errorf("%w: %s", ErrServer, out.Response)
}

// do sends req with a correlation id and logs the exchange.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	reqID := uuid.NewString()
	req.Header.Set("X-Request-ID", reqID)

	start := time.Now()
	resp, err := c.http.Do(req)
	fields := []zap.Field{
		zap.String("request_id", reqID),
		zap.String("method", req.Method),
		zap.String("url", req.URL.String()),
		zap.Duration("elapsed", time.Since(start)),
	}
	if err != nil {
		c.log.Warn("request failed", append(fields, zap.Error(err))...)
		return nil, fmt.Errorf("nitrate: %s %s: %w", req.Method, req.URL.Path, err)
	}
	c.log.Debug("request", append(fields, zap.Int("status", resp.StatusCode))...)
	return resp, nil
}

func (c *Client) resolve(path string, q url.Values) string {
	u := c.base.ResolveReference(&url.URL{Path: path})
	if q != nil {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return fmt.Errorf("%w: %d %s", ErrServer, resp.StatusCode, msg)
}
