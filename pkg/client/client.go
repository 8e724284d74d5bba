package client

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
	"time"
)

// Record mirrors the server's ledger record.
type Record struct {
	Owner             string `json:"owner"`
	StreakCount       uint64 `json:"streak_count"`
	LastInteractionTS int64  `json:"last_interaction_ts"`
	CreatedTS         int64  `json:"created_ts"`
	MilestonesClaimed uint8  `json:"milestones_claimed"`
}

// Event is emitted by an accepted engagement.
type Event struct {
	Kind         string `json:"kind"`
	Label        string `json:"label,omitempty"`
	BadgeID      string `json:"badge_id,omitempty"`
	RewardPoints uint64 `json:"reward_points,omitempty"`
	Threshold    uint64 `json:"threshold,omitempty"`
}

// Milestone is one entry of the server's milestone table.
type Milestone struct {
	Threshold    uint64 `json:"threshold"`
	Label        string `json:"label"`
	RewardPoints uint64 `json:"reward_points"`
	BadgeID      string `json:"badge_id"`
}

// Result is returned by Initialize and RecordEngagement.
type Result struct {
	Record         Record  `json:"record"`
	Address        string  `json:"address"`
	Events         []Event `json:"events"`
	NextEligibleAt int64   `json:"next_eligible_at,omitempty"`
	ExpiresAt      int64   `json:"expires_at,omitempty"`
}

// RecordView is returned by Get.
type RecordView struct {
	Record         Record      `json:"record"`
	Address        string      `json:"address"`
	NextEligibleAt int64       `json:"next_eligible_at"`
	ExpiresAt      int64       `json:"expires_at"`
	Milestones     []Milestone `json:"milestones"`
	NextMilestone  *Milestone  `json:"next_milestone,omitempty"`
}

// AddressInfo is returned by Address.
type AddressInfo struct {
	Owner     string `json:"owner"`
	Namespace string `json:"namespace"`
	Address   string `json:"address"`
}

// MilestoneTable is returned by Milestones.
type MilestoneTable struct {
	Milestones  []Milestone `json:"milestones"`
	MinInterval int64       `json:"min_interval"`
	MaxInterval int64       `json:"max_interval"`
}

// Client is the SDK entry point. It is safe for concurrent use.
type Client struct {
	base        string
	httpClient  *http.Client
	bearerToken string
	devOwner    string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithBearerToken attaches an owner token to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// WithDevOwner names the caller in the development header. Servers with a
// token secret ignore it.
func WithDevOwner(owner string) Option {
	return func(c *Client) error {
		c.devOwner = owner
		return nil
	}
}

// New creates a Client for the server at base, e.g. "http://localhost:8080".
func New(base string, opts ...Option) (*Client, error) {
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", base)
	}
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(base string, opts ...Option) *Client {
	c, err := New(base, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Initialize creates the caller's record.
func (c *Client) Initialize(ctx context.Context) (*Result, error) {
	var out Result
	if err := c.call(ctx, http.MethodPost, "/api/v1/streaks", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RecordEngagement records an engagement by the caller.
func (c *Client) RecordEngagement(ctx context.Context) (*Result, error) {
	var out Result
	if err := c.call(ctx, http.MethodPost, "/api/v1/streaks/engagements", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Get returns the record of owner.
func (c *Client) Get(ctx context.Context, owner string) (*RecordView, error) {
	var out RecordView
	if err := c.call(ctx, http.MethodGet, "/api/v1/streaks/"+url.PathEscape(owner), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Address returns the derived storage address of owner's record.
func (c *Client) Address(ctx context.Context, owner string) (*AddressInfo, error) {
	var out AddressInfo
	if err := c.call(ctx, http.MethodGet, "/api/v1/streaks/"+url.PathEscape(owner)+"/address", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Milestones returns the server's milestone table.
func (c *Client) Milestones(ctx context.Context) (*MilestoneTable, error) {
	var out MilestoneTable
	if err := c.call(ctx, http.MethodGet, "/api/v1/milestones", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Snapshot asks the server to export a snapshot and returns its manifest.
func (c *Client) Snapshot(ctx context.Context, adminSecret string) (map[string]any, error) {
	var out map[string]any
	hdr := http.Header{"X-Admin-Secret": []string{adminSecret}}
	if err := c.call(ctx, http.MethodPost, "/api/v1/admin/snapshots", hdr, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) call(ctx context.Context, method, path string, hdr http.Header, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(nil))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for k, v := range hdr {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}
	if c.devOwner != "" {
		req.Header.Set("X-Civic-Owner", c.devOwner)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return decodeError(resp, body)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response, body []byte) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	var payload struct {
		Error             string `json:"error"`
		Reason            string `json:"reason"`
		RetryAfterSeconds int64  `json:"retry_after_seconds"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Error != "" {
			apiErr.Message = payload.Error
		}
		apiErr.Reason = payload.Reason
		apiErr.RetryAfter = time.Duration(payload.RetryAfterSeconds) * time.Second
	}
	if apiErr.RetryAfter == 0 {
		if s, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			apiErr.RetryAfter = time.Duration(s) * time.Second
		}
	}
	return apiErr
}
