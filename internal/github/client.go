// Package github fetches Copilot usage, seats and team hierarchy from the
// GitHub REST API for one tenant scope at a time.
package github

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/kiranshivaraju/copilotmeter/pkg/models"
)

const (
	acceptHeader = "application/vnd.github+json"
	apiVersion   = "2022-11-28"
)

// Client hands out tenant-scoped clients.
type Client interface {
	ForTenant(t models.Tenant) (TenantClient, error)
}

// TenantClient performs API calls on behalf of one active tenant.
type TenantClient interface {
	Tenant() models.Tenant
	ScopeURL() string
	Validate(ctx context.Context) error
	DiscoverChildTeams(ctx context.Context) ([]string, error)
	FetchUsage(ctx context.Context) UsageResult
	FetchTeams(ctx context.Context) ([]models.Team, error)
	FetchTeamUsage(ctx context.Context, teamSlug string) ([]models.UsageRecord, error)
	FetchSeats(ctx context.Context) (models.TotalSeats, error)
}

// Limiter gates outgoing requests. Allow returns false once the budget for
// key is spent in the current window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithLimiter installs a request budget shared by all tenants using the same token.
func WithLimiter(l Limiter) Option {
	return func(c *HTTPClient) { c.limiter = l }
}

// WithMaxDepth bounds how many team levels FetchUsage descends below the
// scope. 0 disables child-team discovery.
func WithMaxDepth(depth int) Option {
	return func(c *HTTPClient) {
		if depth >= 0 {
			c.maxDepth = depth
		}
	}
}

// WithConcurrency sets how many teams of one level are fetched at once.
func WithConcurrency(n int) Option {
	return func(c *HTTPClient) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) { c.client = hc }
}

// HTTPClient implements Client using GitHub's REST API.
type HTTPClient struct {
	baseURL     string
	client      *http.Client
	limiter     Limiter
	maxDepth    int
	concurrency int
}

// NewHTTPClient creates a new GitHub API client rooted at baseURL
// (https://api.github.com or a GHES /api/v3 prefix).
func NewHTTPClient(baseURL string, timeout time.Duration, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL:     baseURL,
		client:      &http.Client{Timeout: timeout},
		maxDepth:    1,
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ForTenant returns a client bound to t. Inactive or incomplete tenants are
// rejected here, before any request is made.
func (c *HTTPClient) ForTenant(t models.Tenant) (TenantClient, error) {
	if !t.IsActive {
		return nil, &models.InvalidTenantError{Key: t.Key(), Reason: "inactive tenant cannot be used for API operations"}
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &ScopedClient{http: c, tenant: t, budgetKey: tokenFingerprint(t.Token)}, nil
}

// ScopedClient implements TenantClient.
type ScopedClient struct {
	http      *HTTPClient
	tenant    models.Tenant
	budgetKey string
}

func (s *ScopedClient) Tenant() models.Tenant { return s.tenant }

// ScopeURL returns the base endpoint for the tenant: the org or enterprise
// URL, with the team segment nested beneath it when the tenant has a team.
// It is derived from the tenant on every call.
func (s *ScopedClient) ScopeURL() string {
	return s.http.baseURL + scopePath(s.tenant)
}

func scopePath(t models.Tenant) string {
	var base string
	switch t.ScopeType {
	case models.ScopeEnterprise:
		base = "/enterprises/" + url.PathEscape(t.ScopeName)
	default:
		base = "/orgs/" + url.PathEscape(t.ScopeName)
	}
	if t.HasTeam() {
		base += "/team/" + url.PathEscape(t.Team)
	}
	return base
}

func (s *ScopedClient) teamURL(slug string) string {
	return s.ScopeURL() + "/team/" + url.PathEscape(slug)
}

// getJSON issues an authenticated GET and decodes a 200 response into out.
func (s *ScopedClient) getJSON(ctx context.Context, op, u string, out any) error {
	if s.http.limiter != nil {
		ok, err := s.http.limiter.Allow(ctx, s.budgetKey)
		if err != nil {
			// Budget store unavailable: fail open.
			slog.Warn("github request budget check failed", "op", op, "error", err)
		} else if !ok {
			return &UpstreamError{Op: op, URL: u, Err: ErrRateLimited}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return &UpstreamError{Op: op, URL: u, Err: fmt.Errorf("building request: %w", err)}
	}
	s.setHeaders(req)

	resp, err := s.http.client.Do(req)
	if err != nil {
		return &UpstreamError{Op: op, URL: u, Err: classifyError(err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &UpstreamError{Op: op, URL: u, StatusCode: resp.StatusCode, Err: ErrUpstreamStatus}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &UpstreamError{Op: op, URL: u, StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: decoding response: %v", ErrMalformedResponse, err)}
	}
	return nil
}

func (s *ScopedClient) setHeaders(req *http.Request) {
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("Authorization", "Bearer "+s.tenant.Token)
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
}

// tokenFingerprint keys the request budget without putting the token itself
// into the budget store.
func tokenFingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:8])
}

// Compile-time checks.
var (
	_ Client       = (*HTTPClient)(nil)
	_ TenantClient = (*ScopedClient)(nil)
)
