package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/kiranshivaraju/copilotmeter/internal/api"
	"github.com/kiranshivaraju/copilotmeter/internal/api/handler"
	mw "github.com/kiranshivaraju/copilotmeter/internal/api/middleware"
	"github.com/kiranshivaraju/copilotmeter/internal/github"
	"github.com/kiranshivaraju/copilotmeter/internal/store"
	"github.com/kiranshivaraju/copilotmeter/pkg/models"
)

// ─── test fixtures ───────────────────────────────────────────────────────────

const (
	testAdminKey = "cpm_admin_contract_key_1234567890"
	testReadKey  = "cpm_read__contract_key_1234567890"
)

var (
	acme    = models.NewTenant(models.ScopeOrganization, "acme", "ghp_acme", "")
	acmeWeb = models.NewTenant(models.ScopeOrganization, "acme", "ghp_acme", "web")
)

func hashKey(raw string) string {
	h, _ := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.MinCost)
	return string(h)
}

// ─── mock tenant repository ──────────────────────────────────────────────────

type mockRepo struct {
	mu      sync.Mutex
	tenants map[models.TenantKey]models.Tenant
	order   []models.TenantKey
	err     error
}

func newMockRepo(ts ...models.Tenant) *mockRepo {
	r := &mockRepo{tenants: map[models.TenantKey]models.Tenant{}}
	for _, t := range ts {
		r.Save(context.Background(), t)
	}
	return r
}

func (r *mockRepo) GetAll(_ context.Context) ([]models.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return []models.Tenant{}, r.err
	}
	out := []models.Tenant{}
	for _, k := range r.order {
		out = append(out, r.tenants[k])
	}
	return out, nil
}

func (r *mockRepo) QueryAllByScopeName(ctx context.Context, name string) ([]models.Tenant, error) {
	all, err := r.GetAll(ctx)
	out := []models.Tenant{}
	for _, t := range all {
		if t.ScopeName == name {
			out = append(out, t)
		}
	}
	return out, err
}

func (r *mockRepo) Get(_ context.Context, key models.TenantKey) (*models.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	t, ok := r.tenants[key]
	if !ok {
		return nil, &store.StorageError{Op: "get tenant", Err: store.ErrNotFound}
	}
	return &t, nil
}

func (r *mockRepo) Save(_ context.Context, t models.Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if existing, ok := r.tenants[t.Key()]; ok {
		existing.Token, existing.IsActive = t.Token, t.IsActive
		r.tenants[t.Key()] = existing
		return nil
	}
	t.ID = uuid.New()
	r.tenants[t.Key()] = t
	r.order = append(r.order, t.Key())
	return nil
}

func (r *mockRepo) Remove(_ context.Context, key models.TenantKey) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tenants[key]; !ok {
		return false, r.err
	}
	delete(r.tenants, key)
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (r *mockRepo) SetActive(_ context.Context, key models.TenantKey, active bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[key]
	if !ok {
		return false, r.err
	}
	t.IsActive = active
	r.tenants[key] = t
	return true, nil
}

var _ handler.TenantRepository = (*mockRepo)(nil)

// ─── mock github client ──────────────────────────────────────────────────────

type mockClient struct {
	validateErr error
	teams       []models.Team
	teamsErr    error
	validated   []models.TenantKey
}

func (c *mockClient) ForTenant(t models.Tenant) (github.TenantClient, error) {
	if !t.IsActive {
		return nil, &models.InvalidTenantError{Key: t.Key(), Reason: "tenant is inactive"}
	}
	return &mockTenantClient{c: c, t: t}, nil
}

type mockTenantClient struct {
	c *mockClient
	t models.Tenant
}

func (m *mockTenantClient) Tenant() models.Tenant { return m.t }

func (m *mockTenantClient) ScopeURL() string { return "" }

func (m *mockTenantClient) Validate(_ context.Context) error {
	m.c.validated = append(m.c.validated, m.t.Key())
	if m.c.validateErr != nil {
		return &models.InvalidTenantError{Key: m.t.Key(), Reason: "rejected", Err: m.c.validateErr}
	}
	return nil
}

func (m *mockTenantClient) DiscoverChildTeams(_ context.Context) ([]string, error) {
	return []string{}, nil
}

func (m *mockTenantClient) FetchUsage(_ context.Context) github.UsageResult {
	return github.UsageResult{Records: []models.UsageRecord{}}
}

func (m *mockTenantClient) FetchTeams(_ context.Context) ([]models.Team, error) {
	return m.c.teams, m.c.teamsErr
}

func (m *mockTenantClient) FetchTeamUsage(_ context.Context, _ string) ([]models.UsageRecord, error) {
	return []models.UsageRecord{}, nil
}

func (m *mockTenantClient) FetchSeats(_ context.Context) (models.TotalSeats, error) {
	return models.NewTotalSeats(nil), nil
}

// ─── mock stores ─────────────────────────────────────────────────────────────

type mockStores struct {
	seats       models.TotalSeats
	latestAt    time.Time
	usage       []models.UsageRecord
	err         error
	seatScopes  []store.Scope
	usageScopes []store.Scope
	seatQuery   store.SeatQuery
	usageQuery  store.UsageQuery
}

func (s *mockStores) Seats(_ context.Context, scope store.Scope) handler.SeatReader {
	s.seatScopes = append(s.seatScopes, scope)
	return s
}

func (s *mockStores) Usage(_ context.Context, scope store.Scope) handler.UsageReader {
	s.usageScopes = append(s.usageScopes, scope)
	return s
}

func (s *mockStores) QueryPage(_ context.Context, q store.SeatQuery) (models.TotalSeats, error) {
	s.seatQuery = q
	return s.seats, s.err
}

func (s *mockStores) ReadLatest(_ context.Context) (models.TotalSeats, time.Time, error) {
	return s.seats, s.latestAt, s.err
}

func (s *mockStores) Query(_ context.Context, q store.UsageQuery) ([]models.UsageRecord, error) {
	s.usageQuery = q
	return s.usage, s.err
}

// ─── mock status board ───────────────────────────────────────────────────────

type mockBoard struct {
	statuses  map[models.TenantKey]models.RefreshStatus
	forgotten []models.TenantKey
	running   bool
}

func (b *mockBoard) GetRefreshStatus(_ context.Context, key models.TenantKey) (models.RefreshStatus, bool, error) {
	s, ok := b.statuses[key]
	return s, ok, nil
}

func (b *mockBoard) ListRefreshStatus(_ context.Context) ([]models.RefreshStatus, error) {
	out := []models.RefreshStatus{}
	for _, s := range b.statuses {
		out = append(out, s)
	}
	return out, nil
}

func (b *mockBoard) ForgetRefreshStatus(_ context.Context, key models.TenantKey) error {
	b.forgotten = append(b.forgotten, key)
	delete(b.statuses, key)
	return nil
}

func (b *mockBoard) Trigger() bool {
	if b.running {
		return false
	}
	b.running = true
	return true
}

// ─── mock counter ────────────────────────────────────────────────────────────

type mockCounter struct {
	mu       sync.Mutex
	counters map[string]int64
}

func (c *mockCounter) IncrWithExpiry(_ context.Context, key string, _ time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[key]++
	return c.counters[key], nil
}

// ─── test harness ────────────────────────────────────────────────────────────

type testServer struct {
	server *httptest.Server
	repo   *mockRepo
	client *mockClient
	stores *mockStores
	board  *mockBoard
}

func newTestServer(t *testing.T, tenants ...models.Tenant) *testServer {
	t.Helper()

	ts := &testServer{
		repo:   newMockRepo(tenants...),
		client: &mockClient{teams: []models.Team{}},
		stores: &mockStores{seats: models.NewTotalSeats(nil), usage: []models.UsageRecord{}},
		board:  &mockBoard{statuses: map[models.TenantKey]models.RefreshStatus{}},
	}

	router := api.NewRouter(api.Dependencies{
		Auth:      mw.NewAuth(hashKey(testAdminKey), hashKey(testReadKey)),
		RateLimit: mw.NewRateLimit(&mockCounter{counters: map[string]int64{}}, 100),

		ListTenants:      handler.NewListTenantsHandler(ts.repo),
		CreateTenant:     handler.NewCreateTenantHandler(ts.repo, ts.client),
		DeleteTenant:     handler.NewDeleteTenantHandler(ts.repo, ts.board),
		ActivateTenant:   handler.NewSetActiveHandler(ts.repo, true),
		DeactivateTenant: handler.NewSetActiveHandler(ts.repo, false),
		ListTeams:        handler.NewListTeamsHandler(ts.repo, ts.client),
		Seats:            handler.NewSeatsHandler(ts.repo, ts.stores),
		Usage:            handler.NewUsageHandler(ts.repo, ts.stores),
		RefreshStatus:    handler.NewRefreshStatusHandler(ts.board),
		TriggerRefresh:   handler.NewTriggerRefreshHandler(ts.board),
	})
	ts.server = httptest.NewServer(router)
	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, key string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func keyQuery(k models.TenantKey) string {
	v := url.Values{}
	v.Set("scope_type", string(k.ScopeType))
	v.Set("scope_name", k.ScopeName)
	if k.Team != "" {
		v.Set("team", k.Team)
	}
	return v.Encode()
}

func parseBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	return parseBody(t, resp)["error"].(map[string]any)["code"].(string)
}

// ─── tenants ─────────────────────────────────────────────────────────────────

func TestListTenants_HidesTokens(t *testing.T) {
	ts := newTestServer(t, acme, acmeWeb)

	resp := ts.do(t, "GET", "/api/v1/tenants", testReadKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := parseBody(t, resp)
	data := body["data"].([]any)
	require.Len(t, data, 2)
	first := data[0].(map[string]any)
	assert.Equal(t, "acme", first["scope_name"])
	_, hasToken := first["token"]
	assert.False(t, hasToken)
	assert.Equal(t, float64(2), body["meta"].(map[string]any)["count"])
}

func TestListTenants_FilterByScopeName(t *testing.T) {
	other := models.NewTenant(models.ScopeEnterprise, "bigco", "tok", "")
	ts := newTestServer(t, acme, other)

	resp := ts.do(t, "GET", "/api/v1/tenants?scope_name=bigco", testReadKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data := parseBody(t, resp)["data"].([]any)
	require.Len(t, data, 1)
	assert.Equal(t, "enterprise", data[0].(map[string]any)["scope_type"])
}

func TestListTenants_StorageUnavailable(t *testing.T) {
	ts := newTestServer(t)
	ts.repo.err = &store.StorageError{Op: "list tenants", Err: store.ErrNotConnected}

	resp := ts.do(t, "GET", "/api/v1/tenants", testReadKey, nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "STORAGE_UNAVAILABLE", errorCode(t, resp))
}

func TestCreateTenant_ValidatesAndSaves(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, "POST", "/api/v1/tenants", testAdminKey, map[string]any{
		"scope_type": "Organization",
		"scope_name": "acme",
		"token":      "ghp_new",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	data := parseBody(t, resp)["data"].(map[string]any)
	assert.Equal(t, "organization", data["scope_type"])
	assert.Equal(t, true, data["is_active"])
	assert.NotEmpty(t, data["id"])
	assert.Equal(t, []models.TenantKey{acme.Key()}, ts.client.validated)
}

func TestCreateTenant_UpstreamRejects(t *testing.T) {
	ts := newTestServer(t)
	ts.client.validateErr = &github.UpstreamError{Op: "validate tenant", StatusCode: 401, Err: github.ErrUpstreamStatus}

	resp := ts.do(t, "POST", "/api/v1/tenants", testAdminKey, map[string]any{
		"scope_type": "organization", "scope_name": "acme", "token": "bad",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "INVALID_TENANT", errorCode(t, resp))

	all, _ := ts.repo.GetAll(context.Background())
	assert.Empty(t, all, "rejected tenants are not stored")
}

func TestCreateTenant_SkipValidation(t *testing.T) {
	ts := newTestServer(t)
	ts.client.validateErr = errors.New("must not be called")

	resp := ts.do(t, "POST", "/api/v1/tenants?validate=false", testAdminKey, map[string]any{
		"scope_type": "enterprise", "scope_name": "bigco", "token": "tok", "is_active": false,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Empty(t, ts.client.validated)
	assert.Equal(t, false, parseBody(t, resp)["data"].(map[string]any)["is_active"])
}

func TestCreateTenant_InactiveIsStillValidated(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, "POST", "/api/v1/tenants", testAdminKey, map[string]any{
		"scope_type": "organization", "scope_name": "acme", "token": "tok", "is_active": false,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Len(t, ts.client.validated, 1)
}

func TestCreateTenant_BadInput(t *testing.T) {
	ts := newTestServer(t)

	cases := []struct {
		name string
		path string
		body any
		code string
	}{
		{"bad json", "/api/v1/tenants", "not an object", "INVALID_REQUEST"},
		{"bad scope type", "/api/v1/tenants", map[string]any{"scope_type": "user", "scope_name": "a", "token": "t"}, "VALIDATION_ERROR"},
		{"missing name", "/api/v1/tenants", map[string]any{"scope_type": "organization", "token": "t"}, "VALIDATION_ERROR"},
		{"missing token", "/api/v1/tenants", map[string]any{"scope_type": "organization", "scope_name": "a"}, "VALIDATION_ERROR"},
		{"bad validate flag", "/api/v1/tenants?validate=maybe", map[string]any{}, "INVALID_REQUEST"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := ts.do(t, "POST", tc.path, testAdminKey, tc.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, tc.code, errorCode(t, resp))
		})
	}
}

func TestCreateTenant_RequiresAdmin(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, "POST", "/api/v1/tenants", testReadKey, map[string]any{
		"scope_type": "organization", "scope_name": "acme", "token": "tok",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestDeleteTenant(t *testing.T) {
	ts := newTestServer(t, acme, acmeWeb)
	ts.board.statuses[acmeWeb.Key()] = models.RefreshStatus{Tenant: acmeWeb.Key()}

	resp := ts.do(t, "DELETE", "/api/v1/tenants?"+keyQuery(acmeWeb.Key()), testAdminKey, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, err := ts.repo.Get(context.Background(), acme.Key())
	assert.NoError(t, err, "only the exact key is removed")
	assert.Equal(t, []models.TenantKey{acmeWeb.Key()}, ts.board.forgotten)

	resp = ts.do(t, "DELETE", "/api/v1/tenants?"+keyQuery(acmeWeb.Key()), testAdminKey, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteTenant_MissingKey(t *testing.T) {
	ts := newTestServer(t, acme)

	resp := ts.do(t, "DELETE", "/api/v1/tenants?scope_type=organization", testAdminKey, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSetActive(t *testing.T) {
	ts := newTestServer(t, acme)

	resp := ts.do(t, "POST", "/api/v1/tenants/deactivate?"+keyQuery(acme.Key()), testAdminKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, parseBody(t, resp)["data"].(map[string]any)["is_active"])

	got, _ := ts.repo.Get(context.Background(), acme.Key())
	assert.False(t, got.IsActive)

	resp = ts.do(t, "POST", "/api/v1/tenants/activate?"+keyQuery(acme.Key()), testAdminKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got, _ = ts.repo.Get(context.Background(), acme.Key())
	assert.True(t, got.IsActive)

	resp = ts.do(t, "POST", "/api/v1/tenants/activate?scope_type=organization&scope_name=ghost", testAdminKey, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// ─── teams ───────────────────────────────────────────────────────────────────

func TestListTeams(t *testing.T) {
	ts := newTestServer(t, acme)
	ts.client.teams = []models.Team{{Name: "Web", ID: 1, Slug: "web"}, {Name: "API", ID: 2, Slug: "api"}}

	resp := ts.do(t, "GET", "/api/v1/tenants/teams?"+keyQuery(acme.Key()), testReadKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data := parseBody(t, resp)["data"].([]any)
	require.Len(t, data, 2)
	assert.Equal(t, "web", data[0].(map[string]any)["slug"])
}

func TestListTeams_Errors(t *testing.T) {
	inactive := models.NewTenant(models.ScopeOrganization, "dormant", "tok", "")
	inactive.IsActive = false
	ts := newTestServer(t, acme, inactive)

	resp := ts.do(t, "GET", "/api/v1/tenants/teams?scope_type=organization&scope_name=ghost", testReadKey, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = ts.do(t, "GET", "/api/v1/tenants/teams?"+keyQuery(inactive.Key()), testReadKey, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	ts.client.teamsErr = &github.UpstreamError{Op: "list teams", Err: github.ErrUpstreamTimeout}
	resp = ts.do(t, "GET", "/api/v1/tenants/teams?"+keyQuery(acme.Key()), testReadKey, nil)
	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)

	ts.client.teamsErr = &github.UpstreamError{Op: "list teams", StatusCode: 500, Err: github.ErrUpstreamStatus}
	resp = ts.do(t, "GET", "/api/v1/tenants/teams?"+keyQuery(acme.Key()), testReadKey, nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	ts.client.teamsErr = &github.UpstreamError{Op: "list teams", Err: github.ErrMalformedResponse}
	resp = ts.do(t, "GET", "/api/v1/tenants/teams?"+keyQuery(acme.Key()), testReadKey, nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	ts.client.teamsErr = &github.UpstreamError{Op: "list teams", Err: github.ErrRateLimited}
	resp = ts.do(t, "GET", "/api/v1/tenants/teams?"+keyQuery(acme.Key()), testReadKey, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

// ─── seats ───────────────────────────────────────────────────────────────────

func TestSeats_Paged(t *testing.T) {
	ts := newTestServer(t, acme)
	ts.stores.seats = models.NewTotalSeats([]models.Seat{{Login: "a"}, {Login: "b"}})

	resp := ts.do(t, "GET", "/api/v1/seats?"+keyQuery(acme.Key())+"&since=2024-01-01&until=2024-01-31T23:59:59Z&page=2&per_page=2", testReadKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := parseBody(t, resp)
	assert.Len(t, body["data"].([]any), 2)
	meta := body["meta"].(map[string]any)
	assert.Equal(t, float64(2), meta["page"])
	assert.Equal(t, true, meta["has_next"])

	assert.Equal(t, []store.Scope{{Type: "organization", Name: "acme"}}, ts.stores.seatScopes)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), ts.stores.seatQuery.Since)
	assert.Equal(t, time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC), ts.stores.seatQuery.Until)
	assert.Equal(t, 2, ts.stores.seatQuery.Page)
	assert.Equal(t, 2, ts.stores.seatQuery.PerPage)
}

func TestSeats_Defaults(t *testing.T) {
	ts := newTestServer(t, acme)

	resp := ts.do(t, "GET", "/api/v1/seats?"+keyQuery(acme.Key()), testReadKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, store.DefaultSeatPage, ts.stores.seatQuery.Page)
	assert.Equal(t, store.DefaultSeatPerPage, ts.stores.seatQuery.PerPage)
	assert.True(t, ts.stores.seatQuery.Since.IsZero())
	body := parseBody(t, resp)
	assert.Equal(t, []any{}, body["data"])
	assert.Equal(t, false, body["meta"].(map[string]any)["has_next"])
}

func TestSeats_TeamTenantUsesTeamScope(t *testing.T) {
	ts := newTestServer(t, acmeWeb)

	resp := ts.do(t, "GET", "/api/v1/seats?"+keyQuery(acmeWeb.Key()), testReadKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []store.Scope{{Type: "team", Name: "organization/acme/web"}}, ts.stores.seatScopes)
}

func TestSeats_Latest(t *testing.T) {
	ts := newTestServer(t, acme)
	ts.stores.seats = models.NewTotalSeats([]models.Seat{{Login: "a"}})
	ts.stores.latestAt = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	resp := ts.do(t, "GET", "/api/v1/seats?latest=true&"+keyQuery(acme.Key()), testReadKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data := parseBody(t, resp)["data"].(map[string]any)
	assert.Equal(t, "2024-03-01T12:00:00Z", data["refresh_time"])
	assert.Equal(t, float64(1), data["count"])
}

func TestSeats_LatestWithoutSnapshots(t *testing.T) {
	ts := newTestServer(t, acme)

	resp := ts.do(t, "GET", "/api/v1/seats?latest=true&"+keyQuery(acme.Key()), testReadKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data := parseBody(t, resp)["data"].(map[string]any)
	assert.Nil(t, data["refresh_time"])
	assert.Equal(t, []any{}, data["seats"])
}

func TestSeats_BadParams(t *testing.T) {
	ts := newTestServer(t, acme)

	for _, q := range []string{"since=yesterday", "until=2024-13-01", "page=0", "per_page=x", "latest=perhaps"} {
		resp := ts.do(t, "GET", "/api/v1/seats?"+keyQuery(acme.Key())+"&"+q, testReadKey, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}
	assert.Empty(t, ts.stores.seatScopes)
}

func TestSeats_UnknownTenantOpensNoStore(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, "GET", "/api/v1/seats?scope_type=organization&scope_name=ghost", testReadKey, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Empty(t, ts.stores.seatScopes)
}

func TestSeats_StorageFailure(t *testing.T) {
	ts := newTestServer(t, acme)
	ts.stores.err = &store.StorageError{Op: "query seats", Err: errors.Join(store.ErrNotConnected, errors.New("refused"))}

	resp := ts.do(t, "GET", "/api/v1/seats?"+keyQuery(acme.Key()), testReadKey, nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

// ─── usage ───────────────────────────────────────────────────────────────────

func TestUsage_ScopeTenant(t *testing.T) {
	ts := newTestServer(t, acme)
	ts.stores.usage = []models.UsageRecord{{ScopeName: "acme", Day: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}}

	resp := ts.do(t, "GET", "/api/v1/usage?"+keyQuery(acme.Key())+"&since=2024-01-01&child_team=api", testReadKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Len(t, parseBody(t, resp)["data"].([]any), 1)
	assert.Equal(t, []store.Scope{{Type: "organization", Name: "acme"}}, ts.stores.usageScopes)
	assert.Equal(t, "api", ts.stores.usageQuery.Team)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), ts.stores.usageQuery.Since)
}

func TestUsage_TeamTenantIsNarrowedToItsTeam(t *testing.T) {
	ts := newTestServer(t, acmeWeb)

	resp := ts.do(t, "GET", "/api/v1/usage?"+keyQuery(acmeWeb.Key())+"&child_team=other", testReadKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, []store.Scope{{Type: "organization", Name: "acme"}}, ts.stores.usageScopes)
	assert.Equal(t, "web", ts.stores.usageQuery.Team)
}

func TestUsage_UnknownTenant(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, "GET", "/api/v1/usage?scope_type=enterprise&scope_name=ghost", testReadKey, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "TENANT_NOT_FOUND", errorCode(t, resp))
}

// ─── refresh ─────────────────────────────────────────────────────────────────

func TestRefreshStatus(t *testing.T) {
	ts := newTestServer(t, acme)
	ts.board.statuses[acme.Key()] = models.RefreshStatus{
		Tenant:       acme.Key(),
		UsageRecords: 3,
		Failures:     []string{"team usage web: boom"},
	}

	resp := ts.do(t, "GET", "/api/v1/refresh/status", testReadKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, parseBody(t, resp)["data"].([]any), 1)

	resp = ts.do(t, "GET", "/api/v1/refresh/status?"+keyQuery(acme.Key()), testReadKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := parseBody(t, resp)["data"].(map[string]any)
	assert.Equal(t, float64(3), data["usage_records"])

	resp = ts.do(t, "GET", "/api/v1/refresh/status?"+keyQuery(acmeWeb.Key()), testReadKey, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "STATUS_NOT_FOUND", errorCode(t, resp))
}

func TestTriggerRefresh(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, "POST", "/api/v1/refresh", testAdminKey, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = ts.do(t, "POST", "/api/v1/refresh", testAdminKey, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "REFRESH_RUNNING", errorCode(t, resp))
}
