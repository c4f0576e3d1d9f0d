package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/copilotmeter/internal/api/response"
	"github.com/kiranshivaraju/copilotmeter/internal/github"
	"github.com/kiranshivaraju/copilotmeter/pkg/models"
)

// TenantRepository is the part of store.TenantStore the tenant endpoints use.
type TenantRepository interface {
	GetAll(ctx context.Context) ([]models.Tenant, error)
	QueryAllByScopeName(ctx context.Context, scopeName string) ([]models.Tenant, error)
	Get(ctx context.Context, key models.TenantKey) (*models.Tenant, error)
	Save(ctx context.Context, t models.Tenant) error
	Remove(ctx context.Context, key models.TenantKey) (bool, error)
	SetActive(ctx context.Context, key models.TenantKey, active bool) (bool, error)
}

// StatusForgetter drops the refresh status of a removed tenant.
type StatusForgetter interface {
	ForgetRefreshStatus(ctx context.Context, key models.TenantKey) error
}

// NewListTenantsHandler returns an http.HandlerFunc for GET /api/v1/tenants.
// An optional scope_name narrows the list.
func NewListTenantsHandler(repo TenantRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			tenants []models.Tenant
			err     error
		)
		if name := strings.TrimSpace(r.URL.Query().Get("scope_name")); name != "" {
			tenants, err = repo.QueryAllByScopeName(r.Context(), name)
		} else {
			tenants, err = repo.GetAll(r.Context())
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Collection(w, tenants, response.Meta{Count: len(tenants)})
	}
}

type createTenantRequest struct {
	ScopeType string `json:"scope_type"`
	ScopeName string `json:"scope_name"`
	Team      string `json:"team"`
	Token     string `json:"token"`
	IsActive  *bool  `json:"is_active"`
}

// NewCreateTenantHandler returns an http.HandlerFunc for POST /api/v1/tenants.
// The credentials are checked against GitHub before the tenant is stored
// unless the request sets validate=false. Posting an existing key replaces
// its token and active flag.
func NewCreateTenantHandler(repo TenantRepository, client github.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createTenantRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		validate, err := boolParam(r, "validate", true)
		if err != nil {
			badRequest(w, err)
			return
		}

		scopeType, err := models.ParseScopeType(req.ScopeType)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		tenant := models.NewTenant(scopeType, strings.TrimSpace(req.ScopeName), req.Token, strings.TrimSpace(req.Team))
		if req.IsActive != nil {
			tenant.IsActive = *req.IsActive
		}
		if err := tenant.Validate(); err != nil {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}

		if validate {
			if err := validateTenant(r.Context(), client, tenant); err != nil {
				writeError(w, r, err)
				return
			}
		}

		if err := repo.Save(r.Context(), tenant); err != nil {
			writeError(w, r, err)
			return
		}
		saved, err := repo.Get(r.Context(), tenant.Key())
		if err != nil {
			writeError(w, r, err)
			return
		}

		slog.Info("tenant saved", "scope", tenant.Key().String(), "validated", validate)
		response.Created(w, saved)
	}
}

// validateTenant checks the tenant against GitHub. An inactive tenant is
// checked as if it were active so it can be stored for later activation.
func validateTenant(ctx context.Context, client github.Client, t models.Tenant) error {
	t.IsActive = true
	tc, err := client.ForTenant(t)
	if err != nil {
		return err
	}
	return tc.Validate(ctx)
}

// NewDeleteTenantHandler returns an http.HandlerFunc for DELETE /api/v1/tenants.
func NewDeleteTenantHandler(repo TenantRepository, statuses StatusForgetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := tenantKeyFromQuery(r)
		if err != nil {
			badRequest(w, err)
			return
		}

		removed, err := repo.Remove(r.Context(), key)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if !removed {
			response.Error(w, http.StatusNotFound, "TENANT_NOT_FOUND", "Tenant not found", nil)
			return
		}

		if err := statuses.ForgetRefreshStatus(r.Context(), key); err != nil {
			slog.Warn("forgetting refresh status failed", "scope", key.String(), "error", err)
		}
		slog.Info("tenant removed", "scope", key.String())
		response.NoContent(w)
	}
}

type activationResponse struct {
	Tenant   models.TenantKey `json:"tenant"`
	IsActive bool             `json:"is_active"`
}

// NewSetActiveHandler returns an http.HandlerFunc for
// POST /api/v1/tenants/activate and /api/v1/tenants/deactivate.
func NewSetActiveHandler(repo TenantRepository, active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := tenantKeyFromQuery(r)
		if err != nil {
			badRequest(w, err)
			return
		}

		found, err := repo.SetActive(r.Context(), key, active)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if !found {
			response.Error(w, http.StatusNotFound, "TENANT_NOT_FOUND", "Tenant not found", nil)
			return
		}
		response.JSON(w, activationResponse{Tenant: key, IsActive: active})
	}
}

// NewListTeamsHandler returns an http.HandlerFunc for GET /api/v1/tenants/teams.
// It lists the direct child teams of the tenant's scope live from GitHub.
func NewListTeamsHandler(repo TenantRepository, client github.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := tenantKeyFromQuery(r)
		if err != nil {
			badRequest(w, err)
			return
		}

		tenant, err := repo.Get(r.Context(), key)
		if err != nil {
			writeError(w, r, err)
			return
		}
		tc, err := client.ForTenant(*tenant)
		if err != nil {
			writeError(w, r, err)
			return
		}
		teams, err := tc.FetchTeams(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Collection(w, teams, response.Meta{Count: len(teams)})
	}
}
