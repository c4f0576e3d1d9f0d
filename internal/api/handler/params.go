// Package handler implements the HTTP handlers of the copilotmeter API.
// Handlers depend on small interfaces so they can be tested without
// Postgres, Redis or GitHub.
package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kiranshivaraju/copilotmeter/internal/api/response"
	"github.com/kiranshivaraju/copilotmeter/internal/github"
	"github.com/kiranshivaraju/copilotmeter/internal/store"
	"github.com/kiranshivaraju/copilotmeter/pkg/models"
)

const dateLayout = "2006-01-02"

// tenantKeyFromQuery reads scope_type, scope_name and team from the query
// string.
func tenantKeyFromQuery(r *http.Request) (models.TenantKey, error) {
	q := r.URL.Query()
	scopeType, err := models.ParseScopeType(q.Get("scope_type"))
	if err != nil {
		return models.TenantKey{}, err
	}
	name := strings.TrimSpace(q.Get("scope_name"))
	if name == "" {
		return models.TenantKey{}, errors.New("scope_name is required")
	}
	return models.TenantKey{
		ScopeType: scopeType,
		ScopeName: name,
		Team:      strings.TrimSpace(q.Get("team")),
	}, nil
}

// timeParam accepts RFC3339 timestamps or plain dates. A missing parameter
// yields the zero time.
func timeParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be an RFC3339 timestamp or a YYYY-MM-DD date", name)
	}
	return t, nil
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	return n, nil
}

func boolParam(r *http.Request, name string, def bool) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s must be true or false", name)
	}
	return b, nil
}

func badRequest(w http.ResponseWriter, err error) {
	response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
}

// writeError maps domain errors onto API error responses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidTenant):
		response.Error(w, http.StatusUnprocessableEntity, "INVALID_TENANT", err.Error(), nil)
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "TENANT_NOT_FOUND", "Tenant not found", nil)
	case errors.Is(err, store.ErrDuplicateKey):
		response.Error(w, http.StatusConflict, "DUPLICATE_TENANT", "Tenant already exists", nil)
	case errors.Is(err, store.ErrNotConnected):
		response.Error(w, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE",
			"The database is not reachable", nil)
	case errors.Is(err, github.ErrRateLimited):
		response.Error(w, http.StatusTooManyRequests, "UPSTREAM_RATE_LIMITED",
			"The GitHub request budget is exhausted", nil)
	case errors.Is(err, github.ErrUpstreamTimeout):
		response.Error(w, http.StatusGatewayTimeout, "UPSTREAM_TIMEOUT",
			"GitHub did not respond in time", nil)
	case errors.Is(err, github.ErrUpstreamStatus), errors.Is(err, github.ErrUpstreamUnreachable),
		errors.Is(err, github.ErrMalformedResponse):
		response.Error(w, http.StatusBadGateway, "UPSTREAM_ERROR", err.Error(), nil)
	default:
		slog.Error("request failed", "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}
