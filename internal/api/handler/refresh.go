package handler

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/copilotmeter/internal/api/response"
	"github.com/kiranshivaraju/copilotmeter/pkg/models"
)

// StatusBoard reads the outcome of past refreshes.
type StatusBoard interface {
	GetRefreshStatus(ctx context.Context, key models.TenantKey) (models.RefreshStatus, bool, error)
	ListRefreshStatus(ctx context.Context) ([]models.RefreshStatus, error)
}

// Trigger starts a refresh pass in the background.
type Trigger interface {
	Trigger() bool
}

// NewRefreshStatusHandler returns an http.HandlerFunc for
// GET /api/v1/refresh/status. Without a scope_name it lists every tenant.
func NewRefreshStatusHandler(board StatusBoard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("scope_name") == "" {
			statuses, err := board.ListRefreshStatus(r.Context())
			if err != nil {
				writeError(w, r, err)
				return
			}
			response.Collection(w, statuses, response.Meta{Count: len(statuses)})
			return
		}

		key, err := tenantKeyFromQuery(r)
		if err != nil {
			badRequest(w, err)
			return
		}
		status, found, err := board.GetRefreshStatus(r.Context(), key)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if !found {
			response.Error(w, http.StatusNotFound, "STATUS_NOT_FOUND",
				"No refresh recorded for this tenant", nil)
			return
		}
		response.JSON(w, status)
	}
}

// NewTriggerRefreshHandler returns an http.HandlerFunc for
// POST /api/v1/refresh. It answers 409 while a pass is running.
func NewTriggerRefreshHandler(trigger Trigger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if !trigger.Trigger() {
			response.Error(w, http.StatusConflict, "REFRESH_RUNNING",
				"A refresh pass is already running", nil)
			return
		}
		response.Accepted(w, map[string]bool{"started": true})
	}
}
