package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/kiranshivaraju/copilotmeter/internal/api/response"
	"github.com/kiranshivaraju/copilotmeter/internal/store"
	"github.com/kiranshivaraju/copilotmeter/pkg/models"
)

// TenantGetter resolves a tenant key to a stored tenant.
type TenantGetter interface {
	Get(ctx context.Context, key models.TenantKey) (*models.Tenant, error)
}

type SeatReader interface {
	QueryPage(ctx context.Context, q store.SeatQuery) (models.TotalSeats, error)
	ReadLatest(ctx context.Context) (models.TotalSeats, time.Time, error)
}

type UsageReader interface {
	Query(ctx context.Context, q store.UsageQuery) ([]models.UsageRecord, error)
}

// Stores resolves the per-scope stores the report endpoints read from.
type Stores interface {
	Seats(ctx context.Context, scope store.Scope) SeatReader
	Usage(ctx context.Context, scope store.Scope) UsageReader
}

// RegistryStores adapts a *store.Registry to Stores.
func RegistryStores(r *store.Registry) Stores { return registryStores{r} }

type registryStores struct{ r *store.Registry }

func (s registryStores) Seats(ctx context.Context, scope store.Scope) SeatReader {
	return s.r.Seats(ctx, scope)
}

func (s registryStores) Usage(ctx context.Context, scope store.Scope) UsageReader {
	return s.r.Usage(ctx, scope)
}

type latestSeatsResponse struct {
	RefreshTime *time.Time    `json:"refresh_time"`
	Count       int           `json:"count"`
	Seats       []models.Seat `json:"seats"`
}

// NewSeatsHandler returns an http.HandlerFunc for GET /api/v1/seats.
//
// By default it pages through the seat history of the tenant's scope,
// filtered by since and until on the seat assignment time. With latest=true
// it returns the most recent snapshot instead.
func NewSeatsHandler(tenants TenantGetter, stores Stores) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := tenantKeyFromQuery(r)
		if err != nil {
			badRequest(w, err)
			return
		}
		latest, err := boolParam(r, "latest", false)
		if err != nil {
			badRequest(w, err)
			return
		}
		q, err := seatQueryFromRequest(r)
		if err != nil {
			badRequest(w, err)
			return
		}

		// Stores are only opened for known tenants.
		if _, err := tenants.Get(r.Context(), key); err != nil {
			writeError(w, r, err)
			return
		}
		seats := stores.Seats(r.Context(), store.SeatScopeOf(key))

		if latest {
			snapshot, refreshTime, err := seats.ReadLatest(r.Context())
			if err != nil {
				writeError(w, r, err)
				return
			}
			resp := latestSeatsResponse{Count: snapshot.Len(), Seats: snapshot.Seats}
			if !refreshTime.IsZero() {
				resp.RefreshTime = &refreshTime
			}
			response.JSON(w, resp)
			return
		}

		page, err := seats.QueryPage(r.Context(), q)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Collection(w, page.Seats, response.Meta{
			Count:   page.Len(),
			Page:    q.Page,
			PerPage: q.PerPage,
			HasNext: page.Len() == q.PerPage,
		})
	}
}

func seatQueryFromRequest(r *http.Request) (store.SeatQuery, error) {
	var (
		q   store.SeatQuery
		err error
	)
	if q.Since, err = timeParam(r, "since"); err != nil {
		return q, err
	}
	if q.Until, err = timeParam(r, "until"); err != nil {
		return q, err
	}
	if q.Page, err = intParam(r, "page", store.DefaultSeatPage); err != nil {
		return q, err
	}
	if q.PerPage, err = intParam(r, "per_page", store.DefaultSeatPerPage); err != nil {
		return q, err
	}
	return q, nil
}

// NewUsageHandler returns an http.HandlerFunc for GET /api/v1/usage.
//
// For a team tenant only that team's records are returned. For a scope
// tenant child_team narrows the result to one discovered team; without it
// the scope's own records and those of every team are returned.
func NewUsageHandler(tenants TenantGetter, stores Stores) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := tenantKeyFromQuery(r)
		if err != nil {
			badRequest(w, err)
			return
		}

		var q store.UsageQuery
		if q.Since, err = timeParam(r, "since"); err != nil {
			badRequest(w, err)
			return
		}
		if q.Until, err = timeParam(r, "until"); err != nil {
			badRequest(w, err)
			return
		}
		q.Team = key.Team
		if q.Team == "" {
			q.Team = strings.TrimSpace(r.URL.Query().Get("child_team"))
		}

		if _, err := tenants.Get(r.Context(), key); err != nil {
			writeError(w, r, err)
			return
		}

		records, err := stores.Usage(r.Context(), store.UsageScopeOf(key)).Query(r.Context(), q)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Collection(w, records, response.Meta{Count: len(records)})
	}
}
