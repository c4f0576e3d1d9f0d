// Package refresh periodically pulls usage and seats for every active tenant
// and appends them to the store.
package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kiranshivaraju/copilotmeter/internal/github"
	"github.com/kiranshivaraju/copilotmeter/internal/store"
	"github.com/kiranshivaraju/copilotmeter/pkg/models"
)

// TenantSource lists the tenants to refresh.
type TenantSource interface {
	GetActive(ctx context.Context) ([]models.TenantKey, error)
	Get(ctx context.Context, key models.TenantKey) (*models.Tenant, error)
}

type SeatSaver interface {
	Save(ctx context.Context, snapshot models.TotalSeats) error
}

type UsageSaver interface {
	Save(ctx context.Context, records []models.UsageRecord) error
}

// Stores resolves the per-scope stores a tenant's data is written to.
type Stores interface {
	Seats(ctx context.Context, scope store.Scope) SeatSaver
	Usage(ctx context.Context, scope store.Scope) UsageSaver
}

// StatusBoard records the outcome of each tenant refresh.
type StatusBoard interface {
	SetRefreshStatus(ctx context.Context, status models.RefreshStatus) error
}

// RegistryStores adapts a *store.Registry to Stores.
func RegistryStores(r *store.Registry) Stores { return registryStores{r} }

type registryStores struct{ r *store.Registry }

func (s registryStores) Seats(ctx context.Context, scope store.Scope) SeatSaver {
	return s.r.Seats(ctx, scope)
}

func (s registryStores) Usage(ctx context.Context, scope store.Scope) UsageSaver {
	return s.r.Usage(ctx, scope)
}

// Report summarizes one refresh pass.
type Report struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Statuses   []models.RefreshStatus
	Err        error
}

// Failed counts tenants whose refresh was not clean.
func (r Report) Failed() int {
	n := 0
	for _, s := range r.Statuses {
		if !s.OK() {
			n++
		}
	}
	return n
}

// Runner refreshes all active tenants, one at a time.
type Runner struct {
	tenants TenantSource
	client  github.Client
	stores  Stores
	board   StatusBoard
	timeout time.Duration
	now     func() time.Time

	running atomic.Bool

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a Runner. timeout bounds the refresh of a single tenant;
// zero means no bound.
func NewRunner(tenants TenantSource, client github.Client, stores Stores, board StatusBoard, timeout time.Duration) *Runner {
	r := &Runner{
		tenants: tenants,
		client:  client,
		stores:  stores,
		board:   board,
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	return r
}

// Running reports whether a pass is in progress.
func (r *Runner) Running() bool { return r.running.Load() }

// Start binds background passes to ctx. Call it before the first Trigger.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancel()
	r.ctx, r.cancel = context.WithCancel(ctx)
}

// Trigger starts a pass in the background unless one is already running or
// the runner has been stopped. It reports whether a pass was started.
func (r *Runner) Trigger() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx.Err() != nil || !r.running.CompareAndSwap(false, true) {
		return false
	}
	r.wg.Add(1)
	go func(ctx context.Context) {
		defer r.wg.Done()
		defer r.running.Store(false)
		r.runPass(ctx)
	}(r.ctx)
	return true
}

// Stop cancels any background pass and waits for it to return or ctx to end.
func (r *Runner) Stop(ctx context.Context) {
	r.mu.Lock()
	r.cancel()
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("background refresh pass did not stop in time")
	}
}

// RunPass refreshes every active tenant. A failing tenant never stops the
// pass; its outcome is recorded on the status board.
func (r *Runner) RunPass(ctx context.Context) Report {
	if !r.running.CompareAndSwap(false, true) {
		slog.Info("refresh pass already running, skipping")
		return Report{StartedAt: r.now(), FinishedAt: r.now(), Err: ErrPassRunning}
	}
	defer r.running.Store(false)
	return r.runPass(ctx)
}

func (r *Runner) runPass(ctx context.Context) Report {
	report := Report{StartedAt: r.now(), Statuses: []models.RefreshStatus{}}

	keys, err := r.tenants.GetActive(ctx)
	if err != nil {
		slog.Error("refresh pass: listing active tenants failed", "error", err)
		report.Err = fmt.Errorf("listing active tenants: %w", err)
		report.FinishedAt = r.now()
		return report
	}

	tracked := trackedTeams(keys)
	for _, key := range keys {
		if ctx.Err() != nil {
			report.Err = ctx.Err()
			break
		}
		status := r.refreshTenant(ctx, key, tracked)
		if err := r.board.SetRefreshStatus(ctx, status); err != nil {
			slog.Warn("recording refresh status failed", "scope", key.String(), "error", err)
		}
		report.Statuses = append(report.Statuses, status)
	}

	report.FinishedAt = r.now()
	slog.Info("refresh pass finished",
		"tenants", len(report.Statuses),
		"failed", report.Failed(),
		"duration", report.FinishedAt.Sub(report.StartedAt),
	)
	return report
}

// trackedTeams returns the keys of tenants narrowed to a team.
func trackedTeams(keys []models.TenantKey) map[models.TenantKey]bool {
	tracked := make(map[models.TenantKey]bool)
	for _, k := range keys {
		if k.Team != "" {
			tracked[k] = true
		}
	}
	return tracked
}

// withoutTrackedTeams drops child-team records of a scope tenant for teams
// that are refreshed as tenants of their own, so each (scope, team, day) is
// written once per pass.
func withoutTrackedTeams(key models.TenantKey, records []models.UsageRecord, tracked map[models.TenantKey]bool) []models.UsageRecord {
	if key.Team != "" || len(tracked) == 0 {
		return records
	}
	kept := make([]models.UsageRecord, 0, len(records))
	for _, rec := range records {
		if rec.Team != "" && tracked[models.TenantKey{ScopeType: key.ScopeType, ScopeName: key.ScopeName, Team: rec.Team}] {
			continue
		}
		kept = append(kept, rec)
	}
	return kept
}

func (r *Runner) refreshTenant(ctx context.Context, key models.TenantKey, tracked map[models.TenantKey]bool) (status models.RefreshStatus) {
	status = models.RefreshStatus{Tenant: key, StartedAt: r.now()}
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("panic in tenant refresh", "scope", key.String(), "error", rec)
			status.Error = fmt.Sprintf("panic: %v", rec)
		}
		status.FinishedAt = r.now()
	}()

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	tenant, err := r.tenants.Get(ctx, key)
	if err != nil {
		status.Error = fmt.Sprintf("loading tenant: %v", err)
		return status
	}

	tc, err := r.client.ForTenant(*tenant)
	if err != nil {
		status.Error = err.Error()
		return status
	}

	usage := tc.FetchUsage(ctx)
	for _, f := range usage.Failures {
		status.Failures = append(status.Failures, describeFailure(f))
	}
	records := withoutTrackedTeams(key, usage.Records, tracked)
	if err := r.stores.Usage(ctx, store.UsageScopeOf(key)).Save(ctx, records); err != nil {
		status.Error = fmt.Sprintf("saving usage: %v", err)
		return status
	}
	status.UsageRecords = len(records)

	seats, err := tc.FetchSeats(ctx)
	if err != nil {
		status.Failures = append(status.Failures, fmt.Sprintf("seats: %v", err))
		return status
	}
	if err := r.stores.Seats(ctx, store.SeatScopeOf(key)).Save(ctx, seats); err != nil {
		status.Error = fmt.Sprintf("saving seats: %v", err)
		return status
	}
	status.Seats = seats.Len()

	slog.Debug("tenant refreshed",
		"scope", key.String(),
		"usage_records", status.UsageRecords,
		"seats", status.Seats,
		"failures", len(status.Failures),
	)
	return status
}

func describeFailure(f github.Failure) string {
	if f.Team == "" {
		return fmt.Sprintf("%s: %v", f.Op, f.Err)
	}
	return fmt.Sprintf("%s %s: %v", f.Op, f.Team, f.Err)
}
