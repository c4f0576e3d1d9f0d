package store

import (
	"context"
	"errors"
	"sync"
)

// Registry hands out one SeatStore and one UsageStore per scope and keeps
// them for reuse, so each scope holds at most one connection per table.
type Registry struct {
	dsn    string
	policy RetryPolicy

	mu    sync.Mutex
	seats map[Scope]*SeatStore
	usage map[Scope]*UsageStore
}

func NewRegistry(dsn string, policy RetryPolicy) *Registry {
	return &Registry{
		dsn:    dsn,
		policy: policy,
		seats:  make(map[Scope]*SeatStore),
		usage:  make(map[Scope]*UsageStore),
	}
}

// Seats returns the seat store bound to scope, creating it on first use.
func (r *Registry) Seats(ctx context.Context, scope Scope) *SeatStore {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.seats[scope]
	if !ok {
		s = NewSeatStore(ctx, r.dsn, r.policy, scope)
		r.seats[scope] = s
	}
	return s
}

// Usage returns the usage store bound to scope, creating it on first use.
func (r *Registry) Usage(ctx context.Context, scope Scope) *UsageStore {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.usage[scope]
	if !ok {
		s = NewUsageStore(ctx, r.dsn, r.policy, scope)
		r.usage[scope] = s
	}
	return s
}

// Close closes every store handed out so far.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, s := range r.seats {
		errs = append(errs, s.Close(ctx))
	}
	for _, s := range r.usage {
		errs = append(errs, s.Close(ctx))
	}
	return errors.Join(errs...)
}
