package cache

import (
	"context"
	"time"
)

// Counter is the subset of Cache a request budget needs.
type Counter interface {
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
}

// UpstreamBudget caps outgoing GitHub requests per token in fixed windows.
// It satisfies github.Limiter.
type UpstreamBudget struct {
	counter Counter
	limit   int64
	window  time.Duration
	now     func() time.Time
}

// NewUpstreamBudget allows limit requests per key in each window.
// A limit of zero or less disables the budget.
func NewUpstreamBudget(counter Counter, limit int, window time.Duration) *UpstreamBudget {
	return &UpstreamBudget{counter: counter, limit: int64(limit), window: window, now: time.Now}
}

// Allow counts one request against key and reports whether it fits the
// current window. Errors from the counter are returned to the caller.
func (b *UpstreamBudget) Allow(ctx context.Context, key string) (bool, error) {
	if b.limit <= 0 {
		return true, nil
	}
	start := b.now().Truncate(b.window)
	n, err := b.counter.IncrWithExpiry(ctx, UpstreamBudgetKey(key, start), b.window)
	if err != nil {
		return false, err
	}
	return n <= b.limit, nil
}
