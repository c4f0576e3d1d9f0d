package github

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Sentinel errors for upstream failures. Every *UpstreamError wraps one of
// these.
var (
	ErrUpstreamUnreachable = errors.New("github unreachable")
	ErrUpstreamStatus      = errors.New("github returned non-success status")
	ErrUpstreamTimeout     = errors.New("github request timeout")
	ErrRateLimited         = errors.New("github request budget exhausted")
	ErrMalformedResponse   = errors.New("github returned a malformed response")
)

// UpstreamError describes one failed request against the GitHub API.
type UpstreamError struct {
	Op         string
	URL        string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: %v (status %d)", e.Op, e.URL, e.Err, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrUpstreamUnreachable, err)
}
