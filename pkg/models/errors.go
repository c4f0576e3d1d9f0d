package models

import (
	"errors"
	"fmt"
)

// ErrInvalidTenant matches every *InvalidTenantError via errors.Is.
var ErrInvalidTenant = errors.New("invalid tenant")

// InvalidTenantError reports a tenant that must not be used for API calls,
// either because it is inactive or because the upstream rejected it.
type InvalidTenantError struct {
	Key    TenantKey
	Reason string
	Err    error
}

func (e *InvalidTenantError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid tenant %s: %s: %v", e.Key, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid tenant %s: %s", e.Key, e.Reason)
}

func (e *InvalidTenantError) Unwrap() error { return e.Err }

func (e *InvalidTenantError) Is(target error) bool { return target == ErrInvalidTenant }
