package models

import "time"

// RefreshStatus is the outcome of the last refresh of one tenant.
type RefreshStatus struct {
	Tenant       TenantKey `json:"tenant"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	UsageRecords int       `json:"usage_records"`
	Seats        int       `json:"seats"`
	Failures     []string  `json:"failures,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// OK reports whether the refresh completed without any failure.
func (s RefreshStatus) OK() bool {
	return s.Error == "" && len(s.Failures) == 0
}
