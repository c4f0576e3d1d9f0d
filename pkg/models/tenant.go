// Package models contains shared data models used across the copilotmeter codebase.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ScopeType is the kind of GitHub account a tenant reports usage for.
type ScopeType string

const (
	ScopeOrganization ScopeType = "organization"
	ScopeEnterprise   ScopeType = "enterprise"
)

// Valid reports whether s is a known scope type.
func (s ScopeType) Valid() bool {
	return s == ScopeOrganization || s == ScopeEnterprise
}

// ParseScopeType converts a raw string to a ScopeType.
func ParseScopeType(raw string) (ScopeType, error) {
	s := ScopeType(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("scope type must be organization or enterprise, got %q", raw)
	}
	return s, nil
}

// TenantKey uniquely identifies a tenant. An empty Team means the whole scope.
type TenantKey struct {
	ScopeType ScopeType `db:"scope_type" json:"scope_type"`
	ScopeName string    `db:"scope_name" json:"scope_name"`
	Team      string    `db:"team"       json:"team"`
}

func (k TenantKey) String() string {
	if k.Team == "" {
		return fmt.Sprintf("%s/%s", k.ScopeType, k.ScopeName)
	}
	return fmt.Sprintf("%s/%s/team/%s", k.ScopeType, k.ScopeName, k.Team)
}

// Tenant is one API scope plus the credentials used to query it.
// Token and IsActive are the only fields updated once a tenant is stored.
type Tenant struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	ScopeType ScopeType `db:"scope_type" json:"scope_type"`
	ScopeName string    `db:"scope_name" json:"scope_name"`
	Team      string    `db:"team"       json:"team"`
	Token     string    `db:"token"      json:"-"`
	IsActive  bool      `db:"is_active"  json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// NewTenant builds an active tenant. Team may be empty.
func NewTenant(scopeType ScopeType, scopeName, token, team string) Tenant {
	return Tenant{
		ScopeType: scopeType,
		ScopeName: scopeName,
		Team:      team,
		Token:     token,
		IsActive:  true,
	}
}

// Key returns the identity of the tenant.
func (t Tenant) Key() TenantKey {
	return TenantKey{ScopeType: t.ScopeType, ScopeName: t.ScopeName, Team: t.Team}
}

// HasTeam reports whether the tenant is narrowed to a single team.
func (t Tenant) HasTeam() bool {
	return strings.TrimSpace(t.Team) != ""
}

// WithTeam returns a copy of t scoped to the given team.
func (t Tenant) WithTeam(team string) Tenant {
	t.Team = team
	return t
}

// Validate checks the fields required to address the upstream API.
// It does not contact the API; see github.TenantClient.Validate for that.
func (t Tenant) Validate() error {
	switch {
	case !t.ScopeType.Valid():
		return &InvalidTenantError{Key: t.Key(), Reason: fmt.Sprintf("unknown scope type %q", t.ScopeType)}
	case strings.TrimSpace(t.ScopeName) == "":
		return &InvalidTenantError{Key: t.Key(), Reason: "scope name is required"}
	case strings.TrimSpace(t.Token) == "":
		return &InvalidTenantError{Key: t.Key(), Reason: "token is required"}
	}
	return nil
}
