// Package store persists tenants, seat snapshots and usage records in
// PostgreSQL. Each store owns a single self-healing connection.
package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kiranshivaraju/copilotmeter/pkg/models"
)

var (
	ErrNotFound     = errors.New("resource not found")
	ErrDuplicateKey = errors.New("duplicate key violation")
	ErrNotConnected = errors.New("database not connected")
)

// StorageError is returned by every store method that fails.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func wrapErr(op string, err error) error {
	var se *StorageError
	switch {
	case errors.As(err, &se):
		return err
	case errors.Is(err, pgx.ErrNoRows):
		return &StorageError{Op: op, Err: ErrNotFound}
	case isDuplicateKeyError(err):
		return &StorageError{Op: op, Err: fmt.Errorf("%w: %v", ErrDuplicateKey, err)}
	}
	return &StorageError{Op: op, Err: err}
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "duplicate key")
}

// ScopeTypeTeam is the seat row type for team-narrowed tenants.
const ScopeTypeTeam = "team"

// Scope is the (type, scope_name) pair a seat or usage store is bound to.
// Rows outside the bound scope are never read or written.
type Scope struct {
	Type string
	Name string
}

// SeatScopeOf maps a tenant to the scope its seat snapshots are stored under.
// Team tenants get their own "team" scope named "<type>/<scope>/<team>", so
// same-named teams under an organization and an enterprise stay apart.
func SeatScopeOf(key models.TenantKey) Scope {
	if key.Team != "" {
		return Scope{Type: ScopeTypeTeam, Name: string(key.ScopeType) + "/" + key.ScopeName + "/" + key.Team}
	}
	return Scope{Type: string(key.ScopeType), Name: key.ScopeName}
}

// UsageScopeOf maps a tenant to the scope its usage records are stored under.
// Team usage shares the parent scope and is told apart by the team column.
func UsageScopeOf(key models.TenantKey) Scope {
	return Scope{Type: string(key.ScopeType), Name: key.ScopeName}
}

func (s Scope) String() string { return s.Type + "/" + s.Name }

// optTime maps the zero time to SQL NULL.
func optTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func defaultNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
