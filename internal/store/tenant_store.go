package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kiranshivaraju/copilotmeter/pkg/models"
)

const tenantColumns = `id, scope_name, scope_type, team, token, is_active, created_at, updated_at`

// TenantStore manages tenant records.
type TenantStore struct {
	conn *Conn
	now  func() time.Time
}

// NewTenantStore creates a TenantStore with its own connection to dsn.
func NewTenantStore(ctx context.Context, dsn string, policy RetryPolicy) *TenantStore {
	return &TenantStore{conn: NewConn(ctx, "tenants", dsn, policy), now: defaultNow}
}

func (s *TenantStore) State() State { return s.conn.State() }

func (s *TenantStore) Ping(ctx context.Context) error { return s.conn.Ping(ctx) }

func (s *TenantStore) Close(ctx context.Context) error { return s.conn.Close(ctx) }

// Save inserts t, or updates token and active flag of the tenant with the
// same key. No other tenant is touched.
func (s *TenantStore) Save(ctx context.Context, t models.Tenant) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	now := s.now()

	return s.conn.do(ctx, "save tenant", func(conn *pgx.Conn) error {
		_, err := conn.Exec(ctx,
			`INSERT INTO tenants (`+tenantColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
			 ON CONFLICT (scope_name, scope_type, team) DO UPDATE SET
			   token = EXCLUDED.token,
			   is_active = EXCLUDED.is_active,
			   updated_at = EXCLUDED.updated_at`,
			t.ID, t.ScopeName, t.ScopeType, t.Team, t.Token, t.IsActive, now)
		return err
	})
}

// GetAll returns every tenant, active or not.
func (s *TenantStore) GetAll(ctx context.Context) ([]models.Tenant, error) {
	tenants := []models.Tenant{}
	err := s.conn.do(ctx, "get all tenants", func(conn *pgx.Conn) error {
		var err error
		tenants, err = queryTenants(ctx, conn,
			`SELECT `+tenantColumns+` FROM tenants ORDER BY created_at, id`)
		return err
	})
	if err != nil {
		return []models.Tenant{}, err
	}
	return tenants, nil
}

// GetActive returns the keys of all active tenants.
func (s *TenantStore) GetActive(ctx context.Context) ([]models.TenantKey, error) {
	keys := []models.TenantKey{}
	err := s.conn.do(ctx, "get active tenants", func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx,
			`SELECT scope_type, scope_name, team FROM tenants WHERE is_active ORDER BY created_at, id`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var k models.TenantKey
			if err := rows.Scan(&k.ScopeType, &k.ScopeName, &k.Team); err != nil {
				return err
			}
			keys = append(keys, k)
		}
		return rows.Err()
	})
	if err != nil {
		return []models.TenantKey{}, err
	}
	return keys, nil
}

// Get returns the tenant with the exact key.
func (s *TenantStore) Get(ctx context.Context, key models.TenantKey) (*models.Tenant, error) {
	var t models.Tenant
	err := s.conn.do(ctx, "get tenant", func(conn *pgx.Conn) error {
		return scanTenant(conn.QueryRow(ctx,
			`SELECT `+tenantColumns+` FROM tenants
			 WHERE scope_type = $1 AND scope_name = $2 AND team = $3`,
			key.ScopeType, key.ScopeName, key.Team), &t)
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// QueryByScopeName returns the oldest tenant with the given scope name.
//
// Deprecated: several tenants (one per team and scope type) may share a
// scope name. Use QueryAllByScopeName.
func (s *TenantStore) QueryByScopeName(ctx context.Context, scopeName string) (*models.Tenant, error) {
	var t models.Tenant
	err := s.conn.do(ctx, "query tenant by scope name", func(conn *pgx.Conn) error {
		return scanTenant(conn.QueryRow(ctx,
			`SELECT `+tenantColumns+` FROM tenants
			 WHERE scope_name = $1 ORDER BY created_at, id LIMIT 1`, scopeName), &t)
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// QueryAllByScopeName returns every tenant with the given scope name.
func (s *TenantStore) QueryAllByScopeName(ctx context.Context, scopeName string) ([]models.Tenant, error) {
	tenants := []models.Tenant{}
	err := s.conn.do(ctx, "query tenants by scope name", func(conn *pgx.Conn) error {
		var err error
		tenants, err = queryTenants(ctx, conn,
			`SELECT `+tenantColumns+` FROM tenants WHERE scope_name = $1 ORDER BY created_at, id`, scopeName)
		return err
	})
	if err != nil {
		return []models.Tenant{}, err
	}
	return tenants, nil
}

// Remove deletes the tenant with the exact key. It reports false when no
// tenant matched.
func (s *TenantStore) Remove(ctx context.Context, key models.TenantKey) (bool, error) {
	var removed bool
	err := s.conn.do(ctx, "remove tenant", func(conn *pgx.Conn) error {
		tag, err := conn.Exec(ctx,
			`DELETE FROM tenants WHERE scope_type = $1 AND scope_name = $2 AND team = $3`,
			key.ScopeType, key.ScopeName, key.Team)
		if err != nil {
			return err
		}
		removed = tag.RowsAffected() > 0
		return nil
	})
	return removed, err
}

// SetActive flips the active flag of the tenant with the exact key. It
// reports false when no tenant matched.
func (s *TenantStore) SetActive(ctx context.Context, key models.TenantKey, active bool) (bool, error) {
	var updated bool
	now := s.now()
	err := s.conn.do(ctx, "set tenant active", func(conn *pgx.Conn) error {
		tag, err := conn.Exec(ctx,
			`UPDATE tenants SET is_active = $4, updated_at = $5
			 WHERE scope_type = $1 AND scope_name = $2 AND team = $3`,
			key.ScopeType, key.ScopeName, key.Team, active, now)
		if err != nil {
			return err
		}
		updated = tag.RowsAffected() > 0
		return nil
	})
	return updated, err
}

func scanTenant(row pgx.Row, t *models.Tenant) error {
	return row.Scan(&t.ID, &t.ScopeName, &t.ScopeType, &t.Team, &t.Token, &t.IsActive, &t.CreatedAt, &t.UpdatedAt)
}

func queryTenants(ctx context.Context, conn *pgx.Conn, sql string, args ...any) ([]models.Tenant, error) {
	rows, err := conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tenants := []models.Tenant{}
	for rows.Next() {
		var t models.Tenant
		if err := scanTenant(rows, &t); err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}
