package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/rzbill/kadali/pkg/types"
)

// GetTenant loads a tenant by id.
func (s *Store) GetTenant(ctx context.Context, id string) (*types.Tenant, error) {
	t, err := scanTenant(s.pool.QueryRow(ctx, `
		SELECT id, name, tier, status, created_at FROM kadali_tenants WHERE id = $1`, id))
	if isNoRows(err) {
		return nil, types.NewNotFoundError("tenant", id)
	}
	if err != nil {
		return nil, types.NewStorageError("get tenant", fmt.Errorf("kadali/postgres: %w", err))
	}
	return t, nil
}

// SaveTenant inserts or replaces a tenant.
func (s *Store) SaveTenant(ctx context.Context, t *types.Tenant) error {
	if err := t.Validate(); err != nil {
		return err
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO kadali_tenants (id, name, tier, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			tier = EXCLUDED.tier,
			status = EXCLUDED.status`,
		t.ID, t.Name, string(t.Tier), string(t.Status), t.CreatedAt,
	)
	if err != nil {
		return types.NewStorageError("save tenant", fmt.Errorf("kadali/postgres: %w", err))
	}
	return nil
}

// ListTenants returns every tenant ordered by id.
func (s *Store) ListTenants(ctx context.Context) ([]*types.Tenant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, tier, status, created_at FROM kadali_tenants ORDER BY id ASC`)
	if err != nil {
		return nil, types.NewStorageError("list tenants", fmt.Errorf("kadali/postgres: %w", err))
	}
	defer rows.Close()

	var tenants []*types.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, types.NewStorageError("list tenants", fmt.Errorf("kadali/postgres: scan tenant row: %w", err))
		}
		tenants = append(tenants, t)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewStorageError("list tenants", fmt.Errorf("kadali/postgres: %w", err))
	}
	return tenants, nil
}

func scanTenant(row pgx.Row) (*types.Tenant, error) {
	var t types.Tenant
	var tier, status string
	if err := row.Scan(&t.ID, &t.Name, &tier, &status, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.Tier = types.TenantTier(tier)
	t.Status = types.TenantStatus(status)
	return &t, nil
}
