package tenants

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

type PGRepo struct {
	DB *sql.DB
}

func (r *PGRepo) Create(ctx context.Context, tenant Tenant) error {
	const query = `
INSERT INTO tenants (id, name, slug, notify_email, active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, now(), now())`
	_, err := r.DB.ExecContext(ctx, query,
		tenant.ID,
		tenant.Name,
		tenant.Slug,
		tenant.NotifyEmail,
		tenant.Active,
	)
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "unique") {
		return ErrSlugTaken
	}
	return err
}

func (r *PGRepo) GetBySlug(ctx context.Context, slug string) (Tenant, error) {
	const query = `
SELECT id, name, slug, notify_email, active, created_at, updated_at
FROM tenants
WHERE slug = $1
LIMIT 1`
	var tenant Tenant
	err := r.DB.QueryRowContext(ctx, query, slug).Scan(
		&tenant.ID,
		&tenant.Name,
		&tenant.Slug,
		&tenant.NotifyEmail,
		&tenant.Active,
		&tenant.CreatedAt,
		&tenant.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Tenant{}, ErrNotFound
		}
		return Tenant{}, err
	}
	return tenant, nil
}

func (r *PGRepo) List(ctx context.Context) ([]Tenant, error) {
	const query = `
SELECT id, name, slug, notify_email, active, created_at, updated_at
FROM tenants
ORDER BY created_at DESC`
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tenants := []Tenant{}
	for rows.Next() {
		var tenant Tenant
		if err := rows.Scan(
			&tenant.ID,
			&tenant.Name,
			&tenant.Slug,
			&tenant.NotifyEmail,
			&tenant.Active,
			&tenant.CreatedAt,
			&tenant.UpdatedAt,
		); err != nil {
			return nil, err
		}
		tenants = append(tenants, tenant)
	}
	return tenants, rows.Err()
}

func (r *PGRepo) Update(ctx context.Context, tenant Tenant) error {
	const query = `
UPDATE tenants
SET name = $2, notify_email = $3, active = $4, updated_at = now()
WHERE slug = $1`
	res, err := r.DB.ExecContext(ctx, query,
		tenant.Slug,
		tenant.Name,
		tenant.NotifyEmail,
		tenant.Active,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
