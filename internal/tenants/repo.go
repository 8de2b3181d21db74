package tenants

import "context"

type Repo interface {
	Create(ctx context.Context, tenant Tenant) error
	GetBySlug(ctx context.Context, slug string) (Tenant, error)
	List(ctx context.Context) ([]Tenant, error)
	Update(ctx context.Context, tenant Tenant) error
}
