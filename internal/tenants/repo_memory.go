package tenants

import (
	"context"
	"sort"
	"sync"
	"time"
)

type MemoryRepo struct {
	mu      sync.RWMutex
	tenants map[string]Tenant
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{tenants: make(map[string]Tenant)}
}

func (r *MemoryRepo) Create(ctx context.Context, tenant Tenant) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tenants[tenant.Slug]; ok {
		return ErrSlugTaken
	}
	now := time.Now().UTC()
	tenant.CreatedAt = now
	tenant.UpdatedAt = now
	r.tenants[tenant.Slug] = tenant
	return nil
}

func (r *MemoryRepo) GetBySlug(ctx context.Context, slug string) (Tenant, error) {
	if err := ctx.Err(); err != nil {
		return Tenant{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	tenant, ok := r.tenants[slug]
	if !ok {
		return Tenant{}, ErrNotFound
	}
	return tenant, nil
}

func (r *MemoryRepo) List(ctx context.Context) ([]Tenant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	tenants := make([]Tenant, 0, len(r.tenants))
	for _, tenant := range r.tenants {
		tenants = append(tenants, tenant)
	}
	sort.Slice(tenants, func(i, j int) bool {
		return tenants[i].CreatedAt.After(tenants[j].CreatedAt)
	})
	return tenants, nil
}

func (r *MemoryRepo) Update(ctx context.Context, tenant Tenant) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.tenants[tenant.Slug]
	if !ok {
		return ErrNotFound
	}
	tenant.ID = existing.ID
	tenant.CreatedAt = existing.CreatedAt
	tenant.UpdatedAt = time.Now().UTC()
	r.tenants[tenant.Slug] = tenant
	return nil
}
