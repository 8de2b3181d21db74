package tenants

import (
	"context"
	"errors"
	"testing"
)

type stubCanceller struct {
	slugs []string
	count int
	err   error
}

func (s *stubCanceller) CancelActiveForTenant(ctx context.Context, slug string) (int, error) {
	_ = ctx
	if s.err != nil {
		return 0, s.err
	}
	s.slugs = append(s.slugs, slug)
	return s.count, nil
}

func seedTenant(t *testing.T, repo *MemoryRepo, slug string, active bool) Tenant {
	t.Helper()
	tenant := Tenant{
		ID:          "tenant-" + slug,
		Name:        "Tenant " + slug,
		Slug:        slug,
		NotifyEmail: slug + "@example.com",
		Active:      active,
	}
	if err := repo.Create(context.Background(), tenant); err != nil {
		t.Fatalf("seed tenant: %v", err)
	}
	return tenant
}

func TestResolveActiveTenant(t *testing.T) {
	repo := NewMemoryRepo()
	seedTenant(t, repo, "acme-support", true)
	svc := NewService(repo)

	tenant, err := svc.Resolve(context.Background(), "acme-support")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if tenant.Slug != "acme-support" {
		t.Fatalf("unexpected slug %q", tenant.Slug)
	}
}

func TestResolveUnknownSlugReturnsNotFound(t *testing.T) {
	svc := NewService(NewMemoryRepo())

	_, err := svc.Resolve(context.Background(), "nobody")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveInactiveTenantReturnsNotFound(t *testing.T) {
	repo := NewMemoryRepo()
	seedTenant(t, repo, "dormant", false)
	svc := NewService(repo)

	_, err := svc.Resolve(context.Background(), "dormant")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for inactive tenant, got %v", err)
	}
}

func TestCreateValidatesSlug(t *testing.T) {
	svc := NewService(NewMemoryRepo())

	bad := []string{"", "UPPER", "has space", "trailing-", "-leading", "dot.dot"}
	for _, slug := range bad {
		if _, err := svc.Create(context.Background(), "Name", slug, "a@b.com"); err == nil {
			t.Fatalf("expected validation error for slug %q", slug)
		}
	}

	tenant, err := svc.Create(context.Background(), "Acme", "acme-support-2", "ops@acme.com")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if tenant.ID == "" {
		t.Fatalf("expected generated id")
	}
	if !tenant.Active {
		t.Fatalf("expected new tenant active")
	}
}

func TestCreateDuplicateSlugFails(t *testing.T) {
	repo := NewMemoryRepo()
	seedTenant(t, repo, "taken", true)
	svc := NewService(repo)

	_, err := svc.Create(context.Background(), "Other", "taken", "x@y.com")
	if !errors.Is(err, ErrSlugTaken) {
		t.Fatalf("expected ErrSlugTaken, got %v", err)
	}
}

func TestUpdateDeactivationCancelsSubmissions(t *testing.T) {
	repo := NewMemoryRepo()
	seedTenant(t, repo, "acme-support", true)
	canceller := &stubCanceller{count: 2}
	svc := NewService(repo)
	svc.Canceller = canceller

	inactive := false
	tenant, err := svc.Update(context.Background(), "acme-support", UpdateInput{Active: &inactive})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if tenant.Active {
		t.Fatalf("expected tenant inactive")
	}
	if len(canceller.slugs) != 1 || canceller.slugs[0] != "acme-support" {
		t.Fatalf("expected canceller invoked for acme-support, got %v", canceller.slugs)
	}
}

func TestUpdateReactivationDoesNotCancel(t *testing.T) {
	repo := NewMemoryRepo()
	seedTenant(t, repo, "dormant", false)
	canceller := &stubCanceller{}
	svc := NewService(repo)
	svc.Canceller = canceller

	active := true
	if _, err := svc.Update(context.Background(), "dormant", UpdateInput{Active: &active}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(canceller.slugs) != 0 {
		t.Fatalf("expected no cancellations on reactivation, got %v", canceller.slugs)
	}
}
