package tenants

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"feedback-backend/internal/shared/telemetry"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// SubmissionCanceller cancels a tenant's in-flight work when the tenant
// is deactivated. Implemented by the submissions service; wired at
// bootstrap to keep the packages decoupled.
type SubmissionCanceller interface {
	CancelActiveForTenant(ctx context.Context, slug string) (int, error)
}

type Service struct {
	Repo      Repo
	Canceller SubmissionCanceller
}

func NewService(repo Repo) *Service {
	return &Service{Repo: repo}
}

// Resolve maps a public slug to its tenant. Unknown and inactive tenants
// both surface as ErrNotFound so the caller cannot probe which slugs
// exist; the internal reason is logged.
func (s *Service) Resolve(ctx context.Context, slug string) (Tenant, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return Tenant{}, ErrNotFound
	}
	tenant, err := s.Repo.GetBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			telemetry.Warn("tenant.resolve_rejected", map[string]any{
				"slug":   slug,
				"reason": "unknown",
			})
		}
		return Tenant{}, err
	}
	if !tenant.Active {
		telemetry.Warn("tenant.resolve_rejected", map[string]any{
			"slug":   slug,
			"reason": "inactive",
		})
		return Tenant{}, ErrNotFound
	}
	return tenant, nil
}

func (s *Service) Create(ctx context.Context, name, slug, notifyEmail string) (Tenant, error) {
	name = strings.TrimSpace(name)
	slug = strings.TrimSpace(slug)
	notifyEmail = strings.TrimSpace(notifyEmail)

	if name == "" {
		return Tenant{}, fmt.Errorf("name is required")
	}
	if !slugPattern.MatchString(slug) {
		return Tenant{}, fmt.Errorf("slug must be lowercase letters, digits and hyphens")
	}
	if !strings.Contains(notifyEmail, "@") {
		return Tenant{}, fmt.Errorf("notifyEmail is invalid")
	}

	tenant := Tenant{
		ID:          uuid.NewString(),
		Name:        name,
		Slug:        slug,
		NotifyEmail: notifyEmail,
		Active:      true,
	}
	if err := s.Repo.Create(ctx, tenant); err != nil {
		return Tenant{}, err
	}
	created, err := s.Repo.GetBySlug(ctx, slug)
	if err != nil {
		return tenant, nil
	}
	return created, nil
}

func (s *Service) List(ctx context.Context) ([]Tenant, error) {
	return s.Repo.List(ctx)
}

func (s *Service) Get(ctx context.Context, slug string) (Tenant, error) {
	return s.Repo.GetBySlug(ctx, strings.TrimSpace(slug))
}

// UpdateInput carries the PATCHable tenant fields. Nil means unchanged.
type UpdateInput struct {
	Name        *string
	NotifyEmail *string
	Active      *bool
}

// Update applies the patch. Deactivating a tenant cancels its queued and
// in-flight submissions so no further provider calls or emails happen for
// that tenant.
func (s *Service) Update(ctx context.Context, slug string, input UpdateInput) (Tenant, error) {
	tenant, err := s.Repo.GetBySlug(ctx, strings.TrimSpace(slug))
	if err != nil {
		return Tenant{}, err
	}

	wasActive := tenant.Active
	if input.Name != nil {
		if strings.TrimSpace(*input.Name) == "" {
			return Tenant{}, fmt.Errorf("name cannot be empty")
		}
		tenant.Name = strings.TrimSpace(*input.Name)
	}
	if input.NotifyEmail != nil {
		if !strings.Contains(*input.NotifyEmail, "@") {
			return Tenant{}, fmt.Errorf("notifyEmail is invalid")
		}
		tenant.NotifyEmail = strings.TrimSpace(*input.NotifyEmail)
	}
	if input.Active != nil {
		tenant.Active = *input.Active
	}

	if err := s.Repo.Update(ctx, tenant); err != nil {
		return Tenant{}, err
	}

	if wasActive && !tenant.Active && s.Canceller != nil {
		cancelled, err := s.Canceller.CancelActiveForTenant(ctx, tenant.Slug)
		if err != nil {
			telemetry.Error("tenant.deactivate_cancel_failed", map[string]any{
				"slug":  tenant.Slug,
				"error": err.Error(),
			})
		} else {
			telemetry.Info("tenant.deactivated", map[string]any{
				"slug":                  tenant.Slug,
				"cancelled_submissions": cancelled,
			})
		}
	}

	updated, err := s.Repo.GetBySlug(ctx, tenant.Slug)
	if err != nil {
		return tenant, nil
	}
	return updated, nil
}
