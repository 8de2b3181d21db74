package tenants

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"feedback-backend/internal/shared/server/respond"
)

type Handler struct {
	Svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

func (h *Handler) RegisterAdminRoutes(rg *gin.RouterGroup) {
	rg.POST("/tenants", h.create)
	rg.GET("/tenants", h.list)
	rg.GET("/tenants/:slug", h.get)
	rg.PATCH("/tenants/:slug", h.update)
}

type createTenantRequest struct {
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	NotifyEmail string `json:"notifyEmail"`
}

func (h *Handler) create(c *gin.Context) {
	var req createTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}

	tenant, err := h.Svc.Create(c.Request.Context(), req.Name, req.Slug, req.NotifyEmail)
	if err != nil {
		if errors.Is(err, ErrSlugTaken) {
			respond.Error(c, http.StatusConflict, "slug_taken", "slug already taken", nil)
			return
		}
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
		return
	}
	respond.JSON(c, http.StatusCreated, tenant)
}

func (h *Handler) list(c *gin.Context) {
	tenants, err := h.Svc.List(c.Request.Context())
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to list tenants", nil)
		return
	}
	respond.JSON(c, http.StatusOK, tenants)
}

func (h *Handler) get(c *gin.Context) {
	tenant, err := h.Svc.Get(c.Request.Context(), c.Param("slug"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			respond.Error(c, http.StatusNotFound, "not_found", "tenant not found", nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to fetch tenant", nil)
		return
	}
	respond.JSON(c, http.StatusOK, tenant)
}

type updateTenantRequest struct {
	Name        *string `json:"name"`
	NotifyEmail *string `json:"notifyEmail"`
	Active      *bool   `json:"active"`
}

func (h *Handler) update(c *gin.Context) {
	var req updateTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}

	tenant, err := h.Svc.Update(c.Request.Context(), c.Param("slug"), UpdateInput{
		Name:        req.Name,
		NotifyEmail: req.NotifyEmail,
		Active:      req.Active,
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			respond.Error(c, http.StatusNotFound, "not_found", "tenant not found", nil)
			return
		}
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
		return
	}
	respond.JSON(c, http.StatusOK, tenant)
}
