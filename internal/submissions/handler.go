package submissions

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"feedback-backend/internal/shared/server/respond"
	"feedback-backend/internal/shared/telemetry"
	"feedback-backend/internal/tenants"
)

type Handler struct {
	Svc           *Service
	MaxAudioBytes int64
}

func NewHandler(svc *Service, maxAudioBytes int64) *Handler {
	return &Handler{Svc: svc, MaxAudioBytes: maxAudioBytes}
}

func (h *Handler) RegisterPublicRoutes(rg *gin.RouterGroup) {
	rg.POST("/:slug/submissions", h.create)
	rg.GET("/submissions/:id", h.status)
}

func (h *Handler) RegisterAdminRoutes(rg *gin.RouterGroup) {
	rg.GET("/submissions", h.adminList)
	rg.GET("/submissions/export", h.adminExport)
	rg.GET("/submissions/:id", h.adminDetail)
	rg.POST("/submissions/:id/retry", h.adminRetry)
	rg.POST("/submissions/:id/cancel", h.adminCancel)
}

type submissionAccepted struct {
	SubmissionID string `json:"submissionId"`
	Status       string `json:"status"`
}

// statusResponse is the public view of a submission. Deliberately narrow:
// transcript, summary and error details never leave the admin surface.
type statusResponse struct {
	SubmissionID string    `json:"submissionId"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
}

func (h *Handler) create(c *gin.Context) {
	slug := c.Param("slug")
	c.Set("tenantSlug", slug)

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxAudioBytes)

	fileHeader, err := c.FormFile("audio")
	if err != nil {
		if isBodyTooLarge(err) {
			respond.Error(c, http.StatusRequestEntityTooLarge, "payload_too_large", "audio exceeds the size limit", nil)
			return
		}
		respond.Error(c, http.StatusBadRequest, "validation_error", "multipart field 'audio' is required", nil)
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to read upload", nil)
		return
	}
	defer file.Close()

	sub, err := h.Svc.Create(
		requestCtx(c),
		slug,
		c.PostForm("callerName"),
		fileHeader.Filename,
		fileHeader.Header.Get("Content-Type"),
		file,
	)
	if err != nil {
		var ve *ValidationError
		switch {
		case errors.Is(err, tenants.ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "tenant not found", nil)
		case errors.As(err, &ve):
			respond.Error(c, http.StatusBadRequest, "validation_error", ve.Error(), nil)
		case isBodyTooLarge(err):
			respond.Error(c, http.StatusRequestEntityTooLarge, "payload_too_large", "audio exceeds the size limit", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to accept submission", nil)
		}
		return
	}

	c.Set("submissionId", sub.ID)
	respond.JSON(c, http.StatusAccepted, submissionAccepted{SubmissionID: sub.ID, Status: sub.Status})
}

func (h *Handler) status(c *gin.Context) {
	sub, err := h.Svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			respond.Error(c, http.StatusNotFound, "not_found", "submission not found", nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to fetch submission", nil)
		return
	}
	respond.JSON(c, http.StatusOK, statusResponse{
		SubmissionID: sub.ID,
		Status:       sub.Status,
		CreatedAt:    sub.CreatedAt,
	})
}

func (h *Handler) adminList(c *gin.Context) {
	subs, err := h.Svc.List(c.Request.Context(), listFilterFromQuery(c))
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to list submissions", nil)
		return
	}
	respond.JSON(c, http.StatusOK, subs)
}

type submissionDetail struct {
	Submission
	Attempts []StageAttempt `json:"attempts"`
}

func (h *Handler) adminDetail(c *gin.Context) {
	sub, attempts, err := h.Svc.Detail(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			respond.Error(c, http.StatusNotFound, "not_found", "submission not found", nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to fetch submission", nil)
		return
	}
	respond.JSON(c, http.StatusOK, submissionDetail{Submission: sub, Attempts: attempts})
}

func (h *Handler) adminRetry(c *gin.Context) {
	sub, err := h.Svc.Retry(requestCtx(c), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "submission not found", nil)
		case errors.Is(err, ErrNotRetryable):
			respond.Error(c, http.StatusConflict, "conflict", "submission is not in a retryable state", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to retry submission", nil)
		}
		return
	}
	respond.JSON(c, http.StatusOK, sub)
}

func (h *Handler) adminCancel(c *gin.Context) {
	sub, err := h.Svc.Cancel(requestCtx(c), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "submission not found", nil)
		case errors.Is(err, ErrNotCancellable):
			respond.Error(c, http.StatusConflict, "conflict", "submission is not in a cancellable state", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to cancel submission", nil)
		}
		return
	}
	respond.JSON(c, http.StatusOK, sub)
}

func (h *Handler) adminExport(c *gin.Context) {
	subs, err := h.Svc.List(c.Request.Context(), listFilterFromQuery(c))
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to list submissions", nil)
		return
	}

	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="submissions.csv"`)
	c.Status(http.StatusOK)
	if err := writeSubmissionsCSV(c.Writer, subs); err != nil {
		telemetry.Error("submission.export_failed", map[string]any{
			"request_id": c.GetString("requestId"),
			"error":      err.Error(),
		})
	}
}

// requestCtx carries the request ID from the middleware into the service
// context so queue messages and worker logs stay correlated.
func requestCtx(c *gin.Context) context.Context {
	return WithRequestID(c.Request.Context(), c.GetString("requestId"))
}

func listFilterFromQuery(c *gin.Context) ListFilter {
	return ListFilter{
		TenantSlug: c.Query("slug"),
		Status:     c.Query("status"),
		Limit:      queryInt(c, "limit"),
		Offset:     queryInt(c, "offset"),
	}
}

func queryInt(c *gin.Context, name string) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil || v < 0 {
		return 0
	}
	return v
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return true
	}
	// Multipart parsing can flatten the typed error into its message.
	return err != nil && strings.Contains(err.Error(), "request body too large")
}
