package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/ess-portal-api/internal/dto"
	"github.com/noah-isme/ess-portal-api/internal/middleware"
	"github.com/noah-isme/ess-portal-api/internal/models"
	appErrors "github.com/noah-isme/ess-portal-api/pkg/errors"
	"github.com/noah-isme/ess-portal-api/pkg/response"
)

type approvalService interface {
	Decide(ctx context.Context, requestID string, stage models.Stage, decision models.Decision, actor models.Actor, note string) (*models.Request, error)
	PendingTasks(ctx context.Context, actor models.Actor) ([]models.PendingTask, bool, error)
}

// ApprovalHandler exposes REST endpoints for the approval workflow.
type ApprovalHandler struct {
	service approvalService
}

// NewApprovalHandler constructs the handler.
func NewApprovalHandler(service approvalService) *ApprovalHandler {
	return &ApprovalHandler{service: service}
}

// Decide godoc
// @Summary Record a stage decision on a request
// @Tags Approvals
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.DecisionPayload true "Decision payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /requests/{id}/decisions [post]
func (h *ApprovalHandler) Decide(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "approval service not configured"))
		return
	}
	var payload dto.DecisionPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid decision payload"))
		return
	}
	stage := models.Stage(strings.ToUpper(strings.TrimSpace(string(payload.Stage))))
	switch stage {
	case models.StageSubstitute, models.StageManager, models.StageHR:
	default:
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "unknown approval stage"))
		return
	}
	decision := models.Decision(strings.ToUpper(strings.TrimSpace(string(payload.Decision))))
	if !decision.Valid() {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "decision must be APPROVED or REJECTED"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	request, err := h.service.Decide(c.Request.Context(), c.Param("id"), stage, decision, claims.Actor(), payload.Note)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// Tasks godoc
// @Summary List requests waiting on the caller's decision
// @Tags Approvals
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /approvals/tasks [get]
func (h *ApprovalHandler) Tasks(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "approval service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	start := time.Now()
	tasks, cacheHit, err := h.service.PendingTasks(c.Request.Context(), claims.Actor())
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	meta := middleware.ExtractMeta(c)
	if meta == nil {
		meta = map[string]interface{}{}
	}
	meta["processing_time_ms"] = time.Since(start).Milliseconds()
	response.JSON(c, http.StatusOK, tasks, nil, meta)
}
