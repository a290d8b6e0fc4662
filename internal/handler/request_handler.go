package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/ess-portal-api/internal/dto"
	"github.com/noah-isme/ess-portal-api/internal/models"
	appErrors "github.com/noah-isme/ess-portal-api/pkg/errors"
	"github.com/noah-isme/ess-portal-api/pkg/response"
)

type requestService interface {
	Create(ctx context.Context, payload dto.CreateRequestPayload, actor models.Actor) (*models.Request, error)
	List(ctx context.Context, query dto.RequestQuery, actor models.Actor) ([]models.Request, error)
	Get(ctx context.Context, id string, actor models.Actor) (*models.Request, error)
}

type exportService interface {
	RenderCertificate(ctx context.Context, requestID string, actor models.Actor) ([]byte, error)
	RenderRequestsCSV(ctx context.Context, query dto.RequestQuery, actor models.Actor) ([]byte, error)
}

// RequestHandler exposes REST endpoints for request intake and reads.
type RequestHandler struct {
	service requestService
	exports exportService
}

// NewRequestHandler constructs the handler.
func NewRequestHandler(service requestService, exports exportService) *RequestHandler {
	return &RequestHandler{service: service, exports: exports}
}

// Create godoc
// @Summary Submit a self-service request
// @Tags Requests
// @Accept json
// @Produce json
// @Param payload body dto.CreateRequestPayload true "Request payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /requests [post]
func (h *RequestHandler) Create(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "request service not configured"))
		return
	}
	var payload dto.CreateRequestPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	request, err := h.service.Create(c.Request.Context(), payload, claims.Actor())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, request, nil)
}

// List godoc
// @Summary List visible requests
// @Tags Requests
// @Produce json
// @Param category query string false "Service category"
// @Param final_status query string false "Comma separated final statuses"
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {object} response.Envelope
// @Router /requests [get]
func (h *RequestHandler) List(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "request service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	requests, err := h.service.List(c.Request.Context(), parseRequestQuery(c), claims.Actor())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, requests, nil)
}

// Get godoc
// @Summary Fetch a request with its full approval trail
// @Tags Requests
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /requests/{id} [get]
func (h *RequestHandler) Get(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "request service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	request, err := h.service.Get(c.Request.Context(), c.Param("id"), claims.Actor())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// Certificate godoc
// @Summary Download the approval certificate for an approved request
// @Tags Requests
// @Produce application/pdf
// @Param id path string true "Request ID"
// @Success 200 {file} binary
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /requests/{id}/certificate [get]
func (h *RequestHandler) Certificate(c *gin.Context) {
	if h.exports == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "export service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	id := c.Param("id")
	payload, err := h.exports.RenderCertificate(c.Request.Context(), id, claims.Actor())
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=approval-%s.pdf", id))
	c.Data(http.StatusOK, "application/pdf", payload)
}

// ExportCSV godoc
// @Summary Export visible requests as CSV
// @Tags Requests
// @Produce text/csv
// @Param category query string false "Service category"
// @Param final_status query string false "Comma separated final statuses"
// @Success 200 {file} binary
// @Router /requests/export.csv [get]
func (h *RequestHandler) ExportCSV(c *gin.Context) {
	if h.exports == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "export service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	payload, err := h.exports.RenderRequestsCSV(c.Request.Context(), parseRequestQuery(c), claims.Actor())
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename=requests.csv")
	c.Data(http.StatusOK, "text/csv", payload)
}

func parseRequestQuery(c *gin.Context) dto.RequestQuery {
	query := dto.RequestQuery{}
	if category := strings.TrimSpace(c.Query("category")); category != "" {
		query.Category = models.ServiceCategory(strings.ToUpper(category))
	}
	for _, raw := range strings.Split(c.Query("final_status"), ",") {
		raw = strings.ToUpper(strings.TrimSpace(raw))
		if raw == "" {
			continue
		}
		query.FinalStatus = append(query.FinalStatus, models.FinalStatus(raw))
	}
	if limit, err := strconv.Atoi(c.Query("limit")); err == nil {
		query.Limit = limit
	}
	if offset, err := strconv.Atoi(c.Query("offset")); err == nil {
		query.Offset = offset
	}
	return query
}
