package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lesson-scheduler-api/internal/models"
	"github.com/noah-isme/lesson-scheduler-api/internal/service"
	appErrors "github.com/noah-isme/lesson-scheduler-api/pkg/errors"
	"github.com/noah-isme/lesson-scheduler-api/pkg/response"
)

type cancellationService interface {
	Request(ctx context.Context, req service.RequestCancellationRequest, studentID string, now time.Time) (*models.CancellationRequest, error)
	Approve(ctx context.Context, requestID, adminID string, req service.ReviewCancellationRequest, now time.Time) (*models.CancellationRequest, error)
	Reject(ctx context.Context, requestID, adminID string, req service.ReviewCancellationRequest, now time.Time) (*models.CancellationRequest, error)
	Get(ctx context.Context, id string) (*models.CancellationRequest, error)
	List(ctx context.Context, filter models.CancellationFilter) ([]models.CancellationRequest, error)
}

// CancellationHandler exposes the cancellation review workflow.
type CancellationHandler struct {
	service cancellationService
}

// NewCancellationHandler constructs the handler.
func NewCancellationHandler(service cancellationService) *CancellationHandler {
	return &CancellationHandler{service: service}
}

// Request files a cancellation petition on behalf of the caller.
func (h *CancellationHandler) Request(c *gin.Context) {
	var req service.RequestCancellationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid cancellation payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	request, err := h.service.Request(c.Request.Context(), req, claims.UserID, time.Now())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, request)
}

// Approve records an admin approval, cancelling the lesson and opening a
// makeup credit.
func (h *CancellationHandler) Approve(c *gin.Context) {
	h.review(c, h.service.Approve)
}

// Reject records an admin rejection.
func (h *CancellationHandler) Reject(c *gin.Context) {
	h.review(c, h.service.Reject)
}

func (h *CancellationHandler) review(c *gin.Context, decide func(context.Context, string, string, service.ReviewCancellationRequest, time.Time) (*models.CancellationRequest, error)) {
	var req service.ReviewCancellationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid review payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	request, err := decide(c.Request.Context(), c.Param("id"), claims.UserID, req, time.Now())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// Get returns one cancellation request.
func (h *CancellationHandler) Get(c *gin.Context) {
	request, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// List returns cancellation requests matching the query. Students see
// their own requests; admins may filter freely.
func (h *CancellationHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	filter := models.CancellationFilter{
		BookingID:   c.Query("booking_id"),
		RequestedBy: c.Query("requested_by"),
	}
	if claims.Role != models.RoleAdmin {
		filter.RequestedBy = claims.UserID
	}
	if raw := c.Query("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			part = strings.ToUpper(strings.TrimSpace(part))
			if part != "" {
				filter.Status = append(filter.Status, models.CancellationStatus(part))
			}
		}
	}
	filter.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	filter.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))

	requests, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, requests, nil)
}
