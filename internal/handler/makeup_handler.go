package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lesson-scheduler-api/internal/models"
	appErrors "github.com/noah-isme/lesson-scheduler-api/pkg/errors"
	"github.com/noah-isme/lesson-scheduler-api/pkg/response"
)

type makeupService interface {
	Get(ctx context.Context, id string) (*models.MakeupCredit, error)
	List(ctx context.Context, filter models.MakeupFilter) ([]models.MakeupCredit, error)
	ScheduleMakeup(ctx context.Context, creditID, bookingID string) (*models.MakeupCredit, error)
	ExtendDeadline(ctx context.Context, creditID, adminID string, newExpiresAt, now time.Time) (*models.MakeupCredit, error)
}

// MakeupHandler exposes makeup credit tracking.
type MakeupHandler struct {
	service makeupService
}

// NewMakeupHandler constructs the handler.
func NewMakeupHandler(service makeupService) *MakeupHandler {
	return &MakeupHandler{service: service}
}

type scheduleMakeupPayload struct {
	BookingID string `json:"booking_id" binding:"required"`
}

type extendMakeupPayload struct {
	ExpiresAt time.Time `json:"expires_at" binding:"required"`
}

// Get returns one makeup credit.
func (h *MakeupHandler) Get(c *gin.Context) {
	credit, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, credit, nil)
}

// List returns makeup credits matching the query. Students see their own
// credits only.
func (h *MakeupHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	filter := models.MakeupFilter{StudentID: c.Query("student_id")}
	if claims.Role == models.RoleStudent {
		filter.StudentID = claims.UserID
	}
	if raw := c.Query("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			part = strings.ToUpper(strings.TrimSpace(part))
			if part != "" {
				filter.Status = append(filter.Status, models.MakeupStatus(part))
			}
		}
	}
	filter.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	filter.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))

	credits, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, credits, nil)
}

// Schedule links a replacement lesson to a pending credit.
func (h *MakeupHandler) Schedule(c *gin.Context) {
	var payload scheduleMakeupPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid schedule payload"))
		return
	}
	credit, err := h.service.ScheduleMakeup(c.Request.Context(), c.Param("id"), payload.BookingID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, credit, nil)
}

// Extend pushes a pending credit's deadline later.
func (h *MakeupHandler) Extend(c *gin.Context) {
	var payload extendMakeupPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid extension payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	credit, err := h.service.ExtendDeadline(c.Request.Context(), c.Param("id"), claims.UserID, payload.ExpiresAt, time.Now())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, credit, nil)
}
