package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lesson-scheduler-api/internal/service"
	"github.com/noah-isme/lesson-scheduler-api/pkg/response"
)

type makeupSweeper interface {
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}

type statusAdvancer interface {
	AdvanceStatuses(ctx context.Context, now time.Time) (*service.StatusAdvanceResult, error)
}

// MaintenanceHandler exposes the clock-driven sweeps. These endpoints are
// invoked by the external scheduler trigger (cron), never by end users.
type MaintenanceHandler struct {
	makeups  makeupSweeper
	bookings statusAdvancer
}

// NewMaintenanceHandler constructs the handler.
func NewMaintenanceHandler(makeups makeupSweeper, bookings statusAdvancer) *MaintenanceHandler {
	return &MaintenanceHandler{makeups: makeups, bookings: bookings}
}

// SweepMakeups expires overdue pending makeup credits. Safe to re-run.
func (h *MaintenanceHandler) SweepMakeups(c *gin.Context) {
	count, err := h.makeups.SweepExpired(c.Request.Context(), time.Now())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"expired": count}, nil)
}

// AdvanceLessons moves lesson statuses along with the wall clock.
func (h *MaintenanceHandler) AdvanceLessons(c *gin.Context) {
	result, err := h.bookings.AdvanceStatuses(c.Request.Context(), time.Now())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
