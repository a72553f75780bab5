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

type bookingService interface {
	Create(ctx context.Context, req service.CreateLessonRequest) (*models.Booking, error)
	CreateSeries(ctx context.Context, req service.CreateSeriesRequest) (*service.SeriesResult, error)
	Get(ctx context.Context, id string) (*models.Booking, error)
	List(ctx context.Context, filter models.BookingFilter) ([]models.Booking, int, error)
	Move(ctx context.Context, id string, newStart, newEnd time.Time) (*models.Booking, error)
	Resize(ctx context.Context, id string, newEnd time.Time) (*models.Booking, error)
	AddStudent(ctx context.Context, bookingID, studentID string) (*models.Booking, error)
	RemoveStudent(ctx context.Context, bookingID, studentID string) (*models.Booking, error)
	Cancel(ctx context.Context, id string) (*models.Booking, error)
}

// BookingHandler exposes REST endpoints for lesson bookings.
type BookingHandler struct {
	service bookingService
}

// NewBookingHandler constructs the handler.
func NewBookingHandler(service bookingService) *BookingHandler {
	return &BookingHandler{service: service}
}

type moveLessonPayload struct {
	StartTime time.Time `json:"start_time" binding:"required"`
	EndTime   time.Time `json:"end_time" binding:"required"`
}

type resizeLessonPayload struct {
	EndTime time.Time `json:"end_time" binding:"required"`
}

type addStudentPayload struct {
	StudentID string `json:"student_id" binding:"required"`
}

// Create books a single lesson.
func (h *BookingHandler) Create(c *gin.Context) {
	var req service.CreateLessonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid lesson payload"))
		return
	}
	booking, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, booking)
}

// CreateSeries books a recurring lesson. Conflicting occurrences are
// reported in the result, not treated as failures.
func (h *BookingHandler) CreateSeries(c *gin.Context) {
	var req service.CreateSeriesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid series payload"))
		return
	}
	result, err := h.service.CreateSeries(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Get returns one lesson.
func (h *BookingHandler) Get(c *gin.Context) {
	booking, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, booking, nil)
}

// List returns lessons matching the query.
func (h *BookingHandler) List(c *gin.Context) {
	filter := models.BookingFilter{
		TutorID:   c.Query("tutor_id"),
		RoomID:    c.Query("room_id"),
		StudentID: c.Query("student_id"),
		SeriesID:  c.Query("series_id"),
	}
	if raw := c.Query("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			part = strings.ToUpper(strings.TrimSpace(part))
			if part != "" {
				filter.Status = append(filter.Status, models.BookingStatus(part))
			}
		}
	}
	var err error
	if filter.From, err = parseTimeQuery(c, "from"); err != nil {
		response.Error(c, err)
		return
	}
	if filter.To, err = parseTimeQuery(c, "to"); err != nil {
		response.Error(c, err)
		return
	}
	filter.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	filter.PageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "20"))

	bookings, total, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, bookings, &models.Pagination{
		Page:       filter.Page,
		PageSize:   filter.PageSize,
		TotalCount: total,
	})
}

// Move reschedules a lesson onto a new interval.
func (h *BookingHandler) Move(c *gin.Context) {
	var payload moveLessonPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid move payload"))
		return
	}
	booking, err := h.service.Move(c.Request.Context(), c.Param("id"), payload.StartTime, payload.EndTime)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, booking, nil)
}

// Resize keeps the start and changes only the end of a lesson.
func (h *BookingHandler) Resize(c *gin.Context) {
	var payload resizeLessonPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid resize payload"))
		return
	}
	booking, err := h.service.Resize(c.Request.Context(), c.Param("id"), payload.EndTime)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, booking, nil)
}

// AddStudent enrols a student into a group lesson.
func (h *BookingHandler) AddStudent(c *gin.Context) {
	var payload addStudentPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid enrolment payload"))
		return
	}
	booking, err := h.service.AddStudent(c.Request.Context(), c.Param("id"), payload.StudentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, booking, nil)
}

// RemoveStudent withdraws a student from a group lesson.
func (h *BookingHandler) RemoveStudent(c *gin.Context) {
	booking, err := h.service.RemoveStudent(c.Request.Context(), c.Param("id"), c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, booking, nil)
}

// Cancel marks a lesson cancelled and frees its resources.
func (h *BookingHandler) Cancel(c *gin.Context) {
	booking, err := h.service.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, booking, nil)
}

func parseTimeQuery(c *gin.Context, name string) (time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, appErrors.Clone(appErrors.ErrValidation, name+" must be RFC3339")
	}
	return t, nil
}
