package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ultima-training/ultima-api/internal/models"
	"github.com/ultima-training/ultima-api/internal/service"
	appErrors "github.com/ultima-training/ultima-api/pkg/errors"
	"github.com/ultima-training/ultima-api/pkg/response"
)

// EnrollmentHandler exposes enrollment lifecycle endpoints.
type EnrollmentHandler struct {
	enrollments *service.EnrollmentService
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(enrollments *service.EnrollmentService) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments}
}

// List godoc
// @Summary List enrollments visible to the caller
// @Tags Enrollments
// @Produce json
// @Param studentId query string false "Filter by student"
// @Param courseId query string false "Filter by course"
// @Param sessionId query string false "Filter by session"
// @Param status query string false "Filter by status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /enrollments [get]
func (h *EnrollmentHandler) List(c *gin.Context) {
	var filter models.EnrollmentFilter
	filter.StudentID = c.Query("studentId")
	filter.CourseID = c.Query("courseId")
	filter.SessionID = c.Query("sessionId")
	filter.Status = models.EnrollmentStatus(strings.ToUpper(c.Query("status")))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	enrollments, pagination, err := h.enrollments.List(c.Request.Context(), actorFromContext(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollments, pagination)
}

// Register godoc
// @Summary Register for a course session
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body service.RegisterEnrollmentRequest true "Registration payload"
// @Success 201 {object} response.Envelope
// @Router /enrollments [post]
func (h *EnrollmentHandler) Register(c *gin.Context) {
	var req service.RegisterEnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	enrollment, err := h.enrollments.Register(c.Request.Context(), actorFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, enrollment)
}

// Get godoc
// @Summary Get an enrollment
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id} [get]
func (h *EnrollmentHandler) Get(c *gin.Context) {
	enrollment, err := h.enrollments.Get(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// GetByTracking godoc
// @Summary Look up an enrollment by tracking number
// @Tags Enrollments
// @Produce json
// @Param number path string true "Tracking number"
// @Success 200 {object} response.Envelope
// @Router /enrollments/tracking/{number} [get]
func (h *EnrollmentHandler) GetByTracking(c *gin.Context) {
	enrollment, err := h.enrollments.GetByTracking(c.Request.Context(), actorFromContext(c), c.Param("number"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// Approve godoc
// @Summary Approve a pending enrollment
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/approve [put]
func (h *EnrollmentHandler) Approve(c *gin.Context) {
	enrollment, err := h.enrollments.Approve(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// Reject godoc
// @Summary Reject a pending enrollment
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body service.RejectEnrollmentRequest true "Rejection payload"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/reject [put]
func (h *EnrollmentHandler) Reject(c *gin.Context) {
	var req service.RejectEnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	enrollment, err := h.enrollments.Reject(c.Request.Context(), actorFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// Cancel godoc
// @Summary Cancel an enrollment before its session starts
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body service.CancelEnrollmentRequest false "Refund destination for settled bank transfers"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/cancel [put]
func (h *EnrollmentHandler) Cancel(c *gin.Context) {
	// The body is optional; only settled bank transfers need it.
	var req service.CancelEnrollmentRequest
	_ = c.ShouldBindJSON(&req)
	enrollment, err := h.enrollments.Cancel(c.Request.Context(), actorFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}
