package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ultima-training/ultima-api/internal/models"
	"github.com/ultima-training/ultima-api/internal/service"
	appErrors "github.com/ultima-training/ultima-api/pkg/errors"
	"github.com/ultima-training/ultima-api/pkg/response"
)

// FeedbackHandler exposes review submission and publication endpoints.
type FeedbackHandler struct {
	feedback *service.FeedbackService
}

// NewFeedbackHandler constructs FeedbackHandler.
func NewFeedbackHandler(feedback *service.FeedbackService) *FeedbackHandler {
	return &FeedbackHandler{feedback: feedback}
}

// List godoc
// @Summary List course reviews
// @Tags Feedback
// @Produce json
// @Param courseId query string false "Filter by course"
// @Param studentId query string false "Filter by student"
// @Param approved query bool false "Filter by publication state (staff only)"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /feedback [get]
func (h *FeedbackHandler) List(c *gin.Context) {
	var filter models.FeedbackFilter
	filter.CourseID = c.Query("courseId")
	filter.StudentID = c.Query("studentId")
	if raw := c.Query("approved"); raw != "" {
		if approved, err := strconv.ParseBool(raw); err == nil {
			filter.Approved = &approved
		}
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}

	entries, pagination, err := h.feedback.List(c.Request.Context(), actorFromContext(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, pagination)
}

// Submit godoc
// @Summary Submit a review for a completed enrollment
// @Tags Feedback
// @Accept json
// @Produce json
// @Param payload body service.SubmitFeedbackRequest true "Feedback payload"
// @Success 201 {object} response.Envelope
// @Router /feedback [post]
func (h *FeedbackHandler) Submit(c *gin.Context) {
	var req service.SubmitFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	fb, err := h.feedback.Submit(c.Request.Context(), actorFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, fb)
}

// Approve godoc
// @Summary Publish a review
// @Tags Feedback
// @Produce json
// @Param id path string true "Feedback ID"
// @Success 200 {object} response.Envelope
// @Router /feedback/{id}/approve [put]
func (h *FeedbackHandler) Approve(c *gin.Context) {
	fb, err := h.feedback.Approve(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, fb, nil)
}

// RequestChanges godoc
// @Summary Ask the student to revise a review
// @Tags Feedback
// @Accept json
// @Produce json
// @Param id path string true "Feedback ID"
// @Param payload body service.RequestFeedbackChangesRequest true "Revision notes"
// @Success 200 {object} response.Envelope
// @Router /feedback/{id}/request-changes [put]
func (h *FeedbackHandler) RequestChanges(c *gin.Context) {
	var req service.RequestFeedbackChangesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	fb, err := h.feedback.RequestChanges(c.Request.Context(), actorFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, fb, nil)
}
