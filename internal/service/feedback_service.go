package service

import (
	"context"
	"database/sql"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ultima-training/ultima-api/internal/models"
	appErrors "github.com/ultima-training/ultima-api/pkg/errors"
)

type feedbackRepository interface {
	FindByID(ctx context.Context, id string) (*models.FeedbackDetail, error)
	FindByEnrollment(ctx context.Context, enrollmentID string) (*models.Feedback, error)
	Create(ctx context.Context, fb *models.Feedback) error
	Approve(ctx context.Context, id, reviewerID string) (bool, error)
	RequestChanges(ctx context.Context, id, comments string) (bool, error)
	List(ctx context.Context, filter models.FeedbackFilter) ([]models.FeedbackDetail, int, error)
}

type certificateIssuer interface {
	QueueIssuance(enrollmentID string) error
}

// SubmitFeedbackRequest is a student's review of a completed enrollment.
type SubmitFeedbackRequest struct {
	EnrollmentID      string `json:"enrollment_id" validate:"required"`
	OverallRating     int    `json:"overall_rating" validate:"required,min=1,max=5"`
	ContentRating     int    `json:"content_rating" validate:"required,min=1,max=5"`
	InstructorRating  int    `json:"instructor_rating" validate:"required,min=1,max=5"`
	VenueRating       int    `json:"venue_rating" validate:"required,min=1,max=5"`
	OverallExperience string `json:"overall_experience" validate:"required,min=3"`
	KeyTakeaways      string `json:"key_takeaways"`
	Improvements      string `json:"improvements"`
	WouldRecommend    bool   `json:"would_recommend"`
	AllowTestimonial  bool   `json:"allow_testimonial"`
}

// RequestFeedbackChangesRequest carries the reviewer's revision notes.
type RequestFeedbackChangesRequest struct {
	Comments string `json:"comments" validate:"required,min=3"`
}

// FeedbackService handles review submission and the publication workflow.
// Publishing a review is what triggers certificate issuance for the
// underlying enrollment.
type FeedbackService struct {
	repo        feedbackRepository
	enrollments enrollmentReader
	courses     sessionReader
	certs       certificateIssuer
	outbox      outboxWriter
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewFeedbackService constructs FeedbackService.
func NewFeedbackService(repo feedbackRepository, enrollments enrollmentReader, courses sessionReader, certs certificateIssuer, outbox outboxWriter, validate *validator.Validate, logger *zap.Logger) *FeedbackService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeedbackService{repo: repo, enrollments: enrollments, courses: courses, certs: certs, outbox: outbox, validator: validate, logger: logger}
}

// Submit records a review for a completed enrollment owned by the actor.
// One review per enrollment; reviews start unpublished.
func (s *FeedbackService) Submit(ctx context.Context, actor Actor, req SubmitFeedbackRequest) (*models.Feedback, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid feedback payload")
	}

	enrollment, err := s.enrollments.FindByID(ctx, req.EnrollmentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if enrollment.StudentID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
	}
	if enrollment.Status != models.EnrollmentStatusCompleted {
		return nil, appErrors.Clone(appErrors.ErrGuardFailed, "feedback is only accepted for completed enrollments")
	}

	if _, err := s.repo.FindByEnrollment(ctx, req.EnrollmentID); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "feedback was already submitted for this enrollment")
	} else if err != sql.ErrNoRows {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing feedback")
	}

	fb := &models.Feedback{
		EnrollmentID:      enrollment.ID,
		StudentID:         enrollment.StudentID,
		CourseID:          enrollment.CourseID,
		OverallRating:     req.OverallRating,
		ContentRating:     req.ContentRating,
		InstructorRating:  req.InstructorRating,
		VenueRating:       req.VenueRating,
		OverallExperience: req.OverallExperience,
		KeyTakeaways:      req.KeyTakeaways,
		Improvements:      req.Improvements,
		WouldRecommend:    req.WouldRecommend,
		AllowTestimonial:  req.AllowTestimonial,
	}
	if err := s.repo.Create(ctx, fb); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store feedback")
	}
	s.logger.Info("feedback submitted",
		zap.String("feedback_id", fb.ID),
		zap.String("enrollment_id", enrollment.ID))
	return fb, nil
}

// Approve publishes a review and queues certificate issuance for the
// enrollment. Publication is one way; approving an already published
// review is a conflict. Issuance runs outside this call, so a render
// failure never undoes the approval.
func (s *FeedbackService) Approve(ctx context.Context, actor Actor, id string) (*models.FeedbackDetail, error) {
	detail, err := s.loadForReview(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	ok, err := s.repo.Approve(ctx, id, actor.UserID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to approve feedback")
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrConflict, "feedback is already published")
	}

	if s.certs != nil {
		if err := s.certs.QueueIssuance(detail.EnrollmentID); err != nil {
			s.logger.Error("failed to queue certificate issuance",
				zap.String("enrollment_id", detail.EnrollmentID), zap.Error(err))
		}
	}

	updated, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load feedback")
	}
	return updated, nil
}

// RequestChanges records revision notes on an unpublished review and asks
// the student to revise it.
func (s *FeedbackService) RequestChanges(ctx context.Context, actor Actor, id string, req RequestFeedbackChangesRequest) (*models.FeedbackDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "revision comments are required")
	}
	detail, err := s.loadForReview(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	ok, err := s.repo.RequestChanges(ctx, id, req.Comments)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record revision request")
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrConflict, "feedback is already published")
	}

	if s.outbox != nil {
		if err := s.outbox.Create(ctx, feedbackRevisionNotification(detail, req.Comments)); err != nil {
			s.logger.Error("failed to queue revision notification",
				zap.String("feedback_id", id), zap.Error(err))
		}
	}

	updated, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load feedback")
	}
	return updated, nil
}

// loadForReview resolves a feedback entry for a reviewer. Instructors may
// only review feedback on their own courses; everyone else gets not-found.
func (s *FeedbackService) loadForReview(ctx context.Context, actor Actor, id string) (*models.FeedbackDetail, error) {
	detail, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "feedback not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load feedback")
	}
	if actor.IsAdmin() {
		return detail, nil
	}
	course, err := s.courses.FindByID(ctx, detail.CourseID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "feedback not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if !course.TaughtBy(actor.UserID) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "feedback not found")
	}
	return detail, nil
}

// List returns reviews visible to the actor. Students see their own
// submissions, everyone sees published reviews, staff see everything.
func (s *FeedbackService) List(ctx context.Context, actor Actor, filter models.FeedbackFilter) ([]models.FeedbackDetail, *models.Pagination, error) {
	if !actor.IsAdmin() {
		if filter.StudentID == actor.UserID && actor.UserID != "" {
			// Own submissions, published or not.
		} else {
			approved := true
			filter.Approved = &approved
		}
	}

	entries, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list feedback")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return entries, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}
