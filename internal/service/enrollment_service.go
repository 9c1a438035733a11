package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ultima-training/ultima-api/internal/models"
	"github.com/ultima-training/ultima-api/internal/repository"
	appErrors "github.com/ultima-training/ultima-api/pkg/errors"
)

type enrollmentRepository interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error)
	FindDetailByTracking(ctx context.Context, trackingNumber string) (*models.EnrollmentDetail, error)
	Register(ctx context.Context, enrollment *models.Enrollment, notif *models.Notification) error
	TransitionStatus(ctx context.Context, id string, from, to models.EnrollmentStatus, notif *models.Notification) (bool, error)
	Cancel(ctx context.Context, id string, from models.EnrollmentStatus, refund *models.Refund, notif *models.Notification) (bool, error)
	Approve(ctx context.Context, id, approverID string, notif *models.Notification) (bool, error)
	Reject(ctx context.Context, id, reason, reviewerID string, notif *models.Notification) (bool, error)
	Complete(ctx context.Context, id string, completedAt time.Time, notif *models.Notification) (bool, error)
	ListEndedEnrolled(ctx context.Context, now time.Time, limit int) ([]models.EnrollmentDetail, error)
}

type sessionReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	FindSessionByID(ctx context.Context, id string) (*models.CourseSession, error)
}

type pricer interface {
	Price(ctx context.Context, course *models.Course, promoCode string) (*Quote, error)
}

type accountReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type refundOpener interface {
	PrepareRefund(ctx context.Context, enrollmentID string, req RefundRequest) (*models.Refund, error)
}

// Actor identifies the authenticated caller for ownership checks.
type Actor struct {
	UserID string
	Role   models.UserRole
}

// IsAdmin reports whether the actor holds the admin role.
func (a Actor) IsAdmin() bool {
	return a.Role == models.RoleAdmin
}

// RegisterEnrollmentRequest describes a registration payload.
type RegisterEnrollmentRequest struct {
	SessionID string `json:"session_id" validate:"required"`
	PromoCode string `json:"promo_code"`
}

// RejectEnrollmentRequest carries the mandatory rejection reason.
type RejectEnrollmentRequest struct {
	Reason string `json:"reason" validate:"required,min=3"`
}

// CancelEnrollmentRequest optionally carries the refund destination for
// enrollments that already paid by bank transfer.
type CancelEnrollmentRequest struct {
	Reason         string `json:"reason"`
	BankCardNumber string `json:"bank_card_number"`
	CardholderName string `json:"cardholder_name"`
}

// EnrollmentService orchestrates the enrollment lifecycle.
type EnrollmentService struct {
	repo      enrollmentRepository
	courses   sessionReader
	users     accountReader
	pricing   pricer
	refunds   refundOpener
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, courses sessionReader, users accountReader, pricing pricer, refunds refundOpener, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{repo: repo, courses: courses, users: users, pricing: pricing, refunds: refunds, validator: validate, logger: logger}
}

// List returns enrollments visible to the actor with pagination metadata.
// Students only ever see their own rows.
func (s *EnrollmentService) List(ctx context.Context, actor Actor, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	if actor.Role == models.RoleStudent {
		filter.StudentID = actor.UserID
	}
	if actor.Role == models.RoleInstructor {
		if filter.CourseID == "" {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, "course_id is required for instructors")
		}
		course, err := s.courses.FindByID(ctx, filter.CourseID)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
			}
			return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
		}
		if !course.TaughtBy(actor.UserID) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
	}

	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return enrollments, pagination, nil
}

// Get returns a single enrollment. Callers who do not own the enrollment
// and are not staff get a not-found, never a forbidden, so enrollment IDs
// leak no existence information.
func (s *EnrollmentService) Get(ctx context.Context, actor Actor, id string) (*models.EnrollmentDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if !s.canView(actor, detail) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
	}
	return detail, nil
}

// GetByTracking resolves an enrollment by its public tracking number.
func (s *EnrollmentService) GetByTracking(ctx context.Context, actor Actor, trackingNumber string) (*models.EnrollmentDetail, error) {
	detail, err := s.repo.FindDetailByTracking(ctx, trackingNumber)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if !s.canView(actor, detail) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
	}
	return detail, nil
}

func (s *EnrollmentService) canView(actor Actor, detail *models.EnrollmentDetail) bool {
	if actor.IsAdmin() {
		return true
	}
	if actor.Role == models.RoleInstructor && detail.InstructorID == actor.UserID {
		return true
	}
	return detail.StudentID == actor.UserID
}

// Register creates a pending enrollment for the actor on a session. The
// capacity check and the insert happen atomically in the repository while
// the session row is locked.
func (s *EnrollmentService) Register(ctx context.Context, actor Actor, req RegisterEnrollmentRequest) (*models.EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}

	session, err := s.courses.FindSessionByID(ctx, req.SessionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	if !session.Active {
		return nil, appErrors.Clone(appErrors.ErrGuardFailed, "session is not open for registration")
	}
	if !session.StartDatetime.After(time.Now().UTC()) {
		return nil, appErrors.Clone(appErrors.ErrGuardFailed, "session has already started")
	}

	course, err := s.courses.FindByID(ctx, session.CourseID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if !course.Active {
		return nil, appErrors.Clone(appErrors.ErrGuardFailed, "course is not open for registration")
	}

	student, err := s.users.FindByID(ctx, actor.UserID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student account not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student account")
	}

	quote, err := s.pricing.Price(ctx, course, req.PromoCode)
	if err != nil {
		return nil, err
	}

	tracking, err := newReference(10)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to allocate tracking number")
	}

	enrollment := &models.Enrollment{
		StudentID:       actor.UserID,
		CourseID:        course.ID,
		SessionID:       session.ID,
		Status:          models.EnrollmentStatusPending,
		TrackingNumber:  tracking,
		PromoCode:       quote.PromoCode,
		FinalPriceCents: quote.FinalPriceCents,
		Currency:        quote.Currency,
		EnrolledAt:      time.Now().UTC(),
	}

	// The outbox row is built ahead of the insert so it commits with it.
	pendingDetail := &models.EnrollmentDetail{
		Enrollment:   *enrollment,
		StudentName:  student.FullName,
		StudentEmail: student.Email,
		CourseName:   course.Name,
	}
	notif := registrationNotification(pendingDetail)

	if err := s.repo.Register(ctx, enrollment, notif); err != nil {
		switch {
		case err == repository.ErrSessionFull:
			return nil, appErrors.Clone(appErrors.ErrGuardFailed, "session is full")
		case err == repository.ErrDuplicateEnrollment:
			return nil, appErrors.Clone(appErrors.ErrConflict, "already registered for this session")
		case err == sql.ErrNoRows:
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to register enrollment")
		}
	}

	detail, err := s.repo.FindDetailByID(ctx, enrollment.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment detail")
	}
	s.logger.Info("enrollment registered",
		zap.String("enrollment_id", enrollment.ID),
		zap.String("session_id", session.ID),
		zap.String("tracking_number", tracking))
	return detail, nil
}

// Approve moves a pending enrollment to enrolled. Used by staff for bank
// transfer settlements reviewed by hand.
func (s *EnrollmentService) Approve(ctx context.Context, actor Actor, id string) (*models.EnrollmentDetail, error) {
	detail, err := s.loadForReview(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	ok, err := s.repo.Approve(ctx, id, actor.UserID, approvalNotification(detail))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to approve enrollment")
	}
	if !ok {
		return nil, s.classifyTransitionFailure(ctx, id, detail.Status, models.EnrollmentStatusEnrolled)
	}
	return s.reload(ctx, id)
}

// Reject moves a pending enrollment to rejected with a mandatory reason.
func (s *EnrollmentService) Reject(ctx context.Context, actor Actor, id string, req RejectEnrollmentRequest) (*models.EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "rejection reason is required")
	}
	detail, err := s.loadForReview(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	ok, err := s.repo.Reject(ctx, id, req.Reason, actor.UserID, rejectionNotification(detail, req.Reason))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reject enrollment")
	}
	if !ok {
		return nil, s.classifyTransitionFailure(ctx, id, detail.Status, models.EnrollmentStatusRejected)
	}
	return s.reload(ctx, id)
}

// Cancel withdraws a pending or enrolled enrollment. Students may only
// cancel before the session starts. If a settled payment exists, a refund
// request is filed alongside the cancellation.
func (s *EnrollmentService) Cancel(ctx context.Context, actor Actor, id string, req CancelEnrollmentRequest) (*models.EnrollmentDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if !actor.IsAdmin() && detail.StudentID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
	}
	if detail.Status.IsTerminal() {
		return nil, s.classifyTransitionFailure(ctx, id, detail.Status, models.EnrollmentStatusCancelled)
	}
	if !detail.StartDatetime.After(time.Now().UTC()) {
		return nil, appErrors.Clone(appErrors.ErrGuardFailed, "session has already started")
	}

	reason := req.Reason
	if reason == "" {
		reason = "enrollment cancelled"
	}
	// A settled payment obliges a refund request, so the row is built up
	// front and committed with the status flip. Enrollments that never
	// settled yield a nil refund and only flip status.
	var refund *models.Refund
	if s.refunds != nil {
		refund, err = s.refunds.PrepareRefund(ctx, id, RefundRequest{
			Reason:         reason,
			BankCardNumber: req.BankCardNumber,
			CardholderName: req.CardholderName,
		})
		if err != nil {
			return nil, err
		}
	}

	ok, err := s.repo.Cancel(ctx, id, detail.Status, refund, cancellationNotification(detail))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel enrollment")
	}
	if !ok {
		return nil, s.classifyTransitionFailure(ctx, id, detail.Status, models.EnrollmentStatusCancelled)
	}
	return s.reload(ctx, id)
}

// CompleteEndedSessions marks enrolled enrollments whose session already
// ended as completed. It is run periodically by the lifecycle sweeper.
// Certificates are not issued here; issuance waits for feedback approval.
func (s *EnrollmentService) CompleteEndedSessions(ctx context.Context, batchSize int) (int, error) {
	now := time.Now().UTC()
	ended, err := s.repo.ListEndedEnrolled(ctx, now, batchSize)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list ended enrollments")
	}

	completed := 0
	for i := range ended {
		detail := &ended[i]
		ok, err := s.repo.Complete(ctx, detail.ID, detail.EndDatetime, nil)
		if err != nil {
			s.logger.Error("completion sweep failed for enrollment",
				zap.String("enrollment_id", detail.ID), zap.Error(err))
			continue
		}
		if !ok {
			// Raced with a cancel or another sweeper. Nothing to do.
			continue
		}
		completed++
	}
	if completed > 0 {
		s.logger.Info("completion sweep finished", zap.Int("completed", completed))
	}
	return completed, nil
}

// loadForReview resolves an enrollment for an approve or reject decision.
// Instructors may only review enrollments on courses they teach; anyone
// else gets a not-found.
func (s *EnrollmentService) loadForReview(ctx context.Context, actor Actor, id string) (*models.EnrollmentDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if actor.IsAdmin() {
		return detail, nil
	}
	course, err := s.courses.FindByID(ctx, detail.CourseID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if !course.TaughtBy(actor.UserID) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
	}
	return detail, nil
}

func (s *EnrollmentService) reload(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment detail")
	}
	return detail, nil
}

// classifyTransitionFailure re-reads the row after a compare-and-swap came
// back empty. observed is the status read before the swap: when the row has
// moved since that read, a concurrent writer won and the caller gets a
// conflict naming the actual current status. A row still in the observed
// state means the requested move was never legal from there.
func (s *EnrollmentService) classifyTransitionFailure(ctx context.Context, id string, observed, target models.EnrollmentStatus) error {
	current, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if current.Status == target {
		return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("enrollment is already %s", current.Status))
	}
	if current.Status != observed {
		return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("enrollment is now %s", current.Status))
	}
	return appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot move enrollment from %s to %s", current.Status, target))
}
