package service

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ultima-training/ultima-api/internal/models"
	"github.com/ultima-training/ultima-api/internal/repository"
	appErrors "github.com/ultima-training/ultima-api/pkg/errors"
)

type mockEnrollmentRepo struct {
	mu          sync.Mutex
	enrollments map[string]models.EnrollmentDetail
	registerErr error
	registered  *models.Enrollment
	notifs      []*models.Notification
	refunds     []*models.Refund
	ended       []models.EnrollmentDetail
}

func (m *mockEnrollmentRepo) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	var out []models.EnrollmentDetail
	for _, d := range m.enrollments {
		out = append(out, d)
	}
	return out, len(out), nil
}

func (m *mockEnrollmentRepo) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.enrollments[id]; ok {
		e := d.Enrollment
		return &e, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentRepo) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.enrollments[id]; ok {
		return &d, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentRepo) FindDetailByTracking(ctx context.Context, trackingNumber string) (*models.EnrollmentDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.enrollments {
		if d.TrackingNumber == trackingNumber {
			return &d, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentRepo) Register(ctx context.Context, enrollment *models.Enrollment, notif *models.Notification) error {
	if m.registerErr != nil {
		return m.registerErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if enrollment.ID == "" {
		enrollment.ID = "enr-new"
	}
	if m.enrollments == nil {
		m.enrollments = make(map[string]models.EnrollmentDetail)
	}
	m.enrollments[enrollment.ID] = models.EnrollmentDetail{Enrollment: *enrollment}
	m.registered = enrollment
	m.notifs = append(m.notifs, notif)
	return nil
}

func (m *mockEnrollmentRepo) TransitionStatus(ctx context.Context, id string, from, to models.EnrollmentStatus, notif *models.Notification) (bool, error) {
	return m.swap(id, from, to, notif)
}

func (m *mockEnrollmentRepo) Cancel(ctx context.Context, id string, from models.EnrollmentStatus, refund *models.Refund, notif *models.Notification) (bool, error) {
	ok, err := m.swap(id, from, models.EnrollmentStatusCancelled, notif)
	if ok && refund != nil {
		m.mu.Lock()
		m.refunds = append(m.refunds, refund)
		m.mu.Unlock()
	}
	return ok, err
}

func (m *mockEnrollmentRepo) Approve(ctx context.Context, id, approverID string, notif *models.Notification) (bool, error) {
	return m.swap(id, models.EnrollmentStatusPending, models.EnrollmentStatusEnrolled, notif)
}

func (m *mockEnrollmentRepo) Reject(ctx context.Context, id, reason, reviewerID string, notif *models.Notification) (bool, error) {
	return m.swap(id, models.EnrollmentStatusPending, models.EnrollmentStatusRejected, notif)
}

func (m *mockEnrollmentRepo) Complete(ctx context.Context, id string, completedAt time.Time, notif *models.Notification) (bool, error) {
	return m.swap(id, models.EnrollmentStatusEnrolled, models.EnrollmentStatusCompleted, notif)
}

func (m *mockEnrollmentRepo) ListEndedEnrolled(ctx context.Context, now time.Time, limit int) ([]models.EnrollmentDetail, error) {
	return m.ended, nil
}

func (m *mockEnrollmentRepo) swap(id string, from, to models.EnrollmentStatus, notif *models.Notification) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.enrollments[id]
	if !ok || d.Status != from {
		return false, nil
	}
	d.Status = to
	m.enrollments[id] = d
	m.notifs = append(m.notifs, notif)
	return true, nil
}

type mockCourseReader struct {
	courses  map[string]models.Course
	sessions map[string]models.CourseSession
}

func (m *mockCourseReader) FindByID(ctx context.Context, id string) (*models.Course, error) {
	if c, ok := m.courses[id]; ok {
		return &c, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockCourseReader) FindSessionByID(ctx context.Context, id string) (*models.CourseSession, error) {
	if s, ok := m.sessions[id]; ok {
		return &s, nil
	}
	return nil, sql.ErrNoRows
}

type mockAccounts struct {
	users map[string]models.User
}

func (m *mockAccounts) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		return &u, nil
	}
	return nil, sql.ErrNoRows
}

type mockPricer struct {
	quote *Quote
	err   error
}

func (m *mockPricer) Price(ctx context.Context, course *models.Course, promoCode string) (*Quote, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.quote != nil {
		return m.quote, nil
	}
	return &Quote{ListPriceCents: course.PriceCents, FinalPriceCents: course.PriceCents, Currency: course.Currency}, nil
}

type mockRefundOpener struct {
	prepareErr error
	refund     *models.Refund
	prepared   []string
}

func (m *mockRefundOpener) PrepareRefund(ctx context.Context, enrollmentID string, req RefundRequest) (*models.Refund, error) {
	if m.prepareErr != nil {
		return nil, m.prepareErr
	}
	m.prepared = append(m.prepared, enrollmentID)
	return m.refund, nil
}

func newLifecycleFixture(repo enrollmentRepository) (*EnrollmentService, *mockRefundOpener) {
	courses := &mockCourseReader{
		courses: map[string]models.Course{
			"crs-1": {ID: "crs-1", Name: "Go Fundamentals", InstructorID: "inst-1", PriceCents: 150000, Currency: "USD", MaxCapacity: 20, Active: true},
		},
		sessions: map[string]models.CourseSession{
			"ses-open": {ID: "ses-open", CourseID: "crs-1", StartDatetime: time.Now().Add(48 * time.Hour), EndDatetime: time.Now().Add(72 * time.Hour), Active: true},
			"ses-past": {ID: "ses-past", CourseID: "crs-1", StartDatetime: time.Now().Add(-48 * time.Hour), EndDatetime: time.Now().Add(-24 * time.Hour), Active: true},
		},
	}
	users := &mockAccounts{users: map[string]models.User{
		"stu-1": {ID: "stu-1", Email: "jane@example.com", FullName: "Jane Doe"},
	}}
	refunds := &mockRefundOpener{}
	svc := NewEnrollmentService(repo, courses, users, &mockPricer{}, refunds, validator.New(), zap.NewNop())
	return svc, refunds
}

func TestEnrollmentServiceRegister(t *testing.T) {
	repo := &mockEnrollmentRepo{}
	svc, _ := newLifecycleFixture(repo)

	detail, err := svc.Register(context.Background(), Actor{UserID: "stu-1", Role: models.RoleStudent},
		RegisterEnrollmentRequest{SessionID: "ses-open"})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusPending, detail.Status)
	assert.Len(t, detail.TrackingNumber, 10)
	assert.Equal(t, int64(150000), detail.FinalPriceCents)
	require.Len(t, repo.notifs, 1)
	assert.Equal(t, models.NotificationEnrollmentRegistered, repo.notifs[0].Kind)
}

func TestEnrollmentServiceRegisterSessionStarted(t *testing.T) {
	repo := &mockEnrollmentRepo{}
	svc, _ := newLifecycleFixture(repo)

	_, err := svc.Register(context.Background(), Actor{UserID: "stu-1", Role: models.RoleStudent},
		RegisterEnrollmentRequest{SessionID: "ses-past"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrGuardFailed.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceRegisterSessionFull(t *testing.T) {
	repo := &mockEnrollmentRepo{registerErr: repository.ErrSessionFull}
	svc, _ := newLifecycleFixture(repo)

	_, err := svc.Register(context.Background(), Actor{UserID: "stu-1", Role: models.RoleStudent},
		RegisterEnrollmentRequest{SessionID: "ses-open"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrGuardFailed.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceRegisterDuplicate(t *testing.T) {
	repo := &mockEnrollmentRepo{registerErr: repository.ErrDuplicateEnrollment}
	svc, _ := newLifecycleFixture(repo)

	_, err := svc.Register(context.Background(), Actor{UserID: "stu-1", Role: models.RoleStudent},
		RegisterEnrollmentRequest{SessionID: "ses-open"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceApprove(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]models.EnrollmentDetail{
		"enr-1": {Enrollment: models.Enrollment{ID: "enr-1", StudentID: "stu-1", Status: models.EnrollmentStatusPending}},
	}}
	svc, _ := newLifecycleFixture(repo)

	detail, err := svc.Approve(context.Background(), Actor{UserID: "admin-1", Role: models.RoleAdmin}, "enr-1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusEnrolled, detail.Status)
}

func TestEnrollmentServiceApproveAlreadyEnrolled(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]models.EnrollmentDetail{
		"enr-1": {Enrollment: models.Enrollment{ID: "enr-1", StudentID: "stu-1", Status: models.EnrollmentStatusEnrolled}},
	}}
	svc, _ := newLifecycleFixture(repo)

	_, err := svc.Approve(context.Background(), Actor{UserID: "admin-1", Role: models.RoleAdmin}, "enr-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceApproveCancelled(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]models.EnrollmentDetail{
		"enr-1": {Enrollment: models.Enrollment{ID: "enr-1", StudentID: "stu-1", Status: models.EnrollmentStatusCancelled}},
	}}
	svc, _ := newLifecycleFixture(repo)

	_, err := svc.Approve(context.Background(), Actor{UserID: "admin-1", Role: models.RoleAdmin}, "enr-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceApproveInstructorOwnCourse(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]models.EnrollmentDetail{
		"enr-1": {Enrollment: models.Enrollment{ID: "enr-1", StudentID: "stu-1", CourseID: "crs-1", Status: models.EnrollmentStatusPending}},
	}}
	svc, _ := newLifecycleFixture(repo)

	detail, err := svc.Approve(context.Background(), Actor{UserID: "inst-1", Role: models.RoleInstructor}, "enr-1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusEnrolled, detail.Status)
}

func TestEnrollmentServiceApproveHidesForeignCourses(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]models.EnrollmentDetail{
		"enr-1": {Enrollment: models.Enrollment{ID: "enr-1", StudentID: "stu-1", CourseID: "crs-1", Status: models.EnrollmentStatusPending}},
	}}
	svc, _ := newLifecycleFixture(repo)

	_, err := svc.Approve(context.Background(), Actor{UserID: "inst-2", Role: models.RoleInstructor}, "enr-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
	assert.Equal(t, models.EnrollmentStatusPending, repo.enrollments["enr-1"].Status)
}

func TestEnrollmentServiceRejectHidesForeignCourses(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]models.EnrollmentDetail{
		"enr-1": {Enrollment: models.Enrollment{ID: "enr-1", StudentID: "stu-1", CourseID: "crs-1", Status: models.EnrollmentStatusPending}},
	}}
	svc, _ := newLifecycleFixture(repo)

	_, err := svc.Reject(context.Background(), Actor{UserID: "inst-2", Role: models.RoleInstructor}, "enr-1",
		RejectEnrollmentRequest{Reason: "payment never arrived"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
	assert.Equal(t, models.EnrollmentStatusPending, repo.enrollments["enr-1"].Status)
}

func TestEnrollmentServiceRejectRequiresReason(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]models.EnrollmentDetail{
		"enr-1": {Enrollment: models.Enrollment{ID: "enr-1", StudentID: "stu-1", Status: models.EnrollmentStatusPending}},
	}}
	svc, _ := newLifecycleFixture(repo)

	_, err := svc.Reject(context.Background(), Actor{UserID: "admin-1", Role: models.RoleAdmin}, "enr-1", RejectEnrollmentRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	detail, err := svc.Reject(context.Background(), Actor{UserID: "admin-1", Role: models.RoleAdmin}, "enr-1",
		RejectEnrollmentRequest{Reason: "payment never arrived"})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusRejected, detail.Status)
}

func TestEnrollmentServiceCancelAfterStart(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]models.EnrollmentDetail{
		"enr-1": {
			Enrollment:    models.Enrollment{ID: "enr-1", StudentID: "stu-1", Status: models.EnrollmentStatusEnrolled},
			StartDatetime: time.Now().Add(-2 * time.Hour),
		},
	}}
	svc, _ := newLifecycleFixture(repo)

	_, err := svc.Cancel(context.Background(), Actor{UserID: "stu-1", Role: models.RoleStudent}, "enr-1", CancelEnrollmentRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrGuardFailed.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceCancelHidesForeignEnrollments(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]models.EnrollmentDetail{
		"enr-1": {
			Enrollment:    models.Enrollment{ID: "enr-1", StudentID: "stu-1", Status: models.EnrollmentStatusPending},
			StartDatetime: time.Now().Add(24 * time.Hour),
		},
	}}
	svc, _ := newLifecycleFixture(repo)

	_, err := svc.Cancel(context.Background(), Actor{UserID: "stu-2", Role: models.RoleStudent}, "enr-1", CancelEnrollmentRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceCancelFilesRefundWithCancellation(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]models.EnrollmentDetail{
		"enr-1": {
			Enrollment:    models.Enrollment{ID: "enr-1", StudentID: "stu-1", Status: models.EnrollmentStatusEnrolled},
			StartDatetime: time.Now().Add(24 * time.Hour),
		},
	}}
	svc, refunds := newLifecycleFixture(repo)
	refunds.refund = &models.Refund{PaymentID: "pay-1", Status: models.RefundStatusRequested, AmountCents: 150000}

	detail, err := svc.Cancel(context.Background(), Actor{UserID: "stu-1", Role: models.RoleStudent}, "enr-1",
		CancelEnrollmentRequest{Reason: "schedule clash"})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCancelled, detail.Status)
	assert.Equal(t, []string{"enr-1"}, refunds.prepared)
	// The refund row rides the cancel transaction, not a follow-up write.
	require.Len(t, repo.refunds, 1)
	assert.Equal(t, "pay-1", repo.refunds[0].PaymentID)
}

func TestEnrollmentServiceCancelUnsettledNeedsNoRefund(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]models.EnrollmentDetail{
		"enr-1": {
			Enrollment:    models.Enrollment{ID: "enr-1", StudentID: "stu-1", Status: models.EnrollmentStatusPending},
			StartDatetime: time.Now().Add(24 * time.Hour),
		},
	}}
	svc, _ := newLifecycleFixture(repo)

	detail, err := svc.Cancel(context.Background(), Actor{UserID: "stu-1", Role: models.RoleStudent}, "enr-1", CancelEnrollmentRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCancelled, detail.Status)
	assert.Empty(t, repo.refunds)
}

func TestEnrollmentServiceCancelBlockedByRefundDestination(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]models.EnrollmentDetail{
		"enr-1": {
			Enrollment:    models.Enrollment{ID: "enr-1", StudentID: "stu-1", Status: models.EnrollmentStatusEnrolled},
			StartDatetime: time.Now().Add(24 * time.Hour),
		},
	}}
	svc, refunds := newLifecycleFixture(repo)
	refunds.prepareErr = appErrors.Clone(appErrors.ErrValidation, "bank card number and cardholder name are required for bank transfer refunds")

	_, err := svc.Cancel(context.Background(), Actor{UserID: "stu-1", Role: models.RoleStudent}, "enr-1", CancelEnrollmentRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Equal(t, models.EnrollmentStatusEnrolled, repo.enrollments["enr-1"].Status)
	assert.Empty(t, repo.refunds)
}

func TestEnrollmentServiceCompleteEndedSessions(t *testing.T) {
	ended := models.EnrollmentDetail{
		Enrollment:  models.Enrollment{ID: "enr-1", StudentID: "stu-1", Status: models.EnrollmentStatusEnrolled},
		EndDatetime: time.Now().Add(-time.Hour),
	}
	repo := &mockEnrollmentRepo{
		enrollments: map[string]models.EnrollmentDetail{"enr-1": ended},
		ended:       []models.EnrollmentDetail{ended},
	}
	svc, _ := newLifecycleFixture(repo)

	completed, err := svc.CompleteEndedSessions(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, 1, completed)
	assert.Equal(t, models.EnrollmentStatusCompleted, repo.enrollments["enr-1"].Status)
}

// raceyEnrollmentRepo simulates losing the status CAS to a concurrent
// writer: the first Approve flips the row to cancelled and reports no
// rows matched, as if another request committed in between.
type raceyEnrollmentRepo struct {
	*mockEnrollmentRepo
}

func (r *raceyEnrollmentRepo) Approve(ctx context.Context, id, approverID string, notif *models.Notification) (bool, error) {
	r.mu.Lock()
	d := r.enrollments[id]
	d.Status = models.EnrollmentStatusCancelled
	r.enrollments[id] = d
	r.mu.Unlock()
	return false, nil
}

func TestEnrollmentServiceApproveLostRaceReportsCurrentStatus(t *testing.T) {
	inner := &mockEnrollmentRepo{enrollments: map[string]models.EnrollmentDetail{
		"enr-1": {Enrollment: models.Enrollment{ID: "enr-1", StudentID: "stu-1", Status: models.EnrollmentStatusPending}},
	}}
	svc, _ := newLifecycleFixture(&raceyEnrollmentRepo{mockEnrollmentRepo: inner})

	_, err := svc.Approve(context.Background(), Actor{UserID: "admin-1", Role: models.RoleAdmin}, "enr-1")
	require.Error(t, err)
	got := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrConflict.Code, got.Code)
	assert.Contains(t, got.Message, string(models.EnrollmentStatusCancelled))
}

func TestEnrollmentServiceConcurrentDecisionsSingleWinner(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]models.EnrollmentDetail{
		"enr-1": {Enrollment: models.Enrollment{ID: "enr-1", StudentID: "stu-1", Status: models.EnrollmentStatusPending}},
	}}
	svc, _ := newLifecycleFixture(repo)
	admin := Actor{UserID: "admin-1", Role: models.RoleAdmin}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = svc.Approve(context.Background(), admin, "enr-1")
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = svc.Reject(context.Background(), admin, "enr-1", RejectEnrollmentRequest{Reason: "payment never arrived"})
	}()
	wg.Wait()

	var failures int
	for _, err := range errs {
		if err == nil {
			continue
		}
		failures++
		code := appErrors.FromError(err).Code
		assert.Contains(t, []string{appErrors.ErrConflict.Code, appErrors.ErrInvalidTransition.Code}, code)
	}
	require.Equal(t, 1, failures, "exactly one decision should win the status swap")
	final := repo.enrollments["enr-1"].Status
	assert.Contains(t, []models.EnrollmentStatus{models.EnrollmentStatusEnrolled, models.EnrollmentStatusRejected}, final)
}

func TestEnrollmentServiceGetByTrackingOwnerOnly(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]models.EnrollmentDetail{
		"enr-1": {Enrollment: models.Enrollment{ID: "enr-1", StudentID: "stu-1", TrackingNumber: "AB12CD34EF", Status: models.EnrollmentStatusPending}},
	}}
	svc, _ := newLifecycleFixture(repo)

	detail, err := svc.GetByTracking(context.Background(), Actor{UserID: "stu-1", Role: models.RoleStudent}, "AB12CD34EF")
	require.NoError(t, err)
	assert.Equal(t, "enr-1", detail.ID)

	_, err = svc.GetByTracking(context.Background(), Actor{UserID: "stu-2", Role: models.RoleStudent}, "AB12CD34EF")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
