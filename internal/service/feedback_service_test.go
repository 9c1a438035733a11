package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ultima-training/ultima-api/internal/models"
	appErrors "github.com/ultima-training/ultima-api/pkg/errors"
)

type mockFeedbackRepo struct {
	entries map[string]models.FeedbackDetail
}

func (m *mockFeedbackRepo) FindByID(ctx context.Context, id string) (*models.FeedbackDetail, error) {
	if f, ok := m.entries[id]; ok {
		return &f, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockFeedbackRepo) FindByEnrollment(ctx context.Context, enrollmentID string) (*models.Feedback, error) {
	for _, f := range m.entries {
		if f.EnrollmentID == enrollmentID {
			fb := f.Feedback
			return &fb, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockFeedbackRepo) Create(ctx context.Context, fb *models.Feedback) error {
	if fb.ID == "" {
		fb.ID = "fb-new"
	}
	if m.entries == nil {
		m.entries = make(map[string]models.FeedbackDetail)
	}
	m.entries[fb.ID] = models.FeedbackDetail{Feedback: *fb}
	return nil
}

func (m *mockFeedbackRepo) Approve(ctx context.Context, id, reviewerID string) (bool, error) {
	f, ok := m.entries[id]
	if !ok || f.IsApproved {
		return false, nil
	}
	now := time.Now().UTC()
	f.IsApproved = true
	f.ApprovedBy = &reviewerID
	f.ReviewDate = &now
	m.entries[id] = f
	return true, nil
}

func (m *mockFeedbackRepo) RequestChanges(ctx context.Context, id, comments string) (bool, error) {
	f, ok := m.entries[id]
	if !ok || f.IsApproved {
		return false, nil
	}
	f.ReviewComments = &comments
	m.entries[id] = f
	return true, nil
}

func (m *mockFeedbackRepo) List(ctx context.Context, filter models.FeedbackFilter) ([]models.FeedbackDetail, int, error) {
	var out []models.FeedbackDetail
	for _, f := range m.entries {
		if filter.Approved != nil && f.IsApproved != *filter.Approved {
			continue
		}
		out = append(out, f)
	}
	return out, len(out), nil
}

type mockIssuer struct {
	queued []string
}

func (m *mockIssuer) QueueIssuance(enrollmentID string) error {
	m.queued = append(m.queued, enrollmentID)
	return nil
}

func completedEnrollmentFixture() *mockEnrollmentRepo {
	return &mockEnrollmentRepo{enrollments: map[string]models.EnrollmentDetail{
		"enr-1": {Enrollment: models.Enrollment{
			ID: "enr-1", StudentID: "stu-1", CourseID: "crs-1", Status: models.EnrollmentStatusCompleted,
		}},
	}}
}

func newFeedbackFixture(repo *mockFeedbackRepo, enrollments *mockEnrollmentRepo) (*FeedbackService, *mockIssuer, *mockOutbox) {
	courses := &mockCourseReader{courses: map[string]models.Course{
		"crs-1": {ID: "crs-1", Name: "Go Fundamentals", InstructorID: "inst-1"},
	}}
	issuer := &mockIssuer{}
	outbox := &mockOutbox{}
	svc := NewFeedbackService(repo, enrollments, courses, issuer, outbox, validator.New(), zap.NewNop())
	return svc, issuer, outbox
}

func unpublishedFeedbackFixture() *mockFeedbackRepo {
	return &mockFeedbackRepo{entries: map[string]models.FeedbackDetail{
		"fb-1": {
			Feedback:     models.Feedback{ID: "fb-1", EnrollmentID: "enr-1", StudentID: "stu-1", CourseID: "crs-1"},
			StudentName:  "Jane Doe",
			StudentEmail: "jane@example.com",
			CourseName:   "Go Fundamentals",
		},
	}}
}

func validFeedbackRequest() SubmitFeedbackRequest {
	return SubmitFeedbackRequest{
		EnrollmentID:      "enr-1",
		OverallRating:     5,
		ContentRating:     4,
		InstructorRating:  5,
		VenueRating:       4,
		OverallExperience: "great hands-on sessions",
		KeyTakeaways:      "goroutines and channels finally clicked",
		WouldRecommend:    true,
		AllowTestimonial:  true,
	}
}

func TestFeedbackServiceSubmit(t *testing.T) {
	repo := &mockFeedbackRepo{}
	svc, _, _ := newFeedbackFixture(repo, completedEnrollmentFixture())

	fb, err := svc.Submit(context.Background(), Actor{UserID: "stu-1", Role: models.RoleStudent}, validFeedbackRequest())
	require.NoError(t, err)
	assert.False(t, fb.IsApproved)
	assert.Equal(t, "crs-1", fb.CourseID)
	assert.Equal(t, 4, fb.VenueRating)
	assert.Equal(t, "great hands-on sessions", fb.OverallExperience)
	assert.True(t, fb.WouldRecommend)
	assert.Nil(t, fb.ReviewDate)
}

func TestFeedbackServiceSubmitRequiresCompletion(t *testing.T) {
	enrollments := completedEnrollmentFixture()
	d := enrollments.enrollments["enr-1"]
	d.Status = models.EnrollmentStatusEnrolled
	enrollments.enrollments["enr-1"] = d

	svc, _, _ := newFeedbackFixture(&mockFeedbackRepo{}, enrollments)

	_, err := svc.Submit(context.Background(), Actor{UserID: "stu-1", Role: models.RoleStudent}, validFeedbackRequest())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrGuardFailed.Code, appErrors.FromError(err).Code)
}

func TestFeedbackServiceSubmitOncePerEnrollment(t *testing.T) {
	repo := &mockFeedbackRepo{}
	svc, _, _ := newFeedbackFixture(repo, completedEnrollmentFixture())

	_, err := svc.Submit(context.Background(), Actor{UserID: "stu-1", Role: models.RoleStudent}, validFeedbackRequest())
	require.NoError(t, err)

	_, err = svc.Submit(context.Background(), Actor{UserID: "stu-1", Role: models.RoleStudent}, validFeedbackRequest())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestFeedbackServiceSubmitRejectsOutOfRangeRatings(t *testing.T) {
	svc, _, _ := newFeedbackFixture(&mockFeedbackRepo{}, completedEnrollmentFixture())

	req := validFeedbackRequest()
	req.OverallRating = 6
	_, err := svc.Submit(context.Background(), Actor{UserID: "stu-1", Role: models.RoleStudent}, req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestFeedbackServiceApproveQueuesCertificateOnce(t *testing.T) {
	repo := unpublishedFeedbackFixture()
	svc, issuer, _ := newFeedbackFixture(repo, completedEnrollmentFixture())

	detail, err := svc.Approve(context.Background(), Actor{UserID: "inst-1", Role: models.RoleInstructor}, "fb-1")
	require.NoError(t, err)
	assert.True(t, detail.IsApproved)
	assert.NotNil(t, detail.ReviewDate)
	assert.Equal(t, []string{"enr-1"}, issuer.queued)

	_, err = svc.Approve(context.Background(), Actor{UserID: "inst-1", Role: models.RoleInstructor}, "fb-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.Equal(t, []string{"enr-1"}, issuer.queued)
}

func TestFeedbackServiceApproveHidesForeignCourses(t *testing.T) {
	repo := unpublishedFeedbackFixture()
	svc, issuer, _ := newFeedbackFixture(repo, completedEnrollmentFixture())

	_, err := svc.Approve(context.Background(), Actor{UserID: "inst-2", Role: models.RoleInstructor}, "fb-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
	assert.Empty(t, issuer.queued)
}

func TestFeedbackServiceRequestChanges(t *testing.T) {
	repo := unpublishedFeedbackFixture()
	svc, _, outbox := newFeedbackFixture(repo, completedEnrollmentFixture())

	detail, err := svc.RequestChanges(context.Background(), Actor{UserID: "inst-1", Role: models.RoleInstructor}, "fb-1",
		RequestFeedbackChangesRequest{Comments: "please expand on the venue rating"})
	require.NoError(t, err)
	require.NotNil(t, detail.ReviewComments)
	assert.Equal(t, "please expand on the venue rating", *detail.ReviewComments)
	assert.False(t, detail.IsApproved)

	require.Len(t, outbox.notifs, 1)
	assert.Equal(t, models.NotificationFeedbackRevision, outbox.notifs[0].Kind)
	assert.Equal(t, "jane@example.com", outbox.notifs[0].RecipientEmail)
}

func TestFeedbackServiceRequestChangesAfterPublish(t *testing.T) {
	repo := unpublishedFeedbackFixture()
	svc, _, outbox := newFeedbackFixture(repo, completedEnrollmentFixture())

	_, err := svc.Approve(context.Background(), Actor{UserID: "admin-1", Role: models.RoleAdmin}, "fb-1")
	require.NoError(t, err)

	_, err = svc.RequestChanges(context.Background(), Actor{UserID: "admin-1", Role: models.RoleAdmin}, "fb-1",
		RequestFeedbackChangesRequest{Comments: "too late for this one"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.Empty(t, outbox.notifs)
}

func TestFeedbackServiceListHidesUnpublishedFromPublic(t *testing.T) {
	repo := &mockFeedbackRepo{entries: map[string]models.FeedbackDetail{
		"fb-1": {Feedback: models.Feedback{ID: "fb-1", StudentID: "stu-1", IsApproved: false}},
		"fb-2": {Feedback: models.Feedback{ID: "fb-2", StudentID: "stu-2", IsApproved: true}},
	}}
	svc, _, _ := newFeedbackFixture(repo, completedEnrollmentFixture())

	entries, _, err := svc.List(context.Background(), Actor{UserID: "stu-3", Role: models.RoleStudent}, models.FeedbackFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "fb-2", entries[0].ID)
}
