package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ultima-training/ultima-api/internal/models"
	"github.com/ultima-training/ultima-api/pkg/config"
	appErrors "github.com/ultima-training/ultima-api/pkg/errors"
	"github.com/ultima-training/ultima-api/pkg/storage"
)

type mockCertificateRepo struct {
	byEnrollment map[string]models.Certificate
	inserted     int
}

func (m *mockCertificateRepo) Insert(ctx context.Context, cert *models.Certificate) (bool, error) {
	if m.byEnrollment == nil {
		m.byEnrollment = make(map[string]models.Certificate)
	}
	if _, ok := m.byEnrollment[cert.EnrollmentID]; ok {
		return false, nil
	}
	cert.ID = "cert-" + cert.EnrollmentID
	m.byEnrollment[cert.EnrollmentID] = *cert
	m.inserted++
	return true, nil
}

func (m *mockCertificateRepo) FindByEnrollment(ctx context.Context, enrollmentID string) (*models.Certificate, error) {
	if c, ok := m.byEnrollment[enrollmentID]; ok {
		return &c, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockCertificateRepo) FindByNumber(ctx context.Context, number string) (*models.Certificate, error) {
	for _, c := range m.byEnrollment {
		if c.CertificateNumber == number {
			return &c, nil
		}
	}
	return nil, sql.ErrNoRows
}

func newCertificateFixture(t *testing.T) (*CertificateService, *mockCertificateRepo, *mockEnrollmentRepo, *mockOutbox) {
	t.Helper()

	completed := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	enrollments := &mockEnrollmentRepo{enrollments: map[string]models.EnrollmentDetail{
		"enr-1": {
			Enrollment: models.Enrollment{
				ID: "enr-1", StudentID: "stu-1", CourseID: "crs-1",
				Status: models.EnrollmentStatusCompleted, CompletionDate: &completed,
			},
			StudentName:   "Sara Connor",
			StudentEmail:  "sara@example.com",
			StudentMobile: "+989121234567",
			CourseName:    "Advanced Welding",
			InstructorID:  "ins-1",
			Location:      "Tehran workshop",
		},
	}}

	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("test-secret", time.Minute)

	repo := &mockCertificateRepo{}
	outbox := &mockOutbox{}
	users := &mockAccounts{users: map[string]models.User{
		"ins-1": {ID: "ins-1", FullName: "Reza Amiri"},
	}}

	svc := NewCertificateService(repo, enrollments, users, outbox, store, signer, config.CertificatesConfig{
		IssuerName:   "Ultima Training",
		FounderName:  "M. Karimi",
		FounderTitle: "Founder",
	}, zap.NewNop())
	return svc, repo, enrollments, outbox
}

type mockOutbox struct {
	notifs []*models.Notification
}

func (m *mockOutbox) Create(ctx context.Context, notif *models.Notification) error {
	m.notifs = append(m.notifs, notif)
	return nil
}

func TestCertificateServiceIssue(t *testing.T) {
	svc, repo, _, outbox := newCertificateFixture(t)

	cert, err := svc.Issue(context.Background(), "enr-1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(cert.CertificateNumber, "CERT-"))
	assert.Len(t, cert.CertificateNumber, len("CERT-")+10)
	assert.Equal(t, "certificates/enr-1.pdf", cert.PDFPath)
	assert.Equal(t, 1, repo.inserted)

	require.Len(t, outbox.notifs, 1)
	assert.Equal(t, models.NotificationCertificateIssued, outbox.notifs[0].Kind)
	assert.Equal(t, "sara@example.com", outbox.notifs[0].RecipientEmail)
}

func TestCertificateServiceIssueIsIdempotent(t *testing.T) {
	svc, repo, _, _ := newCertificateFixture(t)

	first, err := svc.Issue(context.Background(), "enr-1")
	require.NoError(t, err)

	second, err := svc.Issue(context.Background(), "enr-1")
	require.NoError(t, err)
	assert.Equal(t, first.CertificateNumber, second.CertificateNumber)
	assert.Equal(t, 1, repo.inserted)
}

func TestCertificateServiceIssueRequiresCompletion(t *testing.T) {
	svc, _, enrollments, _ := newCertificateFixture(t)
	d := enrollments.enrollments["enr-1"]
	d.Status = models.EnrollmentStatusEnrolled
	enrollments.enrollments["enr-1"] = d

	_, err := svc.Issue(context.Background(), "enr-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrGuardFailed.Code, appErrors.FromError(err).Code)
}

func TestCertificateServiceGetHidesForeignEnrollments(t *testing.T) {
	svc, _, _, _ := newCertificateFixture(t)

	_, err := svc.Issue(context.Background(), "enr-1")
	require.NoError(t, err)

	_, err = svc.Get(context.Background(), Actor{UserID: "stu-2", Role: models.RoleStudent}, "enr-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	cert, err := svc.Get(context.Background(), Actor{UserID: "stu-1", Role: models.RoleStudent}, "enr-1")
	require.NoError(t, err)
	assert.NotEmpty(t, cert.CertificateNumber)
}

func TestCertificateServiceDownloadByToken(t *testing.T) {
	svc, _, _, _ := newCertificateFixture(t)

	_, err := svc.Issue(context.Background(), "enr-1")
	require.NoError(t, err)

	token, expiresAt, err := svc.DownloadToken(context.Background(), Actor{UserID: "stu-1", Role: models.RoleStudent}, "enr-1")
	require.NoError(t, err)
	assert.True(t, expiresAt.After(time.Now()))

	file, err := svc.OpenByToken(token)
	require.NoError(t, err)
	defer file.Close()

	header := make([]byte, 4)
	_, err = file.Read(header)
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(header))
}

func TestCertificateServiceVerify(t *testing.T) {
	svc, _, _, _ := newCertificateFixture(t)

	cert, err := svc.Issue(context.Background(), "enr-1")
	require.NoError(t, err)
	assert.True(t, cert.IsValid)
	assert.NotEmpty(t, cert.Payload)

	v, err := svc.Verify(context.Background(), cert.CertificateNumber)
	require.NoError(t, err)
	assert.Equal(t, "Sara Connor", v.StudentName)
	assert.Equal(t, "Advanced Welding", v.CourseName)
	assert.Equal(t, "+989121234567", v.StudentMobile)
	assert.Equal(t, "2026-03-14", v.CompletionDate)

	_, err = svc.Verify(context.Background(), "CERT-UNKNOWN")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

// Verification serves the issuance-time snapshot; renaming the student or
// even deleting the enrollment afterwards must not change the answer.
func TestCertificateServiceVerifyServesIssuanceSnapshot(t *testing.T) {
	svc, _, enrollments, _ := newCertificateFixture(t)

	cert, err := svc.Issue(context.Background(), "enr-1")
	require.NoError(t, err)

	delete(enrollments.enrollments, "enr-1")

	v, err := svc.Verify(context.Background(), cert.CertificateNumber)
	require.NoError(t, err)
	assert.Equal(t, "Sara Connor", v.StudentName)
	assert.Equal(t, "Advanced Welding", v.CourseName)
	assert.Equal(t, "2026-03-14", v.CompletionDate)
}

func TestCertificateServiceVerifyRevoked(t *testing.T) {
	svc, repo, _, _ := newCertificateFixture(t)

	cert, err := svc.Issue(context.Background(), "enr-1")
	require.NoError(t, err)

	stored := repo.byEnrollment["enr-1"]
	stored.IsValid = false
	repo.byEnrollment["enr-1"] = stored

	_, err = svc.Verify(context.Background(), cert.CertificateNumber)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
