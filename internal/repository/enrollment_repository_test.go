package repository

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/ultima-training/ultima-api/internal/models"
)

func newEnrollmentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestEnrollmentRepositoryRegisterLocksAndInserts(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT cs\.id, c\.max_capacity FROM course_sessions cs`).
		WithArgs("ses-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "max_capacity"}).AddRow("ses-1", 30))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM enrollments\s+WHERE student_id = \$1 AND session_id = \$2`).
		WithArgs("stu-1", "ses-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM enrollments\s+WHERE session_id = \$1 AND status NOT IN`).
		WithArgs("ses-1", models.EnrollmentStatusCancelled, models.EnrollmentStatusRejected).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))
	mock.ExpectExec(`INSERT INTO enrollments`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO notifications`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	enrollment := &models.Enrollment{
		StudentID:       "stu-1",
		CourseID:        "crs-1",
		SessionID:       "ses-1",
		TrackingNumber:  "AB12CD34EF",
		FinalPriceCents: 150000,
		Currency:        "USD",
	}
	notif := &models.Notification{
		Kind:           models.NotificationEnrollmentRegistered,
		RecipientEmail: "student@example.com",
		Subject:        "Registration received",
	}
	err := repo.Register(context.Background(), enrollment, notif)
	require.NoError(t, err)
	require.NotEmpty(t, enrollment.ID)
	require.Equal(t, models.EnrollmentStatusPending, enrollment.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryRegisterSessionFull(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT cs\.id, c\.max_capacity FROM course_sessions cs`).
		WithArgs("ses-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "max_capacity"}).AddRow("ses-1", 10))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM enrollments\s+WHERE student_id`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM enrollments\s+WHERE session_id`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(10))
	mock.ExpectRollback()

	err := repo.Register(context.Background(), &models.Enrollment{
		StudentID: "stu-1",
		CourseID:  "crs-1",
		SessionID: "ses-1",
	}, nil)
	require.ErrorIs(t, err, ErrSessionFull)
	require.NoError(t, mock.ExpectationsWereMet())
}

// A cancelled or rejected enrollment still blocks re-registration: the
// duplicate check counts every row for the student and session, whatever
// its status.
func TestEnrollmentRepositoryRegisterDuplicateAnyStatus(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT cs\.id, c\.max_capacity FROM course_sessions cs`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "max_capacity"}).AddRow("ses-1", 10))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM enrollments\s+WHERE student_id = \$1 AND session_id = \$2`).
		WithArgs("stu-1", "ses-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	err := repo.Register(context.Background(), &models.Enrollment{
		StudentID: "stu-1",
		CourseID:  "crs-1",
		SessionID: "ses-1",
	}, nil)
	require.ErrorIs(t, err, ErrDuplicateEnrollment)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryTransitionStatusGuardsCurrentStatus(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE enrollments SET status = \$3, updated_at = \$4 WHERE id = \$1 AND status = \$2`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	ok, err := repo.TransitionStatus(context.Background(), "enr-1",
		models.EnrollmentStatusPending, models.EnrollmentStatusCancelled, nil)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCancelInsertsRefundInTx(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE enrollments SET status = \$3, updated_at = \$4 WHERE id = \$1 AND status = \$2`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO refunds`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO notifications`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	refund := &models.Refund{
		PaymentID:   "pay-1",
		Status:      models.RefundStatusRequested,
		AmountCents: 150000,
		Reason:      "enrollment cancelled",
	}
	ok, err := repo.Cancel(context.Background(), "enr-1", models.EnrollmentStatusEnrolled, refund, &models.Notification{
		Kind:           models.NotificationEnrollmentCancelled,
		RecipientEmail: "student@example.com",
		Subject:        "Enrollment cancelled",
	})
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, refund.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCancelLostSwapWritesNothing(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE enrollments SET status = \$3, updated_at = \$4 WHERE id = \$1 AND status = \$2`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	ok, err := repo.Cancel(context.Background(), "enr-1", models.EnrollmentStatusEnrolled,
		&models.Refund{PaymentID: "pay-1"}, nil)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCountLiveBySession(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM enrollments WHERE session_id = \$1 AND status NOT IN \(\$2, \$3\)`).
		WithArgs("ses-1", models.EnrollmentStatusCancelled, models.EnrollmentStatusRejected).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	count, err := repo.CountLiveBySession(context.Background(), "ses-1")
	require.NoError(t, err)
	require.Equal(t, 7, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryApproveWritesOutbox(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE enrollments SET status = \$3, approved_by = \$4`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO notifications`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	ok, err := repo.Approve(context.Background(), "enr-1", "admin-1", &models.Notification{
		Kind:           models.NotificationEnrollmentApproved,
		RecipientEmail: "student@example.com",
		Subject:        "Enrollment approved",
	})
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCompleteSetsCompletionDate(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	completedAt := time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE enrollments SET status = \$3, completion_date = \$4`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ok, err := repo.Complete(context.Background(), "enr-1", completedAt, nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryListEndedEnrolled(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	now := time.Now().UTC()
	cols := []string{
		"id", "student_id", "course_id", "session_id", "status", "tracking_number",
		"promo_code", "final_price_cents", "currency", "enrolled_at", "completion_date",
		"approved_by", "approval_date", "rejection_reason", "created_at", "updated_at",
		"student_name", "student_email", "student_mobile", "course_name", "instructor_id",
		"start_datetime", "end_datetime", "location",
	}
	rows := sqlmock.NewRows(cols).AddRow(
		"enr-1", "stu-1", "crs-1", "ses-1", models.EnrollmentStatusEnrolled, "AB12CD34EF",
		nil, int64(150000), "USD", now, nil,
		nil, nil, nil, now, now,
		"Jane Doe", "jane@example.com", "5551234", "Go Fundamentals", "inst-1",
		now.Add(-48*time.Hour), now.Add(-24*time.Hour), "Room 4",
	)
	mock.ExpectQuery(`WHERE e\.status = \$1 AND cs\.end_datetime < \$2`).
		WillReturnRows(rows)

	ended, err := repo.ListEndedEnrolled(context.Background(), now, 50)
	require.NoError(t, err)
	require.Len(t, ended, 1)
	require.Equal(t, "enr-1", ended[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
