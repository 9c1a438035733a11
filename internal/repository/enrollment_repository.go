package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ultima-training/ultima-api/internal/models"
)

// EnrollmentRepository handles persistence of enrollments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

const enrollmentDetailColumns = `e.id, e.student_id, e.course_id, e.session_id, e.status, e.tracking_number,
        e.promo_code, e.final_price_cents, e.currency, e.enrolled_at, e.completion_date,
        e.approved_by, e.approval_date, e.rejection_reason, e.created_at, e.updated_at,
        u.full_name AS student_name, u.email AS student_email, u.mobile AS student_mobile,
        c.name AS course_name, c.instructor_id AS instructor_id,
        cs.start_datetime, cs.end_datetime, cs.location`

const enrollmentDetailJoins = `FROM enrollments e
        JOIN users u ON u.id = e.student_id
        JOIN courses c ON c.id = e.course_id
        JOIN course_sessions cs ON cs.id = e.session_id`

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("e.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("e.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.SessionID != "" {
		conditions = append(conditions, fmt.Sprintf("e.session_id = $%d", len(args)+1))
		args = append(args, filter.SessionID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("e.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"enrolled_at":  "e.enrolled_at",
		"status":       "e.status",
		"student_name": "u.full_name",
		"course_name":  "c.name",
	}
	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "enrolled_at"
	}
	orderBy := allowedSorts[sortBy]
	if orderBy == "" {
		orderBy = "e.enrolled_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s%s ORDER BY %s %s LIMIT %d OFFSET %d",
		enrollmentDetailColumns, enrollmentDetailJoins, clause, orderBy, order, size, offset)

	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s%s", enrollmentDetailJoins, clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	const query = `SELECT id, student_id, course_id, session_id, status, tracking_number, promo_code,
        final_price_cents, currency, enrolled_at, completion_date, approved_by, approval_date,
        rejection_reason, created_at, updated_at FROM enrollments WHERE id = $1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindDetailByID returns an enrollment with student, course and session info.
func (r *EnrollmentRepository) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	query := fmt.Sprintf("SELECT %s %s WHERE e.id = $1", enrollmentDetailColumns, enrollmentDetailJoins)
	var detail models.EnrollmentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// FindDetailByTracking returns an enrollment looked up by tracking number.
func (r *EnrollmentRepository) FindDetailByTracking(ctx context.Context, trackingNumber string) (*models.EnrollmentDetail, error) {
	query := fmt.Sprintf("SELECT %s %s WHERE e.tracking_number = $1", enrollmentDetailColumns, enrollmentDetailJoins)
	var detail models.EnrollmentDetail
	if err := r.db.GetContext(ctx, &detail, query, trackingNumber); err != nil {
		return nil, err
	}
	return &detail, nil
}

// Register inserts a new pending enrollment while holding a lock on the
// session row, so the capacity check and the insert are atomic. It fails
// with ErrSessionFull when the session has no seats left and with
// ErrDuplicateEnrollment when any enrollment already exists for the
// student and session, regardless of its status. The outbox notification
// is written in the same transaction.
func (r *EnrollmentRepository) Register(ctx context.Context, enrollment *models.Enrollment, notif *models.Notification) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = now
	}
	enrollment.CreatedAt = now
	enrollment.UpdatedAt = now
	if enrollment.Status == "" {
		enrollment.Status = models.EnrollmentStatusPending
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin register tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize concurrent registrations for the same session.
	var capacity struct {
		SessionID   string `db:"id"`
		MaxCapacity int    `db:"max_capacity"`
	}
	const lockQuery = `SELECT cs.id, c.max_capacity FROM course_sessions cs
        JOIN courses c ON c.id = cs.course_id
        WHERE cs.id = $1 FOR UPDATE OF cs`
	if err := tx.GetContext(ctx, &capacity, lockQuery, enrollment.SessionID); err != nil {
		if err == sql.ErrNoRows {
			return sql.ErrNoRows
		}
		return fmt.Errorf("lock session: %w", err)
	}

	const dupQuery = `SELECT COUNT(*) FROM enrollments
        WHERE student_id = $1 AND session_id = $2`
	var duplicates int
	if err := tx.GetContext(ctx, &duplicates, dupQuery, enrollment.StudentID, enrollment.SessionID); err != nil {
		return fmt.Errorf("check duplicate enrollment: %w", err)
	}
	if duplicates > 0 {
		return ErrDuplicateEnrollment
	}

	const countQuery = `SELECT COUNT(*) FROM enrollments
        WHERE session_id = $1 AND status NOT IN ($2, $3)`
	var taken int
	if err := tx.GetContext(ctx, &taken, countQuery, enrollment.SessionID,
		models.EnrollmentStatusCancelled, models.EnrollmentStatusRejected); err != nil {
		return fmt.Errorf("count session enrollments: %w", err)
	}
	if capacity.MaxCapacity > 0 && taken >= capacity.MaxCapacity {
		return ErrSessionFull
	}

	const insertQuery = `INSERT INTO enrollments (id, student_id, course_id, session_id, status, tracking_number,
        promo_code, final_price_cents, currency, enrolled_at, created_at, updated_at)
        VALUES (:id, :student_id, :course_id, :session_id, :status, :tracking_number,
        :promo_code, :final_price_cents, :currency, :enrolled_at, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, insertQuery, enrollment); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}

	if notif != nil {
		if err := insertNotificationTx(ctx, tx, notif); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit register tx: %w", err)
	}
	return nil
}

// ErrSessionFull and ErrDuplicateEnrollment are returned by Register when
// the guarded insert cannot proceed.
var (
	ErrSessionFull         = fmt.Errorf("session is at capacity")
	ErrDuplicateEnrollment = fmt.Errorf("student already enrolled in session")
)

// TransitionStatus compare-and-swaps the enrollment status. It returns
// false without error when the row was not in the expected status, so the
// caller can re-read and classify the failure. The optional outbox
// notification is written in the same transaction.
func (r *EnrollmentRepository) TransitionStatus(ctx context.Context, id string, from, to models.EnrollmentStatus, notif *models.Notification) (bool, error) {
	return r.transition(ctx, id, from, notif,
		`UPDATE enrollments SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`,
		id, from, to, time.Now().UTC())
}

// Cancel compare-and-swaps the enrollment to cancelled. When a refund is
// provided, the refund row is inserted in the same transaction, so a
// cancellation never commits without its refund request. Returns false
// without error when the row was not in the expected status.
func (r *EnrollmentRepository) Cancel(ctx context.Context, id string, from models.EnrollmentStatus, refund *models.Refund, notif *models.Notification) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin cancel tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	const query = `UPDATE enrollments SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`
	res, err := tx.ExecContext(ctx, query, id, from, models.EnrollmentStatusCancelled, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("cancel enrollment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cancel rows affected: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	if refund != nil {
		if err := insertRefundTx(ctx, tx, refund); err != nil {
			return false, err
		}
	}
	if notif != nil {
		if err := insertNotificationTx(ctx, tx, notif); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit cancel tx: %w", err)
	}
	return true, nil
}

// Approve moves a pending enrollment to enrolled, recording the approver.
func (r *EnrollmentRepository) Approve(ctx context.Context, id, approverID string, notif *models.Notification) (bool, error) {
	now := time.Now().UTC()
	return r.transition(ctx, id, models.EnrollmentStatusPending, notif,
		`UPDATE enrollments SET status = $3, approved_by = $4, approval_date = $5, updated_at = $5
         WHERE id = $1 AND status = $2`,
		id, models.EnrollmentStatusPending, models.EnrollmentStatusEnrolled, approverID, now)
}

// Reject moves a pending enrollment to rejected with a reason.
func (r *EnrollmentRepository) Reject(ctx context.Context, id, reason, reviewerID string, notif *models.Notification) (bool, error) {
	now := time.Now().UTC()
	return r.transition(ctx, id, models.EnrollmentStatusPending, notif,
		`UPDATE enrollments SET status = $3, rejection_reason = $4, approved_by = $5, approval_date = $6, updated_at = $6
         WHERE id = $1 AND status = $2`,
		id, models.EnrollmentStatusPending, models.EnrollmentStatusRejected, reason, reviewerID, now)
}

// Complete moves an enrolled enrollment to completed with a completion date.
func (r *EnrollmentRepository) Complete(ctx context.Context, id string, completedAt time.Time, notif *models.Notification) (bool, error) {
	return r.transition(ctx, id, models.EnrollmentStatusEnrolled, notif,
		`UPDATE enrollments SET status = $3, completion_date = $4, updated_at = $5
         WHERE id = $1 AND status = $2`,
		id, models.EnrollmentStatusEnrolled, models.EnrollmentStatusCompleted, completedAt, time.Now().UTC())
}

func (r *EnrollmentRepository) transition(ctx context.Context, id string, from models.EnrollmentStatus, notif *models.Notification, query string, args ...interface{}) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transition tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("transition enrollment from %s: %w", from, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition rows affected: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	if notif != nil {
		if err := insertNotificationTx(ctx, tx, notif); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit transition tx: %w", err)
	}
	return true, nil
}

// ListEndedEnrolled returns enrollments still marked enrolled whose session
// has already ended, for the completion sweep.
func (r *EnrollmentRepository) ListEndedEnrolled(ctx context.Context, now time.Time, limit int) ([]models.EnrollmentDetail, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT %s %s WHERE e.status = $1 AND cs.end_datetime < $2 ORDER BY cs.end_datetime LIMIT %d`,
		enrollmentDetailColumns, enrollmentDetailJoins, limit)
	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, models.EnrollmentStatusEnrolled, now); err != nil {
		return nil, fmt.Errorf("list ended enrollments: %w", err)
	}
	return enrollments, nil
}

// CountLiveBySession returns the number of seats currently held for a
// session. Every status except cancelled and rejected holds a seat.
func (r *EnrollmentRepository) CountLiveBySession(ctx context.Context, sessionID string) (int, error) {
	const query = `SELECT COUNT(*) FROM enrollments WHERE session_id = $1 AND status NOT IN ($2, $3)`
	var count int
	if err := r.db.GetContext(ctx, &count, query, sessionID,
		models.EnrollmentStatusCancelled, models.EnrollmentStatusRejected); err != nil {
		return 0, fmt.Errorf("count live enrollments: %w", err)
	}
	return count, nil
}
