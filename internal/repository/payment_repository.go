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

// PaymentRepository handles persistence of payments and refunds.
type PaymentRepository struct {
	db *sqlx.DB
}

// NewPaymentRepository constructs the repository.
func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const paymentColumns = `id, enrollment_id, method, status, amount_cents, currency, transaction_id, rahgiri_code, paid_at, created_at, updated_at`

// FindByID returns a payment by identifier.
func (r *PaymentRepository) FindByID(ctx context.Context, id string) (*models.Payment, error) {
	query := fmt.Sprintf("SELECT %s FROM payments WHERE id = $1", paymentColumns)
	var payment models.Payment
	if err := r.db.GetContext(ctx, &payment, query, id); err != nil {
		return nil, err
	}
	return &payment, nil
}

// FindPendingByEnrollment returns the open payment for an enrollment.
func (r *PaymentRepository) FindPendingByEnrollment(ctx context.Context, enrollmentID string) (*models.Payment, error) {
	query := fmt.Sprintf("SELECT %s FROM payments WHERE enrollment_id = $1 AND status = $2 ORDER BY created_at DESC LIMIT 1", paymentColumns)
	var payment models.Payment
	if err := r.db.GetContext(ctx, &payment, query, enrollmentID, models.PaymentStatusPending); err != nil {
		return nil, err
	}
	return &payment, nil
}

// FindCompletedByEnrollment returns the settled payment for an enrollment.
func (r *PaymentRepository) FindCompletedByEnrollment(ctx context.Context, enrollmentID string) (*models.Payment, error) {
	query := fmt.Sprintf("SELECT %s FROM payments WHERE enrollment_id = $1 AND status = $2 ORDER BY created_at DESC LIMIT 1", paymentColumns)
	var payment models.Payment
	if err := r.db.GetContext(ctx, &payment, query, enrollmentID, models.PaymentStatusCompleted); err != nil {
		return nil, err
	}
	return &payment, nil
}

// Create inserts a new payment.
func (r *PaymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	payment.CreatedAt = now
	payment.UpdatedAt = now
	if payment.Status == "" {
		payment.Status = models.PaymentStatusPending
	}
	const query = `INSERT INTO payments (id, enrollment_id, method, status, amount_cents, currency, transaction_id, rahgiri_code, created_at, updated_at)
        VALUES (:id, :enrollment_id, :method, :status, :amount_cents, :currency, :transaction_id, :rahgiri_code, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, payment); err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

// Settle marks a pending payment completed and flips the pending enrollment
// to enrolled in the same transaction. The enrollment CAS guards against a
// concurrent approve or reject. It returns false without error when either
// row was not in the expected state, so the caller can re-read and classify.
func (r *PaymentRepository) Settle(ctx context.Context, paymentID, enrollmentID, transactionID, rahgiriCode string, paidAt time.Time, notif *models.Notification) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin settle tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	const payQuery = `UPDATE payments SET status = $3, transaction_id = $4, rahgiri_code = $5, paid_at = $6, updated_at = $6
        WHERE id = $1 AND status = $2`
	res, err := tx.ExecContext(ctx, payQuery, paymentID, models.PaymentStatusPending,
		models.PaymentStatusCompleted, transactionID, rahgiriCode, paidAt)
	if err != nil {
		return false, fmt.Errorf("settle payment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("settle payment rows: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	const enrollQuery = `UPDATE enrollments SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`
	res, err = tx.ExecContext(ctx, enrollQuery, enrollmentID,
		models.EnrollmentStatusPending, models.EnrollmentStatusEnrolled, paidAt)
	if err != nil {
		return false, fmt.Errorf("confirm enrollment: %w", err)
	}
	affected, err = res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("confirm enrollment rows: %w", err)
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
		return false, fmt.Errorf("commit settle tx: %w", err)
	}
	return true, nil
}

// AttachRahgiriCode stores the submitted bank transfer tracking code on a
// payment that is still pending.
func (r *PaymentRepository) AttachRahgiriCode(ctx context.Context, id, rahgiriCode string) (bool, error) {
	const query = `UPDATE payments SET rahgiri_code = $3, updated_at = $4 WHERE id = $1 AND status = $2`
	res, err := r.db.ExecContext(ctx, query, id, models.PaymentStatusPending, rahgiriCode, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("attach rahgiri code: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("attach rahgiri code rows: %w", err)
	}
	return affected > 0, nil
}

// MarkFailed marks a pending payment as failed.
func (r *PaymentRepository) MarkFailed(ctx context.Context, id string) error {
	const query = `UPDATE payments SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`
	if _, err := r.db.ExecContext(ctx, query, id, models.PaymentStatusPending,
		models.PaymentStatusFailed, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark payment failed: %w", err)
	}
	return nil
}

// List returns payments filtered by the provided criteria.
func (r *PaymentRepository) List(ctx context.Context, filter models.PaymentFilter) ([]models.Payment, int, error) {
	base := "FROM payments"
	var conditions []string
	var args []interface{}

	if filter.EnrollmentID != "" {
		conditions = append(conditions, fmt.Sprintf("enrollment_id = $%d", len(args)+1))
		args = append(args, filter.EnrollmentID)
	}
	if filter.Method != "" {
		conditions = append(conditions, fmt.Sprintf("method = $%d", len(args)+1))
		args = append(args, filter.Method)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
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

	query := fmt.Sprintf("SELECT %s %s%s ORDER BY created_at DESC LIMIT %d OFFSET %d",
		paymentColumns, base, clause, size, offset)

	var payments []models.Payment
	if err := r.db.SelectContext(ctx, &payments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list payments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s%s", base, clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count payments: %w", err)
	}
	return payments, total, nil
}

const refundInsertQuery = `INSERT INTO refunds (id, payment_id, status, amount_cents, reason, bank_card_number, cardholder_name, created_at)
        VALUES (:id, :payment_id, :status, :amount_cents, :reason, :bank_card_number, :cardholder_name, :created_at)`

// insertRefundTx writes a refund row inside an open transaction. Used by
// the enrollment cancel flow so the refund request commits or rolls back
// together with the status change.
func insertRefundTx(ctx context.Context, tx *sqlx.Tx, refund *models.Refund) error {
	prepareRefundDefaults(refund)
	if _, err := tx.NamedExecContext(ctx, refundInsertQuery, refund); err != nil {
		return fmt.Errorf("insert refund: %w", err)
	}
	return nil
}

func prepareRefundDefaults(refund *models.Refund) {
	if refund.ID == "" {
		refund.ID = uuid.NewString()
	}
	if refund.CreatedAt.IsZero() {
		refund.CreatedAt = time.Now().UTC()
	}
	if refund.Status == "" {
		refund.Status = models.RefundStatusRequested
	}
}

// CreateRefund records a refund request against a payment.
func (r *PaymentRepository) CreateRefund(ctx context.Context, refund *models.Refund) error {
	prepareRefundDefaults(refund)
	if _, err := r.db.NamedExecContext(ctx, refundInsertQuery, refund); err != nil {
		return fmt.Errorf("create refund: %w", err)
	}
	return nil
}

// ResolveRefund advances an open refund to the given status. Requested
// refunds may move to processing, completed or rejected; processing
// refunds may still complete or reject. Completed refunds also flip the
// payment status to refunded.
func (r *PaymentRepository) ResolveRefund(ctx context.Context, refundID string, status models.RefundStatus, processedBy string, processedAt time.Time) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin refund tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	const query = `UPDATE refunds SET status = $4, processed_by = $5, processed_at = $6
        WHERE id = $1 AND status IN ($2, $3)
        RETURNING payment_id`
	var paymentID string
	if err := tx.GetContext(ctx, &paymentID, query, refundID,
		models.RefundStatusRequested, models.RefundStatusProcessing,
		status, processedBy, processedAt); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("resolve refund: %w", err)
	}

	if status == models.RefundStatusCompleted {
		const payQuery = `UPDATE payments SET status = $2, updated_at = $3 WHERE id = $1`
		if _, err := tx.ExecContext(ctx, payQuery, paymentID, models.PaymentStatusRefunded, processedAt); err != nil {
			return false, fmt.Errorf("refund payment: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit refund tx: %w", err)
	}
	return true, nil
}
