package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ultima-training/ultima-api/internal/models"
	appErrors "github.com/ultima-training/ultima-api/pkg/errors"
)

type paymentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Payment, error)
	FindPendingByEnrollment(ctx context.Context, enrollmentID string) (*models.Payment, error)
	FindCompletedByEnrollment(ctx context.Context, enrollmentID string) (*models.Payment, error)
	Create(ctx context.Context, payment *models.Payment) error
	Settle(ctx context.Context, paymentID, enrollmentID, transactionID, rahgiriCode string, paidAt time.Time, notif *models.Notification) (bool, error)
	AttachRahgiriCode(ctx context.Context, id, rahgiriCode string) (bool, error)
	List(ctx context.Context, filter models.PaymentFilter) ([]models.Payment, int, error)
	CreateRefund(ctx context.Context, refund *models.Refund) error
	ResolveRefund(ctx context.Context, refundID string, status models.RefundStatus, processedBy string, processedAt time.Time) (bool, error)
}

type enrollmentReader interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error)
}

// CreatePaymentRequest opens a payment for a pending enrollment.
type CreatePaymentRequest struct {
	EnrollmentID string               `json:"enrollment_id" validate:"required"`
	Method       models.PaymentMethod `json:"method" validate:"required,oneof=PAYPAL BANK_TRANSFER STRIPE"`
}

// ConfirmPaymentRequest carries the processor evidence for a payment.
type ConfirmPaymentRequest struct {
	Reference string `json:"reference" validate:"required"`
}

// RefundRequest asks for a refund of a completed payment. Card details
// are required when the original payment was a bank transfer, since the
// money goes back by card deposit rather than through a gateway.
type RefundRequest struct {
	Reason         string `json:"reason" validate:"required,min=3"`
	BankCardNumber string `json:"bank_card_number"`
	CardholderName string `json:"cardholder_name"`
}

// PaymentService coordinates gateways, payment rows and the enrollment
// state machine.
type PaymentService struct {
	repo        paymentRepository
	enrollments enrollmentReader
	gateways    map[models.PaymentMethod]Gateway
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewPaymentService constructs PaymentService from the available gateways.
func NewPaymentService(repo paymentRepository, enrollments enrollmentReader, gateways []Gateway, validate *validator.Validate, logger *zap.Logger) *PaymentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	byMethod := make(map[models.PaymentMethod]Gateway, len(gateways))
	for _, gw := range gateways {
		byMethod[gw.Method()] = gw
	}
	return &PaymentService{repo: repo, enrollments: enrollments, gateways: byMethod, validator: validate, logger: logger}
}

// Create opens a payment for a pending enrollment owned by the actor. An
// existing open payment for the enrollment is reused rather than duplicated.
func (s *PaymentService) Create(ctx context.Context, actor Actor, req CreatePaymentRequest) (*models.Payment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment payload")
	}
	if _, ok := s.gateways[req.Method]; !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported payment method")
	}

	enrollment, err := s.enrollments.FindByID(ctx, req.EnrollmentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if !actor.IsAdmin() && enrollment.StudentID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
	}
	if enrollment.Status != models.EnrollmentStatusPending {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition,
			fmt.Sprintf("payments are only open while the enrollment is pending, current status is %s", enrollment.Status))
	}

	if existing, err := s.repo.FindPendingByEnrollment(ctx, req.EnrollmentID); err == nil {
		if existing.Method == req.Method {
			return existing, nil
		}
		return nil, appErrors.Clone(appErrors.ErrConflict,
			fmt.Sprintf("an open %s payment already exists for this enrollment", existing.Method))
	} else if err != sql.ErrNoRows {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check open payments")
	}

	payment := &models.Payment{
		EnrollmentID: enrollment.ID,
		Method:       req.Method,
		Status:       models.PaymentStatusPending,
		AmountCents:  enrollment.FinalPriceCents,
		Currency:     enrollment.Currency,
	}
	if err := s.repo.Create(ctx, payment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create payment")
	}
	s.logger.Info("payment opened",
		zap.String("payment_id", payment.ID),
		zap.String("enrollment_id", enrollment.ID),
		zap.String("method", string(payment.Method)))
	return payment, nil
}

// Confirm verifies processor evidence for a payment. PayPal and Stripe
// settle immediately on success; bank transfers record the receipt
// reference and wait for staff approval.
func (s *PaymentService) Confirm(ctx context.Context, actor Actor, paymentID string, req ConfirmPaymentRequest) (*models.Payment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "payment reference is required")
	}

	payment, enrollment, err := s.loadOwned(ctx, actor, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != models.PaymentStatusPending {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition,
			fmt.Sprintf("payment is already %s", payment.Status))
	}

	gateway, ok := s.gateways[payment.Method]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported payment method")
	}
	reference, err := gateway.Verify(ctx, payment, req.Reference)
	if err != nil {
		return nil, err
	}

	if payment.Method == models.PaymentMethodBankTransfer {
		ok, err := s.repo.AttachRahgiriCode(ctx, payment.ID, reference)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record rahgiri code")
		}
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrConflict, "payment was settled concurrently")
		}
		return s.repo.FindByID(ctx, payment.ID)
	}

	return s.settleDetail(ctx, payment, enrollment, reference)
}

// ApproveBankTransfer settles a reviewed bank transfer payment. Staff only.
func (s *PaymentService) ApproveBankTransfer(ctx context.Context, actor Actor, paymentID string) (*models.Payment, error) {
	payment, err := s.repo.FindByID(ctx, paymentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment")
	}
	if payment.Method != models.PaymentMethodBankTransfer {
		return nil, appErrors.Clone(appErrors.ErrGuardFailed, "payment is not a bank transfer")
	}
	if payment.Status != models.PaymentStatusPending {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition,
			fmt.Sprintf("payment is already %s", payment.Status))
	}
	if payment.RahgiriCode == "" {
		return nil, appErrors.Clone(appErrors.ErrGuardFailed, "no rahgiri code has been submitted")
	}

	detail, err := s.enrollments.FindDetailByID(ctx, payment.EnrollmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return s.settleDetail(ctx, payment, detail, payment.RahgiriCode)
}

// HandlePayPalCapture settles the payment referenced by a completed PayPal
// capture webhook. Unknown captures are ignored so replays stay harmless.
func (s *PaymentService) HandlePayPalCapture(ctx context.Context, captureID, customID string) error {
	if customID == "" {
		return appErrors.Clone(appErrors.ErrValidation, "webhook carries no payment reference")
	}
	payment, err := s.repo.FindByID(ctx, customID)
	if err != nil {
		if err == sql.ErrNoRows {
			s.logger.Warn("paypal webhook for unknown payment", zap.String("custom_id", customID))
			return nil
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment")
	}
	if payment.Status != models.PaymentStatusPending {
		// Replayed webhook after settlement.
		return nil
	}

	detail, err := s.enrollments.FindDetailByID(ctx, payment.EnrollmentID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	_, err = s.settleDetail(ctx, payment, detail, captureID)
	return err
}

// RequestRefund records a refund request for a completed payment.
func (s *PaymentService) RequestRefund(ctx context.Context, actor Actor, paymentID string, req RefundRequest) (*models.Refund, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "refund reason is required")
	}
	payment, _, err := s.loadOwned(ctx, actor, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != models.PaymentStatusCompleted {
		return nil, appErrors.Clone(appErrors.ErrGuardFailed, "only completed payments can be refunded")
	}
	return s.openRefund(ctx, payment, req)
}

// PrepareRefund builds the refund request for an enrollment about to be
// cancelled, without persisting it. The caller commits the returned row
// together with the cancellation. Enrollments that never settled need no
// refund and yield nil.
func (s *PaymentService) PrepareRefund(ctx context.Context, enrollmentID string, req RefundRequest) (*models.Refund, error) {
	payment, err := s.repo.FindCompletedByEnrollment(ctx, enrollmentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment")
	}
	return s.buildRefund(payment, req)
}

func (s *PaymentService) buildRefund(payment *models.Payment, req RefundRequest) (*models.Refund, error) {
	if payment.Method == models.PaymentMethodBankTransfer && (req.BankCardNumber == "" || req.CardholderName == "") {
		return nil, appErrors.Clone(appErrors.ErrValidation, "bank card number and cardholder name are required for bank transfer refunds")
	}
	return &models.Refund{
		PaymentID:      payment.ID,
		Status:         models.RefundStatusRequested,
		AmountCents:    payment.AmountCents,
		Reason:         req.Reason,
		BankCardNumber: req.BankCardNumber,
		CardholderName: req.CardholderName,
	}, nil
}

func (s *PaymentService) openRefund(ctx context.Context, payment *models.Payment, req RefundRequest) (*models.Refund, error) {
	refund, err := s.buildRefund(payment, req)
	if err != nil {
		return nil, err
	}
	if err := s.repo.CreateRefund(ctx, refund); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create refund request")
	}
	s.logger.Info("refund requested",
		zap.String("refund_id", refund.ID),
		zap.String("payment_id", payment.ID))
	return refund, nil
}

// ResolveRefund advances a refund request to processing, completed or
// rejected. Staff only.
func (s *PaymentService) ResolveRefund(ctx context.Context, actor Actor, refundID string, status models.RefundStatus) error {
	switch status {
	case models.RefundStatusProcessing, models.RefundStatusCompleted, models.RefundStatusRejected:
	default:
		return appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("refunds cannot be moved to %s", status))
	}
	ok, err := s.repo.ResolveRefund(ctx, refundID, status, actor.UserID, time.Now().UTC())
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve refund")
	}
	if !ok {
		return appErrors.Clone(appErrors.ErrConflict, "refund request was already resolved")
	}
	return nil
}

// List returns payments visible to the actor.
func (s *PaymentService) List(ctx context.Context, actor Actor, filter models.PaymentFilter) ([]models.Payment, *models.Pagination, error) {
	if !actor.IsAdmin() {
		if filter.EnrollmentID == "" {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, "enrollment_id is required")
		}
		enrollment, err := s.enrollments.FindByID(ctx, filter.EnrollmentID)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
			}
			return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
		}
		if enrollment.StudentID != actor.UserID {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
	}

	payments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list payments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return payments, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

func (s *PaymentService) loadOwned(ctx context.Context, actor Actor, paymentID string) (*models.Payment, *models.EnrollmentDetail, error) {
	payment, err := s.repo.FindByID(ctx, paymentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "payment not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment")
	}
	detail, err := s.enrollments.FindDetailByID(ctx, payment.EnrollmentID)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if !actor.IsAdmin() && detail.StudentID != actor.UserID {
		return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "payment not found")
	}
	return payment, detail, nil
}

func (s *PaymentService) settleDetail(ctx context.Context, payment *models.Payment, detail *models.EnrollmentDetail, reference string) (*models.Payment, error) {
	// Bank transfers settle on their rahgiri code; gateway payments on the
	// processor transaction id.
	transactionID, rahgiriCode := reference, ""
	if payment.Method == models.PaymentMethodBankTransfer {
		transactionID, rahgiriCode = "", reference
	}
	notif := paymentConfirmedNotification(detail, payment.AmountCents, payment.Currency)
	ok, err := s.repo.Settle(ctx, payment.ID, payment.EnrollmentID, transactionID, rahgiriCode, time.Now().UTC(), notif)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to settle payment")
	}
	if !ok {
		// Either the payment settled concurrently or the enrollment left
		// the pending state. Re-read to report which.
		enrollment, err := s.enrollments.FindByID(ctx, payment.EnrollmentID)
		if err == nil && enrollment.Status != models.EnrollmentStatusPending {
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition,
				fmt.Sprintf("enrollment is already %s", enrollment.Status))
		}
		return nil, appErrors.Clone(appErrors.ErrConflict, "payment was settled concurrently")
	}
	s.logger.Info("payment settled",
		zap.String("payment_id", payment.ID),
		zap.String("enrollment_id", payment.EnrollmentID),
		zap.String("reference", reference))
	return s.repo.FindByID(ctx, payment.ID)
}
