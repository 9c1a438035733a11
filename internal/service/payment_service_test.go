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
	"github.com/ultima-training/ultima-api/pkg/config"
	appErrors "github.com/ultima-training/ultima-api/pkg/errors"
)

type mockPaymentRepo struct {
	payments map[string]models.Payment
	refunds  map[string]models.Refund
	settleOK bool
	settled  []string
	notifs   []*models.Notification
	refunded []string
	resolved map[string]models.RefundStatus
}

func (m *mockPaymentRepo) FindByID(ctx context.Context, id string) (*models.Payment, error) {
	if p, ok := m.payments[id]; ok {
		return &p, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockPaymentRepo) FindPendingByEnrollment(ctx context.Context, enrollmentID string) (*models.Payment, error) {
	for _, p := range m.payments {
		if p.EnrollmentID == enrollmentID && p.Status == models.PaymentStatusPending {
			return &p, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockPaymentRepo) FindCompletedByEnrollment(ctx context.Context, enrollmentID string) (*models.Payment, error) {
	for _, p := range m.payments {
		if p.EnrollmentID == enrollmentID && p.Status == models.PaymentStatusCompleted {
			return &p, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockPaymentRepo) Create(ctx context.Context, payment *models.Payment) error {
	if payment.ID == "" {
		payment.ID = "pay-new"
	}
	payment.Status = models.PaymentStatusPending
	if m.payments == nil {
		m.payments = make(map[string]models.Payment)
	}
	m.payments[payment.ID] = *payment
	return nil
}

func (m *mockPaymentRepo) Settle(ctx context.Context, paymentID, enrollmentID, transactionID, rahgiriCode string, paidAt time.Time, notif *models.Notification) (bool, error) {
	if !m.settleOK {
		return false, nil
	}
	p := m.payments[paymentID]
	p.Status = models.PaymentStatusCompleted
	p.TransactionID = transactionID
	p.RahgiriCode = rahgiriCode
	m.payments[paymentID] = p
	m.settled = append(m.settled, paymentID)
	m.notifs = append(m.notifs, notif)
	return true, nil
}

func (m *mockPaymentRepo) AttachRahgiriCode(ctx context.Context, id, rahgiriCode string) (bool, error) {
	p, ok := m.payments[id]
	if !ok || p.Status != models.PaymentStatusPending {
		return false, nil
	}
	p.RahgiriCode = rahgiriCode
	m.payments[id] = p
	return true, nil
}

func (m *mockPaymentRepo) List(ctx context.Context, filter models.PaymentFilter) ([]models.Payment, int, error) {
	var out []models.Payment
	for _, p := range m.payments {
		out = append(out, p)
	}
	return out, len(out), nil
}

func (m *mockPaymentRepo) CreateRefund(ctx context.Context, refund *models.Refund) error {
	if refund.ID == "" {
		refund.ID = "ref-new"
	}
	if m.refunds == nil {
		m.refunds = make(map[string]models.Refund)
	}
	m.refunds[refund.ID] = *refund
	m.refunded = append(m.refunded, refund.PaymentID)
	return nil
}

func (m *mockPaymentRepo) ResolveRefund(ctx context.Context, refundID string, status models.RefundStatus, processedBy string, processedAt time.Time) (bool, error) {
	if _, ok := m.refunds[refundID]; !ok {
		return false, nil
	}
	if m.resolved == nil {
		m.resolved = make(map[string]models.RefundStatus)
	}
	m.resolved[refundID] = status
	return true, nil
}

type fakeGateway struct {
	method models.PaymentMethod
	txID   string
	err    error
}

func (g *fakeGateway) Method() models.PaymentMethod { return g.method }

func (g *fakeGateway) Verify(ctx context.Context, payment *models.Payment, reference string) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	return g.txID, nil
}

func newPaymentFixture(repo *mockPaymentRepo, enrollments *mockEnrollmentRepo, gateways ...Gateway) *PaymentService {
	if len(gateways) == 0 {
		gateways = []Gateway{
			&fakeGateway{method: models.PaymentMethodPayPal, txID: "CAP-1"},
			NewBankTransferGateway(config.PaymentsConfig{RahgiriMinLength: 10}),
		}
	}
	return NewPaymentService(repo, enrollments, gateways, validator.New(), zap.NewNop())
}

func pendingEnrollmentFixture() *mockEnrollmentRepo {
	return &mockEnrollmentRepo{enrollments: map[string]models.EnrollmentDetail{
		"enr-1": {
			Enrollment: models.Enrollment{
				ID: "enr-1", StudentID: "stu-1", Status: models.EnrollmentStatusPending,
				FinalPriceCents: 150000, Currency: "USD",
			},
			StudentEmail: "jane@example.com",
			StudentName:  "Jane Doe",
			CourseName:   "Go Fundamentals",
		},
	}}
}

func TestPaymentServiceCreate(t *testing.T) {
	repo := &mockPaymentRepo{}
	svc := newPaymentFixture(repo, pendingEnrollmentFixture())

	payment, err := svc.Create(context.Background(), Actor{UserID: "stu-1", Role: models.RoleStudent},
		CreatePaymentRequest{EnrollmentID: "enr-1", Method: models.PaymentMethodPayPal})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, payment.Status)
	assert.Equal(t, int64(150000), payment.AmountCents)
}

func TestPaymentServiceCreateReusesOpenPayment(t *testing.T) {
	repo := &mockPaymentRepo{payments: map[string]models.Payment{
		"pay-1": {ID: "pay-1", EnrollmentID: "enr-1", Method: models.PaymentMethodPayPal, Status: models.PaymentStatusPending},
	}}
	svc := newPaymentFixture(repo, pendingEnrollmentFixture())

	payment, err := svc.Create(context.Background(), Actor{UserID: "stu-1", Role: models.RoleStudent},
		CreatePaymentRequest{EnrollmentID: "enr-1", Method: models.PaymentMethodPayPal})
	require.NoError(t, err)
	assert.Equal(t, "pay-1", payment.ID)
}

func TestPaymentServiceConfirmPayPalSettles(t *testing.T) {
	repo := &mockPaymentRepo{
		payments: map[string]models.Payment{
			"pay-1": {ID: "pay-1", EnrollmentID: "enr-1", Method: models.PaymentMethodPayPal, Status: models.PaymentStatusPending, AmountCents: 150000, Currency: "USD"},
		},
		settleOK: true,
	}
	svc := newPaymentFixture(repo, pendingEnrollmentFixture())

	payment, err := svc.Confirm(context.Background(), Actor{UserID: "stu-1", Role: models.RoleStudent},
		"pay-1", ConfirmPaymentRequest{Reference: "ORDER-1"})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, payment.Status)
	assert.Equal(t, "CAP-1", payment.TransactionID)
	assert.Empty(t, payment.RahgiriCode)
	require.Len(t, repo.notifs, 1)
	assert.Equal(t, models.NotificationPaymentConfirmed, repo.notifs[0].Kind)
}

func TestPaymentServiceConfirmAmountMismatch(t *testing.T) {
	repo := &mockPaymentRepo{
		payments: map[string]models.Payment{
			"pay-1": {ID: "pay-1", EnrollmentID: "enr-1", Method: models.PaymentMethodPayPal, Status: models.PaymentStatusPending, AmountCents: 150000, Currency: "USD"},
		},
		settleOK: true,
	}
	gw := &fakeGateway{method: models.PaymentMethodPayPal, err: appErrors.Clone(appErrors.ErrGuardFailed, "paypal amount mismatch")}
	svc := newPaymentFixture(repo, pendingEnrollmentFixture(), gw)

	_, err := svc.Confirm(context.Background(), Actor{UserID: "stu-1", Role: models.RoleStudent},
		"pay-1", ConfirmPaymentRequest{Reference: "ORDER-1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrGuardFailed.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.settled)
}

func TestPaymentServiceConfirmBankTransferStaysPending(t *testing.T) {
	repo := &mockPaymentRepo{
		payments: map[string]models.Payment{
			"pay-1": {ID: "pay-1", EnrollmentID: "enr-1", Method: models.PaymentMethodBankTransfer, Status: models.PaymentStatusPending, AmountCents: 150000, Currency: "USD"},
		},
		settleOK: true,
	}
	svc := newPaymentFixture(repo, pendingEnrollmentFixture())

	payment, err := svc.Confirm(context.Background(), Actor{UserID: "stu-1", Role: models.RoleStudent},
		"pay-1", ConfirmPaymentRequest{Reference: "1234567890"})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, payment.Status)
	assert.Equal(t, "1234567890", payment.RahgiriCode)
	assert.Empty(t, payment.TransactionID)
	assert.Empty(t, repo.settled)
}

func TestPaymentServiceConfirmBankTransferShortReference(t *testing.T) {
	repo := &mockPaymentRepo{
		payments: map[string]models.Payment{
			"pay-1": {ID: "pay-1", EnrollmentID: "enr-1", Method: models.PaymentMethodBankTransfer, Status: models.PaymentStatusPending},
		},
	}
	svc := newPaymentFixture(repo, pendingEnrollmentFixture())

	_, err := svc.Confirm(context.Background(), Actor{UserID: "stu-1", Role: models.RoleStudent},
		"pay-1", ConfirmPaymentRequest{Reference: "12345"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrGuardFailed.Code, appErrors.FromError(err).Code)
}

func TestPaymentServiceApproveBankTransfer(t *testing.T) {
	repo := &mockPaymentRepo{
		payments: map[string]models.Payment{
			"pay-1": {ID: "pay-1", EnrollmentID: "enr-1", Method: models.PaymentMethodBankTransfer, Status: models.PaymentStatusPending, RahgiriCode: "1234567890", AmountCents: 150000, Currency: "USD"},
		},
		settleOK: true,
	}
	svc := newPaymentFixture(repo, pendingEnrollmentFixture())

	payment, err := svc.ApproveBankTransfer(context.Background(), Actor{UserID: "admin-1", Role: models.RoleAdmin}, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, payment.Status)
	assert.Equal(t, "1234567890", payment.RahgiriCode)
	assert.Empty(t, payment.TransactionID)
}

func TestPaymentServiceApproveBankTransferWithoutReceipt(t *testing.T) {
	repo := &mockPaymentRepo{
		payments: map[string]models.Payment{
			"pay-1": {ID: "pay-1", EnrollmentID: "enr-1", Method: models.PaymentMethodBankTransfer, Status: models.PaymentStatusPending},
		},
	}
	svc := newPaymentFixture(repo, pendingEnrollmentFixture())

	_, err := svc.ApproveBankTransfer(context.Background(), Actor{UserID: "admin-1", Role: models.RoleAdmin}, "pay-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrGuardFailed.Code, appErrors.FromError(err).Code)
}

func TestPaymentServiceSettleRaceReportsEnrollmentState(t *testing.T) {
	enrollments := pendingEnrollmentFixture()
	d := enrollments.enrollments["enr-1"]
	d.Status = models.EnrollmentStatusCancelled
	enrollments.enrollments["enr-1"] = d

	repo := &mockPaymentRepo{
		payments: map[string]models.Payment{
			"pay-1": {ID: "pay-1", EnrollmentID: "enr-1", Method: models.PaymentMethodPayPal, Status: models.PaymentStatusPending, AmountCents: 150000, Currency: "USD"},
		},
		settleOK: false,
	}
	svc := newPaymentFixture(repo, enrollments)

	_, err := svc.Confirm(context.Background(), Actor{UserID: "stu-1", Role: models.RoleStudent},
		"pay-1", ConfirmPaymentRequest{Reference: "ORDER-1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
}

func TestPaymentServiceWebhookReplayIsHarmless(t *testing.T) {
	repo := &mockPaymentRepo{
		payments: map[string]models.Payment{
			"pay-1": {ID: "pay-1", EnrollmentID: "enr-1", Method: models.PaymentMethodPayPal, Status: models.PaymentStatusCompleted, TransactionID: "CAP-1"},
		},
	}
	svc := newPaymentFixture(repo, pendingEnrollmentFixture())

	err := svc.HandlePayPalCapture(context.Background(), "CAP-1", "pay-1")
	require.NoError(t, err)
	assert.Empty(t, repo.settled)
}

func TestPaymentServiceRefundFlow(t *testing.T) {
	repo := &mockPaymentRepo{
		payments: map[string]models.Payment{
			"pay-1": {ID: "pay-1", EnrollmentID: "enr-1", Method: models.PaymentMethodPayPal, Status: models.PaymentStatusCompleted, AmountCents: 150000, Currency: "USD"},
		},
	}
	svc := newPaymentFixture(repo, pendingEnrollmentFixture())

	refund, err := svc.RequestRefund(context.Background(), Actor{UserID: "stu-1", Role: models.RoleStudent},
		"pay-1", RefundRequest{Reason: "cannot attend"})
	require.NoError(t, err)
	assert.Equal(t, models.RefundStatusRequested, refund.Status)
	assert.Equal(t, int64(150000), refund.AmountCents)

	err = svc.ResolveRefund(context.Background(), Actor{UserID: "admin-1", Role: models.RoleAdmin}, refund.ID, models.RefundStatusProcessing)
	require.NoError(t, err)
	assert.Equal(t, models.RefundStatusProcessing, repo.resolved[refund.ID])

	err = svc.ResolveRefund(context.Background(), Actor{UserID: "admin-1", Role: models.RoleAdmin}, refund.ID, models.RefundStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, models.RefundStatusCompleted, repo.resolved[refund.ID])
}

func TestPaymentServiceResolveRefundRejectsUnknownStatus(t *testing.T) {
	repo := &mockPaymentRepo{refunds: map[string]models.Refund{
		"ref-1": {ID: "ref-1", PaymentID: "pay-1", Status: models.RefundStatusRequested},
	}}
	svc := newPaymentFixture(repo, pendingEnrollmentFixture())

	err := svc.ResolveRefund(context.Background(), Actor{UserID: "admin-1", Role: models.RoleAdmin},
		"ref-1", models.RefundStatusRequested)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.resolved)
}

func TestPaymentServiceBankTransferRefundNeedsCardDetails(t *testing.T) {
	repo := &mockPaymentRepo{
		payments: map[string]models.Payment{
			"pay-1": {ID: "pay-1", EnrollmentID: "enr-1", Method: models.PaymentMethodBankTransfer, Status: models.PaymentStatusCompleted, RahgiriCode: "1234567890", AmountCents: 150000, Currency: "USD"},
		},
	}
	svc := newPaymentFixture(repo, pendingEnrollmentFixture())

	_, err := svc.RequestRefund(context.Background(), Actor{UserID: "stu-1", Role: models.RoleStudent},
		"pay-1", RefundRequest{Reason: "cannot attend"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	refund, err := svc.RequestRefund(context.Background(), Actor{UserID: "stu-1", Role: models.RoleStudent},
		"pay-1", RefundRequest{Reason: "cannot attend", BankCardNumber: "6037991234567890", CardholderName: "Jane Doe"})
	require.NoError(t, err)
	assert.Equal(t, "6037991234567890", refund.BankCardNumber)
}

func TestPaymentServicePrepareRefund(t *testing.T) {
	repo := &mockPaymentRepo{
		payments: map[string]models.Payment{
			"pay-1": {ID: "pay-1", EnrollmentID: "enr-1", Method: models.PaymentMethodPayPal, Status: models.PaymentStatusCompleted, AmountCents: 150000, Currency: "USD"},
		},
	}
	svc := newPaymentFixture(repo, pendingEnrollmentFixture())

	refund, err := svc.PrepareRefund(context.Background(), "enr-1", RefundRequest{Reason: "enrollment cancelled"})
	require.NoError(t, err)
	require.NotNil(t, refund)
	assert.Equal(t, "pay-1", refund.PaymentID)
	assert.Equal(t, int64(150000), refund.AmountCents)
	// The row is handed to the caller unsaved; persisting it is the
	// cancel transaction's job.
	assert.Empty(t, repo.refunded)

	// An enrollment that never settled yields no refund request.
	refund, err = svc.PrepareRefund(context.Background(), "enr-2", RefundRequest{Reason: "enrollment cancelled"})
	require.NoError(t, err)
	assert.Nil(t, refund)
}

func TestPaymentServicePrepareRefundValidatesCardDetails(t *testing.T) {
	repo := &mockPaymentRepo{
		payments: map[string]models.Payment{
			"pay-1": {ID: "pay-1", EnrollmentID: "enr-1", Method: models.PaymentMethodBankTransfer, Status: models.PaymentStatusCompleted, RahgiriCode: "1234567890", AmountCents: 150000, Currency: "USD"},
		},
	}
	svc := newPaymentFixture(repo, pendingEnrollmentFixture())

	_, err := svc.PrepareRefund(context.Background(), "enr-1", RefundRequest{Reason: "enrollment cancelled"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	refund, err := svc.PrepareRefund(context.Background(), "enr-1",
		RefundRequest{Reason: "enrollment cancelled", BankCardNumber: "6037991234567890", CardholderName: "Jane Doe"})
	require.NoError(t, err)
	require.NotNil(t, refund)
	assert.Equal(t, "6037991234567890", refund.BankCardNumber)
}
