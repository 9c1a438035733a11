package models

import "time"

// PaymentMethod identifies the gateway used to settle an enrollment.
type PaymentMethod string

// Supported payment methods.
const (
	PaymentMethodPayPal       PaymentMethod = "PAYPAL"
	PaymentMethodBankTransfer PaymentMethod = "BANK_TRANSFER"
	PaymentMethodStripe       PaymentMethod = "STRIPE"
)

// PaymentStatus represents the settlement state of a payment.
type PaymentStatus string

// Possible payment statuses.
const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusRefunded  PaymentStatus = "REFUNDED"
)

// Payment records a settlement attempt for an enrollment. Gateway
// payments carry the processor's transaction id; bank transfers carry
// the Rahgiri tracking code instead. Exactly one of the two is set,
// depending on the method.
type Payment struct {
	ID            string        `db:"id" json:"id"`
	EnrollmentID  string        `db:"enrollment_id" json:"enrollment_id"`
	Method        PaymentMethod `db:"method" json:"method"`
	Status        PaymentStatus `db:"status" json:"status"`
	AmountCents   int64         `db:"amount_cents" json:"amount_cents"`
	Currency      string        `db:"currency" json:"currency"`
	TransactionID string        `db:"transaction_id" json:"transaction_id,omitempty"`
	RahgiriCode   string        `db:"rahgiri_code" json:"rahgiri_code,omitempty"`
	PaidAt        *time.Time    `db:"paid_at" json:"paid_at,omitempty"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time     `db:"updated_at" json:"updated_at"`
}

// RefundStatus represents the processing state of a refund request.
type RefundStatus string

// Possible refund statuses.
const (
	RefundStatusRequested  RefundStatus = "REQUESTED"
	RefundStatusProcessing RefundStatus = "PROCESSING"
	RefundStatusCompleted  RefundStatus = "COMPLETED"
	RefundStatusRejected   RefundStatus = "REJECTED"
)

// Refund records a refund request against a completed payment. Bank
// transfer refunds carry the destination card details; gateway refunds
// go back through the original processor and leave them empty.
type Refund struct {
	ID             string       `db:"id" json:"id"`
	PaymentID      string       `db:"payment_id" json:"payment_id"`
	Status         RefundStatus `db:"status" json:"status"`
	AmountCents    int64        `db:"amount_cents" json:"amount_cents"`
	Reason         string       `db:"reason" json:"reason"`
	BankCardNumber string       `db:"bank_card_number" json:"bank_card_number,omitempty"`
	CardholderName string       `db:"cardholder_name" json:"cardholder_name,omitempty"`
	ProcessedBy    *string      `db:"processed_by" json:"processed_by,omitempty"`
	ProcessedAt    *time.Time   `db:"processed_at" json:"processed_at,omitempty"`
	CreatedAt      time.Time    `db:"created_at" json:"created_at"`
}

// PaymentFilter provides filters for listing payments.
type PaymentFilter struct {
	EnrollmentID string
	Method       PaymentMethod
	Status       PaymentStatus
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}
