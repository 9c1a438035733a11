package models

import "time"

// NotificationStatus tracks delivery of an outbox row.
type NotificationStatus string

// Possible notification statuses.
const (
	NotificationStatusPending NotificationStatus = "PENDING"
	NotificationStatusSent    NotificationStatus = "SENT"
	NotificationStatusFailed  NotificationStatus = "FAILED"
)

// NotificationKind names the event that produced the notification.
type NotificationKind string

// Notification kinds emitted by the enrollment lifecycle.
const (
	NotificationEnrollmentRegistered NotificationKind = "ENROLLMENT_REGISTERED"
	NotificationEnrollmentApproved   NotificationKind = "ENROLLMENT_APPROVED"
	NotificationEnrollmentRejected   NotificationKind = "ENROLLMENT_REJECTED"
	NotificationEnrollmentCancelled  NotificationKind = "ENROLLMENT_CANCELLED"
	NotificationPaymentConfirmed     NotificationKind = "PAYMENT_CONFIRMED"
	NotificationFeedbackRevision     NotificationKind = "FEEDBACK_REVISION_REQUESTED"
	NotificationCertificateIssued    NotificationKind = "CERTIFICATE_ISSUED"
)

// Notification is an outbox row written in the same transaction as the
// state change it announces, and delivered asynchronously.
type Notification struct {
	ID             string             `db:"id" json:"id"`
	Kind           NotificationKind   `db:"kind" json:"kind"`
	RecipientEmail string             `db:"recipient_email" json:"recipient_email"`
	Subject        string             `db:"subject" json:"subject"`
	Body           string             `db:"body" json:"body"`
	Status         NotificationStatus `db:"status" json:"status"`
	Attempts       int                `db:"attempts" json:"attempts"`
	LastError      *string            `db:"last_error" json:"last_error,omitempty"`
	CreatedAt      time.Time          `db:"created_at" json:"created_at"`
	SentAt         *time.Time         `db:"sent_at" json:"sent_at,omitempty"`
}
