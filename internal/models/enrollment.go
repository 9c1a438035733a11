package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusPending   EnrollmentStatus = "PENDING"
	EnrollmentStatusEnrolled  EnrollmentStatus = "ENROLLED"
	EnrollmentStatusCompleted EnrollmentStatus = "COMPLETED"
	EnrollmentStatusCancelled EnrollmentStatus = "CANCELLED"
	EnrollmentStatusRejected  EnrollmentStatus = "REJECTED"
)

// IsTerminal reports whether the status permits no further transitions.
func (s EnrollmentStatus) IsTerminal() bool {
	switch s {
	case EnrollmentStatusCompleted, EnrollmentStatusCancelled, EnrollmentStatusRejected:
		return true
	}
	return false
}

// Valid reports whether the status is one of the known values.
func (s EnrollmentStatus) Valid() bool {
	switch s {
	case EnrollmentStatusPending, EnrollmentStatusEnrolled, EnrollmentStatusCompleted,
		EnrollmentStatusCancelled, EnrollmentStatusRejected:
		return true
	}
	return false
}

// Enrollment captures a student's registration to a course session.
type Enrollment struct {
	ID              string           `db:"id" json:"id"`
	StudentID       string           `db:"student_id" json:"student_id"`
	CourseID        string           `db:"course_id" json:"course_id"`
	SessionID       string           `db:"session_id" json:"session_id"`
	Status          EnrollmentStatus `db:"status" json:"status"`
	TrackingNumber  string           `db:"tracking_number" json:"tracking_number"`
	PromoCode       *string          `db:"promo_code" json:"promo_code,omitempty"`
	FinalPriceCents int64            `db:"final_price_cents" json:"final_price_cents"`
	Currency        string           `db:"currency" json:"currency"`
	EnrolledAt      time.Time        `db:"enrolled_at" json:"enrolled_at"`
	CompletionDate  *time.Time       `db:"completion_date" json:"completion_date,omitempty"`
	ApprovedBy      *string          `db:"approved_by" json:"approved_by,omitempty"`
	ApprovalDate    *time.Time       `db:"approval_date" json:"approval_date,omitempty"`
	RejectionReason *string          `db:"rejection_reason" json:"rejection_reason,omitempty"`
	CreatedAt       time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time        `db:"updated_at" json:"updated_at"`
}

// EnrollmentDetail enriches Enrollment with student, course and session info.
type EnrollmentDetail struct {
	Enrollment
	StudentName   string    `db:"student_name" json:"student_name"`
	StudentEmail  string    `db:"student_email" json:"student_email"`
	StudentMobile string    `db:"student_mobile" json:"student_mobile"`
	CourseName    string    `db:"course_name" json:"course_name"`
	InstructorID  string    `db:"instructor_id" json:"instructor_id"`
	StartDatetime time.Time `db:"start_datetime" json:"start_datetime"`
	EndDatetime   time.Time `db:"end_datetime" json:"end_datetime"`
	Location      string    `db:"location" json:"location,omitempty"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentID string
	CourseID  string
	SessionID string
	Status    EnrollmentStatus
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
