package models

import "time"

// Certificate is an issued completion certificate for an enrollment.
// At most one certificate exists per enrollment. Payload is the JSON
// snapshot taken at issuance; verification serves it as-is, so later
// edits to the student or course never alter an issued certificate.
type Certificate struct {
	ID                string    `db:"id" json:"id"`
	EnrollmentID      string    `db:"enrollment_id" json:"enrollment_id"`
	CertificateNumber string    `db:"certificate_number" json:"certificate_number"`
	Payload           string    `db:"payload" json:"-"`
	PDFPath           string    `db:"pdf_path" json:"-"`
	QRPath            string    `db:"qr_path" json:"-"`
	IsValid           bool      `db:"is_valid" json:"is_valid"`
	IssuedAt          time.Time `db:"issued_at" json:"issued_at"`
}

// CertificatePayload is the data frozen into a certificate at issuance.
// The same JSON is stored on the row and encoded into the QR code.
type CertificatePayload struct {
	StudentName       string `json:"student_name"`
	Mobile            string `json:"mobile"`
	CourseName        string `json:"course_name"`
	CompletionDate    string `json:"completion_date"`
	CertificateNumber string `json:"certificate_number"`
}

// CertificateVerification is the public payload returned when a
// certificate number is verified. It mirrors the data encoded in the QR.
type CertificateVerification struct {
	CertificateNumber string    `json:"certificate_number"`
	StudentName       string    `json:"student_name"`
	StudentMobile     string    `json:"student_mobile"`
	CourseName        string    `json:"course_name"`
	CompletionDate    string    `json:"completion_date,omitempty"`
	IssuedAt          time.Time `json:"issued_at"`
}
