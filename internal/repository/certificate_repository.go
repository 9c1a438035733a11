package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ultima-training/ultima-api/internal/models"
)

// CertificateRepository handles persistence of issued certificates.
type CertificateRepository struct {
	db *sqlx.DB
}

// NewCertificateRepository constructs the repository.
func NewCertificateRepository(db *sqlx.DB) *CertificateRepository {
	return &CertificateRepository{db: db}
}

// Insert stores an issued certificate. The unique constraint on
// enrollment_id makes issuance idempotent; a conflicting insert is a no-op
// and Insert reports whether a row was actually written.
func (r *CertificateRepository) Insert(ctx context.Context, cert *models.Certificate) (bool, error) {
	if cert.ID == "" {
		cert.ID = uuid.NewString()
	}
	if cert.IssuedAt.IsZero() {
		cert.IssuedAt = time.Now().UTC()
	}
	const query = `INSERT INTO certificates (id, enrollment_id, certificate_number, payload, pdf_path, qr_path, is_valid, issued_at)
        VALUES (:id, :enrollment_id, :certificate_number, :payload, :pdf_path, :qr_path, :is_valid, :issued_at)
        ON CONFLICT (enrollment_id) DO NOTHING`
	res, err := r.db.NamedExecContext(ctx, query, cert)
	if err != nil {
		return false, fmt.Errorf("insert certificate: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert certificate rows: %w", err)
	}
	return affected > 0, nil
}

// FindByEnrollment returns the certificate for an enrollment, if issued.
func (r *CertificateRepository) FindByEnrollment(ctx context.Context, enrollmentID string) (*models.Certificate, error) {
	const query = `SELECT id, enrollment_id, certificate_number, payload, pdf_path, qr_path, is_valid, issued_at
        FROM certificates WHERE enrollment_id = $1`
	var cert models.Certificate
	if err := r.db.GetContext(ctx, &cert, query, enrollmentID); err != nil {
		return nil, err
	}
	return &cert, nil
}

// FindByNumber returns the certificate with the given public number.
func (r *CertificateRepository) FindByNumber(ctx context.Context, number string) (*models.Certificate, error) {
	const query = `SELECT id, enrollment_id, certificate_number, payload, pdf_path, qr_path, is_valid, issued_at
        FROM certificates WHERE certificate_number = $1`
	var cert models.Certificate
	if err := r.db.GetContext(ctx, &cert, query, number); err != nil {
		return nil, err
	}
	return &cert, nil
}
