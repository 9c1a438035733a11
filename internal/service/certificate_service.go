package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ultima-training/ultima-api/internal/models"
	"github.com/ultima-training/ultima-api/pkg/config"
	appErrors "github.com/ultima-training/ultima-api/pkg/errors"
	"github.com/ultima-training/ultima-api/pkg/jobs"
	"github.com/ultima-training/ultima-api/pkg/render"
	"github.com/ultima-training/ultima-api/pkg/storage"
)

type certificateRepository interface {
	Insert(ctx context.Context, cert *models.Certificate) (bool, error)
	FindByEnrollment(ctx context.Context, enrollmentID string) (*models.Certificate, error)
	FindByNumber(ctx context.Context, number string) (*models.Certificate, error)
}

type outboxWriter interface {
	Create(ctx context.Context, notif *models.Notification) error
}

const certificateJobType = "certificate.issue"

// CertificateService issues completion certificates asynchronously and
// serves verification and signed downloads.
type CertificateService struct {
	repo        certificateRepository
	enrollments enrollmentReader
	users       accountReader
	outbox      outboxWriter
	renderer    *render.CertificateRenderer
	storage     *storage.LocalStorage
	signer      *storage.SignedURLSigner
	queue       *jobs.Queue
	cfg         config.CertificatesConfig
	logger      *zap.Logger
}

// NewCertificateService constructs the service and its worker queue. Call
// Start to begin processing and Stop to drain on shutdown.
func NewCertificateService(repo certificateRepository, enrollments enrollmentReader, users accountReader, outbox outboxWriter, store *storage.LocalStorage, signer *storage.SignedURLSigner, cfg config.CertificatesConfig, logger *zap.Logger) *CertificateService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &CertificateService{
		repo:        repo,
		enrollments: enrollments,
		users:       users,
		outbox:      outbox,
		renderer:    render.NewCertificateRenderer(),
		storage:     store,
		signer:      signer,
		cfg:         cfg,
		logger:      logger,
	}
	s.queue = jobs.NewQueue("certificates", s.process, jobs.QueueConfig{
		Workers:    cfg.WorkerConcurrency,
		MaxRetries: cfg.WorkerRetries,
		Logger:     logger,
	})
	return s
}

// Start launches the issuance workers.
func (s *CertificateService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the issuance workers.
func (s *CertificateService) Stop() {
	s.queue.Stop()
}

// QueueIssuance schedules certificate issuance for a completed enrollment.
func (s *CertificateService) QueueIssuance(enrollmentID string) error {
	return s.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    certificateJobType,
		Payload: enrollmentID,
	})
}

func (s *CertificateService) process(ctx context.Context, job jobs.Job) error {
	enrollmentID, ok := job.Payload.(string)
	if !ok {
		s.logger.Error("certificate job with unexpected payload", zap.String("job_id", job.ID))
		return nil
	}
	_, err := s.Issue(ctx, enrollmentID)
	return err
}

// Issue renders and stores the certificate for a completed enrollment.
// Issuance is idempotent: a second call for the same enrollment returns the
// already stored certificate.
func (s *CertificateService) Issue(ctx context.Context, enrollmentID string) (*models.Certificate, error) {
	if existing, err := s.repo.FindByEnrollment(ctx, enrollmentID); err == nil {
		return existing, nil
	} else if err != sql.ErrNoRows {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing certificate")
	}

	detail, err := s.enrollments.FindDetailByID(ctx, enrollmentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if detail.Status != models.EnrollmentStatusCompleted {
		return nil, appErrors.Clone(appErrors.ErrGuardFailed, "certificates are only issued for completed enrollments")
	}

	suffix, err := newReference(10)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to allocate certificate number")
	}
	number := "CERT-" + suffix

	completion := time.Time{}
	if detail.CompletionDate != nil {
		completion = *detail.CompletionDate
	}

	payload, err := json.Marshal(models.CertificatePayload{
		StudentName:       detail.StudentName,
		Mobile:            detail.StudentMobile,
		CourseName:        detail.CourseName,
		CompletionDate:    completion.Format("2006-01-02"),
		CertificateNumber: number,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode certificate payload")
	}
	qrPNG, err := render.EncodeQR(string(payload), 512)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render certificate qr")
	}

	instructor, err := s.users.FindByID(ctx, detail.InstructorID)
	instructorName := ""
	if err == nil {
		instructorName = instructor.FullName
	}

	pdf, err := s.renderer.Render(render.CertificateData{
		StudentName:       detail.StudentName,
		CourseName:        detail.CourseName,
		CompletionDate:    completion,
		Location:          detail.Location,
		CertificateNumber: number,
		InstructorName:    instructorName,
		IssuerName:        s.cfg.IssuerName,
		FounderName:       s.cfg.FounderName,
		FounderTitle:      s.cfg.FounderTitle,
		QRPNG:             qrPNG,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render certificate pdf")
	}

	pdfPath := fmt.Sprintf("certificates/%s.pdf", enrollmentID)
	qrPath := fmt.Sprintf("certificates/%s-qr.png", enrollmentID)
	if _, err := s.storage.Save(pdfPath, pdf); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store certificate pdf")
	}
	if _, err := s.storage.Save(qrPath, qrPNG); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store certificate qr")
	}

	cert := &models.Certificate{
		EnrollmentID:      enrollmentID,
		CertificateNumber: number,
		Payload:           string(payload),
		PDFPath:           pdfPath,
		QRPath:            qrPath,
		IsValid:           true,
		IssuedAt:          time.Now().UTC(),
	}
	inserted, err := s.repo.Insert(ctx, cert)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store certificate")
	}
	if !inserted {
		// Lost the race against another worker; the stored row wins.
		return s.repo.FindByEnrollment(ctx, enrollmentID)
	}

	if s.outbox != nil {
		if err := s.outbox.Create(ctx, certificateNotification(detail, number)); err != nil {
			s.logger.Error("failed to queue certificate notification",
				zap.String("enrollment_id", enrollmentID), zap.Error(err))
		}
	}
	s.logger.Info("certificate issued",
		zap.String("enrollment_id", enrollmentID),
		zap.String("certificate_number", number))
	return cert, nil
}

// Get returns the certificate for an enrollment visible to the actor.
func (s *CertificateService) Get(ctx context.Context, actor Actor, enrollmentID string) (*models.Certificate, error) {
	detail, err := s.enrollments.FindDetailByID(ctx, enrollmentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if !actor.IsAdmin() && detail.StudentID != actor.UserID && detail.InstructorID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
	}
	cert, err := s.repo.FindByEnrollment(ctx, enrollmentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "certificate not issued yet")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load certificate")
	}
	return cert, nil
}

// DownloadToken returns a signed token for fetching the certificate PDF.
func (s *CertificateService) DownloadToken(ctx context.Context, actor Actor, enrollmentID string) (string, time.Time, error) {
	cert, err := s.Get(ctx, actor, enrollmentID)
	if err != nil {
		return "", time.Time{}, err
	}
	token, expiresAt, err := s.signer.Generate(cert.ID, cert.PDFPath)
	if err != nil {
		return "", time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download url")
	}
	return token, expiresAt, nil
}

// OpenByToken validates a signed token and opens the referenced PDF.
func (s *CertificateService) OpenByToken(token string) (*os.File, error) {
	_, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "invalid or expired download link")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "certificate file not found")
	}
	return file, nil
}

// Verify resolves a public certificate number into the verification
// payload. The response comes from the snapshot stored at issuance, so
// it always matches the data embedded in the QR code even after the
// underlying enrollment or course changes.
func (s *CertificateService) Verify(ctx context.Context, number string) (*models.CertificateVerification, error) {
	cert, err := s.repo.FindByNumber(ctx, number)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "certificate not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load certificate")
	}
	if !cert.IsValid {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "certificate not found")
	}
	var payload models.CertificatePayload
	if err := json.Unmarshal([]byte(cert.Payload), &payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to decode certificate payload")
	}
	return &models.CertificateVerification{
		CertificateNumber: cert.CertificateNumber,
		StudentName:       payload.StudentName,
		StudentMobile:     payload.Mobile,
		CourseName:        payload.CourseName,
		CompletionDate:    payload.CompletionDate,
		IssuedAt:          cert.IssuedAt,
	}, nil
}
