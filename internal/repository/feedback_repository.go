package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ultima-training/ultima-api/internal/models"
)

// FeedbackRepository handles persistence of course feedback.
type FeedbackRepository struct {
	db *sqlx.DB
}

// NewFeedbackRepository constructs the repository.
func NewFeedbackRepository(db *sqlx.DB) *FeedbackRepository {
	return &FeedbackRepository{db: db}
}

const feedbackColumns = `f.id, f.enrollment_id, f.student_id, f.course_id, f.overall_rating, f.content_rating,
        f.instructor_rating, f.venue_rating, f.overall_experience, f.key_takeaways, f.improvements,
        f.would_recommend, f.allow_testimonial, f.is_approved, f.approved_by, f.review_date,
        f.review_comments, f.created_at, f.updated_at`

// FindByID returns a feedback entry with names joined in.
func (r *FeedbackRepository) FindByID(ctx context.Context, id string) (*models.FeedbackDetail, error) {
	query := fmt.Sprintf(`SELECT %s, u.full_name AS student_name, u.email AS student_email, c.name AS course_name
        FROM feedback f
        JOIN users u ON u.id = f.student_id
        JOIN courses c ON c.id = f.course_id
        WHERE f.id = $1`, feedbackColumns)
	var detail models.FeedbackDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// FindByEnrollment returns the feedback for an enrollment, if any.
func (r *FeedbackRepository) FindByEnrollment(ctx context.Context, enrollmentID string) (*models.Feedback, error) {
	query := fmt.Sprintf("SELECT %s FROM feedback f WHERE f.enrollment_id = $1", feedbackColumns)
	var fb models.Feedback
	if err := r.db.GetContext(ctx, &fb, query, enrollmentID); err != nil {
		return nil, err
	}
	return &fb, nil
}

// Create inserts a new feedback entry. One entry per enrollment is enforced
// by a unique constraint.
func (r *FeedbackRepository) Create(ctx context.Context, fb *models.Feedback) error {
	if fb.ID == "" {
		fb.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	fb.CreatedAt = now
	fb.UpdatedAt = now
	const query = `INSERT INTO feedback (id, enrollment_id, student_id, course_id, overall_rating, content_rating,
        instructor_rating, venue_rating, overall_experience, key_takeaways, improvements,
        would_recommend, allow_testimonial, is_approved, created_at, updated_at)
        VALUES (:id, :enrollment_id, :student_id, :course_id, :overall_rating, :content_rating,
        :instructor_rating, :venue_rating, :overall_experience, :key_takeaways, :improvements,
        :would_recommend, :allow_testimonial, :is_approved, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, fb); err != nil {
		return fmt.Errorf("create feedback: %w", err)
	}
	return nil
}

// Approve publishes a feedback entry, stamping the review date. Approval
// is one way; the update only touches rows that are still unapproved and
// reports whether one matched.
func (r *FeedbackRepository) Approve(ctx context.Context, id, reviewerID string) (bool, error) {
	const query = `UPDATE feedback SET is_approved = TRUE, approved_by = $2, review_date = $3, updated_at = $3
        WHERE id = $1 AND is_approved = FALSE`
	res, err := r.db.ExecContext(ctx, query, id, reviewerID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("approve feedback: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("approve feedback rows: %w", err)
	}
	return affected > 0, nil
}

// RequestChanges records reviewer comments on an unpublished entry so the
// student can revise it. Published entries are no longer editable.
func (r *FeedbackRepository) RequestChanges(ctx context.Context, id, comments string) (bool, error) {
	const query = `UPDATE feedback SET review_comments = $2, updated_at = $3
        WHERE id = $1 AND is_approved = FALSE`
	res, err := r.db.ExecContext(ctx, query, id, comments, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("request feedback changes: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("request feedback changes rows: %w", err)
	}
	return affected > 0, nil
}

// List returns feedback entries filtered by the provided criteria.
func (r *FeedbackRepository) List(ctx context.Context, filter models.FeedbackFilter) ([]models.FeedbackDetail, int, error) {
	base := `FROM feedback f
        JOIN users u ON u.id = f.student_id
        JOIN courses c ON c.id = f.course_id`
	var conditions []string
	var args []interface{}

	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("f.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("f.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.Approved != nil {
		conditions = append(conditions, fmt.Sprintf("f.is_approved = $%d", len(args)+1))
		args = append(args, *filter.Approved)
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

	query := fmt.Sprintf(`SELECT %s, u.full_name AS student_name, u.email AS student_email, c.name AS course_name
        %s%s ORDER BY f.created_at DESC LIMIT %d OFFSET %d`, feedbackColumns, base, clause, size, offset)

	var entries []models.FeedbackDetail
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list feedback: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s%s", base, clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count feedback: %w", err)
	}
	return entries, total, nil
}

// AverageRatings returns the published rating averages for a course.
func (r *FeedbackRepository) AverageRatings(ctx context.Context, courseID string) (map[string]float64, error) {
	const query = `SELECT
        COALESCE(AVG(overall_rating), 0) AS overall,
        COALESCE(AVG(content_rating), 0) AS content,
        COALESCE(AVG(instructor_rating), 0) AS instructor,
        COALESCE(AVG(venue_rating), 0) AS venue
        FROM feedback WHERE course_id = $1 AND is_approved = TRUE`
	var row struct {
		Overall    float64 `db:"overall"`
		Content    float64 `db:"content"`
		Instructor float64 `db:"instructor"`
		Venue      float64 `db:"venue"`
	}
	if err := r.db.GetContext(ctx, &row, query, courseID); err != nil {
		return nil, fmt.Errorf("average ratings: %w", err)
	}
	return map[string]float64{
		"overall":    row.Overall,
		"content":    row.Content,
		"instructor": row.Instructor,
		"venue":      row.Venue,
	}, nil
}
