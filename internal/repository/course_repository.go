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

// CourseRepository handles persistence of courses, sessions and promo codes.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs the repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

const courseColumns = `id, name, short_description, detailed_description, instructor_id, co_instructor_id,
        price_cents, currency, duration_hours, max_capacity, course_type, prerequisites, active, created_at, updated_at`

// List returns active courses for the public catalog.
func (r *CourseRepository) List(ctx context.Context, filter models.CourseFilter) ([]models.CourseDetail, int, error) {
	base := `FROM courses c JOIN users u ON u.id = c.instructor_id`
	conditions := []string{"c.active = TRUE"}
	var args []interface{}

	if filter.Type != "" {
		conditions = append(conditions, fmt.Sprintf("c.course_type = $%d", len(args)+1))
		args = append(args, filter.Type)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(c.name) LIKE $%d OR LOWER(c.short_description) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}
	clause := " WHERE " + strings.Join(conditions, " AND ")

	allowedSorts := map[string]string{
		"name":        "c.name",
		"price_cents": "c.price_cents",
		"created_at":  "c.created_at",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "c.created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
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

	query := fmt.Sprintf(`SELECT c.id, c.name, c.short_description, c.detailed_description, c.instructor_id,
        c.co_instructor_id, c.price_cents, c.currency, c.duration_hours, c.max_capacity, c.course_type,
        c.prerequisites, c.active, c.created_at, c.updated_at, u.full_name AS instructor_name
        %s%s ORDER BY %s %s LIMIT %d OFFSET %d`, base, clause, orderBy, order, size, offset)

	var courses []models.CourseDetail
	if err := r.db.SelectContext(ctx, &courses, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list courses: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s%s", base, clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count courses: %w", err)
	}
	return courses, total, nil
}

// FindByID returns a course by identifier.
func (r *CourseRepository) FindByID(ctx context.Context, id string) (*models.Course, error) {
	query := fmt.Sprintf("SELECT %s FROM courses WHERE id = $1", courseColumns)
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		return nil, err
	}
	return &course, nil
}

// FindDetailByID returns a course with instructor name and upcoming sessions.
func (r *CourseRepository) FindDetailByID(ctx context.Context, id string) (*models.CourseDetail, error) {
	const query = `SELECT c.id, c.name, c.short_description, c.detailed_description, c.instructor_id,
        c.co_instructor_id, c.price_cents, c.currency, c.duration_hours, c.max_capacity, c.course_type,
        c.prerequisites, c.active, c.created_at, c.updated_at, u.full_name AS instructor_name
        FROM courses c JOIN users u ON u.id = c.instructor_id WHERE c.id = $1`
	var detail models.CourseDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	sessions, err := r.ListSessions(ctx, id, true)
	if err != nil {
		return nil, err
	}
	detail.Sessions = sessions
	return &detail, nil
}

// Create inserts a new course.
func (r *CourseRepository) Create(ctx context.Context, course *models.Course) error {
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	course.CreatedAt = now
	course.UpdatedAt = now
	const query = `INSERT INTO courses (id, name, short_description, detailed_description, instructor_id,
        co_instructor_id, price_cents, currency, duration_hours, max_capacity, course_type, prerequisites,
        active, created_at, updated_at)
        VALUES (:id, :name, :short_description, :detailed_description, :instructor_id, :co_instructor_id,
        :price_cents, :currency, :duration_hours, :max_capacity, :course_type, :prerequisites,
        :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, course); err != nil {
		return fmt.Errorf("create course: %w", err)
	}
	return nil
}

// Update updates mutable course fields.
func (r *CourseRepository) Update(ctx context.Context, course *models.Course) error {
	course.UpdatedAt = time.Now().UTC()
	const query = `UPDATE courses SET name = :name, short_description = :short_description,
        detailed_description = :detailed_description, co_instructor_id = :co_instructor_id,
        price_cents = :price_cents, currency = :currency, duration_hours = :duration_hours,
        max_capacity = :max_capacity, course_type = :course_type, prerequisites = :prerequisites,
        active = :active, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, course); err != nil {
		return fmt.Errorf("update course: %w", err)
	}
	return nil
}

// ListSessions returns sessions for a course. When upcomingOnly is set it
// filters out sessions that already started.
func (r *CourseRepository) ListSessions(ctx context.Context, courseID string, upcomingOnly bool) ([]models.CourseSession, error) {
	query := `SELECT id, course_id, start_datetime, end_datetime, location, online_link, active
        FROM course_sessions WHERE course_id = $1 AND active = TRUE`
	args := []interface{}{courseID}
	if upcomingOnly {
		query += " AND start_datetime > $2"
		args = append(args, time.Now().UTC())
	}
	query += " ORDER BY start_datetime"
	var sessions []models.CourseSession
	if err := r.db.SelectContext(ctx, &sessions, query, args...); err != nil {
		return nil, fmt.Errorf("list course sessions: %w", err)
	}
	return sessions, nil
}

// FindSessionByID returns a session by identifier.
func (r *CourseRepository) FindSessionByID(ctx context.Context, id string) (*models.CourseSession, error) {
	const query = `SELECT id, course_id, start_datetime, end_datetime, location, online_link, active
        FROM course_sessions WHERE id = $1`
	var session models.CourseSession
	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		return nil, err
	}
	return &session, nil
}

// CreateSession inserts a new course session.
func (r *CourseRepository) CreateSession(ctx context.Context, session *models.CourseSession) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	const query = `INSERT INTO course_sessions (id, course_id, start_datetime, end_datetime, location, online_link, active)
        VALUES (:id, :course_id, :start_datetime, :end_datetime, :location, :online_link, :active)`
	if _, err := r.db.NamedExecContext(ctx, query, session); err != nil {
		return fmt.Errorf("create course session: %w", err)
	}
	return nil
}

// FindPromoCode returns a promo code regardless of validity. Callers decide
// whether an inactive or expired code is an error.
func (r *CourseRepository) FindPromoCode(ctx context.Context, code string) (*models.PromoCode, error) {
	const query = `SELECT code, discount_percent, active, expires_at FROM promo_codes WHERE code = $1`
	var promo models.PromoCode
	if err := r.db.GetContext(ctx, &promo, query, code); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find promo code: %w", err)
	}
	return &promo, nil
}
