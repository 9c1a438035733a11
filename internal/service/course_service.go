package service

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ultima-training/ultima-api/internal/models"
	appErrors "github.com/ultima-training/ultima-api/pkg/errors"
)

type courseRepository interface {
	List(ctx context.Context, filter models.CourseFilter) ([]models.CourseDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Course, error)
	FindDetailByID(ctx context.Context, id string) (*models.CourseDetail, error)
	Create(ctx context.Context, course *models.Course) error
	Update(ctx context.Context, course *models.Course) error
	ListSessions(ctx context.Context, courseID string, upcomingOnly bool) ([]models.CourseSession, error)
	CreateSession(ctx context.Context, session *models.CourseSession) error
}

type ratingsReader interface {
	AverageRatings(ctx context.Context, courseID string) (map[string]float64, error)
}

// CreateCourseRequest describes a course creation payload.
type CreateCourseRequest struct {
	Name                string            `json:"name" validate:"required,min=3"`
	ShortDescription    string            `json:"short_description" validate:"required"`
	DetailedDescription string            `json:"detailed_description"`
	InstructorID        string            `json:"instructor_id" validate:"required"`
	CoInstructorID      *string           `json:"co_instructor_id"`
	PriceCents          int64             `json:"price_cents" validate:"gte=0"`
	Currency            string            `json:"currency" validate:"required,len=3"`
	DurationHours       int               `json:"duration_hours" validate:"gt=0"`
	MaxCapacity         int               `json:"max_capacity" validate:"gte=0"`
	CourseType          models.CourseType `json:"course_type" validate:"required,oneof=online in_person hybrid"`
	Prerequisites       string            `json:"prerequisites"`
}

// CourseCatalogEntry is a catalog item with published rating averages.
type CourseCatalogEntry struct {
	models.CourseDetail
	Ratings map[string]float64 `json:"ratings,omitempty"`
}

// CourseService serves the public catalog and staff course management.
// Catalog reads go through the cache; staff writes invalidate it.
type CourseService struct {
	repo      courseRepository
	ratings   ratingsReader
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCourseService constructs CourseService.
func NewCourseService(repo courseRepository, ratings ratingsReader, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *CourseService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CourseService{repo: repo, ratings: ratings, cache: cache, validator: validate, logger: logger}
}

const courseCachePrefix = "catalog:courses"

// List returns the active course catalog with pagination metadata.
func (s *CourseService) List(ctx context.Context, filter models.CourseFilter) ([]models.CourseDetail, *models.Pagination, error) {
	type cached struct {
		Courses    []models.CourseDetail `json:"courses"`
		Pagination *models.Pagination    `json:"pagination"`
	}
	key := fmt.Sprintf("%s:%s:%s:%d:%d:%s:%s", courseCachePrefix,
		filter.Type, filter.Search, filter.Page, filter.PageSize, filter.SortBy, filter.SortOrder)

	var hit cached
	if ok, _ := s.cache.Get(ctx, key, &hit); ok {
		return hit.Courses, hit.Pagination, nil
	}

	courses, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}

	_ = s.cache.Set(ctx, key, cached{Courses: courses, Pagination: pagination}, 0)
	return courses, pagination, nil
}

// Get returns a course with upcoming sessions and published ratings.
func (s *CourseService) Get(ctx context.Context, id string) (*CourseCatalogEntry, error) {
	key := fmt.Sprintf("%s:detail:%s", courseCachePrefix, id)
	var hit CourseCatalogEntry
	if ok, _ := s.cache.Get(ctx, key, &hit); ok {
		return &hit, nil
	}

	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	entry := &CourseCatalogEntry{CourseDetail: *detail}
	if s.ratings != nil {
		ratings, err := s.ratings.AverageRatings(ctx, id)
		if err != nil {
			s.logger.Warn("failed to load course ratings", zap.String("course_id", id), zap.Error(err))
		} else {
			entry.Ratings = ratings
		}
	}

	_ = s.cache.Set(ctx, key, entry, 0)
	return entry, nil
}

// Create registers a new course and invalidates the catalog cache.
func (s *CourseService) Create(ctx context.Context, req CreateCourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	course := &models.Course{
		Name:                req.Name,
		ShortDescription:    req.ShortDescription,
		DetailedDescription: req.DetailedDescription,
		InstructorID:        req.InstructorID,
		CoInstructorID:      req.CoInstructorID,
		PriceCents:          req.PriceCents,
		Currency:            req.Currency,
		DurationHours:       req.DurationHours,
		MaxCapacity:         req.MaxCapacity,
		CourseType:          req.CourseType,
		Prerequisites:       req.Prerequisites,
		Active:              true,
	}
	if err := s.repo.Create(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course")
	}
	_ = s.cache.Invalidate(ctx, courseCachePrefix+"*")
	return course, nil
}

// Update applies staff edits to a course and invalidates the catalog cache.
func (s *CourseService) Update(ctx context.Context, id string, req CreateCourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	course.Name = req.Name
	course.ShortDescription = req.ShortDescription
	course.DetailedDescription = req.DetailedDescription
	course.CoInstructorID = req.CoInstructorID
	course.PriceCents = req.PriceCents
	course.Currency = req.Currency
	course.DurationHours = req.DurationHours
	course.MaxCapacity = req.MaxCapacity
	course.CourseType = req.CourseType
	course.Prerequisites = req.Prerequisites

	if err := s.repo.Update(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update course")
	}
	_ = s.cache.Invalidate(ctx, courseCachePrefix+"*")
	return course, nil
}

// AddSession schedules a new session for a course.
func (s *CourseService) AddSession(ctx context.Context, courseID string, session *models.CourseSession) (*models.CourseSession, error) {
	if _, err := s.repo.FindByID(ctx, courseID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if !session.EndDatetime.After(session.StartDatetime) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "session must end after it starts")
	}
	session.CourseID = courseID
	session.Active = true
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create session")
	}
	_ = s.cache.Invalidate(ctx, courseCachePrefix+"*")
	return session, nil
}
