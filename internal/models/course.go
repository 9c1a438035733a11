package models

import "time"

// CourseType distinguishes delivery formats.
type CourseType string

// Supported course types.
const (
	CourseTypeOnline   CourseType = "online"
	CourseTypeInPerson CourseType = "in_person"
	CourseTypeHybrid   CourseType = "hybrid"
)

// Course is a sellable training course taught by an instructor.
type Course struct {
	ID                  string     `db:"id" json:"id"`
	Name                string     `db:"name" json:"name"`
	ShortDescription    string     `db:"short_description" json:"short_description"`
	DetailedDescription string     `db:"detailed_description" json:"detailed_description"`
	InstructorID        string     `db:"instructor_id" json:"instructor_id"`
	CoInstructorID      *string    `db:"co_instructor_id" json:"co_instructor_id,omitempty"`
	PriceCents          int64      `db:"price_cents" json:"price_cents"`
	Currency            string     `db:"currency" json:"currency"`
	DurationHours       int        `db:"duration_hours" json:"duration_hours"`
	MaxCapacity         int        `db:"max_capacity" json:"max_capacity"`
	CourseType          CourseType `db:"course_type" json:"course_type"`
	Prerequisites       string     `db:"prerequisites" json:"prerequisites,omitempty"`
	Active              bool       `db:"active" json:"active"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
}

// TaughtBy reports whether the given user teaches this course.
func (c *Course) TaughtBy(userID string) bool {
	if c.InstructorID == userID {
		return true
	}
	return c.CoInstructorID != nil && *c.CoInstructorID == userID
}

// CourseSession is a scheduled time/location instance of a course.
type CourseSession struct {
	ID            string    `db:"id" json:"id"`
	CourseID      string    `db:"course_id" json:"course_id"`
	StartDatetime time.Time `db:"start_datetime" json:"start_datetime"`
	EndDatetime   time.Time `db:"end_datetime" json:"end_datetime"`
	Location      string    `db:"location" json:"location,omitempty"`
	OnlineLink    string    `db:"online_link" json:"online_link,omitempty"`
	Active        bool      `db:"active" json:"active"`
}

// CourseDetail enriches Course with instructor names and upcoming sessions.
type CourseDetail struct {
	Course
	InstructorName string          `db:"instructor_name" json:"instructor_name"`
	Sessions       []CourseSession `db:"-" json:"sessions,omitempty"`
}

// CourseFilter provides filters for catalog listing.
type CourseFilter struct {
	Type      CourseType
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// PromoCode grants a percentage discount at registration time.
type PromoCode struct {
	Code            string     `db:"code" json:"code"`
	DiscountPercent int        `db:"discount_percent" json:"discount_percent"`
	Active          bool       `db:"active" json:"active"`
	ExpiresAt       *time.Time `db:"expires_at" json:"expires_at,omitempty"`
}
