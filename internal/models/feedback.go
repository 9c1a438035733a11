package models

import "time"

// Feedback is a student's review of a completed course session.
// Published reviews are visible in the public catalog; unpublished ones
// are visible only to their author and to staff.
type Feedback struct {
	ID                string     `db:"id" json:"id"`
	EnrollmentID      string     `db:"enrollment_id" json:"enrollment_id"`
	StudentID         string     `db:"student_id" json:"student_id"`
	CourseID          string     `db:"course_id" json:"course_id"`
	OverallRating     int        `db:"overall_rating" json:"overall_rating"`
	ContentRating     int        `db:"content_rating" json:"content_rating"`
	InstructorRating  int        `db:"instructor_rating" json:"instructor_rating"`
	VenueRating       int        `db:"venue_rating" json:"venue_rating"`
	OverallExperience string     `db:"overall_experience" json:"overall_experience"`
	KeyTakeaways      string     `db:"key_takeaways" json:"key_takeaways,omitempty"`
	Improvements      string     `db:"improvements" json:"improvements,omitempty"`
	WouldRecommend    bool       `db:"would_recommend" json:"would_recommend"`
	AllowTestimonial  bool       `db:"allow_testimonial" json:"allow_testimonial"`
	IsApproved        bool       `db:"is_approved" json:"is_approved"`
	ApprovedBy        *string    `db:"approved_by" json:"approved_by,omitempty"`
	ReviewDate        *time.Time `db:"review_date" json:"review_date,omitempty"`
	ReviewComments    *string    `db:"review_comments" json:"review_comments,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// FeedbackDetail enriches Feedback with student and course names.
type FeedbackDetail struct {
	Feedback
	StudentName  string `db:"student_name" json:"student_name"`
	StudentEmail string `db:"student_email" json:"-"`
	CourseName   string `db:"course_name" json:"course_name"`
}

// FeedbackFilter provides filters for listing feedback.
type FeedbackFilter struct {
	CourseID  string
	StudentID string
	Approved  *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
