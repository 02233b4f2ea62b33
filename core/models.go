package core

import "time"

// Course as served by GET /api/courses.
type Course struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CourseInput is the create/update payload. Nil fields are left untouched on update.
type CourseInput struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// Group as served by GET /api/groups.
type Group struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// GroupDetail adds the member usernames returned by GET /api/groups/{id}.
type GroupDetail struct {
	Group
	Members []string `json:"members"`
}

type GroupInput struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// UserInput is the admin create-user payload.
type UserInput struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name,omitempty"`
	Role        Role   `json:"role,omitempty"`
}

// ProgressEntry is the current user's progress in one course.
type ProgressEntry struct {
	CourseID         int64  `json:"course_id"`
	CourseName       string `json:"course_name"`
	CompletedLessons int    `json:"completed_lessons"`
	TotalLessons     int    `json:"total_lessons"`
}

// Percent is the completion ratio rounded down, 0 when the course has no lessons.
func (p ProgressEntry) Percent() int {
	if p.TotalLessons <= 0 {
		return 0
	}
	done := p.CompletedLessons
	if done > p.TotalLessons {
		done = p.TotalLessons
	}
	return done * 100 / p.TotalLessons
}

func strPtr(s string) *string {
	return &s
}
