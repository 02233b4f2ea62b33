package devapi

import "time"

const (
	RoleUser    = "user"
	RoleManager = "manager"
	RoleAdmin   = "admin"
)

var roleRanks = map[string]int{
	RoleUser:    1,
	RoleManager: 2,
	RoleAdmin:   3,
}

// atLeast reports whether role meets min.
func atLeast(role, min string) bool {
	have, ok := roleRanks[role]
	return ok && have >= roleRanks[min]
}

// User is a stored account. The hash never leaves the process.
type User struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	DisplayName  string `json:"display_name,omitempty"`
	Role         string `json:"role"`
	IsActive     bool   `json:"is_active"`
	PasswordHash string `json:"-"`
}

type Course struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	lessons int
}

type Group struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// GroupDetail is a group with its member usernames.
type GroupDetail struct {
	Group
	Members []string `json:"members"`
}

type ProgressEntry struct {
	CourseID         int64  `json:"course_id"`
	CourseName       string `json:"course_name"`
	CompletedLessons int    `json:"completed_lessons"`
	TotalLessons     int    `json:"total_lessons"`
}
