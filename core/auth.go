package core

import (
	"errors"
	"fmt"
	"strings"
)

// Role is the coarse permission level the backend assigns to a user.
type Role string

const (
	RoleNone    Role = ""
	RoleUser    Role = "user"
	RoleManager Role = "manager"
	RoleAdmin   Role = "admin"
)

var roleRanks = map[Role]int{
	RoleUser:    1,
	RoleManager: 2,
	RoleAdmin:   3,
}

// ParseRole normalizes s into a known Role. The empty string maps to RoleNone.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if r == RoleNone {
		return RoleNone, nil
	}
	if _, ok := roleRanks[r]; !ok {
		return RoleNone, fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Meets reports whether r matches or exceeds required.
// Any role, known or not, meets RoleNone; unknown roles meet nothing else.
func (r Role) Meets(required Role) bool {
	if required == RoleNone {
		return true
	}
	have, ok := roleRanks[r]
	if !ok {
		return false
	}
	return have >= roleRanks[required]
}

// User represents an authenticated principal as returned by the backend.
type User struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
	Role        Role   `json:"role"`
	IsActive    bool   `json:"is_active"`
}

// Name is what the shell shows for the user.
func (u User) Name() string {
	if strings.TrimSpace(u.DisplayName) != "" {
		return u.DisplayName
	}
	return u.Username
}

func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

var (
	// ErrInvalidCredentials is returned when username/password is wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")
)
