package domain

import "time"

// Permission represents a single named capability, identified by ID and
// addressable by its (resource, action) pair.
type Permission struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Resource    string `json:"resource"`
	Action      string `json:"action"`
	Description string `json:"description,omitempty"`
}

// Role is a named set of permissions with a numeric level used for coarse
// seniority gating. System roles cannot be mutated or deleted.
type Role struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Description   string   `json:"description,omitempty"`
	PermissionIDs []string `json:"permissions"`
	Level         int      `json:"level"`
	IsSystem      bool     `json:"is_system"`
}

// UserStatus is the lifecycle state of a user account.
type UserStatus string

const (
	UserActive    UserStatus = "active"
	UserInactive  UserStatus = "inactive"
	UserSuspended UserStatus = "suspended"
)

// ValidUserStatus reports whether s is a known status value.
func ValidUserStatus(s UserStatus) bool {
	switch s {
	case UserActive, UserInactive, UserSuspended:
		return true
	}
	return false
}

// User is a principal that can open sessions. Only active users may log in.
type User struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	RoleIDs     []string   `json:"roles"`
	Status      UserStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// Session is the resolved authorization context for a logged-in caller.
// Roles and permissions are frozen at creation time: mutating the role
// catalog afterwards does not change existing sessions.
type Session struct {
	ID          string       `json:"id"`
	User        User         `json:"user"`
	Roles       []Role       `json:"roles"`
	Permissions []Permission `json:"permissions"`
	CreatedAt   time.Time    `json:"created_at"`
	ExpiresAt   time.Time    `json:"expires_at,omitempty"` // zero = never
}

// Expired reports whether the session has passed its expiry.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}
