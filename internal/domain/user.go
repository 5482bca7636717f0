package domain

import "time"

// Permission is the privilege level stored with a user account.
type Permission int

const (
	PermissionMember Permission = 0
	PermissionAdmin  Permission = 1
)

// User is a persisted chat account. Accounts are created by the login
// flow; the chat core only reads and deletes them.
type User struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Permission Permission `json:"permission"`
	CreatedAt  time.Time  `json:"created_at"`
}

// IsAdmin reports whether the user may run moderation commands.
func (u *User) IsAdmin() bool {
	return u != nil && u.Permission == PermissionAdmin
}
