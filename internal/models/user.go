package models

import "time"

// UserRole is the RBAC role carried on accounts and session claims.
type UserRole string

const (
	RoleSuperAdmin UserRole = "SUPERADMIN"
	RoleAdmin      UserRole = "ADMIN"
	RoleStudent    UserRole = "STUDENT"
)

// Elevated reports whether the role may act on resources it does not own.
func (r UserRole) Elevated() bool {
	return r == RoleSuperAdmin
}

// Staff reports whether the role belongs to transport staff rather than a student.
func (r UserRole) Staff() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// User is a row of the users table. Student accounts link to their student record through
// StudentID; staff accounts leave it nil.
type User struct {
	ID           string     `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	FullName     string     `db:"full_name" json:"full_name"`
	Role         UserRole   `db:"role" json:"role"`
	StudentID    *string    `db:"student_id" json:"student_id,omitempty"`
	Active       bool       `db:"active" json:"active"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// Pagination is the list metadata placed in the response envelope.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
	TotalPages int `json:"total_pages"`
}

// NewPagination derives TotalPages from the page size. A non-positive size yields one page.
func NewPagination(page, pageSize, total int) *Pagination {
	pages := 1
	if pageSize > 0 {
		pages = (total + pageSize - 1) / pageSize
		if pages == 0 {
			pages = 1
		}
	}
	return &Pagination{Page: page, PageSize: pageSize, TotalCount: total, TotalPages: pages}
}
