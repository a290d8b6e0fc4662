package models

import (
	"encoding/json"
	"time"
)

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleEmployee   UserRole = "EMPLOYEE"
	RoleSupervisor UserRole = "SUPERVISOR"
	RoleManager    UserRole = "MANAGER"
	RoleHR         UserRole = "HR"
)

// ManagerialRole reports whether the role carries departmental approval
// authority (Supervisor or above).
func (r UserRole) ManagerialRole() bool {
	return r == RoleSupervisor || r == RoleManager
}

// User represents an employee account stored in the users table.
type User struct {
	ID            string          `db:"id" json:"id"`
	Email         string          `db:"email" json:"email"`
	PasswordHash  string          `db:"password_hash" json:"-"`
	FullName      string          `db:"full_name" json:"full_name"`
	Role          UserRole        `db:"role" json:"role"`
	Department    string          `db:"department" json:"department"`
	JobTitle      string          `db:"job_title" json:"job_title"`
	LeaveBalances json.RawMessage `db:"leave_balances" json:"leave_balances,omitempty"`
	Active        bool            `db:"active" json:"active"`
	LastLogin     *time.Time      `db:"last_login" json:"last_login,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// Actor is the identified, role-bearing party attempting an operation.
// Every core operation takes the actor explicitly; no ambient session state
// holds identity.
type Actor struct {
	ID         string   `json:"id"`
	Role       UserRole `json:"role"`
	Department string   `json:"department"`
	FullName   string   `json:"full_name"`
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role       *UserRole
	Department string
	Active     *bool
	Search     string
	Page       int
	PageSize   int
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
