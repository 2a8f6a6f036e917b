package models

import "time"

// Member represents a person within a business. Members without an email
// exist purely as assignable identities and cannot log in.
type Member struct {
	ID           int64     `json:"id"`
	BusinessID   int64     `json:"business_id"`
	DisplayName  string    `json:"display_name"`
	Email        string    `json:"email,omitempty"`
	Role         string    `json:"role"` // admin, lead, user
	PasswordHash string    `json:"-"`
	Archived     bool      `json:"archived"`
	CreatedAt    time.Time `json:"created_at"`
}

// Role constants
const (
	RoleAdmin = "admin"
	RoleLead  = "lead"
	RoleUser  = "user"
)

// Team represents a team within a business
type Team struct {
	ID         int64     `json:"id"`
	BusinessID int64     `json:"business_id"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
}

// Business is the top-level tenant scope
type Business struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// EmailSettings holds a member's digest preferences
type EmailSettings struct {
	MemberID      int64 `json:"member_id"`
	DigestEnabled bool  `json:"digest_enabled"`
	DigestHour    int   `json:"digest_hour"`
}
