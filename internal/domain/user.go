package domain

import "time"

// Roles carried in signed tokens. The service only distinguishes staff
// from admin; anything finer-grained lives outside this system.
const (
	RoleStaff = "STAFF"
	RoleAdmin = "ADMIN"
)

type User struct {
	UserID       string `json:"id" dynamodbav:"user_id"`
	Email        string `json:"email" dynamodbav:"email"`
	Username     string `json:"username" dynamodbav:"username"`
	FullName     string `json:"fullname" dynamodbav:"fullname"`
	PasswordHash string `json:"-" dynamodbav:"password_hash"`
	Role         string `json:"role" dynamodbav:"role"`
	Verified     bool   `json:"verified" dynamodbav:"verified"`
	// RefreshToken is the user's single active session. Empty means logged
	// out. omitempty keeps logged-out users off the refresh_token GSI.
	RefreshToken string    `json:"-" dynamodbav:"refresh_token,omitempty"`
	CreatedAt    time.Time `json:"created" dynamodbav:"created_at"`
	UpdatedAt    time.Time `json:"updated" dynamodbav:"updated_at"`
}
