package auth

import "time"

type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// User is the domain representation of a marketplace account.
// It mirrors the users table and should not include JSON annotations so it
// can be reused by different presentation layers.
type User struct {
	ID           int64
	Email        string
	FullName     string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
}

// Principal is the server-resolved identity attached to every downstream
// call. Components never accept a client-supplied user id; they take a
// Principal threaded explicitly from the token boundary.
type Principal struct {
	UserID int64
	Role   Role
}

// RegisterRequest contains account registration data supplied by callers.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Role     Role   `json:"role"`
}

// LoginRequest contains login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
