package models

import "github.com/golang-jwt/jwt/v5"

// UserRole enumerates the caller roles the API distinguishes.
type UserRole string

const (
	RoleAdmin   UserRole = "ADMIN"
	RoleTutor   UserRole = "TUTOR"
	RoleStudent UserRole = "STUDENT"
)

// JWTClaims is the token payload identifying the caller. Handlers pass the
// identity on to services as explicit parameters; nothing below the handler
// layer reads ambient auth state.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	FullName string   `json:"full_name"`
	jwt.RegisteredClaims
}
