package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims are the only supported JWT claims shape for this service.
// Admin tokens carry an admin role; OTP logins issue customer tokens whose
// Phone is the verified channel.
type Claims struct {
	jwt.RegisteredClaims

	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	Phone     string    `json:"phone,omitempty"`
	TokenType TokenType `json:"token_type"`
}
