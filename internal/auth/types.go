package auth

import (
	"slices"

	"github.com/golang-jwt/jwt/v5"
)

// AllAccounts in a token's account list grants every account
const AllAccounts = "*"

// Claims represents the JWT claims
type Claims struct {
	// Accounts the bearer may query through account-scoped routes
	Accounts []string `json:"accounts,omitempty"`
	jwt.RegisteredClaims
}

// CanAccess reports whether the token grants account
func (c *Claims) CanAccess(account string) bool {
	return slices.Contains(c.Accounts, AllAccounts) || slices.Contains(c.Accounts, account)
}

// AuthError is an authentication failure returned to API callers
type AuthError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e AuthError) Error() string {
	return e.Message
}

// Common authentication errors
var (
	ErrInvalidToken = AuthError{Code: "INVALID_TOKEN", Message: "invalid or expired token"}
	ErrTokenExpired = AuthError{Code: "TOKEN_EXPIRED", Message: "token has expired"}
	ErrUnauthorized = AuthError{Code: "UNAUTHORIZED", Message: "unauthorized access"}
	ErrForbidden    = AuthError{Code: "FORBIDDEN", Message: "access forbidden"}
)
