package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims carry the caller identity. Roles are interpreted by internal/rbac only.
type Claims struct {
	jwt.RegisteredClaims

	UserID    string    `json:"user_id"`
	Role      string    `json:"role,omitempty"`
	TokenType TokenType `json:"token_type"`
}

func (c Claims) Identity() Identity {
	return Identity{UserID: c.UserID, Role: c.Role}
}

// check covers what registered-claim validation does not: the token kind,
// the subject, and a role on access tokens.
func (c Claims) check(expected TokenType) error {
	switch {
	case c.TokenType != expected:
		return fmt.Errorf("%w: token_type %q, want %q", ErrInvalidToken, c.TokenType, expected)
	case c.UserID == "":
		return fmt.Errorf("%w: user_id missing", ErrInvalidToken)
	case expected == TokenTypeAccess && c.Role == "":
		return fmt.Errorf("%w: role missing in access token", ErrInvalidToken)
	}
	return nil
}
