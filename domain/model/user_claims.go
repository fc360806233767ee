package model

import "github.com/golang-jwt/jwt"

const RoleAdmin = "admin"

// UserClaims is the JWT payload issued to submitters and admins.
type UserClaims struct {
	UserName string `json:"user_name,omitempty"`
	Role     string `json:"role,omitempty"`
	jwt.StandardClaims
}

// UserID prefers the subject and falls back to the issuer used by older tokens.
func (c UserClaims) UserID() string {
	if c.Subject != "" {
		return c.Subject
	}
	return c.Issuer
}
