package auth

import (
	"time"
)

// Token is the result of an authorization-code exchange.
type Token struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	IDToken      string
	// Claims is set when the id_token was verified.
	Claims *Claims
}

// Claims are the identity claims of a verified id_token.
type Claims struct {
	Subject  string `json:"sub"`
	Name     string `json:"name"`
	Username string `json:"preferred_username"`
	Email    string `json:"email"`
	TenantID string `json:"tid"`
}
