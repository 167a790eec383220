package models

import "github.com/golang-jwt/jwt/v5"

// JWTClaims represents the JWT payload for admin access tokens.
type JWTClaims struct {
	AdminID  string `json:"adminId"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Actor identifies who triggered a workflow operation.
type Actor struct {
	AdminID   string
	Username  string
	IP        string
	UserAgent string
}
