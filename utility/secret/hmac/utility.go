package jwthmac

import (
	"time"
)

// Claims carried by an access token.
type Claims struct {
	Subject   string
	Locale    string
	ExpiresAt time.Time
}

// Utility signs and verifies access tokens with HMAC keys addressed by key id.
type Utility interface {
	BuildHMACJWTToken(claims Claims, hmacKeyID string) (token string, err error)
	ParseHMACJWTToken(token string) (claims Claims, err error)
	Store(keyID string, secret string) (err error)
	Get(keyID string) (secret string, ok bool, err error)
}
