package session

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/desain-gratis/realtime/repository/principal"
	jwthmac "github.com/desain-gratis/realtime/utility/secret/hmac"
)

const (
	LocaleParam = "locale"
	TokenParam  = "access_token"
)

// TokenAuthenticator resolves the access token of an upgrade request into a Context.
// Missing or invalid tokens resolve to a guest, so the connection still gets public channels.
type TokenAuthenticator struct {
	keys  jwthmac.Utility
	repo  principal.Repository
	keyID string
}

func NewTokenAuthenticator(keys jwthmac.Utility, repo principal.Repository, keyID string) *TokenAuthenticator {
	return &TokenAuthenticator{
		keys:  keys,
		repo:  repo,
		keyID: keyID,
	}
}

func (a *TokenAuthenticator) Authenticate(r *http.Request) *Context {
	locale := r.URL.Query().Get(LocaleParam)

	token := BearerToken(r)
	if token == "" {
		return Guest(locale)
	}

	claims, err := a.keys.ParseHMACJWTToken(token)
	if err != nil {
		log.Debug().Err(err).Msgf("invalid access token, continuing as guest")
		return Guest(locale)
	}

	if locale == "" {
		locale = claims.Locale
	}

	c := User(a.repo, claims.Subject, locale)
	if err := c.Update(r.Context()); err != nil {
		log.Err(err).Msgf("failed to load principal %v, continuing as guest", claims.Subject)
		return Guest(locale)
	}

	return c
}

// Sign issues an access token for userID.
func (a *TokenAuthenticator) Sign(ctx context.Context, userID, locale string, ttl time.Duration) (string, error) {
	return a.keys.BuildHMACJWTToken(jwthmac.Claims{
		Subject:   userID,
		Locale:    locale,
		ExpiresAt: time.Now().Add(ttl),
	}, a.keyID)
}

// BearerToken reads the Authorization header, then the access_token query parameter.
// Browsers cannot set headers on a websocket upgrade.
func BearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get(TokenParam)
}
