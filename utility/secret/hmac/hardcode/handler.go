package hardcode

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt"

	jwthmac "github.com/desain-gratis/realtime/utility/secret/hmac"
)

var (
	ErrInvalidSigningMethod  = errors.New("invalid signing method")
	ErrKeyIdentifierNotFound = errors.New("key identifier not found")
	ErrInvalidToken          = errors.New("invalid token")
	ErrMissingSubject        = errors.New("missing subject")
)

const (
	ISS        = "realtime"
	KID_HEADER = "kid"
)

var _ jwthmac.Utility = &defaultHandler{}

type CustomClaim struct {
	jwt.StandardClaims
	Locale string `json:"locale,omitempty"`
}

type defaultHandler struct {
	keyLock  *sync.Mutex
	hmacKeys map[string][]byte
}

func New() *defaultHandler {
	return &defaultHandler{
		keyLock:  &sync.Mutex{},
		hmacKeys: make(map[string][]byte),
	}
}

func (d *defaultHandler) Store(keyID string, secret string) (err error) {
	d.keyLock.Lock()
	defer d.keyLock.Unlock()

	d.hmacKeys[keyID] = []byte(secret)

	return nil
}

func (d *defaultHandler) Get(keyID string) (secret string, ok bool, err error) {
	d.keyLock.Lock()
	defer d.keyLock.Unlock()

	_secret, ok := d.hmacKeys[keyID]
	return string(_secret), ok, nil
}

func (d *defaultHandler) key(keyID string) ([]byte, bool) {
	d.keyLock.Lock()
	defer d.keyLock.Unlock()

	k, ok := d.hmacKeys[keyID]
	return k, ok
}

func (d *defaultHandler) BuildHMACJWTToken(claims jwthmac.Claims, hmacKeyID string) (token string, err error) {
	if claims.Subject == "" {
		return "", ErrMissingSubject
	}

	signingKey, ok := d.key(hmacKeyID)
	if !ok {
		return "", ErrKeyIdentifierNotFound
	}

	_token := jwt.NewWithClaims(jwt.SigningMethodHS512, CustomClaim{
		StandardClaims: jwt.StandardClaims{
			Subject:   claims.Subject,
			ExpiresAt: claims.ExpiresAt.Unix(),
			IssuedAt:  time.Now().Unix(),
			Issuer:    ISS,
		},
		Locale: claims.Locale,
	})
	_token.Header[KID_HEADER] = hmacKeyID

	return _token.SignedString(signingKey)
}

// https://pkg.go.dev/github.com/golang-jwt/jwt#example-Parse-Hmac
func (d *defaultHandler) ParseHMACJWTToken(token string) (claims jwthmac.Claims, err error) {
	var custom CustomClaim
	parsed, err := jwt.ParseWithClaims(token, &custom, func(parsed *jwt.Token) (interface{}, error) {
		if _, ok := parsed.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidSigningMethod
		}

		keyID, ok := parsed.Header[KID_HEADER].(string)
		if !ok {
			return nil, ErrKeyIdentifierNotFound
		}
		secret, ok := d.key(keyID)
		if !ok {
			return nil, ErrKeyIdentifierNotFound
		}

		return secret, nil
	})
	if err != nil {
		return jwthmac.Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return jwthmac.Claims{}, ErrInvalidToken
	}
	if custom.Subject == "" {
		return jwthmac.Claims{}, ErrMissingSubject
	}

	return jwthmac.Claims{
		Subject:   custom.Subject,
		Locale:    custom.Locale,
		ExpiresAt: time.Unix(custom.ExpiresAt, 0),
	}, nil
}
