package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
)

const (
	userIdClaim = "user-id"
	expClaim    = "exp"
)

// ErrAuthenticationRejected is returned for a missing, malformed or expired credential.
var ErrAuthenticationRejected = errors.New("authentication rejected")

// TokenAuthority issues and verifies the HS256 session tokens handed to
// browsers as a cookie and presented again when a socket is opened.
type TokenAuthority struct {
	signingKey []byte
	expiration time.Duration
}

func NewTokenAuthority(signingKey []byte, expiration time.Duration) *TokenAuthority {
	return &TokenAuthority{
		signingKey: signingKey,
		expiration: expiration,
	}
}

func (ta *TokenAuthority) Expiration() time.Duration {
	return ta.expiration
}

func (ta *TokenAuthority) Issue(userId int) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		userIdClaim: userId,
		expClaim:    time.Now().Add(ta.expiration).Unix(),
	})

	return token.SignedString(ta.signingKey)
}

// Verify returns the user id carried by a valid token.
func (ta *TokenAuthority) Verify(credential string) (int, error) {
	if credential == "" {
		return 0, fmt.Errorf("%w: empty credential", ErrAuthenticationRejected)
	}

	token, err := jwt.Parse(credential, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return ta.signingKey, nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: parse token: %v", ErrAuthenticationRejected, err)
	}

	if !token.Valid {
		return 0, fmt.Errorf("%w: invalid token", ErrAuthenticationRejected)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, fmt.Errorf("%w: invalid token claims", ErrAuthenticationRejected)
	}

	userId, ok := claims[userIdClaim].(float64)
	if !ok {
		return 0, fmt.Errorf("%w: invalid user id claim", ErrAuthenticationRejected)
	}

	return int(userId), nil
}
