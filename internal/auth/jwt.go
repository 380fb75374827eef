package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"

	"studyhall/internal/attendance"
	"studyhall/internal/session"
)

// SessionToken is handed to the admin when the badge opens a session.
type SessionToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Claims represents JWT payload. The registered jti carries the admin
// session id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

const adminRole = "admin"

// Issue signs a token bound to sessionID.
func Issue(sessionID, issuer, key string, ttl time.Duration, now time.Time) (SessionToken, error) {
	if sessionID == "" {
		return SessionToken{}, errors.New("session id required")
	}
	exp := now.Add(ttl)
	claims := Claims{
		Role: adminRole,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sessionID,
			Issuer:    issuer,
			Subject:   adminRole,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		return SessionToken{}, err
	}
	return SessionToken{Token: signed, ExpiresAt: exp}, nil
}

// Parse validates a token and returns claims. Expiry is checked against
// now; a nil now uses the wall clock.
func Parse(tokenStr, key, issuer string, now func() time.Time) (Claims, error) {
	var opts []jwt.ParserOption
	if now != nil {
		opts = append(opts, jwt.WithTimeFunc(now))
	}
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(key), nil
	}, opts...)
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	if issuer != "" && claims.Issuer != issuer {
		return Claims{}, errors.New("issuer mismatch")
	}
	if claims.Role != adminRole || claims.ID == "" {
		return Claims{}, errors.New("not an admin session token")
	}
	return *claims, nil
}

// SessionAuthorizer checks admin tokens against the live session. A valid
// signature is not enough: the token's session must still be open.
type SessionAuthorizer struct {
	Session *session.Session
	Key     string
	Issuer  string
	Clock   clockwork.Clock
}

// Authorize implements attendance.Authorizer.
func (a SessionAuthorizer) Authorize(token string) error {
	if a.Session == nil {
		return attendance.ErrUnauthorized
	}
	var now func() time.Time
	if a.Clock != nil {
		now = a.Clock.Now
	}
	claims, err := Parse(token, a.Key, a.Issuer, now)
	if err != nil {
		return fmt.Errorf("%w: %v", attendance.ErrUnauthorized, err)
	}
	return a.Session.Authorize(claims.ID)
}
