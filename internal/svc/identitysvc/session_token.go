package identitysvc

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/mkrupp/escrowgate/internal/domain"
)

// SessionIssuer is the iss claim of every session token.
const SessionIssuer = "escrow-identity"

// SessionClaims is the payload of the session cookie.
type SessionClaims struct {
	Role domain.Role `json:"role"`

	jwt.RegisteredClaims
}

// SignSession creates an RS256 session token for the user valid for ttl.
func SignSession(key *rsa.PrivateKey, user domain.User, now time.Time, ttl time.Duration) (string, SessionClaims, error) {
	jti, err := uuid.NewV7()
	if err != nil {
		return "", SessionClaims{}, fmt.Errorf("new token id: %w", err)
	}

	claims := SessionClaims{
		Role: user.Role,
		//nolint:exhaustruct
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti.String(),
			Issuer:    SessionIssuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		return "", SessionClaims{}, fmt.Errorf("sign token: %w", err)
	}

	return token, claims, nil
}

// ParseSession verifies the signature, issuer and expiry of a session token.
// Every failure wraps domain.ErrInvalidSession.
func ParseSession(tokenString string, publicKey *rsa.PublicKey, now time.Time) (SessionClaims, error) {
	var claims SessionClaims

	_, err := jwt.ParseWithClaims(tokenString, &claims,
		func(*jwt.Token) (any, error) { return publicKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(SessionIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return SessionClaims{}, errors.Join(domain.ErrInvalidSession, fmt.Errorf("parse token: %w", err))
	}

	if claims.ID == "" || claims.Subject == "" {
		return SessionClaims{}, domain.ErrInvalidSession
	}

	return claims, nil
}
