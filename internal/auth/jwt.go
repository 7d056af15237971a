// Package auth holds the storefront's identity primitives: the signed login
// cookie, password hashing, and the opaque-secret codec used by password
// resets, sessions and the social OAuth handshake.
//
// LOGIN FLOW:
//  1. POST /auth/login with username + password
//  2. PasswordService.Verify checks the bcrypt hash stored on the user row
//  3. TokenService.Generate signs a JWT whose "sub" is the user ID
//  4. The JWT goes into the HttpOnly "token" cookie
//  5. RequireAuth / OptionalAuth read the cookie on later requests and put
//     the user ID in the request context
//
// The JWT only says WHO the visitor is. Per-visitor state that changes
// between requests (basket, flash messages, OAuth verifier) lives in the
// server-side session instead; see internal/session.
//
// WHY JWT?
// A JWT is self-contained: the user ID and expiry travel inside the token,
// and the signature proves the server issued them. RequireAuth therefore
// needs no database or Redis lookup to know who is calling.
//
// JWT STRUCTURE (three base64url parts joined by dots):
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Header:    {"alg":"HS256","typ":"JWT"}
//	- Payload:   {"sub":"<user id>","iss":"storefront","iat":...,"exp":...}
//	- Signature: HMAC-SHA256(header + "." + payload, JWT_SECRET)
//
// The payload is only encoded, not encrypted. Anyone holding the cookie can
// read it, so it carries nothing but the user ID.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	issuer = "storefront"

	// DefaultTokenTTL is how long a login cookie stays valid.
	DefaultTokenTTL = 24 * time.Hour
)

// TokenService signs and verifies login tokens with an HMAC secret.
//
// The same secret signs and verifies. Changing JWT_SECRET logs every user
// out, which is also the way to revoke all outstanding tokens at once.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService creates a TokenService with the given secret.
// Use at least 32 random bytes in production: JWT_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	return &TokenService{secret: []byte(secret), ttl: DefaultTokenTTL}, nil
}

// TTL reports the lifetime of tokens issued by Generate. Handlers use it as
// the cookie Max-Age so cookie and token expire together.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// claims is the JWT payload. jwt.RegisteredClaims supplies the standard
// fields (iss, sub, exp, iat); "sub" carries the internal user ID.
type claims struct {
	jwt.RegisteredClaims
}

// Generate signs a login token for userID with the default lifetime.
//
// SIGNING ALGORITHM: HS256 (HMAC-SHA256)
//   - symmetric: one key signs and verifies
//   - fast, and enough for a single service that both issues and checks
//   - RS256 would only pay off if other services had to verify tokens
//     without being able to mint them
func (s *TokenService) Generate(userID string) (string, error) {
	return s.GenerateWithDuration(userID, s.ttl)
}

// GenerateWithDuration signs a token with a custom lifetime.
// Tests use a negative duration to produce an already-expired token.
func (s *TokenService) GenerateWithDuration(userID string, d time.Duration) (string, error) {
	if userID == "" {
		return "", errors.New("auth: cannot sign token without a subject")
	}

	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
			Issuer:    issuer,
		},
	}

	// NewWithClaims builds the unsigned token; SignedString signs it and
	// returns the complete HEADER.PAYLOAD.SIGNATURE string.
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Validate verifies a token and returns the user ID from its "sub" claim.
//
// CHECKS, in the order the parser applies them:
//  1. the header's alg is HS256 (jwt.WithValidMethods), so "alg":"none"
//     or an RSA algorithm is rejected before the key function runs
//  2. the signature matches our secret
//  3. exp is present and in the future, iss is "storefront"
//  4. sub is not empty
//
// An expired token fails with "auth: token expired"; every other failure
// is "auth: invalid token".
func (s *TokenService) Validate(tokenStr string) (string, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("auth: token expired")
		}
		return "", fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("auth: invalid token claims")
	}
	if c.Subject == "" {
		return "", fmt.Errorf("auth: token has no subject")
	}

	return c.Subject, nil
}
