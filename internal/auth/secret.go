package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/oauth2"
)

// secretBytes is the entropy of every opaque secret: 256 bits.
const secretBytes = 32

// HashedSecretLen is the length of HashSecret's output (hex SHA-256).
const HashedSecretLen = sha256.Size * 2

// NewSecret returns a fresh URL-safe random secret (43 characters).
//
// Used for password-reset tokens, OAuth "state" values and session IDs.
// The raw value is handed to the visitor exactly once (an email link, a
// redirect URL, a cookie); anything that must be stored goes through
// HashSecret first.
func NewSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("auth: reading random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashSecret returns the hex SHA-256 digest of raw.
//
// A plain (unsalted, fast) digest is enough here: the input already carries
// 256 bits of entropy, so there is nothing to brute-force, and the digest has
// to be deterministic so the row can be found with an equality lookup.
func HashSecret(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// SecretsEqual compares two secrets in constant time.
// Empty values never match, so a missing session value can't equal a
// missing query parameter.
func SecretsEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// NewVerifier returns a PKCE code verifier (RFC 7636, 43 characters).
func NewVerifier() string {
	return oauth2.GenerateVerifier()
}

// ChallengeS256 derives the PKCE S256 code challenge from a verifier:
// BASE64URL(SHA256(verifier)). The same verifier always yields the same challenge.
func ChallengeS256(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}
