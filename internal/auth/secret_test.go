package auth

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var urlSafe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func TestNewSecret(t *testing.T) {
	a, err := NewSecret()
	require.NoError(t, err)
	b, err := NewSecret()
	require.NoError(t, err)

	assert.Len(t, a, 43)
	assert.Regexp(t, urlSafe, a)
	assert.NotEqual(t, a, b)
}

func TestHashSecret(t *testing.T) {
	h := HashSecret("raw-token")

	assert.Len(t, h, HashedSecretLen)
	assert.Equal(t, h, HashSecret("raw-token"), "digest must be deterministic")
	assert.NotEqual(t, h, HashSecret("raw-tokeN"))
	// sha256("") is a well-known constant.
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", HashSecret(""))
}

func TestSecretsEqual(t *testing.T) {
	assert.True(t, SecretsEqual("abc", "abc"))
	assert.False(t, SecretsEqual("abc", "abd"))
	assert.False(t, SecretsEqual("abc", "abcd"))
	assert.False(t, SecretsEqual("", ""))
	assert.False(t, SecretsEqual("abc", ""))
}

func TestPKCE(t *testing.T) {
	v := NewVerifier()

	assert.Len(t, v, 43)
	assert.Regexp(t, urlSafe, v)
	assert.Equal(t, ChallengeS256(v), ChallengeS256(v), "challenge must be deterministic")
	assert.NotEqual(t, ChallengeS256(v), ChallengeS256(NewVerifier()))
}

func TestChallengeS256_RFC7636Vector(t *testing.T) {
	// Appendix B of RFC 7636.
	got := ChallengeS256("dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk")
	assert.Equal(t, "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM", got)
}
