package auth

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func newTestPasswordService() *PasswordService {
	return newPasswordServiceWithCost(bcrypt.MinCost)
}

func TestHash_OutputLooksBcrypt(t *testing.T) {
	ps := newTestPasswordService()

	hash, err := ps.Hash("password123")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if !strings.HasPrefix(hash, "$2") {
		t.Errorf("Hash() does not look like a bcrypt hash: %q", hash)
	}
}

func TestHash_SaltIsRandom(t *testing.T) {
	ps := newTestPasswordService()

	hash1, _ := ps.Hash("same-password")
	hash2, _ := ps.Hash("same-password")

	if hash1 == hash2 {
		t.Error("Hash() produced identical hashes for the same password")
	}
}

func TestHash_LengthLimit(t *testing.T) {
	ps := newTestPasswordService()

	if _, err := ps.Hash(strings.Repeat("a", MaxPasswordBytes)); err != nil {
		t.Fatalf("Hash() should accept a %d-byte password, got %v", MaxPasswordBytes, err)
	}

	_, err := ps.Hash(strings.Repeat("a", MaxPasswordBytes+1))
	if !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("Hash() error = %v, want ErrPasswordTooLong", err)
	}
}

func TestVerify(t *testing.T) {
	ps := newTestPasswordService()
	hash, err := ps.Hash("correct-horse-battery-staple")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}

	if err := ps.Verify(hash, "correct-horse-battery-staple"); err != nil {
		t.Errorf("Verify() correct password: %v", err)
	}
	if err := ps.Verify(hash, "wrong"); !errors.Is(err, ErrPasswordMismatch) {
		t.Errorf("Verify() wrong password = %v, want ErrPasswordMismatch", err)
	}
	if err := ps.Verify(hash, ""); !errors.Is(err, ErrPasswordMismatch) {
		t.Errorf("Verify() empty password = %v, want ErrPasswordMismatch", err)
	}
}

func TestVerify_GarbageHash(t *testing.T) {
	ps := newTestPasswordService()

	err := ps.Verify("not-a-valid-bcrypt-hash", "password")
	if err == nil {
		t.Fatal("Verify() should fail for a garbage hash")
	}
	if errors.Is(err, ErrPasswordMismatch) {
		t.Error("a corrupt hash must not be reported as a plain mismatch")
	}
}

func TestHashVerify_RoundTrip(t *testing.T) {
	ps := newTestPasswordService()

	for _, pw := range []string{"hello123", "p@$$w0rd!#%", "пароль-密码", "  padded  "} {
		t.Run(pw, func(t *testing.T) {
			hash, err := ps.Hash(pw)
			if err != nil {
				t.Fatalf("Hash(%q) error = %v", pw, err)
			}
			if err := ps.Verify(hash, pw); err != nil {
				t.Errorf("Verify() failed for %q: %v", pw, err)
			}
		})
	}
}

func TestHash_FormatEmbedsCost(t *testing.T) {
	hash, err := newTestPasswordService().Hash("password123")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	// $2a$04$ + 22-char salt + 31-char hash
	if len(hash) != 60 || !strings.HasPrefix(hash, "$2a$04$") {
		t.Errorf("Hash() = %q, want $2a$04$ and 60 chars", hash)
	}
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil || cost != bcrypt.MinCost {
		t.Errorf("bcrypt.Cost() = %d, %v", cost, err)
	}
	if NewPasswordService().cost != 12 {
		t.Errorf("production cost = %d, want 12", NewPasswordService().cost)
	}
}
