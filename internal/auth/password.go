package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// defaultCost is the bcrypt work factor used in production.
//
// Every +1 doubles the work: cost 12 means 2^12 key-expansion rounds, about
// 250ms on a current server core.
//
// COST TUNING RULE OF THUMB:
// Pick the highest cost that keeps one hash around 200-300ms on production
// hardware. Lower makes offline cracking cheap. Higher makes login sluggish,
// and a burst of logins then spends the whole CPU budget inside bcrypt.
const defaultCost = 12

// MaxPasswordBytes is bcrypt's input limit. Longer inputs would be silently
// truncated by the algorithm, so Hash rejects them instead.
const MaxPasswordBytes = 72

var (
	// ErrPasswordTooLong is returned by Hash for inputs over MaxPasswordBytes.
	ErrPasswordTooLong = errors.New("auth: password must be 72 bytes or fewer")

	// ErrPasswordMismatch is returned by Verify when the password is wrong.
	ErrPasswordMismatch = errors.New("auth: invalid password")
)

// PasswordService hashes and verifies account passwords with bcrypt.
//
// WHY BCRYPT?
// bcrypt is deliberately slow. A login pays ~250ms once; an attacker with a
// stolen users table pays it for every guess against every row. Fast hashes
// (MD5, SHA-256) fall to GPU rigs in minutes.
//
// bcrypt also takes care of salting on its own:
//   - a fresh random salt per hash, so equal passwords hash differently
//   - the salt is stored inside the output, so there is no salt column
//   - the cost is stored too, so old hashes keep verifying after a bump
//
// HASH FORMAT (the whole string goes into users.password_hash):
//
//	$2a$12$<22-char salt><31-char hash>
//	 ^  ^
//	 |  cost (2^12 rounds)
//	 version
//
// The cost is a field so tests can drop it to bcrypt.MinCost; the login and
// password-reset services receive a *PasswordService and never see it.
type PasswordService struct {
	cost int
}

// NewPasswordService creates a PasswordService with the production cost.
func NewPasswordService() *PasswordService {
	return &PasswordService{cost: defaultCost}
}

func newPasswordServiceWithCost(cost int) *PasswordService {
	return &PasswordService{cost: cost}
}

// NewPasswordServiceForTest creates a PasswordService with a caller-chosen
// cost. Other packages' tests pass bcrypt.MinCost (4). Never use in production.
func NewPasswordServiceForTest(cost int) *PasswordService {
	return newPasswordServiceWithCost(cost)
}

// Hash returns the bcrypt hash of plaintext, for example:
//
//	$2a$12$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy
//
// Store it as-is; CompareHashAndPassword reads the salt and cost back out.
// Inputs over MaxPasswordBytes fail with ErrPasswordTooLong.
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if len(plaintext) > MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}
	return string(hashed), nil
}

// Verify returns nil when plaintext matches hash and ErrPasswordMismatch when
// it does not. Any other error means the stored hash is unusable.
//
// The comparison runs in constant time for a given cost, so response
// timing does not reveal how much of a guess was right.
func (p *PasswordService) Verify(hash, plaintext string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrPasswordMismatch
		}
		return fmt.Errorf("auth: comparing password hash: %w", err)
	}
	return nil
}
