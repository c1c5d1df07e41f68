// ABOUTME: bcrypt password hashing and verification
// ABOUTME: Includes a dummy verification so unknown accounts cost the same time as known ones

package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher hashes and verifies plaintext passwords.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, digest string) bool
	// VerifyDummy spends one verification against a throwaway digest.
	VerifyDummy(plaintext string)
}

// BcryptHasher implements PasswordHasher with bcrypt at a fixed cost.
type BcryptHasher struct {
	cost  int
	dummy []byte
}

// NewBcryptHasher creates a hasher at the given cost. The dummy digest is
// produced at the same cost so its verification time matches real accounts.
func NewBcryptHasher(cost int) (*BcryptHasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("convo-gateway-dummy-password"), cost)
	if err != nil {
		return nil, fmt.Errorf("generating dummy digest: %w", err)
	}
	return &BcryptHasher{cost: cost, dummy: dummy}, nil
}

// Hash returns the bcrypt digest of plaintext. Inputs longer than 72 bytes are rejected.
func (h *BcryptHasher) Hash(plaintext string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(digest), nil
}

// Verify reports whether plaintext matches digest. A malformed digest never matches.
func (h *BcryptHasher) Verify(plaintext, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext)) == nil
}

// VerifyDummy runs one bcrypt comparison against a digest no password matches,
// so an unknown email costs the same as a wrong password.
func (h *BcryptHasher) VerifyDummy(plaintext string) {
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(plaintext))
}
