package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrPasswordMismatch is returned when a password does not match its hash.
var ErrPasswordMismatch = errors.New("auth: password mismatch")

// Passwords hashes and checks agent passwords with bcrypt. Costs outside
// bcrypt's accepted range fall back to bcrypt.DefaultCost.
type Passwords struct {
	cost int
}

// NewPasswords builds a hasher for the given cost.
func NewPasswords(cost int) Passwords {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return Passwords{cost: cost}
}

// Hash returns the bcrypt hash of plain.
func (p Passwords) Hash(plain string) (string, error) {
	if plain == "" {
		return "", errors.New("auth: empty password")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), p.cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Verify reports ErrPasswordMismatch when plain does not match hashed.
func (p Passwords) Verify(hashed, plain string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrPasswordMismatch
	}
	return err
}
