package utilities

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultBcryptCost = 12
	tokenBytes        = 32
)

// Hasher issues random tokens and hashes secrets (passwords and tokens alike).
type Hasher interface {
	GenerateToken() (Token, error)
	Hash(raw string) (string, error)
	Verify(raw, hash string) (bool, error)
}

// Token is a one-time secret. Value is only ever handed to the user; storage
// keeps its hash and IssuedAt.
type Token struct {
	Value    string
	IssuedAt int64
}

// HashingError is returned when the hash function rejects its input.
type HashingError struct {
	Err error
}

func (e *HashingError) Error() string { return fmt.Sprintf("hashing failed: %v", e.Err) }

func (e *HashingError) Unwrap() error { return e.Err }

// BcryptHasher implementation.
type BcryptHasher struct {
	Cost int
	Now  func() time.Time
}

func (b BcryptHasher) cost() int {
	if b.Cost == 0 {
		return DefaultBcryptCost
	}
	return b.Cost
}

// GenerateToken reads 32 bytes of OS entropy. A read failure is returned as is
// and must not be retried with a weaker source.
func (b BcryptHasher) GenerateToken() (Token, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return Token{}, fmt.Errorf("read random bytes: %w", err)
	}
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	return Token{Value: hex.EncodeToString(buf), IssuedAt: now().Unix()}, nil
}

func (b BcryptHasher) Hash(raw string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(raw), b.cost())
	if err != nil {
		return "", &HashingError{Err: err}
	}
	return string(h), nil
}

// Verify reports a mismatch as false with no error; only an unreadable hash is an error.
func (b BcryptHasher) Verify(raw, hash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(raw))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, &HashingError{Err: err}
	}
}
