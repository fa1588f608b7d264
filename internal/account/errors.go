package account

import (
	"errors"
	"fmt"

	"github.com/ovaphlow/pitchfork/service-account-go/internal/account/repo"
)

var (
	ErrNotFound     = repo.ErrNotFound
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// DuplicateKeyError is returned by Register when Key ("userName" or "email")
// is already taken.
type DuplicateKeyError struct {
	Key   string
	Value string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("%s %q is already registered", e.Key, e.Value)
}

// ActivationExpiredError is returned when an activation token outlived its
// lifetime. A fresh token was issued; Resent tells whether it reached the user.
type ActivationExpiredError struct {
	Resent    bool
	ResendErr error
}

func (e *ActivationExpiredError) Error() string {
	if e.Resent {
		return "activation token expired, a new one has been sent"
	}
	return fmt.Sprintf("activation token expired, sending a new one failed: %v", e.ResendErr)
}

func (e *ActivationExpiredError) Is(target error) bool { return target == ErrTokenExpired }

func (e *ActivationExpiredError) Unwrap() error { return e.ResendErr }

// PersistenceError reports a write that did not change exactly the expected rows.
type PersistenceError struct {
	Op       string
	Affected int64
	Err      error
}

func (e *PersistenceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %d rows affected", e.Op, e.Affected)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// EmailDeliveryError is returned when a regenerated token could not be mailed.
type EmailDeliveryError struct {
	Kind  TokenKind
	Email string
	Err   error
}

func (e *EmailDeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("send %s email to %s: %v", e.Kind, e.Email, e.Err)
	}
	return fmt.Sprintf("send %s email to %s: not delivered", e.Kind, e.Email)
}

func (e *EmailDeliveryError) Unwrap() error { return e.Err }
