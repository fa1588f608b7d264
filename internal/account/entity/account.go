package entity

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ovaphlow/pitchfork/service-account-go/pkg/database"
)

const RoleUser = "ROLE_USER"

var ErrIDAlreadySet = errors.New("account id already set")

// InvariantError describes a state an account must never be persisted in.
type InvariantError struct {
	Rule string
}

func (e *InvariantError) Error() string { return "account invariant violated: " + e.Rule }

// FieldTypeError is returned when a column value has a type the field cannot hold.
type FieldTypeError struct {
	Field string
	Value any
}

func (e *FieldTypeError) Error() string {
	return fmt.Sprintf("field %q cannot hold %T", e.Field, e.Value)
}

// Account represents a row in the `users` table joined with its role.
// PlainPassword is transient and never persisted.
type Account struct {
	ID                        int64
	UserName                  string
	Email                     string
	PasswordHash              string
	PlainPassword             string
	IsActive                  bool
	RoleID                    int64
	Roles                     []string
	ActivationHash            *string
	ActivationHashGeneratedAt *int64
	PwResetHash               *string
	PwResetHashGeneratedAt    *int64
	CreatedAt                 int64
}

// New returns an unsaved account holding the default role.
func New() *Account {
	return &Account{Roles: []string{RoleUser}}
}

// SetID assigns the storage id once.
func (a *Account) SetID(id int64) error {
	if a.ID != 0 {
		return ErrIDAlreadySet
	}
	a.ID = id
	return nil
}

func (a *Account) SetActivationToken(hash string, issuedAt int64) {
	a.IsActive = false
	a.ActivationHash = &hash
	a.ActivationHashGeneratedAt = &issuedAt
}

// MarkActive activates the account and drops the activation token.
func (a *Account) MarkActive() {
	a.IsActive = true
	a.ActivationHash = nil
	a.ActivationHashGeneratedAt = nil
}

func (a *Account) SetResetToken(hash string, issuedAt int64) {
	a.PwResetHash = &hash
	a.PwResetHashGeneratedAt = &issuedAt
}

func (a *Account) ClearResetToken() {
	a.PwResetHash = nil
	a.PwResetHashGeneratedAt = nil
}

func (a *Account) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (a *Account) addRole(role string) {
	if role == "" || a.HasRole(role) {
		return
	}
	a.Roles = append(a.Roles, role)
}

// CheckInvariants reports the first broken rule, if any.
func (a *Account) CheckInvariants() error {
	if (a.ActivationHash == nil) != (a.ActivationHashGeneratedAt == nil) {
		return &InvariantError{Rule: "activation hash and timestamp must be set together"}
	}
	if (a.PwResetHash == nil) != (a.PwResetHashGeneratedAt == nil) {
		return &InvariantError{Rule: "reset hash and timestamp must be set together"}
	}
	if a.IsActive && a.ActivationHash != nil {
		return &InvariantError{Rule: "active account holds an activation hash"}
	}
	if !a.IsActive && a.PwResetHash != nil {
		return &InvariantError{Rule: "inactive account holds a reset hash"}
	}
	return nil
}

// ToParams projects the persisted columns. role_name carries the primary role
// for statements that resolve role_id by name.
func (a *Account) ToParams() database.Params {
	role := RoleUser
	if len(a.Roles) > 0 {
		role = a.Roles[0]
	}
	return database.Params{
		"id":                     database.Int(a.ID),
		"user_name":              database.String(a.UserName),
		"email":                  database.String(a.Email),
		"password":               database.String(a.PasswordHash),
		"is_active":              database.Bool(a.IsActive),
		"role_id":                database.Int(a.RoleID),
		"role_name":              database.String(role),
		"activation_hash":        database.NullableString(a.ActivationHash),
		"activation_hash_gen_ts": database.NullableInt(a.ActivationHashGeneratedAt),
		"pw_reset_hash":          database.NullableString(a.PwResetHash),
		"pw_reset_hash_gen_ts":   database.NullableInt(a.PwResetHashGeneratedAt),
		"created":                database.Int(a.CreatedAt),
	}
}

// Apply sets the field addressed by a column name (or one of role_name, roles,
// plain_password). Unknown names fail with *database.UnknownFieldError.
func (a *Account) Apply(field string, value any) error {
	switch field {
	case "id":
		id, ok := database.AsInt64(value)
		if !ok {
			return &FieldTypeError{Field: field, Value: value}
		}
		return a.SetID(id)
	case "user_name":
		return setString(field, value, &a.UserName)
	case "email":
		return setString(field, value, &a.Email)
	case "password":
		return setString(field, value, &a.PasswordHash)
	case "plain_password":
		return setString(field, value, &a.PlainPassword)
	case "is_active":
		switch v := value.(type) {
		case bool:
			a.IsActive = v
		default:
			n, ok := database.AsInt64(value)
			if !ok {
				return &FieldTypeError{Field: field, Value: value}
			}
			a.IsActive = n != 0
		}
	case "role_id":
		if value == nil {
			return nil
		}
		n, ok := database.AsInt64(value)
		if !ok {
			return &FieldTypeError{Field: field, Value: value}
		}
		a.RoleID = n
	case "role_name":
		if value == nil {
			return nil
		}
		var name string
		if err := setString(field, value, &name); err != nil {
			return err
		}
		a.addRole(name)
	case "roles":
		switch v := value.(type) {
		case []string:
			for _, r := range v {
				a.addRole(r)
			}
		case string:
			for _, r := range strings.Split(v, ",") {
				a.addRole(strings.TrimSpace(r))
			}
		default:
			return &FieldTypeError{Field: field, Value: value}
		}
	case "activation_hash":
		return setNullableString(field, value, &a.ActivationHash)
	case "activation_hash_gen_ts":
		return setNullableInt(field, value, &a.ActivationHashGeneratedAt)
	case "pw_reset_hash":
		return setNullableString(field, value, &a.PwResetHash)
	case "pw_reset_hash_gen_ts":
		return setNullableInt(field, value, &a.PwResetHashGeneratedAt)
	case "created":
		n, ok := database.AsInt64(value)
		if !ok {
			return &FieldTypeError{Field: field, Value: value}
		}
		a.CreatedAt = n
	default:
		return &database.UnknownFieldError{Field: field}
	}
	return nil
}

// SameAuthState reports whether two snapshots grant the same access: an
// account whose password, roles or active flag changed must re-authenticate.
func SameAuthState(a, b *Account) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.PasswordHash != b.PasswordHash || a.IsActive != b.IsActive {
		return false
	}
	return sameRoles(a.Roles, b.Roles)
}

func sameRoles(x, y []string) bool {
	if len(x) != len(y) {
		return false
	}
	xs := append([]string(nil), x...)
	ys := append([]string(nil), y...)
	sort.Strings(xs)
	sort.Strings(ys)
	for i := range xs {
		if xs[i] != ys[i] {
			return false
		}
	}
	return true
}

func setString(field string, value any, dst *string) error {
	switch v := value.(type) {
	case string:
		*dst = v
	case []byte:
		*dst = string(v)
	default:
		return &FieldTypeError{Field: field, Value: value}
	}
	return nil
}

func setNullableString(field string, value any, dst **string) error {
	if value == nil {
		*dst = nil
		return nil
	}
	var s string
	if err := setString(field, value, &s); err != nil {
		return err
	}
	*dst = &s
	return nil
}

func setNullableInt(field string, value any, dst **int64) error {
	if value == nil {
		*dst = nil
		return nil
	}
	n, ok := database.AsInt64(value)
	if !ok {
		return &FieldTypeError{Field: field, Value: value}
	}
	*dst = &n
	return nil
}
