package repo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ovaphlow/pitchfork/service-account-go/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-account-go/pkg/database"
)

// ErrNotFound is returned when a lookup does not match exactly one account.
var ErrNotFound = errors.New("account not found")

const selectAccounts = `SELECT u.id, u.user_name, u.email, u.password, u.is_active, u.role_id,
	r.name AS role_name, u.activation_hash, u.activation_hash_gen_ts,
	u.pw_reset_hash, u.pw_reset_hash_gen_ts, u.created
  FROM users u LEFT JOIN roles r ON r.id = u.role_id`

// columns that may appear in filters and SET lists.
var columns = map[string]struct{}{
	"id": {}, "user_name": {}, "email": {}, "password": {}, "is_active": {},
	"role_id": {}, "activation_hash": {}, "activation_hash_gen_ts": {},
	"pw_reset_hash": {}, "pw_reset_hash_gen_ts": {}, "created": {},
}

// AccountRepo provides data access for the users table through a Runner.
type AccountRepo struct {
	runner *database.Runner
}

func NewAccountRepo(r *database.Runner) *AccountRepo { return &AccountRepo{runner: r} }

// Factory returns the record factory bound to the same runner.
func (r *AccountRepo) Factory() Factory { return Factory{runner: r.runner} }

// CountDuplicates counts existing rows sharing the user name and the email, in one query.
func (r *AccountRepo) CountDuplicates(ctx context.Context, userName, email string) (byName, byEmail int64, err error) {
	const q = `SELECT
	(SELECT COUNT(*) FROM users WHERE user_name = :user_name) AS user_name_count,
	(SELECT COUNT(*) FROM users WHERE email = :email) AS email_count`
	res, err := r.runner.Select(ctx, q, []database.Params{{
		"user_name": database.String(userName),
		"email":     database.String(email),
	}})
	if err != nil {
		return 0, 0, fmt.Errorf("count duplicates: %w", err)
	}
	if len(res[0]) != 1 {
		return 0, 0, errors.New("count duplicates: unexpected row count")
	}
	row := res[0][0]
	var ok bool
	if byName, ok = database.AsInt64(row["user_name_count"]); !ok {
		return 0, 0, fmt.Errorf("count duplicates: unexpected user_name_count value %T", row["user_name_count"])
	}
	if byEmail, ok = database.AsInt64(row["email_count"]); !ok {
		return 0, 0, fmt.Errorf("count duplicates: unexpected email_count value %T", row["email_count"])
	}
	return byName, byEmail, nil
}

// Insert stores a new account and returns the ChangeResult of the single set;
// the caller decides what a missing id means.
func (r *AccountRepo) Insert(ctx context.Context, a *entity.Account) (*database.ChangeResult, error) {
	const q = `INSERT INTO users (user_name, email, password, is_active, role_id,
	activation_hash, activation_hash_gen_ts, created)
  VALUES (:user_name, :email, :password, :is_active,
	(SELECT id FROM roles WHERE name = :role_name),
	:activation_hash, :activation_hash_gen_ts, :created)
  RETURNING id`
	return r.runner.ChangeFromModel(ctx, q,
		[]string{"user_name", "email", "password", "is_active", "role_name", "activation_hash", "activation_hash_gen_ts", "created"},
		[]any{a}, false)
}

// FindPendingActivation returns the inactive account registered with email.
func (r *AccountRepo) FindPendingActivation(ctx context.Context, email string) (*entity.Account, error) {
	return r.findOne(ctx, "u.email = :email AND u.is_active = :is_active", database.Params{
		"email":     database.String(email),
		"is_active": database.Bool(false),
	})
}

// FindWithActivationHash returns the account with email that still holds an activation token.
func (r *AccountRepo) FindWithActivationHash(ctx context.Context, email string) (*entity.Account, error) {
	return r.findOne(ctx, "u.email = :email AND u.activation_hash IS NOT NULL", database.Params{
		"email": database.String(email),
	})
}

// FindActive returns the active account with email.
func (r *AccountRepo) FindActive(ctx context.Context, email string) (*entity.Account, error) {
	return r.findOne(ctx, "u.email = :email AND u.is_active = :is_active", database.Params{
		"email":     database.String(email),
		"is_active": database.Bool(true),
	})
}

// FindWithResetHash returns the account with email that holds a password-reset token.
func (r *AccountRepo) FindWithResetHash(ctx context.Context, email string) (*entity.Account, error) {
	return r.findOne(ctx, "u.email = :email AND u.pw_reset_hash IS NOT NULL", database.Params{
		"email": database.String(email),
	})
}

func (r *AccountRepo) findOne(ctx context.Context, where string, params database.Params) (*entity.Account, error) {
	recs, err := database.SelectIntoRecords(ctx, r.runner, selectAccounts+" WHERE "+where,
		[]database.Params{params}, r.Factory().CreateFromMap)
	if err != nil {
		return nil, err
	}
	if recs.Len() != 1 {
		return nil, ErrNotFound
	}
	return recs.Values()[0], nil
}

// FindByEmails runs one lookup per email and keys the accounts found by email.
func (r *AccountRepo) FindByEmails(ctx context.Context, emails []string) (*database.Records[*entity.Account], error) {
	sets := make([]database.Params, 0, len(emails))
	for _, e := range emails {
		sets = append(sets, database.Params{"email": database.String(e)})
	}
	return database.SelectIntoRecords(ctx, r.runner, selectAccounts+" WHERE u.email = :email",
		sets, r.Factory().CreateFromMap, database.WithIndexColumn("email"))
}

// ExpiredResets returns accounts whose reset token was issued before cutoff, keyed by id.
func (r *AccountRepo) ExpiredResets(ctx context.Context, cutoff int64) (*database.Records[*entity.Account], error) {
	q := selectAccounts + " WHERE u.pw_reset_hash IS NOT NULL AND u.pw_reset_hash_gen_ts < :cutoff ORDER BY u.id"
	return database.SelectIntoRecords(ctx, r.runner, q,
		[]database.Params{{"cutoff": database.Int(cutoff)}}, r.Factory().CreateFromMap,
		database.WithIndexColumn("id"),
		database.WithRowTransform(func(row database.Row) database.Row {
			// normalize the key type across drivers
			if id, ok := database.AsInt64(row["id"]); ok {
				row["id"] = id
			}
			return row
		}))
}

// Update writes the given columns of a, matching the row by email, and returns
// the number of rows changed.
func (r *AccountRepo) Update(ctx context.Context, a *entity.Account, cols ...string) (int64, error) {
	return r.update(ctx, a, "email = :email", cols)
}

// UpdateActive is Update restricted to the active account with a's email.
// An inactive row is left untouched and reported as zero rows changed.
func (r *AccountRepo) UpdateActive(ctx context.Context, a *entity.Account, cols ...string) (int64, error) {
	return r.update(ctx, a, "email = :email AND is_active = TRUE", cols)
}

func (r *AccountRepo) update(ctx context.Context, a *entity.Account, where string, cols []string) (int64, error) {
	q, names, err := updateByEmail(cols, where)
	if err != nil {
		return 0, err
	}
	res, err := r.runner.ChangeFromModel(ctx, q, names, []any{a}, false)
	if err != nil {
		return 0, err
	}
	if cause := res.Errors[0]; cause != nil && !errors.Is(cause, database.ErrNoRowsAffected) {
		return 0, cause
	}
	return res.RowsAffected, nil
}

// SaveResetState persists the reset columns of every account in one
// transaction, matching rows by id.
func (r *AccountRepo) SaveResetState(ctx context.Context, accounts []*entity.Account) (int64, error) {
	if len(accounts) == 0 {
		return 0, nil
	}
	const q = `UPDATE users SET pw_reset_hash = :pw_reset_hash, pw_reset_hash_gen_ts = :pw_reset_hash_gen_ts WHERE id = :id`
	entities := make([]any, 0, len(accounts))
	for _, a := range accounts {
		entities = append(entities, a)
	}
	res, err := r.runner.ChangeFromModel(ctx, q, []string{"id", "pw_reset_hash", "pw_reset_hash_gen_ts"}, entities, true)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected, nil
}

func updateByEmail(cols []string, where string) (string, []string, error) {
	if len(cols) == 0 {
		return "", nil, errors.New("update: no columns")
	}
	sets := make([]string, 0, len(cols))
	for _, c := range cols {
		if _, ok := columns[c]; !ok || c == "email" || c == "id" {
			return "", nil, &database.UnknownFieldError{Field: c}
		}
		sets = append(sets, c+" = :"+c)
	}
	q := "UPDATE users SET " + strings.Join(sets, ", ") + " WHERE " + where
	return q, append(append([]string(nil), cols...), "email"), nil
}

// Factory builds accounts from rows and maps. It implements
// database.RecordFactory[*entity.Account].
type Factory struct {
	runner *database.Runner
}

var _ database.RecordFactory[*entity.Account] = Factory{}

func (f Factory) Create() *entity.Account { return &entity.Account{} }

// CreateFromRow loads the account whose column equals the filter value.
func (f Factory) CreateFromRow(ctx context.Context, filter database.Filter) (*entity.Account, error) {
	col := strings.TrimPrefix(filter.Column, "u.")
	if _, ok := columns[col]; !ok {
		return nil, &database.UnknownFieldError{Field: filter.Column}
	}
	res, err := f.runner.Select(ctx, selectAccounts+" WHERE u."+col+" = :value",
		[]database.Params{{"value": filter.Value}})
	if err != nil {
		return nil, err
	}
	if len(res[0]) == 0 {
		return nil, ErrNotFound
	}
	return f.CreateFromMap(res[0][0])
}

// CreateFromMap applies every key in sorted order so the result does not
// depend on map iteration.
func (f Factory) CreateFromMap(data map[string]any) (*entity.Account, error) {
	a := f.Create()
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := a.Apply(k, data[k]); err != nil {
			return nil, err
		}
	}
	return a, nil
}
