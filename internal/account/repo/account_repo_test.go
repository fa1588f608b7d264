package repo

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-account-go/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-account-go/pkg/database"
)

func setupRepo(t *testing.T) *AccountRepo {
	t.Helper()
	db, err := database.Open(database.Config{Driver: "sqlite", DSN: ":memory:", MaxConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db, "sqlite3", nil))
	return NewAccountRepo(database.NewRunner(db, nil))
}

func insertAccount(t *testing.T, r *AccountRepo, name, email string, active bool) *entity.Account {
	t.Helper()
	a := entity.New()
	a.UserName = name
	a.Email = email
	a.PasswordHash = "hash"
	a.CreatedAt = 1_700_000_000
	if active {
		a.MarkActive()
	} else {
		a.SetActivationToken("act", 1_700_000_000)
	}
	res, err := r.Insert(context.Background(), a)
	require.NoError(t, err)
	require.NotNil(t, res.InsertIDs[0], "insert failed: %v", res.Errors[0])
	require.NoError(t, a.SetID(*res.InsertIDs[0]))
	return a
}

func TestInsertAndFind(t *testing.T) {
	r := setupRepo(t)
	ctx := context.Background()
	inserted := insertAccount(t, r, "alice", "alice@example.com", false)

	got, err := r.FindPendingActivation(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, inserted.ID, got.ID)
	assert.Equal(t, "alice", got.UserName)
	assert.False(t, got.IsActive)
	assert.Equal(t, []string{entity.RoleUser}, got.Roles)
	require.NotNil(t, got.ActivationHash)
	assert.Equal(t, "act", *got.ActivationHash)
	require.NoError(t, got.CheckInvariants())

	_, err = r.FindActive(ctx, "alice@example.com")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = r.FindWithActivationHash(ctx, "alice@example.com")
	require.NoError(t, err)
	_, err = r.FindWithResetHash(ctx, "alice@example.com")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCountDuplicates(t *testing.T) {
	r := setupRepo(t)
	insertAccount(t, r, "alice", "alice@example.com", true)

	byName, byEmail, err := r.CountDuplicates(context.Background(), "alice", "other@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(1), byName)
	assert.Equal(t, int64(0), byEmail)
}

func TestCountDuplicates_RejectsNonIntegerCounts(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	r := NewAccountRepo(database.NewRunner(sqlx.NewDb(db, "sqlmock"), nil))

	mock.ExpectPrepare(`AS user_name_count`).ExpectQuery().
		WithArgs("alice", "alice@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"user_name_count", "email_count"}).AddRow("many", int64(0)))

	_, _, err = r.CountDuplicates(context.Background(), "alice", "alice@example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user_name_count")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsert_NilAccountIsRejected(t *testing.T) {
	r := setupRepo(t)
	_, err := r.Insert(context.Background(), nil)
	var notEntity *database.NotAnEntityError
	require.ErrorAs(t, err, &notEntity)
	assert.Zero(t, notEntity.Index)
}

func TestInsert_UniqueViolationIsReported(t *testing.T) {
	r := setupRepo(t)
	insertAccount(t, r, "alice", "alice@example.com", true)

	dup := entity.New()
	dup.UserName = "alice2"
	dup.Email = "alice@example.com"
	dup.PasswordHash = "hash"
	res, err := r.Insert(context.Background(), dup)
	require.NoError(t, err)
	assert.Nil(t, res.InsertIDs[0])
	constraint, ok := database.IsUniqueViolation(res.Errors[0])
	require.True(t, ok)
	assert.Contains(t, constraint, "email")
}

func TestUpdate(t *testing.T) {
	r := setupRepo(t)
	ctx := context.Background()
	a := insertAccount(t, r, "alice", "alice@example.com", false)

	a.MarkActive()
	n, err := r.Update(ctx, a, "is_active", "activation_hash", "activation_hash_gen_ts")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := r.FindActive(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Nil(t, got.ActivationHash)

	ghost := &entity.Account{Email: "nobody@example.com"}
	n, err = r.Update(ctx, ghost, "password")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	_, err = r.Update(ctx, a, "favourite_color")
	var unknown *database.UnknownFieldError
	require.ErrorAs(t, err, &unknown)
	_, err = r.Update(ctx, a, "email")
	require.ErrorAs(t, err, &unknown)
}

func TestUpdateActive(t *testing.T) {
	r := setupRepo(t)
	ctx := context.Background()
	insertAccount(t, r, "alice", "alice@example.com", true)
	pending := insertAccount(t, r, "bob", "bob@example.com", false)

	pending.IsActive = true
	pending.SetResetToken("r", 100)
	n, err := r.UpdateActive(ctx, pending, "pw_reset_hash", "pw_reset_hash_gen_ts")
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = r.FindWithResetHash(ctx, "bob@example.com")
	require.ErrorIs(t, err, ErrNotFound)

	active := &entity.Account{Email: "alice@example.com"}
	active.SetResetToken("r", 100)
	n, err = r.UpdateActive(ctx, active, "pw_reset_hash", "pw_reset_hash_gen_ts")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	got, err := r.FindWithResetHash(ctx, "alice@example.com")
	require.NoError(t, err)
	require.NoError(t, got.CheckInvariants())
}

func TestFindByEmails(t *testing.T) {
	r := setupRepo(t)
	insertAccount(t, r, "alice", "alice@example.com", true)
	insertAccount(t, r, "bob", "bob@example.com", false)

	recs, err := r.FindByEmails(context.Background(), []string{"bob@example.com", "ghost@example.com", "alice@example.com"})
	require.NoError(t, err)
	assert.Equal(t, []any{"bob@example.com", "alice@example.com"}, recs.Keys())
	bob, ok := recs.Get("bob@example.com")
	require.True(t, ok)
	assert.Equal(t, "bob", bob.UserName)
}

func TestExpiredResetsAndSaveResetState(t *testing.T) {
	r := setupRepo(t)
	ctx := context.Background()
	old := insertAccount(t, r, "old", "old@example.com", true)
	fresh := insertAccount(t, r, "fresh", "fresh@example.com", true)

	old.SetResetToken("r1", 100)
	_, err := r.Update(ctx, old, "pw_reset_hash", "pw_reset_hash_gen_ts")
	require.NoError(t, err)
	fresh.SetResetToken("r2", 10_000)
	_, err = r.Update(ctx, fresh, "pw_reset_hash", "pw_reset_hash_gen_ts")
	require.NoError(t, err)

	recs, err := r.ExpiredResets(ctx, 5_000)
	require.NoError(t, err)
	require.Equal(t, 1, recs.Len())
	got, ok := recs.Get(old.ID)
	require.True(t, ok)

	got.ClearResetToken()
	n, err := r.SaveResetState(ctx, recs.Values())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = r.FindWithResetHash(ctx, "old@example.com")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = r.FindWithResetHash(ctx, "fresh@example.com")
	require.NoError(t, err)

	n, err = r.SaveResetState(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFactory(t *testing.T) {
	r := setupRepo(t)
	ctx := context.Background()
	a := insertAccount(t, r, "alice", "alice@example.com", true)
	f := r.Factory()

	got, err := f.CreateFromRow(ctx, database.Filter{Column: "user_name", Value: database.String("alice")})
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	_, err = f.CreateFromRow(ctx, database.Filter{Column: "id", Value: database.Int(999)})
	require.ErrorIs(t, err, ErrNotFound)

	var unknown *database.UnknownFieldError
	_, err = f.CreateFromRow(ctx, database.Filter{Column: "1=1 OR user_name", Value: database.String("x")})
	require.ErrorAs(t, err, &unknown)

	_, err = f.CreateFromMap(map[string]any{"email": "x@example.com", "shoe_size": 44})
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "shoe_size", unknown.Field)

	empty := f.Create()
	assert.Zero(t, empty.ID)
	assert.Empty(t, empty.Roles)
}
