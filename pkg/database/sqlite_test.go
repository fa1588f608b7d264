package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteRunner(t *testing.T) *Runner {
	t.Helper()
	db, err := Open(Config{Driver: "sqlite", DSN: ":memory:", MaxConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE items (
  id   INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL UNIQUE,
  qty  INTEGER NOT NULL DEFAULT 0
);`)
	require.NoError(t, err)
	return NewRunner(db, nil)
}

func countItems(t *testing.T, r *Runner) int64 {
	t.Helper()
	rows, err := r.RawQuery(context.Background(), `SELECT COUNT(*) AS n FROM items`)
	require.NoError(t, err)
	n, ok := AsInt64(rows[0]["n"])
	require.True(t, ok)
	return n
}

func names(vs ...string) []Params {
	out := make([]Params, 0, len(vs))
	for _, v := range vs {
		out = append(out, Params{"name": String(v)})
	}
	return out
}

func TestSQLite_ChangeInBulkIsAtomic(t *testing.T) {
	r := newSQLiteRunner(t)
	ctx := context.Background()

	_, err := r.ChangeInBulk(ctx, `INSERT INTO items (name) VALUES (:name)`, names("a", "b", "a"))
	var bulkErr *BulkChangeError
	require.ErrorAs(t, err, &bulkErr)
	var batchErr *BatchExecutionError
	require.ErrorAs(t, err, &batchErr)
	assert.Equal(t, 2, batchErr.Set)
	assert.Equal(t, int64(0), countItems(t, r))
	assert.False(t, r.InTransaction())
}

func TestSQLite_ChangeKeepsSuccessfulSetsOutsideTransaction(t *testing.T) {
	r := newSQLiteRunner(t)
	ctx := context.Background()

	res, err := r.Change(ctx, `INSERT INTO items (name) VALUES (:name)`, names("a", "b", "a"))
	require.NoError(t, err)
	require.Len(t, res.InsertIDs, 3)
	assert.Equal(t, int64(1), *res.InsertIDs[0])
	assert.Equal(t, int64(2), *res.InsertIDs[1])
	assert.Nil(t, res.InsertIDs[2])

	constraint, ok := IsUniqueViolation(res.Errors[2])
	require.True(t, ok)
	assert.Equal(t, "items.name", constraint)
	assert.Equal(t, int64(2), countItems(t, r))
}

func TestSQLite_InsertReturning(t *testing.T) {
	r := newSQLiteRunner(t)
	res, err := r.Change(context.Background(), `INSERT INTO items (name, qty) VALUES (:name, :qty) RETURNING id`,
		[]Params{{"name": String("a"), "qty": Int(3)}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), *res.InsertIDs[0])
}

func TestSQLite_UpdateAggregatesAffectedRows(t *testing.T) {
	r := newSQLiteRunner(t)
	ctx := context.Background()
	_, err := r.ChangeInBulk(ctx, `INSERT INTO items (name) VALUES (:name)`, names("a", "b"))
	require.NoError(t, err)

	res, err := r.Change(ctx, `UPDATE items SET qty = :qty WHERE name = :name`, []Params{
		{"name": String("a"), "qty": Int(1)},
		{"name": String("missing"), "qty": Int(1)},
		{"name": String("b"), "qty": Int(1)},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.RowsAffected)
	assert.ErrorIs(t, res.Errors[1], ErrNoRowsAffected)
}

type item struct {
	Name string
	Qty  int64
}

func buildItem(m map[string]any) (item, error) {
	name, ok := m["name"].(string)
	if !ok {
		return item{}, errors.New("name is not a string")
	}
	qty, _ := AsInt64(m["qty"])
	return item{Name: name, Qty: qty}, nil
}

func TestSQLite_SelectIntoRecords(t *testing.T) {
	r := newSQLiteRunner(t)
	ctx := context.Background()
	_, err := r.ChangeInBulk(ctx, `INSERT INTO items (name) VALUES (:name)`, names("a", "b", "c"))
	require.NoError(t, err)

	const q = `SELECT name, qty FROM items WHERE name = :name`

	t.Run("positional keys across sets", func(t *testing.T) {
		recs, err := SelectIntoRecords(ctx, r, q, names("c", "zzz", "a"), buildItem)
		require.NoError(t, err)
		require.Equal(t, 2, recs.Len())
		assert.Equal(t, []any{0, 1}, recs.Keys())
		first, ok := recs.Get(0)
		require.True(t, ok)
		assert.Equal(t, "c", first.Name)
	})

	t.Run("index column with transform", func(t *testing.T) {
		recs, err := SelectIntoRecords(ctx, r, q, names("a", "b"), buildItem,
			WithIndexColumn("name"),
			WithRowTransform(func(row Row) Row {
				row["qty"] = int64(99)
				return row
			}))
		require.NoError(t, err)
		b, ok := recs.Get("b")
		require.True(t, ok)
		assert.Equal(t, int64(99), b.Qty)
		assert.Equal(t, []item{{"a", 99}, {"b", 99}}, recs.Values())
	})

	t.Run("duplicate keys replace in place", func(t *testing.T) {
		recs, err := SelectIntoRecords(ctx, r, q, names("a", "b", "a"), buildItem, WithIndexColumn("name"))
		require.NoError(t, err)
		assert.Equal(t, []any{"a", "b"}, recs.Keys())
	})

	t.Run("missing index column", func(t *testing.T) {
		_, err := SelectIntoRecords(ctx, r, q, names("a"), buildItem, WithIndexColumn("id"))
		var missing *MissingIndexColumnError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, "id", missing.Column)
	})

	t.Run("build error propagates", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := SelectIntoRecords(ctx, r, q, names("a"), func(map[string]any) (item, error) { return item{}, boom })
		require.ErrorIs(t, err, boom)
	})
}

func TestMigrate_SQLite(t *testing.T) {
	db, err := Open(Config{Driver: "sqlite", DSN: ":memory:", MaxConns: 1})
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, Migrate(context.Background(), db, "sqlite3", nil))

	r := NewRunner(db, nil)
	rows, err := r.RawQuery(context.Background(), `SELECT name FROM roles ORDER BY id`)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "ROLE_USER", rows[0]["name"])
}

func TestMigrate_Errors(t *testing.T) {
	db, err := Open(Config{Driver: "sqlite", DSN: ":memory:", MaxConns: 1})
	require.NoError(t, err)
	defer db.Close()

	require.Error(t, Migrate(context.Background(), db, "oracle", nil))

	old := gooseUpContext
	t.Cleanup(func() { gooseUpContext = old })
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return errors.New("locked")
	}
	err = Migrate(context.Background(), db, "sqlite3", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run migrations")
}

func TestConfigDialect(t *testing.T) {
	assert.Equal(t, "sqlite3", Config{Driver: "sqlite"}.Dialect())
	assert.Equal(t, "postgres", Config{Driver: "pgx"}.Dialect())
	assert.Equal(t, "postgres", Config{Driver: "postgres"}.Dialect())
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "pgx")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/app")
	t.Setenv("DATABASE_MAX_CONNS", "12")
	cfg := ConfigFromEnv()
	assert.Equal(t, "pgx", cfg.Driver)
	assert.Equal(t, "postgres://u:p@db:5432/app", cfg.DSN)
	assert.Equal(t, 12, cfg.MaxConns)
}

func TestQuoteLiteral(t *testing.T) {
	assert.Equal(t, `'O''Brien'`, quoteLiteral("O'Brien"))
}
