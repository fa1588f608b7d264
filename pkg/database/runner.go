package database

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

var (
	selectPattern    = regexp.MustCompile(`(?i)^\s*\(*\s*SELECT\b`)
	insertPattern    = regexp.MustCompile(`(?i)^\s*INSERT\b`)
	returningPattern = regexp.MustCompile(`(?i)\bRETURNING\b`)
)

// ErrNoRowsAffected marks an UPDATE/DELETE set that matched nothing.
var ErrNoRowsAffected = errors.New("statement affected no rows")

// StatementKind classifies a mutating statement.
type StatementKind int

const (
	KindInsert StatementKind = iota
	KindUpdate               // UPDATE or DELETE
)

// ChangeResult is the outcome of a mutating batch.
//
// For inserts InsertIDs holds one slot per parameter set, nil where the set
// failed. For updates and deletes RowsAffected sums the sets that changed at
// least one row. Errors is aligned with the parameter sets and keeps the cause
// of every failed set.
type ChangeResult struct {
	Kind         StatementKind
	InsertIDs    []*int64
	RowsAffected int64
	Errors       []error
}

// Projector is implemented by records that can be written with ChangeFromModel.
type Projector interface {
	ToParams() Params
}

// executor is satisfied by both *sqlx.DB and *sqlx.Tx.
type executor interface {
	PrepareNamedContext(ctx context.Context, query string) (*sqlx.NamedStmt, error)
	QueryxContext(ctx context.Context, query string, args ...interface{}) (*sqlx.Rows, error)
}

// Runner executes named-parameter statements over a single database handle,
// optionally inside a transaction it owns. It is not safe for concurrent use.
type Runner struct {
	db     *sqlx.DB
	tx     *sqlx.Tx
	logger *zap.SugaredLogger
}

func NewRunner(db *sqlx.DB, logger *zap.SugaredLogger) *Runner {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Runner{db: db, logger: logger}
}

func (r *Runner) executor() executor {
	if r.tx != nil {
		return r.tx
	}
	return r.db
}

// InTransaction reports whether a transaction started by Begin is open.
func (r *Runner) InTransaction() bool { return r.tx != nil }

// Begin opens a transaction. Failures are logged and reported as false.
func (r *Runner) Begin(ctx context.Context) bool {
	if r.tx != nil {
		r.logger.Warnw("begin transaction", "err", "already in transaction")
		return false
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		r.logger.Warnw("begin transaction", "err", err)
		return false
	}
	r.tx = tx
	return true
}

// Commit commits the open transaction. Failures are logged and reported as false.
func (r *Runner) Commit() bool {
	if r.tx == nil {
		r.logger.Warnw("commit transaction", "err", "not in transaction")
		return false
	}
	err := r.tx.Commit()
	r.tx = nil
	if err != nil {
		r.logger.Warnw("commit transaction", "err", err)
		return false
	}
	return true
}

// Rollback aborts the open transaction. Failures are logged and reported as false.
func (r *Runner) Rollback() bool {
	if r.tx == nil {
		r.logger.Warnw("rollback transaction", "err", "not in transaction")
		return false
	}
	err := r.tx.Rollback()
	r.tx = nil
	if err != nil {
		r.logger.Warnw("rollback transaction", "err", err)
		return false
	}
	return true
}

// RawQuery runs a statement without parameter binding.
func (r *Runner) RawQuery(ctx context.Context, query string) ([]Row, error) {
	rows, err := r.executor().QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("raw query: %w", err)
	}
	out, err := fetchRows(rows)
	if err != nil {
		return nil, fmt.Errorf("raw query: %w", err)
	}
	return out, nil
}

// Select runs a SELECT once per parameter set and returns one row collection
// per set, in order. The statement is prepared once and reused.
func (r *Runner) Select(ctx context.Context, query string, sets []Params) ([][]Row, error) {
	if !selectPattern.MatchString(query) {
		return nil, fmt.Errorf("%w: Select expects a SELECT statement", ErrInvalidQueryKind)
	}
	if len(sets) == 0 {
		return nil, fmt.Errorf("%w: no parameter sets, use RawQuery", ErrInvalidQueryKind)
	}

	stmt, err := r.executor().PrepareNamedContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("prepare select: %w", err)
	}
	defer stmt.Close()

	results := make([][]Row, 0, len(sets))
	for i, set := range sets {
		args, err := bindArgs(stmt, set, i+1)
		if err != nil {
			return nil, err
		}
		rows, err := stmt.Stmt.QueryxContext(ctx, args...)
		if err != nil {
			return nil, &ExecutionError{Set: i + 1, Err: err}
		}
		fetched, err := fetchRows(rows)
		if err != nil {
			return nil, &ExecutionError{Set: i + 1, Err: err}
		}
		results = append(results, fetched)
	}
	return results, nil
}

// Change runs an INSERT, UPDATE or DELETE once per parameter set.
//
// Outside a transaction a failing set is recorded and the batch continues.
// Inside a transaction the first failure aborts with a BatchExecutionError so
// the caller can roll back.
func (r *Runner) Change(ctx context.Context, query string, sets []Params) (*ChangeResult, error) {
	if selectPattern.MatchString(query) {
		return nil, fmt.Errorf("%w: Change does not accept SELECT statements", ErrInvalidQueryKind)
	}
	if len(sets) == 0 {
		return nil, fmt.Errorf("%w: no parameter sets, use RawQuery", ErrInvalidQueryKind)
	}

	stmt, err := r.executor().PrepareNamedContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("prepare change: %w", err)
	}
	defer stmt.Close()

	res := &ChangeResult{Kind: KindUpdate, Errors: make([]error, len(sets))}
	insert := insertPattern.MatchString(query)
	returning := insert && returningPattern.MatchString(query)
	if insert {
		res.Kind = KindInsert
		res.InsertIDs = make([]*int64, 0, len(sets))
	}

	for i, set := range sets {
		var err error
		if insert {
			var id int64
			id, err = insertOne(ctx, stmt, set, i+1, returning)
			if err != nil {
				res.InsertIDs = append(res.InsertIDs, nil)
			} else {
				res.InsertIDs = append(res.InsertIDs, &id)
			}
		} else {
			var n int64
			n, err = changeOne(ctx, stmt, set, i+1)
			if err == nil {
				res.RowsAffected += n
			}
		}
		if err == nil {
			continue
		}
		if r.InTransaction() {
			return nil, &BatchExecutionError{Set: i, Err: err}
		}
		res.Errors[i] = err
		r.logger.Debugw("change set failed", "set", i, "err", err)
	}
	return res, nil
}

// ChangeInBulk runs Change inside its own transaction: either every set is
// applied or none is.
func (r *Runner) ChangeInBulk(ctx context.Context, query string, sets []Params) (*ChangeResult, error) {
	if !r.Begin(ctx) {
		return nil, ErrTransactionStart
	}
	res, err := r.Change(ctx, query, sets)
	if err != nil {
		rolledBack := r.Rollback()
		return nil, &BulkChangeError{Err: err, RollbackFailed: !rolledBack}
	}
	if !r.Commit() {
		return nil, ErrTransactionCommit
	}
	return res, nil
}

// ChangeFromModel builds one parameter set per entity from the named fields of
// its projection and runs the statement with or without a transaction.
func (r *Runner) ChangeFromModel(ctx context.Context, query string, names []string, entities []any, withTransaction bool) (*ChangeResult, error) {
	sets := make([]Params, 0, len(entities))
	for i, e := range entities {
		if e == nil {
			return nil, &NotAnEntityError{Index: i}
		}
		p, ok := e.(Projector)
		if !ok {
			return nil, &NotAnEntityError{Index: i}
		}
		if v := reflect.ValueOf(e); v.Kind() == reflect.Pointer && v.IsNil() {
			return nil, &NotAnEntityError{Index: i}
		}
		projection := p.ToParams().normalize()
		set := make(Params, len(names))
		for _, name := range names {
			key := strings.TrimLeft(name, ":")
			if v, ok := projection[key]; ok {
				set[key] = v
			}
		}
		sets = append(sets, set)
	}
	if withTransaction {
		return r.ChangeInBulk(ctx, query, sets)
	}
	return r.Change(ctx, query, sets)
}

func insertOne(ctx context.Context, stmt *sqlx.NamedStmt, set Params, setNo int, returning bool) (int64, error) {
	args, err := bindArgs(stmt, set, setNo)
	if err != nil {
		return 0, err
	}
	var id int64
	if returning {
		if err := stmt.Stmt.QueryRowxContext(ctx, args...).Scan(&id); err != nil {
			return 0, &ExecutionError{Set: setNo, Err: err}
		}
		return id, nil
	}
	result, err := stmt.Stmt.ExecContext(ctx, args...)
	if err != nil {
		return 0, &ExecutionError{Set: setNo, Err: err}
	}
	id, err = result.LastInsertId()
	if err != nil {
		return 0, &ExecutionError{Set: setNo, Err: fmt.Errorf("last insert id: %w", err)}
	}
	return id, nil
}

func changeOne(ctx context.Context, stmt *sqlx.NamedStmt, set Params, setNo int) (int64, error) {
	args, err := bindArgs(stmt, set, setNo)
	if err != nil {
		return 0, err
	}
	result, err := stmt.Stmt.ExecContext(ctx, args...)
	if err != nil {
		return 0, &ExecutionError{Set: setNo, Err: err}
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, &ExecutionError{Set: setNo, Err: fmt.Errorf("rows affected: %w", err)}
	}
	if n == 0 {
		return 0, &ExecutionError{Set: setNo, Err: ErrNoRowsAffected}
	}
	return n, nil
}

// bindArgs orders the values of set by the statement's placeholders.
func bindArgs(stmt *sqlx.NamedStmt, set Params, setNo int) ([]any, error) {
	values := set.normalize()
	used := make(map[string]struct{}, len(stmt.Params))
	args := make([]any, 0, len(stmt.Params))
	for _, name := range stmt.Params {
		p, ok := values[name]
		if !ok {
			return nil, &BindError{Param: name, Set: setNo, Err: errors.New("no value supplied")}
		}
		if err := p.check(); err != nil {
			return nil, &BindError{Param: name, Set: setNo, Err: err}
		}
		args = append(args, p.Value)
		used[name] = struct{}{}
	}

	var extra []string
	for name := range values {
		if _, ok := used[name]; !ok {
			extra = append(extra, name)
		}
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		return nil, &BindError{Param: extra[0], Set: setNo, Err: errors.New("placeholder not present in statement")}
	}
	return args, nil
}

func fetchRows(rows *sqlx.Rows) ([]Row, error) {
	defer rows.Close()
	out := make([]Row, 0)
	for rows.Next() {
		m := make(map[string]any)
		if err := rows.MapScan(m); err != nil {
			return nil, err
		}
		for k, v := range m {
			if b, ok := v.([]byte); ok {
				m[k] = string(b)
			}
		}
		out = append(out, Row(m))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
