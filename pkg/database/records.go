package database

import (
	"context"
)

// Filter selects rows by equality on a single column.
type Filter struct {
	Column string
	Value  Param
}

// RecordFactory creates records of type T empty, from storage or from a map.
type RecordFactory[T any] interface {
	Create() T
	CreateFromRow(ctx context.Context, filter Filter) (T, error)
	CreateFromMap(data map[string]any) (T, error)
}

// Records keeps built records in insertion order, addressable by key.
// A later record with an existing key replaces the earlier one in place.
type Records[T any] struct {
	keys  []any
	items map[any]T
}

func newRecords[T any]() *Records[T] {
	return &Records[T]{items: make(map[any]T)}
}

func (r *Records[T]) put(key any, v T) {
	if _, ok := r.items[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.items[key] = v
}

func (r *Records[T]) Get(key any) (T, bool) {
	v, ok := r.items[key]
	return v, ok
}

func (r *Records[T]) Keys() []any { return append([]any(nil), r.keys...) }

func (r *Records[T]) Len() int { return len(r.keys) }

// Values returns the records in key order.
func (r *Records[T]) Values() []T {
	out := make([]T, 0, len(r.keys))
	for _, k := range r.keys {
		out = append(out, r.items[k])
	}
	return out
}

type recordOptions struct {
	transform   func(Row) Row
	indexColumn string
}

// RecordOption tunes SelectIntoRecords.
type RecordOption func(*recordOptions)

// WithRowTransform rewrites each row before the index lookup and build step.
func WithRowTransform(fn func(Row) Row) RecordOption {
	return func(o *recordOptions) { o.transform = fn }
}

// WithIndexColumn keys records by the value of column instead of by position.
func WithIndexColumn(column string) RecordOption {
	return func(o *recordOptions) { o.indexColumn = column }
}

// SelectIntoRecords runs Select and turns every returned row, across all
// parameter sets, into a record built by build.
func SelectIntoRecords[T any](ctx context.Context, r *Runner, query string, sets []Params, build func(map[string]any) (T, error), opts ...RecordOption) (*Records[T], error) {
	var o recordOptions
	for _, opt := range opts {
		opt(&o)
	}

	results, err := r.Select(ctx, query, sets)
	if err != nil {
		return nil, err
	}

	out := newRecords[T]()
	next := 0
	for _, rows := range results {
		for _, row := range rows {
			if o.transform != nil {
				row = o.transform(row)
			}
			var key any = next
			if o.indexColumn != "" {
				v, ok := row[o.indexColumn]
				if !ok {
					return nil, &MissingIndexColumnError{Column: o.indexColumn}
				}
				key = v
			}
			rec, err := build(row)
			if err != nil {
				return nil, err
			}
			out.put(key, rec)
			next++
		}
	}
	return out, nil
}
