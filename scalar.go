package rorm

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
)

// ScalarQuery reads a single column as values of T: string, the numeric
// types, bool, time.Time, []byte, sql.Null* or any sql.Scanner. The pivot
// manager uses it for membership reads; it is also the escape hatch for raw
// single-column lookups without a model.
//
// Builder errors latch on the query and surface when it executes.
type ScalarQuery[T any] struct {
	db       *sql.DB
	tx       *sql.Tx
	table    string
	column   string
	wheres   []string
	args     []any
	orderBys []string
	distinct bool
	limit    int
	offset   int
	err      error
}

// Query creates a scalar query for type T against the global connection.
func Query[T any]() *ScalarQuery[T] {
	return &ScalarQuery[T]{db: GetGlobalDB()}
}

func (q *ScalarQuery[T]) setErr(err error) {
	if q.err == nil {
		q.err = err
	}
}

// Err returns the first error recorded while building the query.
func (q *ScalarQuery[T]) Err() error {
	return q.err
}

// Table sets the table to read from.
func (q *ScalarQuery[T]) Table(name string) *ScalarQuery[T] {
	if err := ValidateColumnName(name); err != nil {
		q.setErr(err)
		return q
	}
	q.table = name
	return q
}

// Select sets the column to read.
func (q *ScalarQuery[T]) Select(column string) *ScalarQuery[T] {
	if err := ValidateColumnName(column); err != nil {
		q.setErr(err)
		return q
	}
	q.column = column
	return q
}

// Where adds a WHERE condition, in the same forms Model.Where accepts.
func (q *ScalarQuery[T]) Where(query string, args ...any) *ScalarQuery[T] {
	return q.addWhere("AND", query, args...)
}

// OrWhere adds an OR WHERE condition.
func (q *ScalarQuery[T]) OrWhere(query string, args ...any) *ScalarQuery[T] {
	return q.addWhere("OR", query, args...)
}

func (q *ScalarQuery[T]) addWhere(typ, query string, args ...any) *ScalarQuery[T] {
	frag, fragArgs, err := buildWhereFragment(query, args...)
	if err != nil {
		q.setErr(err)
		return q
	}
	q.wheres = append(q.wheres, typ+" "+frag)
	q.args = append(q.args, fragArgs...)
	return q
}

// WhereIn adds a column IN (...) condition. An empty value list matches
// nothing.
func (q *ScalarQuery[T]) WhereIn(column string, values []any) *ScalarQuery[T] {
	if err := ValidateColumnName(column); err != nil {
		q.setErr(err)
		return q
	}
	if len(values) == 0 {
		q.wheres = append(q.wheres, "AND 1=0")
		return q
	}
	sb := GetStringBuilder()
	sb.WriteString(column)
	sb.WriteString(" IN (")
	writePlaceholders(sb, len(values))
	sb.WriteByte(')')
	q.wheres = append(q.wheres, "AND "+sb.String())
	PutStringBuilder(sb)
	q.args = append(q.args, values...)
	return q
}

// OrderBy adds an ORDER BY clause.
func (q *ScalarQuery[T]) OrderBy(column, direction string) *ScalarQuery[T] {
	if err := ValidateColumnName(column); err != nil {
		q.setErr(err)
		return q
	}
	dir := strings.ToUpper(strings.TrimSpace(direction))
	if dir != "ASC" && dir != "DESC" {
		dir = "ASC"
	}
	q.orderBys = append(q.orderBys, column+" "+dir)
	return q
}

// Limit sets the LIMIT clause.
func (q *ScalarQuery[T]) Limit(n int) *ScalarQuery[T] {
	q.limit = n
	return q
}

// Offset sets the OFFSET clause.
func (q *ScalarQuery[T]) Offset(n int) *ScalarQuery[T] {
	q.offset = n
	return q
}

// Distinct adds DISTINCT to the query.
func (q *ScalarQuery[T]) Distinct() *ScalarQuery[T] {
	q.distinct = true
	return q
}

// SetDB sets a specific database connection.
func (q *ScalarQuery[T]) SetDB(db *sql.DB) *ScalarQuery[T] {
	q.db = db
	return q
}

// WithTx runs the query inside a transaction.
func (q *ScalarQuery[T]) WithTx(tx *Tx) *ScalarQuery[T] {
	q.tx = tx.Tx
	return q
}

// Get executes the query and returns all matching values.
func (q *ScalarQuery[T]) Get(ctx context.Context) ([]T, error) {
	if q.err != nil {
		return nil, q.err
	}
	query := q.buildQuery()

	rows, err := q.queryer().QueryContext(ctx, rebind(query), q.args...)
	if err != nil {
		return nil, WrapQueryError("SELECT", query, q.args, err)
	}
	defer rows.Close()

	initial := q.limit
	if initial <= 0 {
		initial = 16
	}
	results := make([]T, 0, initial)

	for rows.Next() {
		var val T
		if err := rows.Scan(&val); err != nil {
			return nil, WrapQueryError("SCAN", query, q.args, err)
		}
		results = append(results, val)
	}
	if err := rows.Err(); err != nil {
		return nil, WrapQueryError("SCAN", query, q.args, err)
	}
	return results, nil
}

// First returns the first matching value, or ErrRecordNotFound.
func (q *ScalarQuery[T]) First(ctx context.Context) (T, error) {
	saved := q.limit
	q.limit = 1
	results, err := q.Get(ctx)
	q.limit = saved
	if err != nil {
		var zero T
		return zero, err
	}
	if len(results) == 0 {
		var zero T
		return zero, ErrRecordNotFound
	}
	return results[0], nil
}

// Count returns the count of matching rows, ignoring the selected column.
func (q *ScalarQuery[T]) Count(ctx context.Context) (int64, error) {
	if q.err != nil {
		return 0, q.err
	}

	sb := GetStringBuilder()
	sb.WriteString("SELECT COUNT(*) FROM ")
	sb.WriteString(q.table)
	q.whereClause(sb)
	query := strings.Clone(sb.String())
	PutStringBuilder(sb)

	var count int64
	if err := q.queryer().QueryRowContext(ctx, rebind(query), q.args...).Scan(&count); err != nil {
		return 0, WrapQueryError("COUNT", query, q.args, err)
	}
	return count, nil
}

func (q *ScalarQuery[T]) buildQuery() string {
	sb := GetStringBuilder()
	defer PutStringBuilder(sb)

	sb.WriteString("SELECT ")
	if q.distinct {
		sb.WriteString("DISTINCT ")
	}
	if q.column != "" {
		sb.WriteString(q.column)
	} else {
		sb.WriteByte('*')
	}
	sb.WriteString(" FROM ")
	sb.WriteString(q.table)

	q.whereClause(sb)

	if len(q.orderBys) > 0 {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(q.orderBys, ", "))
	}
	if q.limit > 0 {
		sb.WriteString(" LIMIT ")
		sb.WriteString(strconv.Itoa(q.limit))
	}
	if q.offset > 0 {
		sb.WriteString(" OFFSET ")
		sb.WriteString(strconv.Itoa(q.offset))
	}

	return strings.Clone(sb.String())
}

func (q *ScalarQuery[T]) whereClause(sb *strings.Builder) {
	if len(q.wheres) == 0 {
		return
	}
	sb.WriteString(" WHERE 1=1 ")
	for _, w := range q.wheres {
		sb.WriteByte(' ')
		sb.WriteString(w)
	}
}

// Print returns the SQL and arguments without executing, for logging.
func (q *ScalarQuery[T]) Print() (string, []any) {
	return rebind(q.buildQuery()), q.args
}

func (q *ScalarQuery[T]) queryer() interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
} {
	if q.tx != nil {
		return q.tx
	}
	if resolver := GetGlobalDBResolver(); resolver != nil {
		return resolver.Replica()
	}
	if q.db != nil {
		return q.db
	}
	return GetGlobalDB()
}
