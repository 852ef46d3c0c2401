package rorm

import (
	"context"
	"reflect"
	"sort"
	"strings"
	"time"
)

// PivotRow describes one pivot table row about to be written by Attach.
// Callbacks may add extra column values through Columns.
type PivotRow struct {
	OwnerKey   any
	RelatedKey any
	Columns    map[string]any
}

// PivotFunc customizes a pivot row before it is inserted.
type PivotFunc func(row *PivotRow)

// membership reads the related keys currently attached to the owner.
func (q *RelationQuery[T]) membership(ctx context.Context, ownerKey any) (map[string]bool, error) {
	sq := Query[string]().
		Table(q.meta.pivotTable).
		Select(q.meta.pivotRelatedKey).
		Where(q.meta.pivotForeignKey, ownerKey)
	sq.db = q.model.db
	sq.tx = q.model.tx

	keys, err := sq.Get(ctx)
	if err != nil {
		return nil, err
	}

	existing := make(map[string]bool, len(keys))
	for _, k := range keys {
		existing[k] = true
	}
	return existing, nil
}

// Attach links the given related keys to the owner through the pivot table.
// Attaching is idempotent by membership: keys already linked are skipped,
// so callbacks never run for them. Many-to-many relations only.
func (q *RelationQuery[T]) Attach(ctx context.Context, ids []any, fns ...PivotFunc) error {
	if q.err != nil {
		return q.err
	}
	if q.meta.kind != RelationBelongsToMany {
		return q.unsupported("Attach")
	}

	key, err := q.requireOwnerKey()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	existing, err := q.membership(ctx, key)
	if err != nil {
		return err
	}

	conn := q.model.queryerForWrite()
	for _, id := range ids {
		ks := anyToKeyString(id)
		if existing[ks] {
			continue
		}
		existing[ks] = true

		row := &PivotRow{OwnerKey: key, RelatedKey: id, Columns: make(map[string]any)}
		for _, fn := range fns {
			fn(row)
		}

		if err := q.insertPivotRow(ctx, conn, row); err != nil {
			return err
		}
	}
	return nil
}

func (q *RelationQuery[T]) insertPivotRow(ctx context.Context, conn dbConn, row *PivotRow) error {
	now := time.Now()

	// Pivot-model routing: build an instance of the registered model so its
	// lifecycle hooks run on insert.
	if q.meta.pivotInfo != nil {
		data := make(map[string]any, len(row.Columns)+4)
		for k, v := range row.Columns {
			data[k] = v
		}
		data[q.meta.pivotForeignKey] = row.OwnerKey
		data[q.meta.pivotRelatedKey] = row.RelatedKey
		if q.meta.pivotTimestamps {
			data["created_at"] = now
			data["updated_at"] = now
		}

		rv := reflect.New(q.meta.pivotInfo.Type)
		if err := fillStructValue(rv.Elem(), q.meta.pivotInfo, data); err != nil {
			return WrapRelationError(q.name, q.meta.ownerInfo.Type.Name(), err)
		}
		return insertEntity(ctx, conn, q.meta.pivotInfo, rv)
	}

	columns := []string{q.meta.pivotForeignKey, q.meta.pivotRelatedKey}
	values := []any{row.OwnerKey, row.RelatedKey}

	extra := make([]string, 0, len(row.Columns))
	for col := range row.Columns {
		if err := ValidateColumnName(col); err != nil {
			return err
		}
		extra = append(extra, col)
	}
	sort.Strings(extra)
	for _, col := range extra {
		columns = append(columns, col)
		values = append(values, row.Columns[col])
	}

	if q.meta.pivotTimestamps {
		columns = append(columns, "created_at", "updated_at")
		values = append(values, now, now)
	}

	sb := GetStringBuilder()
	sb.WriteString("INSERT INTO ")
	sb.WriteString(q.meta.pivotTable)
	sb.WriteString(" (")
	sb.WriteString(strings.Join(columns, ", "))
	sb.WriteString(") VALUES (")
	writePlaceholders(sb, len(columns))
	sb.WriteByte(')')
	query := strings.Clone(sb.String())
	PutStringBuilder(sb)

	if _, err := conn.ExecContext(ctx, rebind(query), values...); err != nil {
		return WrapQueryError("INSERT", query, values, err)
	}
	return nil
}

// Detach unlinks the given related keys from the owner. With no keys, every
// pivot row for the owner is removed. Keys not currently linked are ignored.
func (q *RelationQuery[T]) Detach(ctx context.Context, ids ...any) error {
	if q.err != nil {
		return q.err
	}
	if q.meta.kind != RelationBelongsToMany {
		return q.unsupported("Detach")
	}

	key, err := q.requireOwnerKey()
	if err != nil {
		return err
	}

	sb := GetStringBuilder()
	sb.WriteString("DELETE FROM ")
	sb.WriteString(q.meta.pivotTable)
	sb.WriteString(" WHERE ")
	sb.WriteString(q.meta.pivotForeignKey)
	sb.WriteString(" = ?")

	args := make([]any, 0, len(ids)+1)
	args = append(args, key)

	if len(ids) > 0 {
		sb.WriteString(" AND ")
		sb.WriteString(q.meta.pivotRelatedKey)
		sb.WriteString(" IN (")
		writePlaceholders(sb, len(ids))
		sb.WriteByte(')')
		args = append(args, ids...)
	}

	query := strings.Clone(sb.String())
	PutStringBuilder(sb)

	if _, err := q.model.queryerForWrite().ExecContext(ctx, rebind(query), args...); err != nil {
		return WrapQueryError("DELETE", query, args, err)
	}
	return nil
}

// Sync makes the pivot rows for the owner exactly match the given keys:
// everything currently attached is detached, then the keys are attached
// fresh. Callbacks run for every key.
func (q *RelationQuery[T]) Sync(ctx context.Context, ids []any, fns ...PivotFunc) error {
	if q.err != nil {
		return q.err
	}
	if q.meta.kind != RelationBelongsToMany {
		return q.unsupported("Sync")
	}
	if err := q.Detach(ctx); err != nil {
		return err
	}
	return q.Attach(ctx, ids, fns...)
}

// PivotQuery starts a raw query over the pivot table, scoped to the owner.
// Many-to-many relations only.
func (q *RelationQuery[T]) PivotQuery() *PivotQueryBuilder {
	pq := &PivotQueryBuilder{}
	if q.err != nil {
		pq.err = q.err
		return pq
	}
	if q.meta.kind != RelationBelongsToMany {
		pq.err = q.unsupported("PivotQuery")
		return pq
	}

	key, err := q.requireOwnerKey()
	if err != nil {
		pq.err = err
		return pq
	}

	pq.read = q.model.queryer()
	pq.write = q.model.queryerForWrite()
	pq.table = q.meta.pivotTable
	pq.wheres = []string{"AND " + q.meta.pivotForeignKey + " = ?"}
	pq.args = []any{key}
	return pq
}

// PivotQueryBuilder queries and mutates raw pivot rows for one owner.
type PivotQueryBuilder struct {
	read   dbConn
	write  dbConn
	table  string
	wheres []string
	args   []any
	err    error
}

// Where adds a WHERE condition on the pivot table.
func (pq *PivotQueryBuilder) Where(query string, args ...any) *PivotQueryBuilder {
	return pq.addWhere("AND", query, args...)
}

// OrWhere adds an OR WHERE condition on the pivot table.
func (pq *PivotQueryBuilder) OrWhere(query string, args ...any) *PivotQueryBuilder {
	return pq.addWhere("OR", query, args...)
}

func (pq *PivotQueryBuilder) addWhere(typ, query string, args ...any) *PivotQueryBuilder {
	frag, fragArgs, err := buildWhereFragment(query, args...)
	if err != nil {
		if pq.err == nil {
			pq.err = err
		}
		return pq
	}
	pq.wheres = append(pq.wheres, typ+" "+frag)
	pq.args = append(pq.args, fragArgs...)
	return pq
}

// WhereIn adds a column IN (...) condition on the pivot table.
func (pq *PivotQueryBuilder) WhereIn(column string, values []any) *PivotQueryBuilder {
	if err := ValidateColumnName(column); err != nil {
		if pq.err == nil {
			pq.err = err
		}
		return pq
	}
	if len(values) == 0 {
		pq.wheres = append(pq.wheres, "AND 1=0")
		return pq
	}
	sb := GetStringBuilder()
	sb.WriteString(column)
	sb.WriteString(" IN (")
	writePlaceholders(sb, len(values))
	sb.WriteByte(')')
	pq.wheres = append(pq.wheres, "AND "+sb.String())
	PutStringBuilder(sb)
	pq.args = append(pq.args, values...)
	return pq
}

func (pq *PivotQueryBuilder) whereClause(sb *strings.Builder) {
	sb.WriteString(" WHERE 1=1 ")
	for _, w := range pq.wheres {
		sb.WriteByte(' ')
		sb.WriteString(w)
	}
}

// Get returns the matching pivot rows as column-keyed maps.
func (pq *PivotQueryBuilder) Get(ctx context.Context) ([]map[string]any, error) {
	if pq.err != nil {
		return nil, pq.err
	}

	sb := GetStringBuilder()
	sb.WriteString("SELECT * FROM ")
	sb.WriteString(pq.table)
	pq.whereClause(sb)
	query := strings.Clone(sb.String())
	PutStringBuilder(sb)

	rows, err := pq.read.QueryContext(ctx, rebind(query), pq.args...)
	if err != nil {
		return nil, WrapQueryError("SELECT", query, pq.args, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, WrapQueryError("SELECT", query, pq.args, err)
	}

	var results []map[string]any
	for rows.Next() {
		vals := make([]any, len(columns))
		dest := make([]any, len(columns))
		for i := range vals {
			dest[i] = &vals[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, WrapQueryError("SCAN", query, pq.args, err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = vals[i]
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

// Count counts the matching pivot rows.
func (pq *PivotQueryBuilder) Count(ctx context.Context) (int64, error) {
	if pq.err != nil {
		return 0, pq.err
	}

	sb := GetStringBuilder()
	sb.WriteString("SELECT COUNT(*) FROM ")
	sb.WriteString(pq.table)
	pq.whereClause(sb)
	query := strings.Clone(sb.String())
	PutStringBuilder(sb)

	var count int64
	if err := pq.read.QueryRowContext(ctx, rebind(query), pq.args...).Scan(&count); err != nil {
		return 0, WrapQueryError("COUNT", query, pq.args, err)
	}
	return count, nil
}

// Update sets column values on the matching pivot rows.
func (pq *PivotQueryBuilder) Update(ctx context.Context, values map[string]any) error {
	if pq.err != nil {
		return pq.err
	}
	if len(values) == 0 {
		return nil
	}

	cols := make([]string, 0, len(values))
	for col := range values {
		if err := ValidateColumnName(col); err != nil {
			return err
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	sb := GetStringBuilder()
	sb.WriteString("UPDATE ")
	sb.WriteString(pq.table)
	sb.WriteString(" SET ")

	args := make([]any, 0, len(cols)+len(pq.args))
	for i, col := range cols {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(col)
		sb.WriteString(" = ?")
		args = append(args, values[col])
	}
	pq.whereClause(sb)
	args = append(args, pq.args...)

	query := strings.Clone(sb.String())
	PutStringBuilder(sb)

	if _, err := pq.write.ExecContext(ctx, rebind(query), args...); err != nil {
		return WrapQueryError("UPDATE", query, args, err)
	}
	return nil
}

// Delete removes the matching pivot rows.
func (pq *PivotQueryBuilder) Delete(ctx context.Context) error {
	if pq.err != nil {
		return pq.err
	}

	sb := GetStringBuilder()
	sb.WriteString("DELETE FROM ")
	sb.WriteString(pq.table)
	pq.whereClause(sb)
	query := strings.Clone(sb.String())
	PutStringBuilder(sb)

	if _, err := pq.write.ExecContext(ctx, rebind(query), pq.args...); err != nil {
		return WrapQueryError("DELETE", query, pq.args, err)
	}
	return nil
}
