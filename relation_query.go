package rorm

import (
	"context"
	"fmt"
	"reflect"
	"strings"
)

// RelationQuery is a query over one relation of one loaded owner instance.
// It supports filtering the related rows, pivot operations for many-to-many
// relations, and relation-scoped mutations.
type RelationQuery[T any] struct {
	model *Model[T]
	owner *T
	name  string
	meta  *relationMeta

	wheres   []string
	args     []any
	orderBys []string
	limit    int

	pivotWheres []string
	pivotArgs   []any

	pivotTableOverride bool
	pivotModelOverride bool

	err error
}

// Relation starts a relation query for one owner instance. The name must
// match a relation method on T, with or without the "Relation" suffix.
func (m *Model[T]) Relation(entity *T, name string) *RelationQuery[T] {
	q := &RelationQuery[T]{model: m, owner: entity, name: name}
	if entity == nil {
		q.err = ErrNilPointer
		return q
	}

	meta, err := resolveRelationByName(m.modelInfo, name, m.resolver)
	if err != nil {
		q.err = err
		return q
	}

	// Builder overrides below mutate the meta, so the query keeps its own
	// copy.
	metaCopy := *meta
	metaCopy.pivotColumns = append([]string(nil), meta.pivotColumns...)
	q.meta = &metaCopy
	return q
}

func (q *RelationQuery[T]) setErr(err error) {
	if q.err == nil {
		q.err = err
	}
}

// Err returns the first error recorded while building the query.
func (q *RelationQuery[T]) Err() error {
	return q.err
}

// Where adds a WHERE condition on the related table.
func (q *RelationQuery[T]) Where(query string, args ...any) *RelationQuery[T] {
	return q.addWhere("AND", query, args...)
}

// OrWhere adds an OR WHERE condition on the related table.
func (q *RelationQuery[T]) OrWhere(query string, args ...any) *RelationQuery[T] {
	return q.addWhere("OR", query, args...)
}

func (q *RelationQuery[T]) addWhere(typ, query string, args ...any) *RelationQuery[T] {
	frag, fragArgs, err := buildWhereFragment(query, args...)
	if err != nil {
		q.setErr(err)
		return q
	}
	q.wheres = append(q.wheres, typ+" "+frag)
	q.args = append(q.args, fragArgs...)
	return q
}

// WhereIn adds a column IN (...) condition on the related table.
func (q *RelationQuery[T]) WhereIn(column string, values []any) *RelationQuery[T] {
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
func (q *RelationQuery[T]) OrderBy(column, direction string) *RelationQuery[T] {
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

// Limit caps the number of related rows returned.
func (q *RelationQuery[T]) Limit(n int) *RelationQuery[T] {
	q.limit = n
	return q
}

// WithPivot requests extra pivot columns to be hydrated into each related
// row's Pivot map. Many-to-many relations only.
func (q *RelationQuery[T]) WithPivot(columns ...string) *RelationQuery[T] {
	if q.err != nil {
		return q
	}
	if q.meta.kind != RelationBelongsToMany {
		q.setErr(q.unsupported("WithPivot"))
		return q
	}
	for _, col := range columns {
		if err := ValidateColumnName(col); err != nil {
			q.setErr(err)
			return q
		}
		q.meta.pivotColumns = append(q.meta.pivotColumns, col)
	}
	return q
}

// WithTimestamps marks the pivot table as carrying created_at/updated_at,
// stamped on Attach.
func (q *RelationQuery[T]) WithTimestamps() *RelationQuery[T] {
	if q.err != nil {
		return q
	}
	if q.meta.kind != RelationBelongsToMany {
		q.setErr(q.unsupported("WithTimestamps"))
		return q
	}
	if q.pivotModelOverride {
		q.setErr(WrapRelationError(q.name, q.meta.ownerInfo.Type.Name(), ErrPivotModelConflict))
		return q
	}
	q.meta.pivotTimestamps = true
	return q
}

// PivotTable overrides the pivot table name for this query.
func (q *RelationQuery[T]) PivotTable(table string) *RelationQuery[T] {
	if q.err != nil {
		return q
	}
	if q.meta.kind != RelationBelongsToMany {
		q.setErr(q.unsupported("PivotTable"))
		return q
	}
	if q.pivotModelOverride {
		q.setErr(WrapRelationError(q.name, q.meta.ownerInfo.Type.Name(), ErrPivotModelConflict))
		return q
	}
	if err := ValidateColumnName(table); err != nil {
		q.setErr(err)
		return q
	}
	q.meta.pivotTable = table
	q.pivotTableOverride = true
	return q
}

// PivotModel routes pivot rows through a registered model, so pivot writes
// run that model's lifecycle hooks. Conflicts with PivotTable and
// WithTimestamps overrides.
func (q *RelationQuery[T]) PivotModel(name string) *RelationQuery[T] {
	if q.err != nil {
		return q
	}
	if q.meta.kind != RelationBelongsToMany {
		q.setErr(q.unsupported("PivotModel"))
		return q
	}
	if q.pivotTableOverride || q.meta.pivotTimestamps && !q.pivotModelOverride {
		q.setErr(WrapRelationError(q.name, q.meta.ownerInfo.Type.Name(), ErrPivotModelConflict))
		return q
	}
	if q.model.resolver == nil {
		q.setErr(WrapRelationError(q.name, q.meta.ownerInfo.Type.Name(),
			fmt.Errorf("%w: no model resolver configured", ErrUnresolvedRelatedModel)))
		return q
	}
	typ, err := q.model.resolver.Resolve(name)
	if err != nil {
		q.setErr(WrapRelationError(q.name, q.meta.ownerInfo.Type.Name(), err))
		return q
	}
	info := ParseModelType(typ)
	q.meta.pivotInfo = info
	q.meta.pivotTable = info.TableName
	_, hasCreated := info.Columns["created_at"]
	_, hasUpdated := info.Columns["updated_at"]
	q.meta.pivotTimestamps = hasCreated && hasUpdated
	q.pivotModelOverride = true
	return q
}

// WherePivot adds a WHERE condition on the pivot table.
func (q *RelationQuery[T]) WherePivot(query string, args ...any) *RelationQuery[T] {
	return q.addWherePivot("AND", query, args...)
}

// OrWherePivot adds an OR WHERE condition on the pivot table.
func (q *RelationQuery[T]) OrWherePivot(query string, args ...any) *RelationQuery[T] {
	return q.addWherePivot("OR", query, args...)
}

func (q *RelationQuery[T]) addWherePivot(typ, query string, args ...any) *RelationQuery[T] {
	if q.err != nil {
		return q
	}
	if q.meta.kind != RelationBelongsToMany {
		q.setErr(q.unsupported("WherePivot"))
		return q
	}
	frag, fragArgs, err := buildWhereFragment(query, args...)
	if err != nil {
		q.setErr(err)
		return q
	}
	q.pivotWheres = append(q.pivotWheres, typ+" "+frag)
	q.pivotArgs = append(q.pivotArgs, fragArgs...)
	return q
}

// WhereInPivot adds a pivot column IN (...) condition.
func (q *RelationQuery[T]) WhereInPivot(column string, values []any) *RelationQuery[T] {
	if q.err != nil {
		return q
	}
	if q.meta.kind != RelationBelongsToMany {
		q.setErr(q.unsupported("WhereInPivot"))
		return q
	}
	if err := ValidateColumnName(column); err != nil {
		q.setErr(err)
		return q
	}
	if len(values) == 0 {
		q.pivotWheres = append(q.pivotWheres, "AND 1=0")
		return q
	}
	sb := GetStringBuilder()
	sb.WriteString(column)
	sb.WriteString(" IN (")
	writePlaceholders(sb, len(values))
	sb.WriteByte(')')
	q.pivotWheres = append(q.pivotWheres, "AND "+sb.String())
	PutStringBuilder(sb)
	q.pivotArgs = append(q.pivotArgs, values...)
	return q
}

func (q *RelationQuery[T]) ownerKey() any {
	return q.meta.ownerKeyFor(reflect.ValueOf(q.owner).Elem())
}

func (q *RelationQuery[T]) constraint() *RelationConstraint {
	return &RelationConstraint{
		wheres:   q.wheres,
		args:     q.args,
		orderBys: q.orderBys,
		limit:    q.limit,
	}
}

// Get fetches the related rows for the owner. Results are pointers to the
// related struct type.
func (q *RelationQuery[T]) Get(ctx context.Context) ([]any, error) {
	if q.err != nil {
		return nil, q.err
	}

	key := q.ownerKey()
	if isZeroKey(key) {
		return nil, nil
	}

	switch q.meta.kind {
	case RelationHasOne, RelationHasMany:
		query, args := buildBatchQuery(q.meta.relatedInfo.TableName, q.meta.foreignKey, []any{key}, q.constraint())
		return q.model.runBatchQuery(ctx, query, args, q.meta.relatedInfo)

	case RelationBelongsTo:
		query, args := buildBatchQuery(q.meta.relatedInfo.TableName, q.meta.ownerKey, []any{key}, q.constraint())
		return q.model.runBatchQuery(ctx, query, args, q.meta.relatedInfo)

	case RelationBelongsToMany:
		return q.getManyToMany(ctx, key)

	case RelationHasManyThrough:
		return q.getThrough(ctx, key)
	}

	return nil, WrapRelationError(q.name, q.meta.ownerInfo.Type.Name(), ErrInvalidRelation)
}

func (q *RelationQuery[T]) getManyToMany(ctx context.Context, key any) ([]any, error) {
	pairs, err := q.model.queryPivotPairs(ctx, q.meta, []any{key}, q.pivotWheres, q.pivotArgs)
	if err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return nil, nil
	}

	relatedKeys := make([]any, 0, len(pairs))
	pivotByKey := make(map[string]map[string]any, len(pairs))
	for _, pair := range pairs {
		relatedKeys = append(relatedKeys, pair.relatedKey)
		pivotByKey[pair.relatedKey] = pair.pivot
	}

	query, args := buildBatchQuery(q.meta.relatedInfo.TableName, q.meta.relatedInfo.PrimaryKey, relatedKeys, q.constraint())
	related, err := q.model.runBatchQuery(ctx, query, args, q.meta.relatedInfo)
	if err != nil {
		return nil, err
	}

	if len(q.meta.pivotColumns) > 0 {
		pkField := q.meta.relatedInfo.Columns[q.meta.relatedInfo.PrimaryKey]
		for _, r := range related {
			elem := reflect.ValueOf(r).Elem()
			pk := anyToKeyString(elem.FieldByIndex(pkField.Index).Interface())
			setPivotMap(elem, pivotByKey[pk])
		}
	}

	return related, nil
}

func (q *RelationQuery[T]) getThrough(ctx context.Context, key any) ([]any, error) {
	interQuery, interArgs := buildBatchQuery(q.meta.throughInfo.TableName, q.meta.throughForeignKey, []any{key}, &RelationConstraint{})
	inters, err := q.model.runBatchQuery(ctx, interQuery, interArgs, q.meta.throughInfo)
	if err != nil {
		return nil, err
	}
	if len(inters) == 0 {
		return nil, nil
	}

	inner := q.meta.throughInner
	matchKeys := collectKeys(inters, inner.ownerKeyFor)
	if len(matchKeys) == 0 {
		return nil, nil
	}

	query, args := buildBatchQuery(q.meta.relatedInfo.TableName, inner.relatedKeyColumn(), matchKeys, q.constraint())
	related, err := q.model.runBatchQuery(ctx, query, args, q.meta.relatedInfo)
	if err != nil {
		return nil, err
	}

	// Two intermediaries can reach the same related row.
	pkField := q.meta.relatedInfo.Columns[q.meta.relatedInfo.PrimaryKey]
	seen := make(map[string]bool, len(related))
	out := related[:0]
	for _, r := range related {
		pk := anyToKeyString(reflect.ValueOf(r).Elem().FieldByIndex(pkField.Index).Interface())
		if seen[pk] {
			continue
		}
		seen[pk] = true
		out = append(out, r)
	}
	return out, nil
}

// First fetches the first related row, or ErrRecordNotFound.
func (q *RelationQuery[T]) First(ctx context.Context) (any, error) {
	if q.err != nil {
		return nil, q.err
	}
	saved := q.limit
	q.limit = 1
	results, err := q.Get(ctx)
	q.limit = saved
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, ErrRecordNotFound
	}
	return results[0], nil
}

// Count counts the related rows for the owner.
func (q *RelationQuery[T]) Count(ctx context.Context) (int64, error) {
	if q.err != nil {
		return 0, q.err
	}

	key := q.ownerKey()
	if isZeroKey(key) {
		return 0, nil
	}

	query, args, err := q.countQuery()
	if err != nil {
		return 0, err
	}
	args = append([]any{key}, args...)

	var count int64
	if err := q.model.queryer().QueryRowContext(ctx, rebind(query), args...).Scan(&count); err != nil {
		return 0, WrapQueryError("SELECT", query, args, err)
	}
	return count, nil
}

func (q *RelationQuery[T]) countQuery() (string, []any, error) {
	sb := GetStringBuilder()
	defer PutStringBuilder(sb)

	sb.WriteString("SELECT COUNT(*) FROM ")
	relatedTable := q.meta.relatedInfo.TableName
	args := make([]any, 0, len(q.pivotArgs)+len(q.args))

	switch q.meta.kind {
	case RelationHasOne, RelationHasMany:
		sb.WriteString(relatedTable)
		sb.WriteString(" WHERE 1=1  AND ")
		sb.WriteString(q.meta.foreignKey)
		sb.WriteString(" = ?")

	case RelationBelongsTo:
		sb.WriteString(relatedTable)
		sb.WriteString(" WHERE 1=1  AND ")
		sb.WriteString(q.meta.ownerKey)
		sb.WriteString(" = ?")

	case RelationBelongsToMany:
		sb.WriteString(q.meta.pivotTable)
		sb.WriteString(" INNER JOIN ")
		sb.WriteString(relatedTable)
		sb.WriteString(" ON ")
		sb.WriteString(relatedTable)
		sb.WriteByte('.')
		sb.WriteString(q.meta.relatedInfo.PrimaryKey)
		sb.WriteString(" = ")
		sb.WriteString(q.meta.pivotTable)
		sb.WriteByte('.')
		sb.WriteString(q.meta.pivotRelatedKey)
		sb.WriteString(" WHERE 1=1  AND ")
		sb.WriteString(q.meta.pivotTable)
		sb.WriteByte('.')
		sb.WriteString(q.meta.pivotForeignKey)
		sb.WriteString(" = ?")
		for _, w := range q.pivotWheres {
			sb.WriteByte(' ')
			sb.WriteString(w)
		}
		args = append(args, q.pivotArgs...)

	case RelationHasManyThrough:
		throughTable := q.meta.throughInfo.TableName
		inner := q.meta.throughInner
		sb.WriteString(relatedTable)
		sb.WriteString(" INNER JOIN ")
		sb.WriteString(throughTable)
		sb.WriteString(" ON ")
		sb.WriteString(relatedTable)
		sb.WriteByte('.')
		sb.WriteString(inner.relatedKeyColumn())
		sb.WriteString(" = ")
		sb.WriteString(throughTable)
		sb.WriteByte('.')
		sb.WriteString(inner.ownerKeyColumn())
		sb.WriteString(" WHERE 1=1  AND ")
		sb.WriteString(throughTable)
		sb.WriteByte('.')
		sb.WriteString(q.meta.throughForeignKey)
		sb.WriteString(" = ?")

	default:
		return "", nil, WrapRelationError(q.name, q.meta.ownerInfo.Type.Name(), ErrInvalidRelation)
	}

	for _, w := range q.wheres {
		sb.WriteByte(' ')
		sb.WriteString(w)
	}
	args = append(args, q.args...)

	return strings.Clone(sb.String()), args, nil
}

func (q *RelationQuery[T]) unsupported(op string) error {
	return WrapRelationError(q.name, q.meta.ownerInfo.Type.Name(),
		fmt.Errorf("%w: %s on %s relation", ErrUnsupportedOperation, op, q.meta.kind))
}

// relatedPtr validates that v is a non-nil pointer to the related type.
func (q *RelationQuery[T]) relatedPtr(v any) (reflect.Value, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return reflect.Value{}, fmt.Errorf("%w: expected non-nil *%s", ErrNilPointer, q.meta.relatedType.Name())
	}
	if rv.Elem().Type() != q.meta.relatedType {
		return reflect.Value{}, fmt.Errorf("%w: expected *%s, got %T", ErrInvalidModel, q.meta.relatedType.Name(), v)
	}
	return rv, nil
}

func (q *RelationQuery[T]) requireOwnerKey() (any, error) {
	key := q.ownerKey()
	if isZeroKey(key) {
		return nil, WrapRelationError(q.name, q.meta.ownerInfo.Type.Name(),
			fmt.Errorf("%w: owner key is zero, persist the owner first", ErrInvalidRelation))
	}
	return key, nil
}

// Save persists a related instance under this relation. For has-type
// relations the foreign key is stamped from the owner, inserting on a zero
// primary key and updating otherwise. For many-to-many the instance is
// inserted when new and attached through the pivot table. BelongsTo and
// through relations do not support Save.
func (q *RelationQuery[T]) Save(ctx context.Context, related any) error {
	if q.err != nil {
		return q.err
	}

	rv, err := q.relatedPtr(related)
	if err != nil {
		return WrapRelationError(q.name, q.meta.ownerInfo.Type.Name(), err)
	}
	key, err := q.requireOwnerKey()
	if err != nil {
		return err
	}

	switch q.meta.kind {
	case RelationHasOne, RelationHasMany:
		fkField, ok := q.meta.relatedInfo.Columns[q.meta.foreignKey]
		if !ok {
			return WrapRelationError(q.name, q.meta.ownerInfo.Type.Name(),
				fmt.Errorf("%w: column %q not mapped on %s", ErrInvalidRelation, q.meta.foreignKey, q.meta.relatedInfo.Type.Name()))
		}
		if err := setFieldValue(rv.Elem().FieldByIndex(fkField.Index), key); err != nil {
			return WrapRelationError(q.name, q.meta.ownerInfo.Type.Name(), err)
		}
		pkField := q.meta.relatedInfo.Columns[q.meta.relatedInfo.PrimaryKey]
		conn := q.model.queryerForWrite()
		if rv.Elem().FieldByIndex(pkField.Index).IsZero() {
			return insertEntity(ctx, conn, q.meta.relatedInfo, rv)
		}
		return updateEntity(ctx, conn, q.meta.relatedInfo, rv)

	case RelationBelongsToMany:
		pkField := q.meta.relatedInfo.Columns[q.meta.relatedInfo.PrimaryKey]
		if rv.Elem().FieldByIndex(pkField.Index).IsZero() {
			if err := insertEntity(ctx, q.model.queryerForWrite(), q.meta.relatedInfo, rv); err != nil {
				return err
			}
		}
		pk := rv.Elem().FieldByIndex(pkField.Index).Interface()
		return q.Attach(ctx, []any{pk})
	}

	return q.unsupported("Save")
}

// SaveMany persists several related instances under this relation.
// Collection relations only: a HasOne cannot hold more than one row.
func (q *RelationQuery[T]) SaveMany(ctx context.Context, related []any) error {
	if q.err != nil {
		return q.err
	}
	switch q.meta.kind {
	case RelationHasMany, RelationBelongsToMany:
	default:
		return q.unsupported("SaveMany")
	}
	for _, r := range related {
		if err := q.Save(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// Create builds a new related instance from attribute values, persists it
// under this relation, and returns a pointer to it.
func (q *RelationQuery[T]) Create(ctx context.Context, attrs map[string]any) (any, error) {
	if q.err != nil {
		return nil, q.err
	}

	switch q.meta.kind {
	case RelationHasOne, RelationHasMany, RelationBelongsToMany:
	default:
		return nil, q.unsupported("Create")
	}

	rv := reflect.New(q.meta.relatedType)
	if err := fillStructValue(rv.Elem(), q.meta.relatedInfo, attrs); err != nil {
		return nil, WrapRelationError(q.name, q.meta.ownerInfo.Type.Name(), err)
	}
	if err := q.Save(ctx, rv.Interface()); err != nil {
		return nil, err
	}
	return rv.Interface(), nil
}

// CreateMany builds and persists several related instances. Collection
// relations only.
func (q *RelationQuery[T]) CreateMany(ctx context.Context, attrs []map[string]any) ([]any, error) {
	if q.err != nil {
		return nil, q.err
	}
	switch q.meta.kind {
	case RelationHasMany, RelationBelongsToMany:
	default:
		return nil, q.unsupported("CreateMany")
	}
	out := make([]any, 0, len(attrs))
	for _, a := range attrs {
		r, err := q.Create(ctx, a)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Associate points the owner's foreign key at the given related instance
// and persists just that column. BelongsTo relations only.
func (q *RelationQuery[T]) Associate(ctx context.Context, related any) error {
	if q.err != nil {
		return q.err
	}
	if q.meta.kind != RelationBelongsTo {
		return q.unsupported("Associate")
	}

	rv, err := q.relatedPtr(related)
	if err != nil {
		return WrapRelationError(q.name, q.meta.ownerInfo.Type.Name(), err)
	}

	ownerKeyField, ok := q.meta.relatedInfo.Columns[q.meta.ownerKey]
	if !ok {
		return WrapRelationError(q.name, q.meta.ownerInfo.Type.Name(),
			fmt.Errorf("%w: column %q not mapped on %s", ErrInvalidRelation, q.meta.ownerKey, q.meta.relatedInfo.Type.Name()))
	}
	keyVal := rv.Elem().FieldByIndex(ownerKeyField.Index).Interface()
	if isZeroKey(keyVal) {
		return WrapRelationError(q.name, q.meta.ownerInfo.Type.Name(),
			fmt.Errorf("%w: related key is zero, persist the related instance first", ErrInvalidRelation))
	}

	ownerElem := reflect.ValueOf(q.owner).Elem()
	fkField, ok := q.meta.ownerInfo.Columns[q.meta.foreignKey]
	if !ok {
		return WrapRelationError(q.name, q.meta.ownerInfo.Type.Name(),
			fmt.Errorf("%w: column %q not mapped on %s", ErrInvalidRelation, q.meta.foreignKey, q.meta.ownerInfo.Type.Name()))
	}
	if err := setFieldValue(ownerElem.FieldByIndex(fkField.Index), keyVal); err != nil {
		return WrapRelationError(q.name, q.meta.ownerInfo.Type.Name(), err)
	}

	if field, err := q.meta.fieldFor(); err == nil {
		_ = assignRelation(ownerElem, field, []any{rv.Interface()}, true)
	}

	return updateEntityColumns(ctx, q.model.queryerForWrite(), q.meta.ownerInfo,
		reflect.ValueOf(q.owner), []string{q.meta.foreignKey})
}

// Dissociate clears the owner's foreign key and persists just that column.
// BelongsTo relations only.
func (q *RelationQuery[T]) Dissociate(ctx context.Context) error {
	if q.err != nil {
		return q.err
	}
	if q.meta.kind != RelationBelongsTo {
		return q.unsupported("Dissociate")
	}

	ownerElem := reflect.ValueOf(q.owner).Elem()
	fkField, ok := q.meta.ownerInfo.Columns[q.meta.foreignKey]
	if !ok {
		return WrapRelationError(q.name, q.meta.ownerInfo.Type.Name(),
			fmt.Errorf("%w: column %q not mapped on %s", ErrInvalidRelation, q.meta.foreignKey, q.meta.ownerInfo.Type.Name()))
	}
	ownerElem.FieldByIndex(fkField.Index).Set(reflect.Zero(fkField.FieldType))

	if field, err := q.meta.fieldFor(); err == nil {
		fv := ownerElem.FieldByIndex(field.Index)
		if fv.CanSet() {
			fv.Set(reflect.Zero(fv.Type()))
		}
	}

	return updateEntityColumns(ctx, q.model.queryerForWrite(), q.meta.ownerInfo,
		reflect.ValueOf(q.owner), []string{q.meta.foreignKey})
}
