package rorm

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
)

// ConstraintFunc narrows the batched query of one eager-load path node. The
// callback receives a constraint builder, not the full model query: only
// operations that compose with batched loading are exposed.
type ConstraintFunc func(q *RelationConstraint)

// RelationConstraint accumulates filters for one relation's batched query.
// Nested With calls request deeper eager loads from inside a callback.
type RelationConstraint struct {
	wheres   []string
	args     []any
	orderBys []string
	limit    int
	nested   []eagerSpec
	err      error
}

func (q *RelationConstraint) setErr(err error) {
	if q.err == nil {
		q.err = err
	}
}

// Where adds a WHERE condition, in the same forms Model.Where accepts.
func (q *RelationConstraint) Where(query string, args ...any) *RelationConstraint {
	return q.addWhere("AND", query, args...)
}

// OrWhere adds an OR WHERE condition.
func (q *RelationConstraint) OrWhere(query string, args ...any) *RelationConstraint {
	return q.addWhere("OR", query, args...)
}

func (q *RelationConstraint) addWhere(typ string, query string, args ...any) *RelationConstraint {
	frag, fragArgs, err := buildWhereFragment(query, args...)
	if err != nil {
		q.setErr(err)
		return q
	}
	q.wheres = append(q.wheres, typ+" "+frag)
	q.args = append(q.args, fragArgs...)
	return q
}

// WhereIn adds a column IN (...) condition.
func (q *RelationConstraint) WhereIn(column string, values []any) *RelationConstraint {
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

// OrderBy adds an ORDER BY clause to the batched query.
func (q *RelationConstraint) OrderBy(column, direction string) *RelationConstraint {
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

// Limit caps the batched query. The cap applies to the whole batch, not per
// owner.
func (q *RelationConstraint) Limit(n int) *RelationConstraint {
	q.limit = n
	return q
}

// With requests a deeper eager load below this node.
func (q *RelationConstraint) With(path string, cbs ...ConstraintFunc) *RelationConstraint {
	q.nested = append(q.nested, eagerSpec{path: path, constraint: firstConstraint(cbs)})
	return q
}

// eagerSpec is one user-supplied eager-load request before tree merging.
type eagerSpec struct {
	path       string
	constraint ConstraintFunc
}

func firstConstraint(cbs []ConstraintFunc) ConstraintFunc {
	if len(cbs) > 0 {
		return cbs[0]
	}
	return nil
}

// With registers an eager load for a relation path. Dotted paths descend
// through nested relations; the optional constraint applies to the deepest
// node of this path.
func (m *Model[T]) With(path string, cbs ...ConstraintFunc) *Model[T] {
	if strings.TrimSpace(path) == "" {
		m.setErr(fmt.Errorf("%w: empty relation path", ErrInvalidIdentifier))
		return m
	}
	m.eagers = append(m.eagers, eagerSpec{path: path, constraint: firstConstraint(cbs)})
	return m
}

// Load eager-loads a relation path onto one already-materialized instance.
func (m *Model[T]) Load(ctx context.Context, entity *T, path string, cbs ...ConstraintFunc) error {
	if entity == nil {
		return ErrNilPointer
	}
	return m.LoadSlice(ctx, []*T{entity}, path, cbs...)
}

// LoadSlice eager-loads a relation path onto a slice of instances with the
// same batching as With.
func (m *Model[T]) LoadSlice(ctx context.Context, entities []*T, path string, cbs ...ConstraintFunc) error {
	q := m.Clone()
	q.eagers = []eagerSpec{{path: path, constraint: firstConstraint(cbs)}}
	return q.loadRelations(ctx, entities)
}

// LoadMany eager-loads several relation paths at once; map values are
// optional per-path constraints and may be nil.
func (m *Model[T]) LoadMany(ctx context.Context, entities []*T, relations map[string]ConstraintFunc) error {
	q := m.Clone()
	q.eagers = nil
	for path, cb := range relations {
		q.eagers = append(q.eagers, eagerSpec{path: path, constraint: cb})
	}
	return q.loadRelations(ctx, entities)
}

// eagerNode is one node of the merged eager-load tree.
type eagerNode struct {
	name        string
	constraints []ConstraintFunc
	children    map[string]*eagerNode
}

// buildEagerTree merges dotted-path specs into a tree. A spec's constraint
// lands on the deepest node of its own path.
func buildEagerTree(specs []eagerSpec) map[string]*eagerNode {
	roots := make(map[string]*eagerNode)
	for _, spec := range specs {
		segments := strings.Split(spec.path, ".")
		level := roots
		var node *eagerNode
		for _, seg := range segments {
			seg = strings.TrimSpace(seg)
			if seg == "" {
				continue
			}
			node = level[seg]
			if node == nil {
				node = &eagerNode{name: seg, children: make(map[string]*eagerNode)}
				level[seg] = node
			}
			level = node.children
		}
		if node != nil && spec.constraint != nil {
			node.constraints = append(node.constraints, spec.constraint)
		}
	}
	return roots
}

// loadRelations resolves every configured eager load for the given results.
// Each tree node costs a fixed number of queries regardless of how many
// owners were fetched; sibling nodes run concurrently.
func (m *Model[T]) loadRelations(ctx context.Context, results []*T) error {
	if len(m.eagers) == 0 || len(results) == 0 {
		return nil
	}

	parents := make([]any, len(results))
	for i, r := range results {
		parents[i] = r
	}

	return m.loadEagerLevel(ctx, parents, m.modelInfo, buildEagerTree(m.eagers))
}

func (m *Model[T]) loadEagerLevel(ctx context.Context, parents []any, parentInfo *ModelInfo, nodes map[string]*eagerNode) error {
	if len(parents) == 0 || len(nodes) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, node := range nodes {
		node := node
		g.Go(func() error {
			return m.loadEagerNode(gctx, parents, parentInfo, node)
		})
	}
	return g.Wait()
}

func (m *Model[T]) loadEagerNode(ctx context.Context, parents []any, parentInfo *ModelInfo, node *eagerNode) error {
	meta, err := resolveRelationByName(parentInfo, node.name, m.resolver)
	if err != nil {
		return err
	}

	// A constraint's where fragments bind to the deepest node of its own
	// path: when other paths created children under this node, only the
	// callback's nested With calls are honored.
	applyFilters := len(node.children) == 0

	rc := &RelationConstraint{}
	for _, cb := range node.constraints {
		cb(rc)
	}
	if rc.err != nil {
		return WrapRelationError(node.name, parentInfo.Type.Name(), rc.err)
	}
	if !applyFilters {
		rc = &RelationConstraint{nested: rc.nested}
	}

	children := node.children
	if len(rc.nested) > 0 {
		children = mergeEagerTrees(children, buildEagerTree(rc.nested))
	}

	switch meta.kind {
	case RelationHasOne, RelationHasMany:
		err = m.loadHasOneOrMany(ctx, parents, meta, rc)
	case RelationBelongsTo:
		err = m.loadBelongsTo(ctx, parents, meta, rc)
	case RelationBelongsToMany:
		err = m.loadBelongsToMany(ctx, parents, meta, rc)
	case RelationHasManyThrough:
		err = m.loadHasManyThrough(ctx, parents, meta, rc)
	default:
		err = WrapRelationError(node.name, parentInfo.Type.Name(), ErrInvalidRelation)
	}
	if err != nil {
		return err
	}
	if len(children) == 0 {
		return nil
	}

	// Deeper levels must write through to what the owners actually hold, so
	// recursion walks the stitched fields, not the scanned instances: a
	// value-typed slice received copies during stitching.
	field, err := meta.fieldFor()
	if err != nil {
		return err
	}
	return m.loadEagerLevel(ctx, stitchedChildren(parents, field), meta.relatedInfo, children)
}

// stitchedChildren gathers addressable pointers to the relation instances
// stitched onto the parents, for the next eager level to load onto.
func stitchedChildren(parents []any, field *FieldInfo) []any {
	var next []any
	for _, p := range parents {
		fv := reflect.ValueOf(p).Elem().FieldByIndex(field.Index)
		switch fv.Kind() {
		case reflect.Pointer:
			if !fv.IsNil() {
				next = append(next, fv.Interface())
			}
		case reflect.Struct:
			next = append(next, fv.Addr().Interface())
		case reflect.Slice:
			for i := 0; i < fv.Len(); i++ {
				ev := fv.Index(i)
				if ev.Kind() == reflect.Pointer {
					if !ev.IsNil() {
						next = append(next, ev.Interface())
					}
					continue
				}
				next = append(next, ev.Addr().Interface())
			}
		}
	}
	return next
}

func mergeEagerTrees(a, b map[string]*eagerNode) map[string]*eagerNode {
	if len(b) == 0 {
		return a
	}
	merged := make(map[string]*eagerNode, len(a)+len(b))
	for k, v := range a {
		merged[k] = v
	}
	for k, v := range b {
		if existing, ok := merged[k]; ok {
			existing.constraints = append(existing.constraints, v.constraints...)
			existing.children = mergeEagerTrees(existing.children, v.children)
			continue
		}
		merged[k] = v
	}
	return merged
}

// collectKeys gathers deduplicated, non-zero key values from parents in
// first-seen order.
func collectKeys(parents []any, get func(reflect.Value) any) []any {
	seen := make(map[string]bool, len(parents))
	keys := make([]any, 0, len(parents))
	for _, p := range parents {
		v := get(reflect.ValueOf(p).Elem())
		if isZeroKey(v) {
			continue
		}
		k := anyToKeyString(v)
		if seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, v)
	}
	return keys
}

// buildBatchQuery builds "SELECT * FROM table WHERE 1=1  AND keyCol IN (...)"
// plus any constraint fragments.
func buildBatchQuery(table, keyCol string, keys []any, rc *RelationConstraint) (string, []any) {
	sb := GetStringBuilder()
	defer PutStringBuilder(sb)

	sb.WriteString("SELECT * FROM ")
	sb.WriteString(table)
	sb.WriteString(" WHERE 1=1  AND ")
	sb.WriteString(keyCol)
	sb.WriteString(" IN (")
	writePlaceholders(sb, len(keys))
	sb.WriteByte(')')

	args := make([]any, 0, len(keys)+len(rc.args))
	args = append(args, keys...)

	for _, w := range rc.wheres {
		sb.WriteByte(' ')
		sb.WriteString(w)
	}
	args = append(args, rc.args...)

	if len(rc.orderBys) > 0 {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(rc.orderBys, ", "))
	}
	if rc.limit > 0 {
		sb.WriteString(" LIMIT ")
		sb.WriteString(strconv.Itoa(rc.limit))
	}

	return strings.Clone(sb.String()), args
}

// runBatchQuery executes a batched relation query and scans rows into
// instances of info's type.
func (m *Model[T]) runBatchQuery(ctx context.Context, query string, args []any, info *ModelInfo) ([]any, error) {
	rows, err := m.queryer().QueryContext(ctx, rebind(query), args...)
	if err != nil {
		return nil, WrapQueryError("SELECT", query, args, err)
	}
	defer rows.Close()

	results, err := m.scanRowsDynamic(rows, info)
	if err != nil {
		return nil, WrapQueryError("SCAN", query, args, err)
	}
	return results, nil
}

// loadHasOneOrMany batches "WHERE fk IN (owner keys)" and stitches results
// back onto each owner.
func (m *Model[T]) loadHasOneOrMany(ctx context.Context, parents []any, meta *relationMeta, rc *RelationConstraint) error {
	keys := collectKeys(parents, meta.ownerKeyFor)
	field, err := meta.fieldFor()
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	query, args := buildBatchQuery(meta.relatedInfo.TableName, meta.foreignKey, keys, rc)
	related, err := m.runBatchQuery(ctx, query, args, meta.relatedInfo)
	if err != nil {
		return err
	}

	// Group related rows by their foreign key value.
	fkField := meta.relatedInfo.Columns[meta.foreignKey]
	if fkField == nil {
		return WrapRelationError(meta.name, meta.ownerInfo.Type.Name(),
			fmt.Errorf("%w: column %q not mapped on %s", ErrInvalidRelation, meta.foreignKey, meta.relatedInfo.Type.Name()))
	}
	groups := make(map[string][]any, len(keys))
	for _, r := range related {
		fk := reflect.ValueOf(r).Elem().FieldByIndex(fkField.Index).Interface()
		k := anyToKeyString(fk)
		groups[k] = append(groups[k], r)
	}

	single := meta.kind == RelationHasOne
	for _, p := range parents {
		elem := reflect.ValueOf(p).Elem()
		k := anyToKeyString(meta.ownerKeyFor(elem))
		if err := assignRelation(elem, field, groups[k], single); err != nil {
			return WrapRelationError(meta.name, meta.ownerInfo.Type.Name(), err)
		}
	}

	return nil
}

// loadBelongsTo batches "WHERE owner_key IN (fk values)" and assigns each
// owner its single related row. Owners with a zero foreign key are skipped.
func (m *Model[T]) loadBelongsTo(ctx context.Context, parents []any, meta *relationMeta, rc *RelationConstraint) error {
	keys := collectKeys(parents, meta.ownerKeyFor)
	field, err := meta.fieldFor()
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	query, args := buildBatchQuery(meta.relatedInfo.TableName, meta.ownerKey, keys, rc)
	related, err := m.runBatchQuery(ctx, query, args, meta.relatedInfo)
	if err != nil {
		return err
	}

	ownerKeyField := meta.relatedInfo.Columns[meta.ownerKey]
	if ownerKeyField == nil {
		return WrapRelationError(meta.name, meta.ownerInfo.Type.Name(),
			fmt.Errorf("%w: column %q not mapped on %s", ErrInvalidRelation, meta.ownerKey, meta.relatedInfo.Type.Name()))
	}
	byKey := make(map[string]any, len(related))
	for _, r := range related {
		kv := reflect.ValueOf(r).Elem().FieldByIndex(ownerKeyField.Index).Interface()
		byKey[anyToKeyString(kv)] = r
	}

	for _, p := range parents {
		elem := reflect.ValueOf(p).Elem()
		fk := meta.ownerKeyFor(elem)
		if isZeroKey(fk) {
			continue
		}
		if r, ok := byKey[anyToKeyString(fk)]; ok {
			if err := assignRelation(elem, field, []any{r}, true); err != nil {
				return WrapRelationError(meta.name, meta.ownerInfo.Type.Name(), err)
			}
		}
	}

	return nil
}

// pivotPair is one (owner, related) edge read from a pivot table.
type pivotPair struct {
	ownerKey   string
	relatedKey string
	pivot      map[string]any
}

// loadBelongsToMany runs two batched queries: the pivot edges for all
// owners, then the related rows for the distinct related keys.
func (m *Model[T]) loadBelongsToMany(ctx context.Context, parents []any, meta *relationMeta, rc *RelationConstraint) error {
	keys := collectKeys(parents, meta.ownerKeyFor)
	field, err := meta.fieldFor()
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	pairs, err := m.queryPivotPairs(ctx, meta, keys, nil, nil)
	if err != nil {
		return err
	}
	if len(pairs) == 0 {
		return nil
	}

	// Distinct related keys preserve pivot order.
	seen := make(map[string]bool, len(pairs))
	relatedKeys := make([]any, 0, len(pairs))
	for _, pair := range pairs {
		if !seen[pair.relatedKey] {
			seen[pair.relatedKey] = true
			relatedKeys = append(relatedKeys, pair.relatedKey)
		}
	}

	query, args := buildBatchQuery(meta.relatedInfo.TableName, meta.relatedInfo.PrimaryKey, relatedKeys, rc)
	related, err := m.runBatchQuery(ctx, query, args, meta.relatedInfo)
	if err != nil {
		return err
	}

	pkField := meta.relatedInfo.Columns[meta.relatedInfo.PrimaryKey]
	byKey := make(map[string]any, len(related))
	for _, r := range related {
		pk := reflect.ValueOf(r).Elem().FieldByIndex(pkField.Index).Interface()
		byKey[anyToKeyString(pk)] = r
	}

	pairsByOwner := make(map[string][]pivotPair, len(keys))
	for _, pair := range pairs {
		pairsByOwner[pair.ownerKey] = append(pairsByOwner[pair.ownerKey], pair)
	}

	wantPivot := len(meta.pivotColumns) > 0

	for _, p := range parents {
		elem := reflect.ValueOf(p).Elem()
		ownerKey := anyToKeyString(meta.ownerKeyFor(elem))

		var list []any
		for _, pair := range pairsByOwner[ownerKey] {
			r, ok := byKey[pair.relatedKey]
			if !ok {
				continue
			}
			if wantPivot {
				// Each (owner, related) edge gets its own copy so pivot
				// values cannot leak between owners sharing a related row.
				r = clonePtr(r)
				setPivotMap(reflect.ValueOf(r).Elem(), pair.pivot)
			}
			list = append(list, r)
		}
		if err := assignRelation(elem, field, list, false); err != nil {
			return WrapRelationError(meta.name, meta.ownerInfo.Type.Name(), err)
		}
	}

	return nil
}

// queryPivotPairs reads pivot edges for the given owner keys, optionally
// narrowed by extra pivot where fragments.
func (m *Model[T]) queryPivotPairs(ctx context.Context, meta *relationMeta, ownerKeys []any, extraWheres []string, extraArgs []any) ([]pivotPair, error) {
	sb := GetStringBuilder()
	sb.WriteString("SELECT ")
	sb.WriteString(meta.pivotForeignKey)
	sb.WriteString(", ")
	sb.WriteString(meta.pivotRelatedKey)
	for _, col := range meta.pivotColumns {
		sb.WriteString(", ")
		sb.WriteString(col)
	}
	sb.WriteString(" FROM ")
	sb.WriteString(meta.pivotTable)
	sb.WriteString(" WHERE 1=1  AND ")
	sb.WriteString(meta.pivotForeignKey)
	sb.WriteString(" IN (")
	writePlaceholders(sb, len(ownerKeys))
	sb.WriteByte(')')
	for _, w := range extraWheres {
		sb.WriteByte(' ')
		sb.WriteString(w)
	}
	query := strings.Clone(sb.String())
	PutStringBuilder(sb)

	args := make([]any, 0, len(ownerKeys)+len(extraArgs))
	args = append(args, ownerKeys...)
	args = append(args, extraArgs...)

	rows, err := m.queryer().QueryContext(ctx, rebind(query), args...)
	if err != nil {
		return nil, WrapQueryError("SELECT", query, args, err)
	}
	defer rows.Close()

	var pairs []pivotPair
	extras := len(meta.pivotColumns)
	dest := make([]any, 2+extras)

	for rows.Next() {
		var fk, rk any
		dest[0] = &fk
		dest[1] = &rk
		extraVals := make([]any, extras)
		for i := range extraVals {
			dest[2+i] = &extraVals[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, WrapQueryError("SCAN", query, args, err)
		}

		pair := pivotPair{
			ownerKey:   anyToKeyString(fk),
			relatedKey: anyToKeyString(rk),
		}
		if extras > 0 {
			pair.pivot = make(map[string]any, extras)
			for i, col := range meta.pivotColumns {
				pair.pivot[col] = extraVals[i]
			}
		}
		pairs = append(pairs, pair)
	}

	return pairs, rows.Err()
}

// loadHasManyThrough composes two batched hops: owner -> intermediary ->
// related. Results are deduplicated per owner by related primary key.
func (m *Model[T]) loadHasManyThrough(ctx context.Context, parents []any, meta *relationMeta, rc *RelationConstraint) error {
	keys := collectKeys(parents, meta.ownerKeyFor)
	field, err := meta.fieldFor()
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	// Hop 1: intermediaries for all owners in one query.
	interQuery, interArgs := buildBatchQuery(meta.throughInfo.TableName, meta.throughForeignKey, keys, &RelationConstraint{})
	inters, err := m.runBatchQuery(ctx, interQuery, interArgs, meta.throughInfo)
	if err != nil {
		return err
	}
	if len(inters) == 0 {
		return nil
	}

	inner := meta.throughInner

	// Hop 2: related rows for all intermediaries in one query.
	matchKeys := collectKeys(inters, inner.ownerKeyFor)
	if len(matchKeys) == 0 {
		return nil
	}
	relatedCol := inner.relatedKeyColumn()
	query, args := buildBatchQuery(meta.relatedInfo.TableName, relatedCol, matchKeys, rc)
	related, err := m.runBatchQuery(ctx, query, args, meta.relatedInfo)
	if err != nil {
		return err
	}

	relatedColField := meta.relatedInfo.Columns[relatedCol]
	if relatedColField == nil {
		return WrapRelationError(meta.name, meta.ownerInfo.Type.Name(),
			fmt.Errorf("%w: column %q not mapped on %s", ErrInvalidRelation, relatedCol, meta.relatedInfo.Type.Name()))
	}
	relatedByMatch := make(map[string][]any, len(related))
	for _, r := range related {
		mv := reflect.ValueOf(r).Elem().FieldByIndex(relatedColField.Index).Interface()
		k := anyToKeyString(mv)
		relatedByMatch[k] = append(relatedByMatch[k], r)
	}

	// Group intermediaries by their owner key.
	interFkField := meta.throughInfo.Columns[meta.throughForeignKey]
	intersByOwner := make(map[string][]any, len(keys))
	for _, inter := range inters {
		fk := reflect.ValueOf(inter).Elem().FieldByIndex(interFkField.Index).Interface()
		k := anyToKeyString(fk)
		intersByOwner[k] = append(intersByOwner[k], inter)
	}

	pkField := meta.relatedInfo.Columns[meta.relatedInfo.PrimaryKey]

	for _, p := range parents {
		elem := reflect.ValueOf(p).Elem()
		ownerKey := anyToKeyString(meta.ownerKeyFor(elem))

		var list []any
		dedup := make(map[string]bool)
		for _, inter := range intersByOwner[ownerKey] {
			matchKey := anyToKeyString(inner.ownerKeyFor(reflect.ValueOf(inter).Elem()))
			for _, r := range relatedByMatch[matchKey] {
				pk := anyToKeyString(reflect.ValueOf(r).Elem().FieldByIndex(pkField.Index).Interface())
				if dedup[pk] {
					continue
				}
				dedup[pk] = true
				list = append(list, r)
			}
		}
		if err := assignRelation(elem, field, list, false); err != nil {
			return WrapRelationError(meta.name, meta.ownerInfo.Type.Name(), err)
		}
	}

	return nil
}

// assignRelation writes loaded related instances into the owner's relation
// field: a pointer or struct for single relations, a slice of either for
// collections. related holds *R values.
func assignRelation(ownerElem reflect.Value, field *FieldInfo, related []any, single bool) error {
	fieldVal := ownerElem.FieldByIndex(field.Index)
	if !fieldVal.CanSet() {
		return fmt.Errorf("%w: cannot set field %s", ErrInvalidRelation, field.Name)
	}

	if single {
		if len(related) == 0 {
			return nil
		}
		rv := reflect.ValueOf(related[0])
		switch fieldVal.Kind() {
		case reflect.Pointer:
			fieldVal.Set(rv)
		case reflect.Struct:
			fieldVal.Set(rv.Elem())
		default:
			return fmt.Errorf("%w: field %s must be a struct or pointer", ErrInvalidRelation, field.Name)
		}
		return nil
	}

	if fieldVal.Kind() != reflect.Slice {
		return fmt.Errorf("%w: field %s must be a slice", ErrInvalidRelation, field.Name)
	}

	elemType := fieldVal.Type().Elem()
	out := reflect.MakeSlice(fieldVal.Type(), 0, len(related))
	for _, r := range related {
		rv := reflect.ValueOf(r)
		if elemType.Kind() == reflect.Pointer {
			out = reflect.Append(out, rv)
		} else {
			out = reflect.Append(out, rv.Elem())
		}
	}
	fieldVal.Set(out)
	return nil
}

// clonePtr shallow-copies the struct behind a *R and returns a new *R.
func clonePtr(ptr any) any {
	src := reflect.ValueOf(ptr).Elem()
	dst := reflect.New(src.Type())
	dst.Elem().Set(src)
	return dst.Interface()
}

// setPivotMap fills the related row's reserved Pivot map field, if present.
func setPivotMap(elem reflect.Value, pivot map[string]any) {
	if pivot == nil {
		return
	}
	f := elem.FieldByName("Pivot")
	if !f.IsValid() || f.Kind() != reflect.Map || !f.CanSet() {
		return
	}
	if f.IsNil() {
		f.Set(reflect.MakeMap(f.Type()))
	}
	for k, v := range pivot {
		f.SetMapIndex(reflect.ValueOf(k), reflect.ValueOf(v))
	}
}
