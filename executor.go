package rorm

import (
	"container/list"
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"
)

// dbConn is the common surface of *sql.DB and *sql.Tx the executor needs.
type dbConn interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// queryer returns the connection reads go through: the active transaction,
// a load-balanced replica when a resolver is installed, or the model/global
// pool.
func (m *Model[T]) queryer() dbConn {
	if m.tx != nil {
		return m.tx
	}

	if resolver := GetGlobalDBResolver(); resolver != nil {
		if m.forcePrimary {
			return resolver.Primary()
		}
		if m.forceReplica >= 0 {
			if db := resolver.ReplicaAt(m.forceReplica); db != nil {
				return db
			}
		}
		return resolver.Replica()
	}

	if m.db != nil {
		return m.db
	}
	return GetGlobalDB()
}

// queryerForWrite returns the connection writes go through. With a resolver
// installed, writes always hit the primary.
func (m *Model[T]) queryerForWrite() dbConn {
	if m.tx != nil {
		return m.tx
	}

	if resolver := GetGlobalDBResolver(); resolver != nil {
		return resolver.Primary()
	}

	if m.db != nil {
		return m.db
	}
	return GetGlobalDB()
}

// prepareStmtWithQueryer prepares a statement, going through the stmt cache
// when one is attached. Returns the statement and a release function the
// caller MUST invoke when done.
func (m *Model[T]) prepareStmtWithQueryer(ctx context.Context, query string, q dbConn) (*sql.Stmt, func(), error) {
	prepare := func() (*sql.Stmt, error) {
		switch conn := q.(type) {
		case *sql.DB:
			return conn.PrepareContext(ctx, query)
		case *sql.Tx:
			return conn.PrepareContext(ctx, query)
		}
		return nil, fmt.Errorf("unable to prepare statement: invalid queryer type")
	}

	if m.stmtCache == nil {
		stmt, err := prepare()
		if err != nil {
			return nil, nil, err
		}
		return stmt, func() { stmt.Close() }, nil
	}

	if stmt, release := m.stmtCache.Get(query); stmt != nil {
		return stmt, release, nil
	}

	stmt, err := prepare()
	if err != nil {
		return nil, nil, err
	}

	// PutAndGet avoids the statement being evicted between a Put and a Get.
	cachedStmt, release := m.stmtCache.PutAndGet(query, stmt)
	return cachedStmt, release, nil
}

func (m *Model[T]) prepareStmt(ctx context.Context, query string) (*sql.Stmt, func(), error) {
	return m.prepareStmtWithQueryer(ctx, query, m.queryer())
}

// Get executes the query and returns a slice of results, with any configured
// eager loads resolved.
func (m *Model[T]) Get(ctx context.Context) ([]*T, error) {
	if m.err != nil {
		return nil, m.err
	}

	query, args := m.buildSelectQuery()

	var rows *sql.Rows
	var err error

	if m.stmtCache != nil {
		var stmt *sql.Stmt
		var release func()
		stmt, release, err = m.prepareStmt(ctx, rebind(query))
		if err != nil {
			return nil, WrapQueryError("PREPARE", query, args, err)
		}
		defer release()

		rows, err = stmt.QueryContext(ctx, args...)
	} else {
		rows, err = m.queryer().QueryContext(ctx, rebind(query), args...)
	}

	if err != nil {
		return nil, WrapQueryError("SELECT", query, args, err)
	}
	defer rows.Close()

	results, err := m.scanRows(rows)
	if err != nil {
		return nil, WrapQueryError("SCAN", query, args, err)
	}

	if err := m.loadRelations(ctx, results); err != nil {
		return nil, err
	}

	return results, nil
}

// First executes the query and returns the first result.
// Returns ErrRecordNotFound when nothing matches.
func (m *Model[T]) First(ctx context.Context) (*T, error) {
	// Clone to avoid mutating the original model's limit
	q := m.Clone()
	q.limit = 1
	results, err := q.Get(ctx)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, ErrRecordNotFound
	}
	return results[0], nil
}

// Find finds a record by primary key.
func (m *Model[T]) Find(ctx context.Context, id any) (*T, error) {
	return m.Clone().Where(m.modelInfo.PrimaryKey, id).First(ctx)
}

// Pluck retrieves a single column's values from the result set.
func (m *Model[T]) Pluck(ctx context.Context, column string) ([]any, error) {
	if err := ValidateColumnName(column); err != nil {
		return nil, err
	}
	if m.err != nil {
		return nil, m.err
	}

	q := m.Clone()
	q.columns = []string{column}
	q.counts = nil

	query, args := q.buildSelectQuery()

	rows, err := q.queryer().QueryContext(ctx, rebind(query), args...)
	if err != nil {
		return nil, WrapQueryError("SELECT", query, args, err)
	}
	defer rows.Close()

	initialCap := q.limit
	if initialCap <= 0 {
		initialCap = 64
	}
	results := make([]any, 0, initialCap)

	for rows.Next() {
		var val any
		if err := rows.Scan(&val); err != nil {
			return nil, WrapQueryError("SCAN", query, args, err)
		}
		results = append(results, val)
	}

	if err := rows.Err(); err != nil {
		return nil, WrapQueryError("SCAN", query, args, err)
	}

	return results, nil
}

// Count returns the number of records matching the query.
func (m *Model[T]) Count(ctx context.Context) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}

	q := m.Clone()
	q.limit, q.offset = 0, 0
	q.orderBys = nil

	sb := GetStringBuilder()
	sb.WriteString("SELECT COUNT(*) FROM ")
	sb.WriteString(q.TableName())
	q.buildWhereClause(sb)
	query := strings.Clone(sb.String())
	PutStringBuilder(sb)

	var count int64
	var err error

	if q.stmtCache != nil {
		var stmt *sql.Stmt
		var release func()
		stmt, release, err = q.prepareStmt(ctx, rebind(query))
		if err != nil {
			return 0, WrapQueryError("PREPARE", query, q.args, err)
		}
		defer release()

		err = stmt.QueryRowContext(ctx, q.args...).Scan(&count)
	} else {
		err = q.queryer().QueryRowContext(ctx, rebind(query), q.args...).Scan(&count)
	}

	if err != nil {
		return 0, WrapQueryError("COUNT", query, q.args, err)
	}

	return count, nil
}

// Exists checks if any record matches the query conditions using
// "SELECT 1 ... LIMIT 1".
func (m *Model[T]) Exists(ctx context.Context) (bool, error) {
	if m.err != nil {
		return false, m.err
	}

	q := m.Clone()
	q.limit = 1
	q.offset = 0
	q.orderBys = nil

	sb := GetStringBuilder()
	sb.WriteString("SELECT 1 FROM ")
	sb.WriteString(q.TableName())
	q.buildWhereClause(sb)
	sb.WriteString(" LIMIT 1")
	query := strings.Clone(sb.String())
	PutStringBuilder(sb)

	var exists int
	var err error

	if q.stmtCache != nil {
		var stmt *sql.Stmt
		var release func()
		stmt, release, err = q.prepareStmt(ctx, rebind(query))
		if err != nil {
			return false, WrapQueryError("PREPARE", query, q.args, err)
		}
		defer release()

		err = stmt.QueryRowContext(ctx, q.args...).Scan(&exists)
	} else {
		err = q.queryer().QueryRowContext(ctx, rebind(query), q.args...).Scan(&exists)
	}

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, WrapQueryError("EXISTS", query, q.args, err)
	}

	return true, nil
}

// buildSelectQuery constructs the SQL SELECT statement from the builder
// state: DISTINCT, columns, aggregate subquery columns, WHERE, GROUP BY,
// HAVING, ORDER BY, LIMIT and OFFSET.
func (m *Model[T]) buildSelectQuery() (string, []any) {
	sb := GetStringBuilder()
	defer PutStringBuilder(sb)

	sb.WriteString("SELECT ")
	if m.distinct {
		sb.WriteString("DISTINCT ")
	}

	if len(m.columns) > 0 {
		sb.WriteString(strings.Join(m.columns, ", "))
	} else {
		sb.WriteString(m.TableName())
		sb.WriteString(".*")
	}

	// Relation count columns ride along as correlated scalar subqueries.
	var countArgs []any
	for _, c := range m.counts {
		sb.WriteString(", (")
		sb.WriteString(c.subquery)
		sb.WriteString(") AS ")
		sb.WriteString(c.alias)
		countArgs = append(countArgs, c.args...)
	}

	sb.WriteString(" FROM ")
	sb.WriteString(m.TableName())

	m.buildWhereClause(sb)

	if len(m.groupBys) > 0 {
		sb.WriteString(" GROUP BY ")
		sb.WriteString(strings.Join(m.groupBys, ", "))
	}

	if len(m.havings) > 0 {
		sb.WriteString(" HAVING ")
		sb.WriteString(strings.Join(m.havings, " AND "))
	}

	if len(m.orderBys) > 0 {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(m.orderBys, ", "))
	}

	if m.limit > 0 {
		sb.WriteString(" LIMIT ")
		sb.WriteString(strconv.Itoa(m.limit))
	}

	if m.offset > 0 {
		sb.WriteString(" OFFSET ")
		sb.WriteString(strconv.Itoa(m.offset))
	}

	allArgs := make([]any, 0, len(countArgs)+len(m.args))
	allArgs = append(allArgs, countArgs...)
	allArgs = append(allArgs, m.args...)

	return strings.Clone(sb.String()), allArgs
}

// buildWhereClause appends WHERE conditions to the query builder.
// It uses "WHERE 1=1" as a base to simplify appending AND/OR conditions.
func (m *Model[T]) buildWhereClause(sb *strings.Builder) {
	if len(m.wheres) > 0 {
		sb.WriteString(" WHERE 1=1 ")
		for _, w := range m.wheres {
			sb.WriteString(" ")
			sb.WriteString(w)
		}
	}
}

// columnMappingCache caches column-to-field mappings per query signature.
// Key format: "typeName:col1,col2,col3". Sharded LRU to bound memory.
var columnMappingCache = newColumnCache(1000)

type columnCache struct {
	shards   [64]*columnCacheShard
	capacity int
}

type columnCacheShard struct {
	mu       sync.Mutex
	items    map[string]*columnCacheEntry
	lruList  *list.List
	capacity int
}

type columnCacheEntry struct {
	key     string
	value   []*FieldInfo
	element *list.Element
}

func newColumnCache(capacity int) *columnCache {
	shardCapacity := capacity / 64
	if shardCapacity < 1 {
		shardCapacity = 1
	}

	c := &columnCache{capacity: capacity}
	for i := 0; i < 64; i++ {
		c.shards[i] = &columnCacheShard{
			items:    make(map[string]*columnCacheEntry),
			lruList:  list.New(),
			capacity: shardCapacity,
		}
	}
	return c
}

func (c *columnCache) getShard(key string) *columnCacheShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%64]
}

func (c *columnCache) Load(key string) ([]*FieldInfo, bool) {
	shard := c.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if entry, ok := shard.items[key]; ok {
		shard.lruList.MoveToFront(entry.element)
		return entry.value, true
	}
	return nil, false
}

func (c *columnCache) Store(key string, value []*FieldInfo) {
	shard := c.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if _, exists := shard.items[key]; exists {
		return
	}

	if len(shard.items) >= shard.capacity {
		if back := shard.lruList.Back(); back != nil {
			entry := back.Value.(*columnCacheEntry)
			delete(shard.items, entry.key)
			shard.lruList.Remove(back)
		}
	}

	entry := &columnCacheEntry{key: key, value: value}
	entry.element = shard.lruList.PushFront(entry)
	shard.items[key] = entry
}

// mapColumns maps database columns to struct field info, cached per column
// signature. The cache key uses the type name since different Go types can
// map to the same table.
func mapColumns(info *ModelInfo, columns []string) []*FieldInfo {
	key := info.Type.String() + ":" + strings.Join(columns, ",")

	if cached, ok := columnMappingCache.Load(key); ok {
		return cached
	}

	fields := make([]*FieldInfo, len(columns))
	for i, col := range columns {
		fields[i] = info.Columns[col]
	}

	columnMappingCache.Store(key, fields)
	return fields
}

// scanRows scans sql.Rows into a slice of *T, routing aggregate alias
// columns into the reserved Aggregates map when the struct declares one.
func (m *Model[T]) scanRows(rows *sql.Rows) ([]*T, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	initialCap := m.limit
	if initialCap <= 0 {
		initialCap = 64
	}
	results := make([]*T, 0, initialCap)

	fields := mapColumns(m.modelInfo, columns)
	dest := make([]any, len(columns))

	// Aggregate aliases are scanned separately and land in Aggregates.
	var aliasIdx map[int]string
	if len(m.counts) > 0 {
		aliasIdx = make(map[int]string, len(m.counts))
		aliases := make(map[string]bool, len(m.counts))
		for _, c := range m.counts {
			aliases[c.alias] = true
		}
		for i, col := range columns {
			if fields[i] == nil && aliases[col] {
				aliasIdx[i] = col
			}
		}
	}

	for rows.Next() {
		entity := new(T)
		val := reflect.ValueOf(entity).Elem()

		counters := make(map[int]*sql.NullInt64, len(aliasIdx))
		for i, f := range fields {
			switch {
			case f != nil:
				dest[i] = val.FieldByIndex(f.Index).Addr().Interface()
			case aliasIdx[i] != "":
				n := new(sql.NullInt64)
				counters[i] = n
				dest[i] = n
			default:
				var ignore any
				dest[i] = &ignore
			}
		}

		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}

		if len(counters) > 0 {
			setAggregates(val, aliasIdx, counters)
		}

		results = append(results, entity)
	}

	return results, rows.Err()
}

// setAggregates writes scanned count values into the entity's reserved
// Aggregates map field, if it has one.
func setAggregates(val reflect.Value, aliasIdx map[int]string, counters map[int]*sql.NullInt64) {
	aggField := val.FieldByName("Aggregates")
	if !aggField.IsValid() || aggField.Kind() != reflect.Map || !aggField.CanSet() {
		return
	}
	if aggField.IsNil() {
		aggField.Set(reflect.MakeMap(aggField.Type()))
	}
	for i, n := range counters {
		var v int64
		if n.Valid {
			v = n.Int64
		}
		aggField.SetMapIndex(reflect.ValueOf(aliasIdx[i]), reflect.ValueOf(v))
	}
}

// scanRowsDynamic scans rows into a slice of pointers to structs described
// by modelInfo. Used when loading relations whose type differs from T.
func (m *Model[T]) scanRowsDynamic(rows *sql.Rows, modelInfo *ModelInfo) ([]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	fields := mapColumns(modelInfo, columns)

	results := make([]any, 0, 64)
	dest := make([]any, len(columns))

	for rows.Next() {
		val := reflect.New(modelInfo.Type)
		elem := val.Elem()

		for i, f := range fields {
			if f != nil {
				dest[i] = elem.FieldByIndex(f.Index).Addr().Interface()
			} else {
				var ignore any
				dest[i] = &ignore
			}
		}

		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}

		results = append(results, val.Interface())
	}

	return results, rows.Err()
}

// Create inserts a new record, scanning the generated primary key back into
// the entity. Fires the BeforeCreate/AfterCreate hooks when implemented.
func (m *Model[T]) Create(ctx context.Context, entity *T) error {
	if entity == nil {
		return ErrNilPointer
	}
	return insertEntity(ctx, m.queryerForWrite(), m.modelInfo, reflect.ValueOf(entity))
}

// insertEntity is the dynamic insert used by Create and relation mutations.
// entityPtr must be a pointer to a struct matching info.
func insertEntity(ctx context.Context, conn dbConn, info *ModelInfo, entityPtr reflect.Value) error {
	if hook, ok := entityPtr.Interface().(interface{ BeforeCreate(context.Context) error }); ok {
		if err := hook.BeforeCreate(ctx); err != nil {
			return err
		}
	}

	val := entityPtr.Elem()

	columns := make([]string, 0, len(info.Fields))
	values := make([]any, 0, len(info.Fields))

	for _, field := range info.Fields {
		if field.Virtual {
			continue
		}
		fVal := val.FieldByIndex(field.Index)
		// Let the database assign a zero primary key.
		if field.IsPrimary && fVal.IsZero() {
			continue
		}
		columns = append(columns, field.Column)
		values = append(values, fVal.Interface())
	}

	sb := GetStringBuilder()
	sb.WriteString("INSERT INTO ")
	sb.WriteString(info.TableName)
	sb.WriteString(" (")
	sb.WriteString(strings.Join(columns, ", "))
	sb.WriteString(") VALUES (")
	writePlaceholders(sb, len(columns))
	sb.WriteString(") RETURNING ")
	sb.WriteString(info.PrimaryKey)
	query := strings.Clone(sb.String())
	PutStringBuilder(sb)

	pkField, ok := info.Columns[info.PrimaryKey]
	if !ok {
		return fmt.Errorf("%w: primary key column %s not mapped on %s",
			ErrInvalidModel, info.PrimaryKey, info.Type.Name())
	}

	fVal := val.FieldByIndex(pkField.Index)
	if !fVal.CanSet() {
		return fmt.Errorf("%w: cannot set primary key field %s", ErrInvalidModel, pkField.Name)
	}

	err := conn.QueryRowContext(ctx, rebind(query), values...).Scan(fVal.Addr().Interface())
	if err != nil {
		return WrapQueryError("INSERT", query, values, err)
	}

	if hook, ok := entityPtr.Interface().(interface{ AfterCreate(context.Context) error }); ok {
		if err := hook.AfterCreate(ctx); err != nil {
			return err
		}
	}

	return nil
}

// Update updates a single record based on its primary key.
func (m *Model[T]) Update(ctx context.Context, entity *T) error {
	if entity == nil {
		return ErrNilPointer
	}
	return updateEntity(ctx, m.queryerForWrite(), m.modelInfo, reflect.ValueOf(entity))
}

// updateEntity is the dynamic update used by Update and relation mutations.
func updateEntity(ctx context.Context, conn dbConn, info *ModelInfo, entityPtr reflect.Value) error {
	val := entityPtr.Elem()

	// Auto-update updated_at if the model carries it.
	if fieldInfo, ok := info.Columns["updated_at"]; ok && !fieldInfo.Virtual {
		fieldVal := val.FieldByIndex(fieldInfo.Index)
		if fieldVal.CanSet() {
			_ = setFieldValue(fieldVal, time.Now())
		}
	}

	if hook, ok := entityPtr.Interface().(interface{ BeforeUpdate(context.Context) error }); ok {
		if err := hook.BeforeUpdate(ctx); err != nil {
			return err
		}
	}

	sets := make([]string, 0, len(info.Fields))
	values := make([]any, 0, len(info.Fields)+1)

	for _, field := range info.Fields {
		if field.IsPrimary || field.Virtual {
			continue
		}
		sets = append(sets, field.Column+" = ?")
		values = append(values, val.FieldByIndex(field.Index).Interface())
	}

	pkField := info.Columns[info.PrimaryKey]
	pkVal := val.FieldByIndex(pkField.Index).Interface()

	sb := GetStringBuilder()
	sb.WriteString("UPDATE ")
	sb.WriteString(info.TableName)
	sb.WriteString(" SET ")
	sb.WriteString(strings.Join(sets, ", "))
	sb.WriteString(" WHERE ")
	sb.WriteString(info.PrimaryKey)
	sb.WriteString(" = ?")
	query := strings.Clone(sb.String())
	PutStringBuilder(sb)
	values = append(values, pkVal)

	if _, err := conn.ExecContext(ctx, rebind(query), values...); err != nil {
		return WrapQueryError("UPDATE", query, values, err)
	}

	if hook, ok := entityPtr.Interface().(interface{ AfterUpdate(context.Context) error }); ok {
		if err := hook.AfterUpdate(ctx); err != nil {
			return err
		}
	}

	return nil
}

// UpdateColumns updates only the specified columns of the entity.
func (m *Model[T]) UpdateColumns(ctx context.Context, entity *T, columns ...string) error {
	if entity == nil {
		return ErrNilPointer
	}
	return updateEntityColumns(ctx, m.queryerForWrite(), m.modelInfo, reflect.ValueOf(entity), columns)
}

// updateEntityColumns is the dynamic column-restricted update, used by
// Associate/Dissociate to persist just a foreign key change.
func updateEntityColumns(ctx context.Context, conn dbConn, info *ModelInfo, entityPtr reflect.Value, columns []string) error {
	if len(columns) == 0 {
		return nil
	}

	val := entityPtr.Elem()

	var sets []string
	var values []any

	for _, column := range columns {
		field, ok := info.Columns[column]
		if !ok || field.IsPrimary || field.Virtual {
			continue
		}
		sets = append(sets, column+" = ?")
		values = append(values, val.FieldByIndex(field.Index).Interface())
	}

	if len(sets) == 0 {
		return nil
	}

	pkField := info.Columns[info.PrimaryKey]
	pkVal := val.FieldByIndex(pkField.Index).Interface()

	sb := GetStringBuilder()
	sb.WriteString("UPDATE ")
	sb.WriteString(info.TableName)
	sb.WriteString(" SET ")
	sb.WriteString(strings.Join(sets, ", "))
	sb.WriteString(" WHERE ")
	sb.WriteString(info.PrimaryKey)
	sb.WriteString(" = ?")
	query := strings.Clone(sb.String())
	PutStringBuilder(sb)
	values = append(values, pkVal)

	if _, err := conn.ExecContext(ctx, rebind(query), values...); err != nil {
		return WrapQueryError("UPDATE", query, values, err)
	}
	return nil
}

// Delete deletes records matching the current query conditions.
// Without WHERE conditions this deletes every record in the table.
func (m *Model[T]) Delete(ctx context.Context) error {
	if m.err != nil {
		return m.err
	}

	sb := GetStringBuilder()
	sb.WriteString("DELETE FROM ")
	sb.WriteString(m.modelInfo.TableName)
	m.buildWhereClause(sb)
	query := strings.Clone(sb.String())
	PutStringBuilder(sb)

	if _, err := m.queryerForWrite().ExecContext(ctx, rebind(query), m.args...); err != nil {
		return WrapQueryError("DELETE", query, m.args, err)
	}
	return nil
}

// CreateMany inserts multiple records, chunked to stay under the Postgres
// parameter limit and wrapped in a transaction when more than one chunk is
// needed.
func (m *Model[T]) CreateMany(ctx context.Context, entities []*T) error {
	if len(entities) == 0 {
		return nil
	}

	columns := make([]string, 0, len(m.modelInfo.Fields))
	fieldsToInsert := make([][]int, 0, len(m.modelInfo.Fields))

	val0 := reflect.ValueOf(entities[0]).Elem()
	for _, field := range m.modelInfo.Fields {
		if field.Virtual {
			continue
		}
		fVal := val0.FieldByIndex(field.Index)
		if field.IsPrimary && fVal.IsZero() {
			continue
		}
		columns = append(columns, field.Column)
		fieldsToInsert = append(fieldsToInsert, field.Index)
	}

	numColumns := len(columns)
	if numColumns == 0 {
		numColumns = 1
	}

	// 65535 is the Postgres bind parameter ceiling.
	chunkSize := 65535 / numColumns
	if chunkSize > 500 {
		chunkSize = 500
	} else if chunkSize < 1 {
		chunkSize = 1
	}

	if len(entities) <= chunkSize {
		return m.createBatch(ctx, entities, columns, fieldsToInsert)
	}

	var tx *sql.Tx
	var err error
	var committed bool
	if m.tx == nil {
		db := m.db
		if db == nil {
			db = GetGlobalDB()
		}
		if db == nil {
			return ErrNilDatabase
		}
		tx, err = db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() {
			if !committed {
				tx.Rollback()
			}
		}()
	}

	for i := 0; i < len(entities); i += chunkSize {
		end := i + chunkSize
		if end > len(entities) {
			end = len(entities)
		}

		batchModel := m.Clone()
		if tx != nil {
			batchModel.tx = tx
		}

		if err := batchModel.createBatch(ctx, entities[i:end], columns, fieldsToInsert); err != nil {
			return err
		}
	}

	if tx != nil {
		if err := tx.Commit(); err != nil {
			return err
		}
		committed = true
	}

	return nil
}

// createBatch performs a single batch insert query, scanning generated keys
// back into the entities.
func (m *Model[T]) createBatch(ctx context.Context, entities []*T, columns []string, fieldsToInsert [][]int) error {
	sb := GetStringBuilder()
	defer PutStringBuilder(sb)

	sb.WriteString("INSERT INTO ")
	sb.WriteString(m.TableName())
	sb.WriteString(" (")
	sb.WriteString(strings.Join(columns, ", "))
	sb.WriteString(") VALUES ")

	args := make([]any, 0, len(entities)*len(fieldsToInsert))

	rowSb := GetStringBuilder()
	rowSb.WriteByte('(')
	writePlaceholders(rowSb, len(columns))
	rowSb.WriteByte(')')
	rowPlaceholder := strings.Clone(rowSb.String())
	PutStringBuilder(rowSb)

	for i, entity := range entities {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(rowPlaceholder)

		val := reflect.ValueOf(entity).Elem()
		for _, fieldIndex := range fieldsToInsert {
			args = append(args, val.FieldByIndex(fieldIndex).Interface())
		}
	}

	sb.WriteString(" RETURNING ")
	sb.WriteString(m.modelInfo.PrimaryKey)

	query := strings.Clone(sb.String())
	rows, err := m.queryerForWrite().QueryContext(ctx, rebind(query), args...)
	if err != nil {
		return WrapQueryError("INSERT", query, args, err)
	}
	defer rows.Close()

	idx := 0
	pkField := m.modelInfo.Columns[m.modelInfo.PrimaryKey]

	for rows.Next() {
		if idx >= len(entities) {
			break
		}
		val := reflect.ValueOf(entities[idx]).Elem()
		fVal := val.FieldByIndex(pkField.Index)

		if fVal.CanSet() {
			if err := rows.Scan(fVal.Addr().Interface()); err != nil {
				return err
			}
		}
		idx++
	}
	return rows.Err()
}

// UpdateMany updates records matching the query with the given column
// values.
func (m *Model[T]) UpdateMany(ctx context.Context, values map[string]any) error {
	if len(values) == 0 {
		return nil
	}
	if m.err != nil {
		return m.err
	}

	// Stamp updated_at on a copy, the caller keeps its map untouched.
	if _, ok := m.modelInfo.Columns["updated_at"]; ok {
		if _, exists := values["updated_at"]; !exists {
			stamped := make(map[string]any, len(values)+1)
			for k, v := range values {
				stamped[k] = v
			}
			stamped["updated_at"] = time.Now()
			values = stamped
		}
	}

	var sets []string
	var setArgs []any

	for k, v := range values {
		if err := ValidateColumnName(k); err != nil {
			return err
		}
		sets = append(sets, k+" = ?")
		setArgs = append(setArgs, v)
	}

	sb := GetStringBuilder()
	sb.WriteString("UPDATE ")
	sb.WriteString(m.TableName())
	sb.WriteString(" SET ")
	sb.WriteString(strings.Join(sets, ", "))
	m.buildWhereClause(sb)
	query := strings.Clone(sb.String())
	PutStringBuilder(sb)

	args := make([]any, 0, len(setArgs)+len(m.args))
	args = append(args, setArgs...)
	args = append(args, m.args...)

	if _, err := m.queryerForWrite().ExecContext(ctx, rebind(query), args...); err != nil {
		return WrapQueryError("UPDATE", query, args, err)
	}
	return nil
}
