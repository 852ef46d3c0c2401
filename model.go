package rorm

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"
)

var (
	// GlobalDB is the process-wide fallback connection pool. Individual
	// models can override it with SetDB or WithTx.
	GlobalDB *sql.DB

	globalMu       sync.RWMutex
	globalResolver *DBResolver
)

// GetGlobalDB returns the global connection pool.
func GetGlobalDB() *sql.DB {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return GlobalDB
}

// SetGlobalDB sets the global connection pool.
func SetGlobalDB(db *sql.DB) {
	globalMu.Lock()
	GlobalDB = db
	globalMu.Unlock()
}

// SetGlobalDBResolver installs a primary/replica resolver used for routing
// when no explicit connection is set on a model.
func SetGlobalDBResolver(r *DBResolver) {
	globalMu.Lock()
	globalResolver = r
	globalMu.Unlock()
}

// GetGlobalDBResolver returns the installed resolver, or nil.
func GetGlobalDBResolver() *DBResolver {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalResolver
}

// Model is the generic query and relation engine for one model type.
type Model[T any] struct {
	ctx       context.Context
	db        *sql.DB
	tx        *sql.Tx
	modelInfo *ModelInfo
	resolver  *ModelResolver
	stmtCache *StmtCache

	// Query builder state
	columns  []string
	wheres   []string
	args     []any
	orderBys []string
	groupBys []string
	havings  []string
	distinct bool
	limit    int
	offset   int

	// Resolver routing overrides
	forcePrimary bool
	forceReplica int

	// Relation state
	eagers []eagerSpec
	counts []countSpec

	// First builder error; checked before execution.
	err error
}

// New creates a new Model instance for type T.
func New[T any]() *Model[T] {
	return &Model[T]{
		ctx:          context.Background(),
		db:           GetGlobalDB(),
		modelInfo:    ParseModel[T](),
		forceReplica: -1,
	}
}

// UsePrimary forces reads through the resolver's primary connection.
func (m *Model[T]) UsePrimary() *Model[T] {
	m.forcePrimary = true
	m.forceReplica = -1
	return m
}

// UseReplica forces reads through a specific replica by index.
func (m *Model[T]) UseReplica(index int) *Model[T] {
	m.forcePrimary = false
	m.forceReplica = index
	return m
}

// WithContext sets the context for the query.
func (m *Model[T]) WithContext(ctx context.Context) *Model[T] {
	m.ctx = ctx
	return m
}

// TableName returns the table name for the model.
func (m *Model[T]) TableName() string {
	return m.modelInfo.TableName
}

// SetDB sets a custom database connection for this model instance.
func (m *Model[T]) SetDB(db *sql.DB) *Model[T] {
	m.db = db
	return m
}

// WithResolver attaches a model resolver, required for through relations and
// pivot models that name their counterpart by reference.
func (m *Model[T]) WithResolver(r *ModelResolver) *Model[T] {
	m.resolver = r
	return m
}

// WithStmtCache routes read queries through a prepared statement cache.
func (m *Model[T]) WithStmtCache(c *StmtCache) *Model[T] {
	m.stmtCache = c
	return m
}

// setErr latches the first builder error; execution surfaces it.
func (m *Model[T]) setErr(err error) {
	if m.err == nil {
		m.err = err
	}
}

// Err returns the latched builder error, if any.
func (m *Model[T]) Err() error {
	return m.err
}

// Select restricts the selected columns.
func (m *Model[T]) Select(columns ...string) *Model[T] {
	for _, col := range columns {
		if err := ValidateColumnName(col); err != nil {
			m.setErr(err)
			return m
		}
	}
	m.columns = append(m.columns, columns...)
	return m
}

// Distinct adds DISTINCT to the query.
func (m *Model[T]) Distinct() *Model[T] {
	m.distinct = true
	return m
}

// Where adds a WHERE condition.
// Supports multiple forms:
//
//	Where("column", value) -> column = ?
//	Where("column", ">", value) -> column > ?
//	Where("column > ?", value) -> raw fragment with placeholders
func (m *Model[T]) Where(query string, args ...any) *Model[T] {
	return m.addWhere("AND", query, args...)
}

// OrWhere adds an OR WHERE condition.
func (m *Model[T]) OrWhere(query string, args ...any) *Model[T] {
	return m.addWhere("OR", query, args...)
}

func (m *Model[T]) addWhere(typ string, query string, args ...any) *Model[T] {
	frag, fragArgs, err := buildWhereFragment(query, args...)
	if err != nil {
		m.setErr(err)
		return m
	}
	m.wheres = append(m.wheres, typ+" "+frag)
	m.args = append(m.args, fragArgs...)
	return m
}

// buildWhereFragment normalizes the Where argument forms into a single SQL
// fragment plus its arguments.
func buildWhereFragment(query string, args ...any) (string, []any, error) {
	switch len(args) {
	case 0:
		if err := ValidateRawQuery(query); err != nil {
			return "", nil, err
		}
		return query, nil, nil
	case 1:
		if strings.ContainsRune(query, '?') {
			if err := ValidateRawQuery(query); err != nil {
				return "", nil, err
			}
			return query, args, nil
		}
		if err := ValidateColumnName(query); err != nil {
			return "", nil, err
		}
		return query + " = ?", args, nil
	case 2:
		if op, ok := args[0].(string); ok && isComparisonOp(op) {
			if err := ValidateColumnName(query); err != nil {
				return "", nil, err
			}
			return query + " " + op + " ?", args[1:], nil
		}
		fallthrough
	default:
		if err := ValidateRawQuery(query); err != nil {
			return "", nil, err
		}
		return query, args, nil
	}
}

func isComparisonOp(op string) bool {
	switch op {
	case "=", "!=", "<>", ">", ">=", "<", "<=", "LIKE", "like", "NOT LIKE":
		return true
	}
	return false
}

// WhereIn adds a WHERE column IN (...) condition.
// An empty value list matches nothing.
func (m *Model[T]) WhereIn(column string, values []any) *Model[T] {
	return m.addWhereIn("AND", column, values)
}

// OrWhereIn adds an OR column IN (...) condition.
func (m *Model[T]) OrWhereIn(column string, values []any) *Model[T] {
	return m.addWhereIn("OR", column, values)
}

func (m *Model[T]) addWhereIn(typ, column string, values []any) *Model[T] {
	if err := ValidateColumnName(column); err != nil {
		m.setErr(err)
		return m
	}
	if len(values) == 0 {
		m.wheres = append(m.wheres, typ+" 1=0")
		return m
	}

	sb := GetStringBuilder()
	sb.WriteString(column)
	sb.WriteString(" IN (")
	writePlaceholders(sb, len(values))
	sb.WriteByte(')')
	m.wheres = append(m.wheres, typ+" "+sb.String())
	PutStringBuilder(sb)
	m.args = append(m.args, values...)
	return m
}

// WhereNull adds a WHERE column IS NULL condition.
func (m *Model[T]) WhereNull(column string) *Model[T] {
	if err := ValidateColumnName(column); err != nil {
		m.setErr(err)
		return m
	}
	m.wheres = append(m.wheres, "AND "+column+" IS NULL")
	return m
}

// WhereNotNull adds a WHERE column IS NOT NULL condition.
func (m *Model[T]) WhereNotNull(column string) *Model[T] {
	if err := ValidateColumnName(column); err != nil {
		m.setErr(err)
		return m
	}
	m.wheres = append(m.wheres, "AND "+column+" IS NOT NULL")
	return m
}

// OrderBy adds an ORDER BY clause. Direction is ASC or DESC.
func (m *Model[T]) OrderBy(column, direction string) *Model[T] {
	if err := ValidateColumnName(column); err != nil {
		m.setErr(err)
		return m
	}
	dir := strings.ToUpper(strings.TrimSpace(direction))
	if dir != "ASC" && dir != "DESC" {
		dir = "ASC"
	}
	m.orderBys = append(m.orderBys, column+" "+dir)
	return m
}

// GroupBy adds GROUP BY columns.
func (m *Model[T]) GroupBy(columns ...string) *Model[T] {
	for _, col := range columns {
		if err := ValidateColumnName(col); err != nil {
			m.setErr(err)
			return m
		}
		m.groupBys = append(m.groupBys, col)
	}
	return m
}

// Having adds a HAVING clause.
func (m *Model[T]) Having(query string, args ...any) *Model[T] {
	if err := ValidateRawQuery(query); err != nil {
		m.setErr(err)
		return m
	}
	if len(args) > 0 && !strings.Contains(query, "?") {
		query = strings.TrimSpace(query) + " ?"
	}
	m.havings = append(m.havings, query)
	m.args = append(m.args, args...)
	return m
}

// Limit sets the LIMIT clause.
func (m *Model[T]) Limit(n int) *Model[T] {
	m.limit = n
	return m
}

// Offset sets the OFFSET clause.
func (m *Model[T]) Offset(n int) *Model[T] {
	m.offset = n
	return m
}

// Clone creates a deep copy of the query, leaving the original untouched.
func (m *Model[T]) Clone() *Model[T] {
	clone := &Model[T]{
		ctx:       m.ctx,
		db:        m.db,
		tx:        m.tx,
		modelInfo: m.modelInfo,
		resolver:  m.resolver,
		stmtCache: m.stmtCache,
		distinct:  m.distinct,
		limit:     m.limit,
		offset:    m.offset,
		err:       m.err,

		forcePrimary: m.forcePrimary,
		forceReplica: m.forceReplica,
	}

	clone.columns = append([]string(nil), m.columns...)
	clone.wheres = append([]string(nil), m.wheres...)
	clone.args = append([]any(nil), m.args...)
	clone.orderBys = append([]string(nil), m.orderBys...)
	clone.groupBys = append([]string(nil), m.groupBys...)
	clone.havings = append([]string(nil), m.havings...)
	clone.eagers = append([]eagerSpec(nil), m.eagers...)
	clone.counts = append([]countSpec(nil), m.counts...)

	return clone
}

// ConfigureConnectionPoolSeconds accepts durations in seconds.
// Pass 0 to leave duration unlimited / not set.
func ConfigureConnectionPoolSeconds(db *sql.DB, maxOpen, maxIdle int, maxLifetimeSec, idleTimeoutSec int64) {
	if db == nil {
		return
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle >= 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	if maxLifetimeSec >= 0 {
		db.SetConnMaxLifetime(time.Duration(maxLifetimeSec) * time.Second)
	}
	if idleTimeoutSec >= 0 {
		db.SetConnMaxIdleTime(time.Duration(idleTimeoutSec) * time.Second)
	}
}
