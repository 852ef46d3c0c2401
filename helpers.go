package rorm

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
)

// Dialect identifies how the connected database wants its placeholders.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectMySQL
	DialectPostgres
)

var (
	dialectMu     sync.RWMutex
	activeDialect = DialectSQLite
)

// SetDialect sets the placeholder dialect used by rebind.
// Call it once after connecting; it defaults to '?' placeholders.
func SetDialect(d Dialect) {
	dialectMu.Lock()
	activeDialect = d
	dialectMu.Unlock()
}

// GetDialect returns the active placeholder dialect.
func GetDialect() Dialect {
	dialectMu.RLock()
	defer dialectMu.RUnlock()
	return activeDialect
}

// rebind converts '?' placeholders to the active dialect's form ($1, $2, ...
// for Postgres). Queries are built with '?' internally.
func rebind(query string) string {
	if GetDialect() != DialectPostgres {
		return query
	}

	sb := GetStringBuilder()
	defer PutStringBuilder(sb)
	sb.Grow(len(query) + 8)

	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		if c == '\'' {
			inQuote = !inQuote
		}
		if c == '?' && !inQuote {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteByte(c)
	}
	return strings.Clone(sb.String())
}

var stringBuilderPool = sync.Pool{
	New: func() any {
		return &strings.Builder{}
	},
}

// GetStringBuilder returns a pooled strings.Builder.
// Callers must return it with PutStringBuilder and must not keep the
// builder's String() result without cloning it first.
func GetStringBuilder() *strings.Builder {
	return stringBuilderPool.Get().(*strings.Builder)
}

// PutStringBuilder resets and returns a builder to the pool.
func PutStringBuilder(sb *strings.Builder) {
	// Don't pool oversized buffers.
	if sb.Cap() > 1<<16 {
		return
	}
	sb.Reset()
	stringBuilderPool.Put(sb)
}

// ValidateColumnName checks that an identifier is safe to interpolate into
// SQL text: letters, digits, underscores, with optional dots for
// table-qualified columns. Returns ErrInvalidIdentifier otherwise.
func ValidateColumnName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty identifier", ErrInvalidIdentifier)
	}
	lastDot := true
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c == '.':
			if lastDot {
				return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
			}
			lastDot = true
		case c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z':
			lastDot = false
		case c >= '0' && c <= '9':
			if i == 0 {
				return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
			}
			lastDot = false
		default:
			return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
		}
	}
	if lastDot {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	return nil
}

// ValidateRawQuery rejects raw fragments containing statement separators or
// comment markers.
func ValidateRawQuery(query string) error {
	if strings.ContainsAny(query, ";") ||
		strings.Contains(query, "--") ||
		strings.Contains(query, "/*") {
		return fmt.Errorf("%w: raw fragment %q", ErrInvalidIdentifier, query)
	}
	return nil
}

// anyToKeyString normalizes a key value into a map key. Numeric widths and
// pointer wrappers collapse to the same string, so an int32 FK still matches
// an int64 PK coming back from the driver.
func anyToKeyString(v any) string {
	switch k := v.(type) {
	case nil:
		return ""
	case string:
		return k
	case []byte:
		return string(k)
	case int:
		return strconv.FormatInt(int64(k), 10)
	case int32:
		return strconv.FormatInt(int64(k), 10)
	case int64:
		return strconv.FormatInt(k, 10)
	case uint64:
		return strconv.FormatUint(k, 10)
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return ""
		}
		return anyToKeyString(rv.Elem().Interface())
	}
	return fmt.Sprintf("%v", v)
}

// isZeroKey reports whether a key value is unset: nil, nil pointer, or the
// type's zero value.
func isZeroKey(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return true
		}
		rv = rv.Elem()
	}
	return rv.IsZero()
}

// writePlaceholders writes n comma-separated '?' marks into sb.
func writePlaceholders(sb *strings.Builder, n int) {
	for i := 0; i < n; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('?')
	}
}
