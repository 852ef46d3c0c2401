package rorm

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for common failure cases
var (
	// ErrRecordNotFound is returned when a query returns no results
	ErrRecordNotFound = errors.New("rorm: record not found")

	// ErrInvalidModel is returned when the model type is invalid
	ErrInvalidModel = errors.New("rorm: invalid model")

	// ErrRelationNotFound is returned when a relation method is not found
	ErrRelationNotFound = errors.New("rorm: relation not found")

	// ErrInvalidRelation is returned when relation config is invalid
	ErrInvalidRelation = errors.New("rorm: invalid relation type")

	// ErrDuplicateKey is returned for unique constraint violations
	ErrDuplicateKey = errors.New("rorm: duplicate key violation")

	// ErrForeignKey is returned for foreign key constraint violations
	ErrForeignKey = errors.New("rorm: foreign key constraint violation")

	// ErrNilPointer is returned when a nil pointer is passed
	ErrNilPointer = errors.New("rorm: nil pointer")

	// ErrNilDatabase is returned when no database connection is configured
	ErrNilDatabase = errors.New("rorm: nil database connection")

	// ErrUnresolvedRelatedModel is returned when a relation references a
	// model name that no resolver knows about
	ErrUnresolvedRelatedModel = errors.New("rorm: unresolved related model")

	// ErrMissingThroughMethod is returned when a through relation does not
	// name a relation method on the intermediary, or the intermediary does
	// not have it
	ErrMissingThroughMethod = errors.New("rorm: missing through relation method")

	// ErrInvalidIdentifier is returned when a table, column or alias name
	// fails validation
	ErrInvalidIdentifier = errors.New("rorm: invalid identifier")

	// ErrUnsupportedConstraint is returned for constraint shapes the
	// existence engine rejects, e.g. DoesntHave with a count comparison
	ErrUnsupportedConstraint = errors.New("rorm: unsupported constraint")

	// ErrDuplicateAggregateAlias is returned when two relation counts on the
	// same query resolve to the same output alias
	ErrDuplicateAggregateAlias = errors.New("rorm: duplicate aggregate alias")

	// ErrPivotModelConflict is returned when a pivot model is combined with
	// a direct pivot table name or timestamp toggle
	ErrPivotModelConflict = errors.New("rorm: pivot model conflicts with direct pivot configuration")

	// ErrUnsupportedOperation is returned when a mutation is invoked on a
	// relation kind that does not support it
	ErrUnsupportedOperation = errors.New("rorm: operation not supported for relation type")
)

// QueryError wraps database errors with query context for better debugging
type QueryError struct {
	Query     string // The SQL query that failed
	Args      []any  // The query arguments
	Operation string // Operation type: SELECT, INSERT, UPDATE, DELETE
	Err       error  // The underlying error
}

func (e *QueryError) Error() string {
	argsStr := formatArgs(e.Args)
	return fmt.Sprintf("rorm: %s failed: %v\nQuery: %s\nArgs: %s",
		e.Operation, e.Err, e.Query, argsStr)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// RelationError wraps relation resolution and loading failures with context
type RelationError struct {
	Relation  string // Name of the relation
	ModelType string // Type of the model
	Err       error  // The underlying error
}

func (e *RelationError) Error() string {
	return fmt.Sprintf("rorm: relation '%s' error on model %s: %v",
		e.Relation, e.ModelType, e.Err)
}

func (e *RelationError) Unwrap() error {
	return e.Err
}

// WrapQueryError wraps a database error with query context
func WrapQueryError(operation, query string, args []any, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return ErrRecordNotFound
	}

	// Check for constraint violations
	errMsg := err.Error()
	if strings.Contains(errMsg, "duplicate key") ||
		strings.Contains(errMsg, "unique constraint") ||
		strings.Contains(errMsg, "UNIQUE constraint") {
		return &QueryError{
			Query:     query,
			Args:      args,
			Operation: operation,
			Err:       fmt.Errorf("%w: %v", ErrDuplicateKey, err),
		}
	}

	if strings.Contains(errMsg, "foreign key") || strings.Contains(errMsg, "FOREIGN KEY") {
		return &QueryError{
			Query:     query,
			Args:      args,
			Operation: operation,
			Err:       fmt.Errorf("%w: %v", ErrForeignKey, err),
		}
	}

	return &QueryError{
		Query:     query,
		Args:      args,
		Operation: operation,
		Err:       err,
	}
}

// WrapRelationError wraps a relation error with context
func WrapRelationError(relation, modelType string, err error) error {
	if err == nil {
		return nil
	}
	return &RelationError{
		Relation:  relation,
		ModelType: modelType,
		Err:       err,
	}
}

// IsNotFound checks if the error is ErrRecordNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound) || errors.Is(err, sql.ErrNoRows)
}

// IsConstraintViolation checks if the error is a constraint violation
func IsConstraintViolation(err error) bool {
	return errors.Is(err, ErrDuplicateKey) || errors.Is(err, ErrForeignKey)
}

// IsDuplicateKey checks if the error is a duplicate key violation
func IsDuplicateKey(err error) bool {
	return errors.Is(err, ErrDuplicateKey)
}

// IsForeignKeyViolation checks if the error is a foreign key violation
func IsForeignKeyViolation(err error) bool {
	return errors.Is(err, ErrForeignKey)
}

// formatArgs formats query arguments for error messages
func formatArgs(args []any) string {
	if len(args) == 0 {
		return "[]"
	}

	parts := make([]string, len(args))
	for i, arg := range args {
		parts[i] = fmt.Sprintf("%v", arg)
	}

	// Limit output length
	result := "[" + strings.Join(parts, ", ") + "]"
	if len(result) > 200 {
		return result[:197] + "...]"
	}
	return result
}
