package rorm

import (
	"database/sql"
	"errors"
	"testing"
)

// TestIsNotFound verifies IsNotFound helper
func TestIsNotFound(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"ErrRecordNotFound", ErrRecordNotFound, true},
		{"sql.ErrNoRows", sql.ErrNoRows, true},
		{"wrapped ErrRecordNotFound", WrapRelationError("Posts", "User", ErrRecordNotFound), true},
		{"other error", errors.New("some error"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsNotFound(tt.err)
			if result != tt.expected {
				t.Errorf("IsNotFound(%v) = %v, want %v", tt.err, result, tt.expected)
			}
		})
	}
}

// TestIsDuplicateKey verifies IsDuplicateKey helper
func TestIsDuplicateKey(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"ErrDuplicateKey", ErrDuplicateKey, true},
		{"wrapped ErrDuplicateKey", WrapQueryError("INSERT", "INSERT INTO users...", nil, errors.New("UNIQUE constraint failed: users.email")), true},
		{"other error", errors.New("some error"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsDuplicateKey(tt.err)
			if result != tt.expected {
				t.Errorf("IsDuplicateKey(%v) = %v, want %v", tt.err, result, tt.expected)
			}
		})
	}
}

// TestIsForeignKeyViolation verifies IsForeignKeyViolation helper
func TestIsForeignKeyViolation(t *testing.T) {
	if IsForeignKeyViolation(nil) {
		t.Error("IsForeignKeyViolation(nil) should be false")
	}
	if !IsForeignKeyViolation(ErrForeignKey) {
		t.Error("IsForeignKeyViolation(ErrForeignKey) should be true")
	}
	wrapped := WrapQueryError("INSERT", "INSERT INTO posts...", nil, errors.New("FOREIGN KEY constraint failed"))
	if !IsForeignKeyViolation(wrapped) {
		t.Error("IsForeignKeyViolation should see through QueryError wrapping")
	}
}

// TestIsConstraintViolation verifies IsConstraintViolation helper
func TestIsConstraintViolation(t *testing.T) {
	if IsConstraintViolation(nil) {
		t.Error("IsConstraintViolation(nil) should be false")
	}
	for _, err := range []error{ErrDuplicateKey, ErrForeignKey} {
		if !IsConstraintViolation(err) {
			t.Errorf("IsConstraintViolation(%v) should be true", err)
		}
	}
	if IsConstraintViolation(ErrRecordNotFound) {
		t.Error("IsConstraintViolation(ErrRecordNotFound) should be false")
	}
}

// TestWrapQueryError verifies WrapQueryError behavior
func TestWrapQueryError(t *testing.T) {
	if WrapQueryError("SELECT", "SELECT 1", nil, nil) != nil {
		t.Error("wrapping nil should return nil")
	}

	if err := WrapQueryError("SELECT", "SELECT 1", nil, sql.ErrNoRows); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("sql.ErrNoRows should map to ErrRecordNotFound, got %v", err)
	}

	originalErr := errors.New("database error")
	wrapped := WrapQueryError("SELECT", "SELECT * FROM users", []any{1}, originalErr)

	var qe *QueryError
	if !errors.As(wrapped, &qe) {
		t.Fatal("wrapped error should be extractable as QueryError")
	}
	if qe.Operation != "SELECT" {
		t.Errorf("Operation should be SELECT, got %q", qe.Operation)
	}
	if !errors.Is(wrapped, originalErr) {
		t.Error("wrapped error should unwrap to the original error")
	}
	if qe.Error() == "" {
		t.Error("QueryError.Error() should return non-empty string")
	}
}

// TestWrapRelationError verifies WrapRelationError function
func TestWrapRelationError(t *testing.T) {
	if WrapRelationError("Posts", "User", nil) != nil {
		t.Error("wrapping nil should return nil")
	}

	wrapped := WrapRelationError("Posts", "User", ErrRelationNotFound)

	var re *RelationError
	if !errors.As(wrapped, &re) {
		t.Fatal("wrapped error should be extractable as RelationError")
	}
	if re.Relation != "Posts" {
		t.Errorf("Relation should be Posts, got %q", re.Relation)
	}
	if re.ModelType != "User" {
		t.Errorf("ModelType should be User, got %q", re.ModelType)
	}
	if !errors.Is(wrapped, ErrRelationNotFound) {
		t.Error("wrapped error should unwrap to ErrRelationNotFound")
	}
}

// TestSentinelErrors verifies all sentinel errors are defined
func TestSentinelErrors(t *testing.T) {
	sentinelErrors := []struct {
		name string
		err  error
	}{
		{"ErrRecordNotFound", ErrRecordNotFound},
		{"ErrInvalidModel", ErrInvalidModel},
		{"ErrNilPointer", ErrNilPointer},
		{"ErrNilDatabase", ErrNilDatabase},
		{"ErrRelationNotFound", ErrRelationNotFound},
		{"ErrInvalidRelation", ErrInvalidRelation},
		{"ErrDuplicateKey", ErrDuplicateKey},
		{"ErrForeignKey", ErrForeignKey},
		{"ErrUnresolvedRelatedModel", ErrUnresolvedRelatedModel},
		{"ErrMissingThroughMethod", ErrMissingThroughMethod},
		{"ErrInvalidIdentifier", ErrInvalidIdentifier},
		{"ErrUnsupportedConstraint", ErrUnsupportedConstraint},
		{"ErrDuplicateAggregateAlias", ErrDuplicateAggregateAlias},
		{"ErrPivotModelConflict", ErrPivotModelConflict},
		{"ErrUnsupportedOperation", ErrUnsupportedOperation},
	}

	for _, se := range sentinelErrors {
		t.Run(se.name, func(t *testing.T) {
			if se.err == nil {
				t.Fatalf("%s should not be nil", se.name)
			}
			if se.err.Error() == "" {
				t.Errorf("%s.Error() should not be empty", se.name)
			}
		})
	}
}
