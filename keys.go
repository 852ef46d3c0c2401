package rorm

import (
	"sort"
	"strings"

	"github.com/gertd/go-pluralize"
	"github.com/iancoleman/strcase"
)

// Key derivation rules. Given only table names and primary keys, these
// produce the conventional column and table names relations fall back to
// when no explicit key is configured. They are pure: same inputs, same
// outputs, no registry involved.

var pluralizer = pluralize.NewClient()

// DefaultPrimaryKey is the column assumed for models that don't declare one.
const DefaultPrimaryKey = "id"

// DefaultForeignKey derives the conventional foreign key column that points
// at a row of ownerTable: the singular of the table name joined with its
// primary key ("users", "id" -> "user_id").
func DefaultForeignKey(ownerTable, ownerPK string) string {
	if ownerPK == "" {
		ownerPK = DefaultPrimaryKey
	}
	return pluralizer.Singular(ownerTable) + "_" + ownerPK
}

// DefaultPivotTable derives the conventional pivot table name for a
// many-to-many relation between two tables: both singulars, sorted,
// joined with an underscore ("users", "cars" -> "car_user").
func DefaultPivotTable(tableA, tableB string) string {
	names := []string{pluralizer.Singular(tableA), pluralizer.Singular(tableB)}
	sort.Strings(names)
	return names[0] + "_" + names[1]
}

// DefaultCountAlias derives the output alias a relation count lands under
// when none is given ("PublishedPosts" -> "published_posts_count").
func DefaultCountAlias(relationName string) string {
	return strcase.ToSnake(relationName) + "_count"
}

// ToSnakeCase converts a Go identifier to its snake_case column or table
// form.
func ToSnakeCase(s string) string {
	return strcase.ToSnake(s)
}

// TableNameOf derives a table name from a struct type name: snake case,
// pluralized ("UserProfile" -> "user_profiles").
func TableNameOf(typeName string) string {
	snake := strcase.ToSnake(typeName)
	// Pluralize only the last word so "user_profile" becomes
	// "user_profiles", not "users_profiles".
	if i := strings.LastIndexByte(snake, '_'); i >= 0 {
		return snake[:i+1] + pluralizer.Plural(snake[i+1:])
	}
	return pluralizer.Plural(snake)
}
