package rorm

import (
	"fmt"
	"sort"

	"github.com/jedib0t/go-pretty/table"
)

// PrintSchematic renders every registered model's inferred schema and
// relations to stdout. Useful for verifying default key derivation.
func (r *ModelResolver) PrintSchematic() {
	fmt.Printf("SQL Dialect: %s\n", dialectName(GetDialect()))

	names := r.References()
	sort.Strings(names)

	for _, name := range names {
		typ, err := r.Resolve(name)
		if err != nil {
			continue
		}
		info := ParseModelType(typ)

		fmt.Printf("t: %s\n", info.TableName)
		w := table.NewWriter()
		w.AppendHeader(table.Row{"Column", "Field", "Type", "Is Primary Key", "Is Virtual"})
		for _, field := range info.Fields {
			w.AppendRow(table.Row{field.Column, field.Name, field.FieldType.String(), field.IsPrimary, field.Virtual})
		}
		fmt.Println(w.Render())

		printRelations(info, r)
		fmt.Println("")
	}
}

func printRelations(info *ModelInfo, r *ModelResolver) {
	seen := make(map[string]bool, len(info.RelationMethods))
	names := make([]string, 0, len(info.RelationMethods))
	for _, method := range info.RelationMethods {
		if seen[method.Name] {
			continue
		}
		seen[method.Name] = true
		names = append(names, method.Name)
	}
	sort.Strings(names)

	for _, name := range names {
		meta, err := resolveRelationByName(info, name, r)
		if err != nil {
			fmt.Printf("%s !! %s => %v\n", info.TableName, name, err)
			continue
		}
		switch meta.kind {
		case RelationHasOne:
			fmt.Printf("%s 1-1 %s => fk=%s local=%s\n", info.TableName, meta.relatedInfo.TableName, meta.foreignKey, meta.localKey)
		case RelationHasMany:
			fmt.Printf("%s 1-N %s => fk=%s local=%s\n", info.TableName, meta.relatedInfo.TableName, meta.foreignKey, meta.localKey)
		case RelationBelongsTo:
			fmt.Printf("%s N-1 %s => fk=%s owner=%s\n", info.TableName, meta.relatedInfo.TableName, meta.foreignKey, meta.ownerKey)
		case RelationBelongsToMany:
			fmt.Printf("%s N-N %s => pivot=%s fk=%s rk=%s\n", info.TableName, meta.relatedInfo.TableName, meta.pivotTable, meta.pivotForeignKey, meta.pivotRelatedKey)
		case RelationHasManyThrough:
			fmt.Printf("%s 1-N* %s => through=%s fk=%s\n", info.TableName, meta.relatedInfo.TableName, meta.throughInfo.TableName, meta.throughForeignKey)
		}
	}
}

func dialectName(d Dialect) string {
	switch d {
	case DialectPostgres:
		return "postgres"
	case DialectMySQL:
		return "mysql"
	default:
		return "sqlite"
	}
}
