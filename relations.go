package rorm

import (
	"fmt"
	"reflect"
)

// RelationType identifies the kind of a relation definition.
type RelationType int

const (
	RelationHasOne RelationType = iota
	RelationHasMany
	RelationBelongsTo
	RelationBelongsToMany
	RelationHasManyThrough
)

func (t RelationType) String() string {
	switch t {
	case RelationHasOne:
		return "HasOne"
	case RelationHasMany:
		return "HasMany"
	case RelationBelongsTo:
		return "BelongsTo"
	case RelationBelongsToMany:
		return "BelongsToMany"
	case RelationHasManyThrough:
		return "HasManyThrough"
	}
	return "Unknown"
}

// Relation is implemented by every relation definition struct. Models expose
// relations as value-receiver methods returning one of these:
//
//	func (u User) PostsRelation() HasMany[Post] {
//	    return HasMany[Post]{}
//	}
//
// The relation is addressable in string paths as "PostsRelation" or "Posts".
type Relation interface {
	RelationType() RelationType
	RelatedType() reflect.Type
}

// HasOne declares a one-to-one relation where the related table carries the
// foreign key. Zero-value fields fall back to convention: ForeignKey to
// singular(owner table)_pk, LocalKey to the owner's primary key.
type HasOne[T any] struct {
	ForeignKey string // column on the related table pointing at the owner
	LocalKey   string // column on the owner the foreign key references
}

func (HasOne[T]) RelationType() RelationType { return RelationHasOne }
func (HasOne[T]) RelatedType() reflect.Type  { return reflect.TypeOf((*T)(nil)).Elem() }

// HasMany declares a one-to-many relation where the related table carries
// the foreign key. Defaults mirror HasOne.
type HasMany[T any] struct {
	ForeignKey string
	LocalKey   string
}

func (HasMany[T]) RelationType() RelationType { return RelationHasMany }
func (HasMany[T]) RelatedType() reflect.Type  { return reflect.TypeOf((*T)(nil)).Elem() }

// BelongsTo declares the inverse side: the owner carries the foreign key.
// ForeignKey defaults to singular(related table)_pk on the owner, OwnerKey
// to the related model's primary key.
type BelongsTo[T any] struct {
	ForeignKey string // column on this model pointing at the related row
	OwnerKey   string // column on the related table the foreign key references
}

func (BelongsTo[T]) RelationType() RelationType { return RelationBelongsTo }
func (BelongsTo[T]) RelatedType() reflect.Type  { return reflect.TypeOf((*T)(nil)).Elem() }

// BelongsToMany declares a many-to-many relation through a pivot table.
//
// All keys are conventional by default: the pivot table from the two table
// names sorted, each pivot column from its side's table and primary key.
// PivotColumns requests extra pivot columns hydrated into the related rows'
// Pivot map. PivotModel routes pivot rows through a registered model type;
// combining it with PivotTable or WithTimestamps is a conflict.
type BelongsToMany[T any] struct {
	PivotTable string
	ForeignKey string // pivot column pointing at the owner
	RelatedKey string // pivot column pointing at the related model
	LocalKey   string // owner column referenced by ForeignKey

	PivotColumns   []string
	WithTimestamps bool
	PivotModel     string // resolver reference for the pivot row model
}

func (BelongsToMany[T]) RelationType() RelationType { return RelationBelongsToMany }
func (BelongsToMany[T]) RelatedType() reflect.Type  { return reflect.TypeOf((*T)(nil)).Elem() }

// HasManyThrough declares a distant one-to-many reached through an
// intermediary model: Country has many Posts through User. The intermediary
// is named by resolver reference and must expose a relation method reaching
// the final model.
type HasManyThrough[T any] struct {
	Through       string // resolver reference of the intermediary model
	ThroughMethod string // relation method on the intermediary reaching T
	ForeignKey    string // column on the intermediary pointing at the owner
	LocalKey      string // owner column referenced by ForeignKey
}

func (HasManyThrough[T]) RelationType() RelationType { return RelationHasManyThrough }
func (HasManyThrough[T]) RelatedType() reflect.Type  { return reflect.TypeOf((*T)(nil)).Elem() }

// relationMeta is a relation definition with every key resolved to a
// concrete column or table name. It is rebuilt on each resolution; resolving
// twice yields the same result.
type relationMeta struct {
	name        string
	kind        RelationType
	ownerInfo   *ModelInfo
	relatedType reflect.Type
	relatedInfo *ModelInfo

	foreignKey string // hasOne/hasMany: on related; belongsTo: on owner
	localKey   string // owner column feeding the match
	ownerKey   string // belongsTo: column on the related table

	pivotTable      string
	pivotForeignKey string
	pivotRelatedKey string
	pivotColumns    []string
	pivotTimestamps bool
	pivotInfo       *ModelInfo // set when a pivot model is configured

	throughInfo       *ModelInfo
	throughForeignKey string // column on the intermediary pointing at the owner
	throughInner      *relationMeta
}

// resolveRelationByName looks up a relation method on the owner model and
// resolves its definition. Unknown names wrap ErrRelationNotFound.
func resolveRelationByName(ownerInfo *ModelInfo, name string, resolver *ModelResolver) (*relationMeta, error) {
	method, ok := ownerInfo.RelationMethods[name]
	if !ok {
		return nil, WrapRelationError(name, ownerInfo.Type.Name(),
			fmt.Errorf("%w: no relation method %q", ErrRelationNotFound, name))
	}

	out := method.Func.Call([]reflect.Value{reflect.New(ownerInfo.Type).Elem()})
	rel, ok := out[0].Interface().(Relation)
	if !ok {
		return nil, WrapRelationError(name, ownerInfo.Type.Name(), ErrInvalidRelation)
	}

	return resolveRelation(ownerInfo, name, rel, resolver)
}

// resolveRelation applies the default-key policy to a relation definition.
func resolveRelation(ownerInfo *ModelInfo, name string, rel Relation, resolver *ModelResolver) (*relationMeta, error) {
	meta := &relationMeta{
		name:        name,
		kind:        rel.RelationType(),
		ownerInfo:   ownerInfo,
		relatedType: rel.RelatedType(),
	}
	meta.relatedInfo = ParseModelType(meta.relatedType)

	fail := func(err error) (*relationMeta, error) {
		return nil, WrapRelationError(name, ownerInfo.Type.Name(), err)
	}

	rv := reflect.ValueOf(rel)
	strField := func(field string) string {
		f := rv.FieldByName(field)
		if f.IsValid() && f.Kind() == reflect.String {
			return f.String()
		}
		return ""
	}

	switch meta.kind {
	case RelationHasOne, RelationHasMany:
		meta.foreignKey = strField("ForeignKey")
		if meta.foreignKey == "" {
			meta.foreignKey = DefaultForeignKey(ownerInfo.TableName, ownerInfo.PrimaryKey)
		}
		meta.localKey = strField("LocalKey")
		if meta.localKey == "" {
			meta.localKey = ownerInfo.PrimaryKey
		}
		if err := validateColumns(meta.foreignKey, meta.localKey); err != nil {
			return fail(err)
		}

	case RelationBelongsTo:
		meta.foreignKey = strField("ForeignKey")
		if meta.foreignKey == "" {
			meta.foreignKey = DefaultForeignKey(meta.relatedInfo.TableName, meta.relatedInfo.PrimaryKey)
		}
		meta.ownerKey = strField("OwnerKey")
		if meta.ownerKey == "" {
			meta.ownerKey = meta.relatedInfo.PrimaryKey
		}
		if err := validateColumns(meta.foreignKey, meta.ownerKey); err != nil {
			return fail(err)
		}

	case RelationBelongsToMany:
		pivotModelRef := strField("PivotModel")
		pivotTable := strField("PivotTable")
		withTimestamps := rv.FieldByName("WithTimestamps").Bool()

		if pivotModelRef != "" {
			if pivotTable != "" || withTimestamps {
				return fail(ErrPivotModelConflict)
			}
			if resolver == nil {
				return fail(fmt.Errorf("%w: %q (no resolver attached)", ErrUnresolvedRelatedModel, pivotModelRef))
			}
			pivotType, err := resolver.Resolve(pivotModelRef)
			if err != nil {
				return fail(err)
			}
			meta.pivotInfo = ParseModelType(pivotType)
			meta.pivotTable = meta.pivotInfo.TableName
			// Attach stamps both columns, so both must exist.
			_, hasCreated := meta.pivotInfo.Columns["created_at"]
			_, hasUpdated := meta.pivotInfo.Columns["updated_at"]
			meta.pivotTimestamps = hasCreated && hasUpdated
		} else {
			meta.pivotTable = pivotTable
			if meta.pivotTable == "" {
				meta.pivotTable = DefaultPivotTable(ownerInfo.TableName, meta.relatedInfo.TableName)
			}
			meta.pivotTimestamps = withTimestamps
		}

		meta.pivotForeignKey = strField("ForeignKey")
		if meta.pivotForeignKey == "" {
			meta.pivotForeignKey = DefaultForeignKey(ownerInfo.TableName, ownerInfo.PrimaryKey)
		}
		meta.pivotRelatedKey = strField("RelatedKey")
		if meta.pivotRelatedKey == "" {
			meta.pivotRelatedKey = DefaultForeignKey(meta.relatedInfo.TableName, meta.relatedInfo.PrimaryKey)
		}
		meta.localKey = strField("LocalKey")
		if meta.localKey == "" {
			meta.localKey = ownerInfo.PrimaryKey
		}

		pivotColsField := rv.FieldByName("PivotColumns")
		if pivotColsField.IsValid() && pivotColsField.Kind() == reflect.Slice && pivotColsField.Len() > 0 {
			meta.pivotColumns = make([]string, pivotColsField.Len())
			for i := 0; i < pivotColsField.Len(); i++ {
				meta.pivotColumns[i] = pivotColsField.Index(i).String()
			}
		}

		cols := append([]string{meta.pivotTable, meta.pivotForeignKey, meta.pivotRelatedKey, meta.localKey},
			meta.pivotColumns...)
		if err := validateColumns(cols...); err != nil {
			return fail(err)
		}

	case RelationHasManyThrough:
		throughRef := strField("Through")
		throughMethod := strField("ThroughMethod")
		if throughRef == "" || throughMethod == "" {
			return fail(fmt.Errorf("%w: relation %q needs Through and ThroughMethod", ErrMissingThroughMethod, name))
		}
		if resolver == nil {
			return fail(fmt.Errorf("%w: %q (no resolver attached)", ErrUnresolvedRelatedModel, throughRef))
		}
		throughType, err := resolver.Resolve(throughRef)
		if err != nil {
			return fail(err)
		}
		meta.throughInfo = ParseModelType(throughType)

		innerMethod, ok := meta.throughInfo.RelationMethods[throughMethod]
		if !ok {
			return fail(fmt.Errorf("%w: %s has no relation method %q",
				ErrMissingThroughMethod, meta.throughInfo.Type.Name(), throughMethod))
		}
		out := innerMethod.Func.Call([]reflect.Value{reflect.New(meta.throughInfo.Type).Elem()})
		innerRel, ok := out[0].Interface().(Relation)
		if !ok {
			return fail(ErrInvalidRelation)
		}
		if innerRel.RelatedType() != meta.relatedType {
			return fail(fmt.Errorf("%w: through method %q reaches %s, not %s",
				ErrInvalidRelation, throughMethod, innerRel.RelatedType().Name(), meta.relatedType.Name()))
		}

		meta.throughInner, err = resolveRelation(meta.throughInfo, throughMethod, innerRel, resolver)
		if err != nil {
			return fail(err)
		}
		// The second hop matches a single related-side column, which pivot
		// and through relations do not expose.
		switch meta.throughInner.kind {
		case RelationHasOne, RelationHasMany, RelationBelongsTo:
		default:
			return fail(fmt.Errorf("%w: through method %q is a %s relation",
				ErrInvalidRelation, throughMethod, meta.throughInner.kind))
		}

		meta.throughForeignKey = strField("ForeignKey")
		if meta.throughForeignKey == "" {
			meta.throughForeignKey = DefaultForeignKey(ownerInfo.TableName, ownerInfo.PrimaryKey)
		}
		meta.localKey = strField("LocalKey")
		if meta.localKey == "" {
			meta.localKey = ownerInfo.PrimaryKey
		}
		if err := validateColumns(meta.throughForeignKey, meta.localKey); err != nil {
			return fail(err)
		}

	default:
		return fail(ErrInvalidRelation)
	}

	return meta, nil
}

func validateColumns(names ...string) error {
	for _, name := range names {
		if err := ValidateColumnName(name); err != nil {
			return err
		}
	}
	return nil
}

// fieldFor returns the owner struct field the loaded relation is stitched
// into: the field sharing the relation's name.
func (meta *relationMeta) fieldFor() (*FieldInfo, error) {
	if f, ok := meta.ownerInfo.Fields[meta.name]; ok {
		return f, nil
	}
	return nil, WrapRelationError(meta.name, meta.ownerInfo.Type.Name(),
		fmt.Errorf("%w: no struct field %q to receive results", ErrInvalidRelation, meta.name))
}

// ownerKeyFor extracts the owner-side key value feeding this relation from
// an owner struct value.
func (meta *relationMeta) ownerKeyFor(owner reflect.Value) any {
	col := meta.localKey
	if meta.kind == RelationBelongsTo {
		col = meta.foreignKey
	}
	f, ok := meta.ownerInfo.Columns[col]
	if !ok {
		return nil
	}
	return owner.FieldByIndex(f.Index).Interface()
}

// ownerKeyColumn is the owner-side column feeding this relation.
func (meta *relationMeta) ownerKeyColumn() string {
	if meta.kind == RelationBelongsTo {
		return meta.foreignKey
	}
	return meta.localKey
}

// relatedKeyColumn is the related-side column that matches ownerKeyFor
// values: the foreign key for has-type relations, the owner key for
// belongs-to.
func (meta *relationMeta) relatedKeyColumn() string {
	if meta.kind == RelationBelongsTo {
		return meta.ownerKey
	}
	return meta.foreignKey
}
