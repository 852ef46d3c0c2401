package rorm

import (
	"fmt"
	"strings"
)

// countSpec is one relation-count column added to the SELECT list as a
// correlated subquery.
type countSpec struct {
	alias    string
	subquery string
	args     []any
}

// WithCount adds a relation count as an extra result column. The relation
// argument accepts "Name" or "Name as alias"; without an alias the column is
// the snake_cased relation name suffixed with "_count". Counts land in the
// owner's Aggregates map.
func (m *Model[T]) WithCount(relation string, cbs ...ConstraintFunc) *Model[T] {
	name, alias, err := parseCountAlias(relation)
	if err != nil {
		m.setErr(err)
		return m
	}

	for _, c := range m.counts {
		if c.alias == alias {
			m.setErr(fmt.Errorf("%w: %q", ErrDuplicateAggregateAlias, alias))
			return m
		}
	}

	meta, err := resolveRelationByName(m.modelInfo, name, m.resolver)
	if err != nil {
		m.setErr(err)
		return m
	}

	rc := &RelationConstraint{}
	if cb := firstConstraint(cbs); cb != nil {
		cb(rc)
	}
	if rc.err != nil {
		m.setErr(WrapRelationError(name, m.modelInfo.Type.Name(), rc.err))
		return m
	}

	subquery, args, err := relationSubquery(m.modelInfo.TableName, meta, "COUNT(*)", rc)
	if err != nil {
		m.setErr(err)
		return m
	}

	m.counts = append(m.counts, countSpec{alias: alias, subquery: subquery, args: args})
	return m
}

// parseCountAlias splits "Name as alias" into its parts, defaulting the
// alias to snake_case(name) + "_count".
func parseCountAlias(relation string) (name, alias string, err error) {
	name = strings.TrimSpace(relation)
	if idx := strings.Index(strings.ToLower(name), " as "); idx >= 0 {
		alias = strings.TrimSpace(name[idx+4:])
		name = strings.TrimSpace(name[:idx])
	}
	if name == "" {
		return "", "", fmt.Errorf("%w: empty relation name", ErrInvalidIdentifier)
	}
	if alias == "" {
		alias = DefaultCountAlias(name)
	}
	if err := ValidateColumnName(alias); err != nil {
		return "", "", err
	}
	return name, alias, nil
}

// relationSubquery builds the correlated subquery body shared by relation
// counts and existence filters. sel is the select expression, typically
// "COUNT(*)" or "1". Column names in constraint fragments should be
// table-qualified when they would otherwise be ambiguous.
func relationSubquery(ownerTable string, meta *relationMeta, sel string, rc *RelationConstraint) (string, []any, error) {
	sb := GetStringBuilder()
	defer PutStringBuilder(sb)

	sb.WriteString("SELECT ")
	sb.WriteString(sel)
	sb.WriteString(" FROM ")

	relatedTable := meta.relatedInfo.TableName

	switch meta.kind {
	case RelationHasOne, RelationHasMany:
		sb.WriteString(relatedTable)
		sb.WriteString(" WHERE ")
		sb.WriteString(relatedTable)
		sb.WriteByte('.')
		sb.WriteString(meta.foreignKey)
		sb.WriteString(" = ")
		sb.WriteString(ownerTable)
		sb.WriteByte('.')
		sb.WriteString(meta.localKey)

	case RelationBelongsTo:
		sb.WriteString(relatedTable)
		sb.WriteString(" WHERE ")
		sb.WriteString(relatedTable)
		sb.WriteByte('.')
		sb.WriteString(meta.ownerKey)
		sb.WriteString(" = ")
		sb.WriteString(ownerTable)
		sb.WriteByte('.')
		sb.WriteString(meta.foreignKey)

	case RelationBelongsToMany:
		sb.WriteString(meta.pivotTable)
		sb.WriteString(" INNER JOIN ")
		sb.WriteString(relatedTable)
		sb.WriteString(" ON ")
		sb.WriteString(relatedTable)
		sb.WriteByte('.')
		sb.WriteString(meta.relatedInfo.PrimaryKey)
		sb.WriteString(" = ")
		sb.WriteString(meta.pivotTable)
		sb.WriteByte('.')
		sb.WriteString(meta.pivotRelatedKey)
		sb.WriteString(" WHERE ")
		sb.WriteString(meta.pivotTable)
		sb.WriteByte('.')
		sb.WriteString(meta.pivotForeignKey)
		sb.WriteString(" = ")
		sb.WriteString(ownerTable)
		sb.WriteByte('.')
		sb.WriteString(meta.localKey)

	case RelationHasManyThrough:
		throughTable := meta.throughInfo.TableName
		sb.WriteString(relatedTable)
		sb.WriteString(" INNER JOIN ")
		sb.WriteString(throughTable)
		sb.WriteString(" ON ")
		sb.WriteString(relatedTable)
		sb.WriteByte('.')
		sb.WriteString(meta.throughInner.relatedKeyColumn())
		sb.WriteString(" = ")
		sb.WriteString(throughTable)
		sb.WriteByte('.')
		sb.WriteString(meta.throughInner.ownerKeyColumn())
		sb.WriteString(" WHERE ")
		sb.WriteString(throughTable)
		sb.WriteByte('.')
		sb.WriteString(meta.throughForeignKey)
		sb.WriteString(" = ")
		sb.WriteString(ownerTable)
		sb.WriteByte('.')
		sb.WriteString(meta.localKey)

	default:
		return "", nil, WrapRelationError(meta.name, meta.ownerInfo.Type.Name(), ErrInvalidRelation)
	}

	for _, w := range rc.wheres {
		sb.WriteByte(' ')
		sb.WriteString(w)
	}

	return strings.Clone(sb.String()), rc.args, nil
}
