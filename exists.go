package rorm

import (
	"fmt"
	"strings"
)

// Has filters owners to those with at least one related row. With a
// comparison operator and value, the relation's row count is compared
// instead: Has("Posts", ">=", 3).
func (m *Model[T]) Has(relation string, opValue ...any) *Model[T] {
	return m.addHasWhere("AND", false, relation, nil, opValue)
}

// OrHas is Has joined with OR.
func (m *Model[T]) OrHas(relation string, opValue ...any) *Model[T] {
	return m.addHasWhere("OR", false, relation, nil, opValue)
}

// WhereHas is Has with a constraint narrowing which related rows qualify.
func (m *Model[T]) WhereHas(relation string, cb ConstraintFunc, opValue ...any) *Model[T] {
	return m.addHasWhere("AND", false, relation, cb, opValue)
}

// OrWhereHas is WhereHas joined with OR.
func (m *Model[T]) OrWhereHas(relation string, cb ConstraintFunc, opValue ...any) *Model[T] {
	return m.addHasWhere("OR", false, relation, cb, opValue)
}

// DoesntHave filters owners to those with no related rows. It takes no
// count comparison; use Has with an operator for that.
func (m *Model[T]) DoesntHave(relation string) *Model[T] {
	return m.addHasWhere("AND", true, relation, nil, nil)
}

// OrDoesntHave is DoesntHave joined with OR.
func (m *Model[T]) OrDoesntHave(relation string) *Model[T] {
	return m.addHasWhere("OR", true, relation, nil, nil)
}

// WhereDoesntHave is DoesntHave with a constraint: owners kept are those
// with no related row matching the constraint.
func (m *Model[T]) WhereDoesntHave(relation string, cb ConstraintFunc) *Model[T] {
	return m.addHasWhere("AND", true, relation, cb, nil)
}

// OrWhereDoesntHave is WhereDoesntHave joined with OR.
func (m *Model[T]) OrWhereDoesntHave(relation string, cb ConstraintFunc) *Model[T] {
	return m.addHasWhere("OR", true, relation, cb, nil)
}

var countOps = map[string]bool{
	"=": true, "!=": true, "<>": true,
	"<": true, "<=": true, ">": true, ">=": true,
}

func (m *Model[T]) addHasWhere(typ string, negate bool, relation string, cb ConstraintFunc, opValue []any) *Model[T] {
	meta, err := resolveRelationByName(m.modelInfo, relation, m.resolver)
	if err != nil {
		m.setErr(err)
		return m
	}

	rc := &RelationConstraint{}
	if cb != nil {
		cb(rc)
	}
	if rc.err != nil {
		m.setErr(WrapRelationError(relation, m.modelInfo.Type.Name(), rc.err))
		return m
	}

	if len(opValue) > 0 {
		if negate {
			m.setErr(fmt.Errorf("%w: DoesntHave does not take a count comparison", ErrUnsupportedConstraint))
			return m
		}
		if len(opValue) != 2 {
			m.setErr(fmt.Errorf("%w: count comparison needs an operator and a value", ErrUnsupportedConstraint))
			return m
		}
		op, ok := opValue[0].(string)
		if !ok || !countOps[strings.TrimSpace(op)] {
			m.setErr(fmt.Errorf("%w: operator %v", ErrUnsupportedConstraint, opValue[0]))
			return m
		}

		subquery, args, err := relationSubquery(m.modelInfo.TableName, meta, "COUNT(*)", rc)
		if err != nil {
			m.setErr(err)
			return m
		}
		m.wheres = append(m.wheres, typ+" ("+subquery+") "+strings.TrimSpace(op)+" ?")
		m.args = append(m.args, args...)
		m.args = append(m.args, opValue[1])
		return m
	}

	subquery, args, err := relationSubquery(m.modelInfo.TableName, meta, "1", rc)
	if err != nil {
		m.setErr(err)
		return m
	}

	keyword := "EXISTS"
	if negate {
		keyword = "NOT EXISTS"
	}
	m.wheres = append(m.wheres, typ+" "+keyword+" ("+subquery+")")
	m.args = append(m.args, args...)
	return m
}
