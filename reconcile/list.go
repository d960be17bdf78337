package reconcile

import (
	"maps"

	"github.com/goliatone/go-query-cache/internal/value"
	"github.com/goliatone/go-query-cache/query"
)

// Applier decides whether a row belongs in a cached result.
type Applier interface {
	Apply(e query.Entity) bool
}

// MutateList reconciles one cached list with a write to the row identified by
// pk. The row present in list is mutated with input and then kept in place,
// moved to its sorted position or removed, depending on whether it still
// satisfies ev and on orderBy. A row absent from list is left alone; see
// UpsertList.
//
// list is never modified. The second result is false when list was returned
// unchanged.
func MutateList(pk []any, input query.Entity, mutate MutateFn, list []query.Entity, pks []string, ev Applier, orderBy []query.OrderBy) ([]query.Entity, bool) {
	idx := indexOf(list, pks, pk)
	if idx < 0 {
		return list, false
	}

	updated := mutate(maps.Clone(list[idx]), input)
	if !ev.Apply(updated) {
		return removeAt(list, idx), true
	}

	if len(sortKeys(orderBy)) == 0 {
		out := make([]query.Entity, len(list))
		copy(out, list)
		out[idx] = updated
		return out, true
	}
	return insertSorted(removeAt(list, idx), updated, orderBy), true
}

// UpsertList is MutateList that also inserts input when list does not hold
// the row and input satisfies ev. input must be in the list's result shape.
// An inserted row goes to its sorted position, or first when orderBy has no
// row keys.
func UpsertList(pk []any, input query.Entity, mutate MutateFn, list []query.Entity, pks []string, ev Applier, orderBy []query.OrderBy) ([]query.Entity, bool) {
	if next, changed := MutateList(pk, input, mutate, list, pks, ev, orderBy); changed {
		return next, true
	}
	return InsertIntoList(input, list, ev, orderBy)
}

// InsertIntoList adds row to list at its sorted position when row satisfies
// ev. Rows that compare equal keep their order and row goes after them.
func InsertIntoList(row query.Entity, list []query.Entity, ev Applier, orderBy []query.OrderBy) ([]query.Entity, bool) {
	if !ev.Apply(row) {
		return list, false
	}
	row = maps.Clone(row)
	if len(sortKeys(orderBy)) == 0 {
		out := make([]query.Entity, 0, len(list)+1)
		out = append(out, row)
		return append(out, list...), true
	}
	return insertSorted(list, row, orderBy), true
}

func insertSorted(list []query.Entity, row query.Entity, orderBy []query.OrderBy) []query.Entity {
	pos := len(list)
	for i, e := range list {
		if Compare(row, e, orderBy) < 0 {
			pos = i
			break
		}
	}
	out := make([]query.Entity, 0, len(list)+1)
	out = append(out, list[:pos]...)
	out = append(out, row)
	return append(out, list[pos:]...)
}

// RemoveFromList drops the row identified by pk from list.
func RemoveFromList(pk []any, list []query.Entity, pks []string) ([]query.Entity, bool) {
	idx := indexOf(list, pks, pk)
	if idx < 0 {
		return list, false
	}
	return removeAt(list, idx), true
}

func indexOf(list []query.Entity, pks []string, pk []any) int {
	for i, e := range list {
		if query.SamePrimaryKey(e, pks, pk) {
			return i
		}
	}
	return -1
}

func removeAt(list []query.Entity, idx int) []query.Entity {
	out := make([]query.Entity, 0, len(list)-1)
	out = append(out, list[:idx]...)
	return append(out, list[idx+1:]...)
}

// sortKeys drops entries that order an embedded resource; they say nothing
// about the order of the rows themselves.
func sortKeys(orderBy []query.OrderBy) []query.OrderBy {
	out := make([]query.OrderBy, 0, len(orderBy))
	for _, o := range orderBy {
		if o.ForeignTable == "" {
			out = append(out, o)
		}
	}
	return out
}

// Compare orders two rows by orderBy. A null sorts first or last according to
// the key's NullsFirst regardless of direction; a descending key reverses the
// comparison of two non-null values. The first key that tells the rows apart
// decides.
func Compare(a, b query.Entity, orderBy []query.OrderBy) int {
	for _, o := range sortKeys(orderBy) {
		av, _ := query.Lookup(a, o.Column)
		bv, _ := query.Lookup(b, o.Column)

		var c int
		aNull, bNull := value.IsNull(av), value.IsNull(bv)
		switch {
		case aNull && bNull:
			c = 0
		case aNull:
			c = 1
			if o.NullsFirst {
				c = -1
			}
		case bNull:
			c = -1
			if o.NullsFirst {
				c = 1
			}
		default:
			c = value.Compare(av, bv)
			if !o.Ascending {
				c = -c
			}
		}

		if c != 0 {
			return c
		}
	}
	return 0
}
