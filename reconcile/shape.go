package reconcile

import (
	"github.com/goliatone/go-query-cache/internal/value"
	"github.com/goliatone/go-query-cache/query"
)

// rowOp is one reconciliation expressed over the two things a cached value
// can hold: a list of rows or a single row.
type rowOp struct {
	// list reconciles a list; false means the list is returned unchanged.
	list func(items []query.Entity) ([]query.Entity, bool)
	// item reconciles a single row. matched is false when the row is not the
	// written one; a nil next removes it.
	item func(e query.Entity) (next query.Entity, matched bool)
	// insert adds the written row to a list that does not hold it. Nil for
	// operations that never add rows.
	insert func(items []query.Entity) ([]query.Entity, bool)
}

// reconcileList runs list and, when the list does not hold the row, insert.
func (op rowOp) reconcileList(items []query.Entity) ([]query.Entity, bool) {
	if next, changed := op.list(items); changed {
		return next, true
	}
	if op.insert == nil {
		return items, false
	}
	return op.insert(items)
}

// cachedValue is the tagged variant a cached value is classified into once per
// reconciliation. apply returns false when the value is to be kept as is.
type cachedValue interface {
	apply(op rowOp, relocate *int) (any, bool)
}

type (
	emptyValue  struct{}
	opaqueValue struct{}
	flatValue   struct{ list rowList }
	pagedValue  struct {
		outer outerForm
		pages []page
	}
	singleValue struct {
		form  singleForm
		meta  map[string]any
		data  any
		count *int
	}
)

// listForm remembers the Go type a list was stored as so it is written back
// the same way.
type listForm int

const (
	listTyped listForm = iota // []query.Entity
	listBoxed                 // []any
)

type rowList struct {
	items []query.Entity
	form  listForm
}

func (l rowList) value(items []query.Entity) any {
	if l.form == listTyped {
		return items
	}
	out := make([]any, len(items))
	for i, e := range items {
		out[i] = e
	}
	return out
}

func asRowList(v any) (rowList, bool) {
	switch t := v.(type) {
	case []query.Entity:
		return rowList{items: t, form: listTyped}, true
	case []any:
		items := make([]query.Entity, len(t))
		for i, raw := range t {
			e, ok := query.AsEntity(raw)
			if !ok {
				return rowList{}, false
			}
			items[i] = e
		}
		return rowList{items: items, form: listBoxed}, true
	}
	return rowList{}, false
}

type pageForm int

const (
	pageList       pageForm = iota // plain list of rows
	pageHasMore                    // query.HasMorePage
	pageHasMoreMap                 // {"data": [...], "hasMore": bool}
)

type page struct {
	raw  any
	form pageForm
	list rowList
	meta map[string]any
}

func (p page) value(items []query.Entity) any {
	switch p.form {
	case pageHasMore:
		hm := p.raw.(query.HasMorePage)
		hm.Data = items
		return hm
	case pageHasMoreMap:
		out := make(map[string]any, len(p.meta))
		for k, v := range p.meta {
			out[k] = v
		}
		out["data"] = p.list.value(items)
		return out
	}
	return p.list.value(items)
}

func asPage(v any) (page, bool) {
	switch t := v.(type) {
	case query.HasMorePage:
		return page{raw: t, form: pageHasMore, list: rowList{items: t.Data, form: listTyped}}, true
	case map[string]any:
		if _, ok := t["hasMore"]; !ok {
			return page{}, false
		}
		l, ok := asRowList(t["data"])
		if !ok {
			return page{}, false
		}
		return page{raw: t, form: pageHasMoreMap, list: l, meta: t}, true
	}
	l, ok := asRowList(v)
	if !ok {
		return page{}, false
	}
	return page{raw: v, form: pageList, list: l}, true
}

type outerForm int

const (
	outerBoxed   outerForm = iota // []any
	outerLists                    // [][]query.Entity
	outerHasMore                  // []query.HasMorePage
)

type singleForm int

const (
	singleStruct singleForm = iota
	singlePointer
	singleMap
)

// classify picks the variant for current. Head queries never carry rows and
// are left alone.
func classify(key query.Key, current any) cachedValue {
	if value.IsNull(current) {
		return emptyValue{}
	}
	if key.IsHead {
		return opaqueValue{}
	}

	switch t := current.(type) {
	case query.Response:
		return singleValue{form: singleStruct, data: t.Data, count: t.Count}
	case *query.Response:
		return singleValue{form: singlePointer, data: t.Data, count: t.Count}
	case map[string]any:
		data, ok := t["data"]
		if !ok {
			return opaqueValue{}
		}
		var count *int
		if n, ok := value.Int(t["count"]); ok {
			count = &n
		}
		return singleValue{form: singleMap, meta: t, data: data, count: count}
	case []query.Entity:
		return flatValue{list: rowList{items: t, form: listTyped}}
	case [][]query.Entity:
		pages := make([]page, len(t))
		for i, p := range t {
			pages[i] = page{raw: p, form: pageList, list: rowList{items: p, form: listTyped}}
		}
		return pagedValue{outer: outerLists, pages: pages}
	case []query.HasMorePage:
		pages := make([]page, len(t))
		for i, p := range t {
			pages[i], _ = asPage(p)
		}
		return pagedValue{outer: outerHasMore, pages: pages}
	case []any:
		if len(t) == 0 {
			return flatValue{list: rowList{items: []query.Entity{}, form: listBoxed}}
		}
		if _, isPage := asPage(t[0]); isPage && !isRow(t[0]) {
			pages := make([]page, len(t))
			for i, raw := range t {
				p, ok := asPage(raw)
				if !ok {
					return opaqueValue{}
				}
				pages[i] = p
			}
			return pagedValue{outer: outerBoxed, pages: pages}
		}
		if l, ok := asRowList(t); ok {
			return flatValue{list: l}
		}
	}
	return opaqueValue{}
}

// isRow tells a row apart from a has-more page stored as a map.
func isRow(v any) bool {
	m, ok := query.AsEntity(v)
	if !ok {
		return false
	}
	_, hasMore := m["hasMore"]
	_, hasData := m["data"]
	return !(hasMore && hasData)
}

func (emptyValue) apply(rowOp, *int) (any, bool)  { return nil, false }
func (opaqueValue) apply(rowOp, *int) (any, bool) { return nil, false }

func (v flatValue) apply(op rowOp, _ *int) (any, bool) {
	next, changed := op.reconcileList(v.list.items)
	if !changed {
		return nil, false
	}
	return v.list.value(next), true
}

// apply reconciles each page on its own. Only changed pages are reallocated.
// A row no page holds is inserted into the first page. With relocate set to
// the page size, plain-list pages are instead flattened, reconciled as one
// list and cut back into pages.
func (v pagedValue) apply(op rowOp, relocate *int) (any, bool) {
	if relocate != nil && *relocate > 0 && v.plainPages() {
		return v.applyRelocating(op, *relocate)
	}

	values := make([]any, len(v.pages))
	changed := false
	for i, p := range v.pages {
		next, ok := op.list(p.list.items)
		if !ok {
			values[i] = p.raw
			continue
		}
		values[i] = p.value(next)
		changed = true
	}
	if !changed && op.insert != nil && len(v.pages) > 0 {
		first := v.pages[0]
		if next, ok := op.insert(first.list.items); ok {
			values[0] = first.value(next)
			changed = true
		}
	}
	if !changed {
		return nil, false
	}
	return v.outerValue(values), true
}

func (v pagedValue) plainPages() bool {
	for _, p := range v.pages {
		if p.form != pageList {
			return false
		}
	}
	return len(v.pages) > 0
}

func (v pagedValue) applyRelocating(op rowOp, size int) (any, bool) {
	var all []query.Entity
	for _, p := range v.pages {
		all = append(all, p.list.items...)
	}
	next, changed := op.reconcileList(all)
	if !changed {
		return nil, false
	}

	template := v.pages[0]
	var values []any
	for start := 0; start < len(next); start += size {
		end := min(start+size, len(next))
		values = append(values, template.value(next[start:end:end]))
	}
	return v.outerValue(values), true
}

func (v pagedValue) outerValue(values []any) any {
	switch v.outer {
	case outerLists:
		out := make([][]query.Entity, len(values))
		for i, p := range values {
			out[i], _ = p.([]query.Entity)
		}
		return out
	case outerHasMore:
		out := make([]query.HasMorePage, len(values))
		for i, p := range values {
			out[i], _ = p.(query.HasMorePage)
		}
		return out
	}
	if values == nil {
		values = []any{}
	}
	return values
}

func (v singleValue) apply(op rowOp, _ *int) (any, bool) {
	if value.IsNull(v.data) {
		return nil, false
	}

	if l, ok := asRowList(v.data); ok {
		next, changed := op.reconcileList(l.items)
		if !changed {
			return nil, false
		}
		count := v.count
		if count != nil && len(next) != len(l.items) {
			c := max(*count+len(next)-len(l.items), len(next))
			count = &c
		}
		return v.with(l.value(next), count), true
	}

	row, ok := query.AsEntity(v.data)
	if !ok {
		return nil, false
	}
	next, matched := op.item(row)
	if !matched {
		return nil, false
	}
	if next == nil {
		return v.with(nil, v.count), true
	}
	return v.with(next, v.count), true
}

func (v singleValue) with(data any, count *int) any {
	switch v.form {
	case singlePointer:
		return &query.Response{Data: data, Count: count}
	case singleMap:
		out := make(map[string]any, len(v.meta))
		for k, val := range v.meta {
			out[k] = val
		}
		out["data"] = data
		if count != nil {
			out["count"] = *count
		}
		return out
	}
	return query.Response{Data: data, Count: count}
}
