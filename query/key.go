package query

import (
	"strings"

	"github.com/goliatone/go-query-cache/internal/value"
)

// Entity is one cached row: column (or alias) name to scalar value. Embedded
// resources are nested maps.
type Entity = map[string]any

// CountMode is the row-count strategy requested by a query.
type CountMode string

const (
	CountNone      CountMode = ""
	CountExact     CountMode = "exact"
	CountPlanned   CountMode = "planned"
	CountEstimated CountMode = "estimated"
)

// Key is the decoded form of an opaque cache key: the identity, filters,
// ordering and pagination of the query whose result is cached under it.
type Key struct {
	Schema  string
	Table   string
	Query   string
	Body    string
	OrderBy string
	Count   CountMode
	IsHead  bool
	Limit   *int
	Offset  *int
}

// Matches reports whether the key caches rows of schema.table.
func (k Key) Matches(schema, table string) bool {
	return k.Schema == schema && k.Table == table
}

// Order parses the key's order-by string.
func (k Key) Order() []OrderBy {
	return ParseOrderBy(k.OrderBy)
}

// Lookup resolves a dotted path against an entity. The second result is false
// when any segment is missing.
func Lookup(e Entity, path string) (any, bool) {
	if e == nil {
		return nil, false
	}
	segments := strings.Split(path, ".")
	var current any = e
	for _, segment := range segments {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// PrimaryKey extracts the values of pks from e. The second result is false
// when any of them is missing or null.
func PrimaryKey(e Entity, pks []string) ([]any, bool) {
	out := make([]any, len(pks))
	for i, pk := range pks {
		v, ok := e[pk]
		if !ok || value.IsNull(v) {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

// SamePrimaryKey reports whether e carries exactly the primary-key tuple want.
func SamePrimaryKey(e Entity, pks []string, want []any) bool {
	if e == nil || len(pks) != len(want) {
		return false
	}
	for i, pk := range pks {
		if !value.Equal(e[pk], want[i]) {
			return false
		}
	}
	return true
}

// AsEntity converts the map shapes produced by JSON, YAML or msgpack decoding
// into an Entity.
func AsEntity(v any) (Entity, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case map[any]any:
		out := make(Entity, len(t))
		for k, v := range t {
			s, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[s] = v
		}
		return out, true
	}
	return nil, false
}
