package filter

import (
	"regexp"
	"strings"

	"github.com/goliatone/go-query-cache/internal/value"
	"github.com/goliatone/go-query-cache/query"
)

// PostgrestFilter evaluates PostgREST-style select lists and filters.
type PostgrestFilter struct {
	paths    []selectPath
	wildcard bool
	aliases  map[string]string // column path -> result path
	root     *group
}

var _ Evaluator = (*PostgrestFilter)(nil)

type selectPath struct {
	result string
	column string
}

// outcome is three-valued so filters outside a path restriction stay neutral.
type outcome int

const (
	no outcome = iota
	yes
	unknown
)

func truth(b bool) outcome {
	if b {
		return yes
	}
	return no
}

type resolver func(column string) (any, bool)

type node interface {
	eval(resolve resolver, only map[string]bool) outcome
	columns(into map[string]bool)
}

type condition struct {
	path    string
	op      string
	negate  bool
	operand string
	list    []string
}

type group struct {
	or       bool
	negate   bool
	children []node
}

func (c *condition) columns(into map[string]bool) {
	into[c.path] = true
}

func (c *condition) eval(resolve resolver, only map[string]bool) outcome {
	if only != nil && !only[c.path] {
		return unknown
	}
	v, ok := resolve(c.path)
	if !ok {
		return no
	}
	if c.op != "is" && value.IsNull(v) {
		return no
	}
	matched := c.match(v)
	if c.negate {
		matched = !matched
	}
	return truth(matched)
}

func (c *condition) match(v any) bool {
	switch c.op {
	case "is":
		switch strings.ToLower(c.operand) {
		case "null", "unknown":
			return value.IsNull(v)
		case "true", "false":
			b, ok := v.(bool)
			return ok && b == (strings.ToLower(c.operand) == "true")
		}
		return false
	case "in":
		for _, item := range c.list {
			if operand, ok := value.Coerce(item, v); ok && value.Equal(v, operand) {
				return true
			}
		}
		return false
	case "like", "ilike":
		re, err := likePattern(c.operand, c.op == "ilike")
		if err != nil {
			return false
		}
		return re.MatchString(value.String(v))
	}

	operand, ok := value.Coerce(c.operand, v)
	if !ok {
		return false
	}
	switch c.op {
	case "eq":
		return value.Equal(v, operand)
	case "neq":
		return !value.Equal(v, operand)
	case "gt":
		return value.Compare(v, operand) > 0
	case "gte":
		return value.Compare(v, operand) >= 0
	case "lt":
		return value.Compare(v, operand) < 0
	case "lte":
		return value.Compare(v, operand) <= 0
	}
	return false
}

func (g *group) columns(into map[string]bool) {
	for _, child := range g.children {
		child.columns(into)
	}
}

func (g *group) eval(resolve resolver, only map[string]bool) outcome {
	result := yes
	if g.or {
		result = no
		if len(g.children) == 0 {
			result = yes
		}
	}

	for _, child := range g.children {
		o := child.eval(resolve, only)
		if g.or {
			if o == yes {
				result = yes
				break
			}
			if o == unknown {
				result = unknown
			}
			continue
		}
		if o == no {
			result = no
			break
		}
		if o == unknown {
			result = unknown
		}
	}

	if g.negate {
		switch result {
		case yes:
			return no
		case no:
			return yes
		}
	}
	return result
}

func likePattern(pattern string, insensitive bool) (*regexp.Regexp, error) {
	var b strings.Builder
	if insensitive {
		b.WriteString("(?i)")
	}
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*', '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// resultResolver reads columns from a row in result shape, preferring the
// alias the query selected the column under.
func (f *PostgrestFilter) resultResolver(e query.Entity) resolver {
	return func(column string) (any, bool) {
		if alias, ok := f.aliases[column]; ok {
			if v, ok := query.Lookup(e, alias); ok {
				return v, true
			}
		}
		return query.Lookup(e, column)
	}
}

func columnResolver(e query.Entity) resolver {
	return func(column string) (any, bool) {
		return query.Lookup(e, column)
	}
}

// HasPaths implements Evaluator.
func (f *PostgrestFilter) HasPaths(e query.Entity) bool {
	if e == nil {
		return false
	}
	for _, p := range f.paths {
		if !hasPath(e, p.result) && !hasPath(e, p.column) {
			return false
		}
	}
	return true
}

// hasPath treats an embedded list as present: its rows are not addressable by
// a single path.
func hasPath(e query.Entity, path string) bool {
	var current any = e
	for _, segment := range strings.Split(path, ".") {
		switch t := current.(type) {
		case map[string]any:
			v, ok := t[segment]
			if !ok {
				return false
			}
			current = v
		case []any, []map[string]any:
			return true
		default:
			return false
		}
	}
	return true
}

// ApplyFilters implements Evaluator.
func (f *PostgrestFilter) ApplyFilters(e query.Entity) bool {
	if e == nil {
		return false
	}
	return f.root.eval(f.resultResolver(e), nil) == yes
}

// HasFiltersOnPaths implements Evaluator.
func (f *PostgrestFilter) HasFiltersOnPaths(paths []string) bool {
	cols := map[string]bool{}
	f.root.columns(cols)
	for _, p := range paths {
		if cols[p] {
			return true
		}
	}
	return false
}

// ApplyFiltersOnPaths implements Evaluator.
func (f *PostgrestFilter) ApplyFiltersOnPaths(e query.Entity, paths []string) bool {
	if e == nil {
		return false
	}
	only := make(map[string]bool, len(paths))
	for _, p := range paths {
		only[p] = true
	}
	return f.root.eval(columnResolver(e), only) != no
}

// Denormalize implements Evaluator.
func (f *PostgrestFilter) Denormalize(e query.Entity) query.Entity {
	out := query.Entity{}
	if f.wildcard {
		for k, v := range e {
			out[k] = v
		}
	}
	for _, p := range f.paths {
		v, ok := query.Lookup(e, p.column)
		if !ok {
			continue
		}
		setPath(out, p.result, v)
	}
	return out
}

func setPath(e query.Entity, path string, v any) {
	segments := strings.Split(path, ".")
	current := e
	for _, segment := range segments[:len(segments)-1] {
		// copy on write: nested maps may still be shared with the input row
		next := map[string]any{}
		if existing, ok := current[segment].(map[string]any); ok {
			for k, v := range existing {
				next[k] = v
			}
		}
		current[segment] = next
		current = next
	}
	current[segments[len(segments)-1]] = v
}

// Apply implements Evaluator.
func (f *PostgrestFilter) Apply(e query.Entity) bool {
	return f.HasPaths(e) && f.ApplyFilters(e)
}
