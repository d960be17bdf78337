package filter

import (
	"net/url"
	"sort"
	"strings"
)

var reservedParams = map[string]bool{
	"select":      true,
	"order":       true,
	"limit":       true,
	"offset":      true,
	"columns":     true,
	"on_conflict": true,
}

var operators = map[string]bool{
	"eq":    true,
	"neq":   true,
	"gt":    true,
	"gte":   true,
	"lt":    true,
	"lte":   true,
	"like":  true,
	"ilike": true,
	"is":    true,
	"in":    true,
}

// Parse builds a PostgrestFilter from a query string such as
// "select=id,v:value&value=eq.a&or=(id.eq.1,value.is.null)".
func Parse(raw string) (*PostgrestFilter, error) {
	values, err := url.ParseQuery(raw)
	if err != nil {
		return nil, invalidQuery("parse query %q: %v", raw, err)
	}

	f := &PostgrestFilter{
		root:    &group{},
		aliases: map[string]string{},
	}

	selects := values["select"]
	if len(selects) == 0 {
		f.wildcard = true
	}
	for _, s := range selects {
		paths, wildcard, err := parseSelect(s, "", "")
		if err != nil {
			return nil, err
		}
		f.wildcard = f.wildcard || wildcard
		f.paths = append(f.paths, paths...)
	}
	for _, p := range f.paths {
		f.aliases[p.column] = p.result
	}

	// deterministic evaluation order
	params := make([]string, 0, len(values))
	for k := range values {
		params = append(params, k)
	}
	sort.Strings(params)

	for _, param := range params {
		if reservedParams[param] {
			continue
		}
		for _, v := range values[param] {
			n, err := parseParam(param, v)
			if err != nil {
				return nil, err
			}
			f.root.children = append(f.root.children, n)
		}
	}

	return f, nil
}

// parseSelect flattens a select list into result/column path pairs. prefix is
// the result path of the enclosing embed, columnPrefix its source path.
func parseSelect(s, prefix, columnPrefix string) ([]selectPath, bool, error) {
	items, err := splitTopLevel(s)
	if err != nil {
		return nil, false, err
	}

	var (
		out      []selectPath
		wildcard bool
	)
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if item == "*" {
			if prefix == "" {
				wildcard = true
			}
			continue
		}

		if open := strings.IndexByte(item, '('); open >= 0 {
			if !strings.HasSuffix(item, ")") {
				return nil, false, invalidQuery("unbalanced embed %q", item)
			}
			name := item[:open]
			inner := item[open+1 : len(item)-1]
			alias, relation := splitAlias(name)
			// drop join hints such as relation!fkey or relation!inner
			relation, _, _ = strings.Cut(relation, "!")
			if alias == "" {
				alias = relation
			}
			nested, _, err := parseSelect(inner, join(prefix, alias), join(columnPrefix, relation))
			if err != nil {
				return nil, false, err
			}
			out = append(out, nested...)
			continue
		}

		alias, column := splitAlias(item)
		column, _, _ = strings.Cut(column, "::")
		if alias == "" {
			alias = column
		}
		out = append(out, selectPath{
			result: join(prefix, alias),
			column: join(columnPrefix, column),
		})
	}
	return out, wildcard, nil
}

// splitAlias splits "alias:column" while leaving "column::cast" intact.
func splitAlias(s string) (alias, column string) {
	idx := strings.Index(s, ":")
	if idx < 0 || strings.HasPrefix(s[idx:], "::") {
		return "", s
	}
	return s[:idx], s[idx+1:]
}

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func parseParam(param, raw string) (node, error) {
	negate := false
	name := param
	if strings.HasPrefix(name, "not.") {
		negate = true
		name = strings.TrimPrefix(name, "not.")
	}

	switch name {
	case "or", "and":
		g, err := parseGroup(name == "or", raw)
		if err != nil {
			return nil, err
		}
		g.negate = negate
		return g, nil
	}

	c, err := parseOperand(param, raw)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// parseOperand parses "[not.]op.value" for column.
func parseOperand(column, raw string) (*condition, error) {
	c := &condition{path: column}
	rest := raw
	if strings.HasPrefix(rest, "not.") {
		c.negate = true
		rest = strings.TrimPrefix(rest, "not.")
	}

	op, operand, ok := strings.Cut(rest, ".")
	if !ok || !operators[op] {
		return nil, invalidQuery("unsupported filter %s=%s", column, raw)
	}
	c.op = op

	if op == "in" {
		list, err := parseList(operand)
		if err != nil {
			return nil, err
		}
		c.list = list
		return c, nil
	}

	c.operand = unquote(operand)
	return c, nil
}

// parseGroup parses "(cond,cond,and(cond,cond))".
func parseGroup(or bool, raw string) (*group, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "(") || !strings.HasSuffix(raw, ")") {
		return nil, invalidQuery("logic group %q must be parenthesised", raw)
	}

	items, err := splitTopLevel(raw[1 : len(raw)-1])
	if err != nil {
		return nil, err
	}

	g := &group{or: or}
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		n, err := parseGroupItem(item)
		if err != nil {
			return nil, err
		}
		g.children = append(g.children, n)
	}
	return g, nil
}

func parseGroupItem(item string) (node, error) {
	for _, prefix := range []string{"not.or(", "not.and(", "or(", "and("} {
		if !strings.HasPrefix(item, prefix) {
			continue
		}
		negate := strings.HasPrefix(prefix, "not.")
		name := strings.TrimSuffix(strings.TrimPrefix(prefix, "not."), "(")
		g, err := parseGroup(name == "or", item[len(prefix)-1:])
		if err != nil {
			return nil, err
		}
		g.negate = negate
		return g, nil
	}

	// column.[not.]op.value, where the column itself may be dotted
	segments := strings.Split(item, ".")
	for i := 1; i < len(segments); i++ {
		seg := segments[i]
		if seg == "not" && i+1 < len(segments) && operators[segments[i+1]] {
			return parseOperand(strings.Join(segments[:i], "."), strings.Join(segments[i:], "."))
		}
		if operators[seg] {
			return parseOperand(strings.Join(segments[:i], "."), strings.Join(segments[i:], "."))
		}
	}
	return nil, invalidQuery("unsupported filter %q", item)
}

func parseList(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "(") || !strings.HasSuffix(raw, ")") {
		return nil, invalidQuery("in list %q must be parenthesised", raw)
	}
	items, err := splitTopLevel(raw[1 : len(raw)-1])
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, unquote(strings.TrimSpace(item)))
	}
	return out, nil
}

// splitTopLevel splits on commas outside parentheses and double quotes.
func splitTopLevel(s string) ([]string, error) {
	var (
		out    []string
		depth  int
		quoted bool
		start  int
	)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			quoted = !quoted
		case '(':
			if !quoted {
				depth++
			}
		case ')':
			if !quoted {
				depth--
				if depth < 0 {
					return nil, invalidQuery("unbalanced parentheses in %q", s)
				}
			}
		case ',':
			if !quoted && depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	if depth != 0 || quoted {
		return nil, invalidQuery("unbalanced parentheses or quotes in %q", s)
	}
	if start <= len(s) {
		out = append(out, s[start:])
	}
	return out, nil
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
