package query

import "strings"

// OrderBy is one sort key of a query.
type OrderBy struct {
	Column       string
	ForeignTable string
	Ascending    bool
	NullsFirst   bool
}

// ParseOrderBy parses the compact order-by form
// "column:asc|desc.nullsFirst|nullsLast", several keys separated by "|". The
// column may be prefixed with a foreign table ("author.name:asc"). Direction
// defaults to ascending; null placement defaults to last for ascending and
// first for descending keys.
func ParseOrderBy(s string) []OrderBy {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	var out []OrderBy
	for _, part := range strings.Split(s, "|") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		column, def, _ := strings.Cut(part, ":")
		o := OrderBy{Column: column, Ascending: true}
		if table, col, ok := strings.Cut(column, "."); ok {
			o.ForeignTable = table
			o.Column = col
		}

		dir, nulls, _ := strings.Cut(def, ".")
		if dir == "desc" {
			o.Ascending = false
		}
		switch nulls {
		case "nullsFirst":
			o.NullsFirst = true
		case "nullsLast":
			o.NullsFirst = false
		default:
			o.NullsFirst = !o.Ascending
		}

		out = append(out, o)
	}
	return out
}

// String renders o back into its compact form.
func (o OrderBy) String() string {
	var b strings.Builder
	if o.ForeignTable != "" {
		b.WriteString(o.ForeignTable)
		b.WriteByte('.')
	}
	b.WriteString(o.Column)
	if o.Ascending {
		b.WriteString(":asc")
	} else {
		b.WriteString(":desc")
	}
	if o.NullsFirst {
		b.WriteString(".nullsFirst")
	} else {
		b.WriteString(".nullsLast")
	}
	return b.String()
}

// FormatOrderBy is the inverse of ParseOrderBy.
func FormatOrderBy(orders []OrderBy) string {
	parts := make([]string, len(orders))
	for i, o := range orders {
		parts[i] = o.String()
	}
	return strings.Join(parts, "|")
}
