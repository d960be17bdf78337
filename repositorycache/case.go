package repositorycache

import (
	"strings"
	"unicode"
)

// toSnake turns a Go field name into the column name bun would derive for it:
// "UserID" becomes "user_id", "HTTPStatus2" becomes "http_status_2".
// Characters that cannot appear in a column name become single underscores.
func toSnake(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(runes) + len(runes)/2)

	sep := func() {
		if b.Len() > 0 && !strings.HasSuffix(b.String(), "_") {
			b.WriteByte('_')
		}
	}

	for i, r := range runes {
		switch {
		case unicode.IsUpper(r):
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					sep()
				}
			}
			b.WriteRune(unicode.ToLower(r))
		case unicode.IsDigit(r):
			if i > 0 && !unicode.IsDigit(runes[i-1]) {
				sep()
			}
			b.WriteRune(r)
		case unicode.IsLower(r):
			b.WriteRune(r)
		default:
			sep()
		}
	}

	return strings.Trim(b.String(), "_")
}
