package query

import (
	"net/url"
	"strconv"
	"strings"
)

// KeySeparator delimits the segments of an encoded key.
const KeySeparator = "::"

// KeyPrefix marks keys that encode a relational query.
const KeyPrefix = "pg"

const segmentCount = 10

// Codec turns decoded keys into opaque cache keys and back.
type Codec interface {
	Encode(key Key) string
	// Decode returns false for keys that do not encode a relational query.
	Decode(raw string) (*Key, bool)
}

type defaultCodec struct{}

// NewCodec returns the default codec. Keys look like
// pg::schema::table::query::body::count::head::order::limit::offset with every
// segment query-escaped, so separators inside a segment survive.
func NewCodec() Codec {
	return defaultCodec{}
}

func (defaultCodec) Encode(key Key) string {
	head := ""
	if key.IsHead {
		head = "head"
	}
	parts := []string{
		KeyPrefix,
		url.QueryEscape(key.Schema),
		url.QueryEscape(key.Table),
		url.QueryEscape(key.Query),
		url.QueryEscape(key.Body),
		string(key.Count),
		head,
		url.QueryEscape(key.OrderBy),
		formatInt(key.Limit),
		formatInt(key.Offset),
	}
	return strings.Join(parts, KeySeparator)
}

func (defaultCodec) Decode(raw string) (*Key, bool) {
	parts := strings.Split(raw, KeySeparator)
	if len(parts) != segmentCount || parts[0] != KeyPrefix {
		return nil, false
	}

	unescaped := make([]string, len(parts))
	for i, p := range parts {
		s, err := url.QueryUnescape(p)
		if err != nil {
			return nil, false
		}
		unescaped[i] = s
	}

	key := &Key{
		Schema:  unescaped[1],
		Table:   unescaped[2],
		Query:   unescaped[3],
		Body:    unescaped[4],
		OrderBy: unescaped[7],
	}
	if key.Table == "" {
		return nil, false
	}

	switch mode := CountMode(unescaped[5]); mode {
	case CountNone, CountExact, CountPlanned, CountEstimated:
		key.Count = mode
	default:
		return nil, false
	}

	switch unescaped[6] {
	case "":
	case "head":
		key.IsHead = true
	default:
		return nil, false
	}

	var ok bool
	if key.Limit, ok = parseInt(unescaped[8]); !ok {
		return nil, false
	}
	if key.Offset, ok = parseInt(unescaped[9]); !ok {
		return nil, false
	}
	return key, true
}

func formatInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func parseInt(s string) (*int, bool) {
	if s == "" {
		return nil, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return nil, false
	}
	return &n, true
}

// Int returns a pointer to n, for building keys with a limit or offset.
func Int(n int) *int {
	return &n
}
