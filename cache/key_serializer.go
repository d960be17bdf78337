package cache

import (
	"bytes"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/goliatone/go-query-cache/query"
)

// KeySeparator is the delimiter between cache key segments. It is shared with
// the query codec so every key in a store splits the same way.
const KeySeparator = query.KeySeparator

// defaultKeySerializer renders scalars verbatim and digests composite values,
// so keys stay short and never contain the separator of a decoded query key.
type defaultKeySerializer struct {
	prefix string
}

// NewDefaultKeySerializer creates a serializer without a namespace.
func NewDefaultKeySerializer() KeySerializer {
	return &defaultKeySerializer{}
}

// NewKeySerializer creates a serializer whose keys all start with prefix.
func NewKeySerializer(prefix string) KeySerializer {
	return &defaultKeySerializer{prefix: prefix}
}

// SerializeKey implements KeySerializer.
func (s *defaultKeySerializer) SerializeKey(method string, args ...any) string {
	parts := make([]string, 0, len(args)+2)
	if s.prefix != "" {
		parts = append(parts, s.prefix)
	}
	parts = append(parts, method)
	for _, arg := range args {
		parts = append(parts, s.encode(reflect.ValueOf(arg)))
	}
	return strings.Join(parts, KeySeparator)
}

func (s *defaultKeySerializer) encode(rv reflect.Value) string {
	if !rv.IsValid() {
		return "nil"
	}

	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return "nil"
		}
		return s.encode(rv.Elem())
	case reflect.Func:
		if rv.IsNil() {
			return "nil"
		}
		// stable for the life of the process only
		return fmt.Sprintf("func:%#x", rv.Pointer())
	case reflect.Chan:
		return fmt.Sprintf("chan:%#x", rv.Pointer())
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'g', -1, 64)
	case reflect.Slice:
		if rv.IsNil() {
			return "nil"
		}
		fallthrough
	case reflect.Array:
		items := make([]string, rv.Len())
		for i := range items {
			items[i] = s.encode(rv.Index(i))
		}
		return "[" + strings.Join(items, ",") + "]"
	}

	return s.digest(rv)
}

// digest hashes the msgpack form of maps and structs. Map keys are sorted so
// equal maps digest equally.
func (s *defaultKeySerializer) digest(rv reflect.Value) string {
	if !rv.CanInterface() {
		return rv.Type().String()
	}

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(rv.Interface()); err != nil {
		return fmt.Sprintf("%s:%v", rv.Type(), rv.Interface())
	}
	return fmt.Sprintf("h:%016x", xxhash.Sum64(buf.Bytes()))
}
