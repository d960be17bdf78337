package repositorycache

import (
	"bytes"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/goliatone/go-query-cache/query"
)

// EntityMapper turns a repository record into the row shape cached query
// results hold.
type EntityMapper func(record any) (query.Entity, error)

var (
	baseModelType = reflect.TypeOf(bun.BaseModel{})
	timeType      = reflect.TypeOf(time.Time{})
)

// TableInfo is what the bun tags of a model declare about its table.
type TableInfo struct {
	Schema      string
	Table       string
	PrimaryKeys []string
}

// InspectModel reads the table name and primary key columns from the bun tags
// of model, e.g. `bun:"table:public.users"` on the embedded bun.BaseModel and
// `bun:"id,pk"` on key fields.
func InspectModel(model any) (TableInfo, error) {
	rt := reflect.TypeOf(model)
	for rt != nil && rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	if rt == nil || rt.Kind() != reflect.Struct {
		return TableInfo{}, fmt.Errorf("repositorycache: %T is not a struct model", model)
	}

	var info TableInfo
	inspectFields(rt, &info)
	if info.Table == "" {
		info.Table = toSnake(rt.Name())
	}
	return info, nil
}

func inspectFields(rt reflect.Type, info *TableInfo) {
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		tag := f.Tag.Get("bun")

		if f.Type == baseModelType {
			for _, opt := range strings.Split(tag, ",") {
				if name, ok := strings.CutPrefix(opt, "table:"); ok {
					if schema, table, dotted := strings.Cut(name, "."); dotted {
						info.Schema, info.Table = schema, table
					} else {
						info.Table = name
					}
				}
			}
			continue
		}

		if f.Anonymous && tag == "" && f.Type.Kind() == reflect.Struct {
			inspectFields(f.Type, info)
			continue
		}

		name, opts, skip := columnOf(f)
		if skip {
			continue
		}
		for _, opt := range opts {
			if opt == "pk" {
				info.PrimaryKeys = append(info.PrimaryKeys, name)
			}
		}
	}
}

// columnOf resolves the column name of a struct field: the bun tag name, then
// the json tag name, then the snake_case field name. Relations and ignored
// fields are skipped.
func columnOf(f reflect.StructField) (name string, opts []string, skip bool) {
	if !f.IsExported() {
		return "", nil, true
	}

	tag, hasTag := f.Tag.Lookup("bun")
	if tag == "-" {
		return "", nil, true
	}
	if hasTag {
		parts := strings.Split(tag, ",")
		opts = parts[1:]
		if strings.Contains(parts[0], ":") {
			// bun:"rel:belongs-to" and friends carry no column name
			opts = parts
			parts[0] = ""
		}
		for _, opt := range opts {
			if strings.HasPrefix(opt, "rel:") || strings.HasPrefix(opt, "m2m:") {
				return "", nil, true
			}
		}
		name = parts[0]
	}

	if name == "" {
		if jsonTag, ok := f.Tag.Lookup("json"); ok {
			if jsonTag == "-" {
				return "", nil, true
			}
			name, _, _ = strings.Cut(jsonTag, ",")
		}
	}
	if name == "" {
		name = toSnake(f.Name)
	}
	return name, opts, false
}

// StructEntity maps a struct (or pointer to one) to an Entity keyed by column
// name.
func StructEntity(record any) (query.Entity, error) {
	rv := reflect.ValueOf(record)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, fmt.Errorf("repositorycache: nil record")
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, fmt.Errorf("repositorycache: cannot map %T to a row", record)
	}

	out := query.Entity{}
	collect(rv, out)
	return out, nil
}

func collect(rv reflect.Value, out query.Entity) {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if f.Type == baseModelType {
			continue
		}
		if f.Anonymous && f.Tag.Get("bun") == "" && f.Type.Kind() == reflect.Struct && f.Type != timeType {
			collect(rv.Field(i), out)
			continue
		}

		name, _, skip := columnOf(f)
		if skip {
			continue
		}
		out[name] = columnValue(rv.Field(i))
	}
}

// columnValue unwraps pointers and renders fixed-size byte arrays such as
// UUIDs through their String method.
func columnValue(v reflect.Value) any {
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	if v.Kind() == reflect.Array {
		if s, ok := v.Interface().(fmt.Stringer); ok {
			return s.String()
		}
	}
	return v.Interface()
}

// MsgpackEntity maps a record through its msgpack encoding, honouring json
// tags. Nested structs come back as maps, which suits rows with embedded
// relations.
func MsgpackEntity(record any) (query.Entity, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(record); err != nil {
		return nil, fmt.Errorf("repositorycache: encode record: %w", err)
	}

	dec := msgpack.NewDecoder(&buf)
	dec.UseLooseInterfaceDecoding(true)
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("repositorycache: decode record: %w", err)
	}
	return out, nil
}
