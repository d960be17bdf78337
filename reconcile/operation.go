package reconcile

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-query-cache/query"
)

// MutateFn produces the new version of a cached row. current is a copy of the
// cached row and input is the written row projected into the result shape of
// the entry being reconciled, with aliases applied and unselected columns
// dropped. Neither may be retained.
type MutateFn func(current, input query.Entity) query.Entity

// Merge overlays input on the cached row, merging nested maps key by key. It
// is the mutate function used when an Operation sets none.
func Merge(current, input query.Entity) query.Entity {
	out := make(query.Entity, len(current)+len(input))
	for k, v := range current {
		out[k] = v
	}
	for k, v := range input {
		if nested, ok := v.(map[string]any); ok {
			if existing, ok := out[k].(map[string]any); ok {
				out[k] = Merge(existing, nested)
				continue
			}
		}
		out[k] = v
	}
	return out
}

// RevalidateTable names a table whose cached queries should be refetched
// after the write.
type RevalidateTable struct {
	Schema string
	Table  string
}

// RevalidateRelation names a related table whose cached queries filtered on
// RelationIDColumn should be refetched for the row referenced by the written
// row's FKeyColumn.
type RevalidateRelation struct {
	Schema           string
	Relation         string
	FKeyColumn       string
	RelationIDColumn string
}

// Operation describes one write to reconcile into the cache.
type Operation struct {
	// Input is the written row in table shape.
	Input query.Entity
	// Mutate builds the cached row's new version. Nil means Merge.
	Mutate MutateFn

	Schema      string
	Table       string
	PrimaryKeys []string

	RevalidateTables    []RevalidateTable
	RevalidateRelations []RevalidateRelation
}

func (o Operation) validate() error {
	err := validation.ValidateStruct(&o,
		validation.Field(&o.Schema, validation.Required),
		validation.Field(&o.Table, validation.Required),
		validation.Field(&o.PrimaryKeys, validation.Required, validation.Each(validation.Required)),
		validation.Field(&o.RevalidateTables, validation.Each(validation.By(validateTable))),
		validation.Field(&o.RevalidateRelations, validation.Each(validation.By(validateRelation))),
	)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid reconcile operation")
	}
	return nil
}

func (o Operation) mutate() MutateFn {
	if o.Mutate == nil {
		return Merge
	}
	return o.Mutate
}

func validateTable(v any) error {
	t, _ := v.(RevalidateTable)
	return validation.ValidateStruct(&t,
		validation.Field(&t.Schema, validation.Required),
		validation.Field(&t.Table, validation.Required),
	)
}

func validateRelation(v any) error {
	r, _ := v.(RevalidateRelation)
	return validation.ValidateStruct(&r,
		validation.Field(&r.Schema, validation.Required),
		validation.Field(&r.Relation, validation.Required),
		validation.Field(&r.FKeyColumn, validation.Required),
		validation.Field(&r.RelationIDColumn, validation.Required),
	)
}
