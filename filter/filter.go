// Package filter answers membership questions about a cached row relative to
// one query: does it carry every selected path, does it satisfy the query's
// filters, could its primary key alone be admitted.
//
// Evaluators are built per decoded key by a Factory. They are pure and safe
// for concurrent use; a missing path or an operand of the wrong type is a
// non-match, never an error.
package filter

import (
	"fmt"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-query-cache/query"
)

// Evaluator is the per-query predicate set used by the reconciler.
//
// HasPaths, ApplyFilters and Apply take rows in result shape (aliased as the
// query selected them). ApplyFiltersOnPaths and Denormalize take rows in
// table shape (plain column names).
type Evaluator interface {
	// HasPaths reports whether e carries a value for every selected path.
	HasPaths(e query.Entity) bool
	// ApplyFilters reports whether e satisfies every filter of the query.
	ApplyFilters(e query.Entity) bool
	// HasFiltersOnPaths reports whether any filter references one of paths.
	HasFiltersOnPaths(paths []string) bool
	// ApplyFiltersOnPaths evaluates only the filters on paths against e.
	// Filters on other columns cannot exclude the row.
	ApplyFiltersOnPaths(e query.Entity, paths []string) bool
	// Denormalize projects e onto the selected paths, applying aliases.
	Denormalize(e query.Entity) query.Entity
	// Apply reports whether e belongs in the query's result.
	Apply(e query.Entity) bool
}

// Factory builds the evaluator for one decoded key.
type Factory func(key query.Key) (Evaluator, error)

// TextCodeInvalidQuery tags errors for query strings the parser rejects.
const TextCodeInvalidQuery = "INVALID_QUERY"

func invalidQuery(format string, args ...any) error {
	return goerrors.New(fmt.Sprintf(format, args...), goerrors.CategoryBadInput).
		WithTextCode(TextCodeInvalidQuery)
}

// New is the default Factory: it parses key.Query as a PostgREST query
// string.
func New(key query.Key) (Evaluator, error) {
	return Parse(key.Query)
}

var _ Factory = New
