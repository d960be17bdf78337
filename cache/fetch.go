package cache

import (
	"context"
	"fmt"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-query-cache/query"
)

// FetchQuery reads the result of a relational query through store. The value
// is cached under the encoded form of key, so later writes to key.Table can be
// reconciled into it. A hit decoded loosely by a remote store is converted
// back into T.
func FetchQuery[T any](ctx context.Context, store Store, codec query.Codec, key query.Key, fetch FetchFn[T]) (T, error) {
	var zero T
	raw := codec.Encode(key)

	current, ok, err := store.Get(ctx, raw)
	if err != nil {
		return zero, goerrors.Wrap(err, goerrors.CategoryExternal, "read cached query")
	}
	if ok {
		typed, isT := asResult[T](current)
		if !isT {
			return zero, fmt.Errorf("%w: key %q holds %T", ErrInvalidResultType, raw, current)
		}
		return typed, nil
	}

	fresh, err := fetch(ctx)
	if err != nil {
		return zero, err
	}
	if err := store.Set(ctx, raw, fresh); err != nil {
		return zero, goerrors.Wrap(err, goerrors.CategoryExternal, "store query result")
	}
	return fresh, nil
}
