package repositorycache

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/query"
	"github.com/goliatone/go-query-cache/reconcile"
)

// TestReconcilingRepository_EndToEnd runs the decorator against the
// in-memory store and a real reconciler.
func TestReconcilingRepository_EndToEnd(t *testing.T) {
	ctx := context.Background()

	cfg := cache.DefaultConfig()
	cfg.TTL = time.Minute
	cfg.EarlyRefresh = nil
	store, err := cache.NewMemoryStore(cfg)
	if err != nil {
		t.Fatalf("NewMemoryStore failed: %v", err)
	}

	reconciler, err := reconcile.New(reconcile.Deps{Store: store, Revalidator: cache.NewStoreRevalidator(store, nil)})
	if err != nil {
		t.Fatalf("reconcile.New failed: %v", err)
	}

	base := &mockRepository[TestUser]{}
	repo, err := New[TestUser](base, store, reconciler, WithRevalidator(cache.NewStoreRevalidator(store, nil)))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	codec := query.NewCodec()
	key := query.Key{
		Schema:  "public",
		Table:   "users",
		Query:   "select=id,name&name=like.A*",
		OrderBy: "name:asc",
	}
	seed := []any{
		map[string]any{"id": "1", "name": "Ada"},
		map[string]any{"id": "2", "name": "Alan"},
	}
	if _, err := cache.FetchQuery(ctx, store, codec, key, func(context.Context) ([]any, error) { return seed, nil }); err != nil {
		t.Fatalf("FetchQuery failed: %v", err)
	}

	cached := func() []any {
		t.Helper()
		v, ok, err := store.Get(ctx, codec.Encode(key))
		if err != nil || !ok {
			t.Fatalf("cached entry missing: ok=%v err=%v", ok, err)
		}
		return v.([]any)
	}

	// an update that sorts earlier moves the row
	base.writeResult = TestUser{ID: "2", Name: "Abe"}
	if _, err := repo.Update(ctx, TestUser{ID: "2"}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	want := []any{
		query.Entity{"id": "2", "name": "Abe"},
		map[string]any{"id": "1", "name": "Ada"},
	}
	if diff := cmp.Diff(want, cached()); diff != "" {
		t.Errorf("after update (-want +got):\n%s", diff)
	}

	// an update that no longer matches the filter drops the row
	base.writeResult = TestUser{ID: "1", Name: "Zed"}
	if _, err := repo.Update(ctx, TestUser{ID: "1"}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if got := cached(); len(got) != 1 {
		t.Errorf("expected one row left, got %v", got)
	}

	// a delete empties it
	if err := repo.Delete(ctx, TestUser{ID: "2"}); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if got := cached(); len(got) != 0 {
		t.Errorf("expected empty list, got %v", got)
	}

	// a create that matches the filter is inserted in order
	if _, err := repo.Create(ctx, TestUser{ID: "3", Name: "Amy"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := repo.Create(ctx, TestUser{ID: "4", Name: "Abby"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	want = []any{
		query.Entity{"id": "4", "name": "Abby"},
		query.Entity{"id": "3", "name": "Amy"},
	}
	if diff := cmp.Diff(want, cached()); diff != "" {
		t.Errorf("after create (-want +got):\n%s", diff)
	}

	// one that does not is left out
	if _, err := repo.Create(ctx, TestUser{ID: "5", Name: "Bea"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if got := cached(); len(got) != 2 {
		t.Errorf("expected the filtered create to be skipped, got %v", got)
	}
}
