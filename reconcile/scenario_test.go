package reconcile

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/goliatone/go-query-cache/pkg/testsupport"
	"github.com/goliatone/go-query-cache/query"
)

type scenario struct {
	Name     string         `yaml:"name"`
	Table    string         `yaml:"table"`
	Query    string         `yaml:"query"`
	OrderBy  string         `yaml:"order_by"`
	Limit    *int           `yaml:"limit"`
	Head     bool           `yaml:"head"`
	Relocate bool           `yaml:"relocate"`
	Op       string         `yaml:"op"`
	Input    map[string]any `yaml:"input"`
	Cached   any            `yaml:"cached"`
	Want     any            `yaml:"want"`
}

func TestScenarios(t *testing.T) {
	var scenarios []scenario
	testsupport.LoadFixtureYAML(t, testsupport.FixturePath("scenarios.yaml"), &scenarios)
	if len(scenarios) == 0 {
		t.Fatal("no scenarios loaded")
	}

	codec := query.NewCodec()
	for _, sc := range scenarios {
		t.Run(sc.Name, func(t *testing.T) {
			ctx := context.Background()
			raw := codec.Encode(query.Key{
				Schema:  "public",
				Table:   sc.Table,
				Query:   sc.Query,
				OrderBy: sc.OrderBy,
				IsHead:  sc.Head,
				Limit:   sc.Limit,
			})

			store := newMemoryStore(nil, raw)
			testsupport.SeedStore(t, store, map[string]any{raw: sc.Cached})

			r, err := New(Deps{Store: store}, WithPageRelocation(sc.Relocate))
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}

			op := Operation{
				Input:       sc.Input,
				Schema:      "public",
				Table:       sc.Table,
				PrimaryKeys: []string{"pk"},
			}
			switch sc.Op {
			case "mutate":
				err = r.MutateItem(ctx, op)
			case "upsert":
				err = r.UpsertItem(ctx, op)
			case "delete":
				err = r.DeleteItem(ctx, op)
			default:
				t.Fatalf("unknown op %q", sc.Op)
			}
			if err != nil {
				t.Fatalf("%s failed: %v", sc.Op, err)
			}

			got := testsupport.StoreSnapshot(t, store)[raw]
			if diff := cmp.Diff(testsupport.Normalize(sc.Want), got); diff != "" {
				t.Errorf("cached entry mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
