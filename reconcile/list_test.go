package reconcile

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/goliatone/go-query-cache/query"
)

type applyFunc func(query.Entity) bool

func (f applyFunc) Apply(e query.Entity) bool { return f(e) }

var (
	always = applyFunc(func(query.Entity) bool { return true })
	never  = applyFunc(func(query.Entity) bool { return false })
)

func set(values query.Entity) MutateFn {
	return func(current, _ query.Entity) query.Entity {
		for k, v := range values {
			current[k] = v
		}
		return current
	}
}

func row(id1, id2, v1, v2 any) query.Entity {
	return query.Entity{"id_1": id1, "id_2": id2, "value_1": v1, "value_2": v2}
}

var compositePK = []string{"id_1", "id_2"}

func TestMutateList(t *testing.T) {
	desc := []query.OrderBy{{Column: "value_1", Ascending: false, NullsFirst: false}}

	tests := []struct {
		name    string
		pk      []any
		mutate  MutateFn
		list    []query.Entity
		ev      Applier
		orderBy []query.OrderBy
		want    []query.Entity
	}{
		{
			name:   "remove unordered",
			pk:     []any{3, 3},
			mutate: set(query.Entity{"value_1": 1, "value_2": 1}),
			list:   []query.Entity{row(1, 1, 3, 3), row(2, 2, 2, 2), row(3, 3, 1, 1)},
			ev:     never,
			want:   []query.Entity{row(1, 1, 3, 3), row(2, 2, 2, 2)},
		},
		{
			name:    "remove ordered",
			pk:      []any{2, 2},
			mutate:  set(query.Entity{"value_1": 0, "value_2": 0}),
			list:    []query.Entity{row(1, 1, 3, 3), row(2, 2, 2, 2), row(3, 3, 1, 1)},
			ev:      never,
			orderBy: desc,
			want:    []query.Entity{row(1, 1, 3, 3), row(3, 3, 1, 1)},
		},
		{
			name:   "update unordered keeps position",
			pk:     []any{0, 0},
			mutate: set(query.Entity{"value_1": 1, "value_2": 1}),
			list:   []query.Entity{row(1, 1, 3, 3), row(0, 0, 2, 2), row(3, 3, 1, 1)},
			ev:     always,
			want:   []query.Entity{row(1, 1, 3, 3), row(0, 0, 1, 1), row(3, 3, 1, 1)},
		},
		{
			name:    "update ordered moves to sorted position",
			pk:      []any{2, 2},
			mutate:  set(query.Entity{"value_1": 0, "value_2": 0}),
			list:    []query.Entity{row(1, 1, 3, 3), row(2, 2, 2, 2), row(3, 3, 1, 1)},
			ev:      always,
			orderBy: desc,
			want:    []query.Entity{row(1, 1, 3, 3), row(3, 3, 1, 1), row(2, 2, 0, 0)},
		},
		{
			name:    "ties keep the moved row after equal rows",
			pk:      []any{1, 1},
			mutate:  set(query.Entity{"value_1": 2}),
			list:    []query.Entity{row(1, 1, 3, 3), row(2, 2, 2, 2), row(3, 3, 1, 1)},
			ev:      always,
			orderBy: desc,
			want:    []query.Entity{row(2, 2, 2, 2), row(1, 1, 2, 3), row(3, 3, 1, 1)},
		},
		{
			name:    "foreign table order is ignored",
			pk:      []any{1, 1},
			mutate:  set(query.Entity{"value_1": 9}),
			list:    []query.Entity{row(1, 1, 3, 3), row(2, 2, 2, 2)},
			ev:      always,
			orderBy: []query.OrderBy{{Column: "name", ForeignTable: "author", Ascending: true}},
			want:    []query.Entity{row(1, 1, 9, 3), row(2, 2, 2, 2)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed := MutateList(tt.pk, nil, tt.mutate, tt.list, compositePK, tt.ev, tt.orderBy)
			if !changed {
				t.Fatal("expected list to change")
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("MutateList() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMutateList_DoesNotModifyInput(t *testing.T) {
	list := []query.Entity{row(1, 1, 3, 3), row(2, 2, 2, 2), row(3, 3, 1, 1)}
	snapshot := []query.Entity{row(1, 1, 3, 3), row(2, 2, 2, 2), row(3, 3, 1, 1)}

	MutateList([]any{2, 2}, nil, set(query.Entity{"value_1": 0}), list, compositePK, always,
		[]query.OrderBy{{Column: "value_1", Ascending: true}})

	if diff := cmp.Diff(snapshot, list); diff != "" {
		t.Errorf("input list was modified (-want +got):\n%s", diff)
	}
}

func TestMutateList_NoMatch(t *testing.T) {
	list := []query.Entity{row(1, 1, 3, 3)}
	called := false
	got, changed := MutateList([]any{9, 9}, nil, func(e, _ query.Entity) query.Entity {
		called = true
		return e
	}, list, compositePK, always, nil)

	if changed {
		t.Error("expected no change when the row is absent")
	}
	if called {
		t.Error("mutate must not be called when the row is absent")
	}
	if len(got) != 1 || &got[0] != &list[0] {
		t.Error("expected the original list back")
	}
}

func TestMutateList_Scenarios(t *testing.T) {
	pk := []string{"pk"}
	list := []query.Entity{{"pk": 1, "v": "a"}, {"pk": 2, "v": "b"}}

	t.Run("update in place", func(t *testing.T) {
		got, _ := MutateList([]any{2}, nil, set(query.Entity{"v": "c"}), list, pk, always, nil)
		want := []query.Entity{{"pk": 1, "v": "a"}, {"pk": 2, "v": "c"}}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("removed when filters reject", func(t *testing.T) {
		got, _ := MutateList([]any{2}, nil, set(query.Entity{"v": "c"}), list, pk, never, nil)
		want := []query.Entity{{"pk": 1, "v": "a"}}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
		for _, e := range got {
			if e["pk"] == 2 {
				t.Error("removed row still present")
			}
		}
	})
}

func TestMutateList_ResultIsSorted(t *testing.T) {
	orderBy := query.ParseOrderBy("v:desc.nullsLast|pk:asc")
	list := []query.Entity{
		{"pk": 1, "v": 9},
		{"pk": 2, "v": 7},
		{"pk": 3, "v": 7},
		{"pk": 4, "v": 5},
		{"pk": 5, "v": nil},
	}

	for _, next := range []any{10, 7, 6, 1, nil} {
		got, _ := MutateList([]any{4}, nil, set(query.Entity{"v": next}), list, []string{"pk"}, always, orderBy)
		if len(got) != len(list) {
			t.Fatalf("v=%v: length changed to %d", next, len(got))
		}
		for i := 1; i < len(got); i++ {
			if Compare(got[i-1], got[i], orderBy) > 0 {
				t.Errorf("v=%v: rows %d and %d out of order: %v", next, i-1, i, got)
			}
		}
	}
}

func TestMutateList_LargeIntegerKeys(t *testing.T) {
	pk := []string{"pk"}
	list := []query.Entity{
		{"pk": int64(1 << 60), "v": "a"},
		{"pk": uint64(1<<60 + 1), "v": "b"},
	}

	got, changed := MutateList([]any{uint64(1<<60 + 1)}, nil, set(query.Entity{"v": "z"}), list, pk, always, nil)
	if !changed {
		t.Fatal("expected list to change")
	}
	want := []query.Entity{
		{"pk": int64(1 << 60), "v": "a"},
		{"pk": uint64(1<<60 + 1), "v": "z"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestMutateList_MergesProjectedInput(t *testing.T) {
	list := []query.Entity{{"pk": 1, "title": "a", "meta": map[string]any{"x": 1, "y": 2}}}
	input := query.Entity{"pk": 1, "title": "b", "meta": map[string]any{"y": 3}}

	got, _ := MutateList([]any{1}, input, Merge, list, []string{"pk"}, always, nil)
	want := []query.Entity{{"pk": 1, "title": "b", "meta": map[string]any{"x": 1, "y": 3}}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	if list[0]["meta"].(map[string]any)["y"] != 2 {
		t.Error("cached nested map was modified")
	}
}

func TestUpsertList(t *testing.T) {
	pk := []string{"pk"}
	asc := query.ParseOrderBy("v:asc")
	list := []query.Entity{{"pk": 1, "v": "a"}, {"pk": 2, "v": "c"}}

	tests := []struct {
		name    string
		input   query.Entity
		ev      Applier
		orderBy []query.OrderBy
		want    []query.Entity
		changed bool
	}{
		{
			name:    "absent row inserted at sorted position",
			input:   query.Entity{"pk": 3, "v": "b"},
			ev:      always,
			orderBy: asc,
			want:    []query.Entity{{"pk": 1, "v": "a"}, {"pk": 3, "v": "b"}, {"pk": 2, "v": "c"}},
			changed: true,
		},
		{
			name:    "absent row prepended without order",
			input:   query.Entity{"pk": 3, "v": "b"},
			ev:      always,
			want:    []query.Entity{{"pk": 3, "v": "b"}, {"pk": 1, "v": "a"}, {"pk": 2, "v": "c"}},
			changed: true,
		},
		{
			name:    "absent row appended after equal rows",
			input:   query.Entity{"pk": 3, "v": "c"},
			ev:      always,
			orderBy: asc,
			want:    []query.Entity{{"pk": 1, "v": "a"}, {"pk": 2, "v": "c"}, {"pk": 3, "v": "c"}},
			changed: true,
		},
		{
			name:  "absent row rejected by filters",
			input: query.Entity{"pk": 3, "v": "b"},
			ev:    never,
			want:  list,
		},
		{
			name:    "present row updated not duplicated",
			input:   query.Entity{"pk": 2, "v": "0"},
			ev:      always,
			orderBy: asc,
			want:    []query.Entity{{"pk": 2, "v": "0"}, {"pk": 1, "v": "a"}},
			changed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkValue := []any{tt.input["pk"]}
			got, changed := UpsertList(pkValue, tt.input, Merge, list, pk, tt.ev, tt.orderBy)
			if changed != tt.changed {
				t.Errorf("changed = %v, want %v", changed, tt.changed)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("UpsertList() mismatch (-want +got):\n%s", diff)
			}
		})
	}

	if len(list) != 2 {
		t.Errorf("input list was modified: %v", list)
	}
}

func TestInsertIntoList_CopiesRow(t *testing.T) {
	input := query.Entity{"pk": 1, "v": "a"}
	got, changed := InsertIntoList(input, nil, always, nil)
	if !changed || len(got) != 1 {
		t.Fatalf("expected one inserted row, got %v", got)
	}
	got[0]["v"] = "z"
	if input["v"] != "a" {
		t.Error("inserted row shares the input map")
	}
}

func TestRemoveFromList(t *testing.T) {
	list := []query.Entity{row(1, 1, 3, 3), row(2, 2, 2, 2)}
	got, changed := RemoveFromList([]any{1, 1}, list, compositePK)
	if !changed {
		t.Fatal("expected removal")
	}
	if diff := cmp.Diff([]query.Entity{row(2, 2, 2, 2)}, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	if _, changed := RemoveFromList([]any{7, 7}, list, compositePK); changed {
		t.Error("expected no change for an absent row")
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name  string
		a, b  query.Entity
		order string
		want  int
	}{
		{name: "asc", a: query.Entity{"v": 1}, b: query.Entity{"v": 2}, order: "v:asc", want: -1},
		{name: "desc", a: query.Entity{"v": 1}, b: query.Entity{"v": 2}, order: "v:desc", want: 1},
		{name: "nulls first asc", a: query.Entity{"v": nil}, b: query.Entity{"v": 2}, order: "v:asc.nullsFirst", want: -1},
		{name: "nulls last asc", a: query.Entity{"v": nil}, b: query.Entity{"v": 2}, order: "v:asc.nullsLast", want: 1},
		{name: "nulls first desc", a: query.Entity{"v": nil}, b: query.Entity{"v": 2}, order: "v:desc.nullsFirst", want: -1},
		{name: "nulls last desc", a: query.Entity{"v": 2}, b: query.Entity{"v": nil}, order: "v:desc.nullsLast", want: -1},
		{name: "missing column is null", a: query.Entity{}, b: query.Entity{"v": 2}, order: "v:asc.nullsFirst", want: -1},
		{name: "both null", a: query.Entity{"v": nil}, b: query.Entity{}, order: "v:asc", want: 0},
		{name: "tie broken by next key", a: query.Entity{"v": 1, "w": "b"}, b: query.Entity{"v": 1, "w": "a"}, order: "v:asc|w:asc", want: 1},
		{name: "no order", a: query.Entity{"v": 1}, b: query.Entity{"v": 2}, order: "", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Compare(tt.a, tt.b, query.ParseOrderBy(tt.order)); got != tt.want {
				t.Errorf("Compare() = %d, want %d", got, tt.want)
			}
		})
	}
}
