// Package testsupport loads fixtures, compares golden files and seeds cache
// stores for tests.
package testsupport

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"
)

// LoadFixture loads test data from a fixture file.
// The path is relative to the test package directory.
func LoadFixture(t testing.TB, path string) []byte {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to load fixture from %s: %v", path, err)
	}
	return data
}

// LoadFixtureJSON loads a JSON fixture into dest.
func LoadFixtureJSON(t testing.TB, path string, dest any) {
	t.Helper()

	if err := json.Unmarshal(LoadFixture(t, path), dest); err != nil {
		t.Fatalf("failed to unmarshal JSON fixture from %s: %v", path, err)
	}
}

// LoadFixtureYAML loads a YAML fixture into dest.
func LoadFixtureYAML(t testing.TB, path string, dest any) {
	t.Helper()

	if err := yaml.Unmarshal(LoadFixture(t, path), dest); err != nil {
		t.Fatalf("failed to unmarshal YAML fixture from %s: %v", path, err)
	}
}

// WriteGolden writes test output to a golden file, creating its directory.
func WriteGolden(t testing.TB, path string, data []byte) {
	t.Helper()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("failed to create directory %s: %v", dir, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write golden file to %s: %v", path, err)
	}
}

// CompareWithGolden compares actual with the golden file at path. A missing
// golden file is created from actual.
func CompareWithGolden(t testing.TB, path string, actual []byte) {
	t.Helper()

	expected, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			t.Logf("golden file %s does not exist, creating it", path)
			WriteGolden(t, path, actual)
			return
		}
		t.Fatalf("failed to read golden file %s: %v", path, err)
	}

	if diff := cmp.Diff(string(expected), string(actual)); diff != "" {
		t.Errorf("output mismatch for %s (-golden +actual):\n%s", path, diff)
	}
}

// FixturePath constructs a path to a fixture file in the testdata directory.
func FixturePath(filename string) string {
	return filepath.Join("testdata", filename)
}

// GoldenPath constructs a path to a golden file in testdata/golden.
func GoldenPath(filename string) string {
	return filepath.Join("testdata", "golden", filename)
}

// Normalize converts decoded YAML, JSON or msgpack values into the shapes the
// reconciler works with: maps keyed by string and []any lists. Map keys that
// are not strings are formatted with yaml.
func Normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, v := range t {
			out[k] = Normalize(v)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, v := range t {
			key, ok := k.(string)
			if !ok {
				raw, _ := yaml.Marshal(k)
				key = string(raw[:len(raw)-1])
			}
			out[key] = Normalize(v)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, v := range t {
			out[i] = Normalize(v)
		}
		return out
	}
	return v
}

// Setter is the write half of a cache store.
type Setter interface {
	Set(ctx context.Context, key string, value any) error
}

// Reader enumerates and reads a cache store.
type Reader interface {
	Keys(ctx context.Context) ([]string, error)
	Get(ctx context.Context, key string) (any, bool, error)
}

// SeedStore writes every entry into store.
func SeedStore(t testing.TB, store Setter, entries map[string]any) {
	t.Helper()

	for key, value := range entries {
		if err := store.Set(context.Background(), key, Normalize(value)); err != nil {
			t.Fatalf("failed to seed %s: %v", key, err)
		}
	}
}

// StoreSnapshot reads every entry of store.
func StoreSnapshot(t testing.TB, store Reader) map[string]any {
	t.Helper()

	ctx := context.Background()
	keys, err := store.Keys(ctx)
	if err != nil {
		t.Fatalf("failed to list keys: %v", err)
	}
	sort.Strings(keys)

	out := make(map[string]any, len(keys))
	for _, key := range keys {
		v, ok, err := store.Get(ctx, key)
		if err != nil {
			t.Fatalf("failed to read %s: %v", key, err)
		}
		if ok {
			out[key] = v
		}
	}
	return out
}
