package cacheinfra

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		Capacity:           100,
		NumShards:          2,
		TTL:                time.Minute,
		EvictionPercentage: 10,
		LockStripes:        4,
	}
}

func newTestStore(t *testing.T) *SturdycStore {
	t.Helper()
	store, err := NewSturdycStore(testConfig())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Backend != BackendMemory {
		t.Errorf("expected memory backend, got %q", cfg.Backend)
	}
	if cfg.Capacity != 10000 {
		t.Errorf("expected Capacity to be 10000, got %d", cfg.Capacity)
	}
	if cfg.NumShards != 256 {
		t.Errorf("expected NumShards to be 256, got %d", cfg.NumShards)
	}
	if cfg.TTL != 5*time.Minute {
		t.Errorf("expected TTL to be 5 minutes, got %v", cfg.TTL)
	}
	if cfg.EvictionPercentage != 10 {
		t.Errorf("expected EvictionPercentage to be 10, got %d", cfg.EvictionPercentage)
	}
	if cfg.LockStripes != 64 {
		t.Errorf("expected LockStripes to be 64, got %d", cfg.LockStripes)
	}
	if !cfg.MissingRecordStorage {
		t.Error("expected MissingRecordStorage to be true")
	}
	if cfg.EarlyRefresh == nil {
		t.Fatal("expected EarlyRefresh to be configured")
	}
	if cfg.EarlyRefresh.RetryBaseDelay != 100*time.Millisecond {
		t.Errorf("expected EarlyRefresh.RetryBaseDelay to be 100ms, got %v", cfg.EarlyRefresh.RetryBaseDelay)
	}
	if cfg.Redis.Addr == "" || cfg.Redis.Prefix == "" {
		t.Errorf("expected redis defaults, got %+v", cfg.Redis)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantError string
	}{
		{name: "valid default config", mutate: func(*Config) {}},
		{name: "zero capacity", mutate: func(c *Config) { c.Capacity = 0 }, wantError: "Capacity"},
		{name: "zero shards", mutate: func(c *Config) { c.NumShards = 0 }, wantError: "NumShards"},
		{name: "zero ttl", mutate: func(c *Config) { c.TTL = 0 }, wantError: "TTL"},
		{name: "eviction above 100", mutate: func(c *Config) { c.EvictionPercentage = 101 }, wantError: "EvictionPercentage"},
		{name: "negative early refresh", mutate: func(c *Config) { c.EarlyRefresh.SyncRefreshTime = -time.Second }, wantError: "SyncRefreshTime"},
		{name: "unknown backend", mutate: func(c *Config) { c.Backend = "memcached" }, wantError: "Backend"},
		{
			name: "redis backend ignores memory sizing",
			mutate: func(c *Config) {
				c.Backend = BackendRedis
				c.Capacity = 0
			},
		},
		{
			name: "redis backend requires address",
			mutate: func(c *Config) {
				c.Backend = BackendRedis
				c.Redis.Addr = ""
			},
			wantError: "Addr",
		},
		{
			name: "memory backend ignores redis settings",
			mutate: func(c *Config) {
				c.Redis.Addr = ""
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()

			if tt.wantError == "" {
				if err != nil {
					t.Errorf("expected no error but got: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error but got none")
			}
			if !strings.Contains(err.Error(), tt.wantError) {
				t.Errorf("expected error mentioning %q, got %q", tt.wantError, err.Error())
			}
		})
	}
}

func TestConfig_ToSturdycOptions(t *testing.T) {
	if got := len(DefaultConfig().ToSturdycOptions()); got != 2 {
		t.Errorf("expected 2 sturdyc options for default config, got %d", got)
	}

	minimal := testConfig()
	if got := len(minimal.ToSturdycOptions()); got != 0 {
		t.Errorf("expected no sturdyc options for minimal config, got %d", got)
	}

	minimal.MissingRecordStorage = true
	minimal.EvictionInterval = time.Second
	if got := len(minimal.ToSturdycOptions()); got != 2 {
		t.Errorf("expected 2 sturdyc options, got %d", got)
	}
}

func TestConfigError_Error(t *testing.T) {
	err := &ConfigError{Field: "TestField", Message: "test message"}

	expected := "config error in field TestField: test message"
	if err.Error() != expected {
		t.Errorf("expected error message %q, got %q", expected, err.Error())
	}
}

func TestNewSturdycStore(t *testing.T) {
	if _, err := NewSturdycStore(DefaultConfig()); err != nil {
		t.Fatalf("expected no error but got: %v", err)
	}

	cfg := testConfig()
	cfg.Capacity = 0
	store, err := NewSturdycStore(cfg)
	if err == nil {
		t.Fatal("expected error for zero capacity")
	}
	if store != nil {
		t.Error("expected store to be nil when error occurs")
	}
}

func TestSturdycStore_GetOrFetch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	t.Run("cache miss calls fetch function", func(t *testing.T) {
		calls := 0
		fetchFn := func(ctx context.Context) (any, error) {
			calls++
			return "test-value", nil
		}

		for i := 0; i < 2; i++ {
			result, err := store.GetOrFetch(ctx, "test-key", fetchFn)
			if err != nil {
				t.Fatalf("expected no error but got: %v", err)
			}
			if result != "test-value" {
				t.Errorf("expected result test-value, got %v", result)
			}
		}
		if calls != 1 {
			t.Errorf("expected one fetch, got %d", calls)
		}
	})

	t.Run("typed fetch function", func(t *testing.T) {
		fetchFn := func(ctx context.Context) ([]string, error) {
			return []string{"a", "b"}, nil
		}

		result, err := store.GetOrFetch(ctx, "typed-key", fetchFn)
		if err != nil {
			t.Fatalf("expected no error but got: %v", err)
		}
		if got, ok := result.([]string); !ok || len(got) != 2 {
			t.Errorf("expected []string result, got %T %v", result, result)
		}
	})

	t.Run("fetch function returns error", func(t *testing.T) {
		want := errors.New("fetch failed")
		result, err := store.GetOrFetch(ctx, "error-key", func(ctx context.Context) (any, error) {
			return nil, want
		})
		if !errors.Is(err, want) {
			t.Errorf("expected %v, got %v", want, err)
		}
		if result != nil {
			t.Errorf("expected nil result but got: %v", result)
		}
	})

	invalid := []struct {
		name    string
		fetchFn any
		message string
	}{
		{name: "nil", fetchFn: nil, message: "cannot be nil"},
		{name: "not a function", fetchFn: "not-a-function", message: "must be a function"},
		{name: "no parameters", fetchFn: func() (any, error) { return nil, nil }, message: "must have signature func(context.Context) (T, error)"},
		{name: "wrong parameter", fetchFn: func(string) (any, error) { return nil, nil }, message: "first parameter must be context.Context"},
		{name: "wrong result", fetchFn: func(context.Context) (any, string) { return nil, "" }, message: "second return value must be error"},
	}
	for _, tt := range invalid {
		t.Run("invalid fetch function "+tt.name, func(t *testing.T) {
			result, err := store.GetOrFetch(ctx, "invalid-key", tt.fetchFn)
			if result != nil {
				t.Errorf("expected nil result but got: %v", result)
			}
			var configErr *ConfigError
			if !errors.As(err, &configErr) {
				t.Fatalf("expected ConfigError but got: %T", err)
			}
			if configErr.Field != "fetchFn" || configErr.Message != tt.message {
				t.Errorf("unexpected error: %v", configErr)
			}
		})
	}
}

func TestSturdycStore_GetSetKeys(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, ok, err := store.Get(ctx, "missing"); ok || err != nil {
		t.Errorf("expected miss, got ok=%v err=%v", ok, err)
	}

	for _, key := range []string{"b", "a", "c"} {
		if err := store.Set(ctx, key, key+"-value"); err != nil {
			t.Fatalf("Set(%q) failed: %v", key, err)
		}
	}

	v, ok, err := store.Get(ctx, "a")
	if err != nil || !ok || v != "a-value" {
		t.Errorf("Get(a) = %v, %v, %v", v, ok, err)
	}

	keys, err := store.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	sort.Strings(keys)
	if strings.Join(keys, ",") != "a,b,c" {
		t.Errorf("Keys() = %v", keys)
	}
}

func TestSturdycStore_Mutate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	t.Run("absent key sees nil", func(t *testing.T) {
		var seen any = "unset"
		err := store.Mutate(ctx, "absent", func(current any) (any, bool) {
			seen = current
			return nil, false
		})
		if err != nil {
			t.Fatalf("Mutate failed: %v", err)
		}
		if seen != nil {
			t.Errorf("expected nil current value, got %v", seen)
		}
		if _, ok, _ := store.Get(ctx, "absent"); ok {
			t.Error("unchanged delta must not write")
		}
	})

	t.Run("changed value is written", func(t *testing.T) {
		_ = store.Set(ctx, "k", 1)
		err := store.Mutate(ctx, "k", func(current any) (any, bool) {
			return current.(int) + 1, true
		})
		if err != nil {
			t.Fatalf("Mutate failed: %v", err)
		}
		if v, _, _ := store.Get(ctx, "k"); v != 2 {
			t.Errorf("expected 2, got %v", v)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		called := false
		err := store.Mutate(cctx, "k", func(current any) (any, bool) {
			called = true
			return current, true
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		if called {
			t.Error("delta must not run after cancellation")
		}
	})

	t.Run("concurrent mutations are serialized", func(t *testing.T) {
		_ = store.Set(ctx, "counter", 0)

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = store.Mutate(ctx, "counter", func(current any) (any, bool) {
					return current.(int) + 1, true
				})
			}()
		}
		wg.Wait()

		if v, _, _ := store.Get(ctx, "counter"); v != 50 {
			t.Errorf("expected 50, got %v", v)
		}
	})
}

func TestSturdycStore_Delete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_ = store.Set(ctx, "delete-test-key", "test-value")
	if err := store.Delete(ctx, "delete-test-key"); err != nil {
		t.Errorf("expected no error from Delete but got: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "delete-test-key"); ok {
		t.Error("expected key to be deleted")
	}

	if err := store.Delete(ctx, ""); err != nil {
		t.Errorf("expected no error from Delete with empty key but got: %v", err)
	}
}

func TestSturdycStore_DeleteByPrefix(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"user:123:profile", "user:123:settings", "user:456:profile", "product:789"} {
		_ = store.Set(ctx, key, key)
	}

	if err := store.DeleteByPrefix(ctx, "user:123:"); err != nil {
		t.Errorf("expected no error from DeleteByPrefix but got: %v", err)
	}

	for key, shouldBeCached := range map[string]bool{
		"user:123:profile":  false,
		"user:123:settings": false,
		"user:456:profile":  true,
		"product:789":       true,
	} {
		if _, ok, _ := store.Get(ctx, key); ok != shouldBeCached {
			t.Errorf("key %s cached = %v, want %v", key, ok, shouldBeCached)
		}
	}

	if err := store.DeleteByPrefix(ctx, "nonexistent:"); err != nil {
		t.Errorf("expected no error with no matches but got: %v", err)
	}
}

func TestSturdycStore_InvalidateKeys(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"key1", "key2", "key3", "key4"} {
		_ = store.Set(ctx, key, key)
	}

	if err := store.InvalidateKeys(ctx, []string{"key1", "key3", "key4"}); err != nil {
		t.Errorf("expected no error from InvalidateKeys but got: %v", err)
	}

	for key, shouldBeCached := range map[string]bool{"key1": false, "key2": true, "key3": false, "key4": false} {
		if _, ok, _ := store.Get(ctx, key); ok != shouldBeCached {
			t.Errorf("key %s cached = %v, want %v", key, ok, shouldBeCached)
		}
	}

	if err := store.InvalidateKeys(ctx, nil); err != nil {
		t.Errorf("expected no error with nil list but got: %v", err)
	}
}
