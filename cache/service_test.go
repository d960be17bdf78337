package cache

import (
	"context"
	"errors"
	"testing"
)

// mockCacheService for testing GetOrFetch function
type mockCacheService struct {
	result any
	err    error
}

func (m *mockCacheService) GetOrFetch(ctx context.Context, key string, fetchFn any) (any, error) {
	return m.result, m.err
}

func (m *mockCacheService) Delete(ctx context.Context, key string) error {
	return nil
}

func (m *mockCacheService) DeleteByPrefix(ctx context.Context, prefix string) error {
	return nil
}

func (m *mockCacheService) InvalidateKeys(ctx context.Context, keys []string) error {
	return nil
}

func TestGetOrFetch_NilInterfaceReturnsZero(t *testing.T) {
	mock := &mockCacheService{result: nil}

	type SomeInterface interface {
		DoSomething() string
	}

	result, err := GetOrFetch[SomeInterface](context.Background(), mock, "test-key", func(ctx context.Context) (SomeInterface, error) {
		return nil, nil
	})

	if err != nil {
		t.Errorf("expected no error but got: %v", err)
	}
	if result != nil {
		t.Errorf("expected nil result but got: %v", result)
	}
}

func TestGetOrFetch_NilPointer(t *testing.T) {
	mock := &mockCacheService{result: (*string)(nil)}

	result, err := GetOrFetch[*string](context.Background(), mock, "test-key", func(ctx context.Context) (*string, error) {
		return nil, nil
	})

	if err != nil {
		t.Errorf("expected no error but got: %v", err)
	}
	if result != nil {
		t.Errorf("expected nil result but got: %v", result)
	}
}

func TestGetOrFetch_TypeAssertionFailure(t *testing.T) {
	mock := &mockCacheService{result: "wrong-type"}

	result, err := GetOrFetch[int](context.Background(), mock, "test-key", func(ctx context.Context) (int, error) {
		return 42, nil
	})

	if !errors.Is(err, ErrInvalidResultType) {
		t.Errorf("expected ErrInvalidResultType but got: %v", err)
	}
	if result != 0 {
		t.Errorf("expected zero value (0) but got: %v", result)
	}
}

func TestGetOrFetch_PropagatesError(t *testing.T) {
	want := errors.New("boom")
	mock := &mockCacheService{err: want}

	_, err := GetOrFetch[string](context.Background(), mock, "test-key", func(ctx context.Context) (string, error) {
		return "", nil
	})
	if !errors.Is(err, want) {
		t.Errorf("expected %v but got: %v", want, err)
	}
}

func TestGetOrFetch_ValidResult(t *testing.T) {
	expectedValue := "test-value"
	mock := &mockCacheService{result: expectedValue}

	result, err := GetOrFetch[string](context.Background(), mock, "test-key", func(ctx context.Context) (string, error) {
		return expectedValue, nil
	})

	if err != nil {
		t.Errorf("expected no error but got: %v", err)
	}
	if result != expectedValue {
		t.Errorf("expected '%s' but got: '%s'", expectedValue, result)
	}
}

func TestNewStore_SelectsBackend(t *testing.T) {
	store, err := NewStore(DefaultConfig())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if _, ok := store.(CacheService); !ok {
		t.Errorf("memory store should also serve read-through lookups, got %T", store)
	}

	cfg := DefaultConfig()
	cfg.Backend = BackendRedis
	cfg.Redis.Addr = ""
	if _, err := NewStore(cfg); err == nil {
		t.Error("expected error for redis backend without address")
	}
}

func TestNewCacheService(t *testing.T) {
	service, err := NewCacheService(DefaultConfig())
	if err != nil {
		t.Fatalf("NewCacheService failed: %v", err)
	}

	ctx := context.Background()
	calls := 0
	fetch := func(ctx context.Context) (string, error) {
		calls++
		return "v", nil
	}
	for i := 0; i < 2; i++ {
		got, err := GetOrFetch(ctx, service, "k", fetch)
		if err != nil || got != "v" {
			t.Fatalf("GetOrFetch = %q, %v", got, err)
		}
	}
	if calls != 1 {
		t.Errorf("expected one fetch, got %d", calls)
	}
}

func TestConfig_RoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}

	back := convertFromInternal(cfg.toInternal())
	if back.Redis != cfg.Redis || back.LockStripes != cfg.LockStripes || back.Backend != cfg.Backend {
		t.Errorf("config lost fields: %+v", back)
	}
	if back.EarlyRefresh == nil || *back.EarlyRefresh != *cfg.EarlyRefresh {
		t.Errorf("early refresh lost: %+v", back.EarlyRefresh)
	}
}

func TestGetOrFetch_ConvertsDecodedMaps(t *testing.T) {
	type user struct {
		ID   string `msgpack:"id"`
		Name string `msgpack:"name"`
	}
	mock := &mockCacheService{result: []any{map[string]any{"id": "1", "name": "Ada"}}}

	result, err := GetOrFetch[[]user](context.Background(), mock, "test-key", func(ctx context.Context) ([]user, error) {
		return nil, nil
	})

	if err != nil {
		t.Fatalf("expected no error but got: %v", err)
	}
	if len(result) != 1 || result[0].Name != "Ada" {
		t.Errorf("unexpected result: %v", result)
	}
}
