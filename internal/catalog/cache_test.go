package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestCacheRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewCache(client, time.Minute)
	ctx := context.Background()

	var missing []string
	ok, err := cache.GetJSON(ctx, cacheKeyCategories, &missing)
	if err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	want := []string{"Đồ ăn", "Đồ uống"}
	if err := cache.SetJSON(ctx, cacheKeyCategories, want); err != nil {
		t.Fatalf("set: %v", err)
	}
	var got []string
	ok, err = cache.GetJSON(ctx, cacheKeyCategories, &got)
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("unexpected cached value: %v", got)
	}

	if err := cache.Invalidate(ctx, cacheKeyCategories); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	ok, _ = cache.GetJSON(ctx, cacheKeyCategories, &got)
	if ok {
		t.Fatal("expected key to be gone after invalidate")
	}
}

func TestCacheNilClientIsNoop(t *testing.T) {
	var cache *Cache
	ctx := context.Background()
	if err := cache.SetJSON(ctx, cacheKeyDefaultPage, 1); err != nil {
		t.Fatalf("nil cache set: %v", err)
	}
	var v int
	ok, err := cache.GetJSON(ctx, cacheKeyDefaultPage, &v)
	if ok || err != nil {
		t.Fatalf("nil cache get: ok=%v err=%v", ok, err)
	}
}
