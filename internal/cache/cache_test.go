package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"kasiran/admin/internal/domain"
)

func TestSummaryKeySeparatesOutletAndRange(t *testing.T) {
	march := domain.DateRange{Start: "2024-03-01", End: "2024-03-31"}
	april := domain.DateRange{Start: "2024-04-01", End: "2024-04-30"}

	keys := map[string]bool{
		SummaryKey("7", "", march):  true,
		SummaryKey("7", "3", march): true,
		SummaryKey("7", "3", april): true,
		SummaryKey("8", "3", april): true,
	}
	if len(keys) != 4 {
		t.Fatalf("expected 4 distinct keys, got %v", keys)
	}
}

func TestNoopSummaryCacheNeverHits(t *testing.T) {
	var c SummaryCache = NoopSummaryCache{}
	_ = c.Set(context.Background(), "k", &domain.SalesSummary{Transactions: 1}, time.Minute)
	if _, ok, err := c.Get(context.Background(), "k"); ok || err != nil {
		t.Fatalf("expected miss, ok=%v err=%v", ok, err)
	}
}

func TestRedisSummaryCache(t *testing.T) {
	addr := os.Getenv("KASIRAN_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set KASIRAN_TEST_REDIS_ADDR to run redis integration test")
	}

	ctx := context.Background()
	client := NewRedisClient(addr, "", 0)
	t.Cleanup(func() {
		_ = client.Close()
	})
	c := NewRedisSummaryCache(client)
	if err := c.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	key := SummaryKey("it", time.Now().Format("150405.000000"), domain.DateRange{Start: "2024-03-01", End: "2024-03-31"})
	t.Cleanup(func() {
		_ = client.Del(ctx, key).Err()
	})

	if _, ok, err := c.Get(ctx, key); ok || err != nil {
		t.Fatalf("expected miss before set, ok=%v err=%v", ok, err)
	}
	want := &domain.SalesSummary{CompanyID: "it", Transactions: 12, GrossSales: 150000}
	if err := c.Set(ctx, key, want, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("expected hit, ok=%v err=%v", ok, err)
	}
	if got.Transactions != 12 || got.GrossSales != 150000 {
		t.Fatalf("unexpected summary %+v", got)
	}
}
