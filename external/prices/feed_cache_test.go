package prices

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestGetPrice_BeforeAnyFetch(t *testing.T) {
	cache := NewFeedCache("http://localhost:0", time.Hour)
	if _, _, ok := cache.GetPrice("QUAN"); ok {
		t.Fatal("expected ok=false before any successful fetch")
	}
}

func TestRefresh_PopulatesQuotes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"code": "QUAN", "price_per_unit": "88.13", "updated_at": "2026-03-14T12:00:00Z"},
			{"code": "GOLD", "price_per_unit": "6104.97"},
			{"code": "", "price_per_unit": "1"},
			{"code": "JUNK", "price_per_unit": "0"}
		]`))
	}))
	defer server.Close()

	cache := NewFeedCache(server.URL, time.Hour)
	if err := cache.refresh(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	unitValue, asOf, ok := cache.GetPrice("QUAN")
	if !ok {
		t.Fatal("expected QUAN to be priced")
	}
	if !unitValue.Equal(decimal.NewFromFloat(88.13)) {
		t.Fatalf("unexpected unit value: %s", unitValue)
	}
	if !asOf.Equal(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected as-of timestamp: %v", asOf)
	}
	if _, asOf, ok := cache.GetPrice("GOLD"); !ok || asOf.IsZero() {
		t.Fatalf("expected missing updated_at to fall back to fetch time, got ok=%v asOf=%v", ok, asOf)
	}
	if _, _, ok := cache.GetPrice("JUNK"); ok {
		t.Fatal("expected non-positive price to be rejected")
	}
	if _, _, ok := cache.GetPrice(""); ok {
		t.Fatal("expected empty code to be rejected")
	}
}

func TestRefresh_FailureKeepsStaleValues(t *testing.T) {
	var failing atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`[{"code": "QUAN", "price_per_unit": "88.13"}]`))
	}))
	defer server.Close()

	cache := NewFeedCache(server.URL, time.Hour)
	if err := cache.refresh(context.Background()); err != nil {
		t.Fatalf("initial refresh failed: %v", err)
	}

	failing.Store(true)
	if err := cache.refresh(context.Background()); err == nil {
		t.Fatal("expected refresh error on upstream failure")
	}

	unitValue, _, ok := cache.GetPrice("QUAN")
	if !ok || !unitValue.Equal(decimal.NewFromFloat(88.13)) {
		t.Fatalf("expected stale value to survive a failed refresh, got ok=%v value=%s", ok, unitValue)
	}
}

func TestRetryDelay_BoundedByRefreshCadence(t *testing.T) {
	cache := NewFeedCache("http://localhost:0", time.Hour)
	if got := cache.retryDelay(1); got != failureRetryWait {
		t.Fatalf("expected base wait on first failure, got %v", got)
	}
	if got := cache.retryDelay(2); got != 2*failureRetryWait {
		t.Fatalf("expected doubled wait on second failure, got %v", got)
	}
	// A long outage must never push the delay past the cadence or wrap it
	// negative, which would turn the loop into a tight retry.
	for _, failures := range []int{8, 64, 1000, 1 << 20} {
		got := cache.retryDelay(failures)
		if got != time.Hour {
			t.Fatalf("expected delay capped at cadence after %d failures, got %v", failures, got)
		}
	}

	short := NewFeedCache("http://localhost:0", 10*time.Second)
	for _, failures := range []int{1, 5, 100} {
		if got := short.retryDelay(failures); got != 10*time.Second {
			t.Fatalf("expected cadence shorter than the base wait to win, got %v after %d failures", got, failures)
		}
	}
}

func TestRefresh_InvalidPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"not": "a list"}`))
	}))
	defer server.Close()

	cache := NewFeedCache(server.URL, time.Hour)
	if err := cache.refresh(context.Background()); err == nil {
		t.Fatal("expected error for malformed feed payload")
	}
}
