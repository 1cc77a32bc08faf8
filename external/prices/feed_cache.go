package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arclight-collective/paymaster/internal/prices"
)

const (
	fetchTimeout     = 10 * time.Second
	failureRetryWait = 30 * time.Second
)

type feedEntry struct {
	Code         string          `json:"code"`
	PricePerUnit decimal.Decimal `json:"price_per_unit"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// FeedCache keeps the latest commodity prices from an HTTP JSON feed in
// memory. Lookups always answer from the cache; a failed refresh keeps the
// last good values, and ok=false is returned only for codes never fetched.
type FeedCache struct {
	feedURL      string
	refreshEvery time.Duration
	client       *http.Client

	mu     sync.RWMutex
	quotes map[string]prices.Quote

	cancel context.CancelFunc
	done   chan struct{}
}

func NewFeedCache(feedURL string, refreshEvery time.Duration) *FeedCache {
	return &FeedCache{
		feedURL:      feedURL,
		refreshEvery: refreshEvery,
		client:       &http.Client{Timeout: fetchTimeout},
		quotes:       make(map[string]prices.Quote),
		done:         make(chan struct{}),
	}
}

// Start performs an initial fetch and launches the background refresh loop.
// An initial fetch failure is logged, not fatal: the cache starts empty and
// fills on the first successful refresh.
func (c *FeedCache) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	if err := c.refresh(ctx); err != nil {
		slog.Warn("initial price feed fetch failed", "error", err)
	}
	go c.loop(ctx)
}

func (c *FeedCache) loop(ctx context.Context) {
	defer close(c.done)
	delay := c.refreshEvery
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		if err := c.refresh(ctx); err != nil {
			failures++
			delay = c.retryDelay(failures)
			slog.Warn("price feed refresh failed, serving stale values",
				"error", err, "consecutive_failures", failures, "next_attempt_in", delay)
			continue
		}
		failures = 0
		delay = c.refreshEvery
	}
}

// retryDelay backs off from a short retry toward the normal cadence, doubling
// per consecutive failure. Growth stops at the cadence so the delay stays
// bounded no matter how long the feed is down.
func (c *FeedCache) retryDelay(failures int) time.Duration {
	delay := failureRetryWait
	for i := 1; i < failures; i++ {
		if delay >= c.refreshEvery {
			break
		}
		delay *= 2
	}
	if delay > c.refreshEvery {
		delay = c.refreshEvery
	}
	return delay
}

func (c *FeedCache) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.feedURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("price feed returned status %d", resp.StatusCode)
	}

	var entries []feedEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return fmt.Errorf("price feed payload is invalid: %w", err)
	}

	fetchedAt := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	updated := 0
	for _, e := range entries {
		if e.Code == "" || !e.PricePerUnit.IsPositive() {
			continue
		}
		asOf := e.UpdatedAt
		if asOf.IsZero() {
			asOf = fetchedAt
		}
		c.quotes[e.Code] = prices.Quote{UnitValue: e.PricePerUnit, AsOf: asOf}
		updated++
	}
	slog.Info("price feed refreshed", "materials", updated)
	return nil
}

func (c *FeedCache) GetPrice(materialCode string) (decimal.Decimal, time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quotes[materialCode]
	if !ok {
		return decimal.Zero, time.Time{}, false
	}
	return q.UnitValue, q.AsOf, true
}

func (c *FeedCache) Close() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
}
