package prices

import (
	"context"
	"time"

	"github.com/samber/do/v2"

	"github.com/arclight-collective/paymaster/internal/config"
	"github.com/arclight-collective/paymaster/internal/prices"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (prices.PriceSource, error) {
		cfg := do.MustInvoke[*config.Config](i)
		cache := NewFeedCache(cfg.PriceFeedURL, time.Duration(cfg.PriceRefreshMin)*time.Minute)
		cache.Start(context.Background())
		return cache, nil
	})
}
