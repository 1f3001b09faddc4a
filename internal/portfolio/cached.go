package portfolio

import (
	"context"
	"log/slog"
	"time"

	"github.com/ggonzalez94/solagent/internal/cache"
	"github.com/ggonzalez94/solagent/internal/logging"
)

// CachedPrices serves prices from the sqlite cache while fresh and falls back
// to a stale entry inside maxStale when the upstream lookup fails.
type CachedPrices struct {
	source   PriceSource
	store    *cache.Store
	ttl      time.Duration
	maxStale time.Duration
	log      *slog.Logger
}

func NewCachedPrices(source PriceSource, store *cache.Store, ttl, maxStale time.Duration, log *slog.Logger) *CachedPrices {
	if log == nil {
		log = logging.Named("prices")
	}
	return &CachedPrices{source: source, store: store, ttl: ttl, maxStale: maxStale, log: log}
}

type cachedPrice struct {
	Price float64 `json:"price"`
}

func (c *CachedPrices) Price(ctx context.Context, mint string) (float64, error) {
	if c.store == nil {
		return c.source.Price(ctx, mint)
	}
	key := "price:" + mint

	var hit cachedPrice
	res, ok, err := c.store.GetJSON(ctx, key, c.maxStale, &hit)
	if err != nil {
		c.log.Warn("price cache read failed", "mint", mint, "err", err)
	}
	if ok && !res.Stale {
		return hit.Price, nil
	}

	price, fetchErr := c.source.Price(ctx, mint)
	if fetchErr != nil {
		if ok {
			c.log.Warn("serving stale price", "mint", mint, "age", res.Age, "err", fetchErr)
			return hit.Price, nil
		}
		return 0, fetchErr
	}
	if err := c.store.SetJSON(ctx, key, cachedPrice{Price: price}, c.ttl); err != nil {
		c.log.Warn("price cache write failed", "mint", mint, "err", err)
	}
	return price, nil
}
