// Package priceoracle implements the Price Oracle Cache: a fetch-on-miss,
// TTL-bounded cache of fiat-denominated asset prices that serves stale
// data on upstream failure and falls back to hard-coded values when no
// cache entry exists at all.
package priceoracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"crashcore/internal/cache"
)

// coingeckoIDs maps our asset tags to CoinGecko's "ids" query parameter.
// Extend this map to support more assets without structural change.
var coingeckoIDs = map[string]string{
	"BTC": "bitcoin",
	"ETH": "ethereum",
}

type entry struct {
	Price             decimal.Decimal
	FetchedAt         time.Time
	UpstreamTimestamp time.Time
}

// Oracle is the Price Oracle Cache. Safe for concurrent use.
type Oracle struct {
	client   *http.Client
	upstream string
	ttl      time.Duration
	fallback map[string]decimal.Decimal
	redis    cache.Service // optional; nil means in-memory cache only

	mu    sync.RWMutex
	local map[string]entry

	sf singleflight.Group
}

// New constructs an Oracle. redisSvc may be nil, in which case the
// in-memory map is the only cache layer.
func New(upstreamURL string, ttl, fetchTimeout time.Duration, fallback map[string]decimal.Decimal, redisSvc cache.Service) *Oracle {
	return &Oracle{
		client:   &http.Client{Timeout: fetchTimeout},
		upstream: upstreamURL,
		ttl:      ttl,
		fallback: fallback,
		redis:    redisSvc,
		local:    make(map[string]entry),
	}
}

// Price returns the current fiat price for asset. Fails when asset is
// unsupported (absent from both the CoinGecko id map and the fallback
// table); an upstream error falls through to a stale or hard-coded value,
// and fails only when the asset has neither.
func (o *Oracle) Price(ctx context.Context, asset string) (decimal.Decimal, error) {
	if _, ok := coingeckoIDs[asset]; !ok {
		if _, ok := o.fallback[asset]; !ok {
			return decimal.Zero, fmt.Errorf("priceoracle: unsupported asset %q", asset)
		}
	}

	if e, ok := o.cached(asset); ok && time.Since(e.FetchedAt) < o.ttl {
		return e.Price, nil
	}

	v, err, _ := o.sf.Do(asset, func() (interface{}, error) {
		return o.refresh(ctx, asset)
	})
	if err != nil {
		// Upstream failed. Serve stale if we have anything, else the
		// hard-coded fallback. Never propagate the upstream error.
		if e, ok := o.cached(asset); ok {
			log.Printf("[ORACLE] upstream fetch failed for %s, serving stale price from %s: %v", asset, e.FetchedAt, err)
			return e.Price, nil
		}
		if fb, ok := o.fallback[asset]; ok {
			log.Printf("[ORACLE] upstream fetch failed for %s, no cache entry, using fallback: %v", asset, err)
			return fb, nil
		}
		return decimal.Zero, fmt.Errorf("priceoracle: %w", err)
	}
	return v.(decimal.Decimal), nil
}

// Prices returns prices for several assets at once, issuing at most one
// upstream request covering every asset whose cache entry is stale or
// absent.
func (o *Oracle) Prices(ctx context.Context, assets []string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(assets))
	var stale []string
	for _, a := range assets {
		if e, ok := o.cached(a); ok && time.Since(e.FetchedAt) < o.ttl {
			out[a] = e.Price
			continue
		}
		stale = append(stale, a)
	}
	if len(stale) == 0 {
		return out, nil
	}

	key := strings.Join(stale, ",")
	v, err, _ := o.sf.Do("batch:"+key, func() (interface{}, error) {
		return o.refreshMany(ctx, stale)
	})
	if err != nil {
		for _, a := range stale {
			if e, ok := o.cached(a); ok {
				out[a] = e.Price
				continue
			}
			if fb, ok := o.fallback[a]; ok {
				out[a] = fb
			}
		}
		return out, nil
	}
	fetched := v.(map[string]decimal.Decimal)
	for a, p := range fetched {
		out[a] = p
	}
	return out, nil
}

func (o *Oracle) cached(asset string) (entry, bool) {
	o.mu.RLock()
	e, ok := o.local[asset]
	o.mu.RUnlock()
	if ok {
		return e, true
	}
	if o.redis == nil {
		return entry{}, false
	}
	client := o.redis.GetClient()
	if client == nil {
		return entry{}, false
	}
	raw, err := client.Get(context.Background(), redisKey(asset)).Result()
	if err != nil {
		return entry{}, false
	}
	var e2 entry
	if err := json.Unmarshal([]byte(raw), &e2); err != nil {
		return entry{}, false
	}
	return e2, true
}

func (o *Oracle) store(asset string, e entry) {
	o.mu.Lock()
	o.local[asset] = e
	o.mu.Unlock()

	if o.redis == nil {
		return
	}
	client := o.redis.GetClient()
	if client == nil {
		return
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return
	}
	if err := client.Set(context.Background(), redisKey(asset), raw, o.ttl*10).Err(); err != nil {
		if err != redis.Nil {
			log.Printf("[ORACLE] redis write failed for %s: %v", asset, err)
		}
	}
}

func redisKey(asset string) string {
	return "crashcore:price:" + asset
}

func (o *Oracle) refresh(ctx context.Context, asset string) (decimal.Decimal, error) {
	prices, err := o.refreshMany(ctx, []string{asset})
	if err != nil {
		return decimal.Zero, err
	}
	p, ok := prices[asset]
	if !ok {
		return decimal.Zero, fmt.Errorf("priceoracle: no price returned for %s", asset)
	}
	return p, nil
}

func (o *Oracle) refreshMany(ctx context.Context, assets []string) (map[string]decimal.Decimal, error) {
	ids := make([]string, 0, len(assets))
	idToAsset := make(map[string]string, len(assets))
	for _, a := range assets {
		id, ok := coingeckoIDs[a]
		if !ok {
			continue
		}
		ids = append(ids, id)
		idToAsset[id] = a
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("priceoracle: no supported assets in %v", assets)
	}

	url := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=usd", o.upstream, strings.Join(ids, ","))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("priceoracle: build request: %w", err)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("priceoracle: upstream fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("priceoracle: upstream returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("priceoracle: read body: %w", err)
	}

	var parsed map[string]map[string]float64
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("priceoracle: parse response: %w", err)
	}

	now := time.Now()
	out := make(map[string]decimal.Decimal, len(assets))
	for id, vs := range parsed {
		asset, ok := idToAsset[id]
		if !ok {
			continue
		}
		usd, ok := vs["usd"]
		if !ok {
			continue
		}
		price := decimal.NewFromFloat(usd)
		out[asset] = price
		o.store(asset, entry{Price: price, FetchedAt: now, UpstreamTimestamp: now})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("priceoracle: upstream returned no usable prices")
	}
	return out, nil
}
