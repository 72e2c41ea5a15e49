package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	appHeatmap "github.com/turtacn/GCN-Heatmap/internal/application/heatmap"
	"github.com/turtacn/GCN-Heatmap/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/GCN-Heatmap/pkg/errors"
)

// ErrCacheMiss is returned by HeatmapCache.Get for absent keys.
var ErrCacheMiss = errors.New(errors.CodeCacheMiss, "heatmap cache miss")

// HeatmapCache stores built heatmaps as JSON under {prefix}:heatmap:{key}.
type HeatmapCache struct {
	client *Client
	logger logging.Logger
	ttl    time.Duration
	jitter float64
	group  singleflight.Group
}

// CacheOption configures a HeatmapCache.
type CacheOption func(*HeatmapCache)

// WithTTL overrides the client's cache TTL. Zero keeps entries forever.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *HeatmapCache) { c.ttl = ttl }
}

// WithTTLJitter spreads expirations by ±fraction of the TTL.
func WithTTLJitter(fraction float64) CacheOption {
	return func(c *HeatmapCache) { c.jitter = fraction }
}

// NewHeatmapCache builds a cache on client.
func NewHeatmapCache(client *Client, log logging.Logger, opts ...CacheOption) *HeatmapCache {
	if log == nil {
		log = logging.NewNopLogger()
	}
	c := &HeatmapCache{
		client: client,
		logger: log.Named("heatmap_cache"),
		ttl:    client.CacheTTL(),
		jitter: 0.1,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ appHeatmap.HeatmapCache = (*HeatmapCache)(nil)

func (c *HeatmapCache) fullKey(key string) string {
	return c.client.Key("heatmap", key)
}

func (c *HeatmapCache) expiry() time.Duration {
	if c.ttl <= 0 || c.jitter <= 0 {
		return c.ttl
	}
	delta := float64(c.ttl) * c.jitter * (rand.Float64()*2 - 1)
	return c.ttl + time.Duration(delta)
}

// Get loads the entry for key. Concurrent lookups of one key share a single
// round trip.
func (c *HeatmapCache) Get(ctx context.Context, key string) (*appHeatmap.CachedHeatmap, error) {
	full := c.fullKey(key)
	v, err, _ := c.group.Do(full, func() (interface{}, error) {
		data, err := c.client.Underlying().Get(ctx, full).Bytes()
		if err == redis.Nil {
			return nil, ErrCacheMiss
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeCache, "get heatmap").WithDetail(full)
		}
		var entry appHeatmap.CachedHeatmap
		if err := json.Unmarshal(data, &entry); err != nil {
			c.logger.Warn("dropping undecodable cache entry", logging.String("key", full), logging.Err(err))
			return nil, ErrCacheMiss
		}
		return &entry, nil
	})
	if err != nil {
		return nil, err
	}
	// Each caller gets its own copy; the shared value must not be mutated.
	entry := *v.(*appHeatmap.CachedHeatmap)
	return &entry, nil
}

// Set stores entry under key.
func (c *HeatmapCache) Set(ctx context.Context, key string, entry *appHeatmap.CachedHeatmap) error {
	if entry == nil {
		return errors.InvalidParam("nil cache entry")
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, errors.CodeSerialization, "encode cache entry")
	}
	full := c.fullKey(key)
	if err := c.client.Underlying().Set(ctx, full, data, c.expiry()).Err(); err != nil {
		return errors.Wrap(err, errors.CodeCache, "set heatmap").WithDetail(full)
	}
	return nil
}

// Invalidate drops the entries for keys.
func (c *HeatmapCache) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.fullKey(k)
	}
	if err := c.client.Underlying().Del(ctx, full...).Err(); err != nil {
		return errors.Wrap(err, errors.CodeCache, "delete heatmaps")
	}
	return nil
}
