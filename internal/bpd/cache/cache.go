// Package cache holds business partner responses of the upstream pool for a
// bounded time, in Redis when configured and in process otherwise.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"custodian/internal/bpd/models"
)

const redisKeyPrefix = "bpd:legal-entity:"

// ErrMiss is returned when no fresh entry exists for a BPN.
var ErrMiss = errors.New("cache miss")

type Metrics struct {
	Lookups *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Lookups: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "custodian_bpd_cache_lookups_total",
			Help: "Business partner cache lookups by backend and result (hit, miss).",
		}, []string{"backend", "result"}),
	}
}

func (m *Metrics) observe(backend string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.Lookups.WithLabelValues(backend, result).Inc()
}

// RedisCache stores entries as JSON with a TTL.
type RedisCache struct {
	client  redis.Cmdable
	ttl     time.Duration
	metrics *Metrics
}

// NewRedisCache wraps a configured client; metrics may be nil.
func NewRedisCache(client redis.Cmdable, ttl time.Duration, metrics *Metrics) *RedisCache {
	return &RedisCache{client: client, ttl: ttl, metrics: metrics}
}

func (c *RedisCache) Find(ctx context.Context, bpn string) (*models.BusinessPartner, error) {
	data, err := c.client.Get(ctx, redisKeyPrefix+bpn).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			c.metrics.observe("redis", false)
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("find business partner cache: %w", err)
	}

	var bp models.BusinessPartner
	if err := json.Unmarshal(data, &bp); err != nil {
		return nil, fmt.Errorf("decode business partner cache: %w", err)
	}
	c.metrics.observe("redis", true)
	return &bp, nil
}

func (c *RedisCache) Save(ctx context.Context, bp *models.BusinessPartner) error {
	if bp == nil {
		return fmt.Errorf("business partner is required")
	}
	payload, err := json.Marshal(bp)
	if err != nil {
		return fmt.Errorf("encode business partner cache: %w", err)
	}
	if err := c.client.Set(ctx, redisKeyPrefix+bp.BPN, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("save business partner cache: %w", err)
	}
	return nil
}

// MemoryCache is an in-process cache with TTL expiry and a capacity bound.
type MemoryCache struct {
	c       *ttlcache.Cache[string, models.BusinessPartner]
	metrics *Metrics
}

// NewMemoryCache starts the expiry loop; call Stop to end it.
func NewMemoryCache(ttl time.Duration, capacity uint64, metrics *Metrics) *MemoryCache {
	c := ttlcache.New[string, models.BusinessPartner](
		ttlcache.WithTTL[string, models.BusinessPartner](ttl),
		ttlcache.WithCapacity[string, models.BusinessPartner](capacity),
		ttlcache.WithDisableTouchOnHit[string, models.BusinessPartner](),
	)
	go c.Start()
	return &MemoryCache{c: c, metrics: metrics}
}

func (c *MemoryCache) Find(_ context.Context, bpn string) (*models.BusinessPartner, error) {
	item := c.c.Get(bpn)
	if item == nil || item.IsExpired() {
		c.metrics.observe("memory", false)
		return nil, ErrMiss
	}
	bp := item.Value()
	bp.Addresses = append([]models.Address(nil), bp.Addresses...)
	c.metrics.observe("memory", true)
	return &bp, nil
}

func (c *MemoryCache) Save(_ context.Context, bp *models.BusinessPartner) error {
	if bp == nil {
		return fmt.Errorf("business partner is required")
	}
	stored := *bp
	stored.Addresses = append([]models.Address(nil), bp.Addresses...)
	c.c.Set(bp.BPN, stored, ttlcache.DefaultTTL)
	return nil
}

func (c *MemoryCache) Stop() {
	c.c.Stop()
}
