package redis

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"custodian/internal/platform/config"
)

// Client wraps the go-redis client with health checking.
type Client struct {
	*redis.Client
}

// New connects and pings. A nil client and nil error mean Redis is not configured.
func New(ctx context.Context, cfg config.Redis) (*Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close() //nolint:errcheck // best-effort cleanup on init failure
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{Client: client}, nil
}

func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}

var (
	poolHitsDesc = prometheus.NewDesc("custodian_redis_pool_hits_total",
		"Number of times a connection was found in the pool", nil, nil)
	poolMissesDesc = prometheus.NewDesc("custodian_redis_pool_misses_total",
		"Number of times a connection was not found in the pool", nil, nil)
	poolTimeoutsDesc = prometheus.NewDesc("custodian_redis_pool_timeouts_total",
		"Number of times a connection was not obtained due to timeout", nil, nil)
	poolTotalConnsDesc = prometheus.NewDesc("custodian_redis_pool_total_conns",
		"Number of total connections in the pool", nil, nil)
	poolIdleConnsDesc = prometheus.NewDesc("custodian_redis_pool_idle_conns",
		"Number of idle connections in the pool", nil, nil)
)

// PoolCollector reports go-redis pool statistics on every scrape.
type PoolCollector struct {
	client *redis.Client
}

func NewPoolCollector(c *Client) *PoolCollector {
	return &PoolCollector{client: c.Client}
}

func (p *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- poolHitsDesc
	ch <- poolMissesDesc
	ch <- poolTimeoutsDesc
	ch <- poolTotalConnsDesc
	ch <- poolIdleConnsDesc
}

func (p *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	stats := p.client.PoolStats()
	ch <- prometheus.MustNewConstMetric(poolHitsDesc, prometheus.CounterValue, float64(stats.Hits))
	ch <- prometheus.MustNewConstMetric(poolMissesDesc, prometheus.CounterValue, float64(stats.Misses))
	ch <- prometheus.MustNewConstMetric(poolTimeoutsDesc, prometheus.CounterValue, float64(stats.Timeouts))
	ch <- prometheus.MustNewConstMetric(poolTotalConnsDesc, prometheus.GaugeValue, float64(stats.TotalConns))
	ch <- prometheus.MustNewConstMetric(poolIdleConnsDesc, prometheus.GaugeValue, float64(stats.IdleConns))
}
