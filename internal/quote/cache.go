package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"broker-simv1/internal/metrics"
	"broker-simv1/internal/model"
)

// CacheConfig configures the Redis quote cache.
type CacheConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration // how long a cached quote stays fresh
	Health   *metrics.HealthStatus
}

// Cache decorates a quote source with a Redis read-through cache. Fresh
// quotes are served from Redis; misses fall through to the wrapped source
// and the result is written back with a TTL. Redis being down degrades to
// the wrapped source alone.
type Cache struct {
	client *goredis.Client
	next   model.QuoteSource
	ttl    time.Duration
	health *metrics.HealthStatus
}

// NewCache creates a Cache in front of next and pings the Redis server.
func NewCache(cfg CacheConfig, next model.QuoteSource) (*Cache, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	if cfg.Health != nil {
		cfg.Health.SetRedisConnected(true)
	}
	log.Printf("[quote-cache] connected to %s (ttl=%v)", cfg.Addr, ttl)
	return &Cache{client: client, next: next, ttl: ttl, health: cfg.Health}, nil
}

func cacheKey(symbol string) string {
	return "quote:" + strings.ToUpper(symbol)
}

// GetQuote serves from Redis when fresh, otherwise from the wrapped source.
func (c *Cache) GetQuote(ctx context.Context, symbol string) (model.Quote, error) {
	key := cacheKey(symbol)

	data, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		var q model.Quote
		if jerr := json.Unmarshal([]byte(data), &q); jerr == nil {
			c.setRedisOK(true)
			return q, nil
		}
		// Corrupt entry: drop it and fall through.
		c.client.Del(ctx, key)
	case err == goredis.Nil:
		c.setRedisOK(true)
	default:
		c.setRedisOK(false)
		log.Printf("[quote-cache] redis get %s: %v", key, err)
	}

	q, err := c.next.GetQuote(ctx, symbol)
	if err != nil {
		return model.Quote{}, err
	}

	if data, jerr := json.Marshal(q); jerr == nil {
		if serr := c.client.Set(ctx, key, string(data), c.ttl).Err(); serr != nil {
			log.Printf("[quote-cache] redis set %s: %v", key, serr)
		}
	}
	return q, nil
}

// Invalidate drops the cached quote for a symbol.
func (c *Cache) Invalidate(ctx context.Context, symbol string) error {
	return c.client.Del(ctx, cacheKey(symbol)).Err()
}

// Close closes the Redis client.
func (c *Cache) Close() error {
	return c.client.Close()
}

func (c *Cache) setRedisOK(v bool) {
	if c.health != nil {
		c.health.SetRedisConnected(v)
	}
}
