package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CacheConfig 抓取结果缓存配置
type CacheConfig struct {
	// Redis 地址
	Addr string `yaml:"addr" json:"addr"`

	// 密码
	Password string `yaml:"password" json:"password"`

	// 数据库编号
	DB int `yaml:"db" json:"db"`

	// 结果过期时间
	TTL time.Duration `yaml:"ttl" json:"ttl"`
}

// DefaultCacheConfig 返回默认缓存配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Addr: "localhost:6379",
		TTL:  30 * time.Minute,
	}
}

// Cache stores fetched pages in redis so repeated fetches of the same
// URL across sessions hit the network once. Cache failures degrade to
// a miss; they never fail the fetch.
type Cache struct {
	redis  *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewCache connects to redis and verifies the connection.
func NewCache(config CacheConfig, logger *zap.Logger) (*Cache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.TTL <= 0 {
		config.TTL = DefaultCacheConfig().TTL
	}
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Cache{
		redis:  client,
		ttl:    config.TTL,
		logger: logger.With(zap.String("component", "fetch_cache")),
	}, nil
}

// Get returns the cached page for url, if present and fresh.
func (c *Cache) Get(ctx context.Context, url string) (*Page, bool) {
	raw, err := c.redis.Get(ctx, cacheKey(url)).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("cache get failed", zap.Error(err))
		}
		return nil, false
	}
	var page Page
	if err := json.Unmarshal([]byte(raw), &page); err != nil {
		c.logger.Warn("cache entry corrupt, dropping", zap.String("url", url), zap.Error(err))
		c.redis.Del(ctx, cacheKey(url))
		return nil, false
	}
	return &page, true
}

// Set stores page under its URL.
func (c *Cache) Set(ctx context.Context, page *Page) {
	raw, err := json.Marshal(page)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, cacheKey(page.URL), raw, c.ttl).Err(); err != nil {
		c.logger.Warn("cache set failed", zap.Error(err))
	}
}

// Close releases the redis connection.
func (c *Cache) Close() error {
	return c.redis.Close()
}

func cacheKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return fmt.Sprintf("toolgate:fetch:%x", sum[:16])
}
