/*
 * @module client/query_cache
 * @description 远端查询结果缓存，进程内LRU加可选Redis二级缓存，条目按TTL过期
 * @architecture 适配器模式 - 缓存层
 * @documentReference ai_docs/remote_client_design.md
 * @stateFlow 查找本地LRU -> 查找Redis -> 回填本地 -> 未命中由调用方查询远端后写入
 * @rules 本地缓存由单个互斥锁保护；持锁期间不访问Redis、网络或限流器；过期条目视为未命中；读写均复制行，调用方修改结果不影响缓存
 * @dependencies github.com/hashicorp/golang-lru/v2, github.com/go-redis/redis/v8
 * @refs remote_client.go, query.go
 */

package client

import (
	"context"
	"dataquality-service/service/models"
	"dataquality-service/service/monitoring"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2"
)

type cacheEntry struct {
	rows      []models.Row
	expiresAt time.Time
}

// CacheStats 缓存统计信息
type CacheStats struct {
	Entries   int   `json:"entries"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	RedisHits int64 `json:"redis_hits"`
}

// QueryCache 查询结果缓存
type QueryCache struct {
	mu         sync.Mutex
	entries    *lru.Cache[string, cacheEntry]
	defaultTTL time.Duration
	now        func() time.Time
	hits       int64
	misses     int64
	redisHits  int64

	redis     *redis.Client
	keyPrefix string
}

// NewQueryCache 创建查询缓存
func NewQueryCache(maxEntries int, defaultTTL time.Duration) (*QueryCache, error) {
	if defaultTTL <= 0 {
		return nil, fmt.Errorf("缓存默认有效期必须大于0")
	}
	entries, err := lru.New[string, cacheEntry](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("创建LRU缓存失败: %w", err)
	}
	return &QueryCache{
		entries:    entries,
		defaultTTL: defaultTTL,
		now:        time.Now,
		keyPrefix:  "dq_cache",
	}, nil
}

// WithRedis 启用Redis二级缓存
func (c *QueryCache) WithRedis(client *redis.Client, keyPrefix string) *QueryCache {
	c.redis = client
	if keyPrefix != "" {
		c.keyPrefix = keyPrefix
	}
	return c
}

// Get 查找缓存，过期条目视为未命中
func (c *QueryCache) Get(ctx context.Context, key string) ([]models.Row, bool) {
	c.mu.Lock()
	entry, ok := c.entries.Get(key)
	if ok && !c.now().Before(entry.expiresAt) {
		c.entries.Remove(key)
		ok = false
	}
	if ok {
		c.hits++
	}
	c.mu.Unlock()

	if ok {
		monitoring.CacheLookupsTotal.WithLabelValues("memory", "hit").Inc()
		return cloneRows(entry.rows), true
	}
	monitoring.CacheLookupsTotal.WithLabelValues("memory", "miss").Inc()

	if rows, ttl, found := c.getRedis(ctx, key); found {
		c.mu.Lock()
		c.redisHits++
		c.hits++
		c.entries.Add(key, cacheEntry{rows: cloneRows(rows), expiresAt: c.now().Add(ttl)})
		c.mu.Unlock()
		return rows, true
	}

	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
	return nil, false
}

// Set 写入缓存，ttl<=0 时使用默认有效期
func (c *QueryCache) Set(ctx context.Context, key string, rows []models.Row, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	stored := cloneRows(rows)
	c.mu.Lock()
	c.entries.Add(key, cacheEntry{rows: stored, expiresAt: c.now().Add(ttl)})
	c.mu.Unlock()

	c.setRedis(ctx, key, rows, ttl)
}

// peek 只查本地LRU且不计入统计，用于合并请求前的二次确认
func (c *QueryCache) peek(key string) ([]models.Row, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries.Peek(key)
	if !ok || !c.now().Before(entry.expiresAt) {
		return nil, false
	}
	return cloneRows(entry.rows), true
}

// Purge 清空本地缓存
func (c *QueryCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
}

// Stats 获取缓存统计
func (c *QueryCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Entries:   c.entries.Len(),
		Hits:      c.hits,
		Misses:    c.misses,
		RedisHits: c.redisHits,
	}
}

func (c *QueryCache) redisKey(key string) string {
	return c.keyPrefix + ":" + key
}

func (c *QueryCache) getRedis(ctx context.Context, key string) ([]models.Row, time.Duration, bool) {
	if c.redis == nil {
		return nil, 0, false
	}

	redisKey := c.redisKey(key)
	data, err := c.redis.Get(ctx, redisKey).Bytes()
	if err != nil {
		if err != redis.Nil {
			slog.Warn("读取Redis缓存失败", "key", redisKey, "error", err)
		}
		monitoring.CacheLookupsTotal.WithLabelValues("redis", "miss").Inc()
		return nil, 0, false
	}

	ttl, err := c.redis.PTTL(ctx, redisKey).Result()
	if err != nil || ttl <= 0 {
		monitoring.CacheLookupsTotal.WithLabelValues("redis", "miss").Inc()
		return nil, 0, false
	}

	var rows []models.Row
	if err := json.Unmarshal(data, &rows); err != nil {
		slog.Warn("Redis缓存内容无法解析，忽略", "key", redisKey, "error", err)
		monitoring.CacheLookupsTotal.WithLabelValues("redis", "miss").Inc()
		return nil, 0, false
	}
	monitoring.CacheLookupsTotal.WithLabelValues("redis", "hit").Inc()
	return rows, ttl, true
}

func (c *QueryCache) setRedis(ctx context.Context, key string, rows []models.Row, ttl time.Duration) {
	if c.redis == nil {
		return
	}
	data, err := json.Marshal(rows)
	if err != nil {
		slog.Warn("序列化缓存内容失败", "error", err)
		return
	}
	if err := c.redis.Set(ctx, c.redisKey(key), data, ttl).Err(); err != nil {
		slog.Warn("写入Redis缓存失败", "key", c.redisKey(key), "error", err)
	}
}

// cloneRows 逐行浅拷贝，字段值本身不复制
func cloneRows(rows []models.Row) []models.Row {
	if rows == nil {
		return nil
	}
	out := make([]models.Row, len(rows))
	for i, row := range rows {
		cp := make(models.Row, len(row))
		for k, v := range row {
			cp[k] = v
		}
		out[i] = cp
	}
	return out
}
