/*
 * @module service/rate_limiter/redis_rate_limiter
 * @description 基于Redis的分布式限流器，多实例部署时共享远端查询配额
 * @architecture 工具层 - 提供分布式限流能力
 * @documentReference ai_docs/rate_limit_design.md
 * @stateFlow 剔除窗口外请求 -> 统计窗口内请求数 -> 未超限则登记本次请求 -> 超限则等待最早请求滑出窗口后重试
 * @rules 使用Redis有序集合实现滑动窗口，任意长度为窗口的区间内授权数不超过上限；超限时阻塞调用方而不是失败
 * @dependencies github.com/go-redis/redis/v8
 * @refs sliding_window.go, client/remote_client.go
 */

package rate_limiter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// RateLimitResult 限流检查结果
type RateLimitResult struct {
	Allowed   bool          `json:"allowed"`   // 是否允许请求
	Limit     int           `json:"limit"`     // 限制数量
	Remaining int           `json:"remaining"` // 剩余数量
	RetryIn   time.Duration `json:"retry_in"`  // 距离最早请求滑出窗口的时长
}

// RateLimitRule 限流规则
type RateLimitRule struct {
	Scope       string        // 限流范围，例如 remote_query
	Window      time.Duration // 时间窗口
	MaxRequests int           // 窗口内最大请求数
}

// 滑动窗口：有序集合按请求时间打分，先剔除窗口外的记录再计数，未超限时写入本次请求
const rateLimitScript = `
	local key = KEYS[1]
	local max_requests = tonumber(ARGV[1])
	local window_ms = tonumber(ARGV[2])
	local now_ms = tonumber(ARGV[3])
	local member = ARGV[4]

	redis.call('ZREMRANGEBYSCORE', key, '-inf', now_ms - window_ms)
	local current = redis.call('ZCARD', key)

	if current >= max_requests then
		local retry_in = window_ms
		local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
		if oldest[2] then
			retry_in = tonumber(oldest[2]) + window_ms - now_ms
		end
		if retry_in < 1 then
			retry_in = 1
		end
		return {0, current, max_requests, retry_in}
	end

	redis.call('ZADD', key, now_ms, member)
	redis.call('PEXPIRE', key, window_ms)
	return {1, current + 1, max_requests, 0}
`

// RedisRateLimiter Redis限流器
type RedisRateLimiter struct {
	client *redis.Client
	rule   RateLimitRule
	prefix string
	now    func() time.Time
}

// NewRedisRateLimiter 创建Redis限流器
func NewRedisRateLimiter(client *redis.Client, rule RateLimitRule) (*RedisRateLimiter, error) {
	if rule.MaxRequests <= 0 || rule.Window <= 0 {
		return nil, fmt.Errorf("无效的限流规则: max=%d window=%v", rule.MaxRequests, rule.Window)
	}
	if rule.Scope == "" {
		rule.Scope = "remote_query"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis连接失败: %w", err)
	}

	slog.Info("Redis限流器初始化成功",
		"scope", rule.Scope,
		"max_requests", rule.MaxRequests,
		"window", rule.Window)

	return &RedisRateLimiter{client: client, rule: rule, prefix: "dq_rate_limit", now: time.Now}, nil
}

// Wait 阻塞直到窗口内有剩余配额
func (r *RedisRateLimiter) Wait(ctx context.Context) error {
	for {
		result, err := r.Check(ctx)
		if err != nil {
			return err
		}
		if result.Allowed {
			return nil
		}

		wait := result.RetryIn
		if wait <= 0 {
			wait = r.rule.Window / time.Duration(r.rule.MaxRequests)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("等待限流许可被取消: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

// Check 检查并占用一次配额
func (r *RedisRateLimiter) Check(ctx context.Context) (*RateLimitResult, error) {
	raw, err := r.client.Eval(ctx, rateLimitScript, []string{r.buildKey()},
		r.rule.MaxRequests, r.rule.Window.Milliseconds(), r.now().UnixMilli(), uuid.NewString()).Result()
	if err != nil {
		return nil, fmt.Errorf("限流检查失败: %w", err)
	}

	results, ok := raw.([]interface{})
	if !ok || len(results) != 4 {
		return nil, fmt.Errorf("限流脚本返回格式错误: %v", raw)
	}
	values := make([]int64, len(results))
	for i, v := range results {
		n, ok := v.(int64)
		if !ok {
			return nil, fmt.Errorf("限流脚本返回格式错误: %v", raw)
		}
		values[i] = n
	}
	allowed := values[0] == 1
	current := int(values[1])
	limit := int(values[2])

	remaining := limit - current
	if remaining < 0 {
		remaining = 0
	}
	return &RateLimitResult{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: remaining,
		RetryIn:   time.Duration(values[3]) * time.Millisecond,
	}, nil
}

// Reset 清空窗口内的请求记录（仅用于测试或管理）
func (r *RedisRateLimiter) Reset(ctx context.Context) error {
	return r.client.Del(ctx, r.buildKey()).Err()
}

// buildKey 每个限流范围一个有序集合
func (r *RedisRateLimiter) buildKey() string {
	return fmt.Sprintf("%s:%s", r.prefix, r.rule.Scope)
}
