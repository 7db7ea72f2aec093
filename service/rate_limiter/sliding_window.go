/*
 * @module service/rate_limiter/sliding_window
 * @description 进程内滑动窗口限流器，远端查询客户端共享使用
 * @architecture 工具层 - 提供本地限流能力
 * @documentReference ai_docs/rate_limit_design.md
 * @stateFlow 申请许可 -> 窗口内许可未满则立即放行 -> 否则阻塞到最早许可滑出窗口
 * @rules 任意长度为window的半开区间内放行次数不超过limit；超限时调用方阻塞而不是失败
 * @dependencies sync, time
 * @refs redis_rate_limiter.go, client/remote_client.go
 */

package rate_limiter

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Limiter 限流器接口，Wait 阻塞直到获得许可或上下文结束
type Limiter interface {
	Wait(ctx context.Context) error
}

// SlidingWindowLimiter 滑动窗口限流器
// 记录最近limit次放行时间（环形缓冲），只有最早一次放行滑出窗口后才允许新的放行
type SlidingWindowLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	grants []time.Time
	next   int
	filled int

	now     func() time.Time
	onGrant func(time.Time)

	waited int64
}

// NewSlidingWindowLimiter 创建滑动窗口限流器
func NewSlidingWindowLimiter(limit int, window time.Duration) (*SlidingWindowLimiter, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("限流上限必须大于0: %d", limit)
	}
	if window <= 0 {
		return nil, fmt.Errorf("限流窗口必须大于0: %v", window)
	}
	return &SlidingWindowLimiter{
		limit:  limit,
		window: window,
		grants: make([]time.Time, limit),
		now:    time.Now,
	}, nil
}

// Wait 获取一次许可
func (l *SlidingWindowLimiter) Wait(ctx context.Context) error {
	for {
		wait, ok := l.tryAcquire()
		if ok {
			return nil
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

// tryAcquire 尝试获取许可，失败时返回需要等待的时长
func (l *SlidingWindowLimiter) tryAcquire() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.filled == l.limit {
		// 缓冲区已满时 next 指向最早的一次放行
		oldest := l.grants[l.next]
		release := oldest.Add(l.window)
		if now.Before(release) {
			l.waited++
			return release.Sub(now), false
		}
	} else {
		l.filled++
	}

	l.grants[l.next] = now
	l.next = (l.next + 1) % l.limit
	if l.onGrant != nil {
		l.onGrant(now)
	}
	return 0, true
}

// Stats 获取限流统计
func (l *SlidingWindowLimiter) Stats() map[string]interface{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return map[string]interface{}{
		"limit":          l.limit,
		"window_ms":      l.window.Milliseconds(),
		"in_window":      l.inWindowLocked(l.now()),
		"blocked_checks": l.waited,
	}
}

func (l *SlidingWindowLimiter) inWindowLocked(now time.Time) int {
	count := 0
	for i := 0; i < l.filled; i++ {
		if now.Sub(l.grants[i]) < l.window {
			count++
		}
	}
	return count
}
