/*
 * @module service/rate_limiter/sliding_window_test
 * @description 滑动窗口限流器单元测试
 * @architecture 测试层
 * @documentReference ai_docs/rate_limit_design.md
 */

package rate_limiter

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewSlidingWindowLimiter_InvalidArgs 测试非法参数
func TestNewSlidingWindowLimiter_InvalidArgs(t *testing.T) {
	_, err := NewSlidingWindowLimiter(0, time.Second)
	assert.Error(t, err)

	_, err = NewSlidingWindowLimiter(10, 0)
	assert.Error(t, err)
}

// TestSlidingWindowLimiter_CeilingPerWindow 测试150次请求在100次/秒的限流下的表现
func TestSlidingWindowLimiter_CeilingPerWindow(t *testing.T) {
	limiter, err := NewSlidingWindowLimiter(100, time.Second)
	require.NoError(t, err)

	var mu sync.Mutex
	var grants []time.Time
	limiter.onGrant = func(at time.Time) {
		mu.Lock()
		grants = append(grants, at)
		mu.Unlock()
	}

	ctx := context.Background()
	start := time.Now()

	var wg sync.WaitGroup
	for w := 0; w < 10; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 15; i++ {
				assert.NoError(t, limiter.Wait(ctx))
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	require.Len(t, grants, 150)
	assert.GreaterOrEqual(t, elapsed, time.Second, "150次请求至少需要1秒")

	sort.Slice(grants, func(i, j int) bool { return grants[i].Before(grants[j]) })
	// 任意连续101次放行必须跨越至少一个完整窗口
	for i := 0; i+100 < len(grants); i++ {
		assert.GreaterOrEqual(t, grants[i+100].Sub(grants[i]), time.Second,
			"第%d次与第%d次放行落在同一窗口内", i, i+100)
	}
}

// TestSlidingWindowLimiter_BlocksUntilContextDone 测试超限时阻塞并响应取消
func TestSlidingWindowLimiter_BlocksUntilContextDone(t *testing.T) {
	limiter, err := NewSlidingWindowLimiter(2, time.Hour)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, limiter.Wait(ctx))
	require.NoError(t, limiter.Wait(ctx))

	ctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()

	err = limiter.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 2, limiter.Stats()["in_window"])
}

// TestSlidingWindowLimiter_ReleasesAfterWindow 测试窗口滑过后重新放行
func TestSlidingWindowLimiter_ReleasesAfterWindow(t *testing.T) {
	limiter, err := NewSlidingWindowLimiter(1, time.Minute)
	require.NoError(t, err)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	_, ok := limiter.tryAcquire()
	require.True(t, ok)

	wait, ok := limiter.tryAcquire()
	assert.False(t, ok)
	assert.Equal(t, time.Minute, wait)

	now = now.Add(time.Minute)
	_, ok = limiter.tryAcquire()
	assert.True(t, ok)
}
