/*
 * @module client/remote_client_test
 * @description 远端数据源客户端测试，使用httptest模拟PostgREST
 * @architecture 测试架构 - 缓存、重试、错误分类、Token管理
 * @documentReference client/remote_client.go
 * @rules 不依赖外部PostgREST服务
 */

package client

import (
	"context"
	"dataquality-service/service/config"
	"dataquality-service/service/models"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient 创建指向测试服务器的客户端，重试等待被替换为空操作
func newTestClient(t *testing.T, serverURL string, cache *QueryCache) *RemoteClient {
	t.Helper()
	c, err := NewRemoteClient(RemoteClientOptions{
		Remote: config.RemoteConfig{BaseURL: serverURL, Timeout: 5 * time.Second},
		Retry:  config.RetryConfig{MaxRetries: 3, BaseDelay: 10 * time.Millisecond, MaxDelay: 100 * time.Millisecond},
		Cache:  cache,
	})
	require.NoError(t, err)
	c.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return c
}

func writeRows(w http.ResponseWriter, rows []map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rows)
}

func TestNewRemoteClient_RequiresBaseURL(t *testing.T) {
	_, err := NewRemoteClient(RemoteClientOptions{})
	assert.Error(t, err)
}

func TestQuery_PaginatesUntilShortPage(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, "/orders", r.URL.Path)
		assert.Equal(t, "eq.active", r.URL.Query().Get("status"))
		assert.Equal(t, "id,status", r.URL.Query().Get("select"))

		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		var rows []map[string]interface{}
		for i := offset; i < 5 && i < offset+2; i++ {
			rows = append(rows, map[string]interface{}{"id": fmt.Sprintf("o-%d", i), "status": "active"})
		}
		writeRows(w, rows)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, nil)
	c.pageSize = 2

	rows, err := c.Query(context.Background(), QuerySpec{
		Resource: "orders",
		Select:   []string{"id", "status"},
		Filters:  map[string]string{"status": "eq.active"},
	})
	require.NoError(t, err)
	assert.Len(t, rows, 5)
	assert.Equal(t, "o-4", rows[4]["id"])
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestQuery_RespectsLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "3", r.URL.Query().Get("limit"))
		writeRows(w, []map[string]interface{}{{"id": 1}, {"id": 2}, {"id": 3}})
	}))
	defer server.Close()

	rows, err := newTestClient(t, server.URL, nil).Query(context.Background(), QuerySpec{Resource: "orders", Limit: 3})
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestCount_ParsesContentRange(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "count=exact", r.Header.Get("Prefer"))
		w.Header().Set("Content-Range", "0-0/3573")
		w.WriteHeader(http.StatusPartialContent)
		writeRows(w, []map[string]interface{}{{"id": 1}})
	}))
	defer server.Close()

	count, err := newTestClient(t, server.URL, nil).Count(context.Background(), "orders", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3573), count)
}

func TestParseContentRange(t *testing.T) {
	tests := []struct {
		header  string
		want    int64
		wantErr bool
	}{
		{"0-24/3573", 3573, false},
		{"*/0", 0, false},
		{"", 0, true},
		{"0-24/*", 0, true},
		{"0-24/", 0, true},
	}
	for _, tt := range tests {
		got, err := parseContentRange(tt.header)
		if tt.wantErr {
			assert.Error(t, err, tt.header)
			continue
		}
		assert.NoError(t, err, tt.header)
		assert.Equal(t, tt.want, got)
	}
}

func TestQuery_CacheHitWithinTTLAndRefetchAfterExpiry(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		writeRows(w, []map[string]interface{}{{"id": 1, "version": n}})
	}))
	defer server.Close()

	cache, err := NewQueryCache(16, time.Minute)
	require.NoError(t, err)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	c := newTestClient(t, server.URL, cache)
	spec := QuerySpec{Resource: "orders", UseCache: true, CacheTTL: 30 * time.Second}
	ctx := context.Background()

	first, err := c.Query(ctx, spec)
	require.NoError(t, err)

	now = now.Add(29 * time.Second)
	second, err := c.Query(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "有效期内不应访问远端")

	now = now.Add(time.Second)
	third, err := c.Query(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits), "过期后应重新访问远端")
	assert.NotEqual(t, first[0]["version"], third[0]["version"])

	stats := cache.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(2), stats.Misses)
}

func TestQuery_UseCacheFalseAlwaysFetches(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		writeRows(w, []map[string]interface{}{})
	}))
	defer server.Close()

	cache, err := NewQueryCache(16, time.Minute)
	require.NoError(t, err)
	c := newTestClient(t, server.URL, cache)

	for i := 0; i < 3; i++ {
		_, err := c.Query(context.Background(), QuerySpec{Resource: "orders"})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestQuerySpec_CacheKeyDeterministic(t *testing.T) {
	a := QuerySpec{
		Resource: "orders",
		Select:   []string{"status", "id"},
		Filters:  map[string]string{"status": "eq.active", "region": "eq.north"},
	}
	b := QuerySpec{
		Resource: "orders",
		Select:   []string{"id", "status"},
		Filters:  map[string]string{"region": "eq.north", "status": "eq.active"},
		UseCache: true,
		CacheTTL: time.Hour,
	}
	assert.Equal(t, a.CacheKey(), b.CacheKey())
	assert.Len(t, a.CacheKey(), 64)

	c := a
	c.CountOnly = true
	assert.NotEqual(t, a.CacheKey(), c.CacheKey())
}

type countingLimiter struct {
	mu    sync.Mutex
	calls int
}

func (l *countingLimiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	l.calls++
	l.mu.Unlock()
	return nil
}

func TestQuery_CacheHitBypassesLimiter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeRows(w, []map[string]interface{}{{"id": 1}})
	}))
	defer server.Close()

	cache, err := NewQueryCache(16, time.Minute)
	require.NoError(t, err)
	c := newTestClient(t, server.URL, cache)
	limiter := &countingLimiter{}
	c.limiter = limiter

	spec := QuerySpec{Resource: "orders", UseCache: true}
	for i := 0; i < 5; i++ {
		_, err := c.Query(context.Background(), spec)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, limiter.calls)
}

func TestQuery_RetriesTransientThenSucceeds(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeRows(w, []map[string]interface{}{{"id": 1}})
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, nil)
	rows, err := c.Query(context.Background(), QuerySpec{Resource: "orders"})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
	assert.Equal(t, int64(2), c.GetStatistics()["retry_count"])
}

func TestQuery_RetriesExhausted(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL, nil).Query(context.Background(), QuerySpec{Resource: "orders"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExhausted)

	var transient *TransientError
	require.True(t, errors.As(err, &transient))
	assert.Equal(t, http.StatusTooManyRequests, transient.StatusCode)
	assert.Equal(t, int32(4), atomic.LoadInt32(&hits))
}

func TestQuery_NonRetryableErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		check   func(t *testing.T, err error)
	}{
		{
			name: "认证失败",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusForbidden)
			},
			check: func(t *testing.T, err error) {
				var authErr *AuthError
				assert.True(t, errors.As(err, &authErr))
			},
		},
		{
			name: "响应格式错误",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("<html>gateway</html>"))
			},
			check: func(t *testing.T, err error) {
				var malformed *MalformedResponseError
				assert.True(t, errors.As(err, &malformed))
			},
		},
		{
			name: "请求错误",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
			},
			check: func(t *testing.T, err error) {
				assert.False(t, IsRetryable(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&hits, 1)
				tt.handler(w, r)
			}))
			defer server.Close()

			_, err := newTestClient(t, server.URL, nil).Query(context.Background(), QuerySpec{Resource: "orders"})
			require.Error(t, err)
			assert.NotErrorIs(t, err, ErrRetriesExhausted)
			tt.check(t, err)
			assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "不可重试错误只请求一次")
		})
	}
}

func TestQuery_TokenLogin(t *testing.T) {
	var logins int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/rpc/get_token" {
			atomic.AddInt32(&logins, 1)
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "validator", body["username"])
			json.NewEncoder(w).Encode(TokenResponse{Success: true, AccessToken: "tok-1", AccessExpiresIn: 3600})
			return
		}
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeRows(w, []map[string]interface{}{{"id": 1}})
	}))
	defer server.Close()

	c, err := NewRemoteClient(RemoteClientOptions{
		Remote: config.RemoteConfig{BaseURL: server.URL, Username: "validator", Password: "secret"},
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		rows, err := c.Query(context.Background(), QuerySpec{Resource: "orders"})
		require.NoError(t, err)
		assert.Equal(t, []models.Row{{"id": float64(1)}}, rows)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&logins), "Token有效期内只登录一次")
}

func TestBackoff_ExponentialCapped(t *testing.T) {
	c := &RemoteClient{retry: config.RetryConfig{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}}
	assert.Equal(t, 100*time.Millisecond, c.backoff(1))
	assert.Equal(t, 200*time.Millisecond, c.backoff(2))
	assert.Equal(t, 400*time.Millisecond, c.backoff(3))
	assert.Equal(t, 800*time.Millisecond, c.backoff(4))
	assert.Equal(t, time.Second, c.backoff(5))

	c.retry.Jitter = true
	for attempt := 1; attempt <= 5; attempt++ {
		assert.LessOrEqual(t, c.backoff(attempt), time.Second)
	}
}

func TestStartTokenRefresher_UsesRefreshToken(t *testing.T) {
	var logins, refreshes int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rpc/get_token":
			atomic.AddInt32(&logins, 1)
			json.NewEncoder(w).Encode(TokenResponse{Success: true, AccessToken: "tok-1", RefreshToken: "ref-1", AccessExpiresIn: 3600})
		case "/rpc/refresh_token":
			atomic.AddInt32(&refreshes, 1)
			json.NewEncoder(w).Encode(TokenResponse{Success: true, AccessToken: "tok-2", RefreshToken: "ref-2", AccessExpiresIn: 3600})
		default:
			writeRows(w, nil)
		}
	}))
	defer server.Close()

	c, err := NewRemoteClient(RemoteClientOptions{
		Remote: config.RemoteConfig{BaseURL: server.URL, Username: "validator", Password: "secret"},
	})
	require.NoError(t, err)
	_, err = c.Query(context.Background(), QuerySpec{Resource: "orders"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.StartTokenRefresher(ctx, 10*time.Millisecond)

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&refreshes) >= 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&logins))
}

func TestCount_ConcurrentMissesShareOneRemoteCall(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		time.Sleep(50 * time.Millisecond)
		w.Header().Set("Content-Range", "0-0/42")
		writeRows(w, []map[string]interface{}{{"id": 1}})
	}))
	defer server.Close()

	cache, err := NewQueryCache(16, time.Minute)
	require.NoError(t, err)
	c := newTestClient(t, server.URL, cache)

	const callers = 8
	var wg sync.WaitGroup
	counts := make([]int64, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			counts[i], errs[i] = c.Count(context.Background(), "orders", map[string]string{"status": "eq.active"})
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, int64(42), counts[i])
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "相同缓存键的并发未命中只应访问远端一次")
}

func TestQuery_ConcurrentCallersGetIndependentRows(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(30 * time.Millisecond)
		writeRows(w, []map[string]interface{}{{"id": 1, "status": "active"}})
	}))
	defer server.Close()

	cache, err := NewQueryCache(16, time.Minute)
	require.NoError(t, err)
	c := newTestClient(t, server.URL, cache)
	spec := QuerySpec{Resource: "orders", UseCache: true}

	var wg sync.WaitGroup
	results := make([][]models.Row, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rows, err := c.Query(context.Background(), spec)
			assert.NoError(t, err)
			results[i] = rows
		}(i)
	}
	wg.Wait()

	results[0][0]["status"] = "changed"
	for _, rows := range results[1:] {
		require.Len(t, rows, 1)
		assert.Equal(t, "active", rows[0]["status"])
	}
	cached, err := c.Query(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, "active", cached[0]["status"])
}

func TestQueryCache_CallerMutationsDoNotLeak(t *testing.T) {
	cache, err := NewQueryCache(16, time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	rows := []models.Row{{"id": 1, "status": "active"}}
	cache.Set(ctx, "k", rows, 0)
	rows[0]["status"] = "mutated-after-set"

	got, ok := cache.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "active", got[0]["status"])

	got[0]["status"] = "mutated-after-get"
	delete(got[0], "id")

	again, ok := cache.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, models.Row{"id": 1, "status": "active"}, again[0])
}

func TestEnsureToken_ConcurrentCallersLoginOnceThroughLimiter(t *testing.T) {
	var logins int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/rpc/get_token" {
			atomic.AddInt32(&logins, 1)
			time.Sleep(50 * time.Millisecond)
			json.NewEncoder(w).Encode(TokenResponse{Success: true, AccessToken: "tok-1", AccessExpiresIn: 3600})
			return
		}
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeRows(w, []map[string]interface{}{{"id": 1}})
	}))
	defer server.Close()

	limiter := &countingLimiter{}
	c, err := NewRemoteClient(RemoteClientOptions{
		Remote:  config.RemoteConfig{BaseURL: server.URL, Username: "validator", Password: "secret"},
		Limiter: limiter,
	})
	require.NoError(t, err)

	const callers = 8
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Query(context.Background(), QuerySpec{Resource: "orders"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&logins), "并发调用方只应登录一次")
	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	assert.Equal(t, callers+1, limiter.calls, "登录请求也应占用限流配额")
}
