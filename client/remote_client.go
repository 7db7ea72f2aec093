/*
 * @module client/remote_client
 * @description 外部权威数据源客户端，基于PostgREST HTTP接口，提供查询缓存、限流、重试与Token管理
 * @architecture 适配器模式 - 封装PostgREST认证和HTTP请求
 * @documentReference ai_docs/remote_client_design.md
 * @stateFlow 查缓存 -> 获取限流许可 -> 确保Token有效 -> 发起请求 -> 分类错误 -> 退避重试 -> 写缓存
 * @rules 缓存命中不经过网络和限流器；同一缓存键的并发未命中只有一个调用方访问远端；认证错误和格式错误不重试；瞬时错误指数退避加抖动重试；Token获取同一时刻只有一个在途请求且占用限流配额
 * @dependencies net/http, dataquality-service/service/rate_limiter, dataquality-service/service/monitoring
 * @refs query.go, query_cache.go, errors.go
 */

package client

import (
	"bytes"
	"context"
	"dataquality-service/service/config"
	"dataquality-service/service/models"
	"dataquality-service/service/monitoring"
	"dataquality-service/service/rate_limiter"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// defaultPageSize 未指定Limit时的分页大小
const defaultPageSize = 1000

// RemoteClient 外部数据源客户端
type RemoteClient struct {
	baseURL    string
	username   string
	password   string
	schema     string
	httpClient *http.Client

	retry    config.RetryConfig
	limiter  rate_limiter.Limiter
	cache    *QueryCache
	pageSize int
	sleep    func(ctx context.Context, d time.Duration) error
	flight   singleflight.Group

	// Token管理
	accessToken  string
	refreshToken string
	tokenExpiry  time.Time
	tokenMutex   sync.RWMutex
	tokenFlight  singleflight.Group

	// 统计信息
	stats *ClientStats
}

// ClientStats 客户端统计信息
type ClientStats struct {
	RequestCount    int64     `json:"request_count"`     // 请求总数
	SuccessCount    int64     `json:"success_count"`     // 成功请求数
	ErrorCount      int64     `json:"error_count"`       // 错误请求数
	RetryCount      int64     `json:"retry_count"`       // 重试次数
	CacheHits       int64     `json:"cache_hits"`        // 缓存命中数
	TokenRefreshed  int       `json:"token_refreshed"`   // Token刷新次数
	LastTokenTime   time.Time `json:"last_token_time"`   // 最后获取Token时间
	LastRequestTime time.Time `json:"last_request_time"` // 最后请求时间
	mutex           sync.RWMutex
}

// TokenResponse Token响应结构
type TokenResponse struct {
	Success         bool   `json:"success"`
	Message         string `json:"message"`
	AccessToken     string `json:"access_token"`
	RefreshToken    string `json:"refresh_token"`
	AccessExpiresIn int    `json:"access_expires_in"`
}

// RemoteClientOptions 客户端构造参数
type RemoteClientOptions struct {
	Remote     config.RemoteConfig
	Retry      config.RetryConfig
	Limiter    rate_limiter.Limiter // 为空时不限流
	Cache      *QueryCache          // 为空时不缓存
	HTTPClient *http.Client
}

// NewRemoteClient 创建远端数据源客户端
func NewRemoteClient(opts RemoteClientOptions) (*RemoteClient, error) {
	if opts.Remote.BaseURL == "" {
		return nil, fmt.Errorf("远端数据源地址不能为空")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Remote.Timeout}
	}
	schema := opts.Remote.Schema
	if schema == "" {
		schema = "public"
	}

	return &RemoteClient{
		baseURL:    strings.TrimRight(opts.Remote.BaseURL, "/"),
		username:   opts.Remote.Username,
		password:   opts.Remote.Password,
		schema:     schema,
		httpClient: httpClient,
		retry:      opts.Retry,
		limiter:    opts.Limiter,
		cache:      opts.Cache,
		pageSize:   defaultPageSize,
		sleep:      sleepContext,
		stats:      &ClientStats{},
	}, nil
}

// Query 执行远端查询
func (c *RemoteClient) Query(ctx context.Context, spec QuerySpec) ([]models.Row, error) {
	if spec.Resource == "" {
		return nil, fmt.Errorf("查询资源不能为空")
	}
	if !spec.UseCache || c.cache == nil {
		return c.fetch(ctx, spec)
	}

	key := spec.CacheKey()
	if rows, ok := c.cache.Get(ctx, key); ok {
		c.recordCacheHit()
		return rows, nil
	}

	// 同一缓存键只有一个调用方访问远端并回填，其余调用方等待其结果
	ch := c.flight.DoChan(key, func() (interface{}, error) {
		if rows, ok := c.cache.peek(key); ok {
			c.recordCacheHit()
			return rows, nil
		}
		rows, err := c.fetch(ctx, spec)
		if err != nil {
			return nil, err
		}
		c.cache.Set(ctx, key, rows, spec.CacheTTL)
		return rows, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		rows := res.Val.([]models.Row)
		if res.Shared {
			rows = cloneRows(rows)
		}
		return rows, nil
	}
}

func (c *RemoteClient) fetch(ctx context.Context, spec QuerySpec) ([]models.Row, error) {
	if spec.CountOnly {
		return c.queryCount(ctx, spec)
	}
	return c.queryRows(ctx, spec)
}

func (c *RemoteClient) recordCacheHit() {
	c.stats.mutex.Lock()
	c.stats.CacheHits++
	c.stats.mutex.Unlock()
}

// Count 便捷计数查询，结果走缓存
func (c *RemoteClient) Count(ctx context.Context, resource string, filters map[string]string) (int64, error) {
	rows, err := c.Query(ctx, QuerySpec{Resource: resource, Filters: filters, CountOnly: true, UseCache: true})
	if err != nil {
		return 0, err
	}
	count, ok := RowCount(rows)
	if !ok {
		return 0, &MalformedResponseError{Resource: resource, Err: fmt.Errorf("计数结果缺失")}
	}
	return count, nil
}

func (c *RemoteClient) queryCount(ctx context.Context, spec QuerySpec) ([]models.Row, error) {
	params := c.buildParams(spec)
	params.Set("limit", "1")
	if len(spec.Select) == 0 {
		params.Set("select", "*")
	}

	var count int64
	err := c.withRetry(ctx, spec.Resource, func() error {
		resp, _, err := c.do(ctx, spec.Resource, params, map[string]string{"Prefer": "count=exact"})
		if err != nil {
			return err
		}
		count, err = parseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			return &MalformedResponseError{Resource: spec.Resource, Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return []models.Row{{CountKey: count}}, nil
}

func (c *RemoteClient) queryRows(ctx context.Context, spec QuerySpec) ([]models.Row, error) {
	var all []models.Row
	offset := 0
	for {
		pageSize := c.pageSize
		if spec.Limit > 0 && spec.Limit-len(all) < pageSize {
			pageSize = spec.Limit - len(all)
		}

		params := c.buildParams(spec)
		params.Set("limit", strconv.Itoa(pageSize))
		if offset > 0 {
			params.Set("offset", strconv.Itoa(offset))
		}

		var page []models.Row
		err := c.withRetry(ctx, spec.Resource, func() error {
			_, body, err := c.do(ctx, spec.Resource, params, nil)
			if err != nil {
				return err
			}
			page = nil
			if err := json.Unmarshal(body, &page); err != nil {
				return &MalformedResponseError{Resource: spec.Resource, Err: err}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		all = append(all, page...)
		offset += len(page)
		if len(page) < pageSize || (spec.Limit > 0 && len(all) >= spec.Limit) {
			break
		}
	}
	if all == nil {
		all = []models.Row{}
	}
	return all, nil
}

func (c *RemoteClient) buildParams(spec QuerySpec) url.Values {
	params := url.Values{}
	if len(spec.Select) > 0 {
		params.Set("select", strings.Join(spec.Select, ","))
	}
	for field, expr := range spec.Filters {
		params.Set(field, expr)
	}
	if spec.Order != "" {
		params.Set("order", spec.Order)
	}
	return params
}

// withRetry 瞬时错误指数退避重试，其它错误立即返回
func (c *RemoteClient) withRetry(ctx context.Context, resource string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			c.stats.mutex.Lock()
			c.stats.RetryCount++
			c.stats.mutex.Unlock()
			monitoring.RemoteRetriesTotal.WithLabelValues(resource).Inc()

			delay := c.backoff(attempt)
			slog.Debug("远端查询重试", "resource", resource, "attempt", attempt, "delay", delay, "error", lastErr)
			if err := c.sleep(ctx, delay); err != nil {
				return fmt.Errorf("等待重试被取消: %w", err)
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) || ctx.Err() != nil {
			return lastErr
		}
	}
	slog.Warn("远端查询重试次数耗尽", "resource", resource, "max_retries", c.retry.MaxRetries, "error", lastErr)
	return fmt.Errorf("%w: %w", ErrRetriesExhausted, lastErr)
}

// backoff 计算第attempt次重试的等待时间（指数退避，可选全抖动）
func (c *RemoteClient) backoff(attempt int) time.Duration {
	base := c.retry.BaseDelay
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	delay := base << (attempt - 1)
	if c.retry.MaxDelay > 0 && (delay > c.retry.MaxDelay || delay <= 0) {
		delay = c.retry.MaxDelay
	}
	if c.retry.Jitter && delay > 0 {
		delay = time.Duration(rand.Int64N(int64(delay) + 1))
	}
	return delay
}

// do 发起一次HTTP请求（带限流与Token认证），并按状态码分类错误
func (c *RemoteClient) do(ctx context.Context, resource string, params url.Values, headers map[string]string) (*http.Response, []byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, nil, err
		}
	}
	if err := c.ensureToken(ctx); err != nil {
		return nil, nil, err
	}

	fullURL := c.baseURL + "/" + resource
	if encoded := params.Encode(); encoded != "" {
		fullURL += "?" + encoded
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("创建HTTP请求失败: %w", err)
	}

	c.tokenMutex.RLock()
	accessToken := c.accessToken
	c.tokenMutex.RUnlock()
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	req.Header.Set("Accept-Profile", c.schema)
	req.Header.Set("Accept", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	c.stats.mutex.Lock()
	c.stats.RequestCount++
	c.stats.LastRequestTime = time.Now()
	c.stats.mutex.Unlock()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recordOutcome(resource, "network_error")
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.recordOutcome(resource, "network_error")
		return nil, nil, &TransientError{StatusCode: resp.StatusCode, Err: fmt.Errorf("读取响应失败: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusPartialContent:
		c.recordOutcome(resource, "success")
		return resp, body, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.recordOutcome(resource, "auth_error")
		if resp.StatusCode == http.StatusUnauthorized {
			c.invalidateToken()
		}
		return nil, nil, &AuthError{StatusCode: resp.StatusCode, Body: string(body)}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		c.recordOutcome(resource, "transient_error")
		return nil, nil, &TransientError{StatusCode: resp.StatusCode, Err: errors.New(string(body))}
	default:
		c.recordOutcome(resource, "request_error")
		return nil, nil, fmt.Errorf("远端请求被拒绝，状态码: %d, 响应: %s", resp.StatusCode, string(body))
	}
}

func (c *RemoteClient) recordOutcome(resource, outcome string) {
	c.stats.mutex.Lock()
	if outcome == "success" {
		c.stats.SuccessCount++
	} else {
		c.stats.ErrorCount++
	}
	c.stats.mutex.Unlock()
	monitoring.RemoteRequestsTotal.WithLabelValues(resource, outcome).Inc()
}

// ensureToken 未配置用户名时匿名访问；Token缺失或即将过期时重新获取
func (c *RemoteClient) ensureToken(ctx context.Context) error {
	if c.username == "" || c.tokenValid() {
		return nil
	}

	// 并发调用方共享同一次刷新或登录
	_, err, _ := c.tokenFlight.Do("token", func() (interface{}, error) {
		if c.tokenValid() {
			return nil, nil
		}

		c.tokenMutex.RLock()
		currentRefreshToken := c.refreshToken
		c.tokenMutex.RUnlock()

		if currentRefreshToken != "" {
			err := c.callTokenRPC(ctx, "/rpc/refresh_token", map[string]interface{}{
				"refresh_token":        currentRefreshToken,
				"rotate_refresh_token": true,
			})
			if err == nil {
				c.stats.mutex.Lock()
				c.stats.TokenRefreshed++
				c.stats.mutex.Unlock()
				return nil, nil
			}
			slog.Debug("刷新Token失败，改为重新登录", "error", err)
		}
		return nil, c.callTokenRPC(ctx, "/rpc/get_token", map[string]interface{}{
			"username": c.username,
			"password": c.password,
		})
	})
	return err
}

// tokenValid 提前5分钟视为过期
func (c *RemoteClient) tokenValid() bool {
	c.tokenMutex.RLock()
	defer c.tokenMutex.RUnlock()
	return c.accessToken != "" && time.Now().Add(5*time.Minute).Before(c.tokenExpiry)
}

func (c *RemoteClient) callTokenRPC(ctx context.Context, path string, payload map[string]interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	reqBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化Token请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("创建Token请求失败: %w", err)
	}
	req.Header.Set("Accept-Profile", "postgrest")
	req.Header.Set("Content-Profile", "postgrest")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransientError{Err: fmt.Errorf("Token请求失败: %w", err)}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &AuthError{StatusCode: resp.StatusCode, Body: string(body)}
	case resp.StatusCode >= 500:
		return &TransientError{StatusCode: resp.StatusCode, Err: errors.New(string(body))}
	case resp.StatusCode != http.StatusOK:
		return &AuthError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var tokenResp TokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return &MalformedResponseError{Resource: path, Err: err}
	}
	if !tokenResp.Success || tokenResp.AccessToken == "" {
		return &AuthError{StatusCode: resp.StatusCode, Body: tokenResp.Message}
	}

	c.tokenMutex.Lock()
	c.accessToken = tokenResp.AccessToken
	if tokenResp.RefreshToken != "" {
		c.refreshToken = tokenResp.RefreshToken
	}
	c.tokenExpiry = time.Now().Add(time.Duration(tokenResp.AccessExpiresIn) * time.Second)
	c.tokenMutex.Unlock()

	c.stats.mutex.Lock()
	c.stats.LastTokenTime = time.Now()
	c.stats.mutex.Unlock()
	return nil
}

func (c *RemoteClient) invalidateToken() {
	c.tokenMutex.Lock()
	c.accessToken = ""
	c.tokenExpiry = time.Time{}
	c.tokenMutex.Unlock()
}

// StartTokenRefresher 按固定间隔主动刷新Token，直到上下文取消
func (c *RemoteClient) StartTokenRefresher(ctx context.Context, interval time.Duration) {
	if interval <= 0 || c.username == "" {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.invalidateToken()
				if err := c.ensureToken(ctx); err != nil {
					slog.Warn("定时刷新远端Token失败", "error", err)
				}
			}
		}
	}()
}

// GetStatistics 获取客户端统计信息
func (c *RemoteClient) GetStatistics() map[string]interface{} {
	c.stats.mutex.RLock()
	defer c.stats.mutex.RUnlock()

	c.tokenMutex.RLock()
	tokenValid := c.accessToken != "" && time.Now().Before(c.tokenExpiry)
	c.tokenMutex.RUnlock()

	stats := map[string]interface{}{
		"base_url":          c.baseURL,
		"request_count":     c.stats.RequestCount,
		"success_count":     c.stats.SuccessCount,
		"error_count":       c.stats.ErrorCount,
		"retry_count":       c.stats.RetryCount,
		"cache_hits":        c.stats.CacheHits,
		"token_refreshed":   c.stats.TokenRefreshed,
		"last_token_time":   c.stats.LastTokenTime,
		"last_request_time": c.stats.LastRequestTime,
		"token_valid":       tokenValid,
	}
	if c.cache != nil {
		stats["cache"] = c.cache.Stats()
	}
	return stats
}

// Close 撤销刷新Token
func (c *RemoteClient) Close() error {
	c.tokenMutex.RLock()
	currentRefreshToken := c.refreshToken
	c.tokenMutex.RUnlock()
	if currentRefreshToken == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	reqBody, _ := json.Marshal(map[string]string{"refresh_token": currentRefreshToken})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rpc/revoke_refresh_token", bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("创建撤销Token请求失败: %w", err)
	}
	req.Header.Set("Accept-Profile", "postgrest")
	req.Header.Set("Content-Profile", "postgrest")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("撤销Token请求失败: %w", err)
	}
	resp.Body.Close()

	c.tokenMutex.Lock()
	c.accessToken = ""
	c.refreshToken = ""
	c.tokenExpiry = time.Time{}
	c.tokenMutex.Unlock()
	return nil
}

// parseContentRange 解析 Content-Range 头中的总数，例如 0-24/3573 或 */0
func parseContentRange(header string) (int64, error) {
	if header == "" {
		return 0, fmt.Errorf("缺少Content-Range响应头")
	}
	idx := strings.LastIndex(header, "/")
	if idx < 0 || idx == len(header)-1 {
		return 0, fmt.Errorf("Content-Range格式错误: %s", header)
	}
	total, err := strconv.ParseInt(header[idx+1:], 10, 64)
	if err != nil || total < 0 {
		return 0, fmt.Errorf("Content-Range总数无效: %s", header)
	}
	return total, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
