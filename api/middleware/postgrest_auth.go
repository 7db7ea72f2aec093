/*
 * @module api/middleware/postgrest_auth
 * @description PostgREST Token鉴权中间件，调用权威数据源的 verify_token 校验调用方Token
 * @architecture 中间件模式 - HTTP请求拦截和验证
 * @documentReference ai_docs/validation_engine_design.md
 * @stateFlow Token提取 -> 缓存查找 -> 远端验证 -> 上下文注入 -> 下一个处理器
 * @rules 白名单路径不鉴权；验证结果按TTL与Token自身过期时间中较早者缓存
 * @dependencies github.com/hashicorp/golang-lru/v2/expirable, github.com/go-chi/render
 * @refs api/routes.go
 */

package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/render"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ContextKey 上下文键类型
type ContextKey string

// UserInfoKey 用户信息在上下文中的键
const UserInfoKey ContextKey = "user_info"

// TokenVerificationResponse Token验证响应结构
type TokenVerificationResponse struct {
	Success   bool       `json:"success"`
	Valid     bool       `json:"valid"`
	Message   string     `json:"message"`
	Username  string     `json:"username"`
	Roles     []string   `json:"roles"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// UserInfo 用户信息结构
type UserInfo struct {
	Username  string    `json:"username"`
	Roles     []string  `json:"roles"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PostgRESTAuthMiddleware PostgREST认证中间件
type PostgRESTAuthMiddleware struct {
	postgrestURL   string
	httpClient     *http.Client
	cache          *expirable.LRU[string, *UserInfo]
	whitelistPaths []string
	now            func() time.Time
}

// NewPostgRESTAuthMiddleware 创建PostgREST认证中间件实例
func NewPostgRESTAuthMiddleware(postgrestURL string) *PostgRESTAuthMiddleware {
	return &PostgRESTAuthMiddleware{
		postgrestURL: strings.TrimRight(postgrestURL, "/"),
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		cache:        expirable.NewLRU[string, *UserInfo](1024, nil, 5*time.Minute),
		whitelistPaths: []string{
			"/health",
			"/ready",
			"/metrics",
			"/swagger",
		},
		now: time.Now,
	}
}

// IsWhitelistPath 检查路径是否在白名单中（前缀匹配）
func (m *PostgRESTAuthMiddleware) IsWhitelistPath(path string) bool {
	for _, whitelistPath := range m.whitelistPaths {
		if strings.HasPrefix(path, whitelistPath) {
			return true
		}
	}
	return false
}

// Middleware 认证中间件处理函数
func (m *PostgRESTAuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.IsWhitelistPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			m.respondUnauthorized(w, r, "缺少或无效的Authorization头，需要Bearer Token")
			return
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == "" {
			m.respondUnauthorized(w, r, "Token为空")
			return
		}

		userInfo, ok := m.cache.Get(token)
		if !ok || m.now().After(userInfo.ExpiresAt) {
			var err error
			userInfo, err = m.verifyToken(r.Context(), token)
			if err != nil {
				m.respondUnauthorized(w, r, fmt.Sprintf("Token验证失败: %v", err))
				return
			}
			m.cache.Add(token, userInfo)
		}

		ctx := context.WithValue(r.Context(), UserInfoKey, userInfo)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// verifyToken 调用PostgREST验证Token
func (m *PostgRESTAuthMiddleware) verifyToken(ctx context.Context, token string) (*UserInfo, error) {
	reqBody, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return nil, fmt.Errorf("序列化验证请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.postgrestURL+"/rpc/verify_token", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("创建验证请求失败: %w", err)
	}
	req.Header.Set("Accept-Profile", "postgrest")
	req.Header.Set("Content-Profile", "postgrest")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("验证请求失败: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取验证响应失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("验证请求失败，状态码: %d", resp.StatusCode)
	}

	var verifyResp TokenVerificationResponse
	if err := json.Unmarshal(respBody, &verifyResp); err != nil {
		return nil, fmt.Errorf("解析验证响应失败: %w", err)
	}
	if !verifyResp.Success || !verifyResp.Valid {
		return nil, fmt.Errorf("Token无效: %s", verifyResp.Message)
	}

	userInfo := &UserInfo{Username: verifyResp.Username, Roles: verifyResp.Roles}
	if verifyResp.ExpiresAt != nil {
		userInfo.ExpiresAt = *verifyResp.ExpiresAt
	} else {
		userInfo.ExpiresAt = m.now().Add(time.Hour)
	}
	return userInfo, nil
}

func (m *PostgRESTAuthMiddleware) respondUnauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	render.Status(r, http.StatusUnauthorized)
	render.JSON(w, r, map[string]interface{}{
		"status": http.StatusUnauthorized,
		"msg":    msg,
	})
}

// GetUserInfo 从上下文获取用户信息
func GetUserInfo(ctx context.Context) (*UserInfo, bool) {
	userInfo, ok := ctx.Value(UserInfoKey).(*UserInfo)
	return userInfo, ok
}
