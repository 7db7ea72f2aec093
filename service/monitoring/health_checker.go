/*
 * @module service/monitoring/health_checker
 * @description 健康检查器，检查数据库、Redis与远端数据源等依赖组件的可用性
 * @architecture 分层架构 - 业务服务层
 * @documentReference ai_docs/validation_engine_metrics.md
 * @stateFlow 注册检查项 -> 并发执行检查 -> 汇总整体状态
 * @rules 必需组件失败时整体为critical，可选组件失败时整体为warning
 * @dependencies gorm.io/gorm, github.com/go-redis/redis/v8
 * @refs api/controllers/health_controller.go, service/init.go
 */

package monitoring

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

const (
	StatusHealthy  = "healthy"
	StatusWarning  = "warning"
	StatusCritical = "critical"
)

// CheckFunc 单个组件的检查函数，返回附加指标
type CheckFunc func(ctx context.Context) (map[string]interface{}, error)

type healthCheck struct {
	name     string
	required bool
	fn       CheckFunc
}

// HealthChecker 健康检查器
type HealthChecker struct {
	mu      sync.RWMutex
	checks  []healthCheck
	timeout time.Duration
}

// HealthStatus 整体健康状态
type HealthStatus struct {
	Overall    string                      `json:"overall"` // healthy, warning, critical
	Timestamp  time.Time                   `json:"timestamp"`
	Components map[string]*ComponentHealth `json:"components"`
	Issues     []string                    `json:"issues,omitempty"`
}

// ComponentHealth 组件健康状态
type ComponentHealth struct {
	Name         string                 `json:"name"`
	Status       string                 `json:"status"`
	Required     bool                   `json:"required"`
	ResponseTime time.Duration          `json:"response_time"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metrics      map[string]interface{} `json:"metrics,omitempty"`
}

// NewHealthChecker 创建健康检查器
func NewHealthChecker(timeout time.Duration) *HealthChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthChecker{timeout: timeout}
}

// Register 注册检查项，required 表示该组件不可用时服务不可用
func (h *HealthChecker) Register(name string, required bool, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, healthCheck{name: name, required: required, fn: fn})
}

// CheckOverallHealth 执行全部检查并汇总
func (h *HealthChecker) CheckOverallHealth(ctx context.Context) *HealthStatus {
	h.mu.RLock()
	checks := append([]healthCheck(nil), h.checks...)
	h.mu.RUnlock()

	status := &HealthStatus{
		Overall:    StatusHealthy,
		Timestamp:  time.Now(),
		Components: make(map[string]*ComponentHealth, len(checks)),
	}

	results := make([]*ComponentHealth, len(checks))
	var wg sync.WaitGroup
	for i, check := range checks {
		wg.Add(1)
		go func(i int, check healthCheck) {
			defer wg.Done()
			results[i] = h.run(ctx, check)
		}(i, check)
	}
	wg.Wait()

	for _, component := range results {
		status.Components[component.Name] = component
		if component.Status == StatusHealthy {
			continue
		}
		status.Issues = append(status.Issues, fmt.Sprintf("%s: %s", component.Name, component.ErrorMessage))
		if component.Required {
			status.Overall = StatusCritical
		} else if status.Overall == StatusHealthy {
			status.Overall = StatusWarning
		}
	}
	sort.Strings(status.Issues)
	return status
}

func (h *HealthChecker) run(ctx context.Context, check healthCheck) *ComponentHealth {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	metrics, err := check.fn(ctx)
	component := &ComponentHealth{
		Name:         check.name,
		Status:       StatusHealthy,
		Required:     check.required,
		ResponseTime: time.Since(start),
		Metrics:      metrics,
	}
	if err != nil {
		component.Status = StatusCritical
		component.ErrorMessage = err.Error()
	}
	return component
}

// DatabaseCheck 数据库连通性与连接池状态
func DatabaseCheck(db *gorm.DB) CheckFunc {
	return func(ctx context.Context) (map[string]interface{}, error) {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("获取数据库连接失败: %w", err)
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("数据库不可用: %w", err)
		}
		stats := sqlDB.Stats()
		return map[string]interface{}{
			"open_connections":   stats.OpenConnections,
			"idle_connections":   stats.Idle,
			"in_use_connections": stats.InUse,
		}, nil
	}
}

// RedisCheck Redis连通性
func RedisCheck(client *redis.Client) CheckFunc {
	return func(ctx context.Context) (map[string]interface{}, error) {
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("Redis不可用: %w", err)
		}
		stats := client.PoolStats()
		return map[string]interface{}{
			"total_conns": stats.TotalConns,
			"idle_conns":  stats.IdleConns,
		}, nil
	}
}

// StatsCheck 只报告统计信息的检查项
func StatsCheck(stats func() map[string]interface{}) CheckFunc {
	return func(ctx context.Context) (map[string]interface{}, error) {
		return stats(), nil
	}
}
