/*
 * @module api/controllers/health_controller
 * @description 健康检查控制器，提供存活与就绪检查
 * @architecture MVC架构 - 控制器层
 * @documentReference dev_docs/requirements.md
 * @stateFlow HTTP请求处理流程
 * @rules 存活检查不访问依赖；就绪检查在必需组件不可用时返回503
 * @dependencies github.com/go-chi/render
 * @refs service/monitoring/health_checker.go
 */

package controllers

import (
	"context"
	"dataquality-service/service/monitoring"
	"net/http"
	"time"

	"github.com/go-chi/render"
)

// HealthReporter 依赖组件健康检查
type HealthReporter interface {
	CheckOverallHealth(ctx context.Context) *monitoring.HealthStatus
}

// HealthController 健康检查控制器
type HealthController struct {
	checker HealthReporter
}

// NewHealthController 创建健康检查控制器实例
func NewHealthController(checker HealthReporter) *HealthController {
	return &HealthController{checker: checker}
}

// HealthResponse 健康检查响应结构
type HealthResponse struct {
	Status    string                   `json:"status" example:"ok"`
	Timestamp time.Time                `json:"timestamp" example:"2024-01-01T00:00:00Z"`
	Version   string                   `json:"version" example:"1.0.0"`
	Service   string                   `json:"service" example:"dataquality-service"`
	Detail    *monitoring.HealthStatus `json:"detail,omitempty"`
}

// Health 健康检查
// @Summary 健康检查
// @Description 检查服务健康状态
// @Tags 系统
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (c *HealthController) Health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   "1.0.0",
		Service:   "dataquality-service",
	})
}

// Ready 就绪检查
// @Summary 就绪检查
// @Description 检查数据库等必需依赖是否可用
// @Tags 系统
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /ready [get]
func (c *HealthController) Ready(w http.ResponseWriter, r *http.Request) {
	status := c.checker.CheckOverallHealth(r.Context())
	response := HealthResponse{
		Status:    "ready",
		Timestamp: status.Timestamp,
		Version:   "1.0.0",
		Service:   "dataquality-service",
		Detail:    status,
	}
	if status.Overall == monitoring.StatusCritical {
		response.Status = "unavailable"
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, response)
}
