/*
 * @module api/routes
 * @description API路由配置模块，负责初始化和配置所有HTTP路由
 * @architecture RESTful API架构
 * @documentReference ai_docs/validation_engine_design.md
 * @stateFlow 无状态HTTP请求处理
 * @rules 遵循RESTful API设计规范，统一错误处理和响应格式；DQ_API_AUTH=true 时启用PostgREST Token鉴权
 * @dependencies github.com/go-chi/chi/v5, github.com/go-chi/cors, github.com/go-chi/render
 * @refs api/controllers, service/init.go
 */

package api

import (
	"dataquality-service/api/controllers"
	dqmiddleware "dataquality-service/api/middleware"
	"dataquality-service/service"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
)

// InitRoute 初始化所有API路由
func InitRoute(r *chi.Mux) {
	// 基础中间件
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(render.SetContentType(render.ContentTypeJSON))

	// CORS配置
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if os.Getenv("DQ_API_AUTH") == "true" {
		auth := dqmiddleware.NewPostgRESTAuthMiddleware(service.GlobalConfigManager.Current().Remote.BaseURL)
		r.Use(auth.Middleware)
	}

	// 健康检查
	healthController := controllers.NewHealthController(service.GlobalHealthChecker)
	r.Get("/health", healthController.Health)
	r.Get("/ready", healthController.Ready)

	// 校验运行
	r.Route("/validation", func(r chi.Router) {
		validationController := controllers.NewValidationController(
			service.GlobalValidationEngine,
			service.GlobalRunStore,
			service.GlobalScoringEngine,
			service.GlobalMetricsCollector,
		)
		r.Get("/statistics", validationController.Statistics)

		r.Route("/runs", func(r chi.Router) {
			r.Post("/", validationController.TriggerRun)
			r.Get("/", validationController.ListRuns)
			r.Get("/{id}", validationController.GetRun)
			r.Get("/{id}/results", validationController.ListResults)
			r.Get("/{id}/metrics", validationController.ListMetrics)
			r.Get("/{id}/scores", validationController.RunScores)
			r.Post("/{id}/score", validationController.ScoreRun)
		})
	})

	// 质量评分
	r.Route("/quality", func(r chi.Router) {
		qualityController := controllers.NewQualityController(service.GlobalScoringEngine)
		r.Get("/scores/{entity}", qualityController.GetEntityScore)
		r.Get("/history/{entity}", qualityController.GetEntityHistory)
	})

	// 配置管理
	r.Route("/config", func(r chi.Router) {
		configController := controllers.NewConfigController(service.GlobalConfigManager)
		r.Get("/", configController.GetConfig)
		r.Post("/reload", configController.ReloadConfig)
		r.Get("/versions", configController.GetVersions)
	})

	// 告警事件订阅
	eventController := controllers.NewEventController(service.GlobalAlertStream)
	r.Get("/events/alerts", eventController.StreamAlerts)
}
