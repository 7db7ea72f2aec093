/*
 * @module api/controllers/validation_controller
 * @description 校验运行控制器，提供触发校验、查询运行/结果/指标与运行评分接口
 * @architecture MVC架构 - 控制器层
 * @documentReference ai_docs/validation_engine_design.md
 * @stateFlow HTTP请求 -> 参数校验 -> 引擎/存储 -> 统一响应
 * @rules 请求错误返回400，运行不存在返回404，持久化失败返回500并附带运行摘要
 * @dependencies github.com/go-chi/chi/v5, github.com/go-chi/render
 * @refs service/validation_engine/engine.go, service/database/run_store.go
 */

package controllers

import (
	"context"
	"dataquality-service/service/database"
	"dataquality-service/service/models"
	"dataquality-service/service/monitoring"
	"dataquality-service/service/scoring"
	"dataquality-service/service/validation_engine"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// ValidationRunner 校验运行入口
type ValidationRunner interface {
	RunValidation(ctx context.Context, req validation_engine.RunRequest) (*models.RunSummary, error)
}

// RunReader 运行查询
type RunReader interface {
	GetRun(ctx context.Context, id string) (*models.ValidationRun, error)
	ListRuns(ctx context.Context, q database.RunQuery) ([]models.ValidationRun, int64, error)
	ListResults(ctx context.Context, runID string, q database.ResultQuery) ([]models.ValidationResult, int64, error)
	ListMetrics(ctx context.Context, runID, entityType string) ([]models.ValidationMetric, error)
}

// RunScorer 运行评分
type RunScorer interface {
	ScoreRun(ctx context.Context, runID string) ([]*models.ValidationHistory, error)
	RunScores(ctx context.Context, runID string) ([]models.QualityScore, error)
}

// ValidationController 校验运行控制器
type ValidationController struct {
	runner    ValidationRunner
	runs      RunReader
	scorer    RunScorer
	collector *monitoring.MetricsCollector
}

// NewValidationController 创建校验运行控制器
func NewValidationController(runner ValidationRunner, runs RunReader, scorer RunScorer, collector *monitoring.MetricsCollector) *ValidationController {
	return &ValidationController{runner: runner, runs: runs, scorer: scorer, collector: collector}
}

// TriggerRunRequest 触发校验请求
type TriggerRunRequest struct {
	Mode         string   `json:"mode" example:"fast"`
	EntityFilter []string `json:"entity_filter" example:"buildings,rooms"`
	Sequential   *bool    `json:"sequential,omitempty"`
	TriggeredBy  string   `json:"triggered_by" example:"ops"`
	Async        bool     `json:"async"`
}

// TriggerRun 触发校验运行
// @Summary 触发校验运行
// @Description 按模式对全部或指定实体执行一次校验；async=true 时后台执行并立即返回
// @Tags 校验运行
// @Accept json
// @Produce json
// @Param request body TriggerRunRequest true "触发参数"
// @Success 200 {object} APIResponse{data=models.RunSummary}
// @Success 202 {object} APIResponse
// @Failure 400 {object} APIResponse
// @Failure 500 {object} APIResponse
// @Router /validation/runs [post]
func (c *ValidationController) TriggerRun(w http.ResponseWriter, r *http.Request) {
	var req TriggerRunRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, BadRequestResponse("请求参数解析失败", err))
		return
	}
	if req.TriggeredBy == "" {
		req.TriggeredBy = "api"
	}
	runReq := validation_engine.RunRequest{
		Mode:         models.RunMode(req.Mode),
		EntityFilter: req.EntityFilter,
		TriggeredBy:  req.TriggeredBy,
		Sequential:   req.Sequential,
	}

	if req.Async {
		go func() {
			if _, err := c.runner.RunValidation(context.WithoutCancel(r.Context()), runReq); err != nil {
				slog.Error("后台校验运行失败", "mode", req.Mode, "error", err)
			}
		}()
		render.Status(r, http.StatusAccepted)
		render.JSON(w, r, SuccessResponse("校验运行已提交", nil))
		return
	}

	summary, err := c.runner.RunValidation(r.Context(), runReq)
	if err != nil {
		var persistErr *database.PersistenceError
		switch {
		case errors.Is(err, validation_engine.ErrUnknownEntity), errors.Is(err, validation_engine.ErrInvalidMode):
			writeError(w, r, BadRequestResponse("校验请求无效", err))
		case errors.As(err, &persistErr):
			resp := InternalErrorResponse("校验结果持久化失败", err)
			resp.Data = summary
			writeError(w, r, resp)
		default:
			writeError(w, r, InternalErrorResponse("校验运行失败", err))
		}
		return
	}
	render.JSON(w, r, SuccessResponse("校验运行完成", summary))
}

// ListRuns 查询运行列表
// @Summary 查询运行列表
// @Tags 校验运行
// @Produce json
// @Param mode query string false "运行模式"
// @Param status query string false "运行状态"
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} PaginatedResponse{data=[]models.ValidationRun}
// @Router /validation/runs [get]
func (c *ValidationController) ListRuns(w http.ResponseWriter, r *http.Request) {
	page, size := pageParams(r)
	runs, total, err := c.runs.ListRuns(r.Context(), database.RunQuery{
		Mode:     r.URL.Query().Get("mode"),
		Status:   r.URL.Query().Get("status"),
		Page:     page,
		PageSize: size,
	})
	if err != nil {
		writeError(w, r, InternalErrorResponse("查询运行列表失败", err))
		return
	}
	render.JSON(w, r, SuccessWithPagination("查询成功", runs, total, page, size))
}

// GetRun 查询运行详情
// @Summary 查询运行详情
// @Tags 校验运行
// @Produce json
// @Param id path string true "运行ID"
// @Success 200 {object} APIResponse{data=models.ValidationRun}
// @Failure 404 {object} APIResponse
// @Router /validation/runs/{id} [get]
func (c *ValidationController) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := c.runs.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		c.writeRunError(w, r, err)
		return
	}
	render.JSON(w, r, SuccessResponse("查询成功", run))
}

// ListResults 查询运行结果
// @Summary 查询运行结果
// @Description 严重级别高的结果在前
// @Tags 校验运行
// @Produce json
// @Param id path string true "运行ID"
// @Param entity_type query string false "实体类型"
// @Param severity query string false "严重级别"
// @Param validator query string false "校验器"
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} PaginatedResponse{data=[]models.ValidationResult}
// @Router /validation/runs/{id}/results [get]
func (c *ValidationController) ListResults(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	if _, err := c.runs.GetRun(r.Context(), runID); err != nil {
		c.writeRunError(w, r, err)
		return
	}
	page, size := pageParams(r)
	q := r.URL.Query()
	results, total, err := c.runs.ListResults(r.Context(), runID, database.ResultQuery{
		EntityType: q.Get("entity_type"),
		Severity:   q.Get("severity"),
		Validator:  q.Get("validator"),
		Page:       page,
		PageSize:   size,
	})
	if err != nil {
		writeError(w, r, InternalErrorResponse("查询运行结果失败", err))
		return
	}
	render.JSON(w, r, SuccessWithPagination("查询成功", results, total, page, size))
}

// ListMetrics 查询运行指标
// @Summary 查询运行指标
// @Tags 校验运行
// @Produce json
// @Param id path string true "运行ID"
// @Param entity_type query string false "实体类型"
// @Success 200 {object} APIResponse{data=[]models.ValidationMetric}
// @Router /validation/runs/{id}/metrics [get]
func (c *ValidationController) ListMetrics(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	if _, err := c.runs.GetRun(r.Context(), runID); err != nil {
		c.writeRunError(w, r, err)
		return
	}
	metrics, err := c.runs.ListMetrics(r.Context(), runID, r.URL.Query().Get("entity_type"))
	if err != nil {
		writeError(w, r, InternalErrorResponse("查询运行指标失败", err))
		return
	}
	render.JSON(w, r, SuccessResponse("查询成功", metrics))
}

// ScoreRun 为运行计算并记录质量评分
// @Summary 运行评分
// @Description 对已终结的运行计算各实体质量评分并写入历史，重复调用返回已有记录
// @Tags 校验运行
// @Produce json
// @Param id path string true "运行ID"
// @Success 200 {object} APIResponse{data=[]models.ValidationHistory}
// @Failure 404 {object} APIResponse
// @Failure 409 {object} APIResponse
// @Router /validation/runs/{id}/score [post]
func (c *ValidationController) ScoreRun(w http.ResponseWriter, r *http.Request) {
	histories, err := c.scorer.ScoreRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		c.writeRunError(w, r, err)
		return
	}
	render.JSON(w, r, SuccessResponse("评分完成", histories))
}

// RunScores 预览运行评分
// @Summary 预览运行评分
// @Description 按当前权重重新计算运行中各实体评分，不写入历史
// @Tags 校验运行
// @Produce json
// @Param id path string true "运行ID"
// @Success 200 {object} APIResponse{data=[]models.QualityScore}
// @Router /validation/runs/{id}/scores [get]
func (c *ValidationController) RunScores(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	if _, err := c.runs.GetRun(r.Context(), runID); err != nil {
		c.writeRunError(w, r, err)
		return
	}
	scores, err := c.scorer.RunScores(r.Context(), runID)
	if err != nil {
		writeError(w, r, InternalErrorResponse("计算运行评分失败", err))
		return
	}
	render.JSON(w, r, SuccessResponse("查询成功", scores))
}

// Statistics 运行统计
// @Summary 运行统计
// @Tags 校验运行
// @Produce json
// @Param time_range query string false "时间范围(1h, 24h, 7d, 30d)"
// @Success 200 {object} APIResponse{data=monitoring.RunStatistics}
// @Router /validation/statistics [get]
func (c *ValidationController) Statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := c.collector.CollectRunStatistics(r.URL.Query().Get("time_range"))
	if err != nil {
		writeError(w, r, InternalErrorResponse("统计运行数据失败", err))
		return
	}
	render.JSON(w, r, SuccessResponse("查询成功", stats))
}

func (c *ValidationController) writeRunError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, database.ErrRunNotFound):
		writeError(w, r, NotFoundResponse("运行不存在", nil))
	case errors.Is(err, scoring.ErrRunNotScorable):
		writeError(w, r, ErrorResponse(http.StatusConflict, "运行尚未成功终结", nil))
	default:
		writeError(w, r, InternalErrorResponse("查询运行失败", err))
	}
}
