/*
 * @module api/controllers/quality_controller
 * @description 质量评分控制器，提供实体最新评分、趋势与历史查询
 * @architecture MVC架构 - 控制器层
 * @documentReference ai_docs/quality_scoring.md
 * @stateFlow 请求接收 -> 评分引擎查询 -> 响应返回
 * @rules 实体无评分历史时返回404
 * @dependencies github.com/go-chi/chi/v5, github.com/go-chi/render
 * @refs service/scoring/scoring_engine.go
 */

package controllers

import (
	"context"
	"dataquality-service/service/database"
	"dataquality-service/service/models"
	"dataquality-service/service/scoring"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// QualityReader 质量评分查询
type QualityReader interface {
	EntityQuality(ctx context.Context, entity string) (*scoring.EntityQuality, error)
	History(ctx context.Context, entity string, since time.Time, limit int) ([]models.ValidationHistory, error)
}

// QualityController 质量评分控制器
type QualityController struct {
	quality QualityReader
	now     func() time.Time
}

// NewQualityController 创建质量评分控制器
func NewQualityController(quality QualityReader) *QualityController {
	return &QualityController{quality: quality, now: time.Now}
}

// GetEntityScore 实体最新评分
// @Summary 实体最新评分
// @Description 返回实体最近一次评分、上一次评分及变化趋势
// @Tags 质量评分
// @Produce json
// @Param entity path string true "实体类型"
// @Success 200 {object} APIResponse{data=scoring.EntityQuality}
// @Failure 404 {object} APIResponse
// @Router /quality/scores/{entity} [get]
func (c *QualityController) GetEntityScore(w http.ResponseWriter, r *http.Request) {
	quality, err := c.quality.EntityQuality(r.Context(), chi.URLParam(r, "entity"))
	if err != nil {
		if errors.Is(err, database.ErrHistoryNotFound) {
			writeError(w, r, NotFoundResponse("实体暂无评分记录", nil))
			return
		}
		writeError(w, r, InternalErrorResponse("查询实体评分失败", err))
		return
	}
	render.JSON(w, r, SuccessResponse("查询成功", quality))
}

// GetEntityHistory 实体评分历史
// @Summary 实体评分历史
// @Tags 质量评分
// @Produce json
// @Param entity path string true "实体类型"
// @Param days query int false "回溯天数，默认30"
// @Param limit query int false "最大条数，默认100"
// @Success 200 {object} APIResponse{data=[]models.ValidationHistory}
// @Router /quality/history/{entity} [get]
func (c *QualityController) GetEntityHistory(w http.ResponseWriter, r *http.Request) {
	days, limit := 30, 100
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, r, BadRequestResponse("days 参数无效", err))
			return
		}
		days = n
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, r, BadRequestResponse("limit 参数无效", err))
			return
		}
		limit = n
	}

	since := c.now().AddDate(0, 0, -days)
	histories, err := c.quality.History(r.Context(), chi.URLParam(r, "entity"), since, limit)
	if err != nil {
		writeError(w, r, InternalErrorResponse("查询评分历史失败", err))
		return
	}
	render.JSON(w, r, SuccessResponse("查询成功", histories))
}
