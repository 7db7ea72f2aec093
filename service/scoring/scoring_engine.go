/*
 * @module service/scoring/scoring_engine
 * @description 质量评分与趋势引擎，读取运行指标计算实体评分，维护历史快照并检测异常
 * @architecture 分层架构 - 核心服务层
 * @documentReference ai_docs/validation_engine_design.md
 * @stateFlow 读取运行指标 -> 加权评分 -> 读取最近K条历史 -> 滚动统计与异常判定 -> 追加历史 -> 异常告警
 * @rules 评分只由持久化指标计算，可重复计算；同一运行同一实体只保留一条历史；告警失败不影响历史落库
 * @dependencies dataquality-service/service/database, dataquality-service/service/event, github.com/prometheus/client_golang
 * @refs score.go, trend.go, service/validation_engine/engine.go
 */

package scoring

import (
	"context"
	"dataquality-service/service/config"
	"dataquality-service/service/database"
	"dataquality-service/service/event"
	"dataquality-service/service/models"
	"dataquality-service/service/monitoring"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// ErrRunNotScorable 运行未成功终结，没有可用指标
var ErrRunNotScorable = errors.New("运行尚未成功终结，无法评分")

// ConfigSource 提供当前配置快照
type ConfigSource interface {
	Current() *config.EngineConfig
}

// HistoryStore 评分所需的存储访问
type HistoryStore interface {
	GetRun(ctx context.Context, id string) (*models.ValidationRun, error)
	MetricsByEntity(ctx context.Context, runID string) (map[string][]models.ValidationMetric, error)
	GetHistory(ctx context.Context, runID, entityType string) (*models.ValidationHistory, error)
	AppendHistory(ctx context.Context, history *models.ValidationHistory) (*models.ValidationHistory, error)
	RecentHistory(ctx context.Context, entityType string, k int, excludeRunID string) ([]models.ValidationHistory, error)
	ListHistory(ctx context.Context, entityType string, since time.Time, limit int) ([]models.ValidationHistory, error)
}

// EntityQuality 实体最新质量及与上一次的变化
type EntityQuality struct {
	Latest   *models.ValidationHistory `json:"latest"`
	Previous *models.ValidationHistory `json:"previous,omitempty"`
	Trend    *Trend                    `json:"trend,omitempty"`
}

// ScoringEngine 质量评分与趋势引擎
type ScoringEngine struct {
	config    ConfigSource
	store     HistoryStore
	publisher event.AlertPublisher
	now       func() time.Time
}

// NewScoringEngine 创建评分引擎，权重不合法时返回错误
func NewScoringEngine(cfg ConfigSource, store HistoryStore, publisher event.AlertPublisher) (*ScoringEngine, error) {
	if err := config.ValidateWeights(cfg.Current().Scoring.Weights); err != nil {
		return nil, err
	}
	if publisher == nil {
		publisher = event.NopPublisher{}
	}
	return &ScoringEngine{
		config:    cfg,
		store:     store,
		publisher: publisher,
		now:       time.Now,
	}, nil
}

// ScoreRun 计算运行中每个实体的评分并追加历史；已评分的实体直接返回已有历史
func (s *ScoringEngine) ScoreRun(ctx context.Context, runID string) ([]*models.ValidationHistory, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status == models.RunStatusRunning || run.Status == models.RunStatusFailed {
		return nil, fmt.Errorf("%w: run=%s status=%s", ErrRunNotScorable, run.ID, run.Status)
	}

	grouped, err := s.store.MetricsByEntity(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("读取运行指标失败: %w", err)
	}
	entities := make([]string, 0, len(grouped))
	for entity := range grouped {
		entities = append(entities, entity)
	}
	sort.Strings(entities)

	cfg := s.config.Current()
	histories := make([]*models.ValidationHistory, 0, len(entities))
	for _, entity := range entities {
		history, err := s.scoreEntity(ctx, cfg, runID, entity, grouped[entity])
		if err != nil {
			return histories, err
		}
		if history != nil {
			histories = append(histories, history)
		}
	}
	return histories, nil
}

func (s *ScoringEngine) scoreEntity(ctx context.Context, cfg *config.EngineConfig, runID, entity string, metrics []models.ValidationMetric) (*models.ValidationHistory, error) {
	existing, err := s.store.GetHistory(ctx, runID, entity)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, database.ErrHistoryNotFound) {
		return nil, err
	}

	score, categories, _, ok := ComputeScore(metrics, cfg.Scoring.Weights)
	if !ok {
		slog.Info("实体没有可评分的分类指标，跳过", "run_id", runID, "entity", entity)
		return nil, nil
	}

	window, err := s.store.RecentHistory(ctx, entity, cfg.Trend.WindowSize, runID)
	if err != nil {
		return nil, fmt.Errorf("读取实体 %s 历史失败: %w", entity, err)
	}
	previous := make([]float64, 0, len(window))
	for _, h := range window {
		previous = append(previous, h.Score)
	}
	stats := RollingStats(previous)
	anomaly := DetectAnomaly(score, stats, cfg.Trend)

	candidate := &models.ValidationHistory{
		EntityType:     entity,
		RunID:          runID,
		Score:          score,
		RollingAverage: round(stats.Mean, 4),
		RollingStdDev:  round(stats.StdDev, 4),
		WindowSize:     stats.N,
		Deviation:      anomaly.Deviation,
		IsAnomaly:      anomaly.IsAnomaly,
		AnomalyReason:  anomaly.Reason,
		CategoryScores: models.JSONBFloatMap(categories),
		CreatedAt:      s.now(),
	}
	history, err := s.store.AppendHistory(ctx, candidate)
	if err != nil {
		return nil, err
	}
	// 并发评分时另一方已写入
	if history != candidate {
		return history, nil
	}

	monitoring.QualityScore.WithLabelValues(entity).Set(score)
	slog.Info("实体质量评分完成", "run_id", runID, "entity", entity, "score", score, "window", stats.N, "anomaly", anomaly.IsAnomaly)

	if anomaly.IsAnomaly {
		monitoring.AnomaliesTotal.WithLabelValues(entity).Inc()
		alert := &event.AnomalyAlert{
			EntityType:     entity,
			RunID:          runID,
			Score:          score,
			RollingAverage: history.RollingAverage,
			RollingStdDev:  history.RollingStdDev,
			Deviation:      anomaly.Deviation,
			Reason:         anomaly.Reason,
			CategoryScores: categories,
			DetectedAt:     history.CreatedAt,
		}
		if err := s.publisher.Publish(ctx, alert); err != nil {
			slog.Error("发布质量异常告警失败", "run_id", runID, "entity", entity, "error", err)
		}
	}
	return history, nil
}

// RunScores 不落库地重新计算运行中各实体评分
func (s *ScoringEngine) RunScores(ctx context.Context, runID string) ([]models.QualityScore, error) {
	grouped, err := s.store.MetricsByEntity(ctx, runID)
	if err != nil {
		return nil, err
	}
	weights := s.config.Current().Scoring.Weights
	scores := make([]models.QualityScore, 0, len(grouped))
	for entity, metrics := range grouped {
		score, categories, total, ok := ComputeScore(metrics, weights)
		if !ok {
			continue
		}
		scores = append(scores, models.QualityScore{
			RunID:          runID,
			EntityType:     entity,
			Score:          score,
			CategoryScores: categories,
			TotalWeight:    total,
		})
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].EntityType < scores[j].EntityType })
	return scores, nil
}

// EntityQuality 实体最新评分与趋势
func (s *ScoringEngine) EntityQuality(ctx context.Context, entity string) (*EntityQuality, error) {
	histories, err := s.store.ListHistory(ctx, entity, time.Time{}, 2)
	if err != nil {
		return nil, err
	}
	if len(histories) == 0 {
		return nil, database.ErrHistoryNotFound
	}
	quality := &EntityQuality{Latest: &histories[0]}
	if len(histories) > 1 {
		quality.Previous = &histories[1]
		trend := ComputeTrend(histories[1].Score, histories[0].Score)
		quality.Trend = &trend
	}
	return quality, nil
}

// History 实体历史，按时间倒序
func (s *ScoringEngine) History(ctx context.Context, entity string, since time.Time, limit int) ([]models.ValidationHistory, error) {
	return s.store.ListHistory(ctx, entity, since, limit)
}
