/*
 * @module service/database/run_store
 * @description 校验运行存储，负责运行、结果、指标与质量历史的读写
 * @architecture 数据访问层 - 仓储模式
 * @documentReference ai_docs/validation_engine_design.md
 * @stateFlow 创建运行(running) -> 单事务写入结果/指标/终态 -> 失败时标记failed；评分后追加历史
 * @rules 结果与指标要么全部写入要么全部不写；同一运行同一实体同一指标只保留一条；历史只追加
 * @dependencies gorm.io/gorm, gorm.io/gorm/clause
 * @refs service/models/validation_models.go, service/validation_engine, service/scoring
 */

package database

import (
	"context"
	"dataquality-service/service/models"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	insertBatchSize = 500
	defaultPageSize = 50
	maxPageSize     = 500
)

// RunQuery 运行列表查询条件
type RunQuery struct {
	Mode     string
	Status   string
	Page     int
	PageSize int
}

// ResultQuery 结果列表查询条件
type ResultQuery struct {
	EntityType string
	Severity   string
	Validator  string
	Page       int
	PageSize   int
}

// RunStore 校验运行存储
type RunStore struct {
	db *gorm.DB
}

// NewRunStore 创建校验运行存储
func NewRunStore(db *gorm.DB) *RunStore {
	return &RunStore{db: db}
}

// DB 底层数据库连接
func (s *RunStore) DB() *gorm.DB {
	return s.db
}

// CreateRun 创建running状态的运行记录
func (s *RunStore) CreateRun(ctx context.Context, run *models.ValidationRun) error {
	if run.Status == "" {
		run.Status = models.RunStatusRunning
	}
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return &PersistenceError{Op: "create_run", RunID: run.ID, Err: err}
	}
	return nil
}

// FinalizeRun 单事务写入全部结果、指标与运行终态
func (s *RunStore) FinalizeRun(ctx context.Context, run *models.ValidationRun, results []models.ValidationResult, metrics []models.ValidationMetric) error {
	err := WithTransaction(s.db.WithContext(ctx), func(tx *gorm.DB) error {
		if len(results) > 0 {
			if err := tx.CreateInBatches(results, insertBatchSize).Error; err != nil {
				return fmt.Errorf("写入校验结果失败: %w", err)
			}
		}
		if len(metrics) > 0 {
			upsert := clause.OnConflict{
				Columns:   []clause.Column{{Name: "run_id"}, {Name: "metric_name"}, {Name: "entity_type"}},
				DoUpdates: clause.AssignmentColumns([]string{"metric_value", "validator"}),
			}
			if err := tx.Clauses(upsert).CreateInBatches(metrics, insertBatchSize).Error; err != nil {
				return fmt.Errorf("写入校验指标失败: %w", err)
			}
		}
		updates := map[string]interface{}{
			"status":         run.Status,
			"completed_at":   run.CompletedAt,
			"total_count":    run.TotalCount,
			"passed_count":   run.PassedCount,
			"info_count":     run.InfoCount,
			"warning_count":  run.WarningCount,
			"error_count":    run.ErrorCount,
			"critical_count": run.CriticalCount,
			"timed_out":      run.TimedOut,
			"metadata":       run.Metadata,
			"error_message":  run.ErrorMessage,
		}
		res := tx.Model(&models.ValidationRun{}).
			Where("id = ? AND status = ?", run.ID, models.RunStatusRunning).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("更新运行状态失败: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("运行 %s 不存在或已终结", run.ID)
		}
		return nil
	})
	if err != nil {
		return &PersistenceError{Op: "finalize_run", RunID: run.ID, Err: err}
	}
	return nil
}

// MarkFailed 将running状态的运行标记为failed
func (s *RunStore) MarkFailed(ctx context.Context, runID, reason string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.ValidationRun{}).
		Where("id = ? AND status = ?", runID, models.RunStatusRunning).
		Updates(map[string]interface{}{
			"status":        models.RunStatusFailed,
			"completed_at":  at,
			"error_message": reason,
		})
	if res.Error != nil {
		return &PersistenceError{Op: "mark_failed", RunID: runID, Err: res.Error}
	}
	if res.RowsAffected == 0 {
		slog.Warn("标记运行失败时未找到running状态的运行", "run_id", runID)
	}
	return nil
}

// GetRun 获取运行记录
func (s *RunStore) GetRun(ctx context.Context, id string) (*models.ValidationRun, error) {
	var run models.ValidationRun
	if err := s.db.WithContext(ctx).First(&run, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return &run, nil
}

// ListRuns 分页查询运行记录，按开始时间倒序
func (s *RunStore) ListRuns(ctx context.Context, q RunQuery) ([]models.ValidationRun, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.ValidationRun{})
	if q.Mode != "" {
		query = query.Where("mode = ?", q.Mode)
	}
	if q.Status != "" {
		query = query.Where("status = ?", q.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var runs []models.ValidationRun
	page, size := normalizePage(q.Page, q.PageSize)
	err := query.Order("started_at DESC").Offset((page - 1) * size).Limit(size).Find(&runs).Error
	return runs, total, err
}

// ListResults 分页查询运行结果，严重级别高的在前
func (s *RunStore) ListResults(ctx context.Context, runID string, q ResultQuery) ([]models.ValidationResult, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.ValidationResult{}).Where("run_id = ?", runID)
	if q.EntityType != "" {
		query = query.Where("entity_type = ?", q.EntityType)
	}
	if q.Severity != "" {
		query = query.Where("severity = ?", q.Severity)
	}
	if q.Validator != "" {
		query = query.Where("validator = ?", q.Validator)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var results []models.ValidationResult
	page, size := normalizePage(q.Page, q.PageSize)
	err := query.
		Order("CASE severity WHEN 'critical' THEN 0 WHEN 'error' THEN 1 WHEN 'warning' THEN 2 ELSE 3 END").
		Order("entity_type").Order("created_at").
		Offset((page - 1) * size).Limit(size).
		Find(&results).Error
	return results, total, err
}

// ListMetrics 查询运行指标，entityType为空时返回全部实体
func (s *RunStore) ListMetrics(ctx context.Context, runID, entityType string) ([]models.ValidationMetric, error) {
	query := s.db.WithContext(ctx).Where("run_id = ?", runID)
	if entityType != "" {
		query = query.Where("entity_type = ?", entityType)
	}
	var metrics []models.ValidationMetric
	err := query.Order("entity_type").Order("metric_name").Find(&metrics).Error
	return metrics, err
}

// MetricsByEntity 按实体分组的运行指标
func (s *RunStore) MetricsByEntity(ctx context.Context, runID string) (map[string][]models.ValidationMetric, error) {
	metrics, err := s.ListMetrics(ctx, runID, "")
	if err != nil {
		return nil, err
	}
	grouped := make(map[string][]models.ValidationMetric)
	for _, m := range metrics {
		grouped[m.EntityType] = append(grouped[m.EntityType], m)
	}
	return grouped, nil
}

// GetHistory 获取指定运行与实体的历史快照
func (s *RunStore) GetHistory(ctx context.Context, runID, entityType string) (*models.ValidationHistory, error) {
	var history models.ValidationHistory
	err := s.db.WithContext(ctx).
		Where("run_id = ? AND entity_type = ?", runID, entityType).
		First(&history).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrHistoryNotFound
		}
		return nil, err
	}
	return &history, nil
}

// AppendHistory 追加历史快照；同一运行同一实体已存在时返回已有记录
func (s *RunStore) AppendHistory(ctx context.Context, history *models.ValidationHistory) (*models.ValidationHistory, error) {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "entity_type"}, {Name: "run_id"}},
			DoNothing: true,
		}).
		Create(history)
	if res.Error != nil {
		return nil, &PersistenceError{Op: "append_history", RunID: history.RunID, Err: res.Error}
	}
	if res.RowsAffected == 0 {
		return s.GetHistory(ctx, history.RunID, history.EntityType)
	}
	return history, nil
}

// RecentHistory 实体最近k条历史（不含指定运行），按时间正序返回
func (s *RunStore) RecentHistory(ctx context.Context, entityType string, k int, excludeRunID string) ([]models.ValidationHistory, error) {
	if k <= 0 {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Where("entity_type = ?", entityType)
	if excludeRunID != "" {
		query = query.Where("run_id <> ?", excludeRunID)
	}
	var histories []models.ValidationHistory
	if err := query.Order("created_at DESC").Limit(k).Find(&histories).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(histories)-1; i < j; i, j = i+1, j-1 {
		histories[i], histories[j] = histories[j], histories[i]
	}
	return histories, nil
}

// ListHistory 实体历史，按时间倒序，可限定起始时间
func (s *RunStore) ListHistory(ctx context.Context, entityType string, since time.Time, limit int) ([]models.ValidationHistory, error) {
	query := s.db.WithContext(ctx).Where("entity_type = ?", entityType)
	if !since.IsZero() {
		query = query.Where("created_at >= ?", since)
	}
	_, size := normalizePage(1, limit)
	var histories []models.ValidationHistory
	err := query.Order("created_at DESC").Limit(size).Find(&histories).Error
	return histories, err
}

// LatestHistory 实体最新的历史快照
func (s *RunStore) LatestHistory(ctx context.Context, entityType string) (*models.ValidationHistory, error) {
	var history models.ValidationHistory
	err := s.db.WithContext(ctx).Where("entity_type = ?", entityType).Order("created_at DESC").First(&history).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrHistoryNotFound
		}
		return nil, err
	}
	return &history, nil
}

// PruneRuns 删除早于指定时间的已终结运行及其结果与指标
func (s *RunStore) PruneRuns(ctx context.Context, before time.Time) (int64, error) {
	var deleted int64
	err := WithTransaction(s.db.WithContext(ctx), func(tx *gorm.DB) error {
		stale := tx.Model(&models.ValidationRun{}).
			Select("id").
			Where("started_at < ? AND status <> ?", before, models.RunStatusRunning)

		if err := tx.Where("run_id IN (?)", stale).Delete(&models.ValidationResult{}).Error; err != nil {
			return err
		}
		if err := tx.Where("run_id IN (?)", stale).Delete(&models.ValidationMetric{}).Error; err != nil {
			return err
		}
		res := tx.Where("started_at < ? AND status <> ?", before, models.RunStatusRunning).Delete(&models.ValidationRun{})
		deleted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, &PersistenceError{Op: "prune_runs", Err: err}
	}
	return deleted, nil
}

// PruneHistory 删除早于指定时间的历史快照
func (s *RunStore) PruneHistory(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", before).Delete(&models.ValidationHistory{})
	if res.Error != nil {
		return 0, &PersistenceError{Op: "prune_history", Err: res.Error}
	}
	return res.RowsAffected, nil
}

func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return page, size
}
