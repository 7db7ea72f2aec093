/*
 * @module service/monitoring/metrics_collector
 * @description 指标收集器，基于持久化的校验运行记录统计运行成功率、平均耗时和严重级别分布
 * @architecture 分层架构 - 业务服务层
 * @documentReference ai_docs/validation_engine_metrics.md
 * @stateFlow 解析时间范围 -> 查询运行记录 -> 计算聚合
 * @rules 只读统计，不修改运行记录
 * @dependencies dataquality-service/service/models, gorm.io/gorm
 * @refs prometheus.go, api/controllers/health_controller.go
 */

package monitoring

import (
	"dataquality-service/service/models"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// MetricsCollector 指标收集器
type MetricsCollector struct {
	db *gorm.DB
}

// RunStatistics 校验运行统计
type RunStatistics struct {
	Timestamp       time.Time                  `json:"timestamp"`
	TimeRange       string                     `json:"time_range"`
	TotalRuns       int64                      `json:"total_runs"`
	RunningRuns     int64                      `json:"running_runs"`
	CompletedRuns   int64                      `json:"completed_runs"`
	PartialRuns     int64                      `json:"partial_runs"`
	FailedRuns      int64                      `json:"failed_runs"`
	TimedOutRuns    int64                      `json:"timed_out_runs"`
	SuccessRate     float64                    `json:"success_rate"`      // completed / 已结束运行
	AvgDurationSecs float64                    `json:"avg_duration_secs"` // 已结束运行的平均耗时
	SeverityTotals  map[models.Severity]int64  `json:"severity_totals"`
	AnomalyCount    int64                      `json:"anomaly_count"`
	ModeBreakdown   map[models.RunMode]int64   `json:"mode_breakdown"`
}

// NewMetricsCollector 创建指标收集器
func NewMetricsCollector(db *gorm.DB) *MetricsCollector {
	return &MetricsCollector{db: db}
}

// CollectRunStatistics 收集指定时间范围内的运行统计
func (c *MetricsCollector) CollectRunStatistics(timeRange string) (*RunStatistics, error) {
	startTime := c.parseTimeRange(timeRange)

	var runs []models.ValidationRun
	if err := c.db.Where("started_at >= ?", startTime).Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("查询运行记录失败: %w", err)
	}

	stats := &RunStatistics{
		Timestamp:      time.Now(),
		TimeRange:      timeRange,
		TotalRuns:      int64(len(runs)),
		SeverityTotals: make(map[models.Severity]int64),
		ModeBreakdown:  make(map[models.RunMode]int64),
	}

	var finished int64
	var totalDuration time.Duration
	for _, run := range runs {
		stats.ModeBreakdown[run.Mode]++
		switch run.Status {
		case models.RunStatusRunning:
			stats.RunningRuns++
		case models.RunStatusCompleted:
			stats.CompletedRuns++
		case models.RunStatusPartial:
			stats.PartialRuns++
		case models.RunStatusFailed:
			stats.FailedRuns++
		}
		if run.TimedOut {
			stats.TimedOutRuns++
		}
		stats.SeverityTotals[models.SeverityInfo] += int64(run.InfoCount)
		stats.SeverityTotals[models.SeverityWarning] += int64(run.WarningCount)
		stats.SeverityTotals[models.SeverityError] += int64(run.ErrorCount)
		stats.SeverityTotals[models.SeverityCritical] += int64(run.CriticalCount)

		if run.CompletedAt != nil {
			finished++
			totalDuration += run.CompletedAt.Sub(run.StartedAt)
		}
	}

	if finished > 0 {
		stats.SuccessRate = float64(stats.CompletedRuns) / float64(finished) * 100
		stats.AvgDurationSecs = totalDuration.Seconds() / float64(finished)
	}

	if err := c.db.Model(&models.ValidationHistory{}).
		Where("created_at >= ? AND is_anomaly = ?", startTime, true).
		Count(&stats.AnomalyCount).Error; err != nil {
		return nil, fmt.Errorf("统计异常记录失败: %w", err)
	}

	return stats, nil
}

// 解析时间范围
func (c *MetricsCollector) parseTimeRange(timeRange string) time.Time {
	now := time.Now()

	switch timeRange {
	case "1h":
		return now.Add(-1 * time.Hour)
	case "24h":
		return now.Add(-24 * time.Hour)
	case "7d":
		return now.Add(-7 * 24 * time.Hour)
	case "30d":
		return now.Add(-30 * 24 * time.Hour)
	default:
		return now.Add(-24 * time.Hour) // 默认24小时
	}
}
