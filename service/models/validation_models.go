/*
 * @module service/models/validation_models
 * @description 数据一致性校验模型，包含校验运行、校验结果、校验指标、质量历史等持久化模型
 * @architecture 数据模型层
 * @documentReference dev_docs/model.md
 * @stateFlow 运行创建(running) -> 校验器执行 -> 结果/指标收集 -> 运行终结(completed/partial/failed) -> 评分 -> 历史快照
 * @rules 运行状态只能前进；completed_at 仅在非running状态下设置；结果与历史只追加不修改
 * @dependencies gorm.io/gorm, github.com/google/uuid
 * @refs service/validation_engine, service/scoring, service/database
 */

package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Row 一条记录（远端或本地），字段名 -> 字段值
type Row map[string]interface{}

// RunMode 校验运行模式
type RunMode string

const (
	RunModeFast     RunMode = "fast"     // 快速检查，默认并发执行
	RunModeSlow     RunMode = "slow"     // 全量检查，默认顺序执行
	RunModeRealtime RunMode = "realtime" // 实时触发
)

// Valid 检查运行模式是否合法
func (m RunMode) Valid() bool {
	switch m {
	case RunModeFast, RunModeSlow, RunModeRealtime:
		return true
	}
	return false
}

// RunStatus 校验运行状态
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusPartial   RunStatus = "partial"
)

// IsFinal 是否为终态
func (s RunStatus) IsFinal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusPartial
}

// Severity 结果严重级别
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Rank 严重级别排序值，数值越大越严重
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 0
	case SeverityWarning:
		return 1
	case SeverityError:
		return 2
	case SeverityCritical:
		return 3
	}
	return -1
}

// Valid 检查严重级别是否合法
func (s Severity) Valid() bool {
	return s.Rank() >= 0
}

// ValidationRun 校验运行记录模型
type ValidationRun struct {
	ID            string           `gorm:"type:varchar(50);primaryKey" json:"id"`
	Mode          RunMode          `gorm:"type:varchar(20);not null;index" json:"mode"`
	Status        RunStatus        `gorm:"type:varchar(20);not null;index" json:"status"`
	StartedAt     time.Time        `gorm:"not null;index" json:"started_at"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
	TotalCount    int              `gorm:"default:0" json:"total_count"`
	PassedCount   int              `gorm:"default:0" json:"passed_count"`
	InfoCount     int              `gorm:"default:0" json:"info_count"`
	WarningCount  int              `gorm:"default:0" json:"warning_count"`
	ErrorCount    int              `gorm:"default:0" json:"error_count"`
	CriticalCount int              `gorm:"default:0" json:"critical_count"`
	TimedOut      bool             `gorm:"default:false" json:"timed_out"`
	TriggeredBy   string           `gorm:"type:varchar(50)" json:"triggered_by"`
	EntityFilter  JSONBStringArray `gorm:"type:jsonb" json:"entity_filter"`
	Metadata      JSONB            `gorm:"type:jsonb" json:"metadata"`
	ErrorMessage  string           `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// TableName 指定表名
func (ValidationRun) TableName() string {
	return "validation_runs"
}

// BeforeCreate 创建前钩子
func (r *ValidationRun) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return nil
}

// TransitionTo 状态迁移，只允许 running -> {completed, failed, partial}
func (r *ValidationRun) TransitionTo(status RunStatus, at time.Time) error {
	if r.Status != RunStatusRunning {
		return fmt.Errorf("运行 %s 状态 %s 不允许迁移到 %s", r.ID, r.Status, status)
	}
	if !status.IsFinal() {
		return fmt.Errorf("目标状态 %s 不是终态", status)
	}
	r.Status = status
	completedAt := at
	r.CompletedAt = &completedAt
	return nil
}

// ApplyCounts 根据结果列表刷新聚合计数
func (r *ValidationRun) ApplyCounts(results []ValidationResult, passed int) {
	r.TotalCount = len(results)
	r.PassedCount = passed
	r.InfoCount, r.WarningCount, r.ErrorCount, r.CriticalCount = 0, 0, 0, 0
	for _, res := range results {
		switch res.Severity {
		case SeverityInfo:
			r.InfoCount++
		case SeverityWarning:
			r.WarningCount++
		case SeverityError:
			r.ErrorCount++
		case SeverityCritical:
			r.CriticalCount++
		}
	}
}

// ValidationResult 校验结果模型（一条发现）
type ValidationResult struct {
	ID            string    `gorm:"type:varchar(50);primaryKey" json:"id"`
	RunID         string    `gorm:"type:varchar(50);not null;index" json:"run_id"`
	EntityType    string    `gorm:"type:varchar(100);not null;index" json:"entity_type"`
	EntityID      *string   `gorm:"type:varchar(100)" json:"entity_id,omitempty"`
	FieldName     *string   `gorm:"type:varchar(100)" json:"field_name,omitempty"`
	Validator     string    `gorm:"type:varchar(50);not null;index" json:"validator"`
	Severity      Severity  `gorm:"type:varchar(20);not null;index" json:"severity"`
	Message       string    `gorm:"type:text;not null" json:"message"`
	ExpectedValue string    `gorm:"type:text" json:"expected_value,omitempty"`
	ActualValue   string    `gorm:"type:text" json:"actual_value,omitempty"`
	Metadata      JSONB     `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// TableName 指定表名
func (ValidationResult) TableName() string {
	return "validation_results"
}

// BeforeCreate 创建前钩子
func (r *ValidationResult) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return nil
}

// ValidationMetric 校验指标模型，(run_id, metric_name, entity_type) 唯一
type ValidationMetric struct {
	ID          string    `gorm:"type:varchar(50);primaryKey" json:"id"`
	RunID       string    `gorm:"type:varchar(50);not null;uniqueIndex:idx_metric_run_name_entity" json:"run_id"`
	MetricName  string    `gorm:"type:varchar(100);not null;uniqueIndex:idx_metric_run_name_entity" json:"metric_name"`
	EntityType  string    `gorm:"type:varchar(100);not null;uniqueIndex:idx_metric_run_name_entity" json:"entity_type"`
	MetricValue float64   `json:"metric_value"`
	Validator   string    `gorm:"type:varchar(50)" json:"validator"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName 指定表名
func (ValidationMetric) TableName() string {
	return "validation_metrics"
}

// BeforeCreate 创建前钩子
func (m *ValidationMetric) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

// MetricKey 指标唯一键
func (m ValidationMetric) MetricKey() string {
	return m.EntityType + "|" + m.MetricName
}

// ValidationHistory 质量历史快照模型，只追加
type ValidationHistory struct {
	ID             string        `gorm:"type:varchar(50);primaryKey" json:"id"`
	EntityType     string        `gorm:"type:varchar(100);not null;uniqueIndex:idx_history_entity_run" json:"entity_type"`
	RunID          string        `gorm:"type:varchar(50);not null;uniqueIndex:idx_history_entity_run" json:"run_id"`
	Score          float64       `json:"score"`
	RollingAverage float64       `json:"rolling_average"`
	RollingStdDev  float64       `json:"rolling_stddev"`
	WindowSize     int           `json:"window_size"`
	Deviation      float64       `json:"deviation"` // 与滚动均值的偏离（标准差倍数）
	IsAnomaly      bool          `gorm:"default:false;index" json:"is_anomaly"`
	AnomalyReason  string        `gorm:"type:text" json:"anomaly_reason,omitempty"`
	CategoryScores JSONBFloatMap `gorm:"type:jsonb" json:"category_scores"`
	CreatedAt      time.Time     `gorm:"index" json:"created_at"`
}

// TableName 指定表名
func (ValidationHistory) TableName() string {
	return "validation_histories"
}

// BeforeCreate 创建前钩子
func (h *ValidationHistory) BeforeCreate(tx *gorm.DB) error {
	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	return nil
}

// RunOutcome 运行结论，区分“无问题”“部分检查未执行”“运行失败”
type RunOutcome string

const (
	OutcomeNoIssues         RunOutcome = "no_issues"
	OutcomeIssuesFound      RunOutcome = "issues_found"
	OutcomeChecksIncomplete RunOutcome = "checks_incomplete"
	OutcomeRunFailed        RunOutcome = "run_failed"
)

// RunSummary 运行摘要，引擎入口返回值
type RunSummary struct {
	RunID            string             `json:"run_id"`
	Mode             RunMode            `json:"mode"`
	Status           RunStatus          `json:"status"`
	Outcome          RunOutcome         `json:"outcome"`
	SeverityCounts   map[Severity]int   `json:"severity_counts"`
	TotalResults     int                `json:"total_results"`
	ValidatorsRun    int                `json:"validators_run"`
	ValidatorsFailed int                `json:"validators_failed"`
	TimedOut         bool               `json:"timed_out"`
	Duration         time.Duration      `json:"duration"`
	Scores           map[string]float64 `json:"scores,omitempty"`
}

// NewRunSummary 根据运行记录构造摘要
func NewRunSummary(run *ValidationRun, validatorsRun, validatorsFailed int) *RunSummary {
	summary := &RunSummary{
		RunID:  run.ID,
		Mode:   run.Mode,
		Status: run.Status,
		SeverityCounts: map[Severity]int{
			SeverityInfo:     run.InfoCount,
			SeverityWarning:  run.WarningCount,
			SeverityError:    run.ErrorCount,
			SeverityCritical: run.CriticalCount,
		},
		TotalResults:     run.TotalCount,
		ValidatorsRun:    validatorsRun,
		ValidatorsFailed: validatorsFailed,
		TimedOut:         run.TimedOut,
	}
	if run.CompletedAt != nil {
		summary.Duration = run.CompletedAt.Sub(run.StartedAt)
	}
	summary.Outcome = summary.deriveOutcome()
	return summary
}

func (s *RunSummary) deriveOutcome() RunOutcome {
	switch {
	case s.Status == RunStatusFailed:
		return OutcomeRunFailed
	case s.Status == RunStatusPartial || s.ValidatorsFailed > 0 || s.TimedOut:
		return OutcomeChecksIncomplete
	case s.SeverityCounts[SeverityWarning]+s.SeverityCounts[SeverityError]+s.SeverityCounts[SeverityCritical] > 0:
		return OutcomeIssuesFound
	default:
		return OutcomeNoIssues
	}
}

// QualityScore 派生的质量评分（不作为原始输入持久化）
type QualityScore struct {
	RunID          string             `json:"run_id"`
	EntityType     string             `json:"entity_type"`
	Score          float64            `json:"score"`
	CategoryScores map[string]float64 `json:"category_scores"`
	TotalWeight    float64            `json:"total_weight"`
}
