/*
 * @module testutil/test_helper
 * @description 测试工具和辅助函数
 * @architecture 测试基础设施 - 提供测试通用工具和数据工厂
 * @documentReference ai_docs/test_plan.md
 * @stateFlow 测试环境初始化 -> 测试数据创建 -> 测试执行 -> 清理资源
 * @rules 提供可重用的测试工具，确保测试环境的一致性
 * @dependencies gorm, sqlite, testify, time
 * @refs service/models
 */

package testutil

import (
	"dataquality-service/service/models"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TestDB 测试数据库配置
type TestDB struct {
	DB *gorm.DB
}

// NewTestDB 创建测试数据库
func NewTestDB() *TestDB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		panic(fmt.Sprintf("failed to connect test database: %v", err))
	}

	// 内存库每个连接独立，固定单连接保证所有查询看到同一份数据
	sqlDB, err := db.DB()
	if err != nil {
		panic(fmt.Sprintf("failed to get sql db: %v", err))
	}
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&models.ValidationRun{},
		&models.ValidationResult{},
		&models.ValidationMetric{},
		&models.ValidationHistory{},
	)
	if err != nil {
		panic(fmt.Sprintf("failed to migrate test database: %v", err))
	}

	return &TestDB{DB: db}
}

// CleanDB 清理数据库
func (tdb *TestDB) CleanDB() {
	tables := []string{
		"validation_results",
		"validation_metrics",
		"validation_histories",
		"validation_runs",
	}

	for _, table := range tables {
		tdb.DB.Exec(fmt.Sprintf("DELETE FROM %s", table))
	}
}

// Close 关闭数据库连接
func (tdb *TestDB) Close() {
	if db, err := tdb.DB.DB(); err == nil {
		db.Close()
	}
}

// TestDataFactory 测试数据工厂
type TestDataFactory struct {
	DB *gorm.DB
}

// NewTestDataFactory 创建测试数据工厂
func NewTestDataFactory(db *gorm.DB) *TestDataFactory {
	return &TestDataFactory{DB: db}
}

// RunOption 运行记录选项函数类型
type RunOption func(*models.ValidationRun)

// WithStatus 设置运行状态
func WithStatus(status models.RunStatus) RunOption {
	return func(r *models.ValidationRun) {
		r.Status = status
		if status.IsFinal() {
			completedAt := r.StartedAt.Add(time.Minute)
			r.CompletedAt = &completedAt
		}
	}
}

// WithStartedAt 设置开始时间
func WithStartedAt(at time.Time) RunOption {
	return func(r *models.ValidationRun) {
		r.StartedAt = at
	}
}

// CreateRun 创建测试校验运行
func (f *TestDataFactory) CreateRun(opts ...RunOption) *models.ValidationRun {
	run := &models.ValidationRun{
		ID:          generateID("run"),
		Mode:        models.RunModeFast,
		Status:      models.RunStatusRunning,
		StartedAt:   time.Now(),
		TriggeredBy: "test",
	}

	for _, opt := range opts {
		opt(run)
	}

	if err := f.DB.Create(run).Error; err != nil {
		panic(fmt.Sprintf("failed to create test run: %v", err))
	}
	return run
}

// CreateHistory 创建测试质量历史
func (f *TestDataFactory) CreateHistory(entityType string, score float64, createdAt time.Time) *models.ValidationHistory {
	history := &models.ValidationHistory{
		ID:         generateID("hist"),
		EntityType: entityType,
		RunID:      generateID("run"),
		Score:      score,
		CreatedAt:  createdAt,
	}
	if err := f.DB.Create(history).Error; err != nil {
		panic(fmt.Sprintf("failed to create test history: %v", err))
	}
	return history
}

// CreateEntityTable 创建本地实体表并写入记录，列不声明类型以保留写入时的存储类型
func (f *TestDataFactory) CreateEntityTable(table string, columns []string, rows []models.Row) {
	quoted := make([]string, 0, len(columns))
	for _, c := range columns {
		quoted = append(quoted, fmt.Sprintf("%q", c))
	}
	ddl := fmt.Sprintf("CREATE TABLE %q (%s)", table, strings.Join(quoted, ", "))
	if err := f.DB.Exec(ddl).Error; err != nil {
		panic(fmt.Sprintf("failed to create entity table %s: %v", table, err))
	}

	for _, row := range rows {
		values := make(map[string]interface{}, len(columns))
		for _, c := range columns {
			values[c] = row[c]
		}
		if err := f.DB.Table(table).Create(values).Error; err != nil {
			panic(fmt.Sprintf("failed to insert into %s: %v", table, err))
		}
	}
}

var idSeq atomic.Int64

// 辅助函数
func generateID(prefix string) string {
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano(), idSeq.Add(1))
}
