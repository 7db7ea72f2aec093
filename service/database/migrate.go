/*
 * @module service/database/migrate
 * @description 数据库迁移模块，负责创建和更新校验相关表结构
 * @architecture 数据访问层 - 迁移管理
 * @documentReference dev_docs/model.md
 * @stateFlow 应用启动时执行数据库迁移
 * @rules 确保数据库结构与模型定义保持一致
 * @dependencies dataquality-service/service/models, gorm.io/gorm
 * @refs service/models/validation_models.go
 */

package database

import (
	"dataquality-service/service/models"
	"log/slog"

	"gorm.io/gorm"
)

// AutoMigrate 自动迁移数据库表结构
func AutoMigrate(db *gorm.DB) error {
	slog.Info("开始数据库迁移...")

	// 运行与结果
	err := db.AutoMigrate(
		&models.ValidationRun{},
		&models.ValidationResult{},
		&models.ValidationMetric{},
	)
	if err != nil {
		return err
	}

	// 质量历史
	if err := db.AutoMigrate(&models.ValidationHistory{}); err != nil {
		return err
	}

	slog.Info("数据库迁移完成")
	return nil
}
