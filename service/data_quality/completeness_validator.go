/*
 * @module service/data_quality/completeness_validator
 * @description 字段完整度校验器，计算必填字段的非空比例
 * @architecture 分层架构 - 数据验证层
 * @documentReference ai_docs/validation_engine_design.md
 * @stateFlow 读取本地必填字段 -> 统计缺失 -> 计算完整度 -> 与阈值比较分级
 * @rules 完整度 = (总数-缺失)/总数×100；空值、空串、空白串均为缺失；低于阈值在警告带内为warning，超出为error，完整度为0为critical
 * @dependencies dataquality-service/service/models
 * @refs validator.go, helpers.go
 */

package data_quality

import (
	"context"
	"dataquality-service/service/models"
	"fmt"
	"strconv"
)

// CompletenessValidatorName 完整度校验器名称
const CompletenessValidatorName = "field_completeness"

// CompletenessValidator 字段完整度校验器
type CompletenessValidator struct{}

// NewCompletenessValidator 创建字段完整度校验器
func NewCompletenessValidator() *CompletenessValidator {
	return &CompletenessValidator{}
}

// Name 校验器名称
func (v *CompletenessValidator) Name() string {
	return CompletenessValidatorName
}

// Validate 执行字段完整度校验
func (v *CompletenessValidator) Validate(ctx context.Context, vc *ValidationContext) ([]models.ValidationResult, []models.ValidationMetric, error) {
	entity := vc.Entity
	if len(entity.RequiredFields) == 0 {
		return nil, nil, nil
	}

	records, err := vc.Local.Records(ctx, entity, entity.RequiredFields)
	if err != nil {
		return nil, nil, fmt.Errorf("读取本地记录失败: %w", err)
	}
	total := len(records)

	var results []models.ValidationResult
	var metrics []models.ValidationMetric
	var perField []float64

	if total == 0 {
		results = append(results, vc.NewResult(v.Name(), models.SeverityInfo,
			fmt.Sprintf("实体 %s 本地无记录，完整度按100%%计", entity.Name)))
	}

	for _, field := range entity.RequiredFields {
		missing := 0
		for _, record := range records {
			if isEmpty(record[field]) {
				missing++
			}
		}
		completeness := percent(total-missing, total)
		perField = append(perField, completeness)
		metrics = append(metrics, vc.NewMetric(v.Name(), "completeness_"+field, completeness))

		severity, flagged := CompletenessSeverity(completeness, entity.CompletenessThreshold, entity.CompletenessWarningBand, total)
		if !flagged {
			continue
		}
		result := vc.NewResult(v.Name(), severity,
			fmt.Sprintf("字段 %s 完整度 %.2f%% 低于阈值 %.2f%%，缺失 %d/%d", field, completeness, entity.CompletenessThreshold, missing, total))
		result.FieldName = strPtr(field)
		result.ExpectedValue = strconv.FormatFloat(entity.CompletenessThreshold, 'f', 2, 64)
		result.ActualValue = strconv.FormatFloat(completeness, 'f', 2, 64)
		result.Metadata = models.JSONB{"missing": missing, "total": total}
		results = append(results, result)
	}

	metrics = append(metrics, vc.NewMetric(v.Name(), MetricFieldCompleteness, mean(perField)))
	return results, metrics, nil
}

// CompletenessSeverity 根据阈值与警告带判定严重级别
func CompletenessSeverity(completeness, threshold, warningBand float64, total int) (models.Severity, bool) {
	if completeness >= threshold {
		return "", false
	}
	if completeness == 0 && total > 0 {
		return models.SeverityCritical, true
	}
	if warningBand <= 0 {
		warningBand = 10
	}
	if threshold-completeness <= warningBand {
		return models.SeverityWarning, true
	}
	return models.SeverityError, true
}
