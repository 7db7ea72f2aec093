/*
 * @module service/data_quality/format_validator
 * @description 数据类型与格式校验器，按字段检查类型、正则、长度和枚举取值
 * @architecture 分层架构 - 数据验证层
 * @documentReference ai_docs/validation_engine_design.md
 * @stateFlow 读取本地字段 -> NFC规范化 -> 类型/正则/长度/枚举检查 -> 统计准确率 -> 逐条报告违规
 * @rules 空值跳过（由完整度校验负责）；逐条违规受上限约束，超出部分汇总为一条结果
 * @dependencies github.com/spf13/cast, golang.org/x/text/unicode/norm
 * @refs validator.go, helpers.go
 */

package data_quality

import (
	"context"
	"dataquality-service/service/config"
	"dataquality-service/service/models"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/cast"
)

// FormatValidatorName 格式校验器名称
const FormatValidatorName = "data_format"

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// FormatValidator 数据类型与格式校验器
type FormatValidator struct{}

// NewFormatValidator 创建格式校验器
func NewFormatValidator() *FormatValidator {
	return &FormatValidator{}
}

// Name 校验器名称
func (v *FormatValidator) Name() string {
	return FormatValidatorName
}

// Validate 执行格式校验
func (v *FormatValidator) Validate(ctx context.Context, vc *ValidationContext) ([]models.ValidationResult, []models.ValidationMetric, error) {
	entity := vc.Entity
	if len(entity.Formats) == 0 {
		return nil, nil, nil
	}

	fields := []string{entity.KeyField}
	for _, f := range entity.Formats {
		fields = append(fields, f.Field)
	}
	records, err := vc.Local.Records(ctx, entity, fields)
	if err != nil {
		return nil, nil, fmt.Errorf("读取本地记录失败: %w", err)
	}

	var results []models.ValidationResult
	var metrics []models.ValidationMetric
	var accuracies []float64
	limit := vc.maxViolations()

	for _, format := range entity.Formats {
		var pattern *regexp.Regexp
		if format.Pattern != "" {
			pattern, err = regexp.Compile(format.Pattern)
			if err != nil {
				return nil, nil, fmt.Errorf("字段 %s 的正则无效: %w", format.Field, err)
			}
		}

		checked, valid, reported := 0, 0, 0
		for _, record := range records {
			raw := record[format.Field]
			if raw == nil {
				continue
			}
			checked++

			value := normalizedString(raw)
			reason := checkFormat(format, pattern, raw, value)
			if reason == "" {
				valid++
				continue
			}
			if reported < limit {
				result := vc.NewResult(v.Name(), models.SeverityError,
					fmt.Sprintf("字段 %s 格式校验失败: %s", format.Field, reason))
				result.EntityID = strPtr(keyOf(record, entity.KeyField))
				result.FieldName = strPtr(format.Field)
				result.ExpectedValue = describeFormat(format)
				result.ActualValue = value
				results = append(results, result)
			}
			reported++
		}

		if reported > limit {
			result := vc.NewResult(v.Name(), models.SeverityWarning,
				fmt.Sprintf("字段 %s 另有 %d 条格式违规未逐条列出", format.Field, reported-limit))
			result.FieldName = strPtr(format.Field)
			result.Metadata = models.JSONB{"total_violations": reported}
			results = append(results, result)
		}

		accuracy := percent(valid, checked)
		accuracies = append(accuracies, accuracy)
		metrics = append(metrics, vc.NewMetric(v.Name(), "format_accuracy_"+format.Field, accuracy))
	}

	metrics = append(metrics, vc.NewMetric(v.Name(), MetricDataTypeAccuracy, mean(accuracies)))
	return results, metrics, nil
}

// checkFormat 返回首个不满足的约束说明，全部满足时返回空串
func checkFormat(format config.FieldFormat, pattern *regexp.Regexp, raw interface{}, value string) string {
	if reason := checkType(format.Type, raw, value); reason != "" {
		return reason
	}
	if pattern != nil && !pattern.MatchString(value) {
		return fmt.Sprintf("不匹配模式 %s", format.Pattern)
	}
	length := utf8.RuneCountInString(value)
	if format.MinLength > 0 && length < format.MinLength {
		return fmt.Sprintf("长度 %d 小于最小长度 %d", length, format.MinLength)
	}
	if format.MaxLength > 0 && length > format.MaxLength {
		return fmt.Sprintf("长度 %d 超过最大长度 %d", length, format.MaxLength)
	}
	if len(format.Enum) > 0 {
		for _, allowed := range format.Enum {
			if value == normalizedString(allowed) {
				return ""
			}
		}
		return fmt.Sprintf("取值 %s 不在枚举范围内", value)
	}
	return ""
}

func checkType(typ string, raw interface{}, value string) string {
	switch strings.ToLower(typ) {
	case "", "string":
		return ""
	case "int", "integer":
		switch n := raw.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return ""
		case float64:
			if n == math.Trunc(n) {
				return ""
			}
		case float32:
			if float64(n) == math.Trunc(float64(n)) {
				return ""
			}
		default:
			if _, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
				return ""
			}
		}
		return "不是整数"
	case "float", "number", "decimal":
		if _, err := cast.ToFloat64E(strings.TrimSpace(value)); err == nil {
			return ""
		}
		return "不是数值"
	case "bool", "boolean":
		if _, err := cast.ToBoolE(raw); err == nil {
			return ""
		}
		return "不是布尔值"
	case "date", "datetime", "timestamp":
		if _, ok := raw.(time.Time); ok {
			return ""
		}
		if _, err := cast.ToTimeE(strings.TrimSpace(value)); err == nil {
			return ""
		}
		return "不是有效日期"
	case "email":
		if emailPattern.MatchString(value) {
			return ""
		}
		return "不是有效邮箱"
	}
	return fmt.Sprintf("未知类型 %s", typ)
}

func describeFormat(format config.FieldFormat) string {
	var parts []string
	if format.Type != "" {
		parts = append(parts, "type="+format.Type)
	}
	if format.Pattern != "" {
		parts = append(parts, "pattern="+format.Pattern)
	}
	if format.MinLength > 0 || format.MaxLength > 0 {
		parts = append(parts, fmt.Sprintf("length=[%d,%d]", format.MinLength, format.MaxLength))
	}
	if len(format.Enum) > 0 {
		parts = append(parts, "enum="+strings.Join(format.Enum, "|"))
	}
	return strings.Join(parts, "; ")
}
