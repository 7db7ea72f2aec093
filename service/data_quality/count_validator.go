/*
 * @module service/data_quality/count_validator
 * @description 数量校验器，比较远端权威数据源与本地数据存储的记录数
 * @architecture 分层架构 - 数据验证层
 * @documentReference ai_docs/validation_engine_design.md
 * @stateFlow 远端计数(走缓存) -> 本地计数 -> 计算差异百分比 -> 按容差分级
 * @rules 差异 > T 标记；差异 > T×倍数 为error，否则warning；远端为0且本地非0视为100%差异
 * @dependencies dataquality-service/client
 * @refs validator.go
 */

package data_quality

import (
	"context"
	"dataquality-service/client"
	"dataquality-service/service/models"
	"fmt"
	"math"
	"strconv"
)

// CountValidatorName 数量校验器名称
const CountValidatorName = "count"

// CountValidator 数量校验器
type CountValidator struct{}

// NewCountValidator 创建数量校验器
func NewCountValidator() *CountValidator {
	return &CountValidator{}
}

// Name 校验器名称
func (v *CountValidator) Name() string {
	return CountValidatorName
}

// Validate 执行数量校验
func (v *CountValidator) Validate(ctx context.Context, vc *ValidationContext) ([]models.ValidationResult, []models.ValidationMetric, error) {
	entity := vc.Entity

	rows, err := vc.Remote.Query(ctx, client.QuerySpec{
		Resource:  entity.RemoteResource,
		Filters:   entity.RemoteFilter,
		CountOnly: true,
		UseCache:  true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("查询远端数量失败: %w", err)
	}
	remote, ok := client.RowCount(rows)
	if !ok {
		return nil, nil, &client.MalformedResponseError{Resource: entity.RemoteResource, Err: fmt.Errorf("计数结果缺失")}
	}

	local, err := vc.Local.Count(ctx, entity)
	if err != nil {
		return nil, nil, fmt.Errorf("查询本地数量失败: %w", err)
	}

	diffPct := CountDiffPct(remote, local)
	metrics := []models.ValidationMetric{
		vc.NewMetric(v.Name(), MetricRemoteCount, float64(remote)),
		vc.NewMetric(v.Name(), MetricLocalCount, float64(local)),
		vc.NewMetric(v.Name(), MetricCountDiffPct, diffPct),
		vc.NewMetric(v.Name(), MetricCountMatchPct, clampPct(100-diffPct)),
	}

	severity, flagged := CountSeverity(diffPct, entity.CountTolerancePct, entity.CountErrorMultiplier)
	if !flagged {
		return nil, metrics, nil
	}

	result := vc.NewResult(v.Name(), severity,
		fmt.Sprintf("实体 %s 远端与本地记录数不一致，差异 %.2f%% 超过容差 %.2f%%", entity.Name, diffPct, entity.CountTolerancePct))
	result.ExpectedValue = strconv.FormatInt(remote, 10)
	result.ActualValue = strconv.FormatInt(local, 10)
	result.Metadata = models.JSONB{
		"diff_pct":      diffPct,
		"tolerance_pct": entity.CountTolerancePct,
		"difference":    local - remote,
	}
	return []models.ValidationResult{result}, metrics, nil
}

// CountDiffPct 差异百分比 |R-L|/R*100；R=0时本地为0视为无差异，否则视为100%
func CountDiffPct(remote, local int64) float64 {
	if remote == 0 {
		if local == 0 {
			return 0
		}
		return 100
	}
	return math.Abs(float64(remote-local)) * 100 / float64(remote)
}

// CountSeverity 根据容差判定是否标记及严重级别
func CountSeverity(diffPct, tolerancePct, errorMultiplier float64) (models.Severity, bool) {
	if diffPct <= tolerancePct {
		return "", false
	}
	if errorMultiplier <= 0 {
		errorMultiplier = 2
	}
	if diffPct > tolerancePct*errorMultiplier {
		return models.SeverityError, true
	}
	return models.SeverityWarning, true
}
