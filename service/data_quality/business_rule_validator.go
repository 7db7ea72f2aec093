/*
 * @module service/data_quality/business_rule_validator
 * @description 业务规则校验器，解释配置中的规则定义并逐条评估实体记录
 * @architecture 解释器模式 - 规则即数据
 * @documentReference ai_docs/validation_engine_design.md
 * @stateFlow 读取实体记录 -> 按规则类型评估 -> 统计通过率 -> 违规按规则声明的严重级别报告
 * @rules 合规率只由本实体自身的记录与规则计算；缺少取值的记录不参与该规则评估；新增规则类型只扩展解释器词汇
 * @dependencies github.com/spf13/cast, golang.org/x/text/unicode/norm
 * @refs validator.go, service/config/engine_config.go
 */

package data_quality

import (
	"context"
	"dataquality-service/service/config"
	"dataquality-service/service/models"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// BusinessRuleValidatorName 业务规则校验器名称
const BusinessRuleValidatorName = "business_rule"

// ruleOutcome 单次规则评估结果
type ruleOutcome struct {
	entityID string
	passed   bool
	message  string
	actual   string
}

// ruleEvaluator 规则评估函数，返回本实体记录上的全部评估结果
type ruleEvaluator func(rule config.RuleSpec, records []models.Row, keyField string, now time.Time) ([]ruleOutcome, error)

// BusinessRuleValidator 业务规则校验器
type BusinessRuleValidator struct {
	evaluators map[string]ruleEvaluator
	now        func() time.Time
}

// NewBusinessRuleValidator 创建业务规则校验器
func NewBusinessRuleValidator() *BusinessRuleValidator {
	return &BusinessRuleValidator{
		evaluators: map[string]ruleEvaluator{
			config.RuleKindStatusTransition: evaluateStatusTransition,
			config.RuleKindDateRange:        evaluateDateRange,
			config.RuleKindCapacity:         evaluateCapacity,
			config.RuleKindCrossField:       evaluateCrossField,
			config.RuleKindNamingPattern:    evaluateNamingPattern,
		},
		now: time.Now,
	}
}

// Name 校验器名称
func (v *BusinessRuleValidator) Name() string {
	return BusinessRuleValidatorName
}

// Validate 执行业务规则校验
func (v *BusinessRuleValidator) Validate(ctx context.Context, vc *ValidationContext) ([]models.ValidationResult, []models.ValidationMetric, error) {
	entity := vc.Entity
	if len(entity.Rules) == 0 {
		return nil, nil, nil
	}

	records, err := vc.Local.Records(ctx, entity, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("读取本地记录失败: %w", err)
	}

	var results []models.ValidationResult
	var metrics []models.ValidationMetric
	passedTotal, evaluatedTotal := 0, 0
	limit := vc.maxViolations()
	now := v.now()

	for _, rule := range entity.Rules {
		evaluate, ok := v.evaluators[rule.Kind]
		if !ok {
			return nil, nil, fmt.Errorf("业务规则 %s 类型不受支持: %s", rule.Name, rule.Kind)
		}
		outcomes, err := evaluate(rule, records, entity.KeyField, now)
		if err != nil {
			return nil, nil, fmt.Errorf("业务规则 %s 参数无效: %w", rule.Name, err)
		}

		passed, failed := 0, 0
		for _, outcome := range outcomes {
			if outcome.passed {
				passed++
				continue
			}
			if failed < limit {
				result := vc.NewResult(v.Name(), models.Severity(rule.Severity),
					fmt.Sprintf("业务规则 %s 未通过: %s", rule.Name, outcome.message))
				if outcome.entityID != "" {
					result.EntityID = strPtr(outcome.entityID)
				}
				if field := cast.ToString(rule.Params["field"]); field != "" {
					result.FieldName = strPtr(field)
				}
				result.ActualValue = outcome.actual
				result.Metadata = models.JSONB{"rule": rule.Name, "kind": rule.Kind}
				results = append(results, result)
			}
			failed++
		}
		if failed > limit {
			result := vc.NewResult(v.Name(), models.Severity(rule.Severity),
				fmt.Sprintf("业务规则 %s 另有 %d 条违规未逐条列出", rule.Name, failed-limit))
			result.Metadata = models.JSONB{"rule": rule.Name, "kind": rule.Kind, "total_violations": failed}
			results = append(results, result)
		}

		passedTotal += passed
		evaluatedTotal += len(outcomes)
		metrics = append(metrics, vc.NewMetric(v.Name(), "rule_compliance_"+rule.Name, percent(passed, len(outcomes))))
	}

	metrics = append(metrics, vc.NewMetric(v.Name(), MetricBusinessRuleCompliance, percent(passedTotal, evaluatedTotal)))
	return results, metrics, nil
}

// evaluateStatusTransition 状态流转合法性
// params: field, from_field(可选), transitions{from: [to...]}, initial([...] 可选)
func evaluateStatusTransition(rule config.RuleSpec, records []models.Row, keyField string, _ time.Time) ([]ruleOutcome, error) {
	field := cast.ToString(rule.Params["field"])
	if field == "" {
		return nil, fmt.Errorf("缺少参数 field")
	}
	fromField := cast.ToString(rule.Params["from_field"])

	transitions := make(map[string]map[string]bool)
	known := make(map[string]bool)
	for from, targets := range cast.ToStringMap(rule.Params["transitions"]) {
		known[from] = true
		transitions[from] = make(map[string]bool)
		for _, to := range cast.ToStringSlice(targets) {
			transitions[from][to] = true
			known[to] = true
		}
	}
	if len(transitions) == 0 {
		return nil, fmt.Errorf("缺少参数 transitions")
	}
	initial := make(map[string]bool)
	for _, s := range cast.ToStringSlice(rule.Params["initial"]) {
		initial[s] = true
	}

	var outcomes []ruleOutcome
	for _, record := range records {
		if isEmpty(record[field]) {
			continue
		}
		current := normalizedString(record[field])
		outcome := ruleOutcome{entityID: keyOf(record, keyField), actual: current}

		var previous string
		if fromField != "" && !isEmpty(record[fromField]) {
			previous = normalizedString(record[fromField])
		}

		switch {
		case previous != "":
			outcome.passed = previous == current || transitions[previous][current]
			outcome.actual = previous + " -> " + current
			outcome.message = fmt.Sprintf("状态不允许从 %s 流转到 %s", previous, current)
		case len(initial) > 0:
			outcome.passed = initial[current]
			outcome.message = fmt.Sprintf("状态 %s 不是合法的初始状态", current)
		default:
			outcome.passed = known[current]
			outcome.message = fmt.Sprintf("状态 %s 未在状态机中定义", current)
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

// evaluateDateRange 日期范围合理性
// params: start_field, end_field(可选), min(可选), max(可选, 支持now), allow_equal(默认true)
func evaluateDateRange(rule config.RuleSpec, records []models.Row, keyField string, now time.Time) ([]ruleOutcome, error) {
	startField := cast.ToString(rule.Params["start_field"])
	if startField == "" {
		return nil, fmt.Errorf("缺少参数 start_field")
	}
	endField := cast.ToString(rule.Params["end_field"])
	allowEqual := true
	if v, ok := rule.Params["allow_equal"]; ok {
		allowEqual = cast.ToBool(v)
	}
	minBound, err := parseBound(rule.Params["min"], now)
	if err != nil {
		return nil, fmt.Errorf("参数 min 无效: %w", err)
	}
	maxBound, err := parseBound(rule.Params["max"], now)
	if err != nil {
		return nil, fmt.Errorf("参数 max 无效: %w", err)
	}

	var outcomes []ruleOutcome
	for _, record := range records {
		if isEmpty(record[startField]) {
			continue
		}
		outcome := ruleOutcome{entityID: keyOf(record, keyField), passed: true, actual: cast.ToString(record[startField])}
		start, err := cast.ToTimeE(record[startField])
		if err != nil {
			outcome.passed = false
			outcome.message = fmt.Sprintf("字段 %s 不是有效日期", startField)
			outcomes = append(outcomes, outcome)
			continue
		}

		switch {
		case minBound != nil && start.Before(*minBound):
			outcome.passed = false
			outcome.message = fmt.Sprintf("%s 早于下限 %s", startField, minBound.Format(time.RFC3339))
		case maxBound != nil && start.After(*maxBound):
			outcome.passed = false
			outcome.message = fmt.Sprintf("%s 晚于上限 %s", startField, maxBound.Format(time.RFC3339))
		case endField != "" && !isEmpty(record[endField]):
			end, err := cast.ToTimeE(record[endField])
			if err != nil {
				outcome.passed = false
				outcome.message = fmt.Sprintf("字段 %s 不是有效日期", endField)
				break
			}
			outcome.actual = fmt.Sprintf("%s ~ %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
			if end.Before(start) || (!allowEqual && end.Equal(start)) {
				outcome.passed = false
				outcome.message = fmt.Sprintf("%s 早于 %s", endField, startField)
			}
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

func parseBound(v interface{}, now time.Time) (*time.Time, error) {
	if v == nil {
		return nil, nil
	}
	if s, ok := v.(string); ok && strings.EqualFold(strings.TrimSpace(s), "now") {
		return &now, nil
	}
	t, err := cast.ToTimeE(v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// evaluateCapacity 容量限制
// params: field 与 max/min/max_field（逐条数值上限），或 group_by 与 max_per_group（分组计数上限）
func evaluateCapacity(rule config.RuleSpec, records []models.Row, keyField string, _ time.Time) ([]ruleOutcome, error) {
	if groupBy := cast.ToString(rule.Params["group_by"]); groupBy != "" {
		maxPerGroup, err := cast.ToIntE(rule.Params["max_per_group"])
		if err != nil || maxPerGroup <= 0 {
			return nil, fmt.Errorf("分组容量规则需要正整数参数 max_per_group")
		}
		counts := make(map[string]int)
		var order []string
		for _, record := range records {
			if isEmpty(record[groupBy]) {
				continue
			}
			group := normalizedString(record[groupBy])
			if counts[group] == 0 {
				order = append(order, group)
			}
			counts[group]++
		}
		outcomes := make([]ruleOutcome, 0, len(order))
		for _, group := range order {
			outcomes = append(outcomes, ruleOutcome{
				entityID: group,
				passed:   counts[group] <= maxPerGroup,
				actual:   cast.ToString(counts[group]),
				message:  fmt.Sprintf("%s=%s 的记录数 %d 超过上限 %d", groupBy, group, counts[group], maxPerGroup),
			})
		}
		return outcomes, nil
	}

	field := cast.ToString(rule.Params["field"])
	if field == "" {
		return nil, fmt.Errorf("缺少参数 field 或 group_by")
	}
	maxField := cast.ToString(rule.Params["max_field"])
	_, hasMax := rule.Params["max"]
	_, hasMin := rule.Params["min"]
	if !hasMax && !hasMin && maxField == "" {
		return nil, fmt.Errorf("容量规则需要 max、min 或 max_field")
	}
	maxValue := cast.ToFloat64(rule.Params["max"])
	minValue := cast.ToFloat64(rule.Params["min"])

	var outcomes []ruleOutcome
	for _, record := range records {
		if isEmpty(record[field]) {
			continue
		}
		outcome := ruleOutcome{entityID: keyOf(record, keyField), passed: true, actual: cast.ToString(record[field])}
		value, err := cast.ToFloat64E(record[field])
		if err != nil {
			outcome.passed = false
			outcome.message = fmt.Sprintf("字段 %s 不是数值", field)
			outcomes = append(outcomes, outcome)
			continue
		}

		limit, hasLimit := maxValue, hasMax
		if maxField != "" && !isEmpty(record[maxField]) {
			if v, err := cast.ToFloat64E(record[maxField]); err == nil {
				limit, hasLimit = v, true
			}
		}
		switch {
		case hasLimit && value > limit:
			outcome.passed = false
			outcome.message = fmt.Sprintf("%s=%v 超过上限 %v", field, value, limit)
		case hasMin && value < minValue:
			outcome.passed = false
			outcome.message = fmt.Sprintf("%s=%v 低于下限 %v", field, value, minValue)
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

// evaluateCrossField 跨字段一致性
// params: field, operator(eq|ne|lt|lte|gt|gte|required), other_field 或 value, when_field/when_value(可选前置条件)
func evaluateCrossField(rule config.RuleSpec, records []models.Row, keyField string, _ time.Time) ([]ruleOutcome, error) {
	field := cast.ToString(rule.Params["field"])
	operator := strings.ToLower(cast.ToString(rule.Params["operator"]))
	otherField := cast.ToString(rule.Params["other_field"])
	constant, hasConstant := rule.Params["value"]
	whenField := cast.ToString(rule.Params["when_field"])
	whenValue := cast.ToString(rule.Params["when_value"])

	if field == "" || operator == "" {
		return nil, fmt.Errorf("缺少参数 field 或 operator")
	}
	if operator != "required" && otherField == "" && !hasConstant {
		return nil, fmt.Errorf("操作符 %s 需要 other_field 或 value", operator)
	}

	var outcomes []ruleOutcome
	for _, record := range records {
		if whenField != "" && normalizedString(record[whenField]) != normalizedString(whenValue) {
			continue
		}
		outcome := ruleOutcome{entityID: keyOf(record, keyField), actual: cast.ToString(record[field])}

		if operator == "required" {
			outcome.passed = !isEmpty(record[field])
			outcome.message = fmt.Sprintf("%s=%s 时字段 %s 必须有值", whenField, whenValue, field)
			outcomes = append(outcomes, outcome)
			continue
		}

		left := record[field]
		right := constant
		if otherField != "" {
			right = record[otherField]
		}
		if isEmpty(left) || isEmpty(right) {
			continue
		}

		passed, err := compareValues(left, right, operator)
		if err != nil {
			return nil, err
		}
		outcome.passed = passed
		outcome.actual = fmt.Sprintf("%v %s %v", left, operator, right)
		outcome.message = fmt.Sprintf("不满足 %s %s %s", field, operator, describeOperand(otherField, right))
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

func describeOperand(otherField string, value interface{}) string {
	if otherField != "" {
		return otherField
	}
	return cast.ToString(value)
}

// compareValues 依次尝试数值、时间、字符串比较
func compareValues(left, right interface{}, operator string) (bool, error) {
	var cmp int
	lf, errL := cast.ToFloat64E(left)
	rf, errR := cast.ToFloat64E(right)
	if errL == nil && errR == nil {
		cmp = compareOrdered(lf, rf)
	} else if lt, errL := cast.ToTimeE(left); errL == nil {
		if rt, errR := cast.ToTimeE(right); errR == nil {
			cmp = lt.Compare(rt)
		} else {
			cmp = strings.Compare(normalizedString(left), normalizedString(right))
		}
	} else {
		cmp = strings.Compare(normalizedString(left), normalizedString(right))
	}

	switch operator {
	case "eq":
		return cmp == 0, nil
	case "ne":
		return cmp != 0, nil
	case "lt":
		return cmp < 0, nil
	case "lte":
		return cmp <= 0, nil
	case "gt":
		return cmp > 0, nil
	case "gte":
		return cmp >= 0, nil
	}
	return false, fmt.Errorf("不支持的操作符 %s", operator)
}

func compareOrdered(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// evaluateNamingPattern 命名规范
// params: field, pattern, case(upper|lower 可选)
func evaluateNamingPattern(rule config.RuleSpec, records []models.Row, keyField string, _ time.Time) ([]ruleOutcome, error) {
	field := cast.ToString(rule.Params["field"])
	if field == "" {
		return nil, fmt.Errorf("缺少参数 field")
	}
	var pattern *regexp.Regexp
	if p := cast.ToString(rule.Params["pattern"]); p != "" {
		var err error
		if pattern, err = regexp.Compile(p); err != nil {
			return nil, fmt.Errorf("参数 pattern 无效: %w", err)
		}
	}
	letterCase := strings.ToLower(cast.ToString(rule.Params["case"]))
	if pattern == nil && letterCase == "" {
		return nil, fmt.Errorf("命名规则需要 pattern 或 case")
	}

	var outcomes []ruleOutcome
	for _, record := range records {
		if isEmpty(record[field]) {
			continue
		}
		name := normalizedString(record[field])
		outcome := ruleOutcome{entityID: keyOf(record, keyField), passed: true, actual: name}
		switch {
		case pattern != nil && !pattern.MatchString(name):
			outcome.passed = false
			outcome.message = fmt.Sprintf("名称 %s 不符合模式 %s", name, pattern.String())
		case letterCase == "upper" && name != strings.ToUpper(name):
			outcome.passed = false
			outcome.message = fmt.Sprintf("名称 %s 必须全部大写", name)
		case letterCase == "lower" && name != strings.ToLower(name):
			outcome.passed = false
			outcome.message = fmt.Sprintf("名称 %s 必须全部小写", name)
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}
