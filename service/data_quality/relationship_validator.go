/*
 * @module service/data_quality/relationship_validator
 * @description 关联完整性校验器，检测孤儿记录、悬空引用和循环引用，并统计可选关联完整度
 * @architecture 分层架构 - 数据验证层
 * @documentReference ai_docs/validation_engine_design.md
 * @stateFlow 读取本实体关联字段 -> 读取目标实体主键集合 -> 检查每条关联 -> 自引用关系做环检测
 * @rules 必需关联缺失或悬空为error；可选关联悬空为warning；自引用与环为warning；每个环只报告一次
 * @dependencies dataquality-service/service/config
 * @refs validator.go
 */

package data_quality

import (
	"context"
	"dataquality-service/service/config"
	"dataquality-service/service/models"
	"fmt"
	"sort"
	"strings"
)

// RelationshipValidatorName 关联完整性校验器名称
const RelationshipValidatorName = "relationship_integrity"

// RelationshipValidator 关联完整性校验器
type RelationshipValidator struct{}

// NewRelationshipValidator 创建关联完整性校验器
func NewRelationshipValidator() *RelationshipValidator {
	return &RelationshipValidator{}
}

// Name 校验器名称
func (v *RelationshipValidator) Name() string {
	return RelationshipValidatorName
}

// Validate 执行关联完整性校验
func (v *RelationshipValidator) Validate(ctx context.Context, vc *ValidationContext) ([]models.ValidationResult, []models.ValidationMetric, error) {
	entity := vc.Entity
	if len(entity.Relationships) == 0 {
		return nil, nil, nil
	}

	fields := []string{entity.KeyField}
	for _, rel := range entity.Relationships {
		fields = append(fields, rel.Field)
	}
	records, err := vc.Local.Records(ctx, entity, fields)
	if err != nil {
		return nil, nil, fmt.Errorf("读取本地记录失败: %w", err)
	}

	targetKeys := make(map[string]map[string]bool)
	var results []models.ValidationResult
	var metrics []models.ValidationMetric
	validLinks, totalLinks := 0, 0
	limit := vc.maxViolations()

	for _, rel := range entity.Relationships {
		keys, err := v.loadTargetKeys(ctx, vc, rel, targetKeys)
		if err != nil {
			return nil, nil, err
		}

		present, reported := 0, 0
		for _, record := range records {
			value := record[rel.Field]
			id := keyOf(record, entity.KeyField)

			if isEmpty(value) {
				if rel.Required {
					totalLinks++
					if reported < limit {
						results = append(results, v.linkResult(vc, rel, id, "", models.SeverityError,
							fmt.Sprintf("记录 %s 缺少必需关联 %s", id, rel.Name)))
					}
					reported++
				}
				continue
			}

			present++
			totalLinks++
			ref := normalizedString(value)
			if keys[ref] {
				validLinks++
				continue
			}

			severity := models.SeverityWarning
			if rel.Required {
				severity = models.SeverityError
			}
			if reported < limit {
				results = append(results, v.linkResult(vc, rel, id, ref, severity,
					fmt.Sprintf("记录 %s 的关联 %s 指向不存在的 %s.%s=%s", id, rel.Name, rel.TargetEntity, rel.TargetKey, ref)))
			}
			reported++
		}

		if reported > limit {
			result := vc.NewResult(v.Name(), models.SeverityWarning,
				fmt.Sprintf("关联 %s 另有 %d 条问题未逐条列出", rel.Name, reported-limit))
			result.FieldName = strPtr(rel.Field)
			results = append(results, result)
		}
		if !rel.Required {
			metrics = append(metrics, vc.NewMetric(v.Name(), "relationship_completeness_"+rel.Name, percent(present, len(records))))
		}

		if rel.TargetEntity == entity.Name {
			results = append(results, v.detectCycles(vc, rel, records)...)
		}
	}

	metrics = append(metrics, vc.NewMetric(v.Name(), MetricRelationshipIntegrity, percent(validLinks, totalLinks)))
	return results, metrics, nil
}

func (v *RelationshipValidator) loadTargetKeys(ctx context.Context, vc *ValidationContext, rel config.RelationshipSpec, cache map[string]map[string]bool) (map[string]bool, error) {
	cacheKey := rel.TargetEntity + "." + rel.TargetKey
	if keys, ok := cache[cacheKey]; ok {
		return keys, nil
	}

	target, ok := vc.Config.Entity(rel.TargetEntity)
	if !ok {
		return nil, fmt.Errorf("关联 %s 的目标实体 %s 未配置", rel.Name, rel.TargetEntity)
	}
	rows, err := vc.Local.Records(ctx, target, []string{rel.TargetKey})
	if err != nil {
		return nil, fmt.Errorf("读取目标实体 %s 失败: %w", rel.TargetEntity, err)
	}

	keys := make(map[string]bool, len(rows))
	for _, row := range rows {
		if !isEmpty(row[rel.TargetKey]) {
			keys[normalizedString(row[rel.TargetKey])] = true
		}
	}
	cache[cacheKey] = keys
	return keys, nil
}

func (v *RelationshipValidator) linkResult(vc *ValidationContext, rel config.RelationshipSpec, id, ref string, severity models.Severity, message string) models.ValidationResult {
	result := vc.NewResult(v.Name(), severity, message)
	result.EntityID = strPtr(id)
	result.FieldName = strPtr(rel.Field)
	result.ExpectedValue = rel.TargetEntity + "." + rel.TargetKey
	result.ActualValue = ref
	result.Metadata = models.JSONB{"relationship": rel.Name, "required": rel.Required}
	return result
}

// detectCycles 自引用关系的环检测（三色DFS），自引用单独报告
func (v *RelationshipValidator) detectCycles(vc *ValidationContext, rel config.RelationshipSpec, records []models.Row) []models.ValidationResult {
	keyField := vc.Entity.KeyField
	parent := make(map[string]string, len(records))
	var results []models.ValidationResult

	for _, record := range records {
		id := keyOf(record, keyField)
		if isEmpty(record[rel.Field]) || id == "" {
			continue
		}
		ref := normalizedString(record[rel.Field])
		if ref == id {
			result := vc.NewResult(v.Name(), models.SeverityWarning,
				fmt.Sprintf("记录 %s 的关联 %s 引用自身", id, rel.Name))
			result.EntityID = strPtr(id)
			result.FieldName = strPtr(rel.Field)
			result.Metadata = models.JSONB{"relationship": rel.Name, "cycle": []string{id}}
			results = append(results, result)
			continue
		}
		parent[id] = ref
	}

	for _, cycle := range FindCycles(parent) {
		result := vc.NewResult(v.Name(), models.SeverityWarning,
			fmt.Sprintf("关联 %s 存在循环引用: %s", rel.Name, strings.Join(append(cycle, cycle[0]), " -> ")))
		result.EntityID = strPtr(cycle[0])
		result.FieldName = strPtr(rel.Field)
		result.Metadata = models.JSONB{"relationship": rel.Name, "cycle": cycle}
		results = append(results, result)
	}
	return results
}

// FindCycles 在 子->父 映射中查找所有环，每个环从其最小节点开始，结果按首节点排序
func FindCycles(parent map[string]string) [][]string {
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(parent))
	nodes := make([]string, 0, len(parent))
	for node := range parent {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)

	var cycles [][]string
	for _, start := range nodes {
		if color[start] != white {
			continue
		}
		var path []string
		node := start
		for {
			if color[node] == gray {
				// 当前路径上出现回边，截取环
				idx := indexOf(path, node)
				cycles = append(cycles, rotateToMin(path[idx:]))
				break
			}
			if color[node] == black {
				break
			}
			color[node] = gray
			path = append(path, node)
			next, ok := parent[node]
			if !ok {
				break
			}
			node = next
		}
		for _, n := range path {
			color[n] = black
		}
	}

	sort.Slice(cycles, func(i, j int) bool { return cycles[i][0] < cycles[j][0] })
	return cycles
}

func indexOf(items []string, target string) int {
	for i, item := range items {
		if item == target {
			return i
		}
	}
	return -1
}

func rotateToMin(cycle []string) []string {
	minIdx := 0
	for i, n := range cycle {
		if n < cycle[minIdx] {
			minIdx = i
		}
	}
	out := make([]string, 0, len(cycle))
	out = append(out, cycle[minIdx:]...)
	return append(out, cycle[:minIdx]...)
}
