package scoring

import (
	"dataquality-service/service/config"
	"dataquality-service/service/models"
	"math"
)

// CategoryMetrics 评分分类 -> 汇总指标
var CategoryMetrics = map[string]string{
	config.CategoryBusinessRules:     "business_rule_compliance",
	config.CategoryCountValidation:   "count_match_pct",
	config.CategoryFieldCompleteness: "field_completeness",
	config.CategoryDataTypes:         "data_type_accuracy",
	config.CategoryRelationships:     "relationship_integrity",
}

// ComputeScore 按权重加权平均计算单个实体的质量评分
// 运行中缺失的分类同时从分子与分母中排除；没有任何分类时 ok 为 false
func ComputeScore(metrics []models.ValidationMetric, weights map[string]float64) (score float64, categories map[string]float64, totalWeight float64, ok bool) {
	byName := make(map[string]float64, len(metrics))
	for _, m := range metrics {
		byName[m.MetricName] = m.MetricValue
	}

	categories = make(map[string]float64)
	weighted := 0.0
	for _, category := range config.ScoringCategories {
		value, present := byName[CategoryMetrics[category]]
		if !present {
			continue
		}
		w := weights[category]
		categories[category] = round(value, 2)
		weighted += value * w
		totalWeight += w
	}
	if totalWeight == 0 {
		return 0, categories, 0, false
	}
	return round(clamp(weighted/totalWeight), 2), categories, totalWeight, true
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
