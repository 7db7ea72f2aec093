package data_quality

import (
	"math"
	"strings"

	"github.com/spf13/cast"
	"golang.org/x/text/unicode/norm"
)

// 指标名称
const (
	MetricRemoteCount            = "remote_count"
	MetricLocalCount             = "local_count"
	MetricCountDiffPct           = "count_diff_pct"
	MetricCountMatchPct          = "count_match_pct"
	MetricFieldCompleteness      = "field_completeness"
	MetricDataTypeAccuracy       = "data_type_accuracy"
	MetricRelationshipIntegrity  = "relationship_integrity"
	MetricBusinessRuleCompliance = "business_rule_compliance"
)

// isEmpty 空值、空字符串和仅含空白的字符串都视为缺失
func isEmpty(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case []byte:
		return strings.TrimSpace(string(val)) == ""
	}
	return false
}

// normalizedString 转为字符串并做NFC规范化
func normalizedString(v interface{}) string {
	if b, ok := v.([]byte); ok {
		return norm.NFC.String(string(b))
	}
	return norm.NFC.String(cast.ToString(v))
}

// keyOf 记录主键的字符串形式
func keyOf(row map[string]interface{}, keyField string) string {
	return cast.ToString(row[keyField])
}

// percent 计算 part/total*100，total为0时返回100
func percent(part, total int) float64 {
	if total == 0 {
		return 100
	}
	return float64(part) * 100 / float64(total)
}

func clampPct(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func strPtr(s string) *string {
	return &s
}
