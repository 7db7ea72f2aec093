package scoring

import (
	"dataquality-service/service/config"
	"dataquality-service/service/models"
	"testing"

	"github.com/stretchr/testify/assert"
)

func metric(name string, value float64) models.ValidationMetric {
	return models.ValidationMetric{MetricName: name, MetricValue: value, EntityType: "orders"}
}

func TestComputeScore(t *testing.T) {
	weights := config.Default().Scoring.Weights

	tests := []struct {
		name      string
		metrics   []models.ValidationMetric
		wantScore float64
		wantOK    bool
	}{
		{
			name: "全部分类",
			metrics: []models.ValidationMetric{
				metric("business_rule_compliance", 80),
				metric("count_match_pct", 100),
				metric("field_completeness", 90),
				metric("data_type_accuracy", 95),
				metric("relationship_integrity", 100),
			},
			wantScore: 92.25,
			wantOK:    true,
		},
		{
			name:      "缺失分类不参与加权",
			metrics:   []models.ValidationMetric{metric("field_completeness", 90), metric("count_match_pct", 100)},
			wantScore: 95,
			wantOK:    true,
		},
		{
			name:      "保留两位小数",
			metrics:   []models.ValidationMetric{metric("business_rule_compliance", 100.0 / 3)},
			wantScore: 33.33,
			wantOK:    true,
		},
		{
			name:      "截断到100",
			metrics:   []models.ValidationMetric{metric("data_type_accuracy", 120)},
			wantScore: 100,
			wantOK:    true,
		},
		{
			name:      "非评分指标被忽略",
			metrics:   []models.ValidationMetric{metric("remote_count", 5000), metric("completeness_email", 10)},
			wantScore: 0,
			wantOK:    false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, _, _, ok := ComputeScore(tt.metrics, weights)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantScore, score)
		})
	}
}

func TestComputeScore_IsDeterministic(t *testing.T) {
	weights := config.Default().Scoring.Weights
	metrics := []models.ValidationMetric{metric("field_completeness", 87.5), metric("relationship_integrity", 64.2)}

	first, categories, total, _ := ComputeScore(metrics, weights)
	for i := 0; i < 10; i++ {
		again, _, _, _ := ComputeScore(metrics, weights)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, 40.0, total)
	assert.Equal(t, map[string]float64{"field_completeness": 87.5, "relationships": 64.2}, categories)
}

func TestRollingStats(t *testing.T) {
	stats := RollingStats([]float64{80, 90, 100})
	assert.Equal(t, 3, stats.N)
	assert.Equal(t, 90.0, stats.Mean)
	assert.InDelta(t, 8.16496580927726, stats.StdDev, 1e-9)

	assert.Equal(t, WindowStats{}, RollingStats(nil))
}

func TestDetectAnomaly(t *testing.T) {
	cfg := config.TrendConfig{WindowSize: 7, MinHistory: 3, StdDevThreshold: 2, AbsoluteFloor: 60}
	steady := RollingStats([]float64{90, 91, 89, 90, 90})

	tests := []struct {
		name    string
		score   float64
		stats   WindowStats
		anomaly bool
	}{
		{"正常波动", 90.5, steady, false},
		{"大幅下跌", 70, steady, true},
		{"大幅上涨同样异常", 99, steady, true},
		{"历史不足", 70, RollingStats([]float64{90, 91}), false},
		{"标准差为0", 80, RollingStats([]float64{90, 90, 90}), false},
		{"低于绝对下限", 50, WindowStats{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := DetectAnomaly(tt.score, tt.stats, cfg)
			assert.Equal(t, tt.anomaly, a.IsAnomaly)
			if tt.anomaly {
				assert.NotEmpty(t, a.Reason)
			}
		})
	}

	a := DetectAnomaly(70, steady, cfg)
	assert.Less(t, a.Deviation, -2.0)
}

func TestComputeTrend(t *testing.T) {
	up := ComputeTrend(80, 90)
	assert.Equal(t, Up, up.Direction)
	assert.Equal(t, 10.0, up.DeltaScore)
	assert.Equal(t, 12.5, up.DeltaPercent)

	assert.Equal(t, Down, ComputeTrend(90, 80).Direction)
	assert.Equal(t, Flat, ComputeTrend(90, 90).Direction)
	assert.Equal(t, 0.0, ComputeTrend(0, 50).DeltaPercent)
}
