package scoring

import (
	"dataquality-service/service/config"
	"fmt"
	"math"
)

// Direction 趋势方向
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
	Flat Direction = "flat"
)

// Trend 两次评分之间的变化
type Trend struct {
	DeltaScore   float64   `json:"delta_score"`
	DeltaPercent float64   `json:"delta_percent"`
	Direction    Direction `json:"direction"`
	From         float64   `json:"from"`
	To           float64   `json:"to"`
}

// ComputeTrend 计算 prev -> curr 的变化
func ComputeTrend(prev, curr float64) Trend {
	d := curr - prev

	dir := Flat
	if d > 0.00001 {
		dir = Up
	} else if d < -0.00001 {
		dir = Down
	}

	dp := 0.0
	if math.Abs(prev) > 0.00001 {
		dp = (d / prev) * 100.0
	}

	return Trend{
		DeltaScore:   round(d, 2),
		DeltaPercent: round(dp, 2),
		Direction:    dir,
		From:         round(prev, 2),
		To:           round(curr, 2),
	}
}

// WindowStats 滚动窗口统计
type WindowStats struct {
	N      int
	Mean   float64
	StdDev float64 // 总体标准差
}

// RollingStats 计算窗口均值与总体标准差
func RollingStats(scores []float64) WindowStats {
	n := len(scores)
	if n == 0 {
		return WindowStats{}
	}
	sum := 0.0
	for _, s := range scores {
		sum += s
	}
	mean := sum / float64(n)
	sq := 0.0
	for _, s := range scores {
		sq += (s - mean) * (s - mean)
	}
	return WindowStats{N: n, Mean: mean, StdDev: math.Sqrt(sq / float64(n))}
}

// Anomaly 异常判定结果
type Anomaly struct {
	IsAnomaly bool
	Deviation float64 // (score-mean)/stddev，标准差为0时为0
	Reason    string
}

// DetectAnomaly 偏离超过阈值（历史足够且标准差大于0）或低于绝对下限即为异常
func DetectAnomaly(score float64, stats WindowStats, cfg config.TrendConfig) Anomaly {
	var a Anomaly
	z := 0.0
	if stats.StdDev > 0 {
		z = (score - stats.Mean) / stats.StdDev
		a.Deviation = round(z, 4)
	}

	var reasons []string
	if stats.N >= cfg.MinHistory && stats.StdDev > 0 && math.Abs(z) > cfg.StdDevThreshold {
		reasons = append(reasons, fmt.Sprintf("评分 %.2f 偏离滚动均值 %.2f 达 %.2f 个标准差", score, stats.Mean, z))
	}
	if score < cfg.AbsoluteFloor {
		reasons = append(reasons, fmt.Sprintf("评分 %.2f 低于下限 %.2f", score, cfg.AbsoluteFloor))
	}
	if len(reasons) > 0 {
		a.IsAnomaly = true
		a.Reason = reasons[0]
		if len(reasons) > 1 {
			a.Reason += "; " + reasons[1]
		}
	}
	return a
}
