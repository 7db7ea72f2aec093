/*
 * @module service/monitoring/prometheus
 * @description Prometheus指标定义，覆盖远端查询、校验器执行、运行结果与质量评分
 * @architecture 分层架构 - 监控层
 * @documentReference ai_docs/validation_engine_metrics.md
 * @rules 指标在包初始化时注册到默认Registry，由 /metrics 暴露
 * @dependencies github.com/prometheus/client_golang
 * @refs client/remote_client.go, service/validation_engine, service/scoring
 */

package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dataquality"

var (
	// RemoteRequestsTotal 远端查询请求数（按资源与结果）
	RemoteRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "remote",
		Name:      "requests_total",
		Help:      "远端数据源HTTP请求次数",
	}, []string{"resource", "outcome"})

	// RemoteRetriesTotal 远端查询重试次数
	RemoteRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "remote",
		Name:      "retries_total",
		Help:      "远端数据源瞬时错误重试次数",
	}, []string{"resource"})

	// CacheLookupsTotal 查询缓存命中/未命中
	CacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "查询缓存查找次数",
	}, []string{"tier", "result"})

	// ValidatorDuration 校验器执行耗时
	ValidatorDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "validator",
		Name:      "duration_seconds",
		Help:      "单个校验器执行耗时",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
	}, []string{"validator"})

	// ValidatorFailuresTotal 校验器失败次数（错误、panic、超时）
	ValidatorFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "validator",
		Name:      "failures_total",
		Help:      "校验器执行失败次数",
	}, []string{"validator", "reason"})

	// RunsTotal 校验运行次数（按模式与终态）
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "runs_total",
		Help:      "校验运行次数",
	}, []string{"mode", "status"})

	// RunDuration 校验运行耗时
	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "run_duration_seconds",
		Help:      "校验运行总耗时",
		Buckets:   prometheus.ExponentialBuckets(0.1, 4, 8),
	}, []string{"mode"})

	// ResultsTotal 校验结果数量（按严重级别）
	ResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "results_total",
		Help:      "校验发现数量",
	}, []string{"severity"})

	// QualityScore 最新质量评分
	QualityScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "scoring",
		Name:      "quality_score",
		Help:      "实体最新质量评分",
	}, []string{"entity"})

	// AnomaliesTotal 异常检测次数
	AnomaliesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scoring",
		Name:      "anomalies_total",
		Help:      "质量评分异常次数",
	}, []string{"entity"})

	// SchedulerJobsTotal 定时任务执行次数（按任务与结果）
	SchedulerJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "jobs_total",
		Help:      "定时任务执行次数",
	}, []string{"job", "outcome"})
)
