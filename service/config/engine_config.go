/*
 * @module service/config/engine_config
 * @description 校验引擎配置对象，集中描述容差、完整度阈值、评分权重、限流、缓存、重试、趋势窗口等参数
 * @architecture 分层架构 - 配置层
 * @documentReference ai_docs/validation_engine_config.md
 * @stateFlow 默认值 -> YAML文件 -> 环境变量覆盖 -> 配置验证 -> 不可变快照
 * @rules 配置在启动或重载时一次性构造，运行期间只读；重载产生新对象而不是原地修改
 * @dependencies gopkg.in/yaml.v3
 * @refs config_loader.go, config_manager.go
 */

package config

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
)

// 评分分类
const (
	CategoryBusinessRules     = "business_rules"
	CategoryCountValidation   = "count_validation"
	CategoryFieldCompleteness = "field_completeness"
	CategoryDataTypes         = "data_types"
	CategoryRelationships     = "relationships"
)

// ScoringCategories 所有合法的评分分类
var ScoringCategories = []string{
	CategoryBusinessRules,
	CategoryCountValidation,
	CategoryFieldCompleteness,
	CategoryDataTypes,
	CategoryRelationships,
}

// 业务规则类型
const (
	RuleKindStatusTransition = "status_transition"
	RuleKindDateRange        = "date_range"
	RuleKindCapacity         = "capacity"
	RuleKindCrossField       = "cross_field"
	RuleKindNamingPattern    = "naming_pattern"
)

var ruleKinds = map[string]bool{
	RuleKindStatusTransition: true,
	RuleKindDateRange:        true,
	RuleKindCapacity:         true,
	RuleKindCrossField:       true,
	RuleKindNamingPattern:    true,
}

// formatTypes 字段格式校验支持的类型，空值等同 string
var formatTypes = map[string]bool{
	"": true, "string": true, "int": true, "integer": true, "float": true, "number": true, "decimal": true,
	"bool": true, "boolean": true, "date": true, "datetime": true, "timestamp": true, "email": true,
}

var severities = map[string]bool{"info": true, "warning": true, "error": true, "critical": true}

// EngineConfig 引擎配置
type EngineConfig struct {
	Engine    EngineSettings  `json:"engine" yaml:"engine"`
	Remote    RemoteConfig    `json:"remote" yaml:"remote"`
	Cache     CacheConfig     `json:"cache" yaml:"cache"`
	RateLimit RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
	Retry     RetryConfig     `json:"retry" yaml:"retry"`
	Scoring   ScoringConfig   `json:"scoring" yaml:"scoring"`
	Trend     TrendConfig     `json:"trend" yaml:"trend"`
	Retention RetentionConfig `json:"retention" yaml:"retention"`
	Schedule  ScheduleConfig  `json:"schedule" yaml:"schedule"`
	Alerting  AlertingConfig  `json:"alerting" yaml:"alerting"`
	Redis     RedisConfig     `json:"redis" yaml:"redis"`
	Entities  []EntityConfig  `json:"entities" yaml:"entities"`
}

// EngineSettings 编排引擎配置
type EngineSettings struct {
	WorkerPoolSize   int           `json:"worker_pool_size" yaml:"worker_pool_size"`
	SequentialModes  []string      `json:"sequential_modes" yaml:"sequential_modes"`
	FastTimeout      time.Duration `json:"fast_timeout" yaml:"fast_timeout"`
	SlowTimeout      time.Duration `json:"slow_timeout" yaml:"slow_timeout"`
	RealtimeTimeout  time.Duration `json:"realtime_timeout" yaml:"realtime_timeout"`
	AbandonOnTimeout bool          `json:"abandon_on_timeout" yaml:"abandon_on_timeout"`
	ScoreAfterRun    bool          `json:"score_after_run" yaml:"score_after_run"`
	MaxViolations    int           `json:"max_violations" yaml:"max_violations"` // 每个字段最多逐条报告的违规数
}

// RemoteConfig 外部权威数据源（PostgREST）配置
type RemoteConfig struct {
	BaseURL         string        `json:"base_url" yaml:"base_url"`
	Username        string        `json:"username" yaml:"username"`
	Password        string        `json:"password" yaml:"password"`
	Schema          string        `json:"schema" yaml:"schema"`
	Timeout         time.Duration `json:"timeout" yaml:"timeout"`
	RefreshInterval time.Duration `json:"refresh_interval" yaml:"refresh_interval"`
}

// CacheConfig 查询缓存配置
type CacheConfig struct {
	Enabled    bool          `json:"enabled" yaml:"enabled"`
	Backend    string        `json:"backend" yaml:"backend"` // memory, redis
	DefaultTTL time.Duration `json:"default_ttl" yaml:"default_ttl"`
	MaxEntries int           `json:"max_entries" yaml:"max_entries"`
	KeyPrefix  string        `json:"key_prefix" yaml:"key_prefix"`
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	Backend           string        `json:"backend" yaml:"backend"` // local, redis
	RequestsPerSecond int           `json:"requests_per_second" yaml:"requests_per_second"`
	Window            time.Duration `json:"window" yaml:"window"`
}

// RetryConfig 重试配置
type RetryConfig struct {
	MaxRetries int           `json:"max_retries" yaml:"max_retries"`
	BaseDelay  time.Duration `json:"base_delay" yaml:"base_delay"`
	MaxDelay   time.Duration `json:"max_delay" yaml:"max_delay"`
	Jitter     bool          `json:"jitter" yaml:"jitter"`
}

// ScoringConfig 评分配置
type ScoringConfig struct {
	Weights map[string]float64 `json:"weights" yaml:"weights"`
}

// TrendConfig 趋势分析配置
type TrendConfig struct {
	WindowSize      int     `json:"window_size" yaml:"window_size"`
	MinHistory      int     `json:"min_history" yaml:"min_history"`
	StdDevThreshold float64 `json:"stddev_threshold" yaml:"stddev_threshold"`
	AbsoluteFloor   float64 `json:"absolute_floor" yaml:"absolute_floor"`
}

// RetentionConfig 保留策略配置
type RetentionConfig struct {
	RunDays     int    `json:"run_days" yaml:"run_days"`
	HistoryDays int    `json:"history_days" yaml:"history_days"`
	Cron        string `json:"cron" yaml:"cron"`
}

// ScheduleConfig 触发调度配置
type ScheduleConfig struct {
	Enabled  bool          `json:"enabled" yaml:"enabled"`
	FastCron string        `json:"fast_cron" yaml:"fast_cron"`
	SlowCron string        `json:"slow_cron" yaml:"slow_cron"`
	LockTTL  time.Duration `json:"lock_ttl" yaml:"lock_ttl"`
}

// AlertingConfig 异常告警发布配置
type AlertingConfig struct {
	Backend string      `json:"backend" yaml:"backend"` // log, kafka, mqtt, none
	Kafka   KafkaConfig `json:"kafka" yaml:"kafka"`
	MQTT    MQTTConfig  `json:"mqtt" yaml:"mqtt"`
}

// KafkaConfig Kafka告警配置
type KafkaConfig struct {
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
}

// MQTTConfig MQTT告警配置
type MQTTConfig struct {
	Broker   string `json:"broker" yaml:"broker"`
	Topic    string `json:"topic" yaml:"topic"`
	ClientID string `json:"client_id" yaml:"client_id"`
	QoS      byte   `json:"qos" yaml:"qos"`
}

// RedisConfig Redis连接配置
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

// EntityConfig 单个实体类型的校验配置（规则值属于外部配置数据）
type EntityConfig struct {
	Name                    string             `json:"name" yaml:"name"`
	LocalTable              string             `json:"local_table" yaml:"local_table"`
	RemoteResource          string             `json:"remote_resource" yaml:"remote_resource"`
	KeyField                string             `json:"key_field" yaml:"key_field"`
	RemoteFilter            map[string]string  `json:"remote_filter" yaml:"remote_filter"`
	Validators              []string           `json:"validators" yaml:"validators"`
	CountTolerancePct       float64            `json:"count_tolerance_pct" yaml:"count_tolerance_pct"`
	CountErrorMultiplier    float64            `json:"count_error_multiplier" yaml:"count_error_multiplier"`
	CompletenessThreshold   float64            `json:"completeness_threshold" yaml:"completeness_threshold"`
	CompletenessWarningBand float64            `json:"completeness_warning_band" yaml:"completeness_warning_band"`
	RequiredFields          []string           `json:"required_fields" yaml:"required_fields"`
	Formats                 []FieldFormat      `json:"formats" yaml:"formats"`
	Relationships           []RelationshipSpec `json:"relationships" yaml:"relationships"`
	Rules                   []RuleSpec         `json:"rules" yaml:"rules"`
}

// FieldFormat 字段格式规则
type FieldFormat struct {
	Field     string   `json:"field" yaml:"field"`
	Type      string   `json:"type" yaml:"type"` // int, float, bool, date, email, string
	Pattern   string   `json:"pattern" yaml:"pattern"`
	MinLength int      `json:"min_length" yaml:"min_length"`
	MaxLength int      `json:"max_length" yaml:"max_length"`
	Enum      []string `json:"enum" yaml:"enum"`
}

// RelationshipSpec 关联关系规则
type RelationshipSpec struct {
	Name         string `json:"name" yaml:"name"`
	Field        string `json:"field" yaml:"field"`
	TargetEntity string `json:"target_entity" yaml:"target_entity"`
	TargetKey    string `json:"target_key" yaml:"target_key"`
	Required     bool   `json:"required" yaml:"required"`
}

// RuleSpec 业务规则定义，参数由业务规则校验器解释
type RuleSpec struct {
	Name     string                 `json:"name" yaml:"name"`
	Kind     string                 `json:"kind" yaml:"kind"`
	Severity string                 `json:"severity" yaml:"severity"`
	Params   map[string]interface{} `json:"params" yaml:"params"`
}

// Default 默认配置
func Default() *EngineConfig {
	return &EngineConfig{
		Engine: EngineSettings{
			WorkerPoolSize:  4,
			SequentialModes: []string{"slow"},
			FastTimeout:     5 * time.Minute,
			SlowTimeout:     2 * time.Hour,
			RealtimeTimeout: 30 * time.Second,
			ScoreAfterRun:   true,
			MaxViolations:   20,
		},
		Remote: RemoteConfig{
			Schema:          "public",
			Timeout:         30 * time.Second,
			RefreshInterval: 55 * time.Minute,
		},
		Cache: CacheConfig{
			Enabled:    true,
			Backend:    "memory",
			DefaultTTL: 5 * time.Minute,
			MaxEntries: 1024,
			KeyPrefix:  "dq_cache",
		},
		RateLimit: RateLimitConfig{
			Backend:           "local",
			RequestsPerSecond: 100,
			Window:            time.Second,
		},
		Retry: RetryConfig{
			MaxRetries: 3,
			BaseDelay:  200 * time.Millisecond,
			MaxDelay:   5 * time.Second,
			Jitter:     true,
		},
		Scoring: ScoringConfig{
			Weights: map[string]float64{
				CategoryBusinessRules:     25,
				CategoryCountValidation:   20,
				CategoryFieldCompleteness: 20,
				CategoryDataTypes:         15,
				CategoryRelationships:     20,
			},
		},
		Trend: TrendConfig{
			WindowSize:      7,
			MinHistory:      3,
			StdDevThreshold: 2.0,
			AbsoluteFloor:   60,
		},
		Retention: RetentionConfig{
			RunDays:     90,
			HistoryDays: 365,
			Cron:        "0 30 3 * * *",
		},
		Schedule: ScheduleConfig{
			FastCron: "0 0 * * * *",
			SlowCron: "0 0 2 * * *",
			LockTTL:  30 * time.Minute,
		},
		Alerting: AlertingConfig{
			Backend: "log",
		},
	}
}

// Entity 按名称查找实体配置
func (c *EngineConfig) Entity(name string) (*EntityConfig, bool) {
	for i := range c.Entities {
		if c.Entities[i].Name == name {
			return &c.Entities[i], true
		}
	}
	return nil, false
}

// EntityNames 返回所有实体名称（按配置顺序）
func (c *EngineConfig) EntityNames() []string {
	names := make([]string, 0, len(c.Entities))
	for _, e := range c.Entities {
		names = append(names, e.Name)
	}
	return names
}

// IsSequential 指定模式是否默认顺序执行
func (c *EngineConfig) IsSequential(mode string) bool {
	for _, m := range c.Engine.SequentialModes {
		if m == mode {
			return true
		}
	}
	return false
}

// TimeoutFor 获取指定模式的运行期限
func (c *EngineConfig) TimeoutFor(mode string) time.Duration {
	switch mode {
	case "fast":
		return c.Engine.FastTimeout
	case "slow":
		return c.Engine.SlowTimeout
	case "realtime":
		return c.Engine.RealtimeTimeout
	}
	return c.Engine.FastTimeout
}

// Validate 验证配置
func (c *EngineConfig) Validate() error {
	if c.Engine.WorkerPoolSize <= 0 {
		return fmt.Errorf("engine.worker_pool_size 必须大于0")
	}
	if c.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate_limit.requests_per_second 必须大于0")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.window 必须大于0")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries 不能为负数")
	}
	if c.Cache.Enabled && c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries 必须大于0")
	}
	if err := ValidateWeights(c.Scoring.Weights); err != nil {
		return err
	}
	if c.Trend.WindowSize <= 0 {
		return fmt.Errorf("trend.window_size 必须大于0")
	}
	if c.Trend.StdDevThreshold <= 0 {
		return fmt.Errorf("trend.stddev_threshold 必须大于0")
	}
	switch c.Alerting.Backend {
	case "", "log", "none":
	case "kafka":
		if len(c.Alerting.Kafka.Brokers) == 0 || c.Alerting.Kafka.Topic == "" {
			return fmt.Errorf("alerting.kafka 需要配置 brokers 和 topic")
		}
	case "mqtt":
		if c.Alerting.MQTT.Broker == "" || c.Alerting.MQTT.Topic == "" {
			return fmt.Errorf("alerting.mqtt 需要配置 broker 和 topic")
		}
	default:
		return fmt.Errorf("不支持的告警后端: %s", c.Alerting.Backend)
	}

	seen := make(map[string]bool)
	for i := range c.Entities {
		e := &c.Entities[i]
		if e.Name == "" {
			return fmt.Errorf("entities[%d].name 不能为空", i)
		}
		if seen[e.Name] {
			return fmt.Errorf("实体 %s 重复定义", e.Name)
		}
		seen[e.Name] = true
		if err := e.validate(); err != nil {
			return fmt.Errorf("实体 %s 配置无效: %w", e.Name, err)
		}
	}
	for _, e := range c.Entities {
		for _, rel := range e.Relationships {
			if _, ok := c.Entity(rel.TargetEntity); !ok {
				return fmt.Errorf("实体 %s 的关联 %s 指向未知实体 %s", e.Name, rel.Name, rel.TargetEntity)
			}
		}
	}
	return nil
}

// ValidateWeights 验证评分权重：分类合法、非负、总和为100
func ValidateWeights(weights map[string]float64) error {
	if len(weights) == 0 {
		return fmt.Errorf("scoring.weights 不能为空")
	}
	known := make(map[string]bool, len(ScoringCategories))
	for _, c := range ScoringCategories {
		known[c] = true
	}
	sum := 0.0
	for category, w := range weights {
		if !known[category] {
			return fmt.Errorf("未知的评分分类: %s", category)
		}
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("评分分类 %s 的权重无效: %v", category, w)
		}
		sum += w
	}
	if math.Abs(sum-100) > 1e-6 {
		return fmt.Errorf("评分权重总和必须为100，当前为 %.2f", sum)
	}
	return nil
}

func (e *EntityConfig) validate() error {
	if e.LocalTable == "" {
		return fmt.Errorf("local_table 不能为空")
	}
	if e.CountTolerancePct < 0 {
		return fmt.Errorf("count_tolerance_pct 不能为负数")
	}
	if e.CompletenessThreshold < 0 || e.CompletenessThreshold > 100 {
		return fmt.Errorf("completeness_threshold 必须在0-100之间")
	}
	for _, f := range e.Formats {
		if f.Field == "" {
			return fmt.Errorf("formats 中存在空字段名")
		}
		if f.Pattern != "" {
			if _, err := regexp.Compile(f.Pattern); err != nil {
				return fmt.Errorf("字段 %s 的正则无效: %w", f.Field, err)
			}
		}
		if !formatTypes[strings.ToLower(f.Type)] {
			return fmt.Errorf("字段 %s 的类型未知: %s", f.Field, f.Type)
		}
		if f.MaxLength > 0 && f.MinLength > f.MaxLength {
			return fmt.Errorf("字段 %s 的长度范围无效", f.Field)
		}
	}
	for _, rel := range e.Relationships {
		if rel.Name == "" || rel.Field == "" || rel.TargetEntity == "" {
			return fmt.Errorf("关联关系需要 name、field、target_entity")
		}
	}
	for _, rule := range e.Rules {
		if rule.Name == "" {
			return fmt.Errorf("业务规则名称不能为空")
		}
		if !ruleKinds[rule.Kind] {
			return fmt.Errorf("业务规则 %s 类型未知: %s", rule.Name, rule.Kind)
		}
		if !severities[strings.ToLower(rule.Severity)] {
			return fmt.Errorf("业务规则 %s 严重级别无效: %s", rule.Name, rule.Severity)
		}
	}
	return nil
}

// applyEntityDefaults 填充实体缺省值
func (c *EngineConfig) applyEntityDefaults() {
	for i := range c.Entities {
		e := &c.Entities[i]
		if e.KeyField == "" {
			e.KeyField = "id"
		}
		if e.RemoteResource == "" {
			e.RemoteResource = e.LocalTable
		}
		if e.CountErrorMultiplier <= 0 {
			e.CountErrorMultiplier = 2
		}
		if e.CompletenessWarningBand <= 0 {
			e.CompletenessWarningBand = 10
		}
		for j := range e.Relationships {
			if e.Relationships[j].TargetKey == "" {
				e.Relationships[j].TargetKey = "id"
			}
		}
		for j := range e.Rules {
			e.Rules[j].Severity = strings.ToLower(e.Rules[j].Severity)
		}
	}
}
