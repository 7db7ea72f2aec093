/*
 * @module service/config/config_loader
 * @description 配置加载器，负责从YAML文件、环境变量与默认值构造引擎配置
 * @architecture 分层架构 - 配置层
 * @documentReference ai_docs/validation_engine_config.md
 * @stateFlow 默认配置 -> 文件覆盖 -> 环境变量覆盖 -> 填充实体缺省值 -> 验证
 * @rules 加载结果必须通过 Validate，失败则不产生配置对象
 * @dependencies gopkg.in/yaml.v3, github.com/spf13/cast
 * @refs engine_config.go, config_manager.go
 */

package config

import (
	"fmt"
	"os"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// EnvPrefix 环境变量前缀
const EnvPrefix = "DQ_"

// Load 从文件加载配置，path为空时仅使用默认值与环境变量
func Load(path string) (*EngineConfig, error) {
	if path == "" {
		return build(nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("配置文件 %s 不存在", path)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	return build(data)
}

// FromYAML 从YAML内容构造配置（不读取环境变量以外的任何来源）
func FromYAML(data []byte) (*EngineConfig, error) {
	return build(data)
}

func build(data []byte) (*EngineConfig, error) {
	cfg := Default()
	if len(data) > 0 {
		defaultWeights := cfg.Scoring.Weights
		// 权重整体替换，不与默认值合并
		cfg.Scoring.Weights = nil
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: %w", err)
		}
		if cfg.Scoring.Weights == nil {
			cfg.Scoring.Weights = defaultWeights
		}
	}

	if err := applyEnvironmentOverrides(cfg); err != nil {
		return nil, err
	}
	cfg.applyEntityDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}
	return cfg, nil
}

// applyEnvironmentOverrides 应用环境变量覆盖
func applyEnvironmentOverrides(cfg *EngineConfig) error {
	overrides := []struct {
		key   string
		apply func(v string) error
	}{
		{"REMOTE_BASE_URL", func(v string) error { cfg.Remote.BaseURL = v; return nil }},
		{"REMOTE_USERNAME", func(v string) error { cfg.Remote.Username = v; return nil }},
		{"REMOTE_PASSWORD", func(v string) error { cfg.Remote.Password = v; return nil }},
		{"REMOTE_SCHEMA", func(v string) error { cfg.Remote.Schema = v; return nil }},
		{"REMOTE_TIMEOUT", func(v string) error {
			d, err := cast.ToDurationE(v)
			cfg.Remote.Timeout = d
			return err
		}},
		{"WORKER_POOL_SIZE", func(v string) error {
			n, err := cast.ToIntE(v)
			cfg.Engine.WorkerPoolSize = n
			return err
		}},
		{"RATE_LIMIT_RPS", func(v string) error {
			n, err := cast.ToIntE(v)
			cfg.RateLimit.RequestsPerSecond = n
			return err
		}},
		{"RATE_LIMIT_BACKEND", func(v string) error { cfg.RateLimit.Backend = v; return nil }},
		{"CACHE_ENABLED", func(v string) error {
			b, err := cast.ToBoolE(v)
			cfg.Cache.Enabled = b
			return err
		}},
		{"CACHE_BACKEND", func(v string) error { cfg.Cache.Backend = v; return nil }},
		{"CACHE_TTL", func(v string) error {
			d, err := cast.ToDurationE(v)
			cfg.Cache.DefaultTTL = d
			return err
		}},
		{"RETRY_MAX", func(v string) error {
			n, err := cast.ToIntE(v)
			cfg.Retry.MaxRetries = n
			return err
		}},
		{"TREND_WINDOW", func(v string) error {
			n, err := cast.ToIntE(v)
			cfg.Trend.WindowSize = n
			return err
		}},
		{"ALERTING_BACKEND", func(v string) error { cfg.Alerting.Backend = v; return nil }},
		{"SCHEDULE_ENABLED", func(v string) error {
			b, err := cast.ToBoolE(v)
			cfg.Schedule.Enabled = b
			return err
		}},
		{"REDIS_ADDR", func(v string) error { cfg.Redis.Addr = v; return nil }},
		{"REDIS_PASSWORD", func(v string) error { cfg.Redis.Password = v; return nil }},
		{"REDIS_DB", func(v string) error {
			n, err := cast.ToIntE(v)
			cfg.Redis.DB = n
			return err
		}},
	}

	for _, o := range overrides {
		value := os.Getenv(EnvPrefix + o.key)
		if value == "" {
			continue
		}
		if err := o.apply(value); err != nil {
			return fmt.Errorf("环境变量 %s%s 无效: %w", EnvPrefix, o.key, err)
		}
	}

	// 兼容通用的 REDIS_HOST/REDIS_PORT 配置
	if cfg.Redis.Addr == "" {
		if host := os.Getenv("REDIS_HOST"); host != "" {
			port := os.Getenv("REDIS_PORT")
			if port == "" {
				port = "6379"
			}
			cfg.Redis.Addr = fmt.Sprintf("%s:%s", host, port)
		}
	}
	return nil
}
