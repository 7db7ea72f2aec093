/*
 * @module service/data_quality/validator
 * @description 校验器契约：校验器接口、校验上下文、本地只读访问接口和校验逻辑错误
 * @architecture 分层架构 - 数据验证层
 * @documentReference ai_docs/validation_engine_design.md
 * @stateFlow 引擎构造上下文 -> 校验器读取远端/本地数据 -> 返回结果与指标
 * @rules 校验器不持久化、不修改共享状态；本地访问只读；配置快照只读
 * @dependencies dataquality-service/client, dataquality-service/service/config, dataquality-service/service/models
 * @refs registry.go, service/validation_engine
 */

package data_quality

import (
	"context"
	"dataquality-service/client"
	"dataquality-service/service/config"
	"dataquality-service/service/models"
	"fmt"
)

// Validator 校验器接口
type Validator interface {
	// Name 校验器唯一名称，写入结果的 validator 字段
	Name() string
	// Validate 执行校验，返回发现与指标；返回错误表示校验器自身未能完成
	Validate(ctx context.Context, vc *ValidationContext) ([]models.ValidationResult, []models.ValidationMetric, error)
}

// LocalReader 本地数据只读访问
type LocalReader interface {
	Count(ctx context.Context, entity *config.EntityConfig) (int64, error)
	// Records 读取实体记录，fields为空时读取全部列
	Records(ctx context.Context, entity *config.EntityConfig, fields []string) ([]models.Row, error)
}

// ValidationContext 校验上下文
type ValidationContext struct {
	Config *config.EngineConfig
	Entity *config.EntityConfig
	Remote client.RemoteQuerier
	Local  LocalReader
	RunID  string
	Mode   models.RunMode
}

// NewResult 构造属于当前运行与实体的校验结果
func (vc *ValidationContext) NewResult(validator string, severity models.Severity, message string) models.ValidationResult {
	return models.ValidationResult{
		RunID:      vc.RunID,
		EntityType: vc.Entity.Name,
		Validator:  validator,
		Severity:   severity,
		Message:    message,
	}
}

// NewMetric 构造属于当前运行与实体的指标
func (vc *ValidationContext) NewMetric(validator, name string, value float64) models.ValidationMetric {
	return models.ValidationMetric{
		RunID:       vc.RunID,
		EntityType:  vc.Entity.Name,
		Validator:   validator,
		MetricName:  name,
		MetricValue: value,
	}
}

// maxViolations 每个字段/规则逐条报告的违规上限
func (vc *ValidationContext) maxViolations() int {
	if vc.Config != nil && vc.Config.Engine.MaxViolations > 0 {
		return vc.Config.Engine.MaxViolations
	}
	return 20
}

// ValidationLogicError 校验器内部错误（返回错误或panic）
type ValidationLogicError struct {
	Validator  string
	EntityType string
	Err        error
	Panic      interface{}
	Stack      string
}

func (e *ValidationLogicError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("校验器 %s 在实体 %s 上发生panic: %v", e.Validator, e.EntityType, e.Panic)
	}
	return fmt.Sprintf("校验器 %s 在实体 %s 上执行失败: %v", e.Validator, e.EntityType, e.Err)
}

func (e *ValidationLogicError) Unwrap() error {
	return e.Err
}
