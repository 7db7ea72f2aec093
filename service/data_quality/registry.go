/*
 * @module service/data_quality/registry
 * @description 校验器注册表，按名称注册通用校验器并支持按实体类型追加专用校验器
 * @architecture 注册表模式
 * @documentReference ai_docs/validation_engine_design.md
 * @stateFlow 启动时注册 -> 运行时按实体配置解析有序校验器列表
 * @rules 名称唯一；解析顺序稳定（注册顺序）；实体引用未注册校验器时报错
 * @dependencies sync
 * @refs validator.go, service/validation_engine
 */

package data_quality

import (
	"dataquality-service/service/config"
	"fmt"
	"sync"
)

// Registry 校验器注册表
type Registry struct {
	mu        sync.RWMutex
	order     []string
	byName    map[string]Validator
	perEntity map[string][]Validator
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{
		byName:    make(map[string]Validator),
		perEntity: make(map[string][]Validator),
	}
}

// NewDefaultRegistry 创建包含内置校验器的注册表
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, v := range []Validator{
		NewCountValidator(),
		NewCompletenessValidator(),
		NewFormatValidator(),
		NewRelationshipValidator(),
		NewBusinessRuleValidator(),
	} {
		// 内置校验器名称固定，不会冲突
		_ = r.Register(v)
	}
	return r
}

// Register 注册通用校验器
func (r *Registry) Register(v Validator) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := v.Name()
	if name == "" {
		return fmt.Errorf("校验器名称不能为空")
	}
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("校验器 %s 已注册", name)
	}
	r.byName[name] = v
	r.order = append(r.order, name)
	return nil
}

// RegisterForEntity 为指定实体类型注册专用校验器
func (r *Registry) RegisterForEntity(entityType string, v Validator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.perEntity[entityType] = append(r.perEntity[entityType], v)
}

// Get 按名称获取校验器
func (r *Registry) Get(name string) (Validator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.byName[name]
	return v, ok
}

// Names 已注册的通用校验器名称（注册顺序）
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Resolve 解析实体适用的校验器：实体配置了validators时按配置顺序，否则全部通用校验器；再追加实体专用校验器
func (r *Registry) Resolve(entity *config.EntityConfig) ([]Validator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var validators []Validator
	if len(entity.Validators) > 0 {
		for _, name := range entity.Validators {
			v, ok := r.byName[name]
			if !ok {
				return nil, fmt.Errorf("实体 %s 引用了未注册的校验器 %s", entity.Name, name)
			}
			validators = append(validators, v)
		}
	} else {
		for _, name := range r.order {
			validators = append(validators, r.byName[name])
		}
	}
	return append(validators, r.perEntity[entity.Name]...), nil
}
