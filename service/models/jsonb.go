/*
 * @module service/models/jsonb
 * @description JSON列类型，用于运行元数据、结果元数据和历史分类得分的存储
 * @architecture 数据模型层
 * @documentReference dev_docs/model.md
 * @stateFlow Go值 -> JSON序列化 -> 数据库列 -> JSON反序列化 -> Go值
 * @rules 同时兼容PostgreSQL jsonb 与 SQLite 文本存储
 * @dependencies database/sql/driver, encoding/json
 * @refs validation_models.go
 */

package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// JSONB 通用JSON对象列
type JSONB map[string]interface{}

// JSONBStringArray 用于存储字符串数组的 JSONB 类型
type JSONBStringArray []string

// JSONBFloatMap 用于存储分类得分等数值映射
type JSONBFloatMap map[string]float64

// scanJSON 将数据库值反序列化到目标
func scanJSON(value interface{}, target interface{}) error {
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("类型断言失败: 不是 []byte 或 string")
	}
	if len(bytes) == 0 {
		return nil
	}
	return json.Unmarshal(bytes, target)
}

// Scan 实现 Scanner 接口
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	return scanJSON(value, j)
}

// Value 实现 Valuer 接口
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan JSONBStringArray 的 Scanner 接口实现
func (j *JSONBStringArray) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	return scanJSON(value, j)
}

// Value JSONBStringArray 的 Valuer 接口实现
func (j JSONBStringArray) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan JSONBFloatMap 的 Scanner 接口实现
func (j *JSONBFloatMap) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	return scanJSON(value, j)
}

// Value JSONBFloatMap 的 Valuer 接口实现
func (j JSONBFloatMap) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}
