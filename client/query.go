/*
 * @module client/query
 * @description 远端查询描述与确定性缓存键
 * @architecture 适配器模式 - 查询模型
 * @documentReference ai_docs/remote_client_design.md
 * @rules 缓存键只由查询语义决定（资源、列、过滤、排序、计数、限制），与缓存控制字段无关
 * @dependencies golang.org/x/crypto/blake2b
 * @refs remote_client.go, query_cache.go
 */

package client

import (
	"context"
	"dataquality-service/service/models"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"golang.org/x/crypto/blake2b"
)

// QuerySpec 远端查询描述
type QuerySpec struct {
	Resource  string            // 资源（表）名
	Select    []string          // 选择列，为空时返回全部列
	Filters   map[string]string // PostgREST过滤表达式，例如 status -> eq.active
	Order     string            // 排序，例如 id.asc
	CountOnly bool              // 只返回计数，结果为单行 {"count": n}
	Limit     int               // 最大返回行数，0表示不限制
	UseCache  bool              // 是否使用查询缓存
	CacheTTL  time.Duration     // 缓存有效期，0使用缓存默认值
}

// RemoteQuerier 远端查询接口，供校验器使用
type RemoteQuerier interface {
	Query(ctx context.Context, spec QuerySpec) ([]models.Row, error)
}

// CountKey 计数查询结果行中的计数字段
const CountKey = "count"

type canonicalQuery struct {
	Resource  string            `json:"resource"`
	Select    []string          `json:"select"`
	Filters   map[string]string `json:"filters"`
	Order     string            `json:"order"`
	CountOnly bool              `json:"count_only"`
	Limit     int               `json:"limit"`
}

// CacheKey 计算查询的确定性缓存键
func (q QuerySpec) CacheKey() string {
	columns := append([]string(nil), q.Select...)
	sort.Strings(columns)

	// encoding/json 对map键排序，序列化结果稳定
	data, _ := json.Marshal(canonicalQuery{
		Resource:  q.Resource,
		Select:    columns,
		Filters:   q.Filters,
		Order:     q.Order,
		CountOnly: q.CountOnly,
		Limit:     q.Limit,
	})
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// RowCount 从计数查询结果中读取计数
func RowCount(rows []models.Row) (int64, bool) {
	if len(rows) != 1 {
		return 0, false
	}
	switch v := rows[0][CountKey].(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	}
	return 0, false
}
