/*
 * @module service/database/local_store
 * @description 本地实体数据读取，按实体配置统计行数与分批读取记录
 * @architecture 数据访问层
 * @documentReference ai_docs/validation_engine_design.md
 * @stateFlow 实体配置 -> 标识符转义 -> 计数/分批查询 -> 记录
 * @rules 表名与列名一律经过标识符转义；只读
 * @dependencies gorm.io/gorm, github.com/lib/pq
 * @refs service/data_quality/validator.go
 */

package database

import (
	"context"
	"dataquality-service/service/config"
	"dataquality-service/service/models"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

const defaultReadBatch = 5000

// LocalStore 本地实体数据读取器
type LocalStore struct {
	db        *gorm.DB
	batchSize int
}

// NewLocalStore 创建本地实体数据读取器
func NewLocalStore(db *gorm.DB) *LocalStore {
	return &LocalStore{db: db, batchSize: defaultReadBatch}
}

// Count 实体本地行数
func (s *LocalStore) Count(ctx context.Context, entity *config.EntityConfig) (int64, error) {
	var count int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteTable(entity.LocalTable))
	if err := s.db.WithContext(ctx).Raw(query).Scan(&count).Error; err != nil {
		return 0, fmt.Errorf("统计本地表 %s 行数失败: %w", entity.LocalTable, err)
	}
	return count, nil
}

// Records 读取实体全部记录，fields为空时读取全部列
func (s *LocalStore) Records(ctx context.Context, entity *config.EntityConfig, fields []string) ([]models.Row, error) {
	columns := "*"
	if len(fields) > 0 {
		quoted := make([]string, 0, len(fields)+1)
		seen := make(map[string]bool)
		for _, f := range append([]string{entity.KeyField}, fields...) {
			if f == "" || seen[f] {
				continue
			}
			seen[f] = true
			quoted = append(quoted, pq.QuoteIdentifier(f))
		}
		columns = strings.Join(quoted, ", ")
	}

	order := ""
	if entity.KeyField != "" {
		order = " ORDER BY " + pq.QuoteIdentifier(entity.KeyField)
	}
	base := fmt.Sprintf("SELECT %s FROM %s%s", columns, quoteTable(entity.LocalTable), order)

	var rows []models.Row
	for offset := 0; ; offset += s.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var batch []map[string]interface{}
		query := fmt.Sprintf("%s LIMIT %d OFFSET %d", base, s.batchSize, offset)
		if err := s.db.WithContext(ctx).Raw(query).Scan(&batch).Error; err != nil {
			return nil, fmt.Errorf("读取本地表 %s 失败: %w", entity.LocalTable, err)
		}
		for _, r := range batch {
			rows = append(rows, models.Row(r))
		}
		if len(batch) < s.batchSize {
			return rows, nil
		}
	}
}

// quoteTable 转义表名，支持 schema.table 形式
func quoteTable(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = pq.QuoteIdentifier(p)
	}
	return strings.Join(parts, ".")
}
