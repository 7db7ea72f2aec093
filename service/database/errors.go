package database

import (
	"errors"
	"fmt"
)

var (
	// ErrRunNotFound 校验运行不存在
	ErrRunNotFound = errors.New("校验运行不存在")
	// ErrHistoryNotFound 质量历史不存在
	ErrHistoryNotFound = errors.New("质量历史不存在")
)

// PersistenceError 持久化失败，运行的结果与指标均未写入
type PersistenceError struct {
	Op    string
	RunID string
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("持久化失败 op=%s run=%s: %v", e.Op, e.RunID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
