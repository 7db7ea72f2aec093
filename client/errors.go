/*
 * @module client/errors
 * @description 远端查询错误分类：认证错误、瞬时错误、响应格式错误、重试耗尽
 * @architecture 适配器模式 - 错误模型
 * @documentReference ai_docs/remote_client_design.md
 * @rules 认证错误与格式错误不重试；瞬时错误按退避策略重试；重试耗尽时保留最后一次错误
 * @dependencies errors
 * @refs remote_client.go
 */

package client

import (
	"errors"
	"fmt"
)

// ErrRetriesExhausted 瞬时错误重试次数耗尽
var ErrRetriesExhausted = errors.New("远端查询重试次数耗尽")

// AuthError 认证或授权失败（401/403）
type AuthError struct {
	StatusCode int
	Body       string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("远端认证失败，状态码: %d, 响应: %s", e.StatusCode, e.Body)
}

// TransientError 可重试的瞬时错误（网络错误、5xx、429）
type TransientError struct {
	StatusCode int // 网络错误时为0
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("远端请求瞬时失败: %v", e.Err)
	}
	return fmt.Sprintf("远端请求瞬时失败，状态码: %d: %v", e.StatusCode, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// MalformedResponseError 远端响应无法解析
type MalformedResponseError struct {
	Resource string
	Err      error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("远端资源 %s 响应格式错误: %v", e.Resource, e.Err)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

// IsRetryable 判断错误是否可重试
func IsRetryable(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}
