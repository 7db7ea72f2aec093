/*
 * @module service/config/reload_listener
 * @description 基于PostgreSQL LISTEN/NOTIFY 的配置重载监听器
 * @architecture 分层架构 - 配置层
 * @documentReference ai_docs/validation_engine_config.md
 * @stateFlow 监听通道 -> 收到通知 -> 触发 Manager.Reload
 * @rules 通知只触发重载，不携带配置内容；重载失败保留旧配置
 * @dependencies github.com/lib/pq
 * @refs config_manager.go
 */

package config

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// ReloadChannel 配置重载通知通道
const ReloadChannel = "dq_config_reload"

// ReloadListener 配置重载监听器
type ReloadListener struct {
	manager  *Manager
	listener *pq.Listener
}

// NewReloadListener 创建配置重载监听器
func NewReloadListener(connStr string, manager *Manager) (*ReloadListener, error) {
	listener := pq.NewListener(connStr, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			slog.Warn("配置监听器连接事件", "event", ev, "error", err)
		}
	})
	if err := listener.Listen(ReloadChannel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("监听配置重载通道失败: %w", err)
	}
	return &ReloadListener{manager: manager, listener: listener}, nil
}

// Run 处理重载通知直到上下文取消
func (l *ReloadListener) Run(ctx context.Context) {
	slog.Info("配置重载监听器已启动", "channel", ReloadChannel)
	defer l.listener.Close()

	for {
		select {
		case notification := <-l.listener.Notify:
			// 连接重建时会收到nil通知，同样触发一次重载以防遗漏
			source := "pg_notify"
			if notification != nil && notification.Extra != "" {
				source = "pg_notify:" + notification.Extra
			}
			if err := l.manager.Reload(source); err != nil {
				slog.Error("处理配置重载通知失败", "error", err)
			}
		case <-time.After(90 * time.Second):
			go l.listener.Ping()
		case <-ctx.Done():
			slog.Info("配置重载监听器已停止")
			return
		}
	}
}
