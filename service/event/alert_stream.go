/*
 * @module service/event/alert_stream
 * @description 异常告警SSE推送，维护订阅连接并广播告警
 * @architecture 事件驱动架构 - 发布订阅
 * @documentReference ai_docs/quality_alerting.md
 * @stateFlow 客户端订阅 -> 告警发布 -> 广播到各连接缓冲队列 -> 控制器写出事件流
 * @rules 广播不阻塞评分流程，连接队列已满时丢弃该连接的本次事件
 * @dependencies github.com/google/uuid
 * @refs alert_publisher.go, api/controllers/event_controller.go
 */

package event

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// streamBuffer 每个连接的事件缓冲
const streamBuffer = 100

// StreamClient SSE订阅连接
type StreamClient struct {
	ID          string
	ClientIP    string
	EntityType  string // 为空时接收全部实体的告警
	ConnectedAt time.Time
	Channel     chan *AnomalyAlert
	Done        chan struct{}
}

// AlertStream 告警推送中心
type AlertStream struct {
	mu      sync.RWMutex
	clients map[string]*StreamClient
	dropped int64
}

// NewAlertStream 创建告警推送中心
func NewAlertStream() *AlertStream {
	return &AlertStream{clients: make(map[string]*StreamClient)}
}

// Subscribe 添加订阅连接
func (s *AlertStream) Subscribe(clientIP, entityType string) *StreamClient {
	client := &StreamClient{
		ID:          uuid.New().String(),
		ClientIP:    clientIP,
		EntityType:  entityType,
		ConnectedAt: time.Now(),
		Channel:     make(chan *AnomalyAlert, streamBuffer),
		Done:        make(chan struct{}),
	}

	s.mu.Lock()
	s.clients[client.ID] = client
	s.mu.Unlock()

	slog.Info("告警订阅连接已建立", "connection_id", client.ID, "client_ip", clientIP, "entity_type", entityType)
	return client
}

// Unsubscribe 移除订阅连接
func (s *AlertStream) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if client, ok := s.clients[id]; ok {
		close(client.Done)
		delete(s.clients, id)
		slog.Info("告警订阅连接已断开", "connection_id", id)
	}
}

// Publish 广播告警到匹配的订阅连接
func (s *AlertStream) Publish(ctx context.Context, alert *AnomalyAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, client := range s.clients {
		if client.EntityType != "" && client.EntityType != alert.EntityType {
			continue
		}
		select {
		case client.Channel <- alert:
		default:
			s.dropped++
			slog.Warn("告警订阅连接队列已满，跳过发送", "connection_id", client.ID, "entity_type", alert.EntityType)
		}
	}
	return nil
}

// Close 断开全部订阅连接
func (s *AlertStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, client := range s.clients {
		close(client.Done)
		delete(s.clients, id)
	}
	return nil
}

// Connections 当前订阅连接数
func (s *AlertStream) Connections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Dropped 因队列已满丢弃的事件数
func (s *AlertStream) Dropped() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dropped
}

// MultiPublisher 将告警依次发送到多个发布器
type MultiPublisher struct {
	publishers []AlertPublisher
}

// NewMultiPublisher 组合多个发布器，忽略空值
func NewMultiPublisher(publishers ...AlertPublisher) *MultiPublisher {
	m := &MultiPublisher{}
	for _, p := range publishers {
		if p != nil {
			m.publishers = append(m.publishers, p)
		}
	}
	return m
}

// Publish 发送到全部发布器，单个失败不影响其余发布器
func (m *MultiPublisher) Publish(ctx context.Context, alert *AnomalyAlert) error {
	var errs []error
	for _, p := range m.publishers {
		if err := p.Publish(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close 关闭全部发布器
func (m *MultiPublisher) Close() error {
	var errs []error
	for _, p := range m.publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
