/*
 * @module api/controllers/event_controller
 * @description 告警事件控制器，通过SSE推送质量评分异常告警
 * @architecture RESTful API架构 - 控制器层
 * @documentReference ai_docs/quality_alerting.md
 * @stateFlow 建立连接 -> 订阅告警 -> 推送事件 -> 连接断开时取消订阅
 * @rules 定期发送心跳保持连接
 * @dependencies net/http, encoding/json
 * @refs service/event/alert_stream.go
 */

package controllers

import (
	"dataquality-service/service/event"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// EventController 告警事件控制器
type EventController struct {
	stream    *event.AlertStream
	heartbeat time.Duration
}

// NewEventController 创建告警事件控制器实例
func NewEventController(stream *event.AlertStream) *EventController {
	return &EventController{stream: stream, heartbeat: 30 * time.Second}
}

// StreamAlerts 订阅异常告警
// @Summary 订阅异常告警
// @Description 通过SSE接收质量评分异常告警，可按实体类型过滤
// @Tags 事件
// @Param entity_type query string false "实体类型"
// @Success 200 {string} string "SSE事件流"
// @Router /events/alerts [get]
func (c *EventController) StreamAlerts(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, InternalErrorResponse("当前连接不支持事件流", nil))
		return
	}

	// 设置SSE响应头
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	clientIP := r.RemoteAddr
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		clientIP = forwarded
	}
	client := c.stream.Subscribe(clientIP, r.URL.Query().Get("entity_type"))
	defer c.stream.Unsubscribe(client.ID)

	fmt.Fprintf(w, "event: connected\ndata: {\"connection_id\":%q}\n\n", client.ID)
	flusher.Flush()

	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case alert := <-client.Channel:
			data, err := json.Marshal(alert)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: anomaly\ndata: %s\n\n", data)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case <-client.Done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
