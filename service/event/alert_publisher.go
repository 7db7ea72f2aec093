/*
 * @module service/event/alert_publisher
 * @description 质量异常告警发布，支持日志、Kafka、MQTT三种后端
 * @architecture 发布订阅模式 - 告警出口
 * @documentReference ai_docs/validation_engine_design.md
 * @stateFlow 评分引擎检测到异常 -> 构造告警 -> 按配置后端发布
 * @rules 告警发布失败只记录日志，不影响评分结果落库；消息体统一为JSON
 * @dependencies github.com/segmentio/kafka-go, github.com/eclipse/paho.mqtt.golang
 * @refs service/scoring/scoring_engine.go, service/config/engine_config.go
 */

package event

import (
	"context"
	"dataquality-service/service/config"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/segmentio/kafka-go"
)

// AnomalyAlert 质量异常告警
type AnomalyAlert struct {
	EntityType     string             `json:"entity_type"`
	RunID          string             `json:"run_id"`
	Score          float64            `json:"score"`
	RollingAverage float64            `json:"rolling_average"`
	RollingStdDev  float64            `json:"rolling_stddev"`
	Deviation      float64            `json:"deviation"`
	Reason         string             `json:"reason"`
	CategoryScores map[string]float64 `json:"category_scores,omitempty"`
	DetectedAt     time.Time          `json:"detected_at"`
}

// AlertPublisher 告警发布器
type AlertPublisher interface {
	Publish(ctx context.Context, alert *AnomalyAlert) error
	Close() error
}

// NewAlertPublisher 根据告警配置创建发布器
func NewAlertPublisher(cfg config.AlertingConfig) (AlertPublisher, error) {
	switch cfg.Backend {
	case "", "log":
		return &LogPublisher{}, nil
	case "none":
		return NopPublisher{}, nil
	case "kafka":
		return NewKafkaPublisher(cfg.Kafka), nil
	case "mqtt":
		return NewMQTTPublisher(cfg.MQTT)
	}
	return nil, fmt.Errorf("不支持的告警后端: %s", cfg.Backend)
}

// NopPublisher 丢弃全部告警
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, alert *AnomalyAlert) error { return nil }
func (NopPublisher) Close() error                                          { return nil }

// LogPublisher 以结构化日志输出告警
type LogPublisher struct{}

// Publish 发布告警
func (p *LogPublisher) Publish(ctx context.Context, alert *AnomalyAlert) error {
	slog.Warn("检测到质量评分异常",
		"entity", alert.EntityType,
		"run_id", alert.RunID,
		"score", alert.Score,
		"rolling_average", alert.RollingAverage,
		"deviation", alert.Deviation,
		"reason", alert.Reason)
	return nil
}

// Close 关闭发布器
func (p *LogPublisher) Close() error { return nil }

// messageWriter kafka.Writer 的最小子集
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher 发布告警到Kafka主题，消息键为实体类型
type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

// NewKafkaPublisher 创建Kafka告警发布器
func NewKafkaPublisher(cfg config.KafkaConfig) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
		},
		topic: cfg.Topic,
	}
}

// Publish 发布告警
func (p *KafkaPublisher) Publish(ctx context.Context, alert *AnomalyAlert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("序列化告警失败: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(alert.EntityType),
		Value: payload,
		Time:  alert.DetectedAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte("quality_anomaly")},
			{Key: "run_id", Value: []byte(alert.RunID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("发送告警到Kafka主题 %s 失败: %w", p.topic, err)
	}
	return nil
}

// Close 关闭Kafka生产者
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// MQTTPublisher 发布告警到MQTT主题 <topic>/<entity>
type MQTTPublisher struct {
	client mqtt.Client
	topic  string
	qos    byte
}

// NewMQTTPublisher 创建并连接MQTT告警发布器
func NewMQTTPublisher(cfg config.MQTTConfig) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "dataquality-service"
	}
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		slog.Warn("MQTT连接断开", "broker", cfg.Broker, "error", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("MQTT连接失败: %w", token.Error())
	}
	return &MQTTPublisher{client: client, topic: cfg.Topic, qos: cfg.QoS}, nil
}

// Publish 发布告警
func (p *MQTTPublisher) Publish(ctx context.Context, alert *AnomalyAlert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("序列化告警失败: %w", err)
	}

	token := p.client.Publish(p.topic+"/"+alert.EntityType, p.qos, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("发布MQTT告警失败: %w", err)
	}
	return nil
}

// Close 断开MQTT连接
func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}
