/*
 * @module service/config/config_manager
 * @description 配置管理器，持有当前配置快照，负责配置重载、版本记录和变更通知
 * @architecture 分层架构 - 配置层
 * @documentReference ai_docs/validation_engine_config.md
 * @stateFlow 配置加载 -> 配置验证 -> 快照替换 -> 变更通知
 * @rules 快照不可变，重载产生新对象；验证失败时保留旧快照
 * @dependencies sync/atomic, log/slog
 * @refs config_loader.go, reload_listener.go
 */

package config

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ConfigVersion 配置版本
type ConfigVersion struct {
	Version   int           `json:"version"`
	Config    *EngineConfig `json:"-"`
	LoadedAt  time.Time     `json:"loaded_at"`
	Source    string        `json:"source"`
	Succeeded bool          `json:"succeeded"`
	Error     string        `json:"error,omitempty"`
}

// ConfigChangeNotifier 配置变更通知器
type ConfigChangeNotifier func(oldConfig, newConfig *EngineConfig)

// Manager 配置管理器
type Manager struct {
	path    string
	current atomic.Pointer[EngineConfig]

	mu              sync.Mutex
	version         int
	history         []ConfigVersion
	maxHistoryCount int
	changeNotifiers []ConfigChangeNotifier
}

// NewManager 创建配置管理器并完成首次加载
func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return NewManagerWithConfig(path, cfg), nil
}

// NewManagerWithConfig 使用已构造的配置创建管理器
func NewManagerWithConfig(path string, cfg *EngineConfig) *Manager {
	m := &Manager{path: path, maxHistoryCount: 10}
	m.current.Store(cfg)
	m.record(cfg, "initial", nil)
	return m
}

// Current 获取当前配置快照
func (m *Manager) Current() *EngineConfig {
	return m.current.Load()
}

// AddChangeNotifier 添加配置变更通知器
func (m *Manager) AddChangeNotifier(notifier ConfigChangeNotifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changeNotifiers = append(m.changeNotifiers, notifier)
}

// Reload 重新加载配置文件，失败时保留旧配置
func (m *Manager) Reload(source string) error {
	cfg, err := Load(m.path)
	if err != nil {
		m.record(nil, source, err)
		slog.Error("配置重载失败，继续使用旧配置", "source", source, "error", err)
		return fmt.Errorf("配置重载失败: %w", err)
	}
	m.Swap(cfg, source)
	return nil
}

// Swap 替换配置快照并通知订阅者
func (m *Manager) Swap(cfg *EngineConfig, source string) {
	old := m.current.Swap(cfg)
	m.record(cfg, source, nil)

	m.mu.Lock()
	notifiers := make([]ConfigChangeNotifier, len(m.changeNotifiers))
	copy(notifiers, m.changeNotifiers)
	m.mu.Unlock()

	for _, notify := range notifiers {
		notify(old, cfg)
	}
	slog.Info("配置已重载", "source", source, "entities", len(cfg.Entities))
}

// History 获取配置版本记录
func (m *Manager) History() []ConfigVersion {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ConfigVersion, len(m.history))
	copy(out, m.history)
	return out
}

func (m *Manager) record(cfg *EngineConfig, source string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := ConfigVersion{LoadedAt: time.Now(), Source: source, Succeeded: err == nil}
	if err != nil {
		entry.Error = err.Error()
	} else {
		m.version++
		entry.Version = m.version
		entry.Config = cfg
	}
	m.history = append(m.history, entry)
	if len(m.history) > m.maxHistoryCount {
		m.history = m.history[len(m.history)-m.maxHistoryCount:]
	}
}
