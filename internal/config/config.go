package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ClientConfig 客户端统一配置
type ClientConfig struct {
	API      APIConfig      `mapstructure:"api" yaml:"api"`
	Push     PushConfig     `mapstructure:"push" yaml:"push"`
	Map      MapConfig      `mapstructure:"map" yaml:"map"`
	Contacts ContactsConfig `mapstructure:"contacts" yaml:"contacts"`
}

// APIConfig API访问配置
type APIConfig struct {
	BaseURL string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// PushConfig 推送通道配置
type PushConfig struct {
	URL               string        `mapstructure:"url" yaml:"url"`
	PingInterval      time.Duration `mapstructure:"ping_interval" yaml:"ping_interval"`
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval" yaml:"reconnect_interval"`
	MaxReconnectTries int           `mapstructure:"max_reconnect_tries" yaml:"max_reconnect_tries"`
}

// MapConfig 地图展示配置
type MapConfig struct {
	DefaultZoom int `mapstructure:"default_zoom" yaml:"default_zoom"`
}

// ContactsConfig 最近联系人配置
type ContactsConfig struct {
	MaxRecent int `mapstructure:"max_recent" yaml:"max_recent"`
}

// DefaultClientConfig 返回默认配置
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		API: APIConfig{
			BaseURL: "http://127.0.0.1:8080",
			Timeout: 30 * time.Second,
		},
		Push: PushConfig{
			URL:               "ws://127.0.0.1:8080/push",
			PingInterval:      30 * time.Second,
			ReconnectInterval: 2 * time.Second,
			MaxReconnectTries: 10,
		},
		Map:      MapConfig{DefaultZoom: 13},
		Contacts: ContactsConfig{MaxRecent: 10},
	}
}

// Manager 配置管理器，支持YAML加载和文件变更热加载
type Manager struct {
	mu           sync.RWMutex
	config       *ClientConfig
	v            *viper.Viper
	configPath   string
	watchEnabled bool
	onChange     func(*ClientConfig)
}

// ManagerOption 管理器选项
type ManagerOption func(*Manager)

// WithConfigPath 设置配置文件路径
func WithConfigPath(path string) ManagerOption {
	return func(m *Manager) {
		m.configPath = path
	}
}

// WithWatchEnabled 启用配置文件变更监控
func WithWatchEnabled(enabled bool) ManagerOption {
	return func(m *Manager) {
		m.watchEnabled = enabled
	}
}

// WithChangeHandler 设置配置变更回调
func WithChangeHandler(handler func(*ClientConfig)) ManagerOption {
	return func(m *Manager) {
		m.onChange = handler
	}
}

// NewManager 创建配置管理器
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load 加载配置。没有配置文件时返回默认配置。
func (m *Manager) Load() (*ClientConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.config != nil {
		return m.config, nil
	}

	config := DefaultClientConfig()

	if m.configPath != "" {
		v := viper.New()
		v.SetConfigFile(m.configPath)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file failed: %w", err)
		}
		if err := v.Unmarshal(config); err != nil {
			return nil, fmt.Errorf("unmarshal config failed: %w", err)
		}

		m.v = v
		if m.watchEnabled {
			m.watch()
		}
	}

	m.config = config
	return config, nil
}

// watch 监控配置文件变化并重新加载
func (m *Manager) watch() {
	m.v.WatchConfig()
	m.v.OnConfigChange(func(e fsnotify.Event) {
		config := DefaultClientConfig()
		if err := m.v.Unmarshal(config); err != nil {
			return
		}

		m.mu.Lock()
		m.config = config
		handler := m.onChange
		m.mu.Unlock()

		if handler != nil {
			handler(config)
		}
	})
}

// Get 返回当前配置，未加载时返回默认配置
func (m *Manager) Get() *ClientConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return DefaultClientConfig()
	}
	return m.config
}

// 全局配置管理器实例
var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetGlobalManager 获取全局配置管理器
func GetGlobalManager() *Manager {
	managerOnce.Do(func() {
		globalManager = NewManager()
	})
	return globalManager
}

// GetGlobalClientConfig 获取全局客户端配置
func GetGlobalClientConfig() *ClientConfig {
	return GetGlobalManager().Get()
}
