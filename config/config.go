package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"
)

const (
	DefaultBaseURL    = "https://api.stripe.com/"
	DefaultAPIVersion = "2024-06-20"
)

type Config struct {
	API        APIConfig        `yaml:"api"`
	Retry      RetryConfig      `yaml:"retry"`
	Transport  TransportConfig  `yaml:"transport"`
	Logging    LoggingConfig    `yaml:"logging"`
	RequestLog RequestLogConfig `yaml:"request_log"` // Persistent request log
	Metrics    MetricsConfig    `yaml:"metrics"`
	Probe      ProbeConfig      `yaml:"probe"`
	Timezone   string           `yaml:"timezone"` // Timezone used by the request log
}

type APIConfig struct {
	BaseURL       string `yaml:"base_url"`
	SecretKey     string `yaml:"secret_key"`
	APIVersion    string `yaml:"api_version"`
	StripeAccount string `yaml:"stripe_account,omitempty"` // Connect account sent as Stripe-Account
	UserAgent     string `yaml:"user_agent,omitempty"`
}

type RetryConfig struct {
	Strategy    string        `yaml:"strategy"` // "once", "no_retry" or "retry"
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Multiplier  float64       `yaml:"multiplier"`
}

type TransportConfig struct {
	Timeout               time.Duration `yaml:"timeout"` // Per-attempt timeout
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout"`
	ResponseHeaderTimeout time.Duration `yaml:"response_header_timeout"`
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout"`
	MaxIdleConns          int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host"`
	Proxy                 ProxyConfig   `yaml:"proxy"`
}

type ProxyConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Type     string `yaml:"type"`     // "http", "https", "socks5"
	URL      string `yaml:"url"`      // Complete proxy URL
	Host     string `yaml:"host"`     // Proxy host
	Port     int    `yaml:"port"`     // Proxy port
	Username string `yaml:"username"` // Optional auth username
	Password string `yaml:"password"` // Optional auth password
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`              // "json" or "text"
	FilePath string `yaml:"file_path,omitempty"` // Also append logs to this file when set
}

type RequestLogConfig struct {
	Enabled bool `yaml:"enabled"` // Enable request log, default: false

	// SQLite file path, used when database is not configured
	DatabasePath string `yaml:"database_path"`

	// 数据库配置（可选，优先级高于 database_path）
	Database *DatabaseBackendConfig `yaml:"database,omitempty"`

	BufferSize      int           `yaml:"buffer_size"`      // Event buffer size, default: 1000
	BatchSize       int           `yaml:"batch_size"`       // Batch write size, default: 100
	FlushInterval   time.Duration `yaml:"flush_interval"`   // Force flush interval, default: 5s
	RetentionDays   int           `yaml:"retention_days"`   // Data retention days (0=permanent), default: 30
	CleanupInterval time.Duration `yaml:"cleanup_interval"` // Cleanup task interval, default: 24h
}

// DatabaseBackendConfig 数据库后端配置
type DatabaseBackendConfig struct {
	Type string `yaml:"type"` // "sqlite" | "mysql"

	// SQLite配置
	Path string `yaml:"path,omitempty"`

	// MySQL配置
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	Database string `yaml:"database,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`

	// 连接池配置
	MaxOpenConns    int           `yaml:"max_open_conns,omitempty"`
	MaxIdleConns    int           `yaml:"max_idle_conns,omitempty"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime,omitempty"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time,omitempty"`

	// MySQL特定配置
	Charset  string `yaml:"charset,omitempty"`
	Timezone string `yaml:"timezone,omitempty"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"` // default: 127.0.0.1:9464
	Path    string `yaml:"path"`   // default: /metrics
}

type ProbeConfig struct {
	Interval time.Duration `yaml:"interval"` // default: 30s
	Path     string        `yaml:"path"`     // default: /v1/balance
}

// LoadConfig loads configuration from file.
// ${VAR} references are expanded from the environment before parsing.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse parses YAML configuration bytes, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var config Config
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.setDefaults()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var config Config
	config.setDefaults()
	return &config
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.API.BaseURL == "" {
		c.API.BaseURL = DefaultBaseURL
	}
	if c.API.APIVersion == "" {
		c.API.APIVersion = DefaultAPIVersion
	}
	if c.API.UserAgent == "" {
		c.API.UserAgent = "stripekit/1.0"
	}
	if c.Retry.Strategy == "" {
		c.Retry.Strategy = "retry"
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = 500 * time.Millisecond
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = 8 * time.Second
	}
	if c.Retry.Multiplier == 0 {
		c.Retry.Multiplier = 2.0
	}
	if c.Transport.Timeout == 0 {
		c.Transport.Timeout = 80 * time.Second
	}
	if c.Transport.TLSHandshakeTimeout == 0 {
		c.Transport.TLSHandshakeTimeout = 10 * time.Second
	}
	if c.Transport.ResponseHeaderTimeout == 0 {
		c.Transport.ResponseHeaderTimeout = 60 * time.Second
	}
	if c.Transport.IdleConnTimeout == 0 {
		c.Transport.IdleConnTimeout = 90 * time.Second
	}
	if c.Transport.MaxIdleConns == 0 {
		c.Transport.MaxIdleConns = 100
	}
	if c.Transport.MaxIdleConnsPerHost == 0 {
		c.Transport.MaxIdleConnsPerHost = 10
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	// Request log defaults
	if c.RequestLog.DatabasePath == "" {
		c.RequestLog.DatabasePath = "data/requests.db"
	}
	if c.RequestLog.BufferSize == 0 {
		c.RequestLog.BufferSize = 1000
	}
	if c.RequestLog.BatchSize == 0 {
		c.RequestLog.BatchSize = 100
	}
	if c.RequestLog.FlushInterval == 0 {
		c.RequestLog.FlushInterval = 5 * time.Second
	}
	if c.RequestLog.RetentionDays == 0 {
		c.RequestLog.RetentionDays = 30
	}
	if c.RequestLog.CleanupInterval == 0 {
		c.RequestLog.CleanupInterval = 24 * time.Hour
	}
	if c.RequestLog.Database != nil && c.RequestLog.Database.Type == "" {
		if c.RequestLog.Database.Host != "" {
			c.RequestLog.Database.Type = "mysql"
		} else {
			c.RequestLog.Database.Type = "sqlite"
		}
	}

	if c.Metrics.Listen == "" {
		c.Metrics.Listen = "127.0.0.1:9464"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Probe.Interval == 0 {
		c.Probe.Interval = 30 * time.Second
	}
	if c.Probe.Path == "" {
		c.Probe.Path = "/v1/balance"
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
}

// validate validates the configuration
func (c *Config) validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil {
		return fmt.Errorf("api base_url is invalid: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("api base_url must use http or https, got %q", c.API.BaseURL)
	}
	if c.API.SecretKey != "" && !strings.HasPrefix(c.API.SecretKey, "sk_") && !strings.HasPrefix(c.API.SecretKey, "rk_") {
		return fmt.Errorf("api secret_key must be a secret (sk_) or restricted (rk_) key")
	}

	switch c.Retry.Strategy {
	case "once", "no_retry":
	case "retry":
		if c.Retry.MaxAttempts < 1 {
			return fmt.Errorf("retry max_attempts must be at least 1")
		}
	default:
		return fmt.Errorf("retry strategy must be 'once', 'no_retry' or 'retry'")
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry multiplier must be >= 1")
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("retry max_delay must be >= base_delay")
	}

	// Validate proxy configuration
	if c.Transport.Proxy.Enabled {
		if c.Transport.Proxy.Type == "" {
			return fmt.Errorf("proxy type is required when proxy is enabled")
		}
		if c.Transport.Proxy.Type != "http" && c.Transport.Proxy.Type != "https" && c.Transport.Proxy.Type != "socks5" {
			return fmt.Errorf("proxy type must be 'http', 'https', or 'socks5'")
		}
		if c.Transport.Proxy.URL == "" && (c.Transport.Proxy.Host == "" || c.Transport.Proxy.Port == 0) {
			return fmt.Errorf("proxy URL or host:port must be specified when proxy is enabled")
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging level must be one of debug, info, warn, error")
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("logging format must be 'text' or 'json'")
	}

	if c.RequestLog.Enabled {
		if c.RequestLog.BatchSize > c.RequestLog.BufferSize {
			return fmt.Errorf("request_log batch_size cannot exceed buffer_size")
		}
		if db := c.RequestLog.Database; db != nil {
			switch db.Type {
			case "sqlite":
			case "mysql":
				if db.Host == "" || db.Database == "" || db.Username == "" {
					return fmt.Errorf("request_log mysql requires host, database and username")
				}
			default:
				return fmt.Errorf("request_log database type must be 'sqlite' or 'mysql'")
			}
		}
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone %q is invalid: %w", c.Timezone, err)
	}

	return nil
}

// ConfigWatcher handles automatic configuration reloading
type ConfigWatcher struct {
	configPath    string
	config        *Config
	mutex         sync.RWMutex
	watcher       *fsnotify.Watcher
	logger        *slog.Logger
	callbacks     []func(*Config)
	lastModTime   time.Time
	debounceTimer *time.Timer
	debounce      time.Duration
}

// NewConfigWatcher creates a new configuration watcher
func NewConfigWatcher(configPath string, logger *slog.Logger) (*ConfigWatcher, error) {
	config, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial config: %w", err)
	}

	fileInfo, err := os.Stat(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	cw := &ConfigWatcher{
		configPath:  configPath,
		config:      config,
		watcher:     watcher,
		logger:      logger,
		callbacks:   make([]func(*Config), 0),
		lastModTime: fileInfo.ModTime(),
		debounce:    500 * time.Millisecond,
	}

	if err := watcher.Add(configPath); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch config file: %w", err)
	}

	go cw.watchLoop()

	return cw, nil
}

// GetConfig returns the current configuration (thread-safe)
func (cw *ConfigWatcher) GetConfig() *Config {
	cw.mutex.RLock()
	defer cw.mutex.RUnlock()
	return cw.config
}

// UpdateLogger updates the logger used by the config watcher
func (cw *ConfigWatcher) UpdateLogger(logger *slog.Logger) {
	cw.mutex.Lock()
	defer cw.mutex.Unlock()
	cw.logger = logger
}

// AddReloadCallback adds a callback function that will be called when config is reloaded
func (cw *ConfigWatcher) AddReloadCallback(callback func(*Config)) {
	cw.mutex.Lock()
	defer cw.mutex.Unlock()
	cw.callbacks = append(cw.callbacks, callback)
}

func (cw *ConfigWatcher) log() *slog.Logger {
	cw.mutex.RLock()
	defer cw.mutex.RUnlock()
	return cw.logger
}

// watchLoop monitors the config file for changes
func (cw *ConfigWatcher) watchLoop() {
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				fileInfo, err := os.Stat(cw.configPath)
				if err != nil {
					cw.log().Warn(fmt.Sprintf("⚠️ 无法获取配置文件信息: %v", err))
					continue
				}

				// Skip if modification time hasn't changed
				if !fileInfo.ModTime().After(cw.lastModTime) {
					continue
				}
				cw.lastModTime = fileInfo.ModTime()

				cw.mutex.Lock()
				if cw.debounceTimer != nil {
					cw.debounceTimer.Stop()
				}
				cw.debounceTimer = time.AfterFunc(cw.debounce, func() {
					cw.log().Info(fmt.Sprintf("🔄 检测到配置文件变更，正在重新加载... - 文件: %s", event.Name))
					if err := cw.reloadConfig(); err != nil {
						cw.log().Error(fmt.Sprintf("❌ 配置文件重新加载失败: %v", err))
					} else {
						cw.log().Info("✅ 配置文件重新加载成功")
					}
				})
				cw.mutex.Unlock()
			}

			// Some editors rename the file while saving
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				time.Sleep(100 * time.Millisecond)
				if _, err := os.Stat(cw.configPath); err == nil {
					cw.watcher.Add(cw.configPath)
					cw.log().Info(fmt.Sprintf("🔄 重新监听配置文件: %s", cw.configPath))
				}
			}

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.log().Error(fmt.Sprintf("⚠️ 配置文件监听错误: %v", err))
		}
	}
}

// reloadConfig reloads the configuration from file
func (cw *ConfigWatcher) reloadConfig() error {
	newConfig, err := LoadConfig(cw.configPath)
	if err != nil {
		return err
	}

	cw.mutex.Lock()
	oldConfig := cw.config
	cw.config = newConfig
	callbacks := make([]func(*Config), len(cw.callbacks))
	copy(callbacks, cw.callbacks)
	cw.mutex.Unlock()

	for _, callback := range callbacks {
		callback(newConfig)
	}

	cw.logConfigChanges(oldConfig, newConfig)

	return nil
}

// ChangedSections reports which top-level sections differ between two configurations.
func ChangedSections(oldConfig, newConfig *Config) []string {
	var changed []string
	if !cmp.Equal(oldConfig.API, newConfig.API) {
		changed = append(changed, "api")
	}
	if !cmp.Equal(oldConfig.Retry, newConfig.Retry) {
		changed = append(changed, "retry")
	}
	if !cmp.Equal(oldConfig.Transport, newConfig.Transport) {
		changed = append(changed, "transport")
	}
	if !cmp.Equal(oldConfig.Logging, newConfig.Logging) {
		changed = append(changed, "logging")
	}
	if !cmp.Equal(oldConfig.RequestLog, newConfig.RequestLog) {
		changed = append(changed, "request_log")
	}
	if !cmp.Equal(oldConfig.Metrics, newConfig.Metrics) {
		changed = append(changed, "metrics")
	}
	if !cmp.Equal(oldConfig.Probe, newConfig.Probe) {
		changed = append(changed, "probe")
	}
	if oldConfig.Timezone != newConfig.Timezone {
		changed = append(changed, "timezone")
	}
	return changed
}

// logConfigChanges logs the key differences between old and new configurations
func (cw *ConfigWatcher) logConfigChanges(oldConfig, newConfig *Config) {
	logger := cw.log()

	if oldConfig.API.SecretKey != newConfig.API.SecretKey {
		logger.Info("🔐 API密钥已变更",
			"old_key", MaskKey(oldConfig.API.SecretKey),
			"new_key", MaskKey(newConfig.API.SecretKey))
	}

	if oldConfig.API.BaseURL != newConfig.API.BaseURL {
		logger.Info("🌐 API地址变更",
			"old_base_url", oldConfig.API.BaseURL,
			"new_base_url", newConfig.API.BaseURL)
	}

	if !cmp.Equal(oldConfig.Retry, newConfig.Retry) {
		logger.Info("🔄 重试策略变更",
			"old_strategy", oldConfig.Retry.Strategy,
			"new_strategy", newConfig.Retry.Strategy,
			"old_max_attempts", oldConfig.Retry.MaxAttempts,
			"new_max_attempts", newConfig.Retry.MaxAttempts)
	}

	if oldConfig.RequestLog.Enabled != newConfig.RequestLog.Enabled {
		logger.Info("📊 请求日志状态变更（需重启生效）",
			"old_enabled", oldConfig.RequestLog.Enabled,
			"new_enabled", newConfig.RequestLog.Enabled)
	}

	if changed := ChangedSections(oldConfig, newConfig); len(changed) > 0 {
		logger.Debug("配置变更分区", "sections", strings.Join(changed, ","))
	}
}

// Close stops the configuration watcher
func (cw *ConfigWatcher) Close() error {
	cw.mutex.Lock()
	if cw.debounceTimer != nil {
		cw.debounceTimer.Stop()
	}
	cw.mutex.Unlock()
	return cw.watcher.Close()
}

// SaveConfig saves configuration to file
func SaveConfig(config *Config, path string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MaskKey hides all but the prefix and the last four characters of an API key.
func MaskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 12 {
		return strings.Repeat("*", len(key))
	}
	return key[:8] + strings.Repeat("*", len(key)-12) + key[len(key)-4:]
}
