package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Config 描述了 ToolFlow 在启动阶段需要加载的核心配置。
type Config struct {
	Server    ServerConfig    `json:"server"`
	Store     StoreConfig     `json:"store"`
	Queue     QueueConfig     `json:"queue"`
	Engine    EngineConfig    `json:"engine"`
	Providers ProvidersConfig `json:"providers"`
	Logging   LoggingConfig   `json:"logging"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address        string `json:"address"`
	MetricsAddress string `json:"metrics_address"`
}

// StoreConfig 描述运行状态的持久化后端。
type StoreConfig struct {
	Driver     string `json:"driver"`
	DSN        string `json:"dsn"`
	MaxRetries int    `json:"max_retries"`
}

// QueueConfig 描述运行队列的驱动与工作协程数。
type QueueConfig struct {
	Driver   string         `json:"driver"`
	Worker   int            `json:"worker"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 队列的连接参数。
type RedisConfig struct {
	Address   string `json:"address"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	Queue     string `json:"queue"`
	BlockWait int    `json:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// EngineConfig 控制执行引擎的超时参数。
type EngineConfig struct {
	CallTimeoutSeconds int `json:"call_timeout_seconds"`
	PlanTimeoutSeconds int `json:"plan_timeout_seconds"`
}

// ProvidersConfig 指向工具提供方的定义文件。
type ProvidersConfig struct {
	DefinitionsPath string `json:"definitions_path"`
}

// LoggingConfig 控制日志输出行为。
type LoggingConfig struct {
	Level       string      `json:"level"`
	Format      string      `json:"format"`
	OutputPaths []string    `json:"output_paths"`
	Audit       AuditConfig `json:"audit"`
}

// AuditConfig 控制审计日志的落盘与轮转。
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
	if c.Store.MaxRetries <= 0 {
		c.Store.MaxRetries = 3
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Worker <= 0 {
		c.Queue.Worker = 4
	}
	if c.Queue.Redis.Queue == "" {
		c.Queue.Redis.Queue = "toolflow:runs"
	}
	if c.Queue.Redis.BlockWait <= 0 {
		c.Queue.Redis.BlockWait = 5
	}
	if c.Queue.RabbitMQ.Queue == "" {
		c.Queue.RabbitMQ.Queue = "toolflow.runs"
	}

	if c.Engine.CallTimeoutSeconds <= 0 {
		c.Engine.CallTimeoutSeconds = 30
	}

	if c.Providers.DefinitionsPath != "" && !filepath.IsAbs(c.Providers.DefinitionsPath) {
		c.Providers.DefinitionsPath = filepath.Join(baseDir, c.Providers.DefinitionsPath)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Audit.Enabled {
		if c.Logging.Audit.Path == "" {
			c.Logging.Audit.Path = filepath.Join(baseDir, "logs", "audit.log")
		} else if !filepath.IsAbs(c.Logging.Audit.Path) {
			c.Logging.Audit.Path = filepath.Join(baseDir, c.Logging.Audit.Path)
		}
	}
}
