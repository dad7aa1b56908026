package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"GatewayHMA/internal/route"
)

// Config 描述了 GatewayHMA 在启动阶段需要加载的核心配置。
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Logging      LoggingConfig      `yaml:"logging"`
	LLM          LLMConfig          `yaml:"llm"`
	Memory       MemoryConfig       `yaml:"memory"`
	Dispatch     DispatchConfig     `yaml:"dispatch"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Agents       []AgentConfig      `yaml:"agents"`
	Runtime      RuntimeConfig      `yaml:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address         string        `yaml:"address" env:"GATEWAY_SERVER_ADDRESS"`
	MetricsAddress  string        `yaml:"metrics_address" env:"GATEWAY_METRICS_ADDRESS"`
	RequestTimeout  time.Duration `yaml:"request_timeout" env:"GATEWAY_REQUEST_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"GATEWAY_SHUTDOWN_TIMEOUT"`
	APITokens       []string      `yaml:"api_tokens" env:"GATEWAY_API_TOKENS" envSeparator:","`
}

// LoggingConfig 对应 pkg/logger 的配置。
type LoggingConfig struct {
	Level     string         `yaml:"level" env:"GATEWAY_LOG_LEVEL"`
	Format    string         `yaml:"format" env:"GATEWAY_LOG_FORMAT"`
	Outputs   []string       `yaml:"outputs" env:"GATEWAY_LOG_OUTPUTS" envSeparator:","`
	AddSource bool           `yaml:"add_source" env:"GATEWAY_LOG_ADD_SOURCE"`
	Audit     AuditLogConfig `yaml:"audit"`
}

// AuditLogConfig 控制审计日志的输出与滚动。
type AuditLogConfig struct {
	Enabled    bool   `yaml:"enabled" env:"GATEWAY_AUDIT_ENABLED"`
	Path       string `yaml:"path" env:"GATEWAY_AUDIT_PATH"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider string             `yaml:"provider" env:"GATEWAY_LLM_PROVIDER"`
	OpenAI   OpenAIConfig       `yaml:"openai"`
	Python   PythonBridgeConfig `yaml:"python_bridge"`
}

// OpenAIConfig 描述 OpenAI 兼容接口的访问参数。
type OpenAIConfig struct {
	APIKey      string        `yaml:"api_key" env:"OPENAI_API_KEY"`
	BaseURL     string        `yaml:"base_url" env:"OPENAI_BASE_URL"`
	Model       string        `yaml:"model" env:"OPENAI_MODEL"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// PythonBridgeConfig 描述通过 Python 脚本完成推理时所需的信息。
type PythonBridgeConfig struct {
	PythonExecutable string `yaml:"python_executable" env:"GATEWAY_PYTHON_EXECUTABLE"`
	ScriptPath       string `yaml:"script_path" env:"GATEWAY_PYTHON_SCRIPT"`
	WorkingDir       string `yaml:"working_dir"`
}

// MemoryConfig 选择持久记忆的后端。
type MemoryConfig struct {
	Driver          string        `yaml:"driver" env:"GATEWAY_MEMORY_DRIVER"`
	DSN             string        `yaml:"dsn" env:"GATEWAY_MEMORY_DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	RecentLimit     int           `yaml:"recent_limit"`
	GraphLimit      int           `yaml:"graph_limit"`
	Redis           RedisConfig   `yaml:"redis"`
}

// RedisConfig 描述 Redis 连接。
type RedisConfig struct {
	Address   string `yaml:"address" env:"GATEWAY_REDIS_ADDRESS"`
	Password  string `yaml:"password" env:"GATEWAY_REDIS_PASSWORD"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// DispatchConfig 选择向下游目标分发答案的传输。
type DispatchConfig struct {
	Driver   string         `yaml:"driver" env:"GATEWAY_DISPATCH_DRIVER"`
	Targets  []string       `yaml:"targets" env:"GATEWAY_DISPATCH_TARGETS" envSeparator:","`
	Workers  int            `yaml:"workers"`
	Redis    RedisConfig    `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
}

// RabbitMQConfig 描述 RabbitMQ 连接。
type RabbitMQConfig struct {
	URL         string `yaml:"url" env:"GATEWAY_RABBITMQ_URL"`
	QueuePrefix string `yaml:"queue_prefix"`
	Prefetch    int    `yaml:"prefetch"`
	Durable     bool   `yaml:"durable"`
}

// OrchestratorConfig 控制编排周期。
type OrchestratorConfig struct {
	Baseline          string                `yaml:"baseline" env:"GATEWAY_BASELINE_AGENT"`
	MaxParallel       int                   `yaml:"max_parallel" env:"GATEWAY_MAX_PARALLEL"`
	AgentTimeout      time.Duration         `yaml:"agent_timeout" env:"GATEWAY_AGENT_TIMEOUT"`
	CompletionTimeout time.Duration         `yaml:"completion_timeout" env:"GATEWAY_COMPLETION_TIMEOUT"`
	IncludeRecent     *bool                 `yaml:"include_recent"`
	IncludeGraph      bool                  `yaml:"include_graph" env:"GATEWAY_INCLUDE_GRAPH"`
	RecordUserTurn    *bool                 `yaml:"record_user_turn"`
	SystemPrompt      string                `yaml:"system_prompt"`
	CatalogPath       string                `yaml:"catalog_path" env:"GATEWAY_CATALOG_PATH"`
	Snapshots         SnapshotConfig        `yaml:"snapshots"`
	Threads           map[string]route.Meta `yaml:"threads"`
}

// SnapshotConfig 控制可选的快照文件。
type SnapshotConfig struct {
	Enabled bool   `yaml:"enabled" env:"GATEWAY_SNAPSHOTS_ENABLED"`
	Dir     string `yaml:"dir"`
}

// AgentConfig 定义一个由大模型驱动的子智能体。
type AgentConfig struct {
	Name           string   `yaml:"name"`
	SystemPrompt   string   `yaml:"system_prompt"`
	AcceptKeywords []string `yaml:"accept_keywords"`
	UseTools       bool     `yaml:"use_tools"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `yaml:"data_dir" env:"GATEWAY_DATA_DIR"`
}

// Load 解析指定路径的配置文件，path 为空时只使用默认值与环境变量。
func Load(path string) (*Config, error) {
	var cfg Config
	baseDir := "."
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("解析配置失败: %w", err)
		}
		baseDir = filepath.Dir(path)
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("解析环境变量失败: %w", err)
	}

	cfg.applyDefaults(baseDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.RequestTimeout <= 0 {
		c.Server.RequestTimeout = 2 * time.Minute
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}

	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = filepath.Join(c.Runtime.DataDir, "audit.log")
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "echo"
	}
	if c.LLM.Python.PythonExecutable == "" {
		c.LLM.Python.PythonExecutable = "python3"
	}
	if c.LLM.Python.WorkingDir == "" {
		c.LLM.Python.WorkingDir = baseDir
	} else if !filepath.IsAbs(c.LLM.Python.WorkingDir) {
		c.LLM.Python.WorkingDir = filepath.Join(baseDir, c.LLM.Python.WorkingDir)
	}

	if c.Memory.Driver == "" {
		c.Memory.Driver = "file"
	}
	if c.Memory.Driver == "sqlite" && c.Memory.DSN == "" {
		c.Memory.DSN = filepath.Join(c.Runtime.DataDir, "memory.db")
	}

	if c.Dispatch.Driver == "" {
		c.Dispatch.Driver = "log"
	}
	if len(c.Dispatch.Targets) == 0 {
		c.Dispatch.Targets = []string{string(route.TargetTask), string(route.TargetLib), string(route.TargetTrn)}
	}
	if c.Dispatch.Workers <= 0 {
		c.Dispatch.Workers = 1
	}

	o := &c.Orchestrator
	if o.Baseline == "" {
		o.Baseline = "PersonalAgent"
	}
	if o.MaxParallel <= 0 {
		o.MaxParallel = 3
	}
	if o.IncludeRecent == nil {
		o.IncludeRecent = boolPtr(true)
	}
	if o.RecordUserTurn == nil {
		o.RecordUserTurn = boolPtr(true)
	}
	if o.CatalogPath != "" && !filepath.IsAbs(o.CatalogPath) {
		o.CatalogPath = filepath.Join(baseDir, o.CatalogPath)
	}
	if o.Snapshots.Dir == "" {
		o.Snapshots.Dir = filepath.Join(c.Runtime.DataDir, "snapshots")
	} else if !filepath.IsAbs(o.Snapshots.Dir) {
		o.Snapshots.Dir = filepath.Join(baseDir, o.Snapshots.Dir)
	}
}

// Validate 检查枚举字段与目标映射。
func (c *Config) Validate() error {
	var errs []error
	if !oneOf(c.LLM.Provider, "echo", "openai", "python_bridge") {
		errs = append(errs, fmt.Errorf("未知的 llm.provider: %s", c.LLM.Provider))
	}
	if !oneOf(c.Memory.Driver, "memory", "file", "sqlite", "mysql", "redis") {
		errs = append(errs, fmt.Errorf("未知的 memory.driver: %s", c.Memory.Driver))
	}
	if c.Memory.Driver == "mysql" && c.Memory.DSN == "" {
		errs = append(errs, errors.New("memory.driver=mysql 时必须提供 dsn"))
	}
	if !oneOf(c.Dispatch.Driver, "log", "memory", "redis", "rabbitmq") {
		errs = append(errs, fmt.Errorf("未知的 dispatch.driver: %s", c.Dispatch.Driver))
	}
	for _, t := range c.Dispatch.Targets {
		if !route.Target(t).Valid() {
			errs = append(errs, fmt.Errorf("dispatch.targets 包含未知目标: %s", t))
		}
	}
	for t, meta := range c.Orchestrator.Threads {
		if !route.Target(t).Valid() {
			errs = append(errs, fmt.Errorf("orchestrator.threads 包含未知目标: %s", t))
		}
		if strings.TrimSpace(meta.Thread) == "" {
			errs = append(errs, fmt.Errorf("orchestrator.threads.%s 缺少线程标签", t))
		}
	}
	seen := make(map[string]struct{}, len(c.Agents))
	for _, a := range c.Agents {
		if strings.TrimSpace(a.Name) == "" {
			errs = append(errs, errors.New("agents 中存在未命名的子智能体"))
			continue
		}
		if _, dup := seen[a.Name]; dup {
			errs = append(errs, fmt.Errorf("子智能体重名: %s", a.Name))
		}
		seen[a.Name] = struct{}{}
	}
	return errors.Join(errs...)
}

// MetaTable 返回合并了配置覆盖的目标映射表。
func (c *Config) MetaTable() route.MetaTable {
	table := route.DefaultMetaTable()
	for t, meta := range c.Orchestrator.Threads {
		table[route.Target(t)] = meta
	}
	return table
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}

func boolPtr(v bool) *bool { return &v }
