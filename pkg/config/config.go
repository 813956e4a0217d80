// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// DefaultPath 默认配置文件路径
const DefaultPath = "configs/copilot.yaml"

// Config 应用配置结构体
type Config struct {
	Agent      AgentConfig      `mapstructure:"agent"`
	Model      ModelConfig      `mapstructure:"model"`
	RateLimits RateLimitsConfig `mapstructure:"rate_limits"`
	Fleet      FleetConfig      `mapstructure:"fleet"`
	Polling    PollingConfig    `mapstructure:"polling"`
	Memory     MemoryConfig     `mapstructure:"memory"`
	Log        LogConfig        `mapstructure:"log"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	ReadOnly   bool             `mapstructure:"read_only"` // --read-only：仅允许只读工具
}

// AgentConfig 编排循环与 agent 身份配置
type AgentConfig struct {
	Name              string        `mapstructure:"name"`
	Username          string        `mapstructure:"username"`
	Timezone          string        `mapstructure:"timezone"`
	MaxRounds         int           `mapstructure:"max_rounds"`          // 单轮对话最多工具调用轮数
	ShortTermMessages int           `mapstructure:"short_term_messages"` // 短期记忆窗口大小
	MemoryTopK        int           `mapstructure:"memory_top_k"`
	LLMRetries        int           `mapstructure:"llm_retries"`
	LLMBackoff        time.Duration `mapstructure:"llm_backoff"` // 首次重试等待，如 "500ms"
	Greet             bool          `mapstructure:"greet"`
}

// ModelConfig 模型配置：推理模型、采样模型、向量模型
type ModelConfig struct {
	Chat      ProviderConfig `mapstructure:"chat"`
	Sampling  ProviderConfig `mapstructure:"sampling"`
	Embedding ProviderConfig `mapstructure:"embedding"`
}

// ProviderConfig 单个模型提供方配置
type ProviderConfig struct {
	Provider    string        `mapstructure:"provider"` // openai | hash（仅 embedding，本地确定性向量）
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Dimension   int           `mapstructure:"dimension"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// RateLimitsConfig 限流配置
type RateLimitsConfig struct {
	LLM map[string]LLMRateLimitConfig `mapstructure:"llm"`
}

// LLMRateLimitConfig 单个 LLM Provider 的限流配置
type LLMRateLimitConfig struct {
	TokensPerMinute   int     `mapstructure:"tokens_per_minute"`
	RequestsPerMinute float64 `mapstructure:"requests_per_minute"`
	MaxConcurrent     int     `mapstructure:"max_concurrent"`
}

// FleetConfig 节点清单与远程执行配置
type FleetConfig struct {
	DBNodes   []string      `mapstructure:"db_nodes"`
	CellNodes []string      `mapstructure:"cell_nodes"`
	DCLIPath  string        `mapstructure:"dcli_path"`
	User      string        `mapstructure:"user"`
	Timeout   time.Duration `mapstructure:"timeout"` // 单条远程命令超时
}

// PollingConfig 节点问答轮询配置
type PollingConfig struct {
	Enable      bool          `mapstructure:"enable"` // --poll
	Interval    time.Duration `mapstructure:"interval"`
	Concurrency int           `mapstructure:"concurrency"`
	QAPath      string        `mapstructure:"qa_path"`
}

// MemoryConfig 长期记忆存储配置
type MemoryConfig struct {
	Type        string         `mapstructure:"type"` // file | redis
	Dir         string         `mapstructure:"dir"`
	UseDatabase bool           `mapstructure:"use_database"` // --database：改用 database 段配置的关系型存储
	Database    DatabaseConfig `mapstructure:"database"`
	Redis       RedisConfig    `mapstructure:"redis"`
}

// DatabaseConfig 关系型存储配置
type DatabaseConfig struct {
	Type string `mapstructure:"type"` // postgres | sqlite
	DSN  string `mapstructure:"dsn"`
}

// RedisConfig Redis 存储配置
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// Backend 返回实际使用的长期记忆后端名称
func (m MemoryConfig) Backend() string {
	if m.UseDatabase {
		return m.Database.Type
	}
	if m.Type == "" {
		return "file"
	}
	return m.Type
}

// LogConfig 日志配置
type LogConfig struct {
	Level   string `mapstructure:"level"`
	Format  string `mapstructure:"format"`
	File    string `mapstructure:"file"`
	Verbose bool   `mapstructure:"verbose"`
}

// MonitoringConfig 监控配置
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// TracingConfig OpenTelemetry 追踪配置
type TracingConfig struct {
	Enable         bool   `mapstructure:"enable"`
	ServiceName    string `mapstructure:"service_name"`
	ExportEndpoint string `mapstructure:"export_endpoint"`
	Insecure       bool   `mapstructure:"insecure"`
}

// PrometheusConfig Prometheus 指标端点配置
type PrometheusConfig struct {
	Enable bool   `mapstructure:"enable"`
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port"`
}

// RegisterFlags 注册进程入口参数
func RegisterFlags(fs *pflag.FlagSet) {
	fs.BoolP("verbose", "v", false, "print every step the agent takes")
	fs.BoolP("poll", "p", false, "answer questions left on node attributes")
	fs.BoolP("database", "d", false, "store long-term memory in the configured database")
	fs.BoolP("read-only", "r", false, "only allow tools that do not change node state")
	fs.StringP("config", "c", DefaultPath, "path to the configuration file")
}

var flagKeys = map[string]string{
	"verbose":   "log.verbose",
	"poll":      "polling.enable",
	"database":  "memory.use_database",
	"read-only": "read_only",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("agent.name", "Copilot")
	v.SetDefault("agent.timezone", "UTC")
	v.SetDefault("agent.max_rounds", 8)
	v.SetDefault("agent.short_term_messages", 10)
	v.SetDefault("agent.memory_top_k", 3)
	v.SetDefault("agent.llm_retries", 3)
	v.SetDefault("agent.llm_backoff", "500ms")
	v.SetDefault("model.chat.provider", "openai")
	v.SetDefault("model.sampling.provider", "openai")
	v.SetDefault("model.embedding.provider", "openai")
	v.SetDefault("model.embedding.dimension", 256)
	v.SetDefault("fleet.dcli_path", "dcli")
	v.SetDefault("fleet.user", "root")
	v.SetDefault("fleet.timeout", "60s")
	v.SetDefault("polling.interval", "10s")
	v.SetDefault("polling.concurrency", 4)
	v.SetDefault("polling.qa_path", "data/qa.txt")
	v.SetDefault("memory.type", "file")
	v.SetDefault("memory.dir", "data/memory")
	v.SetDefault("memory.redis.prefix", "copilot")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("monitoring.prometheus.host", "127.0.0.1")
	v.SetDefault("monitoring.prometheus.port", 9464)
	v.SetDefault("monitoring.tracing.service_name", "fleet-copilot")
}

// LoadConfig 加载配置文件；fs 非 nil 时命令行参数覆盖文件中的值
func LoadConfig(configPath string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if fs != nil {
		for flag, key := range flagKeys {
			f := fs.Lookup(flag)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("绑定参数 %s 失败: %w", flag, err)
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("无法读取配置文件: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("无法解析配置文件: %w", err)
	}

	replaceEnvVars(&config)
	return &config, nil
}

// replaceEnvVars 展开 ${VAR} 形式的密钥与连接串
func replaceEnvVars(config *Config) {
	for _, p := range []*ProviderConfig{&config.Model.Chat, &config.Model.Sampling, &config.Model.Embedding} {
		p.APIKey = expandEnv(p.APIKey)
	}
	config.Memory.Database.DSN = expandEnv(config.Memory.Database.DSN)
	config.Memory.Redis.Password = expandEnv(config.Memory.Redis.Password)
}

func expandEnv(s string) string {
	if !strings.HasPrefix(s, "$") {
		return s
	}
	envVar := strings.TrimPrefix(strings.TrimSuffix(s, "}"), "${")
	envVar = strings.TrimPrefix(envVar, "$")
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return s
}

// Validate 检查各配置段必填项，返回所有缺失项
func (c *Config) Validate() error {
	var errs []error
	missing := func(section, field string) {
		errs = append(errs, fmt.Errorf("missing %s information in config: %s", section, field))
	}

	if c.Agent.Name == "" {
		missing("agent", "name")
	}
	if c.Agent.Username == "" {
		missing("agent", "username")
	}
	if c.Agent.MaxRounds <= 0 {
		missing("agent", "max_rounds")
	}
	if c.Agent.ShortTermMessages <= 0 {
		missing("agent", "short_term_messages")
	}
	if _, err := time.LoadLocation(c.Agent.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("invalid agent timezone %q: %w", c.Agent.Timezone, err))
	}

	if c.Model.Chat.Model == "" {
		missing("model", "chat.model")
	}
	if c.Model.Sampling.Model == "" {
		missing("model", "sampling.model")
	}
	if c.Model.Embedding.Provider == "openai" && c.Model.Embedding.Model == "" {
		missing("model", "embedding.model")
	}

	if len(c.Fleet.DBNodes) == 0 && len(c.Fleet.CellNodes) == 0 {
		missing("fleet", "db_nodes or cell_nodes")
	}
	if c.Fleet.DCLIPath == "" {
		missing("fleet", "dcli_path")
	}

	if c.Polling.Enable {
		if c.Polling.Interval <= 0 {
			missing("polling", "interval")
		}
		if c.Polling.QAPath == "" {
			missing("polling", "qa_path")
		}
	}

	switch c.Memory.Backend() {
	case "file":
		if c.Memory.Dir == "" {
			missing("memory", "dir")
		}
	case "postgres", "sqlite":
		if c.Memory.Database.DSN == "" {
			missing("memory", "database.dsn")
		}
	case "redis":
		if c.Memory.Redis.Addr == "" {
			missing("memory", "redis.addr")
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported memory backend %q", c.Memory.Backend()))
	}

	return errors.Join(errs...)
}
