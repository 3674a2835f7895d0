// =============================================================================
// 📦 Toolgate 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("toolgate.yaml").
//	    WithEnvPrefix("TOOLGATE").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 Toolgate 的完整配置结构
type Config struct {
	// Server 服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Workspace 会话工作区配置
	Workspace WorkspaceConfig `yaml:"workspace" env:"WORKSPACE"`

	// Session 会话注册表配置
	Session SessionConfig `yaml:"session" env:"SESSION"`

	// Command 命令执行配置
	Command CommandConfig `yaml:"command" env:"COMMAND"`

	// CodeRun 代码执行配置
	CodeRun CodeRunConfig `yaml:"code_run" env:"CODE_RUN"`

	// SandboxRPC 沙箱运行时 RPC 配置
	SandboxRPC SandboxRPCConfig `yaml:"sandbox_rpc" env:"SANDBOX_RPC"`

	// Fetch 网页抓取配置
	Fetch FetchConfig `yaml:"fetch" env:"FETCH"`

	// Search 搜索配置
	Search SearchConfig `yaml:"search" env:"SEARCH"`

	// APITool 声明式 API 工具配置
	APITool APIToolConfig `yaml:"api_tool" env:"API_TOOL"`

	// Audit 审计存储配置
	Audit AuditConfig `yaml:"audit" env:"AUDIT"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// WorkspaceConfig 会话工作区配置
type WorkspaceConfig struct {
	// 工作区根目录
	Root string `yaml:"root" env:"ROOT"`
	// 共享只读目录（可选）
	SharedDir string `yaml:"shared_dir" env:"SHARED_DIR"`
	// 是否放行系统临时目录
	AllowTemp bool `yaml:"allow_temp" env:"ALLOW_TEMP"`
	// 是否放行进程工作目录
	AllowCwd bool `yaml:"allow_cwd" env:"ALLOW_CWD"`
}

// SessionConfig 会话注册表配置
type SessionConfig struct {
	// 并存会话上限
	MaxSessions int `yaml:"max_sessions" env:"MAX_SESSIONS"`
	// 空闲回收时间
	IdleTTL time.Duration `yaml:"idle_ttl" env:"IDLE_TTL"`
}

// CommandConfig 命令执行配置
type CommandConfig struct {
	// 追加到内置白名单的命令
	ExtraAllowed []string `yaml:"extra_allowed" env:"EXTRA_ALLOWED"`
	// 默认超时
	DefaultTimeout time.Duration `yaml:"default_timeout" env:"DEFAULT_TIMEOUT"`
	// 超时硬上限
	MaxTimeout time.Duration `yaml:"max_timeout" env:"MAX_TIMEOUT"`
	// 单流输出字符上限
	MaxOutputChars int `yaml:"max_output_chars" env:"MAX_OUTPUT_CHARS"`
}

// CodeRunConfig 代码执行配置
type CodeRunConfig struct {
	// 默认超时
	DefaultTimeout time.Duration `yaml:"default_timeout" env:"DEFAULT_TIMEOUT"`
	// 超时硬上限
	MaxTimeout time.Duration `yaml:"max_timeout" env:"MAX_TIMEOUT"`
}

// SandboxRPCConfig 沙箱运行时 RPC 配置
type SandboxRPCConfig struct {
	// 运行时地址
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// FetchConfig 网页抓取配置
type FetchConfig struct {
	// 单次请求超时
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	// 批量并发上限
	MaxConcurrency int `yaml:"max_concurrency" env:"MAX_CONCURRENCY"`
	// 整批字符预算
	TotalCharsCap int `yaml:"total_chars_cap" env:"TOTAL_CHARS_CAP"`
	// 单页字符上限
	MaxPageChars int `yaml:"max_page_chars" env:"MAX_PAGE_CHARS"`
	// 是否启用 redis 结果缓存
	CacheEnabled bool `yaml:"cache_enabled" env:"CACHE_ENABLED"`
	// Redis 地址
	CacheAddr string `yaml:"cache_addr" env:"CACHE_ADDR"`
	// 缓存过期时间
	CacheTTL time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
}

// SearchConfig 搜索配置
type SearchConfig struct {
	// 搜索后端地址
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 后端 API 密钥
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 单次查询超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 返回结果上限
	MaxResults int `yaml:"max_results" env:"MAX_RESULTS"`
}

// APIToolConfig 声明式 API 工具配置
type APIToolConfig struct {
	// API 文档来源（URL 或文件路径）
	DocSources []string `yaml:"doc_sources" env:"DOC_SOURCES"`
	// 单次调用超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 熔断连续失败阈值
	BreakerFailureThreshold int `yaml:"breaker_failure_threshold" env:"BREAKER_FAILURE_THRESHOLD"`
	// 熔断恢复等待时间
	BreakerRecoveryTimeout time.Duration `yaml:"breaker_recovery_timeout" env:"BREAKER_RECOVERY_TIMEOUT"`
	// 限流窗口调用预算
	RateCalls int `yaml:"rate_calls" env:"RATE_CALLS"`
	// 限流窗口长度
	RateWindow time.Duration `yaml:"rate_window" env:"RATE_WINDOW"`
}

// AuditConfig 审计存储配置
type AuditConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// SQLite 数据库路径
	Path string `yaml:"path" env:"PATH"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "TOOLGATE",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Duration(0)) {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Workspace.Root == "" {
		errs = append(errs, "workspace root must be set")
	}
	if c.Session.MaxSessions <= 0 {
		errs = append(errs, "max_sessions must be positive")
	}
	if c.Session.IdleTTL <= 0 {
		errs = append(errs, "idle_ttl must be positive")
	}
	if c.Command.MaxTimeout < c.Command.DefaultTimeout {
		errs = append(errs, "command max_timeout must be >= default_timeout")
	}
	if c.CodeRun.MaxTimeout < c.CodeRun.DefaultTimeout {
		errs = append(errs, "code_run max_timeout must be >= default_timeout")
	}
	if c.Fetch.MaxConcurrency <= 0 {
		errs = append(errs, "fetch max_concurrency must be positive")
	}
	if c.Fetch.CacheEnabled && c.Fetch.CacheAddr == "" {
		errs = append(errs, "fetch cache_addr must be set when cache is enabled")
	}
	if c.Audit.Enabled && c.Audit.Path == "" {
		errs = append(errs, "audit path must be set when audit is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}
