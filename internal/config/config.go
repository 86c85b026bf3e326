package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Log          LogConfig          `mapstructure:"log"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Notification NotificationConfig `mapstructure:"notification"`
	Connector    ConnectorConfig    `mapstructure:"connector"`
	Firefighter  FirefighterConfig  `mapstructure:"firefighter"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	Mode         string `mapstructure:"mode"` // debug, release, test
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
	// 敏感接口每用户每分钟请求数与突发容量
	SensitiveRPM   int `mapstructure:"sensitive_rpm"`
	SensitiveBurst int `mapstructure:"sensitive_burst"`
	// 浏览器来源白名单，同时用于 CORS 与看板 WebSocket 握手；为空时不限制
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"` // postgres, sqlite
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	Path            string `mapstructure:"path"` // sqlite 文件路径
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // 秒
	AutoMigrate     bool   `mapstructure:"auto_migrate"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 连接模式: standalone(单节点), sentinel(哨兵), cluster(集群)
	Mode string `mapstructure:"mode"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	MasterName    string   `mapstructure:"master_name"`
	SentinelAddrs []string `mapstructure:"sentinel_addrs"`
	ClusterAddrs  []string `mapstructure:"cluster_addrs"`

	PoolSize     int `mapstructure:"pool_size"`
	MinIdleConns int `mapstructure:"min_idle_conns"`
}

// Addr 返回单节点地址
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, /path/to/log
}

// AuthConfig 调用方身份认证配置
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
	// 访问令牌有效期（分钟）与刷新令牌有效期（小时），为零时使用默认值
	AccessTTLMinutes int `mapstructure:"access_ttl_minutes"`
	RefreshTTLHours  int `mapstructure:"refresh_ttl_hours"`
}

// NotificationConfig 通知投递配置
type NotificationConfig struct {
	Channel        string            `mapstructure:"channel"` // log, email, webhook
	SMTPHost       string            `mapstructure:"smtp_host"`
	SMTPPort       int               `mapstructure:"smtp_port"`
	Username       string            `mapstructure:"username"`
	Password       string            `mapstructure:"password"`
	From           string            `mapstructure:"from"`
	WebhookURL     string            `mapstructure:"webhook_url"`
	WebhookHeaders map[string]string `mapstructure:"webhook_headers"`
	TimeoutSeconds int               `mapstructure:"timeout_seconds"`
}

// ConnectorConfig 目标系统连接器配置
type ConnectorConfig struct {
	Mode           string `mapstructure:"mode"` // http, memory
	BaseURL        string `mapstructure:"base_url"`
	APIToken       string `mapstructure:"api_token"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// FirefighterConfig 紧急访问核心配置
type FirefighterConfig struct {
	CatalogPath string `mapstructure:"catalog_path"`

	DualApprovalThreshold int    `mapstructure:"dual_approval_threshold"`
	DualApprovalRule      string `mapstructure:"dual_approval_rule"`
	ApprovalSLAHours      int    `mapstructure:"approval_sla_hours"`

	MaxExtensions       int `mapstructure:"max_extensions"`
	MaxExtensionMinutes int `mapstructure:"max_extension_minutes"`

	RequiresReviewDefault bool `mapstructure:"requires_review_default"`
	AllowReviewOverride   bool `mapstructure:"allow_review_override"`

	ExpiryWarningMinutes   int `mapstructure:"expiry_warning_minutes"`
	HighActivityThreshold  int `mapstructure:"high_activity_threshold"`
	MonitorIntervalSeconds int `mapstructure:"monitor_interval_seconds"`

	DefaultController string              `mapstructure:"default_controller"`
	Controllers       map[string]string   `mapstructure:"controllers"`
	EscalationTarget  string              `mapstructure:"escalation_target"`
	SecurityTeam      string              `mapstructure:"security_team"`
	Approvers         map[string][]string `mapstructure:"approvers"`

	Scheduler         string `mapstructure:"scheduler"` // local, queue
	WorkerConcurrency int    `mapstructure:"worker_concurrency"`
	AccountLock       string `mapstructure:"account_lock"` // local, redis
	CredentialSecret  string `mapstructure:"credential_secret"`
}

// DefaultFirefighterConfig 返回默认配置
func DefaultFirefighterConfig() FirefighterConfig {
	cfg := FirefighterConfig{RequiresReviewDefault: true}
	cfg.applyDefaults()
	return cfg
}

func (f *FirefighterConfig) applyDefaults() {
	if f.DualApprovalThreshold <= 0 {
		f.DualApprovalThreshold = 60
	}
	if strings.TrimSpace(f.DualApprovalRule) == "" {
		f.DualApprovalRule = "risk_score >= threshold || chain_length > 1"
	}
	if f.ApprovalSLAHours <= 0 {
		f.ApprovalSLAHours = 4
	}
	if f.MaxExtensions <= 0 {
		f.MaxExtensions = 2
	}
	if f.MaxExtensionMinutes <= 0 {
		f.MaxExtensionMinutes = 120
	}
	if f.ExpiryWarningMinutes <= 0 {
		f.ExpiryWarningMinutes = 15
	}
	if f.HighActivityThreshold <= 0 {
		f.HighActivityThreshold = 50
	}
	if f.MonitorIntervalSeconds <= 0 {
		f.MonitorIntervalSeconds = 60
	}
	if f.DefaultController == "" {
		f.DefaultController = "ff-controller"
	}
	if f.EscalationTarget == "" {
		f.EscalationTarget = "grc-escalations"
	}
	if f.SecurityTeam == "" {
		f.SecurityTeam = "security-operations"
	}
	if f.Scheduler == "" {
		f.Scheduler = "local"
	}
	if f.AccountLock == "" {
		f.AccountLock = "local"
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "release"
	}
	if c.Server.SensitiveRPM <= 0 {
		c.Server.SensitiveRPM = 30
	}
	if c.Server.SensitiveBurst <= 0 {
		c.Server.SensitiveBurst = 10
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.OutputPath == "" {
		c.Log.OutputPath = "stdout"
	}
	if c.Connector.Mode == "" {
		c.Connector.Mode = "memory"
	}
	if c.Connector.TimeoutSeconds <= 0 {
		c.Connector.TimeoutSeconds = 10
	}
	if c.Notification.Channel == "" {
		c.Notification.Channel = "log"
	}
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "governexplus-firefighter"
	}
	c.Firefighter.applyDefaults()
}

var globalConfig *Config

// Load 加载配置
// env: 环境名称（dev, prod, test）
// configPath: 配置文件路径（可选）
func Load(env string, configPath string) (*Config, error) {
	v := viper.New()

	if configPath == "" {
		v.SetConfigName(env)
		v.AddConfigPath("./config")
		v.AddConfigPath("../config")
		v.AddConfigPath("../../config")
	} else {
		v.SetConfigFile(configPath)
	}
	v.SetConfigType("yaml")

	// requires_review_default 为 bool，缺省时必须显式给出 true
	v.SetDefault("firefighter.requires_review_default", true)

	// 环境变量优先级高于配置文件：APP_FIREFIGHTER_MAX_EXTENSIONS
	v.SetEnvPrefix("APP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	cfg.applyDefaults()

	globalConfig = &cfg
	return &cfg, nil
}

// Get 获取全局配置
func Get() *Config {
	if globalConfig == nil {
		panic("配置未初始化，请先调用 Load()")
	}
	return globalConfig
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	if c.Driver == "sqlite" {
		if c.Path == "" {
			return "file:firefighter.db?_pragma=busy_timeout(5000)"
		}
		return c.Path
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}
