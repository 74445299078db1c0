package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 治理核心的应用程序配置结构，构造后固定，不支持热加载
type Config struct {
	// 管理API配置
	Admin struct {
		ListenAddress string `mapstructure:"listen_address"`
		Port          int    `mapstructure:"port"`
	} `mapstructure:"admin"`

	// 服务注册表配置
	Registry struct {
		HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"` // 心跳过期阈值
	} `mapstructure:"registry"`

	// 熔断器默认配置
	Breaker struct {
		FailureThreshold int           `mapstructure:"failure_threshold"`
		SuccessThreshold int           `mapstructure:"success_threshold"`
		OpenTimeout      time.Duration `mapstructure:"open_timeout"`
		HalfOpenMaxCalls int           `mapstructure:"half_open_max_calls"`
	} `mapstructure:"breaker"`

	// 限流器默认配置
	RateLimit struct {
		Algorithm string        `mapstructure:"algorithm"` // token_bucket/sliding_window/fixed_window
		Capacity  int           `mapstructure:"capacity"`
		Rate      float64       `mapstructure:"rate"` // 令牌桶每秒补充速率
		Window    time.Duration `mapstructure:"window"`
	} `mapstructure:"ratelimit"`

	// 健康检查配置
	Health struct {
		Interval           time.Duration `mapstructure:"interval"` // 后台检查周期
		Timeout            time.Duration `mapstructure:"timeout"`  // 单次探测超时
		HealthyThreshold   int           `mapstructure:"healthy_threshold"`
		UnhealthyThreshold int           `mapstructure:"unhealthy_threshold"`
		MaxConcurrent      int           `mapstructure:"max_concurrent"` // 并发探测上限
	} `mapstructure:"health"`

	// 日志配置
	Log struct {
		Level       string `mapstructure:"level"`
		Development bool   `mapstructure:"development"`
	} `mapstructure:"log"`
}

// LoadConfig 从文件和环境变量加载配置
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// 设置默认值
	setDefaults(v)

	// 如果指定了配置文件路径
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// 设置配置文件名和路径
		v.SetConfigName("config")            // 配置文件名（无扩展名）
		v.AddConfigPath(".")                 // 当前目录
		v.AddConfigPath("./configs")         // configs目录
		v.AddConfigPath("$HOME/.governance") // 用户目录
		v.AddConfigPath("/etc/governance")   // 系统目录
	}

	// 配置文件格式
	v.SetConfigType("yaml")

	// 尝试从配置文件加载
	if err := v.ReadInConfig(); err != nil {
		// 如果找不到配置文件，仅使用默认值；其他错误则返回
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件错误: %w", err)
		}
	}

	// 绑定环境变量
	v.SetEnvPrefix("GOVERNANCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 从环境变量覆盖
	bindEnvVariables(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置错误: %w", err)
	}

	config.normalize()

	return &config, nil
}

// normalize 把非正的时长恢复为默认值。这些时长直接喂给ticker和
// 除法，零值会在启动或首次使用时panic。
func (c *Config) normalize() {
	if c.Registry.HeartbeatTimeout <= 0 {
		c.Registry.HeartbeatTimeout = 90 * time.Second
	}

	if c.Health.Interval <= 0 {
		c.Health.Interval = 10 * time.Second
	}

	if c.Health.Timeout <= 0 {
		c.Health.Timeout = 3 * time.Second
	}
}

// setDefaults 设置配置默认值
func setDefaults(v *viper.Viper) {
	// 管理API默认配置
	v.SetDefault("admin.listen_address", "0.0.0.0")
	v.SetDefault("admin.port", 8090)

	// 注册表默认配置
	v.SetDefault("registry.heartbeat_timeout", "90s")

	// 熔断器默认配置
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.success_threshold", 2)
	v.SetDefault("breaker.open_timeout", "30s")
	v.SetDefault("breaker.half_open_max_calls", 3)

	// 限流器默认配置
	v.SetDefault("ratelimit.algorithm", "token_bucket")
	v.SetDefault("ratelimit.capacity", 100)
	v.SetDefault("ratelimit.rate", 50.0)
	v.SetDefault("ratelimit.window", "1s")

	// 健康检查默认配置
	v.SetDefault("health.interval", "10s")
	v.SetDefault("health.timeout", "3s")
	v.SetDefault("health.healthy_threshold", 2)
	v.SetDefault("health.unhealthy_threshold", 3)
	v.SetDefault("health.max_concurrent", 10)

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", true)
}

// bindEnvVariables 绑定特定的环境变量
func bindEnvVariables(v *viper.Viper) {
	v.BindEnv("admin.port", "GOVERNANCE_ADMIN_PORT")
	v.BindEnv("registry.heartbeat_timeout", "GOVERNANCE_REGISTRY_HEARTBEAT_TIMEOUT")
	v.BindEnv("health.interval", "GOVERNANCE_HEALTH_INTERVAL")
	v.BindEnv("log.level", "GOVERNANCE_LOG_LEVEL")
}

// GetDefaultConfigPath 返回默认配置文件路径
func GetDefaultConfigPath() string {
	// 按顺序检查不同位置的配置文件
	paths := []string{
		"./config.yaml",
		"./configs/config.yaml",
		os.Getenv("HOME") + "/.governance/config.yaml",
		"/etc/governance/config.yaml",
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}
