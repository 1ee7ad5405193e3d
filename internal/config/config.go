package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig MQTT配置（Broker为空时禁用MQTT发布）
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// ThresholdsConfig 压力传感器量程与报警阈值配置
// 进程启动时加载一次，之后不可变
type ThresholdsConfig struct {
	MinValue int // 传感器读数下限（含）
	MaxValue int // 传感器读数上限（含）

	// 患者可配置报警阈值的合法区间
	LowThresholdMin  int
	LowThresholdMax  int
	HighThresholdMin int
	HighThresholdMax int

	// 新患者的默认阈值
	DefaultLowThreshold  int
	DefaultHighThreshold int
}

// Validate 校验阈值配置的不变式，返回所有违反项的描述
// 任何一条违反都必须阻止服务启动
func (c *ThresholdsConfig) Validate() []string {
	var violations []string

	if c.MinValue >= c.MaxValue {
		violations = append(violations,
			fmt.Sprintf("min_value (%d) must be less than max_value (%d)", c.MinValue, c.MaxValue))
	}
	if c.LowThresholdMin > c.LowThresholdMax {
		violations = append(violations,
			fmt.Sprintf("low_threshold_min (%d) must not exceed low_threshold_max (%d)", c.LowThresholdMin, c.LowThresholdMax))
	}
	if c.LowThresholdMax >= c.HighThresholdMin {
		violations = append(violations,
			fmt.Sprintf("low_threshold_max (%d) must be less than high_threshold_min (%d)", c.LowThresholdMax, c.HighThresholdMin))
	}
	if c.HighThresholdMin > c.HighThresholdMax {
		violations = append(violations,
			fmt.Sprintf("high_threshold_min (%d) must not exceed high_threshold_max (%d)", c.HighThresholdMin, c.HighThresholdMax))
	}
	if c.DefaultLowThreshold < c.LowThresholdMin || c.DefaultLowThreshold > c.LowThresholdMax {
		violations = append(violations,
			fmt.Sprintf("default_low_threshold (%d) outside [%d, %d]", c.DefaultLowThreshold, c.LowThresholdMin, c.LowThresholdMax))
	}
	if c.DefaultHighThreshold < c.HighThresholdMin || c.DefaultHighThreshold > c.HighThresholdMax {
		violations = append(violations,
			fmt.Sprintf("default_high_threshold (%d) outside [%d, %d]", c.DefaultHighThreshold, c.HighThresholdMin, c.HighThresholdMax))
	}
	if c.DefaultLowThreshold >= c.DefaultHighThreshold {
		violations = append(violations,
			fmt.Sprintf("default_low_threshold (%d) must be less than default_high_threshold (%d)", c.DefaultLowThreshold, c.DefaultHighThreshold))
	}

	return violations
}

// SimulatorConfig 模拟设备引擎配置
type SimulatorConfig struct {
	FramesPerSecond    int // 默认帧率（0 < fps <= 60）
	BasePressure       int // 接触区基础压力（接触面积统计的判定基准）
	PressureRange      int // 解剖图案的压力幅度
	PeakIndexThreshold int // 峰值压力指数的洪水填充阈值

	// 自动故障注入（概率为0时禁用）
	AutoFaultProbability float64
	AutoFaultDuration    time.Duration
}

// Config 模拟服务配置
type Config struct {
	Database   DatabaseConfig
	Redis      RedisConfig
	MQTT       MQTTConfig
	Thresholds ThresholdsConfig
	Simulator  SimulatorConfig

	// 报警事件Webhook通知端点（为空时禁用）
	Webhook struct {
		URL string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 从环境变量加载配置（带默认值）
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "graphenetrace")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 10)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "graphenetrace-sim")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = 1

	cfg.Thresholds.MinValue = getEnvInt("PRESSURE_MIN_VALUE", 1)
	cfg.Thresholds.MaxValue = getEnvInt("PRESSURE_MAX_VALUE", 255)
	cfg.Thresholds.LowThresholdMin = getEnvInt("PRESSURE_LOW_THRESHOLD_MIN", 1)
	cfg.Thresholds.LowThresholdMax = getEnvInt("PRESSURE_LOW_THRESHOLD_MAX", 100)
	cfg.Thresholds.HighThresholdMin = getEnvInt("PRESSURE_HIGH_THRESHOLD_MIN", 150)
	cfg.Thresholds.HighThresholdMax = getEnvInt("PRESSURE_HIGH_THRESHOLD_MAX", 255)
	cfg.Thresholds.DefaultLowThreshold = getEnvInt("PRESSURE_DEFAULT_LOW_THRESHOLD", 20)
	cfg.Thresholds.DefaultHighThreshold = getEnvInt("PRESSURE_DEFAULT_HIGH_THRESHOLD", 200)

	cfg.Simulator.FramesPerSecond = getEnvInt("SIM_FRAMES_PER_SECOND", 15)
	cfg.Simulator.BasePressure = getEnvInt("SIM_BASE_PRESSURE", 30)
	cfg.Simulator.PressureRange = getEnvInt("SIM_PRESSURE_RANGE", 170)
	cfg.Simulator.PeakIndexThreshold = getEnvInt("SIM_PEAK_INDEX_THRESHOLD", 150)
	cfg.Simulator.AutoFaultProbability = getEnvFloat("SIM_AUTO_FAULT_PROBABILITY", 0)
	cfg.Simulator.AutoFaultDuration = time.Duration(getEnvInt("SIM_AUTO_FAULT_DURATION_SECONDS", 30)) * time.Second

	cfg.Webhook.URL = getEnv("ALERT_WEBHOOK_URL", "")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

// Validate 校验全部配置，违反项合并为单个错误返回
func (c *Config) Validate() error {
	violations := c.Thresholds.Validate()

	if c.Simulator.FramesPerSecond <= 0 || c.Simulator.FramesPerSecond > 60 {
		violations = append(violations,
			fmt.Sprintf("frames_per_second (%d) must be in (0, 60]", c.Simulator.FramesPerSecond))
	}
	if c.Simulator.AutoFaultProbability < 0 || c.Simulator.AutoFaultProbability > 1 {
		violations = append(violations,
			fmt.Sprintf("auto_fault_probability (%g) must be in [0, 1]", c.Simulator.AutoFaultProbability))
	}
	if c.Simulator.BasePressure < c.Thresholds.MinValue || c.Simulator.BasePressure >= c.Thresholds.MaxValue {
		violations = append(violations,
			fmt.Sprintf("base_pressure (%d) must be within sensor range [%d, %d)", c.Simulator.BasePressure, c.Thresholds.MinValue, c.Thresholds.MaxValue))
	}

	if len(violations) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(violations, "\n  - "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
