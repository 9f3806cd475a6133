package config

import (
	"fmt"
	"os"
	"strconv"
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

	ConnMaxLifetime time.Duration // 0 表示不限制
	ConnectTimeout  time.Duration // 启动时 ping 的超时时间
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	PoolSize    int
	DialTimeout time.Duration
}

// MQTTConfig MQTT配置
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// LoadFromEnv 从环境变量加载配置（prefix 如 "DB"）
func (c *DatabaseConfig) LoadFromEnv(prefix string) {
	c.Host = GetEnv(prefix+"_HOST", c.Host)
	c.Port = GetEnvInt(prefix+"_PORT", c.Port)
	c.User = GetEnv(prefix+"_USER", c.User)
	c.Password = GetEnv(prefix+"_PASSWORD", c.Password)
	c.Database = GetEnv(prefix+"_NAME", c.Database)
	c.SSLMode = GetEnv(prefix+"_SSLMODE", c.SSLMode)
	c.MaxConns = GetEnvInt(prefix+"_MAX_CONNS", c.MaxConns)
	c.MaxIdle = GetEnvInt(prefix+"_MAX_IDLE", c.MaxIdle)
	c.ConnMaxLifetime = GetEnvDuration(prefix+"_CONN_MAX_LIFETIME", c.ConnMaxLifetime)
	c.ConnectTimeout = GetEnvDuration(prefix+"_CONNECT_TIMEOUT", c.ConnectTimeout)
}

// LoadFromEnv 从环境变量加载Redis配置
func (c *RedisConfig) LoadFromEnv(prefix string) {
	c.Addr = GetEnv(prefix+"_ADDR", c.Addr)
	c.Password = GetEnv(prefix+"_PASSWORD", c.Password)
	c.DB = GetEnvInt(prefix+"_DB", c.DB)
	c.PoolSize = GetEnvInt(prefix+"_POOL_SIZE", c.PoolSize)
	c.DialTimeout = GetEnvDuration(prefix+"_DIAL_TIMEOUT", c.DialTimeout)
}

// LoadFromEnv 从环境变量加载MQTT配置
func (c *MQTTConfig) LoadFromEnv(prefix string) {
	c.Broker = GetEnv(prefix+"_BROKER", c.Broker)
	c.ClientID = GetEnv(prefix+"_CLIENT_ID", c.ClientID)
	c.Username = GetEnv(prefix+"_USERNAME", c.Username)
	c.Password = GetEnv(prefix+"_PASSWORD", c.Password)
	c.QoS = byte(GetEnvInt(prefix+"_QOS", int(c.QoS)))
}

// GetEnv 读取环境变量，为空时返回默认值
func GetEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// GetEnvInt 读取整数环境变量，解析失败时返回默认值
func GetEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

// GetEnvBool 读取布尔环境变量（"true"/"false"）
func GetEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// GetEnvDuration 读取时长环境变量（time.ParseDuration 格式，如 "30s"、"5m"）
func GetEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
