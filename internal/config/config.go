package config

import (
	"os"
	"strconv"
	"time"
)

// Config miot-vitals（HTTP API + MQTT 接入）配置
type Config struct {
	HTTP struct {
		Addr string
	}

	DBEnabled bool
	Database  DatabaseConfig

	Redis struct {
		Addr     string
		Password string
		DB       int
	}

	MQTT struct {
		Enabled  bool
		Broker   string
		ClientID string
		Username string
		Password string
		Topic    string // 订阅主题（如 "miot/vitals/+"，最后一段为 patientId）
		QoS      byte
	}

	// Ingest 接入信任管道配置
	Ingest struct {
		// 设备共享 HMAC-SHA256 密钥（外部密钥管理下发，十六进制或原文）
		SharedSecret string
		// 新鲜度窗口：|now - timestamp| 超过该值视为 StaleTimestamp
		FreshnessWindow time.Duration
		// 落库时是否使用信封加密（AES-256-GCM）
		StoreEncrypted bool
		// 信封加密密钥（base64，32字节）
		StorageKey string
	}

	TOTP struct {
		Issuer    string
		SingleUse bool // 启用已用验证码缓存（Redis）
	}

	RateLimit struct {
		Enabled bool
		RPS     float64 // 每个来源IP每秒请求数
		Burst   int
	}

	Anomaly struct {
		BufferSize int
		WebhookURL string // 可选：严重事件 webhook 通知
		Stream     string // Redis Stream 名称
	}

	Log struct {
		Level  string
		Format string
	}
}

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
	return "host=" + c.Host +
		" port=" + strconv.Itoa(c.Port) +
		" user=" + c.User +
		" password=" + c.Password +
		" dbname=" + c.Database +
		" sslmode=" + c.SSLMode
}

// Load 加载配置（环境变量 + 默认值）
func Load() *Config {
	cfg := &Config{}
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	// Default to true for local dev: if DB is unavailable, miot-vitals falls
	// back to in-memory repositories.
	cfg.DBEnabled = getEnv("DB_ENABLED", "true") == "true"
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = parseInt(getEnv("DB_PORT", "5432"), 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "miotvitals")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = parseInt(getEnv("DB_MAX_CONNS", "20"), 20)
	cfg.Database.MaxIdle = parseInt(getEnv("DB_MAX_IDLE", "5"), 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = parseInt(getEnv("REDIS_DB", "0"), 0)

	cfg.MQTT.Enabled = getEnv("MQTT_ENABLED", "false") == "true"
	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "miot-vitals")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.Topic = getEnv("MQTT_TOPIC", "miot/vitals/+")
	cfg.MQTT.QoS = 1

	cfg.Ingest.SharedSecret = getEnv("INGEST_HMAC_SECRET", "")
	cfg.Ingest.FreshnessWindow = time.Duration(parseInt(getEnv("INGEST_FRESHNESS_SECONDS", "120"), 120)) * time.Second
	cfg.Ingest.StoreEncrypted = getEnv("STORE_ENCRYPTED", "false") == "true"
	cfg.Ingest.StorageKey = getEnv("STORAGE_KEY", "")

	cfg.TOTP.Issuer = getEnv("TOTP_ISSUER", "MIoT Vitals")
	cfg.TOTP.SingleUse = getEnv("TOTP_SINGLE_USE", "false") == "true"

	cfg.RateLimit.Enabled = getEnv("RATE_LIMIT_ENABLED", "true") == "true"
	cfg.RateLimit.RPS = float64(parseInt(getEnv("RATE_LIMIT_RPS", "10"), 10))
	cfg.RateLimit.Burst = parseInt(getEnv("RATE_LIMIT_BURST", "20"), 20)

	cfg.Anomaly.BufferSize = parseInt(getEnv("ANOMALY_BUFFER_SIZE", "256"), 256)
	cfg.Anomaly.WebhookURL = getEnv("ANOMALY_WEBHOOK_URL", "")
	cfg.Anomaly.Stream = getEnv("ANOMALY_STREAM", "security:events")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}
