package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	LogLevel string

	HTTP     HTTPConfig
	Database DatabaseConfig
	Rabbit   RabbitConfig
	Redis    RedisConfig
	Billing  BillingConfig
	Advisor  AdvisorConfig
	Sync     SyncConfig
}

type HTTPConfig struct {
	Addr string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RabbitConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	VHost    string
	Queue    string
	Prefetch int
	Workers  int
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type BillingConfig struct {
	// Interval is the billing interval; one tick per interval consumes one
	// minute of allowance or one paid minute.
	Interval time.Duration
	// CostPerMinute is charged against the wallet once the free trial is over,
	// in minor currency units.
	CostPerMinute int64
}

type AdvisorConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

type SyncConfig struct {
	Interval  time.Duration
	BatchSize int
}

func Load() *Config {
	// Optional .env for local development; real deployments set the
	// environment directly.
	_ = godotenv.Load()

	dbPort, _ := strconv.Atoi(getEnv("DB_PORT", "5432"))
	rmqPort, _ := strconv.Atoi(getEnv("RABBITMQ_PORT", "5672"))
	rmqPrefetch, _ := strconv.Atoi(getEnv("RABBITMQ_PREFETCH", "50"))
	rmqWorkers, _ := strconv.Atoi(getEnv("RABBITMQ_WORKERS", "4"))
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	redisTTL, _ := strconv.Atoi(getEnv("REDIS_TRANSCRIPT_TTL_HOURS", "24"))
	interval, _ := strconv.Atoi(getEnv("BILLING_INTERVAL_SECONDS", "60"))
	cost, _ := strconv.ParseInt(getEnv("BILLING_COST_PER_MINUTE", "10"), 10, 64)
	advisorTimeout, _ := strconv.Atoi(getEnv("ADVISOR_TIMEOUT_SECONDS", "30"))
	syncInterval, _ := strconv.Atoi(getEnv("SYNC_INTERVAL_SECONDS", "30"))
	syncBatchSize, _ := strconv.Atoi(getEnv("SYNC_BATCH_SIZE", "100"))

	return &Config{
		LogLevel: getEnv("LOG_LEVEL", "info"),
		HTTP: HTTPConfig{
			Addr: getEnv("HTTP_ADDR", ":8080"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "consultation_db"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Rabbit: RabbitConfig{
			Host:     getEnv("RABBITMQ_HOST", "localhost"),
			Port:     rmqPort,
			User:     getEnv("RABBITMQ_USER", "guest"),
			Password: getEnv("RABBITMQ_PASSWORD", "guest"),
			VHost:    getEnv("RABBITMQ_VHOST", "/"),
			Queue:    getEnv("RABBITMQ_QUEUE", "wallet_topups"),
			Prefetch: rmqPrefetch,
			Workers:  rmqWorkers,
		},
		Redis: RedisConfig{
			Enabled:  getEnv("REDIS_ENABLED", "false") == "true",
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
			TTL:      time.Duration(redisTTL) * time.Hour,
		},
		Billing: BillingConfig{
			Interval:      time.Duration(interval) * time.Second,
			CostPerMinute: cost,
		},
		Advisor: AdvisorConfig{
			BaseURL: getEnv("ADVISOR_BASE_URL", "https://generativelanguage.googleapis.com"),
			APIKey:  getEnv("ADVISOR_API_KEY", ""),
			Model:   getEnv("ADVISOR_MODEL", "gemini-2.5-flash"),
			Timeout: time.Duration(advisorTimeout) * time.Second,
		},
		Sync: SyncConfig{
			Interval:  time.Duration(syncInterval) * time.Second,
			BatchSize: syncBatchSize,
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
