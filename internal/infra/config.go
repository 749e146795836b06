package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	DBMaxConns  int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	QueueName     string

	WorkerConcurrency  int
	WorkerMaxRetries   int
	ReceiveWait        time.Duration
	LeaseDuration      time.Duration
	RateLimitBackoff   time.Duration
	MetricsPort        string

	SynthesisBaseURL     string
	SynthesisAPIToken    string
	SynthesisPollCeiling time.Duration
	ArtifactTimeout      time.Duration

	StoragePath    string
	StorageBaseURL string
	StorageSignKey string
	CDNBaseURL     string
	SignedURLTTL   time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBMaxConns:  getEnvInt("DB_MAX_CONNS", 10),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		QueueName:     getEnv("QUEUE_NAME", "generations"),

		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 5),
		WorkerMaxRetries:  getEnvInt("WORKER_MAX_RETRIES", 3),
		ReceiveWait:       time.Second * time.Duration(getEnvInt("RECEIVE_WAIT_SECONDS", 60)),
		LeaseDuration:     time.Second * time.Duration(getEnvInt("LEASE_SECONDS", 600)),
		RateLimitBackoff:  time.Second * time.Duration(getEnvInt("RATE_LIMIT_BACKOFF_SECONDS", 30)),
		MetricsPort:       getEnv("METRICS_PORT", "9090"),

		SynthesisBaseURL:     getEnv("SYNTHESIS_BASE_URL", "https://api.replicate.com/v1"),
		SynthesisAPIToken:    os.Getenv("SYNTHESIS_API_TOKEN"),
		SynthesisPollCeiling: time.Second * time.Duration(getEnvInt("SYNTHESIS_POLL_CEILING_SECONDS", 300)),
		ArtifactTimeout:      time.Second * time.Duration(getEnvInt("ARTIFACT_TIMEOUT_SECONDS", 30)),

		StoragePath:    getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL: getEnv("STORAGE_BASE_URL", "http://localhost:8080/assets"),
		StorageSignKey: getEnv("STORAGE_SIGN_KEY", "insecure-dev-key"),
		CDNBaseURL:     os.Getenv("CDN_BASE_URL"),
		SignedURLTTL:   time.Hour * time.Duration(getEnvInt("SIGNED_URL_TTL_HOURS", 168)),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.WorkerConcurrency < 1 {
		return nil, fmt.Errorf("WORKER_CONCURRENCY must be at least 1")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
