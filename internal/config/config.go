package config

import (
	"fmt"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN           string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL           string `env:"RABBITMQ_URL,required=true"`
	RedisURL              string `env:"REDIS_URL,required=true"`
	VoiceProviderURL      string `env:"VOICE_PROVIDER_URL,required=true"`
	SMSProviderURL        string `env:"SMS_PROVIDER_URL,required=true"`
	EmailProviderURL      string `env:"EMAIL_PROVIDER_URL,required=true"`
	RateLimitPerSec       int    `env:"RATE_LIMIT_PER_SEC,default=100"`
	WorkerConcurrency     int    `env:"WORKER_CONCURRENCY,default=16"`
	DispatchScanSeconds   int    `env:"DISPATCH_SCAN_SECONDS,default=5"`
	IngestScanSeconds     int    `env:"INGEST_SCAN_SECONDS,default=5"`
	ScanLimit             int    `env:"SCAN_LIMIT,default=100"`
	IdempotencyTTLSeconds int    `env:"IDEMPOTENCY_TTL_SECONDS,default=300"`
	APIPort               int    `env:"API_PORT,default=8080"`
	LogLevel              string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
