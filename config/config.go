package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config carries every runtime setting the process needs. All values come
// from environment variables; optional knobs fall back to defaults.
type Config struct {
	HTTPAddr    string
	DatabaseURL string
	RedisAddr   string

	KafkaBrokers []string
	KafkaGroupID string
	KafkaTopic   string

	ScorerURL string
	JWTSecret string

	FraudThreshold float64
	ScanWorkers    int
	ScanBatchSize  int
	NotifyWorkers  int
}

// Load reads configuration from the environment. DATABASE_URL, KAFKA_BROKERS,
// JWT_SECRET and SCORER_URL are mandatory; everything else has a sensible
// default.
func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:       envOr("HTTP_ADDR", ":8080"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisAddr:      envOr("REDIS_ADDR", "localhost:6379"),
		KafkaGroupID:   envOr("KAFKA_GROUP_ID", "dealchain-fraudscan"),
		KafkaTopic:     envOr("KAFKA_TOPIC", "chat-scan"),
		ScorerURL:      os.Getenv("SCORER_URL"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		FraudThreshold: 0.8,
		ScanWorkers:    1,
		ScanBatchSize:  10,
		NotifyWorkers:  2,
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("config: DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("config: JWT_SECRET is required")
	}
	if cfg.ScorerURL == "" {
		return Config{}, fmt.Errorf("config: SCORER_URL is required")
	}

	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		return Config{}, fmt.Errorf("config: KAFKA_BROKERS is required")
	}
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
		}
	}
	if len(cfg.KafkaBrokers) == 0 {
		return Config{}, fmt.Errorf("config: KAFKA_BROKERS is required")
	}

	var err error
	if cfg.FraudThreshold, err = envFloat("FRAUD_THRESHOLD", cfg.FraudThreshold); err != nil {
		return Config{}, err
	}
	if cfg.FraudThreshold < 0 || cfg.FraudThreshold > 1 {
		return Config{}, fmt.Errorf("config: FRAUD_THRESHOLD must be within [0,1]")
	}
	if cfg.ScanWorkers, err = envInt("SCAN_WORKERS", cfg.ScanWorkers); err != nil {
		return Config{}, err
	}
	if cfg.ScanBatchSize, err = envInt("SCAN_BATCH_SIZE", cfg.ScanBatchSize); err != nil {
		return Config{}, err
	}
	if cfg.NotifyWorkers, err = envInt("NOTIFY_WORKERS", cfg.NotifyWorkers); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("config: %s must be positive", key)
	}
	return n, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return f, nil
}
