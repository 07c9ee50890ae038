package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// Драйверы хранилища.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Config описывает настройки запуска сервиса. Все значения читаются из
// переменных окружения с префиксом CS_; .env поддерживается для локальной
// разработки.
type Config struct {
	HTTPAddr string

	StorageDriver string
	PostgresDSN   string

	KafkaBrokers []string
	KafkaGroupID string

	ReservationTTL       time.Duration
	SweepInterval        time.Duration
	LowStockScanInterval time.Duration
	OutboxPollInterval   time.Duration

	LogLevel string
}

// DefaultConfig возвращает конфигурацию по умолчанию: in-memory хранилище,
// без Kafka.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:             ":9090",
		StorageDriver:        StorageMemory,
		KafkaGroupID:         "commerce-service",
		ReservationTTL:       30 * time.Minute,
		SweepInterval:        1 * time.Minute,
		LowStockScanInterval: 5 * time.Minute,
		OutboxPollInterval:   1 * time.Second,
		LogLevel:             "info",
	}
}

// LoadConfig читает конфигурацию из окружения поверх значений по умолчанию.
// Файл .env, если он существует, загружается первым и не перекрывает уже
// установленные переменные.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("failed to load .env file")
	}

	cfg := DefaultConfig()

	if v := os.Getenv("CS_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("CS_STORAGE_DRIVER"); v != "" {
		cfg.StorageDriver = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("CS_POSTGRES_DSN"); v != "" {
		cfg.PostgresDSN = v
	}
	if v := os.Getenv("CS_KAFKA_BROKERS"); v != "" {
		for _, broker := range strings.Split(v, ",") {
			broker = strings.TrimSpace(broker)
			if broker != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, broker)
			}
		}
	}
	if v := os.Getenv("CS_KAFKA_GROUP_ID"); v != "" {
		cfg.KafkaGroupID = v
	}
	if v := os.Getenv("CS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	var err error
	if cfg.ReservationTTL, err = durationEnv("CS_RESERVATION_TTL", cfg.ReservationTTL); err != nil {
		return Config{}, err
	}
	if cfg.SweepInterval, err = durationEnv("CS_SWEEP_INTERVAL", cfg.SweepInterval); err != nil {
		return Config{}, err
	}
	if cfg.LowStockScanInterval, err = durationEnv("CS_LOW_STOCK_SCAN_INTERVAL", cfg.LowStockScanInterval); err != nil {
		return Config{}, err
	}
	if cfg.OutboxPollInterval, err = durationEnv("CS_OUTBOX_POLL_INTERVAL", cfg.OutboxPollInterval); err != nil {
		return Config{}, err
	}

	return cfg, cfg.Validate()
}

// Validate проверяет согласованность конфигурации.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case StorageMemory:
	case StoragePostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("CS_POSTGRES_DSN is required for storage driver %q", StoragePostgres)
		}
	default:
		return fmt.Errorf("unsupported storage driver %q (use %s|%s)", c.StorageDriver, StorageMemory, StoragePostgres)
	}

	if c.ReservationTTL <= 0 {
		return fmt.Errorf("reservation TTL must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive")
	}

	return nil
}

// durationEnv читает duration из окружения; голое число трактуется как секунды.
func durationEnv(name string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return fallback, nil
	}

	if seconds, err := strconv.Atoi(v); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	return d, nil
}
