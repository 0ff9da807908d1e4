package config

import (
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port      string `envconfig:"PORT" default:"8080"`
	AWSRegion string `envconfig:"AWS_REGION" default:"ap-northeast-2"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LocalMode bool   `envconfig:"LOCAL_MODE" default:"true"` // in-memory stores and bus, no AWS/Kafka

	InventoryTableName string `envconfig:"INVENTORY_TABLE_NAME" default:"inventory-table"`
	OrderTableName     string `envconfig:"ORDER_TABLE_NAME" default:"orders-table"`
	PaymentTableName   string `envconfig:"PAYMENT_TABLE_NAME" default:"payments-table"`

	KafkaBrokers       []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	KafkaConsumerGroup string   `envconfig:"KAFKA_CONSUMER_GROUP" default:"fulfillment-service"`

	// Optimistic writes retry up to this many times before giving up.
	CASMaxAttempts int `envconfig:"CAS_MAX_ATTEMPTS" default:"5"`

	// Circuit breaker for synchronous lookups across service boundaries.
	BreakerMaxFailures  uint32 `envconfig:"BREAKER_MAX_FAILURES" default:"5"`
	BreakerTimeoutSecs  int    `envconfig:"BREAKER_TIMEOUT_SECS" default:"30"`
	BreakerIntervalSecs int    `envconfig:"BREAKER_INTERVAL_SECS" default:"60"`
}

func Load() (*Config, error) {
	// Missing .env is fine; real deployments inject the environment directly.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
