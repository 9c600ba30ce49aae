package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Addr        string
	DatabaseURL string
	JWTSecret   string

	// Optional collaborators; the server runs without them.
	RedisURL     string
	KafkaBrokers []string
	KafkaTopic   string
}

// Load reads configuration from the environment, loading a .env file first
// when one is present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg(".env file not loaded")
	}

	cfg := &Config{
		Addr:        getEnv("ADDR", ":8080"),
		DatabaseURL: strings.TrimSpace(os.Getenv("DB_URL")),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		RedisURL:    os.Getenv("REDIS_URL"),
		KafkaTopic:  getEnv("KAFKA_TOPIC", "conversation-events"),
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("config: DB_URL environment variable is not set")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("config: JWT_SECRET environment variable is not set")
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
