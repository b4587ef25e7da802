package cache

import (
	"context"
	"fmt"
	"log"

	"github.com/ManuelReschke/BillFox/internal/pkg/env"
	"github.com/redis/go-redis/v9"
)

// Config holds the Redis connection settings shared by the metrics counters
// and the API rate limiter storage.
type Config struct {
	Host     string
	Port     string
	Password string
}

// ConfigFromEnv reads the cache configuration from the environment
func ConfigFromEnv() Config {
	return Config{
		Host:     env.GetEnv("CACHE_HOST", "localhost"),
		Port:     env.GetEnv("CACHE_PORT", "6379"),
		Password: env.GetEnv("CACHE_PASSWORD", ""),
	}
}

// New creates the Redis client and verifies the connection. A failed ping is
// logged but not fatal: counters degrade, the ledger store does not.
func New(cfg Config) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       0, // use default DB
	})

	pong, err := client.Ping(context.Background()).Result()
	if err != nil {
		log.Printf("Warning: Could not connect to Redis cache: %v", err)
	} else {
		log.Printf("Successfully connected to Redis cache: %s", pong)
	}

	return client
}
