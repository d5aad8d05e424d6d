// Package config reads the process configuration from the environment and
// builds the shared logger, store and Redis handles.
package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mcclellann/loanledger/pkg/store"
	"github.com/redis/go-redis/v9"
)

const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
	DriverMemory = "memory"
)

type Config struct {
	Port                string
	StoreDriver         string
	SQLitePath          string
	MySQL               store.MySQLConfig
	RedisAddress        string
	RedisPassword       string
	LogLevel            string
	LogFormat           string
	MaintenanceInterval time.Duration
}

// Load reads .env when present and then the process environment.
func Load() Config {
	godotenv.Load()

	return Config{
		Port:        stringFromEnv("PORT", "8080"),
		StoreDriver: strings.ToLower(stringFromEnv("STORE_DRIVER", DriverSQLite)),
		SQLitePath:  stringFromEnv("SQLITE_PATH", "./loanledger.db"),
		MySQL: store.MySQLConfig{
			User:         os.Getenv("DB_USER"),
			Password:     os.Getenv("DB_PASSWORD"),
			Host:         stringFromEnv("DB_HOST", "127.0.0.1"),
			Port:         stringFromEnv("DB_PORT", "3306"),
			Name:         stringFromEnv("DB_NAME", "loanledger"),
			MaxOpenConns: intFromEnv("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns: intFromEnv("DB_MAX_IDLE_CONNS", 5),
		},
		RedisAddress:        os.Getenv("REDIS_ADDRESS"),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
		LogLevel:            stringFromEnv("LOG_LEVEL", "info"),
		LogFormat:           stringFromEnv("LOG_FORMAT", "json"),
		MaintenanceInterval: time.Duration(intFromEnv("MAINTENANCE_INTERVAL_SECONDS", 86400)) * time.Second,
	}
}

// OpenStore opens the storage backend selected by StoreDriver.
func (c Config) OpenStore() (store.Storage, error) {
	switch c.StoreDriver {
	case DriverSQLite:
		return store.NewSQLiteStore(c.SQLitePath)
	case DriverMySQL:
		return store.OpenMySQL(c.MySQL)
	case DriverMemory:
		return store.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
}

// ConnectRedis returns nil when no REDIS_ADDRESS is configured.
func (c Config) ConnectRedis(ctx context.Context) (*redis.Client, error) {
	if c.RedisAddress == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.RedisAddress,
		Password: c.RedisPassword,
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect redis at %s: %w", c.RedisAddress, err)
	}
	return rdb, nil
}

func stringFromEnv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
