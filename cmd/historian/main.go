// cmd/historian is an asynchronous historian service that pops match events
// from a Redis queue and persists them to PostgreSQL.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jason-s-yu/ladder/internal/cache"
	"github.com/jason-s-yu/ladder/internal/database"
	"github.com/jason-s-yu/ladder/internal/historian"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	if lvl, err := logrus.ParseLevel(getEnv("LOG_LEVEL", "info")); err == nil {
		logger.SetLevel(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := database.Connect(ctx, database.DSNFromEnv(), 30*time.Second, logger)
	if err != nil {
		logger.WithError(err).Fatal("postgres unavailable")
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		logger.WithError(err).Fatal("failed to prepare schema")
	}

	rdb, err := cache.Connect(ctx, getEnv("REDIS_ADDR", "localhost:6379"), getEnvInt("REDIS_DB", 0))
	if err != nil {
		logger.WithError(err).Fatal("redis unavailable")
	}
	defer rdb.Close()

	src := cache.NewConsumer(rdb, getEnv("HISTORIAN_QUEUE_NAME", cache.DefaultQueueName), 3*time.Second)
	h := historian.New(src, func(ctx context.Context, rows []database.MatchEventRow) error {
		return database.InsertMatchEvents(ctx, pool, rows)
	}, historian.Config{
		BatchSize:  getEnvInt("HISTORIAN_BATCH_SIZE", 20),
		FlushEvery: time.Duration(getEnvInt("HISTORIAN_FLUSH_MS", 500)) * time.Millisecond,
		Idle:       time.Duration(getEnvInt("MATCH_INACTIVITY_TIMEOUT_SEC", 3*3600)) * time.Second,
	}, logger)

	logger.Info("ladder-historian service started")
	if err := h.Run(ctx); err != nil {
		logger.WithError(err).Error("final flush failed")
	}
	logger.Info("ladder-historian shutdown complete")
}

// getEnv retrieves an environment variable's value or returns a default.
func getEnv(key, defVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defVal
}

// getEnvInt retrieves an integer value from an environment variable or returns a default value.
func getEnvInt(key string, defVal int) int {
	i, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defVal
	}
	return i
}
