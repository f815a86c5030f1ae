package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"classtrack/internal/config"
	"classtrack/internal/queue"
	"classtrack/internal/store"
)

// Worker consumes check-in events and keeps live per-session counters in
// Redis so dashboards can poll attendance as it happens without hitting
// Postgres.
func main() {
	cfg := config.Load()

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.Env != "production" && cfg.Env != "prod" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info().Msg("shutdown signal received")
		cancel()
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "classtrack:checkins")
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("queue consume init failed")
	}

	logger.Info().Msg("worker started, waiting for check-in events")
	for msg := range messages {
		if msg.Type != "checkin" {
			continue
		}

		var evt queue.CheckinEvent
		if err := json.Unmarshal(msg.Body, &evt); err != nil {
			logger.Warn().Err(err).Msg("malformed check-in event")
			continue
		}

		key := fmt.Sprintf("classtrack:session:%d:counts", evt.SessionID)
		pipe := redisClient.Client.Pipeline()
		pipe.HIncrBy(ctx, key, evt.Status, 1)
		pipe.Expire(ctx, key, cfg.CheckinCounterTTL)
		if _, err := pipe.Exec(ctx); err != nil {
			logger.Warn().Err(err).Int64("session_id", evt.SessionID).Msg("counter update failed")
			continue
		}

		logger.Info().
			Int64("student_id", evt.StudentID).
			Int64("session_id", evt.SessionID).
			Str("status", evt.Status).
			Str("reason", evt.Reason).
			Msg("check-in processed")
	}

	logger.Info().Msg("worker stopped")
}
