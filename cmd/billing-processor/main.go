package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/flowbill/flowbill-api/internal/billing"
	"github.com/flowbill/flowbill-api/internal/db"
	"github.com/flowbill/flowbill-api/internal/helpers"
	"github.com/flowbill/flowbill-api/internal/logger"
	"github.com/flowbill/flowbill-api/internal/server"
)

func main() {
	once := flag.Bool("once", false, "run a single reconciliation pass and exit")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found: %v\n", err)
	}

	stage := helpers.EnvOrDefault("STAGE", "dev")
	if !helpers.IsValidStage(stage) {
		log.Fatalf("invalid STAGE %q", stage)
	}
	logger.InitLogger(stage)
	defer logger.Sync() //nolint:errcheck

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		logger.Fatal("DATABASE_URL environment variable is required")
	}
	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		logger.Fatal("Unable to create database connection pool", zap.Error(err))
	}
	defer pool.Close()

	store := db.NewStore(pool)
	dispatcher := server.NewDispatcher(store)
	processor := server.NewBillingProcessor(store, dispatcher, server.PlanCacheFromEnv())

	if *once {
		if err := runPass(context.Background(), processor); err != nil {
			logger.Fatal("reconciliation pass failed", zap.Error(err))
		}
		return
	}

	schedule := helpers.EnvOrDefault("BILLING_CRON", "@hourly")
	c := cron.New()
	_, err = c.AddFunc(schedule, func() {
		if err := runPass(context.Background(), processor); err != nil {
			logger.Error("reconciliation pass failed", zap.Error(err))
		}
	})
	if err != nil {
		logger.Fatal("invalid BILLING_CRON schedule", zap.String("schedule", schedule), zap.Error(err))
	}

	logger.Info("billing processor starting", zap.String("schedule", schedule))
	c.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("billing processor stopping")
	ctx := c.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(30 * time.Second):
		logger.Warn("timed out waiting for running pass to finish")
	}
}

func runPass(ctx context.Context, processor *billing.Processor) error {
	start := time.Now()
	result, err := processor.ProcessDueSubscriptions(ctx)
	if err != nil {
		return err
	}
	logger.Info("reconciliation pass complete",
		zap.Int("processed", result.ProcessedCount),
		zap.Int("succeeded", result.SucceededCount),
		zap.Int("failed", result.FailedCount),
		zap.Int("extended_free", result.ExtendedFreeCount),
		zap.Int("errors", result.ErrorCount),
		zap.Int("expired", result.ExpiredCount),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}
