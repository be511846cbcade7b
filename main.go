package main

import (
	"context"
	"os/signal"
	"syscall"

	"consultation-service/internal/advisor"
	"consultation-service/internal/cache"
	"consultation-service/internal/clock"
	"consultation-service/internal/config"
	"consultation-service/internal/consumer"
	"consultation-service/internal/database"
	"consultation-service/internal/ledger"
	"consultation-service/internal/logger"
	"consultation-service/internal/recorder"
	"consultation-service/internal/server"
	"consultation-service/internal/session"
	balanceSync "consultation-service/internal/sync"
	"consultation-service/internal/transcript"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel)

	// Initialize database
	db, err := database.New(cfg.Database, log)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize database")
	}
	sqlDB, _ := db.DB.DB()
	defer sqlDB.Close()

	// Ledger store and transaction recorder
	store := ledger.NewGormStore(db.DB, log)
	rec := recorder.New(db.DB, log)

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Balance display cache, reconciled periodically from the store
	balances := cache.NewBalances()
	go balanceSync.SyncBalances(ctx, store, balances, cfg.Sync.BatchSize, cfg.Sync.Interval, log)

	// Session controller driven by the wall clock
	controller := session.NewController(store, rec, clock.NewWall(), cfg.Billing.Interval, cfg.Billing.CostPerMinute, log)
	defer controller.Close()

	// Surface billing terminations for the recharge prompt
	go func() {
		for t := range controller.Terminations() {
			log.WithFields(logrus.Fields{
				"session_id": t.SessionID,
				"user_id":    t.UserID,
				"reason":     t.Reason,
			}).Warn("session terminated by billing")
		}
	}()

	// Transcript store: Redis when enabled, in-process otherwise
	var transcripts transcript.Store
	if cfg.Redis.Enabled {
		redisStore, err := transcript.NewRedisStore(cfg.Redis)
		if err != nil {
			log.WithError(err).Fatal("failed to initialize redis transcript store")
		}
		defer redisStore.Close()
		transcripts = redisStore
	} else {
		transcripts = transcript.NewMemoryStore()
	}

	// Initialize and start RabbitMQ top-up consumer
	rmqConsumer, err := consumer.New(cfg.Rabbit, log, store, rec, balances)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize RabbitMQ consumer")
	}
	defer rmqConsumer.Close()

	go func() {
		if err := rmqConsumer.Start(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Fatal("consumer stopped unexpectedly")
		}
	}()

	// HTTP surface
	adv := advisor.NewClient(cfg.Advisor, log)
	srv := server.New(log, store, rec, controller, adv, transcripts, balances)

	if err := srv.ListenAndServe(ctx, cfg.HTTP.Addr); err != nil && ctx.Err() == nil {
		log.WithError(err).Fatal("HTTP server stopped unexpectedly")
	}

	log.Info("graceful shutdown complete")
}
