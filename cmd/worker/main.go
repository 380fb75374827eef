package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/jonboulle/clockwork"

	"studyhall/internal/attendance"
	"studyhall/internal/config"
	"studyhall/internal/export"
	"studyhall/internal/logger"
	"studyhall/internal/queue"
	"studyhall/internal/store"
	"studyhall/internal/worker"
)

// Worker consumes ledger events into Redis tallies and runs the nightly
// CSV export.
func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.Env)
	log := logger.Log

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		log.Warn("redis not reachable yet, consumer will keep retrying")
	}

	ledger := attendance.NewLedger(attendance.Deps{
		Store:    store.NewPostgres(db.Client),
		Calendar: cfg.Calendar(),
		Log:      log.WithField("component", "ledger"),
	})

	if cfg.ExportEnabled {
		exporter := &export.Exporter{
			Source:   ledger,
			Dir:      cfg.ExportDir,
			Calendar: ledger.Calendar(),
			Clock:    clockwork.NewRealClock(),
			Log:      log.WithField("component", "export"),
		}
		sched := export.NewScheduler(exporter, cfg.ExportCron, log.WithField("component", "export"))
		if err := sched.Start(); err != nil {
			log.Fatalf("export schedule %q: %v", cfg.ExportCron, err)
		}
		defer sched.Stop()
		log.WithField("next", sched.Next()).Info("nightly export scheduled")
	}

	consumer := &worker.Consumer{
		Queue:   queue.NewRedisQueue(redisClient.Client, ""),
		Tallies: redisClient,
		Log:     log.WithField("component", "events"),
	}
	if err := consumer.Run(ctx); err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}
}
