package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"studyhall/internal/attendance"
	"studyhall/internal/auth"
	"studyhall/internal/config"
	"studyhall/internal/httpapi"
	"studyhall/internal/httpmiddleware"
	"studyhall/internal/logger"
	"studyhall/internal/queue"
	"studyhall/internal/roster"
	"studyhall/internal/session"
	"studyhall/internal/store"
	"studyhall/internal/worker"
)

func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.Env)

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		logger.Log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	log := logger.Log
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	health := map[string]httpapi.HealthCheck{}

	var st attendance.Store
	switch cfg.StoreBackend {
	case "memory":
		students, err := roster.Load(cfg.RosterFile, cfg.SeatCount)
		if err != nil {
			return fmt.Errorf("memory store needs a roster: %w", err)
		}
		mem := store.NewMemory()
		if err := mem.UpsertStudents(ctx, students); err != nil {
			return err
		}
		log.WithField("students", len(students)).Warn("using in-memory store, attendance is lost on restart")
		st = mem
	default:
		db, err := store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("db connect: %w", err)
		}
		defer db.Close()
		health["db"] = db.Healthy
		st = store.NewPostgres(db.Client)
	}

	var redisClient *store.Redis
	if cfg.LockBackend == "redis" || cfg.QueueBackend == "redis" {
		redisClient = store.NewRedis(cfg.RedisAddr)
		defer redisClient.Close()
		health["redis"] = redisClient.Healthy
	}

	var locker attendance.Locker
	if cfg.LockBackend == "redis" {
		locker = store.NewRedisLocker(redisClient.Client, 5*time.Second, cfg.RequestTimeout)
	} else {
		locker = store.NewKeyedMutex()
	}

	// Action counters live in Redis whenever it is configured; the worker
	// binary fills them from a Redis queue, the in-process consumer below
	// from a memory one.
	var events httpapi.EventCounts
	if redisClient != nil {
		events = redisClient
	}

	var q queue.Queue
	if cfg.QueueBackend == "redis" {
		q = queue.NewRedisQueue(redisClient.Client, "")
	} else {
		mem := queue.NewInMemory(256)
		q = mem
		// Nobody else can read an in-process queue, so drain it here.
		c := &worker.Consumer{Queue: mem, Log: log.WithField("component", "events")}
		if redisClient != nil {
			c.Tallies = redisClient
		}
		go func() {
			if err := c.Run(ctx); err != nil {
				log.WithError(err).Error("event consumer stopped")
			}
		}()
	}

	clk := clockwork.NewRealClock()
	sess := session.New(clk, cfg.AdminSessionTTL, func(ev session.Event) {
		log.WithFields(logrus.Fields{"event": ev.Kind, "remaining": ev.State.Remaining}).Info("admin session")
	})
	defer sess.Close()
	authz := auth.SessionAuthorizer{Session: sess, Key: cfg.SessionSigningKey, Issuer: cfg.SessionIssuer, Clock: clk}

	ledger := attendance.NewLedger(attendance.Deps{
		Store:    st,
		Locker:   locker,
		Events:   queue.EventPublisher{Queue: q},
		Auth:     authz,
		Calendar: cfg.Calendar(),
		Log:      log.WithField("component", "ledger"),
	})

	h := &httpapi.Handler{
		Ledger:          ledger,
		Session:         sess,
		Authorizer:      authz,
		AdminCredential: cfg.AdminCredential,
		SigningKey:      cfg.SessionSigningKey,
		Issuer:          cfg.SessionIssuer,
		TokenTTL:        cfg.AdminTokenTTL,
		Clock:           clk,
		Events:          events,
		Health:          health,
		Log:             log.WithField("component", "http"),
	}
	limiter := httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin, clk)
	r := httpapi.NewRouter(h, limiter)

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return err
	}
	log.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server forced shutdown")
	}

	log.Info("server exited")
	return nil
}
