package main

import (
	"context"
	"flag"
	"time"

	"studyhall/internal/config"
	"studyhall/internal/logger"
	"studyhall/internal/roster"
	"studyhall/internal/store"
)

// Seeder loads the roster file into Postgres.
func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.Env)
	log := logger.Log

	path := flag.String("roster", cfg.RosterFile, "roster YAML file")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	students, err := roster.Load(*path, cfg.SeatCount)
	if err != nil {
		log.Fatalf("load roster: %v", err)
	}

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	if err := store.NewPostgres(db.Client).UpsertStudents(ctx, students); err != nil {
		log.Fatalf("upsert students: %v", err)
	}
	log.WithField("students", len(students)).Infof("roster %s loaded", *path)
}
