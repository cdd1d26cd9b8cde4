package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lokapos/terminal/internal/config"
	"github.com/lokapos/terminal/internal/database"
	"github.com/lokapos/terminal/internal/router"
	"github.com/lokapos/terminal/internal/service"
	"github.com/lokapos/terminal/internal/sync"
	"github.com/lokapos/terminal/internal/ws"
)

func main() {
	cfg := config.Load()

	storeID, err := uuid.Parse(cfg.StoreID)
	if err != nil {
		log.Fatalf("STORE_ID must be a valid UUID: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runMigrations(cfg.DatabaseURL); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connect to database: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("ping database: %v", err)
	}

	queries := database.New(pool)

	hub := ws.NewHub(queries)
	go hub.Run(ctx)

	summaries := service.NewSummaryService(queries)

	prober := sync.NewHealthProber(cfg.CloudBaseURL, cfg.SyncProbeTimeout)
	uplink := sync.NewCloudClient(cfg.CloudBaseURL, cfg.CloudAPIKey, cfg.StoreID, cfg.SyncHTTPTimeout)
	worker := sync.NewWorker(sync.Config{
		StoreID:  storeID,
		Interval: cfg.SyncInterval,
		Warmup:   cfg.SyncWarmupDelay,
		OrderGap: cfg.SyncOrderGap,
		Policy: sync.Policy{
			BaseDelay:   cfg.SyncBaseDelay,
			Multiplier:  2,
			MaxDelay:    cfg.SyncMaxDelay,
			MaxAttempts: cfg.SyncMaxAttempts,
		},
	}, queries, uplink, prober, summaries)
	go worker.Start(ctx)

	r := router.New(cfg, queries, pool, hub, worker, summaries)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s (store %s)", cfg.Port, storeID)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("ERROR: server shutdown: %v", err)
	}
}

func runMigrations(databaseURL string) error {
	m, err := migrate.New("file://migrations", databaseURL)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
