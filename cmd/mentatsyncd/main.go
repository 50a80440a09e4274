// mentatsyncd serves the MentatSync HTTP API over a SQL-backed store,
// optionally layered with the Redis cache and the S3 chunk offload.
package main

import (
	"context"
	"errors"
	"flag"
	log "log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mentatsync/mentatsync"
	"github.com/mentatsync/mentatsync/rediscache"
	"github.com/mentatsync/mentatsync/restapi"
	"github.com/mentatsync/mentatsync/s3chunks"
	"github.com/mentatsync/mentatsync/sqlstore"
)

func main() {
	configPath := flag.String("config", "", "path to the JSON config file")
	flag.Parse()

	mentatsync.ConfigureLogging()

	cfg := mentatsync.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = mentatsync.LoadConfig(*configPath)
		if err != nil {
			log.Error("failed to load config", "error", err)
			os.Exit(1)
		}
	}

	sqlStorage, err := sqlstore.New(cfg.Database)
	if err != nil {
		log.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer sqlStorage.Close()

	var store mentatsync.Storage = sqlStorage
	if cfg.S3 != nil {
		store = s3chunks.New(store, *cfg.S3)
		log.Info("chunk payloads offloaded to S3", "bucket", cfg.S3.Bucket)
	}
	if cfg.Redis != nil {
		opts := rediscache.DefaultOptions()
		opts.Address = cfg.Redis.Address
		opts.Password = cfg.Redis.Password
		opts.DB = cfg.Redis.DB
		if cfg.Redis.TTLSeconds > 0 {
			opts.TTL = cfg.Redis.TTL()
		}
		store = rediscache.New(store, opts)
		log.Info("redis cache layer enabled", "address", opts.Address)
	}

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: restapi.NewRouter(store),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("mentatsync listening", "addr", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown incomplete", "error", err)
	}
}
