package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/fathima-sithara/realtime-service/internal/api"
	"github.com/fathima-sithara/realtime-service/internal/config"
	"github.com/fathima-sithara/realtime-service/internal/events"
	"github.com/fathima-sithara/realtime-service/internal/hub"
	"github.com/fathima-sithara/realtime-service/internal/logger"
	"github.com/fathima-sithara/realtime-service/internal/presence"
	"github.com/fathima-sithara/realtime-service/internal/typing"
	"github.com/fathima-sithara/realtime-service/internal/ws"
)

func main() {
	configPath := flag.String("config", envOr("CONFIG_PATH", "config.yaml"), "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	zlog, err := logger.New(cfg.IsDevelopment())
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	var mirror presence.Mirror
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		mirror = presence.NewRedisMirror(rdb, cfg.Redis.Prefix, cfg.PresenceTTL, zlog)
		zlog.Infow("presence mirror enabled", "addr", cfg.Redis.Addr)
	}

	var producer events.Producer
	if cfg.Kafka.Enabled {
		producer = events.NewKafkaProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicMessageSent)
		zlog.Infow("message event mirror enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.TopicMessageSent)
	}

	h := hub.New(zlog)
	tm := typing.NewManager(cfg.TypingWindow, h, zlog)
	dispatcher := ws.NewDispatcher(h, tm, mirror, producer, zlog)
	wsSrv := ws.NewServer(dispatcher, cfg, zlog)
	app := api.NewApp(h, tm, wsSrv.Handler())

	errs := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.App.Port)
		zlog.Infow("starting realtime service", "addr", addr)
		errs <- app.Listen(addr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errs:
		zlog.Fatalw("server error", "error", err)
	case s := <-sig:
		zlog.Infow("signal received", "signal", s.String())
	}

	if err := app.Shutdown(); err != nil {
		zlog.Warnw("fiber shutdown", "error", err)
	}
	tm.Stop()
	if producer != nil {
		if err := producer.Close(); err != nil {
			zlog.Warnw("producer close", "error", err)
		}
	}
	zlog.Infow("shutdown complete")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
