package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/HelloWorldSungin/tinyclaw-trading/internal/api"
	"github.com/HelloWorldSungin/tinyclaw-trading/internal/config"
	"github.com/HelloWorldSungin/tinyclaw-trading/internal/event"
	"github.com/HelloWorldSungin/tinyclaw-trading/internal/gateway"
	"github.com/HelloWorldSungin/tinyclaw-trading/internal/heartbeat"
	"github.com/HelloWorldSungin/tinyclaw-trading/internal/invoke"
	"github.com/HelloWorldSungin/tinyclaw-trading/internal/notify"
	"github.com/HelloWorldSungin/tinyclaw-trading/internal/orchestrator"
	"github.com/HelloWorldSungin/tinyclaw-trading/internal/queue"
	"github.com/HelloWorldSungin/tinyclaw-trading/internal/ratelimit"
	"github.com/HelloWorldSungin/tinyclaw-trading/internal/retry"
	pgstore "github.com/HelloWorldSungin/tinyclaw-trading/internal/store"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting TinyClaw...")

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/tinyclaw.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath),
		zap.Int("agents", len(cfg.Agents)), zap.Int("teams", len(cfg.Teams)))

	// Durable work queue
	q, err := queue.NewStore(cfg.Queue.IncomingDir, cfg.Queue.OutgoingDir, logger)
	if err != nil {
		logger.Fatal("queue init failed", zap.Error(err))
	}

	// Event stream: file log always, Redis mirror when configured
	var stream *event.Stream
	if cfg.Events.RedisURL != "" {
		st, sErr := event.NewStream(cfg.Events.RedisURL, logger)
		if sErr != nil {
			logger.Warn("Redis unavailable, events stay file-only", zap.Error(sErr))
		} else {
			stream = st
		}
	}
	events, err := event.NewEmitter(cfg.Events.Dir, stream, logger)
	if err != nil {
		logger.Fatal("event emitter init failed", zap.Error(err))
	}

	// PostgreSQL store for conversation history and prompt context
	var db *pgstore.Store
	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := pgstore.New(cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, running without persistence", zap.Error(pgErr))
		} else {
			if mErr := ps.Migrate(context.Background(), "migrations"); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			db = ps
		}
	}

	window := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second
	limiter := ratelimit.New(cfg.RateLimit.MaxRequests, window)
	hbLimiter := ratelimit.New(cfg.RateLimit.MaxRequests, window)
	retryer := retry.New(retry.Config{}, logger)
	engine := invoke.NewEngine(logger)

	proc := orchestrator.NewProcessor(
		cfgPath, q, engine, events,
		limiter, hbLimiter, retryer, db,
		"data/reset", logger,
	)

	// Heartbeat scheduler
	records, err := heartbeat.NewRecords(cfg.Heartbeat.StateDir)
	if err != nil {
		logger.Fatal("heartbeat records init failed", zap.Error(err))
	}
	notifier := notify.New(cfg.Notify.WebhookURL, cfg.Notify.MaxChars, logger)
	hb := heartbeat.NewScheduler(
		cfgPath, q, records, notifier, events, db,
		time.Duration(cfg.Heartbeat.TickSeconds)*time.Second,
		time.Duration(cfg.Heartbeat.WaitSeconds)*time.Second,
		logger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := proc.Run(ctx); err != nil && err != context.Canceled {
			logger.Error("processor stopped", zap.Error(err))
		}
	}()
	go func() {
		if err := hb.Run(ctx); err != nil && err != context.Canceled {
			logger.Error("heartbeat scheduler stopped", zap.Error(err))
		}
	}()

	// Chat gateways
	gw := gateway.New(logger)
	if cfg.Gateway.Slack.Enabled && cfg.Gateway.Slack.BotToken != "" {
		gw.Register(gateway.NewSlackAdapter(cfg.Gateway.Slack.BotToken, cfg.Gateway.Slack.AppToken, logger))
	}
	if cfg.Gateway.Discord.Enabled && cfg.Gateway.Discord.BotToken != "" {
		gw.Register(gateway.NewDiscordAdapter(cfg.Gateway.Discord.BotToken, logger))
	}
	bridge := gateway.NewBridge(gw, q, logger)
	bridge.Start(ctx)
	gw.ConnectAll(ctx)

	// HTTP API
	handler := api.NewHandler(cfgPath, q, events, gw, hb, proc, logger)
	port := fmt.Sprintf("%d", cfg.Server.Port)
	if port == "0" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("TinyClaw listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down TinyClaw...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
	gw.Close()
	if stream != nil {
		stream.Close()
	}
	if db != nil {
		db.Close()
	}
}
