package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hilthontt/stockchat/internal/infrastructure/configs"
	"github.com/hilthontt/stockchat/internal/infrastructure/env"
	"github.com/hilthontt/stockchat/internal/infrastructure/events"
	"github.com/hilthontt/stockchat/internal/infrastructure/logging"
	"github.com/hilthontt/stockchat/internal/infrastructure/messaging"
	"github.com/hilthontt/stockchat/internal/infrastructure/metrics"
	"github.com/hilthontt/stockchat/internal/infrastructure/stock"
	"github.com/hilthontt/stockchat/internal/infrastructure/supervisor"
	"github.com/hilthontt/stockchat/internal/infrastructure/tracing"
	"github.com/hilthontt/stockchat/internal/presentation/api"
	"github.com/hilthontt/stockchat/internal/presentation/handler/health"
)

const serviceName = "stockchat-bot"

func main() {
	cfg, err := configs.Load(configs.DetermineConfigPath())
	if err != nil {
		log.Fatal(err)
	}

	logger := logging.NewLogger(&cfg.Logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracing.InitTracer(ctx, tracing.NewConfig(cfg.Tracing.Enabled, serviceName, cfg.Tracing.Endpoint))
	if err != nil {
		logger.Fatal(logging.General, logging.Startup, "failed to initialize the tracer", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(shutdownCtx)
	}()

	m := metrics.New()

	broker := messaging.NewRabbitMQ(
		messaging.Config{URI: cfg.RabbitMQ.URI, Exchange: cfg.RabbitMQ.Exchange},
		logger,
		messaging.WithMetrics(m),
	)

	source := stock.NewClient(stock.Config{
		BaseURL:    cfg.StockAPI.BaseURL,
		Format:     cfg.StockAPI.Format,
		Headers:    cfg.StockAPI.Headers,
		Export:     cfg.StockAPI.Export,
		Timeout:    cfg.StockAPI.Timeout,
		MaxRetries: cfg.StockAPI.MaxRetries,
	}, logger)

	worker := events.NewCommandWorker(broker, source, logger, m, events.CommandWorkerConfig{
		RetryDelay: cfg.RabbitMQ.PublishRetryDelay,
	})

	go func() {
		_ = supervisor.New(supervisor.DefaultConfig(), logger, m).Run(ctx, events.CommandWorkerName, worker.Run)
	}()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	api.MountHealth(r, health.NewHandler(health.Check{Name: "rabbitmq", Fn: broker.EnsureConnected}))
	r.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.HTTP.Host, env.GetInt("BOT_HTTP_PORT", 8081)),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if err := api.Serve(ctx, srv, logger); err != nil {
		logger.Fatal(logging.General, logging.Shutdown, "bot listener stopped with error", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
	}
}
