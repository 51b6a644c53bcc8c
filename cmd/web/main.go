package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hilthontt/stockchat/internal/application/chat"
	"github.com/hilthontt/stockchat/internal/infrastructure/configs"
	"github.com/hilthontt/stockchat/internal/infrastructure/events"
	"github.com/hilthontt/stockchat/internal/infrastructure/logging"
	"github.com/hilthontt/stockchat/internal/infrastructure/messaging"
	"github.com/hilthontt/stockchat/internal/infrastructure/metrics"
	"github.com/hilthontt/stockchat/internal/infrastructure/supervisor"
	"github.com/hilthontt/stockchat/internal/infrastructure/tracing"
	"github.com/hilthontt/stockchat/internal/infrastructure/ws"
	"github.com/hilthontt/stockchat/internal/presentation/api"
	"github.com/hilthontt/stockchat/internal/presentation/handler/health"
	"github.com/hilthontt/stockchat/internal/presentation/handler/messages"
	"github.com/hilthontt/stockchat/internal/presentation/handler/rooms"
)

const serviceName = "stockchat-web"

//	@title			StockChat API
//	@version		1.0
//	@description	Multi-room chat with a stock quote bot.
//	@host			localhost:8080
//	@BasePath		/api
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

	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatal(logging.Storage, logging.Startup, "failed to open storage", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
	}
	defer store.close()

	if err := seed(ctx, cfg, store); err != nil {
		logger.Fatal(logging.Storage, logging.Startup, "failed to seed rooms and bot user", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
	}

	brokerCfg := messaging.Config{URI: cfg.RabbitMQ.URI, Exchange: cfg.RabbitMQ.Exchange}
	// The publisher and the quote worker each own a broker client: the
	// worker closes its client whenever it stops.
	publishBroker := messaging.NewRabbitMQ(brokerCfg, logger, messaging.WithMetrics(m))
	defer publishBroker.Close()
	quoteBroker := messaging.NewRabbitMQ(brokerCfg, logger, messaging.WithMetrics(m))

	core := ws.NewCore(store.messages, logger, m, ws.DefaultHistorySize)
	go core.Run(ctx)

	chatService := chat.NewService(
		store.users,
		store.messages,
		store.rooms,
		events.NewStockPublisher(publishBroker),
		core,
		logger,
		chat.Config{
			BotName:         cfg.Bot.Username,
			CommandInterval: cfg.Commands.PerUserInterval,
			CommandBurst:    cfg.Commands.Burst,
		},
	)

	quoteWorker := events.NewQuoteWorker(quoteBroker, store.users, store.messages, core, cfg.Bot.Username, logger, m)
	sup := supervisor.New(supervisor.DefaultConfig(), logger, m)
	go func() {
		_ = sup.Run(ctx, events.QuoteWorkerName, quoteWorker.Run)
	}()

	limiter, err := newRateLimiter(cfg, logger)
	if err != nil {
		logger.Fatal(logging.General, logging.Startup, "failed to build the rate limiter", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
	}
	defer limiter.Close()

	checks := append([]health.Check{{Name: "rabbitmq", Fn: publishBroker.EnsureConnected}}, store.checks...)

	app := api.NewApplication(
		cfg.HTTP,
		rooms.NewHandler(chatService, core, logger),
		health.NewHandler(checks...),
		messages.NewHandler(chatService, logger),
		logger,
		limiter,
		m,
	)

	if err := app.Run(ctx, app.Mount()); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal(logging.General, logging.Shutdown, "server stopped with error", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
	}
}
