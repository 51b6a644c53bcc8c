package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hilthontt/stockchat/internal/infrastructure/configs"
	"github.com/hilthontt/stockchat/internal/infrastructure/logging"
	"github.com/hilthontt/stockchat/internal/infrastructure/metrics"
	"github.com/hilthontt/stockchat/internal/infrastructure/ratelimiter"
	healthHandler "github.com/hilthontt/stockchat/internal/presentation/handler/health"
	messagesHandler "github.com/hilthontt/stockchat/internal/presentation/handler/messages"
	roomHandler "github.com/hilthontt/stockchat/internal/presentation/handler/rooms"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	_ "github.com/hilthontt/stockchat/docs"
)

const requestTimeout = 30 * time.Second

type Application struct {
	config          configs.HTTPConfig
	roomHandler     *roomHandler.Handler
	healthHandler   *healthHandler.Handler
	messagesHandler *messagesHandler.Handler
	logger          logging.Logger
	ratelimiter     ratelimiter.Limiter
	metrics         *metrics.Metrics
}

func NewApplication(
	config configs.HTTPConfig,
	roomHandler *roomHandler.Handler,
	healthHandler *healthHandler.Handler,
	messagesHandler *messagesHandler.Handler,
	logger logging.Logger,
	ratelimiter ratelimiter.Limiter,
	m *metrics.Metrics,
) *Application {
	return &Application{
		config:          config,
		roomHandler:     roomHandler,
		healthHandler:   healthHandler,
		messagesHandler: messagesHandler,
		logger:          logger,
		ratelimiter:     ratelimiter,
		metrics:         m,
	}
}

func (app *Application) Mount() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(app.loggerMiddleware)
	r.Use(app.prometheusMiddleware)
	r.Use(app.enableCors)

	r.Route("/api", func(r chi.Router) {
		if app.ratelimiter != nil {
			r.Use(app.rateLimiterMiddleware)
		}

		r.Route("/rooms", func(r chi.Router) {
			// The websocket route outlives any request timeout.
			r.Get("/{roomId}/ws", app.roomHandler.JoinRoomHandler)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(requestTimeout))

				r.Get("/", app.roomHandler.ListRoomsHandler)
				r.Get("/{roomId}", app.roomHandler.GetRoomHandler)
				r.Get("/{roomId}/messages", app.messagesHandler.GetHistoryHandler)
				r.Post("/{roomId}/messages", app.messagesHandler.SendMessageHandler)
			})
		})

		MountHealth(r, app.healthHandler)
	})

	if app.metrics != nil {
		r.Handle("/metrics", app.metrics.Handler())
	}
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))

	return otelhttp.NewHandler(r, "stockchat.http",
		otelhttp.WithFilter(func(r *http.Request) bool { return r.URL.Path != "/metrics" }),
	)
}

func MountHealth(r chi.Router, h *healthHandler.Handler) {
	r.Get("/health", h.GetHealth)
	r.Get("/healthz", h.GetHealth)
	r.Get("/live", h.GetHealth)
	r.Get("/ready", h.GetReady)
}

// Run serves handler until ctx is cancelled, then shuts down gracefully.
func (app *Application) Run(ctx context.Context, handler http.Handler) error {
	srv := &http.Server{
		Addr:         app.config.Addr(),
		Handler:      handler,
		WriteTimeout: app.config.WriteTimeout,
		ReadTimeout:  app.config.ReadTimeout,
		IdleTimeout:  time.Minute,
	}

	return Serve(ctx, srv, app.logger)
}

func Serve(ctx context.Context, srv *http.Server, logger logging.Logger) error {
	shutdown := make(chan error, 1)

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		shutdown <- srv.Shutdown(shutdownCtx)
	}()

	logger.Info(logging.General, logging.Startup, "server has started", map[logging.ExtraKey]any{
		logging.HostIp: srv.Addr,
	})

	err := srv.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	if err := <-shutdown; err != nil {
		return err
	}

	logger.Info(logging.General, logging.Shutdown, "server has stopped", map[logging.ExtraKey]any{
		logging.HostIp: srv.Addr,
	})
	return nil
}
