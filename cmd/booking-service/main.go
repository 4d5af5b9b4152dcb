package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/arjun-krishna/counselbook/internal/booking"
	"github.com/arjun-krishna/counselbook/internal/handlers"
	"github.com/arjun-krishna/counselbook/internal/outbox"
	"github.com/arjun-krishna/counselbook/internal/payments"
	"github.com/arjun-krishna/counselbook/internal/storage"
	"github.com/arjun-krishna/counselbook/libs/config"
	"github.com/arjun-krishna/counselbook/libs/db"
	"github.com/arjun-krishna/counselbook/libs/httpx"
	"github.com/arjun-krishna/counselbook/libs/kafkax"
	otelx "github.com/arjun-krishna/counselbook/libs/otel"
	"github.com/arjun-krishna/counselbook/libs/runtime"
)

func main() {
	_ = godotenv.Load()

	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8084")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	webhookSecret, err := config.RequiredString("PAYMENT_WEBHOOK_SECRET")
	if err != nil {
		panic(err)
	}

	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	tzName := config.String("BOOKING_TIMEZONE", "UTC")
	location, err := time.LoadLocation(tzName)
	if err != nil {
		logger.Error("invalid booking timezone; using UTC", "tz", tzName, "err", err)
		location = time.UTC
	}

	outboxRepo := outbox.NewRepository(pool)
	repo := storage.NewRepository(pool, outboxRepo)
	directory := storage.NewDirectory(pool)

	gateway := payments.NewStripeGateway(config.String("STRIPE_SECRET_KEY", ""), 10*time.Second)
	verifier := payments.NewVerifier(webhookSecret)

	svc := booking.NewService(directory, repo, gateway, verifier, logger, booking.Config{
		SlotDuration: config.Duration("SLOT_DURATION_MINUTES", time.Hour),
		Currency:     config.String("BOOKING_CURRENCY", "INR"),
		GatewayKeyID: config.String("PAYMENT_KEY_ID", ""),
		RefundCutoff: time.Duration(config.Int("REFUND_CUTOFF_HOURS", 24)) * time.Hour,
		Location:     location,
	})

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	reaper := booking.NewReaper(repo, logger, config.Duration("PENDING_BOOKING_TTL", 30*time.Minute))
	go reaper.Run(ctx)

	checks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
	}
	if brokers := config.String("KAFKA_BROKERS", ""); brokers != "" {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}

	var limiter httpx.Middleware
	if redisAddr := config.String("REDIS_ADDR", ""); redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		defer func() { _ = rdb.Close() }()
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: httpx.RedisReadyCheck(rdb)})
		limiter = httpx.NewRedisRateLimiter(rdb,
			config.Int("RATE_LIMIT_PER_MINUTE", 120), time.Minute, service,
		).Middleware(logger, true)
	} else {
		limiter = httpx.NewRateLimiter(config.Int("RATE_LIMIT_PER_MINUTE", 120), time.Minute).Middleware()
	}

	bookingHandler := handlers.NewBookingHandler(svc, logger)

	mux := runtime.NewBaseMux(checks...)
	bookingHandler.Routes(mux)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1<<20),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: strings.Split(config.String("CORS_ALLOWED_ORIGINS", ""), ","),
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "X-Actor-Id", "X-Actor-Role", "X-Request-Id"},
			MaxAge:         10 * time.Minute,
		}),
		limiter,
	)
	httpHandler = otelhttp.NewHandler(httpHandler, service)

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
