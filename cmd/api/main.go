// Package main is the entry point for the inbox API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	amqpintake "github.com/wanderlynx/whatsapp-inbox/internal/amqp"
	"github.com/wanderlynx/whatsapp-inbox/internal/config"
	"github.com/wanderlynx/whatsapp-inbox/internal/handler"
	"github.com/wanderlynx/whatsapp-inbox/internal/ledger"
	"github.com/wanderlynx/whatsapp-inbox/internal/llm"
	"github.com/wanderlynx/whatsapp-inbox/internal/middleware"
	natsclient "github.com/wanderlynx/whatsapp-inbox/internal/nats"
	"github.com/wanderlynx/whatsapp-inbox/internal/service"
	"github.com/wanderlynx/whatsapp-inbox/internal/store"
	"github.com/wanderlynx/whatsapp-inbox/internal/wa"
	"github.com/wanderlynx/whatsapp-inbox/pkg/logger"
	"github.com/wanderlynx/whatsapp-inbox/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting inbox API server")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "whatsapp-inbox", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect to MySQL. Without a DSN the server runs on the in-memory
	// store, which is only suitable for local development.
	var (
		st     store.Store
		pinger func() error
	)
	if cfg.MySQLDSN != "" {
		mysqlStore, err := store.Open(ctx, cfg.MySQLDSN)
		if err != nil {
			log.Error("failed to connect to MySQL", zap.Error(err))
			os.Exit(1)
		}
		defer mysqlStore.Close()
		st = mysqlStore
		pinger = mysqlStore.Ping
	} else {
		log.Warn("MYSQL_DSN not set, using in-memory store")
		st = store.NewMemory()
	}

	// Redis dedup cache is an optional fast path for the ledger.
	var dedup ledger.Dedup
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn("redis unreachable, ledger runs without dedup cache", zap.Error(err))
		} else {
			dedup = ledger.NewRedisDedup(redisClient)
		}
	}

	// Connect to NATS for live dashboard updates.
	var (
		natsConn  *natsclient.Client
		publisher service.UpdatePublisher
	)
	if cfg.NATSEnabled {
		natsConn, err = natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Error("failed to connect to NATS", zap.Error(err))
			os.Exit(1)
		}
		defer natsConn.Close()

		pub := natsclient.NewPublisher(natsConn)
		if err := pub.EnsureStream(ctx); err != nil {
			log.Error("failed to ensure stream", zap.Error(err))
			os.Exit(1)
		}
		publisher = pub
	}

	// WhatsApp Cloud API client
	waClient := wa.NewCloudClient(wa.Config{
		AccessToken:   cfg.WAAccessToken,
		PhoneNumberID: cfg.WAPhoneNumberID,
		APIVersion:    cfg.WAAPIVersion,
		Timeout:       cfg.ProviderTimeout,
	}, log)

	// Initialize LLM client for reply suggestions
	var llmClient llm.Client
	if cfg.SuggestEnabled {
		provider := llm.Provider(cfg.DefaultLLM)
		apiKey := cfg.AnthropicAPIKey
		if provider == llm.ProviderOpenAI {
			apiKey = cfg.OpenAIAPIKey
		}
		llmClient, err = llm.NewClient(provider, apiKey)
		if err != nil {
			log.Warn("failed to create LLM client, suggestions disabled",
				zap.String("provider", cfg.DefaultLLM), zap.Error(err))
			llmClient = nil
		}
	}

	// Initialize services
	led := ledger.New(st, dedup, cfg.LedgerTTL, log)
	trimCtx, stopTrim := context.WithCancel(ctx)
	defer stopTrim()
	led.StartTrimming(trimCtx, cfg.LedgerTrimInterval, cfg.LedgerRetention)

	conversationSvc := service.NewConversationService(st, log)
	messageSvc := service.NewMessageService(st, conversationSvc, waClient, publisher, log)
	eventSvc := service.NewEventService(led, messageSvc, log)
	suggestSvc := service.NewSuggestService(messageSvc, llmClient, log)

	// Optional RabbitMQ event intake
	if cfg.AMQPEnabled && cfg.AMQPURL != "" {
		consumer, err := amqpintake.NewConsumer(cfg.AMQPURL, eventSvc, log)
		if err != nil {
			log.Error("failed to connect to RabbitMQ", zap.Error(err))
			os.Exit(1)
		}
		defer consumer.Close()
		if err := consumer.Start(cfg.AMQPQueue); err != nil {
			log.Error("failed to start event consumer", zap.Error(err))
			os.Exit(1)
		}
	}

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(natsConn, pinger)
	conversationHandler := handler.NewConversationHandler(conversationSvc, suggestSvc, log)
	messageHandler := handler.NewMessageHandler(messageSvc, log)
	eventHandler := handler.NewEventHandler(eventSvc, log)
	webhookHandler := handler.NewWebhookHandler(messageSvc, cfg.WAVerifyToken, cfg.WAAppSecret, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// WhatsApp webhook, authenticated by its own signature scheme
	r.Get("/webhook", webhookHandler.Verify)
	r.Post("/webhook", webhookHandler.Receive)

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		// Business event intake
		r.Post("/events/{type}", eventHandler.Handle)

		// Conversations
		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", conversationHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", conversationHandler.Get)
				r.Get("/messages", messageHandler.List)
				r.Get("/suggest", conversationHandler.Suggest)

				r.With(middleware.RequireWriter).Post("/messages", messageHandler.Send)
				// Per-action permissions live in the service: marketing may
				// mark a conversation read but nothing else.
				r.Post("/actions", conversationHandler.Action)
			})
		})

		// Message retry
		r.With(middleware.RequireWriter).Post("/messages/{id}/retry", messageHandler.Retry)
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
