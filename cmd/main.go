/**
 * @description
 * This is the main entry point for the payment-service. It is responsible for
 * initializing all components of the service, including configuration, database connection,
 * external API clients, message brokers, repositories, the core application service,
 * and the HTTP server. It wires everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/darajaclient: Client for the Safaricom Daraja API.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/compost-captain/payment-service/internal/api"
	"github.com/compost-captain/payment-service/internal/app"
	"github.com/compost-captain/payment-service/internal/config"
	"github.com/compost-captain/payment-service/internal/store"
	"github.com/compost-captain/payment-service/pkg/darajaclient"
	rmrabbit "github.com/compost-captain/payment-service/pkg/rabbitmq"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	adminID, err := uuid.Parse(strings.TrimSpace(cfg.AdminUserID))
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"admin user id must be a uuid\" env=ADMIN_USER_ID err=%v", err)
	}

	log.Printf("level=info component=bootstrap msg=\"starting payment-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer to publish transition events. A broker
	// outage at boot degrades to the fallback rather than blocking payments.
	var producer rmrabbit.Publisher
	eventProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rmrabbit.EventProducerFallback{}
	} else {
		defer eventProducer.Close()
		producer = eventProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the Daraja client. Missing credentials should not prevent the
	// service from booting; STK push initiation will be disabled.
	var darajaClient *darajaclient.Client
	if strings.TrimSpace(cfg.DarajaConsumerKey) == "" || strings.TrimSpace(cfg.DarajaConsumerSecret) == "" {
		log.Println("level=warn component=bootstrap msg=\"daraja credentials not configured; stk push disabled\"")
	} else {
		darajaClient = darajaclient.NewClient(
			cfg.DarajaBaseURL,
			cfg.DarajaConsumerKey,
			cfg.DarajaConsumerSecret,
			cfg.DarajaShortCode,
			cfg.DarajaPasskey,
			cfg.CallbackBaseURL,
		)
	}

	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; webhook replay cache disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; webhook replay cache disabled\" err=%v", parseErr)
		} else {
			redisClient = redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; webhook replay cache disabled\" err=%v", pingErr)
				redisClient.Close()
				redisClient = nil
			} else {
				defer redisClient.Close()
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core application components.
	dispatcher := app.NewDispatcher(repository, producer, cfg.EventExchange, adminID)
	reconciler := app.NewReconciler(repository, dispatcher)
	if redisClient != nil {
		reconciler.SetReplayCache(app.NewRedisReplayCache(
			redisClient,
			cfg.RedisReplayPrefix,
			time.Duration(cfg.WebhookReplayTTLMin)*time.Minute,
		))
	}
	paymentService := app.NewService(repository, darajaClient, dispatcher)

	// Register the C2B callback URLs with the provider. Registration is an
	// upsert on their side, so a failure here is retried on the next boot.
	if darajaClient != nil && cfg.CallbackBaseURL != "" {
		registerCtx, cancelRegister := context.WithTimeout(context.Background(), 30*time.Second)
		if err := darajaClient.RegisterC2BURLs(registerCtx); err != nil {
			log.Printf("level=warn component=bootstrap msg=\"c2b url registration failed\" err=%v", err)
		} else {
			log.Println("level=info component=bootstrap msg=\"c2b urls registered\"")
		}
		cancelRegister()
	}

	// Initialize the API handlers and router.
	handlers := api.NewHandlers(paymentService)
	webhookHandlers := api.NewWebhookHandlers(reconciler)
	router := api.PaymentRoutes(handlers, webhookHandlers, cfg.AuthJWKSURL)

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
