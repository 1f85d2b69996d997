/**
 * @description
 * Entry point for shopper-service. Loads configuration, connects to
 * Postgres, wires the Credentials Provider, AP2 Consumer Agent, Checkout
 * Orchestrator, and (optional) network tokenization adapter, and serves
 * the demo-facing HTTP API. Grounded on merchant-service's own
 * `cmd/main.go` bootstrap/signal-shutdown sequence.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5/pgxpool, github.com/go-chi/chi/v5,
 *   github.com/redis/go-redis/v9, github.com/rabbitmq/amqp091-go.
 * - internal/api, internal/ap2consumer, internal/config, internal/creds,
 *   internal/idempotency, internal/orchestrator, internal/ratelimit,
 *   internal/store, internal/ucpclient, pkg/networktoken, pkg/rabbitmq.
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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/ucp-demo/shopper-service/internal/ap2consumer"
	"github.com/ucp-demo/shopper-service/internal/api"
	"github.com/ucp-demo/shopper-service/internal/config"
	"github.com/ucp-demo/shopper-service/internal/creds"
	"github.com/ucp-demo/shopper-service/internal/idempotency"
	"github.com/ucp-demo/shopper-service/internal/orchestrator"
	"github.com/ucp-demo/shopper-service/internal/ratelimit"
	"github.com/ucp-demo/shopper-service/internal/store"
	"github.com/ucp-demo/shopper-service/internal/ucpclient"
	"github.com/ucp-demo/shopper-service/pkg/networktoken"
	"github.com/ucp-demo/shopper-service/pkg/rabbitmq"
)

func main() {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	log.Printf("level=info component=bootstrap msg=\"starting shopper-service\" port=%s merchant_url=%s", cfg.ServerPort, cfg.MerchantServiceURL)

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	var publisher rabbitmq.Publisher
	if strings.TrimSpace(cfg.RabbitMQURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"rabbitmq url not configured; checkout event publishing disabled\"")
		publisher = &rabbitmq.FallbackProducer{}
	} else if producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		publisher = &rabbitmq.FallbackProducer{}
	} else {
		defer producer.Close()
		publisher = producer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	var idemCache *idempotency.Cache
	var limiter ratelimit.Limiter
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; checkout idempotency cache and otp rate limiting disabled\"")
		idemCache = idempotency.NewCache(nil, "", 0)
	} else if redisOpts, err := redis.ParseURL(cfg.RedisURL); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; checkout idempotency cache and otp rate limiting disabled\" err=%v", err)
		idemCache = idempotency.NewCache(nil, "", 0)
	} else {
		redisClient := redis.NewClient(redisOpts)
		pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelPing()
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis ping failed; checkout idempotency cache and otp rate limiting disabled\" err=%v", err)
			redisClient.Close()
			idemCache = idempotency.NewCache(nil, "", 0)
		} else {
			defer redisClient.Close()
			idemCache = idempotency.NewCache(redisClient, "shopper:idempotency", 10*time.Minute)
			limiter = ratelimit.NewRedisLimiter(redisClient, "shopper:rate_limit")
			log.Println("level=info component=bootstrap msg=\"redis connected\"")
		}
	}

	repo := store.NewPostgresRepository(dbpool)

	credsProvider, err := creds.NewProvider(repo, cfg.PANEncryptionKeyHex)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"credentials provider init failed\" err=%v", err)
	}
	if cfg.PANEncryptionKeyHex == "" {
		log.Println("level=warn component=bootstrap msg=\"pan encryption key not configured; instrument enrollment disabled\"")
	}

	var tokenAdapter networktoken.Adapter = networktoken.NoopAdapter{}
	if cfg.NetworkTokenMode == "oauth1" {
		keyPEM, err := os.ReadFile(cfg.MastercardSigningKeyPath)
		if err != nil {
			log.Printf("level=warn component=bootstrap msg=\"mastercard signing key unreadable; falling back to noop tokenization\" err=%v", err)
		} else if signer, err := networktoken.NewOAuth1Signer(cfg.MastercardConsumerKey, keyPEM); err != nil {
			log.Printf("level=warn component=bootstrap msg=\"mastercard signer init failed; falling back to noop tokenization\" err=%v", err)
		} else {
			tokenAdapter = networktoken.NewOAuth1Adapter(cfg.MastercardBaseURL, cfg.MastercardConsumerKey, signer)
			log.Println("level=info component=bootstrap msg=\"oauth1 network tokenization adapter configured\"")
		}
	}
	consumerAgent := ap2consumer.NewAgent(credsProvider, "shopper-agent-1").WithTokenizer(tokenAdapter, credsProvider)
	merchantClient := ucpclient.NewClient(cfg.MerchantServiceURL)
	orch := orchestrator.NewOrchestrator(repo, merchantClient, consumerAgent, credsProvider, idemCache, publisher)

	handlers := api.NewHandlers(repo, credsProvider, orch, merchantClient, limiter, "USD", cfg.JWTSecret)
	router := api.NewRouter(handlers, cfg.JWTSecret)
	if cfg.JWTSecret == "" {
		log.Println("level=warn component=bootstrap msg=\"jwt secret not configured; checkout endpoints unauthenticated\"")
	}

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{Addr: serverAddr, Handler: router}

	go func() {
		log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)
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
