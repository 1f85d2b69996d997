/**
 * @description
 * This is the main entry point for merchant-service. It loads
 * configuration, connects to Postgres and (best-effort) RabbitMQ/Redis,
 * wires the Checkout Session Manager and AP2 Merchant Agent, starts the
 * cron-scheduled expired-session sweep, and serves the UCP/AP2 HTTP
 * surface.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5/pgxpool, github.com/go-chi/chi/v5,
 *   github.com/robfig/cron/v3 (via internal/sweep).
 * - internal/api, internal/ap2merchant, internal/catalog, internal/checkout,
 *   internal/config, internal/ratelimit, internal/requestlog, internal/store,
 *   internal/sweep, pkg/didsigner, pkg/rabbitmq.
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
	"github.com/ucp-demo/merchant-service/internal/ap2merchant"
	"github.com/ucp-demo/merchant-service/internal/api"
	"github.com/ucp-demo/merchant-service/internal/catalog"
	"github.com/ucp-demo/merchant-service/internal/checkout"
	"github.com/ucp-demo/merchant-service/internal/config"
	"github.com/ucp-demo/merchant-service/internal/ratelimit"
	"github.com/ucp-demo/merchant-service/internal/requestlog"
	"github.com/ucp-demo/merchant-service/internal/store"
	"github.com/ucp-demo/merchant-service/internal/sweep"
	"github.com/ucp-demo/merchant-service/pkg/didsigner"
	"github.com/ucp-demo/merchant-service/pkg/rabbitmq"
)

func main() {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	log.Printf("level=info component=bootstrap msg=\"starting merchant-service\" port=%s merchant_id=%s", cfg.ServerPort, cfg.MerchantID)

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}
	poolConfig.MaxConns = 20
	poolConfig.MinConns = 2
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
		log.Println("level=warn component=bootstrap msg=\"rabbitmq url not configured; request log publishing disabled\"")
		publisher = &rabbitmq.FallbackProducer{}
	} else if producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		publisher = &rabbitmq.FallbackProducer{}
	} else {
		defer producer.Close()
		publisher = producer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	repo := store.NewPostgresRepository(dbpool)
	manager := checkout.NewManager(repo, checkout.ZeroTax)

	var signer ap2merchant.Signer
	if strings.TrimSpace(cfg.DIDSignerURL) != "" {
		signer = didsigner.NewHTTPSigner(cfg.DIDSignerURL)
		log.Println("level=info component=bootstrap msg=\"did signer configured\"")
	}

	var limiter ratelimit.Limiter
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; otp rate limiting disabled\"")
	} else if redisOpts, err := redis.ParseURL(cfg.RedisURL); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; otp rate limiting disabled\" err=%v", err)
	} else {
		redisClient := redis.NewClient(redisOpts)
		pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelPing()
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis ping failed; otp rate limiting disabled\" err=%v", err)
			redisClient.Close()
		} else {
			defer redisClient.Close()
			limiter = ratelimit.NewRedisLimiter(redisClient, "merchant:rate_limit")
			log.Println("level=info component=bootstrap msg=\"redis connected\"")
		}
	}

	agent := ap2merchant.NewAgent(repo, ap2merchant.Config{
		MerchantID:      cfg.MerchantID,
		StepUpEnabled:   cfg.StepUpEnabled,
		AmountThreshold: cfg.StepUpAmountThreshold,
		ThresholdSmall:  cfg.StepUpThresholdSmall,
		ThresholdLarge:  cfg.StepUpThresholdLarge,
		DemoOTPMode:     cfg.DemoOTPMode,
		Signer:          signer,
		Limiter:         limiter,
	})

	recorder := requestlog.NewRecorder(repo, publisher, cfg.RequestLogQueue)
	handlers := api.NewHandlers(cfg, manager, agent, catalog.NewDemoCatalog())
	router := api.NewRouter(handlers, recorder)

	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	defer cancelSweep()
	sweeper := sweep.NewSweeper(sweepCtx, cfg.SweepSchedule, "checkout_sweep", manager.SweepExpired)
	sweeper.Start()
	defer sweeper.Stop()

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
