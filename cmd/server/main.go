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

	"github.com/gin-gonic/gin"

	"github.com/ryu-qqq/setof-commerce-sub005/config"
	"github.com/ryu-qqq/setof-commerce-sub005/internal/api"
	"github.com/ryu-qqq/setof-commerce-sub005/internal/broker"
	"github.com/ryu-qqq/setof-commerce-sub005/internal/checkout"
	"github.com/ryu-qqq/setof-commerce-sub005/internal/discount"
	"github.com/ryu-qqq/setof-commerce-sub005/internal/gateway"
	"github.com/ryu-qqq/setof-commerce-sub005/internal/order"
	"github.com/ryu-qqq/setof-commerce-sub005/internal/payment"
	"github.com/ryu-qqq/setof-commerce-sub005/internal/redisclient"
	"github.com/ryu-qqq/setof-commerce-sub005/internal/service"
	"github.com/ryu-qqq/setof-commerce-sub005/internal/stock"
	"github.com/ryu-qqq/setof-commerce-sub005/internal/store"
	"github.com/ryu-qqq/setof-commerce-sub005/internal/util"
	"github.com/ryu-qqq/setof-commerce-sub005/internal/worker"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting transaction engine")

	tp, err := util.InitTracer("transaction-engine", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	pgProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicPGEvents)
	defer pgProducer.Close()
	notifyProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications)
	defer notifyProducer.Close()
	log.Println("Kafka producers initialized")

	eventPublisher := broker.NewEventPublisher(pgProducer, notifyProducer)

	orders := store.NewOrders(db)
	updater := order.NewUpdaterRegistry(orders)
	issuer := order.NewIssuer(db)
	stockService := stock.NewService(db, redisClient)
	lock := checkout.NewLock(redisClient, cfg.Business.CheckoutLockTTL)
	pg := gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.APIKey, cfg.Gateway.Timeout)
	engine := discount.NewEngine()

	deps := payment.Deps{
		Store:       db,
		Orders:      orders,
		Issuer:      issuer,
		Updater:     updater,
		Stock:       stockService,
		Gateway:     pg,
		Settlements: db,
		Discounts:   engine,
		Lock:        lock,
	}

	reconciler := payment.NewReconciler(db, orders, updater, stockService, lock)
	accountOrch := payment.NewAccountOrchestrator(deps, db, redisClient, eventPublisher)
	reconciler.RegisterHook(payment.GroupAccount, accountOrch)

	router := payment.NewRouter(
		payment.NewCardOrchestrator(deps),
		accountOrch,
		payment.NewMileageOrchestrator(deps, reconciler),
	)

	checkoutService := service.NewCheckoutService(
		lock, db, redisClient, engine, router, db, orders, updater)

	// seed the Redis stock counters before taking traffic
	stockSync := worker.NewStockSyncWorker(db, redisClient)
	if err := stockSync.Run(context.Background()); err != nil {
		log.Printf("Failed to sync stock counters: %v", err)
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	webhookConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicPGEvents, cfg.Kafka.ConsumerGroup)
	webhookWorker := worker.NewWebhookWorker(webhookConsumer, reconciler)
	go func() {
		if err := webhookWorker.Start(workerCtx); err != nil {
			log.Printf("Webhook worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ginRouter := gin.Default()
	handler := api.NewHandler(checkoutService, eventPublisher)
	handler.SetupRoutes(ginRouter)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: ginRouter,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	webhookWorker.Stop()

	log.Println("Server exited")
}
