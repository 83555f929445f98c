package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"example.com/conditioning/internal/api"
	"example.com/conditioning/internal/auth"
	"example.com/conditioning/internal/cache"
	"example.com/conditioning/internal/config"
	"example.com/conditioning/internal/coordinator"
	"example.com/conditioning/internal/service"
	"example.com/conditioning/internal/store/postgres"
	"example.com/conditioning/internal/stream"
	logsync "example.com/conditioning/internal/sync"
	httptransport "example.com/conditioning/internal/transport/http"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	logStore := postgres.NewLogStore(pool)
	userStore := postgres.NewUserStore(pool)

	logCache, token := cache.New()
	synchronizer := logsync.New(logCache, token, logStore, nil, nil)

	coord := coordinator.New(logStore, userStore,
		coordinator.WithRollbackPolicy(cfg.RollbackMaxRetries, cfg.RollbackRetryDelay),
		coordinator.WithStoreTimeout(cfg.StoreTimeout),
	)

	svc := service.New(logCache, token, coord, synchronizer, logStore, userStore)
	if err := svc.Init(ctx); err != nil {
		log.Fatalf("cache load failed: %v", err)
	}

	// Write path: the postgres stores announce committed mutations in
	// process and the publisher delivers them to Kafka. Every replica's
	// consumers, this one included, apply them to the cache.
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.KafkaBrokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
		Async:        false,
	}
	publisher := stream.NewPublisher(writer, cfg.LogEventsTopic, cfg.UserEventsTopic, logStore, userStore)
	publisher.Start(ctx)

	// Store events arrive over Kafka; the processors feed the synchronizer.
	eventHandler := stream.NewSyncHandler(synchronizer)

	var wg sync.WaitGroup
	for _, topic := range []string{cfg.LogEventsTopic, cfg.UserEventsTopic} {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:         cfg.KafkaBrokers,
			GroupID:         cfg.ConsumerGroupID,
			Topic:           topic,
			MinBytes:        1e3,
			MaxBytes:        10e6,
			CommitInterval:  time.Second,
			RetentionTime:   24 * time.Hour,
			ReadLagInterval: -1,
		})

		proc := stream.NewProcessor(reader, eventHandler)

		wg.Add(1)
		go func(topic string, r *kafka.Reader) {
			defer wg.Done()
			defer r.Close()

			log.Printf("event consumer started (topic=%s, group=%s)", topic, cfg.ConsumerGroupID)
			if err := proc.Run(ctx); err != nil && err != context.Canceled {
				log.Printf("event consumer stopped with error (topic=%s): %v", topic, err)
			}
		}(topic, reader)
	}

	handler := api.NewHandler(svc)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	// Basic request logger
	logger := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("%s %s", r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}, func(r *http.Request) bool {
		return r.URL.Path == "/healthz" || r.URL.Path == "/readyz" || r.URL.Path == "/metrics"
	})

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, authMiddleware.Wrap(logger(mux)))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("conditioning-service listening on %s", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		log.Printf("service shutdown failed: %v", err)
	}
	publisher.Stop()
	if err := writer.Close(); err != nil {
		log.Printf("kafka writer close failed: %v", err)
	}
	wg.Wait()
}
