package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"pulse/internal/broker"
	"pulse/internal/config"
	"pulse/internal/constants"
	"pulse/internal/deadletter"
	"pulse/internal/logger"
	"pulse/pkg/bootstrap"
	"pulse/pkg/health"
	"pulse/pkg/metrics"
	"pulse/pkg/migrations"
)

type App struct {
	config      *config.Config
	logger      logger.Logger
	dbConnector *bootstrap.DatabaseConnector
	mongoClient *mongo.Client
	consumer    *broker.DeadLetterConsumer
	service     *deadletter.Service
	server      *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName("dlq-archiver")
	}
	return &App{
		config:      cfg,
		logger:      log,
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	mongoClient, err := a.dbConnector.InitMongoDB(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize MongoDB: %w", err)
	}
	if mongoClient == nil {
		return fmt.Errorf("mongodb configuration is required for the archiver")
	}
	a.mongoClient = mongoClient

	mongoDB := mongoClient.Database(a.config.Database.MongoDB.Database)
	if err := migrations.EnsureDeadLetterIndexes(ctx, mongoDB); err != nil {
		return fmt.Errorf("failed to ensure dead letter indexes: %w", err)
	}

	a.service = deadletter.NewService(deadletter.NewRepository(mongoDB), a.logger)
	a.consumer = broker.NewDeadLetterConsumer(a.config.Broker.Kafka, a.logger)

	metrics.RegisterArchiverMetrics()
	metrics.RegisterBrokerMetrics()

	a.initHTTPServer()
	return nil
}

func (a *App) initHTTPServer() {
	mux := http.NewServeMux()

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewMongoDBChecker(a.mongoClient))
	healthRegistry.Register(health.NewKafkaChecker(a.config.Broker.Kafka.Brokers))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		h := healthRegistry.Check(r.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		fmt.Fprintf(w, `{"status":"%s","timestamp":"%s"}`, h.Status, h.Timestamp.Format(time.RFC3339))
	})

	mux.HandleFunc("/api/v1/dead-letters", deadletter.NewHandler(a.service, a.logger).ListDeadLetters)

	mux.Handle("/metrics", promhttp.Handler())

	a.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.config.Server.Port),
		Handler: mux,
	}
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.InfowCtx(ctx, "HTTP server starting", "port", a.config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	dlqTopic := a.config.Broker.Kafka.DLQTopic
	if dlqTopic == "" {
		dlqTopic = constants.DefaultDLQTopic
	}

	g.Go(func() error {
		return a.consumer.Consume(gCtx, dlqTopic, a.service.Archive)
	})

	// The HTTP goroutine only returns once server.Shutdown is called, so the
	// shutdown must run inside the group rather than after g.Wait.
	g.Go(func() error {
		<-gCtx.Done()
		return a.Shutdown(context.Background())
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.InfowCtx(ctx, "Shutting down DLQ archiver")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()

	var errs []error

	if a.server != nil {
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("HTTP server shutdown error: %w", err))
		}
	}

	if a.consumer != nil {
		if err := a.consumer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("consumer close error: %w", err))
		}
	}

	errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, nil, nil, a.mongoClient)...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	a.logger.InfowCtx(ctx, "Archiver exited successfully")
	return nil
}
