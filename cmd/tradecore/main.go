package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"log/slog"

	"github.com/thy3368/rustlob-sub002/internal/changelog"
	"github.com/thy3368/rustlob-sub002/internal/consumer"
	"github.com/thy3368/rustlob-sub002/internal/engine"
	"github.com/thy3368/rustlob-sub002/internal/idempotency"
	"github.com/thy3368/rustlob-sub002/internal/ledger"
	"github.com/thy3368/rustlob-sub002/internal/pipeline"
	"github.com/thy3368/rustlob-sub002/libs/config"
	"github.com/thy3368/rustlob-sub002/libs/health"
	"github.com/thy3368/rustlob-sub002/libs/httpmiddleware"
	"github.com/thy3368/rustlob-sub002/libs/kafka"
	"github.com/thy3368/rustlob-sub002/libs/logging"
	"github.com/thy3368/rustlob-sub002/libs/metrics"
)

func main() {
	cfg, err := config.Load(os.Getenv("EXC_CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.ServiceName, cfg.Env)

	if cfg.Env == "dev" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)

	engineMetrics := engine.NewMetrics(registry)
	ledgerMetrics := ledger.NewMetrics(registry)
	pipelineMetrics := pipeline.NewMetrics(registry)

	ready := health.NewManager(false)

	store := buildIdempotencyStore(cfg, logger)
	guard := idempotency.NewGuard(store, logger)

	var publisher kafka.Publisher
	var producer *kafka.SyncProducer
	if cfg.Kafka.Enabled {
		kafkaMetrics := kafka.NewProducerMetrics(registry)
		producer, err = kafka.NewSyncProducer(cfg.Kafka.Brokers, logger, kafkaMetrics)
		if err != nil {
			logger.Error("kafka producer init failed", "error", err)
			os.Exit(1)
		}
		defer producer.Close()
		publisher = producer
		if strings.TrimSpace(cfg.Kafka.Topics.DeadLetter) != "" {
			publisher = kafka.NewDLQPublisher(producer, producer, cfg.Kafka.Topics.DeadLetter, logger)
		}
	}

	channelSink := changelog.NewChannelSink(cfg.Changelog.Buffer)
	var sink changelog.Sink = channelSink
	if publisher != nil {
		sink = changelog.NewMulticastSink(channelSink, changelog.NewKafkaSink(publisher, cfg.Kafka.Topics.Changelog))
	}
	recorder := changelog.NewRecorder(sink, logger)

	led := ledger.New(logger, ledgerMetrics)
	if cfg.Pipeline.FeeAccountID != 0 {
		if _, err := led.CreateAccount(cfg.Pipeline.FeeAccountID, 0, ledger.AccountTypeFee); err != nil {
			logger.Error("fee account init failed", "error", err)
			os.Exit(1)
		}
	}

	core := pipeline.New(pipeline.Config{
		Shards:     cfg.Pipeline.Shards,
		QueueDepth: cfg.Pipeline.QueueDepth,
		Fees: pipeline.FeeSchedule{
			MakerBps: cfg.Pipeline.MakerFeeBps,
			TakerBps: cfg.Pipeline.TakerFeeBps,
		},
		FeeAccountID: cfg.Pipeline.FeeAccountID,
	}, engine.NewEngine(logger, engineMetrics), led, guard, recorder, logger, pipelineMetrics)

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	// Drain the in-process changelog stream; the Kafka sink feeds external
	// consumers, this one feeds the logs.
	logConsumer := changelog.NewConsumer(func(entry changelog.Entry) error {
		logger.Debug("changelog",
			"entity", entry.Key(),
			"change", string(entry.ChangeType),
			"sequence", entry.Sequence)
		return nil
	}, logger)
	go logConsumer.Run(bgCtx, channelSink.Entries())

	if cfg.Kafka.Enabled {
		consumerGroup, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, logger)
		if err != nil {
			logger.Error("kafka consumer init failed", "error", err)
			os.Exit(1)
		}
		defer consumerGroup.Close()
		if producer != nil && strings.TrimSpace(cfg.Kafka.Topics.DeadLetter) != "" {
			consumerGroup.WithDLQ(producer, cfg.Kafka.Topics.DeadLetter)
		}

		commandConsumer := consumer.NewCommandConsumer(core, publisher, logger,
			cfg.Kafka.Topics.Commands, cfg.Kafka.Topics.Responses)
		go func() {
			logger.Info("command consumer starting", "topic", cfg.Kafka.Topics.Commands)
			if err := consumerGroup.Consume(bgCtx, []string{cfg.Kafka.Topics.Commands}, commandConsumer); err != nil {
				logger.Error("kafka consumer error", "error", err)
			}
		}()
	}

	httpServer := buildHTTPServer(cfg, ready, registry, logger)
	ready.SetReady(true)

	go func() {
		logger.Info("tradecore http starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	waitForShutdown(httpServer, core, ready, bgCancel, logger)
}

func buildIdempotencyStore(cfg *config.AppConfig, logger *slog.Logger) idempotency.Store {
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		logger.Info("idempotency store", "backend", "redis", "addr", cfg.Redis.Addr)
		return idempotency.NewRedisStore(client, cfg.Idempotency.TTL, cfg.Idempotency.Prefix)
	}
	logger.Info("idempotency store", "backend", "memory")
	return idempotency.NewMemoryStore(cfg.Idempotency.TTL, cfg.Idempotency.MaxEntries)
}

func buildHTTPServer(cfg *config.AppConfig, ready *health.Manager, registry *prometheus.Registry, logger *slog.Logger) *http.Server {
	router := gin.New()
	router.Use(httpmiddleware.RequestID())
	router.Use(httpmiddleware.Logger(logger))
	router.Use(httpmiddleware.Recovery(logger))

	router.GET("/healthz", health.LivenessHandler)
	router.GET("/readyz", health.ReadinessHandler(ready))
	router.GET(cfg.MetricsPath, gin.WrapH(metrics.Handler(registry)))

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	return &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}
}

func waitForShutdown(httpServer *http.Server, core *pipeline.Pipeline, ready *health.Manager, cancel context.CancelFunc, logger *slog.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutdown started")
	ready.SetReady(false)
	cancel()
	core.Close()

	ctx, cancelTimeout := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelTimeout()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}
