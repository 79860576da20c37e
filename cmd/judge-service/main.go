package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"codejudge/internal/common/cache"
	"codejudge/internal/common/db"
	commonmw "codejudge/internal/common/http/middleware"
	"codejudge/internal/common/mq"
	"codejudge/internal/common/storage"
	"codejudge/internal/judge/controller"
	"codejudge/internal/judge/filter"
	"codejudge/internal/judge/problemstore"
	"codejudge/internal/judge/repository"
	"codejudge/internal/judge/sandbox/engine"
	"codejudge/internal/judge/sandbox/observer"
	"codejudge/internal/judge/sandbox/profile"
	"codejudge/internal/judge/sandbox/runner"
	"codejudge/internal/judge/sandbox/spec"
	"codejudge/internal/judge/service"
	"codejudge/pkg/utils/logger"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/judge_service.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(appCfg); err != nil {
		logger.Error(context.Background(), "judge service stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(appCfg *AppConfig) error {
	ctx := context.Background()

	var metrics observer.MetricsRecorder = observer.NoopMetricsRecorder{}
	if *appCfg.Metrics.Enabled {
		recorder, err := observer.NewPrometheusRecorder(prometheus.DefaultRegisterer)
		if err != nil {
			return fmt.Errorf("init metrics failed: %w", err)
		}
		metrics = recorder
	}

	eng := engine.NewEngine(engine.Config{StderrMaxBytes: appCfg.Judge.StderrMaxBytes})
	jobRunner := runner.NewRunnerWithObserver(eng, metrics)

	var (
		objStorage storage.ObjectStorage
		fetcher    problemstore.PackFetcher
		archive    *service.SourceArchive
	)
	if appCfg.MinIO.Endpoint != "" {
		minioStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
		if err != nil {
			return fmt.Errorf("init minio failed: %w", err)
		}
		objStorage = minioStorage
		fetcher = problemstore.NewObjectPackFetcher(objStorage, appCfg.MinIO.Bucket, appCfg.MinIO.PackPrefix)
		if appCfg.MinIO.SourcePrefix != "" {
			archive = &service.SourceArchive{
				Storage: objStorage,
				Bucket:  appCfg.MinIO.Bucket,
				Prefix:  appCfg.MinIO.SourcePrefix,
			}
		}
		logger.Info(ctx, "minio enabled", zap.String("endpoint", appCfg.MinIO.Endpoint))
	}

	readiness := make(map[string]controller.Pinger)

	var statusRepo service.StatusStore
	if appCfg.Redis.Addr != "" {
		redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
		if err != nil {
			return fmt.Errorf("init redis failed: %w", err)
		}
		defer func() {
			_ = redisCache.Close()
		}()
		statusRepo = repository.NewStatusRepository(redisCache, appCfg.Status.TTL)
		readiness["redis"] = redisCache
		logger.Info(ctx, "redis status store enabled", zap.String("addr", appCfg.Redis.Addr))
	}

	var publisher repository.StatusEventPublisher
	if len(appCfg.Kafka.Brokers) > 0 {
		producer, err := mq.NewKafkaProducer(appCfg.Kafka.toMQConfig())
		if err != nil {
			return fmt.Errorf("init kafka failed: %w", err)
		}
		defer func() {
			_ = producer.Close()
		}()
		publisher = repository.NewMQStatusEventPublisher(producer, appCfg.Kafka.StatusTopic)
		logger.Info(ctx, "kafka status events enabled", zap.String("topic", appCfg.Kafka.StatusTopic))
	}

	var solved service.SolvedRecorder
	if appCfg.Database.DSN != "" {
		mysqlDB, err := db.NewMySQLWithConfig(&appCfg.Database)
		if err != nil {
			return fmt.Errorf("init database failed: %w", err)
		}
		defer func() {
			_ = mysqlDB.Close()
		}()
		solved = repository.NewSolvedRepository(mysqlDB)
		readiness["mysql"] = mysqlDB
		logger.Info(ctx, "solved-state store enabled")
	}

	judgeSvc, err := service.NewService(service.Config{
		Queue: service.QueueConfig{
			HistoryLimit: appCfg.Judge.HistoryLimit,
			HistoryTTL:   appCfg.Judge.HistoryTTL,
			Killer:       eng,
		},
		Problems:      problemstore.NewStore(appCfg.Problems.Root, fetcher),
		Filter:        filter.New(appCfg.Filter.Allowlist, filter.WithSkipComments(appCfg.Filter.SkipComments)),
		Runner:        jobRunner,
		Languages:     profile.NewRegistry(appCfg.Languages),
		StatusRepo:    statusRepo,
		Publisher:     publisher,
		Solved:        solved,
		SourceArchive: archive,
		WorkRoot:      appCfg.Judge.WorkRoot,
		Limits: spec.ResourceLimit{
			WallTimeMs:     appCfg.Judge.TimeLimit.Milliseconds(),
			StderrMaxBytes: appCfg.Judge.StderrMaxBytes,
		},
		MaxCodeBytes:  appCfg.Judge.MaxCodeBytes,
		StatusTimeout: appCfg.Status.Timeout,
	})
	if err != nil {
		return fmt.Errorf("init judge service failed: %w", err)
	}
	judgeSvc.Start()

	httpServer := buildHTTPServer(appCfg, judgeSvc, readiness)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("init http listener failed: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "judge http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	stopCtx, cancel := context.WithTimeout(ctx, appCfg.Judge.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(stopCtx); err != nil {
		logger.Error(ctx, "http server shutdown failed", zap.Error(err))
	}
	if err := judgeSvc.Shutdown(stopCtx); err != nil {
		logger.Warn(ctx, "judge queue did not drain in time", zap.Error(err))
	}
	return nil
}

func buildHTTPServer(appCfg *AppConfig, judgeSvc controller.JudgeService, readiness map[string]controller.Pinger) *http.Server {
	router := gin.New()
	router.Use(ginzap.RecoveryWithZap(logger.GetLogger().Zap(), true))
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(commonmw.AccessLog())
	router.Use(commonmw.CORSMiddleware(appCfg.Server.CORS))

	controller.NewJudgeController(judgeSvc, appCfg.Server.WatchInterval).RegisterRoutes(router)
	if *appCfg.Metrics.Enabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
	controller.NewHealthController(readiness, appCfg.Status.Timeout).RegisterRoutes(router)

	return &http.Server{
		Addr:         appCfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  appCfg.Server.ReadTimeout,
		WriteTimeout: appCfg.Server.WriteTimeout,
		IdleTimeout:  appCfg.Server.IdleTimeout,
	}
}
