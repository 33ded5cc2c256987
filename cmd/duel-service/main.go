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
	"time"

	"codeduel/internal/common/cache"
	commonmw "codeduel/internal/common/http/middleware"
	"codeduel/internal/common/mq"
	"codeduel/internal/common/storage"
	"codeduel/internal/duel/catalog"
	duelController "codeduel/internal/duel/controller"
	"codeduel/internal/duel/gateway"
	"codeduel/internal/duel/publisher"
	"codeduel/internal/duel/registry"
	duelRepo "codeduel/internal/duel/repository"
	judgeController "codeduel/internal/judge/controller"
	"codeduel/internal/judge/evaluator"
	"codeduel/internal/judge/queue"
	judgeRepo "codeduel/internal/judge/repository"
	sandboxConfig "codeduel/internal/judge/sandbox/config"
	"codeduel/internal/judge/sandbox/engine"
	"codeduel/internal/judge/sandbox/observer"
	"codeduel/internal/judge/sandbox/runner"
	"codeduel/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/duel_service.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		logger.Error(context.Background(), "init redis failed", zap.Error(err))
		return
	}
	defer func() {
		_ = redisCache.Close()
	}()

	mqClient, err := mq.NewKafkaQueue(appCfg.Kafka)
	if err != nil {
		logger.Error(context.Background(), "init kafka failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mqClient.Close()
	}()

	tasks, err := buildCatalog(appCfg)
	if err != nil {
		logger.Error(context.Background(), "init task catalog failed", zap.Error(err))
		return
	}

	languages, err := sandboxConfig.LoadFile(appCfg.Sandbox.LanguagesPath)
	if err != nil {
		logger.Error(context.Background(), "load language config failed", zap.Error(err))
		return
	}
	sandboxEngine, err := engine.NewEngine(appCfg.Sandbox.Engine, languages)
	if err != nil {
		logger.Error(context.Background(), "init sandbox engine failed", zap.Error(err))
		return
	}
	sandboxMetrics, err := observer.NewPrometheusRecorder(reg)
	if err != nil {
		logger.Error(context.Background(), "init sandbox metrics failed", zap.Error(err))
		return
	}
	sandboxRunner, err := runner.NewRunner(sandboxEngine, languages, languages, appCfg.Sandbox.WorkRoot, sandboxMetrics)
	if err != nil {
		logger.Error(context.Background(), "init sandbox runner failed", zap.Error(err))
		return
	}

	statusRepo := judgeRepo.NewStatusRepository(redisCache, appCfg.Judge.StatusTTL)
	judgeQueue, err := queue.New(appCfg.Judge.Queue, evaluator.New(sandboxRunner, nil), statusRepo, queue.NewMetrics(reg))
	if err != nil {
		logger.Error(context.Background(), "init judge queue failed", zap.Error(err))
		return
	}
	judgeQueue.Start()

	records, err := publisher.NewRecords(appCfg.Records, mqClient)
	if err != nil {
		logger.Error(context.Background(), "init record publisher failed", zap.Error(err))
		return
	}
	records.Start()

	hub := gateway.NewHub()
	ratings := duelRepo.NewRatingRepository(redisCache)
	duels, err := registry.New(appCfg.Registry, registry.Deps{
		Catalog:   tasks,
		Queue:     judgeQueue,
		Languages: languages,
		Ratings:   ratings,
		Publisher: publisher.Fanout{hub, records},
		Metrics:   registry.NewMetrics(reg),
	})
	if err != nil {
		logger.Error(context.Background(), "init duel registry failed", zap.Error(err))
		return
	}
	duels.Start()

	verifier := gateway.NewJWTVerifier(appCfg.Auth.JWTSecret, appCfg.Auth.JWTIssuer)
	gw := gateway.New(appCfg.Gateway, hub, duels, verifier)

	httpServer := buildHTTPServer(appCfg.Server, appCfg.HTTP, routes{
		duels:   duelController.NewDuelController(duels, tasks),
		players: duelController.NewPlayerController(ratings),
		judge:   judgeController.NewJudgeController(statusRepo, judgeQueue),
		gateway: gw,
		metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		limiter: commonmw.NewRateLimiter(redisCache, 0),
		auth:    verifier,
	})
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "duel http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
	// Machines stop first so no new jobs or records arrive behind them.
	duels.Stop()
	judgeQueue.Stop()
	records.Stop()
}

// buildCatalog chains the local YAML catalog in front of the object store.
func buildCatalog(cfg *AppConfig) (catalog.Catalog, error) {
	var chain catalog.Chain
	var local *catalog.Local
	if cfg.Catalog.LocalPath != "" {
		l, err := catalog.LoadFile(cfg.Catalog.LocalPath)
		if err != nil {
			return nil, err
		}
		local = l
		chain = append(chain, local)
	}
	if !cfg.Catalog.UseObject {
		return chain, nil
	}

	objStorage, err := storage.NewMinIOStorage(cfg.MinIO)
	if err != nil {
		return nil, err
	}
	object, err := catalog.NewObject(cfg.Catalog.Object, objStorage)
	if err != nil {
		return nil, err
	}
	if cfg.Catalog.SeedObject && local != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := objStorage.EnsureBucket(ctx, cfg.Catalog.Object.Bucket); err != nil {
			return nil, err
		}
		for _, task := range local.Tasks() {
			if err := object.Publish(ctx, task); err != nil {
				return nil, err
			}
		}
		logger.Info(ctx, "task catalog seeded", zap.Int("tasks", len(local.Tasks())))
	}
	return append(chain, object), nil
}

type routes struct {
	duels   *duelController.DuelController
	players *duelController.PlayerController
	judge   *judgeController.JudgeController
	gateway *gateway.Gateway
	metrics http.Handler
	limiter *commonmw.RateLimiter
	auth    commonmw.Authenticator
}

func buildHTTPServer(cfg ServerConfig, httpCfg HTTPConfig, r routes) *http.Server {
	router := gin.New()
	router.Use(commonmw.Recovery())
	router.Use(commonmw.TraceContext())
	router.Use(commonmw.AccessLog())
	router.Use(commonmw.CORS(httpCfg.CORS))

	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	router.GET("/metrics", gin.WrapH(r.metrics))
	router.GET("/ws/duels/:id", commonmw.DuelParam("id"), r.gateway.ServeWS)

	api := router.Group("/api/v1")
	api.GET("/tasks", r.duels.ListTasks)
	auth := commonmw.Auth(r.auth)
	api.POST("/duels", commonmw.RateLimit(r.limiter, "duel.create", httpCfg.CreateRate), auth, r.duels.Create)
	api.POST("/duels/invites/:code/accept", commonmw.RateLimit(r.limiter, "duel.accept", httpCfg.AcceptRate), auth, r.duels.AcceptInvite)
	api.GET("/duels/:id", commonmw.DuelParam("id"), r.duels.Get)
	api.GET("/submissions/:id", r.judge.GetStatus)
	api.GET("/judge/stats", r.judge.Stats)
	api.GET("/players/:id/stats", r.players.GetStats)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}
