package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"tradecore/internal/allocator"
	"tradecore/internal/broker"
	"tradecore/internal/config"
	cronrunner "tradecore/internal/cron"
	"tradecore/internal/db"
	"tradecore/internal/handler"
	"tradecore/internal/lifecycle"
	"tradecore/internal/logger"
	"tradecore/internal/pricing"
	gormrepository "tradecore/internal/repository/gorm"
	"tradecore/internal/rules"
)

func main() {
	cfgPath := os.Getenv("TC_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("TC_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer dbConn.Close()

	if err := dbConn.AutoMigrate(); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	store := gormrepository.New(dbConn.Gorm)

	var brokerClient broker.Broker
	switch strings.ToLower(cfg.Broker.Mode) {
	case "paper", "":
		brokerClient = broker.NewPaperBroker(decimal.NewFromFloat(cfg.Broker.PaperBalance))
		logger.Info("paper broker active",
			zap.String("account", cfg.Broker.Account),
			zap.Float64("balance", cfg.Broker.PaperBalance),
		)
	default:
		logger.Fatal("unknown broker mode", zap.String("mode", cfg.Broker.Mode))
	}

	priceCache := pricing.NewCache(brokerClient, cfg.PriceCache.TTL, logger)
	alloc := &allocator.Allocator{
		Prices: priceCache,
		Logger: logger,
		Config: cfg.Allocator,
	}
	manager := &lifecycle.Manager{
		Repo:      store,
		Broker:    brokerClient,
		Prices:    priceCache,
		Evaluator: &rules.Evaluator{Logger: logger},
		Allocator: alloc,
		Logger:    logger,
		Config:    cfg.Lifecycle,
		Account:   cfg.Broker.Account,
		Limiter:   rate.NewLimiter(rate.Limit(cfg.Broker.SubmitRatePerSec), cfg.Broker.SubmitBurst),
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm}
	healthHandler.Register(engine)
	orderHandler := &handler.OrderHandler{Repo: store}
	orderHandler.Register(engine)
	txHandler := &handler.TransactionHandler{Repo: store}
	txHandler.Register(engine)
	evalHandler := &handler.EvaluationHandler{Repo: store}
	evalHandler.Register(engine)
	rulesetHandler := &handler.RulesetHandler{Repo: store}
	rulesetHandler.Register(engine)
	instrumentHandler := &handler.InstrumentHandler{Repo: store}
	instrumentHandler.Register(engine)
	pipelineHandler := &handler.PipelineHandler{Repo: store, Manager: manager}
	pipelineHandler.Register(engine)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Cron.Enabled {
		cronRunner := cronrunner.New(logger, ctx)
		_, err = cronRunner.Add("fill_sync", cfg.Cron.FillSync, func(ctx context.Context) {
			if err := manager.SyncFills(ctx); err != nil {
				logger.Warn("fill sync failed", zap.Error(err))
			}
		})
		if err != nil {
			logger.Warn("cron register fill sync failed", zap.Error(err))
		}
		cronRunner.Start()
		defer cronRunner.Stop()
	}

	errCh := make(chan error, 2)

	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
