package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"

	"stock-ledger/internal/cache"
	"stock-ledger/internal/config"
	"stock-ledger/internal/database"
	"stock-ledger/internal/feed"
	"stock-ledger/internal/handlers"
	"stock-ledger/internal/middleware"
	"stock-ledger/internal/repository"
	"stock-ledger/internal/routes"
	"stock-ledger/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var migrateOnlyFlag = flag.Bool("migrate-only", false, "Aplicar el esquema de la base de datos y salir")

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := newLogger(cfg)
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("❌ Error fatal", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Store del ledger
	var (
		postgresDB *database.PostgresDB
		ledgerRepo repository.LedgerRepository
		catalog    repository.CatalogRepository
		lister     repository.MaterialLister
	)

	switch cfg.Ledger.Store {
	case "memory":
		mem := repository.NewMemoryLedgerRepository()
		ledgerRepo, catalog, lister = mem, mem, mem
		logger.Warn("⚠️ Ledger en memoria: los datos no sobreviven un reinicio")
	case "postgres":
		db, err := database.NewPostgresDB(cfg.Database.URL, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		postgresDB = db

		if cfg.Database.AutoMigrate || *migrateOnlyFlag {
			if err := db.Migrate(rootCtx, logger); err != nil {
				return err
			}
		}
		if *migrateOnlyFlag {
			logger.Info("✅ Esquema aplicado")
			return nil
		}

		ledgerRepo, err = repository.NewPostgresLedgerRepository(db.DB, cfg.Ledger.LockTimeout)
		if err != nil {
			return err
		}
		catalogRepo, err := repository.NewCatalogRepository(db.DB, logger)
		if err != nil {
			return err
		}
		catalog, lister = catalogRepo, catalogRepo
	default:
		return errors.New("LEDGER_STORE debe ser \"postgres\" o \"memory\"")
	}

	// Redis es opcional: sin él el caché queda en L1 y el feed es local
	var (
		redisDB     *database.RedisDB
		redisClient *redis.Client
	)
	if cfg.Redis.Enabled {
		rdb, err := database.NewRedisDB(cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Warn("⚠️ Redis no disponible, continuando sin Redis", zap.Error(err))
		} else {
			defer rdb.Close()
			redisDB = rdb
			redisClient = rdb.Client
		}
	}

	materialCache := cache.NewMaterialCache(catalog, redisClient, cfg.Cache.MaterialL1Size, cfg.Cache.MaterialTTL, logger)

	hub := feed.NewHub(cfg.Feed.ClientBuffer, logger)
	defer hub.Close()

	var publisher feed.Publisher = hub
	if redisClient != nil {
		broker := feed.NewRedisBroker(redisClient, cfg.Feed.Channel, hub, logger)
		publisher = broker
		go func() {
			if err := broker.Run(rootCtx); err != nil {
				logger.Error("❌ Feed de Redis detenido", zap.Error(err))
			}
		}()
	}

	ledger := services.NewLedger(ledgerRepo, materialCache, publisher, services.LedgerOptions{
		MaxRetries:      cfg.Ledger.MaxRetries,
		RetryBackoff:    cfg.Ledger.RetryBackoff,
		HistoryMaxLimit: cfg.Ledger.HistoryMaxLimit,
	}, logger)

	monitoringService := services.NewMonitoringService(logger, cfg, redisClient, postgresSQL(postgresDB), materialCache, ledger, hub)

	h := routes.Handlers{
		Stock:      handlers.NewStockHandler(ledger, services.NewReservationService(ledger, logger), cfg.Ledger.HistoryDefault, logger),
		Material:   handlers.NewMaterialHandler(ledger, materialCache, lister, logger),
		Document:   handlers.NewDocumentHandler(services.NewProductionService(ledger, logger), services.NewPurchaseService(ledger, logger), logger),
		Feed:       handlers.NewFeedHandler(hub, logger),
		Monitoring: handlers.NewMonitoringHandler(monitoringService, logger),
		Health:     middleware.NewHealthChecker(postgresDB, redisDB, cfg.Ledger.Store, logger),
	}

	gin.SetMode(cfg.Server.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggerMiddleware(logger))
	router.Use(h.Monitoring.RecordRequestMiddleware())
	routes.SetupRoutes(router, h)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	redisStatus := "disabled"
	if redisClient != nil {
		redisStatus = "online"
	}
	middleware.ServerInfo(middleware.BannerInfo{
		Port:        cfg.Server.Port,
		Store:       cfg.Ledger.Store,
		RedisStatus: redisStatus,
		FeedChannel: feedChannel(cfg, redisClient),
	}, logger)

	select {
	case err := <-serverErr:
		return err
	case <-rootCtx.Done():
	}

	logger.Info("🛑 Señal de apagado recibida")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("❌ Error durante el apagado", zap.Error(err))
		return err
	}

	logger.Info("✅ Servidor detenido correctamente")
	return nil
}

func newLogger(cfg *config.Config) *zap.Logger {
	zapCfg := zap.NewProductionConfig()
	if cfg.Server.GinMode == gin.DebugMode {
		zapCfg = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.EncoderConfig.TimeKey = "timestamp"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zapCfg.Build()
	if err != nil {
		return zap.NewExample()
	}
	return logger
}

// postgresSQL nil con el store en memoria
func postgresSQL(db *database.PostgresDB) *sql.DB {
	if db == nil {
		return nil
	}
	return db.DB
}

func feedChannel(cfg *config.Config, redisClient *redis.Client) string {
	if redisClient == nil {
		return ""
	}
	return cfg.Feed.Channel
}
