package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"portfolio_tracker/internal/app/service"
	"portfolio_tracker/internal/client"
	"portfolio_tracker/internal/infrastructure/configloader"
	"portfolio_tracker/internal/infrastructure/geoip"
	"portfolio_tracker/internal/infrastructure/proxyloader"
	"portfolio_tracker/internal/infrastructure/restapi"
	"portfolio_tracker/internal/infrastructure/walletloader"
	"portfolio_tracker/internal/infrastructure/walletstore"
	"portfolio_tracker/internal/pkg/logger"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	zapLogger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL: failed to initialize zap logger: %v\n", err)
		os.Exit(1)
	}
	defer zapLogger.Sync()

	// Route the global slog logger through zap so every package logs the
	// same way.
	logger.SetHandler(zapslog.NewHandler(zapLogger.Core()))

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/config.yml"
	}
	cfg, err := configloader.Load(cfgPath)
	if err != nil {
		zapLogger.Fatal("Failed to load configuration", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Configuration loaded", "path", cfgPath)

	appLogger := logger.NewSlogAdapter()

	proxyProvider := proxyloader.NewProxyFileLoader(cfg.Proxies.SourcePath, appLogger.Warn)
	pool := service.NewProxyPoolManager(proxyProvider, appLogger,
		time.Duration(cfg.Proxies.BreakerTimeoutSeconds)*time.Second)
	logger.Info("Proxy pool initialized", "stats", pool.Stats())

	store, err := walletstore.NewJSONWalletStore(cfg.Store.Path, appLogger)
	if err != nil {
		logger.Fatal("Failed to open wallet store", "path", cfg.Store.Path, "error", err)
	}
	if result, err := store.Deduplicate(); err != nil {
		logger.Warn("Startup dedup pass failed", "error", err)
	} else if result.Removed > 0 {
		logger.Info("Startup dedup pass cleaned the store", "removed", result.Removed, "updated", result.Updated)
	}

	walletProvider := walletloader.NewWalletFileLoader(cfg.Wallets.Path, appLogger.Info)

	geoResolver := geoip.NewResolver(cfg.GeoIP.BaseURL, cfg.GeoIP.CachePath, cfg.GeoIP.RatePerMinute, appLogger)

	profileClient := client.NewProfileClient(
		cfg.Profile.BaseURL,
		time.Duration(cfg.Profile.RequestTimeoutMillis)*time.Millisecond,
		zapLogger,
		cfg.Profile.InnerRetryAttempts,
	)

	orchestrator := service.NewFetchOrchestrator(store, pool, profileClient, appLogger, service.OrchestratorConfig{
		OuterAttempts:    cfg.Fetch.OuterRetryAttempts,
		OuterRetryBase:   time.Duration(cfg.Fetch.OuterRetryBaseMillis) * time.Millisecond,
		OuterRetryJitter: time.Duration(cfg.Fetch.OuterRetryJitterMillis) * time.Millisecond,
		CooldownBase:     time.Duration(cfg.Fetch.CooldownBaseMillis) * time.Millisecond,
		CooldownJitter:   time.Duration(cfg.Fetch.CooldownJitterMillis) * time.Millisecond,
		PacingMin:        time.Duration(cfg.Fetch.PacingMinMillis) * time.Millisecond,
		PacingMax:        time.Duration(cfg.Fetch.PacingMaxMillis) * time.Millisecond,
	})

	pricing := service.NewPriceRefreshService(store, appLogger)

	appCtx, cancelApp := context.WithCancel(context.Background())
	defer cancelApp()

	scheduler := service.NewScheduler(pool, profileClient, geoResolver, pricing, appLogger)
	scheduler.Start(appCtx)

	walletHandler := restapi.NewWalletHandler(store, orchestrator, walletProvider, appLogger)
	proxyHandler := restapi.NewProxyHandler(pool, geoResolver, scheduler, appLogger)
	progressWS := restapi.NewProgressWSHandler(orchestrator, appLogger)
	router := restapi.SetupRouter(walletHandler, proxyHandler, progressWS)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		logger.Info("HTTP server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start HTTP server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown signal received")

	cancelApp()
	scheduler.Stop()

	if err := geoResolver.Persist(); err != nil {
		logger.Warn("Final GeoIP cache persistence failed", "error", err)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server forced to shut down", "error", err)
	} else {
		logger.Info("HTTP server stopped")
	}
}
