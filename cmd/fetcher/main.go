package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"portfolio_tracker/internal/app/service"
	"portfolio_tracker/internal/client"
	"portfolio_tracker/internal/infrastructure/configloader"
	"portfolio_tracker/internal/infrastructure/proxyloader"
	"portfolio_tracker/internal/infrastructure/walletloader"
	"portfolio_tracker/internal/infrastructure/walletstore"
	"portfolio_tracker/internal/pkg/logger"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
)

// One-shot batch runner: load the address list, run the orchestrator once,
// print a summary and exit. Intended for cron-style invocation.
func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stdout)

	var (
		cfgPath     = flag.String("config", "config/config.yml", "path to the YAML configuration file")
		walletsPath = flag.String("wallets", "", "override the wallet list file")
		addressesCS = flag.String("addresses", "", "comma-separated addresses to fetch instead of the wallet list file")
		force       = flag.Bool("force", false, "re-fetch addresses already present in the store")
		logLevel    = flag.String("log-level", "info", "debug, info, warn or error")
	)
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		log.Warnf("Invalid log level %q, defaulting to info", *logLevel)
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	logger.InitSlog(*logLevel)
	appLogger := logger.NewSlogAdapter()

	cfg, err := configloader.Load(*cfgPath)
	if err != nil {
		log.Fatalf("Failed to load configuration from %s: %v", *cfgPath, err)
	}
	if *walletsPath != "" {
		cfg.Wallets.Path = *walletsPath
	}

	var addresses []string
	if *addressesCS != "" {
		for _, a := range strings.Split(*addressesCS, ",") {
			if a = strings.TrimSpace(a); a != "" {
				addresses = append(addresses, a)
			}
		}
	} else {
		provider := walletloader.NewWalletFileLoader(cfg.Wallets.Path, appLogger.Info)
		addresses, err = provider.GetAddresses()
		if err != nil {
			log.Fatalf("Failed to load wallet list: %v", err)
		}
	}
	if len(addresses) == 0 {
		log.Fatal("No addresses to fetch")
	}

	proxyProvider := proxyloader.NewProxyFileLoader(cfg.Proxies.SourcePath, appLogger.Warn)
	pool := service.NewProxyPoolManager(proxyProvider, appLogger,
		time.Duration(cfg.Proxies.BreakerTimeoutSeconds)*time.Second)

	store, err := walletstore.NewJSONWalletStore(cfg.Store.Path, appLogger)
	if err != nil {
		log.Fatalf("Failed to open wallet store: %v", err)
	}

	zapLogger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize zap logger for the profile client: %v", err)
	}
	defer zapLogger.Sync()

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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Warn("Interrupt received, finishing current address and stopping")
		cancel()
	}()

	log.WithFields(logrus.Fields{
		"addresses": len(addresses),
		"force":     *force,
	}).Info("Starting batch fetch")

	report, err := orchestrator.FetchAddresses(ctx, addresses, *force)
	if err != nil {
		log.Fatalf("Batch fetch aborted: %v", err)
	}

	log.WithFields(logrus.Fields{
		"requested": report.Requested,
		"fetched":   len(report.Fetched),
		"skipped":   len(report.Skipped),
		"failed":    len(report.Failed),
		"duration":  report.Duration.String(),
	}).Info("Batch fetch finished")

	for _, addr := range report.Failed {
		log.WithField("address", addr).Warn("No data fetched for address")
	}
	if len(report.Failed) > 0 {
		os.Exit(1)
	}
}
