package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/vitos/grid_ledger/internal/domain"
	"github.com/vitos/grid_ledger/internal/infrastructure/exchange"
	"github.com/vitos/grid_ledger/internal/infrastructure/logger"
	"github.com/vitos/grid_ledger/internal/infrastructure/storage"
	"github.com/vitos/grid_ledger/internal/usecase"
	"github.com/vitos/grid_ledger/internal/web"
	"go.uber.org/zap"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	configPath := os.Getenv("GRIDBOT_CONFIG")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewFileLogger(cfg.Logging.Level, cfg.fileLogger())
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Error("Fatal", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}
}

func run(cfg *Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("init sqlite: %w", err)
	}
	defer store.Close()

	var (
		gateway domain.MarketGateway
		opts    = web.Options{LogFile: cfg.Logging.File, TailLines: cfg.Logging.TailLines}
	)
	switch cfg.Gateway {
	case GatewayAlpaca:
		alpacaCfg, err := cfg.alpacaConfig()
		if err != nil {
			return err
		}
		alpaca := exchange.NewAlpacaAdapter(alpacaCfg, log)
		if cfg.Alpaca.Stream {
			go alpaca.RunStream(ctx, []string{cfg.Symbol})
		}
		gateway = alpaca
	case GatewaySimulated:
		sim := exchange.NewSimulatedGateway(cfg.Symbol, cfg.Simulation.InitialCash, cfg.Simulation.StartPrice, log)
		if cfg.Simulation.PriceFile != "" {
			watcher := exchange.NewPriceFileWatcher(cfg.Simulation.PriceFile, sim, log)
			go func() {
				if err := watcher.Run(ctx); err != nil {
					log.Error("Price file watcher stopped", zap.Error(err))
				}
			}()
			if price, err := exchange.ReadPriceFile(cfg.Simulation.PriceFile); err == nil {
				_ = sim.SetPrice(price)
			}
		}
		opts.Simulator = sim
		gateway = sim
		log.Info("Running against simulated gateway",
			zap.Float64("initial_cash", cfg.Simulation.InitialCash),
			zap.Float64("start_price", sim.Price()))
	}

	svc, err := usecase.NewGridService(store, gateway, cfg.gridConfig(), log)
	if err != nil {
		return fmt.Errorf("init grid: %w", err)
	}
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("cold start: %w", err)
	}

	server := web.NewServer(cfg.Server.Port, svc, store, usecase.NewControls(store), opts, log)
	go func() {
		if err := server.Start(); err != nil {
			log.Error("Server failed", zap.Error(err))
			stop()
		}
	}()

	svc.Run(ctx)

	log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
