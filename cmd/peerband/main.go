package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"peerban/config"
	"peerban/observability/logging"
	"peerban/p2p"
	"peerban/rpc"
)

const rpcTokenEnv = "PEERBAN_RPC_TOKEN"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("PEERBAN_ENV"))
	logger := logging.Setup("peerband", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		logger.Error("Failed to create data dir", slog.Any("error", err))
		os.Exit(1)
	}

	peerstore, err := p2p.NewPeerstore(cfg.PeerstoreDir())
	if err != nil {
		logger.Error("Failed to open peerstore", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := peerstore.Close(); err != nil {
			logger.Warn("Peerstore close failed", slog.Any("error", err))
		}
	}()

	store, err := p2p.NewBanStore(cfg.BanlistPath())
	if err != nil {
		logger.Error("Failed to open ban store", slog.Any("error", err))
		os.Exit(1)
	}
	bans, err := p2p.NewBanManager(p2p.BanManagerConfig{
		Store:              store,
		DefaultBanDuration: time.Duration(cfg.DefaultBanHours) * time.Hour,
		SweepInterval:      time.Duration(cfg.SweepIntervalSeconds) * time.Second,
		Logger:             logger.With(slog.String("component", "banman")),
	})
	if err != nil {
		// A corrupt ban list must not silently degrade to an empty one.
		logger.Error("Failed to load ban list", slog.Any("error", err))
		os.Exit(1)
	}

	registry := p2p.NewRegistry(p2p.RegistryConfig{
		Bans:      bans,
		Peerstore: peerstore,
		Logger:    logger.With(slog.String("component", "registry")),
	})
	bans.SetOnBan(func(sub p2p.Subnet) {
		registry.DropContained(sub)
	})
	bans.Start()

	server := rpc.NewServer(bans, registry, peerstore, rpc.ServerConfig{
		AuthToken: os.Getenv(rpcTokenEnv),
		RateLimit: cfg.RPCRateLimit,
		RateBurst: cfg.RPCRateBurst,
		Logger:    logger.With(slog.String("component", "rpc")),
	})
	httpServer := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting JSON-RPC server", slog.String("addr", cfg.RPCAddress))
		errCh <- httpServer.ListenAndServe()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("RPC server failed", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("RPC shutdown failed", slog.Any("error", err))
	}
	if err := bans.Close(); err != nil {
		logger.Warn("Ban list final flush failed", slog.Any("error", err))
	}
	logger.Info("Shutdown complete")
}
