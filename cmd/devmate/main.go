// Command devmate runs the collaborative workspace server: accounts,
// projects, the per-project chat relay, and preview execution.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devmate/devmate/pkg/api"
	"github.com/devmate/devmate/pkg/auth"
	"github.com/devmate/devmate/pkg/bus"
	"github.com/devmate/devmate/pkg/channel"
	"github.com/devmate/devmate/pkg/collab"
	"github.com/devmate/devmate/pkg/config"
	"github.com/devmate/devmate/pkg/logging"
	"github.com/devmate/devmate/pkg/sandbox"
	"github.com/devmate/devmate/pkg/session"
	"github.com/devmate/devmate/pkg/storage"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "devmate: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.NewLogger(cfg.Logging.Dir)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logger.Close()
	logger.SetMinLevel(logging.Level(cfg.Logging.Level))

	store, err := storage.New(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	// Revocation blacklist: redis when configured, in-memory otherwise.
	var sessions session.Store
	if cfg.Redis.URL != "" {
		redisStore, err := session.NewRedisStore(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		sessions = redisStore
	} else {
		sessions = session.NewMemoryStore()
		_ = logger.Warn(logging.CategorySession, "memory_blacklist",
			"no redis configured, token revocation is per-process", nil)
	}

	tokens, err := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.Auth.MaxTokenTTL, sessions, logger)
	if err != nil {
		return fmt.Errorf("init tokens: %w", err)
	}

	// Relay transport: NATS when configured, in-memory for a single node.
	var messageBus bus.MessageBus
	if cfg.Bus.URL != "" {
		busCfg := bus.DefaultConfig()
		busCfg.URL = cfg.Bus.URL
		natsBus, err := bus.NewNATSBus(busCfg)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		messageBus = natsBus
	} else {
		messageBus = bus.NewMemoryBus()
	}
	defer messageBus.Close()

	runtime, err := sandbox.NewLocalRuntime(cfg.Sandbox.ScratchDir, cfg.Sandbox.PreviewPort, logger)
	if err != nil {
		return fmt.Errorf("init sandbox: %w", err)
	}

	hub := channel.NewHub(messageBus, logger)
	manager := collab.NewManager(store, collab.WrapRuntime(runtime), collab.WrapHub(hub), logger)

	server := api.NewServer(api.ServerConfig{
		Config:   cfg,
		Store:    store,
		Tokens:   tokens,
		Hub:      hub,
		Sessions: manager,
		Logger:   logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	_ = logger.Info(logging.CategoryServer, "shutting_down", "signal received", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
