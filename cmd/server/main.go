package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Tyrowin/gochat-auth/internal/account"
	"github.com/Tyrowin/gochat-auth/internal/auth"
	"github.com/Tyrowin/gochat-auth/internal/config"
	"github.com/Tyrowin/gochat-auth/internal/logging"
	"github.com/Tyrowin/gochat-auth/internal/server"
	"github.com/Tyrowin/gochat-auth/internal/users"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	authority, err := auth.NewAuthority(auth.Config{
		Secret:     []byte(cfg.Auth.Secret),
		AccessTTL:  cfg.Auth.AccessTTL,
		RefreshTTL: cfg.Auth.RefreshTTL,
		Issuer:     cfg.Auth.Issuer,
	})
	if err != nil {
		return fmt.Errorf("token authority: %w", err)
	}

	accounts := account.NewService(store, authority, account.WithLogger(logger))
	hub := server.NewHub(logger)

	srv := server.New(server.Options{
		Accounts:       accounts,
		Verifier:       authority,
		Hub:            hub,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Client: server.ClientOptions{
			MaxMessageSize: cfg.Chat.MaxMessageSize,
			SendBufferSize: cfg.Chat.SendBufferSize,
			RateBurst:      cfg.Chat.RateLimit.Burst,
			RateInterval:   cfg.Chat.RateLimit.RefillInterval,
		},
		Logger: logger,
	})

	httpServer := server.CreateServer(cfg.Server.Port, srv.Routes(), server.Timeouts{
		Read:  cfg.Server.ReadTimeout,
		Write: cfg.Server.WriteTimeout,
		Idle:  cfg.Server.IdleTimeout,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.StartServer(httpServer, logger)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	// Stop accepting requests first, then close the chat connections that
	// Shutdown does not track.
	shutdownErr := server.ShutdownServer(httpServer, cfg.Server.ShutdownTimeout, logger)
	if err := hub.Shutdown(cfg.Server.ShutdownTimeout); err != nil {
		logger.Warn("hub shutdown incomplete", "error", err)
	}
	return shutdownErr
}

func openStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (users.Store, func(), error) {
	switch cfg.Driver {
	case config.StoreRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
		}

		logger.Info("using redis credential store", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
		return users.NewRedisStore(rdb, cfg.KeyPrefix), func() { _ = rdb.Close() }, nil
	default:
		logger.Info("using in-memory credential store")
		return users.NewMemoryStore(), func() {}, nil
	}
}
