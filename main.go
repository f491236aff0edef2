package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"optiondesk/api"
	"optiondesk/auth"
	"optiondesk/broker"
	"optiondesk/cache"
	"optiondesk/config"
	"optiondesk/connection"
	"optiondesk/db"
	"optiondesk/logger"
	"optiondesk/marketdata"
)

func main() {
	log := logger.GetLogger()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.GetConfig()

	tokenTTL, err := time.ParseDuration(cfg.Auth.TokenTTL)
	if err != nil {
		log.Fatal("Invalid auth token_ttl", map[string]interface{}{
			"error": err.Error(),
		})
	}

	if err := auth.Initialize(auth.Config{
		Username: cfg.Auth.Username,
		Password: cfg.Auth.Password,
		Secret:   cfg.Auth.JWTSecret,
		TokenTTL: tokenTTL,
	}); err != nil {
		log.Fatal("Failed to initialize auth", map[string]interface{}{
			"error": err.Error(),
		})
	}

	database, err := db.InitDB(ctx, &cfg.Postgres)
	if err != nil {
		log.Fatal("Failed to initialize database", map[string]interface{}{
			"error": err.Error(),
		})
	}
	defer database.Close()

	redisCache, err := cache.NewRedisCache(&cfg.Redis)
	if err != nil {
		// The app degrades without Redis: tokens are read from Postgres
		// and LTP snapshots are skipped.
		log.Error("Redis unavailable, continuing without cache", map[string]interface{}{
			"error": err.Error(),
		})
		redisCache = nil
	} else {
		defer redisCache.Close()
	}

	cipher, err := connection.NewTokenCipher(os.Getenv("TOKEN_ENCRYPTION_KEY"))
	if err != nil {
		log.Fatal("Failed to initialize token cipher", map[string]interface{}{
			"error": err.Error(),
		})
	}

	brokerClient := broker.NewClient(&cfg.Upstox)
	connectionManager := connection.NewManager(database, brokerClient, cipher, redisCache)

	instruments := broker.NewInstrumentStore()
	if cfg.Upstox.InstrumentsURL != "" {
		if err := instruments.Download(ctx, cfg.Upstox.InstrumentsURL, []string{"NIFTY"}); err != nil {
			log.Error("Failed to download instrument master", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	aggregator := marketdata.New(brokerClient, connectionManager, redisCache, cfg.Market.GetPollInterval())
	defer aggregator.Close()

	server := api.NewServer(&cfg.Server, database, connectionManager, aggregator, instruments)

	// Graceful shutdown on SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("Shutting down", map[string]interface{}{
			"signal": sig.String(),
		})
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		log.Fatal("API server error", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
