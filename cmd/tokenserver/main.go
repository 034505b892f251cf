// Command tokenserver issues LiveKit join tokens to kiosk front ends.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	lksdk "github.com/livekit/server-sdk-go/v2"

	"kioskagent/core"
	"kioskagent/tokens"
)

func main() {
	addr := flag.String("addr", getEnv("TOKEN_SERVER_ADDR", ":3001"), "listen address")
	createRooms := flag.Bool("create-rooms", false, "create rooms with the kiosk empty timeout before issuing tokens")
	flag.Parse()

	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			core.GetLogger().Warn("failed to load env file", "file", file, "error", err)
		}
	}

	logger, err := core.NewLoggerFromConfig(core.LogConfigFromEnv())
	if err != nil {
		core.GetLogger().Error("invalid log config, using defaults", "error", err)
		logger = core.GetLogger()
	}
	core.SetLogger(logger)
	defer logger.Sync()

	issuerConfig := tokens.Config{
		URL:       os.Getenv("LIVEKIT_URL"),
		APIKey:    os.Getenv("LIVEKIT_API_KEY"),
		APISecret: os.Getenv("LIVEKIT_API_SECRET"),
	}
	issuer := tokens.NewIssuer(issuerConfig)
	if !issuer.Configured() {
		logger.Warn("LiveKit credentials not fully configured, token requests will fail")
	}

	cfg := tokens.DefaultServerConfig()
	cfg.Logger = logger
	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = strings.Split(origins, ",")
	}
	if *createRooms && issuer.Configured() {
		cfg.Rooms = lksdk.NewRoomServiceClient(issuerConfig.URL, issuerConfig.APIKey, issuerConfig.APISecret)
	}
	server := tokens.NewServer(issuer, cfg)
	defer server.Close()

	srv := &http.Server{
		Addr:         *addr,
		Handler:      server.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("token server starting", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("shutdown signal received", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	logger.Info("token server stopped")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
