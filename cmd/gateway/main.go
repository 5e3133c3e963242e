package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"mintify/internal/config"
	"mintify/internal/gateway"
	"mintify/internal/log"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := log.FromEnv("gateway")
	log.SetDefault(logger)

	logger.Info("Starting mintify gateway")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	var verifier gateway.TokenVerifier
	if cfg.JWKSURL != "" {
		jwks, err := gateway.NewJWKSVerifier(context.Background(), cfg.JWKSURL, cfg.Issuer, cfg.Audience)
		if err != nil {
			logger.Error("Failed to initialize JWKS verifier", "error", err, "jwks_url", cfg.JWKSURL)
			os.Exit(1)
		}
		verifier = jwks
		logger.Info("Token verification enabled", "jwks_url", cfg.JWKSURL)
	} else {
		logger.Warn("No JWKS URL configured, token verification disabled",
			"auth_required", cfg.AuthRequired,
			"allow_dev_user", cfg.AllowDevUser)
	}

	gw, err := gateway.New(cfg, verifier, logger)
	if err != nil {
		logger.Error("Failed to build gateway", "error", err)
		os.Exit(1)
	}
	defer gw.Close()

	srv := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        gw.Handler(),
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 16, // 64KB
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		cancel()
	}()

	logger.Info("Gateway listening", "port", cfg.Port,
		"finance_upstream", cfg.FinanceServiceURL,
		"notif_upstream", cfg.NotifServiceURL)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Gateway stopped gracefully")
}
