// Package main is the entry point for the storefront server.
//
// MAIN PACKAGE IN GO:
// The main package should be kept minimal. Its job is to:
//  1. Read configuration (environment variables, via internal/config)
//  2. Create process-wide dependencies (logger, Redis client, mailer)
//  3. Start the application
//
// All actual logic lives in imported packages (internal/server,
// internal/handler, ...). This separation keeps components testable.
package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sakif/storefront/internal/config"
	"github.com/sakif/storefront/internal/mail"
	"github.com/sakif/storefront/internal/server"
)

// devJWTSecret signs login cookies when JWT_SECRET is unset in development.
// config.Load refuses to start any other environment without a secret.
const devJWTSecret = "storefront-development-secret-do-not-use"

func main() {
	// === 1. READ CONFIGURATION ===
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// === 2. SET UP LOGGING ===
	// Human-readable text while developing, JSON for log shippers otherwise.
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set, using the development secret")
		cfg.JWTSecret = devJWTSecret
	}

	// === 3. DATABASE DIRECTORY ===
	// os.MkdirAll creates all parent directories if needed (like `mkdir -p`).
	if cfg.DBPath != ":memory:" {
		dbDir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dbDir, 0o755); err != nil {
			logger.Error("failed to create database directory",
				slog.String("dir", dbDir),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	// === 4. REDIS (sessions) ===
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(ctx).Err(); err != nil {
		// Not fatal: /healthz reports it and sessions recover once Redis is up.
		logger.Warn("redis unreachable at startup",
			slog.String("addr", cfg.RedisAddr),
			slog.String("error", err.Error()),
		)
	}
	cancel()

	// === 5. MAIL ===
	var mailer mail.Mailer
	if cfg.Mail.Host == "" {
		logger.Warn("MAIL_HOST not set, outgoing mail will be logged instead of sent")
		mailer = mail.NewLogMailer(logger)
	} else {
		mailer = mail.NewSMTPMailer(mail.SMTPConfig{
			Host:     cfg.Mail.Host,
			Port:     cfg.Mail.Port,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			From:     cfg.Mail.From,
			Timeout:  cfg.Mail.Timeout,
		})
	}

	// === 6. CREATE AND START THE SERVER ===
	srv, err := server.New(cfg, rdb, mailer, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start() blocks until the server is shut down (via Ctrl+C or SIGTERM)
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.IsDevelopment() {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
