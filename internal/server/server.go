// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer: it connects repositories, services,
// handlers, middleware and routes. Think of it as the control centre that
// decides:
//   - Which URL patterns map to which handler functions
//   - What middleware runs on which routes
//   - Which background work runs alongside the HTTP server
//   - How the server starts and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
// main.go creates:
//
//	config, logger, Redis client, mailer → passed to New
//
// New creates:
//
//	sqlite.DB → services → handlers → routes
//	sqlite.DB + social.Client → announce.Worker (started by Start)
//
// This is the "composition root" pattern: all dependencies are wired in one
// place, rather than scattered across the codebase.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/sakif/storefront/internal/announce"
	"github.com/sakif/storefront/internal/auth"
	"github.com/sakif/storefront/internal/config"
	"github.com/sakif/storefront/internal/handler"
	"github.com/sakif/storefront/internal/mail"
	"github.com/sakif/storefront/internal/middleware"
	sqliteRepo "github.com/sakif/storefront/internal/repository/sqlite"
	"github.com/sakif/storefront/internal/reset"
	"github.com/sakif/storefront/internal/service"
	"github.com/sakif/storefront/internal/session"
	"github.com/sakif/storefront/internal/social"
)

// healthTimeout bounds each dependency check behind /healthz.
const healthTimeout = 2 * time.Second

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database connection and the announcement worker.
// Close stops the worker first (it still writes to the database), then
// closes the database. The Redis client belongs to the caller.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger
	db     *sqliteRepo.DB
	redis  *redis.Client
	worker *announce.Worker

	closeOnce sync.Once
}

// New opens the database and wires every layer.
//
// IMPORT ALIAS:
// repository/sqlite is imported as `sqliteRepo` to avoid confusion with the
// modernc.org/sqlite driver package.
func New(cfg *config.Config, rdb *redis.Client, mailer mail.Mailer, logger *slog.Logger) (*Server, error) {
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// The invoice is mailed while the order transaction is open. Give the
	// mailer its own timeout plus a margin, then give up on the order.
	db.SetHookTimeout(cfg.Mail.Timeout + 5*time.Second)

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
		redis:  rdb,
	}

	if err := s.setupRoutes(mailer); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes builds the services and handlers and registers every route.
//
// ROUTE STRUCTURE:
// GET  /healthz, /metrics                       → operations, no session
// POST /auth/register, /auth/login, /auth/logout
// GET  /auth/me                                 → RequireAuth
// POST /account/forgot-username, /account/reset
// GET  /account/reset/{token}, POST /account/reset/{token}
// GET  /api/messages                            → flash messages
// GET  /api/products, /api/products/{id}, /api/stores → OptionalAuth
// GET  /api/products/{id}/image
// GET  /social/callback                         → session only
// everything else                               → RequireAuth
//
// MIDDLEWARE ORDER MATTERS:
//  1. RequestID: assigns the ID the logger records
//  2. RealIP: extracts the client IP from proxy headers
//  3. Logger and Metrics: see every response, including recovered panics
//  4. Recoverer: turns a panic into a 500 instead of crashing
//  5. Session (per group): loads before the handler, saves before the
//     status line goes out
func (s *Server) setupRoutes(mailer mail.Mailer) error {
	cfg := s.config

	tokens, err := auth.NewTokenService(cfg.JWTSecret)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}
	passwords := auth.NewPasswordService()

	// === Services ===
	// s.db implements every repository interface.
	accounts := service.NewAccountService(s.db, tokens, passwords, mailer, s.logger)
	stores := service.NewStoreService(s.db, s.db, s.logger)
	products := service.NewProductService(s.db, stores, s.logger)
	reviews := service.NewReviewService(s.db, s.db, s.db, s.logger)
	checkout := service.NewCheckoutService(service.CheckoutConfig{
		SiteName:       cfg.SiteName,
		CurrencySymbol: cfg.CurrencySymbol,
	}, s.db, s.db, mailer, s.logger)
	resets := reset.NewService(reset.Config{TTL: cfg.ResetTokenTTL}, s.db, s.db, passwords, mailer, s.logger)

	socialClient := social.NewClient(social.Config{
		ClientID:     cfg.Social.ClientID,
		ClientSecret: cfg.Social.ClientSecret,
		RedirectURI:  cfg.Social.RedirectURI,
		Scopes:       cfg.Social.Scopes,
		AuthURL:      cfg.Social.AuthURL,
		TokenURL:     cfg.Social.TokenURL,
		APIBaseURL:   cfg.Social.APIBaseURL,
		UploadURL:    cfg.Social.UploadURL,
		Timeout:      cfg.HTTPTimeout,
	}, s.db, s.logger)

	announcer := announce.NewEnqueuer(s.db, socialClient, cfg.Social.PostingEnabled, cfg.SiteName, cfg.CurrencySymbol, s.logger)

	// The worker also purges stale reset tokens, so it runs even when
	// posting is disabled; with nothing queued its polls are no-ops.
	s.worker = announce.NewWorker(announce.Config{
		PollInterval: cfg.Announce.PollInterval,
		BatchSize:    cfg.Announce.BatchSize,
		MaxAttempts:  cfg.Announce.MaxAttempts,
	}, s.db, socialClient, s.db, resets.PurgeExpired, s.logger)

	// === Handlers ===
	authHandler := handler.NewAuthHandler(accounts, tokens, cfg.CookieSecure, s.logger)
	accountHandler := handler.NewAccountHandler(accounts, resets, cfg.BaseURL, s.logger)
	basketHandler := handler.NewBasketHandler(products, accounts, checkout, cfg.CurrencySymbol, s.logger)
	catalogHandler := handler.NewCatalogHandler(products, stores, reviews, cfg.CurrencySymbol, s.logger)
	vendorHandler := handler.NewVendorHandler(stores, products, announcer, s.logger)
	socialHandler := handler.NewSocialHandler(socialClient, accounts, s.logger)

	sessions := session.NewManager(session.NewRedisStore(s.redis), session.Options{
		TTL:    cfg.SessionTTL,
		Secure: cfg.CookieSecure,
	}, s.logger)

	// === Global Middleware ===
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(middleware.Metrics)
	s.router.Use(chimiddleware.Recoverer)

	// === Operations ===
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	// === Application ===
	s.router.Group(func(r chi.Router) {
		r.Use(sessions.Middleware)

		r.Post("/auth/register", authHandler.HandleRegister)
		r.Post("/auth/login", authHandler.HandleLogin)
		r.Post("/auth/logout", authHandler.HandleLogout)

		r.Post("/account/forgot-username", accountHandler.HandleForgotUsername)
		r.Post("/account/reset", accountHandler.HandleRequestReset)
		r.Get("/account/reset/{token}", accountHandler.HandleCheckReset)
		r.Post("/account/reset/{token}", accountHandler.HandleReset)

		r.Get("/api/messages", handler.HandleMessages)

		// The provider redirects the browser here; the state in the
		// session is what authenticates the callback.
		r.Get("/social/callback", socialHandler.HandleCallback)

		// Public catalog: anonymous visitors welcome, signed-in ones
		// recognised.
		r.Group(func(r chi.Router) {
			r.Use(auth.OptionalAuth(tokens))
			r.Get("/api/products", catalogHandler.HandleSearch)
			r.Get("/api/products/{id}", catalogHandler.HandleGet)
			r.Get("/api/products/{id}/image", catalogHandler.HandleImage)
			r.Get("/api/stores", catalogHandler.HandleListStores)
		})

		// Everything below needs a login.
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(tokens))

			r.Get("/auth/me", authHandler.HandleMe)

			r.Get("/api/basket", basketHandler.HandleGet)
			r.Post("/basket/add/{productID}", basketHandler.HandleAdd)
			r.Post("/basket/remove/{productID}", basketHandler.HandleRemove)
			r.Post("/checkout", basketHandler.HandleCheckout)

			r.Post("/api/products/{id}/reviews", catalogHandler.HandleCreateReview)
			r.Get("/api/my/reviews", catalogHandler.HandleMyReviews)

			r.Route("/vendor/stores", func(r chi.Router) {
				r.Get("/", vendorHandler.HandleListStores)
				r.Post("/", vendorHandler.HandleCreateStore)
				r.Put("/{id}", vendorHandler.HandleUpdateStore)
				r.Delete("/{id}", vendorHandler.HandleDeleteStore)
				r.Get("/{id}/products", vendorHandler.HandleListProducts)
				r.Post("/{id}/products", vendorHandler.HandleCreateProduct)
				r.Put("/{id}/products/{pid}", vendorHandler.HandleUpdateProduct)
				r.Delete("/{id}/products/{pid}", vendorHandler.HandleDeleteProduct)
			})

			r.Get("/social/connect", socialHandler.HandleConnect)
			r.Get("/social/status", socialHandler.HandleStatus)
			r.Post("/social/disconnect", socialHandler.HandleDisconnect)
		})
	})

	return nil
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// handleHealth pings SQLite and Redis.
//
// HTTP: GET /healthz
// 200 when both answer, 503 otherwise; the body says which one failed.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := healthResponse{Status: "ok", Checks: map[string]string{"database": "ok", "redis": "ok"}}
	if err := s.db.Ping(ctx); err != nil {
		resp.Status, resp.Checks["database"] = "unavailable", err.Error()
	}
	if err := s.redis.Ping(ctx).Err(); err != nil {
		resp.Status, resp.Checks["redis"] = "unavailable", err.Error()
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
		s.logger.Warn("health check failed", slog.Any("checks", resp.Checks))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// Close stops the worker and closes the database. Safe to call twice.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.worker.Stop()
		err = s.db.Close()
	})
	return err
}

// Start starts the worker and the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new HTTP connections
//  2. Wait for in-flight requests to finish (30s timeout)
//  3. Stop the announcement worker, cancelling any in-flight post
//  4. Close the database connection (flushes WAL, releases file lock)
func (s *Server) Start() error {
	defer s.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	s.worker.Start()

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", s.config.BaseURL),
			slog.String("database", s.config.DBPath),
			slog.Bool("socialPosting", s.config.Social.PostingEnabled),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
