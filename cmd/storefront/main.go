package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/aurelia-jewels/storefront/internal/cart"
	"github.com/aurelia-jewels/storefront/internal/catalog"
	"github.com/aurelia-jewels/storefront/internal/gateway"
	"github.com/aurelia-jewels/storefront/internal/handlers"
	"github.com/aurelia-jewels/storefront/internal/platform/auth"
	"github.com/aurelia-jewels/storefront/internal/platform/config"
	"github.com/aurelia-jewels/storefront/internal/platform/observability"
	"github.com/aurelia-jewels/storefront/internal/platform/session"
	"github.com/aurelia-jewels/storefront/internal/platform/taxonomy"
)

func main() {
	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("storefront")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	dataset, err := catalog.NewDataset(cfg.Catalog.FallbackDir, logger.Named("fallback"))
	if err != nil {
		logger.Fatal("failed to load fallback dataset", zap.Error(err))
	}

	backgroundCtx, backgroundCancel := context.WithCancel(context.Background())
	defer backgroundCancel()

	if cfg.Catalog.WatchFallback && cfg.Catalog.FallbackDir != "" {
		if err := dataset.Watch(backgroundCtx, cfg.Catalog.FallbackDir); err != nil {
			logger.Warn("fallback dataset watcher unavailable", zap.Error(err))
		}
	}

	terms, err := taxonomy.Load(cfg.Catalog.TaxonomyFile)
	if err != nil {
		logger.Fatal("failed to load taxonomy", zap.Error(err))
	}

	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret, nil)
	if err != nil {
		logger.Fatal("failed to initialise session verifier", zap.Error(err))
	}

	cartStore, err := cart.NewStore(cfg.Cart.StorageDir)
	if err != nil {
		logger.Fatal("failed to initialise guest cart store", zap.Error(err))
	}

	locale, err := language.Parse(cfg.Cart.Locale)
	if err != nil {
		logger.Warn("unrecognised cart locale, using en-US", zap.String("locale", cfg.Cart.Locale))
		locale = language.AmericanEnglish
	}

	httpClient := &http.Client{Timeout: cfg.Commerce.Timeout}
	searchGW := gateway.NewSearchClient(cfg.Commerce.BaseURL, httpClient)

	factory := func(id string) (*session.State, error) {
		st := &session.State{}
		ctrl, err := catalog.NewController(catalog.ControllerDeps{
			Gateway:       searchGW,
			Fallback:      dataset,
			Logger:        logger.Named("catalog"),
			PageSize:      cfg.Catalog.PageSize,
			ComboPageSize: cfg.Catalog.ComboPageSize,
			Throttle:      cfg.Catalog.Throttle,
		})
		if err != nil {
			return nil, err
		}
		cartGW := gateway.NewCartClient(cfg.Commerce.BaseURL, httpClient, func(ctx context.Context) string {
			return st.Token()
		})
		reconciler, err := cart.NewReconciler(cart.ReconcilerDeps{
			Gateway: cartGW,
			Store:   cartStore.ForSession(id),
			Logger:  logger.Named("cart"),
			Locale:  locale,
		})
		if err != nil {
			return nil, err
		}
		st.Catalog = ctrl
		st.Cart = reconciler
		return st, nil
	}

	registry, err := session.NewRegistry(session.RegistryDeps{
		Factory: factory,
		TTL:     cfg.Session.TTL,
	})
	if err != nil {
		logger.Fatal("failed to initialise session registry", zap.Error(err))
	}
	go registry.Sweep(backgroundCtx, time.Minute)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger),
			observability.RequestLoggerMiddleware(),
			session.EnsureCookie,
			verifier.Middleware(),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(func() bool {
			return dataset.Len() > 0
		})),
		handlers.WithCatalogRoutes(handlers.NewCatalogHandlers(registry, terms).Routes),
		handlers.WithCartRoutes(handlers.NewCartHandlers(registry).Routes),
		handlers.WithSessionRoutes(handlers.NewSessionHandlers(registry, verifier).Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("aurelia storefront listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")
	backgroundCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
