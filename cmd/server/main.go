package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourorg/stripe-gateway/internal/adapter"
	"github.com/yourorg/stripe-gateway/internal/adapter/breaker"
	adaptermock "github.com/yourorg/stripe-gateway/internal/adapter/mock"
	"github.com/yourorg/stripe-gateway/internal/adapter/stripe"
	"github.com/yourorg/stripe-gateway/internal/classifier"
	"github.com/yourorg/stripe-gateway/internal/config"
	"github.com/yourorg/stripe-gateway/internal/monitor"
	"github.com/yourorg/stripe-gateway/internal/observability"
	"github.com/yourorg/stripe-gateway/internal/orchestrator"
	"github.com/yourorg/stripe-gateway/internal/reporting"
	"github.com/yourorg/stripe-gateway/internal/storage"
)

// newServer wires the gateway from cfg. The returned function releases
// the store.
func newServer(ctx context.Context, cfg config.Config, logger *zap.Logger) (*server, func(), error) {
	contracts, err := monitor.LoadContracts()
	if err != nil {
		return nil, nil, err
	}

	var (
		store   storage.Store
		cleanup = func() {}
	)
	if cfg.DatabaseURL != "" {
		pg, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, nil, err
		}
		store, cleanup = pg, pg.Close
	} else {
		logger.Warn("DATABASE_URL not set, records are kept in memory")
		store = storage.NewMemoryStore()
	}

	var remote adapter.RemoteClient
	if cfg.UseMockProcessor() {
		logger.Warn("STRIPE_SECRET_KEY not set, using the in-memory processor")
		remote = adaptermock.NewMockAdapter(cfg.GatewayID)
	} else {
		remote = stripe.NewStripeAdapter(stripe.Config{
			SecretKey:  cfg.StripeSecretKey,
			APIBaseURL: cfg.StripeAPIURL,
			Timeout:    cfg.StripeTimeout,
			Logger:     logger,
		})
	}
	cb := breaker.NewCircuitBreaker(breaker.Settings{
		FailureThreshold:         cfg.BreakerFailureThreshold,
		OpenTimeout:              cfg.BreakerOpenTimeout,
		HalfOpenSuccessThreshold: cfg.BreakerHalfOpenSuccesses,
	})

	journal := reporting.NewJournal(0)
	gw := orchestrator.NewGateway(breaker.NewClient(remote, cb, logger), classifier.NewDefaultClassifier(), store, orchestrator.Config{
		Mode:        cfg.Mode,
		ProviderKey: cfg.ProviderKey(),
		Logger:      logger,
		Journal:     journal,
	})

	return &server{
		gateway:   gw,
		store:     store,
		contracts: contracts,
		journal:   journal,
		reporter:  reporting.NewRetrospectiveReporter(),
		logger:    logger,
	}, cleanup, nil
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		_, shutdown, err := observability.NewTracerProvider(os.Stdout)
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Error("tracer shutdown", zap.Error(err))
			}
		}()
	}

	s, cleanup, err := newServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	if !cfg.UseMockProcessor() {
		if err := s.gateway.VerifyCredentials(ctx); err != nil {
			return fmt.Errorf("verify credentials: %w", err)
		}
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           setupRouter(s),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", cfg.HTTPAddr), zap.String("mode", cfg.Mode))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("stripe-gateway: %v", err)
	}
}
