package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/satmobi/satsgate/internal/api"
	invoiceapp "github.com/satmobi/satsgate/internal/invoice/app"
	"github.com/satmobi/satsgate/internal/invoice/backend"
	invoicerepo "github.com/satmobi/satsgate/internal/invoice/repository/postgres"
	"github.com/satmobi/satsgate/internal/platform/config"
	"github.com/satmobi/satsgate/internal/platform/database"
	"github.com/satmobi/satsgate/internal/platform/logger"
	"github.com/satmobi/satsgate/internal/platform/messagebroker"
	ussdhttp "github.com/satmobi/satsgate/internal/ussd/adapters/http"
	ussdapp "github.com/satmobi/satsgate/internal/ussd/app"
	sessionrepo "github.com/satmobi/satsgate/internal/ussd/repository/postgres"
	walletapp "github.com/satmobi/satsgate/internal/wallet/app"
	walletrepo "github.com/satmobi/satsgate/internal/wallet/repository/postgres"
)

const (
	serviceName     = "walletd"
	shutdownTimeout = 15 * time.Second
)

// httpLogger is a middleware that logs HTTP requests using slog.
func httpLogger(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			requestID := chiMiddleware.GetReqID(r.Context())

			next.ServeHTTP(ww, r)

			logger.LogAttrs(r.Context(), slog.LevelInfo, "HTTP request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status_code", ww.Status()),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
				slog.String("request_id", requestID),
			)
		}
		return http.HandlerFunc(fn)
	}
}

func newPaymentBackend(cfg *config.Config, appLogger *slog.Logger) backend.PaymentBackend {
	switch cfg.PaymentBackend {
	case "lnbits":
		return backend.NewLNBitsBackend(appLogger, cfg.LNBitsURL, cfg.LNBitsAPIKey, nil)
	default:
		appLogger.Warn("Using mock payment backend; invoices are not real Lightning invoices",
			"configured_backend", cfg.PaymentBackend)
		return backend.NewMockBackend()
	}
}

func main() {
	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	appLogger := logger.New(cfg.LogLevel).With("service", serviceName)
	appLogger.Info("Wallet service starting...",
		"http_port", cfg.HTTPPort,
		"metrics_port", cfg.MetricsPort,
		"payment_backend", cfg.PaymentBackend,
		"log_level", cfg.LogLevel,
	)

	dbPool, err := database.NewDBPool(mainCtx, cfg.PostgresDSN, cfg.DBMaxConns, appLogger)
	if err != nil {
		appLogger.Error("Failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()
	appLogger.Info("Successfully connected to PostgreSQL")

	natsClient, err := messagebroker.NewNATSClient(cfg.NATSUrl, serviceName, appLogger)
	if err != nil {
		appLogger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()
	appLogger.Info("Successfully connected to NATS")

	txManager := database.NewPgxTxManager(dbPool)
	accountRepo := walletrepo.NewPgAccountRepository()
	transactionRepo := walletrepo.NewPgTransactionRepository()
	invoiceRepo := invoicerepo.NewPgInvoiceRepository()
	sessionRepo := sessionrepo.NewPgSessionRepository()

	ledgerService := walletapp.NewLedgerService(
		dbPool, txManager, accountRepo, transactionRepo, appLogger, cfg.LedgerRetryAttempts)

	invoiceService := invoiceapp.NewInvoiceService(
		dbPool, txManager, invoiceRepo, accountRepo, ledgerService,
		newPaymentBackend(cfg, appLogger),
		invoiceapp.Config{
			MinAmountSats: cfg.InvoiceMinSats,
			MaxAmountSats: cfg.InvoiceMaxSats,
			DefaultTTL:    cfg.InvoiceTTL(),
		},
		appLogger,
	)

	sessionService := ussdapp.NewSessionService(
		txManager, sessionRepo, ledgerService, invoiceService,
		ussdapp.Config{
			CountryCode:    cfg.DefaultCountryCode,
			SessionTimeout: cfg.SessionTimeout(),
			InvoiceTTL:     cfg.InvoiceTTL(),
			SatsPerKES:     cfg.SatsPerKES,
			TopupMinKES:    cfg.TopupMinKES,
			TopupMaxKES:    cfg.TopupMaxKES,
		},
		appLogger,
	)

	settlementConsumer := invoiceapp.NewSettlementConsumer(natsClient, invoiceService, appLogger)

	ussdHandler := ussdhttp.NewUSSDHandler(sessionService, appLogger)
	apiHandlers := api.NewHandlers(
		ledgerService, invoiceService, validator.New(), appLogger,
		cfg.DefaultCountryCode, cfg.InvoiceTTL())
	router := api.NewRouter(ussdHandler, apiHandlers, cfg.JWTSecret,
		cfg.USSDMaxConcurrent, cfg.WebhookMaxConcurrent, appLogger)

	g, groupCtx := errgroup.WithContext(mainCtx)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      httpLogger(appLogger)(router),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	g.Go(func() error {
		appLogger.Info("HTTP server starting", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("HTTP server ListenAndServe error", "error", err)
			return err
		}
		appLogger.Info("HTTP server shut down gracefully.")
		return nil
	})

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: metricsMux,
	}
	g.Go(func() error {
		appLogger.Info("Metrics HTTP server starting", "address", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("Metrics HTTP server ListenAndServe error", "error", err)
			return err
		}
		appLogger.Info("Metrics HTTP server shut down gracefully.")
		return nil
	})

	g.Go(func() error {
		return settlementConsumer.Start(groupCtx, cfg.SettlementSubject, cfg.SettlementQueueGroup)
	})

	g.Go(func() error {
		return invoiceService.RunExpirySweeper(groupCtx,
			time.Duration(cfg.InvoiceSweepIntervalS)*time.Second)
	})

	g.Go(func() error {
		return sessionService.RunReaper(groupCtx,
			time.Duration(cfg.SessionReapIntervalSecs)*time.Second,
			time.Duration(cfg.SessionPurgeAfterHours)*time.Hour)
	})

	stopSignal := make(chan os.Signal, 1)
	signal.Notify(stopSignal, syscall.SIGINT, syscall.SIGTERM)
	g.Go(func() error {
		select {
		case sig := <-stopSignal:
			appLogger.Info("Received termination signal", "signal", sig.String())
			mainCancel()
			return nil
		case <-groupCtx.Done():
			return nil
		}
	})

	g.Go(func() error {
		<-groupCtx.Done()
		appLogger.Info("Initiating graceful shutdown of servers...")

		shutdownCtx, cancelShutdownTimeout := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdownTimeout()

		var shutdownErrors error
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("Metrics HTTP server graceful shutdown failed", "error", err)
			shutdownErrors = errors.Join(shutdownErrors, fmt.Errorf("metrics http shutdown: %w", err))
		}
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("HTTP server graceful shutdown failed", "error", err)
			shutdownErrors = errors.Join(shutdownErrors, fmt.Errorf("http shutdown: %w", err))
		}
		return shutdownErrors
	})

	appLogger.Info("Wallet service is ready and running.")
	if err := g.Wait(); err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("Service group encountered an error during run/shutdown", "error", err)
		}
	}

	appLogger.Info("Wallet service shut down successfully.")
}
