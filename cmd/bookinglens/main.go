package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"bookinglens/internal/amqp"
	"bookinglens/internal/analytics"
	"bookinglens/internal/backend"
	"bookinglens/internal/cache"
	"bookinglens/internal/cli"
	"bookinglens/internal/config"
	apphttp "bookinglens/internal/http"
	applog "bookinglens/internal/log"
	"bookinglens/internal/services"
	gsheet "bookinglens/internal/sheets/google"
)

func main() {
	cli.LoadEnvFile()

	appLogger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	logger := appLogger.Slog()
	cfg := cli.LoadAndValidateConfig(logger, (*config.Config).Validate)

	ctx := context.Background()
	store := cli.InitBackend(ctx, logger, cfg)

	// datasets are session scoped; a restart ends every session
	if p, ok := store.(backend.Purger); ok {
		if err := p.PurgeAll(ctx); err != nil {
			logger.Error("Failed to purge datasets of previous run", "error", err)
			os.Exit(1)
		}
	}

	opts := services.Options{
		Store:      store,
		DatasetTTL: cfg.DatasetTTL,
		Logger:     appLogger.WithComponent(applog.ComponentAnalytics).Slog(),
	}

	var exportDir string
	if cfg.AMQPURL != "" {
		exportDir = cfg.ExportDir
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			// exports fall back to synchronous downloads
			logger.Warn("AMQP unavailable, export jobs disabled", "error", err)
		} else {
			opts.Publisher = amqpClient
			logger.Info("AMQP client initialized", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	} else {
		logger.Info("Export jobs disabled - no AMQP_URL provided")
	}

	if cfg.SheetsEnabled() {
		sheetsClient, err := gsheet.New(ctx, gsheet.Config{
			SpreadsheetID:   cfg.GoogleSpreadsheetID,
			Range:           cfg.GoogleSheetRange,
			CredentialsJSON: cfg.GoogleServiceAccountJSON,
			CredentialsFile: cfg.GoogleServiceAccountFile,
			OAuthClientJSON: cfg.GoogleOAuthClientJSON,
			OAuthClientFile: cfg.GoogleOAuthClientFile,
			OAuthTokenFile:  cfg.GoogleOAuthTokenFile,
		})
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", "error", err)
			os.Exit(1)
		}
		opts.Source = sheetsClient
		appLogger.WithComponent(applog.ComponentSheets).Info("Google Sheets import enabled",
			"spreadsheet_id", cfg.GoogleSpreadsheetID,
			"oauth", cfg.GoogleOAuthTokenFile != "")
	}

	reports := cache.NewLRUCache[analytics.Report](cfg.ReportCacheSize, cfg.ReportCacheTTL)
	opts.ReportCache = reports
	svc := services.NewDashboardService(opts)

	cacheManager := cache.NewManager(appLogger.WithComponent(applog.ComponentCache).Slog())
	cacheManager.Register(reports)
	cacheManager.Register(svc.Janitor())
	cacheManager.StartCleanup(time.Minute)

	var ready func(ctx context.Context) error
	if p, ok := store.(backend.Pinger); ok {
		ready = p.Ping
	}

	srv := apphttp.NewServer(apphttp.Options{
		Addr:           ":" + cfg.Port,
		Dashboard:      svc,
		Logger:         appLogger,
		MaxUploadBytes: cfg.MaxUploadBytes,
		TrustedProxies: cfg.TrustedProxies,
		ExportDir:      exportDir,
		Ready:          ready,
		CacheSize:      reports.Size,
	})

	shutdownCtx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		cacheManager.Stop()
		if err := svc.Close(); err != nil {
			logger.Error("Failed to close dashboard service", "error", err)
		}
	})

	logger.Info("Starting bookinglens server",
		applog.FieldOperation, applog.OpStartup,
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"sheets", svc.SheetsEnabled(),
		"export_jobs", svc.ExportsEnabled())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(shutdownCtx, done)
	logger.Info("Server stopped gracefully")
}
