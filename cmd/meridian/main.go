package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-pos/meridian-pos/internal/app"
	"github.com/meridian-pos/meridian-pos/internal/catalog"
	"github.com/meridian-pos/meridian-pos/internal/payments"
	"github.com/meridian-pos/meridian-pos/internal/platform/db"
	"github.com/meridian-pos/meridian-pos/internal/sales"
	"github.com/meridian-pos/meridian-pos/internal/shared"
	"github.com/meridian-pos/meridian-pos/internal/stock"
	"github.com/meridian-pos/meridian-pos/jobs"
)

// stockCatalog bridges the catalog service to the stock ledger's port.
type stockCatalog struct {
	catalog *catalog.Service
}

func (a stockCatalog) Product(ctx context.Context, tenantID, productID int64) (stock.ProductInfo, error) {
	p, err := a.catalog.GetProduct(ctx, tenantID, productID)
	if err != nil {
		return stock.ProductInfo{}, err
	}
	return stock.ProductInfo{ID: p.ID, Name: p.Name, TrackStock: p.TrackStock, IsActive: p.IsActive}, nil
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	alerts := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := alerts.Close(); err != nil {
			logger.Warn("asynq close", slog.Any("error", err))
		}
	}()

	validate := validator.New()
	audit := shared.NewAuditLogger(pool)

	catalogService := catalog.NewService(catalog.NewRepository(pool))
	ledger := stock.NewLedger(stock.NewStore(pool), stockCatalog{catalog: catalogService}, audit)
	salesService := sales.NewService(
		sales.NewRepository(pool),
		sales.CatalogAdapter{Catalog: catalogService},
		ledger,
		alerts,
		audit,
	)
	paymentsService := payments.NewService(payments.NewRepository(pool), audit)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		Pool:            pool,
		CatalogHandler:  catalog.NewHandler(logger, catalogService, validate),
		StockHandler:    stock.NewHandler(logger, ledger, validate),
		SalesHandler:    sales.NewHandler(logger, salesService, validate),
		PaymentsHandler: payments.NewHandler(logger, paymentsService, validate),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("http server", slog.Any("error", err))
		os.Exit(1)
	}
}
