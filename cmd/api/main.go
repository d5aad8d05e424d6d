package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mcclellann/loanledger/pkg/config"
	"github.com/mcclellann/loanledger/pkg/ledger"
	"github.com/mcclellann/loanledger/pkg/lock"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storage, err := cfg.OpenStore()
	if err != nil {
		log.Fatalf("Failed to initialize %s store: %v", cfg.StoreDriver, err)
	}
	defer storage.Close()

	opts := []ledger.Option{ledger.WithLogger(logger)}
	rdb, err := cfg.ConnectRedis(ctx)
	if err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	if rdb != nil {
		defer rdb.Close()
		opts = append(opts, ledger.WithLocker(lock.NewRedisLocker(rdb, 30*time.Second)))
		logger.WithField("address", cfg.RedisAddress).Info("using redis ledger lock")
	}

	l := ledger.NewLedger(storage, opts...)
	server := NewServer(l, logger)

	go runMaintenance(ctx, l, logger, cfg.MaintenanceInterval)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("Server starting on :%s (%s store)", cfg.Port, cfg.StoreDriver)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}

// runMaintenance refreshes the loan caches and fills any missing invoices,
// once at start-up and then on every tick.
func runMaintenance(ctx context.Context, l *ledger.Ledger, logger logrus.FieldLogger, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		maintain(ctx, l, logger)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func maintain(ctx context.Context, l *ledger.Ledger, logger logrus.FieldLogger) {
	report, err := l.RefreshAccruals(ctx)
	if err != nil {
		config.LogError(logger, "api", "maintain", "refresh accruals", nil, err)
	} else if len(report.Issues) > 0 {
		logger.WithField("issues", len(report.Issues)).Warn("accrual refresh repaired drifted loans")
	}

	res, err := l.Invoices().Backfill(ctx, false)
	if err != nil {
		config.LogError(logger, "api", "maintain", "backfill invoices", nil, err)
		return
	}
	if len(res.Generated) > 0 {
		logger.WithField("generated", res.Generated).Info("missing invoices generated")
	}
}
