package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mcclellann/loanledger/pkg/config"
	"github.com/mcclellann/loanledger/pkg/invoice"
	"github.com/mcclellann/loanledger/pkg/lock"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/sirupsen/logrus"
)

func main() {
	force := flag.Bool("force", false, "Regenerate invoices that already exist")
	status := flag.Bool("status", false, "Print generation status and exit")
	from := flag.String("from", "", "Regenerate from this month (YYYY-MM) through the last elapsed month")
	flag.Parse()

	cfg := config.Load()
	logger := config.NewLogger(cfg.LogLevel, cfg.LogFormat)

	storage, err := cfg.OpenStore()
	if err != nil {
		logger.WithError(err).Fatal("open store")
	}
	defer storage.Close()

	ctx := context.Background()
	opts, closeLock, err := lockOptions(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("connect redis")
	}
	defer closeLock()
	g := invoice.NewGenerator(storage, logger, opts...)

	if err := run(ctx, g, *force, *status, *from, logger); err != nil {
		logger.WithError(err).Error("invoice backfill failed")
		closeLock()
		storage.Close()
		os.Exit(1)
	}
}

// lockOptions shares the API's redis lock when REDIS_ADDRESS is set, so a
// backfill never races a running server on the same store.
func lockOptions(ctx context.Context, cfg config.Config, logger logrus.FieldLogger) ([]invoice.Option, func(), error) {
	rdb, err := cfg.ConnectRedis(ctx)
	if err != nil {
		return nil, func() {}, err
	}
	if rdb == nil {
		return nil, func() {}, nil
	}
	logger.WithField("address", cfg.RedisAddress).Info("using redis ledger lock")
	return []invoice.Option{invoice.WithLocker(lock.NewRedisLocker(rdb, 30*time.Second))}, func() { rdb.Close() }, nil
}

func run(ctx context.Context, g *invoice.Generator, force, status bool, from string, logger logrus.FieldLogger) error {
	switch {
	case status:
		st, err := g.GenerationStatus(ctx)
		if err != nil {
			return err
		}
		return printJSON(st)

	case from != "":
		start, err := parseMonth(from)
		if err != nil {
			return err
		}
		ids, err := g.RegenerateAffected(ctx, start)
		logger.WithFields(logrus.Fields{"from": from, "regenerated": len(ids)}).Info("invoices regenerated")
		if err != nil {
			return err
		}
		return printJSON(ids)

	default:
		res, err := g.Backfill(ctx, force)
		if err != nil {
			return err
		}
		logger.WithFields(logrus.Fields{
			"force":     force,
			"generated": len(res.Generated),
			"skipped":   len(res.Skipped),
		}).Info("backfill complete")
		return printJSON(res)
	}
}

// parseMonth reads YYYY-MM as the first day of that month.
func parseMonth(s string) (models.Date, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return models.Date{}, fmt.Errorf("invalid -from %q, expected YYYY-MM: %w", s, err)
	}
	return models.NewDate(t.Year(), t.Month(), 1), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
