// Command webhook-replay re-runs ledgered Stripe events that never finished
// processing, either one by id or every pending row oldest first.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"

	"github.com/jewelcraft/jewelcraft-backend/internal/billing"
	"github.com/jewelcraft/jewelcraft-backend/internal/ledger"
	"github.com/jewelcraft/jewelcraft-backend/internal/shops"
	stripewebhook "github.com/jewelcraft/jewelcraft-backend/internal/webhooks/stripe"
	"github.com/jewelcraft/jewelcraft-backend/pkg/config"
	"github.com/jewelcraft/jewelcraft-backend/pkg/db"
	"github.com/jewelcraft/jewelcraft-backend/pkg/logger"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "webhook-replay"})

	_ = godotenv.Load()

	eventID := flag.String("event", "", "replay a single ledgered event id")
	pending := flag.Bool("pending", false, "replay every unprocessed event")
	limit := flag.Int("limit", 0, "max events for -pending (defaults to JEWELCRAFT_WEBHOOK_REPLAY_BATCH)")
	flag.Parse()

	if (*eventID == "") == !*pending {
		fmt.Fprintln(os.Stderr, "exactly one of -event or -pending is required")
		os.Exit(2)
	}

	cfg, err := config.LoadTool()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "webhook-replay",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithField(context.Background(), "env", cfg.App.Env)

	if *limit <= 0 {
		*limit = cfg.Webhook.ReplayBatch
	}

	failed, err := run(ctx, cfg, logg, *eventID, *limit)
	if err != nil {
		logg.Error(ctx, "webhook replay failed", err)
		os.Exit(1)
	}
	if failed > 0 {
		os.Exit(3)
	}
}

// run returns how many replayed events ended in an error status.
func run(ctx context.Context, cfg *config.ToolConfig, logg *logger.Logger, eventID string, limit int) (failed int, err error) {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return 0, err
	}
	defer func() { err = multierr.Append(err, dbClient.Close()) }()

	reconciler, err := stripewebhook.NewReconciler(stripewebhook.ReconcilerParams{
		LedgerRepo:        ledger.NewRepository(dbClient.DB()),
		BillingRepo:       billing.NewRepository(dbClient.DB()),
		ShopRepo:          shops.NewRepository(dbClient.DB()),
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	if err != nil {
		return 0, err
	}

	var outcomes []stripewebhook.ReplayOutcome
	if eventID != "" {
		result, err := reconciler.Replay(ctx, eventID)
		if err != nil {
			return 0, err
		}
		outcomes = append(outcomes, stripewebhook.ReplayOutcome{EventID: eventID, Result: result})
	} else {
		outcomes, err = reconciler.ReplayPending(ctx, limit)
		if err != nil {
			return 0, err
		}
	}

	for _, outcome := range outcomes {
		line := fmt.Sprintf("%s\t%s\t%s", outcome.EventID, outcome.EventType, outcome.Result.Status)
		if outcome.Result.Message != "" {
			line += "\t" + outcome.Result.Message
		}
		fmt.Println(line)
		if outcome.Result.Status == stripewebhook.StatusError {
			failed++
		}
	}
	logg.Info(logg.WithFields(ctx, map[string]any{"replayed": len(outcomes), "failed": failed}), "webhook replay finished")
	return failed, nil
}
