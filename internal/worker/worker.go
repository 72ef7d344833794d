package worker

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ryu-qqq/setof-commerce-sub005/internal/broker"
	"github.com/ryu-qqq/setof-commerce-sub005/internal/payment"
	"github.com/ryu-qqq/setof-commerce-sub005/internal/redisclient"
	"github.com/ryu-qqq/setof-commerce-sub005/internal/store"
	"github.com/ryu-qqq/setof-commerce-sub005/internal/util"
)

// WebhookWorker drains the gateway-events topic and feeds each delivery
// through the reconciler. Offsets commit only after the reconciler applied
// the event, so delivery is at least once; the reconciler's idempotence
// makes the effect exactly once.
type WebhookWorker struct {
	consumer   *broker.Consumer
	reconciler *payment.Reconciler
	logger     *zap.Logger
}

func NewWebhookWorker(consumer *broker.Consumer, reconciler *payment.Reconciler) *WebhookWorker {
	return &WebhookWorker{
		consumer:   consumer,
		reconciler: reconciler,
		logger:     util.NamedLogger("worker.webhook"),
	}
}

// Start starts the worker
func (w *WebhookWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting webhook worker")

	return w.consumer.StartConsuming(ctx, func(ctx context.Context, msg kafka.Message) error {
		event, err := broker.DecodePGEvent(msg)
		if err != nil {
			// malformed payloads never become processable; drop, don't block
			w.logger.Error("Dropping undecodable pg event",
				zap.String("key", string(msg.Key)),
				zap.Error(err))
			return nil
		}

		if err := w.reconciler.Apply(ctx, event); err != nil {
			if errors.Is(err, payment.ErrPaymentNotFound) {
				// webhook outran the checkout commit; redeliver later
				w.logger.Warn("Payment not visible yet, retrying delivery",
					zap.String("pg_key", event.Transaction.PGKey))
			}
			return err
		}
		return nil
	})
}

// Stop stops the worker
func (w *WebhookWorker) Stop() error {
	w.logger.Info("Stopping webhook worker")
	return w.consumer.Close()
}

// StockSyncWorker seeds the Redis stock counters from the database at
// startup. A Redis job lock keeps multiple instances from syncing over each
// other.
type StockSyncWorker struct {
	store  *store.Store
	redis  *redisclient.Client
	logger *zap.Logger
}

const stockSyncJob = "stock-sync"

func NewStockSyncWorker(s *store.Store, redis *redisclient.Client) *StockSyncWorker {
	return &StockSyncWorker{
		store:  s,
		redis:  redis,
		logger: util.NamedLogger("worker.stocksync"),
	}
}

// Run performs one sync pass under the job lock.
func (w *StockSyncWorker) Run(ctx context.Context) error {
	acquired, err := w.redis.AcquireJobLock(ctx, stockSyncJob, 5*time.Minute)
	if err != nil {
		return err
	}
	if !acquired {
		w.logger.Info("Stock sync already running elsewhere, skipping")
		return nil
	}
	defer func() {
		if err := w.redis.ReleaseJobLock(context.Background(), stockSyncJob); err != nil {
			w.logger.Error("Failed to release stock sync lock", zap.Error(err))
		}
	}()

	counts, err := w.store.StockCounts(ctx)
	if err != nil {
		return err
	}

	synced := 0
	for _, c := range counts {
		if err := w.redis.InitStock(ctx, c.StockUnitID, c.Available, c.Reserved); err != nil {
			w.logger.Error("Failed to seed stock counter",
				zap.Int64("stock_unit_id", c.StockUnitID),
				zap.Error(err))
			continue
		}
		synced++
	}

	w.logger.Info("Stock counters synced", zap.Int("count", synced))
	return nil
}
