package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/imrishuroy/go-payflow/internal/kvstore"
	"github.com/imrishuroy/go-payflow/internal/orders"
	"github.com/imrishuroy/go-payflow/internal/payments"
	"github.com/imrishuroy/go-payflow/internal/queue"
	"go.uber.org/zap"
)

// Reconciler re-enqueues payment jobs for orders whose enqueue failed at intake.
type Reconciler struct {
	orders   orders.Repository
	queue    Enqueuer
	kv       kvstore.Store
	interval time.Duration
	logger   *zap.Logger
}

func NewReconciler(repo orders.Repository, q Enqueuer, kv kvstore.Store, interval time.Duration, logger *zap.Logger) *Reconciler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reconciler{orders: repo, queue: q, kv: kv, interval: interval, logger: logger}
}

// Run sweeps every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := r.Sweep(ctx); err != nil {
				r.logger.Error("reconciliation sweep failed", zap.Error(err))
			} else if n > 0 {
				r.logger.Info("reconciliation re-enqueued payments", zap.Int("count", n))
			}
		}
	}
}

// Sweep handles every pending marker once and reports how many payment jobs it enqueued.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	keys, err := r.kv.Keys(ctx, reconcilePrefix+"*")
	if err != nil {
		return 0, fmt.Errorf("list reconcile markers: %w", err)
	}
	var enqueued int
	var errs []error
	for _, key := range keys {
		ok, err := r.reconcile(ctx, key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			enqueued++
		}
	}
	return enqueued, errors.Join(errs...)
}

func (r *Reconciler) reconcile(ctx context.Context, key string) (bool, error) {
	orderID := strings.TrimPrefix(key, reconcilePrefix)
	log := r.logger.With(zap.String("orderId", orderID))

	raw, err := r.kv.Get(ctx, key)
	if errors.Is(err, kvstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get marker %s: %w", key, err)
	}
	var job payments.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		log.Error("dropping unreadable reconcile marker", zap.Error(err))
		return false, r.kv.Del(ctx, key)
	}

	order, err := r.orders.FindByID(ctx, orderID)
	if err != nil {
		return false, fmt.Errorf("load order %s: %w", orderID, err)
	}
	if order == nil || order.PaymentStatus != orders.StatusPending {
		log.Info("reconcile marker no longer needed")
		return false, r.kv.Del(ctx, key)
	}

	if _, err := r.queue.AddJob(ctx, queue.PaymentProcessing, job, nil); err != nil {
		return false, fmt.Errorf("re-enqueue payment for %s: %w", orderID, err)
	}
	if err := r.kv.Del(ctx, key); err != nil {
		return true, fmt.Errorf("clear marker %s: %w", key, err)
	}
	log.Info("payment job re-enqueued")
	return true, nil
}
