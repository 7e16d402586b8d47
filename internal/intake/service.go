package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/imrishuroy/go-payflow/internal/idempotency"
	"github.com/imrishuroy/go-payflow/internal/kvstore"
	"github.com/imrishuroy/go-payflow/internal/notify"
	"github.com/imrishuroy/go-payflow/internal/orders"
	"github.com/imrishuroy/go-payflow/internal/payments"
	"github.com/imrishuroy/go-payflow/internal/queue"
	"go.uber.org/zap"
)

const (
	reconcilePrefix = "reconcile:"
	// ReconcileTTL bounds how long an order waits for its payment job to be re-enqueued.
	ReconcileTTL = 24 * time.Hour

	MessageAlreadyProcessed = "Request already processed"
)

// Input is a validated order request.
type Input struct {
	ProductID     string
	Price         float64
	CustomerName  string
	CustomerEmail string
	CardToken     string
}

type Response struct {
	OrderID       string
	PaymentStatus string
	Message       string
	StatusCode    int
}

// Enqueuer is the producing side of the work queue.
type Enqueuer interface {
	AddJob(ctx context.Context, queueName string, data any, opts *queue.JobOptions) (string, error)
}

// Service creates orders and schedules their payment.
type Service struct {
	orders orders.Repository
	queue  Enqueuer
	ledger *idempotency.Ledger
	kv     kvstore.Store
	logger *zap.Logger
}

func NewService(repo orders.Repository, q Enqueuer, ledger *idempotency.Ledger, kv kvstore.Store, logger *zap.Logger) *Service {
	return &Service{orders: repo, queue: q, ledger: ledger, kv: kv, logger: logger}
}

// Execute runs one order request. A repeated request inside the idempotency
// window returns the first response with status 200 and touches nothing else.
//
// Two identical requests racing past the ledger lookup can both create an
// order; only requests arriving after the first ledger write are deduplicated.
func (s *Service) Execute(ctx context.Context, in Input) (*Response, error) {
	fp := idempotency.OrderFingerprint(in.CustomerName, in.CustomerEmail, in.ProductID, in.Price)

	rec, err := s.ledger.Retrieve(ctx, fp)
	if err != nil {
		return nil, fmt.Errorf("idempotency lookup: %w", err)
	}
	if rec != nil {
		s.logger.Info("Idempotency hit", zap.String("orderId", rec.Data.OrderID))
		return &Response{
			OrderID:       rec.Data.OrderID,
			PaymentStatus: rec.Data.PaymentStatus,
			Message:       MessageAlreadyProcessed,
			StatusCode:    http.StatusOK,
		}, nil
	}

	order, err := s.orders.Create(ctx, orders.NewOrder{
		ProductID:     in.ProductID,
		Price:         in.Price,
		CustomerName:  in.CustomerName,
		CustomerEmail: in.CustomerEmail,
	})
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	log := s.logger.With(zap.String("orderId", order.OrderID))

	paymentJob := payments.Job{
		OrderID:       order.OrderID,
		Amount:        in.Price,
		CustomerName:  in.CustomerName,
		CustomerEmail: in.CustomerEmail,
		CardToken:     in.CardToken,
	}

	if _, err := s.ledger.Store(ctx, fp, idempotency.Response{
		OrderID:       order.OrderID,
		PaymentStatus: order.PaymentStatus,
	}); err != nil {
		s.markForReconcile(ctx, log, paymentJob)
		return nil, fmt.Errorf("store idempotency record: %w", err)
	}

	if _, err := s.queue.AddJob(ctx, queue.PaymentProcessing, paymentJob, nil); err != nil {
		s.markForReconcile(ctx, log, paymentJob)
		return nil, fmt.Errorf("enqueue payment: %w", err)
	}
	log.Info("Payment queued")

	tpl := notify.OrderCreated(in.CustomerName, order.OrderID, in.ProductID, in.Price)
	if _, err := s.queue.AddJob(ctx, queue.EmailNotifications, notify.EmailJob{
		CustomerEmail: in.CustomerEmail,
		Template:      tpl,
	}, nil); err != nil {
		return nil, fmt.Errorf("enqueue order created email: %w", err)
	}
	log.Info("Order created email queued")

	return &Response{
		OrderID:       order.OrderID,
		PaymentStatus: order.PaymentStatus,
		StatusCode:    http.StatusCreated,
	}, nil
}

// markForReconcile leaves a note for the Reconciler to enqueue the payment later.
func (s *Service) markForReconcile(ctx context.Context, log *zap.Logger, job payments.Job) {
	b, err := json.Marshal(job)
	if err == nil {
		err = s.kv.SetEx(ctx, reconcilePrefix+job.OrderID, string(b), ReconcileTTL)
	}
	if err != nil {
		log.Error("order left without payment job", zap.Error(err))
		return
	}
	log.Warn("payment enqueue deferred to reconciliation")
}
