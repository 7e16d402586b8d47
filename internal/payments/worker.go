package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/imrishuroy/go-payflow/internal/deadletter"
	"github.com/imrishuroy/go-payflow/internal/gateway"
	"github.com/imrishuroy/go-payflow/internal/notify"
	"github.com/imrishuroy/go-payflow/internal/orders"
	"github.com/imrishuroy/go-payflow/internal/queue"
	"go.uber.org/zap"
)

// Job is the payload of a payment-processing job.
type Job struct {
	OrderID       string  `json:"orderId"`
	Amount        float64 `json:"amount"`
	CustomerName  string  `json:"customerName"`
	CustomerEmail string  `json:"customerEmail"`
	CardToken     string  `json:"cardToken"`
}

// Result is kept on the completed job record.
type Result struct {
	Success bool                     `json:"success"`
	Skipped bool                     `json:"skipped,omitempty"`
	Payment *gateway.PaymentResponse `json:"payment,omitempty"`
}

// Enqueuer is the producing side of the work queue.
type Enqueuer interface {
	AddJob(ctx context.Context, queueName string, data any, opts *queue.JobOptions) (string, error)
}

// FailureHandler decides whether a failed job goes to the dead-letter queue.
type FailureHandler interface {
	HandleJobFailure(ctx context.Context, fc deadletter.FailureContext) bool
}

// Worker processes payment jobs.
type Worker struct {
	orders   orders.Repository
	gateway  gateway.Gateway
	queue    Enqueuer
	failures FailureHandler
	timeout  time.Duration
	logger   *zap.Logger
}

func NewWorker(repo orders.Repository, gw gateway.Gateway, q Enqueuer, failures FailureHandler, timeout time.Duration, logger *zap.Logger) *Worker {
	return &Worker{
		orders:   repo,
		gateway:  gw,
		queue:    q,
		failures: failures,
		timeout:  timeout,
		logger:   logger,
	}
}

// Handle is registered on the payment-processing queue. Every error is
// returned so the queue counts the attempt; on the last attempt the job is
// handed to the dead-letter handler first.
func (w *Worker) Handle(ctx context.Context, job *queue.Job) (any, error) {
	var data Job
	if err := job.Decode(&data); err != nil {
		err = fmt.Errorf("decode payment job: %w", err)
		w.onFailure(ctx, job, data.OrderID, err)
		return nil, err
	}

	res, err := w.process(ctx, job, data)
	if err != nil {
		w.onFailure(ctx, job, data.OrderID, err)
		return nil, err
	}
	return res, nil
}

func (w *Worker) onFailure(ctx context.Context, job *queue.Job, orderID string, err error) {
	attempt := job.AttemptsMade + 1
	if attempt < job.Opts.Attempts {
		return
	}
	w.failures.HandleJobFailure(ctx, deadletter.FailureContext{
		JobID:        job.ID,
		AttemptsMade: attempt,
		MaxAttempts:  job.Opts.Attempts,
		SourceQueue:  job.Queue,
		OrderID:      orderID,
		Error:        err.Error(),
	})
}

func (w *Worker) process(ctx context.Context, job *queue.Job, data Job) (*Result, error) {
	log := w.logger.With(zap.String("jobId", job.ID), zap.String("orderId", data.OrderID))

	order, err := w.orders.FindByID(ctx, data.OrderID)
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	if order == nil {
		return nil, fmt.Errorf("order %s: %w", data.OrderID, orders.ErrNotFound)
	}
	if orders.IsTerminal(order.PaymentStatus) {
		log.Info("payment already settled, skipping", zap.String("paymentStatus", order.PaymentStatus))
		return &Result{Success: true, Skipped: true}, nil
	}

	callCtx := ctx
	if w.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}
	payment, err := w.gateway.ProcessPayment(callCtx, gateway.PaymentRequest{
		OrderID:       data.OrderID,
		Amount:        data.Amount,
		CustomerName:  data.CustomerName,
		CustomerEmail: data.CustomerEmail,
		CardToken:     data.CardToken,
	})
	if err != nil {
		return nil, fmt.Errorf("process payment: %w", err)
	}

	_, err = w.orders.Update(ctx, data.OrderID, orders.PaymentUpdate{
		Status:    payment.Status,
		PaymentID: payment.PaymentID,
		GatewayID: payment.GatewayID,
	})
	if errors.Is(err, orders.ErrInvalidTransition) {
		// a concurrent delivery settled it first and owns the notification
		log.Warn("order settled concurrently", zap.Error(err))
		return &Result{Success: true, Skipped: true, Payment: payment}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("update order: %w", err)
	}

	var tpl notify.Template
	if payment.Status == orders.StatusPaid {
		tpl = notify.OrderPaid(data.CustomerName, data.OrderID, payment.PaymentID, data.Amount)
	} else {
		tpl = notify.PaymentDenied(data.CustomerName, data.OrderID, data.Amount,
			notify.DenialReason(payment.Status, payment.DenialReason))
	}
	if _, err := w.queue.AddJob(ctx, queue.EmailNotifications, notify.EmailJob{
		CustomerEmail: data.CustomerEmail,
		Template:      tpl,
	}, nil); err != nil {
		// the order is settled; a retry would skip it, so only log
		log.Error("failed to enqueue payment notification", zap.Error(err))
	}

	log.Info("Payment processed successfully",
		zap.String("paymentId", payment.PaymentID),
		zap.String("paymentStatus", payment.Status),
	)
	return &Result{Success: true, Payment: payment}, nil
}
