package deadletter

import (
	"context"

	"github.com/imrishuroy/go-payflow/internal/queue"
	"go.uber.org/zap"
)

// FailureContext describes a job that just failed an attempt.
type FailureContext struct {
	JobID        string
	AttemptsMade int
	MaxAttempts  int
	SourceQueue  string
	OrderID      string
	Error        string
}

// Mover performs the actual transfer into a dead-letter queue.
type Mover interface {
	MoveJobToDLQ(ctx context.Context, sourceQueue, jobID, dlqName, reason string) error
}

type Handler struct {
	mover  Mover
	dlq    string
	logger *zap.Logger
}

// NewHandler routes exhausted jobs into dlq.
func NewHandler(mover Mover, dlq string, logger *zap.Logger) *Handler {
	return &Handler{mover: mover, dlq: dlq, logger: logger}
}

// HandleJobFailure moves the job once attemptsMade reaches maxAttempts and
// reports whether it did. A failed move is logged and reported as false.
func (h *Handler) HandleJobFailure(ctx context.Context, fc FailureContext) bool {
	if fc.AttemptsMade < fc.MaxAttempts {
		return false
	}
	log := h.logger.With(
		zap.String("jobId", fc.JobID),
		zap.String("orderId", fc.OrderID),
		zap.String("sourceQueue", fc.SourceQueue),
		zap.Int("attemptsMade", fc.AttemptsMade),
		zap.Int("maxAttempts", fc.MaxAttempts),
	)
	if err := h.mover.MoveJobToDLQ(ctx, fc.SourceQueue, fc.JobID, h.dlq, fc.Error); err != nil {
		log.Error("Failed to move job to DLQ", zap.Error(err), zap.String("error", fc.Error))
		return false
	}
	log.Error("Job moved to Dead Letter Queue - requires manual intervention", zap.String("error", fc.Error))
	return true
}

// Observer consumes the dead-letter queue without retrying anything.
type Observer struct {
	logger *zap.Logger
}

func NewObserver(logger *zap.Logger) *Observer {
	return &Observer{logger: logger}
}

// Handle always succeeds; entries stay listed for operators until retried or expired.
func (o *Observer) Handle(ctx context.Context, job *queue.Job) (any, error) {
	var dl queue.DeadLetter
	if err := job.Decode(&dl); err != nil {
		o.logger.Error("unreadable dead letter", zap.String("jobId", job.ID), zap.Error(err))
		return nil, nil
	}
	o.logger.Warn("dead letter received",
		zap.String("jobId", dl.JobID),
		zap.String("sourceQueue", dl.SourceQueue),
		zap.Int("attemptsMade", dl.AttemptsMade),
		zap.String("failedReason", dl.FailedReason),
	)
	return nil, nil
}
