package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/imrishuroy/go-payflow/internal/queue"
	"go.uber.org/zap"
)

// Dispatcher runs one delivery through the registered queue worker.
type Dispatcher interface {
	Dispatch(ctx context.Context, queueName string, msg queue.Message) error
}

// QueueResolver maps an SQS event source ARN to a logical queue name.
type QueueResolver interface {
	QueueForARN(arn string) (string, bool)
}

// Sweeper re-enqueues payments whose enqueue failed at intake.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Processor handles SQS batches and scheduled reconciliation events delivered
// to the Lambda worker.
type Processor struct {
	dispatcher Dispatcher
	queues     QueueResolver
	sweeper    Sweeper
	logger     *zap.Logger
}

func NewProcessor(d Dispatcher, queues QueueResolver, sweeper Sweeper, logger *zap.Logger) *Processor {
	return &Processor{dispatcher: d, queues: queues, sweeper: sweeper, logger: logger}
}

// Invoke routes a raw Lambda payload. EventBridge schedules run a reconciliation
// sweep; anything else is decoded as an SQS batch.
func (p *Processor) Invoke(ctx context.Context, payload json.RawMessage) (any, error) {
	var head struct {
		DetailType string `json:"detail-type"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if head.DetailType == "Scheduled Event" {
		return p.Reconcile(ctx)
	}

	var ev events.SQSEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("decode sqs event: %w", err)
	}
	return p.Handle(ctx, ev)
}

// ReconcileResult is returned for scheduled invocations.
type ReconcileResult struct {
	Enqueued int `json:"enqueued"`
}

func (p *Processor) Reconcile(ctx context.Context) (ReconcileResult, error) {
	n, err := p.sweeper.Sweep(ctx)
	if err != nil {
		p.logger.Error("reconciliation sweep failed", zap.Int("enqueued", n), zap.Error(err))
		return ReconcileResult{Enqueued: n}, err
	}
	p.logger.Info("reconciliation sweep done", zap.Int("enqueued", n))
	return ReconcileResult{Enqueued: n}, nil
}

// Handle dispatches every record and reports the ones that must be redelivered.
// Retries and dead-lettering are decided by the queue manager, so only
// transport-level failures end up in BatchItemFailures.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			p.logger.Error("worker error",
				zap.String("messageId", rec.MessageId),
				zap.String("source", rec.EventSourceARN),
				zap.Error(err),
			)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{
				ItemIdentifier: rec.MessageId,
			})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	name, ok := p.queues.QueueForARN(rec.EventSourceARN)
	if !ok {
		return fmt.Errorf("no queue configured for %s", rec.EventSourceARN)
	}
	return p.dispatcher.Dispatch(ctx, name, queue.Message{
		ID:      rec.MessageId,
		Body:    []byte(rec.Body),
		Receipt: rec.ReceiptHandle,
	})
}
