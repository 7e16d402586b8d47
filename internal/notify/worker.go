package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/imrishuroy/go-payflow/internal/queue"
	"go.uber.org/zap"
)

var errIncompleteEmail = errors.New("email job missing recipient, subject or body")

// Worker consumes the email-notifications queue.
type Worker struct {
	sender Sender
	logger *zap.Logger
}

func NewWorker(sender Sender, logger *zap.Logger) *Worker {
	return &Worker{sender: sender, logger: logger}
}

// Handle sends one email. Send errors are returned so the queue retries.
func (w *Worker) Handle(ctx context.Context, job *queue.Job) (any, error) {
	var data EmailJob
	if err := job.Decode(&data); err != nil {
		return nil, fmt.Errorf("decode email job: %w", err)
	}
	log := w.logger.With(
		zap.String("jobId", job.ID),
		zap.String("orderId", data.Template.OrderID),
		zap.String("customerEmail", data.CustomerEmail),
	)
	if data.CustomerEmail == "" || data.Template.Subject == "" || data.Template.Body == "" {
		log.Error("Email job failed", zap.Error(errIncompleteEmail))
		return nil, errIncompleteEmail
	}

	res, err := w.sender.Send(ctx, data.CustomerEmail, data.Template.Subject, data.Template.Body)
	if err != nil {
		log.Error("Email job failed", zap.Error(err))
		return nil, err
	}
	if !res.Success {
		log.Warn("Email failed to send", zap.String("error", res.Error))
		return res, nil
	}
	log.Info("Email sent successfully", zap.String("messageId", res.MessageID))
	return res, nil
}
