package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/imrishuroy/go-payflow/internal/idempotency"
	"github.com/imrishuroy/go-payflow/internal/queue"
	"github.com/imrishuroy/go-payflow/internal/ratelimit"
	"github.com/spf13/cobra"
)

// QueueAdmin is the operator surface of the queue manager.
type QueueAdmin interface {
	GetJobStatus(ctx context.Context, queueName, jobID string) (*queue.Record, error)
	DeadLetters(ctx context.Context, dlqName string) ([]queue.DeadLetter, error)
	RetryDeadLetter(ctx context.Context, dlqName, jobID string) (string, error)
	Clear(ctx context.Context, queueName string) error
}

// Sweeper re-enqueues payments whose intake enqueue failed.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Deps are the stores the commands operate on.
type Deps struct {
	Queue      QueueAdmin
	Limiter    *ratelimit.Limiter
	Ledger     *idempotency.Ledger
	Reconciler Sweeper
	Policies   []ratelimit.Config
}

// Opener builds Deps once a command actually runs, so --help needs no backends.
type Opener func(ctx context.Context) (*Deps, error)

type runner struct {
	open Opener
	deps *Deps
}

func (r *runner) load(cmd *cobra.Command) (*Deps, error) {
	if r.deps != nil {
		return r.deps, nil
	}
	deps, err := r.open(cmd.Context())
	if err != nil {
		return nil, fmt.Errorf("open stores: %w", err)
	}
	r.deps = deps
	return deps, nil
}

// NewRootCmd assembles the orderflowctl command tree.
func NewRootCmd(open Opener) *cobra.Command {
	r := &runner{open: open}

	root := &cobra.Command{
		Use:           "orderflowctl",
		Short:         "Operate the payment pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newDLQCmd(r),
		newJobCmd(r),
		newQueueCmd(r),
		newReconcileCmd(r),
		newRateLimitCmd(r),
		newIdempotencyCmd(r),
	)
	return root
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
