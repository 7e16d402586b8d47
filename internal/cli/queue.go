package cli

import (
	"errors"
	"fmt"

	"github.com/imrishuroy/go-payflow/internal/queue"
	"github.com/spf13/cobra"
)

func newDLQCmd(r *runner) *cobra.Command {
	dlq := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and replay dead-lettered jobs",
	}
	dlq.PersistentFlags().String("queue", queue.PaymentProcessingDLQ, "Dead-letter queue name")

	list := &cobra.Command{
		Use:   "list",
		Short: "List dead letters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := r.load(cmd)
			if err != nil {
				return err
			}
			name, _ := cmd.Flags().GetString("queue")
			entries, err := deps.Queue.DeadLetters(cmd.Context(), name)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No dead letters.")
				return nil
			}
			return printJSON(cmd.OutOrStdout(), entries)
		},
	}

	retry := &cobra.Command{
		Use:   "retry <job-id>...",
		Short: "Re-enqueue dead letters on their source queue with fresh attempts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := r.load(cmd)
			if err != nil {
				return err
			}
			name, _ := cmd.Flags().GetString("queue")
			var errs []error
			for _, id := range args {
				newID, err := deps.Queue.RetryDeadLetter(cmd.Context(), name, id)
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", id, err))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s re-enqueued as %s\n", id, newID)
			}
			return errors.Join(errs...)
		},
	}

	dlq.AddCommand(list, retry)
	return dlq
}

func newJobCmd(r *runner) *cobra.Command {
	job := &cobra.Command{
		Use:   "job",
		Short: "Inspect jobs",
	}
	status := &cobra.Command{
		Use:   "status <queue> <job-id>",
		Short: "Show the stored state of a job",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := r.load(cmd)
			if err != nil {
				return err
			}
			rec, err := deps.Queue.GetJobStatus(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rec)
		},
	}
	job.AddCommand(status)
	return job
}

func newQueueCmd(r *runner) *cobra.Command {
	q := &cobra.Command{
		Use:   "queue",
		Short: "Manage queues",
	}
	clearCmd := &cobra.Command{
		Use:   "clear <queue>",
		Short: "Purge pending messages and job records of a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if force, _ := cmd.Flags().GetBool("force"); !force {
				return fmt.Errorf("refusing to clear %s without --force", args[0])
			}
			deps, err := r.load(cmd)
			if err != nil {
				return err
			}
			if err := deps.Queue.Clear(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s\n", args[0])
			return nil
		},
	}
	clearCmd.Flags().Bool("force", false, "Confirm the purge")
	q.AddCommand(clearCmd)
	return q
}

func newReconcileCmd(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Re-enqueue payments for orders whose intake enqueue failed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := r.load(cmd)
			if err != nil {
				return err
			}
			n, err := deps.Reconciler.Sweep(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "Re-enqueued %d payments\n", n)
			return err
		},
	}
}
