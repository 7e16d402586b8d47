package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

type limitStatus struct {
	Policy    string    `json:"policy"`
	Remaining int64     `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
	Limited   bool      `json:"limited"`
}

func newRateLimitCmd(r *runner) *cobra.Command {
	rl := &cobra.Command{
		Use:   "ratelimit",
		Short: "Inspect and reset rate limit counters",
	}

	status := &cobra.Command{
		Use:   "status <client>",
		Short: "Show the current window of a client under every policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := r.load(cmd)
			if err != nil {
				return err
			}
			out := make([]limitStatus, 0, len(deps.Policies))
			for _, p := range deps.Policies {
				info, err := deps.Limiter.Status(cmd.Context(), args[0], p)
				if err != nil {
					return err
				}
				out = append(out, limitStatus{
					Policy:    p.Name,
					Remaining: info.Remaining,
					ResetAt:   info.ResetAt,
					Limited:   info.IsLimited,
				})
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}

	reset := &cobra.Command{
		Use:   "reset [client]",
		Short: "Drop the counters of one client, or of everyone with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			all, _ := cmd.Flags().GetBool("all")
			if all == (len(args) == 1) {
				return fmt.Errorf("pass either a client or --all")
			}
			deps, err := r.load(cmd)
			if err != nil {
				return err
			}
			if all {
				if err := deps.Limiter.ClearAll(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Cleared all rate limit counters")
				return nil
			}
			if err := deps.Limiter.Reset(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reset %s\n", args[0])
			return nil
		},
	}
	reset.Flags().Bool("all", false, "Reset every client")

	rl.AddCommand(status, reset)
	return rl
}

func newIdempotencyCmd(r *runner) *cobra.Command {
	idem := &cobra.Command{
		Use:   "idempotency",
		Short: "Manage the idempotency ledger",
	}
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Forget every stored fingerprint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := r.load(cmd)
			if err != nil {
				return err
			}
			n, err := deps.Ledger.Clear(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d idempotency entries\n", n)
			return nil
		},
	}
	idem.AddCommand(clearCmd)
	return idem
}
