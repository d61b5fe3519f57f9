package cmd

import (
	"context"
	"fmt"

	"commission-reconciliation-service/internal/models"
	"commission-reconciliation-service/internal/reconciler"

	"github.com/spf13/cobra"
)

func newExceptionsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "exceptions",
		Aliases: []string{"exc"},
		Short:   "Review and resolve exceptions",
	}
	cmd.AddCommand(
		newExceptionsListCmd(c),
		newExceptionsResolveCmd(c),
		newExceptionsReopenCmd(c),
		newExceptionsAutoResolveCmd(c),
	)
	return cmd
}

func newExceptionsListCmd(c *cli) *cobra.Command {
	var filter models.ExceptionFilter
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the exceptions of a run",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(ctx context.Context, a *app, args []string) error {
			filter.Status = models.ExceptionStatus(status)
			exceptions, err := a.service.ListExceptions(ctx, filter)
			if err != nil {
				return err
			}
			return a.render(exceptions)
		}),
	}
	cmd.Flags().StringVar(&filter.RunID, "run", "", "run id (default latest)")
	cmd.Flags().StringVar(&status, "status", "", "filter by status: open, deferred, resolved")
	cmd.Flags().StringVar(&filter.LineID, "line", "", "filter by statement line id")
	return cmd
}

func newExceptionsResolveCmd(c *cli) *cobra.Command {
	var req reconciler.ResolveRequest
	cmd := &cobra.Command{
		Use:   "resolve <line-id>",
		Short: "Apply a resolution action to an exception of the latest run",
		Long: `Resolve records a reviewer decision on one exception. Standard lines accept
manual_link, write_off and defer; reversals accept confirm_reversal and
defer; clawbacks accept dispute_clawback, offset_overpayment and defer.

manual_link uses the suggested bank transaction unless --bank-txn names
another, and learns a policy rule when the linked cash names a different
policy than the statement.

Examples:
  reconciler exceptions resolve L-0002 --action manual_link
  reconciler exceptions resolve L-0007 --action manual_link --bank-txn BTX-0042 --target-policy POL-0042
  reconciler exceptions resolve L-0003 --action defer --note "waiting on carrier"`,
		Args: cobra.ExactArgs(1),
		RunE: c.withApp(func(ctx context.Context, a *app, args []string) error {
			req.LineID = args[0]
			req.Actor = a.actor()
			resolution, err := a.service.Resolve(ctx, req)
			if err != nil {
				return err
			}
			return renderResolution(a, resolution)
		}),
	}
	cmd.Flags().StringVar(&req.Action, "action", "", "resolution action")
	cmd.Flags().StringVar(&req.BankTxnID, "bank-txn", "", "bank transaction to link")
	cmd.Flags().StringVar(&req.TargetPolicyNumber, "target-policy", "", "canonical policy number to learn")
	cmd.Flags().StringVar(&req.Note, "note", "", "resolution note")
	cmd.MarkFlagRequired("action")
	return cmd
}

func newExceptionsReopenCmd(c *cli) *cobra.Command {
	var req reconciler.ReopenRequest
	cmd := &cobra.Command{
		Use:   "reopen <line-id>",
		Short: "Move a deferred exception back to open",
		Args:  cobra.ExactArgs(1),
		RunE: c.withApp(func(ctx context.Context, a *app, args []string) error {
			req.LineID = args[0]
			req.Actor = a.actor()
			resolution, err := a.service.Reopen(ctx, req)
			if err != nil {
				return err
			}
			return renderResolution(a, resolution)
		}),
	}
	cmd.Flags().StringVar(&req.Note, "note", "", "reopen note")
	return cmd
}

func newExceptionsAutoResolveCmd(c *cli) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "auto-resolve",
		Short: "Manually link the most confident open suggestions",
		Long: `Auto-resolve links the open exceptions whose suggested transaction scores
highest, up to --limit, skipping lines whose suggestion is already claimed.`,
		Args: cobra.NoArgs,
		RunE: c.withApp(func(ctx context.Context, a *app, args []string) error {
			result, err := a.service.BackgroundResolve(ctx, reconciler.BackgroundResolveRequest{
				Limit: limit,
				Actor: a.actor(),
			})
			if err != nil {
				return err
			}
			if a.jsonOutput() {
				return a.render(result)
			}
			fmt.Fprintf(a.stdout, "Run %s: %d candidates, %d resolved, %d skipped (limit %d)\n",
				result.RunID, result.Candidates, len(result.Resolutions), len(result.Skipped), result.Limit)
			for _, r := range result.Resolutions {
				fmt.Fprintf(a.stdout, "  resolved %s -> %s\n", r.Exception.LineID, r.Exception.ResolvedBankTxnID)
			}
			for _, s := range result.Skipped {
				fmt.Fprintf(a.stdout, "  skipped  %s: %s\n", s.LineID, s.Reason)
			}
			return nil
		}),
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum exceptions to resolve (default reconciler.background_resolve_limit)")
	return cmd
}

func renderResolution(a *app, resolution *reconciler.Resolution) error {
	if a.jsonOutput() {
		return a.render(resolution)
	}
	if err := a.render(&resolution.Exception); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "\nPrevious status: %s\n", resolution.Before.Status)
	if resolution.LearnedRule != nil {
		fmt.Fprintf(a.stdout, "Learned policy rule: %s -> %s\n",
			resolution.LearnedRule.SourcePolicyNumber, resolution.LearnedRule.TargetPolicyNumber)
	}
	return nil
}
