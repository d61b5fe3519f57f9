package cmd

import (
	"context"
	"fmt"

	"commission-reconciliation-service/internal/models"
	"commission-reconciliation-service/internal/reconciler"

	"github.com/spf13/cobra"
)

func newRunCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Match the stored inputs and record a new run",
		Long: `Run scores every stored statement line against the bank feed, records the
results and opens an exception for every line that is not auto-matched.
Exceptions resolved or deferred in the previous run carry over.`,
		Args: cobra.NoArgs,
		RunE: c.withApp(func(ctx context.Context, a *app, args []string) error {
			result, err := a.service.CreateRun(ctx, reconciler.RunRequest{Actor: a.actor()})
			if err != nil {
				return err
			}
			if a.jsonOutput() {
				return a.render(result)
			}
			if err := a.render(&result.Run); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "\nCarried forward: %d  Duration: %s\n", result.CarriedForward, result.Duration)
			if result.Diagnostics.HasFindings() {
				fmt.Fprintf(a.stdout, "Diagnostics: %d duplicate remittances, %d ambiguous lines\n",
					len(result.Diagnostics.DuplicateRemittances), len(result.Diagnostics.AmbiguousLines))
			}
			return nil
		}),
	}
}

func newRunsCmd(c *cli) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List match runs, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: c.withApp(func(ctx context.Context, a *app, args []string) error {
			if len(args) == 1 {
				run, err := a.service.Run(ctx, args[0])
				if err != nil {
					return err
				}
				return a.render(run)
			}
			runs, err := a.service.ListRuns(ctx, limit)
			if err != nil {
				return err
			}
			return a.render(runs)
		}),
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum runs to list (default reconciler.run_list_limit)")
	return cmd
}

func newResultsCmd(c *cli) *cobra.Command {
	var runID, status, carrier, reason string
	cmd := &cobra.Command{
		Use:   "results",
		Short: "List the match results of a run",
		Long: `Results lists one row per statement line with its status, confidence and
the bank transaction it was matched or suggested against.

Examples:
  reconciler results --status needs_review
  reconciler results --run run-20250203-090000-1a2b3c4d --reason near_amount`,
		Args: cobra.NoArgs,
		RunE: c.withApp(func(ctx context.Context, a *app, args []string) error {
			results, err := a.service.Results(ctx, runID, models.ResultFilter{
				Status:  models.MatchStatus(status),
				Carrier: carrier,
				Reason:  reason,
			})
			if err != nil {
				return err
			}
			return a.render(results)
		}),
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id (default latest)")
	cmd.Flags().StringVar(&status, "status", "", "filter by status: auto_matched, needs_review, unmatched")
	cmd.Flags().StringVar(&carrier, "carrier", "", "filter by carrier name")
	cmd.Flags().StringVar(&reason, "reason", "", "filter by score factor")
	return cmd
}

func newCompareCmd(c *cli) *cobra.Command {
	var base, target string
	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Explain how two runs differ line by line",
		Long: `Compare lists every line whose status or matched transaction changed between
two runs, with the factors and policy rules that explain the change. Without
--base and --target the two most recent runs are compared.`,
		Args: cobra.NoArgs,
		RunE: c.withApp(func(ctx context.Context, a *app, args []string) error {
			comparison, err := a.service.Compare(ctx, reconciler.CompareRequest{BaseRunID: base, TargetRunID: target})
			if err != nil {
				return err
			}
			return a.render(comparison)
		}),
	}
	cmd.Flags().StringVar(&base, "base", "", "base run id")
	cmd.Flags().StringVar(&target, "target", "", "target run id")
	return cmd
}
