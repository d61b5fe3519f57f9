package cmd

import (
	"context"
	"fmt"

	"commission-reconciliation-service/internal/reconciler"

	"github.com/spf13/cobra"
)

func newReconcileCmd(c *cli) *cobra.Command {
	var (
		inputs       inputFlags
		autoResolve  bool
		resolveLimit int
		postJournal  bool
		showProgress bool
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run the month-end cycle: ingest, match, resolve, post, check close",
		Long: `Reconcile runs the whole cycle in one go:

  1. ingest the three input files
  2. create a match run
  3. optionally auto-resolve the most confident suggestions
  4. optionally post the run's journal
  5. evaluate the close checklist

Each step commits on its own; a failing step stops the cycle and leaves the
earlier steps in place.

Examples:
  # Basic cycle
  reconciler reconcile --statements statement_lines.csv --bank bank_feed.csv --expected expected.csv

  # Resolve up to 25 suggestions and post the journal
  reconciler reconcile -s s.csv -b b.csv -e e.csv --auto-resolve --resolve-limit 25 --post-journal

  # With progress indicators
  reconciler reconcile -s s.csv -b b.csv -e e.csv --progress`,
		Args: cobra.NoArgs,
		RunE: c.withApp(func(ctx context.Context, a *app, args []string) error {
			ingest, err := inputs.request(c)
			if err != nil {
				return err
			}

			orchestrator, err := reconciler.NewOrchestrator(a.service)
			if err != nil {
				return err
			}
			if showProgress {
				stderr := a.stderr
				orchestrator.AddProgressCallback(func(p *reconciler.Progress) {
					fmt.Fprintf(stderr, "[%d/%d] %s (%.1f%% complete)\n",
						p.CompletedSteps, p.TotalSteps, p.CurrentStep, p.PercentComplete)
				})
			}

			result, err := orchestrator.Reconcile(ctx, reconciler.CycleRequest{
				Ingest:      ingest,
				AutoResolve: autoResolve,
				ResolveMax:  resolveLimit,
				PostJournal: postJournal,
				Actor:       a.actor(),
			})
			if err != nil {
				return err
			}
			if a.jsonOutput() {
				return a.render(result)
			}
			return printCycle(a, result)
		}),
	}

	inputs.register(cmd)
	cmd.Flags().BoolVar(&autoResolve, "auto-resolve", false, "auto-resolve the most confident suggestions")
	cmd.Flags().IntVar(&resolveLimit, "resolve-limit", 0, "maximum suggestions to resolve (default reconciler.background_resolve_limit)")
	cmd.Flags().BoolVar(&postJournal, "post-journal", false, "post the run's journal to the general ledger")
	cmd.Flags().BoolVar(&showProgress, "progress", false, "show progress indicators")
	return cmd
}

func printCycle(a *app, result *reconciler.CycleResult) error {
	w := a.stdout
	run := result.Run.Run
	fmt.Fprintf(w, "Ingested %d new rows\n", result.Ingest.Inserted())
	fmt.Fprintf(w, "Run %s: %d lines, %d auto-matched, %d needs review, %d unmatched, %d carried forward\n",
		run.RunID, run.TotalLines, run.AutoMatched, run.NeedsReview, run.Unmatched, result.Run.CarriedForward)
	if result.AutoResolve != nil {
		fmt.Fprintf(w, "Auto-resolved %d of %d candidates\n",
			len(result.AutoResolve.Resolutions), result.AutoResolve.Candidates)
	}
	if result.Journal != nil {
		fmt.Fprintf(w, "Posted %d journal entries\n", result.Journal.Totals.Entries)
	}
	fmt.Fprintf(w, "Completed in %s\n\n", result.Duration)
	return a.render(result.Close)
}
