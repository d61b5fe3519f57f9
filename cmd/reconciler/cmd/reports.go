package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"commission-reconciliation-service/internal/models"
	"commission-reconciliation-service/internal/reconciler"
	"commission-reconciliation-service/internal/reporter"
	"commission-reconciliation-service/pkg/errors"

	"github.com/spf13/cobra"
)

func newNettingCmd(c *cli) *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "netting",
		Short: "Show producer payouts for a run",
		Long: `Netting splits the commission of every line with cash between producer and
house under the applicable split rule, then nets each producer's pending
adjustments into the payout.`,
		Args: cobra.NoArgs,
		RunE: c.withApp(func(ctx context.Context, a *app, args []string) error {
			result, err := a.service.Netting(ctx, runID)
			if err != nil {
				return err
			}
			return a.render(result)
		}),
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id (default latest)")
	return cmd
}

func newAccrualsCmd(c *cli) *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "accruals",
		Short: "Show accrued commission and true-ups for a run",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(ctx context.Context, a *app, args []string) error {
			report, err := a.service.Accruals(ctx, runID)
			if err != nil {
				return err
			}
			return a.render(report)
		}),
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id (default latest)")
	return cmd
}

func newJournalCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Show or post the journal entries of a run",
	}

	var showRun string
	show := &cobra.Command{
		Use:   "show",
		Short: "Show the journal entries of a run",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(ctx context.Context, a *app, args []string) error {
			journal, err := a.service.Journal(ctx, showRun)
			if err != nil {
				return err
			}
			return a.render(journal)
		}),
	}
	show.Flags().StringVar(&showRun, "run", "", "run id (default latest)")

	var postRun string
	post := &cobra.Command{
		Use:   "post",
		Short: "Record the journal of a run as posted to the general ledger",
		Long: `Post records the journal of a run in the audit log as a GL posting. A run
can be posted once; posting it again fails with a conflict.`,
		Args: cobra.NoArgs,
		RunE: c.withApp(func(ctx context.Context, a *app, args []string) error {
			journal, err := a.service.PostJournal(ctx, reconciler.JournalRequest{RunID: postRun, Actor: a.actor()})
			if err != nil {
				return err
			}
			if a.jsonOutput() {
				return a.render(journal.Totals)
			}
			t := journal.Totals
			fmt.Fprintf(a.stdout, "Posted journal for run %s: %d entries (posted %s, accrued %s, pending review %s)\n",
				journal.RunID, t.Entries, t.Posted.StringFixed(2), t.Accrued.StringFixed(2), t.PendingReview.StringFixed(2))
			return nil
		}),
	}
	post.Flags().StringVar(&postRun, "run", "", "run id (default latest)")

	cmd.AddCommand(show, post)
	return cmd
}

func newAuditCmd(c *cli) *cobra.Command {
	var filter models.AuditFilter
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List audit events, newest first",
		Long: `Audit lists the append-only event log.

Examples:
  reconciler audit --limit 20
  reconciler audit --entity-type exception --entity-id L-0002
  reconciler audit --event-type split_rule`,
		Args: cobra.NoArgs,
		RunE: c.withApp(func(ctx context.Context, a *app, args []string) error {
			events, err := a.service.AuditEvents(ctx, filter)
			if err != nil {
				return err
			}
			return a.render(events)
		}),
	}
	cmd.Flags().StringVar(&filter.EntityType, "entity-type", "", "filter by entity type")
	cmd.Flags().StringVar(&filter.EntityID, "entity-id", "", "filter by entity id")
	cmd.Flags().StringVar(&filter.EventType, "event-type", "", "filter by event type")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "maximum events")
	return cmd
}

func newExportCmd(c *cli) *cobra.Command {
	var runID, file string
	cmd := &cobra.Command{
		Use:   "export <name>",
		Short: "Write an export of a run",
		Long: fmt.Sprintf(`Export writes one of the close exports: %s.
Without --file the export goes to standard output. Every export is recorded
in the audit log.

Examples:
  reconciler export accrual.csv --file accrual.csv
  reconciler export reconciliation.xlsx --file close.xlsx`, strings.Join(reporter.ExportNames, ", ")),
		Args:      cobra.ExactArgs(1),
		ValidArgs: reporter.ExportNames,
		RunE: c.withApp(func(ctx context.Context, a *app, args []string) error {
			var buf bytes.Buffer
			rows, err := a.service.Export(ctx, reconciler.ExportRequest{
				Name:  args[0],
				RunID: runID,
				Actor: a.actor(),
			}, &buf)
			if err != nil {
				return err
			}
			if file == "" {
				_, err := io.Copy(a.stdout, &buf)
				return err
			}
			if err := os.WriteFile(file, buf.Bytes(), 0o644); err != nil {
				return errors.FileError(errors.CodeFilePermission, file, err)
			}
			a.logger.WithField("file", file).Debug("Export saved")
			fmt.Fprintf(a.stdout, "Wrote %s: %d rows to %s\n", args[0], rows, file)
			return nil
		}),
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id (default latest)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "output file (default stdout)")
	return cmd
}

func newAgingCmd(c *cli) *cobra.Command {
	var runID, asOf string
	cmd := &cobra.Command{
		Use:   "aging",
		Short: "Age the lines still waiting on cash",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(ctx context.Context, a *app, args []string) error {
			var date time.Time
			if asOf != "" {
				parsed, err := models.ParseDate(asOf)
				if err != nil {
					return errors.ValidationError(errors.CodeInvalidDate, "as-of", asOf, err)
				}
				date = parsed
			}
			report, err := a.service.Aging(ctx, runID, date)
			if err != nil {
				return err
			}
			return a.render(report)
		}),
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id (default latest)")
	cmd.Flags().StringVar(&asOf, "as-of", "", "aging date (YYYY-MM-DD, default today)")
	return cmd
}

func newScorecardCmd(c *cli) *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "scorecard",
		Short: "Score each carrier's statements against the cash received",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(ctx context.Context, a *app, args []string) error {
			scores, err := a.service.Scorecard(ctx, runID)
			if err != nil {
				return err
			}
			return a.render(scores)
		}),
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id (default latest)")
	return cmd
}

func newRevenueCmd(c *cli) *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "revenue",
		Short: "Compare statement commission with AMS expectations by carrier and LOB",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(ctx context.Context, a *app, args []string) error {
			summary, err := a.service.RevenueSummary(ctx, runID)
			if err != nil {
				return err
			}
			return a.render(summary)
		}),
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id (default latest)")
	return cmd
}

func newBankCmd(c *cli) *cobra.Command {
	var counterparty string
	cmd := &cobra.Command{
		Use:   "bank",
		Short: "List bank transactions with the lines the latest run matched them to",
		Long: `Bank lists the cash feed in posted-date order. Each transaction shows the
line it settles, or the line whose review suggested it; anything else is unmatched.

Example:
  reconciler bank --counterparty acme`,
		Args: cobra.NoArgs,
		RunE: c.withApp(func(ctx context.Context, a *app, args []string) error {
			report, err := a.service.BankTransactions(ctx, counterparty)
			if err != nil {
				return err
			}
			return a.render(report)
		}),
	}
	cmd.Flags().StringVar(&counterparty, "counterparty", "", "keep transactions whose counterparty contains this text")
	return cmd
}

func newCloseStatusCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "close-status",
		Short: "Evaluate the month-end close checklist",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(ctx context.Context, a *app, args []string) error {
			status, err := a.service.CloseStatus(ctx)
			if err != nil {
				return err
			}
			return a.render(status)
		}),
	}
}

func newLineCmd(c *cli) *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "line <line-id>",
		Short: "Show everything known about one statement line",
		Args:  cobra.ExactArgs(1),
		RunE: c.withApp(func(ctx context.Context, a *app, args []string) error {
			detail, err := a.service.LineDetail(ctx, runID, args[0])
			if err != nil {
				return err
			}
			return a.render(detail)
		}),
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id (default latest)")
	return cmd
}
