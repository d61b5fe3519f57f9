package cmd

import (
	"context"

	"commission-reconciliation-service/internal/reconciler"

	"github.com/spf13/cobra"
)

func adjustmentFlags(cmd *cobra.Command, req *reconciler.AdjustmentRequest) {
	f := cmd.Flags()
	f.StringVar(&req.ProducerID, "producer", "", "producer id")
	f.StringVar(&req.AdjType, "type", "", "clawback_offset, chargeback, draw_advance, draw_repayment, bonus, fee_deduction")
	f.StringVar(&req.Amount, "amount", "", "signed amount; deductions are negative")
	f.StringVar(&req.Description, "description", "", "description")
	f.StringVar(&req.Period, "period", "", "accounting period (YYYY-MM)")
	f.StringVar(&req.Status, "status", "", "pending or applied")
}

func newAdjustmentsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "adjustments",
		Aliases: []string{"adj"},
		Short:   "Manage producer adjustments",
	}

	var producer string
	list := &cobra.Command{
		Use:   "list",
		Short: "List adjustments",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(ctx context.Context, a *app, args []string) error {
			adjustments, err := a.service.Adjustments(ctx, producer)
			if err != nil {
				return err
			}
			return a.render(adjustments)
		}),
	}
	list.Flags().StringVar(&producer, "producer", "", "filter by producer id")

	var createReq reconciler.AdjustmentRequest
	create := &cobra.Command{
		Use:   "create",
		Short: "Record an adjustment",
		Long: `Create records a producer adjustment netted into the next payout.
Clawback offsets, chargebacks, draw advances and fee deductions must be zero
or negative.

Example:
  reconciler adjustments create --producer PROD-1 --type chargeback --amount -125.00 --period 2025-01`,
		Args: cobra.NoArgs,
		RunE: c.withApp(func(ctx context.Context, a *app, args []string) error {
			createReq.Actor = a.actor()
			adj, err := a.service.CreateAdjustment(ctx, createReq)
			if err != nil {
				return err
			}
			return a.render(adj)
		}),
	}
	adjustmentFlags(create, &createReq)
	create.Flags().StringVar(&createReq.AdjID, "id", "", "adjustment id (generated when empty)")

	var updateReq reconciler.AdjustmentRequest
	update := &cobra.Command{
		Use:   "update <adj-id>",
		Short: "Replace an adjustment",
		Args:  cobra.ExactArgs(1),
		RunE: c.withApp(func(ctx context.Context, a *app, args []string) error {
			updateReq.AdjID = args[0]
			updateReq.Actor = a.actor()
			adj, err := a.service.UpdateAdjustment(ctx, updateReq)
			if err != nil {
				return err
			}
			return a.render(adj)
		}),
	}
	adjustmentFlags(update, &updateReq)

	del := &cobra.Command{
		Use:   "delete <adj-id>",
		Short: "Delete an adjustment",
		Args:  cobra.ExactArgs(1),
		RunE: c.withApp(func(ctx context.Context, a *app, args []string) error {
			return a.service.DeleteAdjustment(ctx, reconciler.DeleteAdjustmentRequest{
				AdjID: args[0],
				Actor: a.actor(),
			})
		}),
	}

	cmd.AddCommand(list, create, update, del)
	return cmd
}
