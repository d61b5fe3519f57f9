package cmd

import (
	"context"

	"commission-reconciliation-service/internal/reconciler"
	"commission-reconciliation-service/internal/store"

	"github.com/spf13/cobra"
)

func newRulesCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage policy number mapping rules",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List policy rules",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(ctx context.Context, a *app, args []string) error {
			rules, err := a.service.PolicyRules(ctx)
			if err != nil {
				return err
			}
			return a.render(rules)
		}),
	}

	var req reconciler.PolicyRuleRequest
	set := &cobra.Command{
		Use:   "set <source-policy> <target-policy>",
		Short: "Map a carrier policy number onto the canonical one",
		Long: `Set creates or replaces the mapping for a source policy number. The next
match run scores bank transactions naming the target policy as if they named
the source.`,
		Args: cobra.ExactArgs(2),
		RunE: c.withApp(func(ctx context.Context, a *app, args []string) error {
			req.SourcePolicyNumber = args[0]
			req.TargetPolicyNumber = args[1]
			req.Actor = a.actor()
			rule, err := a.service.SetPolicyRule(ctx, req)
			if err != nil {
				return err
			}
			return a.render(rule)
		}),
	}
	set.Flags().StringVar(&req.Note, "note", "", "reason for the mapping")

	versions := &cobra.Command{
		Use:   "versions <source-policy>",
		Short: "Show the change history of a policy rule",
		Args:  cobra.ExactArgs(1),
		RunE: c.withApp(func(ctx context.Context, a *app, args []string) error {
			history, err := a.service.RuleVersions(ctx, store.RuleTypePolicy, args[0])
			if err != nil {
				return err
			}
			return a.render(history)
		}),
	}

	cmd.AddCommand(list, set, versions)
	return cmd
}

// splitFlags registers the split rule fields on cmd
func splitFlags(cmd *cobra.Command, req *reconciler.SplitRuleRequest) {
	f := cmd.Flags()
	f.StringVar(&req.RuleID, "rule-id", "", "rule id (generated when empty)")
	f.StringVar(&req.ProducerID, "producer", "", "producer id")
	f.StringVar(&req.Carrier, "carrier", "", "carrier the rule applies to (empty for any)")
	f.StringVar(&req.LOB, "lob", "", "line of business the rule applies to (empty for any)")
	f.StringVar(&req.SplitPct, "split", "", "producer split percentage")
	f.StringVar(&req.HousePct, "house", "", "house percentage (default 100 - split)")
	f.StringVar(&req.FeeType, "fee-type", "", "fee type: percentage, flat")
	f.StringVar(&req.FeeAmount, "fee", "", "fee amount or percentage")
	f.StringVar(&req.EffectiveFrom, "from", "", "effective from date (YYYY-MM-DD)")
	f.StringVar(&req.EffectiveTo, "to", "", "effective to date (YYYY-MM-DD)")
	f.StringVar(&req.Note, "note", "", "change note")
}

func newSplitsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "splits",
		Short: "Manage producer split rules",
	}

	var includeDeleted bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List split rules",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(ctx context.Context, a *app, args []string) error {
			rules, err := a.service.SplitRules(ctx, includeDeleted)
			if err != nil {
				return err
			}
			return a.render(rules)
		}),
	}
	list.Flags().BoolVar(&includeDeleted, "deleted", false, "include deleted rules")

	var createReq reconciler.SplitRuleRequest
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a split rule",
		Long: `Create adds a split rule. The most specific live rule wins for a line:
carrier and line of business beat carrier only, which beats a catch-all.

Examples:
  reconciler splits create --producer PROD-1 --split 60
  reconciler splits create --producer PROD-1 --carrier "Acme Mutual" --split 70 --fee-type flat --fee 25`,
		Args: cobra.NoArgs,
		RunE: c.withApp(func(ctx context.Context, a *app, args []string) error {
			createReq.Actor = a.actor()
			rule, err := a.service.CreateSplitRule(ctx, createReq)
			if err != nil {
				return err
			}
			return a.render(rule)
		}),
	}
	splitFlags(create, &createReq)

	var updateReq reconciler.SplitRuleRequest
	update := &cobra.Command{
		Use:   "update <rule-id>",
		Short: "Replace a split rule",
		Long: `Update replaces every field of a split rule. --version must equal the rule's
current version; a concurrent change fails with a conflict.`,
		Args: cobra.ExactArgs(1),
		RunE: c.withApp(func(ctx context.Context, a *app, args []string) error {
			updateReq.RuleID = args[0]
			updateReq.Actor = a.actor()
			rule, err := a.service.UpdateSplitRule(ctx, updateReq)
			if err != nil {
				return err
			}
			return a.render(rule)
		}),
	}
	splitFlags(update, &updateReq)
	update.Flags().IntVar(&updateReq.ExpectedVersion, "version", 0, "version the change is based on")
	update.MarkFlagRequired("version")

	var deleteReq reconciler.DeleteSplitRuleRequest
	del := &cobra.Command{
		Use:   "delete <rule-id>",
		Short: "Delete a split rule",
		Args:  cobra.ExactArgs(1),
		RunE: c.withApp(func(ctx context.Context, a *app, args []string) error {
			deleteReq.RuleID = args[0]
			deleteReq.Actor = a.actor()
			return a.service.DeleteSplitRule(ctx, deleteReq)
		}),
	}
	del.Flags().IntVar(&deleteReq.ExpectedVersion, "version", 0, "version the delete is based on")
	del.MarkFlagRequired("version")

	versions := &cobra.Command{
		Use:   "versions <rule-id>",
		Short: "Show the change history of a split rule",
		Args:  cobra.ExactArgs(1),
		RunE: c.withApp(func(ctx context.Context, a *app, args []string) error {
			history, err := a.service.RuleVersions(ctx, store.RuleTypeSplit, args[0])
			if err != nil {
				return err
			}
			return a.render(history)
		}),
	}

	var whatIfReq reconciler.WhatIfRequest
	whatIf := &cobra.Command{
		Use:   "what-if",
		Short: "Show how a proposed split rule would change payouts",
		Long: `What-if recomputes producer netting for a run with the proposed rule in
place. Passing --rule-id of a stored rule replaces it; otherwise the proposal
is added. Nothing is saved.

Example:
  reconciler splits what-if --rule-id SR-1A2B3C4D --producer PROD-1 --split 75`,
		Args: cobra.NoArgs,
		RunE: c.withApp(func(ctx context.Context, a *app, args []string) error {
			result, err := a.service.WhatIf(ctx, whatIfReq)
			if err != nil {
				return err
			}
			return a.render(result)
		}),
	}
	splitFlags(whatIf, &whatIfReq.SplitRuleRequest)
	whatIf.Flags().StringVar(&whatIfReq.RunID, "run", "", "run id (default latest)")

	cmd.AddCommand(list, create, update, del, versions, whatIf)
	return cmd
}
