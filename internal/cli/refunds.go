package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"stripekit/resources"
)

func newRefundsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "refunds",
		Aliases: []string{"refund"},
		Short:   "Create, inspect and cancel refunds",
	}
	cmd.AddCommand(
		newRefundCreateCommand(a),
		newRefundGetCommand(a),
		newRefundListCommand(a),
		newRefundUpdateCommand(a),
		newRefundCancelCommand(a),
	)
	return cmd
}

// refundCommand 构建客户端后执行 fn，结束时关闭请求日志
func (a *app) refundCommand(cmd *cobra.Command, pf *policyFlags, fn func(resources.RefundService) error) error {
	policy, err := pf.policy(a)
	if err != nil {
		return err
	}
	c, tracker, err := a.newClient()
	if err != nil {
		return err
	}
	defer a.closeTracker(tracker)
	return fn(resources.RefundService{Client: c, Policy: policy})
}

func newRefundCreateCommand(a *app) *cobra.Command {
	var (
		params         resources.CreateRefundParams
		amount         int64
		reason         string
		idempotencyKey string
		pf             policyFlags
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Refund a charge or payment intent",
		Example: `  stripekit refunds create --charge ch_123
  stripekit refunds create --payment-intent pi_123 --amount 500 --reason requested_by_customer --retries 3`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("amount") {
				if amount <= 0 {
					return fmt.Errorf("--amount must be positive")
				}
				params.Amount = &amount
			}
			if reason != "" {
				r, err := resources.ParseRefundReason(reason)
				if err != nil {
					return err
				}
				params.Reason = r
			}

			return a.refundCommand(cmd, &pf, func(svc resources.RefundService) error {
				var (
					refund resources.Refund
					err    error
				)
				if idempotencyKey != "" {
					req, buildErr := resources.CreateRefund(&params)
					if buildErr != nil {
						return buildErr
					}
					refund, err = resources.Send[resources.Refund](cmd.Context(), svc.Client,
						req.WithIdempotencyKey(idempotencyKey), svc.Policy)
				} else {
					refund, err = svc.Create(cmd.Context(), &params)
				}
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), refund)
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&params.Charge, "charge", "", "charge to refund")
	flags.StringVar(&params.PaymentIntent, "payment-intent", "", "payment intent to refund")
	flags.Int64Var(&amount, "amount", 0, "amount in the smallest currency unit (default: the full amount)")
	flags.StringVar(&reason, "reason", "", "duplicate, fraudulent or requested_by_customer")
	flags.StringToStringVar(&params.Metadata, "metadata", nil, "metadata key=value pairs")
	flags.StringSliceVar(&params.Expand, "expand", nil, "fields to expand, e.g. charge")
	flags.StringVar(&idempotencyKey, "idempotency-key", "", "Idempotency-Key header (default: generated when retrying)")
	cmd.MarkFlagsOneRequired("charge", "payment-intent")
	pf.register(cmd)
	return cmd
}

func newRefundGetCommand(a *app) *cobra.Command {
	var (
		expand []string
		pf     policyFlags
	)
	cmd := &cobra.Command{
		Use:   "get REFUND_ID",
		Short: "Retrieve a refund",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.refundCommand(cmd, &pf, func(svc resources.RefundService) error {
				refund, err := svc.Retrieve(cmd.Context(), args[0], expand...)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), refund)
			})
		},
	}
	cmd.Flags().StringSliceVar(&expand, "expand", nil, "fields to expand, e.g. charge")
	pf.register(cmd)
	return cmd
}

func newRefundListCommand(a *app) *cobra.Command {
	var (
		params resources.ListRefundsParams
		limit  int64
		all    bool
		asJSON bool
		pf     policyFlags
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List refunds, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 1 || limit > 100 {
				return fmt.Errorf("--limit must be between 1 and 100")
			}
			params.Limit = &limit

			return a.refundCommand(cmd, &pf, func(svc resources.RefundService) error {
				var refunds []resources.Refund
				if all {
					req, err := resources.ListRefunds(&params)
					if err != nil {
						return err
					}
					for refund, err := range resources.All[resources.Refund](cmd.Context(), svc.Client, req, svc.Policy) {
						if err != nil {
							return err
						}
						refunds = append(refunds, refund)
					}
				} else {
					page, err := svc.List(cmd.Context(), &params)
					if err != nil {
						return err
					}
					refunds = page.Data
				}

				if asJSON {
					if refunds == nil {
						refunds = []resources.Refund{}
					}
					return writeJSON(cmd.OutOrStdout(), refunds)
				}
				return printRefunds(cmd.OutOrStdout(), refunds)
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&params.Charge, "charge", "", "only refunds of this charge")
	flags.StringVar(&params.PaymentIntent, "payment-intent", "", "only refunds of this payment intent")
	flags.Int64Var(&limit, "limit", 10, "page size, 1 to 100")
	flags.BoolVar(&all, "all", false, "follow pagination until the last page")
	flags.BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	pf.register(cmd)
	return cmd
}

func newRefundUpdateCommand(a *app) *cobra.Command {
	var (
		params resources.UpdateRefundParams
		pf     policyFlags
	)
	cmd := &cobra.Command{
		Use:   "update REFUND_ID",
		Short: "Update refund metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.refundCommand(cmd, &pf, func(svc resources.RefundService) error {
				refund, err := svc.Update(cmd.Context(), args[0], &params)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), refund)
			})
		},
	}
	cmd.Flags().StringToStringVar(&params.Metadata, "metadata", nil, "metadata key=value pairs")
	_ = cmd.MarkFlagRequired("metadata")
	pf.register(cmd)
	return cmd
}

func newRefundCancelCommand(a *app) *cobra.Command {
	var pf policyFlags
	cmd := &cobra.Command{
		Use:   "cancel REFUND_ID",
		Short: "Cancel a refund that requires action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.refundCommand(cmd, &pf, func(svc resources.RefundService) error {
				refund, err := svc.Cancel(cmd.Context(), args[0], nil)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), refund)
			})
		},
	}
	pf.register(cmd)
	return cmd
}

func printRefunds(w io.Writer, refunds []resources.Refund) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tAMOUNT\tSTATUS\tREASON\tCHARGE\tCREATED")
	for _, r := range refunds {
		fmt.Fprintf(tw, "%s\t%d %s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Amount, r.Currency, r.Status, orDash(string(r.Reason)), orDash(r.Charge.ID),
			time.Unix(r.Created, 0).UTC().Format(time.DateTime))
	}
	return tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
