package cli

import (
	"github.com/spf13/cobra"

	"stripekit/internal/stripemock"
)

func newMockCommand(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "mock",
		Short: "Serve a local Stripe mock with refund, balance and treasury fixtures",
		Long: `mock serves a small in-memory imitation of the Stripe API for local testing.
Point other commands at it with --api-base http://ADDR/.

Refunds created with amount 4242 stay in requires_action so they can be canceled.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationConfigOptional: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return stripemock.New(a.logger).WithFixtures().Run(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:12111", "listen address")
	return cmd
}
