package commands

import (
	"context"

	"github.com/spf13/cobra"
)

func connectCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Run the full handshake and print the resulting session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withSession(cmd, func(_ context.Context, client BrokerClient) (any, error) {
				return client.Session(), nil
			})
		},
	}
}

func statusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the broker's brokerage-session status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withSession(cmd, func(ctx context.Context, client BrokerClient) (any, error) {
				return client.Status(ctx)
			})
		},
	}
}

func summaryCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Print balances for the connected account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withSession(cmd, func(ctx context.Context, client BrokerClient) (any, error) {
				return client.AccountSummary(ctx)
			})
		},
	}
}
