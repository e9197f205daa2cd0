// Package commands wires the brokerctl command tree.
package commands

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/coachpo/asxtrader/internal/infra/adapters/ibkr"
	"github.com/coachpo/asxtrader/internal/infra/config"
	"github.com/coachpo/asxtrader/internal/infra/logging"
)

// BrokerClient is what the commands need from a broker session.
type BrokerClient interface {
	Connect(ctx context.Context, timeout time.Duration) error
	Disconnect(ctx context.Context) error
	Session() ibkr.Session
	Status(ctx context.Context) (ibkr.AuthStatus, error)
	AccountSummary(ctx context.Context) (ibkr.AccountSummary, error)
	Request(ctx context.Context, method, path string, query url.Values, body any) (any, error)
}

// ClientFactory builds a client from the loaded configuration.
type ClientFactory func(cfg config.AppConfig, logger logrus.FieldLogger) (BrokerClient, error)

type rootOptions struct {
	configPath string
	envFile    string
	mode       string
	verbose    bool

	factory ClientFactory
	cfg     config.AppConfig
	logger  *logrus.Logger
	closeFn func() error
}

// Execute runs brokerctl against the real broker.
func Execute() error {
	return NewRootCmd(defaultFactory).Execute()
}

func defaultFactory(cfg config.AppConfig, logger logrus.FieldLogger) (BrokerClient, error) {
	return ibkr.NewClient(ibkr.OptionsFromConfig(cfg.Broker, cfg.Broker.ResolveCredentials(), logger))
}

// NewRootCmd builds the command tree around factory.
func NewRootCmd(factory ClientFactory) *cobra.Command {
	opts := &rootOptions{factory: factory}
	root := &cobra.Command{
		Use:           "brokerctl",
		Short:         "Inspect and exercise the broker session",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if opts.closeFn != nil {
				return opts.closeFn()
			}
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config/app.yaml", "application configuration file")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "optional .env file with IBKR_* credentials")
	root.PersistentFlags().StringVar(&opts.mode, "mode", "", "override trading mode (paper or live)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(connectCmd(opts), statusCmd(opts), summaryCmd(opts), requestCmd(opts))
	return root
}

func (o *rootOptions) load(cmd *cobra.Command) error {
	if err := config.LoadDotEnv(o.envFile); err != nil {
		return err
	}
	cfg, err := config.LoadOrDefault(cmd.Context(), o.configPath)
	if err != nil {
		return err
	}
	if o.mode != "" {
		cfg.Broker.Mode = config.TradingMode(strings.ToLower(strings.TrimSpace(o.mode)))
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if o.verbose {
		cfg.Logging.Level = "debug"
	}
	// Commands print results on stdout; logs stay on stderr.
	cfg.Logging.File = ""
	logger, closeFn, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	logger.SetOutput(cmd.ErrOrStderr())
	o.cfg, o.logger, o.closeFn = cfg, logger, closeFn
	return nil
}

// withSession connects, runs fn, and always disconnects.
func (o *rootOptions) withSession(cmd *cobra.Command, fn func(ctx context.Context, client BrokerClient) (any, error)) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	client, err := o.factory(o.cfg, o.logger.WithField("component", "ibkr"))
	if err != nil {
		return err
	}
	if err := client.Connect(ctx, o.cfg.Broker.ConnectTimeout); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() {
		if err := client.Disconnect(context.WithoutCancel(ctx)); err != nil {
			o.logger.WithError(err).Warn("disconnect failed")
		}
	}()

	result, err := fn(ctx, client)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), result)
}

func printJSON(w io.Writer, v any) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(encoded))
	return err
}
