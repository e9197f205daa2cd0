// Command gateway keeps a broker session alive and serves its state over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	"github.com/coachpo/asxtrader/internal/infra/adapters/ibkr"
	"github.com/coachpo/asxtrader/internal/infra/config"
	"github.com/coachpo/asxtrader/internal/infra/logging"
	httpserver "github.com/coachpo/asxtrader/internal/infra/server/http"
	"github.com/coachpo/asxtrader/internal/infra/telemetry"
)

const (
	defaultConfigPath            = "config/app.yaml"
	defaultEnvFile               = ".env"
	shutdownTimeout              = 30 * time.Second
	controlServerShutdownTimeout = 5 * time.Second
	lifecycleShutdownTimeout     = 10 * time.Second
	brokerShutdownTimeout        = 5 * time.Second
	telemetryShutdownTimeout     = 5 * time.Second
	controlReadHeaderTimeout     = 5 * time.Second
	reconnectInterval            = 15 * time.Second
)

func main() {
	cfgPathFlag, envFileFlag := parseFlags()
	ctx, cancel := newSignalContext()
	defer cancel()

	if err := config.LoadDotEnv(envFileFlag); err != nil {
		fmt.Fprintf(os.Stderr, "gateway: %v\n", err)
		os.Exit(1)
	}

	configPath := resolveConfigPath(cfgPathFlag)
	appCfg, err := config.LoadOrDefault(ctx, configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gateway: load config: %v\n", err)
		os.Exit(1)
	}

	logger, closeLog, err := logging.New(appCfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gateway: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = closeLog() }()

	logger.WithFields(logrus.Fields{
		"environment": appCfg.Environment,
		"mode":        appCfg.Broker.Mode,
		"config":      configPath,
	}).Info("configuration initialised")

	telemetryProvider, err := initTelemetry(ctx, logger, appCfg.Environment, appCfg.Telemetry)
	if err != nil {
		logger.WithError(err).Fatal("initialise telemetry")
	}

	client, err := ibkr.NewClient(ibkr.OptionsFromConfig(
		appCfg.Broker,
		appCfg.Broker.ResolveCredentials(),
		logger.WithField("component", "ibkr"),
	))
	if err != nil {
		logger.WithError(err).Fatal("initialise broker client")
	}

	var lifecycle conc.WaitGroup
	lifecycle.Go(func() {
		superviseSession(ctx, logger, client, appCfg.Broker.ConnectTimeout, reconnectInterval)
	})

	apiServer := buildAPIServer(appCfg.APIServer, client)
	startAPIServer(&lifecycle, logger, apiServer)
	logger.WithField("addr", apiServer.Addr).Info("control API listening")

	<-ctx.Done()
	logger.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownStart := time.Now()
	runShutdown(shutdownCtx, logger, teardownSteps(apiServer, cancel, &lifecycle, client, telemetryProvider))
	logger.WithField("elapsed", time.Since(shutdownStart)).Info("shutdown completed")
}

func parseFlags() (string, string) {
	cfgPath := flag.String("config", "", fmt.Sprintf("Path to application configuration file (default: %s)", defaultConfigPath))
	envFile := flag.String("env-file", defaultEnvFile, "Optional .env file holding IBKR_* credentials")
	flag.Parse()
	return *cfgPath, *envFile
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func initTelemetry(ctx context.Context, logger logrus.FieldLogger, env config.Environment, cfg config.TelemetryConfig) (*telemetry.Provider, error) {
	telemetryCfg := telemetry.FromConfig(env, cfg)
	provider, err := telemetry.NewProvider(ctx, telemetryCfg)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry provider: %w", err)
	}
	if provider.Enabled() {
		logger.WithFields(logrus.Fields{
			"endpoint": telemetryCfg.Endpoint,
			"service":  telemetryCfg.ServiceName,
		}).Info("telemetry initialized")
	} else {
		logger.Info("telemetry disabled")
	}
	return provider, nil
}

type sessionConnector interface {
	Connect(ctx context.Context, timeout time.Duration) error
	IsConnected() bool
}

// superviseSession connects immediately and reconnects whenever the session
// drops, until ctx is done.
func superviseSession(ctx context.Context, logger logrus.FieldLogger, broker sessionConnector, connectTimeout, interval time.Duration) {
	attempt := func() {
		if broker.IsConnected() {
			return
		}
		if err := broker.Connect(ctx, connectTimeout); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.WithError(err).Warn("broker connect failed; will retry")
			return
		}
		logger.Info("broker session established")
	}

	attempt()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			attempt()
		}
	}
}

func buildAPIServer(cfg config.APIServerConfig, broker httpserver.Broker) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpserver.NewHandler(broker),
		ReadHeaderTimeout: controlReadHeaderTimeout,
	}
}

func startAPIServer(lifecycle *conc.WaitGroup, logger logrus.FieldLogger, server *http.Server) {
	lifecycle.Go(func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("control server stopped")
		}
	})
}

type brokerCloser interface {
	Disconnect(ctx context.Context) error
}

// shutdownStep is one bounded stage of process teardown.
type shutdownStep struct {
	name    string
	timeout time.Duration
	run     func(context.Context) error
}

// teardownSteps orders teardown: stop serving, stop background work, log out
// of the broker, flush metrics. Nil parts are skipped.
func teardownSteps(server *http.Server, cancel context.CancelFunc, lifecycle *conc.WaitGroup, broker brokerCloser, provider *telemetry.Provider) []shutdownStep {
	var steps []shutdownStep
	if server != nil {
		steps = append(steps, shutdownStep{"stop control server", controlServerShutdownTimeout, server.Shutdown})
	}
	if lifecycle != nil {
		steps = append(steps, shutdownStep{"drain background goroutines", lifecycleShutdownTimeout, func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			return waitGroupDone(ctx, lifecycle)
		}})
	}
	if broker != nil {
		steps = append(steps, shutdownStep{"close broker session", brokerShutdownTimeout, broker.Disconnect})
	}
	if provider != nil {
		steps = append(steps, shutdownStep{"flush telemetry", telemetryShutdownTimeout, provider.Shutdown})
	}
	return steps
}

func runShutdown(ctx context.Context, logger logrus.FieldLogger, steps []shutdownStep) {
	for _, step := range steps {
		stepCtx, cancel := context.WithTimeout(ctx, step.timeout)
		start := time.Now()
		err := step.run(stepCtx)
		cancel()
		entry := logger.WithFields(logrus.Fields{"step": step.name, "elapsed": time.Since(start)})
		if err != nil {
			entry.WithError(err).Warn("shutdown step failed")
			continue
		}
		entry.Debug("shutdown step done")
	}
}

func waitGroupDone(ctx context.Context, wg *conc.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("background goroutines still running: %w", ctx.Err())
	}
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return filepath.Clean(defaultConfigPath)
}
