// Package main is the entry point for the polis-triage binary. It runs a
// single triage query from the command line or serves the triage workflow
// over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/polisai/polis-triage/pkg/config"
	"github.com/polisai/polis-triage/pkg/domain"
	"github.com/polisai/polis-triage/pkg/engine"
	"github.com/polisai/polis-triage/pkg/engine/runtime"
	"github.com/polisai/polis-triage/pkg/logging"
	"github.com/polisai/polis-triage/pkg/server"
	"github.com/polisai/polis-triage/pkg/storage"
	"github.com/polisai/polis-triage/pkg/telemetry"
)

const shutdownTimeout = 10 * time.Second

// options are the flags shared by every subcommand.
type options struct {
	configPath string
	envFile    string
	logLevel   string
	variant    string

	// newLLM overrides the provider factory in tests.
	newLLM llmFactory
}

func main() {
	if err := newRootCmd(&options{}).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for polis-triage.
func newRootCmd(opts *options) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "polis-triage",
		Short: "Plan, execute, review and retry operational questions across worker agents",
		Long: `polis-triage routes an operational question to a set of worker agents.

A planner turns the question into a stepwise plan, the workers answer each
step, and a reviewer judges the combined answer, asking for one retry cycle
when it is incomplete.

Example:
  polis-triage run -c triage.yaml "Why did CHG0042 fail last night?"
  polis-triage serve -c triage.yaml`,
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to configuration file (YAML)")
	flags.StringVar(&opts.envFile, "env-file", ".env", "Environment file loaded before configuration")
	flags.StringVarP(&opts.logLevel, "log-level", "l", "", "Log level override (debug, info, warn, error)")
	flags.StringVar(&opts.variant, "variant", variantReview, "Workflow variant (review, fanout)")

	rootCmd.AddCommand(newRunCmd(opts), newServeCmd(opts), newDescribeCmd(opts))
	return rootCmd
}

// setup loads the environment file and configuration and builds the logger.
func (o *options) setup(stderr io.Writer) (*config.Config, *slog.Logger, error) {
	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("failed to load env file %s: %w", o.envFile, err)
		}
	}

	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}

	logger := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: stderr,
	})
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func (o *options) builder(cfg *config.Config, logger *slog.Logger) *builder {
	newLLM := o.newLLM
	if newLLM == nil {
		newLLM = providerFactory(cfg.Model)
	}
	return &builder{cfg: cfg, newLLM: newLLM, variant: o.variant, logger: logger}
}

func newRunCmd(opts *options) *cobra.Command {
	var progress bool
	cmd := &cobra.Command{
		Use:   "run [query]",
		Short: "Answer a single query and print the result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.setup(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			wf, err := opts.builder(cfg, logger).build()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			runOpts := []engine.RunOption{engine.WithMaxConcurrency(cfg.Engine.MaxConcurrency)}
			if progress {
				out := cmd.ErrOrStderr()
				runOpts = append(runOpts, engine.WithSink(runtime.SinkFunc(func(evt runtime.Event) {
					if evt.Message != "" {
						fmt.Fprintln(out, evt.Message)
					}
				})))
			}

			output, err := wf.Run(ctx, domain.RunInput{Query: strings.Join(args, " ")}, runOpts...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), output)
			return nil
		},
	}
	cmd.Flags().BoolVar(&progress, "progress", false, "Print progress events to stderr")
	return cmd
}

func newDescribeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "describe",
		Short: "Print the workflow topology",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.setup(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			wf, err := opts.builder(cfg, logger).build()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), wf.Describe())
			return nil
		},
	}
}

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the triage workflow over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.setup(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, opts.builder(cfg, logger), logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, b *builder, logger *slog.Logger) error {
	shutdownTracing, err := telemetry.SetupProvider(ctx, telemetry.Config{
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Environment: cfg.Telemetry.Environment,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("Failed to flush traces", "error", err)
		}
	}()

	wf, err := b.build()
	if err != nil {
		return err
	}

	store, err := storage.Open(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	srv, err := server.New(server.Config{
		Runner:         wf,
		Store:          store,
		Logger:         logger,
		RunTimeout:     cfg.Server.RunTimeout,
		MaxConcurrency: cfg.Engine.MaxConcurrency,
	})
	if err != nil {
		return err
	}

	if cfg.Agents.Watch {
		go func() {
			err := config.WatchDir(ctx, cfg.Agents.Dir, func() {
				next, err := b.build()
				if err != nil {
					logger.Error("Failed to rebuild workflow, keeping the previous definition", "error", err)
					return
				}
				srv.SetRunner(next)
			}, config.WithWatchLogger(logger))
			if err != nil {
				logger.Error("Agent watcher stopped", "error", err)
			}
		}()
	}

	listener, err := net.Listen("tcp", cfg.Server.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.ListenAddress, err)
	}

	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	logger.Info("Starting polis-triage",
		"listen", listener.Addr().String(),
		"workflow", wf.Name(),
		"storage", cfg.Storage.Driver,
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
		return err
	}
	return nil
}
