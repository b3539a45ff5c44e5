package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/tapsync/internal/config"
	"github.com/roach88/tapsync/internal/engine"
	"github.com/roach88/tapsync/internal/hub"
	"github.com/roach88/tapsync/internal/output"
	"github.com/roach88/tapsync/internal/server"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Config string
	Listen string
	Tick   time.Duration

	// Sender overrides the OSC transport (for testing).
	// If nil, defaults to output.NewUDPSender().
	Sender output.Sender
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return newServeCommand(&ServeOptions{RootOptions: rootOpts})
}

func newServeCommand(opts *ServeOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the tempo engine and WebSocket server",
		Long: `Start the tapsync tempo engine, the WebSocket session hub and the
OSC output workers.

Browser clients connect to /ws. Every tempo change is broadcast to all
clients and pushed to the enabled outputs.

Example:
  tapsync serve
  tapsync serve --config ./tapsync.yaml --listen :9000 --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Config, "config", "c", "", "path to YAML configuration (defaults apply when omitted)")
	cmd.Flags().StringVar(&opts.Listen, "listen", config.DefaultListen, "HTTP listen address")
	cmd.Flags().DurationVar(&opts.Tick, "tick", 0, "engine tick interval (overrides tick_ms)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	logger := newLogger(opts.Verbose, cmd.ErrOrStderr())

	cfg, err := loadConfig(formatter, opts.Config)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("listen") {
		cfg.Listen = opts.Listen
	}
	if opts.Tick > 0 {
		cfg.TickMS = int(opts.Tick / time.Millisecond)
	}
	if err := config.Validate(cfg); err != nil {
		return outputValidationErrors(formatter, issues(err))
	}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
	}

	eng := engine.New(
		engine.WithInitialBPM(cfg.InitialBPM),
		engine.WithRoundWholeBPM(cfg.RoundWholeBPM),
		engine.WithTickInterval(cfg.TickInterval()),
		engine.WithRouting(cfg.Table()),
		engine.WithLogger(logger),
	)

	sender := opts.Sender
	if sender == nil {
		sender = output.NewUDPSender()
	}
	outputs := output.NewRunner(sender, output.Adapters(),
		output.WithSendTimeout(cfg.SendTimeout()),
		output.WithRunnerLogger(logger),
	)
	outputs.Subscribe(eng)

	h := hub.New(eng, hub.WithLogger(logger))
	srv := server.New(ctx, h, logger)

	var (
		wg       sync.WaitGroup
		failOnce sync.Once
		failure  error
	)
	start := func(name string, run func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := run(ctx)
			if err == nil || ctx.Err() != nil {
				return
			}
			logger.Error("component failed", "component", name, "error", err)
			failOnce.Do(func() { failure = fmt.Errorf("%s: %w", name, err) })
			cancel()
		}()
	}
	start("engine", eng.Run)
	start("outputs", outputs.Run)
	start("hub", h.Run)

	fmt.Fprintf(cmd.OutOrStdout(), "tapsync listening on %s\n", ln.Addr())
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	serveErr := srv.Serve(ctx, ln)
	cancel()
	wg.Wait()

	if serveErr != nil {
		return WrapExitError(ExitFailure, "server error", serveErr)
	}
	if failure != nil {
		return WrapExitError(ExitFailure, "component failed", failure)
	}

	logger.Info("tapsync stopped gracefully")
	return nil
}
