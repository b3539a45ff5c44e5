package cli

import (
	"context"
	"fmt"
	"math"
	"net"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/tapsync/internal/config"
	"github.com/roach88/tapsync/internal/engine"
	"github.com/roach88/tapsync/internal/output"
	"github.com/roach88/tapsync/internal/routing"
)

// DefaultTestBPM is the tempo sent when --bpm is not given.
const DefaultTestBPM = 120.0

// SendOptions holds flags for the send command.
type SendOptions struct {
	*RootOptions
	Config string
	BPM    float64
	Resync bool

	// Sender overrides the OSC transport (for testing).
	// If nil, defaults to output.NewUDPSender().
	Sender output.Sender
}

// SendResult describes what send put on the wire.
type SendResult struct {
	Target    routing.Target `json:"target"`
	Addr      string         `json:"addr"`
	Addresses []string       `json:"addresses"`
}

// NewSendCommand creates the send command.
func NewSendCommand(rootOpts *RootOptions) *cobra.Command {
	return newSendCommand(&SendOptions{RootOptions: rootOpts})
}

func newSendCommand(opts *SendOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <target>",
		Short: "Send a one-shot test tempo or resync to an output",
		Long: `Send a test tempo and/or resync trigger to one output without
starting the server. Targets: ma3, resolume, heavym.

The output must be enabled in the configuration. Nothing else is sent.

Example:
  tapsync send heavym --bpm 128
  tapsync send resolume --resync --config ./tapsync.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Config, "config", "c", "", "path to YAML configuration (defaults apply when omitted)")
	cmd.Flags().Float64Var(&opts.BPM, "bpm", DefaultTestBPM, "tempo to send")
	cmd.Flags().BoolVar(&opts.Resync, "resync", false, "send the resync trigger (with --bpm, send both)")

	return cmd
}

func runSend(opts *SendOptions, name string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	target, err := routing.ParseTarget(name)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeUnknownTarget, err.Error(), routing.Targets)
	}
	if math.IsNaN(opts.BPM) || math.IsInf(opts.BPM, 0) {
		return formatter.fail(ExitCommandError, ErrCodeInvalidArgs, "bpm must be a finite number", nil)
	}

	cfg, err := loadConfig(formatter, opts.Config)
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return outputValidationErrors(formatter, issues(err))
	}

	tbl := cfg.Table()
	ep := tbl.Endpoint(target)
	addr := net.JoinHostPort(ep.IP, strconv.Itoa(ep.Port))
	if !ep.Enabled {
		return formatter.fail(ExitFailure, ErrCodeTargetDisabled, fmt.Sprintf("output %s is disabled", target), nil)
	}

	state := engine.State{
		BPM:           engine.ClampBPM(cfg.InitialBPM),
		Beat:          1,
		Bar:           1,
		Running:       true,
		RoundWholeBPM: cfg.RoundWholeBPM,
	}
	var events []engine.Event
	if !opts.Resync || cmd.Flags().Changed("bpm") {
		events = append(events, engine.Event{
			Kind: engine.EventTestBPM, State: state, Routing: tbl,
			Target: target, Value: engine.ClampBPM(opts.BPM),
		})
	}
	if opts.Resync {
		events = append(events, engine.Event{
			Kind: engine.EventTestResync, State: state, Routing: tbl,
			Target: target,
		})
	}

	sender := opts.Sender
	if sender == nil {
		sender = output.NewUDPSender()
	}
	runner := output.NewRunner(sender, output.Adapters(),
		output.WithSendTimeout(cfg.SendTimeout()),
		output.WithRunnerLogger(newLogger(opts.Verbose, cmd.ErrOrStderr())),
	)
	adapter := adapterFor(target)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	result := SendResult{Target: target, Addr: addr, Addresses: []string{}}
	for _, ev := range events {
		msgs := adapter.Messages(ev)
		if err := runner.Deliver(ctx, adapter, ev); err != nil {
			return formatter.fail(ExitFailure, ErrCodeSendFailed, err.Error(), result)
		}
		for _, m := range msgs {
			formatter.VerboseLog("sent %s %v to %s", m.Address, m.Arguments, addr)
			result.Addresses = append(result.Addresses, m.Address)
		}
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ Sent %d message(s) to %s at %s\n", len(result.Addresses), target, addr)
	return nil
}

func adapterFor(target routing.Target) output.Adapter {
	for _, a := range output.Adapters() {
		if a.Target() == target {
			return a
		}
	}
	return nil
}
