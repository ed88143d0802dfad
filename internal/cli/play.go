package cli

import (
	"context"
	"log"

	"github.com/spf13/cobra"

	"mygame/netsim/internal/core"
	"mygame/netsim/internal/netstart"
	"mygame/netsim/internal/tick"
)

// PlayOptions holds flags for the play command.
type PlayOptions struct {
	*RootOptions
	Period    uint32
	JumpEvery uint32
}

// NewPlayCommand creates the play command.
func NewPlayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PlayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "play",
		Short: "Run a predicting bot client",
		Long: `Connect to a session and predict a scripted player.

The transport is chosen for the platform (client.transport overrides it)
and client.addresses are tried in order. The bot walks left and right
every --period ticks and jumps every --jump-every ticks. When it stops it
prints how many corrections were applied and how far the last prediction
was off.

Example:
  netsim play --config ./config.yaml
  NETSIM_CLIENT_DURATION=30s netsim play --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlay(cmd, opts)
		},
	}

	cmd.Flags().Uint32Var(&opts.Period, "period", 64, "ticks between direction changes")
	cmd.Flags().Uint32Var(&opts.JumpEvery, "jump-every", 96, "ticks between jumps (0 disables)")

	return cmd
}

func runPlay(cmd *cobra.Command, opts *PlayOptions) error {
	cfg := opts.Config
	ctx := cmd.Context()
	if cfg.Client.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Client.Duration)
		defer cancel()
	}

	kind := netstart.Select(netstart.CurrentEnvironment(cfg.Client.Transport))
	log.Printf("client: using %s transport", kind)
	tr := netstart.NewTransport(kind, cfg.Server.Port, cfg.Server.UDPPort, cfg.Client.ConnectTimeout)

	addr, err := netstart.Connect(ctx, tr, cfg.Client.Addresses)
	if err != nil {
		return err
	}

	client := netstart.NewClient(tr, netstart.ClientOptions{
		Game:     cfg.Game,
		Username: cfg.Client.Username,
		Token:    cfg.Client.Token,
		Input:    core.ScriptedInput{Period: tick.Tick(opts.Period), JumpEvery: tick.Tick(opts.JumpEvery)},
	})
	if err := client.Run(ctx); err != nil {
		return err
	}

	st := client.Stats()
	return NewOutputFormatter(opts.Format, cmd.OutOrStdout()).Print(map[string]any{
		"server":            addr,
		"entity":            uint32(st.Entity),
		"tick":              uint32(st.Tick),
		"entities":          st.Entities,
		"corrections":       st.Owned.Corrections,
		"stale_corrections": st.Owned.StaleCorrections,
		"replayed_ticks":    st.Owned.ReplayedTicks,
		"last_divergence":   st.Owned.LastDivergence,
		"faults":            st.Faults,
	})
}
