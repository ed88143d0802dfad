package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"mygame/netsim/internal/mq"
)

// NewEventsCommand creates the events command.
func NewEventsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "Follow session lifecycle events",
		Long:  "Consume spawn, despawn and session end events from mq.queue_name and print them.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := rootOpts.Config
			if cfg.MQ.Url == "" {
				return errors.New("mq.url is not configured")
			}
			out := NewOutputFormatter(rootOpts.Format, cmd.OutOrStdout())
			return mq.Consume(cmd.Context(), cfg.MQ, func(e mq.Event) error {
				return out.Print(map[string]any{
					"type":      e.Type,
					"room":      e.Room,
					"entity":    e.Entity,
					"tick":      e.Tick,
					"timestamp": e.Timestamp,
				})
			})
		},
	}
}
