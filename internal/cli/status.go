package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"mygame/netsim/internal/core"
	"mygame/netsim/internal/handler"
)

// StatusOptions holds flags for the status and despawn commands.
type StatusOptions struct {
	*RootOptions
	Addr    string
	Timeout time.Duration
}

func (o *StatusOptions) target() string {
	if o.Addr != "" {
		return o.Addr
	}
	return fmt.Sprintf("127.0.0.1:%d", o.Config.Server.GrpcPort)
}

func (o *StatusOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.Addr, "addr", "", "admin gRPC address (default 127.0.0.1:<server.grpc_port>)")
	cmd.Flags().DurationVar(&o.Timeout, "timeout", 5*time.Second, "call timeout")
}

func (o *StatusOptions) dial() (*grpc.ClientConn, error) {
	return grpc.NewClient(o.target(), grpc.WithTransportCredentials(insecure.NewCredentials()))
}

// NewStatusCommand creates the status command and its despawn sibling.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of a running session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := opts.dial()
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
			defer cancel()
			out, err := handler.NewAdminClient(conn).Status(ctx)
			if err != nil {
				return fmt.Errorf("status %s: %w", opts.target(), err)
			}
			return NewOutputFormatter(opts.Format, cmd.OutOrStdout()).Print(out.AsMap())
		},
	}
	opts.bind(cmd)

	despawn := &cobra.Command{
		Use:   "despawn <entity>",
		Short: "Remove an entity from a running session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid entity %q", args[0])
			}
			conn, err := opts.dial()
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
			defer cancel()
			if err := handler.NewAdminClient(conn).Despawn(ctx, core.EntityID(id)); err != nil {
				return fmt.Errorf("despawn %d: %w", id, err)
			}
			return NewOutputFormatter(opts.Format, cmd.OutOrStdout()).Print(map[string]any{"despawned": id})
		},
	}
	cmd.AddCommand(despawn)

	return cmd
}
