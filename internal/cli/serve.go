package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"mygame/netsim/internal/dao"
	"mygame/netsim/internal/handler"
	"mygame/netsim/internal/mq"
	"mygame/netsim/internal/session"
	"mygame/netsim/internal/wire"
	"mygame/netsim/pkg/config"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Fresh bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the authoritative session",
		Long: `Run the authoritative session server.

Peers connect over UDP (server.udp_port) or, where raw sockets are not
available, over a websocket at /ws on server.port. The admin gRPC service
listens on server.grpc_port.

With redis configured the room snapshot is saved every
game.persist_every_ticks ticks and a restarted server with the same
server.room_id resumes from it.

Example:
  netsim serve --config ./config.yaml
  NETSIM_SERVER_TICK_RATE=30 netsim serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Fresh, "fresh", false, "ignore a persisted snapshot")

	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions) error {
	cfg := opts.Config
	roomOpts := session.Options{
		ID:           cfg.Server.RoomID,
		TickInterval: cfg.Server.TickDuration(),
		Game:         cfg.Game,
		MaxPeers:     cfg.Server.MaxPeers,
	}

	if cfg.Redis.Addr != "" {
		store, err := dao.NewStore(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer store.Close()
		roomOpts.Store = store
		if cfg.Auth.Enabled {
			roomOpts.Tokens = store
		}
		if !opts.Fresh && cfg.Server.RoomID != "" {
			resume, err := loadResume(ctx, store, cfg.Server.RoomID)
			if err != nil {
				return err
			}
			roomOpts.Resume = resume
		}
	} else if cfg.Auth.Enabled {
		return errors.New("auth.enabled requires redis.addr")
	}

	if cfg.MQ.Url != "" {
		pub, err := mq.Dial(cfg.MQ)
		if err != nil {
			return err
		}
		defer pub.Close()
		roomOpts.Events = pub
	}

	room := session.NewRoom(roomOpts)
	return serveRoom(ctx, room, cfg.Server)
}

func loadResume(ctx context.Context, store *dao.Store, roomID string) (*wire.Snapshot, error) {
	t, data, ok, err := store.LoadSnapshot(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if !ok {
		return nil, nil
	}
	pkt, err := wire.Unmarshal(data)
	if err != nil || pkt.Snapshot == nil {
		log.Printf("room %s: ignoring unreadable snapshot at tick %d: %v", roomID, t, err)
		return nil, nil
	}
	return pkt.Snapshot, nil
}

func serveRoom(ctx context.Context, room *session.Room, cfg config.ServerConfig) error {
	pc, err := net.ListenPacket("udp", fmt.Sprintf(":%d", cfg.UDPPort))
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: session.NewRouter(room),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return room.Run(ctx) })
	g.Go(func() error { return room.ServeUDP(ctx, pc) })
	g.Go(func() error { return handler.StartGRPC(ctx, cfg.GrpcPort, room) })
	g.Go(func() error {
		log.Printf("Game Service running on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		return srv.Shutdown(context.Background())
	})
	return g.Wait()
}
