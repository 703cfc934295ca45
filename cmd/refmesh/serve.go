package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/refmesh/refmesh/pkg/config"
	"github.com/refmesh/refmesh/pkg/models"
	"github.com/refmesh/refmesh/pkg/node"
	"github.com/refmesh/refmesh/pkg/pubsub"
	"github.com/refmesh/refmesh/pkg/routing/natsroute"
	"github.com/refmesh/refmesh/pkg/system"
	"github.com/refmesh/refmesh/pkg/transport/natstrans"
)

func newServeCmd() *cobra.Command {
	var configFile string

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run one process of the mesh",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	flags := serveCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "",
		"Path to the config file (YAML); defaults and environment apply on top")
	registerOverrideFlags(flags)
	return serveCmd
}

// registerOverrideFlags declares the flags config.Load binds over file and
// environment values; the names must stay in sync with config.FlagKeys.
func registerOverrideFlags(flags *pflag.FlagSet) {
	flags.String("id", "", "Process identity; autogenerated when empty")
	flags.StringSlice("orchestrators", nil, "NATS server URLs to connect to")
	flags.Int("port", config.DefaultPort, "Port for the embedded NATS server")
	flags.Bool("host-server", false, "Start an embedded NATS server in this process")
	flags.Duration("grace-period", config.DefaultReachabilityGracePeriod,
		"How long the owner waits for a silent borrower before retiring its branch")
}

func serve(ctx context.Context, cfg config.RefMeshConfig) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cm := system.NewCleanupManager()
	defer cm.Cleanup()

	if cfg.Transport.HostServer {
		sm, err := natstrans.NewServerManager(ctx, natstrans.ServerManagerParams{
			Options: &server.Options{
				Port:       cfg.Transport.Port,
				ServerName: cfg.Process.ID,
				JetStream:  false,
			},
		})
		if err != nil {
			return err
		}
		cm.RegisterCallback(func() error {
			sm.Stop()
			return nil
		})
	}

	clientManager, err := natstrans.NewClientManager(ctx, strings.Join(cfg.Transport.Orchestrators, ","))
	if err != nil {
		return err
	}
	cm.RegisterCallback(func() error {
		clientManager.Stop()
		return nil
	})

	trans, err := natstrans.NewNATSTransport(natstrans.NATSTransportParams{
		Conn:           clientManager.Client,
		Name:           cfg.Process.ID,
		RequestTimeout: cfg.Transport.RequestTimeout,
	})
	if err != nil {
		return err
	}

	info := models.ProcessInfo{
		ID:     models.ProcessID(cfg.Process.ID),
		Labels: cfg.Process.Labels,
	}

	// membership and liveness are gossiped over NATS so explicit-owner
	// assignment and owner-death propagation see the whole cluster
	feed := pubsub.NewInMemoryPubSub[models.LivenessEvent]()
	store, err := natsroute.NewStore(natsroute.StoreParams{
		Self:              info,
		Conn:              clientManager.Client,
		LivenessFeed:      feed,
		HeartbeatInterval: cfg.Cluster.HeartbeatInterval,
		LivenessTimeout:   cfg.Cluster.LivenessTimeout,
	})
	if err != nil {
		return err
	}
	cm.RegisterCallbackWithContext(ctx, store.Close)

	n, err := node.NewNode(node.Params{
		Info:         info,
		Transport:    trans,
		Store:        store,
		LivenessFeed: feed,
		Config:       cfg,
	})
	if err != nil {
		return err
	}
	if err = n.Start(ctx); err != nil {
		return err
	}
	cm.RegisterCallbackWithContext(ctx, n.Stop)

	log.Ctx(ctx).Info().
		Str("process", cfg.Process.ID).
		Strs("orchestrators", cfg.Transport.Orchestrators).
		Msg("process serving")

	<-ctx.Done()
	return nil
}
