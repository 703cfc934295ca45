package natstrans

import (
	"context"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/rs/zerolog/log"

	"github.com/refmesh/refmesh/pkg/models"
)

const ReadyForConnectionsTimeout = 5 * time.Second

type ServerManagerParams struct {
	Options           *server.Options
	ConnectionTimeout time.Duration
}

// ServerManager is a helper struct to manage an embedded NATS server.
type ServerManager struct {
	Server *server.Server
}

// NewServerManager creates and starts a NATS server with the given options.
func NewServerManager(ctx context.Context, params ServerManagerParams) (*ServerManager, error) {
	opts := params.Options

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, models.NewBaseError("failed to create NATS server: %s", err).
			WithCode(models.ConfigurationError).
			WithComponent(transportServerComponent).
			WithHint("check the configured port is free and the options are valid")
	}
	ns.SetLoggerV2(NewZeroLogger(log.Logger, opts.ServerName), opts.Debug, opts.Trace, opts.TraceVerbose)
	go ns.Start()

	if params.ConnectionTimeout == 0 {
		params.ConnectionTimeout = ReadyForConnectionsTimeout
	}
	if !ns.ReadyForConnections(params.ConnectionTimeout) {
		return nil, models.NewBaseError("NATS server not ready for connections within %s", params.ConnectionTimeout).
			WithCode(models.ConfigurationError).
			WithComponent(transportServerComponent)
	}
	log.Ctx(ctx).Debug().Msgf("NATS server %s listening on %s", ns.ID(), ns.ClientURL())
	return &ServerManager{
		Server: ns,
	}, nil
}

// Stop stops the NATS server.
func (sm *ServerManager) Stop() {
	sm.Server.Shutdown()
}
