package natstrans

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	transportClientComponent = "Transport/NATSClient"
	transportServerComponent = "Transport/NATSServer"
)

// ClientManager is a helper struct to manage a NATS client connection.
type ClientManager struct {
	Client *nats.Conn
}

// NewClientManager creates a NATS client connection to the given servers.
func NewClientManager(ctx context.Context, servers string, options ...nats.Option) (*ClientManager, error) {
	nc, err := nats.Connect(servers, options...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to NATS servers %s", servers)
	}
	log.Ctx(ctx).Debug().Str("servers", servers).Msg("connected to NATS")
	return &ClientManager{
		Client: nc,
	}, nil
}

// Stop stops the NATS client.
func (cm *ClientManager) Stop() {
	cm.Client.Close()
}
