// Package devstack spins up a multi-process mesh inside a single Go
// process, for tests and local experimentation. All processes share one
// in-process network and one failure-detector view, so a kill is observed
// everywhere at once.
package devstack

import (
	"context"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"

	"github.com/refmesh/refmesh/pkg/config"
	"github.com/refmesh/refmesh/pkg/models"
	"github.com/refmesh/refmesh/pkg/node"
	"github.com/refmesh/refmesh/pkg/pubsub"
	"github.com/refmesh/refmesh/pkg/routing/inmemory"
	"github.com/refmesh/refmesh/pkg/transport/inprocess"
)

type DevStackParams struct {
	// NumProcesses is the size of the simulated mesh.
	NumProcesses int
	// Config applies to every process.
	Config config.RefMeshConfig
	// Clock is shared by all processes; inject a mock to control time.
	Clock clock.Clock
	// DuplicateEvery > 0 redelivers every Nth count message once.
	DuplicateEvery int64
}

// DevStack is a simulated mesh of nodes.
type DevStack struct {
	Network *inprocess.Network
	Store   *inmemory.ProcessStore
	Feed    *pubsub.InMemoryPubSub[models.LivenessEvent]
	Nodes   []*node.Node
}

func NewDevStack(ctx context.Context, params DevStackParams) (*DevStack, error) {
	if params.NumProcesses <= 0 {
		params.NumProcesses = 3
	}
	if params.Clock == nil {
		params.Clock = clock.New()
	}

	network := inprocess.NewNetwork()
	network.DuplicateEvery = params.DuplicateEvery
	feed := pubsub.NewInMemoryPubSub[models.LivenessEvent]()
	store := inmemory.NewProcessStore(inmemory.ProcessStoreParams{
		LivenessPubSub: feed,
		Clock:          params.Clock,
	})

	stack := &DevStack{
		Network: network,
		Store:   store,
		Feed:    feed,
	}

	for i := 0; i < params.NumProcesses; i++ {
		info := models.ProcessInfo{
			ID:     models.NewProcessID(),
			Labels: map[string]string{"devstack": fmt.Sprintf("proc-%d", i)},
		}
		n, err := node.NewNode(node.Params{
			Info:         info,
			Transport:    inprocess.NewTransport(network),
			Store:        store,
			LivenessFeed: feed,
			Config:       params.Config,
			Clock:        params.Clock,
		})
		if err != nil {
			return nil, err
		}
		if err = n.Start(ctx); err != nil {
			return nil, err
		}
		stack.Nodes = append(stack.Nodes, n)
	}

	log.Ctx(ctx).Info().Int("processes", params.NumProcesses).Msg("devstack started")
	return stack, nil
}

// KillProcess simulates a process crash: the process disappears from the
// network, then the failure detector reports the death.
func (s *DevStack) KillProcess(ctx context.Context, processID models.ProcessID) error {
	s.Network.Detach(processID)
	return s.Store.MarkDead(ctx, processID)
}

func (s *DevStack) Stop(ctx context.Context) error {
	var errs *multierror.Error
	for _, n := range s.Nodes {
		errs = multierror.Append(errs, n.Stop(ctx))
	}
	errs = multierror.Append(errs, s.Feed.Close(ctx))
	return errs.ErrorOrNil()
}
