// Package inprocess is a transport that operates entirely in-memory, for
// testing multi-process scenarios inside one Go process. It can replay
// deliveries to exercise the protocol's at-least-once tolerance.
package inprocess

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/refmesh/refmesh/pkg/models"
	"github.com/refmesh/refmesh/pkg/models/messages"
	"github.com/refmesh/refmesh/pkg/transport"
)

// Network is the shared fabric all in-process transports attach to. One
// Network per simulated cluster.
type Network struct {
	endpoints map[models.ProcessID]transport.RefEndpoint
	mu        sync.RWMutex

	// DuplicateEvery > 0 redelivers every Nth increment/decrement once,
	// simulating at-least-once retransmission.
	DuplicateEvery int64
	deliveries     atomic.Int64
}

func NewNetwork() *Network {
	return &Network{
		endpoints: make(map[models.ProcessID]transport.RefEndpoint),
	}
}

// Detach removes a process from the fabric, as a kill would. Subsequent
// calls to it fail with NetworkFailure.
func (n *Network) Detach(processID models.ProcessID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.endpoints, processID)
}

func (n *Network) lookup(processID models.ProcessID) (transport.RefEndpoint, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	endpoint, ok := n.endpoints[processID]
	return endpoint, ok
}

// shouldDuplicate implements the redelivery policy for countable messages.
func (n *Network) shouldDuplicate() bool {
	if n.DuplicateEvery <= 0 {
		return false
	}
	return n.deliveries.Add(1)%n.DuplicateEvery == 0
}

// InProcessTransport attaches one simulated process to a Network.
type InProcessTransport struct {
	network *Network
	self    models.ProcessID
	caller  *inProcessCaller
}

func NewTransport(network *Network) *InProcessTransport {
	t := &InProcessTransport{network: network}
	t.caller = &inProcessCaller{network: network}
	return t
}

func (t *InProcessTransport) Listen(ctx context.Context, self models.ProcessInfo, endpoint transport.RefEndpoint) error {
	t.network.mu.Lock()
	defer t.network.mu.Unlock()
	t.self = self.ID
	t.network.endpoints[self.ID] = endpoint
	return nil
}

func (t *InProcessTransport) Caller() transport.RefCaller {
	return t.caller
}

func (t *InProcessTransport) Close(ctx context.Context) error {
	t.network.Detach(t.self)
	return nil
}

type inProcessCaller struct {
	network *Network
}

func (c *inProcessCaller) RegisterOwner(ctx context.Context, to models.ProcessID, request messages.RegisterOwnerRequest) (messages.RegisterOwnerResponse, error) {
	endpoint, ok := c.network.lookup(to)
	if !ok {
		return messages.RegisterOwnerResponse{}, transport.NewErrUnreachable(to)
	}
	return endpoint.RegisterOwner(ctx, request)
}

func (c *inProcessCaller) Increment(ctx context.Context, to models.ProcessID, request messages.IncrementRequest) (messages.RefCountResponse, error) {
	endpoint, ok := c.network.lookup(to)
	if !ok {
		return messages.RefCountResponse{}, transport.NewErrUnreachable(to)
	}
	resp, err := endpoint.Increment(ctx, request)
	if err == nil && c.network.shouldDuplicate() {
		// redelivery of the same sequence number must be a no-op
		_, _ = endpoint.Increment(ctx, request)
	}
	return resp, err
}

func (c *inProcessCaller) Decrement(ctx context.Context, to models.ProcessID, request messages.DecrementRequest) (messages.RefCountResponse, error) {
	endpoint, ok := c.network.lookup(to)
	if !ok {
		return messages.RefCountResponse{}, transport.NewErrUnreachable(to)
	}
	resp, err := endpoint.Decrement(ctx, request)
	if err == nil && c.network.shouldDuplicate() {
		_, _ = endpoint.Decrement(ctx, request)
	}
	return resp, err
}

func (c *inProcessCaller) ForwardReference(ctx context.Context, to models.ProcessID, request messages.ReceiveReference) error {
	endpoint, ok := c.network.lookup(to)
	if !ok {
		return transport.NewErrUnreachable(to)
	}
	return endpoint.ReceiveReference(ctx, request)
}

func (c *inProcessCaller) CheckReachability(ctx context.Context, to models.ProcessID, request messages.ReachabilityRequest) (messages.ReachabilityReport, error) {
	endpoint, ok := c.network.lookup(to)
	if !ok {
		return messages.ReachabilityReport{}, transport.NewErrUnreachable(to)
	}
	return endpoint.CheckReachability(ctx, request)
}

func (c *inProcessCaller) GetObject(ctx context.Context, to models.ProcessID, request messages.GetObjectRequest) (messages.GetObjectResponse, error) {
	endpoint, ok := c.network.lookup(to)
	if !ok {
		return messages.GetObjectResponse{}, transport.NewErrUnreachable(to)
	}
	return endpoint.GetObject(ctx, request)
}

// compile-time interface assertions
var _ transport.Transport = (*InProcessTransport)(nil)
var _ transport.RefCaller = (*inProcessCaller)(nil)
