package transport

import (
	"context"

	"github.com/refmesh/refmesh/pkg/models"
	"github.com/refmesh/refmesh/pkg/models/messages"
)

// RefEndpoint is the server side of the reference-count protocol: the set
// of messages a process must answer. Every process implements all of it,
// since any process can be owner, creator, and borrower at once.
type RefEndpoint interface {
	// RegisterOwner stores the payload and creates the authoritative entry
	// on the receiving process, making it the object's owner.
	RegisterOwner(ctx context.Context, request messages.RegisterOwnerRequest) (messages.RegisterOwnerResponse, error)

	// Increment records a new live reference held by the sender.
	Increment(ctx context.Context, request messages.IncrementRequest) (messages.RefCountResponse, error)

	// Decrement records that the sender dropped its last local handle.
	Decrement(ctx context.Context, request messages.DecrementRequest) (messages.RefCountResponse, error)

	// ReceiveReference delivers a forwarded reference to this process.
	ReceiveReference(ctx context.Context, request messages.ReceiveReference) error

	// CheckReachability asks whether this process's borrower branch for the
	// object still has live descendants.
	CheckReachability(ctx context.Context, request messages.ReachabilityRequest) (messages.ReachabilityReport, error)

	// GetObject serves a read-through payload fetch.
	GetObject(ctx context.Context, request messages.GetObjectRequest) (messages.GetObjectResponse, error)
}

// RefCaller is the client side: the same operations, addressed to a target
// process. Delivery is at-least-once; receivers must tolerate duplicates.
type RefCaller interface {
	RegisterOwner(ctx context.Context, to models.ProcessID, request messages.RegisterOwnerRequest) (messages.RegisterOwnerResponse, error)
	Increment(ctx context.Context, to models.ProcessID, request messages.IncrementRequest) (messages.RefCountResponse, error)
	Decrement(ctx context.Context, to models.ProcessID, request messages.DecrementRequest) (messages.RefCountResponse, error)
	ForwardReference(ctx context.Context, to models.ProcessID, request messages.ReceiveReference) error
	CheckReachability(ctx context.Context, to models.ProcessID, request messages.ReachabilityRequest) (messages.ReachabilityReport, error)
	GetObject(ctx context.Context, to models.ProcessID, request messages.GetObjectRequest) (messages.GetObjectResponse, error)
}

// Transport wires a process into the message fabric.
type Transport interface {
	// Listen registers the endpoint under the process's address and starts
	// serving requests.
	Listen(ctx context.Context, self models.ProcessInfo, endpoint RefEndpoint) error

	// Caller returns the client side used to reach other processes.
	Caller() RefCaller

	// Close detaches the process from the fabric.
	Close(ctx context.Context) error
}

// NewErrUnreachable is the caller-side failure for a process that cannot be
// reached. It is retryable at the transport level; the liveness layer
// upgrades it to OwnerLost once the failure detector confirms the death.
func NewErrUnreachable(to models.ProcessID) *models.BaseError {
	return models.NewBaseError("process %s is unreachable", to).
		WithCode(models.NetworkFailure).
		WithProcessID(to).
		WithRetryable()
}
