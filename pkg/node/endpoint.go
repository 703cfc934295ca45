package node

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/refmesh/refmesh/pkg/models"
	"github.com/refmesh/refmesh/pkg/models/messages"
)

// endpoint is the server side of the protocol. Every process serves all of
// it, since any process can be owner, creator, and borrower at once.
type endpoint struct {
	node *Node
}

func (e *endpoint) RegisterOwner(ctx context.Context, request messages.RegisterOwnerRequest) (messages.RegisterOwnerResponse, error) {
	n := e.node

	// registration is at-least-once; a payload already stored means the
	// whole sequence below already ran
	duplicate := n.directory.Has(ctx, request.ObjectID)

	entry, err := n.counter.RegisterOwner(ctx, request.ObjectID, request.Creator, request.Contained)
	if err != nil {
		return messages.RegisterOwnerResponse{}, err
	}
	if duplicate {
		return messages.RegisterOwnerResponse{ObjectID: entry.ID, Status: entry.Status}, nil
	}

	// the owner borrows every inner reference, pinning them for as long as
	// the outer object lives
	for _, inner := range request.Contained {
		if err := n.tracker.OnReceiveReference(ctx, inner, request.Creator); err != nil {
			log.Ctx(ctx).Warn().Err(err).
				Str("object", inner.ID.ShortID()).
				Msg("failed to pin contained reference")
		}
	}

	if err := n.directory.Put(ctx, request.ObjectID, request.Payload); err != nil {
		return messages.RegisterOwnerResponse{}, err
	}
	if err := n.counter.MarkAvailable(ctx, request.ObjectID); err != nil {
		return messages.RegisterOwnerResponse{}, err
	}

	return messages.RegisterOwnerResponse{
		ObjectID: request.ObjectID,
		Status:   models.ObjectStatuses.AVAILABLE,
	}, nil
}

func (e *endpoint) Increment(ctx context.Context, request messages.IncrementRequest) (messages.RefCountResponse, error) {
	return e.node.counter.Increment(ctx, request)
}

func (e *endpoint) Decrement(ctx context.Context, request messages.DecrementRequest) (messages.RefCountResponse, error) {
	return e.node.counter.Decrement(ctx, request)
}

func (e *endpoint) ReceiveReference(ctx context.Context, request messages.ReceiveReference) error {
	ref := models.ObjectRef{ID: request.ObjectID, Owner: request.Owner}
	return e.node.tracker.OnReceiveReference(ctx, ref, request.From)
}

func (e *endpoint) CheckReachability(ctx context.Context, request messages.ReachabilityRequest) (messages.ReachabilityReport, error) {
	return e.node.tracker.HandleReachability(ctx, request)
}

func (e *endpoint) GetObject(ctx context.Context, request messages.GetObjectRequest) (messages.GetObjectResponse, error) {
	n := e.node
	entry, ok := n.counter.Entry(request.ObjectID)
	if !ok {
		return messages.GetObjectResponse{}, models.NewErrObjectNotFound(request.ObjectID)
	}
	if entry.Status == models.ObjectStatuses.FREED {
		return messages.GetObjectResponse{}, models.NewErrReclaimed(request.ObjectID)
	}
	if entry.Status == models.ObjectStatuses.PENDING {
		// payload not stored yet; the reader polls
		return messages.GetObjectResponse{
			ObjectID: request.ObjectID,
			Status:   entry.Status,
		}, nil
	}

	payload, err := n.directory.Get(ctx, request.ObjectID)
	if err != nil {
		return messages.GetObjectResponse{}, err
	}
	return messages.GetObjectResponse{
		ObjectID:  request.ObjectID,
		Status:    entry.Status,
		Payload:   payload,
		Contained: entry.Contained,
	}, nil
}
