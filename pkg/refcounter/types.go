package refcounter

import (
	"context"

	"github.com/refmesh/refmesh/pkg/models"
	"github.com/refmesh/refmesh/pkg/models/messages"
)

// ReferenceCounter is the owner-side authority over object lifetimes. One
// instance per process; it holds the entries for every object the process
// owns.
type ReferenceCounter interface {
	// RegisterOwner creates the authoritative entry for a new object, with
	// one live reference attributed to the creator. Idempotent against
	// duplicate delivery of the registration.
	RegisterOwner(ctx context.Context, id models.ObjectID, creator models.ProcessID, contained []models.ObjectRef) (*models.ObjectEntry, error)

	// MarkAvailable transitions the entry out of PENDING once the payload
	// is durably stored.
	MarkAvailable(ctx context.Context, id models.ObjectID) error

	// Increment applies a registration from a new reference holder.
	Increment(ctx context.Context, request messages.IncrementRequest) (messages.RefCountResponse, error)

	// Decrement applies a drop from a reference holder. When it zeroes the
	// count with no borrower branches left, the entry is freed.
	Decrement(ctx context.Context, request messages.DecrementRequest) (messages.RefCountResponse, error)

	// QueryStatus returns the entry's lifecycle status.
	QueryStatus(ctx context.Context, id models.ObjectID) (models.ObjectStatus, error)

	// OnProcessDead retires every borrower branch rooted at the dead
	// process, after the reachability grace period.
	OnProcessDead(ctx context.Context, processID models.ProcessID)

	// Entry returns a snapshot of an entry, for introspection.
	Entry(id models.ObjectID) (models.ObjectEntry, bool)

	Close()
}

// FreedCallback runs after an entry transitions to FREED. The node uses it
// to evict the payload and release the entry's contained references.
type FreedCallback func(ctx context.Context, entry models.ObjectEntry)
