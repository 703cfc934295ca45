package routing

import (
	"context"

	"github.com/refmesh/refmesh/pkg/models"
)

// ProcessStore tracks the processes known to this node, alongside the
// failure detector's view of each. It answers the two questions the
// lifetime protocol keeps asking: "is this process alive right now?" at
// ownership assignment, and "which subject do I send this message to?".
type ProcessStore interface {
	// Add adds or replaces a process state in the store.
	Add(ctx context.Context, state models.ProcessState) error

	// Get returns the process state for the given process ID.
	Get(ctx context.Context, processID models.ProcessID) (models.ProcessState, error)

	// IsAlive reports whether the process is currently believed alive.
	// Unknown processes are not alive.
	IsAlive(ctx context.Context, processID models.ProcessID) bool

	// List returns the processes matching all given filters.
	List(ctx context.Context, filters ...ProcessStateFilter) ([]models.ProcessState, error)

	// Delete removes a process from the store.
	Delete(ctx context.Context, processID models.ProcessID) error
}

// ProcessStateFilter filters process states when listing. It returns true
// if the state should be included in the result.
type ProcessStateFilter func(models.ProcessState) bool

// FailureDetector is the external liveness oracle. It is eventually
// accurate: reported deaths are definitive, but detection may lag.
type FailureDetector interface {
	// MarkAlive records a liveness confirmation for the process.
	MarkAlive(ctx context.Context, processID models.ProcessID) error

	// MarkDead records a definitive death. Subscribers are notified; a dead
	// process never returns under the same ID.
	MarkDead(ctx context.Context, processID models.ProcessID) error
}
