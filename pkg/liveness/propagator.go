// Package liveness fans failure-detector verdicts out to the components
// that react to process death: the owner-side counter retires branches
// rooted at the dead process, and the borrower-side tracker fails
// references whose owner died.
package liveness

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/refmesh/refmesh/pkg/lib/validate"
	"github.com/refmesh/refmesh/pkg/models"
)

// BorrowerHandler is the borrower-side reaction to a dead owner. It returns
// the objects whose references became terminally lost.
type BorrowerHandler interface {
	MarkOwnerLost(ctx context.Context, owner models.ProcessID) []models.ObjectID
}

// OwnerHandler is the owner-side reaction to a dead borrower.
type OwnerHandler interface {
	OnProcessDead(ctx context.Context, processID models.ProcessID)
}

// LostCallback runs for each object whose owner died, after the tracker has
// marked it. Pending reads for those objects are unblocked through it.
type LostCallback func(ctx context.Context, id models.ObjectID)

type PropagatorParams struct {
	Counter OwnerHandler
	Tracker BorrowerHandler
	// OnOwnerLost may be nil.
	OnOwnerLost LostCallback
}

func (p *PropagatorParams) Validate() error {
	return errors.Join(
		validate.NotNil(p.Counter, "propagator counter cannot be nil"),
		validate.NotNil(p.Tracker, "propagator tracker cannot be nil"),
	)
}

// Propagator subscribes to the liveness feed and dispatches deaths. Alive
// transitions are ignored; a dead process never returns under the same ID,
// so there is nothing to undo.
type Propagator struct {
	params PropagatorParams
}

func NewPropagator(params PropagatorParams) (*Propagator, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("error validating liveness propagator: %w", err)
	}
	return &Propagator{params: params}, nil
}

func (p *Propagator) Handle(ctx context.Context, event models.LivenessEvent) error {
	if event.Liveness.IsAlive() {
		return nil
	}
	log.Ctx(ctx).Info().
		Str("process", event.ProcessID.ShortID()).
		Msg("propagating process death")

	p.params.Counter.OnProcessDead(ctx, event.ProcessID)
	lost := p.params.Tracker.MarkOwnerLost(ctx, event.ProcessID)
	if p.params.OnOwnerLost != nil {
		for _, id := range lost {
			p.params.OnOwnerLost(ctx, id)
		}
	}
	return nil
}
