// Package ownership decides which process owns a newly created object.
// The owner is authoritative for the object's lifetime, so it must be a
// process believed alive at creation time.
package ownership

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/refmesh/refmesh/pkg/lib/validate"
	"github.com/refmesh/refmesh/pkg/models"
	"github.com/refmesh/refmesh/pkg/routing"
)

type AssignerParams struct {
	// ProcessID is the local process, the default owner.
	ProcessID models.ProcessID
	// Store answers liveness for explicit owner candidates.
	Store routing.ProcessStore
}

func (p *AssignerParams) Validate() error {
	return errors.Join(
		validate.NotBlank(p.ProcessID.String(), "assigner process ID cannot be blank"),
		validate.NotNil(p.Store, "assigner process store cannot be nil"),
	)
}

// Assigner resolves the owner of a new object. By default the creator owns
// what it creates; callers may assign a longer-lived process instead, so
// the object outlives a short-lived creator.
type Assigner struct {
	params AssignerParams
}

func NewAssigner(params AssignerParams) (*Assigner, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("error validating ownership assigner: %w", err)
	}
	return &Assigner{params: params}, nil
}

// Assign returns the owner for a new object. An empty explicit owner means
// the local process. An explicit owner must be believed alive right now;
// otherwise creation fails with OwnerUnavailable and nothing is registered.
func (a *Assigner) Assign(ctx context.Context, explicitOwner models.ProcessID) (models.ProcessID, error) {
	if explicitOwner == "" || explicitOwner == a.params.ProcessID {
		return a.params.ProcessID, nil
	}
	if !a.params.Store.IsAlive(ctx, explicitOwner) {
		log.Ctx(ctx).Debug().
			Str("owner", explicitOwner.ShortID()).
			Msg("rejected ownership assignment to unavailable process")
		return "", models.NewErrOwnerUnavailable(explicitOwner)
	}
	return explicitOwner, nil
}
