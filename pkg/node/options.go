package node

import "github.com/refmesh/refmesh/pkg/models"

type createOptions struct {
	owner models.ProcessID
}

// CreateOption customizes object creation.
type CreateOption func(*createOptions)

// WithOwner assigns ownership of the new object to another process, so the
// object can outlive its creator. The assignee must be alive at creation
// time.
func WithOwner(owner models.ProcessID) CreateOption {
	return func(o *createOptions) {
		o.owner = owner
	}
}
