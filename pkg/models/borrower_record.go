package models

import "time"

// BorrowerRecord is the borrower-side local record for one borrowed object.
// Records form an arena indexed by ObjectID on each process rather than a
// linked structure: a borrower tree spanning processes can't safely hold
// cross-process pointers, so each node keeps only IDs.
type BorrowerRecord struct {
	ID    ObjectID  `json:"ID"`
	Owner ProcessID `json:"Owner"`
	// Parent is the process this reference arrived from: the owner itself,
	// or an intermediate borrower. Registration is relayed through the
	// parent to bound fan-in on the owner.
	Parent ProcessID `json:"Parent"`

	// LocalHandles counts live handles held by this process. The owner is
	// notified once, on the 0→1 and 1→0 edges, not per handle.
	LocalHandles uint64 `json:"LocalHandles"`

	// SubBorrowers are processes this borrower forwarded the reference to.
	// They matter after the local drop: the owner may still ask this process
	// whether its branch has live descendants.
	SubBorrowers map[ProcessID]struct{} `json:"SubBorrowers,omitempty"`

	// Contained are inner references discovered by inspecting the payload.
	// Dropping the outer reference drops these too.
	Contained []ObjectRef `json:"Contained,omitempty"`

	// OwnerLost marks the record terminally failed; any access returns the
	// owner-died error.
	OwnerLost bool `json:"OwnerLost,omitempty"`

	// DroppedAt is set when LocalHandles reaches zero. The record is kept
	// for a grace period afterwards so reachability confirmations can still
	// see SubBorrowers.
	DroppedAt time.Time `json:"DroppedAt,omitempty"`
}

// NewBorrowerRecord returns a record for a reference just received.
func NewBorrowerRecord(id ObjectID, owner, parent ProcessID) *BorrowerRecord {
	return &BorrowerRecord{
		ID:           id,
		Owner:        owner,
		Parent:       parent,
		LocalHandles: 0,
		SubBorrowers: make(map[ProcessID]struct{}),
	}
}

// Retired reports whether this process no longer holds the reference
// itself. A retired record may still front live sub-borrowers.
func (r *BorrowerRecord) Retired() bool {
	return r.LocalHandles == 0
}

// Status maps the record to the object lifecycle as this process sees it.
// OWNER_LOST only ever appears here: the owner's entry dies with the owner
// process, so the terminal split is FREED on the owner, OWNER_LOST on its
// borrowers.
func (r *BorrowerRecord) Status() ObjectStatus {
	if r.OwnerLost {
		return ObjectStatuses.OWNER_LOST
	}
	return ObjectStatuses.AVAILABLE
}
