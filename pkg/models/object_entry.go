package models

import "time"

// ObjectEntry is the owner-side authoritative record for one object. An
// entry lives on exactly one process (the owner) and is mutated only there,
// in response to reference-count messages serialized per object.
//
// Invariant: once LiveRefCount reaches zero and no borrower branch remains
// reachable, Status transitions to FREED and the entry is inert. The ID is
// never given a new meaning afterwards.
type ObjectEntry struct {
	ID    ObjectID  `json:"ID"`
	Owner ProcessID `json:"Owner"`
	// Creator produced the payload. It may differ from Owner when ownership
	// was explicitly assigned at creation; it has no say in lifetime.
	Creator      ProcessID    `json:"Creator"`
	LiveRefCount uint64       `json:"LiveRefCount"`
	Status       ObjectStatus `json:"Status"`

	// Contained are object references embedded in this object's payload.
	// The owner holds a reference on each of them for as long as this entry
	// is live, which is what keeps nested objects alive independently of
	// their creators.
	Contained []ObjectRef `json:"Contained,omitempty"`

	// BorrowerRoots are the borrowers registered directly with the owner.
	// Each root may front a subtree of further borrowers the owner has never
	// heard of; those are discovered through reachability confirmation.
	BorrowerRoots map[ProcessID]struct{} `json:"BorrowerRoots,omitempty"`

	// LastSequence records, per sender, the highest reference-count message
	// sequence number applied. The transport is at-least-once, so replayed
	// and out-of-order updates must be recognizable and ignored.
	LastSequence map[ProcessID]uint64 `json:"LastSequence,omitempty"`

	CreatedAt time.Time `json:"CreatedAt"`
}

// NewObjectEntry returns a PENDING entry for a freshly created object.
func NewObjectEntry(id ObjectID, owner, creator ProcessID) *ObjectEntry {
	return &ObjectEntry{
		ID:            id,
		Owner:         owner,
		Creator:       creator,
		LiveRefCount:  0,
		Status:        ObjectStatuses.PENDING,
		BorrowerRoots: make(map[ProcessID]struct{}),
		LastSequence:  make(map[ProcessID]uint64),
		CreatedAt:     time.Now(),
	}
}

// Unreachable reports whether nothing the owner knows about can still reach
// the object. It is a necessary condition for freeing, not sufficient: the
// reachability-confirmation round still has to cover sub-borrowers the
// registered roots may have spawned.
func (e *ObjectEntry) Unreachable() bool {
	return e.LiveRefCount == 0 && len(e.BorrowerRoots) == 0
}

// AcceptSequence checks and records a per-sender sequence number. It returns
// false for replays and out-of-order deliveries, which callers drop.
func (e *ObjectEntry) AcceptSequence(sender ProcessID, seq uint64) bool {
	if last, ok := e.LastSequence[sender]; ok && seq <= last {
		return false
	}
	e.LastSequence[sender] = seq
	return true
}
