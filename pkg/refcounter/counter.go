// Package refcounter implements the owner side of the reference-count
// protocol. Every entry has a single-writer timeline: all mutations happen
// under the entry's own lock, so independent objects never contend.
package refcounter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/refmesh/refmesh/pkg/lib/collections"
	"github.com/refmesh/refmesh/pkg/lib/concurrency"
	"github.com/refmesh/refmesh/pkg/lib/validate"
	"github.com/refmesh/refmesh/pkg/models"
	"github.com/refmesh/refmesh/pkg/models/messages"
	"github.com/refmesh/refmesh/pkg/transport"
)

type CounterParams struct {
	// ProcessID is the owner process this counter lives on.
	ProcessID models.ProcessID
	// Caller is used for reachability confirmations of doubtful branches.
	Caller transport.RefCaller
	// GracePeriod bounds how long a doubtful branch can block reclamation.
	GracePeriod time.Duration
	// Stripes sizes the entry table.
	Stripes int
	// OnFreed runs after an entry is freed.
	OnFreed FreedCallback
	// Clock is injectable for tests.
	Clock clock.Clock
}

func (p *CounterParams) Validate() error {
	return errors.Join(
		validate.NotBlank(p.ProcessID.String(), "counter process ID cannot be blank"),
		validate.IsGreaterThanZero(p.GracePeriod, "reachability grace period must be positive"),
	)
}

// entryState pairs an entry with its lock and the branch bookkeeping that
// is protocol-internal rather than part of the authoritative record.
type entryState struct {
	mu    sync.Mutex
	entry *models.ObjectEntry

	// pendingBranches are borrower branches the owner has been told exist
	// but that have not registered: sub-borrowers reported in a decrement,
	// and branches orphaned by a root's death. Each blocks freeing until
	// its deadline; registration (an increment) clears it.
	pendingBranches map[models.ProcessID]time.Time
}

type Counter struct {
	params  CounterParams
	clock   clock.Clock
	entries *concurrency.StripedMap[models.ObjectID, *entryState]

	deadlines *collections.DeadlineQueue[branchCheck]
	dlMu      sync.Mutex
	trigger   chan struct{}
	closer    chan struct{}
	closeOnce sync.Once
}

// branchCheck is a queued reachability confirmation deadline.
type branchCheck struct {
	objectID models.ObjectID
	process  models.ProcessID
	deadline time.Time
}

func (b branchCheck) Data() branchCheck   { return b }
func (b branchCheck) ID() string          { return fmt.Sprintf("%s/%s", b.objectID, b.process) }
func (b branchCheck) Deadline() time.Time { return b.deadline }

func NewCounter(params CounterParams) (*Counter, error) {
	if params.Clock == nil {
		params.Clock = clock.New()
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("error validating reference counter: %w", err)
	}

	c := &Counter{
		params:    params,
		clock:     params.Clock,
		entries:   concurrency.NewStripedMap[models.ObjectID, *entryState](params.Stripes),
		deadlines: collections.NewDeadlineQueue[branchCheck](),
		trigger:   make(chan struct{}, 1),
		closer:    make(chan struct{}),
	}
	go c.run()
	return c, nil
}

func (c *Counter) RegisterOwner(ctx context.Context, id models.ObjectID, creator models.ProcessID, contained []models.ObjectRef) (*models.ObjectEntry, error) {
	state, existed := c.entries.GetOrPut(id, func() *entryState {
		entry := models.NewObjectEntry(id, c.params.ProcessID, creator)
		entry.Contained = contained
		// the creating handle is the first live reference
		entry.LiveRefCount = 1
		if creator != c.params.ProcessID {
			entry.BorrowerRoots[creator] = struct{}{}
		}
		return &entryState{
			entry:           entry,
			pendingBranches: make(map[models.ProcessID]time.Time),
		}
	})
	if existed {
		// duplicate registration delivery; return the authoritative entry
		state.mu.Lock()
		defer state.mu.Unlock()
		if state.entry.Creator != creator {
			return nil, models.NewBaseError("object %s already registered by %s", id.ShortID(), state.entry.Creator).
				WithCode(models.ValidationFailed).
				WithObjectID(id)
		}
		snapshot := *state.entry
		return &snapshot, nil
	}

	log.Ctx(ctx).Debug().
		Str("object", id.ShortID()).
		Str("creator", creator.ShortID()).
		Int("contained", len(contained)).
		Msg("registered object entry")

	state.mu.Lock()
	defer state.mu.Unlock()
	snapshot := *state.entry
	return &snapshot, nil
}

func (c *Counter) MarkAvailable(ctx context.Context, id models.ObjectID) error {
	state, ok := c.entries.Get(id)
	if !ok {
		return models.NewErrObjectNotFound(id)
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.entry.Status.Terminal() {
		return models.NewErrReclaimed(id)
	}
	state.entry.Status = models.ObjectStatuses.AVAILABLE
	return nil
}

func (c *Counter) Increment(ctx context.Context, request messages.IncrementRequest) (messages.RefCountResponse, error) {
	state, ok := c.entries.Get(request.ObjectID)
	if !ok {
		return messages.RefCountResponse{}, models.NewErrObjectNotFound(request.ObjectID)
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	entry := state.entry

	if entry.Status == models.ObjectStatuses.FREED {
		return messages.RefCountResponse{}, models.NewErrReclaimed(request.ObjectID)
	}
	if !entry.AcceptSequence(request.Sender, request.Sequence) {
		// at-least-once redelivery; already applied
		log.Ctx(ctx).Trace().
			Str("object", request.ObjectID.ShortID()).
			Str("sender", request.Sender.ShortID()).
			Uint64("seq", request.Sequence).
			Msg("ignoring replayed increment")
		return c.response(entry), nil
	}

	entry.LiveRefCount++
	if request.Sender != c.params.ProcessID {
		entry.BorrowerRoots[request.Sender] = struct{}{}
	}
	// registration settles any doubt about this branch
	delete(state.pendingBranches, request.Sender)
	c.unschedule(request.ObjectID, request.Sender)

	return c.response(entry), nil
}

func (c *Counter) Decrement(ctx context.Context, request messages.DecrementRequest) (messages.RefCountResponse, error) {
	state, ok := c.entries.Get(request.ObjectID)
	if !ok {
		return messages.RefCountResponse{}, models.NewErrObjectNotFound(request.ObjectID)
	}

	state.mu.Lock()
	entry := state.entry

	if entry.Status == models.ObjectStatuses.FREED {
		state.mu.Unlock()
		return messages.RefCountResponse{}, models.NewErrReclaimed(request.ObjectID)
	}
	if !entry.AcceptSequence(request.Sender, request.Sequence) {
		resp := c.response(entry)
		state.mu.Unlock()
		log.Ctx(ctx).Trace().
			Str("object", request.ObjectID.ShortID()).
			Str("sender", request.Sender.ShortID()).
			Uint64("seq", request.Sequence).
			Msg("ignoring replayed decrement")
		return resp, nil
	}

	if entry.LiveRefCount > 0 {
		entry.LiveRefCount--
	}
	delete(entry.BorrowerRoots, request.Sender)

	// the sender may have been fronting a subtree; adopt its reported
	// sub-borrowers as doubtful branches until they register themselves
	deadline := c.clock.Now().Add(c.params.GracePeriod)
	for _, sub := range request.KnownSubBorrowers {
		if sub == c.params.ProcessID {
			continue
		}
		if _, isRoot := entry.BorrowerRoots[sub]; isRoot {
			continue
		}
		state.pendingBranches[sub] = deadline
		c.schedule(request.ObjectID, sub, deadline)
	}

	freed := c.maybeFree(ctx, state)
	resp := c.response(entry)
	snapshot := *entry
	state.mu.Unlock()

	if freed {
		c.notifyFreed(ctx, snapshot)
	}
	return resp, nil
}

func (c *Counter) QueryStatus(ctx context.Context, id models.ObjectID) (models.ObjectStatus, error) {
	state, ok := c.entries.Get(id)
	if !ok {
		return models.ObjectStatus{}, models.NewErrObjectNotFound(id)
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.entry.Status, nil
}

func (c *Counter) OnProcessDead(ctx context.Context, processID models.ProcessID) {
	deadline := c.clock.Now().Add(c.params.GracePeriod)

	c.entries.Iter(func(id models.ObjectID, state *entryState) bool {
		state.mu.Lock()
		entry := state.entry
		if _, isRoot := entry.BorrowerRoots[processID]; isRoot {
			delete(entry.BorrowerRoots, processID)
			if entry.LiveRefCount > 0 {
				entry.LiveRefCount--
			}
			// the dead root may have forwarded the reference further; hold
			// the branch open for the grace period in case descendants
			// register late
			state.pendingBranches[processID] = deadline
			c.schedule(id, processID, deadline)
			log.Ctx(ctx).Debug().
				Str("object", id.ShortID()).
				Str("process", processID.ShortID()).
				Msg("borrower root died, branch held for grace period")
		}
		state.mu.Unlock()
		return true
	})
}

func (c *Counter) Entry(id models.ObjectID) (models.ObjectEntry, bool) {
	state, ok := c.entries.Get(id)
	if !ok {
		return models.ObjectEntry{}, false
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return *state.entry, true
}

func (c *Counter) Close() {
	c.closeOnce.Do(func() {
		close(c.closer)
	})
}

func (c *Counter) response(entry *models.ObjectEntry) messages.RefCountResponse {
	return messages.RefCountResponse{
		ObjectID: entry.ID,
		Status:   entry.Status,
		RefCount: entry.LiveRefCount,
	}
}

// maybeFree transitions the entry to FREED when nothing can reach it. Must
// be called with the entry lock held; returns whether it freed.
func (c *Counter) maybeFree(ctx context.Context, state *entryState) bool {
	entry := state.entry
	if entry.Status != models.ObjectStatuses.AVAILABLE {
		return false
	}
	if !entry.Unreachable() || len(state.pendingBranches) > 0 {
		return false
	}
	entry.Status = models.ObjectStatuses.FREED
	log.Ctx(ctx).Debug().Str("object", entry.ID.ShortID()).Msg("object unreachable, freed")
	return true
}

func (c *Counter) notifyFreed(ctx context.Context, entry models.ObjectEntry) {
	if c.params.OnFreed != nil {
		c.params.OnFreed(ctx, entry)
	}
}

func (c *Counter) schedule(id models.ObjectID, process models.ProcessID, deadline time.Time) {
	check := branchCheck{objectID: id, process: process, deadline: deadline}
	c.dlMu.Lock()
	if c.deadlines.Contains(check.ID()) {
		_ = c.deadlines.Update(check)
	} else {
		_ = c.deadlines.Push(check)
	}
	c.dlMu.Unlock()

	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

func (c *Counter) unschedule(id models.ObjectID, process models.ProcessID) {
	c.dlMu.Lock()
	c.deadlines.Remove(branchCheck{objectID: id, process: process}.ID())
	c.dlMu.Unlock()
}

// run drives reachability confirmations as their deadlines expire.
func (c *Counter) run() {
	const idleWait = time.Hour
	for {
		c.dlMu.Lock()
		next := c.deadlines.Peek()
		var wait time.Duration
		if next == nil {
			wait = idleWait
		} else {
			wait = next.Deadline().Sub(c.clock.Now())
		}
		if next != nil && wait <= 0 {
			due := c.deadlines.Pop()
			c.dlMu.Unlock()
			c.confirmBranch(context.Background(), due.Data())
			continue
		}
		c.dlMu.Unlock()

		timer := c.clock.Timer(wait)
		select {
		case <-c.closer:
			timer.Stop()
			return
		case <-c.trigger:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// confirmBranch resolves one doubtful branch whose grace deadline expired:
// ask the process whether its branch is still live; unreachable or retired
// branches are dropped, live ones get another grace period to register.
func (c *Counter) confirmBranch(ctx context.Context, check branchCheck) {
	state, ok := c.entries.Get(check.objectID)
	if !ok {
		return
	}
	state.mu.Lock()
	if _, pending := state.pendingBranches[check.process]; !pending {
		state.mu.Unlock()
		return
	}
	owner := state.entry.Owner
	state.mu.Unlock()

	stillLive := false
	var descendants []models.ProcessID
	if c.params.Caller != nil {
		reqCtx, cancel := context.WithTimeout(ctx, c.params.GracePeriod)
		report, err := c.params.Caller.CheckReachability(reqCtx, check.process, messages.ReachabilityRequest{
			ObjectID: check.objectID,
			Owner:    owner,
		})
		cancel()
		if err == nil {
			stillLive = report.HasLiveBranch
			descendants = report.SubBorrowers
		}
	}

	state.mu.Lock()

	// a retired branch may still front descendants the owner has never
	// heard of; adopt them as doubtful branches of their own before this
	// one is resolved
	deadline := c.clock.Now().Add(c.params.GracePeriod)
	for _, sub := range descendants {
		if sub == c.params.ProcessID || sub == check.process {
			continue
		}
		if _, isRoot := state.entry.BorrowerRoots[sub]; isRoot {
			continue
		}
		if _, already := state.pendingBranches[sub]; already {
			continue
		}
		state.pendingBranches[sub] = deadline
		c.schedule(check.objectID, sub, deadline)
	}

	if stillLive {
		// reachable and still holding; wait for its registration rather
		// than counting it here, so a late increment can't double-count
		state.pendingBranches[check.process] = deadline
		state.mu.Unlock()
		c.schedule(check.objectID, check.process, deadline)
		return
	}

	delete(state.pendingBranches, check.process)
	log.Ctx(ctx).Debug().
		Str("object", check.objectID.ShortID()).
		Str("process", check.process.ShortID()).
		Msg("branch retired after grace period")
	freed := c.maybeFree(ctx, state)
	snapshot := *state.entry
	state.mu.Unlock()

	if freed {
		c.notifyFreed(ctx, snapshot)
	}
}

// compile-time interface assertion
var _ ReferenceCounter = (*Counter)(nil)
