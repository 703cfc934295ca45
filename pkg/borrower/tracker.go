// Package borrower implements the borrower side of the reference-count
// protocol: the per-process records of references this process holds but
// does not own, and the notifications that keep the owners' counts honest.
package borrower

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/refmesh/refmesh/pkg/lib/concurrency"
	"github.com/refmesh/refmesh/pkg/lib/validate"
	"github.com/refmesh/refmesh/pkg/models"
	"github.com/refmesh/refmesh/pkg/models/messages"
	"github.com/refmesh/refmesh/pkg/transport"
)

type TrackerParams struct {
	// ProcessID identifies this process in every message it sends.
	ProcessID models.ProcessID
	// Caller reaches owners (and forwarded-to borrowers).
	Caller transport.RefCaller
	// RecordRetention keeps retired records alive to answer reachability
	// confirmations about their sub-borrowers.
	RecordRetention time.Duration
	// Clock is injectable for tests.
	Clock clock.Clock
}

func (p *TrackerParams) Validate() error {
	return errors.Join(
		validate.NotBlank(p.ProcessID.String(), "tracker process ID cannot be blank"),
		validate.NotNil(p.Caller, "tracker caller cannot be nil"),
		validate.IsGreaterThanZero(p.RecordRetention, "record retention must be positive"),
	)
}

type recordState struct {
	mu     sync.Mutex
	record *models.BorrowerRecord
	// nextSeq numbers this process's increment/decrement stream for the
	// object, so the owner can discard replays.
	nextSeq uint64
}

func (s *recordState) bumpSeq() uint64 {
	s.nextSeq++
	return s.nextSeq
}

type Tracker struct {
	params  TrackerParams
	clock   clock.Clock
	records *concurrency.StripedMap[models.ObjectID, *recordState]

	closer    chan struct{}
	closeOnce sync.Once
}

func NewTracker(params TrackerParams) (*Tracker, error) {
	if params.Clock == nil {
		params.Clock = clock.New()
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("error validating borrower tracker: %w", err)
	}
	t := &Tracker{
		params:  params,
		clock:   params.Clock,
		records: concurrency.NewStripedMap[models.ObjectID, *recordState](0),
		closer:  make(chan struct{}),
	}
	go t.sweep()
	return t, nil
}

// Track records a handle that is already counted on the owner: the creating
// handle returned by CreateObject. No increment is sent.
func (t *Tracker) Track(ctx context.Context, ref models.ObjectRef) {
	state, _ := t.records.GetOrPut(ref.ID, func() *recordState {
		return &recordState{record: models.NewBorrowerRecord(ref.ID, ref.Owner, ref.Owner)}
	})
	state.mu.Lock()
	state.record.LocalHandles++
	state.mu.Unlock()
}

// OnReceiveReference registers a reference that arrived from another
// process. The first local handle registers this process with the owner.
func (t *Tracker) OnReceiveReference(ctx context.Context, ref models.ObjectRef, from models.ProcessID) error {
	state, _ := t.records.GetOrPut(ref.ID, func() *recordState {
		return &recordState{record: models.NewBorrowerRecord(ref.ID, ref.Owner, from)}
	})

	state.mu.Lock()
	if state.record.OwnerLost {
		state.mu.Unlock()
		return models.NewErrOwnerLost(ref.ID, ref.Owner)
	}
	state.record.LocalHandles++
	state.record.DroppedAt = time.Time{}
	needsRegistration := state.record.LocalHandles == 1
	seq := uint64(0)
	if needsRegistration {
		seq = state.bumpSeq()
	}
	state.mu.Unlock()

	if !needsRegistration {
		return nil
	}

	_, err := t.params.Caller.Increment(ctx, ref.Owner, messages.IncrementRequest{
		ObjectID: ref.ID,
		Sender:   t.params.ProcessID,
		Sequence: seq,
	})
	if err != nil {
		log.Ctx(ctx).Debug().Err(err).
			Str("object", ref.ID.ShortID()).
			Str("owner", ref.Owner.ShortID()).
			Msg("failed to register with owner")
		return err
	}
	return nil
}

// OnForwardReference sends the reference to another process, growing this
// record's branch of the borrower tree.
func (t *Tracker) OnForwardReference(ctx context.Context, id models.ObjectID, to models.ProcessID) error {
	state, ok := t.records.Get(id)
	if !ok {
		return models.NewErrObjectNotFound(id)
	}

	state.mu.Lock()
	if state.record.OwnerLost {
		state.mu.Unlock()
		return models.NewErrOwnerLost(id, state.record.Owner)
	}
	if state.record.Retired() {
		state.mu.Unlock()
		return models.NewBaseError("cannot forward object %s without holding a reference", id.ShortID()).
			WithCode(models.ValidationFailed).
			WithObjectID(id)
	}
	owner := state.record.Owner
	// recorded before sending, so a crash between the two leaves the owner
	// over-waiting rather than over-freeing
	state.record.SubBorrowers[to] = struct{}{}
	state.mu.Unlock()

	return t.params.Caller.ForwardReference(ctx, to, messages.ReceiveReference{
		ObjectID: id,
		Owner:    owner,
		From:     t.params.ProcessID,
	})
}

// OnReferenceDropped drops one local handle. Dropping the last handle
// notifies the owner, reporting any sub-borrowers this process fronted,
// then drops the contained references discovered in the payload.
func (t *Tracker) OnReferenceDropped(ctx context.Context, id models.ObjectID) error {
	state, ok := t.records.Get(id)
	if !ok {
		return models.NewErrObjectNotFound(id)
	}

	state.mu.Lock()
	record := state.record
	if record.LocalHandles == 0 {
		state.mu.Unlock()
		return models.NewBaseError("no live handle for object %s", id.ShortID()).
			WithCode(models.ValidationFailed).
			WithObjectID(id)
	}
	record.LocalHandles--
	if record.LocalHandles > 0 {
		state.mu.Unlock()
		return nil
	}

	record.DroppedAt = t.clock.Now()
	owner := record.Owner
	ownerLost := record.OwnerLost
	subBorrowers := lo.Keys(record.SubBorrowers)
	contained := append([]models.ObjectRef(nil), record.Contained...)
	seq := state.bumpSeq()
	state.mu.Unlock()

	if !ownerLost {
		_, err := t.params.Caller.Decrement(ctx, owner, messages.DecrementRequest{
			ObjectID:          id,
			Sender:            t.params.ProcessID,
			Sequence:          seq,
			KnownSubBorrowers: subBorrowers,
		})
		if err != nil && !models.HasErrorCode(err, models.ReclaimedError) {
			log.Ctx(ctx).Warn().Err(err).
				Str("object", id.ShortID()).
				Str("owner", owner.ShortID()).
				Msg("failed to notify owner of dropped reference")
		}
	}

	// the outer payload held these refs alive; release them with it
	for _, inner := range contained {
		if err := t.OnReferenceDropped(ctx, inner.ID); err != nil {
			log.Ctx(ctx).Debug().Err(err).
				Str("object", inner.ID.ShortID()).
				Msg("failed to drop contained reference")
		}
	}
	return nil
}

// RegisterContained attaches the inner references discovered in an outer
// payload to the outer record, and registers this process as a borrower of
// each. Idempotent per outer object: inspection happens once.
func (t *Tracker) RegisterContained(ctx context.Context, outer models.ObjectID, contained []models.ObjectRef) error {
	if len(contained) == 0 {
		return nil
	}
	state, ok := t.records.Get(outer)
	if !ok {
		return models.NewErrObjectNotFound(outer)
	}

	state.mu.Lock()
	if len(state.record.Contained) > 0 {
		state.mu.Unlock()
		return nil
	}
	state.record.Contained = contained
	parent := state.record.Owner
	state.mu.Unlock()

	for _, inner := range contained {
		if err := t.OnReceiveReference(ctx, inner, parent); err != nil {
			log.Ctx(ctx).Debug().Err(err).
				Str("object", inner.ID.ShortID()).
				Msg("failed to register contained reference")
		}
	}
	return nil
}

// HandleReachability answers an owner's confirmation round: is this branch
// still live here or below?
func (t *Tracker) HandleReachability(ctx context.Context, request messages.ReachabilityRequest) (messages.ReachabilityReport, error) {
	report := messages.ReachabilityReport{
		ObjectID: request.ObjectID,
		Sender:   t.params.ProcessID,
	}
	state, ok := t.records.Get(request.ObjectID)
	if !ok {
		return report, nil
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	report.HasLiveBranch = !state.record.Retired()
	report.SubBorrowers = lo.Keys(state.record.SubBorrowers)
	return report, nil
}

// MarkOwnerLost terminally fails every record owned by the dead process and
// returns the affected object IDs so pending reads can be cancelled.
func (t *Tracker) MarkOwnerLost(ctx context.Context, owner models.ProcessID) []models.ObjectID {
	var affected []models.ObjectID
	t.records.Iter(func(id models.ObjectID, state *recordState) bool {
		state.mu.Lock()
		if state.record.Owner == owner && !state.record.OwnerLost {
			state.record.OwnerLost = true
			affected = append(affected, id)
		}
		state.mu.Unlock()
		return true
	})
	if len(affected) > 0 {
		log.Ctx(ctx).Info().
			Str("owner", owner.ShortID()).
			Int("objects", len(affected)).
			Msg("owner died, marked borrowed references lost")
	}
	return affected
}

// Record returns a snapshot of the record for id.
func (t *Tracker) Record(id models.ObjectID) (models.BorrowerRecord, bool) {
	state, ok := t.records.Get(id)
	if !ok {
		return models.BorrowerRecord{}, false
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return *state.record, true
}

func (t *Tracker) Close() {
	t.closeOnce.Do(func() {
		close(t.closer)
	})
}

// sweep drops retired records past the retention window. They have already
// reported their sub-borrowers; keeping them longer only delays nothing.
func (t *Tracker) sweep() {
	ticker := t.clock.Ticker(t.params.RecordRetention)
	defer ticker.Stop()
	for {
		select {
		case <-t.closer:
			return
		case <-ticker.C:
			cutoff := t.clock.Now().Add(-t.params.RecordRetention)
			for _, id := range t.records.Keys() {
				state, ok := t.records.Get(id)
				if !ok {
					continue
				}
				state.mu.Lock()
				expired := state.record.Retired() &&
					!state.record.DroppedAt.IsZero() &&
					state.record.DroppedAt.Before(cutoff) &&
					!state.record.OwnerLost
				state.mu.Unlock()
				if expired {
					t.records.Delete(id)
				}
			}
		}
	}
}
