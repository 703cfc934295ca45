// Package node assembles one process of the mesh: the owner-side counter,
// the borrower-side tracker, the payload directory, and the transport, all
// behind the four-call public API.
package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/refmesh/refmesh/pkg/borrower"
	"github.com/refmesh/refmesh/pkg/config"
	"github.com/refmesh/refmesh/pkg/directory"
	"github.com/refmesh/refmesh/pkg/lib/validate"
	"github.com/refmesh/refmesh/pkg/liveness"
	"github.com/refmesh/refmesh/pkg/models"
	"github.com/refmesh/refmesh/pkg/models/messages"
	"github.com/refmesh/refmesh/pkg/ownership"
	"github.com/refmesh/refmesh/pkg/pubsub"
	"github.com/refmesh/refmesh/pkg/refcounter"
	"github.com/refmesh/refmesh/pkg/routing"
	"github.com/refmesh/refmesh/pkg/transport"
)

// getPollInterval paces the read-through retry loop while an object is
// still pending on its owner.
const getPollInterval = 50 * time.Millisecond

type Params struct {
	// Info identifies this process and its transport address.
	Info models.ProcessInfo
	// Transport connects the process to the mesh.
	Transport transport.Transport
	// Store is the shared view of known processes and their liveness.
	Store routing.ProcessStore
	// LivenessFeed delivers failure-detector events.
	LivenessFeed pubsub.PubSub[models.LivenessEvent]
	// Config carries the tunables.
	Config config.RefMeshConfig
	// Clock is injectable for tests.
	Clock clock.Clock
}

func (p *Params) Validate() error {
	return errors.Join(
		validate.NotBlank(p.Info.ID.String(), "node process ID cannot be blank"),
		validate.NotNil(p.Transport, "node transport cannot be nil"),
		validate.NotNil(p.Store, "node process store cannot be nil"),
		validate.NotNil(p.LivenessFeed, "node liveness feed cannot be nil"),
	)
}

// Node is one process of the mesh. It creates objects, reads them through
// their owners, and plays owner and borrower for everyone else.
type Node struct {
	info      models.ProcessInfo
	transport transport.Transport
	store     routing.ProcessStore
	clock     clock.Clock

	directory *directory.Directory
	counter   refcounter.ReferenceCounter
	tracker   *borrower.Tracker
	assigner  *ownership.Assigner

	mu          sync.Mutex
	lostSignals map[models.ObjectID]chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

func NewNode(params Params) (*Node, error) {
	if params.Clock == nil {
		params.Clock = clock.New()
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("error validating node: %w", err)
	}
	cfg := params.Config

	n := &Node{
		info:        params.Info,
		transport:   params.Transport,
		store:       params.Store,
		clock:       params.Clock,
		lostSignals: make(map[models.ObjectID]chan struct{}),
	}

	n.directory = directory.NewDirectory(
		directory.WithSweepInterval(cfg.Directory.SweepInterval),
		directory.WithTombstoneRetention(cfg.Directory.TombstoneRetention),
		directory.WithClock(params.Clock),
	)

	tracker, err := borrower.NewTracker(borrower.TrackerParams{
		ProcessID:       params.Info.ID,
		Caller:          params.Transport.Caller(),
		RecordRetention: cfg.Borrower.RecordRetention,
		Clock:           params.Clock,
	})
	if err != nil {
		return nil, err
	}
	n.tracker = tracker

	counter, err := refcounter.NewCounter(refcounter.CounterParams{
		ProcessID:   params.Info.ID,
		Caller:      params.Transport.Caller(),
		GracePeriod: cfg.Counter.ReachabilityGracePeriod,
		Stripes:     cfg.Counter.EntryStripes,
		OnFreed:     n.onFreed,
		Clock:       params.Clock,
	})
	if err != nil {
		return nil, err
	}
	n.counter = counter

	assigner, err := ownership.NewAssigner(ownership.AssignerParams{
		ProcessID: params.Info.ID,
		Store:     params.Store,
	})
	if err != nil {
		return nil, err
	}
	n.assigner = assigner

	propagator, err := liveness.NewPropagator(liveness.PropagatorParams{
		Counter:     n.counter,
		Tracker:     n.tracker,
		OnOwnerLost: n.onOwnerLost,
	})
	if err != nil {
		return nil, err
	}
	if err = params.LivenessFeed.Subscribe(context.Background(),
		pubsub.SubscriberFunc[models.LivenessEvent](propagator.Handle)); err != nil {
		return nil, err
	}

	return n, nil
}

// Start attaches the node to the transport and announces it in the store.
func (n *Node) Start(ctx context.Context) error {
	var err error
	n.startOnce.Do(func() {
		if err = n.transport.Listen(ctx, n.info, &endpoint{node: n}); err != nil {
			return
		}
		err = n.store.Add(ctx, models.ProcessState{
			Info:     n.info,
			Liveness: models.ProcessStates.ALIVE,
			LastSeen: n.clock.Now(),
		})
		if err == nil {
			log.Ctx(ctx).Info().
				Str("process", n.info.ID.ShortID()).
				Msg("node started")
		}
	})
	return err
}

func (n *Node) Stop(ctx context.Context) error {
	var err error
	n.stopOnce.Do(func() {
		n.counter.Close()
		n.tracker.Close()
		n.directory.Close()
		err = n.transport.Close(ctx)
	})
	return err
}

// ID returns this process's identity.
func (n *Node) ID() models.ProcessID {
	return n.info.ID
}

// CreateObject stores the payload with its owner and returns a reference
// holding one live handle. By default the creator owns the object; pass
// WithOwner to assign a longer-lived process instead. References embedded
// in the payload are discovered here and pinned by the owner.
func (n *Node) CreateObject(ctx context.Context, payload []byte, opts ...CreateOption) (models.ObjectRef, error) {
	var options createOptions
	for _, opt := range opts {
		opt(&options)
	}

	owner, err := n.assigner.Assign(ctx, options.owner)
	if err != nil {
		return models.ObjectRef{}, err
	}

	id := models.NewObjectID()
	ref := models.ObjectRef{ID: id, Owner: owner}

	_, err = n.transport.Caller().RegisterOwner(ctx, owner, messages.RegisterOwnerRequest{
		ObjectID:  id,
		Creator:   n.info.ID,
		Payload:   payload,
		Contained: n.resolveContained(ctx, payload),
	})
	if err != nil {
		return models.ObjectRef{}, err
	}

	// the creating handle is already counted by the registration
	n.tracker.Track(ctx, ref)
	return ref, nil
}

// CreateObjects creates one object per payload, stopping at the first
// failure. Returned references cover the payloads created so far.
func (n *Node) CreateObjects(ctx context.Context, payloads [][]byte, opts ...CreateOption) ([]models.ObjectRef, error) {
	refs := make([]models.ObjectRef, 0, len(payloads))
	for _, payload := range payloads {
		ref, err := n.CreateObject(ctx, payload, opts...)
		if err != nil {
			return refs, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// GetObject resolves the reference to its payload, reading through the
// owner and caching locally. It polls while the object is pending and
// fails with OwnerLost once the owner's death is confirmed, Reclaimed if
// the object was freed under a protocol violation.
func (n *Node) GetObject(ctx context.Context, ref models.ObjectRef) ([]byte, error) {
	if payload, err := n.directory.Get(ctx, ref.ID); err == nil {
		return payload, nil
	} else if models.HasErrorCode(err, models.ReclaimedError) {
		return nil, err
	}

	if record, ok := n.tracker.Record(ref.ID); ok && record.Status() == models.ObjectStatuses.OWNER_LOST {
		return nil, models.NewErrOwnerLost(ref.ID, ref.Owner)
	}

	lost := n.lostSignal(ref.ID)
	for {
		resp, err := n.transport.Caller().GetObject(ctx, ref.Owner, messages.GetObjectRequest{
			ObjectID: ref.ID,
			Sender:   n.info.ID,
		})
		switch {
		case err == nil && resp.Status == models.ObjectStatuses.AVAILABLE:
			if putErr := n.directory.Put(ctx, ref.ID, resp.Payload); putErr != nil {
				log.Ctx(ctx).Debug().Err(putErr).
					Str("object", ref.ID.ShortID()).
					Msg("failed to cache fetched payload")
			}
			if regErr := n.tracker.RegisterContained(ctx, ref.ID, resp.Contained); regErr != nil {
				log.Ctx(ctx).Debug().Err(regErr).
					Str("object", ref.ID.ShortID()).
					Msg("failed to register contained references")
			}
			return resp.Payload, nil
		case err == nil:
			// pending on the owner; keep polling
		case !models.IsRetryable(err):
			return nil, err
		case models.HasErrorCode(err, models.NetworkFailure) && n.ownerConfirmedDead(ctx, ref.Owner):
			// detector deaths are definitive, no point retrying
			return nil, models.NewErrOwnerLost(ref.ID, ref.Owner)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-lost:
			return nil, models.NewErrOwnerLost(ref.ID, ref.Owner)
		case <-n.clock.After(getPollInterval):
		}
	}
}

// DropReference releases one local handle on the reference.
func (n *Node) DropReference(ctx context.Context, ref models.ObjectRef) error {
	return n.tracker.OnReferenceDropped(ctx, ref.ID)
}

// ForkReference hands the reference to another process, which becomes a
// borrower below this one in the object's borrower tree.
func (n *Node) ForkReference(ctx context.Context, ref models.ObjectRef, to models.ProcessID) error {
	return n.tracker.OnForwardReference(ctx, ref.ID, to)
}

// Entry exposes the owner-side entry snapshot, for introspection and tests.
func (n *Node) Entry(id models.ObjectID) (models.ObjectEntry, bool) {
	return n.counter.Entry(id)
}

// resolveContained scans the payload for embedded object IDs and resolves
// each to a full reference through the local records. IDs this process has
// never seen cannot be pinned and are skipped.
func (n *Node) resolveContained(ctx context.Context, payload []byte) []models.ObjectRef {
	ids := models.ContainedIDs(payload)
	if len(ids) == 0 {
		return nil
	}
	refs := make([]models.ObjectRef, 0, len(ids))
	for _, id := range ids {
		if record, ok := n.tracker.Record(id); ok {
			refs = append(refs, models.ObjectRef{ID: id, Owner: record.Owner})
			continue
		}
		if entry, ok := n.counter.Entry(id); ok {
			refs = append(refs, models.ObjectRef{ID: id, Owner: entry.Owner})
			continue
		}
		log.Ctx(ctx).Warn().
			Str("object", id.ShortID()).
			Msg("payload references an unknown object, cannot pin it")
	}
	return refs
}

// ownerConfirmedDead reports whether the failure detector has definitively
// marked the process dead. Unknown processes are not confirmed dead.
func (n *Node) ownerConfirmedDead(ctx context.Context, processID models.ProcessID) bool {
	state, err := n.store.Get(ctx, processID)
	if err != nil {
		return false
	}
	return !state.Liveness.IsAlive()
}

// onFreed runs after the counter frees an entry this process owns: the
// payload is evicted and the inner references the owner was pinning are
// released.
func (n *Node) onFreed(ctx context.Context, entry models.ObjectEntry) {
	n.directory.Evict(ctx, entry.ID)
	for _, inner := range entry.Contained {
		if err := n.tracker.OnReferenceDropped(ctx, inner.ID); err != nil {
			log.Ctx(ctx).Debug().Err(err).
				Str("object", inner.ID.ShortID()).
				Msg("failed to release pinned contained reference")
		}
	}
}

// onOwnerLost unblocks reads waiting on an object whose owner died.
func (n *Node) onOwnerLost(ctx context.Context, id models.ObjectID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if ch, ok := n.lostSignals[id]; ok {
		select {
		case <-ch:
		default:
			close(ch)
		}
		return
	}
	ch := make(chan struct{})
	close(ch)
	n.lostSignals[id] = ch
}

func (n *Node) lostSignal(id models.ObjectID) <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	ch, ok := n.lostSignals[id]
	if !ok {
		ch = make(chan struct{})
		n.lostSignals[id] = ch
	}
	return ch
}
