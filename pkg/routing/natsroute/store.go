// Package natsroute shares process membership and liveness over NATS. Each
// process heartbeats its own state on a cluster subject and folds what it
// hears from peers into a local in-memory store, so ownership assignment
// and owner-death propagation work across real processes, not just within
// one.
package natsroute

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/refmesh/refmesh/pkg/lib/validate"
	"github.com/refmesh/refmesh/pkg/models"
	"github.com/refmesh/refmesh/pkg/pubsub"
	"github.com/refmesh/refmesh/pkg/routing"
	"github.com/refmesh/refmesh/pkg/routing/inmemory"
)

// stateSubject carries ProcessState announcements: alive heartbeats and
// death notices alike.
const stateSubject = "refmesh.cluster.state"

type StoreParams struct {
	// Self is this process; its own announcements are never folded back in.
	Self models.ProcessInfo
	Conn *nats.Conn
	// LivenessFeed receives the local LivenessEvent fan-out. Optional.
	LivenessFeed pubsub.PubSub[models.LivenessEvent]
	// HeartbeatInterval is how often self is re-announced.
	HeartbeatInterval time.Duration
	// LivenessTimeout retires peers that have been silent this long.
	LivenessTimeout time.Duration
	Clock           clock.Clock
}

func (p *StoreParams) Validate() error {
	return errors.Join(
		validate.NotBlank(p.Self.ID.String(), "store process ID cannot be blank"),
		validate.NotNil(p.Conn, "store NATS connection cannot be nil"),
		validate.IsGreaterThanZero(p.HeartbeatInterval, "heartbeat interval must be positive"),
		validate.IsGreaterThanZero(p.LivenessTimeout, "liveness timeout must be positive"),
	)
}

// Store is a ProcessStore backed by NATS gossip. Reads are served from the
// local in-memory view; writes about self are announced to the cluster, and
// deaths, detected locally or learned from a peer, flow both to the local
// liveness feed and back onto the wire.
type Store struct {
	params StoreParams
	inner  *inmemory.ProcessStore
	clock  clock.Clock
	sub    *nats.Subscription

	closer    chan struct{}
	closeOnce sync.Once
}

func NewStore(params StoreParams) (*Store, error) {
	if params.Clock == nil {
		params.Clock = clock.New()
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("error validating cluster store: %w", err)
	}

	s := &Store{
		params: params,
		clock:  params.Clock,
		closer: make(chan struct{}),
	}

	// liveness changes fan out locally and onto the wire in one chain
	chain := pubsub.NewChainedPublisher[models.LivenessEvent](true)
	if params.LivenessFeed != nil {
		chain.Add(params.LivenessFeed)
	}
	chain.Add(pubsub.PublisherFunc[models.LivenessEvent](s.broadcastLiveness))

	s.inner = inmemory.NewProcessStore(inmemory.ProcessStoreParams{
		LivenessPubSub: chain,
		Clock:          params.Clock,
	})

	sub, err := params.Conn.Subscribe(stateSubject, s.handleState)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", stateSubject, err)
	}
	s.sub = sub

	go s.run()
	return s, nil
}

func (s *Store) Add(ctx context.Context, state models.ProcessState) error {
	if err := s.inner.Add(ctx, state); err != nil {
		return err
	}
	if state.Info.ID == s.params.Self.ID {
		// joins are visible immediately rather than a heartbeat later
		s.announce(ctx, state)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, processID models.ProcessID) (models.ProcessState, error) {
	return s.inner.Get(ctx, processID)
}

func (s *Store) IsAlive(ctx context.Context, processID models.ProcessID) bool {
	return s.inner.IsAlive(ctx, processID)
}

func (s *Store) List(ctx context.Context, filters ...routing.ProcessStateFilter) ([]models.ProcessState, error) {
	return s.inner.List(ctx, filters...)
}

func (s *Store) Delete(ctx context.Context, processID models.ProcessID) error {
	return s.inner.Delete(ctx, processID)
}

func (s *Store) MarkAlive(ctx context.Context, processID models.ProcessID) error {
	return s.inner.MarkAlive(ctx, processID)
}

func (s *Store) MarkDead(ctx context.Context, processID models.ProcessID) error {
	return s.inner.MarkDead(ctx, processID)
}

func (s *Store) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closer)
		err = s.sub.Unsubscribe()
	})
	return err
}

// handleState folds a peer announcement into the local view.
func (s *Store) handleState(msg *nats.Msg) {
	var state models.ProcessState
	if err := json.Unmarshal(msg.Data, &state); err != nil {
		log.Warn().Err(err).Msg("dropping malformed cluster state announcement")
		return
	}
	if state.Info.ID == s.params.Self.ID {
		return
	}

	ctx := context.Background()
	if !state.Liveness.IsAlive() {
		if err := s.inner.MarkDead(ctx, state.Info.ID); err != nil {
			log.Ctx(ctx).Warn().Err(err).
				Str("process", state.Info.ID.ShortID()).
				Msg("failed to apply death notice")
		}
		return
	}

	state.LastSeen = s.clock.Now()
	if err := s.inner.Add(ctx, state); err != nil {
		// a dead process never comes back under the same ID; drop the
		// stale heartbeat
		log.Ctx(ctx).Trace().Err(err).
			Str("process", state.Info.ID.ShortID()).
			Msg("ignoring heartbeat from a process already reported dead")
	}
}

// broadcastLiveness mirrors a local liveness change onto the wire. Peers
// that already hold the same view apply it as a no-op, so echoes die out.
func (s *Store) broadcastLiveness(ctx context.Context, event models.LivenessEvent) error {
	state, err := s.inner.Get(ctx, event.ProcessID)
	if err != nil {
		state = models.ProcessState{Info: models.ProcessInfo{ID: event.ProcessID}}
	}
	state.Liveness = event.Liveness
	return s.publish(state)
}

func (s *Store) announce(ctx context.Context, state models.ProcessState) {
	if err := s.publish(state); err != nil {
		log.Ctx(ctx).Warn().Err(err).
			Str("process", state.Info.ID.ShortID()).
			Msg("failed to announce process state")
	}
}

func (s *Store) publish(state models.ProcessState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.params.Conn.Publish(stateSubject, data)
}

// run heartbeats self and retires peers that have been silent too long.
func (s *Store) run() {
	ctx := context.Background()
	ticker := s.clock.Ticker(s.params.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.closer:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Store) tick(ctx context.Context) {
	if state, err := s.inner.Get(ctx, s.params.Self.ID); err == nil {
		s.announce(ctx, state)
	}

	cutoff := s.clock.Now().Add(-s.params.LivenessTimeout)
	silent, err := s.inner.List(ctx, inmemory.Alive(), inmemory.LastSeenBefore(cutoff))
	if err != nil {
		return
	}
	for _, state := range silent {
		if state.Info.ID == s.params.Self.ID {
			continue
		}
		log.Ctx(ctx).Info().
			Str("process", state.Info.ID.ShortID()).
			Msg("peer silent past the liveness timeout, marking dead")
		if err := s.inner.MarkDead(ctx, state.Info.ID); err != nil {
			log.Ctx(ctx).Warn().Err(err).
				Str("process", state.Info.ID.ShortID()).
				Msg("failed to retire silent peer")
		}
	}
}

// compile-time interface assertions
var _ routing.ProcessStore = (*Store)(nil)
var _ routing.FailureDetector = (*Store)(nil)
