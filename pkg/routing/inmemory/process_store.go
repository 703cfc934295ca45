package inmemory

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/samber/lo"
	"github.com/rs/zerolog/log"

	"github.com/refmesh/refmesh/pkg/models"
	"github.com/refmesh/refmesh/pkg/pubsub"
	"github.com/refmesh/refmesh/pkg/routing"
)

type ProcessStoreParams struct {
	// LivenessPubSub receives a LivenessEvent whenever the detector's view
	// of a process changes. Optional.
	LivenessPubSub pubsub.Publisher[models.LivenessEvent]
	Clock          clock.Clock
}

// ProcessStore is an in-memory implementation of both the ProcessStore and
// the FailureDetector. One instance is shared by every component of a
// process; the devstack shares one across all simulated processes so a kill
// is observed cluster-wide.
type ProcessStore struct {
	states   map[models.ProcessID]models.ProcessState
	livePub  pubsub.Publisher[models.LivenessEvent]
	clock    clock.Clock
	mu       sync.RWMutex
}

func NewProcessStore(params ProcessStoreParams) *ProcessStore {
	if params.Clock == nil {
		params.Clock = clock.New()
	}
	return &ProcessStore{
		states:  make(map[models.ProcessID]models.ProcessState),
		livePub: params.LivenessPubSub,
		clock:   params.Clock,
	}
}

func (s *ProcessStore) Add(ctx context.Context, state models.ProcessState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.states[state.Info.ID]; ok && !existing.Liveness.IsAlive() {
		// a dead process never comes back under the same ID
		return models.NewBaseError("process %s was already reported dead", state.Info.ID).
			WithCode(models.ValidationFailed).
			WithProcessID(state.Info.ID)
	}
	s.states[state.Info.ID] = state
	return nil
}

func (s *ProcessStore) Get(ctx context.Context, processID models.ProcessID) (models.ProcessState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[processID]
	if !ok {
		return models.ProcessState{}, routing.NewErrProcessNotFound(processID)
	}
	return state, nil
}

func (s *ProcessStore) IsAlive(ctx context.Context, processID models.ProcessID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[processID]
	return ok && state.Liveness.IsAlive()
}

func (s *ProcessStore) List(ctx context.Context, filters ...routing.ProcessStateFilter) ([]models.ProcessState, error) {
	s.mu.RLock()
	states := lo.Values(s.states)
	s.mu.RUnlock()

	if len(filters) == 0 {
		return states, nil
	}
	return lo.Filter(states, func(state models.ProcessState, _ int) bool {
		for _, filter := range filters {
			if !filter(state) {
				return false
			}
		}
		return true
	}), nil
}

func (s *ProcessStore) Delete(ctx context.Context, processID models.ProcessID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, processID)
	return nil
}

func (s *ProcessStore) MarkAlive(ctx context.Context, processID models.ProcessID) error {
	return s.setLiveness(ctx, processID, models.ProcessStates.ALIVE)
}

func (s *ProcessStore) MarkDead(ctx context.Context, processID models.ProcessID) error {
	return s.setLiveness(ctx, processID, models.ProcessStates.DEAD)
}

func (s *ProcessStore) setLiveness(ctx context.Context, processID models.ProcessID, liveness models.ProcessLiveness) error {
	s.mu.Lock()
	state, ok := s.states[processID]
	if !ok {
		state = models.ProcessState{Info: models.ProcessInfo{ID: processID}}
	}
	changed := state.Liveness != liveness
	state.Liveness = liveness
	if liveness.IsAlive() {
		state.LastSeen = s.clock.Now()
	}
	s.states[processID] = state
	s.mu.Unlock()

	if !changed || s.livePub == nil {
		return nil
	}
	event := models.LivenessEvent{
		ProcessID: processID,
		Liveness:  liveness,
		Timestamp: s.clock.Now(),
	}
	if err := s.livePub.Publish(ctx, event); err != nil {
		log.Ctx(ctx).Error().Err(err).
			Str("process", processID.ShortID()).
			Msg("failed to publish liveness event")
		return err
	}
	return nil
}

// Alive is a filter for live processes.
func Alive() routing.ProcessStateFilter {
	return func(state models.ProcessState) bool {
		return state.Liveness.IsAlive()
	}
}

// LastSeenBefore filters processes last confirmed alive before t.
func LastSeenBefore(t time.Time) routing.ProcessStateFilter {
	return func(state models.ProcessState) bool {
		return state.LastSeen.Before(t)
	}
}

// compile-time interface assertions
var _ routing.ProcessStore = (*ProcessStore)(nil)
var _ routing.FailureDetector = (*ProcessStore)(nil)
