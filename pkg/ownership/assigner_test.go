//go:build unit || !integration

package ownership_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/refmesh/refmesh/pkg/logger"
	"github.com/refmesh/refmesh/pkg/models"
	"github.com/refmesh/refmesh/pkg/ownership"
	"github.com/refmesh/refmesh/pkg/pubsub"
	"github.com/refmesh/refmesh/pkg/routing/inmemory"
)

type AssignerSuite struct {
	suite.Suite
	ctx      context.Context
	self     models.ProcessID
	store    *inmemory.ProcessStore
	assigner *ownership.Assigner
}

func TestAssignerSuite(t *testing.T) {
	suite.Run(t, new(AssignerSuite))
}

func (s *AssignerSuite) SetupTest() {
	logger.ConfigureTestLogging(s.T())
	s.ctx = context.Background()
	s.self = models.NewProcessID()
	s.store = inmemory.NewProcessStore(inmemory.ProcessStoreParams{
		LivenessPubSub: pubsub.NewInMemoryPubSub[models.LivenessEvent](),
	})

	assigner, err := ownership.NewAssigner(ownership.AssignerParams{
		ProcessID: s.self,
		Store:     s.store,
	})
	s.Require().NoError(err)
	s.assigner = assigner
}

func (s *AssignerSuite) addProcess(liveness models.ProcessLiveness) models.ProcessID {
	id := models.NewProcessID()
	s.Require().NoError(s.store.Add(s.ctx, models.ProcessState{
		Info:     models.ProcessInfo{ID: id},
		Liveness: liveness,
	}))
	return id
}

func (s *AssignerSuite) TestDefaultsToSelf() {
	owner, err := s.assigner.Assign(s.ctx, "")
	s.Require().NoError(err)
	s.Require().Equal(s.self, owner)

	// self-assignment needs no store entry
	owner, err = s.assigner.Assign(s.ctx, s.self)
	s.Require().NoError(err)
	s.Require().Equal(s.self, owner)
}

func (s *AssignerSuite) TestAssignsAliveProcess() {
	alive := s.addProcess(models.ProcessStates.ALIVE)
	owner, err := s.assigner.Assign(s.ctx, alive)
	s.Require().NoError(err)
	s.Require().Equal(alive, owner)
}

func (s *AssignerSuite) TestRejectsDeadProcess() {
	dead := s.addProcess(models.ProcessStates.DEAD)
	_, err := s.assigner.Assign(s.ctx, dead)
	s.Require().True(models.HasErrorCode(err, models.OwnerUnavailableError))
}

func (s *AssignerSuite) TestRejectsUnknownProcess() {
	_, err := s.assigner.Assign(s.ctx, models.NewProcessID())
	s.Require().True(models.HasErrorCode(err, models.OwnerUnavailableError))
}
