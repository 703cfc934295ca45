//go:build unit || !integration

package refcounter_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/refmesh/refmesh/pkg/logger"
	"github.com/refmesh/refmesh/pkg/models"
	"github.com/refmesh/refmesh/pkg/models/messages"
	"github.com/refmesh/refmesh/pkg/refcounter"
	"github.com/refmesh/refmesh/pkg/transport"
)

// fakeCaller answers reachability confirmations from a canned table and
// fails everything else; the counter only ever uses CheckReachability.
type fakeCaller struct {
	mu      sync.Mutex
	reports map[models.ProcessID]messages.ReachabilityReport
	asked   []models.ProcessID
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{reports: make(map[models.ProcessID]messages.ReachabilityReport)}
}

func (f *fakeCaller) setReport(p models.ProcessID, report messages.ReachabilityReport) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports[p] = report
}

func (f *fakeCaller) askedProcesses() []models.ProcessID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.ProcessID(nil), f.asked...)
}

func (f *fakeCaller) CheckReachability(ctx context.Context, to models.ProcessID, request messages.ReachabilityRequest) (messages.ReachabilityReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.asked = append(f.asked, to)
	report, ok := f.reports[to]
	if !ok {
		return messages.ReachabilityReport{}, transport.NewErrUnreachable(to)
	}
	return report, nil
}

func (f *fakeCaller) RegisterOwner(ctx context.Context, to models.ProcessID, request messages.RegisterOwnerRequest) (messages.RegisterOwnerResponse, error) {
	return messages.RegisterOwnerResponse{}, transport.NewErrUnreachable(to)
}

func (f *fakeCaller) Increment(ctx context.Context, to models.ProcessID, request messages.IncrementRequest) (messages.RefCountResponse, error) {
	return messages.RefCountResponse{}, transport.NewErrUnreachable(to)
}

func (f *fakeCaller) Decrement(ctx context.Context, to models.ProcessID, request messages.DecrementRequest) (messages.RefCountResponse, error) {
	return messages.RefCountResponse{}, transport.NewErrUnreachable(to)
}

func (f *fakeCaller) ForwardReference(ctx context.Context, to models.ProcessID, request messages.ReceiveReference) error {
	return transport.NewErrUnreachable(to)
}

func (f *fakeCaller) GetObject(ctx context.Context, to models.ProcessID, request messages.GetObjectRequest) (messages.GetObjectResponse, error) {
	return messages.GetObjectResponse{}, transport.NewErrUnreachable(to)
}

var _ transport.RefCaller = (*fakeCaller)(nil)

type CounterSuite struct {
	suite.Suite
	ctx     context.Context
	owner   models.ProcessID
	caller  *fakeCaller
	counter *refcounter.Counter

	freedMu sync.Mutex
	freed   []models.ObjectID
}

func TestCounterSuite(t *testing.T) {
	suite.Run(t, new(CounterSuite))
}

func (s *CounterSuite) SetupTest() {
	logger.ConfigureTestLogging(s.T())
	s.ctx = context.Background()
	s.owner = models.NewProcessID()
	s.caller = newFakeCaller()
	s.freed = nil

	counter, err := refcounter.NewCounter(refcounter.CounterParams{
		ProcessID:   s.owner,
		Caller:      s.caller,
		GracePeriod: 100 * time.Millisecond,
		OnFreed: func(ctx context.Context, entry models.ObjectEntry) {
			s.freedMu.Lock()
			s.freed = append(s.freed, entry.ID)
			s.freedMu.Unlock()
		},
	})
	s.Require().NoError(err)
	s.counter = counter
}

func (s *CounterSuite) TearDownTest() {
	s.counter.Close()
}

func (s *CounterSuite) freedObjects() []models.ObjectID {
	s.freedMu.Lock()
	defer s.freedMu.Unlock()
	return append([]models.ObjectID(nil), s.freed...)
}

// register creates an AVAILABLE entry created and owned locally.
func (s *CounterSuite) register(id models.ObjectID) {
	_, err := s.counter.RegisterOwner(s.ctx, id, s.owner, nil)
	s.Require().NoError(err)
	s.Require().NoError(s.counter.MarkAvailable(s.ctx, id))
}

func (s *CounterSuite) TestRegisterOwner() {
	id := models.NewObjectID()
	entry, err := s.counter.RegisterOwner(s.ctx, id, s.owner, nil)
	s.Require().NoError(err)
	s.Require().Equal(models.ObjectStatuses.PENDING, entry.Status)
	s.Require().EqualValues(1, entry.LiveRefCount)
	s.Require().Empty(entry.BorrowerRoots, "the local creating handle is not a borrower root")
}

func (s *CounterSuite) TestRegisterOwnerRemoteCreator() {
	id := models.NewObjectID()
	creator := models.NewProcessID()
	entry, err := s.counter.RegisterOwner(s.ctx, id, creator, nil)
	s.Require().NoError(err)
	s.Require().EqualValues(1, entry.LiveRefCount)
	s.Require().Contains(entry.BorrowerRoots, creator)
}

func (s *CounterSuite) TestRegisterOwnerDuplicate() {
	id := models.NewObjectID()
	s.register(id)

	entry, err := s.counter.RegisterOwner(s.ctx, id, s.owner, nil)
	s.Require().NoError(err)
	s.Require().EqualValues(1, entry.LiveRefCount, "duplicate registration must not double-count")

	_, err = s.counter.RegisterOwner(s.ctx, id, models.NewProcessID(), nil)
	s.Require().True(models.HasErrorCode(err, models.ValidationFailed))
}

func (s *CounterSuite) TestIncrementDecrement() {
	id := models.NewObjectID()
	s.register(id)
	borrower := models.NewProcessID()

	resp, err := s.counter.Increment(s.ctx, messages.IncrementRequest{
		ObjectID: id, Sender: borrower, Sequence: 1,
	})
	s.Require().NoError(err)
	s.Require().EqualValues(2, resp.RefCount)

	resp, err = s.counter.Decrement(s.ctx, messages.DecrementRequest{
		ObjectID: id, Sender: borrower, Sequence: 2,
	})
	s.Require().NoError(err)
	s.Require().EqualValues(1, resp.RefCount)
	s.Require().Equal(models.ObjectStatuses.AVAILABLE, resp.Status)
	s.Require().Empty(s.freedObjects())
}

func (s *CounterSuite) TestReplayedMessagesIgnored() {
	id := models.NewObjectID()
	s.register(id)
	borrower := models.NewProcessID()

	for i := 0; i < 3; i++ {
		resp, err := s.counter.Increment(s.ctx, messages.IncrementRequest{
			ObjectID: id, Sender: borrower, Sequence: 1,
		})
		s.Require().NoError(err)
		s.Require().EqualValues(2, resp.RefCount, "replayed increments must not stack")
	}

	for i := 0; i < 3; i++ {
		resp, err := s.counter.Decrement(s.ctx, messages.DecrementRequest{
			ObjectID: id, Sender: borrower, Sequence: 2,
		})
		s.Require().NoError(err)
		s.Require().EqualValues(1, resp.RefCount, "replayed decrements must not stack")
	}
}

func (s *CounterSuite) TestFreedWhenLastReferenceDropped() {
	id := models.NewObjectID()
	s.register(id)

	resp, err := s.counter.Decrement(s.ctx, messages.DecrementRequest{
		ObjectID: id, Sender: s.owner, Sequence: 1,
	})
	s.Require().NoError(err)
	s.Require().EqualValues(0, resp.RefCount)
	s.Require().Equal(models.ObjectStatuses.FREED, resp.Status)
	s.Require().Equal([]models.ObjectID{id}, s.freedObjects())
}

func (s *CounterSuite) TestNotFreedWhilePending() {
	id := models.NewObjectID()
	_, err := s.counter.RegisterOwner(s.ctx, id, s.owner, nil)
	s.Require().NoError(err)

	// the payload is not stored yet; dropping the only handle must not free
	resp, err := s.counter.Decrement(s.ctx, messages.DecrementRequest{
		ObjectID: id, Sender: s.owner, Sequence: 1,
	})
	s.Require().NoError(err)
	s.Require().Equal(models.ObjectStatuses.PENDING, resp.Status)
	s.Require().Empty(s.freedObjects())
}

func (s *CounterSuite) TestIncrementAfterFreedIsReclaimed() {
	id := models.NewObjectID()
	s.register(id)
	_, err := s.counter.Decrement(s.ctx, messages.DecrementRequest{
		ObjectID: id, Sender: s.owner, Sequence: 1,
	})
	s.Require().NoError(err)

	_, err = s.counter.Increment(s.ctx, messages.IncrementRequest{
		ObjectID: id, Sender: models.NewProcessID(), Sequence: 1,
	})
	s.Require().True(models.HasErrorCode(err, models.ReclaimedError))
}

func (s *CounterSuite) TestUnknownObject() {
	id := models.NewObjectID()
	_, err := s.counter.Increment(s.ctx, messages.IncrementRequest{
		ObjectID: id, Sender: s.owner, Sequence: 1,
	})
	s.Require().True(models.HasErrorCode(err, models.NotFoundError))

	_, err = s.counter.QueryStatus(s.ctx, id)
	s.Require().True(models.HasErrorCode(err, models.NotFoundError))
}

func (s *CounterSuite) TestSubBorrowersBlockFreeing() {
	id := models.NewObjectID()
	s.register(id)
	parent := models.NewProcessID()
	child := models.NewProcessID()

	_, err := s.counter.Increment(s.ctx, messages.IncrementRequest{
		ObjectID: id, Sender: parent, Sequence: 1,
	})
	s.Require().NoError(err)

	// local handle goes away; only the parent's branch remains
	_, err = s.counter.Decrement(s.ctx, messages.DecrementRequest{
		ObjectID: id, Sender: s.owner, Sequence: 1,
	})
	s.Require().NoError(err)

	// the child still holds the reference and answers confirmations
	s.caller.setReport(child, messages.ReachabilityReport{
		ObjectID: id, Sender: child, HasLiveBranch: true,
	})

	// the parent drops but reports the child it forwarded to
	resp, err := s.counter.Decrement(s.ctx, messages.DecrementRequest{
		ObjectID: id, Sender: parent, Sequence: 2,
		KnownSubBorrowers: []models.ProcessID{child},
	})
	s.Require().NoError(err)
	s.Require().EqualValues(0, resp.RefCount)
	s.Require().Equal(models.ObjectStatuses.AVAILABLE, resp.Status, "doubtful branch must block freeing")

	// the child registers late; its branch is adopted as a root
	_, err = s.counter.Increment(s.ctx, messages.IncrementRequest{
		ObjectID: id, Sender: child, Sequence: 1,
	})
	s.Require().NoError(err)

	entry, ok := s.counter.Entry(id)
	s.Require().True(ok)
	s.Require().Equal(models.ObjectStatuses.AVAILABLE, entry.Status)
	s.Require().Contains(entry.BorrowerRoots, child)

	// and the object survives until the child drops too
	_, err = s.counter.Decrement(s.ctx, messages.DecrementRequest{
		ObjectID: id, Sender: child, Sequence: 2,
	})
	s.Require().NoError(err)
	s.Require().Equal([]models.ObjectID{id}, s.freedObjects())
}

func (s *CounterSuite) TestUnreachableBranchRetiredAfterGrace() {
	id := models.NewObjectID()
	s.register(id)
	parent := models.NewProcessID()
	ghost := models.NewProcessID()

	_, err := s.counter.Increment(s.ctx, messages.IncrementRequest{
		ObjectID: id, Sender: parent, Sequence: 1,
	})
	s.Require().NoError(err)
	_, err = s.counter.Decrement(s.ctx, messages.DecrementRequest{
		ObjectID: id, Sender: s.owner, Sequence: 1,
	})
	s.Require().NoError(err)

	// the ghost never registers and never answers; after the grace period
	// its branch is retired and the object freed
	_, err = s.counter.Decrement(s.ctx, messages.DecrementRequest{
		ObjectID: id, Sender: parent, Sequence: 2,
		KnownSubBorrowers: []models.ProcessID{ghost},
	})
	s.Require().NoError(err)

	s.Require().Eventually(func() bool {
		entry, ok := s.counter.Entry(id)
		return ok && entry.Status == models.ObjectStatuses.FREED
	}, 3*time.Second, 20*time.Millisecond)
	s.Require().Contains(s.caller.askedProcesses(), ghost)
	s.Require().Equal([]models.ObjectID{id}, s.freedObjects())
}

func (s *CounterSuite) TestDeadRootHeldForGraceThenRetired() {
	id := models.NewObjectID()
	s.register(id)
	borrower := models.NewProcessID()

	_, err := s.counter.Increment(s.ctx, messages.IncrementRequest{
		ObjectID: id, Sender: borrower, Sequence: 1,
	})
	s.Require().NoError(err)
	_, err = s.counter.Decrement(s.ctx, messages.DecrementRequest{
		ObjectID: id, Sender: s.owner, Sequence: 1,
	})
	s.Require().NoError(err)

	s.counter.OnProcessDead(s.ctx, borrower)

	entry, ok := s.counter.Entry(id)
	s.Require().True(ok)
	s.Require().NotContains(entry.BorrowerRoots, borrower)
	s.Require().Equal(models.ObjectStatuses.AVAILABLE, entry.Status,
		"dead root's branch must be held open for the grace period")

	s.Require().Eventually(func() bool {
		entry, ok := s.counter.Entry(id)
		return ok && entry.Status == models.ObjectStatuses.FREED
	}, 3*time.Second, 20*time.Millisecond)
}

func (s *CounterSuite) TestRetiredBranchDescendantsAdopted() {
	id := models.NewObjectID()
	s.register(id)
	parent := models.NewProcessID()
	mid := models.NewProcessID()
	leaf := models.NewProcessID()

	_, err := s.counter.Increment(s.ctx, messages.IncrementRequest{
		ObjectID: id, Sender: parent, Sequence: 1,
	})
	s.Require().NoError(err)
	_, err = s.counter.Decrement(s.ctx, messages.DecrementRequest{
		ObjectID: id, Sender: s.owner, Sequence: 1,
	})
	s.Require().NoError(err)

	// mid retired its own handle but fronted leaf, which still holds
	s.caller.setReport(mid, messages.ReachabilityReport{
		ObjectID: id, Sender: mid, HasLiveBranch: false,
		SubBorrowers: []models.ProcessID{leaf},
	})
	s.caller.setReport(leaf, messages.ReachabilityReport{
		ObjectID: id, Sender: leaf, HasLiveBranch: true,
	})

	// the parent only ever knew about mid
	_, err = s.counter.Decrement(s.ctx, messages.DecrementRequest{
		ObjectID: id, Sender: parent, Sequence: 2,
		KnownSubBorrowers: []models.ProcessID{mid},
	})
	s.Require().NoError(err)

	// mid's confirmation retires its branch but hands leaf to the owner,
	// which must keep the object alive on leaf's behalf
	time.Sleep(400 * time.Millisecond)
	entry, ok := s.counter.Entry(id)
	s.Require().True(ok)
	s.Require().Equal(models.ObjectStatuses.AVAILABLE, entry.Status,
		"a descendant reported by a retired branch must block freeing")
	s.Require().Contains(s.caller.askedProcesses(), mid)
	s.Require().Contains(s.caller.askedProcesses(), leaf)

	s.caller.setReport(leaf, messages.ReachabilityReport{
		ObjectID: id, Sender: leaf, HasLiveBranch: false,
	})
	s.Require().Eventually(func() bool {
		entry, ok := s.counter.Entry(id)
		return ok && entry.Status == models.ObjectStatuses.FREED
	}, 3*time.Second, 20*time.Millisecond)
}

func (s *CounterSuite) TestLiveBranchGetsAnotherGracePeriod() {
	id := models.NewObjectID()
	s.register(id)
	parent := models.NewProcessID()
	child := models.NewProcessID()

	_, err := s.counter.Increment(s.ctx, messages.IncrementRequest{
		ObjectID: id, Sender: parent, Sequence: 1,
	})
	s.Require().NoError(err)
	_, err = s.counter.Decrement(s.ctx, messages.DecrementRequest{
		ObjectID: id, Sender: s.owner, Sequence: 1,
	})
	s.Require().NoError(err)

	s.caller.setReport(child, messages.ReachabilityReport{
		ObjectID: id, Sender: child, HasLiveBranch: true,
	})
	_, err = s.counter.Decrement(s.ctx, messages.DecrementRequest{
		ObjectID: id, Sender: parent, Sequence: 2,
		KnownSubBorrowers: []models.ProcessID{child},
	})
	s.Require().NoError(err)

	// the child keeps answering "alive": the object must stay AVAILABLE
	// across several confirmation rounds
	time.Sleep(400 * time.Millisecond)
	entry, ok := s.counter.Entry(id)
	s.Require().True(ok)
	s.Require().Equal(models.ObjectStatuses.AVAILABLE, entry.Status)

	// once it stops holding, the branch retires and the object is freed
	s.caller.setReport(child, messages.ReachabilityReport{
		ObjectID: id, Sender: child, HasLiveBranch: false,
	})
	s.Require().Eventually(func() bool {
		entry, ok := s.counter.Entry(id)
		return ok && entry.Status == models.ObjectStatuses.FREED
	}, 3*time.Second, 20*time.Millisecond)
}
