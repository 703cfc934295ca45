//go:build unit || !integration

package collections_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/refmesh/refmesh/pkg/lib/collections"
)

type testItem struct {
	id       string
	deadline time.Time
}

func (t testItem) Data() testItem      { return t }
func (t testItem) ID() string          { return t.id }
func (t testItem) Deadline() time.Time { return t.deadline }

type DeadlineQueueSuite struct {
	suite.Suite
	q *collections.DeadlineQueue[testItem]
}

func TestDeadlineQueueSuite(t *testing.T) {
	suite.Run(t, new(DeadlineQueueSuite))
}

func (s *DeadlineQueueSuite) SetupTest() {
	s.q = collections.NewDeadlineQueue[testItem]()
}

func (s *DeadlineQueueSuite) TestOrdering() {
	now := time.Now()
	s.Require().NoError(s.q.Push(testItem{id: "b", deadline: now.Add(2 * time.Second)}))
	s.Require().NoError(s.q.Push(testItem{id: "a", deadline: now.Add(time.Second)}))
	s.Require().NoError(s.q.Push(testItem{id: "c", deadline: now.Add(3 * time.Second)}))

	s.Require().Equal(3, s.q.Len())
	s.Require().Equal("a", s.q.Peek().ID())
	s.Require().Equal("a", s.q.Pop().ID())
	s.Require().Equal("b", s.q.Pop().ID())
	s.Require().Equal("c", s.q.Pop().ID())
	s.Require().Nil(s.q.Pop())
	s.Require().Nil(s.q.Peek())
}

func (s *DeadlineQueueSuite) TestDedup() {
	now := time.Now()
	s.Require().NoError(s.q.Push(testItem{id: "a", deadline: now}))
	s.Require().Error(s.q.Push(testItem{id: "a", deadline: now.Add(time.Second)}))
	s.Require().Equal(1, s.q.Len())
	s.Require().True(s.q.Contains("a"))
}

func (s *DeadlineQueueSuite) TestUpdate() {
	now := time.Now()
	s.Require().NoError(s.q.Push(testItem{id: "a", deadline: now.Add(time.Second)}))
	s.Require().NoError(s.q.Push(testItem{id: "b", deadline: now.Add(2 * time.Second)}))

	// pushing "a" past "b" reorders the heap
	s.Require().NoError(s.q.Update(testItem{id: "a", deadline: now.Add(3 * time.Second)}))
	s.Require().Equal("b", s.q.Peek().ID())

	s.Require().Error(s.q.Update(testItem{id: "missing", deadline: now}))
}

func (s *DeadlineQueueSuite) TestRemove() {
	now := time.Now()
	s.Require().NoError(s.q.Push(testItem{id: "a", deadline: now.Add(time.Second)}))
	s.Require().NoError(s.q.Push(testItem{id: "b", deadline: now.Add(2 * time.Second)}))

	s.q.Remove("a")
	s.Require().False(s.q.Contains("a"))
	s.Require().Equal(1, s.q.Len())
	s.Require().Equal("b", s.q.Peek().ID())

	// removing an unknown ID is a no-op
	s.q.Remove("missing")
	s.Require().Equal(1, s.q.Len())
}

func (s *DeadlineQueueSuite) TestZeroDeadlineSortsLast() {
	now := time.Now()
	s.Require().NoError(s.q.Push(testItem{id: "zero"}))
	s.Require().NoError(s.q.Push(testItem{id: "a", deadline: now}))

	s.Require().Equal("a", s.q.Pop().ID())
	s.Require().Equal("zero", s.q.Pop().ID())
}
