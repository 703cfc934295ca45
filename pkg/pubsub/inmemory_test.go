//go:build unit || !integration

package pubsub_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/refmesh/refmesh/pkg/pubsub"
)

type InMemoryPubSubSuite struct {
	suite.Suite
	ctx context.Context
}

func TestInMemoryPubSubSuite(t *testing.T) {
	suite.Run(t, new(InMemoryPubSubSuite))
}

func (s *InMemoryPubSubSuite) SetupTest() {
	s.ctx = context.Background()
}

func (s *InMemoryPubSubSuite) TestFanOut() {
	ps := pubsub.NewInMemoryPubSub[string]()
	first := pubsub.NewInMemorySubscriber[string]()
	second := pubsub.NewInMemorySubscriber[string]()
	s.Require().NoError(ps.Subscribe(s.ctx, first))
	s.Require().NoError(ps.Subscribe(s.ctx, second))

	s.Require().NoError(ps.Publish(s.ctx, "hello"))
	s.Require().NoError(ps.Publish(s.ctx, "world"))

	s.Require().Equal([]string{"hello", "world"}, first.Events())
	s.Require().Equal([]string{"hello", "world"}, second.Events())

	// Events drains the recording
	s.Require().Empty(first.Events())
}

func (s *InMemoryPubSubSuite) TestSubscriberErrorsAggregated() {
	ps := pubsub.NewInMemoryPubSub[string]()
	failing := pubsub.SubscriberFunc[string](func(ctx context.Context, msg string) error {
		return errors.New("handler failed")
	})
	recording := pubsub.NewInMemorySubscriber[string]()
	s.Require().NoError(ps.Subscribe(s.ctx, failing))
	s.Require().NoError(ps.Subscribe(s.ctx, recording))

	err := ps.Publish(s.ctx, "msg")
	s.Require().Error(err)
	// a failing subscriber must not starve the others
	s.Require().Equal([]string{"msg"}, recording.Events())
}

func (s *InMemoryPubSubSuite) TestChainedPublisher() {
	first := pubsub.NewInMemorySubscriber[string]()
	second := pubsub.NewInMemorySubscriber[string]()

	chain := pubsub.NewChainedPublisher[string](false)
	chain.Add(pubsub.PublisherFunc[string](func(ctx context.Context, msg string) error {
		return first.Handle(ctx, msg)
	}))
	chain.Add(pubsub.PublisherFunc[string](func(ctx context.Context, msg string) error {
		return second.Handle(ctx, msg)
	}))

	s.Require().NoError(chain.Publish(s.ctx, "msg"))
	s.Require().Equal([]string{"msg"}, first.Events())
	s.Require().Equal([]string{"msg"}, second.Events())
}
