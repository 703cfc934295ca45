package pubsub

import (
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// InMemoryPubSub delivers messages synchronously to local subscribers. The
// devstack and the single-process failure detector run on it; over-the-wire
// deployments replace it without touching subscribers.
type InMemoryPubSub[T any] struct {
	subscribers []Subscriber[T]
	mu          sync.RWMutex
}

func NewInMemoryPubSub[T any]() *InMemoryPubSub[T] {
	return &InMemoryPubSub[T]{}
}

func (p *InMemoryPubSub[T]) Publish(ctx context.Context, message T) error {
	p.mu.RLock()
	subscribers := make([]Subscriber[T], len(p.subscribers))
	copy(subscribers, p.subscribers)
	p.mu.RUnlock()

	var errs *multierror.Error
	for _, subscriber := range subscribers {
		errs = multierror.Append(errs, subscriber.Handle(ctx, message))
	}
	return errs.ErrorOrNil()
}

func (p *InMemoryPubSub[T]) Subscribe(ctx context.Context, subscriber Subscriber[T]) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers = append(p.subscribers, subscriber)
	return nil
}

func (p *InMemoryPubSub[T]) Close(ctx context.Context) error {
	return nil
}

// InMemorySubscriber records messages for inspection in tests.
type InMemorySubscriber[T any] struct {
	events []T
	mu     sync.Mutex
}

func NewInMemorySubscriber[T any]() *InMemorySubscriber[T] {
	return &InMemorySubscriber[T]{
		events: make([]T, 0),
	}
}

func (s *InMemorySubscriber[T]) Handle(ctx context.Context, message T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, message)
	return nil
}

// Events returns and clears the recorded messages.
func (s *InMemorySubscriber[T]) Events() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := s.events
	s.events = make([]T, 0)
	return res
}

// compile-time interface assertions
var _ PubSub[string] = (*InMemoryPubSub[string])(nil)
var _ Subscriber[string] = (*InMemorySubscriber[string])(nil)
