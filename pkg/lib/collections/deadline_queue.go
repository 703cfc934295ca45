package collections

import (
	"container/heap"
	"fmt"
	"time"
)

// DeadlineQueue is a deduplicating min-heap of items ordered by deadline.
// The reference counter uses it to drive reachability-confirmation timeouts:
// one item per pending confirmation, popped when its grace period elapses.
type DeadlineQueue[T any] struct {
	index map[string]*deadlineNode[T]
	heap  deadlineHeap[T]
}

// Deadlined is implemented by items stored in a DeadlineQueue.
type Deadlined[T any] interface {
	Data() T              // the item itself
	ID() string           // dedup key
	Deadline() time.Time  // when the item becomes due
}

func NewDeadlineQueue[T any]() *DeadlineQueue[T] {
	return &DeadlineQueue[T]{
		index: make(map[string]*deadlineNode[T]),
		heap:  make(deadlineHeap[T], 0),
	}
}

func (q *DeadlineQueue[T]) Push(item Deadlined[T]) error {
	if _, ok := q.index[item.ID()]; ok {
		return fmt.Errorf("item %s already queued", item.ID())
	}
	node := &deadlineNode[T]{Item: item}
	q.index[item.ID()] = node
	heap.Push(&q.heap, node)
	return nil
}

// Pop removes and returns the item with the earliest deadline, or nil when
// the queue is empty.
func (q *DeadlineQueue[T]) Pop() Deadlined[T] {
	if q.heap.Len() == 0 {
		return nil
	}
	node := heap.Pop(&q.heap).(*deadlineNode[T])
	delete(q.index, node.Item.ID())
	return node.Item
}

// Peek returns the item with the earliest deadline without removing it.
func (q *DeadlineQueue[T]) Peek() Deadlined[T] {
	if len(q.heap) == 0 {
		return nil
	}
	return q.heap[0].Item
}

func (q *DeadlineQueue[T]) Contains(id string) bool {
	_, ok := q.index[id]
	return ok
}

// Update replaces an already-queued item and re-sorts it by its new
// deadline.
func (q *DeadlineQueue[T]) Update(item Deadlined[T]) error {
	node, ok := q.index[item.ID()]
	if !ok {
		return fmt.Errorf("queue doesn't contain item with ID %q", item.ID())
	}
	node.Item = item
	heap.Fix(&q.heap, node.pos)
	return nil
}

func (q *DeadlineQueue[T]) Remove(id string) {
	if node, ok := q.index[id]; ok {
		heap.Remove(&q.heap, node.pos)
		delete(q.index, id)
	}
}

func (q *DeadlineQueue[T]) Len() int {
	return q.heap.Len()
}

type deadlineNode[T any] struct {
	Item Deadlined[T]
	// pos is the node's position in the heap, needed for heap.Fix.
	pos int
}

type deadlineHeap[T any] []*deadlineNode[T]

func (h deadlineHeap[T]) Len() int { return len(h) }

// Less sorts zero deadlines last, earliest deadline first otherwise.
func (h deadlineHeap[T]) Less(i, j int) bool {
	if h[i].Item.Deadline().IsZero() {
		return false
	}
	if h[j].Item.Deadline().IsZero() {
		return true
	}
	return h[i].Item.Deadline().Before(h[j].Item.Deadline())
}

func (h deadlineHeap[T]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].pos = i
	h[j].pos = j
}

func (h *deadlineHeap[T]) Push(x interface{}) {
	node := x.(*deadlineNode[T])
	node.pos = len(*h)
	*h = append(*h, node)
}

func (h *deadlineHeap[T]) Pop() interface{} {
	old := *h
	n := len(old)
	node := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return node
}
