package scheduler

import (
	"container/heap"
	"time"
)

// EventKind is the dispatch tag for an Event popped from the queue.
type EventKind string

const (
	EventReadyCheck         EventKind = "ready-check"
	EventWorkerFree         EventKind = "worker-free"
	EventMachineFree        EventKind = "machine-free"
	EventTaskComplete       EventKind = "task-complete"
	EventReassignmentTrigger EventKind = "reassignment-trigger"
	EventIterationAdvance   EventKind = "iteration-advance"
)

// Event is a single entry in the simulator's event queue: a fire time, a
// dispatch kind, and an opaque payload the simulator interprets.
type Event struct {
	FireTime time.Time
	Kind     EventKind
	Payload  interface{}

	sequence int
	index    int // heap.Interface bookkeeping
}

// eventHeap is a monotonic min-priority store of events keyed by
// (fire-time, sequence), satisfying container/heap.Interface.
type eventHeap []*Event

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if !h[i].FireTime.Equal(h[j].FireTime) {
		return h[i].FireTime.Before(h[j].FireTime)
	}
	return h[i].sequence < h[j].sequence
}

func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *eventHeap) Push(x interface{}) {
	e := x.(*Event)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *eventHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// EventQueue is the simulator's event store: O(log N) insert and pop of
// the minimum (fire-time, sequence) pair.
type EventQueue struct {
	h       eventHeap
	nextSeq int
}

// NewEventQueue returns an empty event queue.
func NewEventQueue() *EventQueue {
	q := &EventQueue{}
	heap.Init(&q.h)
	return q
}

// Push schedules a new event, assigning it the next monotonic sequence
// number so same-instant events stay in insertion order.
func (q *EventQueue) Push(fireTime time.Time, kind EventKind, payload interface{}) {
	e := &Event{FireTime: fireTime, Kind: kind, Payload: payload, sequence: q.nextSeq}
	q.nextSeq++
	heap.Push(&q.h, e)
}

// Pop removes and returns the event with the smallest (fire-time,
// sequence), or ok=false if the queue is empty.
func (q *EventQueue) Pop() (*Event, bool) {
	if q.h.Len() == 0 {
		return nil, false
	}
	e := heap.Pop(&q.h).(*Event)
	return e, true
}

// Len reports the number of pending events.
func (q *EventQueue) Len() int { return q.h.Len() }
