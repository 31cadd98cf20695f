package ingest

import (
	"fmt"
	"strings"
)

// OverflowPolicy decides what a full queue does with a new measurement.
type OverflowPolicy int

const (
	// DropOldest evicts the oldest buffered measurement to admit the new one.
	DropOldest OverflowPolicy = iota
	// DropNewest discards the incoming measurement.
	DropNewest
	// Unbounded never drops; capacity is ignored.
	Unbounded
)

// String returns the config spelling of the policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "drop-oldest"
	case DropNewest:
		return "drop-newest"
	case Unbounded:
		return "unbounded"
	default:
		return "unknown"
	}
}

// ParseOverflowPolicy parses the config spelling of a policy.
// The empty string selects DropOldest.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "drop-oldest", "dropoldest":
		return DropOldest, nil
	case "drop-newest", "dropnewest":
		return DropNewest, nil
	case "unbounded", "none":
		return Unbounded, nil
	default:
		return DropOldest, fmt.Errorf("unsupported overflow policy %q: expected drop-oldest, drop-newest or unbounded", s)
	}
}

// queue is a FIFO with a capacity and an overflow policy. It is not safe
// for concurrent use; Buffers guards every queue with a lock.
type queue[T any] struct {
	items    []T
	head     int
	capacity int
	policy   OverflowPolicy
	pushed   uint64
	dropped  uint64
}

func newQueue[T any](capacity int, policy OverflowPolicy) queue[T] {
	if capacity <= 0 {
		policy = Unbounded
	}
	return queue[T]{capacity: capacity, policy: policy}
}

// push appends item, applying the overflow policy. It reports whether a
// measurement (the evicted one or item itself) was dropped.
func (q *queue[T]) push(item T) bool {
	q.pushed++
	if q.policy != Unbounded && q.len() >= q.capacity {
		q.dropped++
		if q.policy == DropNewest {
			return true
		}
		q.popFront()
		q.items = append(q.items, item)
		return true
	}
	q.items = append(q.items, item)
	return false
}

func (q *queue[T]) len() int { return len(q.items) - q.head }

func (q *queue[T]) empty() bool { return q.len() == 0 }

func (q *queue[T]) front() T { return q.items[q.head] }

func (q *queue[T]) back() T { return q.items[len(q.items)-1] }

func (q *queue[T]) popFront() T {
	var zero T
	item := q.items[q.head]
	q.items[q.head] = zero
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 64 && q.head*2 > len(q.items) {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
	return item
}

// snapshot copies the buffered measurements, oldest first.
func (q *queue[T]) snapshot() []T {
	out := make([]T, q.len())
	copy(out, q.items[q.head:])
	return out
}

// drain removes and returns every buffered measurement.
func (q *queue[T]) drain() []T {
	out := q.snapshot()
	clear(q.items)
	q.items = q.items[:0]
	q.head = 0
	return out
}
