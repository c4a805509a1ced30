package measure

import (
	"errors"
	"slices"
	"sync"
)

// ErrAlreadyQueued is returned when enqueuing a measure twice.
var ErrAlreadyQueued = errors.New("measure already queued")

// Queue holds the measures waiting to be run, in order.
type Queue struct {
	mu       sync.Mutex
	measures []*Measure
}

// NewQueue returns a queue holding measures.
func NewQueue(measures ...*Measure) *Queue {
	q := &Queue{}
	for _, m := range measures {
		_ = q.Enqueue(m)
	}
	return q
}

func (q *Queue) Enqueue(m *Measure) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if slices.Contains(q.measures, m) {
		return ErrAlreadyQueued
	}
	q.measures = append(q.measures, m)
	return nil
}

// Dequeue removes and returns the oldest measure.
func (q *Queue) Dequeue() (*Measure, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.measures) == 0 {
		return nil, false
	}
	m := q.measures[0]
	q.measures[0] = nil
	q.measures = q.measures[1:]
	return m, true
}

// Remove drops m from the queue and reports whether it was queued.
func (q *Queue) Remove(m *Measure) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := slices.Index(q.measures, m)
	if i < 0 {
		return false
	}
	q.measures = slices.Delete(q.measures, i, i+1)
	return true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.measures)
}

// Pending returns the queued measures in order.
func (q *Queue) Pending() []*Measure {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.measures)
}
