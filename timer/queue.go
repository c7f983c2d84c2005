package timer

import "time"

// slot is one of the 254 addressable timer slots. It is pushed onto the
// deadline queue while armed and popped/reinserted as it expires.
type slot struct {
	id       int
	kind     Kind
	interval time.Duration
	next     time.Time
	index    int // position in the heap, -1 when not queued
}

// deadlineQueue is a min-heap of armed slots ordered by next expiry,
// filling the role of the deadlines priority queue the source's
// event-loop runner threads through `queue.go` — a file present in the
// original project but not retrieved into this pack (see DESIGN.md); this
// is a from-scratch container/heap reconstruction of that role, adapted
// from one-deadline-per-FSM-instance to one-deadline-per-timer-slot.
type deadlineQueue []*slot

func (q deadlineQueue) Len() int { return len(q) }

func (q deadlineQueue) Less(i, j int) bool { return q[i].next.Before(q[j].next) }

func (q deadlineQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *deadlineQueue) Push(x interface{}) {
	s := x.(*slot)
	s.index = len(*q)
	*q = append(*q, s)
}

func (q *deadlineQueue) Pop() interface{} {
	old := *q
	n := len(old)
	s := old[n-1]
	old[n-1] = nil
	s.index = -1
	*q = old[:n-1]
	return s
}
