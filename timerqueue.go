package evloop

import "container/heap"

// timerEntry pairs a Handle with its heap position; the sequence number
// assigned at enqueue time breaks ties between handles with equal
// deadlines in insertion order.
type timerEntry struct {
	deadline float64
	seq      uint64
	handle   *Handle
	index    int
}

// timerHeap implements container/heap.Interface, ordering by
// (deadline, seq) so that the minimum entry is always the earliest
// pending, earliest-inserted handle.
type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline != h[j].deadline {
		return h[i].deadline < h[j].deadline
	}
	return h[i].seq < h[j].seq
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// timerQueue is the min-heap based priority queue of deferred Handles
// keyed by deadline, described in spec.md §4.2. Handles with no deadline
// are treated as deadline = -Inf (always due).
type timerQueue struct {
	heap timerHeap
}

const negInf = -1e300 // effectively -Inf for our float64 deadlines

// enqueue accepts any Handle; a Handle with no explicit deadline is
// assigned deadline = -Inf so it is always due.
func (q *timerQueue) enqueue(h *Handle) {
	d := negInf
	if h.hasDeadline {
		d = h.deadline
	}
	heap.Push(&q.heap, &timerEntry{deadline: d, seq: nextHandleSeq(), handle: h})
}

// popPending removes and returns, in non-decreasing (deadline, seq) order,
// every entry whose deadline is <= upTo. Cancelled entries are dropped
// silently and do not appear in the result.
func (q *timerQueue) popPending(upTo float64) []*Handle {
	var out []*Handle
	for len(q.heap) > 0 && q.heap[0].deadline <= upTo {
		e := heap.Pop(&q.heap).(*timerEntry)
		if e.handle.Cancelled() {
			continue
		}
		out = append(out, e.handle)
	}
	return out
}

// nextEvent returns the deadline of the current minimum non-cancelled
// entry, lazily discarding cancelled entries found at the top of the heap.
func (q *timerQueue) nextEvent() (float64, bool) {
	for len(q.heap) > 0 {
		top := q.heap[0]
		if top.handle.Cancelled() {
			heap.Pop(&q.heap)
			continue
		}
		return top.deadline, true
	}
	return 0, false
}

// len reports the number of entries still in the heap, including any
// not-yet-lazily-discarded cancelled ones.
func (q *timerQueue) len() int {
	return len(q.heap)
}
