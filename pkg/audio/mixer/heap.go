// Package mixer provides a software output clock for audio backends that
// pull samples from a render callback. A [Timeline] holds buffers scheduled at
// absolute clock times, sums every source that overlaps a render block and
// reports natural completion once a source's last frame has been rendered.
package mixer

// entry wraps a pending source with scheduling metadata for the start queue.
// The seq field keeps FIFO ordering between sources that share a start frame.
type entry struct {
	src   *Source
	start int64  // absolute start frame on the timeline
	seq   uint64 // monotonic insertion order for tie-breaking
}

// startHeap implements [container/heap.Interface] as a min-heap ordered by
// start frame, with FIFO tie-breaking on seq.
type startHeap []entry

func (h startHeap) Len() int { return len(h) }

// Less reports whether element i starts before element j.
func (h startHeap) Less(i, j int) bool {
	if h[i].start != h[j].start {
		return h[i].start < h[j].start
	}
	return h[i].seq < h[j].seq
}

func (h startHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

// Push appends x to the heap. Called by [container/heap.Push]; callers must
// not invoke this directly.
func (h *startHeap) Push(x any) {
	*h = append(*h, x.(entry))
}

// Pop removes and returns the last element. Called by [container/heap.Pop];
// callers must not invoke this directly.
func (h *startHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = entry{}
	*h = old[:n-1]
	return e
}
