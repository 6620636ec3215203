// Package wake suspends callers until an epoch-second target and then fires
// a callback exactly once.
//
// A Scheduler owns one delivery goroutine and a min-heap of pending wakes
// ordered by target. The goroutine peeks the root, sleeps until it is due,
// then pops it and fires its callback on a separate goroutine, so several
// waits in one process never block each other. A buffered notify channel
// lets Schedule and Abandon interrupt the sleep whenever the root changes.
package wake

import "container/heap"

// minHeap is a slice of *Wake that satisfies heap.Interface.
// The smallest target sits at index 0; ties keep scheduling order.
type minHeap []*Wake

func (h minHeap) Len() int { return len(h) }

func (h minHeap) Less(i, j int) bool {
	if h[i].target != h[j].target {
		return h[i].target < h[j].target
	}
	return h[i].seq < h[j].seq
}

func (h minHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIdx = i
	h[j].heapIdx = j
}

func (h *minHeap) Push(x any) {
	n := len(*h)
	w := x.(*Wake)
	w.heapIdx = n
	*h = append(*h, w)
}

func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	w := old[n-1]
	old[n-1] = nil // allow GC
	w.heapIdx = -1 // mark as not in heap
	*h = old[:n-1]
	return w
}

// remove removes the wake at position idx and re-heapifies in O(log N).
func (h *minHeap) remove(idx int) *Wake {
	return heap.Remove(h, idx).(*Wake)
}
