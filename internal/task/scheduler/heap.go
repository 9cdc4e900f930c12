package scheduler

import (
	"container/heap"
	"time"
)

// pendingTimer is one heap slot: the timer id and the instant it is due.
type pendingTimer struct {
	id string
	at time.Time
}

// timerHeap implements container/heap.Interface ordered by at (min-heap).
type timerHeap []pendingTimer

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].id < h[j].id
	}
	return h[i].at.Before(h[j].at)
}
func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x any) {
	*h = append(*h, x.(pendingTimer))
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func heapPush(h *timerHeap, p pendingTimer) {
	heap.Push(h, p)
}

// heapPop removes and returns the earliest slot. Panics if the heap is empty.
func heapPop(h *timerHeap) pendingTimer {
	return heap.Pop(h).(pendingTimer)
}

// heapRemoveByID removes the slot of timer id. It reports whether one was found.
func heapRemoveByID(h *timerHeap, id string) bool {
	for i, p := range *h {
		if p.id == id {
			heap.Remove(h, i)
			return true
		}
	}
	return false
}
