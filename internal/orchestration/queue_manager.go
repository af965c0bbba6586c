package orchestration

import (
	"container/heap"
	"sync"

	"github.com/vladislavfirsov/content-pipeline/contracts"
)

// queueManager implements contracts.QueueManager as a ready set ordered by
// each node's position in the resolved execution order, so dispatch under a
// concurrency limit follows that order regardless of completion timing.
// Thread-safe for concurrent access using sync.Mutex.
type queueManager struct {
	mu    sync.Mutex
	ready rankHeap
}

// NewQueueManager creates a QueueManager ranking nodes by their position in
// graph.Order. A nil graph ranks nodes by index.
func NewQueueManager(graph *contracts.ExecutionGraph) contracts.QueueManager {
	q := &queueManager{}
	if graph != nil {
		q.ready.rank = make([]int, graph.Len())
		for pos, n := range graph.Order {
			q.ready.rank[n] = pos
		}
	}
	return q
}

// Enqueue adds a node to the ready queue.
func (q *queueManager) Enqueue(node int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	heap.Push(&q.ready, node)
}

// Dequeue removes and returns the earliest-ranked ready node.
// Returns (-1, false) if the queue is empty.
func (q *queueManager) Dequeue() (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ready.Len() == 0 {
		return -1, false
	}
	return heap.Pop(&q.ready).(int), true
}

// Drain removes and returns every queued node in rank order.
func (q *queueManager) Drain() []int {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]int, 0, q.ready.Len())
	for q.ready.Len() > 0 {
		out = append(out, heap.Pop(&q.ready).(int))
	}
	return out
}

// Len returns the number of nodes in the queue.
func (q *queueManager) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ready.Len()
}

// rankHeap is a min-heap of node indices keyed by rank.
type rankHeap struct {
	nodes []int
	rank  []int
}

func (h *rankHeap) key(n int) int {
	if n < len(h.rank) {
		return h.rank[n]
	}
	return n
}

func (h *rankHeap) Len() int           { return len(h.nodes) }
func (h *rankHeap) Less(i, j int) bool { return h.key(h.nodes[i]) < h.key(h.nodes[j]) }
func (h *rankHeap) Swap(i, j int)      { h.nodes[i], h.nodes[j] = h.nodes[j], h.nodes[i] }
func (h *rankHeap) Push(x any)         { h.nodes = append(h.nodes, x.(int)) }

func (h *rankHeap) Pop() any {
	last := len(h.nodes) - 1
	n := h.nodes[last]
	h.nodes = h.nodes[:last]
	return n
}
