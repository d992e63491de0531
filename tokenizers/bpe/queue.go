package bpe

import (
	"cmp"
	"strings"

	"github.com/emirpasic/gods/v2/trees/binaryheap"
)

// pair of adjacent byte tokens. Tokens are compared by value.
type pair struct {
	left, right string
}

// queueEntry is a snapshot of a pair frequency. It is stale once the pair's count changes.
type queueEntry struct {
	freq int64
	pair pair
}

// compareEntries orders entries for a max-heap: higher frequency first, and among equal
// frequencies the lexicographically greatest pair (left token first, then right).
func compareEntries(a, b queueEntry) int {
	if c := cmp.Compare(b.freq, a.freq); c != 0 {
		return c
	}
	if c := strings.Compare(b.pair.left, a.pair.left); c != 0 {
		return c
	}
	return strings.Compare(b.pair.right, a.pair.right)
}

// mergeQueue is a max-priority queue of pair frequencies with lazy invalidation: updates push a new entry
// and leave the old one in place; callers discard entries that no longer match when popped.
type mergeQueue struct {
	heap *binaryheap.Heap[queueEntry]
}

func newMergeQueue() *mergeQueue {
	return &mergeQueue{heap: binaryheap.NewWith(compareEntries)}
}

func (q *mergeQueue) push(freq int64, p pair) {
	q.heap.Push(queueEntry{freq: freq, pair: p})
}

func (q *mergeQueue) pop() (queueEntry, bool) {
	return q.heap.Pop()
}

func (q *mergeQueue) len() int {
	return q.heap.Size()
}
