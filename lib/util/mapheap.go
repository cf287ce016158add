// Package util
//
// This file provides a priority queue that combines a binary heap with a hash
// map, so items can be ordered by priority and still be found, updated or
// removed by key.
//
// The store manager uses it to decide in which order stores are finalized:
// the key is the store id, the priority is the finalize order (lower first).
// Items with equal priority pop in insertion order, which keeps teardown
// deterministic.
//
// Note: This implementation is not thread-safe. For concurrent use, external
// synchronization must be applied.
//
// Example usage:
//
//	q := NewMapHeap[string]()
//	q.AddItem(1, 10, "event store")
//	q.AddItem(2, 20, "detector store")
//
//	for q.Len() > 0 {
//	    key, prio, name := q.PopMin()
//	    // ...
//	}
package util

import (
	"container/heap"
	"strconv"
)

// item is an entry in the queue
type item[V any] struct {
	Key      uint64 // Unique identifier for the item
	Priority uint64 // Priority used for ordering in the heap
	Value    V      // Payload
	seq      uint64 // insertion sequence, breaks priority ties
	index    int    // Index in the heap, maintained by heap package
}

func (i *item[V]) String() string {
	return "{Key: " + strconv.FormatUint(i.Key, 10) + ", Priority: " + strconv.FormatUint(i.Priority, 10) + "}"
}

// itemHeap is the heap.Interface part of MapHeap
type itemHeap[V any] struct {
	items    []*item[V]
	itemsMap map[uint64]*item[V]
}

func (h *itemHeap[V]) Len() int { return len(h.items) }

func (h *itemHeap[V]) Less(i, j int) bool {
	if h.items[i].Priority != h.items[j].Priority {
		return h.items[i].Priority < h.items[j].Priority
	}
	return h.items[i].seq < h.items[j].seq
}

func (h *itemHeap[V]) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *itemHeap[V]) Push(x interface{}) {
	it := x.(*item[V])
	it.index = len(h.items)
	h.items = append(h.items, it)
	h.itemsMap[it.Key] = it
}

func (h *itemHeap[V]) Pop() interface{} {
	old := h.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil // Avoid memory leak
	it.index = -1
	h.items = old[:n-1]
	delete(h.itemsMap, it.Key)
	return it
}

// MapHeap is a min-heap by priority with O(1) access by key
type MapHeap[V any] struct {
	h   itemHeap[V]
	seq uint64
}

// NewMapHeap creates a new, empty MapHeap
func NewMapHeap[V any]() *MapHeap[V] {
	return &MapHeap[V]{
		h: itemHeap[V]{
			items:    make([]*item[V], 0),
			itemsMap: make(map[uint64]*item[V]),
		},
	}
}

// Len returns the number of items in the queue
func (q *MapHeap[V]) Len() int { return q.h.Len() }

// AddItem adds a new item to the queue or updates the priority and value of
// an existing one. An update keeps the original insertion sequence.
func (q *MapHeap[V]) AddItem(key, priority uint64, value V) {
	if it, exists := q.h.itemsMap[key]; exists {
		it.Priority = priority
		it.Value = value
		heap.Fix(&q.h, it.index)
		return
	}

	q.seq++
	heap.Push(&q.h, &item[V]{
		Key:      key,
		Priority: priority,
		Value:    value,
		seq:      q.seq,
	})
}

// SetPriority changes the priority of an existing item.
// Returns false if the key is unknown.
func (q *MapHeap[V]) SetPriority(key, priority uint64) bool {
	it, exists := q.h.itemsMap[key]
	if !exists {
		return false
	}
	it.Priority = priority
	heap.Fix(&q.h, it.index)
	return true
}

// RemoveByKey removes an item by its key and returns its priority
func (q *MapHeap[V]) RemoveByKey(key uint64) (uint64, bool) {
	it, exists := q.h.itemsMap[key]
	if !exists {
		return 0, false
	}
	heap.Remove(&q.h, it.index)
	return it.Priority, true
}

// Peek returns the minimum item without removing it
func (q *MapHeap[V]) Peek() (key, priority uint64, value V, ok bool) {
	if len(q.h.items) == 0 {
		return 0, 0, value, false
	}
	it := q.h.items[0]
	return it.Key, it.Priority, it.Value, true
}

// PopMin removes and returns the minimum item.
// It panics if the queue is empty.
func (q *MapHeap[V]) PopMin() (key, priority uint64, value V) {
	it := heap.Pop(&q.h).(*item[V])
	return it.Key, it.Priority, it.Value
}

// Contains checks if a key exists in the queue
func (q *MapHeap[V]) Contains(key uint64) bool {
	_, exists := q.h.itemsMap[key]
	return exists
}

// GetByKey retrieves the priority and value of an item without removing it
func (q *MapHeap[V]) GetByKey(key uint64) (priority uint64, value V, ok bool) {
	it, exists := q.h.itemsMap[key]
	if !exists {
		return 0, value, false
	}
	return it.Priority, it.Value, true
}
