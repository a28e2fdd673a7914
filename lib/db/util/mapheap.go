// Package util
//
// This file provides the expiry queue used by the storage engines.
//
// MapHeap combines a binary min-heap with a hash map: the heap orders keys by
// their expiration timestamp, the map gives direct access to the entry of a
// key so that a new or removed expiration can be reflected in O(log n).
//
//   - O(log n) for Push, Pop, Update and RemoveByKey
//   - O(1) for Contains, GetByKey and Peek
//
// MapHeap is not thread-safe, the owning keyspace guards it with its lock.
//
// Example usage:
//
//	q := NewMapHeap()
//	q.AddItem("session:1", 1700000000000)
//	q.AddItem("session:2", 1700000005000)
//
//	for {
//	    it, ok := q.Peek()
//	    if !ok || it.Priority > now {
//	        break
//	    }
//	    q.RemoveByKey(it.Key)
//	    // expire it.Key
//	}
package util

import (
	"container/heap"
	"strconv"
)

// Item is an entry of the MapHeap
type Item struct {
	Key      string // The key the expiration belongs to
	Priority int64  // Expiration timestamp (unix ms)
	index    int    // Index in the heap, maintained by the heap package
}

func (i *Item) String() string {
	return "{Key: " + strconv.Quote(i.Key) + ", Priority: " + strconv.FormatInt(i.Priority, 10) + "}"
}

// MapHeap is a min-heap of items with key-based access
type MapHeap struct {
	items    []*Item
	itemsMap map[string]*Item
}

// NewMapHeap creates an empty, initialized MapHeap
func NewMapHeap() *MapHeap {
	return &MapHeap{
		items:    make([]*Item, 0),
		itemsMap: make(map[string]*Item),
	}
}

// Len returns the number of items (part of heap.Interface)
func (mh *MapHeap) Len() int { return len(mh.items) }

// Less orders by priority, ties by key so that iteration is deterministic (part of heap.Interface)
func (mh *MapHeap) Less(i, j int) bool {
	if mh.items[i].Priority == mh.items[j].Priority {
		return mh.items[i].Key < mh.items[j].Key
	}
	return mh.items[i].Priority < mh.items[j].Priority
}

// Swap exchanges items at positions i and j (part of heap.Interface)
func (mh *MapHeap) Swap(i, j int) {
	mh.items[i], mh.items[j] = mh.items[j], mh.items[i]
	mh.items[i].index = i
	mh.items[j].index = j
}

// Push adds an item (part of heap.Interface), use AddItem instead
func (mh *MapHeap) Push(x interface{}) {
	it := x.(*Item)
	it.index = len(mh.items)
	mh.items = append(mh.items, it)
	mh.itemsMap[it.Key] = it
}

// Pop removes the last item (part of heap.Interface), use PopItem instead
func (mh *MapHeap) Pop() interface{} {
	old := mh.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil // avoid memory leak
	it.index = -1
	mh.items = old[:n-1]
	delete(mh.itemsMap, it.Key)
	return it
}

// AddItem adds key with the given priority or updates the priority of an existing key
func (mh *MapHeap) AddItem(key string, priority int64) {
	if it, exists := mh.itemsMap[key]; exists {
		it.Priority = priority
		heap.Fix(mh, it.index)
		return
	}
	heap.Push(mh, &Item{Key: key, Priority: priority})
}

// RemoveByKey removes key and returns its priority
func (mh *MapHeap) RemoveByKey(key string) (int64, bool) {
	it, exists := mh.itemsMap[key]
	if !exists {
		return 0, false
	}
	heap.Remove(mh, it.index)
	return it.Priority, true
}

// PopItem removes and returns the item with the lowest priority
func (mh *MapHeap) PopItem() (*Item, bool) {
	if len(mh.items) == 0 {
		return nil, false
	}
	return heap.Pop(mh).(*Item), true
}

// Peek returns the item with the lowest priority without removing it
func (mh *MapHeap) Peek() (*Item, bool) {
	if len(mh.items) == 0 {
		return nil, false
	}
	return mh.items[0], true
}

// Contains checks if key is in the heap
func (mh *MapHeap) Contains(key string) bool {
	_, exists := mh.itemsMap[key]
	return exists
}

// GetByKey returns the item of key without removing it
func (mh *MapHeap) GetByKey(key string) (*Item, bool) {
	it, exists := mh.itemsMap[key]
	return it, exists
}

// Clear removes all items
func (mh *MapHeap) Clear() {
	mh.items = make([]*Item, 0)
	mh.itemsMap = make(map[string]*Item)
}
