package util

import (
	"math/rand"
	"sort"
	"testing"
)

// TestNewMapHeap tests the creation of a new MapHeap
func TestNewMapHeap(t *testing.T) {
	mh := NewMapHeap()

	if mh == nil {
		t.Fatal("NewMapHeap() returned nil")
	}
	if mh.Len() != 0 {
		t.Errorf("New heap should be empty, but has length %d", mh.Len())
	}
	if _, ok := mh.Peek(); ok {
		t.Error("Peek() on empty heap should return false")
	}
	if _, ok := mh.PopItem(); ok {
		t.Error("PopItem() on empty heap should return false")
	}
}

// TestAddItem tests adding items to the heap
func TestAddItem(t *testing.T) {
	mh := NewMapHeap()

	mh.AddItem("a", 100)
	mh.AddItem("b", 200)
	mh.AddItem("c", 50)

	if mh.Len() != 3 {
		t.Errorf("Heap should have 3 items, but has %d", mh.Len())
	}
	for _, key := range []string{"a", "b", "c"} {
		if !mh.Contains(key) {
			t.Errorf("Heap should contain key %q", key)
		}
	}

	it, exists := mh.Peek()
	if !exists {
		t.Fatal("Peek() should return an item")
	}
	if it.Key != "c" || it.Priority != 50 {
		t.Errorf("Expected min item to be (c,50), got %s", it)
	}
}

// TestUpdateItem tests updating existing items
func TestUpdateItem(t *testing.T) {
	mh := NewMapHeap()

	mh.AddItem("a", 100)
	mh.AddItem("b", 200)
	mh.AddItem("a", 300)

	if mh.Len() != 2 {
		t.Errorf("Updating must not add a second item, got length %d", mh.Len())
	}

	it, exists := mh.GetByKey("a")
	if !exists {
		t.Fatal("Item with key a should exist")
	}
	if it.Priority != 300 {
		t.Errorf("Item with key a should have priority 300, got %d", it.Priority)
	}

	min, _ := mh.Peek()
	if min.Key != "b" {
		t.Errorf("Min item should now be key b, got %s", min.Key)
	}

	mh.AddItem("b", 50)
	min, _ = mh.Peek()
	if min.Key != "b" || min.Priority != 50 {
		t.Errorf("Min item should now be (b,50), got %s", min)
	}
}

// TestRemoveByKey tests removing items by key
func TestRemoveByKey(t *testing.T) {
	mh := NewMapHeap()

	mh.AddItem("a", 100)
	mh.AddItem("b", 200)
	mh.AddItem("c", 300)

	priority, exists := mh.RemoveByKey("b")
	if !exists {
		t.Fatal("RemoveByKey should return true for existing key")
	}
	if priority != 200 {
		t.Errorf("RemoveByKey should return priority 200, got %d", priority)
	}
	if mh.Contains("b") {
		t.Error("Key b should be removed")
	}
	if _, exists := mh.RemoveByKey("missing"); exists {
		t.Error("RemoveByKey should return false for a missing key")
	}
	if mh.Len() != 2 {
		t.Errorf("Heap should have 2 items, got %d", mh.Len())
	}
}

// TestPopOrder tests that items come out ordered by priority, ties by key
func TestPopOrder(t *testing.T) {
	mh := NewMapHeap()
	rng := rand.New(rand.NewSource(1))

	want := make([]int64, 0, 500)
	for i := 0; i < 500; i++ {
		p := rng.Int63n(100)
		want = append(want, p)
		mh.AddItem(string(rune('a'+i%26))+string(rune(i)), p)
	}
	sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })

	var last *Item
	for i := 0; mh.Len() > 0; i++ {
		it, _ := mh.PopItem()
		if it.Priority != want[i] {
			t.Fatalf("pop %d: priority %d, want %d", i, it.Priority, want[i])
		}
		if last != nil && last.Priority == it.Priority && last.Key > it.Key {
			t.Fatalf("ties must be ordered by key: %s before %s", last, it)
		}
		if mh.Contains(it.Key) {
			t.Fatalf("popped key %q still contained", it.Key)
		}
		last = it
	}
}

// TestClear tests that Clear empties the heap and the index
func TestClear(t *testing.T) {
	mh := NewMapHeap()
	mh.AddItem("a", 1)
	mh.AddItem("b", 2)
	mh.Clear()

	if mh.Len() != 0 || mh.Contains("a") {
		t.Error("Clear() should remove all items")
	}
	mh.AddItem("a", 3)
	if it, _ := mh.Peek(); it.Priority != 3 {
		t.Error("heap should be usable after Clear()")
	}
}
