package util

import (
	"testing"
)

// TestNewMapHeap tests the creation of a new MapHeap
func TestNewMapHeap(t *testing.T) {
	mh := NewMapHeap[string]()

	if mh == nil {
		t.Fatal("NewMapHeap() returned nil")
	}

	if mh.Len() != 0 {
		t.Errorf("New heap should be empty, but has length %d", mh.Len())
	}

	if _, _, _, ok := mh.Peek(); ok {
		t.Error("Peek() on an empty heap should return ok=false")
	}
}

// TestAddItem tests adding items and the min-heap order
func TestAddItem(t *testing.T) {
	mh := NewMapHeap[string]()

	mh.AddItem(1, 100, "a")
	mh.AddItem(2, 200, "b")
	mh.AddItem(3, 50, "c")

	if mh.Len() != 3 {
		t.Errorf("Heap should have 3 items, but has %d", mh.Len())
	}

	for _, k := range []uint64{1, 2, 3} {
		if !mh.Contains(k) {
			t.Errorf("Heap should contain key %d", k)
		}
	}

	key, prio, val, ok := mh.Peek()
	if !ok {
		t.Fatal("Peek() should return an item")
	}
	if key != 3 || prio != 50 || val != "c" {
		t.Errorf("Expected min item to be (3,50,c), got (%d,%d,%s)", key, prio, val)
	}
}

// TestUpdateExisting tests that AddItem on an existing key updates it in place
func TestUpdateExisting(t *testing.T) {
	mh := NewMapHeap[string]()

	mh.AddItem(1, 100, "a")
	mh.AddItem(2, 200, "b")
	mh.AddItem(2, 10, "b2")

	if mh.Len() != 2 {
		t.Fatalf("Expected 2 items after update, got %d", mh.Len())
	}

	key, prio, val := mh.PopMin()
	if key != 2 || prio != 10 || val != "b2" {
		t.Errorf("Expected (2,10,b2), got (%d,%d,%s)", key, prio, val)
	}
}

// TestSetPriority tests re-prioritizing an item
func TestSetPriority(t *testing.T) {
	mh := NewMapHeap[int]()
	mh.AddItem(1, 10, 1)
	mh.AddItem(2, 20, 2)

	if !mh.SetPriority(2, 5) {
		t.Fatal("SetPriority should succeed for an existing key")
	}
	if mh.SetPriority(42, 5) {
		t.Error("SetPriority should fail for an unknown key")
	}

	if key, _, _ := mh.PopMin(); key != 2 {
		t.Errorf("Expected key 2 first after SetPriority, got %d", key)
	}
}

// TestRemoveByKey tests key based removal
func TestRemoveByKey(t *testing.T) {
	mh := NewMapHeap[int]()
	mh.AddItem(1, 10, 0)
	mh.AddItem(2, 20, 0)
	mh.AddItem(3, 30, 0)

	prio, ok := mh.RemoveByKey(2)
	if !ok || prio != 20 {
		t.Errorf("Expected to remove key 2 with priority 20, got %d (ok=%v)", prio, ok)
	}
	if mh.Contains(2) {
		t.Error("Key 2 should be gone after RemoveByKey")
	}
	if _, ok := mh.RemoveByKey(2); ok {
		t.Error("Removing a key twice should fail")
	}

	var order []uint64
	for mh.Len() > 0 {
		k, _, _ := mh.PopMin()
		order = append(order, k)
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 3 {
		t.Errorf("Unexpected pop order %v", order)
	}
}

// TestTieBreak tests that equal priorities pop in insertion order
func TestTieBreak(t *testing.T) {
	mh := NewMapHeap[string]()
	mh.AddItem(30, 1, "first")
	mh.AddItem(10, 1, "second")
	mh.AddItem(20, 1, "third")

	expected := []string{"first", "second", "third"}
	for i, want := range expected {
		_, _, got := mh.PopMin()
		if got != want {
			t.Errorf("pop %d: expected %s, got %s", i, want, got)
		}
	}
}

// TestGetByKey tests lookups without removal
func TestGetByKey(t *testing.T) {
	mh := NewMapHeap[string]()
	mh.AddItem(7, 70, "seven")

	prio, val, ok := mh.GetByKey(7)
	if !ok || prio != 70 || val != "seven" {
		t.Errorf("GetByKey(7) = (%d,%s,%v)", prio, val, ok)
	}
	if _, _, ok := mh.GetByKey(8); ok {
		t.Error("GetByKey should fail for an unknown key")
	}
	if mh.Len() != 1 {
		t.Error("GetByKey must not remove the item")
	}
}
