package util

import (
	"sync"
	"testing"
	"time"
)

// TestBasicOperations tests basic push and pop functionality
func TestBasicOperations(t *testing.T) {
	q := NewLockFreeMPSC[int]()
	defer q.Close()

	for i := 0; i < 10; i++ {
		v := i
		if !q.Push(&v) {
			t.Fatalf("Failed to push item %d", i)
		}
	}
	if q.Len() != 10 {
		t.Errorf("Len() = %d, want 10", q.Len())
	}

	for i := 0; i < 10; i++ {
		v, ok := q.Pop()
		if !ok {
			t.Fatalf("Pop() returned no item at %d", i)
		}
		if *v != i {
			t.Errorf("Expected %d, got %d", i, *v)
		}
	}

	if v, ok := q.Pop(); ok {
		t.Errorf("Queue should be empty, but got %v", *v)
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d, want 0", q.Len())
	}
}

// TestPushNil tests that nil values are rejected
func TestPushNil(t *testing.T) {
	q := NewLockFreeMPSC[int]()
	if q.Push(nil) {
		t.Error("Push(nil) should return false")
	}
}

// TestDrain tests draining with and without a limit
func TestDrain(t *testing.T) {
	q := NewLockFreeMPSC[int]()

	for i := 0; i < 5; i++ {
		v := i
		q.Push(&v)
	}

	var got []int
	if n := q.Drain(3, func(v *int) { got = append(got, *v) }); n != 3 {
		t.Errorf("Drain(3) = %d, want 3", n)
	}
	if n := q.Drain(0, func(v *int) { got = append(got, *v) }); n != 2 {
		t.Errorf("Drain(0) = %d, want 2", n)
	}
	for i, v := range got {
		if v != i {
			t.Errorf("item %d = %d", i, v)
		}
	}
}

// TestNotify tests that a push signals a waiting consumer
func TestNotify(t *testing.T) {
	q := NewLockFreeMPSC[string]()

	go func() {
		time.Sleep(10 * time.Millisecond)
		v := "hello"
		q.Push(&v)
	}()

	select {
	case <-q.Notify():
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for notification")
	}
	if v, ok := q.Pop(); !ok || *v != "hello" {
		t.Error("expected pushed value after notification")
	}
}

// TestClose tests that a closed queue rejects pushes but keeps queued items
func TestClose(t *testing.T) {
	q := NewLockFreeMPSC[int]()
	v := 1
	q.Push(&v)
	q.Close()

	if !q.IsClosed() {
		t.Error("IsClosed() should return true")
	}
	if q.Push(&v) {
		t.Error("Push() after Close() should return false")
	}
	if _, ok := q.Pop(); !ok {
		t.Error("items pushed before Close() should still be delivered")
	}
	select {
	case <-q.Notify():
	default:
		t.Error("Close() should wake the consumer")
	}
}

// TestConcurrentProducers verifies the queue works correctly with multiple producers
func TestConcurrentProducers(t *testing.T) {
	q := NewLockFreeMPSC[int]()
	defer q.Close()

	const numProducers = 10
	const itemsPerProducer = 1000
	const totalItems = numProducers * itemsPerProducer

	var wg sync.WaitGroup
	for p := 0; p < numProducers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < itemsPerProducer; i++ {
				v := p*itemsPerProducer + i
				q.Push(&v)
			}
		}(p)
	}

	received := make(map[int]bool, totalItems)
	lastPerProducer := make(map[int]int)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for len(received) < totalItems {
			q.Drain(0, func(v *int) {
				if received[*v] {
					t.Errorf("Duplicate item received: %d", *v)
				}
				received[*v] = true

				// items of a single producer keep their order
				p := *v / itemsPerProducer
				if last, ok := lastPerProducer[p]; ok && last > *v {
					t.Errorf("producer %d: %d received after %d", p, *v, last)
				}
				lastPerProducer[p] = *v
			})
			select {
			case <-q.Notify():
			case <-time.After(10 * time.Millisecond):
			}
		}
	}()

	wg.Wait()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Timeout waiting for %d items", totalItems)
	}
}
