package queue

import (
	"testing"
	"time"
)

func TestUnboundedFIFOOrder(t *testing.T) {
	q := NewUnbounded[int]()
	q.Push(1)
	q.Push(2)
	q.Push(3)

	for _, want := range []int{1, 2, 3} {
		select {
		case <-q.Ready():
		case <-time.After(time.Second):
			t.Fatal("Ready() never fired")
		}
		got, ok := q.TryPop()
		if !ok {
			t.Fatal("TryPop() = false after Ready() fired")
		}
		if got != want {
			t.Fatalf("TryPop() = %d, want %d", got, want)
		}
	}
}

func TestUnboundedTryPopOnEmptyQueue(t *testing.T) {
	q := NewUnbounded[int]()
	if _, ok := q.TryPop(); ok {
		t.Fatal("TryPop() on an empty queue should report ok == false")
	}
}

func TestUnboundedReadyStaysArmedWithBacklog(t *testing.T) {
	q := NewUnbounded[int]()
	q.Push(1)
	q.Push(2)

	<-q.Ready()
	if _, ok := q.TryPop(); !ok {
		t.Fatal("expected an item")
	}

	// A second item is still queued, so Ready() must fire again without
	// another Push.
	select {
	case <-q.Ready():
	case <-time.After(time.Second):
		t.Fatal("Ready() should stay armed while a backlog remains")
	}
}

func TestUnboundedConcurrentProducers(t *testing.T) {
	q := NewUnbounded[int]()
	const perProducer = 50
	const producers = 4

	for p := 0; p < producers; p++ {
		go func() {
			for i := 0; i < perProducer; i++ {
				q.Push(i)
			}
		}()
	}

	got := 0
	deadline := time.After(5 * time.Second)
	for got < producers*perProducer {
		select {
		case <-q.Ready():
			for {
				if _, ok := q.TryPop(); !ok {
					break
				}
				got++
			}
		case <-deadline:
			t.Fatalf("timed out after receiving %d of %d items", got, producers*perProducer)
		}
	}
}
