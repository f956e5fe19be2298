package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestMemoryQueueFIFO(t *testing.T) {
	q := NewMemoryQueue("test")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := q.Push(ctx, []byte(fmt.Sprintf("item-%d", i))); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	for i := 0; i < 3; i++ {
		item, err := q.Pop(ctx, time.Second)
		if err != nil {
			t.Fatalf("pop %d: %v", i, err)
		}
		want := fmt.Sprintf("item-%d", i)
		if string(item) != want {
			t.Errorf("pop %d = %q, want %q", i, item, want)
		}
	}
}

func TestMemoryQueuePopTimeout(t *testing.T) {
	q := NewMemoryQueue("test")

	start := time.Now()
	_, err := q.Pop(context.Background(), 50*time.Millisecond)
	if !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("pop blocked %v, should respect timeout", elapsed)
	}
}

func TestMemoryQueuePopWakesOnPush(t *testing.T) {
	q := NewMemoryQueue("test")
	ctx := context.Background()

	done := make(chan []byte, 1)
	go func() {
		item, err := q.Pop(ctx, 5*time.Second)
		if err != nil {
			t.Errorf("pop: %v", err)
		}
		done <- item
	}()

	time.Sleep(20 * time.Millisecond)
	if err := q.Push(ctx, []byte("late")); err != nil {
		t.Fatalf("push: %v", err)
	}

	select {
	case item := <-done:
		if string(item) != "late" {
			t.Errorf("got %q, want %q", item, "late")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pop did not wake on push")
	}
}

func TestMemoryQueueLen(t *testing.T) {
	q := NewMemoryQueue("test")
	ctx := context.Background()

	if n, _ := q.Len(ctx); n != 0 {
		t.Errorf("empty queue len = %d", n)
	}

	q.Push(ctx, []byte("a"))
	q.Push(ctx, []byte("b"))
	if n, _ := q.Len(ctx); n != 2 {
		t.Errorf("len = %d, want 2", n)
	}

	q.Pop(ctx, time.Second)
	if n, _ := q.Len(ctx); n != 1 {
		t.Errorf("len after pop = %d, want 1", n)
	}
}

func TestMemoryQueueConcurrentConsumersNoDuplicates(t *testing.T) {
	q := NewMemoryQueue("test")
	ctx := context.Background()

	const total = 50
	for i := 0; i < total; i++ {
		q.Push(ctx, []byte(fmt.Sprintf("item-%d", i)))
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				item, err := q.Pop(ctx, 50*time.Millisecond)
				if errors.Is(err, ErrEmpty) {
					return
				}
				if err != nil {
					t.Errorf("pop: %v", err)
					return
				}
				mu.Lock()
				seen[string(item)]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != total {
		t.Errorf("consumed %d distinct items, want %d", len(seen), total)
	}
	for item, n := range seen {
		if n != 1 {
			t.Errorf("item %s consumed %d times", item, n)
		}
	}
}
