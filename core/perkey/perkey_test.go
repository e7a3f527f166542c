package perkey

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDispatcher_SequentialPerKey(t *testing.T) {
	d := New[string]()

	var seq []int
	var mu sync.Mutex

	for i := 0; i < 100; i++ {
		i := i
		if err := d.Submit("key1", func() {
			mu.Lock()
			seq = append(seq, i)
			mu.Unlock()
		}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	d.Close()

	if len(seq) != 100 {
		t.Fatalf("expected 100 executions, got %d", len(seq))
	}
	for i, v := range seq {
		if v != i {
			t.Errorf("expected seq[%d]=%d, got %d", i, i, v)
		}
	}
}

func TestDispatcher_SlowKeyDoesNotBlockOthers(t *testing.T) {
	d := New[string]()
	defer d.Close()

	release := make(chan struct{})
	_ = d.Submit("slow", func() { <-release })

	done := make(chan struct{})
	_ = d.Submit("fast", func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("fast key was blocked by slow key")
	}
	close(release)
}

func TestDispatcher_ParallelAcrossKeys(t *testing.T) {
	d := New[string]()

	var running atomic.Int32
	var maxRunning atomic.Int32

	for i := 0; i < 5; i++ {
		key := string(rune('a' + i))
		_ = d.Submit(key, func() {
			cur := running.Add(1)
			for {
				max := maxRunning.Load()
				if cur <= max || maxRunning.CompareAndSwap(max, cur) {
					break
				}
			}
			time.Sleep(50 * time.Millisecond)
			running.Add(-1)
		})
	}
	d.Close()

	if maxRunning.Load() < 2 {
		t.Errorf("expected parallel execution across keys, max concurrent was %d", maxRunning.Load())
	}
}

func TestDispatcher_Close_NoNewTasks(t *testing.T) {
	d := New[string]()
	d.Close()

	err := d.Submit("key", func() {})
	if !errors.Is(err, ErrDispatcherClosed) {
		t.Errorf("expected ErrDispatcherClosed, got %v", err)
	}
}

func TestDispatcher_Close_DrainsExisting(t *testing.T) {
	d := New[string](WithBufferSize(10))

	var count atomic.Int32
	for i := 0; i < 10; i++ {
		_ = d.Submit("key", func() {
			time.Sleep(time.Millisecond)
			count.Add(1)
		})
	}
	d.Close()

	if count.Load() != 10 {
		t.Errorf("expected 10 tasks to run, got %d", count.Load())
	}
}

func TestDispatcher_Close_Idempotent(t *testing.T) {
	d := New[int]()
	d.Close()
	d.Close()
}

func TestDispatcherError(t *testing.T) {
	if ErrDispatcherClosed.Error() != "dispatcher is closed" {
		t.Errorf("unexpected error message: %s", ErrDispatcherClosed.Error())
	}
}
