// Package perkey provides a dispatcher that serializes work per key
// while allowing work for different keys to execute concurrently.
//
// Typical use-case: frames read from one connection and addressed to many
// actors. Frames for the same actor must be handed over in read order, but a
// slow actor must not hold up frames for its neighbours.
package perkey

import (
	"sync"
)

// Option configures a Dispatcher.
type Option func(*config)

type config struct {
	bufferSize int
}

// WithBufferSize sets the task buffer size per key (default: 64).
func WithBufferSize(size int) Option {
	return func(c *config) {
		if size > 0 {
			c.bufferSize = size
		}
	}
}

// Dispatcher runs tasks such that for any given key K, tasks are executed
// sequentially in submission order. Tasks for different keys run in parallel.
type Dispatcher[K comparable] struct {
	mu         sync.Mutex
	workers    map[K]chan func()
	closed     bool
	inflight   sync.WaitGroup // Submit calls still enqueueing
	running    sync.WaitGroup // worker goroutines
	bufferSize int
}

// New creates a new Dispatcher.
func New[K comparable](opts ...Option) *Dispatcher[K] {
	cfg := &config{bufferSize: 64}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Dispatcher[K]{
		workers:    make(map[K]chan func()),
		bufferSize: cfg.bufferSize,
	}
}

// Submit enqueues fn for key and returns without waiting for it to run.
// It blocks only while the key's buffer is full. Submit on a closed
// dispatcher returns ErrDispatcherClosed.
func (d *Dispatcher[K]) Submit(key K, fn func()) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	d.inflight.Add(1)
	w := d.getOrCreateWorkerLocked(key)
	d.mu.Unlock()

	w <- fn
	d.inflight.Done()
	return nil
}

// Close stops accepting new tasks, lets queued tasks run and waits until
// every worker has finished. Idempotent.
func (d *Dispatcher[K]) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.running.Wait()
		return
	}
	d.closed = true
	d.mu.Unlock()

	// Wait for Submit calls that are still enqueueing, then close channels.
	d.inflight.Wait()

	d.mu.Lock()
	for _, w := range d.workers {
		close(w)
	}
	d.workers = nil
	d.mu.Unlock()

	d.running.Wait()
}

func (d *Dispatcher[K]) getOrCreateWorkerLocked(key K) chan func() {
	w, ok := d.workers[key]
	if ok {
		return w
	}

	w = make(chan func(), d.bufferSize)
	d.workers[key] = w
	d.running.Add(1)
	go func() {
		defer d.running.Done()
		for fn := range w {
			fn()
		}
	}()

	return w
}

// ----- Errors -----

// ErrDispatcherClosed is returned when Submit is called on a closed dispatcher.
var ErrDispatcherClosed = &DispatcherError{"dispatcher is closed"}

// DispatcherError is a simple error implementation.
type DispatcherError struct {
	msg string
}

func (e *DispatcherError) Error() string { return e.msg }
