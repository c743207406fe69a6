package realtime

import (
	"fmt"
	"sync"
)

// dispatcher runs callbacks one at a time, in submission order, on its own
// goroutine. The queue is unbounded so the event loop never blocks on a
// slow handler.
type dispatcher struct {
	onPanic func(error)

	mu      sync.Mutex
	queue   []func()
	closing bool

	wake     chan struct{}
	finished chan struct{}
}

func newDispatcher(onPanic func(error)) *dispatcher {
	d := &dispatcher{
		onPanic:  onPanic,
		wake:     make(chan struct{}, 1),
		finished: make(chan struct{}),
	}
	go d.run()
	return d
}

// Enqueue schedules fn. It returns false once Close was called.
func (d *dispatcher) Enqueue(fn func()) bool {
	d.mu.Lock()
	if d.closing {
		d.mu.Unlock()
		return false
	}
	d.queue = append(d.queue, fn)
	d.mu.Unlock()

	d.signal()
	return true
}

// Close stops accepting work. Queued callbacks still run, then the
// goroutine exits and done is closed.
func (d *dispatcher) Close() {
	d.mu.Lock()
	d.closing = true
	d.mu.Unlock()

	d.signal()
}

func (d *dispatcher) done() <-chan struct{} {
	return d.finished
}

func (d *dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	defer close(d.finished)

	for {
		d.mu.Lock()
		batch := d.queue
		d.queue = nil
		closing := d.closing
		d.mu.Unlock()

		for _, fn := range batch {
			d.invoke(fn)
		}

		if len(batch) > 0 {
			continue
		}
		if closing {
			return
		}

		<-d.wake
	}
}

func (d *dispatcher) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%w: %v", ErrHandlerPanic, r)
			if d.onPanic != nil {
				d.safePanicReport(err)
			}
		}
	}()
	fn()
}

// safePanicReport keeps a panicking error callback from killing the goroutine.
func (d *dispatcher) safePanicReport(err error) {
	defer func() { _ = recover() }()
	d.onPanic(err)
}
