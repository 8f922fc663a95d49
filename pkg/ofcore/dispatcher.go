package ofcore

import (
	"context"
	"sync/atomic"
	"time"
)

// Dispatcher is the Core-level reactor of §5: the single place that
// owns timer-driven sweeps and lets other goroutines ask the Core to
// do something without taking its lock themselves (the wake_up
// primitive, applied at Core scope the way Conn applies its own copy
// per-connection). Per-Conn socket readiness is handled by each Conn's
// own loop goroutine; Dispatcher only multiplexes the concerns that are
// genuinely Core-wide.
type Dispatcher struct {
	sweepInterval time.Duration
	onSweep       func(time.Time)

	wakeCh  chan func()
	closeCh chan struct{}
	doneCh  chan struct{}
	started int32
}

func newDispatcher(sweepInterval time.Duration, onSweep func(time.Time)) *Dispatcher {
	return &Dispatcher{
		sweepInterval: sweepInterval,
		onSweep:       onSweep,
		wakeCh:        make(chan func(), 64),
		closeCh:       make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// Wake schedules fn to run on the dispatcher's own goroutine, serialized
// with sweep ticks and every other wake. It blocks only long enough to
// enqueue fn, never until fn actually runs.
func (d *Dispatcher) Wake(fn func()) {
	select {
	case d.wakeCh <- fn:
	case <-d.closeCh:
	}
}

// Run drives the dispatcher loop until ctx is canceled or Close is
// called. It is meant to be supervised by an errgroup alongside a
// Core's listener-accept loops (§10.6).
func (d *Dispatcher) Run(ctx context.Context) error {
	atomic.StoreInt32(&d.started, 1)
	defer close(d.doneCh)

	var ticker *time.Ticker
	var tickC <-chan time.Time
	if d.sweepInterval > 0 {
		ticker = time.NewTicker(d.sweepInterval)
		defer ticker.Stop()
		tickC = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.closeCh:
			return nil
		case fn := <-d.wakeCh:
			fn()
		case t := <-tickC:
			if d.onSweep != nil {
				d.onSweep(t)
			}
		}
	}
}

// Close stops the dispatcher loop. It is idempotent from the caller's
// perspective only if called once; callers own their own sync.Once if
// Close may race with itself. Closing a Dispatcher whose Run was never
// started does not block waiting for a loop that will never exist.
func (d *Dispatcher) Close() {
	close(d.closeCh)
	if atomic.LoadInt32(&d.started) != 0 {
		<-d.doneCh
	}
}
