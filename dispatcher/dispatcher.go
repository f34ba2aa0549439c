// Package dispatcher implements the records dispatcher (C8): it receives
// flushed logical records in PSN order from the physical log writer and
// hands them to a state-provider collaborator, partitioned into
// barrier-delimited groups.
//
// The barrier-gated group/serialize-between-groups shape is grounded in the
// teacher fsm.go's single-threaded, strictly-ordered raft.Apply loop: one
// group (here, one barrier-delimited span of records) is always fully
// applied before the next begins.
package dispatcher

import (
	"context"
	"sync"

	"github.com/liftbridge-io/replog/record"
)

// StateProvider is the collaborator records are dispatched to.
type StateProvider interface {
	ApplyAsync(ctx context.Context, rec record.Record) error
	Unlock(rec record.Record)
}

// Mode controls whether records within a barrier group may be applied
// concurrently.
type Mode int

const (
	// Serial applies every record in a group one at a time, in order.
	Serial Mode = iota
	// Parallel applies all non-barrier records in a group concurrently;
	// the group as a whole still serializes against its neighbors.
	Parallel
)

// Dispatcher delivers flushed records to a StateProvider, preserving
// barrier-group boundaries.
type Dispatcher struct {
	mu       sync.Mutex
	provider StateProvider
	mode     Mode

	group []record.Record

	paused     bool
	pauseCh    chan struct{}
	dispatchWG sync.WaitGroup

	dispatchedBarriers int
}

// New returns a Dispatcher delivering to provider in mode.
func New(provider StateProvider, mode Mode) *Dispatcher {
	return &Dispatcher{provider: provider, mode: mode}
}

// DispatchedBarriers returns the number of barrier completions raised so
// far.
func (d *Dispatcher) DispatchedBarriers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dispatchedBarriers
}

// Deliver hands the next flushed record, in PSN order, to the dispatcher. A
// BarrierRecord concludes and dispatches the accumulated group; any other
// record is buffered into the current group.
func (d *Dispatcher) Deliver(ctx context.Context, rec record.Record) error {
	d.mu.Lock()
	if d.paused {
		ch := d.waitForResume()
		d.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
		d.mu.Lock()
	}

	if _, isBarrier := rec.(*record.BarrierRecord); isBarrier {
		group := d.group
		d.group = nil
		d.mu.Unlock()

		if err := d.dispatchGroup(ctx, group); err != nil {
			return err
		}
		if err := d.applyOne(ctx, rec); err != nil {
			return err
		}

		d.mu.Lock()
		d.dispatchedBarriers++
		d.mu.Unlock()
		return nil
	}

	d.group = append(d.group, rec)
	d.mu.Unlock()
	return nil
}

func (d *Dispatcher) dispatchGroup(ctx context.Context, group []record.Record) error {
	if len(group) == 0 {
		return nil
	}
	if d.mode == Serial {
		for _, rec := range group {
			if err := d.applyOne(ctx, rec); err != nil {
				return err
			}
		}
		return nil
	}
	return d.dispatchParallel(ctx, group)
}

func (d *Dispatcher) dispatchParallel(ctx context.Context, group []record.Record) error {
	errs := make([]error, len(group))
	var wg sync.WaitGroup
	for i, rec := range group {
		wg.Add(1)
		go func(i int, rec record.Record) {
			defer wg.Done()
			errs[i] = d.applyOne(ctx, rec)
		}(i, rec)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) applyOne(ctx context.Context, rec record.Record) error {
	if err := d.provider.ApplyAsync(ctx, rec); err != nil {
		return err
	}
	d.provider.Unlock(rec)
	return nil
}

// DrainAndPause pauses the dispatcher: subsequent Deliver calls block
// (queuing new groups) until ContinueDispatch is called. It returns at once;
// it does not wait for a group that a concurrent Deliver call is already
// dispatching, which runs to completion on its own.
func (d *Dispatcher) DrainAndPause() {
	d.mu.Lock()
	d.paused = true
	d.pauseCh = make(chan struct{})
	d.mu.Unlock()
}

// ContinueDispatch resumes a dispatcher paused by DrainAndPause.
func (d *Dispatcher) ContinueDispatch() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.paused {
		return
	}
	d.paused = false
	if d.pauseCh != nil {
		close(d.pauseCh)
		d.pauseCh = nil
	}
}

func (d *Dispatcher) waitForResume() <-chan struct{} {
	if d.pauseCh == nil {
		d.pauseCh = make(chan struct{})
	}
	return d.pauseCh
}
