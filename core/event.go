package core

import (
	"context"
	"sync/atomic"
)

// EventQueue is a fixed-depth FIFO between alarm ISRs and task context.
// Post never blocks; a full queue drops the event and counts it.
type EventQueue struct {
	ch      chan AlarmEvent
	dropped atomic.Uint32
}

// NewEventQueue creates a queue holding up to depth events
func NewEventQueue(depth int) *EventQueue {
	if depth < 1 {
		depth = 1
	}
	return &EventQueue{ch: make(chan AlarmEvent, depth)}
}

// Post enqueues ev without blocking. Safe from interrupt context.
func (q *EventQueue) Post(ev AlarmEvent) bool {
	select {
	case q.ch <- ev:
		return true
	default:
		q.dropped.Add(1)
		RecordTiming(EvtEventDropped, ev.Binding.ID(), uint32(ev.Clock), ev.Gen, 0)
		return false
	}
}

// Len returns the number of queued events
func (q *EventQueue) Len() int {
	return len(q.ch)
}

// Dropped returns how many events were lost to overflow
func (q *EventQueue) Dropped() uint32 {
	return q.dropped.Load()
}

// Dispatcher runs alarm callbacks in task context
type Dispatcher struct {
	q         *EventQueue
	delivered atomic.Uint32
}

// NewDispatcher creates a dispatcher draining q
func NewDispatcher(q *EventQueue) *Dispatcher {
	return &Dispatcher{q: q}
}

// RunPending delivers every queued event without blocking and returns the
// number of callbacks run. Cooperative main loops call it once per pass.
func (d *Dispatcher) RunPending() int {
	n := 0
	for {
		select {
		case ev := <-d.q.ch:
			if d.deliver(ev) {
				n++
			}
		default:
			return n
		}
	}
}

// Run delivers events until ctx is done
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-d.q.ch:
			d.deliver(ev)
		}
	}
}

// Delivered returns the number of callbacks run so far
func (d *Dispatcher) Delivered() uint32 {
	return d.delivered.Load()
}

func (d *Dispatcher) deliver(ev AlarmEvent) bool {
	if ev.Binding == nil || !ev.Binding.deliver(ev) {
		return false
	}
	d.delivered.Add(1)
	return true
}
