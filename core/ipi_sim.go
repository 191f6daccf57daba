package core

import (
	"context"
	"sync"

	"github.com/juju/errors"
)

// SimCPU models the interrupt side of N cores: a pending cross-core
// interrupt line per core, the handler installed on it, and a yield
// request counter. It implements Mailbox, InterruptController and Yielder.
type SimCPU struct {
	mu      sync.Mutex
	isr     []ISRHandler
	pending []bool
	yields  []uint32
	wake    []chan struct{}
}

// NewSimCPU creates a model with the given number of cores
func NewSimCPU(cores int) *SimCPU {
	c := &SimCPU{
		isr:     make([]ISRHandler, cores),
		pending: make([]bool, cores),
		yields:  make([]uint32, cores),
		wake:    make([]chan struct{}, cores),
	}
	for i := range c.wake {
		c.wake[i] = make(chan struct{}, 1)
	}
	return c
}

// Cores returns the number of simulated cores
func (c *SimCPU) Cores() int {
	return len(c.isr)
}

func (c *SimCPU) RegisterISR(core uint8, h ISRHandler) error {
	if int(core) >= len(c.isr) {
		return errors.Annotatef(ErrInvalidArgument, "sim cpu: core %d", core)
	}
	c.mu.Lock()
	c.isr[core] = h
	c.mu.Unlock()
	return nil
}

// Trigger raises core's interrupt line and wakes its Run loop
func (c *SimCPU) Trigger(core uint8) {
	if int(core) >= len(c.pending) {
		return
	}
	c.mu.Lock()
	c.pending[core] = true
	c.mu.Unlock()

	select {
	case c.wake[core] <- struct{}{}:
	default:
	}
}

func (c *SimCPU) ClearPending(core uint8) {
	if int(core) >= len(c.pending) {
		return
	}
	c.mu.Lock()
	c.pending[core] = false
	c.mu.Unlock()
}

// IsPending reports whether core's interrupt line is raised
func (c *SimCPU) IsPending(core uint8) bool {
	if int(core) >= len(c.pending) {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending[core]
}

// Service takes core's interrupt once if it is pending and a handler is
// installed. The handler is responsible for clearing the line.
func (c *SimCPU) Service(core uint8) bool {
	if int(core) >= len(c.isr) {
		return false
	}
	c.mu.Lock()
	h := c.isr[core]
	take := c.pending[core] && h != nil
	c.mu.Unlock()
	if take {
		h()
	}
	return take
}

// Run services core's interrupt whenever it is raised, until ctx is done
func (c *SimCPU) Run(ctx context.Context, core uint8) error {
	if int(core) >= len(c.wake) {
		return errors.Annotatef(ErrInvalidArgument, "sim cpu: core %d", core)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.wake[core]:
			for c.Service(core) {
			}
		}
	}
}

func (c *SimCPU) RequestYieldFromISR(core uint8) {
	if int(core) >= len(c.yields) {
		return
	}
	c.mu.Lock()
	c.yields[core]++
	c.mu.Unlock()
}

// Yields returns the number of yield requests made on core
func (c *SimCPU) Yields(core uint8) uint32 {
	if int(core) >= len(c.yields) {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.yields[core]
}
