package core

import "sync"

// CriticalSection is the spinlock primitive consumed by every shared
// structure in this package. Enter/Exit are for task context and also mask
// local interrupts; the ISR variants assume interrupts are already masked.
// Critical sections are expected to be sub-microsecond and never nest.
type CriticalSection interface {
	Enter()
	Exit()
	EnterISR()
	ExitISR()
}

// Spinlock is the portable CriticalSection. On regular Go it is a mutex; on
// TinyGo it additionally masks interrupts on the owning core. Targets with a
// hardware spinlock block supply their own CriticalSection.
type Spinlock struct {
	mu    sync.Mutex
	saved irqState
}

// Enter masks local interrupts and takes the lock
func (s *Spinlock) Enter() {
	state := disableInterrupts()
	s.mu.Lock()
	s.saved = state
}

// Exit releases the lock and restores the interrupt mask saved by Enter
func (s *Spinlock) Exit() {
	state := s.saved
	s.mu.Unlock()
	restoreInterrupts(state)
}

// EnterISR takes the lock from interrupt context
func (s *Spinlock) EnterISR() {
	s.mu.Lock()
}

// ExitISR releases a lock taken with EnterISR
func (s *Spinlock) ExitISR() {
	s.mu.Unlock()
}

// LockProvider hands out independent critical sections. AlarmPool
// implements it, and the timer service and legacy shim take their own lock
// from the factory that supplies their bindings. Sections from one provider
// nest, so each call must return a distinct lock.
type LockProvider interface {
	NewLock() CriticalSection
}

// lockFrom returns a fresh lock from v when it is a LockProvider, otherwise
// a Spinlock
func lockFrom(v interface{}) CriticalSection {
	if p, ok := v.(LockProvider); ok {
		if cs := p.NewLock(); cs != nil {
			return cs
		}
	}
	return &Spinlock{}
}

// enterAuto picks the ISR variant when called from an interrupt handler.
// It returns the matching exit function.
func enterAuto(cs CriticalSection) func() {
	if inInterrupt() {
		cs.EnterISR()
		return cs.ExitISR
	}
	cs.Enter()
	return cs.Exit
}

// ISRHandler is an interrupt service routine. Context is carried by the
// closure rather than an untyped argument.
type ISRHandler func()

// BindISR binds a typed context to a handler, yielding an ISRHandler that
// can be registered with an interrupt controller.
func BindISR[T any](fn func(T), ctx T) ISRHandler {
	return func() { fn(ctx) }
}
