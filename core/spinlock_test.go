package core

import (
	"sync"
	"testing"
)

func TestSpinlockMutualExclusion(t *testing.T) {
	var lock Spinlock
	counter := 0

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(isr bool) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				if isr {
					lock.EnterISR()
					counter++
					lock.ExitISR()
				} else {
					lock.Enter()
					counter++
					lock.Exit()
				}
			}
		}(g%2 == 0)
	}
	wg.Wait()

	if counter != 8000 {
		t.Errorf("Expected 8000 increments, got %d", counter)
	}
}

type recordingLock struct {
	calls []string
}

func (r *recordingLock) Enter()    { r.calls = append(r.calls, "enter") }
func (r *recordingLock) Exit()     { r.calls = append(r.calls, "exit") }
func (r *recordingLock) EnterISR() { r.calls = append(r.calls, "enter-isr") }
func (r *recordingLock) ExitISR()  { r.calls = append(r.calls, "exit-isr") }

func TestEnterAutoTaskContext(t *testing.T) {
	var lock recordingLock
	exit := enterAuto(&lock)
	exit()

	if len(lock.calls) != 2 || lock.calls[0] != "enter" || lock.calls[1] != "exit" {
		t.Errorf("Expected the task variant outside interrupts, got %v", lock.calls)
	}
}

func TestCrossCoreUsesSuppliedLock(t *testing.T) {
	lock := &recordingLock{}
	cpu := NewSimCPU(1)
	s, err := NewCrossCoreSignal(CrossCoreOptions{Cores: 1, Lock: lock, Mailbox: cpu, Interrupts: cpu})
	if err != nil {
		t.Fatal(err)
	}
	s.InitLocalCore(0)
	s.Send(0, ReasonYield)
	lock.calls = nil

	cpu.Service(0)
	for _, c := range lock.calls {
		if c == "enter" || c == "exit" {
			t.Errorf("Handler must only use the ISR variants, got %v", lock.calls)
			break
		}
	}
	if len(lock.calls) == 0 {
		t.Error("Handler must take the shared lock")
	}
}

func TestBindISR(t *testing.T) {
	type ctx struct{ hits int }
	c := &ctx{}
	h := BindISR(func(c *ctx) { c.hits++ }, c)
	h()
	h()
	if c.hits != 2 {
		t.Errorf("Expected the bound context to see 2 calls, got %d", c.hits)
	}
}
