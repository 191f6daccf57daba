package core

import "github.com/juju/errors"

// Timer represents a scheduled event
type Timer struct {
	WakeTime Tick
	Handler  func(*Timer) uint8
	Next     *Timer

	Name    string
	period  Tick
	active  bool
	fired   uint32
	service *TimerService
}

const (
	SF_DONE       = 0
	SF_RESCHEDULE = 1
)

// NewTimer creates a timer that calls fn on expiry. Started with
// StartPeriodic it reschedules itself every period.
func NewTimer(name string, fn func()) *Timer {
	return &Timer{Name: name, Handler: func(t *Timer) uint8 {
		fn()
		if t.period == 0 {
			return SF_DONE
		}
		t.WakeTime += t.period
		return SF_RESCHEDULE
	}}
}

// TimerInfo is a diagnostic snapshot of one timer
type TimerInfo struct {
	Name     string
	WakeTime Tick
	Period   Tick
	Active   bool
	Fired    uint32
}

// TimerService multiplexes software timers onto a single alarm binding.
// The list is kept sorted by wake time using wrap-safe comparison; after
// every change of the head, and after every dispatch pass, the alarm is
// re-armed for the earliest deadline.
type TimerService struct {
	cs     CriticalSection
	src    TickSource
	alarm  *AlarmBinding
	list   *Timer
	timers []*Timer

	current     *Timer // handler running now
	stopCurrent bool
	late        uint32
}

// NewTimerService creates a service whose alarm comes from factory. The
// service lock also comes from factory when it is a LockProvider.
func NewTimerService(src TickSource, factory BindingFactory) (*TimerService, error) {
	s := &TimerService{src: src, cs: lockFrom(factory)}
	b, err := factory.NewBinding(s.Dispatch)
	if err != nil {
		return nil, errors.Annotate(err, "timer service alarm")
	}
	s.alarm = b
	return s, nil
}

// Alarm returns the binding driving the service
func (s *TimerService) Alarm() *AlarmBinding {
	return s.alarm
}

// Close releases the alarm. Timers stay registered but never fire again.
func (s *TimerService) Close() {
	s.alarm.Release()
}

// ScheduleTimer adds a timer at its WakeTime, replacing a pending schedule
func (s *TimerService) ScheduleTimer(t *Timer) {
	s.cs.Enter()
	defer s.cs.Exit()

	s.registerLocked(t)
	if t.active {
		s.removeLocked(t)
	}
	t.active = true
	s.insertTimer(t)
	if s.list == t {
		s.rearmLocked()
	}
}

// StartOnce schedules t to fire once, timeout ticks from now
func (s *TimerService) StartOnce(t *Timer, timeout Tick) error {
	return s.start(t, timeout, 0)
}

// StartPeriodic schedules t to fire every period ticks
func (s *TimerService) StartPeriodic(t *Timer, period Tick) error {
	if period == 0 {
		return errors.Annotatef(ErrInvalidArgument, "timer %q: zero period", t.Name)
	}
	return s.start(t, period, period)
}

func (s *TimerService) start(t *Timer, timeout, period Tick) error {
	if t == nil || t.Handler == nil {
		return errors.Annotate(ErrInvalidArgument, "timer without handler")
	}

	s.cs.Enter()
	defer s.cs.Exit()

	if t.active {
		return errors.Annotatef(ErrInvalidState, "timer %q already running", t.Name)
	}
	s.registerLocked(t)
	t.period = period
	t.WakeTime = s.src.Now() + timeout
	t.active = true
	s.insertTimer(t)
	if s.list == t {
		s.rearmLocked()
	}
	return nil
}

// Stop removes t from the schedule. Stopping a timer from its own handler
// prevents the reschedule.
func (s *TimerService) Stop(t *Timer) error {
	s.cs.Enter()
	defer s.cs.Exit()

	if t == s.current {
		s.stopCurrent = true
		t.period = 0
		return nil
	}
	if !t.active {
		return errors.Annotatef(ErrInvalidState, "timer %q not running", t.Name)
	}
	wasHead := s.list == t
	s.removeLocked(t)
	if wasHead {
		s.rearmLocked()
	}
	return nil
}

// Delete stops t and forgets it
func (s *TimerService) Delete(t *Timer) {
	s.cs.Enter()
	defer s.cs.Exit()

	if t.active {
		wasHead := s.list == t
		s.removeLocked(t)
		if wasHead {
			s.rearmLocked()
		}
	}
	for i, r := range s.timers {
		if r == t {
			s.timers = append(s.timers[:i], s.timers[i+1:]...)
			break
		}
	}
	t.service = nil
}

// IsActive reports whether t is scheduled
func (s *TimerService) IsActive(t *Timer) bool {
	s.cs.Enter()
	defer s.cs.Exit()
	return t.active || (t == s.current && !s.stopCurrent && t.period != 0)
}

// insertTimer inserts a timer in sorted order by WakeTime; equal wake
// times keep insertion order
func (s *TimerService) insertTimer(t *Timer) {
	if s.list == nil || TickIsBefore(t.WakeTime, s.list.WakeTime) {
		t.Next = s.list
		s.list = t
		return
	}

	current := s.list
	for current.Next != nil && !TickIsBefore(t.WakeTime, current.Next.WakeTime) {
		current = current.Next
	}

	t.Next = current.Next
	current.Next = t
}

func (s *TimerService) removeLocked(t *Timer) {
	if s.list == t {
		s.list = t.Next
	} else {
		for cur := s.list; cur != nil; cur = cur.Next {
			if cur.Next == t {
				cur.Next = t.Next
				break
			}
		}
	}
	t.Next = nil
	t.active = false
}

func (s *TimerService) registerLocked(t *Timer) {
	if t.service == s {
		return
	}
	t.service = s
	s.timers = append(s.timers, t)
}

// rearmLocked points the alarm at the head deadline, or stops it
func (s *TimerService) rearmLocked() {
	if s.list == nil {
		s.alarm.Cancel()
		return
	}
	var delta Tick
	now := s.src.Now()
	if TickIsBefore(now, s.list.WakeTime) {
		delta = s.list.WakeTime - now
	}
	if err := s.alarm.Arm(delta, false); err != nil {
		DebugAsync("timer service: rearm failed: " + err.Error())
	}
}

// Dispatch processes due timers. It is the alarm callback and may also be
// called from a cooperative main loop. A periodic timer that is still
// behind after rescheduling fires again in the same pass.
func (s *TimerService) Dispatch() {
	for {
		s.cs.Enter()
		t := s.list
		if t == nil {
			s.cs.Exit()
			break
		}
		now := s.src.Now()
		if TickIsBefore(now, t.WakeTime) {
			s.cs.Exit()
			break
		}
		s.list = t.Next
		t.Next = nil
		t.active = false
		t.fired++
		s.current = t
		s.stopCurrent = false
		late := TickElapsed(t.WakeTime, now)
		if late > 0 {
			s.late++
		}
		s.cs.Exit()

		RecordTiming(EvtTimerDispatch, 0, uint32(now), uint32(t.WakeTime), t.fired)
		if late > 0 {
			RecordTiming(EvtTimerPast, 0, uint32(now), uint32(late), 0)
		}

		result := t.Handler(t)

		s.cs.Enter()
		if result == SF_RESCHEDULE && !s.stopCurrent && !t.active {
			t.active = true
			s.insertTimer(t)
		}
		s.current = nil
		s.stopCurrent = false
		s.cs.Exit()
	}

	s.cs.Enter()
	s.rearmLocked()
	s.cs.Exit()
}

// Late returns how many dispatches ran after their wake time
func (s *TimerService) Late() uint32 {
	s.cs.Enter()
	defer s.cs.Exit()
	return s.late
}

// Snapshot lists every registered timer, scheduled ones first in expiry
// order
func (s *TimerService) Snapshot() []TimerInfo {
	s.cs.Enter()
	defer s.cs.Exit()

	infos := make([]TimerInfo, 0, len(s.timers))
	for t := s.list; t != nil; t = t.Next {
		infos = append(infos, timerInfo(t))
	}
	for _, t := range s.timers {
		if !t.active {
			infos = append(infos, timerInfo(t))
		}
	}
	return infos
}

func timerInfo(t *Timer) TimerInfo {
	return TimerInfo{
		Name:     t.Name,
		WakeTime: t.WakeTime,
		Period:   t.period,
		Active:   t.active,
		Fired:    t.fired,
	}
}
