package core

import "testing"

func TestDeadlineWrapAround(t *testing.T) {
	clock := NewManualTicks(0xFFFFFFF0, 1000)
	d := NewDeadlineTimer(clock, clock)
	d.Arm(32)

	clock.Set(0x0000000F)
	if d.HasExpired() {
		t.Error("Expected not expired at 31 ticks elapsed")
	}
	clock.Set(0x00000010)
	if !d.HasExpired() {
		t.Error("Expected expired at 32 ticks elapsed across the wrap")
	}
}

func TestDeadlineExpiryTable(t *testing.T) {
	testCases := []struct {
		start, timeout, now Tick
		expected            bool
	}{
		{0, 10, 9, false},
		{0, 10, 10, true},
		{0xFFFFFFFF, 1, 0, true},
		{0xFFFFFFFF, 2, 0, false},
		{0x80000000, 0x7FFFFFFF, 0xFFFFFFFE, false},
		{0x80000000, 0x7FFFFFFF, 0xFFFFFFFF, true},
		{100, 0xFFFFFFFF, 99, true},
	}

	for _, tc := range testCases {
		clock := NewManualTicks(tc.start, 1000)
		d := NewDeadlineTimer(clock, nil)
		d.Arm(tc.timeout)
		clock.Set(tc.now)
		if got := d.HasExpired(); got != tc.expected {
			t.Errorf("start=%#x timeout=%#x now=%#x: expected %v, got %v", tc.start, tc.timeout, tc.now, tc.expected, got)
		}
	}
}

func TestDeadlineZeroTimeout(t *testing.T) {
	clock := NewManualTicks(1234, 1000)
	d := NewDeadlineTimer(clock, clock)
	d.Arm(0)

	if !d.HasExpired() {
		t.Error("Expected a zero timeout to be expired immediately")
	}
	if clock.Sleeps() != 0 {
		t.Errorf("Expired polls must not sleep, got %d sleeps", clock.Sleeps())
	}
}

func TestDeadlinePollingCourtesy(t *testing.T) {
	clock := NewManualTicks(0, 1000)
	sleeper := NewManualTicks(0, 1000) // counts sleeps without moving the clock
	d := NewDeadlineTimer(clock, sleeper)
	d.Arm(100)

	clock.Set(10)
	d.HasExpired()
	if sleeper.Sleeps() != 0 {
		t.Fatalf("First poll at a new tick must not sleep, got %d", sleeper.Sleeps())
	}

	d.HasExpired()
	if sleeper.Sleeps() != 1 {
		t.Fatalf("Second poll at the same tick must sleep once, got %d", sleeper.Sleeps())
	}

	clock.Set(11)
	d.HasExpired()
	if sleeper.Sleeps() != 1 {
		t.Errorf("Poll at a different tick must not sleep, got %d", sleeper.Sleeps())
	}
}

func TestDeadlineFirstPollAtArmTick(t *testing.T) {
	for _, start := range []Tick{0, 1, 0xFFFFFFFF} {
		clock := NewManualTicks(start, 1000)
		sleeper := NewManualTicks(0, 1000)
		d := NewDeadlineTimer(clock, sleeper)
		d.Arm(100)

		d.HasExpired()
		if sleeper.Sleeps() != 0 {
			t.Errorf("start=%#x: first poll on the arming tick slept %d times", start, sleeper.Sleeps())
		}
		d.HasExpired()
		if sleeper.Sleeps() != 1 {
			t.Errorf("start=%#x: repeated poll should sleep once, got %d", start, sleeper.Sleeps())
		}
	}
}

func TestDeadlineCourtesyAdvancesClock(t *testing.T) {
	clock := NewManualTicks(0, 1000)
	d := NewDeadlineTimer(clock, clock)
	d.Arm(5)

	polls := 0
	for !d.HasExpired() {
		polls++
		if polls > 100 {
			t.Fatal("Spinning on HasExpired never reached the deadline")
		}
	}
	if clock.Now() != 5 {
		t.Errorf("Expected the courtesy sleeps to reach tick 5, got %d", clock.Now())
	}
}

func TestDeadlineRemaining(t *testing.T) {
	clock := NewManualTicks(0xFFFFFFFA, 1000)
	d := NewDeadlineTimer(clock, nil)
	d.ArmMS(20)

	clock.Advance(8)
	if got := d.Remaining(); got != 12 {
		t.Errorf("Expected 12 ticks remaining, got %d", got)
	}
	if got := d.RemainingMS(); got != 12 {
		t.Errorf("Expected 12ms remaining, got %d", got)
	}
	clock.Advance(20)
	if got := d.Remaining(); got != 0 {
		t.Errorf("Expected 0 remaining after expiry, got %d", got)
	}
}

func TestDeadlineArmSecondsAndInit(t *testing.T) {
	clock := NewManualTicks(0, 1000)
	d := NewDeadlineTimer(clock, nil)
	d.ArmSeconds(2)

	if got := d.Remaining(); got != 2000 {
		t.Errorf("Expected 2000 ticks, got %d", got)
	}
	d.Arm(10)
	clock.Advance(3)
	if got := d.Remaining(); got != 7 {
		t.Errorf("Re-arm should replace the deadline, expected 7 remaining, got %d", got)
	}

	d.Init()
	if !d.HasExpired() {
		t.Error("An initialized, never-armed timer has a zero timeout and is expired")
	}
}
