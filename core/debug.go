package core

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// TimingEvent captures a timing-critical event for post-mortem analysis
type TimingEvent struct {
	EventType uint8  // Event type code
	OID       uint8  // Alarm id, core number or timer slot
	Clock     uint32 // Tick at event
	Value1    uint32 // Context-dependent value
	Value2    uint32 // Context-dependent value
}

// Event type codes
const (
	EvtAlarmArm      = 1  // binding armed (v1=deadline, v2=periodic)
	EvtAlarmFire     = 2  // alarm ISR accepted a fire (v1=generation)
	EvtAlarmSpurious = 3  // alarm ISR or dispatcher dropped a stale fire
	EvtAlarmCancel   = 4  // binding cancelled (v1=previous state)
	EvtCrossSend     = 5  // reason OR-ed into a core word (v1=reason)
	EvtCrossISR      = 6  // cross-core ISR drained a word (v1=reasons)
	EvtTimerDispatch = 7  // software timer handler ran (v1=wake time)
	EvtTimerPast     = 8  // software timer ran late (v1=lateness)
	EvtLegacyFatal   = 9  // legacy shim abort
	EvtEventDropped  = 10 // event queue overflow
)

const (
	TimingRingSize = 32 // Keep last 32 events for post-mortem
)

var (
	// debugPrintln is the global debug print function (can be set by platform code)
	debugPrintln DebugWriter = func(s string) {} // No-op by default

	// debugEnabled controls whether DebugPrintln output is active
	debugEnabled bool = false

	// Timing capture ring buffer (non-blocking, for post-mortem)
	timingRing  [TimingRingSize]TimingEvent
	timingCount uint32 // Events recorded so far; next write at count%size
	timingFloor uint32 // Count at the last clear

	// Async debug output channel
	debugChan chan string
)

var timingLock CriticalSection = &Spinlock{}

// SetDebugWriter sets the platform-specific debug output function
// This allows platforms to redirect debug output to UART, USB, etc.
func SetDebugWriter(writer DebugWriter) {
	if writer == nil {
		writer = func(string) {}
	}
	debugPrintln = writer
}

// SetDebugEnabled enables or disables debug output
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

// InitAsyncDebug starts the async debug output goroutine
// Call this from main() after SetDebugWriter; later calls are no-ops
func InitAsyncDebug() {
	if debugChan != nil {
		return
	}
	debugChan = make(chan string, 16)
	go debugOutputWorker(debugChan)
}

func debugOutputWorker(ch chan string) {
	for msg := range ch {
		debugPrintln(msg)
	}
}

// DebugPrintln writes a debug message using the platform-specific writer
func DebugPrintln(msg string) {
	if debugEnabled {
		debugPrintln(msg)
	}
}

// DebugAsync queues a debug message for async output. It never blocks, so
// it is usable from interrupt handlers; messages are dropped when full.
func DebugAsync(msg string) {
	if debugChan == nil || !debugEnabled {
		return
	}
	select {
	case debugChan <- msg:
	default:
	}
}

// RecordTiming captures a timing event in the ring buffer
func RecordTiming(eventType, oid uint8, clock, value1, value2 uint32) {
	exit := enterAuto(timingLock)
	timingRing[timingCount%TimingRingSize] = TimingEvent{
		EventType: eventType,
		OID:       oid,
		Clock:     clock,
		Value1:    value1,
		Value2:    value2,
	}
	timingCount++
	exit()
}

// SetTimingLock replaces the lock guarding the timing ring. Call it at
// bring-up, before any interrupt can record an event.
func SetTimingLock(cs CriticalSection) {
	if cs == nil {
		cs = &Spinlock{}
	}
	timingLock = cs
}

// TimingEvents returns the captured events, oldest first
func TimingEvents() []TimingEvent {
	events, _ := TimingEventsSince(0)
	return events
}

// TimingEventsSince returns the events recorded after cursor, oldest
// first, and the cursor to pass next time. Events overwritten in the ring
// are skipped.
func TimingEventsSince(cursor uint32) ([]TimingEvent, uint32) {
	timingLock.Enter()
	defer timingLock.Exit()

	from := cursor
	if from < timingFloor {
		from = timingFloor
	}
	if timingCount-from > TimingRingSize {
		from = timingCount - TimingRingSize
	}
	events := make([]TimingEvent, 0, timingCount-from)
	for i := from; i != timingCount; i++ {
		events = append(events, timingRing[i%TimingRingSize])
	}
	return events, timingCount
}

// TimingEventName returns the short name of an event code
func TimingEventName(eventType uint8) string {
	switch eventType {
	case EvtAlarmArm:
		return "ALARM_ARM"
	case EvtAlarmFire:
		return "ALARM_FIRE"
	case EvtAlarmSpurious:
		return "ALARM_SPURIOUS"
	case EvtAlarmCancel:
		return "ALARM_CANCEL"
	case EvtCrossSend:
		return "XCORE_SEND"
	case EvtCrossISR:
		return "XCORE_ISR"
	case EvtTimerDispatch:
		return "TIMER_FIRE"
	case EvtTimerPast:
		return "TIMER_PAST!"
	case EvtLegacyFatal:
		return "LEGACY_FATAL"
	case EvtEventDropped:
		return "EVENT_DROP"
	default:
		return "UNKNOWN"
	}
}

// DumpTimingRing outputs the timing ring buffer (call on shutdown/error)
func DumpTimingRing() {
	debugPrintln("[TIMING] === Timing Ring Dump ===")
	for _, evt := range TimingEvents() {
		debugPrintln("[TIMING] " + TimingEventName(evt.EventType) +
			" oid=" + utoa(uint32(evt.OID)) +
			" clock=" + utoa(evt.Clock) +
			" v1=" + utoa(evt.Value1) +
			" v2=" + utoa(evt.Value2))
	}
	debugPrintln("[TIMING] === End Dump ===")
}

// ClearTimingRing clears the timing buffer
func ClearTimingRing() {
	timingLock.Enter()
	defer timingLock.Exit()
	for i := range timingRing {
		timingRing[i] = TimingEvent{}
	}
	timingFloor = timingCount
}
