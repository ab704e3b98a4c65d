// Package timer implements the frame-synchronous interval timer used to gate
// systems and standalone tick sources. A Timer never fires more than once per
// Consume call, however long the frame was.
package timer

import "time"

// Timer accumulates frame time against an interval.
type Timer struct {
	interval time.Duration
	elapsed  time.Duration
	oneShot  bool
	stopped  bool
}

// New returns a repeating timer. An interval of zero never accumulates and
// fires on every Consume.
func New(interval time.Duration) *Timer {
	return &Timer{interval: interval}
}

// NewTimeout returns a timer that fires once after d and then stops itself.
func NewTimeout(d time.Duration) *Timer {
	return &Timer{interval: d, oneShot: true}
}

func (t *Timer) Interval() time.Duration { return t.interval }
func (t *Timer) Elapsed() time.Duration  { return t.elapsed }
func (t *Timer) Active() bool            { return !t.stopped }
func (t *Timer) OneShot() bool           { return t.oneShot }

// SetInterval changes the interval and keeps the accumulated time.
func (t *Timer) SetInterval(d time.Duration) {
	t.interval = d
}

// Advance adds dt to the accumulator. Stopped timers ignore it.
func (t *Timer) Advance(dt time.Duration) {
	if t.stopped || dt <= 0 {
		return
	}
	t.elapsed += dt
}

// Consume reports whether an interval has elapsed and, if so, subtracts one
// interval from the accumulator. It fires at most once per call; time left
// over from a long frame is spent by later calls, one interval each.
func (t *Timer) Consume() bool {
	if t.stopped {
		return false
	}
	if t.interval <= 0 {
		t.fired()
		return true
	}
	if t.elapsed < t.interval {
		return false
	}
	t.elapsed -= t.interval
	t.fired()
	return true
}

// fired spends one-shot timers.
func (t *Timer) fired() {
	if t.oneShot {
		t.stopped = true
		t.elapsed = 0
	}
}

// Reset zeroes the accumulator.
func (t *Timer) Reset() {
	t.elapsed = 0
}

// Start re-arms a stopped timer with an empty accumulator.
func (t *Timer) Start() {
	t.stopped = false
	t.elapsed = 0
}

// Stop freezes the timer; Advance and Consume become no-ops until Start.
func (t *Timer) Stop() {
	t.stopped = true
}

// Restore sets the accumulator, used when reloading persisted state.
func (t *Timer) Restore(elapsed time.Duration, active bool) {
	t.elapsed = elapsed
	t.stopped = !active
}
