package bridge

import "time"

// Delay is the outcome of executing a command, in microseconds. A non-negative
// value asks the event loop to fire the recurring timer again after that long
// (0 means as soon as possible). TimerDone asks it not to reschedule.
type Delay int64

// TimerDone is the terminal sentinel: the recurring timer is not rescheduled.
const TimerDone Delay = -1

// Microseconds converts a duration to a Delay. Negative durations clamp to 0.
func Microseconds(d time.Duration) Delay {
	if d < 0 {
		return 0
	}
	return Delay(d / time.Microsecond)
}

// IsDone reports whether d is the terminal sentinel.
func (d Delay) IsDone() bool {
	return d < 0
}

// Duration returns d as a time.Duration. The terminal sentinel maps to 0.
func (d Delay) Duration() time.Duration {
	if d < 0 {
		return 0
	}
	return time.Duration(d) * time.Microsecond
}

func (d Delay) String() string {
	if d.IsDone() {
		return "done"
	}
	return d.Duration().String()
}
