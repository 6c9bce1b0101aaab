package chat

import (
	"sync"
	"time"
)

const (
	// DefaultTypingDecay is how long a typing indicator stays visible after
	// the last TYPING event from another user.
	DefaultTypingDecay = 2000 * time.Millisecond

	// DefaultTypingInterval is the minimum spacing between outbound TYPING
	// broadcasts. Rapid keystrokes inside the window are suppressed so a
	// fast typist does not cause a broadcast storm.
	DefaultTypingInterval = 800 * time.Millisecond
)

// TypingIndicator tracks the single most recent "who is typing" signal for a
// group. Each TYPING event from another user restarts the decay timer; when
// the timer fires without an intervening event the indicator clears. TYPING
// events from the local user are ignored. A CHAT event from the typer does
// not clear the indicator early — only the timer does.
type TypingIndicator struct {
	mu          sync.Mutex
	localUserID int64
	decay       time.Duration
	name        string
	active      bool
	timer       *time.Timer
	gen         uint64 // invalidates timers restarted after they were armed
	onChange    func()
}

// NewTypingIndicator creates an indicator for the given local user. decay <= 0
// selects DefaultTypingDecay. onChange may be nil; when set it fires on every
// visible transition (shown, renamed, cleared).
func NewTypingIndicator(localUserID int64, decay time.Duration, onChange func()) *TypingIndicator {
	if decay <= 0 {
		decay = DefaultTypingDecay
	}
	return &TypingIndicator{
		localUserID: localUserID,
		decay:       decay,
		onChange:    onChange,
	}
}

// Observe feeds an inbound TYPING event into the indicator.
func (ti *TypingIndicator) Observe(senderID int64, senderName string) {
	if senderID == ti.localUserID {
		return // self-typing is never displayed
	}
	if senderName == "" {
		senderName = "Someone"
	}

	ti.mu.Lock()
	ti.name = senderName
	ti.active = true
	ti.gen++
	gen := ti.gen
	if ti.timer != nil {
		ti.timer.Stop()
	}
	ti.timer = time.AfterFunc(ti.decay, func() { ti.expire(gen) })
	ti.mu.Unlock()

	ti.notify()
}

// expire clears the indicator when the decay timer fires, unless a newer
// TYPING event restarted the timer in the meantime.
func (ti *TypingIndicator) expire(gen uint64) {
	ti.mu.Lock()
	if gen != ti.gen || !ti.active {
		ti.mu.Unlock()
		return
	}
	ti.active = false
	ti.name = ""
	ti.mu.Unlock()

	ti.notify()
}

// Current returns the display name of the user currently shown as typing,
// and whether anyone is shown at all.
func (ti *TypingIndicator) Current() (string, bool) {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	return ti.name, ti.active
}

// Stop cancels any pending decay timer and clears the indicator without
// firing the change callback. Called on session teardown.
func (ti *TypingIndicator) Stop() {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	ti.gen++
	if ti.timer != nil {
		ti.timer.Stop()
		ti.timer = nil
	}
	ti.active = false
	ti.name = ""
}

func (ti *TypingIndicator) notify() {
	if ti.onChange != nil {
		ti.onChange()
	}
}

// TypingThrottle limits how often outbound TYPING broadcasts may be sent.
// It measures elapsed time on the monotonic clock carried by time.Time, so
// wall-clock adjustments cannot reopen or extend the window.
type TypingThrottle struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
	prev     time.Time // last before the most recent Allow, for Rewind
	now      func() time.Time
}

// NewTypingThrottle creates a throttle. interval <= 0 selects
// DefaultTypingInterval.
func NewTypingThrottle(interval time.Duration) *TypingThrottle {
	if interval <= 0 {
		interval = DefaultTypingInterval
	}
	return &TypingThrottle{interval: interval, now: time.Now}
}

// Allow reports whether a TYPING broadcast may be sent now, and records the
// send time when it may. Calls inside the suppression window return false.
func (tt *TypingThrottle) Allow() bool {
	tt.mu.Lock()
	defer tt.mu.Unlock()

	now := tt.now()
	if !tt.last.IsZero() && now.Sub(tt.last) < tt.interval {
		return false
	}
	tt.prev = tt.last
	tt.last = now
	return true
}

// Rewind forgets the most recent Allow, reopening the window it started.
// Called when the broadcast the Allow was spent on failed to go out.
func (tt *TypingThrottle) Rewind() {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	tt.last = tt.prev
}
