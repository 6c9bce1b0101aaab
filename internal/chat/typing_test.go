package chat

import (
	"testing"
	"time"
)

const testDecay = 40 * time.Millisecond

func TestTypingObserveAndDecay(t *testing.T) {
	ti := NewTypingIndicator(1, testDecay, nil)

	ti.Observe(7, "alice")
	name, active := ti.Current()
	if !active || name != "alice" {
		t.Fatalf("expected alice typing, got %q active=%v", name, active)
	}

	time.Sleep(3 * testDecay)
	if _, active := ti.Current(); active {
		t.Error("expected indicator cleared after decay")
	}
}

func TestTypingRestartExtendsDecay(t *testing.T) {
	ti := NewTypingIndicator(1, testDecay, nil)

	ti.Observe(7, "alice")
	time.Sleep(testDecay / 2)
	ti.Observe(7, "alice")
	time.Sleep(testDecay / 2)

	// One full decay after the first event, but only half a window into the
	// restart from the second.
	if _, active := ti.Current(); !active {
		t.Error("expected indicator still active after restart")
	}

	time.Sleep(3 * testDecay)
	if _, active := ti.Current(); active {
		t.Error("expected indicator cleared eventually")
	}
}

func TestTypingIgnoresLocalUser(t *testing.T) {
	ti := NewTypingIndicator(7, testDecay, nil)

	ti.Observe(7, "self")
	if _, active := ti.Current(); active {
		t.Error("local user's typing must never be displayed")
	}
}

func TestTypingDefaultsAnonymousName(t *testing.T) {
	ti := NewTypingIndicator(1, testDecay, nil)

	ti.Observe(7, "")
	name, active := ti.Current()
	if !active || name != "Someone" {
		t.Errorf("expected fallback name, got %q active=%v", name, active)
	}
}

func TestTypingLatestSenderWins(t *testing.T) {
	ti := NewTypingIndicator(1, testDecay, nil)

	ti.Observe(7, "alice")
	ti.Observe(8, "bob")
	name, active := ti.Current()
	if !active || name != "bob" {
		t.Errorf("expected bob shown, got %q active=%v", name, active)
	}
}

func TestTypingStopClearsWithoutCallback(t *testing.T) {
	var fired int
	ti := NewTypingIndicator(1, testDecay, func() { fired++ })

	ti.Observe(7, "alice")
	firedBefore := fired

	ti.Stop()
	if _, active := ti.Current(); active {
		t.Error("expected indicator cleared after Stop")
	}
	if fired != firedBefore {
		t.Error("Stop must not fire the change callback")
	}

	// The cancelled timer must not fire later.
	time.Sleep(3 * testDecay)
	if fired != firedBefore {
		t.Error("expected no callback from a cancelled timer")
	}
}

func TestThrottleSuppressesWithinInterval(t *testing.T) {
	tt := NewTypingThrottle(800 * time.Millisecond)

	current := time.Now()
	tt.now = func() time.Time { return current }

	if !tt.Allow() {
		t.Fatal("first call should be allowed")
	}
	if tt.Allow() {
		t.Error("second call inside the window should be suppressed")
	}

	current = current.Add(799 * time.Millisecond)
	if tt.Allow() {
		t.Error("call just inside the window should be suppressed")
	}

	current = current.Add(1 * time.Millisecond)
	if !tt.Allow() {
		t.Error("call at the window boundary should be allowed")
	}

	// The allowed call restarts the window.
	current = current.Add(100 * time.Millisecond)
	if tt.Allow() {
		t.Error("window should restart after an allowed call")
	}
}

func TestThrottleRewindReopensWindow(t *testing.T) {
	tt := NewTypingThrottle(800 * time.Millisecond)

	current := time.Now()
	tt.now = func() time.Time { return current }

	if !tt.Allow() {
		t.Fatal("first call should be allowed")
	}

	// The broadcast failed; give the window back.
	tt.Rewind()
	if !tt.Allow() {
		t.Error("expected the window reopened after Rewind")
	}

	// The retry spent the window for real this time.
	current = current.Add(100 * time.Millisecond)
	if tt.Allow() {
		t.Error("expected the window closed after a kept Allow")
	}
}

func TestThrottleDefaultInterval(t *testing.T) {
	tt := NewTypingThrottle(0)
	if tt.interval != DefaultTypingInterval {
		t.Errorf("expected default interval %s, got %s", DefaultTypingInterval, tt.interval)
	}
}
