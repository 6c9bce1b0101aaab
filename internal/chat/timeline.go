package chat

import (
	"strings"
	"sync"
)

// Message is the reconciled, displayable form of a CHAT event. ID is zero
// when the backend has not assigned one yet (e.g. an event echoed by the
// broker before persistence); such entries are deduplicated by the
// (timestamp, sender, content) triple instead.
type Message struct {
	ID         int64
	GroupID    int64
	SenderID   int64
	SenderName string
	Content    string
	Timestamp  string
}

// MessageFromEvent converts a normalized CHAT event into a Message.
func MessageFromEvent(event ChatEvent) Message {
	return Message{
		ID:         event.ID,
		GroupID:    event.GroupID,
		SenderID:   int64(event.SenderID),
		SenderName: event.SenderName,
		Content:    string(event.Content),
		Timestamp:  event.Timestamp,
	}
}

// Timeline merges REST-fetched history with live broker events into one
// ordered, deduplicated sequence. Ordering is arrival order: history is
// fetched already sorted and live events append. The sequence never contains
// two entries with the same non-zero id, nor two entries with an identical
// (timestamp, sender, content) triple.
//
// Events applied while a history load is in flight are buffered and replayed
// in arrival order once the load completes, so nothing racing the fetch is
// dropped or reordered.
type Timeline struct {
	mu       sync.Mutex
	messages []Message
	loading  bool
	pending  []ChatEvent
	onChange func() // fired after every mutation that changes the sequence
}

// NewTimeline creates an empty timeline. onChange may be nil; when set it is
// called (without the internal lock held) every time the visible sequence
// changes — the view layer uses it as its scroll-to-latest signal.
func NewTimeline(onChange func()) *Timeline {
	return &Timeline{onChange: onChange}
}

// BeginLoad marks a history fetch as in flight. Live events applied between
// BeginLoad and FinishLoad/FailLoad are buffered.
func (t *Timeline) BeginLoad() {
	t.mu.Lock()
	t.loading = true
	t.pending = nil
	t.mu.Unlock()
}

// FinishLoad replaces the sequence wholesale with the fetched history, then
// replays any events that arrived during the fetch in their arrival order.
func (t *Timeline) FinishLoad(history []Message) {
	t.mu.Lock()
	t.messages = make([]Message, 0, len(history))
	for _, m := range history {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		if t.findLocked(m.ID, m.Timestamp, m.SenderID, m.Content) < 0 {
			t.messages = append(t.messages, m)
		}
	}
	// Replay buffered events before releasing the lock so nothing applied
	// concurrently can slot in ahead of them.
	for _, event := range t.pending {
		t.applyLocked(event)
	}
	t.pending = nil
	t.loading = false
	t.mu.Unlock()

	t.notify() // a wholesale replace is always a visible change
}

// FailLoad releases the loading state after a failed history fetch, leaving
// the sequence empty rather than partial. Buffered live events are still
// replayed so the view degrades to live-only rather than hanging.
func (t *Timeline) FailLoad() {
	t.mu.Lock()
	t.messages = nil
	for _, event := range t.pending {
		t.applyLocked(event)
	}
	t.pending = nil
	t.loading = false
	t.mu.Unlock()

	t.notify()
}

// Loading reports whether a history fetch is currently in flight.
func (t *Timeline) Loading() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loading
}

// Apply folds a single live event into the sequence. TYPING events are not
// handled here; they belong to the typing indicator. It returns true if the
// visible sequence changed.
func (t *Timeline) Apply(event ChatEvent) bool {
	t.mu.Lock()
	if t.loading {
		// The loading check and the append must share one critical section:
		// if the lock were dropped in between, an event could land ahead of
		// the buffered ones while FinishLoad is mid-replay.
		t.pending = append(t.pending, event)
		t.mu.Unlock()
		return false
	}
	changed := t.applyLocked(event)
	t.mu.Unlock()

	if changed {
		t.notify()
	}
	return changed
}

// applyLocked performs the state transition without firing the change
// callback. Caller holds mu.
func (t *Timeline) applyLocked(event ChatEvent) bool {
	switch event.Type {
	case TypeDelete:
		for i, m := range t.messages {
			if m.ID != 0 && m.ID == event.ID {
				t.messages = append(t.messages[:i], t.messages[i+1:]...)
				return true
			}
		}
		return false // already gone — deletes are idempotent

	case TypeDeleteAll:
		if len(t.messages) == 0 {
			return false
		}
		t.messages = nil
		return true

	case TypeChat:
		msg := MessageFromEvent(event)
		if strings.TrimSpace(msg.Content) == "" {
			return false // blank messages are never displayed
		}
		if t.findLocked(msg.ID, msg.Timestamp, msg.SenderID, msg.Content) >= 0 {
			return false // duplicate from the other delivery path
		}
		t.messages = append(t.messages, msg)
		return true
	}

	return false
}

// findLocked returns the index of an entry matching by id (when non-zero) or
// by the (timestamp, sender, content) dedup triple, or -1. Caller holds mu.
func (t *Timeline) findLocked(id int64, timestamp string, senderID int64, content string) int {
	for i, m := range t.messages {
		if id != 0 && m.ID == id {
			return i
		}
		if m.Timestamp == timestamp && m.SenderID == senderID && m.Content == content {
			return i
		}
	}
	return -1
}

// Messages returns a snapshot of the current sequence in display order.
func (t *Timeline) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Len returns the number of displayed messages.
func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}

func (t *Timeline) notify() {
	if t.onChange != nil {
		t.onChange()
	}
}
