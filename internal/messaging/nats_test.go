package messaging

import "testing"

func TestSubjectHelpers(t *testing.T) {
	if got := PublishSubject(42); got != "app.groups.42.chat" {
		t.Errorf("PublishSubject: got %q", got)
	}
	if got := EventsSubject(42); got != "topic.groups.42" {
		t.Errorf("EventsSubject: got %q", got)
	}
	if got := OnlineSubject(42); got != "topic.groups.42.online" {
		t.Errorf("OnlineSubject: got %q", got)
	}
}

func TestGroupFromPublishSubject(t *testing.T) {
	id, err := GroupFromPublishSubject("app.groups.17.chat")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != 17 {
		t.Errorf("expected group 17, got %d", id)
	}
}

func TestGroupFromPublishSubjectRejectsMalformed(t *testing.T) {
	bad := []string{
		"app.groups.17",
		"topic.groups.17.chat",
		"app.groups..chat",
		"app.groups.x.chat",
		"app.groups.17.chat.extra",
		"",
	}
	for _, subject := range bad {
		if _, err := GroupFromPublishSubject(subject); err == nil {
			t.Errorf("expected error for subject %q", subject)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	if config.ReconnectWait.Milliseconds() != 3000 {
		t.Errorf("expected 3000ms reconnect wait, got %s", config.ReconnectWait)
	}
	if config.MaxReconnects != -1 {
		t.Errorf("expected unlimited reconnects, got %d", config.MaxReconnects)
	}
}
