package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/travelbuddy/chat-app/internal/chat"
	"github.com/travelbuddy/chat-app/internal/message"
	"github.com/travelbuddy/chat-app/internal/session"
)

type fakeMessages struct {
	mu       sync.Mutex
	byGroup  map[int64][]message.Message
	deleted  []int64
	cleared  []int64
	failWith error
}

func (f *fakeMessages) ListByGroup(ctx context.Context, groupID int64) ([]message.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	return f.byGroup[groupID], nil
}

func (f *fakeMessages) DeleteByID(ctx context.Context, groupID, messageID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return false, f.failWith
	}
	f.deleted = append(f.deleted, messageID)
	return true, nil
}

func (f *fakeMessages) DeleteAllByGroup(ctx context.Context, groupID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, groupID)
	return int64(len(f.byGroup[groupID])), nil
}

// fakeMembers treats user 1 as admin, user 2 as plain member.
type fakeMembers struct{}

func (fakeMembers) IsMember(ctx context.Context, groupID, userID int64) (bool, error) {
	return userID == 1 || userID == 2, nil
}

func (fakeMembers) IsAdmin(ctx context.Context, groupID, userID int64) (bool, error) {
	return userID == 1, nil
}

// fakeTokens resolves "admin-tok" and "member-tok"; everything else is
// unknown.
type fakeTokens struct{}

func (fakeTokens) Resolve(ctx context.Context, token string) (*session.Identity, error) {
	switch token {
	case "admin-tok":
		return &session.Identity{UserID: 1, Username: "admin"}, nil
	case "member-tok":
		return &session.Identity{UserID: 2, Username: "member"}, nil
	case "stranger-tok":
		return &session.Identity{UserID: 3, Username: "stranger"}, nil
	}
	return nil, session.ErrUnknownToken
}

type fakeBroker struct {
	mu     sync.Mutex
	events []chat.ChatEvent
}

func (f *fakeBroker) PublishGroupEvent(groupID int64, data []byte) error {
	event, err := chat.ParseEvent(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.events = append(f.events, event)
	f.mu.Unlock()
	return nil
}

func (f *fakeBroker) broadcasts() []chat.ChatEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chat.ChatEvent(nil), f.events...)
}

func newTestServer(messages *fakeMessages) (*httptest.Server, *fakeBroker) {
	broker := &fakeBroker{}
	mux := http.NewServeMux()
	NewServer(messages, fakeMembers{}, fakeTokens{}, broker).Register(mux)
	return httptest.NewServer(mux), broker
}

func do(t *testing.T, method, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	return resp
}

func TestHistoryForMember(t *testing.T) {
	messages := &fakeMessages{byGroup: map[int64][]message.Message{
		3: {
			{ID: 1, GroupID: 3, SenderID: 7, SenderName: "alice", Content: "hi",
				SentAt: time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)},
		},
	}}
	server, _ := newTestServer(messages)
	defer server.Close()

	resp := do(t, http.MethodGet, server.URL+"/groups/3/messages", "member-tok")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var records []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	r := records[0]
	if r["senderName"] != "alice" || r["content"] != "hi" {
		t.Errorf("unexpected record: %v", r)
	}
	if r["timestamp"] != "2026-01-02T15:04:05Z" {
		t.Errorf("expected RFC3339 UTC timestamp, got %v", r["timestamp"])
	}
}

func TestHistoryEmptyGroupIsEmptyArray(t *testing.T) {
	server, _ := newTestServer(&fakeMessages{byGroup: map[int64][]message.Message{}})
	defer server.Close()

	resp := do(t, http.MethodGet, server.URL+"/groups/3/messages", "member-tok")
	defer resp.Body.Close()

	var records []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if records == nil || len(records) != 0 {
		t.Errorf("expected empty JSON array, got %v", records)
	}
}

func TestHistoryAuthFailures(t *testing.T) {
	server, _ := newTestServer(&fakeMessages{})
	defer server.Close()

	cases := []struct {
		name  string
		token string
		want  int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"unknown token", "bogus", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		resp := do(t, http.MethodGet, server.URL+"/groups/3/messages", tc.token)
		resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Errorf("%s: expected %d, got %d", tc.name, tc.want, resp.StatusCode)
		}
	}
}

func TestHistoryNonMemberForbidden(t *testing.T) {
	server, _ := newTestServer(&fakeMessages{})
	defer server.Close()

	resp := do(t, http.MethodGet, server.URL+"/groups/3/messages", "stranger-tok")
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 for non-member, got %d", resp.StatusCode)
	}
}

func TestHistoryInvalidGroupID(t *testing.T) {
	server, _ := newTestServer(&fakeMessages{})
	defer server.Close()

	resp := do(t, http.MethodGet, server.URL+"/groups/0/messages", "member-tok")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid group id, got %d", resp.StatusCode)
	}
}

func TestDeleteMessageRequiresAdmin(t *testing.T) {
	messages := &fakeMessages{}
	server, broker := newTestServer(messages)
	defer server.Close()

	resp := do(t, http.MethodDelete, server.URL+"/groups/3/messages/42", "member-tok")
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", resp.StatusCode)
	}
	if len(messages.deleted) != 0 {
		t.Error("rejected delete must not reach the store")
	}
	if len(broker.broadcasts()) != 0 {
		t.Error("rejected delete must not broadcast")
	}
}

func TestDeleteMessageBroadcastsDelete(t *testing.T) {
	messages := &fakeMessages{}
	server, broker := newTestServer(messages)
	defer server.Close()

	resp := do(t, http.MethodDelete, server.URL+"/groups/3/messages/42", "admin-tok")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if len(messages.deleted) != 1 || messages.deleted[0] != 42 {
		t.Fatalf("expected store delete of 42, got %v", messages.deleted)
	}

	events := broker.broadcasts()
	if len(events) != 1 {
		t.Fatalf("expected 1 broadcast, got %d", len(events))
	}
	if events[0].Type != chat.TypeDelete || events[0].ID != 42 || events[0].GroupID != 3 {
		t.Errorf("unexpected broadcast event: %+v", events[0])
	}
}

func TestDeleteAllBroadcastsDeleteAll(t *testing.T) {
	messages := &fakeMessages{byGroup: map[int64][]message.Message{3: {{ID: 1}, {ID: 2}}}}
	server, broker := newTestServer(messages)
	defer server.Close()

	resp := do(t, http.MethodDelete, server.URL+"/groups/3/messages", "admin-tok")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if len(messages.cleared) != 1 || messages.cleared[0] != 3 {
		t.Fatalf("expected group 3 cleared, got %v", messages.cleared)
	}

	events := broker.broadcasts()
	if len(events) != 1 || events[0].Type != chat.TypeDeleteAll {
		t.Fatalf("expected DELETE_ALL broadcast, got %+v", events)
	}
}

func TestStoreFailureIs500(t *testing.T) {
	messages := &fakeMessages{failWith: fmt.Errorf("db down")}
	server, _ := newTestServer(messages)
	defer server.Close()

	resp := do(t, http.MethodGet, server.URL+"/groups/3/messages", "member-tok")
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", resp.StatusCode)
	}
}
