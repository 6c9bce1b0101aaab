// Package client implements the group chat session manager: the
// connection-lifecycle controller that owns one broker session per
// (group, credential) pair and feeds its event stream into the message
// timeline, the typing indicator, and the presence counter.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/travelbuddy/chat-app/internal/chat"
	"github.com/travelbuddy/chat-app/internal/history"
	"github.com/travelbuddy/chat-app/internal/messaging"
	"github.com/travelbuddy/chat-app/internal/presence"
)

// Broker is the slice of the messaging client a session needs. It is an
// interface so tests can drive a session without a running NATS server.
type Broker interface {
	PublishGroupChat(groupID int64, data []byte) error
	SubscribeGroupEvents(groupID int64, handler func(data []byte)) error
	UnsubscribeGroupEvents(groupID int64) error
	SubscribeGroupOnline(groupID int64, handler func(data []byte)) error
	UnsubscribeGroupOnline(groupID int64) error
	IsConnected() bool
	Close()
}

// HistoryAPI is the slice of the REST client a session needs.
type HistoryAPI interface {
	History(ctx context.Context, groupID int64) ([]chat.Message, error)
	DeleteMessage(ctx context.Context, groupID, messageID int64) error
	DeleteAllMessages(ctx context.Context, groupID int64) error
}

// Config holds the collaborators and identity of the local user.
type Config struct {
	BrokerURL  string
	APIBaseURL string

	UserID   int64
	UserName string
	IsMember bool // membership in the active group; gates outbound sends

	ReconnectWait  time.Duration // 0 selects the 3s default
	TypingDecay    time.Duration // 0 selects the 2s default
	TypingInterval time.Duration // 0 selects the 800ms default

	// OnChange is the view-layer signal: fired whenever the message
	// sequence, typing indicator, online count, or connection state
	// changes. May be nil.
	OnChange func()

	// Dial and NewHistory exist for tests; when nil the real NATS and
	// REST clients are used.
	Dial       func(messaging.Config) (Broker, error)
	NewHistory func(baseURL, token string) HistoryAPI
}

// Manager owns at most one live session. Opening a new (group, token) pair
// fully tears down the previous session — both subscriptions cancelled, then
// the connection closed — before the new one is established, so two sessions
// can never deliver events into the same state. A generation counter tags
// every session so asynchronous results from a torn-down session (most
// importantly an in-flight history fetch) are discarded.
type Manager struct {
	config Config

	mu      sync.Mutex
	gen     uint64
	current *session
}

// NewManager creates a manager with no active session.
func NewManager(config Config) *Manager {
	if config.Dial == nil {
		config.Dial = func(mc messaging.Config) (Broker, error) {
			return messaging.Connect(mc)
		}
	}
	if config.NewHistory == nil {
		config.NewHistory = func(baseURL, token string) HistoryAPI {
			return history.NewClient(baseURL, token)
		}
	}
	return &Manager{config: config}
}

// session is one live (group, token) connection context.
type session struct {
	gen     uint64
	groupID int64

	broker  Broker
	api     HistoryAPI
	cancel  context.CancelFunc
	closing bool

	timeline *chat.Timeline
	typing   *chat.TypingIndicator
	throttle *chat.TypingThrottle

	mu          sync.Mutex
	connected   bool
	authFailed  bool
	onlineCount int
}

// Open establishes a session for the given group and credential, tearing
// down any previous session first. An empty group or token simply tears
// down: no session is created and Connected reports false. A broker
// authentication rejection is returned as a permanent error; the manager
// stays disconnected until Open is called again with new credentials.
func (m *Manager) Open(groupID int64, token string) error {
	m.mu.Lock()
	err := m.openLocked(groupID, token)
	m.mu.Unlock()

	// Notify outside the lock: the change callback is allowed to read
	// manager state.
	m.notify()
	return err
}

func (m *Manager) openLocked(groupID int64, token string) error {
	m.teardownLocked()

	if groupID == 0 || token == "" {
		return nil
	}

	m.gen++
	s := &session{
		gen:      m.gen,
		groupID:  groupID,
		api:      m.config.NewHistory(m.config.APIBaseURL, token),
		throttle: chat.NewTypingThrottle(m.config.TypingInterval),
	}
	s.timeline = chat.NewTimeline(m.notify)
	s.typing = chat.NewTypingIndicator(m.config.UserID, m.config.TypingDecay, m.notify)

	brokerConfig := messaging.DefaultConfig()
	brokerConfig.Name = fmt.Sprintf("travelbuddy-user-%d", m.config.UserID)
	brokerConfig.Token = token
	if m.config.BrokerURL != "" {
		brokerConfig.URL = m.config.BrokerURL
	}
	if m.config.ReconnectWait > 0 {
		brokerConfig.ReconnectWait = m.config.ReconnectWait
	}
	brokerConfig.OnStatusChange = func(connected bool) {
		m.sessionStatus(s, connected)
	}
	brokerConfig.OnAuthFailure = func(err error) {
		m.sessionAuthFailure(s, err)
	}

	broker, err := m.config.Dial(brokerConfig)
	if err != nil {
		return fmt.Errorf("client: open group %d: %w", groupID, err)
	}
	s.broker = broker

	if err := broker.SubscribeGroupEvents(groupID, func(data []byte) {
		m.sessionEvent(s, data)
	}); err != nil {
		broker.Close()
		return fmt.Errorf("client: open group %d: %w", groupID, err)
	}
	if err := broker.SubscribeGroupOnline(groupID, func(data []byte) {
		m.sessionOnline(s, data)
	}); err != nil {
		_ = broker.UnsubscribeGroupEvents(groupID)
		broker.Close()
		return fmt.Errorf("client: open group %d: %w", groupID, err)
	}

	s.mu.Lock()
	s.connected = broker.IsConnected()
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	m.current = s

	// History loads concurrently with the live stream; events racing the
	// fetch are buffered by the timeline and replayed in arrival order.
	s.timeline.BeginLoad()
	go m.loadHistory(ctx, s)

	return nil
}

// Close tears down the active session, if any.
func (m *Manager) Close() {
	m.mu.Lock()
	m.teardownLocked()
	m.mu.Unlock()
	m.notify()
}

// teardownLocked disposes the current session: unsubscribe both topics,
// then close the connection, then reset derived state. Caller holds m.mu.
func (m *Manager) teardownLocked() {
	s := m.current
	if s == nil {
		return
	}
	m.current = nil

	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if s.broker != nil {
		if err := s.broker.UnsubscribeGroupEvents(s.groupID); err != nil {
			log.Printf("[client] unsubscribe events group=%d: %v", s.groupID, err)
		}
		if err := s.broker.UnsubscribeGroupOnline(s.groupID); err != nil {
			log.Printf("[client] unsubscribe online group=%d: %v", s.groupID, err)
		}
		s.broker.Close()
	}
	s.typing.Stop()

	s.mu.Lock()
	s.connected = false
	s.onlineCount = 0
	s.mu.Unlock()
}

// loadHistory performs the one-shot REST fetch that seeds the timeline. The
// generation check before applying the result protects the current group's
// list from a stale fetch started for a previously viewed group.
func (m *Manager) loadHistory(ctx context.Context, s *session) {
	messages, err := s.api.History(ctx, s.groupID)

	m.mu.Lock()
	stale := m.current == nil || m.current.gen != s.gen
	m.mu.Unlock()
	if stale {
		return
	}

	if err != nil {
		log.Printf("[client] history fetch group=%d failed: %v", s.groupID, err)
		s.timeline.FailLoad()
		return
	}
	s.timeline.FinishLoad(messages)
}

// sessionEvent dispatches one inbound broker event for a session. Events for
// torn-down sessions are dropped.
func (m *Manager) sessionEvent(s *session, data []byte) {
	if !m.live(s) {
		return
	}

	event, err := chat.ParseEvent(data)
	if err != nil {
		log.Printf("[client] drop event group=%d: %v", s.groupID, err)
		return
	}

	if event.Type == chat.TypeTyping {
		s.typing.Observe(int64(event.SenderID), event.SenderName)
		return
	}
	s.timeline.Apply(event)
}

// sessionOnline recomputes the online count from a raw presence payload.
func (m *Manager) sessionOnline(s *session, data []byte) {
	if !m.live(s) {
		return
	}

	count := presence.Count(data)
	s.mu.Lock()
	changed := s.onlineCount != count
	s.onlineCount = count
	s.mu.Unlock()

	if changed {
		m.notify()
	}
}

// sessionStatus tracks transport-level connectivity. The broker retries
// transport drops itself with a fixed delay; here we only surface the flag.
func (m *Manager) sessionStatus(s *session, connected bool) {
	if !m.live(s) {
		return
	}

	s.mu.Lock()
	if s.authFailed {
		connected = false
	}
	changed := s.connected != connected
	s.connected = connected
	s.mu.Unlock()

	if changed {
		m.notify()
	}
}

// sessionAuthFailure marks a permanent credential rejection. No retry: the
// state clears only when Open is called with a new token or group.
func (m *Manager) sessionAuthFailure(s *session, err error) {
	if !m.live(s) {
		return
	}

	log.Printf("[client] broker rejected credentials for group=%d: %v", s.groupID, err)
	s.mu.Lock()
	s.authFailed = true
	s.connected = false
	s.mu.Unlock()

	m.notify()
}

// live reports whether s is still the manager's current session and not
// mid-teardown. Callbacks from dead sessions must never mutate shared state.
func (m *Manager) live(s *session) bool {
	// Check the closing flag first: it is set before the broker is closed,
	// so callbacks fired during teardown bail out without touching m.mu.
	s.mu.Lock()
	closing := s.closing
	s.mu.Unlock()
	if closing {
		return false
	}

	m.mu.Lock()
	ok := m.current == s
	m.mu.Unlock()
	return ok
}

// Connected reports whether the active session's broker connection is up.
func (m *Manager) Connected() bool {
	s := m.snapshot()
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// OnlineCount returns the most recent presence count for the active group.
func (m *Manager) OnlineCount() int {
	s := m.snapshot()
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onlineCount
}

// Messages returns the reconciled message sequence in display order.
func (m *Manager) Messages() []chat.Message {
	s := m.snapshot()
	if s == nil {
		return nil
	}
	return s.timeline.Messages()
}

// Loading reports whether the initial history fetch is still in flight.
func (m *Manager) Loading() bool {
	s := m.snapshot()
	if s == nil {
		return false
	}
	return s.timeline.Loading()
}

// TypingUser returns the name currently shown as typing, if any.
func (m *Manager) TypingUser() (string, bool) {
	s := m.snapshot()
	if s == nil {
		return "", false
	}
	return s.typing.Current()
}

// SendMessage publishes a CHAT event with the trimmed content. It is a
// silent no-op when there is no connected session, the local user is not a
// group member, or the content trims to empty. The displayed list is not
// mutated here; the broker echo is the source of truth.
func (m *Manager) SendMessage(content string) error {
	s, ok := m.sendable()
	if !ok {
		return nil
	}
	if err := chat.ValidateContent(content); err != nil {
		return nil
	}

	return m.publish(s, chat.ChatEvent{
		Type:       chat.TypeChat,
		GroupID:    s.groupID,
		SenderID:   chat.FlexInt64(m.config.UserID),
		SenderName: m.config.UserName,
		Content:    chat.FlexString(strings.TrimSpace(content)),
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// SendTyping publishes a TYPING event, throttled to one broadcast per
// interval. No-ops silently when not connected or not a member.
func (m *Manager) SendTyping() error {
	s, ok := m.sendable()
	if !ok {
		return nil
	}
	if !s.throttle.Allow() {
		return nil
	}

	err := m.publish(s, chat.ChatEvent{
		Type:       chat.TypeTyping,
		GroupID:    s.groupID,
		SenderID:   chat.FlexInt64(m.config.UserID),
		SenderName: m.config.UserName,
		Content:    "...",
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		// Nothing went out, so the throttle window must not be spent on it.
		s.throttle.Rewind()
		return err
	}
	return nil
}

// DeleteMessage deletes one message via REST and, on success, removes it
// locally. The broker's DELETE echo arriving before or after is a safe
// no-op either way. Authorization failures propagate to the caller.
func (m *Manager) DeleteMessage(ctx context.Context, messageID int64) error {
	s := m.snapshot()
	if s == nil {
		return fmt.Errorf("client: no active session")
	}
	if err := s.api.DeleteMessage(ctx, s.groupID, messageID); err != nil {
		return err
	}
	s.timeline.Apply(chat.ChatEvent{Type: chat.TypeDelete, ID: messageID})
	return nil
}

// DeleteAllMessages deletes every message in the group via REST and, on
// success, clears the local sequence.
func (m *Manager) DeleteAllMessages(ctx context.Context) error {
	s := m.snapshot()
	if s == nil {
		return fmt.Errorf("client: no active session")
	}
	if err := s.api.DeleteAllMessages(ctx, s.groupID); err != nil {
		return err
	}
	s.timeline.Apply(chat.ChatEvent{Type: chat.TypeDeleteAll})
	return nil
}

func (m *Manager) publish(s *session, event chat.ChatEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("client: marshal event: %w", err)
	}
	return s.broker.PublishGroupChat(s.groupID, data)
}

// sendable returns the current session when outbound publishes are allowed:
// an active connected session and local group membership.
func (m *Manager) sendable() (*session, bool) {
	if !m.config.IsMember {
		return nil, false
	}
	s := m.snapshot()
	if s == nil {
		return nil, false
	}
	s.mu.Lock()
	connected := s.connected
	s.mu.Unlock()
	if !connected {
		return nil, false
	}
	return s, true
}

func (m *Manager) snapshot() *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *Manager) notify() {
	if m.config.OnChange != nil {
		m.config.OnChange()
	}
}
