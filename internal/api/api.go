// Package api serves the chat daemon's REST surface: message history reads
// and the admin-only delete operations. Deletes are deliberately not
// accepted over the WebSocket or NATS path, so the admin check lives in
// exactly one place.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/travelbuddy/chat-app/internal/chat"
	"github.com/travelbuddy/chat-app/internal/message"
	"github.com/travelbuddy/chat-app/internal/metrics"
	"github.com/travelbuddy/chat-app/internal/session"
)

// MessageStore is the slice of the message store the API needs.
type MessageStore interface {
	ListByGroup(ctx context.Context, groupID int64) ([]message.Message, error)
	DeleteByID(ctx context.Context, groupID, messageID int64) (bool, error)
	DeleteAllByGroup(ctx context.Context, groupID int64) (int64, error)
}

// MembershipStore answers who may read and who may delete.
type MembershipStore interface {
	IsMember(ctx context.Context, groupID, userID int64) (bool, error)
	IsAdmin(ctx context.Context, groupID, userID int64) (bool, error)
}

// TokenResolver maps bearer tokens to identities.
type TokenResolver interface {
	Resolve(ctx context.Context, token string) (*session.Identity, error)
}

// Broadcaster publishes events on a group's fan-out subject so connected
// clients see deletes without refetching history.
type Broadcaster interface {
	PublishGroupEvent(groupID int64, data []byte) error
}

// Server holds the REST handlers and their collaborators.
type Server struct {
	messages MessageStore
	members  MembershipStore
	tokens   TokenResolver
	broker   Broadcaster
}

// NewServer assembles the REST surface.
func NewServer(messages MessageStore, members MembershipStore, tokens TokenResolver, broker Broadcaster) *Server {
	return &Server{
		messages: messages,
		members:  members,
		tokens:   tokens,
		broker:   broker,
	}
}

// Register mounts the REST routes on the given mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /groups/{group}/messages", s.handleHistory)
	mux.HandleFunc("DELETE /groups/{group}/messages/{message}", s.handleDeleteMessage)
	mux.HandleFunc("DELETE /groups/{group}/messages", s.handleDeleteAll)
}

// messageRecord is the wire shape of one history entry, matching the event
// payloads broadcast over NATS so clients parse both with the same decoder.
type messageRecord struct {
	ID         int64  `json:"id"`
	GroupID    int64  `json:"groupId"`
	SenderID   int64  `json:"senderId"`
	SenderName string `json:"senderName"`
	Content    string `json:"content"`
	Timestamp  string `json:"timestamp"`
}

// handleHistory serves GET /groups/{group}/messages for group members.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	groupID, _, ok := s.authorize(w, r, false)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	msgs, err := s.messages.ListByGroup(ctx, groupID)
	if err != nil {
		log.Printf("[api] history group=%d: %v", groupID, err)
		writeError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}

	records := make([]messageRecord, 0, len(msgs))
	for _, m := range msgs {
		records = append(records, messageRecord{
			ID:         m.ID,
			GroupID:    m.GroupID,
			SenderID:   m.SenderID,
			SenderName: m.SenderName,
			Content:    m.Content,
			Timestamp:  m.SentAt.UTC().Format(time.RFC3339Nano),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(records)
}

// handleDeleteMessage serves DELETE /groups/{group}/messages/{message}.
// Admin only. Deleting an id that is already gone still succeeds, so retries
// and races between two admins are harmless.
func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	groupID, identity, ok := s.authorize(w, r, true)
	if !ok {
		return
	}

	messageID, err := strconv.ParseInt(r.PathValue("message"), 10, 64)
	if err != nil || messageID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid message id")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	removed, err := s.messages.DeleteByID(ctx, groupID, messageID)
	if err != nil {
		log.Printf("[api] delete group=%d message=%d: %v", groupID, messageID, err)
		writeError(w, http.StatusInternalServerError, "failed to delete message")
		return
	}

	if removed {
		s.broadcast(groupID, chat.ChatEvent{
			Type:     chat.TypeDelete,
			ID:       messageID,
			GroupID:  groupID,
			SenderID: chat.FlexInt64(identity.UserID),
		})
		log.Printf("[api] message deleted group=%d message=%d by user=%d",
			groupID, messageID, identity.UserID)
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteAll serves DELETE /groups/{group}/messages. Admin only.
func (s *Server) handleDeleteAll(w http.ResponseWriter, r *http.Request) {
	groupID, identity, ok := s.authorize(w, r, true)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	count, err := s.messages.DeleteAllByGroup(ctx, groupID)
	if err != nil {
		log.Printf("[api] delete all group=%d: %v", groupID, err)
		writeError(w, http.StatusInternalServerError, "failed to delete messages")
		return
	}

	s.broadcast(groupID, chat.ChatEvent{
		Type:     chat.TypeDeleteAll,
		GroupID:  groupID,
		SenderID: chat.FlexInt64(identity.UserID),
	})
	log.Printf("[api] all messages deleted group=%d count=%d by user=%d",
		groupID, count, identity.UserID)

	w.WriteHeader(http.StatusNoContent)
}

// authorize resolves the bearer token, parses the group id, and checks
// membership (or admin role when admin is true). On failure it writes the
// error response and returns ok=false.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, admin bool) (int64, *session.Identity, bool) {
	groupID, err := strconv.ParseInt(r.PathValue("group"), 10, 64)
	if err != nil || groupID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid group id")
		return 0, nil, false
	}

	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return 0, nil, false
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	identity, err := s.tokens.Resolve(ctx, token)
	if err != nil {
		if errors.Is(err, session.ErrUnknownToken) {
			writeError(w, http.StatusUnauthorized, "invalid token")
		} else {
			log.Printf("[api] resolve token: %v", err)
			writeError(w, http.StatusInternalServerError, "auth lookup failed")
		}
		return 0, nil, false
	}

	allowed, err := s.checkRole(ctx, groupID, identity.UserID, admin)
	if err != nil {
		log.Printf("[api] membership check group=%d user=%d: %v", groupID, identity.UserID, err)
		writeError(w, http.StatusInternalServerError, "membership lookup failed")
		return 0, nil, false
	}
	if !allowed {
		writeError(w, http.StatusForbidden, "forbidden")
		return 0, nil, false
	}

	return groupID, identity, true
}

func (s *Server) checkRole(ctx context.Context, groupID, userID int64, admin bool) (bool, error) {
	if admin {
		return s.members.IsAdmin(ctx, groupID, userID)
	}
	return s.members.IsMember(ctx, groupID, userID)
}

// broadcast publishes a delete event on the group's fan-out subject. A
// broker failure is logged but does not fail the HTTP request: the database
// is already updated and clients converge on the next history load.
func (s *Server) broadcast(groupID int64, event chat.ChatEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := s.broker.PublishGroupEvent(groupID, data); err != nil {
		log.Printf("[api] broadcast %s group=%d: %v", event.Type, groupID, err)
		metrics.EventsTotal.WithLabelValues(strings.ToLower(event.Type), "dropped").Inc()
		return
	}
	metrics.EventsTotal.WithLabelValues(strings.ToLower(event.Type), "relayed").Inc()
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
