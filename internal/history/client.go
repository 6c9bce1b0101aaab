// Package history is the REST client for the message history and delete
// endpoints. It is the client core's only non-broker collaborator: one fetch
// seeds the timeline, and admin deletes go through it before any local
// mutation.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/travelbuddy/chat-app/internal/chat"
)

// ErrForbidden is returned when the backend rejects a delete for lack of
// admin rights. Callers surface it to the user; the local message list is
// not touched.
var ErrForbidden = fmt.Errorf("history: forbidden")

// DefaultTimeout bounds each REST call.
const DefaultTimeout = 10 * time.Second

// Client talks to the group message REST API with bearer authentication.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a client for the given API base URL (e.g.
// "https://api.example.com") and bearer token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: DefaultTimeout},
	}
}

// record mirrors one history entry on the wire. Sender id and content use
// the same coercing decoders as live events so both sources normalize
// identically.
type record struct {
	ID         int64           `json:"id"`
	GroupID    int64           `json:"groupId"`
	SenderID   chat.FlexInt64  `json:"senderId"`
	SenderName string          `json:"senderName"`
	Content    chat.FlexString `json:"content"`
	Timestamp  string          `json:"timestamp"`
}

// History fetches the ordered message history for a group. Any non-2xx
// status is an error; the caller leaves its sequence empty in that case.
func (c *Client) History(ctx context.Context, groupID int64) ([]chat.Message, error) {
	url := c.messagesURL(groupID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("history: build request: %w", err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("history: fetch group %d: %w", groupID, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var records []record
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("history: decode group %d: %w", groupID, err)
	}

	messages := make([]chat.Message, 0, len(records))
	for _, r := range records {
		messages = append(messages, chat.Message{
			ID:         r.ID,
			GroupID:    r.GroupID,
			SenderID:   int64(r.SenderID),
			SenderName: r.SenderName,
			Content:    string(r.Content),
			Timestamp:  r.Timestamp,
		})
	}
	return messages, nil
}

// DeleteMessage deletes a single message. Admin-only on the backend; a 403
// comes back as ErrForbidden.
func (c *Client) DeleteMessage(ctx context.Context, groupID, messageID int64) error {
	url := c.messagesURL(groupID) + "/" + strconv.FormatInt(messageID, 10)
	return c.delete(ctx, url)
}

// DeleteAllMessages deletes every message in a group. Admin-only.
func (c *Client) DeleteAllMessages(ctx context.Context, groupID int64) error {
	return c.delete(ctx, c.messagesURL(groupID))
}

func (c *Client) delete(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("history: build request: %w", err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("history: delete: %w", err)
	}
	defer resp.Body.Close()

	return checkStatus(resp)
}

func (c *Client) messagesURL(groupID int64) string {
	return c.baseURL + "/groups/" + strconv.FormatInt(groupID, 10) + "/messages"
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// checkStatus maps a non-2xx response to an error, draining a little of the
// body for context.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
		return ErrForbidden
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	return fmt.Errorf("history: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
