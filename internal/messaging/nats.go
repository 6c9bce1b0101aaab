// Package messaging provides a NATS client wrapper for pub/sub messaging in
// the TravelBuddy chat system. It handles connection lifecycle, per-group
// subject subscriptions, and convenience methods for the chat and presence
// channels.
package messaging

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subject patterns. User publishes go to the app.* side; the chat daemon
// validates, persists, and fans out on the topic.* side.
const (
	SubjectGroupPublish = "app.groups"   // + .<group_id>.chat (user -> daemon)
	SubjectGroupEvents  = "topic.groups" // + .<group_id>      (daemon -> clients)
	OnlineSuffix        = ".online"      // presence counts, appended to the events subject
)

// PublishSubject returns the subject a client publishes chat events to.
func PublishSubject(groupID int64) string {
	return SubjectGroupPublish + "." + strconv.FormatInt(groupID, 10) + ".chat"
}

// EventsSubject returns the fan-out subject clients subscribe to.
func EventsSubject(groupID int64) string {
	return SubjectGroupEvents + "." + strconv.FormatInt(groupID, 10)
}

// OnlineSubject returns the presence-count subject for a group.
func OnlineSubject(groupID int64) string {
	return EventsSubject(groupID) + OnlineSuffix
}

// GroupFromPublishSubject extracts the group id from an app.groups.<id>.chat
// subject, as delivered by a wildcard subscription.
func GroupFromPublishSubject(subject string) (int64, error) {
	parts := strings.Split(subject, ".")
	if len(parts) != 4 || parts[0] != "app" || parts[1] != "groups" || parts[3] != "chat" {
		return 0, fmt.Errorf("messaging: unexpected publish subject %q", subject)
	}
	id, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("messaging: bad group id in subject %q: %w", subject, err)
	}
	return id, nil
}

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	Token         string        // bearer credential; empty means unauthenticated
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)

	// OnStatusChange, when set, is invoked with false on transport
	// disconnect and true once the connection is re-established.
	OnStatusChange func(connected bool)

	// OnAuthFailure, when set, is invoked when the broker rejects the
	// credential after connect. The connection is closed and not retried;
	// recovery requires a new client with fresh credentials.
	OnAuthFailure func(err error)
}

// DefaultConfig returns sensible defaults. The reconnect wait matches the
// fixed retry delay used across TravelBuddy clients.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "travelbuddy",
		ReconnectWait: 3000 * time.Millisecond,
		MaxReconnects: -1,
	}
}

// Client wraps the NATS connection with helper methods for pub/sub.
type Client struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// Connect connects to NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails; an authentication
// rejection at this point is permanent and must not be retried by the caller.
func Connect(config Config) (*Client, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
			if config.OnStatusChange != nil {
				config.OnStatusChange(false)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
			if config.OnStatusChange != nil {
				config.OnStatusChange(true)
			}
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
			if config.OnStatusChange != nil {
				config.OnStatusChange(false)
			}
		}),
		nats.ErrorHandler(func(nc *nats.Conn, _ *nats.Subscription, err error) {
			if errors.Is(err, nats.ErrAuthorization) {
				// Credential rejected after connect: permanent until the
				// caller supplies a new token. Stop the retry loop.
				log.Printf("[nats] authorization rejected: %v", err)
				nc.Close()
				if config.OnAuthFailure != nil {
					config.OnAuthFailure(err)
				}
				return
			}
			log.Printf("[nats] async error: %v", err)
		}),
	}
	if config.Token != "" {
		opts = append(opts, nats.Token(config.Token))
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &Client{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// IsConnected reports whether the underlying connection is currently up.
func (c *Client) IsConnected() bool {
	return c.conn.IsConnected()
}

// Publish sends data to the given NATS subject.
func (c *Client) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *Client) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// PublishGroupChat publishes a serialized chat event to the group's inbound
// publish subject (app.groups.<id>.chat).
func (c *Client) PublishGroupChat(groupID int64, data []byte) error {
	return c.Publish(PublishSubject(groupID), data)
}

// PublishGroupEvent publishes a serialized chat event on the group's fan-out
// subject (topic.groups.<id>). Used by the chat daemon.
func (c *Client) PublishGroupEvent(groupID int64, data []byte) error {
	return c.Publish(EventsSubject(groupID), data)
}

// PublishGroupOnline publishes the current online count for a group. The
// payload is the bare decimal count.
func (c *Client) PublishGroupOnline(groupID int64, count int) error {
	return c.Publish(OnlineSubject(groupID), []byte(strconv.Itoa(count)))
}

// SubscribeGroupEvents subscribes to the group's fan-out subject and passes
// raw event bytes to the handler.
func (c *Client) SubscribeGroupEvents(groupID int64, handler func(data []byte)) error {
	return c.Subscribe(EventsSubject(groupID), func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// UnsubscribeGroupEvents cancels the group's fan-out subscription.
func (c *Client) UnsubscribeGroupEvents(groupID int64) error {
	return c.unsubscribe(EventsSubject(groupID))
}

// SubscribeGroupOnline subscribes to the group's presence-count subject.
func (c *Client) SubscribeGroupOnline(groupID int64, handler func(data []byte)) error {
	return c.Subscribe(OnlineSubject(groupID), func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// UnsubscribeGroupOnline cancels the group's presence-count subscription.
func (c *Client) UnsubscribeGroupOnline(groupID int64) error {
	return c.unsubscribe(OnlineSubject(groupID))
}

// SubscribeGroupPublishes subscribes to inbound user publishes across all
// groups (app.groups.*.chat). The handler receives the group id parsed from
// the subject plus the raw payload. Used by the chat daemon.
func (c *Client) SubscribeGroupPublishes(handler func(groupID int64, data []byte)) error {
	subject := SubjectGroupPublish + ".*.chat"
	return c.Subscribe(subject, func(msg *nats.Msg) {
		groupID, err := GroupFromPublishSubject(msg.Subject)
		if err != nil {
			log.Printf("[nats] drop message: %v", err)
			return
		}
		handler(groupID, msg.Data)
	})
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}

// unsubscribe removes and unsubscribes from a specific subject. Unsubscribing
// a subject with no active subscription is a no-op.
func (c *Client) unsubscribe(subject string) error {
	c.mu.Lock()
	sub, ok := c.subs[subject]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	delete(c.subs, subject)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", subject, err)
	}
	return nil
}
