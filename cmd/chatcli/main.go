// chatcli is a terminal client for TravelBuddy group chat. It drives the
// same session manager the UI layer embeds, printing the reconciled message
// list as events arrive.
//
// Usage:
//
//	TOKEN=<bearer> GROUP_ID=3 USER_ID=7 USER_NAME=alice chatcli
//
// Type a line to send a message. Commands:
//
//	/typing        broadcast a typing indicator
//	/delete <id>   delete one message (admin)
//	/clear         delete all messages (admin)
//	/quit          exit
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/travelbuddy/chat-app/internal/chat"
	"github.com/travelbuddy/chat-app/internal/client"
)

func main() {
	apiURL := "http://localhost:8080"
	if v := os.Getenv("API_URL"); v != "" {
		apiURL = v
	}
	natsURL := "nats://localhost:4222"
	if v := os.Getenv("NATS_URL"); v != "" {
		natsURL = v
	}
	token := os.Getenv("TOKEN")
	if token == "" {
		log.Fatal("TOKEN is required")
	}
	groupID, err := strconv.ParseInt(os.Getenv("GROUP_ID"), 10, 64)
	if err != nil || groupID <= 0 {
		log.Fatal("GROUP_ID must be a positive integer")
	}
	userID, err := strconv.ParseInt(os.Getenv("USER_ID"), 10, 64)
	if err != nil || userID <= 0 {
		log.Fatal("USER_ID must be a positive integer")
	}
	userName := os.Getenv("USER_NAME")
	if userName == "" {
		userName = fmt.Sprintf("user-%d", userID)
	}

	// The renderer needs the manager for reads and the manager needs the
	// renderer for change callbacks; render guards against the brief window
	// before the field is set.
	r := &renderer{}
	manager := client.NewManager(client.Config{
		BrokerURL:  natsURL,
		APIBaseURL: apiURL,
		UserID:     userID,
		UserName:   userName,
		IsMember:   true,
		OnChange:   r.render,
	})
	r.manager = manager

	if err := manager.Open(groupID, token); err != nil {
		log.Fatalf("failed to open session: %v", err)
	}
	defer manager.Close()

	fmt.Printf("connected to group %d as %s (%d)\n", groupID, userName, userID)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "/quit":
			return

		case line == "/typing":
			if err := manager.SendTyping(); err != nil {
				log.Printf("typing: %v", err)
			}

		case line == "/clear":
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := manager.DeleteAllMessages(ctx)
			cancel()
			if err != nil {
				log.Printf("clear: %v", err)
			}

		case strings.HasPrefix(line, "/delete "):
			id, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(line, "/delete ")), 10, 64)
			if err != nil || id <= 0 {
				log.Printf("usage: /delete <message id>")
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err = manager.DeleteMessage(ctx, id)
			cancel()
			if err != nil {
				log.Printf("delete: %v", err)
			}

		default:
			if err := manager.SendMessage(line); err != nil {
				log.Printf("send: %v", err)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		log.Printf("stdin: %v", err)
	}
}

// renderer prints session changes incrementally: new messages as they land,
// plus status lines when the typing indicator, online count, or connection
// state flips.
type renderer struct {
	manager *client.Manager

	mu          sync.Mutex
	printed     int // messages already printed; the list only grows or resets
	lastTyping  string
	lastOnline  int
	lastConn    bool
	lastLoading bool
}

func (r *renderer) render() {
	if r.manager == nil {
		return
	}

	messages := r.manager.Messages()
	typingUser, typingActive := r.manager.TypingUser()
	online := r.manager.OnlineCount()
	connected := r.manager.Connected()
	loading := r.manager.Loading()

	r.mu.Lock()
	defer r.mu.Unlock()

	if loading != r.lastLoading {
		r.lastLoading = loading
		if loading {
			fmt.Println("-- loading history --")
		}
	}

	// A shrinking list means messages were deleted; reprint from scratch.
	if len(messages) < r.printed {
		r.printed = 0
		fmt.Println("-- messages deleted --")
	}
	for _, m := range messages[r.printed:] {
		fmt.Printf("[%s] %s: %s\n", shortTime(m), m.SenderName, m.Content)
	}
	r.printed = len(messages)

	typing := ""
	if typingActive {
		typing = typingUser
	}
	if typing != r.lastTyping {
		r.lastTyping = typing
		if typing != "" {
			fmt.Printf("-- %s is typing... --\n", typing)
		}
	}

	if online != r.lastOnline {
		r.lastOnline = online
		fmt.Printf("-- %d online --\n", online)
	}

	if connected != r.lastConn {
		r.lastConn = connected
		if connected {
			fmt.Println("-- connected --")
		} else {
			fmt.Println("-- disconnected, retrying --")
		}
	}
}

func shortTime(m chat.Message) string {
	t, err := time.Parse(time.RFC3339Nano, m.Timestamp)
	if err != nil {
		return "??:??"
	}
	return t.Local().Format("15:04")
}
