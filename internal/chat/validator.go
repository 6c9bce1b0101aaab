package chat

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	MaxMessageBytes = 4096 // max serialized payload size
	MaxContentChars = 2000 // max character count
)

// ValidateContent checks that trimmed message content meets the requirements
// for persistence and broadcast. Whitespace-only content is rejected the same
// way as empty content — it is never stored or displayed.
func ValidateContent(content string) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return fmt.Errorf("message content is empty")
	}
	if len(trimmed) > MaxMessageBytes {
		return fmt.Errorf("message exceeds %d byte limit", MaxMessageBytes)
	}
	if utf8.RuneCountInString(trimmed) > MaxContentChars {
		return fmt.Errorf("message exceeds %d character limit", MaxContentChars)
	}
	if !utf8.ValidString(trimmed) {
		return fmt.Errorf("message contains invalid UTF-8")
	}
	return nil
}
