package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

const (
	MaxChatLen     = 2000
	DefaultBacklog = 50
)

// ChatMessage lives only as long as its room.
type ChatMessage struct {
	SenderID   ParticipantID
	SenderName string
	Text       string
	SentAt     time.Time
	SenderHost bool
}

func NormalizeChat(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > MaxChatLen {
		return "", ErrMessageTooLong
	}
	return text, nil
}
