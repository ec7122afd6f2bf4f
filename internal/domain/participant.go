// Package domain contains entity without logic, just meta-data
package domain

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"
	"unicode/utf8"
)

const MaxNameLen = 36

// ParticipantID is the transport-assigned connection id. It does not survive
// a reconnect.
type ParticipantID string

type Participant struct {
	ID         ParticipantID
	Name       string
	RoomID     RoomID
	IsHost     bool
	AudioMuted bool
	VideoOff   bool
	JoinedAt   time.Time
}

// InRoom reports whether the participant is currently a member of any room.
func (p *Participant) InRoom() bool { return p.RoomID != "" }

// NormalizeName trims the display name and falls back to a generated
// User_NNN name when nothing is left.
func NormalizeName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return DefaultName(), nil
	}
	if utf8.RuneCountInString(name) > MaxNameLen {
		return "", ErrNameTooLong
	}
	return name, nil
}

func DefaultName() string {
	n, err := rand.Int(rand.Reader, big.NewInt(1000))
	if err != nil {
		return "User"
	}
	return fmt.Sprintf("User_%d", n.Int64())
}
