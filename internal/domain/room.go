package domain

import (
	"crypto/rand"
	"math/big"
	"time"
)

const (
	RoomIDLen      = 8
	roomIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
)

type RoomID string

type Room struct {
	ID        RoomID
	HostID    ParticipantID
	CreatedAt time.Time
}

// NewRoomID returns a random token of RoomIDLen characters. Callers must
// still check it against live rooms.
func NewRoomID() (RoomID, error) {
	b := make([]byte, RoomIDLen)
	max := big.NewInt(int64(len(roomIDAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = roomIDAlphabet[n.Int64()]
	}
	return RoomID(b), nil
}
