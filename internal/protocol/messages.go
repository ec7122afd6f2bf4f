// Package protocol defines the JSON events exchanged over the signal channel.
// Every frame is an object with a "type" field plus the fields of its event.
package protocol

import (
	"encoding/json"
	"errors"
	"time"
)

const (
	TypeWelcome = "welcome"
	TypePing    = "ping"
	TypePong    = "pong"
	TypeError   = "error"

	TypeCreateRoom  = "createRoom"
	TypeJoinRoom    = "joinRoom"
	TypeLeaveRoom   = "leaveRoom"
	TypeEndCall     = "endCall"
	TypeRoomCreated = "roomCreated"
	TypeRoomJoined  = "roomJoined"
	TypeRoomLeft    = "roomLeft"
	TypeCallEnded   = "callEnded"
	TypeUserJoined  = "userJoined"
	TypeUserLeft    = "userLeft"

	TypeOffer     = "offer"
	TypeAnswer    = "answer"
	TypeCandidate = "candidate"

	TypeChatMessage      = "chatMessage"
	TypeVideoStateChange = "videoStateChange"
	TypeAudioStateChange = "audioStateChange"
)

var ErrMissingType = errors.New("missing type")

// IsRelay reports whether t is a connection-setup event forwarded verbatim.
func IsRelay(t string) bool {
	return t == TypeOffer || t == TypeAnswer || t == TypeCandidate
}

type Envelope struct {
	Type string `json:"type"`
}

// PeekType extracts the event type without decoding the rest of the frame.
func PeekType(data []byte) (string, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", err
	}
	if env.Type == "" {
		return "", ErrMissingType
	}
	return env.Type, nil
}

type Welcome struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewError(msg string) Error { return Error{Type: TypeError, Message: msg} }

// Member is the roster view of a participant, enough for peers to order
// their connection setup and render placeholders.
type Member struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	IsHost       bool   `json:"isHost"`
	IsAudioMuted bool   `json:"isAudioMuted"`
	IsVideoOff   bool   `json:"isVideoOff"`
}

type CreateRoom struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

type JoinRoom struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
	Name   string `json:"name"`
}

// RoomRef covers leaveRoom, endCall, roomLeft and callEnded.
type RoomRef struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
}

// RoomState is the snapshot sent to the requester of create/join.
type RoomState struct {
	Type    string   `json:"type"`
	RoomID  string   `json:"roomId"`
	SelfID  string   `json:"selfId"`
	Members []Member `json:"members"`
	IsHost  bool     `json:"isHost"`
	History []Chat   `json:"history,omitempty"`
}

// MemberEvent is the roster delta (userJoined / userLeft).
type MemberEvent struct {
	Type string `json:"type"`
	Member
}

// Signal is an offer, answer or candidate. Clients fill To, the router
// replaces it with From. Payload is never interpreted by the server.
type Signal struct {
	Type    string          `json:"type"`
	To      string          `json:"to,omitempty"`
	From    string          `json:"from,omitempty"`
	RoomID  string          `json:"roomId,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

type ChatSend struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
	Text   string `json:"text"`
}

type Chat struct {
	Type      string    `json:"type"`
	UserID    string    `json:"userId"`
	Name      string    `json:"name"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	IsHost    bool      `json:"isHost"`
}

type VideoState struct {
	Type       string `json:"type"`
	RoomID     string `json:"roomId,omitempty"`
	UserID     string `json:"userId,omitempty"`
	IsVideoOff bool   `json:"isVideoOff"`
}

type AudioState struct {
	Type    string `json:"type"`
	RoomID  string `json:"roomId,omitempty"`
	UserID  string `json:"userId,omitempty"`
	IsMuted bool   `json:"isMuted"`
}
