package ui

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/dkeye/Huddle/internal/client/call"
	"github.com/dkeye/Huddle/internal/client/peer"
	"github.com/stretchr/testify/assert"
)

func TestFormatEvent(t *testing.T) {
	at := time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)
	line := FormatEvent(call.Event{Kind: call.EventChat, Chat: call.ChatEntry{Name: "bob", Text: "hello", At: at}})
	assert.Contains(t, line, "bob")
	assert.Contains(t, line, "hello")
	assert.Contains(t, line, "09:30")

	line = FormatEvent(call.Event{Kind: call.EventMemberUpdated, Member: call.Member{Name: "carol", AudioMuted: true}})
	assert.Contains(t, line, IconMuted)
	assert.NotContains(t, line, IconNoVideo)

	assert.Contains(t, FormatEvent(call.Event{Kind: call.EventMemberJoined, Member: call.Member{ID: "p7"}}), "p7")
	assert.Empty(t, FormatEvent(call.Event{Kind: call.EventRemoteMedia}))
}

func TestRoster(t *testing.T) {
	assert.Contains(t, Roster(call.Snapshot{}), "not in a room")

	out := Roster(call.Snapshot{
		RoomID:    "abc123",
		IsHost:    true,
		CameraOff: true,
		Members: []call.Member{
			{ID: "p2", Name: "bob", Link: peer.Connected},
		},
	})
	assert.Contains(t, out, "abc123")
	assert.Contains(t, out, IconHost)
	assert.Contains(t, out, "bob")
	assert.Contains(t, out, "connected")
	assert.Contains(t, out, IconNoVideo)
}

func TestPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	p.Event(call.Event{Kind: call.EventRemoteMedia})
	assert.Zero(t, buf.Len())

	p.Event(call.Event{Kind: call.EventEnded})
	p.Error(errors.New("boom"))
	assert.Contains(t, buf.String(), "ended the call")
	assert.Contains(t, buf.String(), "boom")
}
