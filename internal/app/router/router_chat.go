package router

import (
	"encoding/json"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/metrics"
	"github.com/dkeye/Huddle/internal/protocol"
)

// handleChat broadcasts to the whole room, sender included. Clients render
// their own messages from this echo only.
func (r *Router) handleChat(id domain.ParticipantID, data []byte) error {
	var p protocol.ChatSend
	if err := json.Unmarshal(data, &p); err != nil {
		return errBadPayload
	}
	if err := r.checkRoom(id, p.RoomID); err != nil {
		return err
	}
	text, err := domain.NormalizeChat(p.Text)
	if err != nil {
		return err
	}
	if lim := r.peers[id].chat; lim != nil && !lim.Allow() {
		return domain.ErrRateLimited
	}

	msg, members, err := r.reg.AppendChat(id, text)
	if err != nil {
		return err
	}
	r.broadcast(members, toChat(msg))
	metrics.ChatMessages.Inc()
	return nil
}

func (r *Router) handleVideoState(id domain.ParticipantID, data []byte) error {
	var p protocol.VideoState
	if err := json.Unmarshal(data, &p); err != nil {
		return errBadPayload
	}
	if err := r.checkRoom(id, p.RoomID); err != nil {
		return err
	}
	self, others, err := r.reg.SetVideoOff(id, p.IsVideoOff)
	if err != nil {
		return err
	}
	r.broadcast(others, protocol.VideoState{
		Type:       protocol.TypeVideoStateChange,
		UserID:     string(self.ID),
		IsVideoOff: self.VideoOff,
	})
	return nil
}

func (r *Router) handleAudioState(id domain.ParticipantID, data []byte) error {
	var p protocol.AudioState
	if err := json.Unmarshal(data, &p); err != nil {
		return errBadPayload
	}
	if err := r.checkRoom(id, p.RoomID); err != nil {
		return err
	}
	self, others, err := r.reg.SetAudioMuted(id, p.IsMuted)
	if err != nil {
		return err
	}
	r.broadcast(others, protocol.AudioState{
		Type:    protocol.TypeAudioStateChange,
		UserID:  string(self.ID),
		IsMuted: self.AudioMuted,
	})
	return nil
}

// checkRoom rejects messages addressed to a room the sender is not in. An
// empty roomID means the sender's current room.
func (r *Router) checkRoom(id domain.ParticipantID, roomID string) error {
	current, ok := r.reg.RoomOf(id)
	if !ok {
		return domain.ErrNotInRoom
	}
	if roomID != "" && domain.RoomID(roomID) != current {
		return domain.ErrNotInRoom
	}
	return nil
}
