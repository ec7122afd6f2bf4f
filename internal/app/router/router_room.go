package router

import (
	"encoding/json"
	"strings"

	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (r *Router) handleCreate(id domain.ParticipantID, data []byte) error {
	var p protocol.CreateRoom
	if err := json.Unmarshal(data, &p); err != nil {
		return errBadPayload
	}
	name, err := r.displayName(id, p.Name)
	if err != nil {
		return err
	}

	created, err := r.reg.CreateRoom(id, name)
	if err != nil {
		return err
	}
	if created.Left != nil {
		r.announceDeparture(*created.Left)
		r.send(id, protocol.RoomRef{Type: protocol.TypeRoomLeft, RoomID: string(created.Left.RoomID)})
	}

	log.Info().Str("module", "router").Str("sid", string(id)).Str("room", string(created.Room.ID)).Msg("create")
	r.send(id, protocol.RoomState{
		Type:    protocol.TypeRoomCreated,
		RoomID:  string(created.Room.ID),
		SelfID:  string(id),
		Members: []protocol.Member{},
		IsHost:  true,
	})
	return nil
}

func (r *Router) handleJoin(id domain.ParticipantID, data []byte) error {
	var p protocol.JoinRoom
	if err := json.Unmarshal(data, &p); err != nil {
		return errBadPayload
	}
	roomID := domain.RoomID(strings.TrimSpace(p.RoomID))
	if roomID == "" {
		return domain.ErrRoomNotFound
	}
	name, err := r.displayName(id, p.Name)
	if err != nil {
		return err
	}

	joined, err := r.reg.Join(roomID, id, name)
	if err != nil {
		log.Info().Err(err).Str("module", "router").Str("sid", string(id)).Str("room", string(roomID)).Msg("join rejected")
		return err
	}
	if joined.Left != nil {
		r.announceDeparture(*joined.Left)
		r.send(id, protocol.RoomRef{Type: protocol.TypeRoomLeft, RoomID: string(joined.Left.RoomID)})
	}
	if !joined.Already {
		r.broadcast(joined.Members, protocol.MemberEvent{Type: protocol.TypeUserJoined, Member: toMember(joined.Self)})
	}

	history := make([]protocol.Chat, 0, len(joined.History))
	for _, m := range joined.History {
		history = append(history, toChat(m))
	}
	log.Info().Str("module", "router").Str("sid", string(id)).Str("room", string(roomID)).Int("members", len(joined.Members)).Msg("join")
	r.send(id, protocol.RoomState{
		Type:    protocol.TypeRoomJoined,
		RoomID:  string(roomID),
		SelfID:  string(id),
		Members: toMembers(joined.Members),
		IsHost:  joined.Self.IsHost,
		History: history,
	})
	return nil
}

// handleLeave keeps the signal connection open; leaving twice is a no-op.
func (r *Router) handleLeave(id domain.ParticipantID) error {
	dep, left := r.reg.Leave(id)
	if !left {
		log.Debug().Str("module", "router").Str("sid", string(id)).Msg("leave outside room")
		return nil
	}
	r.announceDeparture(dep)
	r.send(id, protocol.RoomRef{Type: protocol.TypeRoomLeft, RoomID: string(dep.RoomID)})
	return nil
}

func (r *Router) handleEnd(id domain.ParticipantID, data []byte) error {
	var p protocol.RoomRef
	if err := json.Unmarshal(data, &p); err != nil {
		return errBadPayload
	}
	roomID := domain.RoomID(p.RoomID)
	if roomID == "" {
		current, ok := r.reg.RoomOf(id)
		if !ok {
			return domain.ErrNotInRoom
		}
		roomID = current
	}

	ended, err := r.reg.EndRoom(roomID, id)
	if err != nil {
		return err
	}
	log.Info().Str("module", "router").Str("sid", string(id)).Str("room", string(roomID)).Msg("call ended by host")
	r.broadcast(ended.Members, protocol.RoomRef{Type: protocol.TypeCallEnded, RoomID: string(roomID)})
	return nil
}

func (r *Router) announceDeparture(dep app.Departure) {
	if dep.RoomClosed {
		return
	}
	r.broadcast(dep.Remaining, protocol.MemberEvent{Type: protocol.TypeUserLeft, Member: toMember(dep.Participant)})
}

// displayName trims raw and falls back to the name already on record.
func (r *Router) displayName(id domain.ParticipantID, raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		if p, ok := r.reg.Participant(id); ok && p.Name != "" {
			return p.Name, nil
		}
	}
	return domain.NormalizeName(raw)
}
