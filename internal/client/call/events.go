package call

import (
	"encoding/json"

	"github.com/dkeye/Huddle/internal/client/peer"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/rs/zerolog/log"
)

type EventKind int

const (
	EventLocalMedia EventKind = iota
	EventWelcome
	EventRoomJoined
	EventMemberJoined
	EventMemberLeft
	EventMemberUpdated
	EventChat
	EventRemoteMedia
	EventRemoteMediaRemoved
	EventLinkState
	EventLinkFailed
	EventError
	EventLeft
	EventEnded
	EventDisconnected
)

var kindNames = [...]string{
	"local-media", "welcome", "room-joined", "member-joined", "member-left",
	"member-updated", "chat", "remote-media", "remote-media-removed",
	"link-state", "link-failed", "error", "left", "ended", "disconnected",
}

func (k EventKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Event is what a UI needs to redraw; pull the rest from Snapshot.
type Event struct {
	Kind   EventKind
	RoomID string
	Member Member
	Chat   ChatEntry
	State  peer.State
	Track  peer.RemoteTrack
	Err    error
}

func memberFrom(m protocol.Member) *Member {
	return &Member{
		ID:         m.ID,
		Name:       m.Name,
		IsHost:     m.IsHost,
		AudioMuted: m.IsAudioMuted,
		VideoOff:   m.IsVideoOff,
	}
}

func chatFrom(m protocol.Chat) ChatEntry {
	return ChatEntry{UserID: m.UserID, Name: m.Name, Text: m.Text, At: m.Timestamp, IsHost: m.IsHost}
}

// handleFrame applies one server event. done ends Run with err.
func (c *Call) handleFrame(data []byte) (done bool, err error) {
	typ, err := protocol.PeekType(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "call").Msg("bad frame")
		return false, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch typ {
	case protocol.TypeWelcome:
		var w protocol.Welcome
		if json.Unmarshal(data, &w) == nil {
			c.selfID = w.ID
			c.peers.SetSelf(peer.ID(w.ID))
			c.publish(Event{Kind: EventWelcome})
		}

	case protocol.TypeRoomCreated, protocol.TypeRoomJoined:
		var st protocol.RoomState
		if err := json.Unmarshal(data, &st); err != nil {
			return false, nil
		}
		c.enterRoomLocked(st)

	case protocol.TypeUserJoined:
		var ev protocol.MemberEvent
		if err := json.Unmarshal(data, &ev); err != nil || ev.ID == "" || ev.ID == c.selfID {
			return false, nil
		}
		m := memberFrom(ev.Member)
		if _, ok := c.members[m.ID]; !ok {
			c.order = append(c.order, m.ID)
		}
		c.members[m.ID] = m
		// The newcomer offers; we only answer.
		c.peers.Expect(peer.ID(m.ID))
		c.publish(Event{Kind: EventMemberJoined, RoomID: c.roomID, Member: *m})

	case protocol.TypeUserLeft:
		var ev protocol.MemberEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return false, nil
		}
		m, ok := c.members[ev.ID]
		if !ok {
			m = memberFrom(ev.Member)
		}
		c.removeMemberLocked(ev.ID)
		c.peers.Remove(peer.ID(ev.ID))
		c.publish(Event{Kind: EventMemberLeft, RoomID: c.roomID, Member: *m})

	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeCandidate:
		var s protocol.Signal
		if err := json.Unmarshal(data, &s); err != nil {
			return false, nil
		}
		c.peers.HandleSignal(s)

	case protocol.TypeChatMessage:
		var m protocol.Chat
		if err := json.Unmarshal(data, &m); err != nil {
			return false, nil
		}
		entry := chatFrom(m)
		c.chat = append(c.chat, entry)
		c.publish(Event{Kind: EventChat, RoomID: c.roomID, Chat: entry})

	case protocol.TypeVideoStateChange:
		var v protocol.VideoState
		if err := json.Unmarshal(data, &v); err != nil {
			return false, nil
		}
		if m, ok := c.members[v.UserID]; ok {
			m.VideoOff = v.IsVideoOff
			c.publish(Event{Kind: EventMemberUpdated, RoomID: c.roomID, Member: *m})
		}

	case protocol.TypeAudioStateChange:
		var a protocol.AudioState
		if err := json.Unmarshal(data, &a); err != nil {
			return false, nil
		}
		if m, ok := c.members[a.UserID]; ok {
			m.AudioMuted = a.IsMuted
			c.publish(Event{Kind: EventMemberUpdated, RoomID: c.roomID, Member: *m})
		}

	case protocol.TypeRoomLeft:
		var ref protocol.RoomRef
		_ = json.Unmarshal(data, &ref)
		if c.roomID != "" && ref.RoomID != "" && ref.RoomID != c.roomID {
			return false, nil
		}
		c.resetRoomLocked()
		c.publish(Event{Kind: EventLeft, RoomID: ref.RoomID})
		if c.leaving {
			return true, nil
		}

	case protocol.TypeCallEnded:
		var ref protocol.RoomRef
		_ = json.Unmarshal(data, &ref)
		c.resetRoomLocked()
		c.publish(Event{Kind: EventEnded, RoomID: ref.RoomID, Err: ErrCallEnded})
		return true, ErrCallEnded

	case protocol.TypeError:
		var e protocol.Error
		if err := json.Unmarshal(data, &e); err != nil {
			return false, nil
		}
		log.Info().Str("module", "call").Str("message", e.Message).Msg("server error")
		c.publish(Event{Kind: EventError, RoomID: c.roomID, Err: &ServerError{Message: e.Message}})

	case protocol.TypePong:

	default:
		log.Debug().Str("module", "call").Str("type", typ).Msg("ignored event")
	}
	return false, nil
}

// enterRoomLocked installs a roster snapshot. A joiner connects to every
// member already present; the room creator starts alone.
func (c *Call) enterRoomLocked(st protocol.RoomState) {
	if c.roomID != "" && c.roomID != st.RoomID {
		c.resetRoomLocked()
	}
	c.leaving = false
	c.roomID = st.RoomID
	c.isHost = st.IsHost
	if st.SelfID != "" {
		c.selfID = st.SelfID
		c.peers.SetSelf(peer.ID(st.SelfID))
	}
	c.peers.SetRoom(st.RoomID)

	seen := make(map[string]bool, len(st.Members))
	for _, pm := range st.Members {
		if pm.ID == c.selfID {
			continue
		}
		seen[pm.ID] = true
		existing, ok := c.members[pm.ID]
		m := memberFrom(pm)
		if ok {
			m.Link, m.HasMedia = existing.Link, existing.HasMedia
		} else {
			c.order = append(c.order, pm.ID)
		}
		c.members[pm.ID] = m
		c.peers.Connect(peer.ID(pm.ID))
	}
	for _, id := range append([]string(nil), c.order...) {
		if !seen[id] {
			c.removeMemberLocked(id)
			c.peers.Remove(peer.ID(id))
		}
	}

	c.chat = c.chat[:0]
	for _, h := range st.History {
		c.chat = append(c.chat, chatFrom(h))
	}

	c.publish(Event{Kind: EventRoomJoined, RoomID: st.RoomID})

	if c.muted {
		c.announceAudioLocked()
	}
	if c.videoOffLocked() {
		c.announceVideoLocked()
	}
}

func (c *Call) removeMemberLocked(id string) {
	if _, ok := c.members[id]; !ok {
		return
	}
	delete(c.members, id)
	for i, o := range c.order {
		if o == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *Call) onPeerEvent(ev peer.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.members[string(ev.Peer)]
	if !ok {
		m = &Member{ID: string(ev.Peer)}
	}
	switch ev.Kind {
	case peer.EventState:
		m.Link = ev.State
		c.publish(Event{Kind: EventLinkState, RoomID: c.roomID, Member: *m, State: ev.State})
	case peer.EventTrack:
		m.HasMedia = true
		c.publish(Event{Kind: EventRemoteMedia, RoomID: c.roomID, Member: *m, Track: ev.Track})
	case peer.EventRemoteRemoved:
		m.HasMedia = false
		c.publish(Event{Kind: EventRemoteMediaRemoved, RoomID: c.roomID, Member: *m})
	case peer.EventFailed:
		m.Link = peer.Failed
		c.publish(Event{Kind: EventLinkFailed, RoomID: c.roomID, Member: *m, Err: ev.Err})
	}
}
