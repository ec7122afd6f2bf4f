package app

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

// maxIDAttempts bounds room id regeneration on collision.
const maxIDAttempts = 16

type roomEntry struct {
	room    domain.Room
	members map[domain.ParticipantID]struct{}
	chat    []domain.ChatMessage
}

// Departure describes a participant leaving a room.
type Departure struct {
	Participant domain.Participant
	RoomID      domain.RoomID
	RoomClosed  bool
	Remaining   []domain.Participant
}

type Created struct {
	Room domain.Room
	Host domain.Participant
	Left *Departure
}

type Joined struct {
	Room    domain.Room
	Self    domain.Participant
	Members []domain.Participant // everybody except Self
	History []domain.ChatMessage
	Left    *Departure
	// Already is set when the caller was already a member of the room.
	Already bool
}

type Ended struct {
	Room    domain.Room
	Members []domain.Participant
}

type RoomInfo struct {
	ID          domain.RoomID `json:"id"`
	MemberCount int           `json:"member_count"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Registry is the single owner of rooms and participants. Every exported
// method runs under one lock, so no caller can observe a partial update.
type Registry struct {
	mu           sync.RWMutex
	participants map[domain.ParticipantID]*domain.Participant
	rooms        map[domain.RoomID]*roomEntry
	backlog      int
	now          func() time.Time
	newID        func() (domain.RoomID, error)
}

func NewRegistry(backlog int) *Registry {
	if backlog < 0 {
		backlog = 0
	}
	return &Registry{
		participants: make(map[domain.ParticipantID]*domain.Participant),
		rooms:        make(map[domain.RoomID]*roomEntry),
		backlog:      backlog,
		now:          time.Now,
		newID:        domain.NewRoomID,
	}
}

// Connect creates the participant record of a live connection.
func (r *Registry) Connect(id domain.ParticipantID, name string) domain.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.participants[id]; ok {
		return *p
	}
	p := &domain.Participant{ID: id, Name: name}
	r.participants[id] = p
	log.Info().Str("module", "app.registry").Str("sid", string(id)).Msg("participant connected")
	return *p
}

// Disconnect removes the participant from its room and drops its record.
func (r *Registry) Disconnect(id domain.ParticipantID) (Departure, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dep, left := r.leaveLocked(id)
	if _, ok := r.participants[id]; ok {
		delete(r.participants, id)
		log.Info().Str("module", "app.registry").Str("sid", string(id)).Msg("participant disconnected")
	}
	return dep, left
}

func (r *Registry) CreateRoom(id domain.ParticipantID, name string) (Created, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[id]
	if !ok {
		return Created{}, domain.ErrUnknownSession
	}

	roomID, err := r.uniqueRoomIDLocked()
	if err != nil {
		return Created{}, err
	}

	var res Created
	if dep, left := r.leaveLocked(id); left {
		res.Left = &dep
	}

	room := domain.Room{ID: roomID, HostID: id, CreatedAt: r.now()}
	r.rooms[roomID] = &roomEntry{
		room:    room,
		members: map[domain.ParticipantID]struct{}{id: {}},
	}
	p.Name = name
	p.RoomID = roomID
	p.IsHost = true
	p.AudioMuted, p.VideoOff = false, false
	p.JoinedAt = room.CreatedAt

	res.Room = room
	res.Host = *p
	log.Info().Str("module", "app.registry").Str("sid", string(id)).Str("room", string(roomID)).Msg("room created")
	return res, nil
}

func (r *Registry) Join(roomID domain.RoomID, id domain.ParticipantID, name string) (Joined, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[id]
	if !ok {
		return Joined{}, domain.ErrUnknownSession
	}
	entry, ok := r.rooms[roomID]
	if !ok {
		return Joined{}, domain.ErrRoomNotFound
	}

	var res Joined
	if p.RoomID == roomID {
		res.Already = true
	} else {
		if dep, left := r.leaveLocked(id); left {
			res.Left = &dep
		}
		entry.members[id] = struct{}{}
		p.Name = name
		p.RoomID = roomID
		p.IsHost = entry.room.HostID == id
		p.AudioMuted, p.VideoOff = false, false
		p.JoinedAt = r.now()
		log.Info().Str("module", "app.registry").Str("sid", string(id)).Str("room", string(roomID)).Msg("joined room")
	}

	res.Room = entry.room
	res.Self = *p
	res.Members = r.membersLocked(entry, id)
	res.History = append([]domain.ChatMessage(nil), entry.chat...)
	return res, nil
}

// Leave is idempotent: an absent connection or one outside any room is a no-op.
func (r *Registry) Leave(id domain.ParticipantID) (Departure, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(id)
}

func (r *Registry) EndRoom(roomID domain.RoomID, requester domain.ParticipantID) (Ended, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.rooms[roomID]
	if !ok {
		return Ended{}, domain.ErrRoomNotFound
	}
	if entry.room.HostID != requester {
		return Ended{}, domain.ErrForbidden
	}

	res := Ended{Room: entry.room, Members: r.membersLocked(entry, "")}
	for mid := range entry.members {
		if p, ok := r.participants[mid]; ok {
			p.RoomID = ""
			p.IsHost = false
		}
	}
	delete(r.rooms, roomID)
	log.Info().Str("module", "app.registry").Str("room", string(roomID)).Int("members", len(res.Members)).Msg("room ended")
	return res, nil
}

func (r *Registry) SetVideoOff(id domain.ParticipantID, off bool) (domain.Participant, []domain.Participant, error) {
	return r.updateMedia(id, func(p *domain.Participant) { p.VideoOff = off })
}

func (r *Registry) SetAudioMuted(id domain.ParticipantID, muted bool) (domain.Participant, []domain.Participant, error) {
	return r.updateMedia(id, func(p *domain.Participant) { p.AudioMuted = muted })
}

func (r *Registry) updateMedia(id domain.ParticipantID, fn func(*domain.Participant)) (domain.Participant, []domain.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, entry, err := r.memberLocked(id)
	if err != nil {
		return domain.Participant{}, nil, err
	}
	fn(p)
	return *p, r.membersLocked(entry, id), nil
}

// AppendChat stamps the message, stores it in the room backlog and returns
// every member of the room, sender included.
func (r *Registry) AppendChat(id domain.ParticipantID, text string) (domain.ChatMessage, []domain.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, entry, err := r.memberLocked(id)
	if err != nil {
		return domain.ChatMessage{}, nil, err
	}
	msg := domain.ChatMessage{
		SenderID:   p.ID,
		SenderName: p.Name,
		Text:       text,
		SentAt:     r.now(),
		SenderHost: p.IsHost,
	}
	if r.backlog > 0 {
		entry.chat = append(entry.chat, msg)
		if over := len(entry.chat) - r.backlog; over > 0 {
			entry.chat = append(entry.chat[:0:0], entry.chat[over:]...)
		}
	}
	return msg, r.membersLocked(entry, ""), nil
}

// SharesRoom reports whether both participants are members of the same room.
func (r *Registry) SharesRoom(a, b domain.ParticipantID) (domain.RoomID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pa, ok := r.participants[a]
	if !ok || !pa.InRoom() {
		return "", false
	}
	pb, ok := r.participants[b]
	if !ok || pb.RoomID != pa.RoomID {
		return "", false
	}
	return pa.RoomID, true
}

func (r *Registry) Participant(id domain.ParticipantID) (domain.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[id]
	if !ok {
		return domain.Participant{}, false
	}
	return *p, true
}

func (r *Registry) RoomOf(id domain.ParticipantID) (domain.RoomID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[id]
	if !ok || !p.InRoom() {
		return "", false
	}
	return p.RoomID, true
}

// Members returns the room roster ordered by join time.
func (r *Registry) Members(roomID domain.RoomID) ([]domain.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.rooms[roomID]
	if !ok {
		return nil, false
	}
	return r.membersLocked(entry, ""), true
}

func (r *Registry) Rooms() []RoomInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RoomInfo, 0, len(r.rooms))
	for id, e := range r.rooms {
		out = append(out, RoomInfo{ID: id, MemberCount: len(e.members), CreatedAt: e.room.CreatedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *Registry) Counts() (rooms, participants int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms), len(r.participants)
}

func (r *Registry) leaveLocked(id domain.ParticipantID) (Departure, bool) {
	p, ok := r.participants[id]
	if !ok || !p.InRoom() {
		return Departure{}, false
	}
	roomID := p.RoomID
	p.RoomID = ""
	p.IsHost = false

	dep := Departure{Participant: *p, RoomID: roomID}
	dep.Participant.RoomID = roomID
	entry, ok := r.rooms[roomID]
	if !ok {
		return dep, true
	}
	dep.Participant.IsHost = entry.room.HostID == id
	delete(entry.members, id)
	if len(entry.members) == 0 {
		delete(r.rooms, roomID)
		dep.RoomClosed = true
		log.Info().Str("module", "app.registry").Str("room", string(roomID)).Msg("empty room discarded")
	} else {
		dep.Remaining = r.membersLocked(entry, "")
	}
	log.Info().Str("module", "app.registry").Str("sid", string(id)).Str("room", string(roomID)).Msg("left room")
	return dep, true
}

func (r *Registry) memberLocked(id domain.ParticipantID) (*domain.Participant, *roomEntry, error) {
	p, ok := r.participants[id]
	if !ok || !p.InRoom() {
		return nil, nil, domain.ErrNotInRoom
	}
	entry, ok := r.rooms[p.RoomID]
	if !ok {
		return nil, nil, domain.ErrNotInRoom
	}
	return p, entry, nil
}

func (r *Registry) membersLocked(entry *roomEntry, except domain.ParticipantID) []domain.Participant {
	out := make([]domain.Participant, 0, len(entry.members))
	for mid := range entry.members {
		if mid == except {
			continue
		}
		if p, ok := r.participants[mid]; ok {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

func (r *Registry) uniqueRoomIDLocked() (domain.RoomID, error) {
	for i := 0; i < maxIDAttempts; i++ {
		id, err := r.newID()
		if err != nil {
			return "", fmt.Errorf("generate room id: %w", err)
		}
		if _, taken := r.rooms[id]; !taken {
			return id, nil
		}
	}
	return "", fmt.Errorf("generate room id: %d collisions in a row", maxIDAttempts)
}
