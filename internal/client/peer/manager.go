// Package peer maintains one media link per remote participant of a room.
//
// Every link is an actor: a goroutine that owns the link state and runs the
// operations posted to its mailbox one at a time. Links never wait on each
// other, so a slow or failing peer does not hold up the rest of the mesh.
package peer

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = 2 * time.Second
)

var (
	ErrRetriesExhausted = errors.New("reconnect attempts exhausted")
	ErrLinkClosed       = errors.New("link closed")
)

type EventKind int

const (
	// EventState reports a link state transition.
	EventState EventKind = iota
	// EventTrack reports new remote media.
	EventTrack
	// EventRemoteRemoved reports that the remote media of a peer is gone.
	EventRemoteRemoved
	// EventFailed reports that a link gave up. Err wraps ErrRetriesExhausted.
	EventFailed
)

type Event struct {
	Kind  EventKind
	Peer  ID
	State State
	Track RemoteTrack
	Err   error
}

type Config struct {
	Dialer Dialer
	// Send delivers a connection-setup event through the signal channel.
	Send func(protocol.Signal) error
	// Notify is called from link goroutines and must not block.
	Notify     func(Event)
	MaxRetries int
	RetryDelay time.Duration
}

type Manager struct {
	cfg Config

	mu     sync.Mutex
	self   ID
	room   string
	tracks LocalTracks
	links  map[ID]*link
	closed bool
	wg     sync.WaitGroup
}

func NewManager(cfg Config) *Manager {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	return &Manager{cfg: cfg, links: make(map[ID]*link)}
}

// SetSelf records the local participant id, used to break offer collisions.
func (m *Manager) SetSelf(id ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.self = id
}

func (m *Manager) SetRoom(roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.room = roomID
}

// SetLocalTracks sets the media attached to links created from now on.
func (m *Manager) SetLocalTracks(t LocalTracks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracks = t
}

// Connect makes this side the initiator towards remote.
func (m *Manager) Connect(remote ID) {
	l := m.ensure(remote, true)
	if l == nil {
		return
	}
	l.post(l.initiate)
}

// Expect registers a peer that is going to send us an offer.
func (m *Manager) Expect(remote ID) {
	m.ensure(remote, false)
}

// HandleSignal routes an offer, answer or candidate to its link. An offer or
// candidate from an unknown peer creates an answering link; candidates wait
// on it until the offer arrives. A stray answer is left over from a link that
// no longer exists.
func (m *Manager) HandleSignal(s protocol.Signal) {
	if s.From == "" {
		return
	}
	p, err := decodePayload(s.Payload)
	if err != nil {
		log.Warn().Err(err).Str("module", "peer").Str("from", s.From).Str("type", s.Type).Msg("bad signal payload")
		return
	}
	remote := ID(s.From)

	var l *link
	if s.Type == protocol.TypeOffer || s.Type == protocol.TypeCandidate {
		l = m.ensure(remote, false)
	} else {
		m.mu.Lock()
		l = m.links[remote]
		m.mu.Unlock()
	}
	if l == nil {
		log.Debug().Str("module", "peer").Str("from", s.From).Str("type", s.Type).Msg("signal for unknown link")
		return
	}
	typ := s.Type
	l.post(func() { l.onSignal(typ, p) })
}

// Remove tears down the link to remote, if any.
func (m *Manager) Remove(remote ID) {
	m.mu.Lock()
	l := m.links[remote]
	delete(m.links, remote)
	m.mu.Unlock()
	if l != nil {
		l.post(l.shutdown)
	}
}

// ReplaceVideo swaps the outgoing video on every link and on links created
// later.
func (m *Manager) ReplaceVideo(video webrtc.TrackLocal) {
	m.mu.Lock()
	m.tracks.Video = video
	links := m.snapshotLocked()
	m.mu.Unlock()
	for _, l := range links {
		l := l
		l.post(func() { l.replaceVideo(video) })
	}
}

// CloseAll tears down every link. The manager stays usable.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	links := m.snapshotLocked()
	m.links = make(map[ID]*link)
	m.mu.Unlock()
	for _, l := range links {
		l.post(l.shutdown)
	}
}

// Close tears down every link and waits for their goroutines to finish.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.CloseAll()
	m.wg.Wait()
}

func (m *Manager) State(remote ID) (State, bool) {
	m.mu.Lock()
	l, ok := m.links[remote]
	m.mu.Unlock()
	if !ok {
		return Closed, false
	}
	return l.State(), true
}

// Peers lists the remote ids with a link, sorted.
func (m *Manager) Peers() []ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ID, 0, len(m.links))
	for id := range m.links {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (m *Manager) ensure(remote ID, initiator bool) *link {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || remote == "" || remote == m.self {
		return nil
	}
	if l, ok := m.links[remote]; ok {
		return l
	}
	l := newLink(m, remote, initiator)
	m.links[remote] = l
	m.wg.Add(1)
	go l.run()
	return l
}

func (m *Manager) snapshotLocked() []*link {
	out := make([]*link, 0, len(m.links))
	for _, l := range m.links {
		out = append(out, l)
	}
	return out
}

func (m *Manager) localTracks() LocalTracks {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tracks
}

func (m *Manager) selfID() ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.self
}

func (m *Manager) send(typ string, to ID, p Payload) error {
	raw, err := encodePayload(p)
	if err != nil {
		return err
	}
	m.mu.Lock()
	room := m.room
	m.mu.Unlock()
	if m.cfg.Send == nil {
		return ErrLinkClosed
	}
	return m.cfg.Send(protocol.Signal{Type: typ, To: string(to), RoomID: room, Payload: raw})
}

func (m *Manager) notify(ev Event) {
	if m.cfg.Notify != nil {
		m.cfg.Notify(ev)
	}
}

func (m *Manager) afterDelay(fn func()) {
	time.AfterFunc(m.cfg.RetryDelay, fn)
}
