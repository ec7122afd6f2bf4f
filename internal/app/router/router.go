// Package router turns inbound signal messages into registry operations and
// outbound relay messages.
package router

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/metrics"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

type Options struct {
	// ChatRate and ChatBurst configure the per-connection chat token bucket.
	// A zero ChatRate disables limiting.
	ChatRate  rate.Limit
	ChatBurst int
	// SignalRate and SignalBurst bound room intents and relayed connection
	// setup per connection. A zero SignalRate disables limiting.
	SignalRate  rate.Limit
	SignalBurst int
}

type peer struct {
	conn   core.SignalConnection
	chat   *rate.Limiter
	signal *rate.Limiter
}

// Router is safe for concurrent use. Inbound messages are handled one at a
// time so that a membership change and its notifications are fully queued
// before the next message is looked at.
type Router struct {
	mu     sync.Mutex
	reg    *app.Registry
	policy app.Policy
	opts   Options
	peers  map[domain.ParticipantID]*peer
}

func New(reg *app.Registry, policy app.Policy, opts Options) *Router {
	if policy == nil {
		policy = app.SimplePolicy{}
	}
	return &Router{
		reg:    reg,
		policy: policy,
		opts:   opts,
		peers:  make(map[domain.ParticipantID]*peer),
	}
}

// Connect registers a freshly accepted connection. defaultName is used when
// the client later joins without a display name.
func (r *Router) Connect(id domain.ParticipantID, conn core.SignalConnection, defaultName string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := &peer{conn: conn}
	if r.opts.ChatRate > 0 {
		p.chat = rate.NewLimiter(r.opts.ChatRate, max(r.opts.ChatBurst, 1))
	}
	if r.opts.SignalRate > 0 {
		p.signal = rate.NewLimiter(r.opts.SignalRate, max(r.opts.SignalBurst, 1))
	}
	r.peers[id] = p
	r.reg.Connect(id, defaultName)
	metrics.SignalConnections.Inc()

	r.send(id, protocol.Welcome{Type: protocol.TypeWelcome, ID: string(id)})
}

// Disconnect is safe to call more than once.
func (r *Router) Disconnect(id domain.ParticipantID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if dep, left := r.reg.Disconnect(id); left {
		r.announceDeparture(dep)
	}
	if _, ok := r.peers[id]; ok {
		delete(r.peers, id)
		metrics.SignalConnections.Dec()
	}
	r.observeRooms()
}

// Dispatch handles one inbound frame from id.
func (r *Router) Dispatch(id domain.ParticipantID, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[id]
	if !ok {
		log.Warn().Str("module", "router").Str("sid", string(id)).Msg("message from unknown connection")
		return
	}

	typ, err := protocol.PeekType(data)
	if err != nil {
		log.Error().Err(err).Str("module", "router").Str("sid", string(id)).Msg("bad json")
		r.fail(id, errBadPayload)
		return
	}
	if limitedSignal(typ) && p.signal != nil && !p.signal.Allow() {
		log.Warn().Str("module", "router").Str("sid", string(id)).Str("type", typ).Msg("signal rate limited")
		metrics.RateLimited.Inc()
		r.fail(id, domain.ErrRateLimited)
		return
	}

	switch typ {
	case protocol.TypeCreateRoom:
		err = r.handleCreate(id, data)
	case protocol.TypeJoinRoom:
		err = r.handleJoin(id, data)
	case protocol.TypeLeaveRoom:
		err = r.handleLeave(id)
	case protocol.TypeEndCall:
		err = r.handleEnd(id, data)
	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeCandidate:
		err = r.handleRelay(id, typ, data)
	case protocol.TypeChatMessage:
		err = r.handleChat(id, data)
	case protocol.TypeVideoStateChange:
		err = r.handleVideoState(id, data)
	case protocol.TypeAudioStateChange:
		err = r.handleAudioState(id, data)
	case protocol.TypePing:
		r.send(id, protocol.Envelope{Type: protocol.TypePong})
	default:
		log.Warn().Str("module", "router").Str("type", typ).Msg("unknown signal")
		err = errUnknownType
	}

	if err != nil {
		r.fail(id, err)
	}
	r.observeRooms()
}

// limitedSignal reports whether t draws from the signal bucket. Chat has its
// own bucket; keepalives and presence hints are free.
func limitedSignal(t string) bool {
	switch t {
	case protocol.TypeCreateRoom, protocol.TypeJoinRoom, protocol.TypeLeaveRoom, protocol.TypeEndCall:
		return true
	}
	return protocol.IsRelay(t)
}

// Close drops every connection. Adapters see their pumps end and call
// Disconnect as usual.
func (r *Router) Close() {
	r.mu.Lock()
	conns := make([]core.SignalConnection, 0, len(r.peers))
	for _, p := range r.peers {
		conns = append(conns, p.conn)
	}
	r.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

var (
	errBadPayload  = errors.New("bad payload")
	errUnknownType = errors.New("unknown message type")
	errInternal    = errors.New("internal error")
)

// publicErrors may be shown to clients as is.
var publicErrors = []error{
	errBadPayload, errUnknownType,
	domain.ErrRoomNotFound, domain.ErrForbidden, domain.ErrNotInRoom,
	domain.ErrNameTooLong, domain.ErrEmptyMessage, domain.ErrMessageTooLong,
	domain.ErrRateLimited,
}

// fail reports err to the requester only.
func (r *Router) fail(id domain.ParticipantID, err error) {
	msg := errInternal.Error()
	for _, pub := range publicErrors {
		if errors.Is(err, pub) {
			msg = pub.Error()
			break
		}
	}
	if msg == errInternal.Error() {
		log.Error().Err(err).Str("module", "router").Str("sid", string(id)).Msg("request failed")
	}
	r.send(id, protocol.NewError(msg))
}

// send encodes v and hands it to the connection without blocking.
func (r *Router) send(id domain.ParticipantID, v any) {
	p, ok := r.peers[id]
	if !ok {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "router").Msg("marshal")
		return
	}
	err = p.conn.TrySend(b)
	if err == nil {
		return
	}
	if !errors.Is(err, core.ErrBackpressure) {
		log.Debug().Err(err).Str("module", "router").Str("sid", string(id)).Msg("send on dead connection")
		return
	}

	participant, _ := r.reg.Participant(id)
	action := r.policy.OnBackPressure(participant)
	metrics.DroppedFrames.WithLabelValues(action.String()).Inc()
	log.Warn().Str("module", "router").Str("sid", string(id)).Str("action", action.String()).Msg("backpressure")
	if action == app.KickMember {
		p.conn.Close()
	}
}

func (r *Router) broadcast(to []domain.Participant, v any) {
	for _, m := range to {
		r.send(m.ID, v)
	}
}

func (r *Router) observeRooms() {
	rooms, _ := r.reg.Counts()
	metrics.Rooms.Set(float64(rooms))
}

func toMember(p domain.Participant) protocol.Member {
	return protocol.Member{
		ID:           string(p.ID),
		Name:         p.Name,
		IsHost:       p.IsHost,
		IsAudioMuted: p.AudioMuted,
		IsVideoOff:   p.VideoOff,
	}
}

func toMembers(ps []domain.Participant) []protocol.Member {
	out := make([]protocol.Member, 0, len(ps))
	for _, p := range ps {
		out = append(out, toMember(p))
	}
	return out
}

func toChat(m domain.ChatMessage) protocol.Chat {
	return protocol.Chat{
		Type:      protocol.TypeChatMessage,
		UserID:    string(m.SenderID),
		Name:      m.SenderName,
		Text:      m.Text,
		Timestamp: m.SentAt,
		IsHost:    m.SenderHost,
	}
}
