package peer

import (
	"fmt"
	"sync/atomic"

	"github.com/dkeye/Huddle/internal/client/queue"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type pendingCandidate struct {
	epoch     uint64
	candidate webrtc.ICECandidateInit
}

// link is the actor for one remote peer. Every field below box is owned by
// the run goroutine.
type link struct {
	m      *Manager
	remote ID
	state  atomic.Int32
	box    *queue.Queue[func()]

	initiator bool
	stopped   bool
	epoch     uint64
	// gen tags callbacks of one Connection. Callbacks of an older gen are
	// ignored, which is how results of a torn-down connection get discarded.
	gen            uint64
	conn           Connection
	localSent      bool
	remoteSet      bool
	awaitingAnswer bool
	hasMedia       bool
	attempts       int
	pendingLocal   []webrtc.ICECandidateInit
	pendingRemote  []pendingCandidate
}

func newLink(m *Manager, remote ID, initiator bool) *link {
	l := &link{m: m, remote: remote, initiator: initiator, box: queue.New[func()]()}
	l.state.Store(int32(Idle))
	return l
}

func (l *link) State() State { return State(l.state.Load()) }

func (l *link) post(op func()) { l.box.Push(op) }

func (l *link) run() {
	defer l.m.wg.Done()
	for range l.box.Ready() {
		for _, op := range l.box.Drain() {
			op()
			if l.stopped {
				return
			}
		}
	}
}

func (l *link) logger() *logEvent {
	return &logEvent{remote: string(l.remote), epoch: l.epoch}
}

func (l *link) setState(s State) {
	if State(l.state.Swap(int32(s))) == s {
		return
	}
	log.Debug().Str("module", "peer").Str("remote", string(l.remote)).Uint64("epoch", l.epoch).Str("state", s.String()).Msg("link state")
	l.m.notify(Event{Kind: EventState, Peer: l.remote, State: s})
}

// initiate makes this side the offerer unless a connection already exists,
// offered or answered.
func (l *link) initiate() {
	if l.stopped || l.conn != nil {
		return
	}
	l.initiator = true
	l.attempts = 0
	l.startOffer()
}

func (l *link) startOffer() {
	l.teardownConn()
	l.epoch++
	if err := l.dial(); err != nil {
		l.onFailure(err)
		return
	}
	l.setState(Offering)

	offer, err := l.conn.CreateOffer()
	if err != nil {
		l.onFailure(fmt.Errorf("create offer: %w", err))
		return
	}
	l.awaitingAnswer = true
	if err := l.m.send(protocol.TypeOffer, l.remote, Payload{Epoch: l.epoch, SDP: &offer}); err != nil {
		l.logger().warn(err, "send offer")
		return
	}
	l.localSent = true
	l.flushLocal()
}

func (l *link) dial() error {
	l.gen++
	gen := l.gen
	conn, err := l.m.cfg.Dialer.NewConnection(l.remote, l.callbacks(gen), l.m.localTracks())
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	l.conn = conn
	l.localSent, l.remoteSet, l.awaitingAnswer = false, false, false
	l.pendingLocal = nil
	return nil
}

func (l *link) callbacks(gen uint64) Callbacks {
	current := func() bool { return !l.stopped && l.gen == gen && l.conn != nil }
	return Callbacks{
		OnICECandidate: func(c webrtc.ICECandidateInit) {
			l.post(func() {
				if current() {
					l.onLocalCandidate(c)
				}
			})
		},
		OnStateChange: func(s webrtc.PeerConnectionState) {
			l.post(func() {
				if current() {
					l.onConnState(s)
				}
			})
		},
		OnTrack: func(t RemoteTrack) {
			l.post(func() {
				if current() {
					l.hasMedia = true
					l.m.notify(Event{Kind: EventTrack, Peer: l.remote, Track: t})
				}
			})
		},
	}
}

func (l *link) onSignal(typ string, p Payload) {
	if l.stopped {
		return
	}
	switch typ {
	case protocol.TypeOffer:
		l.onOffer(p)
	case protocol.TypeAnswer:
		l.onAnswer(p)
	case protocol.TypeCandidate:
		l.onRemoteCandidate(p)
	}
}

func (l *link) onOffer(p Payload) {
	if p.SDP == nil {
		return
	}
	if p.Epoch < l.epoch {
		l.logger().debug("stale offer", p.Epoch)
		return
	}

	if l.initiator && l.conn != nil {
		// Both sides offered. The larger id keeps its offer.
		if l.m.selfID() > l.remote {
			l.logger().debug("offer collision, keeping ours", p.Epoch)
			return
		}
		l.logger().debug("offer collision, answering", p.Epoch)
		l.initiator = false
		l.accept(p)
		return
	}

	if l.conn != nil && p.Epoch == l.epoch {
		l.answer(*p.SDP)
		return
	}
	l.accept(p)
}

// accept replaces the current connection with a fresh one answering p.
func (l *link) accept(p Payload) {
	l.teardownConn()
	l.initiator = false
	l.epoch = p.Epoch
	if err := l.dial(); err != nil {
		l.onFailure(err)
		return
	}
	l.setState(Answering)
	l.answer(*p.SDP)
}

func (l *link) answer(offer webrtc.SessionDescription) {
	if err := l.conn.SetRemoteDescription(offer); err != nil {
		l.onFailure(fmt.Errorf("set remote offer: %w", err))
		return
	}
	l.remoteSet = true
	l.flushRemote()

	ans, err := l.conn.CreateAnswer()
	if err != nil {
		l.onFailure(fmt.Errorf("create answer: %w", err))
		return
	}
	if err := l.m.send(protocol.TypeAnswer, l.remote, Payload{Epoch: l.epoch, SDP: &ans}); err != nil {
		l.logger().warn(err, "send answer")
		return
	}
	l.localSent = true
	l.flushLocal()
}

func (l *link) onAnswer(p Payload) {
	if p.SDP == nil || l.conn == nil || p.Epoch != l.epoch || !l.awaitingAnswer {
		l.logger().debug("unexpected answer", p.Epoch)
		return
	}
	if err := l.conn.SetRemoteDescription(*p.SDP); err != nil {
		l.onFailure(fmt.Errorf("set remote answer: %w", err))
		return
	}
	l.awaitingAnswer = false
	l.remoteSet = true
	l.flushRemote()
}

func (l *link) onRemoteCandidate(p Payload) {
	if p.Candidate == nil || p.Epoch < l.epoch {
		return
	}
	if l.conn == nil || !l.remoteSet || p.Epoch > l.epoch {
		l.pendingRemote = append(l.pendingRemote, pendingCandidate{epoch: p.Epoch, candidate: *p.Candidate})
		return
	}
	if err := l.conn.AddICECandidate(*p.Candidate); err != nil {
		l.logger().warn(err, "add remote candidate")
	}
}

// flushRemote applies queued candidates of the current epoch. Older ones are
// dropped, newer ones stay queued.
func (l *link) flushRemote() {
	keep := l.pendingRemote[:0]
	for _, pc := range l.pendingRemote {
		switch {
		case pc.epoch < l.epoch:
		case pc.epoch > l.epoch:
			keep = append(keep, pc)
		default:
			if err := l.conn.AddICECandidate(pc.candidate); err != nil {
				l.logger().warn(err, "add queued candidate")
			}
		}
	}
	l.pendingRemote = keep
}

func (l *link) onLocalCandidate(c webrtc.ICECandidateInit) {
	if !l.localSent {
		l.pendingLocal = append(l.pendingLocal, c)
		return
	}
	l.sendCandidate(c)
}

func (l *link) flushLocal() {
	pending := l.pendingLocal
	l.pendingLocal = nil
	for _, c := range pending {
		l.sendCandidate(c)
	}
}

func (l *link) sendCandidate(c webrtc.ICECandidateInit) {
	if err := l.m.send(protocol.TypeCandidate, l.remote, Payload{Epoch: l.epoch, Candidate: &c}); err != nil {
		l.logger().warn(err, "send candidate")
	}
}

func (l *link) onConnState(s webrtc.PeerConnectionState) {
	switch s {
	case webrtc.PeerConnectionStateConnected:
		l.attempts = 0
		l.setState(Connected)
	case webrtc.PeerConnectionStateFailed,
		webrtc.PeerConnectionStateDisconnected,
		webrtc.PeerConnectionStateClosed:
		l.onFailure(fmt.Errorf("connection %s", s))
	}
}

// onFailure drops the connection. The initiator retries after a delay until
// the budget is used up; the answerer waits for a new offer.
func (l *link) onFailure(err error) {
	if l.stopped {
		return
	}
	l.logger().warn(err, "link failed")
	l.teardownConn()

	if !l.initiator {
		l.setState(Reconnecting)
		return
	}
	if l.attempts >= l.m.cfg.MaxRetries {
		l.setState(Failed)
		l.m.notify(Event{Kind: EventFailed, Peer: l.remote, State: Failed, Err: fmt.Errorf("%w: %v", ErrRetriesExhausted, err)})
		return
	}
	l.attempts++
	l.setState(Reconnecting)

	gen := l.gen
	l.m.afterDelay(func() {
		l.post(func() {
			if l.stopped || l.gen != gen || l.conn != nil || !l.initiator {
				return
			}
			l.startOffer()
		})
	})
}

func (l *link) replaceVideo(track webrtc.TrackLocal) {
	if l.conn == nil {
		return
	}
	if err := l.conn.ReplaceVideoTrack(track); err != nil {
		l.logger().warn(err, "replace video")
	}
}

func (l *link) teardownConn() {
	if l.conn == nil {
		return
	}
	if err := l.conn.Close(); err != nil {
		l.logger().warn(err, "close connection")
	}
	l.conn = nil
	l.localSent, l.remoteSet, l.awaitingAnswer = false, false, false
	l.pendingLocal = nil
	if l.hasMedia {
		l.hasMedia = false
		l.m.notify(Event{Kind: EventRemoteRemoved, Peer: l.remote})
	}
}

func (l *link) shutdown() {
	if l.stopped {
		return
	}
	l.teardownConn()
	l.setState(Closed)
	l.stopped = true
	l.box.Close()
}

type logEvent struct {
	remote string
	epoch  uint64
}

func (e *logEvent) warn(err error, msg string) {
	log.Warn().Err(err).Str("module", "peer").Str("remote", e.remote).Uint64("epoch", e.epoch).Msg(msg)
}

func (e *logEvent) debug(msg string, got uint64) {
	log.Debug().Str("module", "peer").Str("remote", e.remote).Uint64("epoch", e.epoch).Uint64("got", got).Msg(msg)
}
