package peer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/pion/webrtc/v4"
)

// fakeNet wires several managers together. Signals are delivered
// synchronously and in order, like the relay does for one sender.
type fakeNet struct {
	mu       sync.Mutex
	managers map[ID]*Manager
	dialers  map[ID]*fakeDialer
	events   map[ID]*recorder
	signals  []protocol.Signal
}

func newFakeNet() *fakeNet {
	return &fakeNet{
		managers: make(map[ID]*Manager),
		dialers:  make(map[ID]*fakeDialer),
		events:   make(map[ID]*recorder),
	}
}

func (n *fakeNet) add(id ID, retries int) *Manager {
	d := &fakeDialer{owner: id}
	rec := &recorder{}
	m := NewManager(Config{
		Dialer:     d,
		Send:       func(s protocol.Signal) error { return n.deliver(id, s) },
		Notify:     rec.add,
		MaxRetries: retries,
		RetryDelay: 5 * time.Millisecond,
	})
	m.SetSelf(id)
	m.SetRoom("room1")
	n.mu.Lock()
	n.managers[id] = m
	n.dialers[id] = d
	n.events[id] = rec
	n.mu.Unlock()
	return m
}

func (n *fakeNet) deliver(from ID, s protocol.Signal) error {
	n.mu.Lock()
	target := n.managers[ID(s.To)]
	s.From = string(from)
	s.To = ""
	n.signals = append(n.signals, s)
	n.mu.Unlock()
	if target == nil {
		return nil
	}
	target.HandleSignal(s)
	return nil
}

func (n *fakeNet) closeAll() {
	n.mu.Lock()
	ms := make([]*Manager, 0, len(n.managers))
	for _, m := range n.managers {
		ms = append(ms, m)
	}
	n.mu.Unlock()
	for _, m := range ms {
		m.Close()
	}
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) add(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) count(kind EventKind, from ID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind && ev.Peer == from {
			n++
		}
	}
	return n
}

func (r *recorder) find(kind EventKind) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.Kind == kind {
			return ev, true
		}
	}
	return Event{}, false
}

type fakeDialer struct {
	owner ID

	mu    sync.Mutex
	fail  bool
	dials int
	conns []*fakeConn
}

func (d *fakeDialer) NewConnection(remote ID, cb Callbacks, tracks LocalTracks) (Connection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.fail {
		return nil, errors.New("no network")
	}
	c := &fakeConn{owner: d.owner, remote: remote, cb: cb, video: tracks.Video}
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) setFail(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = v
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// last returns the newest connection towards remote.
func (d *fakeDialer) last(remote ID) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(d.conns) - 1; i >= 0; i-- {
		if d.conns[i].remote == remote {
			return d.conns[i]
		}
	}
	return nil
}

func (d *fakeDialer) all() []*fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeConn(nil), d.conns...)
}

// fakeConn reaches "connected" once both descriptions are installed and then
// reports one audio and one video track.
type fakeConn struct {
	owner, remote ID
	cb            Callbacks

	mu         sync.Mutex
	offers     int
	local      *webrtc.SessionDescription
	remoteDesc *webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	early      int
	video      webrtc.TrackLocal
	connected  bool
	closed     bool
}

func (c *fakeConn) CreateOffer() (webrtc.SessionDescription, error) {
	c.mu.Lock()
	c.offers++
	d := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer %s->%s #%d", c.owner, c.remote, c.offers)}
	c.local = &d
	c.mu.Unlock()
	c.gather()
	return d, nil
}

func (c *fakeConn) CreateAnswer() (webrtc.SessionDescription, error) {
	c.mu.Lock()
	if c.remoteDesc == nil {
		c.mu.Unlock()
		return webrtc.SessionDescription{}, errors.New("no remote offer")
	}
	d := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("answer %s->%s", c.owner, c.remote)}
	c.local = &d
	c.mu.Unlock()
	c.gather()
	c.maybeConnect()
	return d, nil
}

func (c *fakeConn) SetRemoteDescription(d webrtc.SessionDescription) error {
	c.mu.Lock()
	c.remoteDesc = &d
	c.mu.Unlock()
	c.maybeConnect()
	return nil
}

func (c *fakeConn) AddICECandidate(ci webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remoteDesc == nil {
		c.early++
		return errors.New("remote description not set")
	}
	c.candidates = append(c.candidates, ci)
	return nil
}

func (c *fakeConn) ReplaceVideoTrack(t webrtc.TrackLocal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.video = t
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) gather() {
	c.cb.OnICECandidate(webrtc.ICECandidateInit{Candidate: "candidate:" + string(c.owner)})
}

func (c *fakeConn) maybeConnect() {
	c.mu.Lock()
	ready := c.local != nil && c.remoteDesc != nil && !c.connected && !c.closed
	if ready {
		c.connected = true
	}
	c.mu.Unlock()
	if !ready {
		return
	}
	c.cb.OnStateChange(webrtc.PeerConnectionStateConnected)
	c.cb.OnTrack(RemoteTrack{Kind: webrtc.RTPCodecTypeAudio, TrackID: "audio"})
	c.cb.OnTrack(RemoteTrack{Kind: webrtc.RTPCodecTypeVideo, TrackID: "video"})
}

func (c *fakeConn) fail() {
	c.cb.OnStateChange(webrtc.PeerConnectionStateFailed)
}

func (c *fakeConn) snapshot() (connected, closed bool, candidates, early int, video webrtc.TrackLocal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected, c.closed, len(c.candidates), c.early, c.video
}
