package call

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Huddle/internal/app/router"
	"github.com/dkeye/Huddle/internal/client/peer"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/pion/webrtc/v4"
)

// pipe is the server half of an in-memory signal connection.
type pipe struct {
	id domain.ParticipantID
	r  *router.Router

	mu     sync.Mutex
	in     chan []byte
	closed bool
}

func newPipe(id domain.ParticipantID, r *router.Router) *pipe {
	return &pipe{id: id, r: r, in: make(chan []byte, 1024)}
}

func (p *pipe) TrySend(f core.Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return core.ErrConnClosed
	}
	select {
	case p.in <- f:
		return nil
	default:
		return core.ErrBackpressure
	}
}

func (p *pipe) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.in)
	}
}

func (p *pipe) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// endpoint is the client half handed to the Call.
type endpoint struct{ p *pipe }

func (e endpoint) Send(v any) error {
	if e.p.isClosed() {
		return errors.New("pipe closed")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	e.p.r.Dispatch(e.p.id, b)
	return nil
}

func (e endpoint) Incoming() <-chan []byte { return e.p.in }

func (e endpoint) Close() {
	e.p.r.Disconnect(e.p.id)
	e.p.Close()
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

func (r *recorder) count(kind EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (r *recorder) last(kind EventKind) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Kind == kind {
			return r.events[i], true
		}
	}
	return Event{}, false
}

type fakeDialer struct {
	mu    sync.Mutex
	conns map[peer.ID]*fakeConn
	down  bool
}

func (d *fakeDialer) NewConnection(remote peer.ID, cb peer.Callbacks, tracks peer.LocalTracks) (peer.Connection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.down {
		return nil, errors.New("network down")
	}
	if d.conns == nil {
		d.conns = make(map[peer.ID]*fakeConn)
	}
	c := &fakeConn{remote: remote, cb: cb, video: tracks.Video}
	d.conns[remote] = c
	return c, nil
}

// cut fails the connection towards remote and refuses new ones.
func (d *fakeDialer) cut(remote string) {
	d.mu.Lock()
	d.down = true
	c := d.conns[peer.ID(remote)]
	d.mu.Unlock()
	if c != nil {
		c.cb.OnStateChange(webrtc.PeerConnectionStateFailed)
	}
}

// videoTo reports the id of the track on the video sender towards remote.
func (d *fakeDialer) videoTo(remote string) string {
	d.mu.Lock()
	c := d.conns[peer.ID(remote)]
	d.mu.Unlock()
	if c == nil {
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.video == nil {
		return ""
	}
	return c.video.ID()
}

type fakeConn struct {
	remote peer.ID
	cb     peer.Callbacks

	mu        sync.Mutex
	local     bool
	remoteSet bool
	connected bool
	closed    bool
	video     webrtc.TrackLocal
}

func (c *fakeConn) CreateOffer() (webrtc.SessionDescription, error) {
	c.mu.Lock()
	c.local = true
	c.mu.Unlock()
	c.cb.OnICECandidate(webrtc.ICECandidateInit{Candidate: "candidate:offer"})
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer to %s", c.remote)}, nil
}

func (c *fakeConn) CreateAnswer() (webrtc.SessionDescription, error) {
	c.mu.Lock()
	if !c.remoteSet {
		c.mu.Unlock()
		return webrtc.SessionDescription{}, errors.New("no remote offer")
	}
	c.local = true
	c.mu.Unlock()
	c.cb.OnICECandidate(webrtc.ICECandidateInit{Candidate: "candidate:answer"})
	c.maybeConnect()
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("answer to %s", c.remote)}, nil
}

func (c *fakeConn) SetRemoteDescription(webrtc.SessionDescription) error {
	c.mu.Lock()
	c.remoteSet = true
	c.mu.Unlock()
	c.maybeConnect()
	return nil
}

func (c *fakeConn) AddICECandidate(webrtc.ICECandidateInit) error { return nil }

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

func (c *fakeConn) maybeConnect() {
	c.mu.Lock()
	ready := c.local && c.remoteSet && !c.connected && !c.closed
	if ready {
		c.connected = true
	}
	c.mu.Unlock()
	if !ready {
		return
	}
	c.cb.OnStateChange(webrtc.PeerConnectionStateConnected)
	c.cb.OnTrack(peer.RemoteTrack{Kind: webrtc.RTPCodecTypeAudio, TrackID: "audio"})
	c.cb.OnTrack(peer.RemoteTrack{Kind: webrtc.RTPCodecTypeVideo, TrackID: "video"})
}
