// Package rtc implements peer connections on top of pion.
package rtc

import (
	"errors"
	"fmt"

	"github.com/dkeye/Huddle/internal/client/peer"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const DefaultSTUN = "stun:stun.l.google.com:19302"

func DefaultWebRTCConfig(stun []string) webrtc.Configuration {
	if len(stun) == 0 {
		stun = []string{DefaultSTUN}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: stun}},
	}
}

// Dialer creates pion peer connections with the local tracks attached.
type Dialer struct {
	cfg webrtc.Configuration
}

func NewDialer(cfg webrtc.Configuration) *Dialer {
	return &Dialer{cfg: cfg}
}

func (d *Dialer) NewConnection(remote peer.ID, cb peer.Callbacks, tracks peer.LocalTracks) (peer.Connection, error) {
	pc, err := webrtc.NewPeerConnection(d.cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	c := &WebRTCConnection{pc: pc, remote: remote}

	if tracks.Audio != nil {
		sender, err := pc.AddTrack(tracks.Audio)
		if err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("add audio: %w", err)
		}
		go drainRTCP(sender)
	}

	// The video sender exists even without a camera so that screen share and
	// camera changes never need renegotiation.
	tr, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendrecv,
	})
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("add video transceiver: %w", err)
	}
	c.video = tr.Sender()
	if tracks.Video != nil {
		if err := c.video.ReplaceTrack(tracks.Video); err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("attach video: %w", err)
		}
	}
	go drainRTCP(c.video)

	c.start(cb)
	return c, nil
}

// WebRTCConnection wraps one pion PeerConnection towards a single peer.
type WebRTCConnection struct {
	pc     *webrtc.PeerConnection
	remote peer.ID
	video  *webrtc.RTPSender
}

func (c *WebRTCConnection) start(cb peer.Callbacks) {
	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Debug().Str("module", "webrtc").Str("remote", string(c.remote)).Str("ice_state", s.String()).Msg("ICE state")
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("remote", string(c.remote)).Str("peer_connection_state", s.String()).Msg("Peer state")
		if cb.OnStateChange != nil {
			cb.OnStateChange(s)
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil && cb.OnICECandidate != nil {
			cb.OnICECandidate(cand.ToJSON())
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("remote", string(c.remote)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		if cb.OnTrack != nil {
			cb.OnTrack(peer.RemoteTrack{
				Kind:     track.Kind(),
				TrackID:  track.ID(),
				StreamID: track.StreamID(),
				Remote:   track,
			})
		}
	})
}

func (c *WebRTCConnection) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return *c.pc.LocalDescription(), nil
}

func (c *WebRTCConnection) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return *c.pc.LocalDescription(), nil
}

func (c *WebRTCConnection) SetRemoteDescription(d webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(d)
}

func (c *WebRTCConnection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

func (c *WebRTCConnection) ReplaceVideoTrack(t webrtc.TrackLocal) error {
	if c.video == nil {
		return errors.New("no video sender")
	}
	return c.video.ReplaceTrack(t)
}

func (c *WebRTCConnection) Close() error {
	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "webrtc").Str("remote", string(c.remote)).Msg("close error")
		return err
	}
	log.Info().Str("module", "webrtc").Str("remote", string(c.remote)).Msg("closed")
	return nil
}

// drainRTCP reads incoming RTCP so that interceptors keep working.
func drainRTCP(s *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := s.Read(buf); err != nil {
			return
		}
	}
}
