package peer

import (
	"github.com/pion/webrtc/v4"
)

// ID identifies a remote participant.
type ID string

// Connection is one negotiated media connection to a single remote peer.
// Implementations wrap a pion PeerConnection; tests use an in-memory fake.
type Connection interface {
	// CreateOffer creates an offer and installs it as the local description.
	CreateOffer() (webrtc.SessionDescription, error)
	// CreateAnswer creates an answer to the current remote offer and installs
	// it as the local description.
	CreateAnswer() (webrtc.SessionDescription, error)
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	// ReplaceVideoTrack swaps the outgoing video without renegotiation.
	ReplaceVideoTrack(webrtc.TrackLocal) error
	Close() error
}

// RemoteTrack describes incoming media. Remote is nil for fakes.
type RemoteTrack struct {
	Kind     webrtc.RTPCodecType
	TrackID  string
	StreamID string
	Remote   *webrtc.TrackRemote
}

// Callbacks may be invoked from any goroutine.
type Callbacks struct {
	OnICECandidate func(webrtc.ICECandidateInit)
	OnStateChange  func(webrtc.PeerConnectionState)
	OnTrack        func(RemoteTrack)
}

// LocalTracks is the outgoing media shared by every link. Video may be a
// placeholder but the slot always exists so it can be replaced later.
type LocalTracks struct {
	Audio webrtc.TrackLocal
	Video webrtc.TrackLocal
}

// Dialer creates connections.
type Dialer interface {
	NewConnection(remote ID, cb Callbacks, tracks LocalTracks) (Connection, error)
}
