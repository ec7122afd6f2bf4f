// Package call drives one participant through a room: it keeps the roster
// and chat from signal events, owns the local media and tells the peer
// manager which links to build or drop.
package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Huddle/internal/client/media"
	"github.com/dkeye/Huddle/internal/client/peer"
	"github.com/dkeye/Huddle/internal/client/queue"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotInRoom  = domain.ErrNotInRoom
	ErrNotHost    = errors.New("only the host can end the call")
	ErrCallEnded  = errors.New("call ended by host")
	ErrSignalLost = errors.New("signal channel lost")
)

// ServerError is an error event from the server. It matches the domain
// sentinel with the same message under errors.Is.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string { return "server: " + e.Message }

func (e *ServerError) Is(target error) bool {
	return target != nil && target.Error() == e.Message
}

// Transport is the signal channel as the call sees it.
type Transport interface {
	Send(v any) error
	Incoming() <-chan []byte
	Close()
}

type Options struct {
	Name       string
	MaxRetries int
	RetryDelay time.Duration
	Media      media.Options
}

type Member struct {
	ID         string
	Name       string
	IsHost     bool
	AudioMuted bool
	VideoOff   bool
	Link       peer.State
	HasMedia   bool
}

type ChatEntry struct {
	UserID string
	Name   string
	Text   string
	At     time.Time
	IsHost bool
}

type Snapshot struct {
	SelfID           string
	RoomID           string
	IsHost           bool
	Members          []Member
	Chat             []ChatEntry
	Muted            bool
	CameraOff        bool
	Sharing          bool
	AudioUnavailable bool
	VideoUnavailable bool
}

type Call struct {
	tr       Transport
	devices  media.Devices
	opts     Options
	peers    *peer.Manager
	observer func(Event)
	inbox    *queue.Queue[func()]

	mu        sync.Mutex
	local     *media.LocalMedia
	selfID    string
	roomID    string
	isHost    bool
	order     []string
	members   map[string]*Member
	chat      []ChatEntry
	muted     bool
	cameraOff bool
	closing   bool
	leaving   bool
}

// New prepares a call. observer receives every Event from the goroutine
// running Run and may call back into the Call.
func New(tr Transport, dialer peer.Dialer, devices media.Devices, opts Options, observer func(Event)) *Call {
	c := &Call{
		tr:       tr,
		devices:  devices,
		opts:     opts,
		observer: observer,
		inbox:    queue.New[func()](),
		members:  make(map[string]*Member),
	}
	c.peers = peer.NewManager(peer.Config{
		Dialer: dialer,
		Send:   func(s protocol.Signal) error { return tr.Send(s) },
		Notify: func(ev peer.Event) {
			c.inbox.Push(func() { c.onPeerEvent(ev) })
		},
		MaxRetries: opts.MaxRetries,
		RetryDelay: opts.RetryDelay,
	})
	return c
}

// Run acquires local media and processes signal and link events until the
// call is left or ended, the channel drops or ctx is cancelled. Leaving
// returns nil; a host ending the call returns ErrCallEnded.
func (c *Call) Run(ctx context.Context) error {
	lm, err := media.Acquire(ctx, c.devices, c.opts.Media)
	if err != nil {
		return fmt.Errorf("acquire media: %w", err)
	}
	c.mu.Lock()
	c.local = lm
	c.muted = lm.AudioUnavailable()
	c.cameraOff = lm.VideoUnavailable()
	c.mu.Unlock()
	c.peers.SetLocalTracks(peer.LocalTracks{Audio: lm.Audio().Local(), Video: lm.Video().Local()})
	c.publish(Event{Kind: EventLocalMedia})

	defer c.shutdown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-c.tr.Incoming():
			if !ok {
				c.mu.Lock()
				c.resetRoomLocked()
				c.mu.Unlock()
				c.publish(Event{Kind: EventDisconnected, Err: ErrSignalLost})
				return ErrSignalLost
			}
			done, err := c.handleFrame(data)
			if done {
				return err
			}
		case <-c.inbox.Ready():
			c.runInbox()
		}
	}
}

func (c *Call) runInbox() {
	for _, op := range c.inbox.Drain() {
		op()
	}
}

func (c *Call) shutdown() {
	c.peers.Close()
	c.mu.Lock()
	c.closing = true
	lm := c.local
	c.mu.Unlock()
	if lm != nil {
		lm.Close()
	}
	c.inbox.Close()
	c.runInbox()
}

func (c *Call) publish(ev Event) {
	if c.observer == nil {
		return
	}
	c.inbox.Push(func() { c.observer(ev) })
}

// Create asks the server for a new room hosted by this participant.
func (c *Call) Create() error {
	return c.tr.Send(protocol.CreateRoom{Type: protocol.TypeCreateRoom, Name: c.opts.Name})
}

func (c *Call) Join(roomID string) error {
	return c.tr.Send(protocol.JoinRoom{Type: protocol.TypeJoinRoom, RoomID: roomID, Name: c.opts.Name})
}

// Leave asks the server to take us out of the room. Run returns nil once
// the server confirms.
func (c *Call) Leave() error {
	c.mu.Lock()
	roomID := c.roomID
	if roomID != "" {
		c.leaving = true
	}
	c.mu.Unlock()
	if roomID == "" {
		return ErrNotInRoom
	}
	return c.tr.Send(protocol.RoomRef{Type: protocol.TypeLeaveRoom, RoomID: roomID})
}

func (c *Call) EndCall() error {
	c.mu.Lock()
	roomID, host := c.roomID, c.isHost
	c.mu.Unlock()
	if roomID == "" {
		return ErrNotInRoom
	}
	if !host {
		return ErrNotHost
	}
	return c.tr.Send(protocol.RoomRef{Type: protocol.TypeEndCall, RoomID: roomID})
}

// SendChat does not record the message locally; it shows up when the
// server echoes it back.
func (c *Call) SendChat(text string) error {
	roomID, err := c.currentRoom()
	if err != nil {
		return err
	}
	text, err = domain.NormalizeChat(text)
	if err != nil {
		return err
	}
	return c.tr.Send(protocol.ChatSend{Type: protocol.TypeChatMessage, RoomID: roomID, Text: text})
}

func (c *Call) SetMuted(muted bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.local == nil {
		return media.ErrMediaUnavailable
	}
	if err := c.local.SetAudioEnabled(!muted); err != nil {
		return err
	}
	c.muted = muted
	c.announceAudioLocked()
	c.publish(Event{Kind: EventLocalMedia})
	return nil
}

func (c *Call) SetCameraOff(off bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.local == nil {
		return media.ErrMediaUnavailable
	}
	if err := c.local.SetVideoEnabled(!off); err != nil {
		return err
	}
	c.cameraOff = off
	c.announceVideoLocked()
	c.publish(Event{Kind: EventLocalMedia})
	return nil
}

// StartScreenShare puts the screen on every link's video sender. When the
// share ends for any reason the camera goes back on.
func (c *Call) StartScreenShare() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.local == nil {
		return media.ErrMediaUnavailable
	}
	if c.local.Sharing() {
		return nil
	}
	screen, err := c.local.StartScreen()
	if err != nil {
		return err
	}
	c.peers.ReplaceVideo(screen.Local())
	screen.OnEnded(func() {
		c.inbox.Push(c.onScreenEnded)
	})
	c.announceVideoLocked()
	c.publish(Event{Kind: EventLocalMedia})
	return nil
}

func (c *Call) StopScreenShare() {
	c.mu.Lock()
	lm := c.local
	c.mu.Unlock()
	if lm != nil {
		lm.StopScreen()
	}
}

func (c *Call) onScreenEnded() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.local == nil || c.closing {
		return
	}
	c.peers.ReplaceVideo(c.local.Video().Local())
	c.announceVideoLocked()
	c.publish(Event{Kind: EventLocalMedia})
}

// Close drops the signal channel; Run then returns ErrSignalLost.
func (c *Call) Close() {
	c.tr.Close()
}

func (c *Call) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		SelfID:    c.selfID,
		RoomID:    c.roomID,
		IsHost:    c.isHost,
		Members:   make([]Member, 0, len(c.order)),
		Chat:      append([]ChatEntry(nil), c.chat...),
		Muted:     c.muted,
		CameraOff: c.cameraOff,
	}
	for _, id := range c.order {
		s.Members = append(s.Members, *c.members[id])
	}
	if c.local != nil {
		s.Sharing = c.local.Sharing()
		s.AudioUnavailable = c.local.AudioUnavailable()
		s.VideoUnavailable = c.local.VideoUnavailable()
	}
	return s
}

// LinkState reports the link towards a member.
func (c *Call) LinkState(id string) (peer.State, bool) {
	return c.peers.State(peer.ID(id))
}

func (c *Call) currentRoom() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.roomID == "" {
		return "", ErrNotInRoom
	}
	return c.roomID, nil
}

// videoOffLocked is what peers should show: a screen share counts as video.
func (c *Call) videoOffLocked() bool {
	if c.local != nil && c.local.Sharing() {
		return false
	}
	return c.cameraOff
}

func (c *Call) announceAudioLocked() {
	if c.roomID == "" {
		return
	}
	if err := c.tr.Send(protocol.AudioState{Type: protocol.TypeAudioStateChange, RoomID: c.roomID, IsMuted: c.muted}); err != nil {
		log.Warn().Err(err).Str("module", "call").Msg("announce audio state")
	}
}

func (c *Call) announceVideoLocked() {
	if c.roomID == "" {
		return
	}
	if err := c.tr.Send(protocol.VideoState{Type: protocol.TypeVideoStateChange, RoomID: c.roomID, IsVideoOff: c.videoOffLocked()}); err != nil {
		log.Warn().Err(err).Str("module", "call").Msg("announce video state")
	}
}

func (c *Call) resetRoomLocked() {
	c.peers.CloseAll()
	c.roomID = ""
	c.isHost = false
	c.order = nil
	c.members = make(map[string]*Member)
}
