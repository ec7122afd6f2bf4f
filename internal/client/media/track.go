// Package media owns the local audio and video tracks of a call. One Track
// object is bound to every peer connection, so muting or replacing it is
// seen by all peers at once.
package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	pmedia "github.com/pion/webrtc/v4/pkg/media"
)

var ErrMediaUnavailable = errors.New("media unavailable")

const streamID = "huddle"

type Track struct {
	local   *webrtc.TrackLocalStaticSample
	kind    webrtc.RTPCodecType
	enabled atomic.Bool
	written atomic.Uint64

	mu      sync.Mutex
	ended   bool
	onEnded []func()
	cancel  context.CancelFunc
}

func NewTrack(kind webrtc.RTPCodecType, id string) (*Track, error) {
	mime := webrtc.MimeTypeOpus
	if kind == webrtc.RTPCodecTypeVideo {
		mime = webrtc.MimeTypeVP8
	}
	local, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, id, streamID)
	if err != nil {
		return nil, fmt.Errorf("new %s track: %w", kind, err)
	}
	t := &Track{local: local, kind: kind}
	t.enabled.Store(true)
	return t, nil
}

func (t *Track) Local() webrtc.TrackLocal { return t.local }
func (t *Track) Kind() webrtc.RTPCodecType { return t.kind }
func (t *Track) ID() string { return t.local.ID() }
func (t *Track) Enabled() bool { return t.enabled.Load() }
func (t *Track) SetEnabled(on bool) { t.enabled.Store(on) }
func (t *Track) Written() uint64 { return t.written.Load() }

// WriteSample sends one encoded frame to every bound connection. Frames of
// a disabled or ended track are swallowed.
func (t *Track) WriteSample(data []byte, d time.Duration) error {
	if !t.Enabled() || t.Ended() {
		return nil
	}
	if err := t.local.WriteSample(pmedia.Sample{Data: data, Duration: d}); err != nil {
		return err
	}
	t.written.Add(1)
	return nil
}

// OnEnded registers fn to run once when the track stops. Callbacks run in
// registration order; registering on an ended track runs fn right away.
func (t *Track) OnEnded(fn func()) {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		fn()
		return
	}
	t.onEnded = append(t.onEnded, fn)
	t.mu.Unlock()
}

func (t *Track) Ended() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ended
}

// Stop ends the track and its source. Safe to call more than once.
func (t *Track) Stop() {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		return
	}
	t.ended = true
	cancel := t.cancel
	callbacks := t.onEnded
	t.onEnded = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, fn := range callbacks {
		fn()
	}
}

// feed runs src into t on its own goroutine. The track ends when the source
// does.
func (t *Track) feed(ctx context.Context, src Source) {
	ctx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()
	go func() {
		_ = src.Run(ctx, t)
		t.Stop()
	}()
}
