package media

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type Options struct {
	NoVideo bool
}

// LocalMedia is the set of outgoing tracks of one call. The video slot always
// has a track: screen share when active, else the camera, else a disabled
// placeholder.
type LocalMedia struct {
	devices Devices
	ctx     context.Context

	mu               sync.Mutex
	audio            *Track
	camera           *Track
	placeholder      *Track
	screen           *Track
	audioUnavailable bool
	videoUnavailable bool
}

// Acquire opens the microphone and camera. A missing device degrades the
// call instead of failing it: no camera means audio only, no microphone
// means a muted placeholder.
func Acquire(ctx context.Context, devices Devices, opts Options) (*LocalMedia, error) {
	m := &LocalMedia{devices: devices, ctx: ctx}

	audio, err := NewTrack(webrtc.RTPCodecTypeAudio, "audio")
	if err != nil {
		return nil, err
	}
	m.audio = audio
	if src, err := devices.Microphone(); err != nil {
		log.Warn().Err(err).Str("module", "media").Msg("microphone unavailable, joining muted")
		m.audioUnavailable = true
		audio.SetEnabled(false)
	} else {
		audio.feed(ctx, src)
	}

	placeholder, err := NewTrack(webrtc.RTPCodecTypeVideo, "video")
	if err != nil {
		return nil, err
	}
	placeholder.SetEnabled(false)
	m.placeholder = placeholder

	if opts.NoVideo {
		m.videoUnavailable = true
		return m, nil
	}
	src, err := devices.Camera()
	if err != nil {
		log.Warn().Err(err).Str("module", "media").Msg("camera unavailable, audio only")
		m.videoUnavailable = true
		return m, nil
	}
	camera, err := NewTrack(webrtc.RTPCodecTypeVideo, "camera")
	if err != nil {
		return nil, err
	}
	camera.feed(ctx, src)
	m.camera = camera
	return m, nil
}

func (m *LocalMedia) Audio() *Track {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.audio
}

// Video is the track that should be on the video sender right now.
func (m *LocalMedia) Video() *Track {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.videoLocked()
}

func (m *LocalMedia) videoLocked() *Track {
	switch {
	case m.screen != nil:
		return m.screen
	case m.camera != nil:
		return m.camera
	default:
		return m.placeholder
	}
}

func (m *LocalMedia) AudioUnavailable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.audioUnavailable
}

func (m *LocalMedia) VideoUnavailable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.videoUnavailable
}

func (m *LocalMedia) SetAudioEnabled(on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if on && m.audioUnavailable {
		return fmt.Errorf("microphone: %w", ErrMediaUnavailable)
	}
	m.audio.SetEnabled(on)
	return nil
}

func (m *LocalMedia) SetVideoEnabled(on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.camera == nil {
		if on {
			return fmt.Errorf("camera: %w", ErrMediaUnavailable)
		}
		return nil
	}
	m.camera.SetEnabled(on)
	return nil
}

// StartScreen begins a screen share. When the share ends, by StopScreen or
// on its own, Video falls back to the camera before any OnEnded callback a
// caller registers afterwards runs.
func (m *LocalMedia) StartScreen() (*Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.screen != nil {
		return m.screen, nil
	}
	src, err := m.devices.Screen()
	if err != nil {
		return nil, fmt.Errorf("screen: %w", err)
	}
	t, err := NewTrack(webrtc.RTPCodecTypeVideo, "screen")
	if err != nil {
		return nil, err
	}
	t.OnEnded(func() {
		m.mu.Lock()
		if m.screen == t {
			m.screen = nil
		}
		m.mu.Unlock()
	})
	m.screen = t
	t.feed(m.ctx, src)
	return t, nil
}

func (m *LocalMedia) StopScreen() {
	m.mu.Lock()
	t := m.screen
	m.mu.Unlock()
	if t != nil {
		t.Stop()
	}
}

func (m *LocalMedia) Sharing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.screen != nil
}

func (m *LocalMedia) Close() {
	m.mu.Lock()
	tracks := []*Track{m.screen, m.camera, m.audio, m.placeholder}
	m.mu.Unlock()
	for _, t := range tracks {
		if t != nil {
			t.Stop()
		}
	}
}
