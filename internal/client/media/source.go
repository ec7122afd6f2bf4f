package media

import (
	"context"
	"time"
)

// Source produces encoded frames for a track.
type Source interface {
	// Run writes to t until ctx is done or the source runs out.
	Run(ctx context.Context, t *Track) error
}

// Devices opens capture sources. Each call returns a fresh source or an
// error when the device cannot be used.
type Devices interface {
	Microphone() (Source, error)
	Camera() (Source, error)
	Screen() (Source, error)
}

// Synthetic stands in for capture hardware in the headless client. It emits
// silent Opus frames and a fixed VP8 frame at a steady pace.
type Synthetic struct {
	NoMicrophone bool
	NoCamera     bool
	NoScreen     bool
	// ScreenDuration ends screen shares on their own, like a user pressing
	// the browser's stop button. Zero means until stopped.
	ScreenDuration time.Duration
}

var (
	opusSilence = []byte{0xf8, 0xff, 0xfe}
	vp8Frame    = []byte{0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a, 0x10, 0x00, 0x10, 0x00}
)

func (s Synthetic) Microphone() (Source, error) {
	if s.NoMicrophone {
		return nil, ErrMediaUnavailable
	}
	return &ticker{frame: opusSilence, every: 20 * time.Millisecond}, nil
}

func (s Synthetic) Camera() (Source, error) {
	if s.NoCamera {
		return nil, ErrMediaUnavailable
	}
	return &ticker{frame: vp8Frame, every: time.Second / 30}, nil
}

func (s Synthetic) Screen() (Source, error) {
	if s.NoScreen {
		return nil, ErrMediaUnavailable
	}
	return &ticker{frame: vp8Frame, every: time.Second / 5, limit: s.ScreenDuration}, nil
}

type ticker struct {
	frame []byte
	every time.Duration
	limit time.Duration
}

func (s *ticker) Run(ctx context.Context, t *Track) error {
	tick := time.NewTicker(s.every)
	defer tick.Stop()

	var deadline <-chan time.Time
	if s.limit > 0 {
		timer := time.NewTimer(s.limit)
		defer timer.Stop()
		deadline = timer.C
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return nil
		case <-tick.C:
			if err := t.WriteSample(s.frame, s.every); err != nil {
				return err
			}
		}
	}
}
