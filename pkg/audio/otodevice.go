package audio

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

var errDeviceClosed = errors.New("audio: output device closed")

// OtoDevice is the speaker-backed Device implementation. The device clock is
// wall time since the context became ready, which is what the scheduler's
// cursor math expects.
type OtoDevice struct {
	ctx    *oto.Context
	opened time.Time

	mu     sync.Mutex
	closed bool
}

// OpenOtoDevice opens a mono 16-bit output context at the given rate.
func OpenOtoDevice(sampleRate int) (*OtoDevice, error) {
	if sampleRate <= 0 {
		sampleRate = PlaybackSampleRate
	}
	opts := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
		// ~100ms of buffered audio keeps latency low without glitching.
		BufferSize: time.Duration(100) * time.Millisecond,
	}
	ctx, ready, err := oto.NewContext(opts)
	if err != nil {
		return nil, fmt.Errorf("open output device: %w", err)
	}
	<-ready
	return &OtoDevice{ctx: ctx, opened: time.Now()}, nil
}

// Now implements Device.
func (d *OtoDevice) Now() float64 {
	return time.Since(d.opened).Seconds()
}

// Play implements Device. The frame is converted back to s16le and handed to
// a per-segment player armed by a timer at the requested start time.
func (d *OtoDevice) Play(f Frame, at float64, done func()) (Handle, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, errDeviceClosed
	}
	d.mu.Unlock()

	pcm := EncodePCM16(f)
	player := d.ctx.NewPlayer(bytes.NewReader(pcm))

	h := &otoHandle{player: player}
	delay := time.Duration((at - d.Now()) * float64(time.Second))
	if delay < 0 {
		delay = 0
	}
	h.startTimer = time.AfterFunc(delay, func() {
		h.mu.Lock()
		if h.stopped {
			h.mu.Unlock()
			return
		}
		h.player.Play()
		h.mu.Unlock()
	})
	h.doneTimer = time.AfterFunc(delay+time.Duration(f.Duration()*float64(time.Second)), func() {
		h.mu.Lock()
		stopped := h.stopped
		h.mu.Unlock()
		if !stopped {
			_ = player.Close()
			done()
		}
	})
	return h, nil
}

// Close implements Device. The oto context itself cannot be torn down, so it
// is suspended instead; a later session opens a fresh device.
func (d *OtoDevice) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()
	return d.ctx.Suspend()
}

type otoHandle struct {
	mu         sync.Mutex
	player     *oto.Player
	startTimer *time.Timer
	doneTimer  *time.Timer
	stopped    bool
}

// Stop cancels pending start and silences the segment. The done callback is
// suppressed; the scheduler deregisters stopped handles itself.
func (h *otoHandle) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	h.mu.Unlock()

	h.startTimer.Stop()
	h.doneTimer.Stop()
	_ = h.player.Close()
}
