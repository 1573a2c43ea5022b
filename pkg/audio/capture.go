package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"
)

// ErrPermission indicates the microphone is denied or unavailable.
var ErrPermission = errors.New("audio: microphone unavailable")

// FrameFunc receives one wire-encoded capture frame. It is invoked from the
// device's audio thread and must not block beyond enqueueing.
type FrameFunc func(encodedChunk string)

// Capture owns the microphone stream. It opens an input device at the fixed
// capture rate, chunks live audio into fixed-size frames, converts each frame
// to the wire encoding, and forwards it continuously until stopped.
type Capture struct {
	logger *slog.Logger

	mu      sync.Mutex
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	pending []byte
	onFrame FrameFunc
	started bool
}

// NewCapture creates an idle capture. Start acquires the device.
func NewCapture(logger *slog.Logger) *Capture {
	if logger == nil {
		logger = slog.Default()
	}
	return &Capture{logger: logger}
}

// Start requests microphone access and begins forwarding frames. A denied or
// missing input device surfaces as ErrPermission. Calling Start on a running
// capture is an error; the session owns exactly one capture at a time.
func (c *Capture) Start(onFrame FrameFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return errors.New("audio: capture already started")
	}
	if onFrame == nil {
		return errors.New("audio: frame callback must not be nil")
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPermission, err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = CaptureSampleRate
	deviceConfig.Alsa.NoMMap = 1

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			c.onInput(input)
		},
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("%w: %v", ErrPermission, err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("%w: %v", ErrPermission, err)
	}

	c.ctx = mctx
	c.device = device
	c.onFrame = onFrame
	c.pending = c.pending[:0]
	c.started = true
	c.logger.Debug("microphone capture started",
		"sample_rate", CaptureSampleRate, "frame_samples", CaptureFrameSamples)
	return nil
}

// onInput accumulates raw device buffers and emits fixed-size encoded frames.
func (c *Capture) onInput(input []byte) {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.pending = append(c.pending, input...)

	const frameBytes = CaptureFrameSamples * bytesPerSample
	var frames []string
	for len(c.pending) >= frameBytes {
		frames = append(frames, Encode(c.pending[:frameBytes]))
		c.pending = c.pending[frameBytes:]
	}
	onFrame := c.onFrame
	c.mu.Unlock()

	for _, f := range frames {
		onFrame(f)
	}
}

// Stop disconnects the frame callback, stops the device, and releases the
// audio context. Idempotent.
func (c *Capture) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	device := c.device
	mctx := c.ctx
	c.device = nil
	c.ctx = nil
	c.onFrame = nil
	c.pending = nil
	c.mu.Unlock()

	if device != nil {
		_ = device.Stop()
		device.Uninit()
	}
	if mctx != nil {
		_ = mctx.Uninit()
		mctx.Free()
	}
	c.logger.Debug("microphone capture stopped")
}
