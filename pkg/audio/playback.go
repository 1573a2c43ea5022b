package audio

import (
	"errors"
	"log/slog"
	"sync"
)

// ErrSchedulerClosed is returned when a segment is enqueued after teardown.
var ErrSchedulerClosed = errors.New("audio: scheduler closed")

// Handle represents one scheduled playback segment that can be stopped
// before it finishes naturally.
type Handle interface {
	Stop()
}

// Device is an open audio output device. Play schedules a frame to start at
// the given device-clock time (seconds, as reported by Now) and invokes done
// exactly once when the segment completes naturally. Stopping the returned
// handle suppresses both playback and the done callback.
type Device interface {
	// Now returns the current device-clock time in seconds since open.
	Now() float64

	// Play schedules f to start at time at on the device clock.
	Play(f Frame, at float64, done func()) (Handle, error)

	// Close releases the device. Idempotent.
	Close() error
}

// Scheduler queues decoded audio segments for gapless sequential playback.
// Segments may arrive faster or slower than real time; the monotonic
// next-start cursor guarantees they play back-to-back in receipt order with
// no gap and no overlap.
type Scheduler struct {
	dev    Device
	logger *slog.Logger

	mu        sync.Mutex
	nextStart float64
	active    map[Handle]struct{}
	closed    bool
}

// NewScheduler creates a scheduler over an open output device.
func NewScheduler(dev Device, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		dev:    dev,
		logger: logger,
		active: make(map[Handle]struct{}),
	}
}

// segment is the registered unit in the active set. It is inserted before
// the device call so a completion firing at any point, even synchronously
// inside Play, deregisters the same key; the device handle attaches
// afterwards and inherits any stop that happened in between.
type segment struct {
	mu      sync.Mutex
	h       Handle
	stopped bool
}

func (g *segment) Stop() {
	g.mu.Lock()
	g.stopped = true
	h := g.h
	g.mu.Unlock()
	if h != nil {
		h.Stop()
	}
}

func (g *segment) attach(h Handle) {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		h.Stop()
		return
	}
	g.h = h
	g.mu.Unlock()
}

// Enqueue schedules a decoded frame to play immediately after whatever is
// already queued, registering it until natural completion.
func (s *Scheduler) Enqueue(f Frame) error {
	seg := &segment{}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSchedulerClosed
	}
	startAt := s.nextStart
	if now := s.dev.Now(); now > startAt {
		startAt = now
	}
	s.nextStart = startAt + f.Duration()
	s.active[seg] = struct{}{}
	s.mu.Unlock()

	h, err := s.dev.Play(f, startAt, func() {
		s.mu.Lock()
		delete(s.active, seg)
		s.mu.Unlock()
	})
	if err != nil {
		s.mu.Lock()
		delete(s.active, seg)
		s.mu.Unlock()
		return err
	}
	seg.attach(h)
	return nil
}

// Interrupt stops every in-flight segment and resets the cursor to zero, so
// audio arriving after an interruption is never scheduled behind a stale
// cursor.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	handles := make([]Handle, 0, len(s.active))
	for h := range s.active {
		handles = append(handles, h)
	}
	s.active = make(map[Handle]struct{})
	s.nextStart = 0
	s.mu.Unlock()

	for _, h := range handles {
		h.Stop()
	}
	if len(handles) > 0 {
		s.logger.Debug("playback interrupted", "stopped", len(handles))
	}
}

// Active reports the number of currently registered playback handles.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Teardown stops all playback and closes the output device. Safe to call
// multiple times and from any exit path.
func (s *Scheduler) Teardown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	handles := make([]Handle, 0, len(s.active))
	for h := range s.active {
		handles = append(handles, h)
	}
	s.active = make(map[Handle]struct{})
	s.nextStart = 0
	s.mu.Unlock()

	for _, h := range handles {
		h.Stop()
	}
	if err := s.dev.Close(); err != nil {
		s.logger.Warn("closing output device", "error", err)
	}
}
