package audio

import (
	"sync"
	"testing"
)

// fakeDevice records scheduled segments and lets tests drive the clock and
// completion callbacks manually.
type fakeDevice struct {
	mu       sync.Mutex
	now      float64
	starts   []float64
	handles  []*fakeHandle
	closed   int
}

type fakeHandle struct {
	stopped bool
	done    func()
}

func (h *fakeHandle) Stop() { h.stopped = true }

func (d *fakeDevice) Now() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.now
}

func (d *fakeDevice) SetNow(t float64) {
	d.mu.Lock()
	d.now = t
	d.mu.Unlock()
}

func (d *fakeDevice) Play(f Frame, at float64, done func()) (Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := &fakeHandle{done: done}
	d.starts = append(d.starts, at)
	d.handles = append(d.handles, h)
	return h, nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed++
	return nil
}

func monoFrame(seconds float64, rate int) Frame {
	return Frame{
		Channels:   [][]float32{make([]float32, int(seconds*float64(rate)))},
		SampleRate: rate,
	}
}

func TestSchedulerGaplessOrdering(t *testing.T) {
	dev := &fakeDevice{}
	s := NewScheduler(dev, nil)

	durations := []float64{0.5, 0.25, 1.0}
	for _, d := range durations {
		if err := s.Enqueue(monoFrame(d, 24000)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	want := []float64{0, 0.5, 0.75}
	if len(dev.starts) != len(want) {
		t.Fatalf("expected %d scheduled segments, got %d", len(want), len(dev.starts))
	}
	for i := range want {
		if dev.starts[i] != want[i] {
			t.Errorf("segment %d start = %v, want %v", i, dev.starts[i], want[i])
		}
	}
	if s.Active() != 3 {
		t.Errorf("expected 3 active handles, got %d", s.Active())
	}
}

func TestSchedulerCursorFollowsDeviceClock(t *testing.T) {
	dev := &fakeDevice{}
	s := NewScheduler(dev, nil)

	if err := s.Enqueue(monoFrame(0.5, 24000)); err != nil {
		t.Fatal(err)
	}
	// The queue drained long ago; the next segment must not be scheduled in
	// the past.
	dev.SetNow(3.0)
	if err := s.Enqueue(monoFrame(0.5, 24000)); err != nil {
		t.Fatal(err)
	}
	if got := dev.starts[1]; got != 3.0 {
		t.Errorf("second segment start = %v, want 3.0", got)
	}
}

func TestSchedulerDeregistersOnNaturalCompletion(t *testing.T) {
	dev := &fakeDevice{}
	s := NewScheduler(dev, nil)

	if err := s.Enqueue(monoFrame(0.5, 24000)); err != nil {
		t.Fatal(err)
	}
	dev.handles[0].done()
	if s.Active() != 0 {
		t.Errorf("expected 0 active handles after completion, got %d", s.Active())
	}
}

func TestSchedulerInterrupt(t *testing.T) {
	dev := &fakeDevice{}
	s := NewScheduler(dev, nil)

	for i := 0; i < 3; i++ {
		if err := s.Enqueue(monoFrame(1.0, 24000)); err != nil {
			t.Fatal(err)
		}
	}
	dev.SetNow(0.4)
	s.Interrupt()

	if s.Active() != 0 {
		t.Errorf("active set not cleared: %d", s.Active())
	}
	for i, h := range dev.handles {
		if !h.stopped {
			t.Errorf("handle %d not stopped", i)
		}
	}

	// Next segment starts at max(0, deviceCurrentTime), not the stale cursor.
	if err := s.Enqueue(monoFrame(1.0, 24000)); err != nil {
		t.Fatal(err)
	}
	if got := dev.starts[3]; got != 0.4 {
		t.Errorf("post-interrupt start = %v, want 0.4", got)
	}
}

// instantDevice completes every segment synchronously inside Play, the way
// a near-zero-length payload's done timer can fire before Play returns.
type instantDevice struct {
	fakeDevice
}

func (d *instantDevice) Play(f Frame, at float64, done func()) (Handle, error) {
	h, err := d.fakeDevice.Play(f, at, done)
	if err != nil {
		return nil, err
	}
	done()
	return h, nil
}

func TestSchedulerCompletionDuringScheduling(t *testing.T) {
	dev := &instantDevice{}
	s := NewScheduler(dev, nil)

	if err := s.Enqueue(monoFrame(0.001, 24000)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if got := s.Active(); got != 0 {
		t.Errorf("active handles after natural completion = %d, want 0", got)
	}

	// A later segment still registers and deregisters normally.
	if err := s.Enqueue(monoFrame(0.5, 24000)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if got := s.Active(); got != 0 {
		t.Errorf("active handles = %d, want 0", got)
	}
}

func TestSchedulerTeardown(t *testing.T) {
	dev := &fakeDevice{}
	s := NewScheduler(dev, nil)

	if err := s.Enqueue(monoFrame(1.0, 24000)); err != nil {
		t.Fatal(err)
	}
	s.Teardown()
	s.Teardown() // idempotent

	if dev.closed != 1 {
		t.Errorf("device closed %d times, want 1", dev.closed)
	}
	if !dev.handles[0].stopped {
		t.Error("handle not stopped on teardown")
	}
	if err := s.Enqueue(monoFrame(1.0, 24000)); err != ErrSchedulerClosed {
		t.Errorf("expected ErrSchedulerClosed after teardown, got %v", err)
	}
}
