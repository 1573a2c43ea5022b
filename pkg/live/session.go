package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/literary-echo/echo/pkg/audio"
	"github.com/literary-echo/echo/pkg/gen"
	"github.com/literary-echo/echo/pkg/memoir"
)

// ErrConnection indicates the remote session failed to open or closed
// unexpectedly. The session returns to idle; the user may retry.
var ErrConnection = errors.New("live: remote session failed")

// Recorder is the microphone capture dependency. audio.Capture implements
// it; tests substitute a fake.
type Recorder interface {
	Start(onFrame audio.FrameFunc) error
	Stop()
}

// DeviceOpener acquires an audio output device for one session. The device
// is owned by the session and closed on teardown.
type DeviceOpener func(sampleRate int) (audio.Device, error)

// Session orchestrates one live memoir conversation. It owns the
// microphone, the output scheduler, and the remote streaming connection
// with matched lifetimes: every exit path funnels through the same teardown
// so none is left open without the others.
//
// All mutations are serialized through the session: transport callbacks
// arrive in order on a single goroutine, and sequencer work runs under the
// sequencer's own lock.
type Session struct {
	cfg        Config
	author     memoir.Author
	client     gen.Client
	recorder   Recorder
	openDevice DeviceOpener
	logger     *slog.Logger

	archive    *memoir.Archive
	transcript *Transcript
	seq        *memoir.Sequencer
	weaver     *memoir.Weaver
	events     chan Event

	mu        sync.Mutex
	state     State
	status    string
	remote    gen.LiveSession
	sched     *audio.Scheduler
	inputBuf  strings.Builder
	outputBuf strings.Builder
	weaving   bool
	runCtx    context.Context
	runCancel context.CancelFunc
}

// NewSession creates an idle session for the selected author.
func NewSession(cfg Config, author memoir.Author, client gen.Client, recorder Recorder, openDevice DeviceOpener, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		cfg:        cfg,
		author:     author,
		client:     client,
		recorder:   recorder,
		openDevice: openDevice,
		logger:     logger,
		archive:    memoir.NewArchive(),
		transcript: NewTranscript(),
		events:     make(chan Event, 100),
		status:     "Idle",
	}
	s.seq = memoir.NewSequencer(author, memoir.Topics(), client, s.archive, seqOutput{s}, cfg.Models, logger)
	s.weaver = memoir.NewWeaver(author, client, s.archive, cfg.Models.Prose, logger)
	return s
}

// Events returns the channel of session events. Events are dropped rather
// than blocking when the consumer falls behind.
func (s *Session) Events() <-chan Event { return s.events }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns the user-visible status line.
func (s *Session) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Transcript returns the living transcript.
func (s *Session) Transcript() *Transcript { return s.transcript }

// Archive returns the append-only archive.
func (s *Session) Archive() *memoir.Archive { return s.archive }

// PrepareOpening seeds the archive with the author's scene-setting line.
// Called once before the first Start.
func (s *Session) PrepareOpening(ctx context.Context) {
	s.setStatus("Setting the mood...")
	text := memoir.OpeningLine(ctx, s.client, s.author, s.cfg.Models.Opening, s.logger)
	s.archive.Append(memoir.KindOpening, text)
	s.emit(&ArchiveEvent{Entries: s.archive.Entries()})
	s.setStatus("Ready to begin. Press Start.")
}

// Start transitions idle -> connecting -> live: it acquires the microphone,
// opens the output device, and establishes the remote streaming connection.
// Starting while already live or connecting is a no-op. On any acquisition
// failure the session returns to idle with nothing left half-open.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return nil
	}
	s.setStateLocked(StateConnecting)
	s.setStatusLocked("Connecting...")
	s.mu.Unlock()

	// Each session walks the topics from the top; the archive carries over.
	s.seq.Reset()

	if err := s.recorder.Start(s.onFrame); err != nil {
		s.mu.Lock()
		s.setStatusLocked("Error: Could not access microphone.")
		s.setStateLocked(StateIdle)
		s.mu.Unlock()
		s.emit(&ErrorEvent{Code: "permission", Message: err.Error()})
		return err
	}

	dev, err := s.openDevice(s.cfg.PlaybackRate)
	if err != nil {
		s.recorder.Stop()
		s.mu.Lock()
		s.setStatusLocked("Error occurred.")
		s.setStateLocked(StateIdle)
		s.mu.Unlock()
		s.emit(&ErrorEvent{Code: "connection", Message: err.Error()})
		return fmt.Errorf("%w: open output device: %v", ErrConnection, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	sched := audio.NewScheduler(dev, s.logger)
	s.mu.Lock()
	s.sched = sched
	s.runCtx = runCtx
	s.runCancel = cancel
	s.mu.Unlock()

	liveCfg := gen.LiveConfig{
		SystemInstruction:   s.cfg.systemInstruction(s.author),
		InputTranscription:  true,
		OutputTranscription: s.cfg.Freeform,
	}
	remote, err := s.client.OpenLive(runCtx, s.cfg.LiveModel, liveCfg, gen.SessionCallbacks{
		OnOpen:    s.onOpen,
		OnMessage: s.onMessage,
		OnError:   s.onRemoteError,
		OnClose:   s.onRemoteClose,
	})
	if err != nil {
		cancel()
		s.recorder.Stop()
		sched.Teardown()
		s.mu.Lock()
		// Only unwind if this Start's context is still installed; a
		// concurrent Stop already did it.
		if s.runCtx == runCtx {
			s.sched = nil
			s.runCtx = nil
			s.runCancel = nil
			s.setStatusLocked("Error occurred.")
			s.setStateLocked(StateIdle)
		}
		s.mu.Unlock()
		s.emit(&ErrorEvent{Code: "connection", Message: err.Error()})
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}

	s.mu.Lock()
	if s.runCtx != runCtx {
		// Stop won the race while the handshake was in flight; the session
		// is already torn down, so the fresh remote must not outlive it.
		s.mu.Unlock()
		if cerr := remote.Close(); cerr != nil {
			s.logger.Warn("closing remote session", "error", cerr)
		}
		return nil
	}
	s.remote = remote
	s.mu.Unlock()
	return nil
}

// Stop tears the session down: remote connection, capture, and playback are
// released together and all transient state is reset. Safe to call multiple
// times and from every exit path.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.state == StateIdle && s.remote == nil && s.sched == nil {
		s.mu.Unlock()
		return
	}
	remote := s.remote
	sched := s.sched
	cancel := s.runCancel
	s.remote = nil
	s.sched = nil
	s.runCtx = nil
	s.runCancel = nil
	s.inputBuf.Reset()
	s.outputBuf.Reset()
	s.setStateLocked(StateIdle)
	s.setStatusLocked("Idle")
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if remote != nil {
		if err := remote.Close(); err != nil {
			s.logger.Warn("closing remote session", "error", err)
		}
	}
	s.recorder.Stop()
	if sched != nil {
		sched.Teardown()
	}
	s.transcript.FinalizeOpen()
	s.emit(&ClosedEvent{})
}

// Weave synthesizes a cross-memory note. Disabled while a session is live
// or while a prior weave is in flight.
func (s *Session) Weave(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return errors.New("live: weaving is disabled during a live session")
	}
	if s.weaving {
		s.mu.Unlock()
		return errors.New("live: a weave is already in flight")
	}
	s.weaving = true
	s.setStatusLocked("Weaving the narrative...")
	s.mu.Unlock()

	_, err := s.weaver.Weave(ctx)

	s.mu.Lock()
	s.weaving = false
	s.setStatusLocked("Idle")
	s.mu.Unlock()

	if err != nil {
		return err
	}
	s.emit(&ArchiveEvent{Entries: s.archive.Entries()})
	return nil
}

// onOpen fires once the remote connection is established: capture frames
// begin forwarding and, unless freeform, the first topic question is asked.
func (s *Session) onOpen() {
	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(StateLive)
	ctx := s.runCtx
	s.mu.Unlock()

	if s.cfg.Freeform {
		s.setStatus("Listening...")
		return
	}
	go s.seq.AskNext(ctx)
}

// onFrame forwards one wire-encoded capture frame to the remote session.
// Frames arriving outside the live state are dropped.
func (s *Session) onFrame(encodedChunk string) {
	s.mu.Lock()
	st := s.state
	remote := s.remote
	s.mu.Unlock()

	if st != StateLive || remote == nil {
		return
	}
	if err := remote.SendAudioFrame(encodedChunk); err != nil {
		s.logger.Debug("sending capture frame", "error", err)
	}
}

// onMessage dispatches one inbound event. The transport delivers events
// strictly in order on a single goroutine; handling is synchronous except
// for generation work, which runs behind the sequencer's lock.
func (s *Session) onMessage(ev gen.ServerEvent) {
	if ev.InputTranscription != "" {
		s.mu.Lock()
		s.inputBuf.WriteString(ev.InputTranscription)
		s.mu.Unlock()
		s.transcript.ApplyDelta(SpeakerUser, ev.InputTranscription)
		s.emit(&TranscriptEvent{Turns: s.transcript.Turns()})
	}

	if ev.OutputTranscription != "" && s.cfg.Freeform {
		s.mu.Lock()
		s.outputBuf.WriteString(ev.OutputTranscription)
		s.mu.Unlock()
		s.transcript.ApplyDelta(SpeakerAssistant, ev.OutputTranscription)
		s.emit(&TranscriptEvent{Turns: s.transcript.Turns()})
	}

	if ev.TurnComplete {
		s.onTurnComplete()
	}

	if ev.Audio != nil {
		s.schedulePayload(ev.Audio)
	}

	if ev.Interrupted {
		s.mu.Lock()
		sched := s.sched
		s.mu.Unlock()
		if sched != nil {
			sched.Interrupt()
		}
	}
}

// onTurnComplete finalizes the pending user buffer and routes it to the
// sequencer. Both direction buffers are cleared regardless of substance.
func (s *Session) onTurnComplete() {
	s.mu.Lock()
	memory := s.inputBuf.String()
	s.inputBuf.Reset()
	s.outputBuf.Reset()
	ctx := s.runCtx
	s.mu.Unlock()

	s.transcript.FinalizeOpen()
	s.emit(&TranscriptEvent{Turns: s.transcript.Turns()})

	if s.cfg.Freeform || ctx == nil {
		return
	}

	if utf8.RuneCountInString(strings.TrimSpace(memory)) > s.cfg.MinSubstanceChars {
		go func() {
			s.seq.OnAnswerSubstantive(ctx, memory)
			s.emit(&ArchiveEvent{Entries: s.archive.Entries()})
		}()
	} else {
		go s.seq.OnAnswerWeak(ctx)
	}
}

// schedulePayload decodes an inline audio payload and hands it to the
// output scheduler. A payload that fails to decode is dropped without
// touching the cursor, and nothing is scheduled after teardown.
func (s *Session) schedulePayload(p *gen.AudioPayload) {
	if p == nil || len(p.Data) < 2 {
		s.logger.Debug("dropping malformed audio payload")
		return
	}
	rate := audio.SampleRateFromMIME(p.MIMEType)
	frame := audio.DecodePCM16(p.Data, rate, 1)

	s.mu.Lock()
	sched := s.sched
	s.mu.Unlock()
	if sched == nil {
		return
	}
	if err := sched.Enqueue(frame); err != nil && !errors.Is(err, audio.ErrSchedulerClosed) {
		s.logger.Warn("scheduling audio segment", "error", err)
	}
}

// onRemoteError logs, surfaces the failure, and funnels into teardown.
// Resources are never left open behind a failed connection.
func (s *Session) onRemoteError(err error) {
	s.logger.Error("remote session error", "error", err)
	s.mu.Lock()
	s.setStateLocked(StateError)
	s.setStatusLocked("Error occurred.")
	s.mu.Unlock()
	s.emit(&ErrorEvent{Code: "connection", Message: err.Error()})
	s.Stop()
}

func (s *Session) onRemoteClose() {
	s.logger.Info("remote session closed")
	s.Stop()
}

func (s *Session) setStatus(text string) {
	s.mu.Lock()
	s.setStatusLocked(text)
	s.mu.Unlock()
}

// setStatusLocked requires s.mu held. Emitting is non-blocking, so holding
// the lock across it is safe.
func (s *Session) setStatusLocked(text string) {
	if s.status == text {
		return
	}
	s.status = text
	s.emit(&StatusEvent{Text: text})
}

// setStateLocked requires s.mu held.
func (s *Session) setStateLocked(next State) {
	if s.state == next {
		return
	}
	prev := s.state
	s.state = next
	s.logger.Debug("session state", "from", prev.String(), "to", next.String())
	s.emit(&StateChangedEvent{From: prev, To: next})
}

// emit sends an event without blocking; events are dropped if the consumer
// falls behind.
func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
	}
}

// seqOutput adapts the session to the sequencer's output contract.
type seqOutput struct{ s *Session }

func (o seqOutput) AppendQuestion(text string) {
	o.s.transcript.AppendFinal(SpeakerAssistant, text)
	o.s.emit(&TranscriptEvent{Turns: o.s.transcript.Turns()})
}

func (o seqOutput) PlayPrompt(payload *gen.AudioPayload) {
	o.s.schedulePayload(payload)
}

func (o seqOutput) SetStatus(text string) {
	o.s.setStatus(text)
}
