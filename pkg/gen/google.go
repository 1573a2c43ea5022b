package gen

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"google.golang.org/genai"

	"github.com/literary-echo/echo/pkg/audio"
)

// GoogleClient implements Client over the Gemini API.
type GoogleClient struct {
	client *genai.Client
	logger *slog.Logger
}

// NewGoogleClient creates a client against the Gemini API backend.
func NewGoogleClient(ctx context.Context, apiKey string, logger *slog.Logger) (*GoogleClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gen: api key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gen: create client: %w", err)
	}
	return &GoogleClient{client: client, logger: logger}, nil
}

// GenerateText implements Client.
func (g *GoogleClient) GenerateText(ctx context.Context, model, prompt string, opts *TextOptions) (string, error) {
	var cfg *genai.GenerateContentConfig
	if opts != nil && opts.ThinkingBudget > 0 {
		cfg = &genai.GenerateContentConfig{
			ThinkingConfig: &genai.ThinkingConfig{
				ThinkingBudget: genai.Ptr(opts.ThinkingBudget),
			},
		}
	}

	resp, err := g.client.Models.GenerateContent(ctx, model, genai.Text(prompt), cfg)
	if err != nil {
		return "", &GenerationError{Op: "text", Err: err}
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", &GenerationError{Op: "text", Err: errors.New("empty response")}
	}
	return text, nil
}

// GenerateSpeech implements Client.
func (g *GoogleClient) GenerateSpeech(ctx context.Context, model, text, voice string) (*AudioPayload, error) {
	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{string(genai.ModalityAudio)},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		},
	}

	resp, err := g.client.Models.GenerateContent(ctx, model, genai.Text(text), cfg)
	if err != nil {
		return nil, &GenerationError{Op: "speech", Err: err}
	}
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return &AudioPayload{
					Data:     part.InlineData.Data,
					MIMEType: part.InlineData.MIMEType,
				}, nil
			}
		}
	}
	return nil, &GenerationError{Op: "speech", Err: errors.New("empty synthesis")}
}

// OpenLive implements Client. Callbacks are dispatched from a single receive
// goroutine in transport order.
func (g *GoogleClient) OpenLive(ctx context.Context, model string, cfg LiveConfig, cb SessionCallbacks) (LiveSession, error) {
	connectCfg := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
	}
	if cfg.SystemInstruction != "" {
		connectCfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: cfg.SystemInstruction}},
		}
	}
	if cfg.InputTranscription {
		connectCfg.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	if cfg.OutputTranscription {
		connectCfg.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}

	session, err := g.client.Live.Connect(ctx, model, connectCfg)
	if err != nil {
		return nil, fmt.Errorf("gen: live connect: %w", err)
	}

	ls := &googleLiveSession{session: session, logger: g.logger}
	go ls.receiveLoop(cb)
	if cb.OnOpen != nil {
		cb.OnOpen()
	}
	return ls, nil
}

type googleLiveSession struct {
	session *genai.Session
	logger  *slog.Logger

	closeOnce sync.Once
	closed    bool
	mu        sync.Mutex
}

// SendAudioFrame implements LiveSession. The chunk arrives wire-encoded from
// capture; the SDK re-encodes for its own transport, so decode first to keep
// the byte contract exact.
func (s *googleLiveSession) SendAudioFrame(encodedChunk string) error {
	pcm, err := audio.Decode(encodedChunk)
	if err != nil {
		return err
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return errors.New("gen: live session closed")
	}
	return s.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{Data: pcm, MIMEType: audio.CaptureMIMEType},
	})
}

// Close implements LiveSession.
func (s *googleLiveSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		err = s.session.Close()
	})
	return err
}

func (s *googleLiveSession) receiveLoop(cb SessionCallbacks) {
	for {
		msg, err := s.session.Receive()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed || errors.Is(err, io.EOF) {
				if cb.OnClose != nil {
					cb.OnClose()
				}
				return
			}
			s.logger.Warn("live receive failed", "error", err)
			if cb.OnError != nil {
				cb.OnError(err)
			}
			return
		}
		if ev, ok := translateServerMessage(msg); ok && cb.OnMessage != nil {
			cb.OnMessage(ev)
		}
	}
}

// translateServerMessage maps an SDK message onto the collaborator event
// shape. Messages carrying nothing of interest are skipped.
func translateServerMessage(msg *genai.LiveServerMessage) (ServerEvent, bool) {
	if msg == nil || msg.ServerContent == nil {
		return ServerEvent{}, false
	}
	sc := msg.ServerContent

	var ev ServerEvent
	if sc.InputTranscription != nil {
		ev.InputTranscription = sc.InputTranscription.Text
	}
	if sc.OutputTranscription != nil {
		ev.OutputTranscription = sc.OutputTranscription.Text
	}
	ev.TurnComplete = sc.TurnComplete
	ev.Interrupted = sc.Interrupted
	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				ev.Audio = &AudioPayload{
					Data:     part.InlineData.Data,
					MIMEType: part.InlineData.MIMEType,
				}
				break
			}
		}
	}

	empty := ev.InputTranscription == "" && ev.OutputTranscription == "" &&
		!ev.TurnComplete && !ev.Interrupted && ev.Audio == nil
	return ev, !empty
}
